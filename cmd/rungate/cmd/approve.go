package cmd

import (
	"context"
	"fmt"

	"github.com/luxera/rungate/internal/clock"
	"github.com/luxera/rungate/service/audit"
	"github.com/spf13/cobra"
)

var approveCmd = &cobra.Command{
	Use:   "approve <run-id> <request-id>",
	Short: "Approve a pending proposal",
	Long: `Forward an approval for the given proposal to the backend and record the
decision in the backend audit log.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return forwardDecision(args[0], args[1], true)
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <run-id> <request-id>",
	Short: "Reject a pending proposal",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return forwardDecision(args[0], args[1], false)
	},
}

var decisionReason string

func init() {
	approveCmd.Flags().StringVar(&decisionReason, "reason", "", "reason recorded with the decision")
	rejectCmd.Flags().StringVar(&decisionReason, "reason", "", "reason recorded with the decision")
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)
}

// forwardDecision forwards the verdict first; a failed forward leaves no
// audit entry so the command stays retryable.
func forwardDecision(runID, requestID string, approved bool) error {
	ctx := context.Background()
	client, cfg, err := newClient(ctx)
	if err != nil {
		return err
	}
	if err = client.Approve(ctx, runID, approved); err != nil {
		return err
	}
	decision := &audit.Decision{
		RequestID: requestID,
		RunID:     runID,
		Human:     cfg.Actor,
		Decision:  outcome(approved),
		Timestamp: clock.Now(),
		Reason:    decisionReason,
	}
	if err = client.RecordDecision(ctx, decision); err != nil {
		return fmt.Errorf("decision forwarded but audit record failed: %w", err)
	}
	fmt.Printf("proposal %s %s\n", requestID, decision.Decision)
	return nil
}

func outcome(approved bool) audit.Outcome {
	if approved {
		return audit.OutcomeApproved
	}
	return audit.OutcomeRejected
}
