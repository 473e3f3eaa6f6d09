package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/luxera/rungate"
	"github.com/luxera/rungate/policy"
	"github.com/luxera/rungate/runtime/run"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start <agent>",
	Short: "Start a gated run and follow it to completion",
	Long: `Start a run for the given agent plan and follow its event stream in the
foreground. Proposals that trip the review policy pause the run and prompt
for an approve/reject decision; Ctrl-C stops the run.

Decide non-interactively with --yes or --no.`,
	Args: cobra.ExactArgs(1),
	RunE: runStart,
}

var (
	startYes    bool
	startNo     bool
	startReason string
)

func init() {
	startCmd.Flags().BoolVar(&startYes, "yes", false, "approve every gated proposal")
	startCmd.Flags().BoolVar(&startNo, "no", false, "reject every gated proposal")
	startCmd.Flags().StringVar(&startReason, "reason", "", "reason recorded on non-interactive decisions")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	if startYes && startNo {
		return fmt.Errorf("--yes and --no are mutually exclusive")
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv, closer, err := newService(ctx)
	if err != nil {
		return err
	}
	defer closeQuietly(closer)
	defer func() { _ = srv.Shutdown(context.Background()) }()

	if _, err = srv.SelectAgent(ctx, args[0]); err != nil {
		return err
	}
	started, err := srv.StartRun(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("run %s started for agent %s\n", started.ID, args[0])
	return followRun(ctx, srv, started.ID)
}

// followRun tails a run until it reaches a terminal status, prompting on
// every gated proposal.
func followRun(ctx context.Context, srv *rungate.Service, runID string) error {
	var printed int
	var decided string
	stopping := false
	for {
		for _, entry := range srv.Logs(runID)[printed:] {
			fmt.Printf("%s [%s] %s\n", entry.Time.Format(time.TimeOnly), entry.Level, entry.Message)
			printed++
		}
		status := srv.Status(runID)
		switch status {
		case run.StatusCompleted, run.StatusFailed, run.StatusRejected,
			run.StatusStopped, run.StatusInterrupted:
			return printOutcome(srv, runID, status)
		case run.StatusAwaitingApproval:
			proposal := srv.PendingProposal(runID)
			if proposal != nil && proposal.RequestID != decided {
				decided = proposal.RequestID
				if err := decide(ctx, srv, runID, proposal); err != nil {
					return err
				}
			}
		}
		select {
		case <-ctx.Done():
			if !stopping {
				stopping = true
				fmt.Println("\nstopping run...")
				if err := srv.StopRun(context.Background(), runID); err != nil {
					return err
				}
			}
			time.Sleep(100 * time.Millisecond)
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func decide(ctx context.Context, srv *rungate.Service, runID string, proposal *run.Proposal) error {
	printProposal(proposal)
	approve := startYes
	reason := startReason
	if !startYes && !startNo {
		var err error
		if approve, reason, err = promptDecision(); err != nil {
			return err
		}
	}
	if approve {
		return srv.Approve(ctx, runID, proposal.RequestID, reason)
	}
	return srv.Reject(ctx, runID, proposal.RequestID, reason)
}

func printProposal(proposal *run.Proposal) {
	fmt.Printf("\nproposal %s from %s\n", proposal.RequestID, proposal.Agent)
	fmt.Printf("  intent: %s\n", proposal.Intent)
	if len(proposal.RiskFlags) > 0 {
		fmt.Printf("  risk:   %s\n", strings.Join(proposal.RiskFlags, ", "))
	}
	if proposal.EstimatedCostUSD > 0 {
		fmt.Printf("  cost:   $%.2f\n", proposal.EstimatedCostUSD)
	}
	for _, step := range proposal.Steps {
		preview, err := policy.StepPreview(step)
		if err != nil || preview == "" {
			preview = step.Operation
		}
		fmt.Printf("  step:   %s\n", strings.ReplaceAll(preview, "\n", "\n          "))
	}
}

func promptDecision() (bool, string, error) {
	fmt.Print("approve? [y/N]: ")
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false, "", fmt.Errorf("failed to read decision: %w", err)
	}
	approve := false
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		approve = true
	}
	fmt.Print("reason (optional): ")
	reason, err := reader.ReadString('\n')
	if err != nil {
		return false, "", fmt.Errorf("failed to read reason: %w", err)
	}
	return approve, strings.TrimSpace(reason), nil
}

func printOutcome(srv *rungate.Service, runID string, status run.Status) error {
	fmt.Printf("\nrun %s %s\n", runID, status)
	for _, artifact := range srv.Artifacts(runID) {
		fmt.Printf("  artifact %s (%s)\n", artifact.ID, artifact.Format)
	}
	decisions, err := srv.Decisions(context.Background(), runID)
	if err != nil {
		return err
	}
	for _, decision := range decisions {
		fmt.Printf("  decision %s: %s by %s", decision.RequestID, decision.Decision, decision.Human)
		if decision.Reason != "" {
			fmt.Printf(" (%s)", decision.Reason)
		}
		fmt.Println()
	}
	if status == run.StatusFailed || status == run.StatusInterrupted {
		return fmt.Errorf("run ended %s", status)
	}
	return nil
}
