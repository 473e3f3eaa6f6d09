package cmd

import (
	"context"
	"fmt"

	"github.com/luxera/rungate/runtime/run"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show the backend status of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var statusResult bool

func init() {
	statusCmd.Flags().BoolVar(&statusResult, "result", false, "also fetch the final result summary")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	client, _, err := newClient(ctx)
	if err != nil {
		return err
	}
	aRun, err := client.Status(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("run:      %s\n", aRun.ID)
	fmt.Printf("workflow: %s\n", aRun.WorkflowID)
	fmt.Printf("status:   %s\n", aRun.Status)
	if !statusResult || aRun.Status != run.StatusCompleted {
		return nil
	}
	result, err := client.Result(ctx, aRun.ID)
	if err != nil {
		return err
	}
	if result != nil && result.Summary != "" {
		fmt.Printf("summary:  %s\n", result.Summary)
	}
	return nil
}
