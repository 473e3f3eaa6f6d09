package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop <run-id>",
	Short: "Stop a running agent run",
	Args:  cobra.ExactArgs(1),
	RunE:  runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	client, _, err := newClient(ctx)
	if err != nil {
		return err
	}
	if err = client.Stop(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("run %s stop requested\n", args[0])
	return nil
}
