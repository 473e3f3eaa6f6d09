package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/luxera/rungate/service/audit"
	fsqueue "github.com/luxera/rungate/service/messaging/fs"
	"github.com/spf13/cobra"
	"github.com/viant/afs"
	"github.com/viant/afs/url"
)

var decisionsCmd = &cobra.Command{
	Use:   "decisions [run-id]",
	Short: "List recorded approval decisions",
	Long: `Drain the decision notification queue and print every recorded decision,
optionally filtered by run id.

Requires the fs events vendor so that gate sessions persist their decision
notifications ([events] vendor = "fs" in the config).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDecisions,
}

func init() {
	rootCmd.AddCommand(decisionsCmd)
}

func runDecisions(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if cfg.Events.Vendor != "fs" {
		return fmt.Errorf("decisions requires the fs events vendor; set [events] vendor = \"fs\"")
	}
	basePath := cfg.Events.BasePath
	if basePath == "" {
		basePath = fsqueue.DefaultConfig().BasePath
	}
	queueConfig := fsqueue.DefaultConfig()
	queueConfig.BasePath = url.Join(basePath, audit.TopicDecisionRecorded)
	queue, err := fsqueue.NewQueue[audit.Event](afs.New(), queueConfig)
	if err != nil {
		return err
	}

	runID := ""
	if len(args) > 0 {
		runID = args[0]
	}
	var listed int
	for {
		message, err := queue.Consume(ctx)
		if err != nil {
			return err
		}
		if message == nil {
			break
		}
		decision := message.T().Data
		if err = message.Ack(); err != nil {
			return err
		}
		if decision == nil || (runID != "" && decision.RunID != runID) {
			continue
		}
		listed++
		fmt.Printf("%s  %s  %s  %s by %s",
			decision.Timestamp.Format(time.DateTime), decision.RunID,
			decision.RequestID, decision.Decision, decision.Human)
		if decision.Reason != "" {
			fmt.Printf("  (%s)", decision.Reason)
		}
		fmt.Println()
	}
	if listed == 0 {
		fmt.Println("no recorded decisions")
	}
	return nil
}
