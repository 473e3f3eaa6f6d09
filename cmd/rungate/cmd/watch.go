package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/luxera/rungate/runtime/run"
	"github.com/luxera/rungate/service/stream"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch <run-id>",
	Short: "Tail the event stream of a run",
	Long: `Subscribe to the run's server-sent event stream and print each event as
it arrives. Reconnects on stream loss up to the configured bound; Ctrl-C
detaches without affecting the run.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client, cfg, err := newClient(ctx)
	if err != nil {
		return err
	}
	token, err := client.Token(ctx)
	if err != nil {
		return err
	}
	runID := args[0]
	handlers := stream.Handlers{
		OnOpen: func() {
			fmt.Printf("watching run %s\n", runID)
		},
		OnEvent:     printEvent,
		OnReconnect: func(attempt int) { fmt.Printf("reconnecting (attempt %d)...\n", attempt) },
		OnError:     func(err error) { fmt.Fprintf(os.Stderr, "stream error: %v\n", err) },
	}
	watcher := stream.New(client.StreamURL(runID), token, cfg.Stream.StreamConfig(), handlers)
	if err = watcher.Open(ctx); err != nil {
		return err
	}
	defer watcher.Close()
	select {
	case <-ctx.Done():
		return nil
	case <-watcher.Done():
		return nil
	}
}

func printEvent(event *run.Event) {
	stamp := time.Now().Format(time.TimeOnly)
	switch event.Type {
	case run.EventLog:
		fmt.Printf("%s [%s] %s\n", stamp, event.Log.Level, event.Log.Message)
	case run.EventProposal:
		fmt.Printf("%s proposal %s: %s\n", stamp, event.Proposal.RequestID, event.Proposal.Intent)
	case run.EventStatus:
		fmt.Printf("%s status %s\n", stamp, event.Status.Status)
	case run.EventResult:
		fmt.Printf("%s result: %s\n", stamp, event.Result.Summary)
	case run.EventMalformed:
		fmt.Fprintf(os.Stderr, "%s malformed event dropped: %v\n", stamp, event.Err)
	}
}
