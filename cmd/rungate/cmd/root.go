package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/luxera/rungate"
	"github.com/luxera/rungate/internal/logging"
	"github.com/luxera/rungate/service/gateway"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"

	// Global flags
	configPath string
	backendURL string
	token      string
	actor      string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "rungate",
	Short: "Gate agent runs behind human-in-the-loop review",
	Long: `Rungate consumes an agent run's event stream, gates tool-use proposals
behind a configurable review policy and records every approve/reject
decision in an append-only audit log.

Point it at an execution backend, load a plan and start a run; proposals
that trip the policy pause the run until you decide.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (TOML)")
	rootCmd.PersistentFlags().StringVar(&backendURL, "backend", "", "backend base URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "backend bearer token (overrides config)")
	rootCmd.PersistentFlags().StringVar(&actor, "actor", "", "name recorded on manual decisions (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("rungate {{.Version}}\n")
}

// loadConfig resolves the effective configuration from the config file and
// flag overrides.
func loadConfig(ctx context.Context) (*rungate.Config, error) {
	cfg := rungate.DefaultConfig()
	if configPath != "" {
		loaded, err := rungate.LoadConfig(ctx, configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if backendURL != "" {
		cfg.Backend.BaseURL = backendURL
	}
	if token != "" {
		cfg.Backend.Token = token
	}
	if actor != "" {
		cfg.Actor = actor
	}
	if verbose {
		cfg.Logging.Level = logging.LevelDebug
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newService builds the gate facade for session commands. The returned
// closer releases the log file when one is configured.
func newService(ctx context.Context) (*rungate.Service, io.Closer, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	logger, closer, err := logging.NewFromConfig(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	slog.SetDefault(logger)
	return rungate.New(rungate.WithConfig(cfg), rungate.WithLogger(logger)), closer, nil
}

func closeQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close()
	}
}

// newClient builds a bare backend client for stateless commands.
func newClient(ctx context.Context) (*gateway.Client, *rungate.Config, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	var opts []gateway.Option
	if cfg.Backend.TokenURL != "" {
		opts = append(opts, gateway.WithTokenSource(gateway.NewSecretTokenSource(cfg.Backend.TokenURL, cfg.Backend.TokenKey)))
	} else if cfg.Backend.Token != "" {
		opts = append(opts, gateway.WithToken(cfg.Backend.Token))
	}
	return gateway.New(cfg.Backend.BaseURL, opts...), cfg, nil
}
