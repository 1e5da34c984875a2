// Command chasectl runs one-off chaser operations against a deployment:
// schema migration, manual chase runs and unsubscribe link issuance.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/unclebandit/chaser-backend/internal/app"
	"github.com/unclebandit/chaser-backend/internal/config"
	"github.com/unclebandit/chaser-backend/internal/logging"
)

type globals struct {
	configPath string
}

func (g *globals) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, nil, err
	}
	// Keep stdout for command output.
	cfg.Logging.Format = "text"
	return cfg, logging.New(os.Stderr, cfg.Logging), nil
}

// withApp loads config, builds the app and hands it to fn.
func (g *globals) withApp(ctx context.Context, fn func(a *app.App) error) error {
	cfg, log, err := g.load()
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	cmd := &cobra.Command{
		Use:           "chasectl",
		Short:         "Operate the document chaser",
		Long:          "chasectl migrates the chaser schema and runs chase ticks and dispatch passes by hand.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", os.Getenv("CHASER_CONFIG"), "path to chaser YAML config")

	cmd.AddCommand(newMigrateCmd(g))
	cmd.AddCommand(newTickCmd(g))
	cmd.AddCommand(newDispatchCmd(g))
	cmd.AddCommand(newRunCmd(g))
	cmd.AddCommand(newTokenCmd(g))
	cmd.AddCommand(newNextCmd(g))
	return cmd
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func execute(cmd *cobra.Command) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
