package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/unclebandit/chaser-backend/internal/app"
	"github.com/unclebandit/chaser-backend/internal/consent"
	"github.com/unclebandit/chaser-backend/internal/db"
	"github.com/unclebandit/chaser-backend/internal/model"
	"github.com/unclebandit/chaser-backend/internal/scheduler"
)

func newMigrateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the chaser schema",
		Long:  "Applies the embedded schema. Safe to run more than once.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.load()
			if err != nil {
				return err
			}
			conn, err := db.Open(cmd.Context(), cfg.Database, log)
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := db.Migrate(cmd.Context(), conn); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}

func newTickCmd(g *globals) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Queue chases for every due enrollment",
		Long: `Runs one chase tick without taking the scheduler lock. Queued messages
are left for the next dispatch pass.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now().UTC()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				now = t.UTC()
			}
			return g.withApp(cmd.Context(), func(a *app.App) error {
				summary, err := a.Chase.Tick(cmd.Context(), now)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), summary)
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "evaluate due enrollments as of this RFC3339 time")
	return cmd
}

func newDispatchCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch",
		Short: "Send every queued message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd.Context(), func(a *app.App) error {
				summary, err := a.Dispatcher.DispatchQueued(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), summary)
			})
		},
	}
}

func newRunCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one scheduled pass (tick then dispatch) under the lock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd.Context(), func(a *app.App) error {
				res, err := a.Scheduler.RunOnce(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func newTokenCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "token <client-id> <channel>",
		Short: "Print an unsubscribe link for a client and channel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			channel, err := model.ParseChannel(args[1])
			if err != nil {
				return err
			}
			cfg, _, err := g.load()
			if err != nil {
				return err
			}
			signer, err := consent.NewTokenSigner(cfg.Tokens.UnsubscribeSecret)
			if err != nil {
				return err
			}
			link, err := signer.UnsubscribeURL(cfg.Tokens.PublicBaseURL, args[0], channel)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), link)
			return nil
		},
	}
}

func newNextCmd(g *globals) *cobra.Command {
	var (
		count int
		from  string
	)
	cmd := &cobra.Command{
		Use:   "next [cron]",
		Short: "Show when the chase schedule fires next",
		Long:  "Prints upcoming run times in UTC for the given expression, or the configured one.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var spec string
			if len(args) == 1 {
				spec = args[0]
			} else {
				cfg, _, err := g.load()
				if err != nil {
					return err
				}
				spec = cfg.Scheduler.Cron
			}
			t := time.Now().UTC()
			if from != "" {
				parsed, err := time.Parse(time.RFC3339, from)
				if err != nil {
					return fmt.Errorf("--from: %w", err)
				}
				t = parsed.UTC()
			}
			for range count {
				next, err := scheduler.Next(spec, t)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), next.UTC().Format(time.RFC3339))
				t = next
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 3, "number of run times to print")
	cmd.Flags().StringVar(&from, "from", "", "start from this RFC3339 time instead of now")
	return cmd
}
