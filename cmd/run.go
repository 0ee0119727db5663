// File: cmd/run.go
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/cadence/internal/browser"
	"github.com/xkilldash9x/cadence/internal/humanoid"
	"github.com/xkilldash9x/cadence/internal/observability"
)

func newRunCmd() *cobra.Command {
	var (
		duration time.Duration
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Work through the open list in a running browser",
		Long: `Attaches to a browser started with remote debugging enabled, finds the
open list on the selected page and follows its entries under the configured
quotas. Press Ctrl+C to stop; the current confirmation still completes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			logger := observability.GetLogger()

			sess, err := browser.Attach(ctx, cfg.Browser.DevToolsURL, cfg.Browser.TargetURL, logger)
			if err != nil {
				return fmt.Errorf("attach to browser: %w", err)
			}
			defer sess.Close()

			clock := humanoid.SystemClock{}
			pacer := humanoid.New(clock, nil, logger)
			source := browser.NewSource(sess.Driver(), browser.Options{
				ContainerSelector: cfg.Browser.ContainerSelector,
				CandidateSelector: cfg.Browser.CandidateSelector,
				RowSelector:       cfg.Browser.RowSelector,
				ScrollMin:         cfg.Browser.ScrollMin,
				ScrollMax:         cfg.Browser.ScrollMax,
				ScrollRate:        cfg.Browser.ScrollRate,
				ActionTimeout:     cfg.Browser.ActionTimeout,
			}, pacer, browser.WithLogger(logger))

			s, err := newSession(cmd.Context(), cfg, runtimeDeps{source: source, clock: clock, pacer: pacer, deadline: duration}, logger)
			if err != nil {
				return err
			}
			summary, err := s.run(ctx)
			if perr := printSummary(cmd.OutOrStdout(), summary, asJSON); perr != nil && err == nil {
				err = perr
			}
			return err
		},
	}

	cmd.Flags().String("devtools-url", "", "remote debugging endpoint of the browser")
	cmd.Flags().String("target-url", "", "attach to the page whose URL contains this text")
	cmd.Flags().Int("daily-limit", 0, "override the daily quota")
	cmd.Flags().String("state", "", "file carrying quota history between sessions")
	cmd.Flags().String("database-url", "", "PostgreSQL URL for quota history, instead of a state file")
	cmd.Flags().DurationVar(&duration, "for", 0, "stop the session after this long (0 runs until done)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the session summary as JSON")

	annotateFlags(cmd, map[string]string{
		"devtools-url": "browser.devtools_url",
		"target-url":   "browser.target_url",
		"daily-limit":  "throttle.daily_limit",
		"state":        "throttle.state_file",
		"database-url": "store.database_url",
	})
	return cmd
}
