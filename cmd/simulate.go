// File: cmd/simulate.go
package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cadence/internal/humanoid"
	"github.com/xkilldash9x/cadence/internal/observability"
	"github.com/xkilldash9x/cadence/internal/uisim"
)

func newSimulateCmd() *cobra.Command {
	var (
		duration time.Duration
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a session against a generated in-memory list",
		Long: `Builds a deterministic list of rows from the simulate section of the
configuration and runs a full session against it. With fast mode on, the
session runs on a fake clock and every pause completes immediately.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()
			sim := cfg.Simulate

			page := uisim.New(uisim.Options{
				Rows:         sim.Rows,
				PageSize:     sim.PageSize,
				Seed:         sim.Seed,
				ActiveRatio:  sim.ActiveRatio,
				PendingRatio: sim.PendingRatio,
				PrivateRatio: sim.PrivateRatio,
				ConfirmLag:   sim.ConfirmLag,
				FailureRate:  sim.FailureRate,
			}, logger)

			var clock humanoid.Clock = humanoid.SystemClock{}
			if sim.Fast {
				clock = humanoid.NewFakeClock(time.Now())
			}
			pacer := humanoid.NewTestPacer(clock, sim.Seed)

			s, err := newSession(cmd.Context(), cfg, runtimeDeps{source: page, clock: clock, pacer: pacer, deadline: duration}, logger)
			if err != nil {
				return err
			}
			summary, err := s.run(cmd.Context())
			stats := page.Stats()
			logger.Info("Simulated page.",
				zap.Int("loaded", stats.Loaded), zap.Int("total", stats.Total),
				zap.Int("clicks", stats.Triggers), zap.Int("scrolls", stats.Scrolls))
			if perr := printSummary(cmd.OutOrStdout(), summary, asJSON); perr != nil && err == nil {
				err = perr
			}
			return err
		},
	}

	cmd.Flags().Int("rows", 0, "number of generated rows")
	cmd.Flags().Int64("seed", 0, "seed for the generated list and the pacing")
	cmd.Flags().Bool("fast", false, "run on a fake clock")
	cmd.Flags().Int("daily-limit", 0, "override the daily quota")
	cmd.Flags().String("state", "", "file carrying quota history between sessions")
	cmd.Flags().DurationVar(&duration, "for", 0, "stop the session after this much session time")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the session summary as JSON")

	annotateFlags(cmd, map[string]string{
		"rows":        "simulate.rows",
		"seed":        "simulate.seed",
		"fast":        "simulate.fast",
		"daily-limit": "throttle.daily_limit",
		"state":       "throttle.state_file",
	})
	return cmd
}
