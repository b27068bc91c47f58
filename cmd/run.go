package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/veritrail-cli/api/schemas"
	"github.com/xkilldash9x/veritrail-cli/internal/browser"
	"github.com/xkilldash9x/veritrail-cli/internal/config"
	"github.com/xkilldash9x/veritrail-cli/internal/observability"
	"github.com/xkilldash9x/veritrail-cli/internal/runner"
	"github.com/xkilldash9x/veritrail-cli/internal/scenario"
	"github.com/xkilldash9x/veritrail-cli/internal/testrail"
)

// newRunCmd creates the `run` command: execute a scenario suite and report.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [scenario-file]",
		Short: "Executes a verification scenario suite against the configured environment",
		Args:  cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("runner.concurrency", cmd.Flags().Lookup("concurrency")); err != nil {
				return err
			}
			if err := viper.BindPFlag("runner.output", cmd.Flags().Lookup("output")); err != nil {
				return err
			}
			return viper.BindPFlag("testrail.enabled", cmd.Flags().Lookup("report"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := config.NewFromViper(viper.GetViper())
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.Runner.ScenarioFile = args[0]
			}
			if cfg.Environment.BaseURL == "" {
				return fmt.Errorf("environment.base_url is required")
			}

			suite, err := scenario.LoadFile(cfg.Runner.ScenarioFile)
			if err != nil {
				return err
			}

			var sink schemas.ResultSink
			if cfg.TestRail.Enabled {
				bridge, err := testrail.NewBridge(cfg.TestRail, logger)
				if err != nil {
					return fmt.Errorf("failed to set up reporting: %w", err)
				}
				sink = bridge
			} else {
				logger.Info("External reporting disabled; results stay local.")
				sink = runner.NewDiscardSink()
			}

			manager, err := browser.NewManager(ctx, logger, cfg)
			if err != nil {
				return fmt.Errorf("failed to start browser: %w", err)
			}
			defer func() {
				if err := manager.Shutdown(ctx); err != nil {
					logger.Warn("Browser shutdown was not clean.", zap.Error(err))
				}
			}()

			exec := scenario.NewExecutor(manager, cfg, logger)
			report := runner.New(exec, sink, cfg.Runner.Concurrency, logger).Run(ctx, suite)

			if cfg.Runner.Output != "" {
				if err := runner.WriteReport(report, cfg.Runner.Output); err != nil {
					logger.Error("Failed to write run report.", zap.Error(err))
				} else {
					logger.Info("Run report written.", zap.String("path", cfg.Runner.Output))
				}
			}

			printSummary(report)
			if report.Failed() {
				return fmt.Errorf("run finished with non-passing scenarios")
			}
			return nil
		},
	}

	runCmd.Flags().IntP("concurrency", "n", 1, "number of scenarios to run in parallel")
	runCmd.Flags().StringP("output", "o", "", "write the JSON run report to this path")
	runCmd.Flags().Bool("report", false, "report results to TestRail")
	return runCmd
}

// printSummary renders the human-facing tail of a run on stdout.
func printSummary(report schemas.RunReport) {
	var passed, failed, errored int
	for _, res := range report.Results {
		switch res.Status {
		case schemas.StatusPassed:
			passed++
		case schemas.StatusFailed:
			failed++
		default:
			errored++
		}
	}

	fmt.Printf("\nRun %s finished in %s\n", report.RunID, report.Duration.Round(10*time.Millisecond))
	fmt.Printf("  passed: %d  failed: %d  errored: %d\n", passed, failed, errored)
	for _, res := range report.Results {
		if res.Status == schemas.StatusPassed {
			continue
		}
		fmt.Printf("  [%s] %s: %s\n", res.Status, res.ScenarioID, res.FailureDetail)
	}
	if report.Reporting.Reported+report.Reporting.Failed > 0 {
		fmt.Printf("  reporting: %d sent, %d skipped, %d failed\n",
			report.Reporting.Reported, report.Reporting.Skipped, report.Reporting.Failed)
	}
}

func init() {
	rootCmd.AddCommand(newRunCmd())
}
