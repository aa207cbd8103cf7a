package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"equity-engine/internal/broker"
	"equity-engine/internal/models"
)

// addRunCommands adds the engine loop and signal intake commands.
func addRunCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newSignalCmd(app))
	rootCmd.AddCommand(newCycleCmd(app))
	rootCmd.AddCommand(newQuoteCmd(app))
}

func newRunCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the engine loop",
		Long: `Run the periodic engine loop: position tracking, exits, averaging,
approval sweeps, conditional orders, and risk checks. Stops on SIGINT or
SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.buildEngine(); err != nil {
				return err
			}
			defer app.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if app.Metrics != nil && app.Config.Metrics.Listen != "" {
				go func() {
					if err := app.Metrics.Serve(ctx, app.Config.Metrics.Listen); err != nil {
						app.Logger.Error().Err(err).Msg("Metrics server failed")
					}
				}()
			}

			output := NewOutput(cmd)
			output.Info("Engine running (%s mode), Ctrl+C to stop", app.Config.Engine.Mode)

			if err := app.Engine.Run(ctx); err != nil && err != context.Canceled {
				return err
			}
			return nil
		},
	}
}

func newSignalCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signal [file]",
		Short: "Feed a model signal into the engine",
		Long: `Read a signal as JSON from a file (or stdin with no argument) and run
it through the entry path: locks, risk gates, planning, and approval.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.buildEngine(); err != nil {
				return err
			}
			defer app.Close()

			var reader io.Reader = cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				reader = f
			}

			var sig models.Signal
			if err := json.NewDecoder(reader).Decode(&sig); err != nil {
				return fmt.Errorf("decoding signal: %w", err)
			}
			if sig.Symbol == "" {
				return fmt.Errorf("signal is missing a symbol")
			}

			output := NewOutput(cmd)
			plan, err := app.Engine.ProcessSignal(cmd.Context(), &sig)
			if err != nil {
				return err
			}
			if plan == nil {
				output.Warning("Signal evaluated, no viable plan")
				return nil
			}

			if output.IsJSON() {
				return output.JSON(plan)
			}
			output.Success("Plan %s: %s %d %s @ %.2f (stop %.2f, target %.2f, R:R %.2f)",
				plan.ID, plan.Side, plan.Shares, plan.Symbol,
				plan.EntryPrice, plan.StopPrice, plan.TargetPrice, plan.RiskReward)
			output.Dim("Status: %s, expires %s", plan.Status, plan.ExpiresAt.Format("15:04:05"))
			return nil
		},
	}
	return cmd
}

func newCycleCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "cycle",
		Short: "Run a single engine cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.buildEngine(); err != nil {
				return err
			}
			defer app.Close()

			app.Engine.RunCycle(cmd.Context())
			NewOutput(cmd).Success("Cycle complete")
			return nil
		},
	}
}

func newQuoteCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Paper-mode quote management",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set SYMBOL PRICE",
		Short: "Set a paper-mode price for a symbol",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.buildEngine(); err != nil {
				return err
			}
			defer app.Close()

			paper, ok := app.Broker.(*broker.PaperBroker)
			if !ok {
				return fmt.Errorf("quote set only works in paper mode")
			}

			price, err := strconv.ParseFloat(args[1], 64)
			if err != nil || price <= 0 {
				return fmt.Errorf("invalid price %q", args[1])
			}

			paper.UpdatePrice(args[0], price)
			NewOutput(cmd).Success("%s = %.2f", args[0], price)
			return nil
		},
	})

	return cmd
}
