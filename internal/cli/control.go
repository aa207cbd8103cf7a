package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// addControlCommands adds the engine control surface.
func addControlCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newPauseCmd(app))
	rootCmd.AddCommand(newResumeCmd(app))
	rootCmd.AddCommand(newApproveCmd(app))
	rootCmd.AddCommand(newRejectCmd(app))
	rootCmd.AddCommand(newCloseCmd(app))
	rootCmd.AddCommand(newUnlockCmd(app))
	rootCmd.AddCommand(newEmergencyStopCmd(app))
}

func newPauseCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pause",
		Short: "Pause the engine",
		Long:  "Halt new entries and automated exits. Open positions keep their stops.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.buildEngine(); err != nil {
				return err
			}
			defer app.Close()

			reason, _ := cmd.Flags().GetString("reason")
			app.Engine.Pause(cmd.Context(), reason, "cli")
			NewOutput(cmd).Warning("Engine paused: %s", reason)
			return nil
		},
	}
	cmd.Flags().String("reason", "manual pause", "reason recorded with the pause")
	return cmd
}

func newResumeCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume a paused engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.buildEngine(); err != nil {
				return err
			}
			defer app.Close()

			app.Engine.Resume(cmd.Context(), "cli")
			NewOutput(cmd).Success("Engine resumed")
			return nil
		},
	}
}

func newApproveCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve PLAN_ID",
		Short: "Approve a pending trade plan and execute it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.buildEngine(); err != nil {
				return err
			}
			defer app.Close()

			by, _ := cmd.Flags().GetString("by")
			output := NewOutput(cmd)

			plan, err := app.Engine.ApprovePlan(cmd.Context(), args[0], by)
			if err != nil {
				if plan != nil {
					output.Warning("Plan %s approved but execution failed: %v", plan.ID, err)
				}
				return err
			}
			output.Success("Plan %s approved and executed: %s %d %s",
				plan.ID, plan.Side, plan.Shares, plan.Symbol)
			return nil
		},
	}
	cmd.Flags().String("by", "cli", "who approved the plan")
	return cmd
}

func newRejectCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reject PLAN_ID",
		Short: "Reject a pending trade plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.buildEngine(); err != nil {
				return err
			}
			defer app.Close()

			by, _ := cmd.Flags().GetString("by")
			plan, err := app.Engine.RejectPlan(cmd.Context(), args[0], by)
			if err != nil {
				return err
			}
			NewOutput(cmd).Success("Plan %s rejected", plan.ID)
			return nil
		},
	}
	cmd.Flags().String("by", "cli", "who rejected the plan")
	return cmd
}

func newCloseCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "close SYMBOL",
		Short: "Close a position at market immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.buildEngine(); err != nil {
				return err
			}
			defer app.Close()

			output := NewOutput(cmd)
			trade, err := app.Engine.ForceClose(cmd.Context(), args[0], "cli")
			if err != nil {
				return err
			}
			output.Pnl("Closed %d %s @ %.2f, P&L %.2f (%.2f%%)", trade.PnL,
				trade.Shares, trade.Symbol, trade.ExitPrice, trade.PnL, trade.PnLPercent)
			return nil
		},
	}
}

func newUnlockCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock LOCK_ID",
		Short: "Release a protective pair lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.buildEngine(); err != nil {
				return err
			}
			defer app.Close()

			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid lock id %q", args[0])
			}

			if err := app.Engine.UnlockPair(cmd.Context(), id, "cli"); err != nil {
				return err
			}
			NewOutput(cmd).Success("Lock %d released", id)
			return nil
		},
	}
}

func newEmergencyStopCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "emergency-stop",
		Short: "Pause the engine and liquidate every position",
		RunE: func(cmd *cobra.Command, args []string) error {
			confirmed, _ := cmd.Flags().GetBool("yes")
			if !confirmed {
				return fmt.Errorf("emergency stop liquidates everything, re-run with --yes")
			}

			if err := app.buildEngine(); err != nil {
				return err
			}
			defer app.Close()

			closed, total := app.Engine.EmergencyStop(cmd.Context(), "cli")
			output := NewOutput(cmd)
			if closed == total {
				output.Warning("Emergency stop: closed %d/%d positions, engine paused", closed, total)
			} else {
				output.Error("Emergency stop: closed %d/%d positions, %d FAILED, engine paused",
					closed, total, total-closed)
			}
			return nil
		},
	}
	cmd.Flags().Bool("yes", false, "confirm the liquidation")
	return cmd
}
