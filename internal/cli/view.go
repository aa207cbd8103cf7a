package cli

import (
	"time"

	"github.com/spf13/cobra"

	"equity-engine/internal/models"
	"equity-engine/internal/store"
)

// addViewCommands adds the read-only inspection commands.
func addViewCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newPlansCmd(app))
	rootCmd.AddCommand(newPositionsCmd(app))
	rootCmd.AddCommand(newLocksCmd(app))
	rootCmd.AddCommand(newTradesCmd(app))
}

func newPlansCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plans",
		Short: "List trade plans",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.openStore(); err != nil {
				return err
			}
			defer app.Close()

			status, _ := cmd.Flags().GetString("status")
			symbol, _ := cmd.Flags().GetString("symbol")
			limit, _ := cmd.Flags().GetInt("limit")

			plans, err := app.Store.GetPlans(cmd.Context(), store.PlanFilter{
				Symbol: symbol,
				Status: models.PlanStatus(status),
				Limit:  limit,
			})
			if err != nil {
				return err
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(plans)
			}
			if len(plans) == 0 {
				output.Dim("No plans found")
				return nil
			}

			output.Bold("%-28s %-8s %-5s %6s %10s %10s %10s %6s %-9s", "ID", "SYMBOL", "SIDE", "SHARES", "ENTRY", "STOP", "TARGET", "R:R", "STATUS")
			for _, p := range plans {
				output.Printf("%-28s %-8s %-5s %6d %10.2f %10.2f %10.2f %6.2f %-9s\n",
					p.ID, p.Symbol, p.Side, p.Shares, p.EntryPrice, p.StopPrice, p.TargetPrice, p.RiskReward, p.Status)
			}
			return nil
		},
	}
	cmd.Flags().String("status", "", "filter by status (PENDING, APPROVED, EXECUTED, REJECTED, EXPIRED)")
	cmd.Flags().String("symbol", "", "filter by symbol")
	cmd.Flags().Int("limit", 50, "maximum plans to show")
	return cmd
}

func newPositionsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "positions",
		Short: "List open positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.openStore(); err != nil {
				return err
			}
			defer app.Close()

			positions, err := app.Store.GetPositions(cmd.Context())
			if err != nil {
				return err
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(positions)
			}
			if len(positions) == 0 {
				output.Dim("No open positions")
				return nil
			}

			output.Bold("%-8s %6s %10s %10s %10s %10s %9s %4s %4s", "SYMBOL", "SHARES", "AVG", "PRICE", "STOP", "TARGET", "PNL%", "DCA", "PART")
			for _, p := range positions {
				trail := p.StopLoss
				if p.TrailingStop != nil && *p.TrailingStop > trail {
					trail = *p.TrailingStop
				}
				output.Printf("%-8s %6d %10.2f %10.2f %10.2f %10.2f %8.2f%% %4d %4d\n",
					p.Symbol, p.Shares, p.AvgEntryPrice, p.CurrentPrice, trail, p.TakeProfit,
					p.PnLPercent, p.DCACount, p.PartialExitCount)
			}
			return nil
		},
	}
}

func newLocksCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "locks",
		Short: "List active pair locks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.openStore(); err != nil {
				return err
			}
			defer app.Close()

			locks, err := app.Store.GetActiveLocks(cmd.Context())
			if err != nil {
				return err
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(locks)
			}
			if len(locks) == 0 {
				output.Dim("No active locks")
				return nil
			}

			output.Bold("%-6s %-8s %-15s %-20s %s", "ID", "SYMBOL", "REASON", "UNTIL", "NOTE")
			for _, l := range locks {
				output.Printf("%-6d %-8s %-15s %-20s %s\n",
					l.ID, l.Symbol, l.Reason, l.LockedUntil.Format("2006-01-02 15:04"), l.Note)
			}
			return nil
		},
	}
}

func newTradesCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trades",
		Short: "List closed trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.openStore(); err != nil {
				return err
			}
			defer app.Close()

			symbol, _ := cmd.Flags().GetString("symbol")
			limit, _ := cmd.Flags().GetInt("limit")
			days, _ := cmd.Flags().GetInt("days")

			filter := store.TradeFilter{Symbol: symbol, Limit: limit}
			if days > 0 {
				filter.StartDate = time.Now().AddDate(0, 0, -days)
			}

			trades, err := app.Store.GetTrades(cmd.Context(), filter)
			if err != nil {
				return err
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(trades)
			}
			if len(trades) == 0 {
				output.Dim("No trades found")
				return nil
			}

			var totalPnL float64
			output.Bold("%-8s %-5s %6s %10s %10s %10s %9s %-14s %-16s", "SYMBOL", "SIDE", "SHARES", "ENTRY", "EXIT", "PNL", "PNL%", "REASON", "CLOSED")
			for _, t := range trades {
				totalPnL += t.PnL
				output.Printf("%-8s %-5s %6d %10.2f %10.2f %10.2f %8.2f%% %-14s %-16s\n",
					t.Symbol, t.Side, t.Shares, t.EntryPrice, t.ExitPrice, t.PnL, t.PnLPercent,
					t.Reason, t.ClosedAt.Format("2006-01-02 15:04"))
			}
			output.Println()
			output.Pnl("Total P&L: %.2f over %d trades", totalPnL, totalPnL, len(trades))
			return nil
		},
	}
	cmd.Flags().String("symbol", "", "filter by symbol")
	cmd.Flags().Int("limit", 50, "maximum trades to show")
	cmd.Flags().Int("days", 0, "only trades closed within the last N days")
	return cmd
}
