package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"equity-engine/internal/models"
	"equity-engine/internal/store"
)

// addConditionalCommands adds the conditional order surface.
func addConditionalCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "conditional",
		Short: "Manage engine-evaluated conditional orders",
	}
	cmd.AddCommand(newConditionalCreateCmd(app))
	cmd.AddCommand(newConditionalOCOCmd(app))
	cmd.AddCommand(newConditionalListCmd(app))
	cmd.AddCommand(newConditionalCancelCmd(app))
	rootCmd.AddCommand(cmd)
}

func parseTrigger(kind, value string) (models.TriggerType, float64, *time.Time, error) {
	switch kind {
	case "above":
		price, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return "", 0, nil, fmt.Errorf("invalid trigger price %q", value)
		}
		return models.TriggerPriceAbove, price, nil, nil
	case "below":
		price, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return "", 0, nil, fmt.Errorf("invalid trigger price %q", value)
		}
		return models.TriggerPriceBelow, price, nil, nil
	case "time":
		at, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return "", 0, nil, fmt.Errorf("invalid trigger time %q, want RFC3339", value)
		}
		return models.TriggerTime, 0, &at, nil
	}
	return "", 0, nil, fmt.Errorf("unknown trigger %q, want above, below, or time", kind)
}

func buildConditionalOrder(cmd *cobra.Command, symbol string) (*models.ConditionalOrder, error) {
	triggerKind, _ := cmd.Flags().GetString("trigger")
	triggerValue, _ := cmd.Flags().GetString("at")
	sideStr, _ := cmd.Flags().GetString("side")
	shares, _ := cmd.Flags().GetInt("shares")
	limitPrice, _ := cmd.Flags().GetFloat64("limit")
	expireHours, _ := cmd.Flags().GetInt("expire-hours")

	trigger, price, at, err := parseTrigger(triggerKind, triggerValue)
	if err != nil {
		return nil, err
	}
	side, err := models.ParseSide(sideStr)
	if err != nil {
		return nil, err
	}

	order := &models.ConditionalOrder{
		Symbol:       symbol,
		Trigger:      trigger,
		TriggerPrice: price,
		TriggerAt:    at,
		Action: models.ConditionalAction{
			Side:       side,
			Shares:     shares,
			LimitPrice: limitPrice,
		},
	}
	if expireHours > 0 {
		expires := time.Now().Add(time.Duration(expireHours) * time.Hour)
		order.ExpiresAt = &expires
	}
	return order, nil
}

func addConditionalFlags(cmd *cobra.Command) {
	cmd.Flags().String("trigger", "", "trigger kind: above, below, or time")
	cmd.Flags().String("at", "", "trigger price, or RFC3339 time for time triggers")
	cmd.Flags().String("side", "SELL", "action side: BUY or SELL")
	cmd.Flags().Int("shares", 0, "shares in the action")
	cmd.Flags().Float64("limit", 0, "limit price for the action (0 = market)")
	cmd.Flags().Int("expire-hours", 0, "expire the order after this many hours (0 = never)")
	cmd.MarkFlagRequired("trigger")
	cmd.MarkFlagRequired("at")
	cmd.MarkFlagRequired("shares")
}

func newConditionalCreateCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create SYMBOL",
		Short: "Create a conditional order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.buildEngine(); err != nil {
				return err
			}
			defer app.Close()

			order, err := buildConditionalOrder(cmd, args[0])
			if err != nil {
				return err
			}
			if err := app.Engine.Conditional().CreateOrder(cmd.Context(), order); err != nil {
				return err
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(order)
			}
			output.Success("Conditional order %s created", order.ID)
			return nil
		},
	}
	addConditionalFlags(cmd)
	return cmd
}

func newConditionalOCOCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "oco SYMBOL",
		Short: "Create a one-cancels-other pair",
		Long: `Create two linked conditional sells on one symbol: a take-profit leg
that fires above and a stop leg that fires below. Whichever triggers
first cancels the other.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.buildEngine(); err != nil {
				return err
			}
			defer app.Close()

			above, _ := cmd.Flags().GetFloat64("above")
			below, _ := cmd.Flags().GetFloat64("below")
			shares, _ := cmd.Flags().GetInt("shares")
			if above <= 0 || below <= 0 || below >= above {
				return fmt.Errorf("need --below < --above, both positive")
			}

			takeProfit := &models.ConditionalOrder{
				Symbol:       args[0],
				Trigger:      models.TriggerPriceAbove,
				TriggerPrice: above,
				Action:       models.ConditionalAction{Side: models.SideSell, Shares: shares},
			}
			stop := &models.ConditionalOrder{
				Symbol:       args[0],
				Trigger:      models.TriggerPriceBelow,
				TriggerPrice: below,
				Action:       models.ConditionalAction{Side: models.SideSell, Shares: shares},
			}

			if err := app.Engine.Conditional().CreateOCOPair(cmd.Context(), takeProfit, stop); err != nil {
				return err
			}

			output := NewOutput(cmd)
			output.Success("OCO pair %s created: sell %d above %.2f or below %.2f",
				takeProfit.OCOGroupID, shares, above, below)
			return nil
		},
	}
	cmd.Flags().Float64("above", 0, "take-profit trigger price")
	cmd.Flags().Float64("below", 0, "stop trigger price")
	cmd.Flags().Int("shares", 0, "shares to sell on whichever leg fires")
	cmd.MarkFlagRequired("above")
	cmd.MarkFlagRequired("below")
	cmd.MarkFlagRequired("shares")
	return cmd
}

func newConditionalListCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conditional orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.openStore(); err != nil {
				return err
			}
			defer app.Close()

			status, _ := cmd.Flags().GetString("status")
			symbol, _ := cmd.Flags().GetString("symbol")

			orders, err := app.Store.GetConditionalOrders(cmd.Context(), store.ConditionalFilter{
				Symbol: symbol,
				Status: models.ConditionalStatus(status),
			})
			if err != nil {
				return err
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(orders)
			}
			if len(orders) == 0 {
				output.Dim("No conditional orders")
				return nil
			}

			output.Bold("%-28s %-8s %-12s %10s %-5s %6s %-10s %-10s", "ID", "SYMBOL", "TRIGGER", "AT", "SIDE", "SHARES", "STATUS", "OCO")
			for _, o := range orders {
				at := fmt.Sprintf("%.2f", o.TriggerPrice)
				if o.Trigger == models.TriggerTime && o.TriggerAt != nil {
					at = o.TriggerAt.Format("01-02 15:04")
				}
				output.Printf("%-28s %-8s %-12s %10s %-5s %6d %-10s %-10s\n",
					o.ID, o.Symbol, o.Trigger, at, o.Action.Side, o.Action.Shares, o.Status, o.OCOGroupID)
			}
			return nil
		},
	}
	cmd.Flags().String("status", "", "filter by status")
	cmd.Flags().String("symbol", "", "filter by symbol")
	return cmd
}

func newConditionalCancelCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ORDER_ID",
		Short: "Cancel a pending conditional order (and its OCO sibling)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.buildEngine(); err != nil {
				return err
			}
			defer app.Close()

			if err := app.Engine.Conditional().CancelOrder(cmd.Context(), args[0]); err != nil {
				return err
			}
			NewOutput(cmd).Success("Conditional order %s cancelled", args[0])
			return nil
		},
	}
}
