// Package notify delivers engine notifications to external channels.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"equity-engine/internal/config"
	"equity-engine/internal/models"
)

// Notifier defines the interface for sending notifications.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
	NotifyPlanPending(ctx context.Context, plan *models.TradePlan)
	SendTrade(ctx context.Context, trade *models.Trade) error
	SendDailySummary(ctx context.Context, summary *DailySummary) error
	SendError(ctx context.Context, err error, context string) error
}

// Channel defines the interface for a notification channel.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	IsEnabled() bool
}

// Notification represents a notification message.
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Data      map[string]interface{}
	Timestamp time.Time
}

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationTrade    NotificationType = "trade"
	NotificationApproval NotificationType = "approval"
	NotificationError    NotificationType = "error"
	NotificationSummary  NotificationType = "summary"
	NotificationInfo     NotificationType = "info"
)

// Level represents the notification level filter.
type Level string

const (
	LevelAll        Level = "all"
	LevelTradesOnly Level = "trades_only"
	LevelErrorsOnly Level = "errors_only"
)

// DailySummary represents a daily trading summary.
type DailySummary struct {
	Date          string
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	TotalPnL      float64
	WinRate       float64
	BestTrade     *TradeSummary
	WorstTrade    *TradeSummary
}

// TradeSummary represents a summary of a single trade.
type TradeSummary struct {
	Symbol     string
	Side       string
	PnL        float64
	PnLPercent float64
}

// MultiNotifier sends notifications to every enabled channel.
type MultiNotifier struct {
	channels []Channel
	level    Level
	mu       sync.RWMutex
}

// NewMultiNotifier creates a MultiNotifier from the notification config.
func NewMultiNotifier(cfg *config.NotificationConfig) *MultiNotifier {
	mn := &MultiNotifier{
		channels: make([]Channel, 0),
		level:    Level(cfg.Level),
	}
	if mn.level == "" {
		mn.level = LevelAll
	}

	if cfg.Webhook.Enabled {
		mn.channels = append(mn.channels, NewWebhookNotifier(cfg.Webhook))
	}
	if cfg.Telegram.Enabled {
		mn.channels = append(mn.channels, NewTelegramNotifier(cfg.Telegram))
	}
	return mn
}

// AddChannel adds a notification channel.
func (mn *MultiNotifier) AddChannel(ch Channel) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.channels = append(mn.channels, ch)
}

func (mn *MultiNotifier) shouldSend(notifType NotificationType) bool {
	switch mn.level {
	case LevelTradesOnly:
		return notifType == NotificationTrade || notifType == NotificationApproval
	case LevelErrorsOnly:
		return notifType == NotificationError
	default:
		return true
	}
}

// Send sends a notification to all enabled channels. Channel failures are
// collected, never short-circuited.
func (mn *MultiNotifier) Send(ctx context.Context, n Notification) error {
	if !mn.shouldSend(n.Type) {
		return nil
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	mn.mu.RLock()
	channels := mn.channels
	mn.mu.RUnlock()

	var errs []string
	for _, ch := range channels {
		if ch.IsEnabled() {
			if err := ch.Send(ctx, n); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", ch.Name(), err))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// NotifyPlanPending announces a plan awaiting manual approval. Delivery
// failure is swallowed; the approval timeout still governs the plan.
func (mn *MultiNotifier) NotifyPlanPending(ctx context.Context, plan *models.TradePlan) {
	title := fmt.Sprintf("⏳ Approval Needed: %s %s", plan.Side, plan.Symbol)
	message := fmt.Sprintf(
		"Symbol: %s\nSide: %s\nShares: %d\nEntry: %s\nStop: %s\nTarget: %s\nR:R: %.2f\nExpires: %s",
		plan.Symbol,
		plan.Side,
		plan.Shares,
		formatCurrency(plan.EntryPrice),
		formatCurrency(plan.StopPrice),
		formatCurrency(plan.TargetPrice),
		plan.RiskReward,
		plan.ExpiresAt.Format("15:04:05"),
	)

	mn.Send(ctx, Notification{
		Type:    NotificationApproval,
		Title:   title,
		Message: message,
		Data: map[string]interface{}{
			"plan_id":     plan.ID,
			"symbol":      plan.Symbol,
			"side":        plan.Side,
			"shares":      plan.Shares,
			"entry_price": plan.EntryPrice,
			"stop_price":  plan.StopPrice,
			"expires_at":  plan.ExpiresAt.Format(time.RFC3339),
		},
	})
}

// SendTrade sends a closed-trade notification.
func (mn *MultiNotifier) SendTrade(ctx context.Context, trade *models.Trade) error {
	pnlSign := "+"
	if trade.PnL < 0 {
		pnlSign = ""
	}

	title := fmt.Sprintf("🔔 Trade Closed: %s", trade.Symbol)
	message := fmt.Sprintf(
		"Symbol: %s\nShares: %d\nEntry: %s\nExit: %s\nP&L: %s%s (%.2f%%)\nReason: %s",
		trade.Symbol,
		trade.Shares,
		formatCurrency(trade.EntryPrice),
		formatCurrency(trade.ExitPrice),
		pnlSign,
		formatCurrency(trade.PnL),
		trade.PnLPercent,
		trade.Reason,
	)

	return mn.Send(ctx, Notification{
		Type:    NotificationTrade,
		Title:   title,
		Message: message,
		Data: map[string]interface{}{
			"symbol":      trade.Symbol,
			"shares":      trade.Shares,
			"entry_price": trade.EntryPrice,
			"exit_price":  trade.ExitPrice,
			"pnl":         trade.PnL,
			"pnl_percent": trade.PnLPercent,
			"reason":      trade.Reason,
		},
	})
}

// SendDailySummary sends a daily summary notification.
func (mn *MultiNotifier) SendDailySummary(ctx context.Context, summary *DailySummary) error {
	pnlEmoji := "📊"
	if summary.TotalPnL > 0 {
		pnlEmoji = "💰"
	} else if summary.TotalPnL < 0 {
		pnlEmoji = "📉"
	}

	title := fmt.Sprintf("%s Daily Summary - %s", pnlEmoji, summary.Date)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Total Trades: %d\n", summary.TotalTrades))
	sb.WriteString(fmt.Sprintf("Winning: %d | Losing: %d\n", summary.WinningTrades, summary.LosingTrades))
	sb.WriteString(fmt.Sprintf("Win Rate: %.1f%%\n", summary.WinRate))
	sb.WriteString(fmt.Sprintf("Total P&L: %s\n", formatCurrency(summary.TotalPnL)))

	if summary.BestTrade != nil {
		sb.WriteString(fmt.Sprintf("\n🏆 Best Trade: %s %s (+%s)",
			summary.BestTrade.Side, summary.BestTrade.Symbol,
			formatCurrency(summary.BestTrade.PnL)))
	}
	if summary.WorstTrade != nil {
		sb.WriteString(fmt.Sprintf("\n📉 Worst Trade: %s %s (%s)",
			summary.WorstTrade.Side, summary.WorstTrade.Symbol,
			formatCurrency(summary.WorstTrade.PnL)))
	}

	return mn.Send(ctx, Notification{
		Type:    NotificationSummary,
		Title:   title,
		Message: sb.String(),
		Data: map[string]interface{}{
			"date":           summary.Date,
			"total_trades":   summary.TotalTrades,
			"winning_trades": summary.WinningTrades,
			"losing_trades":  summary.LosingTrades,
			"total_pnl":      summary.TotalPnL,
			"win_rate":       summary.WinRate,
		},
	})
}

// SendError sends an error notification.
func (mn *MultiNotifier) SendError(ctx context.Context, err error, errContext string) error {
	title := "❌ Error Occurred"
	message := fmt.Sprintf("Context: %s\nError: %v\nTime: %s",
		errContext, err, time.Now().Format("15:04:05"))

	return mn.Send(ctx, Notification{
		Type:    NotificationError,
		Title:   title,
		Message: message,
		Data: map[string]interface{}{
			"context": errContext,
			"error":   err.Error(),
		},
	})
}

// formatCurrency formats a dollar amount with thousands separators.
func formatCurrency(amount float64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}

	str := fmt.Sprintf("%.2f", amount)
	parts := strings.Split(str, ".")
	intPart := parts[0]
	decPart := parts[1]

	var groups []string
	for len(intPart) > 3 {
		groups = append([]string{intPart[len(intPart)-3:]}, groups...)
		intPart = intPart[:len(intPart)-3]
	}
	groups = append([]string{intPart}, groups...)

	result := "$" + strings.Join(groups, ",") + "." + decPart
	if negative {
		result = "-" + result
	}
	return result
}

// WebhookNotifier sends notifications via HTTP webhook.
type WebhookNotifier struct {
	url     string
	enabled bool
	client  *http.Client
}

// NewWebhookNotifier creates a new WebhookNotifier.
func NewWebhookNotifier(cfg config.WebhookConfig) *WebhookNotifier {
	return &WebhookNotifier{
		url:     cfg.URL,
		enabled: cfg.Enabled && cfg.URL != "",
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the name of the notifier.
func (w *WebhookNotifier) Name() string {
	return "webhook"
}

// IsEnabled returns whether the notifier is enabled.
func (w *WebhookNotifier) IsEnabled() bool {
	return w.enabled
}

// Send sends a notification via webhook.
func (w *WebhookNotifier) Send(ctx context.Context, n Notification) error {
	if !w.enabled {
		return nil
	}

	payload := map[string]interface{}{
		"type":      n.Type,
		"title":     n.Title,
		"message":   n.Message,
		"data":      n.Data,
		"timestamp": n.Timestamp.Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "EquityEngine/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// TelegramNotifier sends notifications via Telegram bot.
type TelegramNotifier struct {
	botToken string
	chatID   string
	enabled  bool
	client   *http.Client
}

// NewTelegramNotifier creates a new TelegramNotifier.
func NewTelegramNotifier(cfg config.TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		enabled:  cfg.Enabled && cfg.BotToken != "" && cfg.ChatID != "",
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the name of the notifier.
func (t *TelegramNotifier) Name() string {
	return "telegram"
}

// IsEnabled returns whether the notifier is enabled.
func (t *TelegramNotifier) IsEnabled() bool {
	return t.enabled
}

// Send sends a notification via Telegram.
func (t *TelegramNotifier) Send(ctx context.Context, n Notification) error {
	if !t.enabled {
		return nil
	}

	text := fmt.Sprintf("<b>%s</b>\n\n%s", escapeHTML(n.Title), escapeHTML(n.Message))
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)

	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "HTML",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling telegram payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}

// escapeHTML escapes HTML special characters for Telegram.
func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// NoOpNotifier is a notifier that does nothing.
type NoOpNotifier struct{}

// NewNoOpNotifier creates a new NoOpNotifier.
func NewNoOpNotifier() *NoOpNotifier {
	return &NoOpNotifier{}
}

// Send does nothing.
func (n *NoOpNotifier) Send(ctx context.Context, notif Notification) error {
	return nil
}

// NotifyPlanPending does nothing.
func (n *NoOpNotifier) NotifyPlanPending(ctx context.Context, plan *models.TradePlan) {}

// SendTrade does nothing.
func (n *NoOpNotifier) SendTrade(ctx context.Context, trade *models.Trade) error {
	return nil
}

// SendDailySummary does nothing.
func (n *NoOpNotifier) SendDailySummary(ctx context.Context, summary *DailySummary) error {
	return nil
}

// SendError does nothing.
func (n *NoOpNotifier) SendError(ctx context.Context, err error, context string) error {
	return nil
}
