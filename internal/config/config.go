// Package config provides configuration management for the trading engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	apperrors "equity-engine/internal/errors"
)

// ApprovalMode controls whether new plans are approved immediately or wait
// for an external confirmation.
type ApprovalMode string

const (
	ApprovalAuto   ApprovalMode = "auto"
	ApprovalManual ApprovalMode = "manual"
)

// TimeoutPolicy decides what happens to a pending plan past its expiry.
type TimeoutPolicy string

const (
	TimeoutExecute TimeoutPolicy = "execute"
	TimeoutReject  TimeoutPolicy = "reject"
)

// Config holds all application configuration.
type Config struct {
	Engine        EngineConfig       `mapstructure:"engine"`
	Approval      ApprovalConfig     `mapstructure:"approval"`
	Risk          RiskConfig         `mapstructure:"risk"`
	ROI           map[string]float64 `mapstructure:"roi"` // minutes → required return %
	Trailing      TrailingConfig     `mapstructure:"trailing"`
	DCA           DCAConfig          `mapstructure:"dca"`
	Partial       PartialConfig      `mapstructure:"partial"`
	Protection    ProtectionConfig   `mapstructure:"protection"`
	Conditional   ConditionalConfig  `mapstructure:"conditional"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Audit         AuditConfig        `mapstructure:"audit"`
	Metrics       MetricsConfig      `mapstructure:"metrics"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// EngineConfig holds top-level engine behavior.
type EngineConfig struct {
	Mode                string  `mapstructure:"mode"` // "live", "paper"
	DatabasePath        string  `mapstructure:"database_path"`
	CycleSeconds        int     `mapstructure:"cycle_seconds"`
	OrderTimeoutSeconds int     `mapstructure:"order_timeout_seconds"`
	CashMaxAgeMinutes   int     `mapstructure:"cash_max_age_minutes"`
	PaperSlippagePct    float64 `mapstructure:"paper_slippage_percent"`
	PaperLatencyMs      int     `mapstructure:"paper_latency_ms"`
	PaperStartingCash   float64 `mapstructure:"paper_starting_cash"`
}

// ApprovalConfig holds the plan approval workflow policies.
type ApprovalConfig struct {
	Mode           ApprovalMode  `mapstructure:"mode"`
	TimeoutMinutes int           `mapstructure:"timeout_minutes"`
	OnTimeout      TimeoutPolicy `mapstructure:"on_timeout"`
	SweepMinutes   int           `mapstructure:"sweep_minutes"`
}

// RiskConfig holds risk management configuration.
type RiskConfig struct {
	MaxConcurrentPositions int     `mapstructure:"max_concurrent_positions"`
	MaxPositionPercent     float64 `mapstructure:"max_position_percent"`
	MaxSectorExposure      float64 `mapstructure:"max_sector_exposure"`
	MaxCorrelation         float64 `mapstructure:"max_correlation"`
	MinStopLossPercent     float64 `mapstructure:"min_stoploss_percent"`
	MaxStopLossPercent     float64 `mapstructure:"max_stoploss_percent"`
	MinRiskReward          float64 `mapstructure:"min_risk_reward"`
	DailyLossLimitPercent  float64 `mapstructure:"daily_loss_limit_percent"`
	CooldownMinutes        int     `mapstructure:"cooldown_minutes"`
	CooldownSizeFactor     float64 `mapstructure:"cooldown_size_factor"`
	LossStreakThreshold    int     `mapstructure:"loss_streak_threshold"`
	LossStreakSizeFactor   float64 `mapstructure:"loss_streak_size_factor"`
	MinSizeFactor          float64 `mapstructure:"min_size_factor"`
	DrawdownAlertPercent   float64 `mapstructure:"drawdown_alert_percent"`
	MaxHoldDays            int     `mapstructure:"max_hold_days"` // 0 disables the max-hold exit
}

// TrailingConfig holds trailing-stop configuration.
type TrailingConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	ActivationPercent float64 `mapstructure:"activation_percent"` // gain needed before trailing starts
	TrailPercent      float64 `mapstructure:"trail_percent"`      // distance below high-water price
}

// DCAConfig holds dollar-cost-averaging configuration.
type DCAConfig struct {
	Enabled               bool    `mapstructure:"enabled"`
	MaxRounds             int     `mapstructure:"max_rounds"`
	DropPercentPerRound   float64 `mapstructure:"drop_percent_per_round"`
	SizeMultiplier        float64 `mapstructure:"size_multiplier"`
	MinTimeBetweenMinutes int     `mapstructure:"min_time_between_minutes"`
}

// PartialConfig holds tiered partial-exit configuration.
type PartialConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Tiers   []PartialTier `mapstructure:"tiers"`
}

// PartialTier is one profit level at which part of a position is sold.
type PartialTier struct {
	ProfitPercent float64 `mapstructure:"profit_percent"`
	SellPercent   float64 `mapstructure:"sell_percent"` // % of remaining shares
}

// ProtectionConfig holds post-loss lock configuration.
type ProtectionConfig struct {
	CooldownMinutes         int     `mapstructure:"cooldown_minutes"`
	StopLossGuardCount      int     `mapstructure:"stoploss_guard_count"`
	StopLossGuardWindowMins int     `mapstructure:"stoploss_guard_window_minutes"`
	StopLossGuardLockMins   int     `mapstructure:"stoploss_guard_lock_minutes"`
	LowProfitTradeCount     int     `mapstructure:"low_profit_trade_count"`
	LowProfitThreshold      float64 `mapstructure:"low_profit_threshold"`
	LowProfitLockMins       int     `mapstructure:"low_profit_lock_minutes"`
	MaxDrawdownPercent      float64 `mapstructure:"max_drawdown_percent"`
	MaxDrawdownLockMins     int     `mapstructure:"max_drawdown_lock_minutes"`
}

// ConditionalConfig holds the conditional order engine configuration.
type ConditionalConfig struct {
	MaxActiveOrders int `mapstructure:"max_active_orders"`
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Level    string         `mapstructure:"level"` // all, trades_only, errors_only
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// AuditConfig holds audit log configuration.
type AuditConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	FilePath string `mapstructure:"file_path"`
}

// MetricsConfig holds prometheus exposition configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// LoggingConfig holds log output configuration.
type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Console  bool   `mapstructure:"console"`
	File     bool   `mapstructure:"file"`
	FilePath string `mapstructure:"file_path"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/equity-engine"
	}
	return filepath.Join(home, ".config", "equity-engine")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	// A local .env is optional; ignore a missing file.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("engine")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading engine.toml: %w", err)
		}
		return nil, writeTemplate(configDir)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrConfigInvalid, err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.mode", "paper")
	v.SetDefault("engine.database_path", filepath.Join(DefaultConfigDir(), "engine.db"))
	v.SetDefault("engine.cycle_seconds", 60)
	v.SetDefault("engine.order_timeout_seconds", 30)
	v.SetDefault("engine.cash_max_age_minutes", 30)
	v.SetDefault("engine.paper_slippage_percent", 0.05)
	v.SetDefault("engine.paper_latency_ms", 50)
	v.SetDefault("engine.paper_starting_cash", 100000.0)

	v.SetDefault("approval.mode", "manual")
	v.SetDefault("approval.timeout_minutes", 60)
	v.SetDefault("approval.on_timeout", "reject")
	v.SetDefault("approval.sweep_minutes", 5)

	v.SetDefault("risk.max_concurrent_positions", 10)
	v.SetDefault("risk.max_position_percent", 10.0)
	v.SetDefault("risk.max_sector_exposure", 30.0)
	v.SetDefault("risk.max_correlation", 0.8)
	v.SetDefault("risk.min_stoploss_percent", 1.0)
	v.SetDefault("risk.max_stoploss_percent", 15.0)
	v.SetDefault("risk.min_risk_reward", 2.0)
	v.SetDefault("risk.daily_loss_limit_percent", 3.0)
	v.SetDefault("risk.cooldown_minutes", 120)
	v.SetDefault("risk.cooldown_size_factor", 0.5)
	v.SetDefault("risk.loss_streak_threshold", 2)
	v.SetDefault("risk.loss_streak_size_factor", 0.75)
	v.SetDefault("risk.min_size_factor", 0.25)
	v.SetDefault("risk.drawdown_alert_percent", 10.0)
	v.SetDefault("risk.max_hold_days", 0)

	v.SetDefault("roi", map[string]float64{"0": 6.0, "60": 4.0, "240": 2.0})

	v.SetDefault("trailing.enabled", true)
	v.SetDefault("trailing.activation_percent", 3.0)
	v.SetDefault("trailing.trail_percent", 2.0)

	v.SetDefault("dca.enabled", false)
	v.SetDefault("dca.max_rounds", 2)
	v.SetDefault("dca.drop_percent_per_round", 5.0)
	v.SetDefault("dca.size_multiplier", 0.5)
	v.SetDefault("dca.min_time_between_minutes", 240)

	v.SetDefault("partial.enabled", false)

	v.SetDefault("protection.cooldown_minutes", 60)
	v.SetDefault("protection.stoploss_guard_count", 3)
	v.SetDefault("protection.stoploss_guard_window_minutes", 1440)
	v.SetDefault("protection.stoploss_guard_lock_minutes", 720)
	v.SetDefault("protection.low_profit_trade_count", 5)
	v.SetDefault("protection.low_profit_threshold", -1.0)
	v.SetDefault("protection.low_profit_lock_minutes", 360)
	v.SetDefault("protection.max_drawdown_percent", 15.0)
	v.SetDefault("protection.max_drawdown_lock_minutes", 1440)

	v.SetDefault("conditional.max_active_orders", 20)

	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.level", "trades_only")

	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.file_path", filepath.Join(DefaultConfigDir(), "logs", "audit.jsonl"))

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9090")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.file_path", filepath.Join(DefaultConfigDir(), "logs", "engine.log"))
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ENGINE_MODE"); v != "" {
		cfg.Engine.Mode = v
	}
	if v := os.Getenv("ENGINE_DATABASE_PATH"); v != "" {
		cfg.Engine.DatabasePath = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Notifications.Telegram.ChatID = v
	}
	if v := os.Getenv("WEBHOOK_URL"); v != "" {
		cfg.Notifications.Webhook.URL = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Engine.Mode != "live" && c.Engine.Mode != "paper" {
		return fmt.Errorf("invalid engine mode: %s (must be 'live' or 'paper')", c.Engine.Mode)
	}
	if c.Engine.CycleSeconds <= 0 {
		return fmt.Errorf("cycle_seconds must be positive")
	}
	if c.Engine.CashMaxAgeMinutes <= 0 {
		return fmt.Errorf("cash_max_age_minutes must be positive")
	}

	switch c.Approval.Mode {
	case ApprovalAuto, ApprovalManual:
	default:
		return fmt.Errorf("invalid approval mode: %s (must be 'auto' or 'manual')", c.Approval.Mode)
	}
	switch c.Approval.OnTimeout {
	case TimeoutExecute, TimeoutReject:
	default:
		return fmt.Errorf("invalid timeout policy: %s (must be 'execute' or 'reject')", c.Approval.OnTimeout)
	}
	if c.Approval.TimeoutMinutes <= 0 {
		return fmt.Errorf("approval timeout_minutes must be positive")
	}

	if c.Risk.MaxPositionPercent <= 0 || c.Risk.MaxPositionPercent > 100 {
		return fmt.Errorf("max_position_percent must be between 0 and 100")
	}
	if c.Risk.MaxSectorExposure <= 0 || c.Risk.MaxSectorExposure > 100 {
		return fmt.Errorf("max_sector_exposure must be between 0 and 100")
	}
	if c.Risk.MinRiskReward < 0 {
		return fmt.Errorf("min_risk_reward must be non-negative")
	}
	if c.Risk.MinStopLossPercent < 0 || c.Risk.MaxStopLossPercent < c.Risk.MinStopLossPercent {
		return fmt.Errorf("stoploss bounds must satisfy 0 <= min <= max")
	}
	if c.Risk.DailyLossLimitPercent <= 0 {
		return fmt.Errorf("daily_loss_limit_percent must be positive")
	}
	if c.Risk.CooldownSizeFactor <= 0 || c.Risk.CooldownSizeFactor > 1 {
		return fmt.Errorf("cooldown_size_factor must be in (0, 1]")
	}
	if c.Risk.LossStreakSizeFactor <= 0 || c.Risk.LossStreakSizeFactor > 1 {
		return fmt.Errorf("loss_streak_size_factor must be in (0, 1]")
	}

	if c.DCA.Enabled {
		if c.DCA.MaxRounds <= 0 {
			return fmt.Errorf("dca max_rounds must be positive when dca is enabled")
		}
		if c.DCA.DropPercentPerRound <= 0 {
			return fmt.Errorf("dca drop_percent_per_round must be positive")
		}
		if c.DCA.SizeMultiplier <= 0 {
			return fmt.Errorf("dca size_multiplier must be positive")
		}
	}

	for i, tier := range c.Partial.Tiers {
		if tier.ProfitPercent <= 0 {
			return fmt.Errorf("partial tier %d: profit_percent must be positive", i)
		}
		if tier.SellPercent <= 0 || tier.SellPercent > 100 {
			return fmt.Errorf("partial tier %d: sell_percent must be in (0, 100]", i)
		}
		if i > 0 && tier.ProfitPercent <= c.Partial.Tiers[i-1].ProfitPercent {
			return fmt.Errorf("partial tiers must have strictly increasing profit_percent")
		}
	}

	if c.Conditional.MaxActiveOrders <= 0 {
		return fmt.Errorf("max_active_orders must be positive")
	}

	return nil
}

// IsPaperMode returns true if paper trading mode is enabled.
func (c *Config) IsPaperMode() bool {
	return c.Engine.Mode == "paper"
}

// ApprovalTimeout returns the plan approval window as a duration.
func (c *Config) ApprovalTimeout() time.Duration {
	return time.Duration(c.Approval.TimeoutMinutes) * time.Minute
}

// OrderTimeout returns the broker await window as a duration.
func (c *Config) OrderTimeout() time.Duration {
	return time.Duration(c.Engine.OrderTimeoutSeconds) * time.Second
}

// CashMaxAge returns the bounded-freshness window for cached cash figures.
func (c *Config) CashMaxAge() time.Duration {
	return time.Duration(c.Engine.CashMaxAgeMinutes) * time.Minute
}
