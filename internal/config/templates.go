package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const engineTemplate = `# Equity Engine Configuration

[engine]
# Execution mode: "live" or "paper"
mode = "paper"
# SQLite database file
database_path = ""
# Seconds between tracker cycles
cycle_seconds = 60
# Broker await window before an order attempt is treated as failed
order_timeout_seconds = 30
# Cached cash figures older than this pause the engine (fail safe)
cash_max_age_minutes = 30
# Paper broker fill simulation
paper_slippage_percent = 0.05
paper_latency_ms = 50
paper_starting_cash = 100000.0

[approval]
# "auto" approves every plan immediately; "manual" waits for confirmation
mode = "manual"
# Minutes before a pending plan expires
timeout_minutes = 60
# What the expiry sweep does with a timed-out plan: "execute" or "reject"
on_timeout = "reject"
# Minutes between expiry sweeps
sweep_minutes = 5

[risk]
max_concurrent_positions = 10
# Maximum single-position size as percentage of portfolio
max_position_percent = 10.0
# Maximum exposure per sector as percentage
max_sector_exposure = 30.0
# Maximum correlation with existing holdings (BUY only)
max_correlation = 0.8
# Allowed stop-loss percentage bounds
min_stoploss_percent = 1.0
max_stoploss_percent = 15.0
# Minimum risk-reward ratio for BUY plans
min_risk_reward = 2.0
# Daily loss (percent of portfolio) that triggers cool-down;
# 2x this limit while cooling down closes everything and pauses
daily_loss_limit_percent = 3.0
cooldown_minutes = 120
cooldown_size_factor = 0.5
# Consecutive losses before sizing shrinks, and the shrink per extra loss
loss_streak_threshold = 2
loss_streak_size_factor = 0.75
min_size_factor = 0.25
# Drawdown from rolling peak that triggers an alert (report only)
drawdown_alert_percent = 10.0
# Days before an open position is closed regardless of price; 0 disables
max_hold_days = 0

# Minimum trade age in minutes -> required return percent to exit on schedule
[roi]
0 = 6.0
60 = 4.0
240 = 2.0

[trailing]
enabled = true
# Gain percent needed before the trailing stop activates
activation_percent = 3.0
# Distance percent below the high-water price
trail_percent = 2.0

[dca]
enabled = false
max_rounds = 2
drop_percent_per_round = 5.0
size_multiplier = 0.5
min_time_between_minutes = 240

[partial]
enabled = false
# [[partial.tiers]]
# profit_percent = 5.0
# sell_percent = 30.0
# [[partial.tiers]]
# profit_percent = 10.0
# sell_percent = 50.0

[protection]
cooldown_minutes = 60
# N stop-losses within the window lock the symbol
stoploss_guard_count = 3
stoploss_guard_window_minutes = 1440
stoploss_guard_lock_minutes = 720
# Average return over the last N trades below threshold locks the symbol
low_profit_trade_count = 5
low_profit_threshold = -1.0
low_profit_lock_minutes = 360
# Drawdown from rolling peak that locks all trading
max_drawdown_percent = 15.0
max_drawdown_lock_minutes = 1440

[conditional]
max_active_orders = 20

[notifications]
enabled = false
# Notification level: all, trades_only, errors_only
level = "trades_only"

[notifications.webhook]
enabled = false
url = ""

[notifications.telegram]
enabled = false
bot_token = ""
chat_id = ""

[audit]
enabled = true
file_path = ""

[metrics]
enabled = false
listen = ":9090"

[logging]
level = "info"
console = true
file = true
file_path = ""
`

func writeTemplate(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "engine.toml")
	if err := os.WriteFile(path, []byte(engineTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return fmt.Errorf("config file not found, created template at %s", path)
}
