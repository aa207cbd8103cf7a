package cli

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"equity-engine/internal/audit"
	"equity-engine/internal/broker"
	"equity-engine/internal/config"
	"equity-engine/internal/engine"
	"equity-engine/internal/logging"
	"equity-engine/internal/metrics"
	"equity-engine/internal/notify"
	"equity-engine/internal/store"
	"equity-engine/internal/stream"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-01-01"
)

// App holds the application dependencies.
type App struct {
	Config    *config.Config
	ConfigDir string
	Logger    zerolog.Logger
	Store     store.DataStore
	Broker    broker.Broker
	Engine    *engine.Engine
	Notifier  notify.Notifier
	Audit     *audit.Logger
	Hub       *stream.Hub
	Metrics   *metrics.Metrics
}

// buildEngine lazily assembles the full engine stack. Commands that only
// read the store never pay for it.
func (a *App) buildEngine() error {
	if a.Engine != nil {
		return nil
	}
	if err := a.openStore(); err != nil {
		return err
	}

	if a.Config.IsPaperMode() {
		a.Broker = broker.NewPaperBroker(broker.PaperBrokerConfig{
			StartingCash:    a.Config.Engine.PaperStartingCash,
			SlippagePercent: a.Config.Engine.PaperSlippagePct,
			LatencyMs:       a.Config.Engine.PaperLatencyMs,
		})
	} else {
		return fmt.Errorf("live mode requires a broker connector, set engine.mode = \"paper\"")
	}

	if a.Config.Notifications.Enabled {
		a.Notifier = notify.NewMultiNotifier(&a.Config.Notifications)
	} else {
		a.Notifier = notify.NewNoOpNotifier()
	}

	if a.Config.Audit.Enabled {
		auditCfg := audit.DefaultConfig()
		if a.Config.Audit.FilePath != "" {
			auditCfg.FilePath = a.Config.Audit.FilePath
		}
		auditLog, err := audit.NewLogger(auditCfg)
		if err != nil {
			return fmt.Errorf("initializing audit log: %w", err)
		}
		a.Audit = auditLog
	}

	a.Hub = stream.NewHub()
	if a.Config.Metrics.Enabled {
		a.Metrics = metrics.New()
	}

	eng, err := engine.New(a.Config, a.Store, a.Broker, a.Notifier, a.Audit, a.Hub, a.Metrics, a.Logger)
	if err != nil {
		return err
	}
	eng.SetControlFile(filepath.Join(a.ConfigDir, "paused"))
	a.Engine = eng
	return nil
}

// openStore opens the SQLite store if it is not open yet.
func (a *App) openStore() error {
	if a.Store != nil {
		return nil
	}
	dataStore, err := store.NewSQLiteStore(a.Config.Engine.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	a.Store = dataStore
	return nil
}

// Close releases the app's resources.
func (a *App) Close() {
	if a.Store != nil {
		a.Store.Close()
	}
	if a.Audit != nil {
		a.Audit.Close()
	}
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, configDir string, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config:    cfg,
		ConfigDir: configDir,
		Logger:    logger,
	}
	if app.ConfigDir == "" {
		app.ConfigDir = config.DefaultConfigDir()
	}

	rootCmd := &cobra.Command{
		Use:   "engine",
		Short: "Equity Engine - automated trade lifecycle and risk management",
		Long: `Equity Engine manages the full life of an equity trade: sizing and
planning from model signals, approval gating, execution, position
tracking with layered exits, and the protective machinery around it.

Use 'engine help <command>' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/equity-engine)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	addRunCommands(rootCmd, app)
	addControlCommands(rootCmd, app)
	addViewCommands(rootCmd, app)
	addConditionalCommands(rootCmd, app)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("Equity Engine v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and manage engine configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			return showConfig(output, app.Config)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": app.ConfigDir})
			} else {
				output.Println(app.ConfigDir)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("✓ Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) error {
	output.Bold("Engine Configuration")
	output.Printf("  Mode:             %s\n", cfg.Engine.Mode)
	output.Printf("  Cycle:            %ds\n", cfg.Engine.CycleSeconds)
	output.Printf("  Database:         %s\n", cfg.Engine.DatabasePath)
	output.Println()

	output.Bold("Approval")
	output.Printf("  Mode:             %s\n", cfg.Approval.Mode)
	output.Printf("  Timeout:          %d min\n", cfg.Approval.TimeoutMinutes)
	output.Printf("  On Timeout:       %s\n", cfg.Approval.OnTimeout)
	output.Println()

	output.Bold("Risk Configuration")
	output.Printf("  Max Positions:    %d\n", cfg.Risk.MaxConcurrentPositions)
	output.Printf("  Max Position %%:   %.1f%%\n", cfg.Risk.MaxPositionPercent)
	output.Printf("  Max Sector Exp:   %.1f%%\n", cfg.Risk.MaxSectorExposure)
	output.Printf("  Min Risk/Reward:  %.1f\n", cfg.Risk.MinRiskReward)
	output.Printf("  Daily Loss Limit: %.1f%%\n", cfg.Risk.DailyLossLimitPercent)
	output.Println()

	output.Bold("Exits")
	output.Printf("  Trailing:         %v (activate %.1f%%, trail %.1f%%)\n",
		cfg.Trailing.Enabled, cfg.Trailing.ActivationPercent, cfg.Trailing.TrailPercent)
	output.Printf("  DCA:              %v (max %d rounds)\n", cfg.DCA.Enabled, cfg.DCA.MaxRounds)
	output.Printf("  Partial Exits:    %v (%d tiers)\n", cfg.Partial.Enabled, len(cfg.Partial.Tiers))
	output.Println()

	output.Bold("Notifications")
	output.Printf("  Enabled:          %v\n", cfg.Notifications.Enabled)
	output.Printf("  Level:            %s\n", cfg.Notifications.Level)
	output.Printf("  Webhook:          %v\n", cfg.Notifications.Webhook.Enabled)
	output.Printf("  Telegram:         %v\n", cfg.Notifications.Telegram.Enabled)

	return nil
}
