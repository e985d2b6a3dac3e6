// File: cmd/tracker/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/smartdevs17/evm-event-tracker/internal/abicache"
	"github.com/smartdevs17/evm-event-tracker/internal/config"
	"github.com/smartdevs17/evm-event-tracker/internal/connection"
	"github.com/smartdevs17/evm-event-tracker/internal/fetcher"
	"github.com/smartdevs17/evm-event-tracker/internal/metrics"
	"github.com/smartdevs17/evm-event-tracker/internal/models"
	"github.com/smartdevs17/evm-event-tracker/internal/retry"
	"github.com/smartdevs17/evm-event-tracker/internal/server"
	"github.com/smartdevs17/evm-event-tracker/internal/sink"
	"github.com/smartdevs17/evm-event-tracker/internal/subscription"
	"github.com/smartdevs17/evm-event-tracker/internal/tracker"
	"github.com/smartdevs17/evm-event-tracker/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// Application wires all components of the event tracker
type Application struct {
	config        *config.Config
	logger        *logrus.Logger
	connection    *connection.ConnectionManager
	metrics       *metrics.Manager
	cache         *abicache.Cache
	fetcher       *fetcher.Fetcher
	subscriptions *subscription.Manager
	tracker       *tracker.Tracker
	sink          sink.Sink
	server        *server.HTTPServer
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := app.initializeLogger(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := app.initializeComponents(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

// initializeLogger initializes the application logger
func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging

	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	app.logger = utils.GetLogger()
	app.logger.Info("Logger initialized",
		"level", logCfg.Level,
		"format", logCfg.Format,
		"output", logCfg.Output)

	return nil
}

// initializeComponents initializes all application components
func (app *Application) initializeComponents() error {
	app.logger.Info("Initializing application components")

	app.metrics = metrics.NewManager()

	app.connection = connection.NewConnectionManager(&app.config.Node)
	app.connection.SetMetricsManager(app.metrics)

	client, err := app.connection.GetClientWithContext(app.ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to node: %w", err)
	}

	app.cache = abicache.New()

	policy := retry.Policy{
		Interval:    app.config.Fetch.RetryInterval,
		Multiplier:  app.config.Fetch.RetryMultiplier,
		MaxDelay:    app.config.Fetch.RetryMaxDelay,
		MaxAttempts: app.config.Fetch.MaxAttempts,
	}
	app.fetcher = fetcher.New(client, policy)
	app.fetcher.SetMetricsManager(app.metrics)

	app.subscriptions = subscription.NewManager(client)
	app.subscriptions.SetMetricsManager(app.metrics)

	app.tracker = tracker.New(client, app.cache, app.fetcher, app.subscriptions)
	app.tracker.SetMetricsManager(app.metrics)

	if app.config.Sink.Enabled {
		if err := app.initializeSink(); err != nil {
			return fmt.Errorf("failed to initialize sink: %w", err)
		}
	}

	app.server = server.NewHTTPServer(&app.config.Server, app.connection, app.tracker, app.metrics)

	app.logger.Info("All components initialized successfully")
	return nil
}

// initializeSink initializes the delivered-event sink
func (app *Application) initializeSink() error {
	app.logger.Info("Initializing sink", "type", app.config.Sink.Type)

	s, err := sink.NewSink(&app.config.Sink)
	if err != nil {
		return fmt.Errorf("failed to create sink: %w", err)
	}
	if err := s.Connect(); err != nil {
		return fmt.Errorf("failed to connect to sink: %w", err)
	}

	app.sink = s
	return nil
}

// Start starts the application and registers the configured events
func (app *Application) Start() error {
	app.logger.Info("Starting EVM Event Tracker",
		"version", AppVersion,
		"environment", app.config.App.Environment)

	if err := app.server.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	for i := range app.config.Tracker.Events {
		eventCfg := &app.config.Tracker.Events[i]

		descriptor, err := app.buildDescriptor(eventCfg)
		if err != nil {
			return fmt.Errorf("failed to build descriptor for %s: %w", eventCfg.Name, err)
		}

		if err := app.tracker.TrackEvent(app.ctx, descriptor); err != nil {
			return fmt.Errorf("failed to track %s: %w", eventCfg.Name, err)
		}
	}

	app.logger.Info("EVM Event Tracker started successfully",
		"server_address", fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port),
		"node_url", app.config.Node.NodeURL,
		"tracked_events", len(app.config.Tracker.Events))

	return nil
}

// buildDescriptor turns an event declaration from configuration into a
// tracked descriptor whose callback logs and optionally persists deliveries.
func (app *Application) buildDescriptor(eventCfg *config.EventConfig) (*models.EventDescriptor, error) {
	contractABI := eventCfg.ABI
	if contractABI == "" && eventCfg.ABIFile != "" {
		data, err := os.ReadFile(eventCfg.ABIFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read ABI file %s: %w", eventCfg.ABIFile, err)
		}
		contractABI = string(data)
	}

	var params map[string]interface{}
	if len(eventCfg.Params) > 0 {
		params = make(map[string]interface{}, len(eventCfg.Params))
		for name, value := range eventCfg.Params {
			params[name] = value
		}
	}

	eventName := eventCfg.Name
	return &models.EventDescriptor{
		Name:               eventName,
		Contract:           common.HexToAddress(eventCfg.Contract),
		ABI:                contractABI,
		Params:             params,
		FromBlock:          eventCfg.FromBlock,
		BackFillBlockCount: eventCfg.BackfillBlockCount,
		Callback: func(payload interface{}) {
			logs, ok := payload.([]*models.NormalizedLog)
			if !ok {
				return
			}
			for _, record := range logs {
				app.logger.Info("Event delivered",
					"event", record.Name,
					"contract", record.Address,
					"block", record.BlockNumber,
					"tx_hash", record.TxHash,
					"values", record.Values)
			}
			if app.sink != nil {
				if err := app.sink.SaveLogs(app.ctx, logs); err != nil {
					app.logger.Error("Failed to persist delivered logs",
						"event", eventName, "error", err)
				}
			}
		},
	}, nil
}

// Stop stops the application gracefully
func (app *Application) Stop() error {
	app.logger.Info("Stopping EVM Event Tracker")

	app.cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if app.server != nil {
		if err := app.server.Stop(shutdownCtx); err != nil {
			app.logger.Error("Failed to stop HTTP server", "error", err)
		}
	}

	if app.tracker != nil {
		app.tracker.Stop()
	}

	if app.sink != nil {
		if err := app.sink.Close(); err != nil {
			app.logger.Error("Failed to close sink", "error", err)
		}
	}

	if app.connection != nil {
		if err := app.connection.Close(); err != nil {
			app.logger.Error("Failed to close connection", "error", err)
		}
	}

	app.logger.Info("EVM Event Tracker stopped successfully")
	return nil
}

// CLI Commands

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "evm-event-tracker",
	Short:   "EVM Smart Contract Event Tracker",
	Long:    `A service that tracks smart contract events on EVM chains: it backfills historical logs, subscribes to live logs, and delivers normalized event records to callbacks.`,
	Version: AppVersion,
	RunE:    runTracker,
}

// runTracker is the main command to run the event tracker
func runTracker(cmd *cobra.Command, args []string) error {
	configPath := viper.GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	if err := app.Start(); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	<-signalChan
	fmt.Println("\nReceived shutdown signal, stopping application...")

	if err := app.Stop(); err != nil {
		return fmt.Errorf("failed to stop application: %w", err)
	}

	return nil
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("EVM Event Tracker %s\n", AppVersion)
	},
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

// validateConfigCmd validates the configuration
var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := viper.GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		fmt.Printf("Configuration is valid!\n")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("Node: %s\n", cfg.Node.NodeURL)
		fmt.Printf("Sink: %s (enabled: %t)\n", cfg.Sink.Type, cfg.Sink.Enabled)
		fmt.Printf("Events: %d\n", len(cfg.Tracker.Events))

		return nil
	},
}

// testCmd represents the test command
var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test connectivity and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := viper.GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		fmt.Println("Testing EVM Event Tracker connectivity...")

		fmt.Printf("Testing node connection to %s...\n", cfg.Node.NodeURL)
		conn := connection.NewConnectionManager(&cfg.Node)
		if _, err := conn.GetClient(); err != nil {
			return fmt.Errorf("failed to connect to node: %w", err)
		}
		block, err := conn.GetLatestBlockNumber()
		if err != nil {
			return fmt.Errorf("failed to query latest block: %w", err)
		}
		fmt.Printf("✓ Node connection successful (latest block %d)\n", block)

		if cfg.Sink.Enabled {
			fmt.Printf("Testing sink connection (%s)...\n", cfg.Sink.Type)
			s, err := sink.NewSink(&cfg.Sink)
			if err != nil {
				return fmt.Errorf("failed to create sink: %w", err)
			}
			if err := s.Connect(); err != nil {
				return fmt.Errorf("failed to connect to sink: %w", err)
			}
			defer s.Close()
			fmt.Println("✓ Sink connection successful")
		}

		fmt.Println("\nAll connectivity tests passed! ✓")
		return nil
	},
}

// init initializes the CLI commands
func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug mode")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(testCmd)
	configCmd.AddCommand(validateConfigCmd)
}

// main is the entry point
func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
