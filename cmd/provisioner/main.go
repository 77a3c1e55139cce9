// File: cmd/provisioner/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/relayhq/relay-provisioner/internal/config"
	"github.com/relayhq/relay-provisioner/internal/custodian"
	"github.com/relayhq/relay-provisioner/internal/metrics"
	"github.com/relayhq/relay-provisioner/internal/notification"
	"github.com/relayhq/relay-provisioner/internal/reconciler"
	"github.com/relayhq/relay-provisioner/internal/server"
	"github.com/relayhq/relay-provisioner/internal/storage"
	"github.com/relayhq/relay-provisioner/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// Application represents the main application
type Application struct {
	config       *config.Config
	logger       *logrus.Logger
	storage      storage.Storage
	custodian    custodian.Custodian
	notification *notification.Manager
	metrics      *metrics.Manager
	engine       *reconciler.Engine
	scheduler    *reconciler.Scheduler
	server       *server.HTTPServer
	ctx          context.Context
	cancel       context.CancelFunc
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
	app.logger.Info("Logger initialized", map[string]interface{}{
		"level":  logCfg.Level,
		"format": logCfg.Format,
		"output": logCfg.Output,
	})

	return nil
}

// initializeComponents initializes all application components
func (app *Application) initializeComponents() error {
	app.logger.Info("Initializing application components")

	if err := app.initializeStorage(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	if app.config.Server.EnableMetrics {
		app.metrics = metrics.NewManager()
	}

	app.initializeCustodian()
	app.initializeNotification()
	app.initializeReconciler()

	if err := app.initializeServer(); err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	app.logger.Info("All components initialized successfully")
	return nil
}

// initializeStorage initializes the storage layer
func (app *Application) initializeStorage() error {
	app.logger.Info("Initializing storage layer", map[string]interface{}{
		"type": app.config.Storage.Type,
	})

	var err error
	app.storage, err = storage.NewStorage(&app.config.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}

	if err := app.storage.Connect(); err != nil {
		return fmt.Errorf("failed to connect to storage: %w", err)
	}

	if err := app.storage.Migrate(); err != nil {
		return fmt.Errorf("failed to run storage migrations: %w", err)
	}

	app.logger.Info("Storage layer initialized successfully")
	return nil
}

// initializeCustodian initializes the payment custodian client
func (app *Application) initializeCustodian() {
	app.custodian = custodian.NewLNBitsClient(&app.config.Payments)

	app.logger.Info("Payment custodian initialized", map[string]interface{}{
		"active": app.config.Payments.Active(),
	})
}

// initializeNotification initializes the provisioning notifier
func (app *Application) initializeNotification() {
	app.notification = notification.NewManager(&app.config.Notify, app.metrics)

	app.logger.Info("Notification manager initialized", map[string]interface{}{
		"enabled": app.config.Notify.Enabled,
		"webhook": app.config.Notify.WebhookURL != "",
	})
}

// initializeReconciler initializes the settlement engine and its scheduler
func (app *Application) initializeReconciler() {
	opts := []reconciler.EngineOption{
		reconciler.WithNotifier(app.notification),
	}
	if app.metrics != nil {
		opts = append(opts, reconciler.WithMetrics(app.metrics))
	}

	app.engine = reconciler.NewEngine(
		app.storage,
		app.custodian,
		&app.config.Payments,
		&app.config.Reconciler,
		opts...,
	)
	app.scheduler = reconciler.NewScheduler(app.engine, app.config.Reconciler.PollInterval)

	app.logger.Info("Reconciliation engine initialized", map[string]interface{}{
		"poll_interval":     app.config.Reconciler.PollInterval.String(),
		"custodian_timeout": app.config.Reconciler.CustodianTimeout.String(),
	})
}

// initializeServer initializes the HTTP server
func (app *Application) initializeServer() error {
	app.logger.Info("Initializing HTTP server")

	var err error
	app.server, err = server.NewHTTPServer(
		&app.config.Server,
		&app.config.Auth,
		&app.config.Payments,
		app.storage,
		app.custodian,
		app.engine,
		app.metrics,
	)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	app.logger.Info("HTTP server initialized successfully")
	return nil
}

// Start starts the application
func (app *Application) Start() error {
	app.logger.Info("Starting relay provisioner", map[string]interface{}{
		"version":     AppVersion,
		"environment": app.config.App.Environment,
	})

	if err := app.server.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// The reconciler only runs when payments are configured. In free mode
	// orders never wait on settlement, so there is nothing to poll.
	if app.config.Payments.Active() {
		if err := app.scheduler.Start(app.ctx); err != nil {
			return fmt.Errorf("failed to start reconciliation scheduler: %w", err)
		}
	} else {
		app.logger.Warn("Payments disabled or unconfigured, reconciliation scheduler not started")
	}

	app.logger.Info("Relay provisioner started successfully", map[string]interface{}{
		"server_address":  fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port),
		"payments_active": app.config.Payments.Active(),
	})

	return nil
}

// Stop stops the application gracefully
func (app *Application) Stop() error {
	app.logger.Info("Stopping relay provisioner")

	app.cancel()

	// Stop components in reverse order
	if app.scheduler != nil {
		app.scheduler.Stop()
	}

	if app.notification != nil {
		app.notification.Drain()
	}

	if app.server != nil {
		if err := app.server.Stop(); err != nil {
			app.logger.Error("Failed to stop HTTP server", map[string]interface{}{"error": err})
		}
	}

	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			app.logger.Error("Failed to close storage", map[string]interface{}{"error": err})
		}
	}

	app.logger.Info("Relay provisioner stopped successfully")
	return nil
}

// CLI Commands

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "relay-provisioner",
	Short:   "Nostr relay provisioning service",
	Long:    `A provisioning service for hosted Nostr relays: signed-event authentication, Lightning invoicing, and settlement-driven relay provisioning.`,
	Version: AppVersion,
	RunE:    runProvisioner,
}

// runProvisioner is the main command to run the provisioning service
func runProvisioner(cmd *cobra.Command, args []string) error {
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
		fmt.Printf("relay-provisioner %s\n", AppVersion)
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
		fmt.Printf("Database: %s\n", cfg.Storage.Type)
		fmt.Printf("Payments active: %t\n", cfg.Payments.Active())
		fmt.Printf("Poll interval: %s\n", cfg.Reconciler.PollInterval)

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

		fmt.Println("Testing relay provisioner connectivity...")

		fmt.Printf("Testing storage connection (%s)...\n", cfg.Storage.Type)
		store, err := storage.NewStorage(&cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to create storage: %w", err)
		}
		if err := store.Connect(); err != nil {
			return fmt.Errorf("failed to connect to storage: %w", err)
		}
		defer store.Close()
		fmt.Println("✓ Storage connection successful")

		if cfg.Payments.Active() {
			fmt.Printf("Testing custodian connection to %s...\n", cfg.Payments.LNBitsURL)
			client := custodian.NewLNBitsClient(&cfg.Payments)

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Payments.RequestTimeout)
			defer cancel()

			invoice, err := client.CreateInvoice(ctx, 1, "connectivity test")
			if err != nil {
				return fmt.Errorf("failed to create test invoice: %w", err)
			}
			fmt.Printf("✓ Custodian connection successful (invoice %s)\n", invoice.PaymentReference)
		} else {
			fmt.Println("Payments disabled, skipping custodian test")
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
