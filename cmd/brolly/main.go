// Brolly Core - Umbrella Share Station Backend
//
// This is the main entry point for the Brolly Core service. Brolly Core
// runs the rental lease protocol for a fleet of umbrella docks:
//   - One-time QR nonce redemption and slot reservation
//   - Session key issue, BLE unlock authorization, and return settlement
//   - Durable expiry deadlines that survive process restarts
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/brollyhq/brolly-core/migrations"

	"github.com/brollyhq/brolly-core/internal/api"
	"github.com/brollyhq/brolly-core/internal/audit"
	"github.com/brollyhq/brolly-core/internal/auth"
	"github.com/brollyhq/brolly-core/internal/infrastructure/config"
	"github.com/brollyhq/brolly-core/internal/infrastructure/database"
	"github.com/brollyhq/brolly-core/internal/infrastructure/influxdb"
	"github.com/brollyhq/brolly-core/internal/infrastructure/logging"
	"github.com/brollyhq/brolly-core/internal/infrastructure/mqtt"
	"github.com/brollyhq/brolly-core/internal/rental"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Brolly Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Repositories
	slots := rental.NewSlotRepository(db.DB)
	sessions := rental.NewSessionRepository(db.DB)
	nonces := rental.NewNonceLedger(db.DB)
	users := auth.NewUserRepository(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)

	// Lease manager
	manager, err := rental.NewManager(rental.Deps{
		Slots:    slots,
		Sessions: sessions,
		Nonces:   nonces,
		Logger:   log,
	})
	if err != nil {
		return fmt.Errorf("creating lease manager: %w", err)
	}
	defer manager.Stop()

	// Audit trail records every lease transition
	manager.AddListener(audit.NewSessionRecorder(auditRepo, log))

	// Connect to MQTT broker (optional). Dock controllers subscribe to
	// lease events published here.
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		manager.AddListener(mqtt.NewEventPublisher(mqttClient))
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional) for rental telemetry
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		manager.AddListener(influxdb.NewTelemetry(influxClient))
	} else {
		log.Info("InfluxDB disabled")
	}

	// Re-arm expiry deadlines for sessions that were live when the
	// previous process stopped, then start the sweep loop.
	if startErr := manager.Start(ctx); startErr != nil {
		return fmt.Errorf("starting lease manager: %w", startErr)
	}
	log.Info("lease manager started")

	// HTTP API
	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Manager:  manager,
		Slots:    slots,
		Users:    users,
		Audit:    auditRepo,
		DB:       db,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started",
		"host", cfg.API.Host,
		"port", cfg.API.Port,
		"tls", cfg.API.TLS.Enabled,
	)

	// The WebSocket hub streams lease transitions to connected dashboards.
	manager.AddListener(server.Hub())

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. API server
	// 2. InfluxDB (if enabled)
	// 3. MQTT (if enabled)
	// 4. Lease manager timers
	// 5. Database

	log.Info("Brolly Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses BROLLY_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("BROLLY_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// mqttClient and influxClient may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
