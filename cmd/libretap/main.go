// LibreTap Engine - request/response correlation for NFC readers over MQTT.
//
// This is the main entry point for the LibreTap session engine. It connects
// to the MQTT broker, correlates reader events with the operations it
// dispatches, journals every outcome, and serves the command and
// monitoring API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/LibreTap/mqtt-protocol/internal/api"
	"github.com/LibreTap/mqtt-protocol/internal/credentials"
	"github.com/LibreTap/mqtt-protocol/internal/device"
	"github.com/LibreTap/mqtt-protocol/internal/engine"
	"github.com/LibreTap/mqtt-protocol/internal/infrastructure/config"
	"github.com/LibreTap/mqtt-protocol/internal/infrastructure/database"
	"github.com/LibreTap/mqtt-protocol/internal/infrastructure/influxdb"
	"github.com/LibreTap/mqtt-protocol/internal/infrastructure/logging"
	"github.com/LibreTap/mqtt-protocol/internal/infrastructure/mqtt"
	"github.com/LibreTap/mqtt-protocol/internal/journal"
	"github.com/LibreTap/mqtt-protocol/internal/metrics"
	"github.com/LibreTap/mqtt-protocol/internal/session"
	"github.com/LibreTap/mqtt-protocol/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// defaultConfigPath is used when LIBRETAP_CONFIG is unset.
	defaultConfigPath = "configs/config.yaml"

	// journalQueueSize bounds outcomes and diagnostics waiting for SQLite.
	journalQueueSize = 1024

	// retentionInterval is how often old journal rows are pruned.
	retentionInterval = time.Hour
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting LibreTap engine",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Outcome journal
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

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	repo := journal.NewSQLiteRepository(db.DB)
	writer := journal.NewWriter(repo, journalQueueSize)
	writer.SetLogger(log)

	provider, err := loadCredentials(cfg, log)
	if err != nil {
		return err
	}

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
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

	// Connect to InfluxDB (optional)
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
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Session engine
	registry := session.NewRegistry(session.WithRetention(cfg.GetClosedRetention()))
	mqttClient.SetOpenSessions(registry.Len)
	tracker := device.NewTracker()
	tracker.SetLogger(log)

	var creds engine.CredentialProvider
	if provider != nil {
		creds = provider
	}
	eng := engine.New(mqttClient, registry, tracker, engine.OptionsFromConfig(cfg, creds))
	eng.SetLogger(log)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	wireObservers(eng, metrics.New(promRegistry, registry, tracker), writer, influxClient)

	if startErr := eng.Start(ctx); startErr != nil {
		return fmt.Errorf("starting engine: %w", startErr)
	}
	defer eng.Stop()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	// HTTP API (optional)
	if cfg.API.Enabled {
		health := map[string]api.HealthChecker{
			"database": db,
			"mqtt":     mqttClient,
		}
		if influxClient != nil {
			health["influxdb"] = influxClient
		}
		server, apiErr := api.New(api.Deps{
			Config:  cfg.API,
			Logger:  log,
			Engine:  eng,
			Journal: repo,
			Creds:   creds,
			Metrics: promRegistry,
			Health:  health,
			Version: version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("HTTP API disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.RunTimeouts(gctx) })
	g.Go(func() error { return writer.Run(gctx) })
	g.Go(func() error {
		return journal.RunRetention(gctx, repo, cfg.GetJournalRetention(), retentionInterval, log)
	})
	if provider != nil {
		g.Go(func() error { return reloadOnHangup(gctx, provider, log) })
	}

	if err := g.Wait(); err != nil {
		return err
	}

	// Deferred Close() calls run in reverse order:
	// API server, engine, InfluxDB (if enabled), MQTT, database.
	log.Info("shutdown signal received, cleaning up",
		"open_sessions", registry.Len(),
		"journal_dropped", writer.Dropped(),
	)
	return nil
}

// getConfigPath returns the configuration file path.
// Uses LIBRETAP_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("LIBRETAP_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadCredentials reads the tag key file. A missing file is only an error
// when auto-verify needs it.
func loadCredentials(cfg *config.Config, log *logging.Logger) (*credentials.FileProvider, error) {
	if cfg.Credentials.File == "" {
		if cfg.Engine.AutoVerify {
			return nil, fmt.Errorf("engine.auto_verify requires credentials.file")
		}
		return nil, nil
	}

	provider, err := credentials.Load(cfg.Credentials.File)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !cfg.Engine.AutoVerify {
			log.Warn("credentials file not found, manual verify needs explicit keys",
				"path", cfg.Credentials.File,
			)
			return nil, nil
		}
		return nil, fmt.Errorf("loading credentials: %w", err)
	}

	log.Info("credentials loaded", "path", cfg.Credentials.File, "entries", provider.Len())
	return provider, nil
}

// reloadOnHangup re-reads the credentials file on SIGHUP until ctx is done.
// A failed reload keeps the previous keys.
func reloadOnHangup(ctx context.Context, provider *credentials.FileProvider, log *logging.Logger) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			if err := provider.Reload(); err != nil {
				log.Error("credentials reload failed", "error", err)
				continue
			}
			log.Info("credentials reloaded", "entries", provider.Len())
		}
	}
}

// wireObservers attaches metrics, the journal and, when enabled, InfluxDB to
// the engine's notifications.
func wireObservers(eng *engine.Engine, collector *metrics.Collector, writer *journal.Writer, influxClient *influxdb.Client) {
	eng.AddSessionObserver(collector)
	eng.AddOutcomeObserver(collector)
	eng.AddDeviceObserver(collector)
	eng.AddDiagnosticObserver(collector)

	eng.AddOutcomeObserver(writer)
	eng.AddDiagnosticObserver(writer)

	if influxClient != nil {
		series := &influxObserver{client: influxClient}
		eng.AddOutcomeObserver(series)
		eng.AddDeviceObserver(series)
		eng.AddDiagnosticObserver(series)
	}
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
