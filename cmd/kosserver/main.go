// kos-server - SPARQL endpoint with federated text search
//
// This is the main entry point for kos-server. It serves one RDF dataset
// over the SPARQL 1.1 Protocol and Graph Store Protocol, and a /search
// endpoint combining a full-text index with a per-hit graph query.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/kos-kit/kos-server/migrations"

	"github.com/kos-kit/kos-server/internal/api"
	"github.com/kos-kit/kos-server/internal/bulkload"
	"github.com/kos-kit/kos-server/internal/graphstore"
	"github.com/kos-kit/kos-server/internal/infrastructure/config"
	"github.com/kos-kit/kos-server/internal/infrastructure/database"
	"github.com/kos-kit/kos-server/internal/infrastructure/influxdb"
	"github.com/kos-kit/kos-server/internal/infrastructure/logging"
	"github.com/kos-kit/kos-server/internal/infrastructure/mqtt"
	"github.com/kos-kit/kos-server/internal/search"
	"github.com/kos-kit/kos-server/internal/textindex"
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
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability. It
// returns nil on a clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting kos-server",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath, explicit := getConfigPath()
	cfg, err := config.Load(configPath, !explicit)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path, "in_memory", db.InMemory())

	store := graphstore.New(db)
	store.SetLogger(log)
	metrics := api.NewMetrics(version)

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
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	// Connect to the MQTT broker (optional)
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
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT connected")
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"topics", mqttClient.Topics().AllChanges(),
		)
	}

	loaded, err := bulkLoad(ctx, cfg, store, metrics, influxClient, log)
	if err != nil {
		return err
	}

	index, err := textindex.Open(cfg.Search.IndexPath)
	if err != nil {
		return fmt.Errorf("opening text index: %w", err)
	}
	defer func() {
		if closeErr := index.Close(); closeErr != nil {
			log.Error("error closing text index", "error", closeErr)
		}
	}()
	if err := buildIndex(ctx, cfg, store, index, loaded, log); err != nil {
		return err
	}
	federator, err := search.New(index, store, cfg.Search)
	if err != nil {
		return fmt.Errorf("configuring search: %w", err)
	}

	// Change notifications start once startup ingestion is over.
	store.SetOnChange(func(c graphstore.Change) {
		metrics.ObserveChange(string(c.Kind))
		if influxClient != nil {
			influxClient.WriteChange(string(c.Kind), c.Quads)
		}
		if mqttClient != nil {
			mqttClient.PublishChange(mqtt.ChangeEvent{Kind: string(c.Kind), Graph: c.Graph, Quads: c.Quads})
		}
	})

	deps := api.Deps{
		Config:   cfg.API,
		Search:   cfg.Search,
		Logger:   log,
		Store:    store,
		Searcher: federator,
		Metrics:  metrics,
		Version:  version,
	}
	if influxClient != nil {
		deps.Telemetry = influxClient
	}
	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// bulkLoad ingests cfg.BulkLoad.Path when set and reports whether any
// quads were written.
func bulkLoad(ctx context.Context, cfg *config.Config, store *graphstore.Store, metrics *api.Metrics, influxClient *influxdb.Client, log *logging.Logger) (bool, error) {
	if cfg.BulkLoad.Path == "" {
		return false, nil
	}

	loader := bulkload.New(store, cfg.BulkLoad)
	loader.SetLogger(log)
	loader.SetOnResult(func(r bulkload.Result) {
		metrics.ObserveBulkLoad(r.Quads, r.Err != nil)
		if influxClient != nil {
			influxClient.WriteBulkLoad(r.Path, r.Quads, r.Duration, r.Err != nil)
		}
	})

	summary, err := loader.Run(ctx, cfg.BulkLoad.Path)
	if err != nil {
		return false, fmt.Errorf("bulk loading %s: %w", cfg.BulkLoad.Path, err)
	}
	return summary.Quads > 0, nil
}

// buildIndex fills the text index from the store when it is empty or when
// the bulk load changed the dataset.
func buildIndex(ctx context.Context, cfg *config.Config, store *graphstore.Store, index *textindex.Index, loaded bool, log *logging.Logger) error {
	docs, err := index.DocCount()
	if err != nil {
		return fmt.Errorf("reading text index: %w", err)
	}
	if docs > 0 && !loaded {
		log.Info("text index ready", "documents", docs)
		return nil
	}

	n, err := search.BuildIndex(ctx, store, index, cfg.Search.IndexQuery)
	if err != nil {
		return fmt.Errorf("building text index: %w", err)
	}
	log.Info("text index built", "rows", n)
	return nil
}

// getConfigPath returns the configuration file path and whether it was
// set explicitly through KOS_CONFIG.
func getConfigPath() (string, bool) {
	if path := os.Getenv("KOS_CONFIG"); path != "" {
		return path, true
	}
	return defaultConfigPath, false
}

// healthCheck verifies all infrastructure connections are healthy. The
// optional clients may be nil.
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
