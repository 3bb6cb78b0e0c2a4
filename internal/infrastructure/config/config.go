package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for kos-server.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	API      APIConfig      `yaml:"api"`
	Database DatabaseConfig `yaml:"database"`
	Search   SearchConfig   `yaml:"search"`
	BulkLoad BulkLoadConfig `yaml:"bulk_load"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`

	// ReadOnly rejects every mutating /update and /store call with 403.
	ReadOnly bool `yaml:"read_only"`

	// MaxBodyBytes caps SPARQL query and update request bodies.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
// Read and Write together bound one whole exchange.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig toggles the cross-origin middleware.
type CORSConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DatabaseConfig contains SQLite graph store settings.
type DatabaseConfig struct {
	// Path is the SQLite file. Empty means an in-memory store.
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// SearchConfig configures the text index and the federated search endpoint.
type SearchConfig struct {
	// IndexPath is the on-disk bleve index directory. Empty means in-memory.
	IndexPath string `yaml:"index_path"`

	// IndexQuery is a SELECT query returning ?iri and ?text rows to index at startup.
	IndexQuery string `yaml:"index_query"`

	// ResultQuery is the graph query run once per hit with BindVariable bound to the hit IRI.
	ResultQuery string `yaml:"result_query"`

	// BindVariable is the variable name (without '?') bound to each hit IRI.
	BindVariable string `yaml:"bind_variable"`

	// DefaultLimit is used when the request carries no limit parameter.
	DefaultLimit int `yaml:"default_limit"`

	// MaxWindow bounds limit+offset of a search request.
	MaxWindow int `yaml:"max_window"`
}

// BulkLoadConfig configures startup ingestion.
type BulkLoadConfig struct {
	// Path is a file or a directory of files. Empty disables bulk loading.
	Path string `yaml:"path"`

	// Workers is the pool size. 0 means half the CPUs, minimum one.
	Workers int `yaml:"workers"`

	// OnError is "continue" (log and keep going) or "fail" (abort startup).
	OnError string `yaml:"on_error"`

	// BatchSize is the number of quads committed per bulk transaction.
	BatchSize int `yaml:"batch_size"`
}

// Bulk loader failure policies.
const (
	OnErrorContinue = "continue"
	OnErrorFail     = "fail"
)

// MQTTConfig contains MQTT broker settings for dataset change events.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains reconnection backoff settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB telemetry settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// When optional is true a missing file is not an error and the defaults are used.
//
// Environment variables follow the pattern: KOS_SECTION_KEY
// For example: KOS_DATABASE_PATH, KOS_API_PORT
func Load(path string, optional bool) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case optional && errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		API: APIConfig{
			Host: "localhost",
			Port: 7878,
			Timeouts: APITimeoutConfig{
				Read:  60,
				Write: 60,
				Idle:  120,
			},
			MaxBodyBytes: 1 << 20,
		},
		Database: DatabaseConfig{
			WALMode:     true,
			BusyTimeout: 5,
		},
		Search: SearchConfig{
			IndexQuery:   defaultIndexQuery,
			ResultQuery:  defaultResultQuery,
			BindVariable: "iri",
			DefaultLimit: 10,
			MaxWindow:    10000,
		},
		BulkLoad: BulkLoadConfig{
			OnError:   OnErrorContinue,
			BatchSize: 10000,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "kos-server",
			},
			QoS:         1,
			TopicPrefix: "kos",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
	}
}

const defaultIndexQuery = `PREFIX rdfs: <http://www.w3.org/2000/01/rdf-schema#>
SELECT ?iri ?text WHERE { ?iri rdfs:label ?text }`

const defaultResultQuery = `CONSTRUCT WHERE { ?iri ?p ?o }`

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: KOS_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("KOS_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("KOS_API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("KOS_API_PORT: %w", err)
		}
		cfg.API.Port = port
	}
	if v := os.Getenv("KOS_API_READ_ONLY"); v != "" {
		readOnly, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("KOS_API_READ_ONLY: %w", err)
		}
		cfg.API.ReadOnly = readOnly
	}
	if v := os.Getenv("KOS_API_CORS"); v != "" {
		cors, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("KOS_API_CORS: %w", err)
		}
		cfg.API.CORS.Enabled = cors
	}

	if v := os.Getenv("KOS_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("KOS_SEARCH_INDEX_PATH"); v != "" {
		cfg.Search.IndexPath = v
	}
	if v := os.Getenv("KOS_BULK_LOAD_PATH"); v != "" {
		cfg.BulkLoad.Path = v
	}

	if v := os.Getenv("KOS_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("KOS_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("KOS_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("KOS_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.MaxBodyBytes <= 0 {
		errs = append(errs, "api.max_body_bytes must be positive")
	}
	if c.API.TLS.Enabled && (c.API.TLS.CertFile == "" || c.API.TLS.KeyFile == "") {
		errs = append(errs, "api.tls requires cert_file and key_file")
	}

	if strings.TrimSpace(c.Search.ResultQuery) == "" {
		errs = append(errs, "search.result_query is required")
	}
	if strings.TrimSpace(c.Search.BindVariable) == "" {
		errs = append(errs, "search.bind_variable is required")
	}
	if c.Search.DefaultLimit < 0 {
		errs = append(errs, "search.default_limit must not be negative")
	}
	if c.Search.MaxWindow <= 0 {
		errs = append(errs, "search.max_window must be positive")
	}

	switch c.BulkLoad.OnError {
	case OnErrorContinue, OnErrorFail:
	default:
		errs = append(errs, "bulk_load.on_error must be \"continue\" or \"fail\"")
	}
	if c.BulkLoad.Workers < 0 {
		errs = append(errs, "bulk_load.workers must not be negative")
	}
	if c.BulkLoad.BatchSize <= 0 {
		errs = append(errs, "bulk_load.batch_size must be positive")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
