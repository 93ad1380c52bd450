package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ghalamif/MeterFlow/internal/adapters/transport"
	"github.com/ghalamif/MeterFlow/internal/adapters/transport/opcua"
	"github.com/ghalamif/MeterFlow/internal/logging"
	"github.com/ghalamif/MeterFlow/internal/ports"
)

const (
	TransportWebSocket = "websocket"
	TransportOPCUA     = "opcua"
)

type Config struct {
	Transport TransportConfig `yaml:"transport"`
	Buffer    BufferConfig    `yaml:"buffer"`
	Store     StoreConfig     `yaml:"store"`
	Export    ExportConfig    `yaml:"export"`
	Archive   ArchiveConfig   `yaml:"archive"`
	HTTP      HTTPConfig      `yaml:"http"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       logging.Config  `yaml:"log"`
}

type TransportConfig struct {
	Kind              string        `yaml:"kind"`
	URL               string        `yaml:"url"`
	Reconnection      *bool         `yaml:"reconnection"`
	ReconnectAttempts int           `yaml:"reconnect_attempts"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	OPCUA             opcua.Config  `yaml:"opcua"`
}

// Policy returns the reconnect policy for the transport.
func (t TransportConfig) Policy() transport.Policy {
	return transport.Policy{
		Reconnection: t.Reconnection == nil || *t.Reconnection,
		Attempts:     t.ReconnectAttempts,
		Delay:        t.ReconnectDelay,
	}
}

type BufferConfig struct {
	Capacity    int    `yaml:"capacity"`
	LabelLayout string `yaml:"label_layout"`
	Timezone    string `yaml:"timezone"`
}

type StoreConfig struct {
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
	Table   string `yaml:"table"`
	Migrate bool   `yaml:"migrate"`
}

type ExportConfig struct {
	DownloadLimit int    `yaml:"download_limit"`
	OutputDir     string `yaml:"output_dir"`
	Timezone      string `yaml:"timezone"`
	TimeLayout    string `yaml:"time_layout"`
	Title         string `yaml:"title"`
}

type ArchiveConfig struct {
	Enabled         bool          `yaml:"enabled"`
	WALDir          string        `yaml:"wal_dir"`
	CompactInterval time.Duration `yaml:"compact_interval"`
	Policy          ports.Policy  `yaml:"policy"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads, schema-checks, defaults and validates the config at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse is Load on an in-memory document.
func Parse(raw []byte) (*Config, error) {
	if err := ValidateSchema(raw); err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Transport.Kind == "" {
		c.Transport.Kind = TransportWebSocket
	}
	if c.Transport.ReconnectAttempts == 0 {
		c.Transport.ReconnectAttempts = transport.DefaultReconnectAttempts
	}
	if c.Transport.ReconnectDelay == 0 {
		c.Transport.ReconnectDelay = transport.DefaultReconnectDelay
	}
	if c.Transport.DialTimeout == 0 {
		c.Transport.DialTimeout = 10 * time.Second
	}
	if c.Transport.Kind == TransportOPCUA {
		c.Transport.OPCUA.Reconnect = c.Transport.Policy()
		c.Transport.OPCUA.ApplyDefaults()
	}

	if c.Buffer.Capacity == 0 {
		c.Buffer.Capacity = 20
	}
	if c.Buffer.LabelLayout == "" {
		c.Buffer.LabelLayout = "15:04:05"
	}
	if c.Buffer.Timezone == "" {
		c.Buffer.Timezone = "Local"
	}

	if c.Store.Driver == "" {
		c.Store.Driver = "postgres"
	}
	if c.Store.Table == "" {
		c.Store.Table = "sensor_data"
	}

	if c.Export.DownloadLimit == 0 {
		c.Export.DownloadLimit = 1000
	}
	if c.Export.OutputDir == "" {
		c.Export.OutputDir = "./exports"
	}
	if c.Export.Timezone == "" {
		c.Export.Timezone = "Local"
	}
	if c.Export.TimeLayout == "" {
		c.Export.TimeLayout = "02/01/2006 15:04:05"
	}
	if c.Export.Title == "" {
		c.Export.Title = "Data Sensor"
	}

	if c.Archive.WALDir == "" {
		c.Archive.WALDir = "./data/wal"
	}
	if c.Archive.CompactInterval == 0 {
		c.Archive.CompactInterval = time.Minute
	}
	if c.Archive.Policy.MaxWALSizeBytes == 0 {
		c.Archive.Policy.MaxWALSizeBytes = 1 << 30
	}
	if c.Archive.Policy.MaxQueueLen == 0 {
		c.Archive.Policy.MaxQueueLen = 10_000
	}
	if c.Archive.Policy.MaxBatchSize == 0 {
		c.Archive.Policy.MaxBatchSize = 500
	}
	if c.Archive.Policy.IdleSleep == 0 {
		c.Archive.Policy.IdleSleep = 50 * time.Millisecond
	}
	if c.Archive.Policy.OnQueueFull == "" {
		c.Archive.Policy.OnQueueFull = "drop"
	}
	if c.Archive.Policy.OnWALFull == "" {
		c.Archive.Policy.OnWALFull = "drop"
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
}

func (c *Config) validate() error {
	switch c.Transport.Kind {
	case TransportWebSocket:
		if c.Transport.URL == "" {
			return errors.New("transport.url is required for the websocket transport")
		}
	case TransportOPCUA:
		if err := c.Transport.OPCUA.Validate(); err != nil {
			return fmt.Errorf("transport.opcua: %w", err)
		}
	default:
		return fmt.Errorf("unknown transport.kind %q", c.Transport.Kind)
	}
	if c.Store.DSN == "" {
		return errors.New("store.dsn is required")
	}
	if _, err := c.BufferLocation(); err != nil {
		return fmt.Errorf("buffer.timezone: %w", err)
	}
	if _, err := c.ExportLocation(); err != nil {
		return fmt.Errorf("export.timezone: %w", err)
	}
	if c.Archive.Enabled && c.Archive.WALDir == "" {
		return errors.New("archive.wal_dir is required when the archive is enabled")
	}
	return nil
}

// BufferLocation is the zone live labels are rendered in.
func (c *Config) BufferLocation() (*time.Location, error) {
	return loadLocation(c.Buffer.Timezone)
}

// ExportLocation is the zone PDF timestamps are rendered in.
func (c *Config) ExportLocation() (*time.Location, error) {
	return loadLocation(c.Export.Timezone)
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}
