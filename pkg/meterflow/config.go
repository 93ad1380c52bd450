package meterflow

import (
	"github.com/ghalamif/MeterFlow/internal/adapters/transport/opcua"
	"github.com/ghalamif/MeterFlow/internal/app/config"
	"github.com/ghalamif/MeterFlow/internal/ports"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// TransportConfig selects and tunes the live connection.
	TransportConfig = config.TransportConfig
	// OPCUAConfig holds connection + node details for OPC UA meters.
	OPCUAConfig = opcua.Config
	// OPCUANodeConfig binds a node to a meter channel.
	OPCUANodeConfig = opcua.NodeConfig
	BufferConfig    = config.BufferConfig
	StoreConfig     = config.StoreConfig
	ExportConfig    = config.ExportConfig
	// ArchiveConfig configures the live-to-store recorder.
	ArchiveConfig = config.ArchiveConfig
	HTTPConfig    = config.HTTPConfig
	MetricsConfig = config.MetricsConfig
	// Policy controls archive WAL/queue thresholds.
	Policy = ports.Policy
)

// LoadConfig loads YAML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// ParseConfig is LoadConfig on an in-memory document.
func ParseConfig(raw []byte) (*Config, error) {
	return config.Parse(raw)
}
