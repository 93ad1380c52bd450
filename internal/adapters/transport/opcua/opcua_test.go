package opcua

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gopcua/opcua/ua"
)

func meterNodes() []NodeConfig {
	return []NodeConfig{
		{NodeID: "ns=2;s=Meter.KWH", Channel: "kwh"},
		{NodeID: "ns=2;s=Meter.Current", Channel: "ARUS"},
		{NodeID: "ns=2;s=Meter.Voltage", Channel: "tegangan"},
		{NodeID: "ns=2;s=Meter.Power", Channel: "daya"},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "ok"},
		{name: "no endpoint", mutate: func(c *Config) { c.Endpoint = "" }, wantErr: "endpoint"},
		{name: "unknown channel", mutate: func(c *Config) { c.Nodes[0].Channel = "freq" }, wantErr: "unknown channel"},
		{name: "missing channel", mutate: func(c *Config) { c.Nodes = c.Nodes[:3] }, wantErr: `"daya" has no node`},
		{name: "duplicate", mutate: func(c *Config) { c.Nodes[3].Channel = "kwh" }, wantErr: "mapped twice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Endpoint: "opc.tcp://meter:4840", Nodes: meterNodes()}
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			_, err := New(cfg, nil)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{Endpoint: "opc.tcp://meter:4840", Nodes: meterNodes()}
	cfg.ApplyDefaults()
	if cfg.PublishInterval != 250*time.Millisecond || cfg.SecurityMode != "None" || cfg.ApplicationName != "MeterFlow" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Nodes[1].Channel != "arus" {
		t.Fatalf("channel not normalized: %q", cfg.Nodes[1].Channel)
	}
	if cfg.Reconnect.Attempts != 5 || cfg.Reconnect.Delay != time.Second {
		t.Fatalf("unexpected reconnect defaults %+v", cfg.Reconnect)
	}
}

func item(handle uint32, v any, ts time.Time) *ua.MonitoredItemNotification {
	return &ua.MonitoredItemNotification{
		ClientHandle: handle,
		Value:        &ua.DataValue{Value: ua.MustVariant(v), SourceTimestamp: ts},
	}
}

func TestProcessEmitsOnceAllChannelsKnown(t *testing.T) {
	tr, err := New(Config{Endpoint: "opc.tcp://meter:4840", Nodes: meterNodes()}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	channels := map[uint32]string{1: "kwh", 2: "arus", 3: "tegangan", 4: "daya"}
	acc := newAccumulator()
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	_, ok := tr.process(acc, channels, &ua.DataChangeNotification{MonitoredItems: []*ua.MonitoredItemNotification{
		item(1, float64(1.5), ts), item(2, float32(2), ts),
	}})
	if ok {
		t.Fatalf("payload emitted before all channels reported")
	}

	payload, ok := tr.process(acc, channels, &ua.DataChangeNotification{MonitoredItems: []*ua.MonitoredItemNotification{
		item(3, int32(221), ts.Add(time.Second)), item(4, uint16(460), ts), item(9, 1.0, ts),
	}})
	if !ok {
		t.Fatalf("expected payload")
	}

	var body map[string]float64
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("payload json: %v", err)
	}
	if body["kwh"] != 1.5 || body["arus"] != 2 || body["tegangan"] != 221 || body["daya"] != 460 {
		t.Fatalf("unexpected payload %s", payload)
	}
	if int64(body["timestamp"]) != ts.Add(time.Second).UnixMilli() {
		t.Fatalf("expected newest source timestamp, got %v", body["timestamp"])
	}
}

func TestVariantToFloat(t *testing.T) {
	if _, ok := variantToFloat(nil); ok {
		t.Fatalf("nil variant should not convert")
	}
	if _, ok := variantToFloat(ua.MustVariant("text")); ok {
		t.Fatalf("string variant should not convert")
	}
	if v, ok := variantToFloat(ua.MustVariant(int64(42))); !ok || v != 42 {
		t.Fatalf("int64 variant = %v %v", v, ok)
	}
}

func TestNormalizeSecurityMode(t *testing.T) {
	for in, want := range map[string]string{"sign": "Sign", "Sign+Encrypt": "SignAndEncrypt", "": "None"} {
		if got := normalizeSecurityMode(in); got != want {
			t.Fatalf("%q -> %q, want %q", in, got, want)
		}
	}
}
