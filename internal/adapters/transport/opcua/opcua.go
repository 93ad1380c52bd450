// Package opcua reads the four meter channels from an OPC UA server and
// surfaces them as a reconnecting telemetry transport.
package opcua

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/ghalamif/MeterFlow/internal/adapters/transport"
	"github.com/ghalamif/MeterFlow/internal/ports"
)

// Channel keys accepted in NodeConfig.Channel. They match the payload field names.
var channelKeys = []string{"kwh", "arus", "tegangan", "daya"}

var ErrAlreadyStarted = errors.New("opcua transport already started")

// Config captures the runtime details required to open an OPC UA session.
type Config struct {
	Endpoint         string        `yaml:"endpoint"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
	SecurityMode     string        `yaml:"security_mode"`
	SecurityPolicy   string        `yaml:"security_policy"`
	ApplicationName  string        `yaml:"application_name"`
	PublishInterval  time.Duration `yaml:"publish_interval"`
	SamplingInterval time.Duration `yaml:"sampling_interval"`
	Nodes            []NodeConfig  `yaml:"nodes"`

	Reconnect transport.Policy `yaml:"-"`
}

// NodeConfig binds one OPC UA node to a meter channel.
type NodeConfig struct {
	NodeID  string `yaml:"node_id"`
	Channel string `yaml:"channel"` // kwh, arus, tegangan, daya
}

func (c *Config) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "MeterFlow"
	}
	if c.PublishInterval <= 0 {
		c.PublishInterval = 250 * time.Millisecond
	}
	if c.SamplingInterval < 0 {
		c.SamplingInterval = 0
	}
	for i := range c.Nodes {
		c.Nodes[i].Channel = strings.ToLower(strings.TrimSpace(c.Nodes[i].Channel))
	}
	c.Reconnect = c.Reconnect.WithDefaults()
}

// Validate requires an endpoint and exactly one node per channel.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	seen := make(map[string]string, len(c.Nodes))
	for _, n := range c.Nodes {
		if n.NodeID == "" {
			return errors.New("node_id is required")
		}
		if !validChannel(n.Channel) {
			return fmt.Errorf("node %q: unknown channel %q", n.NodeID, n.Channel)
		}
		if prev, dup := seen[n.Channel]; dup {
			return fmt.Errorf("channel %q mapped twice (%s, %s)", n.Channel, prev, n.NodeID)
		}
		seen[n.Channel] = n.NodeID
	}
	for _, k := range channelKeys {
		if _, ok := seen[k]; !ok {
			return fmt.Errorf("channel %q has no node", k)
		}
	}
	return nil
}

func validChannel(c string) bool {
	for _, k := range channelKeys {
		if c == k {
			return true
		}
	}
	return false
}

// Transport subscribes to the configured nodes and emits one sensorData event
// per publish notification once every channel has reported at least once.
type Transport struct {
	cfg  Config
	log  *slog.Logger
	reg  transport.Registry
	loop transport.Loop
}

func New(cfg Config, log *slog.Logger) (*Transport, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Transport{
		cfg: cfg,
		log: log.With(slog.String("component", "opcua"), slog.String("endpoint", cfg.Endpoint)),
	}, nil
}

func (t *Transport) On(kind ports.EventKind, h ports.Handler) func() {
	return t.reg.On(kind, h)
}

func (t *Transport) Start(ctx context.Context) error {
	if _, err := t.buildClientOptions(); err != nil {
		return err
	}
	if !t.loop.Go(ctx, func(ctx context.Context) {
		transport.Run(ctx, &t.reg, t.cfg.Reconnect, t.log, t.dial)
	}) {
		return ErrAlreadyStarted
	}
	return nil
}

func (t *Transport) Close() error {
	t.loop.Stop()
	return nil
}

// session is one connected client with its subscription.
type session struct {
	client   *opcua.Client
	sub      *opcua.Subscription
	notify   chan *opcua.PublishNotificationData
	channels map[uint32]string
}

func (t *Transport) dial(ctx context.Context) (transport.Serve, error) {
	opts, err := t.buildClientOptions()
	if err != nil {
		return nil, err
	}
	client, err := opcua.NewClient(t.cfg.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("opcua new client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("opcua connect: %w", err)
	}

	s := &session{
		client:   client,
		notify:   make(chan *opcua.PublishNotificationData, len(t.cfg.Nodes)*4),
		channels: make(map[uint32]string, len(t.cfg.Nodes)),
	}
	s.sub, err = client.Subscribe(ctx, &opcua.SubscriptionParameters{Interval: t.cfg.PublishInterval}, s.notify)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("opcua subscribe: %w", err)
	}

	for i, node := range t.cfg.Nodes {
		nodeID, err := ua.ParseNodeID(node.NodeID)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("parse node id %q: %w", node.NodeID, err)
		}
		handle := uint32(i + 1)
		req := opcua.NewMonitoredItemCreateRequestWithDefaults(nodeID, ua.AttributeIDValue, handle)
		if t.cfg.SamplingInterval > 0 {
			req.RequestedParameters.SamplingInterval = float64(t.cfg.SamplingInterval / time.Millisecond)
		}
		res, err := s.sub.Monitor(ctx, ua.TimestampsToReturnBoth, req)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("monitor node %q: %w", node.NodeID, err)
		}
		if len(res.Results) == 0 {
			s.close()
			return nil, fmt.Errorf("monitor node %q failed: empty result", node.NodeID)
		}
		if res.Results[0].StatusCode != ua.StatusOK {
			s.close()
			return nil, fmt.Errorf("monitor node %q failed: %s", node.NodeID, res.Results[0].StatusCode)
		}
		s.channels[handle] = node.Channel
	}

	return func(ctx context.Context) string { return t.serve(ctx, s) }, nil
}

func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.sub != nil {
		_ = s.sub.Cancel(ctx)
	}
	_ = s.client.Close(ctx)
}

// serve forwards notifications until the session breaks.
func (t *Transport) serve(ctx context.Context, s *session) string {
	defer s.close()

	acc := newAccumulator()
	health := time.NewTicker(4 * t.cfg.PublishInterval)
	defer health.Stop()

	for {
		select {
		case <-ctx.Done():
			return "client closed"
		case <-health.C:
			if st := s.client.State(); st != opcua.Connected {
				return fmt.Sprintf("transport close (%s)", st)
			}
		case notif := <-s.notify:
			if notif == nil {
				continue
			}
			if notif.Error != nil {
				t.log.Warn("notification error", slog.Any("err", notif.Error))
				if errors.Is(notif.Error, ua.StatusBadSessionIDInvalid) || errors.Is(notif.Error, ua.StatusBadSecureChannelClosed) {
					return "transport error"
				}
				continue
			}
			data, ok := notif.Value.(*ua.DataChangeNotification)
			if !ok {
				continue
			}
			if payload, ok := t.process(acc, s.channels, data); ok {
				t.reg.Emit(ports.Event{Kind: ports.EventSensorData, Payload: payload})
			}
		}
	}
}

func (t *Transport) process(acc *accumulator, channels map[uint32]string, data *ua.DataChangeNotification) (json.RawMessage, bool) {
	for _, item := range data.MonitoredItems {
		ch, ok := channels[item.ClientHandle]
		if !ok || item.Value == nil {
			continue
		}
		fv, ok := variantToFloat(item.Value.Value)
		if !ok {
			t.log.Warn("skipping node value of unsupported type", slog.String("channel", ch), slog.String("type", fmt.Sprintf("%T", item.Value.Value)))
			continue
		}
		ts := item.Value.SourceTimestamp
		if ts.IsZero() {
			ts = item.Value.ServerTimestamp
		}
		acc.set(ch, fv, ts)
	}
	return acc.payload()
}

// accumulator holds the latest value per channel.
type accumulator struct {
	mu     sync.Mutex
	values map[string]float64
	latest time.Time
}

func newAccumulator() *accumulator {
	return &accumulator{values: make(map[string]float64, len(channelKeys))}
}

func (a *accumulator) set(ch string, v float64, ts time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.values[ch] = v
	if ts.After(a.latest) {
		a.latest = ts
	}
}

// payload renders the sensorData body once all channels are known.
func (a *accumulator) payload() (json.RawMessage, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.values) < len(channelKeys) {
		return nil, false
	}
	body := make(map[string]any, len(channelKeys)+1)
	for k, v := range a.values {
		body[k] = v
	}
	if !a.latest.IsZero() {
		body["timestamp"] = a.latest.UnixMilli()
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, false
	}
	return b, true
}

func (t *Transport) buildClientOptions() ([]opcua.Option, error) {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(t.cfg.SecurityMode)),
		opcua.SecurityPolicy(normalizeSecurityPolicy(t.cfg.SecurityPolicy)),
		opcua.ApplicationName(t.cfg.ApplicationName),
		opcua.AutoReconnect(false),
	}
	if t.cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(t.cfg.Username, t.cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}
	return opts, nil
}

func variantToFloat(v *ua.Variant) (float64, bool) {
	if v == nil {
		return 0, false
	}
	switch val := v.Value().(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case int8:
		return float64(val), true
	case uint8:
		return float64(val), true
	case int16:
		return float64(val), true
	case uint16:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	default:
		return 0, false
	}
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

func normalizeSecurityPolicy(policy string) string {
	if policy == "" {
		return "None"
	}
	return policy
}

var _ ports.Transport = (*Transport)(nil)
