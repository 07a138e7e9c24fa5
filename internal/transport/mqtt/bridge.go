// internal/transport/mqtt/bridge.go
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/tamzrod/noah-poller/internal/config"
	"github.com/tamzrod/noah-poller/internal/failure"
	"github.com/tamzrod/noah-poller/internal/fieldmap"
	"github.com/tamzrod/noah-poller/internal/transport"
)

// brokerClient is the part of paho.Client the bridge uses.
type brokerClient interface {
	Connect() paho.Token
	IsConnectionOpen() bool
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Disconnect(quiesce uint)
}

// Config is the MQTT transport config.
type Config struct {
	Broker      string
	Username    string
	Password    config.Secret
	ClientID    string
	TopicPrefix string
	QoS         byte

	// Freshness is the maximum message age accepted by FetchRaw.
	Freshness time.Duration

	// Topics lists the topic suffixes a fetch needs. When set, any of
	// them missing or stale fails the fetch with StaleDataError.
	Topics []string

	Now    func() time.Time
	Logger *slog.Logger
}

type message struct {
	payload []byte
	at      time.Time
}

// Bridge implements transport.Client by caching the latest message per
// topic from a persistent broker subscription.
type Bridge struct {
	cfg       Config
	newClient func(*paho.ClientOptions) brokerClient

	mu     sync.Mutex
	client brokerClient
	latest map[string]message
}

var _ transport.Client = (*Bridge)(nil)

func New(cfg Config) (*Bridge, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt bridge: broker required")
	}
	if cfg.TopicPrefix == "" {
		return nil, errors.New("mqtt bridge: topic prefix required")
	}
	if cfg.Freshness <= 0 {
		return nil, errors.New("mqtt bridge: freshness window must be > 0")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.TopicPrefix = strings.TrimRight(cfg.TopicPrefix, "/")

	return &Bridge{
		cfg: cfg,
		newClient: func(o *paho.ClientOptions) brokerClient {
			return paho.NewClient(o)
		},
		latest: make(map[string]message),
	}, nil
}

// TopicsFromMap returns the distinct topic suffixes a field map reads,
// skipping optional entries.
func TopicsFromMap(m fieldmap.Map) []string {
	set := map[string]bool{}
	for _, e := range m.Entries {
		if e.Optional || e.Source.Topic == "" {
			continue
		}
		set[e.Source.Topic] = true
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ---- transport.Client ----

func (b *Bridge) Connect(ctx context.Context) error {
	b.mu.Lock()
	if b.client != nil && b.client.IsConnectionOpen() {
		b.mu.Unlock()
		return nil
	}
	c := b.newClient(b.options())
	b.client = c
	b.mu.Unlock()

	if err := wait(ctx, c.Connect()); err != nil {
		b.drop(c)
		return &failure.ConnectionError{Endpoint: b.cfg.Broker, Err: err}
	}
	if err := wait(ctx, c.Subscribe(b.filter(), b.cfg.QoS, b.onMessage)); err != nil {
		b.drop(c)
		return &failure.ConnectionError{Endpoint: b.cfg.Broker, Err: fmt.Errorf("subscribe: %w", err)}
	}

	b.cfg.Logger.Info("mqtt subscribed", "broker", b.cfg.Broker, "filter", b.filter())
	return nil
}

// FetchRaw returns the cached messages that are inside the freshness window.
func (b *Bridge) FetchRaw(ctx context.Context) (transport.Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, failure.Timeout(err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client == nil || !b.client.IsConnectionOpen() {
		return nil, &failure.ConnectionError{Endpoint: b.cfg.Broker, Err: errors.New("broker connection down")}
	}

	now := b.cfg.Now()
	window := b.cfg.Freshness

	fresh := make(map[string][]byte, len(b.latest))
	var newest time.Time
	for topic, m := range b.latest {
		if m.at.After(newest) {
			newest = m.at
		}
		if now.Sub(m.at) <= window {
			fresh[topic] = m.payload
		}
	}

	if len(fresh) == 0 {
		return nil, staleSince(now, newest, window)
	}

	for _, t := range b.cfg.Topics {
		if _, ok := fresh[t]; !ok {
			return nil, staleSince(now, b.latest[t].at, window)
		}
	}

	return newPayload(now, fresh), nil
}

func (b *Bridge) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return nil
	}
	b.client.Disconnect(250)
	b.client = nil
	return nil
}

func (b *Bridge) HealthCheck(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.client != nil && b.client.IsConnectionOpen()
}

// ---- internals ----

func (b *Bridge) filter() string { return b.cfg.TopicPrefix + "/#" }

// drop discards a client whose connect or subscribe failed.
func (b *Bridge) drop(c brokerClient) {
	c.Disconnect(0)
	b.mu.Lock()
	if b.client == c {
		b.client = nil
	}
	b.mu.Unlock()
}

func (b *Bridge) options() *paho.ClientOptions {
	o := paho.NewClientOptions().
		AddBroker(b.cfg.Broker).
		SetClientID(b.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second).
		SetMaxReconnectInterval(time.Minute)

	if b.cfg.Username != "" {
		o.SetUsername(b.cfg.Username)
		o.SetPassword(b.cfg.Password.Reveal())
	}

	// Subscriptions do not survive an auto-reconnect on a clean session.
	o.SetOnConnectHandler(func(c paho.Client) {
		c.Subscribe(b.filter(), b.cfg.QoS, b.onMessage)
	})
	o.SetConnectionLostHandler(func(_ paho.Client, err error) {
		b.cfg.Logger.Warn("mqtt connection lost", "broker", b.cfg.Broker, "err", failure.Message(err))
	})

	return o
}

func (b *Bridge) onMessage(_ paho.Client, msg paho.Message) {
	topic := strings.TrimPrefix(msg.Topic(), b.cfg.TopicPrefix+"/")
	if topic == msg.Topic() {
		return
	}

	payload := append([]byte(nil), msg.Payload()...)

	b.mu.Lock()
	b.latest[topic] = message{payload: payload, at: b.cfg.Now()}
	b.mu.Unlock()
}

func staleSince(now, last time.Time, window time.Duration) error {
	var age time.Duration
	if !last.IsZero() {
		age = now.Sub(last)
	}
	return &failure.StaleDataError{Age: age, Window: window}
}

func wait(ctx context.Context, t paho.Token) error {
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
