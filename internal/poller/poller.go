// internal/poller/poller.go
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tamzrod/noah-poller/internal/decode"
	"github.com/tamzrod/noah-poller/internal/failure"
	"github.com/tamzrod/noah-poller/internal/fieldmap"
	"github.com/tamzrod/noah-poller/internal/snapshot"
	"github.com/tamzrod/noah-poller/internal/status"
	"github.com/tamzrod/noah-poller/internal/transport"
)

// Defaults.
const (
	DefaultMinInterval         = 10 * time.Second
	MaxPollTimeout             = 10 * time.Second
	DefaultMaxDelay            = 5 * time.Minute
	DefaultExponentCap         = 6
	DefaultFailureThreshold    = 3
	DefaultRateLimitMultiplier = 4
)

// ErrPaused is returned by PollOnce while polling is paused on rejected
// credentials.
var ErrPaused = errors.New("poller: paused until credentials are reconfigured")

// Config is the runtime config the poller needs.
type Config struct {
	DeviceID    string
	Interval    time.Duration
	MinInterval time.Duration
	PollTimeout time.Duration

	MaxDelay            time.Duration
	ExponentCap         int
	FailureThreshold    int
	RateLimitMultiplier int

	// Location is the device's local zone for daily counters.
	Location *time.Location
}

// Option customizes a Poller.
type Option func(*Poller)

func WithClock(c Clock) Option { return func(p *Poller) { p.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(p *Poller) { p.logger = l } }

// Poller is the acquisition coordinator of one device.
// It owns the transport, the retry state and the subscriber list.
type Poller struct {
	cfg      Config
	client   transport.Client
	fieldMap fieldmap.Map
	clock    Clock
	logger   *slog.Logger
	tracker  *status.Tracker
	limiter  *rate.Limiter

	// pollMu serializes cycles: no two polls overlap.
	pollMu    sync.Mutex
	backoff   Backoff
	guard     dayGuard
	connected bool

	stateMu sync.Mutex
	paused  bool
	latest  *snapshot.DeviceSnapshot

	subMu sync.RWMutex
	subs  map[string]Subscriber
	order []string

	refreshCh chan struct{}
	resumeCh  chan struct{}

	runMu    sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	stopErr  error
}

// New creates a poller with immutable config.
// An interval below the floor is clamped with a warning, never rejected.
func New(cfg Config, client transport.Client, fm fieldmap.Map, opts ...Option) (*Poller, error) {
	if cfg.DeviceID == "" {
		return nil, errors.New("poller: device id required")
	}
	if client == nil {
		return nil, errors.New("poller: transport required")
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("poller: interval must be > 0")
	}
	if err := fieldmap.Validate(fm); err != nil {
		return nil, err
	}

	p := &Poller{
		client:    client,
		fieldMap:  fm,
		clock:     realClock{},
		logger:    slog.Default(),
		subs:      make(map[string]Subscriber),
		refreshCh: make(chan struct{}, 1),
		resumeCh:  make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(p)
	}
	p.logger = p.logger.With("device", cfg.DeviceID)

	applyDefaults(&cfg)
	if cfg.Interval < cfg.MinInterval {
		p.logger.Warn("poll interval below minimum, clamping",
			"configured", cfg.Interval, "minimum", cfg.MinInterval)
		cfg.Interval = cfg.MinInterval
	}
	if cfg.MaxDelay < cfg.Interval {
		cfg.MaxDelay = cfg.Interval
	}

	p.cfg = cfg
	p.backoff = Backoff{
		Base:                cfg.Interval,
		Max:                 cfg.MaxDelay,
		Cap:                 cfg.ExponentCap,
		RateLimitMultiplier: cfg.RateLimitMultiplier,
	}
	p.guard = newDayGuard(cfg.Location)
	p.tracker = status.NewTracker(cfg.DeviceID)
	p.limiter = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	p.tracker.SetNextPoll(0)

	return p, nil
}

func applyDefaults(cfg *Config) {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if cfg.PollTimeout <= 0 || cfg.PollTimeout > MaxPollTimeout {
		cfg.PollTimeout = MaxPollTimeout
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.ExponentCap <= 0 {
		cfg.ExponentCap = DefaultExponentCap
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.RateLimitMultiplier <= 0 {
		cfg.RateLimitMultiplier = DefaultRateLimitMultiplier
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
}

// DeviceID returns the device this poller serves.
func (p *Poller) DeviceID() string { return p.cfg.DeviceID }

// Interval is the effective poll interval after clamping.
func (p *Poller) Interval() time.Duration { return p.cfg.Interval }

// ---- poll cycle ----

// PollOnce performs exactly one poll cycle.
// All-or-nothing: any failure aborts the cycle and no snapshot is published.
func (p *Poller) PollOnce(ctx context.Context) Result {
	p.pollMu.Lock()
	defer p.pollMu.Unlock()

	now := p.clock.Now()
	res := Result{DeviceID: p.cfg.DeviceID, At: now}

	if p.Paused() {
		res.Err = ErrPaused
		res.Kind = failure.KindAuth
		res.ConsecutiveFailures = p.backoff.Failures()
		return res
	}

	pctx, cancel := context.WithTimeout(ctx, p.cfg.PollTimeout)
	defer cancel()

	snap, err := p.acquire(pctx)
	if err != nil {
		return p.fail(res, err)
	}

	res.NextDelay = p.backoff.Success()
	res.Snapshot = &snap
	p.tracker.Success(now)
	p.tracker.SetNextPoll(res.NextDelay)

	p.stateMu.Lock()
	latest := snap.Clone()
	p.latest = &latest
	p.stateMu.Unlock()

	p.logger.Debug("poll ok",
		"soc", snap.Battery.StateOfCharge,
		"battery_w", snap.Battery.Power,
		"solar_w", snap.Solar.Power,
		"grid_w", snap.Grid.Power)

	p.publishSnapshot(snap)
	return res
}

// acquire runs health check, fetch, decode and the day guard.
func (p *Poller) acquire(ctx context.Context) (snapshot.DeviceSnapshot, error) {
	if !p.connected || !p.client.HealthCheck(ctx) {
		if p.connected {
			p.logger.Info("transport unhealthy, reconnecting")
			_ = p.client.Disconnect()
			p.connected = false
		}
		if err := p.client.Connect(ctx); err != nil {
			return snapshot.DeviceSnapshot{}, err
		}
		p.connected = true
	}

	payload, err := p.client.FetchRaw(ctx)
	if err != nil {
		return snapshot.DeviceSnapshot{}, err
	}

	snap, err := decode.Decode(payload, p.fieldMap)
	if err != nil {
		return snapshot.DeviceSnapshot{}, err
	}
	snap.DeviceID = p.cfg.DeviceID

	if err := p.guard.check(snap); err != nil {
		return snapshot.DeviceSnapshot{}, err
	}
	return snap, nil
}

func (p *Poller) fail(res Result, err error) Result {
	kind := failure.KindOf(err)
	delay := p.backoff.Failure(kind)
	n := p.backoff.Failures()
	msg := failure.Message(err)

	res.Err = err
	res.Kind = kind
	res.ConsecutiveFailures = n
	res.NextDelay = delay

	p.tracker.Failure(kind, msg, n, res.At)
	p.tracker.SetNextPoll(delay)

	p.logger.Warn("poll failed",
		"kind", kind.String(),
		"consecutive", n,
		"retry_in", delay,
		"err", msg)

	if kind == failure.KindAuth {
		p.stateMu.Lock()
		p.paused = true
		p.stateMu.Unlock()
		p.logger.Error("credentials rejected, polling paused until reconfigured")
	}

	if kind == failure.KindAuth || n >= p.cfg.FailureThreshold {
		p.publishFailure(Notification{
			DeviceID:         p.cfg.DeviceID,
			Kind:             kind,
			ConsecutiveCount: n,
			LastError:        msg,
			At:               res.At,
		})
	}

	return res
}

// ---- control ----

// Refresh asks for an immediate poll. It is honoured only when the minimum
// gap since the previous poll has elapsed and polling is not paused.
func (p *Poller) Refresh() bool {
	if p.Paused() {
		return false
	}
	if !p.limiter.AllowN(p.clock.Now(), 1) {
		p.logger.Debug("refresh rejected, minimum gap not elapsed")
		return false
	}
	select {
	case p.refreshCh <- struct{}{}:
	default:
	}
	return true
}

// Resume leaves the auth pause after credentials were reconfigured.
// It clears the transport's terminal auth state and the retry counter.
func (p *Poller) Resume() bool {
	p.stateMu.Lock()
	was := p.paused
	p.paused = false
	p.stateMu.Unlock()

	if !was {
		return false
	}

	if ar, ok := p.client.(transport.AuthResetter); ok {
		ar.ResetAuth()
	}

	p.pollMu.Lock()
	p.backoff.Success()
	p.pollMu.Unlock()

	p.tracker.Resumed()
	p.logger.Info("polling resumed")

	select {
	case p.resumeCh <- struct{}{}:
	default:
	}
	return true
}

func (p *Poller) Paused() bool {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.paused
}

// Status returns the device health.
func (p *Poller) Status() status.Snapshot {
	return p.tracker.Snapshot(p.clock.Now())
}

// Latest returns the most recent snapshot, if any.
func (p *Poller) Latest() (snapshot.DeviceSnapshot, bool) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if p.latest == nil {
		return snapshot.DeviceSnapshot{}, false
	}
	return p.latest.Clone(), true
}

// ---- subscribers ----

// Subscribe registers s and returns its id for Unsubscribe.
func (p *Poller) Subscribe(s Subscriber) string {
	id := uuid.NewString()
	p.subMu.Lock()
	p.subs[id] = s
	p.order = append(p.order, id)
	p.subMu.Unlock()
	return id
}

// Unsubscribe removes a subscriber. It reports whether id was registered.
func (p *Poller) Unsubscribe(id string) bool {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	if _, ok := p.subs[id]; !ok {
		return false
	}
	delete(p.subs, id)
	for i, o := range p.order {
		if o == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return true
}

func (p *Poller) subscribers() []Subscriber {
	p.subMu.RLock()
	defer p.subMu.RUnlock()
	out := make([]Subscriber, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.subs[id])
	}
	return out
}

// Each subscriber gets its own copy.
func (p *Poller) publishSnapshot(s snapshot.DeviceSnapshot) {
	for _, sub := range p.subscribers() {
		p.deliver(func() { sub.OnSnapshot(s.Clone()) })
	}
}

func (p *Poller) publishFailure(n Notification) {
	for _, sub := range p.subscribers() {
		p.deliver(func() { sub.OnFailure(n) })
	}
}

// deliver isolates the poll loop from a panicking subscriber.
func (p *Poller) deliver(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("subscriber panicked", "panic", r)
		}
	}()
	fn()
}
