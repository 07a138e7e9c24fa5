// internal/transport/modbus/link.go
package modbus

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	gmodbus "github.com/goburrow/modbus"
	probing "github.com/prometheus-community/pro-bing"

	"github.com/tamzrod/noah-poller/internal/failure"
	"github.com/tamzrod/noah-poller/internal/fieldmap"
	"github.com/tamzrod/noah-poller/internal/transport"
)

// Config is the Modbus transport config.
type Config struct {
	Dial DialConfig

	// Blocks are the reads performed per fetch, usually
	// fieldmap.RegisterBlocks of the device's map.
	Blocks []fieldmap.Block

	// Ping adds an ICMP/UDP reachability check of the TCP host to HealthCheck.
	Ping bool

	Now    func() time.Time
	Logger *slog.Logger
}

// Link implements transport.Client over Modbus TCP or RTU.
// The reader is reused while healthy. On transport death it is discarded
// and the dialer is used on a future fetch.
type Link struct {
	cfg    Config
	dial   func() (Reader, error)
	pinger func(host string, timeout time.Duration) bool

	mu     sync.Mutex
	reader Reader
}

var _ transport.Client = (*Link)(nil)

func New(cfg Config) (*Link, error) {
	if len(cfg.Blocks) == 0 {
		return nil, errors.New("modbus link: at least one read block required")
	}
	for _, b := range cfg.Blocks {
		if b.Quantity == 0 || b.Quantity > fieldmap.MaxBlockSize {
			return nil, errors.New("modbus link: block quantity must be 1..125")
		}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	// dialer: ONE attempt per call
	dc := cfg.Dial
	return &Link{
		cfg:    cfg,
		dial:   func() (Reader, error) { return Dial(dc) },
		pinger: ping,
	}, nil
}

// ---- transport.Client ----

func (l *Link) Connect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.readerLocked()
	return err
}

// FetchRaw performs every block read. All-or-nothing: any failure aborts.
func (l *Link) FetchRaw(ctx context.Context) (transport.Payload, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, err := l.readerLocked()
	if err != nil {
		return nil, err
	}

	blocks := make([]blockData, 0, len(l.cfg.Blocks))

	for _, b := range l.cfg.Blocks {
		if err := ctx.Err(); err != nil {
			return nil, failure.Timeout(err)
		}

		var regs []uint16
		switch b.Function {
		case fieldmap.FunctionHolding:
			regs, err = r.ReadHoldingRegisters(b.Address, b.Quantity)
		case fieldmap.FunctionInput:
			regs, err = r.ReadInputRegisters(b.Address, b.Quantity)
		default:
			return nil, failure.Protocol(errors.New("modbus link: unsupported function " + string(b.Function)))
		}
		if err != nil {
			return nil, l.failLocked(err)
		}

		blocks = append(blocks, blockData{Block: b, Words: regs})
	}

	// Commit only if all reads succeeded
	return &payload{at: l.cfg.Now(), blocks: blocks}, nil
}

func (l *Link) Disconnect() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

// HealthCheck reports whether a reader is open and, when enabled, whether
// the TCP host answers a ping.
func (l *Link) HealthCheck(ctx context.Context) bool {
	l.mu.Lock()
	ok := l.reader != nil
	l.mu.Unlock()
	if !ok {
		return false
	}

	if !l.cfg.Ping || l.cfg.Dial.Mode != ModeTCP {
		return true
	}

	host, _, err := net.SplitHostPort(l.cfg.Dial.Endpoint)
	if err != nil {
		host = l.cfg.Dial.Endpoint
	}
	timeout := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < timeout {
		timeout = time.Until(dl)
	}
	return l.pinger(host, timeout)
}

// ---- internals ----

func (l *Link) readerLocked() (Reader, error) {
	if l.reader != nil {
		return l.reader, nil
	}
	r, err := l.dial()
	if err != nil {
		return nil, &failure.ConnectionError{Endpoint: l.endpoint(), Err: err}
	}
	l.reader = r
	l.cfg.Logger.Debug("modbus connected", "endpoint", l.endpoint())
	return r, nil
}

func (l *Link) closeLocked() error {
	if l.reader == nil {
		return nil
	}
	err := l.reader.Close()
	l.reader = nil
	return err
}

// failLocked classifies a read error. Anything but a Modbus exception
// means the transport is in an unknown state, so the reader is discarded.
func (l *Link) failLocked(err error) error {
	var me *gmodbus.ModbusError
	if errors.As(err, &me) {
		return failure.Protocol(err)
	}

	_ = l.closeLocked()

	if isTimeoutOrCRC(err) {
		return failure.Timeout(err)
	}
	return &failure.ConnectionError{Endpoint: l.endpoint(), Err: err}
}

func (l *Link) endpoint() string {
	if l.cfg.Dial.Mode == ModeRTU {
		return l.cfg.Dial.SerialDevice
	}
	return l.cfg.Dial.Endpoint
}

func isTimeoutOrCRC(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "crc") ||
		strings.Contains(msg, "short read")
}

func ping(host string, timeout time.Duration) bool {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return false
	}
	pinger.Count = 1
	pinger.Timeout = timeout
	pinger.SetPrivileged(false) // UDP-based, no root needed

	if err := pinger.Run(); err != nil {
		return false
	}
	return pinger.Statistics().PacketsRecv > 0
}
