// internal/transport/cloud/client.go
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tamzrod/noah-poller/internal/config"
	"github.com/tamzrod/noah-poller/internal/failure"
	"github.com/tamzrod/noah-poller/internal/transport"
)

const (
	statusPath = "/noahDeviceApi/noah/getSystemStatus"
	userAgent  = "noahpoller/1.0"
	maxBody    = 1 << 20
)

// errSessionRejected marks a response that means the vendor no longer
// accepts the session: 401, HTML login page, or a "not logged in" envelope.
var errSessionRejected = errors.New("session rejected by server")

// httpStatusError is a non-2xx answer that warrants trying another server.
type httpStatusError struct {
	Code int
}

func (e *httpStatusError) Error() string { return fmt.Sprintf("http %d", e.Code) }

// Config is the cloud transport config.
type Config struct {
	Servers    []string
	Username   string
	Password   config.Secret
	DeviceSN   string
	SessionTTL time.Duration
	Timeout    time.Duration
	Now        func() time.Time
	Logger     *slog.Logger
}

// Client implements transport.Client against the vendor HTTP API.
type Client struct {
	deviceSN string
	sessions *SessionManager
	now      func() time.Time
	logger   *slog.Logger

	// degraded is set by a failed fetch and cleared by a successful one.
	degraded atomic.Bool
}

var (
	_ transport.Client       = (*Client)(nil)
	_ transport.AuthResetter = (*Client)(nil)
)

func New(cfg Config) (*Client, error) {
	if cfg.DeviceSN == "" {
		return nil, errors.New("cloud client: device serial number required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	sm, err := NewSessionManager(SessionConfig{
		Servers:  cfg.Servers,
		Username: cfg.Username,
		Password: cfg.Password,
		TTL:      cfg.SessionTTL,
		Timeout:  cfg.Timeout,
		Now:      cfg.Now,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		deviceSN: cfg.DeviceSN,
		sessions: sm,
		now:      cfg.Now,
		logger:   cfg.Logger,
	}, nil
}

// Sessions exposes the session manager for status reporting.
func (c *Client) Sessions() *SessionManager { return c.sessions }

// ---- transport.Client ----

// Connect logs in, walking the server list while servers are unreachable
// or answer with a server-side error.
func (c *Client) Connect(ctx context.Context) error {
	var lastErr error

	for i := 0; i < c.sessions.Servers(); i++ {
		_, err := c.sessions.Ensure(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !shouldFailover(err) || ctx.Err() != nil {
			return err
		}
		c.failover(err)
	}

	return lastErr
}

// FetchRaw fetches the device status object.
// Server-side and connection failures fail over through the server list.
func (c *Client) FetchRaw(ctx context.Context) (transport.Payload, error) {
	var lastErr error

	for i := 0; i < c.sessions.Servers(); i++ {
		p, err := c.fetchWithReauth(ctx)
		if err == nil {
			c.degraded.Store(false)
			return p, nil
		}
		lastErr = err

		if !shouldFailover(err) || ctx.Err() != nil {
			c.degraded.Store(true)
			return nil, err
		}
		c.failover(err)
	}

	c.degraded.Store(true)
	return nil, lastErr
}

func (c *Client) failover(err error) {
	if c.sessions.Servers() < 2 {
		return
	}
	next := c.sessions.Failover()
	c.logger.Warn("cloud server failover", "next", next, "err", failure.Message(err))
}

func (c *Client) Disconnect() error {
	c.sessions.Invalidate()
	c.sessions.HTTPClient().CloseIdleConnections()
	return nil
}

// HealthCheck checks the active server without fetching data.
// While the session is fresh and the last fetch succeeded no request is
// made; the vendor quota is shared with the data calls.
func (c *Client) HealthCheck(ctx context.Context) bool {
	if c.sessions.State() == StateFailed {
		return true // nothing a reconnect could fix
	}
	if !c.degraded.Load() && c.sessions.Fresh() {
		return true
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.sessions.Endpoint(), nil)
	if err != nil {
		return false
	}
	resp, err := c.sessions.HTTPClient().Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}

func (c *Client) ResetAuth() { c.sessions.Reset() }

// ---- fetch ----

// fetchWithReauth performs one fetch, re-authenticating at most once.
func (c *Client) fetchWithReauth(ctx context.Context) (transport.Payload, error) {
	sess, err := c.sessions.Ensure(ctx)
	if err != nil {
		return nil, err
	}

	p, err := c.fetchStatus(ctx, sess)
	if !errors.Is(err, errSessionRejected) {
		return p, err
	}

	c.logger.Info("cloud session rejected, logging in again")
	c.sessions.Invalidate()

	sess, err = c.sessions.Ensure(ctx)
	if err != nil {
		return nil, err
	}

	p, err = c.fetchStatus(ctx, sess)
	if errors.Is(err, errSessionRejected) {
		return nil, failure.Protocol(fmt.Errorf("status: %w after re-login", err))
	}
	return p, err
}

type envelope struct {
	Result json.Number     `json:"result"`
	Msg    string          `json:"msg"`
	Obj    json.RawMessage `json:"obj"`
}

func (c *Client) fetchStatus(ctx context.Context, sess Session) (transport.Payload, error) {
	form := url.Values{
		"deviceSn": {c.deviceSN},
		"userId":   {sess.Token},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sess.Endpoint+statusPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.sessions.HTTPClient().Do(req)
	if err != nil {
		return nil, classifyTransportErr(ctx, sess.Endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, classifyTransportErr(ctx, sess.Endpoint, err)
	}

	switch code := resp.StatusCode; {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return nil, errSessionRejected
	case code == http.StatusTooManyRequests:
		return nil, failure.RateLimited(&httpStatusError{Code: code})
	case code < 200 || code >= 300:
		return nil, failure.Protocol(&httpStatusError{Code: code})
	}

	if isHTML(resp.Header.Get("Content-Type"), body) {
		return nil, errSessionRejected
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, failure.Protocol(fmt.Errorf("status: invalid envelope: %w", err))
	}

	if env.Result.String() != "1" {
		if isNotLoggedIn(env.Msg) {
			return nil, errSessionRejected
		}
		return nil, failure.Protocol(fmt.Errorf("status: result=%s msg=%q", env.Result, failure.Sanitize(env.Msg)))
	}

	if len(env.Obj) == 0 || bytes.Equal(env.Obj, []byte("null")) {
		return nil, failure.Protocol(errors.New("status: empty obj"))
	}

	doc, err := transport.ParseJSONDocument(env.Obj)
	if err != nil {
		return nil, failure.Protocol(fmt.Errorf("status: obj: %w", err))
	}

	return &transport.JSONPayload{At: c.now(), Doc: doc}, nil
}

// ---- helpers ----

func isHTML(contentType string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "text/html") {
		return true
	}
	return bytes.HasPrefix(bytes.TrimSpace(body), []byte("<"))
}

// notLoggedInMarkers are the vendor's explicit "log in again" answers.
var notLoggedInMarkers = []string{
	"not logged",
	"not login",
	"notlogin",
	"nologin",
	"please login",
	"please log in",
	"login expired",
	"session expired",
	"session timeout",
	"session invalid",
}

func isNotLoggedIn(msg string) bool {
	m := strings.ToLower(msg)
	for _, marker := range notLoggedInMarkers {
		if strings.Contains(m, marker) {
			return true
		}
	}
	return false
}

func shouldFailover(err error) bool {
	if failure.KindOf(err) == failure.KindConnection {
		return true
	}
	var se *httpStatusError
	return errors.As(err, &se) && se.Code != http.StatusTooManyRequests
}

func classifyTransportErr(ctx context.Context, endpoint string, err error) error {
	if ctx.Err() != nil {
		return failure.Timeout(ctx.Err())
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return failure.Timeout(err)
	}
	return &failure.ConnectionError{Endpoint: endpoint, Err: err}
}
