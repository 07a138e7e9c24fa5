// internal/transport/cloud/session.go
package cloud

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tamzrod/noah-poller/internal/config"
	"github.com/tamzrod/noah-poller/internal/failure"
)

const loginPath = "/newTwoLoginAPI.do"

// State is the session lifecycle state.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateAuthenticated
	StateExpired
	StateFailed // terminal until Reset
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateExpired:
		return "expired"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Session is the vendor session for one account.
// Token is the vendor user id sent with every data request.
type Session struct {
	Token    string
	Expiry   time.Time
	Endpoint string
}

// SessionManager owns exactly one Session and the cookie jar that goes
// with it. Nothing else mutates either.
type SessionManager struct {
	mu sync.Mutex

	http     *http.Client
	username string
	password config.Secret
	servers  []string
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger

	active  int
	state   State
	session Session
	authErr error // set while StateFailed
}

// SessionConfig configures a SessionManager.
type SessionConfig struct {
	Servers  []string
	Username string
	Password config.Secret
	TTL      time.Duration
	Timeout  time.Duration
	Now      func() time.Time
	Logger   *slog.Logger
}

func NewSessionManager(cfg SessionConfig) (*SessionManager, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("cloud session: at least one server required")
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, errors.New("cloud session: credentials required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	jar, _ := cookiejar.New(nil)

	return &SessionManager{
		http:     &http.Client{Jar: jar, Timeout: cfg.Timeout},
		username: cfg.Username,
		password: cfg.Password,
		servers:  append([]string(nil), cfg.Servers...),
		ttl:      cfg.TTL,
		now:      cfg.Now,
		logger:   cfg.Logger,
	}, nil
}

// HTTPClient is the client carrying the session cookies.
func (m *SessionManager) HTTPClient() *http.Client { return m.http }

func (m *SessionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Endpoint is the active server base URL.
func (m *SessionManager) Endpoint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.servers[m.active]
}

// Ensure returns a valid session, logging in if needed.
// In StateFailed it returns the stored AuthError without contacting the vendor.
func (m *SessionManager) Ensure(ctx context.Context) (Session, error) {
	m.mu.Lock()
	switch m.state {
	case StateFailed:
		err := m.authErr
		m.mu.Unlock()
		return Session{}, err
	case StateAuthenticated:
		if m.session.Expiry.IsZero() || m.now().Before(m.session.Expiry) {
			s := m.session
			m.mu.Unlock()
			return s, nil
		}
		m.state = StateExpired
		m.logger.Debug("cloud session expired")
	}
	m.state = StateAuthenticating
	endpoint := m.servers[m.active]
	m.mu.Unlock()

	token, err := m.login(ctx, endpoint)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		if failure.IsAuth(err) {
			m.state = StateFailed
			m.authErr = err
			m.logger.Warn("cloud login rejected", "server", endpoint, "err", failure.Message(err))
		} else {
			m.state = StateUnauthenticated
		}
		m.session = Session{}
		return Session{}, err
	}

	m.session = Session{Token: token, Endpoint: endpoint}
	if m.ttl > 0 {
		m.session.Expiry = m.now().Add(m.ttl)
	}
	m.state = StateAuthenticated
	m.logger.Info("cloud login ok", "server", endpoint)

	return m.session, nil
}

// Fresh reports whether an authenticated, unexpired session is held.
func (m *SessionManager) Fresh() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateAuthenticated {
		return false
	}
	return m.session.Expiry.IsZero() || m.now().Before(m.session.Expiry)
}

// Invalidate drops the session after the vendor rejected it.
// A terminal failure is kept.
func (m *SessionManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateFailed {
		return
	}
	m.dropLocked()
	m.state = StateExpired
}

// Reset clears everything, including a terminal failure.
func (m *SessionManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropLocked()
	m.state = StateUnauthenticated
	m.authErr = nil
}

// Failover rotates to the next server and drops the session, since cookies
// and tokens are per host. Returns the new active endpoint.
func (m *SessionManager) Failover() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = (m.active + 1) % len(m.servers)
	if m.state != StateFailed {
		m.dropLocked()
		m.state = StateUnauthenticated
	}
	return m.servers[m.active]
}

// Servers is the number of configured endpoints.
func (m *SessionManager) Servers() int { return len(m.servers) }

func (m *SessionManager) dropLocked() {
	m.session = Session{}
	jar, _ := cookiejar.New(nil)
	m.http.Jar = jar
}

// ---- login ----

type loginResponse struct {
	Back struct {
		Success bool   `json:"success"`
		Msg     string `json:"msg"`
		User    struct {
			ID json.Number `json:"id"`
		} `json:"user"`
	} `json:"back"`
}

var loginMessages = map[string]string{
	"501": "username or password incorrect",
	"502": "account locked",
	"507": "account locked after too many attempts",
}

func (m *SessionManager) login(ctx context.Context, endpoint string) (string, error) {
	form := url.Values{
		"userName": {m.username},
		"password": {hashPassword(m.password.Reveal())},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+loginPath, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := m.http.Do(req)
	if err != nil {
		return "", classifyTransportErr(ctx, endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", &failure.ConnectionError{Endpoint: endpoint, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", failure.RateLimited(fmt.Errorf("login: http %d", resp.StatusCode))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", &failure.AuthError{Reason: fmt.Sprintf("http %d", resp.StatusCode)}
	case resp.StatusCode >= 300:
		return "", &failure.ConnectionError{Endpoint: endpoint, Err: fmt.Errorf("login: http %d", resp.StatusCode)}
	}

	var lr loginResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return "", failure.Protocol(fmt.Errorf("login: invalid response: %w", err))
	}

	if !lr.Back.Success {
		reason := lr.Back.Msg
		if text, ok := loginMessages[reason]; ok {
			reason = text
		}
		return "", &failure.AuthError{Reason: failure.Sanitize(reason)}
	}
	if lr.Back.User.ID == "" {
		return "", failure.Protocol(errors.New("login: response carries no user id"))
	}

	return lr.Back.User.ID.String(), nil
}

// hashPassword is the vendor's MD5 variant: lowercase hex digest with every
// '0' at an even index replaced by 'c'.
func hashPassword(pw string) string {
	sum := md5.Sum([]byte(pw))
	h := []byte(hex.EncodeToString(sum[:]))
	for i := 0; i < len(h); i += 2 {
		if h[i] == '0' {
			h[i] = 'c'
		}
	}
	return string(h)
}
