// internal/transport/cloud/client_test.go
package cloud

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/noah-poller/internal/decode"
	"github.com/tamzrod/noah-poller/internal/failure"
	"github.com/tamzrod/noah-poller/internal/fieldmap"
)

const statusObj = `{
	"soc": 45, "battery_voltage": 51.2, "battery_current": -2.3,
	"battery_power": -120, "battery_temperature": 24,
	"solar_power": 300, "solar_energy_today": 3.4, "solar_energy_total": 1200.5,
	"grid_power": 0, "grid_voltage": 230.1, "grid_frequency": 50,
	"grid_energy_exported_today": 0.5, "grid_energy_exported_total": 80,
	"status": 1, "work_mode": 0, "firmware_version": "11.10.09.08",
	"deviceSn": "SN123"
}`

// fakeVendor scripts the vendor API. statusCodes is consumed one entry per
// status call; after it runs out every call succeeds.
type fakeVendor struct {
	mu          sync.Mutex
	loginOK     bool
	logins      int
	statusCalls int
	statusCodes []int
	html        bool
	loginStatus int
	envelopeMsg string
	heads       int
	lastPwHash  string
	lastUserID  string
}

func (f *fakeVendor) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(loginPath, func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.logins++
		_ = r.ParseForm()
		f.lastPwHash = r.PostForm.Get("password")
		if f.loginStatus != 0 {
			w.WriteHeader(f.loginStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if !f.loginOK {
			fmt.Fprint(w, `{"back":{"success":false,"msg":"501"}}`)
			return
		}
		fmt.Fprint(w, `{"back":{"success":true,"user":{"id":4711}}}`)
	})

	mux.HandleFunc(statusPath, func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.statusCalls++
		_ = r.ParseForm()
		f.lastUserID = r.PostForm.Get("userId")

		if f.html {
			f.html = false
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, "<html><body>login</body></html>")
			return
		}

		code := http.StatusOK
		if len(f.statusCodes) > 0 {
			code = f.statusCodes[0]
			f.statusCodes = f.statusCodes[1:]
		}
		if code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if f.envelopeMsg != "" {
			fmt.Fprintf(w, `{"result":0,"msg":%q}`, f.envelopeMsg)
			return
		}
		fmt.Fprintf(w, `{"result":1,"obj":%s}`, statusObj)
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			f.mu.Lock()
			f.heads++
			f.mu.Unlock()
		}
	})

	return mux
}

func newClient(t *testing.T, servers ...string) *Client {
	t.Helper()
	c, err := New(Config{
		Servers:  servers,
		Username: "alice",
		Password: "123456",
		DeviceSN: "SN123",
		Timeout:  2 * time.Second,
	})
	require.NoError(t, err)
	return c
}

func TestHashPassword(t *testing.T) {
	// md5("123456") = e10adc3949ba59abbe56e057f20f883e
	assert.Equal(t, "e1cadc3949ba59abbe56e057f2cf883e", hashPassword("123456"))
}

func TestFetchRaw_DecodesEndToEnd(t *testing.T) {
	v := &fakeVendor{loginOK: true}
	srv := httptest.NewServer(v.handler())
	defer srv.Close()

	c := newClient(t, srv.URL)
	require.NoError(t, c.Connect(context.Background()))

	p, err := c.FetchRaw(context.Background())
	require.NoError(t, err)

	m, err := fieldmap.Builtin("cloud_noah_v1")
	require.NoError(t, err)
	s, err := decode.Decode(p, m)
	require.NoError(t, err)

	assert.Equal(t, 45.0, s.Battery.StateOfCharge)
	assert.Equal(t, -120.0, s.Battery.Power)
	assert.Equal(t, "discharging", s.Battery.Status.String())
	assert.Equal(t, 300.0, s.Solar.Power)

	assert.Equal(t, "e1cadc3949ba59abbe56e057f2cf883e", v.lastPwHash)
	assert.Equal(t, "4711", v.lastUserID)
	assert.Equal(t, StateAuthenticated, c.Sessions().State())
}

func TestFetchRaw_401ThenOKReauthenticatesOnce(t *testing.T) {
	v := &fakeVendor{loginOK: true, statusCodes: []int{http.StatusUnauthorized, http.StatusOK}}
	srv := httptest.NewServer(v.handler())
	defer srv.Close()

	c := newClient(t, srv.URL)

	_, err := c.FetchRaw(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, v.logins, "initial login plus exactly one re-login")
	assert.Equal(t, 2, v.statusCalls)
}

func TestFetchRaw_401TwiceIsNotRetriedAgain(t *testing.T) {
	v := &fakeVendor{loginOK: true, statusCodes: []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusUnauthorized}}
	srv := httptest.NewServer(v.handler())
	defer srv.Close()

	c := newClient(t, srv.URL)

	_, err := c.FetchRaw(context.Background())
	require.Error(t, err)
	assert.Equal(t, failure.KindProtocol, failure.KindOf(err))
	assert.Equal(t, 2, v.logins)
	assert.Equal(t, 2, v.statusCalls)
}

func TestFetchRaw_HTMLRedirectReauthenticates(t *testing.T) {
	v := &fakeVendor{loginOK: true, html: true}
	srv := httptest.NewServer(v.handler())
	defer srv.Close()

	c := newClient(t, srv.URL)

	_, err := c.FetchRaw(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, v.logins)
}

func TestFetchRaw_RateLimited(t *testing.T) {
	v := &fakeVendor{loginOK: true, statusCodes: []int{http.StatusTooManyRequests}}
	srv := httptest.NewServer(v.handler())
	defer srv.Close()

	c := newClient(t, srv.URL)

	_, err := c.FetchRaw(context.Background())
	assert.Equal(t, failure.KindRateLimited, failure.KindOf(err))
}

func TestFetchRaw_FailsOverOn5xx(t *testing.T) {
	bad := &fakeVendor{loginOK: true, statusCodes: []int{http.StatusBadGateway}}
	good := &fakeVendor{loginOK: true}
	badSrv := httptest.NewServer(bad.handler())
	defer badSrv.Close()
	goodSrv := httptest.NewServer(good.handler())
	defer goodSrv.Close()

	c := newClient(t, badSrv.URL, goodSrv.URL)

	_, err := c.FetchRaw(context.Background())
	require.NoError(t, err)
	assert.Equal(t, goodSrv.URL, c.Sessions().Endpoint())
	assert.Equal(t, 1, good.logins, "failover server needs its own login")
}

func TestFetchRaw_FailsOverOnConnectionError(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	good := &fakeVendor{loginOK: true}
	goodSrv := httptest.NewServer(good.handler())
	defer goodSrv.Close()

	c := newClient(t, deadURL, goodSrv.URL)

	_, err := c.FetchRaw(context.Background())
	require.NoError(t, err)
}

func TestConnect_FailsOverWhenPrimaryIsDown(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	good := &fakeVendor{loginOK: true}
	goodSrv := httptest.NewServer(good.handler())
	defer goodSrv.Close()

	c := newClient(t, deadURL, goodSrv.URL)

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, goodSrv.URL, c.Sessions().Endpoint())
	assert.Equal(t, 1, good.logins)
	assert.Equal(t, StateAuthenticated, c.Sessions().State())
}

func TestConnect_FailsOverOnLogin5xx(t *testing.T) {
	bad := &fakeVendor{loginOK: true, loginStatus: http.StatusServiceUnavailable}
	good := &fakeVendor{loginOK: true}
	badSrv := httptest.NewServer(bad.handler())
	defer badSrv.Close()
	goodSrv := httptest.NewServer(good.handler())
	defer goodSrv.Close()

	c := newClient(t, badSrv.URL, goodSrv.URL)

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, 1, bad.logins)
	assert.Equal(t, 1, good.logins)
	assert.Equal(t, goodSrv.URL, c.Sessions().Endpoint())
}

func TestConnect_AllServersDown(t *testing.T) {
	bad := &fakeVendor{loginOK: true, loginStatus: http.StatusBadGateway}
	srv := httptest.NewServer(bad.handler())
	defer srv.Close()

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	c := newClient(t, srv.URL, deadURL)

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, failure.KindConnection, failure.KindOf(err))
	assert.Equal(t, 1, bad.logins, "each server is tried once per connect")
}

func TestConnect_RejectedCredentialsDoNotFailOver(t *testing.T) {
	first := &fakeVendor{loginOK: false}
	second := &fakeVendor{loginOK: true}
	firstSrv := httptest.NewServer(first.handler())
	defer firstSrv.Close()
	secondSrv := httptest.NewServer(second.handler())
	defer secondSrv.Close()

	c := newClient(t, firstSrv.URL, secondSrv.URL)

	err := c.Connect(context.Background())
	assert.True(t, failure.IsAuth(err))
	assert.Equal(t, 0, second.logins)
}

func TestFetchRaw_UnrelatedSessionMessageKeepsSession(t *testing.T) {
	v := &fakeVendor{loginOK: true, envelopeMsg: "session parameter error"}
	srv := httptest.NewServer(v.handler())
	defer srv.Close()

	c := newClient(t, srv.URL)

	_, err := c.FetchRaw(context.Background())
	require.Error(t, err)
	assert.Equal(t, failure.KindProtocol, failure.KindOf(err))
	assert.Equal(t, 1, v.logins, "no re-login for a non-auth message")
	assert.Equal(t, 1, v.statusCalls)
}

func TestFetchRaw_NotLoggedInMessageReauthenticates(t *testing.T) {
	v := &fakeVendor{loginOK: true, envelopeMsg: "Not logged in"}
	srv := httptest.NewServer(v.handler())
	defer srv.Close()

	c := newClient(t, srv.URL)

	_, err := c.FetchRaw(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, v.logins)
	assert.Equal(t, 2, v.statusCalls)
}

func TestIsNotLoggedIn(t *testing.T) {
	cases := map[string]bool{
		"Not logged in":           true,
		"notLogin":                true,
		"Session expired":         true,
		"please login again":      true,
		"session parameter error": false,
		"device offline":          false,
		"":                        false,
	}
	for msg, want := range cases {
		if got := isNotLoggedIn(msg); got != want {
			t.Fatalf("isNotLoggedIn(%q)=%v want %v", msg, got, want)
		}
	}
}

func TestSession_RejectedCredentialsAreTerminal(t *testing.T) {
	v := &fakeVendor{loginOK: false}
	srv := httptest.NewServer(v.handler())
	defer srv.Close()

	c := newClient(t, srv.URL)

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, failure.IsAuth(err))
	assert.Equal(t, StateFailed, c.Sessions().State())

	// No further vendor contact until reset.
	_, err = c.FetchRaw(context.Background())
	assert.True(t, failure.IsAuth(err))
	assert.Equal(t, 1, v.logins)

	v.mu.Lock()
	v.loginOK = true
	v.mu.Unlock()

	c.ResetAuth()
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, 2, v.logins)
}

func TestSession_ExpiresAfterTTL(t *testing.T) {
	v := &fakeVendor{loginOK: true}
	srv := httptest.NewServer(v.handler())
	defer srv.Close()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sm, err := NewSessionManager(SessionConfig{
		Servers:  []string{srv.URL},
		Username: "alice",
		Password: "pw",
		TTL:      time.Minute,
		Now:      func() time.Time { return now },
	})
	require.NoError(t, err)

	_, err = sm.Ensure(context.Background())
	require.NoError(t, err)
	_, err = sm.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v.logins)

	now = now.Add(2 * time.Minute)
	_, err = sm.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, v.logins)
}

func TestHealthCheck(t *testing.T) {
	v := &fakeVendor{loginOK: true}
	srv := httptest.NewServer(v.handler())
	c := newClient(t, srv.URL)

	assert.True(t, c.HealthCheck(context.Background()))
	srv.Close()
	assert.False(t, c.HealthCheck(context.Background()))
	assert.NoError(t, c.Disconnect())
	assert.NoError(t, c.Disconnect())
}

func TestHealthCheck_FreshSessionSkipsRequest(t *testing.T) {
	v := &fakeVendor{loginOK: true}
	srv := httptest.NewServer(v.handler())
	defer srv.Close()

	c := newClient(t, srv.URL)
	require.NoError(t, c.Connect(context.Background()))
	_, err := c.FetchRaw(context.Background())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		assert.True(t, c.HealthCheck(context.Background()))
	}
	assert.Equal(t, 0, v.heads)

	// a failed fetch makes the next check hit the server
	v.mu.Lock()
	v.statusCodes = []int{http.StatusBadGateway}
	v.mu.Unlock()
	_, err = c.FetchRaw(context.Background())
	require.Error(t, err)

	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.HealthCheck(context.Background()))
	assert.Equal(t, 1, v.heads)

	_, err = c.FetchRaw(context.Background())
	require.NoError(t, err)
	assert.True(t, c.HealthCheck(context.Background()))
	assert.Equal(t, 1, v.heads)
}
