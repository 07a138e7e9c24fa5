// cmd/noahpoller/http_test.go
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/noah-poller/internal/fieldmap"
	"github.com/tamzrod/noah-poller/internal/metrics"
	"github.com/tamzrod/noah-poller/internal/poller"
	"github.com/tamzrod/noah-poller/internal/transport"
	"github.com/tamzrod/noah-poller/internal/writer"
)

type stubTransport struct{}

func (stubTransport) Connect(ctx context.Context) error { return nil }
func (stubTransport) Disconnect() error                 { return nil }
func (stubTransport) HealthCheck(ctx context.Context) bool {
	return true
}

func (stubTransport) FetchRaw(ctx context.Context) (transport.Payload, error) {
	return &transport.JSONPayload{At: time.Now(), Doc: transport.JSONDocument{
		"soc":                        45.0,
		"battery_voltage":            51.2,
		"battery_current":            -2.3,
		"battery_power":              -120.0,
		"battery_temperature":        24.5,
		"solar_power":                300.0,
		"solar_energy_today":         3.4,
		"solar_energy_total":         1234.5,
		"grid_power":                 0.0,
		"grid_voltage":               230.1,
		"grid_frequency":             50.0,
		"grid_energy_exported_today": 0.8,
		"grid_energy_exported_total": 88.0,
		"status":                     1.0,
		"work_mode":                  0.0,
		"firmware_version":           "11.10.09.08",
	}}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *poller.Poller) {
	t.Helper()
	m, err := fieldmap.Builtin("cloud_noah_v1")
	require.NoError(t, err)

	p, err := poller.New(poller.Config{DeviceID: "noah-1", Interval: time.Minute}, stubTransport{}, m)
	require.NoError(t, err)

	devs := newDevices()
	devs.add(p)

	collector := metrics.NewCollector()
	collector.Add(p)
	reg := prometheus.NewRegistry()
	reg.MustRegister(collector)

	srv := httptest.NewServer(newMux(devs, reg, writer.NewHub(nil)))
	t.Cleanup(srv.Close)
	return srv, p
}

func TestHTTP_LatestAndHealth(t *testing.T) {
	srv, p := newTestServer(t)

	resp, err := http.Get(srv.URL + "/latest?device=noah-1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.NoError(t, p.PollOnce(context.Background()).Err)

	resp, err = http.Get(srv.URL + "/latest?device=noah-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var s map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&s))
	assert.Equal(t, "noah-1", s["device_id"])

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var health []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	require.Len(t, health, 1)
	assert.Equal(t, "ok", health[0]["health"])
}

func TestHTTP_RefreshAndResume(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/refresh?device=nope", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/refresh?device=noah-1", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/refresh?device=noah-1", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/resume?device=noah-1", "", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.False(t, out["resumed"])

	resp, err = http.Get(srv.URL + "/refresh?device=noah-1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHTTP_Metrics(t *testing.T) {
	srv, p := newTestServer(t)
	require.NoError(t, p.PollOnce(context.Background()).Err)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
