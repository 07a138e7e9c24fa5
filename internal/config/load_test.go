// internal/config/load_test.go
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleYAML = `
log:
  level: debug
devices:
  - id: noah-cloud
    transport: cloud
    timezone: Europe/Berlin
    cloud:
      username: alice
      password: s3cr3t
      device_sn: 0PVP50ZR16ST00CY
  - id: noah-rtu
    transport: modbus_rtu
    poll:
      interval_s: 15
    modbus:
      serial_device: /dev/ttyUSB0
`

const sampleTOML = `
[server]
listen = ":9200"

[[devices]]
id = "noah-mqtt"
transport = "mqtt"

[devices.mqtt]
broker = "tcp://broker.local:1883"
topic_prefix = "home/noah/"
`

func write(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad_YAMLAppliesDefaults(t *testing.T) {
	cfg, err := Load(write(t, "cfg.yaml", sampleYAML))
	if err != nil {
		t.Fatalf("Load err=%v", err)
	}

	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Fatalf("log defaults: %+v", cfg.Log)
	}

	c := cfg.Devices[0]
	if c.Poll.IntervalS != DefaultIntervalS || c.Poll.TimeoutMs != DefaultPollTimeoutMs {
		t.Fatalf("poll defaults: %+v", c.Poll)
	}
	if c.Backoff.FailureThreshold != 3 || c.Backoff.RateLimitMultiplier != 4 {
		t.Fatalf("backoff defaults: %+v", c.Backoff)
	}
	if len(c.Cloud.Servers) != 2 || c.Cloud.SessionTTL != DefaultSessionTTLS {
		t.Fatalf("cloud defaults: %+v", c.Cloud)
	}
	if c.Cloud.Password.Reveal() != "s3cr3t" {
		t.Fatalf("password not loaded")
	}

	r := cfg.Devices[1].Modbus
	if r.BaudRate != 9600 || r.Parity != "N" || r.DataBits != 8 || r.StopBits != 1 || r.UnitID != 1 {
		t.Fatalf("rtu defaults: %+v", r)
	}
}

func TestLoad_TOML(t *testing.T) {
	cfg, err := Load(write(t, "cfg.toml", sampleTOML))
	if err != nil {
		t.Fatalf("Load err=%v", err)
	}

	if cfg.Server.Listen != ":9200" {
		t.Fatalf("listen=%q", cfg.Server.Listen)
	}
	m := cfg.Devices[0].MQTT
	if m.TopicPrefix != "home/noah" {
		t.Fatalf("topic prefix not trimmed: %q", m.TopicPrefix)
	}
	if !strings.HasPrefix(m.ClientID, "noahpoller-") {
		t.Fatalf("client id default: %q", m.ClientID)
	}
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	if _, err := Load(write(t, "cfg.yaml", "devices:\n  - id: x\n    transprot: cloud\n")); err == nil {
		t.Fatalf("expected unknown field error, got nil")
	}
}

func TestSecret_NeverPrinted(t *testing.T) {
	c := CloudConfig{Username: "alice", Password: "s3cr3t"}

	var sb strings.Builder
	logger := slog.New(slog.NewTextHandler(&sb, nil))
	logger.Info("cloud", "password", c.Password)

	js, err := json.Marshal(c)
	if err != nil {
		t.Fatal(err)
	}

	outputs := []string{
		fmt.Sprintf("%v", c),
		fmt.Sprintf("%+v", c),
		fmt.Sprintf("%#v", c.Password),
		sb.String(),
		string(js),
	}
	for _, out := range outputs {
		if strings.Contains(out, "s3cr3t") {
			t.Fatalf("secret leaked: %s", out)
		}
	}
}
