// internal/config/normalize.go
package config

import (
	"strings"

	"github.com/google/uuid"
)

// Defaults.
const (
	DefaultIntervalS           = 30
	DefaultPollTimeoutMs       = 10000
	DefaultBackoffMaxS         = 300
	DefaultExponentCap         = 6
	DefaultFailureThreshold    = 3
	DefaultRateLimitMultiplier = 4
	DefaultSessionTTLS         = 1800
	DefaultTopicPrefix         = "noah"
	DefaultModbusTimeoutMs     = 5000
	DefaultModbusUnitID        = 1
	DefaultBaudRate            = 9600
)

// DefaultCloudServers are tried in order; the first is the login host.
var DefaultCloudServers = []string{
	"https://openapi.growatt.com",
	"https://server.growatt.com",
}

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	for di := range cfg.Devices {
		d := &cfg.Devices[di]

		// ------------------------------------------------------------
		// POLL / BACKOFF
		// ------------------------------------------------------------

		if d.Poll.IntervalS == 0 {
			d.Poll.IntervalS = DefaultIntervalS
		}
		if d.Poll.TimeoutMs == 0 || d.Poll.TimeoutMs > DefaultPollTimeoutMs {
			d.Poll.TimeoutMs = DefaultPollTimeoutMs
		}
		if d.Backoff.MaxS == 0 {
			d.Backoff.MaxS = DefaultBackoffMaxS
		}
		if d.Backoff.ExponentCap == 0 {
			d.Backoff.ExponentCap = DefaultExponentCap
		}
		if d.Backoff.FailureThreshold == 0 {
			d.Backoff.FailureThreshold = DefaultFailureThreshold
		}
		if d.Backoff.RateLimitMultiplier == 0 {
			d.Backoff.RateLimitMultiplier = DefaultRateLimitMultiplier
		}

		// ------------------------------------------------------------
		// TRANSPORT
		// ------------------------------------------------------------

		if c := d.Cloud; c != nil {
			if len(c.Servers) == 0 {
				c.Servers = append([]string(nil), DefaultCloudServers...)
			}
			for i, s := range c.Servers {
				c.Servers[i] = strings.TrimRight(s, "/")
			}
			if c.SessionTTL == 0 {
				c.SessionTTL = DefaultSessionTTLS
			}
		}

		if m := d.MQTT; m != nil {
			if m.TopicPrefix == "" {
				m.TopicPrefix = DefaultTopicPrefix
			}
			m.TopicPrefix = strings.TrimRight(m.TopicPrefix, "/")
			if m.ClientID == "" {
				m.ClientID = "noahpoller-" + uuid.NewString()[:8]
			}
		}

		if m := d.Modbus; m != nil {
			if m.UnitID == 0 {
				m.UnitID = DefaultModbusUnitID
			}
			if m.TimeoutMs == 0 {
				m.TimeoutMs = DefaultModbusTimeoutMs
			}
			if d.Transport == TransportModbusRTU {
				if m.BaudRate == 0 {
					m.BaudRate = DefaultBaudRate
				}
				if m.DataBits == 0 {
					m.DataBits = 8
				}
				if m.Parity == "" {
					m.Parity = "N"
				}
				if m.StopBits == 0 {
					m.StopBits = 1
				}
			}
		}
	}
}
