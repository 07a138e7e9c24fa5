// internal/config/validate.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

var allowedBaudRates = map[int]bool{
	1200: true, 2400: true, 4800: true, 9600: true,
	19200: true, 38400: true, 57600: true, 115200: true,
}

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config: nil")
	}

	switch cfg.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log: unknown level %q", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log: unknown format %q", cfg.Log.Format)
	}

	if len(cfg.Devices) == 0 {
		return errors.New("config: at least one device required")
	}

	seen := make(map[string]bool, len(cfg.Devices))

	for _, d := range cfg.Devices {
		if d.ID == "" {
			return errors.New("device: id required")
		}
		if seen[d.ID] {
			return fmt.Errorf("device %q: duplicate id", d.ID)
		}
		seen[d.ID] = true

		// ------------------------------------------------------------
		// POLL / BACKOFF
		// ------------------------------------------------------------

		// Intervals below the floor are clamped by the poller, not rejected.
		if d.Poll.IntervalS < 0 {
			return fmt.Errorf("device %q: poll.interval_s must be > 0", d.ID)
		}
		if d.Poll.TimeoutMs < 0 {
			return fmt.Errorf("device %q: poll.timeout_ms must be >= 0", d.ID)
		}
		if d.Backoff.MaxS < 0 || d.Backoff.ExponentCap < 0 ||
			d.Backoff.FailureThreshold < 0 || d.Backoff.RateLimitMultiplier < 0 {
			return fmt.Errorf("device %q: backoff values must be >= 0", d.ID)
		}

		if d.Timezone != "" {
			if _, err := time.LoadLocation(d.Timezone); err != nil {
				return fmt.Errorf("device %q: timezone: %w", d.ID, err)
			}
		}

		// ------------------------------------------------------------
		// TRANSPORT
		// ------------------------------------------------------------

		var err error
		switch d.Transport {
		case TransportCloud:
			err = validateCloud(d.Cloud)
		case TransportMQTT:
			err = validateMQTT(d.MQTT)
		case TransportModbusTCP:
			err = validateModbusTCP(d.Modbus)
		case TransportModbusRTU:
			err = validateModbusRTU(d.Modbus)
		default:
			err = fmt.Errorf("unknown transport %q", d.Transport)
		}
		if err != nil {
			return fmt.Errorf("device %q: %w", d.ID, err)
		}
	}

	return nil
}

func validateCloud(c *CloudConfig) error {
	if c == nil {
		return errors.New("cloud section required")
	}
	if c.Username == "" || c.Password == "" {
		return errors.New("cloud: username and password required")
	}
	if c.DeviceSN == "" {
		return errors.New("cloud: device_sn required")
	}
	for _, s := range c.Servers {
		u, err := url.Parse(s)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("cloud: invalid server url %q", s)
		}
	}
	if c.SessionTTL < 0 {
		return errors.New("cloud: session_ttl_s must be >= 0")
	}
	return nil
}

func validateMQTT(m *MQTTConfig) error {
	if m == nil {
		return errors.New("mqtt section required")
	}
	if m.Broker == "" {
		return errors.New("mqtt: broker required")
	}
	u, err := url.Parse(m.Broker)
	if err != nil || u.Host == "" {
		return fmt.Errorf("mqtt: invalid broker url %q", m.Broker)
	}
	switch u.Scheme {
	case "tcp", "ssl", "tls", "ws", "wss", "mqtt", "mqtts":
	default:
		return fmt.Errorf("mqtt: unsupported broker scheme %q", u.Scheme)
	}
	if m.QoS > 2 {
		return fmt.Errorf("mqtt: qos must be 0..2, got %d", m.QoS)
	}
	if m.FreshnessS < 0 {
		return errors.New("mqtt: freshness_s must be >= 0")
	}
	return nil
}

func validateModbusCommon(m *ModbusConfig) error {
	if m.UnitID > 247 {
		return fmt.Errorf("modbus: unit_id must be 1..247, got %d", m.UnitID)
	}
	if m.TimeoutMs < 0 {
		return errors.New("modbus: timeout_ms must be >= 0")
	}
	return nil
}

func validateModbusTCP(m *ModbusConfig) error {
	if m == nil {
		return errors.New("modbus section required")
	}
	if m.Endpoint == "" {
		return errors.New("modbus: endpoint required for modbus_tcp")
	}
	return validateModbusCommon(m)
}

func validateModbusRTU(m *ModbusConfig) error {
	if m == nil {
		return errors.New("modbus section required")
	}
	if m.SerialDevice == "" {
		return errors.New("modbus: serial_device required for modbus_rtu")
	}
	if m.BaudRate != 0 && !allowedBaudRates[m.BaudRate] {
		return fmt.Errorf("modbus: unsupported baud_rate %d", m.BaudRate)
	}
	if m.DataBits != 0 && (m.DataBits < 5 || m.DataBits > 8) {
		return fmt.Errorf("modbus: data_bits must be 5..8, got %d", m.DataBits)
	}
	switch m.Parity {
	case "", "N", "E", "O":
	default:
		return fmt.Errorf("modbus: parity must be N, E or O, got %q", m.Parity)
	}
	if m.StopBits != 0 && m.StopBits != 1 && m.StopBits != 2 {
		return fmt.Errorf("modbus: stop_bits must be 1 or 2, got %d", m.StopBits)
	}
	return validateModbusCommon(m)
}
