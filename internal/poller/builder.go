// internal/poller/builder.go
package poller

import (
	"fmt"
	"log/slog"
	"time"

	cfg "github.com/tamzrod/noah-poller/internal/config"
	"github.com/tamzrod/noah-poller/internal/fieldmap"
	"github.com/tamzrod/noah-poller/internal/transport"
	"github.com/tamzrod/noah-poller/internal/transport/cloud"
	"github.com/tamzrod/noah-poller/internal/transport/modbus"
	"github.com/tamzrod/noah-poller/internal/transport/mqtt"
)

// Build constructs a Poller for one configured device and wires its
// transport. The transport is not connected here: the first poll does it,
// so one unreachable device does not block startup of the others.
// The returned closer stops the poller and disconnects the transport.
func Build(d cfg.DeviceConfig, logger *slog.Logger, opts ...Option) (*Poller, func() error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dlog := logger.With("device", d.ID, "transport", d.Transport)

	fm, err := fieldmap.Resolve(d.FieldMap, mapKind(d.Transport))
	if err != nil {
		return nil, nil, fmt.Errorf("device %q: %w", d.ID, err)
	}

	loc := time.Local
	if d.Timezone != "" {
		if loc, err = time.LoadLocation(d.Timezone); err != nil {
			return nil, nil, fmt.Errorf("device %q: timezone: %w", d.ID, err)
		}
	}

	interval := time.Duration(d.Poll.IntervalS) * time.Second
	timeout := time.Duration(d.Poll.TimeoutMs) * time.Millisecond

	client, err := buildTransport(d, fm, interval, timeout, dlog)
	if err != nil {
		return nil, nil, fmt.Errorf("device %q: %w", d.ID, err)
	}

	opts = append([]Option{WithLogger(logger)}, opts...)
	p, err := New(
		Config{
			DeviceID:            d.ID,
			Interval:            interval,
			PollTimeout:         timeout,
			MaxDelay:            time.Duration(d.Backoff.MaxS) * time.Second,
			ExponentCap:         d.Backoff.ExponentCap,
			FailureThreshold:    d.Backoff.FailureThreshold,
			RateLimitMultiplier: d.Backoff.RateLimitMultiplier,
			Location:            loc,
		},
		client,
		fm,
		opts...,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("device %q: %w", d.ID, err)
	}

	dlog.Info("device configured", "field_map", fm.Name, "interval", p.Interval())
	return p, p.Stop, nil
}

func mapKind(t string) fieldmap.Kind {
	switch t {
	case cfg.TransportMQTT:
		return fieldmap.KindMQTT
	case cfg.TransportModbusTCP, cfg.TransportModbusRTU:
		return fieldmap.KindModbus
	default:
		return fieldmap.KindJSON
	}
}

func buildTransport(d cfg.DeviceConfig, fm fieldmap.Map, interval, timeout time.Duration, logger *slog.Logger) (transport.Client, error) {
	switch d.Transport {
	case cfg.TransportCloud:
		c := d.Cloud
		return cloud.New(cloud.Config{
			Servers:    c.Servers,
			Username:   c.Username,
			Password:   c.Password,
			DeviceSN:   c.DeviceSN,
			SessionTTL: time.Duration(c.SessionTTL) * time.Second,
			Timeout:    timeout,
			Logger:     logger,
		})

	case cfg.TransportMQTT:
		m := d.MQTT
		fresh := time.Duration(m.FreshnessS) * time.Second
		if fresh <= 0 {
			// the poller may clamp the interval up; use the effective one
			eff := interval
			if eff < DefaultMinInterval {
				eff = DefaultMinInterval
			}
			fresh = 2 * eff
		}
		return mqtt.New(mqtt.Config{
			Broker:      m.Broker,
			Username:    m.Username,
			Password:    m.Password,
			ClientID:    m.ClientID,
			TopicPrefix: m.TopicPrefix,
			QoS:         m.QoS,
			Freshness:   fresh,
			Topics:      mqtt.TopicsFromMap(fm),
			Logger:      logger,
		})

	case cfg.TransportModbusTCP, cfg.TransportModbusRTU:
		m := d.Modbus
		dc := modbus.DialConfig{
			Mode:    modbus.ModeTCP,
			UnitID:  m.UnitID,
			Timeout: time.Duration(m.TimeoutMs) * time.Millisecond,
		}
		if d.Transport == cfg.TransportModbusTCP {
			dc.Endpoint = m.Endpoint
		} else {
			dc.Mode = modbus.ModeRTU
			dc.SerialDevice = m.SerialDevice
			dc.BaudRate = m.BaudRate
			dc.DataBits = m.DataBits
			dc.Parity = m.Parity
			dc.StopBits = m.StopBits
		}
		return modbus.New(modbus.Config{
			Dial:   dc,
			Blocks: fieldmap.RegisterBlocks(fm),
			Ping:   m.Ping && d.Transport == cfg.TransportModbusTCP,
			Logger: logger,
		})

	default:
		return nil, fmt.Errorf("unknown transport %q", d.Transport)
	}
}
