// internal/transport/modbus/client.go
package modbus

import (
	"errors"
	"fmt"
	"io"
	"time"

	gmodbus "github.com/goburrow/modbus"
)

// Reader abstracts the register reads the link needs.
// Geometry only: it returns raw register words.
type Reader interface {
	ReadHoldingRegisters(addr, qty uint16) ([]uint16, error) // FC 3
	ReadInputRegisters(addr, qty uint16) ([]uint16, error)   // FC 4
	Close() error
}

// Mode selects the wire.
type Mode string

const (
	ModeTCP Mode = "tcp"
	ModeRTU Mode = "rtu"
)

// DialConfig is minimal transport config.
type DialConfig struct {
	Mode     Mode
	Endpoint string // host:port for TCP
	UnitID   uint8
	Timeout  time.Duration

	// RTU
	SerialDevice string
	BaudRate     int
	DataBits     int
	Parity       string
	StopBits     int
}

// Dial opens a goburrow handler and returns a connected Reader.
func Dial(cfg DialConfig) (Reader, error) {
	switch cfg.Mode {
	case ModeTCP:
		if cfg.Endpoint == "" {
			return nil, errors.New("modbus client: endpoint required")
		}
		h := gmodbus.NewTCPClientHandler(cfg.Endpoint)
		h.Timeout = cfg.Timeout
		h.SlaveId = cfg.UnitID
		if err := h.Connect(); err != nil {
			return nil, err
		}
		return &client{mb: gmodbus.NewClient(h), closer: h}, nil

	case ModeRTU:
		if cfg.SerialDevice == "" {
			return nil, errors.New("modbus client: serial device required")
		}
		h := gmodbus.NewRTUClientHandler(cfg.SerialDevice)
		h.BaudRate = cfg.BaudRate
		h.DataBits = cfg.DataBits
		h.Parity = cfg.Parity
		h.StopBits = cfg.StopBits
		h.SlaveId = cfg.UnitID
		h.Timeout = cfg.Timeout
		if err := h.Connect(); err != nil {
			return nil, err
		}
		return &client{mb: gmodbus.NewClient(h), closer: h}, nil

	default:
		return nil, fmt.Errorf("modbus client: unknown mode %q", cfg.Mode)
	}
}

// client adapts goburrow's byte-oriented client to Reader.
type client struct {
	mb     gmodbus.Client
	closer io.Closer
}

func (c *client) ReadHoldingRegisters(addr, qty uint16) ([]uint16, error) {
	b, err := c.mb.ReadHoldingRegisters(addr, qty)
	if err != nil {
		return nil, err
	}
	return checkedRegisters(b, qty)
}

func (c *client) ReadInputRegisters(addr, qty uint16) ([]uint16, error) {
	b, err := c.mb.ReadInputRegisters(addr, qty)
	if err != nil {
		return nil, err
	}
	return checkedRegisters(b, qty)
}

// Close closes the underlying connection or serial port.
func (c *client) Close() error {
	if c == nil || c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// ---- helpers (pure geometry) ----

func checkedRegisters(data []byte, qty uint16) ([]uint16, error) {
	if len(data)%2 != 0 {
		return nil, errors.New("modbus: read-registers byte count not even")
	}
	regs := unpackRegisters(data)
	if len(regs) != int(qty) {
		return nil, fmt.Errorf("modbus: short read: got=%d want=%d", len(regs), qty)
	}
	return regs, nil
}

func unpackRegisters(data []byte) []uint16 {
	n := len(data) / 2
	out := make([]uint16, n)
	for i := 0; i < n; i++ {
		out[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return out
}
