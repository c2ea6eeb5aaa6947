// internal/modbus/client.go
package modbus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"
)

// Coil values for FC5.
const (
	coilOn  uint16 = 0xFF00
	coilOff uint16 = 0x0000
)

// Client is a single connection (TCP or RTU) shared by every unit behind it.
// It serializes requests because it mutates SlaveId per call.
type Client struct {
	mu      sync.Mutex
	name    string
	handler handler
	client  modbus.Client
}

type handler interface {
	modbus.ClientHandler
	Connect() error
	Close() error
	setUnit(unit uint8)
}

type TCPConfig struct {
	Endpoint string
	Timeout  time.Duration
}

type SerialConfig struct {
	Port     string
	BaudRate int
	DataBits int
	Parity   string
	StopBits int
	Timeout  time.Duration
}

// ---- handlers ----

type tcpHandler struct {
	*modbus.TCPClientHandler
}

func (h tcpHandler) setUnit(unit uint8) { h.SlaveId = unit }

type rtuHandler struct {
	*modbus.RTUClientHandler
}

func (h rtuHandler) setUnit(unit uint8) { h.SlaveId = unit }

// NewTCP dials a Modbus TCP endpoint.
func NewTCP(cfg TCPConfig) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("modbus tcp: endpoint required")
	}

	h := modbus.NewTCPClientHandler(cfg.Endpoint)
	h.Timeout = cfg.Timeout

	return newClient("tcp "+cfg.Endpoint, tcpHandler{h})
}

// NewRTU opens a serial port for Modbus RTU.
func NewRTU(cfg SerialConfig) (*Client, error) {
	if cfg.Port == "" {
		return nil, errors.New("modbus rtu: port required")
	}

	h := modbus.NewRTUClientHandler(cfg.Port)
	h.BaudRate = cfg.BaudRate
	h.DataBits = cfg.DataBits
	h.Parity = cfg.Parity
	h.StopBits = cfg.StopBits
	h.Timeout = cfg.Timeout
	h.IdleTimeout = cfg.Timeout

	return newClient("rtu "+cfg.Port, rtuHandler{h})
}

func newClient(name string, h handler) (*Client, error) {
	if err := h.Connect(); err != nil {
		return nil, fmt.Errorf("modbus %s: connect: %w", name, err)
	}

	return &Client{
		name:    name,
		handler: h,
		client:  modbus.NewClient(h),
	}, nil
}

func (c *Client) String() string { return c.name }

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler.Close()
}

// ------------------------------------------------------------
// READS
// ------------------------------------------------------------

func (c *Client) ReadCoils(unit uint8, addr, qty uint16) ([]bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handler.setUnit(unit)

	pdu, err := c.client.ReadCoils(addr, qty)
	if err != nil {
		return nil, wrap(err)
	}
	if len(pdu) < (int(qty)+7)/8 {
		return nil, fmt.Errorf("short coil response: %d bytes for %d coils", len(pdu), qty)
	}
	return unpackBits(pdu, int(qty)), nil
}

func (c *Client) ReadHoldingRegisters(unit uint8, addr, qty uint16) ([]uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handler.setUnit(unit)

	pdu, err := c.client.ReadHoldingRegisters(addr, qty)
	if err != nil {
		return nil, wrap(err)
	}
	return registers(pdu, qty)
}

func (c *Client) ReadInputRegisters(unit uint8, addr, qty uint16) ([]uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handler.setUnit(unit)

	pdu, err := c.client.ReadInputRegisters(addr, qty)
	if err != nil {
		return nil, wrap(err)
	}
	return registers(pdu, qty)
}

// ------------------------------------------------------------
// WRITES
// ------------------------------------------------------------

func (c *Client) WriteSingleCoil(unit uint8, addr uint16, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handler.setUnit(unit)

	value := coilOff
	if on {
		value = coilOn
	}

	_, err := c.client.WriteSingleCoil(addr, value)
	return wrap(err)
}

func (c *Client) WriteSingleRegister(unit uint8, addr, value uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handler.setUnit(unit)

	_, err := c.client.WriteSingleRegister(addr, value)
	return wrap(err)
}

// ------------------------------------------------------------
// HELPERS
// ------------------------------------------------------------

func registers(pdu []byte, qty uint16) ([]uint16, error) {
	if len(pdu) != int(qty)*2 {
		return nil, fmt.Errorf("short register response: %d bytes for %d registers", len(pdu), qty)
	}
	return unpackRegisters(pdu), nil
}

func unpackBits(data []byte, count int) []bool {
	out := make([]bool, count)
	for i := 0; i < count; i++ {
		byteIdx := i / 8
		bitIdx := i % 8
		if byteIdx >= len(data) {
			out[i] = false
			continue
		}
		out[i] = (data[byteIdx]&(1<<bitIdx) != 0)
	}
	return out
}

func unpackRegisters(data []byte) []uint16 {
	n := len(data) / 2
	out := make([]uint16, n)
	for i := 0; i < n; i++ {
		out[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return out
}
