package modbus

import (
	"encoding/binary"
	"fmt"
	"net/url"
	"strings"

	gbmodbus "github.com/goburrow/modbus"
	svmodbus "github.com/simonvetter/modbus"

	"github.com/rshade/regscan/internal/config"
	"github.com/rshade/regscan/internal/register"
)

// device is the driver-facing side of a Client. Implementations return exactly qty
// values or an error.
type device interface {
	Open() error
	Close() error
	ReadBits(fc register.FunctionCode, addr, qty uint16) ([]bool, error)
	ReadWords(fc register.FunctionCode, addr, qty uint16) ([]uint16, error)
}

// newDevice builds the driver selected by opts.Driver.
func newDevice(opts Options) (device, error) {
	switch opts.Driver {
	case "", config.DriverSimonvetter:
		return newSimonvetterDevice(opts)
	case config.DriverGoburrow:
		return newGoburrowDevice(opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, opts.Driver)
	}
}

// simonvetterDevice wraps github.com/simonvetter/modbus.
type simonvetterDevice struct {
	client *svmodbus.ModbusClient
	unitID uint8
}

func newSimonvetterDevice(opts Options) (*simonvetterDevice, error) {
	parity := uint(svmodbus.PARITY_NONE)
	switch strings.ToUpper(opts.Parity) {
	case "E":
		parity = svmodbus.PARITY_EVEN
	case "O":
		parity = svmodbus.PARITY_ODD
	}

	client, err := svmodbus.NewClient(&svmodbus.ClientConfiguration{
		URL:      opts.URL,
		Speed:    opts.BaudRate,
		DataBits: opts.DataBits,
		Parity:   parity,
		StopBits: opts.StopBits,
		Timeout:  opts.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnsupportedURL, opts.URL, err)
	}
	return &simonvetterDevice{client: client, unitID: uint8(opts.UnitID)}, nil //nolint:gosec // unit id validated by config
}

func (d *simonvetterDevice) Open() error {
	if err := d.client.Open(); err != nil {
		return err
	}
	d.client.SetUnitId(d.unitID)
	return nil
}

func (d *simonvetterDevice) Close() error {
	return d.client.Close()
}

func (d *simonvetterDevice) ReadBits(fc register.FunctionCode, addr, qty uint16) ([]bool, error) {
	if fc == register.FuncDiscreteInput {
		return d.client.ReadDiscreteInputs(addr, qty)
	}
	return d.client.ReadCoils(addr, qty)
}

func (d *simonvetterDevice) ReadWords(fc register.FunctionCode, addr, qty uint16) ([]uint16, error) {
	regType := svmodbus.HOLDING_REGISTER
	if fc == register.FuncInputRegister {
		regType = svmodbus.INPUT_REGISTER
	}
	return d.client.ReadRegisters(addr, qty, regType)
}

// goburrowHandler is satisfied by both TCP and RTU handlers of github.com/goburrow/modbus.
type goburrowHandler interface {
	gbmodbus.ClientHandler
	Connect() error
	Close() error
}

// goburrowDevice wraps github.com/goburrow/modbus, which returns raw PDU bytes.
type goburrowDevice struct {
	handler goburrowHandler
	client  gbmodbus.Client
}

func newGoburrowDevice(opts Options) (*goburrowDevice, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnsupportedURL, opts.URL, err)
	}

	var handler goburrowHandler
	switch u.Scheme {
	case "tcp":
		h := gbmodbus.NewTCPClientHandler(u.Host)
		h.SlaveId = byte(opts.UnitID) //nolint:gosec // unit id validated by config
		h.Timeout = opts.Timeout
		handler = h
	case "rtu":
		h := gbmodbus.NewRTUClientHandler(u.Path)
		h.SlaveId = byte(opts.UnitID) //nolint:gosec // unit id validated by config
		h.Timeout = opts.Timeout
		h.BaudRate = int(opts.BaudRate)
		h.DataBits = int(opts.DataBits)
		h.StopBits = int(opts.StopBits)
		h.Parity = strings.ToUpper(opts.Parity)
		if h.Parity == "" {
			h.Parity = "N"
		}
		handler = h
	default:
		return nil, fmt.Errorf("%w: %s (goburrow supports tcp:// and rtu://)", ErrUnsupportedURL, opts.URL)
	}

	return &goburrowDevice{handler: handler, client: gbmodbus.NewClient(handler)}, nil
}

func (d *goburrowDevice) Open() error {
	return d.handler.Connect()
}

func (d *goburrowDevice) Close() error {
	return d.handler.Close()
}

func (d *goburrowDevice) ReadBits(fc register.FunctionCode, addr, qty uint16) ([]bool, error) {
	var raw []byte
	var err error
	if fc == register.FuncDiscreteInput {
		raw, err = d.client.ReadDiscreteInputs(addr, qty)
	} else {
		raw, err = d.client.ReadCoils(addr, qty)
	}
	if err != nil {
		return nil, err
	}
	return unpackBits(raw, int(qty))
}

func (d *goburrowDevice) ReadWords(fc register.FunctionCode, addr, qty uint16) ([]uint16, error) {
	var raw []byte
	var err error
	if fc == register.FuncInputRegister {
		raw, err = d.client.ReadInputRegisters(addr, qty)
	} else {
		raw, err = d.client.ReadHoldingRegisters(addr, qty)
	}
	if err != nil {
		return nil, err
	}
	return unpackWords(raw, int(qty))
}

// unpackBits decodes qty bits packed LSB-first, as coils and discrete inputs travel
// on the wire.
func unpackBits(raw []byte, qty int) ([]bool, error) {
	if len(raw)*8 < qty {
		return nil, fmt.Errorf("%w: %d bytes for %d bits", ErrShortResponse, len(raw), qty)
	}
	bits := make([]bool, qty)
	for i := range bits {
		bits[i] = raw[i/8]&(1<<(i%8)) != 0
	}
	return bits, nil
}

// unpackWords decodes qty big-endian 16-bit registers.
func unpackWords(raw []byte, qty int) ([]uint16, error) {
	if len(raw) < qty*2 {
		return nil, fmt.Errorf("%w: %d bytes for %d registers", ErrShortResponse, len(raw), qty)
	}
	words := make([]uint16, qty)
	for i := range words {
		words[i] = binary.BigEndian.Uint16(raw[i*2:])
	}
	return words, nil
}
