package modbus

import (
	"context"
	"errors"
	"fmt"
	"os"

	gbmodbus "github.com/goburrow/modbus"
	svmodbus "github.com/simonvetter/modbus"

	"github.com/rshade/regscan/internal/register"
)

// Modbus exception codes (Modbus Application Protocol v1.1b3, section 7).
const (
	exIllegalFunction         byte = 0x01
	exIllegalDataAddress      byte = 0x02
	exIllegalDataValue        byte = 0x03
	exServerDeviceFailure     byte = 0x04
	exAcknowledge             byte = 0x05
	exServerDeviceBusy        byte = 0x06
	exMemoryParityError       byte = 0x08
	exGatewayPathUnavailable  byte = 0x0A
	exGatewayTargetNoResponse byte = 0x0B
)

// Errors returned before any request reaches the device.
var (
	ErrUnsupportedDriver = errors.New("unsupported modbus driver")
	ErrUnsupportedURL    = errors.New("unsupported device URL")
	ErrInvalidRequest    = errors.New("invalid read request")
	ErrShortResponse     = errors.New("response shorter than requested")
	ErrClosed            = errors.New("client is closed")
)

type exception struct {
	message     string
	description string
	retryable   bool
}

//nolint:gochecknoglobals // Lookup table keyed by protocol exception code.
var exceptions = map[byte]exception{
	exIllegalFunction: {
		"illegal function",
		"the device does not support this function code",
		false,
	},
	exIllegalDataAddress: {
		"illegal data address",
		"the address range is not mapped on the device",
		false,
	},
	exIllegalDataValue: {
		"illegal data value",
		"the device rejected the requested quantity",
		false,
	},
	exServerDeviceFailure: {
		"server device failure",
		"the device hit an unrecoverable error while reading",
		false,
	},
	exAcknowledge: {
		"acknowledge",
		"the device accepted the request but needs more time",
		true,
	},
	exServerDeviceBusy: {
		"server device busy",
		"the device is processing a long-running command",
		true,
	},
	exMemoryParityError: {
		"memory parity error",
		"the device detected a parity error in its memory",
		false,
	},
	exGatewayPathUnavailable: {
		"gateway path unavailable",
		"the gateway has no path to the target unit",
		false,
	},
	exGatewayTargetNoResponse: {
		"gateway target failed to respond",
		"the gateway got no answer from the target unit",
		true,
	},
}

// simonvetterExceptions maps the library's exception errors back to protocol codes.
//
//nolint:gochecknoglobals // Lookup table.
var simonvetterExceptions = map[error]byte{
	svmodbus.ErrIllegalFunction:         exIllegalFunction,
	svmodbus.ErrIllegalDataAddress:      exIllegalDataAddress,
	svmodbus.ErrIllegalDataValue:        exIllegalDataValue,
	svmodbus.ErrServerDeviceFailure:     exServerDeviceFailure,
	svmodbus.ErrAcknowledge:             exAcknowledge,
	svmodbus.ErrServerDeviceBusy:        exServerDeviceBusy,
	svmodbus.ErrMemoryParityError:       exMemoryParityError,
	svmodbus.ErrGWPathUnavailable:       exGatewayPathUnavailable,
	svmodbus.ErrGWTargetFailedToRespond: exGatewayTargetNoResponse,
}

// exceptionCode extracts the Modbus exception code carried by err, if any.
func exceptionCode(err error) (byte, bool) {
	var gbErr *gbmodbus.ModbusError
	if errors.As(err, &gbErr) {
		return gbErr.ExceptionCode, true
	}
	for libErr, code := range simonvetterExceptions {
		if errors.Is(err, libErr) {
			return code, true
		}
	}
	return 0, false
}

func isTimeout(err error) bool {
	return errors.Is(err, svmodbus.ErrRequestTimedOut) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded)
}

// describe converts a driver error into a register.ReadError.
func describe(err error) *register.ReadError {
	if err == nil {
		return nil
	}
	var re *register.ReadError
	if errors.As(err, &re) {
		return re
	}
	if code, ok := exceptionCode(err); ok {
		if ex, known := exceptions[code]; known {
			return &register.ReadError{Message: ex.message, Description: ex.description}
		}
		return &register.ReadError{
			Message:     fmt.Sprintf("exception 0x%02X", code),
			Description: "the device returned an unknown exception code",
		}
	}
	switch {
	case isTimeout(err):
		return &register.ReadError{Message: "timeout", Description: "no response from the device within the configured timeout"}
	case errors.Is(err, ErrShortResponse):
		return &register.ReadError{Message: "short response", Description: err.Error()}
	default:
		return &register.ReadError{Message: "transport error", Description: err.Error()}
	}
}

// retryable reports whether repeating the request may succeed. Exceptions that
// describe the register map are final; transport failures and busy devices are not.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrInvalidRequest) || errors.Is(err, ErrClosed) {
		return false
	}
	if code, ok := exceptionCode(err); ok {
		ex, known := exceptions[code]
		return known && ex.retryable
	}
	return true
}
