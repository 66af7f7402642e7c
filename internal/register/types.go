package register

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MaxReadCount is the largest number of registers a single Modbus read may request.
const MaxReadCount = 125

// MaxAddress is the highest addressable register in the 16-bit Modbus address space.
const MaxAddress = 65535

// ErrInvalidFunctionCode is returned when a function code is not one of the four read codes.
var ErrInvalidFunctionCode = errors.New("function code must be 1, 2, 3 or 4")

// FunctionCode selects the Modbus register bank to read.
type FunctionCode int

// Supported read function codes.
const (
	FuncCoil            FunctionCode = 1
	FuncDiscreteInput   FunctionCode = 2
	FuncHoldingRegister FunctionCode = 3
	FuncInputRegister   FunctionCode = 4
)

// AllFunctionCodes lists every supported read function code in protocol order.
func AllFunctionCodes() []FunctionCode {
	return []FunctionCode{FuncCoil, FuncDiscreteInput, FuncHoldingRegister, FuncInputRegister}
}

// Valid reports whether fc is one of the four read function codes.
func (fc FunctionCode) Valid() bool {
	return fc >= FuncCoil && fc <= FuncInputRegister
}

// DataType returns the data type read by fc.
func (fc FunctionCode) DataType() DataType {
	switch fc {
	case FuncCoil:
		return DataTypeCoil
	case FuncDiscreteInput:
		return DataTypeDiscrete
	case FuncHoldingRegister:
		return DataTypeHolding
	case FuncInputRegister:
		return DataTypeInput
	default:
		return DataTypeUnknown
	}
}

// String returns a short human-readable name, e.g. "FC03 holding".
func (fc FunctionCode) String() string {
	return fmt.Sprintf("FC%02d %s", int(fc), fc.DataType())
}

// ParseFunctionCode parses a single function code such as "3" or "03".
func ParseFunctionCode(s string) (FunctionCode, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFunctionCode, s)
	}
	fc := FunctionCode(n)
	if !fc.Valid() {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidFunctionCode, n)
	}
	return fc, nil
}

// ParseFunctionCodes parses a comma-separated list such as "1,3,4".
// Duplicates are dropped while preserving first-seen order.
func ParseFunctionCodes(s string) ([]FunctionCode, error) {
	var codes []FunctionCode
	seen := make(map[FunctionCode]bool)
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		fc, err := ParseFunctionCode(part)
		if err != nil {
			return nil, err
		}
		if seen[fc] {
			continue
		}
		seen[fc] = true
		codes = append(codes, fc)
	}
	if len(codes) == 0 {
		return nil, fmt.Errorf("%w: empty list", ErrInvalidFunctionCode)
	}
	return codes, nil
}

// DataType is the kind of value stored at a register address.
type DataType string

// Data types, one per function code.
const (
	DataTypeCoil     DataType = "coil"
	DataTypeDiscrete DataType = "discrete"
	DataTypeHolding  DataType = "holding"
	DataTypeInput    DataType = "input"
	DataTypeUnknown  DataType = "unknown"
)

func (dt DataType) String() string {
	return string(dt)
}

// IsBit reports whether values of this type are booleans.
func (dt DataType) IsBit() bool {
	return dt == DataTypeCoil || dt == DataTypeDiscrete
}

// DefaultValue returns the synthetic value reported for an inaccessible register:
// false for bit types and uint16(0) for word types.
func (dt DataType) DefaultValue() any {
	if dt.IsBit() {
		return false
	}
	return uint16(0)
}

// ReadError describes why a register could not be read.
type ReadError struct {
	Message     string `json:"message"`
	Description string `json:"description,omitempty"`
}

// Error implements the error interface.
func (e *ReadError) Error() string {
	if e.Description == "" {
		return e.Message
	}
	return e.Message + ": " + e.Description
}

// Info is the outcome of reading one register address.
type Info struct {
	Address      int          `json:"address"`
	FunctionCode FunctionCode `json:"function_code"`
	DataType     DataType     `json:"data_type"`
	Value        any          `json:"value"`
	Accessible   bool         `json:"accessible"`
	Timestamp    time.Time    `json:"timestamp"`
	Error        *ReadError   `json:"error,omitempty"`
}

// NewInfo builds an accessible Info for a value read from the device.
func NewInfo(address int, fc FunctionCode, value any, ts time.Time) Info {
	return Info{
		Address:      address,
		FunctionCode: fc,
		DataType:     fc.DataType(),
		Value:        value,
		Accessible:   true,
		Timestamp:    ts,
	}
}

// NewInaccessible builds the Info reported when reading address failed with err.
// The value is the data type default. A *ReadError in err's chain is used as is;
// any other error becomes a ReadError with its text as the message.
func NewInaccessible(address int, fc FunctionCode, err error, ts time.Time) Info {
	dt := fc.DataType()
	info := Info{
		Address:      address,
		FunctionCode: fc,
		DataType:     dt,
		Value:        dt.DefaultValue(),
		Accessible:   false,
		Timestamp:    ts,
	}
	if err != nil {
		info.Error = AsReadError(err)
	}
	return info
}

// AsReadError returns the *ReadError in err's chain, or wraps err's text in a new one.
func AsReadError(err error) *ReadError {
	if err == nil {
		return nil
	}
	var re *ReadError
	if errors.As(err, &re) {
		return re
	}
	return &ReadError{Message: err.Error()}
}

// FormatValue renders the register value for display. Bit types print as 0/1.
func (i Info) FormatValue() string {
	switch v := i.Value.(type) {
	case bool:
		if v {
			return "1"
		}
		return "0"
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Batch is a planned read of Count contiguous registers starting at StartAddress.
type Batch struct {
	StartAddress int          `json:"start_address"`
	Count        int          `json:"count"`
	FunctionCode FunctionCode `json:"function_code"`
}

// EndAddress returns the last address covered by the batch.
func (b Batch) EndAddress() int {
	return b.StartAddress + b.Count - 1
}

// Addresses lists every address covered by the batch in ascending order.
func (b Batch) Addresses() []int {
	if b.Count <= 0 {
		return nil
	}
	addrs := make([]int, b.Count)
	for i := range addrs {
		addrs[i] = b.StartAddress + i
	}
	return addrs
}

// Reader reads registers from one device over one connection.
//
// ReadMultipleRegisters must return exactly count entries in address order on success,
// each carrying its own Accessible flag. Both methods may fail; timeout and retry policy
// belong to the implementation.
type Reader interface {
	ReadMultipleRegisters(ctx context.Context, startAddress, count int, fc FunctionCode) ([]Info, error)
	ReadSingleRegister(ctx context.Context, address int, fc FunctionCode) (Info, error)
}
