package modbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rshade/regscan/internal/config"
	"github.com/rshade/regscan/internal/logging"
	"github.com/rshade/regscan/internal/register"
)

// Options configures a Client.
type Options struct {
	URL        string
	Driver     string
	UnitID     int
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration

	BaudRate uint
	DataBits uint
	Parity   string
	StopBits uint
}

// OptionsFromConfig builds Options for deviceURL from the connection settings.
func OptionsFromConfig(deviceURL string, cc config.ConnectionConfig) Options {
	return Options{
		URL:        deviceURL,
		Driver:     cc.Driver,
		UnitID:     cc.UnitID,
		Timeout:    cc.Timeout,
		Retries:    cc.Retries,
		RetryDelay: cc.RetryDelay,
		BaudRate:   cc.BaudRate,
		DataBits:   cc.DataBits,
		Parity:     cc.Parity,
		StopBits:   cc.StopBits,
	}
}

// Client reads registers from one device. It implements register.Reader.
type Client struct {
	dev        device
	url        string
	retries    int
	retryDelay time.Duration
	now        func() time.Time

	mu     sync.Mutex
	closed bool
}

var _ register.Reader = (*Client)(nil)

// Dial creates the driver for opts and opens the connection.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	dev, err := newDevice(opts)
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Debug().Ctx(ctx).
		Str("component", "modbus").
		Str("device", opts.URL).
		Str("driver", opts.Driver).
		Int("unit_id", opts.UnitID).
		Dur("timeout", opts.Timeout).
		Msg("opening connection")

	if err = dev.Open(); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", opts.URL, err)
	}
	return newClient(dev, opts), nil
}

func newClient(dev device, opts Options) *Client {
	return &Client{
		dev:        dev,
		url:        opts.URL,
		retries:    max(opts.Retries, 0),
		retryDelay: opts.RetryDelay,
		now:        time.Now,
	}
}

// Close closes the connection. Further reads fail with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.dev.Close()
}

// ReadMultipleRegisters reads count registers starting at startAddress in one request.
// Every returned entry is accessible; a failed request returns an error wrapping a
// *register.ReadError.
func (c *Client) ReadMultipleRegisters(
	ctx context.Context,
	startAddress, count int,
	fc register.FunctionCode,
) ([]register.Info, error) {
	if err := validateRequest(startAddress, count, fc); err != nil {
		return nil, err
	}

	var values []any
	err := c.withRetry(ctx, startAddress, count, fc, func() error {
		var readErr error
		values, readErr = c.read(fc, uint16(startAddress), uint16(count)) //nolint:gosec // range checked above
		return readErr
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("reading %s %d..%d: %w", fc, startAddress, startAddress+count-1, err)
		}
		return nil, fmt.Errorf("reading %s %d..%d: %w", fc, startAddress, startAddress+count-1, describe(err))
	}

	ts := c.now()
	infos := make([]register.Info, len(values))
	for i, v := range values {
		infos[i] = register.NewInfo(startAddress+i, fc, v, ts)
	}
	return infos, nil
}

// ReadSingleRegister reads one register.
func (c *Client) ReadSingleRegister(ctx context.Context, address int, fc register.FunctionCode) (register.Info, error) {
	infos, err := c.ReadMultipleRegisters(ctx, address, 1, fc)
	if err != nil {
		return register.Info{}, err
	}
	return infos[0], nil
}

func (c *Client) read(fc register.FunctionCode, addr, qty uint16) ([]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	values := make([]any, 0, qty)
	if fc.DataType().IsBit() {
		bits, err := c.dev.ReadBits(fc, addr, qty)
		if err != nil {
			return nil, err
		}
		if len(bits) < int(qty) {
			return nil, fmt.Errorf("%w: got %d of %d", ErrShortResponse, len(bits), qty)
		}
		for _, b := range bits[:qty] {
			values = append(values, b)
		}
		return values, nil
	}

	words, err := c.dev.ReadWords(fc, addr, qty)
	if err != nil {
		return nil, err
	}
	if len(words) < int(qty) {
		return nil, fmt.Errorf("%w: got %d of %d", ErrShortResponse, len(words), qty)
	}
	for _, w := range words[:qty] {
		values = append(values, w)
	}
	return values, nil
}

// withRetry runs op up to retries+1 times, sleeping retryDelay between attempts.
// Context cancellation stops the loop; non-retryable errors return immediately.
func (c *Client) withRetry(
	ctx context.Context,
	startAddress, count int,
	fc register.FunctionCode,
	op func() error,
) error {
	var err error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return fmt.Errorf("%w (last error: %w)", ctxErr, err)
			}
			return ctxErr
		}

		if err = op(); err == nil {
			return nil
		}
		if !retryable(err) || attempt == c.retries {
			break
		}

		logging.FromContext(ctx).Debug().Ctx(ctx).
			Str("component", "modbus").
			Str("device", c.url).
			Int("function_code", int(fc)).
			Int("start_address", startAddress).
			Int("count", count).
			Int("attempt", attempt+1).
			Err(err).
			Msg("read failed, retrying")

		if sleepErr := sleep(ctx, c.retryDelay); sleepErr != nil {
			return fmt.Errorf("%w (last error: %w)", sleepErr, err)
		}
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func validateRequest(startAddress, count int, fc register.FunctionCode) error {
	switch {
	case !fc.Valid():
		return fmt.Errorf("%w: %w: got %d", ErrInvalidRequest, register.ErrInvalidFunctionCode, int(fc))
	case count < 1 || count > register.MaxReadCount:
		return fmt.Errorf("%w: count must be between 1 and %d, got %d", ErrInvalidRequest, register.MaxReadCount, count)
	case startAddress < 0 || startAddress+count-1 > register.MaxAddress:
		return fmt.Errorf("%w: addresses %d..%d outside 0..%d",
			ErrInvalidRequest, startAddress, startAddress+count-1, register.MaxAddress)
	}
	return nil
}
