package flasher

import (
	"time"

	"github.com/bigbag/xbit-flasher/internal/layout"
	"github.com/bigbag/xbit-flasher/internal/protocol"
)

// Default settle delays
const (
	DefaultCommandSettle = 2 * time.Millisecond
	DefaultDataSettle    = 8 * time.Millisecond
	DefaultEraseSettle   = 2 * time.Second
)

// SectorSize is the size of one write/read transfer, half a block.
const SectorSize = 0x8000

// RetryPolicy bounds the retries of a failed chunk write.
type RetryPolicy struct {
	// MaxAttempts is the number of write attempts per chunk; 0 retries until
	// the write succeeds or the context is cancelled.
	MaxAttempts int

	// Delay is the wait between a failed attempt and the next one.
	Delay time.Duration
}

// Config holds the flasher configuration.
type Config struct {
	// ProgressCallback is called to report progress (optional)
	ProgressCallback ProgressCallback

	// Logger is used for logging operations (optional)
	Logger Logger

	// Retry controls chunk write retries
	Retry RetryPolicy

	// CommandSettle is the wait after a command report
	CommandSettle time.Duration

	// DataSettle is the wait after a report carrying write data
	DataSettle time.Duration

	// EraseSettle is the wait between erasing a bank and writing it
	EraseSettle time.Duration

	// Manufacturer and Product are the expected identity strings
	Manufacturer string
	Product      string

	// Layouts is the layout table; nil means the built-in table
	Layouts *layout.Table
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		Retry: RetryPolicy{
			MaxAttempts: 0,
			Delay:       DefaultDataSettle,
		},
		CommandSettle: DefaultCommandSettle,
		DataSettle:    DefaultDataSettle,
		EraseSettle:   DefaultEraseSettle,
		Manufacturer:  protocol.Manufacturer,
		Product:       protocol.Product,
	}
}

// Option is a functional option for configuring the Flasher.
type Option func(*Config)

// WithProgressCallback sets a callback function to track progress.
func WithProgressCallback(callback ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = callback
	}
}

// WithLogger sets a logger for flasher operations.
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithRetryPolicy replaces the chunk write retry policy.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Config) {
		if policy.MaxAttempts >= 0 && policy.Delay >= 0 {
			c.Retry = policy
		}
	}
}

// WithMaxWriteAttempts limits the write attempts per chunk. 0 means unlimited.
//
// Example:
//
//	f := flasher.New(open, flasher.WithMaxWriteAttempts(100))
func WithMaxWriteAttempts(attempts int) Option {
	return func(c *Config) {
		if attempts >= 0 {
			c.Retry.MaxAttempts = attempts
		}
	}
}

// WithSettleDelays sets the waits after command reports, after data reports
// and between erasing and writing a bank. Negative values are ignored.
func WithSettleDelays(command, data, erase time.Duration) Option {
	return func(c *Config) {
		if command >= 0 {
			c.CommandSettle = command
		}
		if data >= 0 {
			c.DataSettle = data
		}
		if erase >= 0 {
			c.EraseSettle = erase
		}
	}
}

// WithIdentity sets the expected manufacturer and product strings.
func WithIdentity(manufacturer, product string) Option {
	return func(c *Config) {
		c.Manufacturer = manufacturer
		c.Product = product
	}
}

// WithLayouts sets the layout table.
func WithLayouts(t *layout.Table) Option {
	return func(c *Config) {
		c.Layouts = t
	}
}
