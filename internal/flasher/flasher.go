package flasher

import (
	"fmt"

	"github.com/bigbag/xbit-flasher/internal/layout"
	"github.com/bigbag/xbit-flasher/internal/protocol"
)

// Transport is an opened X-Bit programming interface.
type Transport interface {
	protocol.Device
	Manufacturer() (string, error)
	Product() (string, error)
	Close() error
}

// Opener opens the transport of the attached device.
type Opener func() (Transport, error)

// Flasher handles banks of an X-Bit modchip.
//
// A Flasher drives a single device and must not be used concurrently:
// the device processes one report at a time.
type Flasher struct {
	open    Opener
	config  Config
	layouts *layout.Table

	dev        Transport
	link       *protocol.Link
	state      State
	identified bool

	status      protocol.Status
	statusFresh bool

	layout       int
	manufacturer string
	product      string
}

// New creates a new Flasher that opens its device with open.
func New(open Opener, opts ...Option) *Flasher {
	if open == nil {
		panic("opener cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	layouts := cfg.Layouts
	if layouts == nil {
		layouts = layout.Default()
	}

	return &Flasher{
		open:    open,
		config:  cfg,
		layouts: layouts,
		state:   StateClosed,
	}
}

// Layout returns the layout the device is configured with.
func (f *Flasher) Layout() int {
	return f.layout
}

// Layouts returns the layout table used to address banks.
func (f *Flasher) Layouts() *layout.Table {
	return f.layouts
}

// State returns the session state.
func (f *Flasher) State() State {
	return f.state
}

// Identity returns the manufacturer and product strings read at open.
func (f *Flasher) Identity() (manufacturer, product string) {
	return f.manufacturer, f.product
}

// region resolves a bank of the configured layout.
func (f *Flasher) region(bank int) (layout.Region, error) {
	return f.layouts.Region(f.layout, bank)
}

// reportProgress calls the progress callback if set.
func (f *Flasher) reportProgress(p Progress) {
	if f.config.ProgressCallback != nil {
		f.config.ProgressCallback(p)
	}
}

func (f *Flasher) traceReport(out bool, r *protocol.Report) {
	dir := "in"
	if out {
		dir = "out"
	}
	f.logDebug("report",
		"dir", dir,
		"cmd", protocol.CommandName(r.Command()),
		"bytes", fmt.Sprintf("% X", r[:]),
	)
}

// logDebug logs a debug message if a logger is configured.
func (f *Flasher) logDebug(msg string, keysAndValues ...interface{}) {
	if f.config.Logger != nil {
		f.config.Logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if a logger is configured.
func (f *Flasher) logInfo(msg string, keysAndValues ...interface{}) {
	if f.config.Logger != nil {
		f.config.Logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if a logger is configured.
func (f *Flasher) logWarn(msg string, keysAndValues ...interface{}) {
	if f.config.Logger != nil {
		f.config.Logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if a logger is configured.
func (f *Flasher) logError(msg string, keysAndValues ...interface{}) {
	if f.config.Logger != nil {
		f.config.Logger.Error(msg, keysAndValues...)
	}
}
