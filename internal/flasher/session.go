package flasher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bigbag/xbit-flasher/internal/protocol"
)

// State is the session state of a Flasher.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateReady
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Open opens the device, checks its identity and reads its status.
// On success the Flasher is ready and Layout reports the configured layout.
func (f *Flasher) Open(ctx context.Context) error {
	if f.state != StateClosed {
		return fmt.Errorf("open: device already %s", f.state)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dev, err := f.open()
	if err != nil {
		return fmt.Errorf("failed to open device: %w", err)
	}

	f.dev = dev
	f.link = protocol.NewLink(dev)
	if f.config.Logger != nil {
		f.link.SetTrace(f.traceReport)
	}
	f.state = StateOpen

	if err := f.checkIdentity(); err != nil {
		f.Close()
		return err
	}
	f.identified = true

	status, err := f.queryStatus()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to get initial status from modchip: %w", err)
	}

	f.layout = int(status.Page)
	f.state = StateReady

	f.logInfo("device ready",
		"manufacturer", f.manufacturer,
		"product", f.product,
		"layout", f.layout,
		"status", status.String(),
	)
	return nil
}

// checkIdentity compares the identity strings with the expected ones.
// Only the length of the expected string is compared.
func (f *Flasher) checkIdentity() error {
	mfg, err := f.dev.Manufacturer()
	if err != nil {
		return fmt.Errorf("failed to read manufacturer string: %w", err)
	}
	if !strings.HasPrefix(mfg, f.config.Manufacturer) {
		return &IdentityError{Field: "manufacturer", Expected: f.config.Manufacturer, Actual: mfg}
	}

	product, err := f.dev.Product()
	if err != nil {
		return fmt.Errorf("failed to read product string: %w", err)
	}
	if !strings.HasPrefix(product, f.config.Product) {
		return &IdentityError{Field: "product", Expected: f.config.Product, Actual: product}
	}

	f.manufacturer = mfg
	f.product = product
	return nil
}

// Close resets the device and releases the transport. It is safe to call
// Close more than once. A failed reset does not keep the transport open.
func (f *Flasher) Close() error {
	if f.dev == nil {
		f.state = StateClosed
		return nil
	}

	if f.identified {
		if err := f.send(protocol.ResetReport(), f.config.CommandSettle); err != nil {
			f.logWarn("reset failed", "error", err)
		}
	}

	err := f.dev.Close()

	f.dev = nil
	f.link = nil
	f.identified = false
	f.statusFresh = false
	f.state = StateClosed

	if err != nil {
		return fmt.Errorf("failed to close device: %w", err)
	}
	return nil
}

// Status queries the device status.
func (f *Flasher) Status(ctx context.Context) (protocol.Status, error) {
	if err := f.requireReady("status"); err != nil {
		return protocol.Status{}, err
	}
	if err := ctx.Err(); err != nil {
		return protocol.Status{}, err
	}
	return f.queryStatus()
}

// LastStatus returns the last status snapshot. fresh is false once any
// other command has been sent since the snapshot was taken.
func (f *Flasher) LastStatus() (status protocol.Status, fresh bool) {
	return f.status, f.statusFresh
}

func (f *Flasher) requireReady(op string) error {
	if f.state != StateReady {
		return fmt.Errorf("%s: %w (session %s)", op, ErrNotReady, f.state)
	}
	return nil
}

// send writes one report. Any report makes the status snapshot stale.
func (f *Flasher) send(r *protocol.Report, settle time.Duration) error {
	f.statusFresh = false
	return f.link.Send(r, settle)
}

// queryStatus sends CMD_GET_STATUS and reads the reply.
func (f *Flasher) queryStatus() (protocol.Status, error) {
	if err := f.send(protocol.StatusRequest(), f.config.CommandSettle); err != nil {
		return protocol.Status{}, err
	}

	r, err := f.link.Receive()
	if err != nil {
		return protocol.Status{}, fmt.Errorf("read status reply: %w", err)
	}

	status, err := protocol.ParseStatus(r)
	if err != nil {
		return protocol.Status{}, err
	}

	f.status = status
	f.statusFresh = true
	return status, nil
}
