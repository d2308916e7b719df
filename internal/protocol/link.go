package protocol

import (
	"errors"
	"fmt"
	"time"
)

// ErrShortTransfer means the transport moved fewer bytes than a full report.
var ErrShortTransfer = errors.New("short transfer")

// Device is the report channel to the programmer.
type Device interface {
	// Write sends one output report.
	Write(p []byte) (int, error)
	// GetFeatureReport reads one feature report; p[0] must hold the report ID.
	GetFeatureReport(p []byte) (int, error)
}

// TraceFunc is called for every report that crossed the link.
type TraceFunc func(out bool, r *Report)

// Link exchanges reports with the device, one at a time.
type Link struct {
	dev   Device
	trace TraceFunc
}

// NewLink creates a Link over dev.
func NewLink(dev Device) *Link {
	return &Link{dev: dev}
}

// SetTrace sets the report trace function.
func (l *Link) SetTrace(fn TraceFunc) {
	l.trace = fn
}

// Send writes one report and then waits settle before returning.
// The device corrupts commands that arrive before it has settled, so the
// wait happens even when the write failed.
func (l *Link) Send(r *Report, settle time.Duration) error {
	n, err := l.dev.Write(r[:])
	time.Sleep(settle)

	if err != nil {
		return fmt.Errorf("send %s report: %w", CommandName(r.Command()), err)
	}
	if n != WireSize {
		return fmt.Errorf("send %s report: %w (%d of %d bytes)", CommandName(r.Command()), ErrShortTransfer, n, WireSize)
	}

	if l.trace != nil {
		l.trace(true, r)
	}
	return nil
}

// Receive pulls one reply report (status or read data).
func (l *Link) Receive() (*Report, error) {
	r := &Report{}
	r[0] = ReportID

	n, err := l.dev.GetFeatureReport(r[:])
	if err != nil {
		return nil, fmt.Errorf("receive report: %w", err)
	}
	if n != WireSize {
		return nil, fmt.Errorf("receive report: %w (%d of %d bytes)", ErrShortTransfer, n, WireSize)
	}

	if l.trace != nil {
		l.trace(false, r)
	}
	return r, nil
}
