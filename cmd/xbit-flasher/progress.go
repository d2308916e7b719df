package main

import (
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/bigbag/xbit-flasher/internal/flasher"
)

// progressDisplay draws one progress bar per operation phase.
type progressDisplay struct {
	bar   *progressbar.ProgressBar
	phase string
}

// newProgressDisplay returns nil when progress output is disabled or stdout
// is not a terminal.
func newProgressDisplay(disabled bool) *progressDisplay {
	if disabled || !term.IsTerminal(int(os.Stdout.Fd())) {
		return nil
	}
	return &progressDisplay{}
}

// Callback returns the flasher progress callback, or nil for a nil display.
func (d *progressDisplay) Callback() flasher.ProgressCallback {
	if d == nil {
		return nil
	}
	return d.update
}

func (d *progressDisplay) update(p flasher.Progress) {
	if d.bar == nil || d.phase != p.Phase {
		d.Finish()
		d.bar = newBar(p)
		d.phase = p.Phase
	}
	d.bar.Set(p.Current)
}

// Finish completes the current bar.
func (d *progressDisplay) Finish() {
	if d == nil || d.bar == nil {
		return
	}
	d.bar.Finish()
	d.bar = nil
}

func newBar(p flasher.Progress) *progressbar.ProgressBar {
	// erase and format count blocks, the other phases count bytes
	byteCount := p.Phase != flasher.PhaseErasing && p.Phase != flasher.PhaseFormatting

	return progressbar.NewOptions(p.Total,
		progressbar.OptionSetDescription(phaseTitle(p.Phase)),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(byteCount),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

func phaseTitle(phase string) string {
	switch phase {
	case flasher.PhaseFormatting:
		return "Formatting"
	case flasher.PhaseErasing:
		return "Erasing"
	case flasher.PhaseWriting:
		return "Writing"
	case flasher.PhaseReading:
		return "Reading"
	case flasher.PhaseVerifying:
		return "Verifying"
	default:
		return phase
	}
}
