package detect

import (
	"context"
	"errors"
	"fmt"

	"github.com/bigbag/xbit-flasher/internal/flasher"
	"github.com/bigbag/xbit-flasher/internal/layout"
	"github.com/bigbag/xbit-flasher/internal/protocol"
)

// Result represents a detected X-Bit.
type Result struct {
	Manufacturer string
	Product      string
	Layout       int
	Status       protocol.Status
	Banks        []layout.Region
}

// Probe opens the device, reads its identity and status and closes it again.
// The device is reset on close like after any other session.
func Probe(ctx context.Context, open flasher.Opener, opts ...flasher.Option) (result *Result, err error) {
	f := flasher.New(open, opts...)
	if err := f.Open(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()

	status, err := f.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}

	mfg, product := f.Identity()
	result = &Result{
		Manufacturer: mfg,
		Product:      product,
		Layout:       f.Layout(),
		Status:       status,
	}

	// A device that was never formatted reports a page outside the table.
	if layout.ValidLayout(result.Layout) {
		result.Banks = Regions(f.Layouts(), result.Layout)
	}

	return result, nil
}

// Regions returns the used banks of a layout in bank order.
func Regions(t *layout.Table, layoutID int) []layout.Region {
	var regions []layout.Region
	for bank := 1; bank <= layout.MaxBanks; bank++ {
		region, err := t.Region(layoutID, bank)
		if err != nil {
			continue
		}
		regions = append(regions, region)
	}
	return regions
}
