package flasher

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/bigbag/xbit-flasher/internal/layout"
	"github.com/bigbag/xbit-flasher/internal/protocol"
)

// checkWritable queries the status and fails if the device is write-protected.
func (f *Flasher) checkWritable(op string) error {
	status, err := f.queryStatus()
	if err != nil {
		return fmt.Errorf("%s: failed to get status: %w", op, err)
	}
	if status.WriteProtected() {
		return fmt.Errorf("%s: %w", op, ErrWriteProtected)
	}
	return nil
}

// withBus runs fn while holding the flash bus. The bus is released on every
// return path; a release failure is joined to the error of fn.
func (f *Flasher) withBus(op string, fn func() error) (err error) {
	if err := f.send(protocol.SetVMReport(protocol.VMAcquire), f.config.CommandSettle); err != nil {
		// a short write may still have reached the device
		if releaseErr := f.send(protocol.SetVMReport(protocol.VMRelease), f.config.CommandSettle); releaseErr != nil {
			f.logWarn("failed to release bus after failed request", "op", op, "error", releaseErr)
		}
		return fmt.Errorf("%s: failed to get bus: %w", op, err)
	}

	defer func() {
		releaseErr := f.send(protocol.SetVMReport(protocol.VMRelease), f.config.CommandSettle)
		if releaseErr == nil {
			return
		}
		releaseErr = fmt.Errorf("%s: failed to release bus: %w", op, releaseErr)
		f.logError("failed to release bus", "op", op, "error", releaseErr)
		err = errors.Join(err, releaseErr)
	}()

	return fn()
}

// Format erases the whole flash and configures the device for layoutID.
func (f *Flasher) Format(ctx context.Context, layoutID int) error {
	if !layout.ValidLayout(layoutID) {
		return fmt.Errorf("format: %w %d, valid: 1-%d", layout.ErrInvalidLayout, layoutID, layout.Count)
	}
	if err := f.requireReady("format"); err != nil {
		return err
	}
	if err := f.checkWritable("format"); err != nil {
		return err
	}

	f.logInfo("formatting", "layout", layoutID)

	err := f.withBus("format", func() error {
		for block := 0; block < layout.TotalBlocks; block++ {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("format: %w", err)
			}
			if err := f.eraseBlock(block); err != nil {
				return fmt.Errorf("format: %w", err)
			}
			f.reportProgress(Progress{
				Phase:   PhaseFormatting,
				Block:   block,
				Current: block + 1,
				Total:   layout.TotalBlocks,
			})
		}

		if err := f.send(protocol.SetPageReport(layoutID), f.config.CommandSettle); err != nil {
			return fmt.Errorf("format: failed to set memory layout %d: %w", layoutID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	f.layout = layoutID
	f.logInfo("format finished", "layout", layoutID)
	return nil
}

// EraseBank erases every block of bank.
func (f *Flasher) EraseBank(ctx context.Context, bank int) error {
	if err := f.requireReady("erase bank"); err != nil {
		return err
	}
	region, err := f.region(bank)
	if err != nil {
		return fmt.Errorf("erase bank: %w", err)
	}
	if err := f.checkWritable("erase bank"); err != nil {
		return err
	}

	f.logInfo("erasing bank",
		"bank", bank,
		"start_block", region.StartBlock,
		"blocks", region.Blocks,
	)

	return f.withBus("erase bank", func() error {
		for i := 0; i < region.Blocks; i++ {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("erase bank %d: %w", bank, err)
			}

			block := region.StartBlock + i
			if err := f.eraseBlock(block); err != nil {
				return fmt.Errorf("erase bank %d: %w", bank, err)
			}
			f.reportProgress(Progress{
				Phase:   PhaseErasing,
				Bank:    bank,
				Block:   block,
				Current: i + 1,
				Total:   region.Blocks,
			})
		}
		return nil
	})
}

// FlashBank erases bank and writes data into it. data must be exactly
// the size of the bank.
func (f *Flasher) FlashBank(ctx context.Context, bank int, data []byte) error {
	if err := f.requireReady("flash bank"); err != nil {
		return err
	}
	region, err := f.region(bank)
	if err != nil {
		return fmt.Errorf("flash bank: %w", err)
	}
	if len(data) != region.Size {
		return &SizeMismatchError{Bank: bank, Expected: region.Size, Actual: len(data)}
	}
	if err := f.checkWritable("flash bank"); err != nil {
		return err
	}

	if err := f.EraseBank(ctx, bank); err != nil {
		return fmt.Errorf("flash bank: %w", err)
	}
	if err := sleepCtx(ctx, f.config.EraseSettle); err != nil {
		return fmt.Errorf("flash bank %d: %w", bank, err)
	}

	f.logInfo("writing bank",
		"bank", bank,
		"start_block", region.StartBlock,
		"bytes", len(data),
	)

	return f.withBus("flash bank", func() error {
		for i := 0; i < region.Blocks; i++ {
			block := region.StartBlock + i
			for sector := 0; sector < layout.BlockSize/SectorSize; sector++ {
				if err := ctx.Err(); err != nil {
					return fmt.Errorf("flash bank %d: %w", bank, err)
				}

				pos := i*layout.BlockSize + sector*SectorSize
				f.logDebug("writing sector",
					"block", block,
					"sector", sector,
					"offset", fmt.Sprintf("0x%08X", pos),
				)

				if err := f.writeChunkRetry(ctx, block, sector*SectorSize, data[pos:pos+SectorSize]); err != nil {
					return fmt.Errorf("flash bank %d: %w", bank, err)
				}
				f.reportProgress(Progress{
					Phase:   PhaseWriting,
					Bank:    bank,
					Block:   block,
					Current: pos + SectorSize,
					Total:   len(data),
				})
			}
		}
		return nil
	})
}

// ReadBank reads the whole image stored in bank.
func (f *Flasher) ReadBank(ctx context.Context, bank int) ([]byte, error) {
	if err := f.requireReady("read bank"); err != nil {
		return nil, err
	}
	region, err := f.region(bank)
	if err != nil {
		return nil, fmt.Errorf("read bank: %w", err)
	}
	if err := f.checkWritable("read bank"); err != nil {
		return nil, err
	}

	f.logInfo("reading bank",
		"bank", bank,
		"start_block", region.StartBlock,
		"bytes", region.Size,
	)

	data := make([]byte, 0, region.Size)
	err = f.withBus("read bank", func() error {
		for i := 0; i < region.Blocks; i++ {
			block := region.StartBlock + i
			for sector := 0; sector < layout.BlockSize/SectorSize; sector++ {
				if err := ctx.Err(); err != nil {
					return fmt.Errorf("read bank %d: %w", bank, err)
				}

				chunk, err := f.readChunk(block, sector*SectorSize, SectorSize)
				if err != nil {
					return fmt.Errorf("read bank %d: %w", bank, err)
				}
				data = append(data, chunk...)

				f.reportProgress(Progress{
					Phase:   PhaseReading,
					Bank:    bank,
					Block:   block,
					Current: len(data),
					Total:   region.Size,
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return data, nil
}

// VerifyBank reads bank back and compares it with expected.
func (f *Flasher) VerifyBank(ctx context.Context, bank int, expected []byte) error {
	if err := f.requireReady("verify bank"); err != nil {
		return err
	}
	region, err := f.region(bank)
	if err != nil {
		return fmt.Errorf("verify bank: %w", err)
	}
	if len(expected) != region.Size {
		return &SizeMismatchError{Bank: bank, Expected: region.Size, Actual: len(expected)}
	}

	data, err := f.ReadBank(ctx, bank)
	if err != nil {
		return fmt.Errorf("verify bank: %w", err)
	}

	f.reportProgress(Progress{
		Phase:   PhaseVerifying,
		Bank:    bank,
		Current: len(data),
		Total:   region.Size,
	})

	if len(data) != region.Size {
		return &VerificationError{
			Bank:   bank,
			Reason: fmt.Sprintf("read %d bytes, bank holds %d", len(data), region.Size),
		}
	}
	if !bytes.Equal(data, expected) {
		return &VerificationError{Bank: bank, Reason: "data mismatch"}
	}

	f.logInfo("bank verified", "bank", bank, "bytes", len(data))
	return nil
}
