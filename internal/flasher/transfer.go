package flasher

import (
	"context"
	"fmt"
	"time"

	"github.com/bigbag/xbit-flasher/internal/protocol"
)

// eraseBlock erases one 64KB block. The caller must hold the bus.
func (f *Flasher) eraseBlock(block int) error {
	if err := f.send(protocol.EraseReport(block), f.config.CommandSettle); err != nil {
		return fmt.Errorf("failed to erase block %d: %w", block, err)
	}
	return nil
}

// writeChunk writes data at offset inside block: a CMD_WRITE report
// followed by continuation reports of up to 63 bytes each.
// The caller must hold the bus.
func (f *Flasher) writeChunk(block, offset int, data []byte) error {
	if len(data) == 0 || len(data) > 0xFFFF || offset < 0 || offset > 0xFFFF {
		return fmt.Errorf("invalid write of %d bytes at offset 0x%X", len(data), offset)
	}

	checksum := protocol.Checksum(data)

	cmd := protocol.WriteReport(block, uint16(offset), uint16(len(data)))
	if err := f.send(cmd, f.config.CommandSettle); err != nil {
		return fmt.Errorf("write block %d offset 0x%X: %w", block, offset, err)
	}

	for pos := 0; pos < len(data); pos += protocol.PayloadSize {
		end := min(pos+protocol.PayloadSize, len(data))

		r, err := protocol.DataReport(data[pos:end])
		if err != nil {
			return err
		}
		if err := f.send(r, f.config.DataSettle); err != nil {
			return fmt.Errorf("write block %d offset 0x%X: data at 0x%X: %w", block, offset, pos, err)
		}
	}

	f.verifyChecksum(block, offset, checksum)
	return nil
}

// verifyChecksum compares the checksum reported by the device with the
// local one. The X-Bit does not reliably report it, so a mismatch is only
// logged.
func (f *Flasher) verifyChecksum(block, offset int, expected byte) {
	status, err := f.queryStatus()
	if err != nil {
		f.logWarn("failed to get status after write",
			"block", block,
			"offset", fmt.Sprintf("0x%X", offset),
			"error", err,
		)
		return
	}

	if status.Checksum != expected {
		f.logWarn("checksum mismatch after write",
			"block", block,
			"offset", fmt.Sprintf("0x%X", offset),
			"expected", fmt.Sprintf("0x%02X", expected),
			"actual", fmt.Sprintf("0x%02X", status.Checksum),
		)
	}
}

// writeChunkRetry writes a chunk until it succeeds. An abandoned write leaves
// the bank half erased, so by default there is no attempt limit; the retry
// policy and ctx bound it.
//
// A chunk starting a block is retried on a freshly erased block, since the
// failed attempt may have programmed part of it.
func (f *Flasher) writeChunkRetry(ctx context.Context, block, offset int, data []byte) error {
	policy := f.config.Retry

	for attempt := 1; ; attempt++ {
		err := f.writeChunk(block, offset, data)
		if err == nil {
			if attempt > 1 {
				f.logInfo("chunk written after retry",
					"block", block,
					"offset", fmt.Sprintf("0x%X", offset),
					"attempts", attempt,
				)
			}
			return nil
		}

		f.logWarn("chunk write failed",
			"block", block,
			"offset", fmt.Sprintf("0x%X", offset),
			"attempt", attempt,
			"error", err,
		)

		if policy.MaxAttempts > 0 && attempt >= policy.MaxAttempts {
			return &WriteAbortedError{Block: block, Offset: offset, Attempts: attempt, Err: err}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return &WriteAbortedError{Block: block, Offset: offset, Attempts: attempt, Err: err, Cause: ctxErr}
		}

		if offset == 0 {
			if eraseErr := f.eraseBlock(block); eraseErr != nil {
				f.logWarn("re-erase before retry failed", "block", block, "error", eraseErr)
			}
		}

		if ctxErr := sleepCtx(ctx, policy.Delay); ctxErr != nil {
			return &WriteAbortedError{Block: block, Offset: offset, Attempts: attempt, Err: err, Cause: ctxErr}
		}
	}
}

// readChunk reads length bytes at offset inside block. Each reply carries an
// echo byte followed by up to 63 data bytes. The caller must hold the bus.
func (f *Flasher) readChunk(block, offset, length int) ([]byte, error) {
	if length <= 0 || length > 0xFFFF || offset < 0 || offset > 0xFFFF {
		return nil, fmt.Errorf("invalid read of %d bytes at offset 0x%X", length, offset)
	}

	cmd := protocol.ReadReport(block, uint16(offset), uint16(length))
	if err := f.send(cmd, f.config.CommandSettle); err != nil {
		return nil, fmt.Errorf("read block %d offset 0x%X: %w", block, offset, err)
	}

	buf := make([]byte, 0, length)
	for len(buf) < length {
		r, err := f.link.Receive()
		if err != nil {
			return nil, fmt.Errorf("read block %d offset 0x%X: data at 0x%X: %w", block, offset, len(buf), err)
		}

		n := min(length-len(buf), protocol.PayloadSize)
		buf = append(buf, r.Payload()[:n]...)
	}

	return buf, nil
}

// sleepCtx waits d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
