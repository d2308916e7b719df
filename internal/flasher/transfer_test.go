package flasher

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bigbag/xbit-flasher/internal/layout"
	"github.com/bigbag/xbit-flasher/internal/protocol"
)

func TestWriteChunk_Reports(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		reports int
	}{
		{"single byte", 1, 1},
		{"exact payload", 63, 1},
		{"one over payload", 64, 2},
		{"130 bytes", 130, 3},
		{"sector", SectorSize, 521},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dev := newFakeDevice(1)
			f := openFlasher(t, dev)

			data := randomImage(tc.size, int64(tc.size))
			if err := f.writeChunk(2, 0x100, data); err != nil {
				t.Fatalf("writeChunk() error: %v", err)
			}

			if dev.dataReports != tc.reports {
				t.Errorf("data reports = %d, want %d", dev.dataReports, tc.reports)
			}
			start := 2*layout.BlockSize + 0x100
			if !bytes.Equal(dev.flash[start:start+tc.size], data) {
				t.Error("flash content does not match written data")
			}
			if dev.flash[start+tc.size] != 0xFF {
				t.Error("byte after chunk was programmed")
			}
		})
	}
}

func TestWriteChunk_Invalid(t *testing.T) {
	f := openFlasher(t, newFakeDevice(1))

	tests := []struct {
		name   string
		offset int
		size   int
	}{
		{"empty", 0, 0},
		{"too large", 0, 0x10000},
		{"negative offset", -1, 16},
		{"offset overflow", 0x10000, 16},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := f.writeChunk(0, tc.offset, make([]byte, tc.size)); err == nil {
				t.Error("writeChunk() expected error")
			}
		})
	}
}

func TestWriteChunk_ChecksumMismatchWarns(t *testing.T) {
	dev := newFakeDevice(1)
	dev.badChecksum = true
	logger := &recordLogger{}
	f := openFlasher(t, dev, WithLogger(logger))

	if err := f.writeChunk(0, 0, randomImage(200, 1)); err != nil {
		t.Fatalf("writeChunk() error: %v", err)
	}

	if len(logger.warn) != 1 || logger.warn[0] != "checksum mismatch after write" {
		t.Errorf("warnings = %v, want one checksum mismatch", logger.warn)
	}
}

func TestWriteChunk_ChecksumMatch(t *testing.T) {
	dev := newFakeDevice(1)
	logger := &recordLogger{}
	f := openFlasher(t, dev, WithLogger(logger))

	if err := f.writeChunk(0, 0, randomImage(200, 1)); err != nil {
		t.Fatalf("writeChunk() error: %v", err)
	}
	if len(logger.warn) != 0 {
		t.Errorf("unexpected warnings: %v", logger.warn)
	}
}

func TestWriteChunkRetry_ReErasesBlockStart(t *testing.T) {
	dev := newFakeDevice(1)
	dev.failData = map[int]bool{2: true}
	f := openFlasher(t, dev)

	data := randomImage(SectorSize, 7)
	if err := f.writeChunkRetry(context.Background(), 3, 0, data); err != nil {
		t.Fatalf("writeChunkRetry() error: %v", err)
	}

	if len(dev.erases) != 1 || dev.erases[0] != 3 {
		t.Errorf("erases = %v, want [3]", dev.erases)
	}
	if len(dev.writes) != 2 {
		t.Errorf("write commands = %d, want 2", len(dev.writes))
	}
	start := 3 * layout.BlockSize
	if !bytes.Equal(dev.flash[start:start+SectorSize], data) {
		t.Error("flash content does not match after retry")
	}
}

func TestWriteChunkRetry_NoEraseInsideBlock(t *testing.T) {
	dev := newFakeDevice(1)
	dev.failData = map[int]bool{1: true, 2: true}
	f := openFlasher(t, dev)

	if err := f.writeChunkRetry(context.Background(), 3, SectorSize, randomImage(100, 3)); err != nil {
		t.Fatalf("writeChunkRetry() error: %v", err)
	}

	if len(dev.erases) != 0 {
		t.Errorf("erases = %v, want none", dev.erases)
	}
	if len(dev.writes) != 3 {
		t.Errorf("write commands = %d, want 3", len(dev.writes))
	}
}

func TestWriteChunkRetry_MaxAttempts(t *testing.T) {
	dev := newFakeDevice(1)
	dev.failAllData = true
	f := openFlasher(t, dev, WithMaxWriteAttempts(4))

	err := f.writeChunkRetry(context.Background(), 0, 0, randomImage(100, 1))

	var aborted *WriteAbortedError
	if !errors.As(err, &aborted) {
		t.Fatalf("writeChunkRetry() error = %v, want WriteAbortedError", err)
	}
	if aborted.Attempts != 4 {
		t.Errorf("Attempts = %d, want 4", aborted.Attempts)
	}
	if aborted.Cause != nil {
		t.Errorf("Cause = %v, want nil", aborted.Cause)
	}
	if !errors.Is(err, protocol.ErrShortTransfer) {
		t.Errorf("error does not wrap ErrShortTransfer: %v", err)
	}
	// the last attempt is not followed by an erase
	if len(dev.erases) != 3 {
		t.Errorf("erases = %d, want 3", len(dev.erases))
	}
}

func TestWriteChunkRetry_Cancelled(t *testing.T) {
	dev := newFakeDevice(1)
	dev.failAllData = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dev.onFail = func(failures int) {
		if failures == 5 {
			cancel()
		}
	}

	f := openFlasher(t, dev)
	err := f.writeChunkRetry(ctx, 0, 0, randomImage(100, 1))

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("writeChunkRetry() error = %v, want context.Canceled", err)
	}
	var aborted *WriteAbortedError
	if !errors.As(err, &aborted) || aborted.Attempts != 5 {
		t.Errorf("error = %v, want WriteAbortedError after 5 attempts", err)
	}
}

func TestWriteChunkRetry_DeadlineDuringDelay(t *testing.T) {
	dev := newFakeDevice(1)
	dev.failAllData = true
	f := openFlasher(t, dev, WithRetryPolicy(RetryPolicy{Delay: time.Hour}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := f.writeChunkRetry(ctx, 0, 0, randomImage(10, 1))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("writeChunkRetry() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestReadChunk(t *testing.T) {
	dev := newFakeDevice(1)
	data := randomImage(1000, 9)
	start := 5*layout.BlockSize + 0x20
	copy(dev.flash[start:], data)

	f := openFlasher(t, dev)
	result, err := f.readChunk(5, 0x20, len(data))
	if err != nil {
		t.Fatalf("readChunk() error: %v", err)
	}
	if !bytes.Equal(result, data) {
		t.Error("readChunk() returned wrong data")
	}
	if dev.reads != protocol.ReportsFor(len(data)) {
		t.Errorf("data replies = %d, want %d", dev.reads, protocol.ReportsFor(len(data)))
	}
}

func TestReadChunk_Failure(t *testing.T) {
	dev := newFakeDevice(1)
	dev.failReadAt = 2
	f := openFlasher(t, dev)

	if _, err := f.readChunk(0, 0, 500); err == nil {
		t.Error("readChunk() expected error")
	}
}

func TestSleepCtx(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := sleepCtx(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("sleepCtx(cancelled) = %v, want context.Canceled", err)
	}
	if err := sleepCtx(context.Background(), time.Millisecond); err != nil {
		t.Errorf("sleepCtx() = %v, want nil", err)
	}
}
