package flasher

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/bigbag/xbit-flasher/internal/layout"
	"github.com/bigbag/xbit-flasher/internal/protocol"
)

// fakeDevice simulates an X-Bit: 2MB of NOR flash (programming only clears
// bits), the page and VM registers and the status checksum.
type fakeDevice struct {
	flash [layout.FlashSize]byte
	page  byte
	vm    byte

	manufacturer string
	product      string

	writing    bool
	reading    bool
	addr       int
	remaining  int
	sum        byte
	checksum   byte
	statusNext bool

	// fault injection
	badChecksum  bool
	failData     map[int]bool // data report numbers (1-based) returning a short write
	failAllData  bool
	onFail       func(failures int)
	failReadAt   int
	statusErr    error
	shortAcquire bool // latch the bus request but report a short write

	// bookkeeping
	commands    []byte
	erases      []int
	writes      []int
	dataReports int
	failures    int
	reads       int
	acquires    int
	releases    int
	resets      int
	closeCalls  int
	closed      bool
}

func newFakeDevice(page int) *fakeDevice {
	d := &fakeDevice{
		page:         byte(page),
		vm:           protocol.VMBusFree,
		manufacturer: protocol.Manufacturer,
		product:      protocol.Product,
	}
	for i := range d.flash {
		d.flash[i] = 0xFF
	}
	return d
}

func (d *fakeDevice) Write(p []byte) (int, error) {
	if d.closed {
		return 0, errors.New("device closed")
	}
	if len(p) != protocol.WireSize {
		return 0, fmt.Errorf("unexpected report length %d", len(p))
	}

	var r protocol.Report
	copy(r[:], p)

	cmd := r.Command()
	d.commands = append(d.commands, cmd)

	switch cmd {
	case 0:
		d.dataReports++
		if d.failAllData || d.failData[d.dataReports] {
			d.failures++
			if d.onFail != nil {
				d.onFail(d.failures)
			}
			return len(p) - 1, nil
		}
		if !d.writing {
			break
		}
		n := min(d.remaining, protocol.PayloadSize)
		for i, b := range r.Payload()[:n] {
			d.flash[d.addr+i] &= b
			d.sum += b
		}
		d.addr += n
		d.remaining -= n
		if d.remaining == 0 {
			d.writing = false
			d.checksum = d.sum
			if d.badChecksum {
				d.checksum = ^d.sum
			}
		}
	case protocol.CmdErase:
		block := int(r[2])
		d.erases = append(d.erases, block)
		if block < layout.TotalBlocks {
			start := block * layout.BlockSize
			for i := start; i < start+layout.BlockSize; i++ {
				d.flash[i] = 0xFF
			}
		}
	case protocol.CmdWrite:
		block, offset, n := protocol.DecodeRW(&r)
		d.writes = append(d.writes, block)
		d.writing, d.reading = true, false
		d.addr = block*layout.BlockSize + int(offset)
		d.remaining = int(n)
		d.sum = 0
	case protocol.CmdRead:
		block, offset, n := protocol.DecodeRW(&r)
		d.reading, d.writing = true, false
		d.addr = block*layout.BlockSize + int(offset)
		d.remaining = int(n)
	case protocol.CmdGetStatus:
		d.statusNext = true
	case protocol.CmdSetVM:
		if r[3] == protocol.VMAcquire {
			d.acquires++
			d.vm = d.vm&protocol.VMWriteProtect | protocol.VMBusAttached
			if d.shortAcquire {
				return len(p) - 1, nil
			}
		} else {
			d.releases++
			d.vm = d.vm&protocol.VMWriteProtect | protocol.VMBusFree
		}
	case protocol.CmdSetPage:
		d.page = r[2]
	case protocol.CmdReset:
		d.resets++
	}

	return len(p), nil
}

func (d *fakeDevice) GetFeatureReport(p []byte) (int, error) {
	if d.closed {
		return 0, errors.New("device closed")
	}
	clear(p)

	if d.statusNext {
		d.statusNext = false
		if d.statusErr != nil {
			return 0, d.statusErr
		}
		status := protocol.Status{
			Command:  protocol.CmdGetStatus,
			Page:     d.page,
			VM:       d.vm,
			Checksum: d.checksum,
		}
		copy(p, status.Encode()[:])
		return protocol.WireSize, nil
	}

	if d.reading {
		d.reads++
		if d.failReadAt > 0 && d.reads == d.failReadAt {
			return 0, errors.New("read failed")
		}
		n := min(d.remaining, protocol.PayloadSize)
		copy(p[2:], d.flash[d.addr:d.addr+n])
		d.addr += n
		d.remaining -= n
		if d.remaining == 0 {
			d.reading = false
		}
	}

	return protocol.WireSize, nil
}

func (d *fakeDevice) Manufacturer() (string, error) {
	return d.manufacturer, nil
}

func (d *fakeDevice) Product() (string, error) {
	return d.product, nil
}

func (d *fakeDevice) Close() error {
	d.closeCalls++
	d.closed = true
	return nil
}

func (d *fakeDevice) count(cmd byte) int {
	n := 0
	for _, c := range d.commands {
		if c == cmd {
			n++
		}
	}
	return n
}

func (d *fakeDevice) busHeld() bool {
	return d.vm&protocol.VMBusAttached != 0
}

// recordLogger keeps the messages it was given.
type recordLogger struct {
	debug []string
	info  []string
	warn  []string
	errs  []string
}

func (l *recordLogger) Debug(msg string, kv ...interface{}) { l.debug = append(l.debug, msg) }
func (l *recordLogger) Info(msg string, kv ...interface{}) { l.info = append(l.info, msg) }
func (l *recordLogger) Warn(msg string, kv ...interface{}) { l.warn = append(l.warn, msg) }
func (l *recordLogger) Error(msg string, kv ...interface{}) { l.errs = append(l.errs, msg) }

func testOptions(extra ...Option) []Option {
	opts := []Option{
		WithSettleDelays(0, 0, 0),
		WithRetryPolicy(RetryPolicy{}),
	}
	return append(opts, extra...)
}

func openerFor(dev *fakeDevice) Opener {
	return func() (Transport, error) {
		return dev, nil
	}
}

func openFlasher(t *testing.T, dev *fakeDevice, opts ...Option) *Flasher {
	t.Helper()
	f := New(openerFor(dev), testOptions(opts...)...)
	if err := f.Open(context.Background()); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	return f
}

func randomImage(size int, seed int64) []byte {
	data := make([]byte, size)
	rand.New(rand.NewSource(seed)).Read(data)
	return data
}
