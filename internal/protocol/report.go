package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrInvalidStatus = errors.New("invalid status reply")

// Report is one HID report as exchanged with the device.
//
// Layout:
//
//	0: report ID (always 0)
//	1: command
//	2+: command fields or payload, multi-byte fields big-endian
type Report [WireSize]byte

func newReport(cmd byte) *Report {
	r := &Report{}
	r[0] = ReportID
	r[1] = cmd
	return r
}

// Command returns the command byte.
func (r *Report) Command() byte {
	return r[1]
}

// Payload returns the bytes following the command byte.
func (r *Report) Payload() []byte {
	return r[2:]
}

// ResetReport creates a CMD_RESET report.
func ResetReport() *Report {
	return newReport(CmdReset)
}

// StatusRequest creates a CMD_GET_STATUS report.
func StatusRequest() *Report {
	return newReport(CmdGetStatus)
}

// EraseReport creates a CMD_ERASE report for a whole block.
// The firmware calls the block a "sector" and takes it in the flash field;
// the address field is always 0.
func EraseReport(block int) *Report {
	r := newReport(CmdErase)
	r[2] = byte(block)
	binary.BigEndian.PutUint16(r[3:5], 0)
	return r
}

// WriteReport creates a CMD_WRITE report announcing n data bytes at offset
// inside block.
func WriteReport(block int, offset, n uint16) *Report {
	return rwReport(CmdWrite, block, offset, n)
}

// ReadReport creates a CMD_READ report requesting n bytes at offset inside block.
func ReadReport(block int, offset, n uint16) *Report {
	return rwReport(CmdRead, block, offset, n)
}

func rwReport(cmd byte, block int, offset, n uint16) *Report {
	// rw: cmd(1) flash(1) address(2) nBytes(2)
	r := newReport(cmd)
	r[2] = byte(block)
	binary.BigEndian.PutUint16(r[3:5], offset)
	binary.BigEndian.PutUint16(r[5:7], n)
	return r
}

// SetPageReport creates a CMD_SET_PAGE report selecting a layout.
func SetPageReport(layout int) *Report {
	// setRegs: cmd(1) page(1) vm(1)
	r := newReport(CmdSetPage)
	r[2] = byte(layout & 0xFF)
	return r
}

// SetVMReport creates a CMD_SET_VM report.
func SetVMReport(vm byte) *Report {
	r := newReport(CmdSetVM)
	r[3] = vm
	return r
}

// DataReport creates a continuation report carrying up to PayloadSize bytes.
// The command byte is 0.
func DataReport(data []byte) (*Report, error) {
	if len(data) > PayloadSize {
		return nil, fmt.Errorf("data report holds %d bytes, got %d", PayloadSize, len(data))
	}
	r := newReport(0)
	copy(r[2:], data)
	return r, nil
}

// DecodeRW returns the block, offset and length fields of a read/write report.
func DecodeRW(r *Report) (block int, offset, n uint16) {
	return int(r[2]), binary.BigEndian.Uint16(r[3:5]), binary.BigEndian.Uint16(r[5:7])
}

// Status is the device status snapshot returned by CMD_GET_STATUS.
type Status struct {
	Command        byte
	CurrentCommand byte
	Page           byte
	VM             byte
	Ret            byte
	Checksum       byte
}

// ParseStatus decodes a status reply.
func ParseStatus(r *Report) (Status, error) {
	if r[0] != ReportID {
		return Status{}, fmt.Errorf("%w: report ID 0x%02X", ErrInvalidStatus, r[0])
	}

	// status: cmd(1) currentCmd(1) page(1) vm(1) ret(1) checkSum(1)
	return Status{
		Command:        r[1],
		CurrentCommand: r[2],
		Page:           r[3],
		VM:             r[4],
		Ret:            r[5],
		Checksum:       r[6],
	}, nil
}

// Encode writes the status into a reply report.
func (s Status) Encode() *Report {
	r := newReport(s.Command)
	r[2] = s.CurrentCommand
	r[3] = s.Page
	r[4] = s.VM
	r[5] = s.Ret
	r[6] = s.Checksum
	return r
}

// Ready returns true if the device is not processing a command.
func (s Status) Ready() bool {
	return s.CurrentCommand == 0
}

// BusFree returns true if the flash bus is free.
func (s Status) BusFree() bool {
	return s.VM&VMBusFree == VMBusFree
}

// BusAttached returns true if the flash bus is attached to the programmer.
func (s Status) BusAttached() bool {
	return s.VM&VMBusAttached == VMBusAttached
}

// WriteProtected returns true if the device refuses flash changes.
func (s Status) WriteProtected() bool {
	return s.VM&VMWriteProtect == VMWriteProtect
}

func (s Status) String() string {
	current := "idle"
	if !s.Ready() {
		current = CommandName(s.CurrentCommand)
	}
	return fmt.Sprintf("current=%s page=%d vm=0x%02X ret=0x%02X checksum=0x%02X",
		current, s.Page, s.VM, s.Ret, s.Checksum)
}
