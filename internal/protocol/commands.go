package protocol

// X-Bit (DK3200 firmware) commands
const (
	CmdReset     = 0x01
	CmdErase     = 0x02
	CmdWrite     = 0x03
	CmdRead      = 0x04
	CmdGetStatus = 0x05
	CmdSetRegs   = 0x06 // accepted by the firmware, never used by the flasher
	CmdSetPage   = 0x07
	CmdSetVM     = 0x08
)

// VM register flags
const (
	VMBusFree      = 0x01
	VMBusAttached  = 0x02
	VMWriteProtect = 0x80
)

// VM register values written by SetVM
const (
	VMRelease = 0x00
	VMAcquire = 0x01
)

// Report geometry
const (
	ReportID    = 0x00
	ReportSize  = 64             // command area: cmd byte + 63 bytes
	WireSize    = ReportSize + 1 // report ID prefix expected by hidapi
	PayloadSize = ReportSize - 1 // data bytes per continuation report
)

// CommandName returns human-readable name for a command code
func CommandName(cmd byte) string {
	switch cmd {
	case 0x00:
		return "DATA"
	case CmdReset:
		return "RESET"
	case CmdErase:
		return "ERASE"
	case CmdWrite:
		return "WRITE"
	case CmdRead:
		return "READ"
	case CmdGetStatus:
		return "GET_STATUS"
	case CmdSetRegs:
		return "SET_REGS"
	case CmdSetPage:
		return "SET_PAGE"
	case CmdSetVM:
		return "SET_VM"
	default:
		return "UNKNOWN"
	}
}

// ReportsFor returns how many continuation reports carry n payload bytes.
func ReportsFor(n int) int {
	return (n + PayloadSize - 1) / PayloadSize
}

// Checksum is the 8-bit sum of data, as reported by the device after a write.
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}
