package flasher

// Operation phases reported through Progress.
const (
	PhaseFormatting = "formatting"
	PhaseErasing    = "erasing"
	PhaseWriting    = "writing"
	PhaseReading    = "reading"
	PhaseVerifying  = "verifying"
)

// Progress contains information about a running bank operation.
type Progress struct {
	// Phase is one of the Phase* constants
	Phase string

	// Bank is the bank being processed, 0 while formatting
	Bank int

	// Block is the absolute block index last processed
	Block int

	// Current and Total count blocks while erasing and formatting,
	// bytes while writing, reading and verifying
	Current int
	Total   int
}

// ProgressCallback is called to report progress.
// Implementations should return quickly; the device waits meanwhile.
type ProgressCallback func(Progress)

// Logger is an optional logging interface.
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, keysAndValues ...interface{})

	// Info logs an info message with optional key-value pairs
	Info(msg string, keysAndValues ...interface{})

	// Warn logs a warning with optional key-value pairs
	Warn(msg string, keysAndValues ...interface{})

	// Error logs an error message with optional key-value pairs
	Error(msg string, keysAndValues ...interface{})
}
