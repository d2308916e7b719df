package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/bigbag/xbit-flasher/internal/layout"
)

// Exit codes
const (
	exitOK             = 0
	exitUsage          = 1
	exitBadNumber      = 2
	exitOpen           = 3
	exitInvalidMode    = 4
	exitLayoutMismatch = 5
	exitFailed         = 6
)

// exitError carries the process exit code for an error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func withExit(code int, err error) error {
	return &exitError{code: code, err: err}
}

// exitCode returns the exit code for err; errors without one are usage errors,
// as cobra reports flag parsing problems this way.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var e *exitError
	if errors.As(err, &e) {
		return e.code
	}
	return exitUsage
}

type mode byte

const (
	modeRead   mode = 'r'
	modeWrite  mode = 'w'
	modeVerify mode = 'v'
	modeFormat mode = 'f'
)

func (m mode) String() string {
	switch m {
	case modeRead:
		return "read"
	case modeWrite:
		return "write"
	case modeVerify:
		return "verify"
	case modeFormat:
		return "format"
	default:
		return fmt.Sprintf("mode(%q)", byte(m))
	}
}

func parseMode(s string) (mode, bool) {
	switch s {
	case "r", "read":
		return modeRead, true
	case "w", "write":
		return modeWrite, true
	case "v", "verify":
		return modeVerify, true
	case "f", "format":
		return modeFormat, true
	}
	return 0, false
}

// request is a parsed bank command line.
type request struct {
	mode   mode
	layout int
	bank   int
	file   string
}

// parseRequest parses "mode layout [bank file]". Format only takes a layout.
// Trailing arguments past the ones a mode uses are ignored.
func parseRequest(args []string) (request, error) {
	if len(args) < 2 {
		return request{}, withExit(exitUsage, errors.New("missing arguments"))
	}

	m, known := parseMode(args[0])
	if m != modeFormat && len(args) < 4 {
		return request{}, withExit(exitUsage, errors.New("missing bank or file argument"))
	}

	layoutID, err := parseNumber(args[1], "layout", layout.Count)
	if err != nil {
		return request{}, err
	}

	req := request{mode: m, layout: layoutID}
	if m != modeFormat {
		req.bank, err = parseNumber(args[2], "bank", layout.MaxBanks)
		if err != nil {
			return request{}, err
		}
		req.file = args[3]
	}

	if !known {
		return request{}, withExit(exitInvalidMode, fmt.Errorf("invalid mode %q, valid: r, w, v, f", args[0]))
	}

	return req, nil
}

func parseNumber(s, name string, maxValue int) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > maxValue {
		return 0, withExit(exitBadNumber, fmt.Errorf("invalid %s parameter %q, valid: 1-%d", name, s, maxValue))
	}
	return n, nil
}
