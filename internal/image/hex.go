package image

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcinbor85/gohex"

	"github.com/bigbag/xbit-flasher/internal/layout"
)

// erased is the value of unprogrammed flash
const erased = 0xFF

// IsHex reports whether path names an Intel HEX file.
func IsHex(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hex", ".ihex", ".ihx":
		return true
	}
	return false
}

// decodeHex assembles Intel HEX records into a bank image. Addresses are
// relative to the start of the bank; gaps and the tail up to the next block
// boundary are filled with erased bytes.
func decodeHex(data []byte) ([]byte, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to parse Intel HEX: %w", err)
	}

	segments := mem.GetDataSegments()
	end := 0
	for _, seg := range segments {
		segEnd := int(seg.Address) + len(seg.Data)
		if segEnd > layout.FlashSize {
			return nil, fmt.Errorf("%w: record at 0x%X ends past 0x%X", ErrInvalidSize, seg.Address, layout.FlashSize)
		}
		end = max(end, segEnd)
	}

	size := (end + layout.BlockSize - 1) / layout.BlockSize * layout.BlockSize
	if err := Validate(size); err != nil {
		return nil, err
	}

	buf := bytes.Repeat([]byte{erased}, size)
	for _, seg := range segments {
		copy(buf[seg.Address:], seg.Data)
	}
	return buf, nil
}

func saveHex(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to write image: %w", err)
	}
	if err := encodeHex(f, data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write image: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write image: %w", err)
	}
	return nil
}

// encodeHex writes data as Intel HEX records starting at address 0.
func encodeHex(w io.Writer, data []byte) error {
	mem := gohex.NewMemory()
	if err := mem.AddBinary(0, data); err != nil {
		return err
	}

	// DumpIntelHex does not report write errors; the buffered writer keeps
	// the first one for Flush.
	bw := bufio.NewWriter(w)
	mem.DumpIntelHex(bw, 16)
	return bw.Flush()
}
