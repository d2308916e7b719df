package image

import (
	"errors"
	"fmt"
	"os"

	"github.com/bigbag/xbit-flasher/internal/layout"
)

// ErrInvalidSize means an image is not a whole number of flash blocks or
// does not fit in the flash.
var ErrInvalidSize = errors.New("invalid image size")

// Validate checks that size is a positive multiple of the block size and
// no larger than the flash.
func Validate(size int) error {
	if size <= 0 || size > layout.FlashSize || size%layout.BlockSize != 0 {
		return fmt.Errorf("%w: %d bytes, must be a multiple of 0x%X up to 0x%X",
			ErrInvalidSize, size, layout.BlockSize, layout.FlashSize)
	}
	return nil
}

// Load reads a bank image from path. Files named *.hex, *.ihex or *.ihx are
// decoded as Intel HEX, anything else is a raw binary.
func Load(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("failed to open image: %s is a directory", path)
	}

	hex := IsHex(path)
	if !hex {
		if err := Validate(int(info.Size())); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	if hex {
		data, err = decodeHex(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	if err := Validate(len(data)); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return data, nil
}

// Save writes a bank image to path, replacing any existing file. The format
// follows the file name as for Load.
func Save(path string, data []byte) error {
	if err := Validate(len(data)); err != nil {
		return err
	}
	if IsHex(path) {
		return saveHex(path, data)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write image: %w", err)
	}
	return nil
}
