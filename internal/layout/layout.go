package layout

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/bigbag/xbit-flasher/embedded"
)

// Flash geometry
const (
	BlockSize   = 0x10000 // 64KB, smallest erasable unit
	TotalBlocks = 0x20    // 32 blocks
	FlashSize   = BlockSize * TotalBlocks

	Count    = 6 // number of layouts
	MaxBanks = 6 // banks per layout
)

var (
	ErrInvalidLayout = errors.New("invalid layout")
	ErrInvalidBank   = errors.New("invalid bank")
	ErrBankUnused    = errors.New("bank is not used by layout")
)

// AlignmentError reports a size or offset that is not a whole number of blocks.
type AlignmentError struct {
	Offset int
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("offset 0x%X does not align with block size 0x%X", e.Offset, BlockSize)
}

// Table holds the bank sizes (in bytes) of every layout.
type Table struct {
	sizes      [Count][MaxBanks]int
	bankSelect [MaxBanks]byte
}

type tableFile struct {
	BlockSize  int     `json:"blockSize"`
	FlashSize  int     `json:"flashSize"`
	Layouts    [][]int `json:"layouts"`
	BankSelect []int   `json:"bankSelect"`
}

// Parse decodes a layout table. Bank sizes in the input are in KiB.
func Parse(data []byte) (*Table, error) {
	var f tableFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode layout table: %w", err)
	}

	if f.BlockSize != BlockSize || f.FlashSize != FlashSize {
		return nil, fmt.Errorf("unsupported flash geometry: block 0x%X, flash 0x%X", f.BlockSize, f.FlashSize)
	}
	if len(f.Layouts) != Count {
		return nil, fmt.Errorf("layout table has %d layouts, want %d", len(f.Layouts), Count)
	}
	if len(f.BankSelect) != MaxBanks {
		return nil, fmt.Errorf("bank select table has %d entries, want %d", len(f.BankSelect), MaxBanks)
	}

	t := &Table{}
	for i, banks := range f.Layouts {
		if len(banks) != MaxBanks {
			return nil, fmt.Errorf("layout %d has %d banks, want %d", i+1, len(banks), MaxBanks)
		}
		for j, kb := range banks {
			t.sizes[i][j] = kb * 1024
		}
	}
	for i, mask := range f.BankSelect {
		if mask < 0 || mask > 0x07 {
			return nil, fmt.Errorf("bank %d: invalid switch mask 0x%X", i+1, mask)
		}
		t.bankSelect[i] = byte(mask)
	}

	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// validate checks that every bank is block aligned and each layout fits in flash.
func (t *Table) validate() error {
	for i := range t.sizes {
		total := 0
		for j, size := range t.sizes[i] {
			if size < 0 {
				return fmt.Errorf("layout %d bank %d: negative size", i+1, j+1)
			}
			if size%BlockSize != 0 {
				return fmt.Errorf("layout %d bank %d: %w", i+1, j+1, &AlignmentError{Offset: size})
			}
			total += size
		}
		if total > FlashSize {
			return fmt.Errorf("layout %d: banks total 0x%X bytes, flash holds 0x%X", i+1, total, FlashSize)
		}
	}
	return nil
}

var defaultTable = sync.OnceValue(func() *Table {
	t, err := Parse(embedded.Layouts())
	if err != nil {
		panic(fmt.Sprintf("embedded layout table: %v", err))
	}
	return t
})

// Default returns the built-in layout table.
func Default() *Table {
	return defaultTable()
}

// ValidLayout reports whether id names one of the layouts.
func ValidLayout(id int) bool {
	return id >= 1 && id <= Count
}

// ValidBank reports whether id is a bank number.
func ValidBank(id int) bool {
	return id >= 1 && id <= MaxBanks
}

func checkRange(layout, bank int) error {
	if !ValidLayout(layout) {
		return fmt.Errorf("%w %d, valid: 1-%d", ErrInvalidLayout, layout, Count)
	}
	if !ValidBank(bank) {
		return fmt.Errorf("%w %d, valid: 1-%d", ErrInvalidBank, bank, MaxBanks)
	}
	return nil
}

// SizeOfBank returns the bank size in bytes; 0 means the bank is unused.
func (t *Table) SizeOfBank(layout, bank int) (int, error) {
	if err := checkRange(layout, bank); err != nil {
		return 0, err
	}
	return t.sizes[layout-1][bank-1], nil
}

// StartBlockOfBank returns the first block occupied by bank.
func (t *Table) StartBlockOfBank(layout, bank int) (int, error) {
	if err := checkRange(layout, bank); err != nil {
		return 0, err
	}

	offset := 0
	for i := 0; i < bank-1; i++ {
		offset += t.sizes[layout-1][i]
	}
	return BlockCount(offset)
}

// Banks returns the sizes of all banks of a layout.
func (t *Table) Banks(layout int) ([]int, error) {
	if !ValidLayout(layout) {
		return nil, fmt.Errorf("%w %d, valid: 1-%d", ErrInvalidLayout, layout, Count)
	}
	banks := make([]int, MaxBanks)
	copy(banks, t.sizes[layout-1][:])
	return banks, nil
}

// BankSelect returns the DIP switch mask selecting bank at boot.
func (t *Table) BankSelect(bank int) (byte, error) {
	if !ValidBank(bank) {
		return 0, fmt.Errorf("%w %d, valid: 1-%d", ErrInvalidBank, bank, MaxBanks)
	}
	return t.bankSelect[bank-1], nil
}

// Region is the contiguous block range a bank occupies.
type Region struct {
	Layout     int
	Bank       int
	Size       int
	StartBlock int
	Blocks     int
}

// Region resolves a bank into its block range. Unused banks are an error.
func (t *Table) Region(layout, bank int) (Region, error) {
	size, err := t.SizeOfBank(layout, bank)
	if err != nil {
		return Region{}, err
	}
	if size == 0 {
		return Region{}, fmt.Errorf("%w: layout %d bank %d", ErrBankUnused, layout, bank)
	}

	start, err := t.StartBlockOfBank(layout, bank)
	if err != nil {
		return Region{}, err
	}
	blocks, err := BlockCount(size)
	if err != nil {
		return Region{}, err
	}
	if start+blocks > TotalBlocks {
		return Region{}, fmt.Errorf("layout %d bank %d ends at block %d, past block %d", layout, bank, start+blocks, TotalBlocks)
	}

	return Region{
		Layout:     layout,
		Bank:       bank,
		Size:       size,
		StartBlock: start,
		Blocks:     blocks,
	}, nil
}

// BlockCount returns size / BlockSize and fails if size is not block aligned.
func BlockCount(size int) (int, error) {
	if size < 0 || size%BlockSize != 0 {
		return 0, &AlignmentError{Offset: size}
	}
	return size / BlockSize, nil
}
