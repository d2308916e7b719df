package embedded

import (
	_ "embed"
)

// Bank sizes are given in KiB, one row per layout, one column per bank.
// bankSelect holds the DIP switch mask that selects each bank at boot.
//
//go:embed layouts.json
var layouts []byte

// Layouts returns the embedded layout table.
func Layouts() []byte {
	return layouts
}
