// Package common contains definitions of fundamental types used across
// multiple file system implementations.
package common

import "fmt"

// Region is a contiguous range of absolute blocks on a device, e.g. a file
// allocation table or a fixed-size root directory.
type Region struct {
	Start uint32
	Count uint32
}

// End returns the address of the first block after the region.
func (r Region) End() uint32 {
	return r.Start + r.Count
}

// Contains reports whether `block` is in the region.
func (r Region) Contains(block uint32) bool {
	return block >= r.Start && block-r.Start < r.Count
}

func (r Region) String() string {
	return fmt.Sprintf("[%d, %d)", r.Start, r.End())
}
