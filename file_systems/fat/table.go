package fat

import (
	"encoding/binary"
	"fmt"

	"github.com/dargueta/sdmmc"
	"github.com/dargueta/sdmmc/errors"
)

// DecodeFAT12Entry returns entry `cluster` of a FAT12 table whose bytes begin
// at entry 0 in `fat`. Two entries are packed into every three bytes: an even
// entry is the low twelve bits of the 16-bit little-endian word at its offset,
// an odd entry the high twelve.
func DecodeFAT12Entry(fat []byte, cluster ClusterID) uint32 {
	offset := cluster + cluster/2
	return unpackFAT12(binary.LittleEndian.Uint16(fat[offset:offset+2]), cluster)
}

// unpackFAT12 extracts a cluster's entry from the little-endian word at the
// entry's byte offset.
func unpackFAT12(word uint16, cluster ClusterID) uint32 {
	if cluster%2 == 0 {
		return uint32(word & 0x0FFF)
	}
	return uint32(word >> 4)
}

// fatEntryOffset returns the byte offset of a cluster's entry from the start
// of the FAT.
func (bs *BootSector) fatEntryOffset(cluster ClusterID) uint64 {
	switch bs.Variant {
	case FAT12:
		return uint64(cluster) + uint64(cluster)/2
	case FAT16:
		return uint64(cluster) * 2
	default:
		return uint64(cluster) * 4
	}
}

// Entry values with special meanings, for FAT12. The FAT16 and FAT32 values
// are the same with the high bits of the entry set.
const (
	fat12BadCluster  = 0xFF7
	fat12ReservedMin = 0xFF0
	fat12EndOfChain  = 0xFF8
)

// entryMask returns the bits of a FAT entry that are significant. The top four
// bits of a FAT32 entry are reserved.
func (v Variant) entryMask() uint32 {
	switch v {
	case FAT12:
		return 0x0FFF
	case FAT16:
		return 0xFFFF
	default:
		return 0x0FFFFFFF
	}
}

// scaled extends a FAT12 special value to the width of this variant's
// entries, e.g. 0xFF8 becomes 0xFFF8 for FAT16.
func (v Variant) scaled(fat12Value uint32) uint32 {
	return v.entryMask()&^0x0FFF | fat12Value
}

// IsEndOfChain reports whether a FAT entry marks the last cluster of a chain.
func (v Variant) IsEndOfChain(entry uint32) bool {
	return entry&v.entryMask() >= v.scaled(fat12EndOfChain)
}

// IsBadCluster reports whether a FAT entry marks a cluster as unusable.
func (v Variant) IsBadCluster(entry uint32) bool {
	return entry&v.entryMask() == v.scaled(fat12BadCluster)
}

// ReadFATEntry reads the raw entry for `cluster` from the first FAT, with the
// reserved bits of FAT32 entries masked off.
func (v *Volume) ReadFATEntry(cluster ClusterID) (uint32, error) {
	bs := v.bootSector
	if !bs.IsValidCluster(cluster) {
		return 0, errors.ErrBrokenChain.WithMessage(
			fmt.Sprintf("cluster %d not in range [2, %d)", cluster, uint64(bs.TotalClusters)+2))
	}

	offset := bs.fatEntryOffset(cluster)
	width := uint64(2)
	if bs.Variant == FAT32 {
		width = 4
	}
	if offset+width > uint64(bs.SectorsPerFAT)*sdmmc.BlockSize {
		return 0, errors.ErrBrokenChain.WithMessage(
			fmt.Sprintf("entry for cluster %d is past the end of the FAT", cluster))
	}

	sectorIndex := uint32(offset / sdmmc.BlockSize)
	byteIndex := int(offset % sdmmc.BlockSize)

	sector, err := v.fatCache.Read(bs.FATStart + sectorIndex)
	if err != nil {
		return 0, err
	}

	var raw [4]byte
	copied := copy(raw[:width], sector.Data[byteIndex:])
	if copied < int(width) {
		// Only FAT12 entries can straddle two sectors.
		sector, err = v.fatCache.Read(bs.FATStart + sectorIndex + 1)
		if err != nil {
			return 0, err
		}
		copy(raw[copied:width], sector.Data[:])
	}

	switch bs.Variant {
	case FAT12:
		return unpackFAT12(binary.LittleEndian.Uint16(raw[:2]), cluster), nil
	case FAT16:
		return uint32(binary.LittleEndian.Uint16(raw[:2])), nil
	default:
		return binary.LittleEndian.Uint32(raw[:]) & 0x0FFFFFFF, nil
	}
}

// NextCluster returns the cluster following `current` in its chain. If
// `current` is the last cluster of the chain, `ok` is false.
//
// A chain that runs into a free, reserved, or bad cluster, or points outside
// the volume, is corrupt and gives an error of kind [errors.KindBrokenChain].
// Such an error only concerns the file or directory being read.
func (v *Volume) NextCluster(current ClusterID) (next ClusterID, ok bool, err error) {
	entry, err := v.ReadFATEntry(current)
	if err != nil {
		return 0, false, err
	}

	variant := v.bootSector.Variant
	switch {
	case variant.IsEndOfChain(entry):
		return 0, false, nil
	case entry == 0:
		return 0, false, errors.ErrBrokenChain.WithMessage(
			fmt.Sprintf("cluster %d is followed by a free cluster", current))
	case variant.IsBadCluster(entry):
		return 0, false, errors.ErrBrokenChain.WithMessage(
			fmt.Sprintf("cluster %d is followed by a bad cluster", current))
	case entry >= variant.scaled(fat12ReservedMin):
		return 0, false, errors.ErrBrokenChain.WithMessage(
			fmt.Sprintf("cluster %d is followed by reserved value %#x", current, entry))
	case !v.bootSector.IsValidCluster(ClusterID(entry)):
		return 0, false, errors.ErrBrokenChain.WithMessage(
			fmt.Sprintf("cluster %d is followed by invalid cluster %d", current, entry))
	}
	return ClusterID(entry), true, nil
}
