package testing

import (
	"encoding/binary"

	"github.com/dargueta/sdmmc"
	"github.com/noxer/bytewriter"
)

// Directory entry attribute flags.
const (
	AttrReadOnly    = 0x01
	AttrHidden      = 0x02
	AttrSystem      = 0x04
	AttrVolumeLabel = 0x08
	AttrDirectory   = 0x10
	AttrArchive     = 0x20
	AttrLongName    = 0x0F
)

// DirentParams describes a synthetic 32-byte directory entry.
type DirentParams struct {
	// Name and Extension are space-padded to 8 and 3 bytes.
	Name         string
	Extension    string
	Attributes   uint8
	FirstCluster uint32
	Size         uint32
	Created      sdmmc.Timestamp
	Modified     sdmmc.Timestamp
	Accessed     sdmmc.Timestamp
}

type rawDirent struct {
	Name             [8]byte
	Extension        [3]byte
	Attributes       uint8
	NTReserved       uint8
	CreatedTenths    uint8
	CreatedTime      uint16
	CreatedDate      uint16
	AccessedDate     uint16
	FirstClusterHigh uint16
	ModifiedTime     uint16
	ModifiedDate     uint16
	FirstClusterLow  uint16
	Size             uint32
}

// BuildDirent encodes a directory entry.
func BuildDirent(params DirentParams) [32]byte {
	raw := rawDirent{
		Attributes:       params.Attributes,
		FirstClusterHigh: uint16(params.FirstCluster >> 16),
		FirstClusterLow:  uint16(params.FirstCluster),
		Size:             params.Size,
	}
	copy(raw.Name[:], PadName(params.Name, 8))
	copy(raw.Extension[:], PadName(params.Extension, 3))
	raw.CreatedDate, raw.CreatedTime = params.Created.FAT()
	raw.ModifiedDate, raw.ModifiedTime = params.Modified.FAT()
	raw.AccessedDate, _ = params.Accessed.FAT()

	var entry [32]byte
	binary.Write(bytewriter.New(entry[:]), binary.LittleEndian, &raw)
	return entry
}

// DeletedDirent returns `entry` marked as deleted.
func DeletedDirent(entry [32]byte) [32]byte {
	entry[0] = 0xE5
	return entry
}

// LongNameDirent returns a long file name continuation slot. Its contents are
// arbitrary since readers of short names must skip it.
func LongNameDirent(sequence uint8) [32]byte {
	var entry [32]byte
	entry[0] = sequence
	for i := 1; i < 11; i++ {
		entry[i] = 'a' + byte(i)
	}
	entry[11] = AttrLongName
	return entry
}
