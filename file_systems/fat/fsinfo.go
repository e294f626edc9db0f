package fat

import (
	"encoding/binary"
	"fmt"

	"github.com/dargueta/sdmmc"
	"github.com/dargueta/sdmmc/errors"
)

const (
	fsInfoLeadSignature   = 0x41615252
	fsInfoStructSignature = 0x61417272
	fsInfoTrailSignature  = 0xAA550000
	// fsInfoUnknown in either hint means the value hasn't been computed.
	fsInfoUnknown = 0xFFFFFFFF
)

// FSInfo holds the allocation hints FAT32 keeps in its FSInfo sector. Both are
// advisory and may be stale.
type FSInfo struct {
	FreeClusters uint32
	NextFree     ClusterID
}

// FreeClustersKnown reports whether the free cluster count was recorded.
func (info FSInfo) FreeClustersKnown() bool {
	return info.FreeClusters != fsInfoUnknown
}

// NextFreeKnown reports whether the next free cluster hint was recorded.
func (info FSInfo) NextFreeKnown() bool {
	return info.NextFree != fsInfoUnknown
}

// ParseFSInfo parses a FAT32 FSInfo sector.
func ParseFSInfo(sector *sdmmc.Sector) (FSInfo, error) {
	data := sector.Data[:]
	lead := binary.LittleEndian.Uint32(data[0:])
	structSig := binary.LittleEndian.Uint32(data[484:])
	trail := binary.LittleEndian.Uint32(data[508:])

	if lead != fsInfoLeadSignature || structSig != fsInfoStructSignature || trail != fsInfoTrailSignature {
		return FSInfo{}, errors.ErrInvalidBootSector.WithMessage(
			fmt.Sprintf(
				"bad FSInfo signatures at sector %d: %#08x %#08x %#08x",
				sector.LBA, lead, structSig, trail))
	}

	return FSInfo{
		FreeClusters: binary.LittleEndian.Uint32(data[488:]),
		NextFree:     ClusterID(binary.LittleEndian.Uint32(data[492:])),
	}, nil
}

// FSInfo reads the volume's FSInfo sector. Only FAT32 volumes have one;
// anything else gives [errors.KindUnsupportedVolume].
func (v *Volume) FSInfo() (FSInfo, error) {
	bs := v.bootSector
	if bs.Variant != FAT32 {
		return FSInfo{}, errors.ErrUnsupportedVolume.WithMessage(
			fmt.Sprintf("%s volumes have no FSInfo sector", bs.Variant))
	}
	// 0 and 0xFFFF both mean there isn't one.
	if bs.FSInfoSector == 0 || bs.FSInfoSector == 0xFFFF || bs.FSInfoSector >= bs.ReservedSectors {
		return FSInfo{}, errors.ErrNotFound.WithMessage("volume has no FSInfo sector")
	}

	var sector sdmmc.Sector
	if err := v.device.ReadBlock(bs.BaseLBA+uint32(bs.FSInfoSector), &sector); err != nil {
		return FSInfo{}, err
	}
	return ParseFSInfo(&sector)
}
