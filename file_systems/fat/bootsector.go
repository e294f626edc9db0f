// Package fat reads FAT12, FAT16, and FAT32 volumes from a block device: the
// boot sector and partition table, cluster chains, and directories.
package fat

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/dargueta/sdmmc"
	"github.com/dargueta/sdmmc/errors"
)

type ClusterID uint32

// Variant is the FAT version of a volume, named after the width of its FAT
// entries in bits.
type Variant int

const (
	FAT12 Variant = 12
	FAT16 Variant = 16
	FAT32 Variant = 32
)

func (v Variant) String() string {
	return fmt.Sprintf("FAT%d", int(v))
}

// DetermineVariant determines the version of the FAT file system based on the
// number of clusters on the system. (This is the only proper way to do so.)
func DetermineVariant(totalClusters uint32) Variant {
	// These cluster counts, while odd-looking, are correct. They're taken
	// directly from Microsoft's FAT documentation, v1.03, page 14.
	if totalClusters < 4085 {
		return FAT12
	}
	if totalClusters < 65525 {
		return FAT16
	}
	return FAT32
}

// RawBPB is the on-disk representation of the BIOS Parameter Block common to
// all FAT versions.
type RawBPB struct {
	JmpBoot           [3]byte
	OEMName           [8]byte
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	TotalSectors16    uint16
	Media             uint8
	SectorsPerFAT16   uint16
	SectorsPerTrack   uint16
	NumHeads          uint16
	HiddenSectors     uint32
	TotalSectors32    uint32
}

// RawFAT32Extension follows the BPB on volumes laid out as FAT32.
type RawFAT32Extension struct {
	SectorsPerFAT32  uint32
	ExtFlags         uint16
	FSVersion        uint16
	RootCluster      uint32
	FSInfoSector     uint16
	BackupBootSector uint16
	Reserved         [12]byte
}

// RawExtendedBootRecord follows the BPB (and the FAT32 extension, if present).
// Its fields are only meaningful if BootSignature is 0x28 or 0x29; the label and
// type fields exist only for 0x29.
type RawExtendedBootRecord struct {
	DriveNumber   uint8
	Reserved      uint8
	BootSignature uint8
	SerialNumber  uint32
	VolumeLabel   [11]byte
	FSType        [8]byte
}

// BootSector is the parsed boot sector of a volume, with the geometry derived
// from it. All sector addresses are absolute, i.e. relative to the start of
// the device rather than the volume.
type BootSector struct {
	RawBPB
	// BaseLBA is the absolute address of the boot sector.
	BaseLBA           uint32
	Variant           Variant
	TotalSectors      uint32
	SectorsPerFAT     uint32
	RootDirSectors    uint32
	TotalClusters     uint32
	RootCluster       ClusterID // FAT32 only
	FSInfoSector      uint16    // FAT32 only, relative to BaseLBA
	SerialNumber      uint32
	VolumeLabel       string
	FSType            string
	FATStart          uint32
	RootDirStart      uint32
	DataStart         uint32
	DirentsPerSector  int
	DirentsPerCluster int
}

var exFATSignature = []byte("EXFAT   ")

func isPowerOfTwo(value uint32) bool {
	return value != 0 && value&(value-1) == 0
}

// ParseBootSector parses the boot sector in `sector`, which must be the first
// sector of a volume.
//
// Errors:
//
//   - [errors.KindInvalidBootSector]: the signature is missing or the BPB is
//     inconsistent.
//   - [errors.KindUnsupportedVolume]: the volume is exFAT or its sector size
//     is anything other than 512 bytes.
func ParseBootSector(sector *sdmmc.Sector) (*BootSector, error) {
	data := sector.Data[:]
	if data[510] != 0x55 || data[511] != 0xAA {
		return nil, errors.ErrInvalidBootSector.WithMessage(
			fmt.Sprintf("bad signature %02x %02x", data[510], data[511]))
	}
	if bytes.Equal(data[3:11], exFATSignature) {
		return nil, errors.ErrUnsupportedVolume.WithMessage("exFAT volumes aren't supported")
	}

	reader := bytes.NewReader(data)
	bootSector := BootSector{BaseLBA: sector.LBA}
	err := binary.Read(reader, binary.LittleEndian, &bootSector.RawBPB)
	if err != nil {
		return nil, errors.ErrInvalidBootSector.Wrap(err)
	}

	bpb := &bootSector.RawBPB
	if bpb.BytesPerSector != sdmmc.BlockSize {
		return nil, errors.ErrUnsupportedVolume.WithMessage(
			fmt.Sprintf("only 512-byte sectors are supported, got %d", bpb.BytesPerSector))
	}
	if !isPowerOfTwo(uint32(bpb.SectorsPerCluster)) {
		return nil, errors.ErrInvalidBootSector.WithMessage(
			fmt.Sprintf("SectorsPerCluster must be a power of 2 in 1-128, got %d", bpb.SectorsPerCluster))
	}
	if bpb.ReservedSectors == 0 {
		return nil, errors.ErrInvalidBootSector.WithMessage("ReservedSectors must be nonzero")
	}
	if bpb.NumFATs == 0 {
		return nil, errors.ErrInvalidBootSector.WithMessage("NumFATs must be nonzero")
	}

	var extension RawFAT32Extension
	if bpb.SectorsPerFAT16 == 0 {
		err = binary.Read(reader, binary.LittleEndian, &extension)
		if err != nil {
			return nil, errors.ErrInvalidBootSector.Wrap(err)
		}
		bootSector.SectorsPerFAT = extension.SectorsPerFAT32
	} else {
		bootSector.SectorsPerFAT = uint32(bpb.SectorsPerFAT16)
	}

	var ebr RawExtendedBootRecord
	err = binary.Read(reader, binary.LittleEndian, &ebr)
	if err != nil {
		return nil, errors.ErrInvalidBootSector.Wrap(err)
	}

	if bpb.TotalSectors16 != 0 {
		bootSector.TotalSectors = uint32(bpb.TotalSectors16)
	} else {
		bootSector.TotalSectors = bpb.TotalSectors32
	}

	if bootSector.SectorsPerFAT == 0 {
		return nil, errors.ErrInvalidBootSector.WithMessage("SectorsPerFAT must be nonzero")
	}

	// The number of sectors taken up by the root directory. On FAT32 systems,
	// this will be 0.
	bootSector.RootDirSectors = (uint32(bpb.RootEntryCount)*DirentSize + sdmmc.BlockSize - 1) / sdmmc.BlockSize

	overhead := uint64(bpb.ReservedSectors) +
		uint64(bpb.NumFATs)*uint64(bootSector.SectorsPerFAT) +
		uint64(bootSector.RootDirSectors)
	if overhead >= uint64(bootSector.TotalSectors) {
		return nil, errors.ErrInvalidBootSector.WithMessage(
			fmt.Sprintf(
				"volume of %d sectors has no room for data after %d sectors of metadata",
				bootSector.TotalSectors,
				overhead))
	}

	dataSectors := bootSector.TotalSectors - uint32(overhead)
	bootSector.TotalClusters = dataSectors / uint32(bpb.SectorsPerCluster)
	bootSector.Variant = DetermineVariant(bootSector.TotalClusters)

	if bootSector.Variant == FAT32 {
		if bpb.RootEntryCount != 0 {
			return nil, errors.ErrInvalidBootSector.WithMessage(
				fmt.Sprintf("RootEntryCount is nonzero for a FAT32 volume: %d", bpb.RootEntryCount))
		}
		bootSector.RootCluster = ClusterID(extension.RootCluster)
		bootSector.FSInfoSector = extension.FSInfoSector
		if !bootSector.IsValidCluster(bootSector.RootCluster) {
			return nil, errors.ErrInvalidBootSector.WithMessage(
				fmt.Sprintf("root cluster %d is outside the volume", bootSector.RootCluster))
		}
	} else if bpb.RootEntryCount == 0 {
		return nil, errors.ErrInvalidBootSector.WithMessage(
			fmt.Sprintf("RootEntryCount is zero for a %s volume", bootSector.Variant))
	}

	if ebr.BootSignature == 0x28 || ebr.BootSignature == 0x29 {
		bootSector.SerialNumber = ebr.SerialNumber
	}
	if ebr.BootSignature == 0x29 {
		bootSector.VolumeLabel = strings.TrimRight(decodeName(ebr.VolumeLabel[:]), " ")
		bootSector.FSType = strings.TrimRight(string(ebr.FSType[:]), " ")
	}

	bootSector.FATStart = sector.LBA + uint32(bpb.ReservedSectors)
	bootSector.RootDirStart = bootSector.FATStart + uint32(bpb.NumFATs)*bootSector.SectorsPerFAT
	bootSector.DataStart = bootSector.RootDirStart + bootSector.RootDirSectors
	bootSector.DirentsPerSector = sdmmc.BlockSize / DirentSize
	bootSector.DirentsPerCluster = bootSector.DirentsPerSector * int(bpb.SectorsPerCluster)

	return &bootSector, nil
}

// OEM returns the name of the system that formatted the volume.
func (bs *BootSector) OEM() string {
	return strings.TrimRight(string(bs.RawBPB.OEMName[:]), " \x00")
}

// BytesPerCluster returns the size of a cluster, in bytes.
func (bs *BootSector) BytesPerCluster() uint32 {
	return uint32(bs.SectorsPerCluster) * sdmmc.BlockSize
}

// IsValidCluster reports whether `cluster` addresses a data cluster on the
// volume. Data clusters are numbered from 2.
func (bs *BootSector) IsValidCluster(cluster ClusterID) bool {
	return cluster >= 2 && uint64(cluster) < uint64(bs.TotalClusters)+2
}

// ClusterToSector returns the absolute address of the first sector of
// `cluster`. The cluster must be valid.
func (bs *BootSector) ClusterToSector(cluster ClusterID) uint32 {
	return bs.DataStart + uint32(cluster-2)*uint32(bs.SectorsPerCluster)
}

// FATEntries returns how many entries fit in one copy of the FAT.
func (bs *BootSector) FATEntries() uint32 {
	fatBytes := uint64(bs.SectorsPerFAT) * sdmmc.BlockSize
	var entries uint64
	switch bs.Variant {
	case FAT12:
		entries = fatBytes * 2 / 3
	case FAT16:
		entries = fatBytes / 2
	default:
		entries = fatBytes / 4
	}
	if entries > 0xFFFFFFFF {
		return 0xFFFFFFFF
	}
	return uint32(entries)
}
