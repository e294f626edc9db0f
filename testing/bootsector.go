package testing

import (
	"encoding/binary"
	"strings"

	"github.com/dargueta/sdmmc"
	"github.com/noxer/bytewriter"
)

// VolumeParams describes a synthetic FAT volume. Zero values get defaults
// where noted.
type VolumeParams struct {
	// FATSize is 12, 16, or 32 and only determines which layout the boot
	// sector is written in. It has no effect on how the volume is classified
	// when parsed, which depends only on the cluster count.
	FATSize           int
	BytesPerSector    uint16 // Default 512
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	SectorsPerFAT     uint32
	// TotalSectors is written to the 16-bit field if it fits and FATSize isn't
	// 32, otherwise to the 32-bit field.
	TotalSectors uint32
	// ForceTotalSectors32 always writes TotalSectors to the 32-bit field.
	ForceTotalSectors32 bool
	RootCluster         uint32 // FAT32 only
	FSInfoSector        uint16 // FAT32 only
	Media               uint8  // Default 0xF8
	HiddenSectors       uint32
	OEMName             string
	VolumeLabel         string
	SerialNumber        uint32
	// FSType is the informational type string, e.g. "FAT16   ". It's never
	// used for classification.
	FSType string
}

type rawBPB struct {
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

type rawFAT32Extension struct {
	SectorsPerFAT32  uint32
	ExtFlags         uint16
	FSVersion        uint16
	RootCluster      uint32
	FSInfoSector     uint16
	BackupBootSector uint16
	Reserved         [12]byte
}

type rawExtendedBootRecord struct {
	DriveNumber   uint8
	Reserved      uint8
	BootSignature uint8
	SerialNumber  uint32
	VolumeLabel   [11]byte
	FSType        [8]byte
}

// PadName pads or truncates `name` with spaces to exactly `length` bytes.
func PadName(name string, length int) []byte {
	if len(name) > length {
		name = name[:length]
	}
	return []byte(name + strings.Repeat(" ", length-len(name)))
}

func (p VolumeParams) withDefaults() VolumeParams {
	if p.BytesPerSector == 0 {
		p.BytesPerSector = sdmmc.BlockSize
	}
	if p.Media == 0 {
		p.Media = 0xF8
	}
	if p.OEMName == "" {
		p.OEMName = "SDMMCTST"
	}
	if p.FSType == "" {
		switch p.FATSize {
		case 12:
			p.FSType = "FAT12"
		case 32:
			p.FSType = "FAT32"
		default:
			p.FSType = "FAT16"
		}
	}
	return p
}

// BuildBootSector creates a boot sector with a valid signature.
func BuildBootSector(params VolumeParams) []byte {
	params = params.withDefaults()
	sector := make([]byte, sdmmc.BlockSize)

	bpb := rawBPB{
		JmpBoot:           [3]byte{0xEB, 0x3C, 0x90},
		BytesPerSector:    params.BytesPerSector,
		SectorsPerCluster: params.SectorsPerCluster,
		ReservedSectors:   params.ReservedSectors,
		NumFATs:           params.NumFATs,
		RootEntryCount:    params.RootEntryCount,
		Media:             params.Media,
		SectorsPerTrack:   63,
		NumHeads:          255,
		HiddenSectors:     params.HiddenSectors,
	}
	copy(bpb.OEMName[:], PadName(params.OEMName, 8))

	if params.TotalSectors < 0x10000 && params.FATSize != 32 && !params.ForceTotalSectors32 {
		bpb.TotalSectors16 = uint16(params.TotalSectors)
	} else {
		bpb.TotalSectors32 = params.TotalSectors
	}

	ebr := rawExtendedBootRecord{
		DriveNumber:   0x80,
		BootSignature: 0x29,
		SerialNumber:  params.SerialNumber,
	}
	label := params.VolumeLabel
	if label == "" {
		label = "NO NAME"
	}
	copy(ebr.VolumeLabel[:], PadName(label, 11))
	copy(ebr.FSType[:], PadName(params.FSType, 8))

	writer := bytewriter.New(sector)
	if params.FATSize == 32 {
		bpb.JmpBoot[1] = 0x58
		binary.Write(writer, binary.LittleEndian, &bpb)
		binary.Write(writer, binary.LittleEndian, &rawFAT32Extension{
			SectorsPerFAT32:  params.SectorsPerFAT,
			RootCluster:      params.RootCluster,
			FSInfoSector:     params.FSInfoSector,
			BackupBootSector: 6,
		})
	} else {
		bpb.SectorsPerFAT16 = uint16(params.SectorsPerFAT)
		binary.Write(writer, binary.LittleEndian, &bpb)
	}
	binary.Write(writer, binary.LittleEndian, &ebr)

	sector[510] = 0x55
	sector[511] = 0xAA
	return sector
}

// BuildFSInfo creates a FAT32 FSInfo sector.
func BuildFSInfo(freeClusters, nextFree uint32) []byte {
	sector := make([]byte, sdmmc.BlockSize)
	binary.LittleEndian.PutUint32(sector[0:], 0x41615252)
	binary.LittleEndian.PutUint32(sector[484:], 0x61417272)
	binary.LittleEndian.PutUint32(sector[488:], freeClusters)
	binary.LittleEndian.PutUint32(sector[492:], nextFree)
	binary.LittleEndian.PutUint32(sector[508:], 0xAA550000)
	return sector
}

// PartitionEntry is one entry of an MBR partition table.
type PartitionEntry struct {
	Bootable bool
	Type     uint8
	StartLBA uint32
	Sectors  uint32
}

// BuildMBR creates a master boot record holding up to four partitions.
func BuildMBR(partitions ...PartitionEntry) []byte {
	sector := make([]byte, sdmmc.BlockSize)
	writer := bytewriter.New(sector[446:510])

	for _, partition := range partitions {
		var status uint8
		if partition.Bootable {
			status = 0x80
		}
		// CHS addresses are unused; 0xFE 0xFF 0xFF marks them as such.
		writer.Write([]byte{status, 0xFE, 0xFF, 0xFF, partition.Type, 0xFE, 0xFF, 0xFF})
		binary.Write(writer, binary.LittleEndian, partition.StartLBA)
		binary.Write(writer, binary.LittleEndian, partition.Sectors)
	}

	sector[510] = 0x55
	sector[511] = 0xAA
	return sector
}
