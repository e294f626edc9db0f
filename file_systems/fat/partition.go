package fat

import (
	"encoding/binary"
	"fmt"

	"github.com/dargueta/sdmmc"
	"github.com/dargueta/sdmmc/errors"
)

const (
	partitionTableOffset = 446
	partitionEntrySize   = 16
	// MaxPartitions is the number of primary partitions an MBR can describe.
	MaxPartitions = 4
)

// Partition is one entry of an MBR partition table.
type Partition struct {
	Index    int
	Bootable bool
	Type     uint8
	StartLBA uint32
	Sectors  uint32
}

// IsEmpty reports whether the partition table slot is unused.
func (p Partition) IsEmpty() bool {
	return p.Type == 0 || p.Sectors == 0
}

func (p Partition) String() string {
	return fmt.Sprintf(
		"partition %d: type %#02x, sectors %d-%d", p.Index, p.Type, p.StartLBA, uint64(p.StartLBA)+uint64(p.Sectors)-1)
}

// IsFATPartitionType reports whether an MBR partition type holds a FAT12,
// FAT16, or FAT32 file system.
func IsFATPartitionType(partitionType uint8) bool {
	switch partitionType {
	case 0x01, // FAT12
		0x04, // FAT16, under 32 MiB
		0x06, // FAT16
		0x0E, // FAT16, LBA
		0x0B, // FAT32, CHS
		0x0C: // FAT32, LBA
		return true
	default:
		return false
	}
}

// ReadPartitionTable decodes all four entries of the MBR in `sector`,
// including empty ones.
func ReadPartitionTable(sector *sdmmc.Sector) ([MaxPartitions]Partition, error) {
	var partitions [MaxPartitions]Partition
	data := sector.Data[:]
	if data[510] != 0x55 || data[511] != 0xAA {
		return partitions, errors.ErrInvalidBootSector.WithMessage(
			fmt.Sprintf("bad MBR signature %02x %02x", data[510], data[511]))
	}

	for i := range partitions {
		entry := data[partitionTableOffset+i*partitionEntrySize:]
		partitions[i] = Partition{
			Index:    i,
			Bootable: entry[0]&0x80 != 0,
			Type:     entry[4],
			StartLBA: binary.LittleEndian.Uint32(entry[8:12]),
			Sectors:  binary.LittleEndian.Uint32(entry[12:16]),
		}
	}
	return partitions, nil
}

// parseSuperfloppy returns the boot sector if block 0 of the device holds a
// FAT boot sector rather than a partition table. Such devices have a single
// volume and no MBR.
func parseSuperfloppy(sector *sdmmc.Sector) (*BootSector, bool) {
	if sector.Data[0] != 0xEB && sector.Data[0] != 0xE9 {
		return nil, false
	}
	bootSector, err := ParseBootSector(sector)
	if err != nil {
		return nil, false
	}
	return bootSector, true
}

// OpenVolume mounts volume `index` of the device. If block 0 is a partition
// table, `index` selects one of its four entries. If block 0 is itself a FAT
// boot sector, the device holds one volume and only index 0 exists.
//
// Errors:
//
//   - [errors.KindNotFound]: there's no volume at `index`.
//   - [errors.KindUnsupportedVolume]: the partition isn't a FAT partition.
//   - Anything [ParseBootSector] or the device can return.
func OpenVolume(device sdmmc.BlockDevice, index int, options ...Option) (*Volume, error) {
	if index < 0 || index >= MaxPartitions {
		return nil, errors.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("volume index %d not in range [0, %d)", index, MaxPartitions))
	}

	var sector sdmmc.Sector
	if err := device.ReadBlock(0, &sector); err != nil {
		return nil, err
	}

	if bootSector, ok := parseSuperfloppy(&sector); ok {
		if index != 0 {
			return nil, errors.ErrNotFound.WithMessage(
				fmt.Sprintf("unpartitioned device has no volume %d", index))
		}
		return NewVolume(device, bootSector, options...), nil
	}

	partitions, err := ReadPartitionTable(&sector)
	if err != nil {
		return nil, err
	}
	return mountPartition(device, partitions[index], options...)
}

func mountPartition(device sdmmc.BlockDevice, partition Partition, options ...Option) (*Volume, error) {
	if partition.IsEmpty() {
		return nil, errors.ErrNotFound.WithMessage(fmt.Sprintf("partition %d is empty", partition.Index))
	}
	if !IsFATPartitionType(partition.Type) {
		return nil, errors.ErrUnsupportedVolume.WithMessage(partition.String())
	}
	return Mount(device, partition.StartLBA, options...)
}

// OpenFirstVolume mounts the first usable FAT volume on the device and returns
// it with its index. Partitions that fail to mount are skipped; if none can be
// mounted, the error holds every partition's failure.
func OpenFirstVolume(device sdmmc.BlockDevice, options ...Option) (*Volume, int, error) {
	var sector sdmmc.Sector
	if err := device.ReadBlock(0, &sector); err != nil {
		return nil, -1, err
	}

	if bootSector, ok := parseSuperfloppy(&sector); ok {
		return NewVolume(device, bootSector, options...), 0, nil
	}

	partitions, err := ReadPartitionTable(&sector)
	if err != nil {
		return nil, -1, err
	}

	var failures error
	for _, partition := range partitions {
		if partition.IsEmpty() {
			continue
		}
		volume, err := mountPartition(device, partition, options...)
		if err == nil {
			return volume, partition.Index, nil
		}
		failures = errors.Append(
			failures, fmt.Errorf("partition %d: %w", partition.Index, err))
	}

	if failures == nil {
		return nil, -1, errors.ErrNotFound.WithMessage("no partitions on device")
	}
	return nil, -1, failures
}
