package testing

import (
	"encoding/binary"

	"github.com/dargueta/sdmmc"
)

// End-of-chain markers written by [FATImage.SetChain].
const (
	EndOfChain12 = 0xFFF
	EndOfChain16 = 0xFFFF
	EndOfChain32 = 0x0FFFFFFF
)

// FATImage builds a FAT volume on a [SparseDevice], optionally inside an MBR
// partition.
type FATImage struct {
	Params VolumeParams
	Device *SparseDevice
	// BaseLBA is the absolute address of the volume's boot sector.
	BaseLBA uint32
}

// NewFATImage creates an unpartitioned volume: the boot sector is block 0.
func NewFATImage(params VolumeParams) *FATImage {
	return newFATImage(params, 0, NewSparseDevice(params.TotalSectors))
}

// NewPartitionedFATImage creates a device with an MBR whose first entry is a
// partition of type `partitionType` starting at `startLBA` and holding the
// volume.
func NewPartitionedFATImage(params VolumeParams, partitionType uint8, startLBA uint32) *FATImage {
	device := NewSparseDevice(startLBA + params.TotalSectors)
	copy(device.Block(0), BuildMBR(PartitionEntry{
		Type:     partitionType,
		StartLBA: startLBA,
		Sectors:  params.TotalSectors,
	}))

	params.HiddenSectors = startLBA
	return newFATImage(params, startLBA, device)
}

func newFATImage(params VolumeParams, baseLBA uint32, device *SparseDevice) *FATImage {
	image := &FATImage{
		Params:  params.withDefaults(),
		Device:  device,
		BaseLBA: baseLBA,
	}
	copy(device.Block(baseLBA), BuildBootSector(params))

	// Entries 0 and 1 are reserved: the media byte and an end-of-chain marker.
	image.SetFATEntry(0, 0x0FFFFF00|uint32(image.Params.Media))
	image.SetFATEntry(1, image.endOfChain())
	if params.FATSize == 32 && params.RootCluster >= 2 {
		image.SetFATEntry(params.RootCluster, EndOfChain32)
	}
	if params.FATSize == 32 && params.FSInfoSector != 0 {
		copy(device.Block(baseLBA+uint32(params.FSInfoSector)), BuildFSInfo(0xFFFFFFFF, 0xFFFFFFFF))
	}
	return image
}

func (img *FATImage) endOfChain() uint32 {
	switch img.Params.FATSize {
	case 12:
		return EndOfChain12
	case 32:
		return EndOfChain32
	default:
		return EndOfChain16
	}
}

// FATStart returns the absolute address of the first FAT.
func (img *FATImage) FATStart() uint32 {
	return img.BaseLBA + uint32(img.Params.ReservedSectors)
}

// RootDirStart returns the absolute address of the FAT12/16 root directory
// region.
func (img *FATImage) RootDirStart() uint32 {
	return img.FATStart() + uint32(img.Params.NumFATs)*img.Params.SectorsPerFAT
}

// RootDirSectors returns the size of the FAT12/16 root directory region.
func (img *FATImage) RootDirSectors() uint32 {
	return (uint32(img.Params.RootEntryCount)*32 + sdmmc.BlockSize - 1) / sdmmc.BlockSize
}

// ClusterSector returns the absolute address of the first sector of a data
// cluster.
func (img *FATImage) ClusterSector(cluster uint32) uint32 {
	dataStart := img.RootDirStart() + img.RootDirSectors()
	return dataStart + (cluster-2)*uint32(img.Params.SectorsPerCluster)
}

// SetFATEntry writes `value` to the entry for `cluster` in every copy of the
// FAT. FAT12 entries straddling a sector boundary are handled.
func (img *FATImage) SetFATEntry(cluster, value uint32) {
	for copyIndex := uint32(0); copyIndex < uint32(img.Params.NumFATs); copyIndex++ {
		fatOffset := int64(img.FATStart()+copyIndex*img.Params.SectorsPerFAT) * sdmmc.BlockSize

		switch img.Params.FATSize {
		case 12:
			offset := fatOffset + int64(cluster+cluster/2)
			var pair [2]byte
			img.Device.ReadAt(pair[:], offset)
			current := binary.LittleEndian.Uint16(pair[:])
			if cluster%2 == 0 {
				current = current&0xF000 | uint16(value&0x0FFF)
			} else {
				current = current&0x000F | uint16(value&0x0FFF)<<4
			}
			binary.LittleEndian.PutUint16(pair[:], current)
			img.Device.WriteAt(pair[:], offset)
		case 32:
			var entry [4]byte
			offset := fatOffset + int64(cluster)*4
			img.Device.ReadAt(entry[:], offset)
			// The top four bits are reserved and must be preserved.
			current := binary.LittleEndian.Uint32(entry[:])
			binary.LittleEndian.PutUint32(entry[:], current&0xF0000000|value&0x0FFFFFFF)
			img.Device.WriteAt(entry[:], offset)
		default:
			var entry [2]byte
			binary.LittleEndian.PutUint16(entry[:], uint16(value))
			img.Device.WriteAt(entry[:], fatOffset+int64(cluster)*2)
		}
	}
}

// SetChain links `clusters` in order and terminates the chain.
func (img *FATImage) SetChain(clusters ...uint32) {
	for i, cluster := range clusters {
		if i+1 < len(clusters) {
			img.SetFATEntry(cluster, clusters[i+1])
		} else {
			img.SetFATEntry(cluster, img.endOfChain())
		}
	}
}

// PutDirent writes a directory entry into slot `slot` of absolute sector
// `sector`. Slots are counted from the start of that sector and may run past
// its end into the following sectors.
func (img *FATImage) PutDirent(sector uint32, slot int, entry [32]byte) {
	img.Device.WriteAt(entry[:], int64(sector)*sdmmc.BlockSize+int64(slot)*32)
}

// PutRootDirent writes slot `slot` of the FAT12/16 root directory region.
func (img *FATImage) PutRootDirent(slot int, entry [32]byte) {
	img.PutDirent(img.RootDirStart(), slot, entry)
}

// PutClusterDirent writes slot `slot` of the directory data in `cluster`.
func (img *FATImage) PutClusterDirent(cluster uint32, slot int, entry [32]byte) {
	img.PutDirent(img.ClusterSector(cluster), slot, entry)
}

// PutClusterData writes `data` to the start of `cluster`.
func (img *FATImage) PutClusterData(cluster uint32, data []byte) {
	img.Device.WriteAt(data, int64(img.ClusterSector(cluster))*sdmmc.BlockSize)
}
