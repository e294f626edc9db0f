package fat_test

import (
	"testing"

	"github.com/dargueta/sdmmc"
	"github.com/dargueta/sdmmc/file_systems/fat"
	sdtest "github.com/dargueta/sdmmc/testing"
	"github.com/stretchr/testify/require"
)

// fat12Params describes a 1.44 MB floppy: 2847 clusters of one sector, FATs at
// sector 1, the root directory at 19, and data at 33.
var fat12Params = sdtest.VolumeParams{
	FATSize:           12,
	SectorsPerCluster: 1,
	ReservedSectors:   1,
	NumFATs:           2,
	RootEntryCount:    224,
	SectorsPerFAT:     9,
	TotalSectors:      2880,
	VolumeLabel:       "FLOPPY",
}

// fat16Params has 8179 clusters of eight sectors. The FATs start at sector 1,
// the root directory at 65, and data at 97.
var fat16Params = sdtest.VolumeParams{
	FATSize:           16,
	SectorsPerCluster: 8,
	ReservedSectors:   1,
	NumFATs:           2,
	RootEntryCount:    512,
	SectorsPerFAT:     32,
	TotalSectors:      65536,
	SerialNumber:      0xDEADBEEF,
}

// fat32Params has 65598 clusters of one sector, just enough to be FAT32. The
// FATs start at sector 32 and data at 1058.
var fat32Params = sdtest.VolumeParams{
	FATSize:           32,
	SectorsPerCluster: 1,
	ReservedSectors:   32,
	NumFATs:           2,
	SectorsPerFAT:     513,
	TotalSectors:      66656,
	RootCluster:       2,
	FSInfoSector:      1,
	VolumeLabel:       "SDCARD",
}

func sectorFromBytes(data []byte, lba uint32) *sdmmc.Sector {
	sector := &sdmmc.Sector{LBA: lba}
	copy(sector.Data[:], data)
	return sector
}

// mountImage mounts the volume in `image` and clears the device's read log.
func mountImage(t *testing.T, image *sdtest.FATImage, options ...fat.Option) *fat.Volume {
	volume, err := fat.Mount(image.Device, image.BaseLBA, options...)
	require.NoError(t, err, "failed to mount volume")
	image.Device.ResetReads()
	return volume
}

func entryNames(entries []fat.DirEntry) []string {
	names := make([]string, len(entries))
	for i, entry := range entries {
		names[i] = entry.Name()
	}
	return names
}
