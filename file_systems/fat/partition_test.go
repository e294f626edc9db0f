package fat_test

import (
	"testing"

	"github.com/dargueta/sdmmc/errors"
	"github.com/dargueta/sdmmc/file_systems/fat"
	sdtest "github.com/dargueta/sdmmc/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsFATPartitionType(t *testing.T) {
	for _, partitionType := range []uint8{0x01, 0x04, 0x06, 0x0B, 0x0C, 0x0E} {
		assert.Truef(t, fat.IsFATPartitionType(partitionType), "%#02x", partitionType)
	}
	for _, partitionType := range []uint8{0x00, 0x05, 0x07, 0x0F, 0x83, 0xEE} {
		assert.Falsef(t, fat.IsFATPartitionType(partitionType), "%#02x", partitionType)
	}
}

func TestReadPartitionTable(t *testing.T) {
	mbr := sdtest.BuildMBR(
		sdtest.PartitionEntry{Bootable: true, Type: 0x0C, StartLBA: 8192, Sectors: 100000},
		sdtest.PartitionEntry{Type: 0x83, StartLBA: 108192, Sectors: 5000},
	)

	partitions, err := fat.ReadPartitionTable(sectorFromBytes(mbr, 0))
	require.NoError(t, err)

	assert.Equal(
		t,
		fat.Partition{Index: 0, Bootable: true, Type: 0x0C, StartLBA: 8192, Sectors: 100000},
		partitions[0])
	assert.Equal(
		t,
		fat.Partition{Index: 1, Type: 0x83, StartLBA: 108192, Sectors: 5000},
		partitions[1])
	assert.True(t, partitions[2].IsEmpty())
	assert.True(t, partitions[3].IsEmpty())
}

func TestReadPartitionTable__BadSignature(t *testing.T) {
	_, err := fat.ReadPartitionTable(sectorFromBytes(nil, 0))
	assert.ErrorIs(t, err, errors.ErrInvalidBootSector)
}

func TestOpenVolume__Partitioned(t *testing.T) {
	image := sdtest.NewPartitionedFATImage(fat16Params, 0x06, 2048)
	image.PutRootDirent(0, fileDirent("README", "TXT", 2, 1024))

	volume, err := fat.OpenVolume(image.Device, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2048, volume.BootSector().BaseLBA)
	assert.EqualValues(t, 2048+65, volume.BootSector().RootDirStart)
	assert.Equal(t, fat.FAT16, volume.Variant())

	entries, err := volume.ListDir(volume.RootDir())
	require.NoError(t, err)
	assert.Equal(t, []string{"README.TXT"}, entryNames(entries))

	_, err = fat.OpenVolume(image.Device, 1)
	assert.ErrorIs(t, err, errors.ErrNotFound, "partition 1 is empty")

	_, err = fat.OpenVolume(image.Device, 4)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)
}

// A device without an MBR whose first block is a boot sector has exactly one
// volume.
func TestOpenVolume__Superfloppy(t *testing.T) {
	image := sdtest.NewFATImage(fat12Params)

	volume, err := fat.OpenVolume(image.Device, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 0, volume.BootSector().BaseLBA)
	assert.Equal(t, fat.FAT12, volume.Variant())

	_, err = fat.OpenVolume(image.Device, 1)
	assert.ErrorIs(t, err, errors.ErrNotFound)

	_, index, err := fat.OpenFirstVolume(image.Device)
	require.NoError(t, err)
	assert.Equal(t, 0, index)
}

func TestOpenVolume__NotFAT(t *testing.T) {
	image := sdtest.NewPartitionedFATImage(fat16Params, 0x83, 2048)

	_, err := fat.OpenVolume(image.Device, 0)
	assert.ErrorIs(t, err, errors.ErrUnsupportedVolume)
}

// The first partition isn't FAT, so the second is used.
func TestOpenFirstVolume__SkipsUnusable(t *testing.T) {
	image := sdtest.NewPartitionedFATImage(fat32Params, 0x0C, 4096)
	copy(image.Device.Block(0), sdtest.BuildMBR(
		sdtest.PartitionEntry{Type: 0x83, StartLBA: 100, Sectors: 1000},
		sdtest.PartitionEntry{Type: 0x0C, StartLBA: 4096, Sectors: fat32Params.TotalSectors},
	))

	volume, index, err := fat.OpenFirstVolume(image.Device)
	require.NoError(t, err)
	assert.Equal(t, 1, index)
	assert.Equal(t, fat.FAT32, volume.Variant())
	assert.EqualValues(t, 4096, volume.BootSector().BaseLBA)
}

// When nothing can be mounted, the error says why for every partition.
func TestOpenFirstVolume__AllFail(t *testing.T) {
	device := sdtest.NewSparseDevice(4096)
	copy(device.Block(0), sdtest.BuildMBR(
		sdtest.PartitionEntry{Type: 0x83, StartLBA: 100, Sectors: 1000},
		// FAT type, but there's no boot sector at 2000.
		sdtest.PartitionEntry{Type: 0x06, StartLBA: 2000, Sectors: 1000},
	))

	_, index, err := fat.OpenFirstVolume(device)
	assert.Equal(t, -1, index)
	assert.ErrorIs(t, err, errors.ErrUnsupportedVolume)
	assert.ErrorIs(t, err, errors.ErrInvalidBootSector)
	assert.Contains(t, err.Error(), "partition 0")
	assert.Contains(t, err.Error(), "partition 1")
}

func TestOpenFirstVolume__EmptyTable(t *testing.T) {
	device := sdtest.NewSparseDevice(16)
	copy(device.Block(0), sdtest.BuildMBR())

	_, _, err := fat.OpenFirstVolume(device)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}
