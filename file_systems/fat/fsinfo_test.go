package fat_test

import (
	"testing"

	"github.com/dargueta/sdmmc/errors"
	"github.com/dargueta/sdmmc/file_systems/fat"
	sdtest "github.com/dargueta/sdmmc/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSInfo(t *testing.T) {
	image := sdtest.NewFATImage(fat32Params)
	copy(image.Device.Block(1), sdtest.BuildFSInfo(65000, 123))
	volume := mountImage(t, image)

	info, err := volume.FSInfo()
	require.NoError(t, err)
	assert.True(t, info.FreeClustersKnown())
	assert.True(t, info.NextFreeKnown())
	assert.EqualValues(t, 65000, info.FreeClusters)
	assert.EqualValues(t, 123, info.NextFree)
}

// A freshly built image doesn't know its free space.
func TestFSInfo__Unknown(t *testing.T) {
	volume := mountImage(t, sdtest.NewFATImage(fat32Params))

	info, err := volume.FSInfo()
	require.NoError(t, err)
	assert.False(t, info.FreeClustersKnown())
	assert.False(t, info.NextFreeKnown())
}

func TestFSInfo__BadSignature(t *testing.T) {
	image := sdtest.NewFATImage(fat32Params)
	image.Device.Block(1)[0] = 0
	volume := mountImage(t, image)

	_, err := volume.FSInfo()
	assert.ErrorIs(t, err, errors.ErrInvalidBootSector)
}

func TestFSInfo__NotFAT32(t *testing.T) {
	volume := mountImage(t, sdtest.NewFATImage(fat16Params))

	_, err := volume.FSInfo()
	assert.ErrorIs(t, err, errors.ErrUnsupportedVolume)
}

func TestFSInfo__NoSector(t *testing.T) {
	params := fat32Params
	params.FSInfoSector = 0
	volume := mountImage(t, sdtest.NewFATImage(params))

	_, err := volume.FSInfo()
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestParseFSInfo(t *testing.T) {
	info, err := fat.ParseFSInfo(sectorFromBytes(sdtest.BuildFSInfo(1, 2), 7))
	require.NoError(t, err)
	assert.Equal(t, fat.FSInfo{FreeClusters: 1, NextFree: 2}, info)
}
