package fat_test

import (
	"fmt"
	"io"
	"testing"

	"github.com/dargueta/sdmmc"
	"github.com/dargueta/sdmmc/errors"
	"github.com/dargueta/sdmmc/file_systems/fat"
	sdtest "github.com/dargueta/sdmmc/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileDirent(name, extension string, cluster, size uint32) [32]byte {
	return sdtest.BuildDirent(sdtest.DirentParams{
		Name:         name,
		Extension:    extension,
		Attributes:   sdtest.AttrArchive,
		FirstCluster: cluster,
		Size:         size,
	})
}

func dirDirent(name string, cluster uint32) [32]byte {
	return sdtest.BuildDirent(sdtest.DirentParams{
		Name:         name,
		Attributes:   sdtest.AttrDirectory,
		FirstCluster: cluster,
	})
}

// One valid entry followed by a free slot: exactly one entry comes out, and
// nothing past the first root directory sector is read.
func TestIterate__SingleEntryThenEnd(t *testing.T) {
	image := sdtest.NewFATImage(fat16Params)
	image.PutRootDirent(0, fileDirent("README", "TXT", 2, 1024))
	// Anything after the end marker must be ignored.
	image.PutRootDirent(2, fileDirent("GHOST", "TXT", 3, 1))
	volume := mountImage(t, image)

	iterator := volume.Iterate(volume.RootDir())

	entry, err := iterator.Next()
	require.NoError(t, err)
	assert.Equal(t, "README.TXT", entry.Name())
	assert.EqualValues(t, 1024, entry.Size())
	assert.Equal(t, "README", entry.ShortName)
	assert.Equal(t, "TXT", entry.Extension)
	assert.EqualValues(t, 65, entry.Sector)
	assert.Equal(t, 0, entry.Slot)

	_, err = iterator.Next()
	assert.Equal(t, io.EOF, err)
	_, err = iterator.Next()
	assert.Equal(t, io.EOF, err)

	assert.Equal(t, []uint32{65}, image.Device.Reads())
}

func TestIterate__SkipsDeletedAndLongNameSlots(t *testing.T) {
	image := sdtest.NewFATImage(fat16Params)
	image.PutRootDirent(0, sdtest.BuildDirent(sdtest.DirentParams{
		Name:       "MYCARD",
		Attributes: sdtest.AttrVolumeLabel,
	}))
	image.PutRootDirent(1, sdtest.LongNameDirent(0x41))
	image.PutRootDirent(2, fileDirent("FIRST", "BIN", 2, 10))
	image.PutRootDirent(3, sdtest.DeletedDirent(fileDirent("GONE", "TXT", 3, 20)))
	image.PutRootDirent(4, sdtest.LongNameDirent(0x42))
	// Long name slots are recognized by the low six bits of the attributes.
	lfn := sdtest.LongNameDirent(0x01)
	lfn[11] |= 0xC0
	image.PutRootDirent(5, lfn)
	image.PutRootDirent(6, fileDirent("SECOND", "", 4, 30))
	volume := mountImage(t, image)

	entries, err := volume.ListDir(volume.RootDir())
	require.NoError(t, err)
	assert.Equal(t, []string{"MYCARD", "FIRST.BIN", "SECOND"}, entryNames(entries))
	assert.True(t, entries[0].IsVolumeLabel())
	assert.Equal(t, 6, entries[2].Slot)
}

// With no end marker, the fixed root directory ends with its last sector.
func TestIterate__FullFixedRootDirectory(t *testing.T) {
	image := sdtest.NewFATImage(fat12Params)
	for i := 0; i < 224; i++ {
		image.PutRootDirent(i, fileDirent(fmt.Sprintf("FILE%03d", i), "DAT", 0, 0))
	}
	volume := mountImage(t, image)

	entries, err := volume.ListDir(volume.RootDir())
	require.NoError(t, err)
	require.Len(t, entries, 224)
	assert.Equal(t, "FILE000.DAT", entries[0].Name())
	assert.Equal(t, "FILE223.DAT", entries[223].Name())

	// The root directory is sectors 19-32 and nothing else is touched.
	reads := image.Device.Reads()
	require.Len(t, reads, 14)
	assert.EqualValues(t, 19, reads[0])
	assert.EqualValues(t, 32, reads[13])
}

func TestIterate__IsRepeatable(t *testing.T) {
	image := sdtest.NewFATImage(fat16Params)
	for i := 0; i < 40; i++ {
		image.PutRootDirent(i, fileDirent(fmt.Sprintf("F%d", i), "TXT", uint32(i+2), uint32(i*100)))
	}
	image.PutRootDirent(7, sdtest.DeletedDirent(fileDirent("F7", "TXT", 9, 0)))
	volume := mountImage(t, image)

	first, err := volume.ListDir(volume.RootDir())
	require.NoError(t, err)
	second, err := volume.ListDir(volume.RootDir())
	require.NoError(t, err)

	assert.Len(t, first, 39)
	assert.Equal(t, first, second)
}

// A FAT32 directory in clusters 5 and 9 is read in chain order, and entries
// from both clusters come out before the iterator stops.
func TestIterate__FAT32ClusterChain(t *testing.T) {
	image := sdtest.NewFATImage(fat32Params)
	image.PutClusterDirent(2, 0, dirDirent("LOGS", 5))
	image.SetChain(5, 9)
	for i := 0; i < 16; i++ {
		image.PutClusterDirent(5, i, fileDirent(fmt.Sprintf("A%02d", i), "LOG", 0, 0))
	}
	image.PutClusterDirent(9, 0, fileDirent("B00", "LOG", 0, 0))
	image.PutClusterDirent(9, 1, fileDirent("B01", "LOG", 0, 0))
	volume := mountImage(t, image)

	root, err := volume.ListDir(volume.RootDir())
	require.NoError(t, err)
	require.Len(t, root, 1)
	assert.True(t, root[0].IsDir())
	assert.EqualValues(t, 5, root[0].FirstCluster)

	dir, err := volume.OpenDir(root[0])
	require.NoError(t, err)
	assert.Equal(t, "LOGS", dir.String())

	entries, err := volume.ListDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 18)
	assert.Equal(t, "A00.LOG", entries[0].Name())
	assert.Equal(t, "A15.LOG", entries[15].Name())
	assert.Equal(t, "B00.LOG", entries[16].Name())
	assert.Equal(t, "B01.LOG", entries[17].Name())
	assert.EqualValues(t, image.ClusterSector(5), entries[15].Sector)
	assert.EqualValues(t, image.ClusterSector(9), entries[16].Sector)
}

// Clusters of more than one sector are read sector by sector before moving
// to the next cluster.
func TestIterate__MultiSectorClusters(t *testing.T) {
	image := sdtest.NewFATImage(fat16Params)
	image.PutRootDirent(0, dirDirent("DATA", 10))
	image.SetChain(10, 12)
	// Cluster 10 is full: 8 sectors of 16 entries.
	for i := 0; i < 128; i++ {
		image.PutClusterDirent(10, i, fileDirent(fmt.Sprintf("X%03d", i), "", 0, 0))
	}
	image.PutClusterDirent(12, 0, fileDirent("LAST", "", 0, 0))
	volume := mountImage(t, image)

	entry, err := volume.FindEntry(volume.RootDir(), "data")
	require.NoError(t, err)
	dir, err := volume.OpenDir(entry)
	require.NoError(t, err)

	image.Device.ResetReads()
	entries, err := volume.ListDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 129)
	assert.Equal(t, "LAST", entries[128].Name())

	var dataReads []uint32
	for _, lba := range image.Device.Reads() {
		if lba >= image.ClusterSector(2) {
			dataReads = append(dataReads, lba)
		}
	}
	expected := []uint32{}
	for i := uint32(0); i < 8; i++ {
		expected = append(expected, image.ClusterSector(10)+i)
	}
	expected = append(expected, image.ClusterSector(12))
	assert.Equal(t, expected, dataReads)
}

func TestIterate__BrokenChainEndsIteration(t *testing.T) {
	image := sdtest.NewFATImage(fat32Params)
	image.PutClusterDirent(2, 0, dirDirent("BROKEN", 5))
	// Cluster 5 is marked free in the FAT, so it has no valid successor.
	image.SetFATEntry(5, 0)
	for i := 0; i < 16; i++ {
		image.PutClusterDirent(5, i, fileDirent(fmt.Sprintf("OK%02d", i), "", 0, 0))
	}
	volume := mountImage(t, image)

	dir := fat.Dir{FirstCluster: 5, Name: "BROKEN"}
	entries, err := volume.ListDir(dir)
	assert.ErrorIs(t, err, errors.ErrBrokenChain)
	assert.Len(t, entries, 16, "entries before the break are returned")

	iterator := volume.Iterate(dir)
	for i := 0; i < 16; i++ {
		_, err := iterator.Next()
		require.NoError(t, err)
	}
	_, err = iterator.Next()
	assert.ErrorIs(t, err, errors.ErrBrokenChain)
	_, again := iterator.Next()
	assert.Equal(t, err, again, "errors must be sticky")

	// Other directories are unaffected.
	root, err := volume.ListDir(volume.RootDir())
	require.NoError(t, err)
	assert.Len(t, root, 1)
}

func TestIterate__DecodesEntryFields(t *testing.T) {
	modified, err := sdmmc.TimestampFromCalendar(2020, 7, 28, 12, 34, 56)
	require.NoError(t, err)
	created, err := sdmmc.TimestampFromCalendar(2019, 1, 2, 3, 4, 6)
	require.NoError(t, err)

	image := sdtest.NewFATImage(fat32Params)
	image.PutClusterDirent(2, 0, sdtest.BuildDirent(sdtest.DirentParams{
		Name:         "PHOTO",
		Extension:    "JPG",
		Attributes:   sdtest.AttrReadOnly | sdtest.AttrHidden | sdtest.AttrArchive,
		FirstCluster: 0x00050003,
		Size:         123456,
		Created:      created,
		Modified:     modified,
		Accessed:     modified,
	}))
	volume := mountImage(t, image)

	entries, err := volume.ListDir(volume.RootDir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	entry := entries[0]

	assert.EqualValues(t, 0x00050003, entry.FirstCluster, "FAT32 uses the high half")
	assert.True(t, entry.IsReadOnly())
	assert.True(t, entry.IsHidden())
	assert.False(t, entry.IsSystem())
	assert.False(t, entry.IsDir())
	assert.Equal(t, modified, entry.LastModified)
	assert.Equal(t, created, entry.Created)
	assert.Equal(t, sdmmc.Timestamp{Year: 2020, Month: 7, Day: 28}, entry.LastAccessed)
	assert.Equal(t, modified.Time(), entry.ModTime())
	assert.EqualValues(t, 0444, entry.Mode().Perm())
}

func TestIterate__FAT16IgnoresHighClusterHalf(t *testing.T) {
	image := sdtest.NewFATImage(fat16Params)
	image.PutRootDirent(0, fileDirent("X", "", 0x00050003, 1))
	volume := mountImage(t, image)

	entries, err := volume.ListDir(volume.RootDir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.EqualValues(t, 3, entries[0].FirstCluster)
}

// Names are code page 437. A leading 0x05 stands for 0xE5, which would
// otherwise mark the entry as deleted.
func TestIterate__NameEncoding(t *testing.T) {
	image := sdtest.NewFATImage(fat16Params)
	image.PutRootDirent(0, fileDirent("\x05ABC", "TXT", 0, 0))
	image.PutRootDirent(1, fileDirent("CAF\x82", "", 0, 0))
	volume := mountImage(t, image)

	entries, err := volume.ListDir(volume.RootDir())
	require.NoError(t, err)
	assert.Equal(t, []string{"σABC.TXT", "CAFé"}, entryNames(entries))
}

func TestOpenDir(t *testing.T) {
	image := sdtest.NewFATImage(fat16Params)
	volume := mountImage(t, image)

	_, err := volume.OpenDir(fat.DirEntry{AttributeFlags: fat.AttrArchived})
	assert.ErrorIs(t, err, errors.ErrNotADirectory)

	// ".." in a top-level directory has cluster 0.
	dir, err := volume.OpenDir(fat.DirEntry{AttributeFlags: fat.AttrDirectory})
	require.NoError(t, err)
	assert.Equal(t, volume.RootDir(), dir)
}

func TestForEachEntry__StopIteration(t *testing.T) {
	image := sdtest.NewFATImage(fat16Params)
	for i := 0; i < 20; i++ {
		image.PutRootDirent(i, fileDirent(fmt.Sprintf("F%d", i), "", 0, 0))
	}
	volume := mountImage(t, image)

	seen := 0
	err := volume.ForEachEntry(volume.RootDir(), func(entry fat.DirEntry) error {
		seen++
		if seen == 3 {
			return fat.StopIteration
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, seen)
	assert.Len(t, image.Device.Reads(), 1, "the second sector must not be read")

	callbackErr := errors.ErrInvalidArgument.WithMessage("stop")
	err = volume.ForEachEntry(volume.RootDir(), func(entry fat.DirEntry) error {
		return callbackErr
	})
	assert.Equal(t, callbackErr, err)
}
