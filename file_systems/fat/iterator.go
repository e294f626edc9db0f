package fat

import (
	stderrors "errors"
	"io"

	"github.com/dargueta/sdmmc"
	"github.com/dargueta/sdmmc/errors"
)

// StopIteration can be returned by a ForEachEntry callback to end the scan
// early without an error.
var StopIteration = stderrors.New("stop iteration")

// Dir identifies a directory to iterate over. A FirstCluster of 0 means the
// root directory, which on FAT12 and FAT16 is a fixed region of sectors rather
// than a cluster chain.
type Dir struct {
	FirstCluster ClusterID
	Name         string
}

func (d Dir) String() string {
	if d.Name == "" {
		return "/"
	}
	return d.Name
}

// RootDir returns the root directory of the volume.
func (v *Volume) RootDir() Dir {
	if v.bootSector.Variant == FAT32 {
		return Dir{FirstCluster: v.bootSector.RootCluster, Name: "/"}
	}
	return Dir{Name: "/"}
}

// OpenDir returns the directory described by `entry`.
func (v *Volume) OpenDir(entry DirEntry) (Dir, error) {
	if !entry.IsDir() {
		return Dir{}, errors.ErrNotADirectory.WithMessage(entry.Name() + " is not a directory")
	}
	// ".." in a directory directly under the root points at cluster 0.
	if entry.FirstCluster == 0 {
		return v.RootDir(), nil
	}
	return Dir{FirstCluster: entry.FirstCluster, Name: entry.Name()}, nil
}

// DirIterator yields the entries of one directory in on-disk order, skipping
// free slots, deleted entries, and long file name slots. It holds a single
// sector in memory at a time. Create one with [Volume.Iterate].
type DirIterator struct {
	volume *Volume
	dir    Dir
	sector sdmmc.Sector
	// slot is the index of the next entry to look at in `sector`.
	slot   int
	loaded bool

	// Fixed root directory.
	fixedRegion bool
	nextSector  uint32

	// Cluster chain.
	chain           *ChainWalker
	cluster         ClusterID
	sectorInCluster int

	done bool
	err  error
}

// Iterate returns an iterator over the entries of `dir`. Iterating the same
// directory again starts over from the beginning.
func (v *Volume) Iterate(dir Dir) *DirIterator {
	iterator := &DirIterator{volume: v, dir: dir}
	if dir.FirstCluster == 0 {
		if v.bootSector.Variant == FAT32 {
			iterator.chain = v.WalkChain(v.bootSector.RootCluster)
		} else {
			iterator.fixedRegion = true
		}
	} else {
		iterator.chain = v.WalkChain(dir.FirstCluster)
	}
	return iterator
}

// Dir returns the directory being iterated over.
func (it *DirIterator) Dir() Dir {
	return it.dir
}

// loadNextSector reads the next sector of the directory into the buffer. It
// returns io.EOF if the directory has no more sectors.
func (it *DirIterator) loadNextSector() error {
	bootSector := it.volume.bootSector
	var lba uint32

	if it.fixedRegion {
		if it.nextSector >= bootSector.RootDirSectors {
			return io.EOF
		}
		lba = bootSector.RootDirStart + it.nextSector
		it.nextSector++
	} else {
		if !it.loaded || it.sectorInCluster >= int(bootSector.SectorsPerCluster) {
			cluster, err := it.chain.Next()
			if err != nil {
				return err
			}
			it.cluster = cluster
			it.sectorInCluster = 0
		}
		lba = bootSector.ClusterToSector(it.cluster) + uint32(it.sectorInCluster)
		it.sectorInCluster++
	}

	if err := it.volume.device.ReadBlock(lba, &it.sector); err != nil {
		return err
	}
	it.loaded = true
	it.slot = 0
	return nil
}

// Next returns the next entry in the directory, or io.EOF once there are no
// more. The first free slot ends the directory; nothing after it is read.
//
// Errors are sticky: once Next fails, every later call returns the same error.
// A broken cluster chain gives [errors.KindBrokenChain].
func (it *DirIterator) Next() (DirEntry, error) {
	for {
		if it.err != nil {
			return DirEntry{}, it.err
		}
		if it.done {
			return DirEntry{}, io.EOF
		}

		if !it.loaded || it.slot >= it.volume.bootSector.DirentsPerSector {
			err := it.loadNextSector()
			if err == io.EOF {
				it.done = true
				continue
			} else if err != nil {
				it.err = err
				continue
			}
		}

		slot := it.slot
		it.slot++
		data := it.sector.Data[slot*DirentSize : (slot+1)*DirentSize]

		switch {
		case data[0] == direntEndOfDirectory:
			it.done = true
			continue
		case data[0] == direntDeleted:
			continue
		case data[11]&0x3F == AttrLongName:
			continue
		}

		raw := NewRawDirentFromBytes(data)
		entry := NewDirEntryFromRaw(&raw, it.volume.bootSector.Variant)
		entry.Sector = it.sector.LBA
		entry.Slot = slot
		return entry, nil
	}
}

// ForEachEntry calls `fn` once for every entry in `dir`, in order. If `fn`
// returns StopIteration the scan ends and ForEachEntry returns nil; any other
// error ends the scan and is returned as is.
func (v *Volume) ForEachEntry(dir Dir, fn func(entry DirEntry) error) error {
	iterator := v.Iterate(dir)
	for {
		entry, err := iterator.Next()
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}

		err = fn(entry)
		if err == StopIteration {
			return nil
		} else if err != nil {
			return err
		}
	}
}

// ListDir returns all entries in `dir`. If the scan fails partway through, the
// entries read so far are returned along with the error.
func (v *Volume) ListDir(dir Dir) ([]DirEntry, error) {
	var entries []DirEntry
	err := v.ForEachEntry(dir, func(entry DirEntry) error {
		entries = append(entries, entry)
		return nil
	})
	return entries, err
}
