package fat

import (
	"io"

	"github.com/dargueta/sdmmc"
	"github.com/dargueta/sdmmc/errors"
)

// File reads the contents of a file by following its cluster chain. It
// implements [io.Reader].
type File struct {
	volume          *Volume
	entry           DirEntry
	chain           *ChainWalker
	cluster         ClusterID
	sectorInCluster int
	sector          sdmmc.Sector
	// offset is the position of the next unread byte in `sector`.
	offset    int
	remaining uint32
	err       error
}

// OpenFile opens the file described by `entry` for reading.
func (v *Volume) OpenFile(entry DirEntry) (*File, error) {
	if entry.IsDir() {
		return nil, errors.ErrIsADirectory.WithMessage(entry.Name() + " is a directory")
	}
	if entry.IsVolumeLabel() {
		return nil, errors.ErrInvalidArgument.WithMessage(entry.Name() + " is a volume label")
	}
	return &File{
		volume:          v,
		entry:           entry,
		chain:           v.WalkChain(entry.FirstCluster),
		sectorInCluster: int(v.bootSector.SectorsPerCluster),
		offset:          sdmmc.BlockSize,
		remaining:       entry.FileSize,
	}, nil
}

func (f *File) Stat() DirEntry {
	return f.entry
}

func (f *File) loadNextSector() error {
	if f.sectorInCluster >= int(f.volume.bootSector.SectorsPerCluster) {
		cluster, err := f.chain.Next()
		if err == io.EOF {
			return errors.ErrBrokenChain.WithMessage(
				"cluster chain of " + f.entry.Name() + " ends before the end of the file")
		} else if err != nil {
			return err
		}
		f.cluster = cluster
		f.sectorInCluster = 0
	}

	lba := f.volume.bootSector.ClusterToSector(f.cluster) + uint32(f.sectorInCluster)
	if err := f.volume.device.ReadBlock(lba, &f.sector); err != nil {
		return err
	}
	f.sectorInCluster++
	f.offset = 0
	return nil
}

// Read reads up to len(buffer) bytes of the file. The cluster chain must cover
// the whole file size, otherwise Read fails with [errors.KindBrokenChain]
// once it gets to the missing part.
func (f *File) Read(buffer []byte) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	if f.remaining == 0 {
		return 0, io.EOF
	}

	total := 0
	for total < len(buffer) && f.remaining > 0 {
		if f.offset >= sdmmc.BlockSize {
			if err := f.loadNextSector(); err != nil {
				f.err = err
				return total, err
			}
		}

		chunk := sdmmc.BlockSize - f.offset
		if chunk > len(buffer)-total {
			chunk = len(buffer) - total
		}
		if uint32(chunk) > f.remaining {
			chunk = int(f.remaining)
		}

		copy(buffer[total:total+chunk], f.sector.Data[f.offset:f.offset+chunk])
		f.offset += chunk
		total += chunk
		f.remaining -= uint32(chunk)
	}
	return total, nil
}

// ReadFile returns the entire contents of the file described by `entry`.
func (v *Volume) ReadFile(entry DirEntry) ([]byte, error) {
	file, err := v.OpenFile(entry)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(file)
}
