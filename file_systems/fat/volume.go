package fat

import (
	"fmt"
	"strings"

	"github.com/dargueta/sdmmc"
	"github.com/dargueta/sdmmc/errors"
	c "github.com/dargueta/sdmmc/file_systems/common"
	"github.com/dargueta/sdmmc/file_systems/common/blockcache"
	log "github.com/fclairamb/go-log"
	"github.com/fclairamb/go-log/noop"
)

// DefaultFATCacheSize is the number of FAT sectors a Volume keeps in memory
// unless told otherwise.
const DefaultFATCacheSize = 4

// Volume is a mounted, read-only FAT file system. It isn't safe for concurrent
// use; neither is the device under it.
type Volume struct {
	bootSector   *BootSector
	device       sdmmc.BlockDevice
	fatCache     *blockcache.BlockCache
	fatCacheSize int
	timeSource   sdmmc.TimeSource
	log          log.Logger
}

// Option configures a Volume when it's mounted.
type Option func(volume *Volume)

// WithLogger sets the logger for geometry and consistency messages. By
// default nothing is logged.
func WithLogger(logger log.Logger) Option {
	return func(volume *Volume) {
		volume.log = logger
	}
}

// WithTimeSource sets where the volume gets timestamps for new metadata. The
// default always returns midnight on 1980-01-01, the earliest FAT date.
func WithTimeSource(source sdmmc.TimeSource) Option {
	return func(volume *Volume) {
		volume.timeSource = source
	}
}

// WithFATCacheSize sets how many sectors of the FAT are cached.
func WithFATCacheSize(sectors int) Option {
	return func(volume *Volume) {
		volume.fatCacheSize = sectors
	}
}

// NewVolume creates a Volume from an already parsed boot sector.
func NewVolume(device sdmmc.BlockDevice, bootSector *BootSector, options ...Option) *Volume {
	volume := &Volume{
		bootSector:   bootSector,
		device:       device,
		fatCacheSize: DefaultFATCacheSize,
		timeSource: sdmmc.FixedTimeSource{
			Timestamp: sdmmc.Timestamp{Year: 1980, Month: 1, Day: 1},
		},
		log: noop.NewNoOpLogger(),
	}
	for _, option := range options {
		option(volume)
	}

	volume.fatCache = blockcache.New(
		device,
		c.Region{Start: bootSector.FATStart, Count: bootSector.SectorsPerFAT},
		volume.fatCacheSize,
	)

	volume.log.Debug(
		"Mounted FAT volume",
		"variant", bootSector.Variant.String(),
		"base_lba", bootSector.BaseLBA,
		"sectors_per_cluster", bootSector.SectorsPerCluster,
		"total_clusters", bootSector.TotalClusters,
		"fat_start", bootSector.FATStart,
		"sectors_per_fat", bootSector.SectorsPerFAT,
		"root_dir_start", bootSector.RootDirStart,
		"data_start", bootSector.DataStart,
	)

	// Some formatters size the FAT for fewer clusters than the volume has. The
	// clusters past the end of the FAT are unreachable but harmless.
	if uint64(bootSector.FATEntries()) < uint64(bootSector.TotalClusters)+2 {
		volume.log.Warn(
			"FAT is too small for the number of clusters",
			"fat_entries", bootSector.FATEntries(),
			"total_clusters", bootSector.TotalClusters,
		)
	}
	return volume
}

// Mount reads and parses the boot sector at `lba` and mounts the volume it
// describes.
func Mount(device sdmmc.BlockDevice, lba uint32, options ...Option) (*Volume, error) {
	var sector sdmmc.Sector
	if err := device.ReadBlock(lba, &sector); err != nil {
		return nil, err
	}
	bootSector, err := ParseBootSector(&sector)
	if err != nil {
		return nil, err
	}
	return NewVolume(device, bootSector, options...), nil
}

func (v *Volume) BootSector() *BootSector {
	return v.bootSector
}

func (v *Volume) Device() sdmmc.BlockDevice {
	return v.device
}

func (v *Volume) Variant() Variant {
	return v.bootSector.Variant
}

// FATCache returns the cache of FAT sectors, e.g. to inspect its hit rate.
func (v *Volume) FATCache() *blockcache.BlockCache {
	return v.fatCache
}

// Timestamp returns the current time according to the volume's time source.
func (v *Volume) Timestamp() sdmmc.Timestamp {
	return v.timeSource.GetTimestamp()
}

// Label returns the volume label. The label entry in the root directory takes
// precedence over the copy in the boot sector, since that's the one most
// systems update. "NO NAME" means the volume has no label.
func (v *Volume) Label() (string, error) {
	label := ""
	err := v.ForEachEntry(v.RootDir(), func(entry DirEntry) error {
		if entry.IsVolumeLabel() {
			label = entry.Name()
			return StopIteration
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if label == "" {
		label = v.bootSector.VolumeLabel
	}
	if label == "NO NAME" {
		label = ""
	}
	return label, nil
}

// FindEntry returns the entry named `name` in `dir`. Names are compared
// without regard to case, the way DOS does. Volume labels never match.
func (v *Volume) FindEntry(dir Dir, name string) (DirEntry, error) {
	var found DirEntry
	matched := false
	err := v.ForEachEntry(dir, func(entry DirEntry) error {
		if !entry.IsVolumeLabel() && strings.EqualFold(entry.Name(), name) {
			found = entry
			matched = true
			return StopIteration
		}
		return nil
	})
	if err != nil {
		return DirEntry{}, err
	}
	if !matched {
		return DirEntry{}, errors.ErrNotFound.WithMessage(
			fmt.Sprintf("no entry named %q in %s", name, dir))
	}
	return found, nil
}

// Lookup resolves a slash-separated path relative to the root directory.
// An empty path or "/" returns ok=false with no error: the root has no entry.
func (v *Volume) Lookup(path string) (entry DirEntry, ok bool, err error) {
	dir := v.RootDir()
	components := strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' })
	for i, component := range components {
		entry, err = v.FindEntry(dir, component)
		if err != nil {
			return DirEntry{}, false, err
		}
		if i == len(components)-1 {
			return entry, true, nil
		}
		dir, err = v.OpenDir(entry)
		if err != nil {
			return DirEntry{}, false, err
		}
	}
	return DirEntry{}, false, nil
}

// OpenDirPath resolves `path` and returns the directory it names.
func (v *Volume) OpenDirPath(path string) (Dir, error) {
	entry, ok, err := v.Lookup(path)
	if err != nil {
		return Dir{}, err
	}
	if !ok {
		return v.RootDir(), nil
	}
	return v.OpenDir(entry)
}
