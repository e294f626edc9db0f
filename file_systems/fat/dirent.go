package fat

import (
	"encoding/binary"
	"os"
	"strings"
	"time"

	"github.com/dargueta/sdmmc"
	"golang.org/x/text/encoding/charmap"
)

// DirentSize is the size of a single raw directory entry, in bytes.
const DirentSize = 32

const (
	// AttrReadOnly is an attribute flag marking a directory entry as read-only.
	AttrReadOnly = 0x01

	// AttrHidden is an attribute flag marking a directory entry as "hidden",
	// meaning it wouldn't show up in normal directory listings.
	AttrHidden = 0x02

	// AttrSystem is an attribute flag marking a directory entry as essential
	// to the operating system.
	AttrSystem = 0x04

	// AttrVolumeLabel is an attribute flag that marks an entry in the root
	// directory as holding the volume label in its name and extension.
	AttrVolumeLabel = 0x08

	// AttrDirectory is an attribute flag marking a directory entry as being a
	// directory.
	AttrDirectory = 0x10

	// AttrArchived is an attribute flag used by some systems to mark a
	// directory entry as "dirty", set whenever the entry is created or
	// modified.
	AttrArchived = 0x20

	// AttrLongName is the attribute value of a long file name slot. Readers of
	// short names must skip these.
	AttrLongName = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeLabel
)

// Markers in the first byte of a directory entry's name.
const (
	direntEndOfDirectory = 0x00
	direntDeleted        = 0xE5
	// direntEscapedE5 stands for a real 0xE5 as the first character of the name.
	direntEscapedE5 = 0x05
)

// RawDirent is the on-disk representation of a directory entry, broken down
// into its constituent fields.
type RawDirent struct {
	Name              [8]byte
	Extension         [3]byte
	AttributeFlags    uint8
	NTReserved        uint8
	CreatedTimeTenths uint8
	CreatedTime       uint16
	CreatedDate       uint16
	LastAccessedDate  uint16
	FirstClusterHigh  uint16
	LastModifiedTime  uint16
	LastModifiedDate  uint16
	FirstClusterLow   uint16
	FileSize          uint32
}

// NewRawDirentFromBytes deserializes 32 bytes into a RawDirent.
func NewRawDirentFromBytes(data []byte) RawDirent {
	dirent := RawDirent{
		AttributeFlags:    data[11],
		NTReserved:        data[12],
		CreatedTimeTenths: data[13],
		CreatedTime:       binary.LittleEndian.Uint16(data[14:16]),
		CreatedDate:       binary.LittleEndian.Uint16(data[16:18]),
		LastAccessedDate:  binary.LittleEndian.Uint16(data[18:20]),
		FirstClusterHigh:  binary.LittleEndian.Uint16(data[20:22]),
		LastModifiedTime:  binary.LittleEndian.Uint16(data[22:24]),
		LastModifiedDate:  binary.LittleEndian.Uint16(data[24:26]),
		FirstClusterLow:   binary.LittleEndian.Uint16(data[26:28]),
		FileSize:          binary.LittleEndian.Uint32(data[28:32]),
	}

	copy(dirent.Name[:], data[:8])
	copy(dirent.Extension[:], data[8:11])
	return dirent
}

// decodeName converts an on-disk name from code page 437.
func decodeName(raw []byte) string {
	var builder strings.Builder
	for _, value := range raw {
		builder.WriteRune(charmap.CodePage437.DecodeByte(value))
	}
	return builder.String()
}

// DirEntry is a decoded short-name directory entry. It implements
// [os.FileInfo].
type DirEntry struct {
	name           string
	ShortName      string
	Extension      string
	AttributeFlags uint8
	FirstCluster   ClusterID
	FileSize       uint32
	Created        sdmmc.Timestamp
	LastModified   sdmmc.Timestamp
	// LastAccessed only has a date; the time is always midnight.
	LastAccessed sdmmc.Timestamp
	// Sector and Slot locate the entry on disk.
	Sector uint32
	Slot   int
}

// NewDirEntryFromRaw decodes a raw directory entry. The caller must have
// already skipped free, deleted, and long name slots. The high half of the
// first cluster is only used on FAT32.
func NewDirEntryFromRaw(raw *RawDirent, variant Variant) DirEntry {
	nameBytes := raw.Name
	if nameBytes[0] == direntEscapedE5 {
		nameBytes[0] = direntDeleted
	}

	firstCluster := ClusterID(raw.FirstClusterLow)
	if variant == FAT32 {
		firstCluster |= ClusterID(raw.FirstClusterHigh) << 16
	}

	entry := DirEntry{
		ShortName:      strings.TrimRight(decodeName(nameBytes[:]), " "),
		Extension:      strings.TrimRight(decodeName(raw.Extension[:]), " "),
		AttributeFlags: raw.AttributeFlags,
		FirstCluster:   firstCluster,
		FileSize:       raw.FileSize,
		Created:        sdmmc.TimestampFromFAT(raw.CreatedDate, raw.CreatedTime),
		LastModified:   sdmmc.TimestampFromFAT(raw.LastModifiedDate, raw.LastModifiedTime),
		LastAccessed:   sdmmc.TimestampFromFAT(raw.LastAccessedDate, 0),
	}

	// The tenths field counts 10ms units up to 199, adding a second to the
	// two-second resolution of the time field.
	if raw.CreatedTimeTenths >= 100 && !entry.Created.IsZero() && entry.Created.Seconds < 59 {
		entry.Created.Seconds++
	}

	switch {
	case entry.IsVolumeLabel():
		// Labels are eleven characters with no separator.
		entry.name = strings.TrimRight(decodeName(nameBytes[:])+decodeName(raw.Extension[:]), " ")
	case entry.Extension == "":
		entry.name = entry.ShortName
	default:
		entry.name = entry.ShortName + "." + entry.Extension
	}
	return entry
}

// IsVolumeLabel reports whether the entry holds the volume label rather than
// a file.
func (d DirEntry) IsVolumeLabel() bool {
	return d.AttributeFlags&(AttrVolumeLabel|AttrDirectory) == AttrVolumeLabel
}

func (d DirEntry) IsReadOnly() bool { return d.AttributeFlags&AttrReadOnly != 0 }

func (d DirEntry) IsHidden() bool { return d.AttributeFlags&AttrHidden != 0 }

func (d DirEntry) IsSystem() bool { return d.AttributeFlags&AttrSystem != 0 }

// IsDotEntry reports whether this is the "." or ".." entry of a
// subdirectory.
func (d DirEntry) IsDotEntry() bool {
	return d.IsDir() && (d.name == "." || d.name == "..")
}

// AttributeString renders the attribute flags in the style of DOS `attrib`,
// e.g. "RH--D-".
func (d DirEntry) AttributeString() string {
	flags := []struct {
		mask   uint8
		letter byte
	}{
		{AttrReadOnly, 'R'},
		{AttrHidden, 'H'},
		{AttrSystem, 'S'},
		{AttrVolumeLabel, 'V'},
		{AttrDirectory, 'D'},
		{AttrArchived, 'A'},
	}

	result := make([]byte, len(flags))
	for i, flag := range flags {
		if d.AttributeFlags&flag.mask != 0 {
			result[i] = flag.letter
		} else {
			result[i] = '-'
		}
	}
	return string(result)
}

// DirEntry implementation of FileInfo -----------------------------------------

// Name returns the name of the directory entry, with the extension (if any)
// after a dot.
func (d DirEntry) Name() string { return d.name }

// Size is the size of the file in bytes. Directories always report 0.
func (d DirEntry) Size() int64 { return int64(d.FileSize) }

// Mode converts the attribute flags into mode bits. FAT has no way to mark
// files as executable, so directories get 0o755 and files 0o644, minus the
// write bits if the entry is read-only.
func (d DirEntry) Mode() os.FileMode {
	var mode os.FileMode
	if d.IsDir() {
		mode = os.ModeDir | 0o755
	} else {
		mode = 0o644
	}
	if d.IsReadOnly() {
		mode &^= 0o222
	}
	return mode
}

func (d DirEntry) ModTime() time.Time { return d.LastModified.Time() }

func (d DirEntry) IsDir() bool { return d.AttributeFlags&AttrDirectory != 0 }

// Sys returns the DirEntry itself.
func (d DirEntry) Sys() interface{} { return d }

// -----------------------------------------------------------------------------
