// Package sdmmc defines the types shared by every layer between an SD/MMC card
// on an SPI bus and the FAT file system stored on it: logical sectors, block
// devices, and the time source used to stamp metadata.
package sdmmc

// BlockSize is the size of a logical block (sector) on the card, in bytes. SD
// and MMC cards in SPI mode always transfer data in blocks of this size.
const BlockSize = 512

// Sector is a single logical block tagged with its absolute address on the
// device. Callers own their Sector and may reuse it across reads.
type Sector struct {
	// LBA is the absolute logical block address the data was read from.
	LBA  uint32
	Data [BlockSize]byte
}

// BlockDevice is the interface for anything that can read 512-byte logical
// blocks: an initialized card, a disk image, or a wrapper around either.
//
// ReadBlock must fill `dst.Data` with the contents of block `index` and set
// `dst.LBA` to `index`. If an error occurs the contents of `dst` are undefined.
type BlockDevice interface {
	ReadBlock(index uint32, dst *Sector) error
}

// SizedBlockDevice is a BlockDevice that knows its own capacity.
type SizedBlockDevice interface {
	BlockDevice
	// TotalBlocks returns the number of logical blocks on the device.
	TotalBlocks() uint32
}

// TimeSource provides timestamps for metadata written by the file system
// layer. Hosts without a dependable clock can inject a FixedTimeSource.
type TimeSource interface {
	GetTimestamp() Timestamp
}
