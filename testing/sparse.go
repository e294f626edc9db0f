package testing

import (
	"fmt"
	"io"

	"github.com/dargueta/sdmmc"
	"github.com/dargueta/sdmmc/errors"
)

// SparseDevice is an in-memory block device that only stores blocks that have
// been written to. Blocks never written read back as all zeroes. This lets
// tests build volumes large enough to be classified as FAT32 without
// allocating all of them.
type SparseDevice struct {
	blocks      map[uint32]*[sdmmc.BlockSize]byte
	totalBlocks uint32
	reads       []uint32
}

// NewSparseDevice creates an empty device of `totalBlocks` blocks.
func NewSparseDevice(totalBlocks uint32) *SparseDevice {
	return &SparseDevice{
		blocks:      make(map[uint32]*[sdmmc.BlockSize]byte),
		totalBlocks: totalBlocks,
	}
}

func (d *SparseDevice) TotalBlocks() uint32 {
	return d.totalBlocks
}

// ReadBlock implements [sdmmc.BlockDevice]. Every read is recorded; see
// [SparseDevice.Reads].
func (d *SparseDevice) ReadBlock(index uint32, dst *sdmmc.Sector) error {
	if index >= d.totalBlocks {
		return errors.NewWithMessage(
			errors.KindInvalidArgument,
			fmt.Sprintf("invalid block number: %d not in range [0, %d)", index, d.totalBlocks))
	}

	d.reads = append(d.reads, index)
	if block, ok := d.blocks[index]; ok {
		dst.Data = *block
	} else {
		dst.Data = [sdmmc.BlockSize]byte{}
	}
	dst.LBA = index
	return nil
}

// Block returns the storage for block `index` so the caller can modify it.
// It panics if `index` is out of range, since that's always a bug in the test.
func (d *SparseDevice) Block(index uint32) []byte {
	if index >= d.totalBlocks {
		panic(fmt.Sprintf("block %d not in range [0, %d)", index, d.totalBlocks))
	}

	block, ok := d.blocks[index]
	if !ok {
		block = &[sdmmc.BlockSize]byte{}
		d.blocks[index] = block
	}
	return block[:]
}

// WriteAt implements io.WriterAt, splitting the write across blocks as needed.
func (d *SparseDevice) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(d.totalBlocks)*sdmmc.BlockSize {
		return 0, errors.NewWithMessage(
			errors.KindInvalidArgument,
			fmt.Sprintf("write of %d bytes at %d is past the end of the device", len(p), off))
	}

	written := 0
	for written < len(p) {
		position := off + int64(written)
		block := d.Block(uint32(position / sdmmc.BlockSize))
		written += copy(block[position%sdmmc.BlockSize:], p[written:])
	}
	return written, nil
}

// Bytes returns the full contents of the device. Only use this for small
// devices.
func (d *SparseDevice) Bytes() []byte {
	image := make([]byte, int(d.totalBlocks)*sdmmc.BlockSize)
	for index, block := range d.blocks {
		copy(image[int(index)*sdmmc.BlockSize:], block[:])
	}
	return image
}

// Reads returns the indices of every block read so far, in order.
func (d *SparseDevice) Reads() []uint32 {
	reads := make([]uint32, len(d.reads))
	copy(reads, d.reads)
	return reads
}

// ResetReads clears the read log.
func (d *SparseDevice) ResetReads() {
	d.reads = nil
}

// ReadAt implements io.ReaderAt so a SparseDevice can also back a simulated
// card. Reads through ReadAt aren't recorded.
func (d *SparseDevice) ReadAt(p []byte, off int64) (int, error) {
	size := int64(d.totalBlocks) * sdmmc.BlockSize
	if off < 0 || off >= size {
		return 0, io.EOF
	}

	read := 0
	for read < len(p) && off+int64(read) < size {
		position := off + int64(read)
		chunk := p[read:]
		if remaining := size - position; int64(len(chunk)) > remaining {
			chunk = chunk[:remaining]
		}

		if block, ok := d.blocks[uint32(position/sdmmc.BlockSize)]; ok {
			read += copy(chunk, block[position%sdmmc.BlockSize:])
		} else {
			n := sdmmc.BlockSize - int(position%sdmmc.BlockSize)
			if n > len(chunk) {
				n = len(chunk)
			}
			for i := 0; i < n; i++ {
				chunk[i] = 0
			}
			read += n
		}
	}

	if read < len(p) {
		return read, io.EOF
	}
	return read, nil
}
