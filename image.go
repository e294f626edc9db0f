package sdmmc

import (
	"fmt"
	"io"

	"github.com/dargueta/sdmmc/errors"
	"github.com/spf13/afero"
)

// ImageDevice is a BlockDevice backed by a raw disk image, e.g. a `dd` dump of
// an SD card. Block 0 is the first 512 bytes of the stream.
type ImageDevice struct {
	stream      io.ReaderAt
	totalBlocks uint32
	closer      io.Closer
}

// NewImageDevice wraps a stream holding `totalBlocks` blocks.
func NewImageDevice(stream io.ReaderAt, totalBlocks uint32) *ImageDevice {
	return &ImageDevice{stream: stream, totalBlocks: totalBlocks}
}

// NewImageDeviceFromSeeker wraps a stream, determining the number of blocks
// from its size. Trailing bytes that don't make up a whole block are ignored.
func NewImageDeviceFromSeeker(stream io.ReadSeeker) (*ImageDevice, error) {
	size, err := stream.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, errors.ErrTransport.Wrap(err)
	}
	if _, err = stream.Seek(0, io.SeekStart); err != nil {
		return nil, errors.ErrTransport.Wrap(err)
	}
	return NewImageDevice(&seekingReaderAt{stream: stream}, uint32(size/BlockSize)), nil
}

// OpenImage opens the image file at `path` on `fs` read-only.
//
// The returned device must be closed by the caller.
func OpenImage(fs afero.Fs, path string) (*ImageDevice, error) {
	file, err := fs.Open(path)
	if err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	device := NewImageDevice(file, uint32(info.Size()/BlockSize))
	device.closer = file
	return device, nil
}

// TotalBlocks returns the number of whole blocks in the image.
func (d *ImageDevice) TotalBlocks() uint32 {
	return d.totalBlocks
}

// ReadBlock reads a single block from the image.
func (d *ImageDevice) ReadBlock(index uint32, dst *Sector) error {
	if index >= d.totalBlocks {
		return errors.NewWithMessage(
			errors.KindInvalidArgument,
			fmt.Sprintf("invalid block number: %d not in range [0, %d)", index, d.totalBlocks))
	}

	nRead, err := d.stream.ReadAt(dst.Data[:], int64(index)*BlockSize)
	if nRead < BlockSize {
		if err == nil || err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return errors.ErrTransport.Wrap(err)
	}
	dst.LBA = index
	return nil
}

// ReadAt reads from the image at a byte offset, ignoring block boundaries.
// It lets an image back anything that wants an io.ReaderAt, such as a
// simulated card.
func (d *ImageDevice) ReadAt(p []byte, off int64) (int, error) {
	return d.stream.ReadAt(p, off)
}

// Close releases the underlying file if the device was created by OpenImage.
func (d *ImageDevice) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer.Close()
}

// seekingReaderAt adapts an io.ReadSeeker to io.ReaderAt. It moves the stream
// pointer and is not safe for concurrent use.
type seekingReaderAt struct {
	stream io.ReadSeeker
}

func (s *seekingReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if _, err := s.stream.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return io.ReadFull(s.stream, p)
}
