package testing

import (
	"io"
	"testing"

	"github.com/dargueta/sdmmc"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

// NewImageStream returns a stream over a copy of `image`.
//
//   - Writes to the stream do not affect `image`.
//   - While the stream can be written to, its size is fixed. Attempting to
//     write past the end triggers an error.
func NewImageStream(t *testing.T, image []byte) io.ReadWriteSeeker {
	require.Greater(t, len(image), 0, "image is empty")
	require.Zero(
		t,
		len(image)%sdmmc.BlockSize,
		"image size %d isn't a multiple of the block size",
		len(image),
	)

	imageCopy := make([]byte, len(image))
	copy(imageCopy, image)
	return bytesextra.NewReadWriteSeeker(imageCopy)
}

// NewImageDevice returns a block device reading from a copy of `image`.
func NewImageDevice(t *testing.T, image []byte) *sdmmc.ImageDevice {
	device, err := sdmmc.NewImageDeviceFromSeeker(NewImageStream(t, image))
	require.NoError(t, err)
	return device
}
