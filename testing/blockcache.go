package testing

import (
	"crypto/rand"
	"testing"

	"github.com/dargueta/sdmmc"
	"github.com/stretchr/testify/require"
)

// CreateRandomImage creates an image with the given number of 512-byte blocks
// filled with random bytes. It is guaranteed to either return a valid slice
// or fail the test and abort.
func CreateRandomImage(totalBlocks uint32, t *testing.T) []byte {
	backingData := make([]byte, int(totalBlocks)*sdmmc.BlockSize)

	_, err := rand.Read(backingData)
	require.NoErrorf(
		t,
		err,
		"failed to initialize %d blocks with random bytes",
		totalBlocks,
	)
	return backingData
}

// CreateRandomDevice creates a SparseDevice with every block filled with
// random bytes, and returns it along with a copy of its contents.
func CreateRandomDevice(totalBlocks uint32, t *testing.T) (*SparseDevice, []byte) {
	backingData := CreateRandomImage(totalBlocks, t)
	device := NewSparseDevice(totalBlocks)
	_, err := device.WriteAt(backingData, 0)
	require.NoError(t, err)
	return device, backingData
}
