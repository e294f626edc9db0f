package spisim

import (
	"github.com/dargueta/sdmmc/drivers/sdspi"
)

// csd builds the card's CSD register from its capacity. High-capacity cards
// get a version 2.0 register and count 512KiB units; everything else gets a
// version 1.0 register.
func (card *Card) csd() sdspi.CSD {
	var csd sdspi.CSD

	if card.kind == SDHC {
		var cSize uint32
		if card.totalBlocks >= 1024 {
			cSize = card.totalBlocks/1024 - 1
		}
		csd[0] = 0x40
		csd[5] = 0x09
		csd[7] = byte(cSize>>16) & 0x3F
		csd[8] = byte(cSize >> 8)
		csd[9] = byte(cSize)
	} else {
		cSize, multiplier, readBlockLength := encodeCapacityV1(card.totalBlocks)
		csd[5] = byte(readBlockLength)
		csd[6] = byte(cSize>>10) & 0x03
		csd[7] = byte(cSize >> 2)
		csd[8] = byte(cSize&0x03) << 6
		csd[9] = byte(multiplier>>1) & 0x03
		csd[10] = byte(multiplier&0x01) << 7
	}

	csd[15] = sdspi.CRC7(csd[:15])<<1 | 1
	return csd
}

// encodeCapacityV1 finds the C_SIZE, C_SIZE_MULT, and READ_BL_LEN fields that
// describe `totalBlocks` 512-byte blocks. Capacities that can't be described
// exactly are rounded down.
func encodeCapacityV1(totalBlocks uint32) (cSize, multiplier, readBlockLength uint32) {
	units := uint64(totalBlocks)
	readBlockLength = 9

	// A unit is 2^(multiplier+2) blocks of 2^readBlockLength bytes. Grow the
	// unit until C_SIZE fits in its 12 bits.
	for units>>(multiplier+2) > 4096 {
		if multiplier < 7 {
			multiplier++
		} else if readBlockLength < 11 {
			readBlockLength++
			units >>= 1
		} else {
			break
		}
	}

	count := units >> (multiplier + 2)
	if count == 0 {
		return 0, 0, readBlockLength
	}
	if count > 4096 {
		count = 4096
	}
	return uint32(count - 1), multiplier, readBlockLength
}
