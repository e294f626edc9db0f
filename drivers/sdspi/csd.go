package sdspi

import (
	"fmt"

	"github.com/dargueta/sdmmc/errors"
)

// CSD is the raw card-specific data register returned by SEND_CSD.
type CSD [CSDSize]byte

// Structure returns the CSD_STRUCTURE field: 0 for version 1.0 (standard
// capacity) and 1 for version 2.0 (high capacity). MMC cards use this field
// for their own versioning.
func (csd CSD) Structure() int {
	return int(csd[0] >> 6)
}

// capacityV1 decodes the capacity of a version 1.0 register:
//
//	(C_SIZE + 1) * 2^(C_SIZE_MULT + 2) * 2^READ_BL_LEN
func (csd CSD) capacityV1() uint64 {
	readBlockLength := uint64(csd[5] & 0x0F)
	cSize := uint64(csd[6]&0x03)<<10 | uint64(csd[7])<<2 | uint64(csd[8]>>6)
	multiplier := uint64(csd[9]&0x03)<<1 | uint64(csd[10]>>7)
	return (cSize + 1) << (multiplier + 2) << readBlockLength
}

// capacityV2 decodes the capacity of a version 2.0 register, which counts
// 512KiB units.
func (csd CSD) capacityV2() uint64 {
	cSize := uint64(csd[7]&0x3F)<<16 | uint64(csd[8])<<8 | uint64(csd[9])
	return (cSize + 1) * 512 * 1024
}

// CapacityBytes returns the capacity of the card in bytes.
func (csd CSD) CapacityBytes(cardType CardType) (uint64, error) {
	if cardType == CardTypeMMC {
		return csd.capacityV1(), nil
	}

	switch csd.Structure() {
	case 0:
		return csd.capacityV1(), nil
	case 1:
		return csd.capacityV2(), nil
	default:
		return 0, errors.NewWithMessage(
			errors.KindProtocol,
			fmt.Sprintf("unsupported CSD structure version %d", csd.Structure()))
	}
}
