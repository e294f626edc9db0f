package sdspi

// CRC7 computes the 7-bit CRC (polynomial x^7 + x^3 + 1) used to protect
// command frames. The result occupies the low seven bits.
func CRC7(data []byte) byte {
	var crc byte
	for _, value := range data {
		for bit := 0; bit < 8; bit++ {
			crc <<= 1
			if ((value<<bit)^crc)&0x80 != 0 {
				crc ^= 0x09
			}
		}
	}
	return crc & 0x7F
}

// CRC16 computes the CRC16-CCITT (polynomial 0x1021, initial value 0) used to
// protect data blocks.
func CRC16(data []byte) uint16 {
	var crc uint16
	for _, value := range data {
		crc ^= uint16(value) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
