// Package sdspi drives an SD or MMC card in SPI mode: the power-on
// initialization state machine, card classification, and single-block reads.
package sdspi

import (
	"fmt"

	"github.com/dargueta/sdmmc/drivers/spi"
	"github.com/dargueta/sdmmc/errors"
)

// Command indices. Application-specific commands (ACMDn) must be preceded by
// CmdAppCmd.
const (
	CmdGoIdleState     = 0
	CmdSendOpCond      = 1
	CmdSendIfCond      = 8
	CmdSendCSD         = 9
	CmdSetBlockLen     = 16
	CmdReadSingleBlock = 17
	CmdAppCmd          = 55
	CmdReadOCR         = 58
	CmdCRCOnOff        = 59
	ACmdSDSendOpCond   = 41
)

// Bits of the R1 response. A response is valid once the top bit is clear.
const (
	R1Ready            = 0x00
	R1IdleState        = 0x01
	R1EraseReset       = 0x02
	R1IllegalCommand   = 0x04
	R1CommandCRCError  = 0x08
	R1EraseSequenceErr = 0x10
	R1AddressError     = 0x20
	R1ParameterError   = 0x40
	r1InvalidMask      = 0x80
	r1ErrorMask        = R1CommandCRCError | R1EraseSequenceErr | R1AddressError | R1ParameterError
)

// TokenStartBlock precedes every data block the card sends.
const TokenStartBlock = 0xFE

const (
	// IfCondArgument is the SEND_IF_COND argument: 2.7-3.6V supply and the
	// check pattern 0xAA.
	IfCondArgument     = 0x1AA
	ifCondCheckPattern = 0xAA

	// OCRCardCapacityStatus is set in the first OCR byte by cards that use
	// block addressing.
	OCRCardCapacityStatus = 0x40
	// ACmd41HighCapacity tells the card the host supports block addressing.
	ACmd41HighCapacity = 0x40000000
	CSDSize            = 16
)

// CommandFrame builds the six-byte frame for a command: the start and
// transmission bits with the command index, the argument in big-endian order,
// and the CRC7 with the stop bit.
func CommandFrame(command byte, argument uint32) [6]byte {
	frame := [6]byte{
		0x40 | (command & 0x3F),
		byte(argument >> 24),
		byte(argument >> 16),
		byte(argument >> 8),
		byte(argument),
	}
	frame[5] = CRC7(frame[:5])<<1 | 1
	return frame
}

// waitNotBusy clocks idle bytes until the card releases the data line.
func waitNotBusy(bus *spi.Bus, budget int) error {
	for i := 0; i < budget; i++ {
		value, err := bus.ReadByte()
		if err != nil {
			return err
		}
		if value == spi.IdleByte {
			return nil
		}
	}
	return errors.ErrNoResponse.WithMessage("card still busy")
}

// sendCommand writes a command frame and polls for its R1 response. The card
// must already be selected.
func (card *Card) sendCommand(command byte, argument uint32, budget Budget) (byte, error) {
	if command != CmdGoIdleState {
		if err := waitNotBusy(card.bus, budget.BusyBytes); err != nil {
			return 0, err
		}
	}

	frame := CommandFrame(command, argument)
	if err := card.bus.Write(frame[:]); err != nil {
		return 0, err
	}

	for i := 0; i < budget.ResponseBytes; i++ {
		value, err := card.bus.ReadByte()
		if err != nil {
			return 0, err
		}
		if value&r1InvalidMask == 0 {
			card.log.Debug("Command", "cmd", command, "arg", argument, "r1", value)
			return value, nil
		}
	}
	return 0, errors.ErrNoResponse.WithMessage(fmt.Sprintf("CMD%d", command))
}

// sendAppCommand sends an application-specific command with its CMD55 prefix.
// It returns the R1 of CMD55 if the card rejected the prefix.
func (card *Card) sendAppCommand(command byte, argument uint32, budget Budget) (byte, error) {
	r1, err := card.sendCommand(CmdAppCmd, 0, budget)
	if err != nil {
		return 0, err
	}
	if r1&(R1IllegalCommand|r1ErrorMask) != 0 {
		return r1, nil
	}
	return card.sendCommand(command, argument, budget)
}

// readDataBlock waits for the start token and fills `buffer` with the block
// that follows, then consumes the two CRC bytes. The CRC is only checked if the
// card was initialized with data CRC checks enabled.
func (card *Card) readDataBlock(buffer []byte, budget Budget) error {
	token := byte(spi.IdleByte)
	for i := 0; i < budget.TokenBytes && token == spi.IdleByte; i++ {
		var err error
		token, err = card.bus.ReadByte()
		if err != nil {
			return err
		}
	}

	switch {
	case token == TokenStartBlock:
	case token == spi.IdleByte:
		return errors.ErrReadTimeout
	case token&0xF0 == 0:
		return errors.NewWithMessage(
			errors.KindProtocol,
			fmt.Sprintf("card sent data error token %#02x", token))
	default:
		return errors.NewWithMessage(
			errors.KindProtocol,
			fmt.Sprintf("expected data start token, got %#02x", token))
	}

	if err := card.bus.Read(buffer); err != nil {
		return err
	}

	var crcBytes [2]byte
	if err := card.bus.Read(crcBytes[:]); err != nil {
		return err
	}

	if card.checkDataCRC {
		expected := uint16(crcBytes[0])<<8 | uint16(crcBytes[1])
		actual := CRC16(buffer)
		if expected != actual {
			return errors.NewWithMessage(
				errors.KindCRC,
				fmt.Sprintf("data block CRC is %#04x, card sent %#04x", actual, expected))
		}
	}
	return nil
}
