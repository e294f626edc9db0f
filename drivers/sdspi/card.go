package sdspi

import (
	"fmt"
	"math"

	"github.com/dargueta/sdmmc"
	"github.com/dargueta/sdmmc/drivers/spi"
	"github.com/dargueta/sdmmc/errors"
	log "github.com/fclairamb/go-log"
	"github.com/fclairamb/go-log/noop"
)

// powerUpIdleBytes gives the card at least 74 clock cycles with chip select
// deasserted before the first command.
const powerUpIdleBytes = 10

// CardType identifies the kind of card found during initialization, which
// determines how block addresses are sent.
type CardType int

const (
	CardTypeUnknown CardType = iota
	// CardTypeSD1 is a version 1.x standard-capacity SD card.
	CardTypeSD1
	// CardTypeSD2 is a version 2.0 or later standard-capacity SD card.
	CardTypeSD2
	// CardTypeSDHC is a high- or extended-capacity card using block
	// addressing.
	CardTypeSDHC
	// CardTypeMMC is a MultiMediaCard, initialized with SEND_OP_COND.
	CardTypeMMC
)

func (t CardType) String() string {
	switch t {
	case CardTypeSD1:
		return "SD1"
	case CardTypeSD2:
		return "SD2"
	case CardTypeSDHC:
		return "SDHC"
	case CardTypeMMC:
		return "MMC"
	default:
		return "unknown"
	}
}

// BlockAddressed reports whether read commands take a block index rather
// than a byte offset.
func (t CardType) BlockAddressed() bool {
	return t == CardTypeSDHC
}

// Card is an initialized card, ready for block reads. It's not safe for
// concurrent use.
//
// The addressing mode is determined once during initialization and trusted
// for the lifetime of the Card. If the card is swapped, initialize it again.
type Card struct {
	bus          *spi.Bus
	budget       Budget
	cardType     CardType
	checkDataCRC bool
	log          log.Logger
}

// Initialize runs the power-on sequence on the card attached to `transport`
// and returns a handle to it once it's ready for I/O. Every polling loop is
// bounded by `budget`, which is also used for later reads through
// [Card.ReadBlock].
//
// Errors:
//
//   - [errors.KindInitTimeout]: the card never entered the idle state, or
//     never finished its power-up within the budget.
//   - [errors.KindProtocol]: the card answered with something unexpected.
//   - [errors.KindNoResponse]: the card stopped answering a required command.
//   - [errors.KindTransport]: the SPI link failed.
func Initialize(transport spi.Transport, budget Budget, options ...Option) (*Card, error) {
	if err := budget.Validate(); err != nil {
		return nil, err
	}

	card := &Card{
		bus:    spi.NewBus(transport),
		budget: budget,
		log:    noop.NewNoOpLogger(),
	}
	for _, option := range options {
		option(card)
	}

	if err := transport.Deselect(); err != nil {
		return nil, errors.ErrTransport.Wrap(err)
	}
	if err := card.bus.Idle(powerUpIdleBytes); err != nil {
		return nil, err
	}

	err := card.bus.Transaction(func() error {
		return card.initialize(budget)
	})
	if err != nil {
		card.log.Warn("Card initialization failed", "err", err)
		return nil, err
	}

	card.log.Info("Card initialized", "type", card.cardType.String())
	return card, nil
}

func (card *Card) initialize(budget Budget) error {
	if err := card.enterIdleState(budget); err != nil {
		return err
	}

	r1, err := card.sendCommand(CmdCRCOnOff, 1, budget)
	if err != nil {
		return err
	}
	if r1&R1IllegalCommand != 0 {
		card.log.Debug("Card doesn't support CRC_ON_OFF", "r1", r1)
	}

	isVersion2, err := card.checkInterfaceCondition(budget)
	if err != nil {
		return err
	}

	cardType, err := card.negotiateOperatingCondition(isVersion2, budget)
	if err != nil {
		return err
	}

	if cardType == CardTypeSD2 {
		cardType, err = card.readCapacityStatus(budget)
		if err != nil {
			return err
		}
	}

	if !cardType.BlockAddressed() {
		r1, err := card.sendCommand(CmdSetBlockLen, sdmmc.BlockSize, budget)
		if err != nil {
			return err
		}
		if r1 != R1Ready {
			return rejected(CmdSetBlockLen, r1)
		}
	}

	card.cardType = cardType
	return nil
}

// enterIdleState sends GO_IDLE_STATE until the card answers that it's idle.
func (card *Card) enterIdleState(budget Budget) error {
	for attempt := 0; attempt < budget.IdleAttempts; attempt++ {
		r1, err := card.sendCommand(CmdGoIdleState, 0, budget)
		if errors.KindOf(err) == errors.KindNoResponse {
			continue
		} else if err != nil {
			return err
		}

		if r1 == R1IdleState {
			card.log.Debug("Card is idle", "attempts", attempt+1)
			return nil
		}
		card.log.Debug("Unexpected response to GO_IDLE_STATE", "r1", r1)
	}

	return errors.ErrInitTimeout.WithMessage(
		fmt.Sprintf("card didn't enter idle state after %d attempts", budget.IdleAttempts))
}

// checkInterfaceCondition sends SEND_IF_COND and reports whether the card
// claims version 2.0 or later. Cards that reject the command or never answer
// it are treated as version 1 cards.
func (card *Card) checkInterfaceCondition(budget Budget) (bool, error) {
	for attempt := 0; attempt < budget.IfCondAttempts; attempt++ {
		r1, err := card.sendCommand(CmdSendIfCond, IfCondArgument, budget)
		if errors.KindOf(err) == errors.KindNoResponse {
			continue
		} else if err != nil {
			return false, err
		}

		if r1&R1IllegalCommand != 0 {
			card.log.Debug("SEND_IF_COND rejected, assuming version 1 card", "r1", r1)
			return false, nil
		}
		if r1&r1ErrorMask != 0 {
			return false, rejected(CmdSendIfCond, r1)
		}

		var echo [4]byte
		if err = card.bus.Read(echo[:]); err != nil {
			return false, err
		}
		if echo[3] != ifCondCheckPattern || echo[2]&0x0F != IfCondArgument>>8 {
			return false, errors.NewWithMessage(
				errors.KindProtocol,
				fmt.Sprintf("SEND_IF_COND echo mismatch: % x", echo))
		}
		return true, nil
	}

	card.log.Debug("No response to SEND_IF_COND, assuming version 1 card")
	return false, nil
}

// negotiateOperatingCondition polls the card until it leaves the idle state.
// SD cards are polled with ACMD41; cards that reject it are assumed to be MMC
// and polled with SEND_OP_COND instead.
func (card *Card) negotiateOperatingCondition(isVersion2 bool, budget Budget) (CardType, error) {
	var argument uint32
	if isVersion2 {
		argument = ACmd41HighCapacity
	}

	for attempt := 0; attempt < budget.OpCondAttempts; attempt++ {
		r1, err := card.sendAppCommand(ACmdSDSendOpCond, argument, budget)
		if err != nil {
			return CardTypeUnknown, err
		}

		switch {
		case r1 == R1Ready:
			card.log.Debug("SD card ready", "attempts", attempt+1)
			if isVersion2 {
				return CardTypeSD2, nil
			}
			return CardTypeSD1, nil
		case r1&R1IllegalCommand != 0 && !isVersion2:
			card.log.Debug("ACMD41 rejected, trying MMC initialization", "r1", r1)
			return card.negotiateMMC(budget)
		case r1 != R1IdleState:
			return CardTypeUnknown, rejected(ACmdSDSendOpCond, r1)
		}
	}

	return CardTypeUnknown, errors.ErrInitTimeout.WithMessage(
		fmt.Sprintf("card still busy after %d ACMD41 attempts", budget.OpCondAttempts))
}

func (card *Card) negotiateMMC(budget Budget) (CardType, error) {
	for attempt := 0; attempt < budget.OpCondAttempts; attempt++ {
		r1, err := card.sendCommand(CmdSendOpCond, 0, budget)
		if err != nil {
			return CardTypeUnknown, err
		}
		if r1 == R1Ready {
			return CardTypeMMC, nil
		}
		if r1 != R1IdleState {
			return CardTypeUnknown, rejected(CmdSendOpCond, r1)
		}
	}

	return CardTypeUnknown, errors.ErrInitTimeout.WithMessage(
		fmt.Sprintf("card still busy after %d CMD1 attempts", budget.OpCondAttempts))
}

// readCapacityStatus reads the OCR of a version 2 card to find whether it's
// block-addressed.
func (card *Card) readCapacityStatus(budget Budget) (CardType, error) {
	r1, err := card.sendCommand(CmdReadOCR, 0, budget)
	if err != nil {
		return CardTypeUnknown, err
	}
	if r1 != R1Ready {
		return CardTypeUnknown, rejected(CmdReadOCR, r1)
	}

	var ocr [4]byte
	if err = card.bus.Read(ocr[:]); err != nil {
		return CardTypeUnknown, err
	}

	card.log.Debug("Read OCR", "ocr", fmt.Sprintf("% x", ocr))
	if ocr[0]&OCRCardCapacityStatus != 0 {
		return CardTypeSDHC, nil
	}
	return CardTypeSD2, nil
}

// Type returns the kind of card detected during initialization.
func (card *Card) Type() CardType {
	return card.cardType
}

// Budget returns the polling limits used by [Card.ReadBlock].
func (card *Card) Budget() Budget {
	return card.budget
}

// blockAddress converts a block index to the argument of a read command.
func (card *Card) blockAddress(index uint32) (uint32, error) {
	if card.cardType.BlockAddressed() {
		return index, nil
	}
	if index > math.MaxUint32/sdmmc.BlockSize {
		return 0, errors.NewWithMessage(
			errors.KindInvalidArgument,
			fmt.Sprintf("block %d is beyond the addressable range of a %s card", index, card.cardType))
	}
	return index * sdmmc.BlockSize, nil
}

// ReadBlock reads a single block using the budget given at initialization.
// It implements [sdmmc.BlockDevice].
func (card *Card) ReadBlock(index uint32, dst *sdmmc.Sector) error {
	return card.ReadBlockWithBudget(index, dst, card.budget)
}

// ReadBlockWithBudget reads the block at `index` into `dst`.
//
// A data start token that never arrives is reported as
// [errors.KindReadTimeout]. It's usually transient, and the caller may retry
// the read; see [sdmmc.RetryingDevice].
func (card *Card) ReadBlockWithBudget(index uint32, dst *sdmmc.Sector, budget Budget) error {
	if err := budget.Validate(); err != nil {
		return err
	}

	address, err := card.blockAddress(index)
	if err != nil {
		return err
	}

	err = card.bus.Transaction(func() error {
		r1, err := card.sendCommand(CmdReadSingleBlock, address, budget)
		if err != nil {
			return err
		}
		if r1 != R1Ready {
			return rejected(CmdReadSingleBlock, r1)
		}
		return card.readDataBlock(dst.Data[:], budget)
	})
	if err != nil {
		return err
	}

	dst.LBA = index
	return nil
}

// ReadCSD reads the card-specific data register.
func (card *Card) ReadCSD() (CSD, error) {
	var csd CSD
	err := card.bus.Transaction(func() error {
		r1, err := card.sendCommand(CmdSendCSD, 0, card.budget)
		if err != nil {
			return err
		}
		if r1 != R1Ready {
			return rejected(CmdSendCSD, r1)
		}
		return card.readDataBlock(csd[:], card.budget)
	})
	return csd, err
}

// CardSizeBytes returns the capacity of the card in bytes, as reported by its
// CSD register.
func (card *Card) CardSizeBytes() (uint64, error) {
	csd, err := card.ReadCSD()
	if err != nil {
		return 0, err
	}
	return csd.CapacityBytes(card.cardType)
}

func rejected(command byte, r1 byte) error {
	return errors.NewWithMessage(
		errors.KindProtocol,
		fmt.Sprintf("CMD%d rejected with R1 %#02x", command, r1))
}
