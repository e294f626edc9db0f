// Package spisim simulates an SD or MMC card in SPI mode, backed by a disk
// image. It implements [spi.Transport] so the card driver can be exercised
// without hardware.
//
// The simulation covers the commands needed to initialize a card and read
// from it. Timing is modeled in bytes: each option that delays the card is a
// number of idle bytes or polls.
package spisim

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dargueta/sdmmc"
	"github.com/dargueta/sdmmc/drivers/sdspi"
	"github.com/noxer/bytewriter"
)

// Kind selects which generation of card is simulated.
type Kind int

const (
	SDHC Kind = iota
	SDv2
	SDv1
	MMC
)

// ParseKind converts the name of a card kind ("sdhc", "sdv2", "sdv1", "mmc")
// to a Kind.
func ParseKind(name string) (Kind, error) {
	switch name {
	case "sdhc":
		return SDHC, nil
	case "sdv2":
		return SDv2, nil
	case "sdv1":
		return SDv1, nil
	case "mmc":
		return MMC, nil
	default:
		return 0, fmt.Errorf("unknown card kind %q", name)
	}
}

func (k Kind) String() string {
	switch k {
	case SDHC:
		return "sdhc"
	case SDv2:
		return "sdv2"
	case SDv1:
		return "sdv1"
	case MMC:
		return "mmc"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// minPowerUpBytes is the number of bytes (74+ clocks) the host must send with
// the card deselected before it will accept GO_IDLE_STATE.
const minPowerUpBytes = 10

type cardState int

const (
	statePoweredOn cardState = iota
	stateIdle
	stateReady
)

// Command is a command frame received by the card.
type Command struct {
	Index    byte
	Argument uint32
}

func (c Command) String() string {
	return fmt.Sprintf("CMD%d(%#08x)", c.Index, c.Argument)
}

// Card is a simulated card. The zero value isn't usable; create one with
// [New].
type Card struct {
	kind        Kind
	image       io.ReaderAt
	totalBlocks uint32

	selected      bool
	powerUpBytes  int
	state         cardState
	appCommand    bool
	crcEnabled    bool
	opCondPolls   int
	frame         []byte
	out           []byte
	history       []Command
	transportFail error

	silentIfCond   bool
	badIfCondEcho  bool
	busyPolls      int
	responseDelay  int
	tokenDelay     int
	idleFailures   int
	readFailures   int
	corruptDataCRC bool
}

// Option configures a simulated card.
type Option func(card *Card)

// WithoutIfCondResponse makes the card ignore SEND_IF_COND entirely, as some
// early version 1 cards do.
func WithoutIfCondResponse() Option {
	return func(card *Card) { card.silentIfCond = true }
}

// WithBadIfCondEcho makes the card answer SEND_IF_COND with a wrong check
// pattern.
func WithBadIfCondEcho() Option {
	return func(card *Card) { card.badIfCondEcho = true }
}

// WithBusyPolls makes the card report itself busy for `polls` operating
// condition polls before becoming ready. A negative value keeps it busy
// forever.
func WithBusyPolls(polls int) Option {
	return func(card *Card) { card.busyPolls = polls }
}

// WithResponseDelay inserts `bytes` idle bytes before every R1 response.
func WithResponseDelay(bytes int) Option {
	return func(card *Card) { card.responseDelay = bytes }
}

// WithTokenDelay inserts `bytes` idle bytes between the R1 of a read command
// and the data start token.
func WithTokenDelay(bytes int) Option {
	return func(card *Card) { card.tokenDelay = bytes }
}

// WithIdleFailures makes the card ignore the first `count` GO_IDLE_STATE
// commands.
func WithIdleFailures(count int) Option {
	return func(card *Card) { card.idleFailures = count }
}

// WithCorruptDataCRC makes the card send a wrong CRC after every data block.
func WithCorruptDataCRC() Option {
	return func(card *Card) { card.corruptDataCRC = true }
}

// New creates a simulated card of the given kind whose contents are the first
// `totalBlocks` blocks of `image`. The card starts powered on but
// uninitialized.
func New(kind Kind, image io.ReaderAt, totalBlocks uint32, options ...Option) *Card {
	card := &Card{
		kind:        kind,
		image:       image,
		totalBlocks: totalBlocks,
		frame:       make([]byte, 0, 6),
	}
	for _, option := range options {
		option(card)
	}
	return card
}

// FailNextReads makes the next `count` block reads time out: the card
// accepts the command but never sends the data start token.
func (card *Card) FailNextReads(count int) {
	card.readFailures = count
}

// BreakLink makes every subsequent transfer fail with `err`. Pass nil to
// restore the link.
func (card *Card) BreakLink(err error) {
	card.transportFail = err
}

// History returns every command frame the card has received, in order.
func (card *Card) History() []Command {
	history := make([]Command, len(card.history))
	copy(history, card.history)
	return history
}

// Select implements [spi.Transport].
func (card *Card) Select() error {
	if card.transportFail != nil {
		return card.transportFail
	}
	card.selected = true
	return nil
}

// Deselect implements [spi.Transport]. Any response still pending is
// discarded.
func (card *Card) Deselect() error {
	if card.transportFail != nil {
		return card.transportFail
	}
	card.selected = false
	card.frame = card.frame[:0]
	card.out = nil
	return nil
}

// Tx implements [spi.Transport].
func (card *Card) Tx(w, r []byte) error {
	if card.transportFail != nil {
		return card.transportFail
	}
	if len(w) != len(r) {
		return fmt.Errorf("write and read buffers differ in length: %d != %d", len(w), len(r))
	}

	for i, value := range w {
		if !card.selected {
			r[i] = 0xFF
			card.powerUpBytes++
			continue
		}
		r[i] = card.nextOutputByte()
		card.receive(value)
	}
	return nil
}

func (card *Card) nextOutputByte() byte {
	if len(card.out) == 0 {
		return 0xFF
	}
	value := card.out[0]
	card.out = card.out[1:]
	return value
}

// receive collects command frames. Anything outside a frame that doesn't
// start with the start and transmission bits is ignored.
func (card *Card) receive(value byte) {
	if len(card.frame) == 0 && value&0xC0 != 0x40 {
		return
	}

	card.frame = append(card.frame, value)
	if len(card.frame) < 6 {
		return
	}

	var frame [6]byte
	copy(frame[:], card.frame)
	card.frame = card.frame[:0]
	card.execute(frame)
}

func (card *Card) respond(data ...byte) {
	card.out = make([]byte, 0, card.responseDelay+len(data))
	for i := 0; i < card.responseDelay; i++ {
		card.out = append(card.out, 0xFF)
	}
	card.out = append(card.out, data...)
}

func (card *Card) idleBit() byte {
	if card.state == stateIdle {
		return sdspi.R1IdleState
	}
	return sdspi.R1Ready
}

func (card *Card) execute(frame [6]byte) {
	command := Command{
		Index:    frame[0] & 0x3F,
		Argument: binary.BigEndian.Uint32(frame[1:5]),
	}
	card.history = append(card.history, command)
	card.out = nil

	isAppCommand := card.appCommand
	card.appCommand = false

	if card.state == statePoweredOn {
		if command.Index != sdspi.CmdGoIdleState || card.powerUpBytes < minPowerUpBytes {
			return
		}
	}

	// GO_IDLE_STATE and SEND_IF_COND are always checked since the card is
	// still in SD mode when it receives them.
	checkCRC := card.crcEnabled ||
		command.Index == sdspi.CmdGoIdleState ||
		command.Index == sdspi.CmdSendIfCond
	if checkCRC && frame[5] != sdspi.CRC7(frame[:5])<<1|1 {
		card.respond(card.idleBit() | sdspi.R1CommandCRCError)
		return
	}

	switch {
	case command.Index == sdspi.CmdGoIdleState:
		if card.idleFailures > 0 {
			card.idleFailures--
			return
		}
		card.state = stateIdle
		card.crcEnabled = false
		card.opCondPolls = 0
		card.respond(sdspi.R1IdleState)

	case command.Index == sdspi.CmdCRCOnOff:
		card.crcEnabled = command.Argument&1 != 0
		card.respond(card.idleBit())

	case command.Index == sdspi.CmdSendIfCond:
		card.sendIfCond(command.Argument)

	case command.Index == sdspi.CmdAppCmd:
		if card.kind == MMC {
			card.respond(card.idleBit() | sdspi.R1IllegalCommand)
			return
		}
		card.appCommand = true
		card.respond(card.idleBit())

	case isAppCommand && command.Index == sdspi.ACmdSDSendOpCond:
		hostSupportsHC := command.Argument&sdspi.ACmd41HighCapacity != 0
		if card.kind == SDHC && !hostSupportsHC {
			// A high-capacity card never finishes power-up for a host
			// that can't address it.
			card.respond(card.idleBit())
			return
		}
		card.pollOperatingCondition()

	case command.Index == sdspi.CmdSendOpCond:
		if card.kind != MMC {
			card.respond(card.idleBit() | sdspi.R1IllegalCommand)
			return
		}
		card.pollOperatingCondition()

	case command.Index == sdspi.CmdReadOCR:
		var ocr0 byte = 0x80
		if card.kind == SDHC && card.state == stateReady {
			ocr0 |= sdspi.OCRCardCapacityStatus
		}
		card.respond(card.idleBit(), ocr0, 0xFF, 0x80, 0x00)

	case command.Index == sdspi.CmdSetBlockLen:
		if card.kind != SDHC && command.Argument != sdmmc.BlockSize {
			card.respond(card.idleBit() | sdspi.R1ParameterError)
			return
		}
		card.respond(card.idleBit())

	case command.Index == sdspi.CmdSendCSD && card.state == stateReady:
		csd := card.csd()
		card.respond(sdspi.R1Ready)
		card.sendDataPacket(csd[:])

	case command.Index == sdspi.CmdReadSingleBlock && card.state == stateReady:
		card.readSingleBlock(command.Argument)

	default:
		card.respond(card.idleBit() | sdspi.R1IllegalCommand)
	}
}

func (card *Card) sendIfCond(argument uint32) {
	if card.kind == SDv1 || card.kind == MMC {
		if card.silentIfCond {
			return
		}
		card.respond(card.idleBit() | sdspi.R1IllegalCommand)
		return
	}

	pattern := byte(argument)
	if card.badIfCondEcho {
		pattern = ^pattern
	}
	card.respond(card.idleBit(), 0x00, 0x00, byte(argument>>8)&0x0F, pattern)
}

func (card *Card) pollOperatingCondition() {
	if card.state == stateReady {
		card.respond(sdspi.R1Ready)
		return
	}

	card.opCondPolls++
	if card.busyPolls < 0 || card.opCondPolls <= card.busyPolls {
		card.respond(sdspi.R1IdleState)
		return
	}
	card.state = stateReady
	card.respond(sdspi.R1Ready)
}

func (card *Card) readSingleBlock(argument uint32) {
	block := argument
	if card.kind != SDHC {
		if argument%sdmmc.BlockSize != 0 {
			card.respond(sdspi.R1AddressError)
			return
		}
		block = argument / sdmmc.BlockSize
	}

	if block >= card.totalBlocks {
		card.respond(sdspi.R1ParameterError)
		return
	}

	card.respond(sdspi.R1Ready)
	if card.readFailures > 0 {
		card.readFailures--
		return
	}

	data := make([]byte, sdmmc.BlockSize)
	_, err := card.image.ReadAt(data, int64(block)*sdmmc.BlockSize)
	if err != nil && err != io.EOF {
		// Data error token: "error" bit.
		card.out = append(card.out, 0x01)
		return
	}
	card.sendDataPacket(data)
}

// sendDataPacket queues the start token, `payload`, and its CRC16 after the
// configured token delay.
func (card *Card) sendDataPacket(payload []byte) {
	for i := 0; i < card.tokenDelay; i++ {
		card.out = append(card.out, 0xFF)
	}

	crc := sdspi.CRC16(payload)
	if card.corruptDataCRC {
		crc = ^crc
	}

	packet := make([]byte, len(payload)+3)
	writer := bytewriter.New(packet)
	writer.Write([]byte{sdspi.TokenStartBlock})
	writer.Write(payload)
	binary.Write(writer, binary.BigEndian, crc)

	card.out = append(card.out, packet...)
}
