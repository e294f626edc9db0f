package sdspi_test

import (
	"bytes"
	"encoding/binary"
	stderrors "errors"
	"testing"

	"github.com/dargueta/sdmmc"
	"github.com/dargueta/sdmmc/drivers/sdspi"
	"github.com/dargueta/sdmmc/drivers/spisim"
	"github.com/dargueta/sdmmc/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBlocks = 2048

// makeImage creates an image where every block starts with its own index
// followed by a pattern derived from it.
func makeImage() []byte {
	image := make([]byte, testBlocks*sdmmc.BlockSize)
	for block := 0; block < testBlocks; block++ {
		start := block * sdmmc.BlockSize
		binary.BigEndian.PutUint32(image[start:], uint32(block))
		for i := 4; i < sdmmc.BlockSize; i++ {
			image[start+i] = byte(block ^ i)
		}
	}
	return image
}

func testBudget() sdspi.Budget {
	return sdspi.Budget{
		IdleAttempts:   4,
		IfCondAttempts: 2,
		OpCondAttempts: 16,
		ResponseBytes:  8,
		TokenBytes:     64,
		BusyBytes:      64,
	}
}

func newSimulatedCard(kind spisim.Kind, image []byte, options ...spisim.Option) *spisim.Card {
	return spisim.New(kind, bytes.NewReader(image), testBlocks, options...)
}

func commandsWithIndex(history []spisim.Command, index byte) []spisim.Command {
	var found []spisim.Command
	for _, command := range history {
		if command.Index == index {
			found = append(found, command)
		}
	}
	return found
}

func lastCommand(t *testing.T, sim *spisim.Card) spisim.Command {
	history := sim.History()
	require.NotEmpty(t, history)
	return history[len(history)-1]
}

func TestInitialize__SDHC(t *testing.T) {
	image := makeImage()
	sim := newSimulatedCard(
		spisim.SDHC,
		image,
		spisim.WithBusyPolls(3),
		spisim.WithResponseDelay(2),
		spisim.WithTokenDelay(10),
	)

	card, err := sdspi.Initialize(sim, testBudget())
	require.NoError(t, err)
	assert.Equal(t, sdspi.CardTypeSDHC, card.Type())
	assert.True(t, card.Type().BlockAddressed())

	history := sim.History()
	require.NotEmpty(t, history)
	assert.EqualValues(t, sdspi.CmdGoIdleState, history[0].Index, "first command must be GO_IDLE_STATE")

	opConds := commandsWithIndex(history, sdspi.ACmdSDSendOpCond)
	require.Len(t, opConds, 4, "card was busy for 3 polls")
	assert.EqualValues(t, sdspi.ACmd41HighCapacity, opConds[0].Argument)
	assert.Len(t, commandsWithIndex(history, sdspi.CmdReadOCR), 1)
	assert.Empty(t, commandsWithIndex(history, sdspi.CmdSetBlockLen), "SDHC cards have a fixed block length")

	sector := sdmmc.Sector{}
	require.NoError(t, card.ReadBlock(3, &sector))
	assert.EqualValues(t, 3, sector.LBA)
	assert.Equal(t, image[3*sdmmc.BlockSize:4*sdmmc.BlockSize], sector.Data[:])
	assert.Equal(t, spisim.Command{Index: sdspi.CmdReadSingleBlock, Argument: 3}, lastCommand(t, sim))

	size, err := card.CardSizeBytes()
	require.NoError(t, err)
	assert.EqualValues(t, testBlocks*sdmmc.BlockSize, size)
}

// A version 1 card that never answers SEND_IF_COND must be initialized as a
// byte-addressed card, and its size computed from a version 1 CSD.
func TestInitialize__IfCondTimeoutFallsBackToLegacy(t *testing.T) {
	image := makeImage()
	sim := newSimulatedCard(
		spisim.SDv1,
		image,
		spisim.WithoutIfCondResponse(),
		spisim.WithBusyPolls(3),
	)

	card, err := sdspi.Initialize(sim, testBudget())
	require.NoError(t, err)
	assert.Equal(t, sdspi.CardTypeSD1, card.Type())
	assert.False(t, card.Type().BlockAddressed())

	history := sim.History()
	assert.Len(t, commandsWithIndex(history, sdspi.CmdSendIfCond), testBudget().IfCondAttempts)
	assert.Empty(t, commandsWithIndex(history, sdspi.CmdReadOCR))

	opConds := commandsWithIndex(history, sdspi.ACmdSDSendOpCond)
	require.NotEmpty(t, opConds)
	assert.EqualValues(t, 0, opConds[0].Argument, "legacy cards must not be offered high capacity")

	setBlockLen := commandsWithIndex(history, sdspi.CmdSetBlockLen)
	require.Len(t, setBlockLen, 1)
	assert.EqualValues(t, sdmmc.BlockSize, setBlockLen[0].Argument)

	sector := sdmmc.Sector{}
	require.NoError(t, card.ReadBlock(3, &sector))
	assert.Equal(t, image[3*sdmmc.BlockSize:4*sdmmc.BlockSize], sector.Data[:])
	assert.Equal(
		t,
		spisim.Command{Index: sdspi.CmdReadSingleBlock, Argument: 3 * sdmmc.BlockSize},
		lastCommand(t, sim),
		"byte-addressed card must be sent a byte offset")

	size, err := card.CardSizeBytes()
	require.NoError(t, err)
	assert.EqualValues(t, testBlocks*sdmmc.BlockSize, size)
}

func TestInitialize__SDv1RejectsIfCond(t *testing.T) {
	sim := newSimulatedCard(spisim.SDv1, makeImage())

	card, err := sdspi.Initialize(sim, testBudget())
	require.NoError(t, err)
	assert.Equal(t, sdspi.CardTypeSD1, card.Type())
	assert.Len(t, commandsWithIndex(sim.History(), sdspi.CmdSendIfCond), 1)
}

func TestInitialize__StandardCapacityV2(t *testing.T) {
	image := makeImage()
	sim := newSimulatedCard(spisim.SDv2, image, spisim.WithBusyPolls(1))

	card, err := sdspi.Initialize(sim, testBudget())
	require.NoError(t, err)
	assert.Equal(t, sdspi.CardTypeSD2, card.Type())
	assert.Len(t, commandsWithIndex(sim.History(), sdspi.CmdSetBlockLen), 1)

	sector := sdmmc.Sector{}
	require.NoError(t, card.ReadBlock(testBlocks-1, &sector))
	assert.Equal(t, image[(testBlocks-1)*sdmmc.BlockSize:], sector.Data[:])
	assert.EqualValues(t, (testBlocks-1)*sdmmc.BlockSize, lastCommand(t, sim).Argument)
}

func TestInitialize__MMC(t *testing.T) {
	sim := newSimulatedCard(spisim.MMC, makeImage(), spisim.WithBusyPolls(2))

	card, err := sdspi.Initialize(sim, testBudget())
	require.NoError(t, err)
	assert.Equal(t, sdspi.CardTypeMMC, card.Type())
	assert.Len(t, commandsWithIndex(sim.History(), sdspi.CmdSendOpCond), 3)

	size, err := card.CardSizeBytes()
	require.NoError(t, err)
	assert.EqualValues(t, testBlocks*sdmmc.BlockSize, size)
}

func TestInitialize__IdleRetriedWithinBudget(t *testing.T) {
	sim := newSimulatedCard(spisim.SDHC, makeImage(), spisim.WithIdleFailures(2))

	_, err := sdspi.Initialize(sim, testBudget())
	require.NoError(t, err)
	assert.Len(t, commandsWithIndex(sim.History(), sdspi.CmdGoIdleState), 3)
}

func TestInitialize__IdleBudgetExhausted(t *testing.T) {
	sim := newSimulatedCard(spisim.SDHC, makeImage(), spisim.WithIdleFailures(100))

	card, err := sdspi.Initialize(sim, testBudget())
	assert.Nil(t, card)
	assert.ErrorIs(t, err, errors.ErrInitTimeout)
	assert.Len(t, commandsWithIndex(sim.History(), sdspi.CmdGoIdleState), testBudget().IdleAttempts)
}

func TestInitialize__ResponseTooSlow(t *testing.T) {
	budget := testBudget()
	sim := newSimulatedCard(spisim.SDHC, makeImage(), spisim.WithResponseDelay(budget.ResponseBytes+1))

	_, err := sdspi.Initialize(sim, budget)
	assert.ErrorIs(t, err, errors.ErrInitTimeout)
}

func TestInitialize__CardNeverReady(t *testing.T) {
	sim := newSimulatedCard(spisim.SDv2, makeImage(), spisim.WithBusyPolls(-1))

	_, err := sdspi.Initialize(sim, testBudget())
	assert.ErrorIs(t, err, errors.ErrInitTimeout)
	assert.Len(
		t,
		commandsWithIndex(sim.History(), sdspi.ACmdSDSendOpCond),
		testBudget().OpCondAttempts)
}

func TestInitialize__MMCNeverReady(t *testing.T) {
	sim := newSimulatedCard(spisim.MMC, makeImage(), spisim.WithBusyPolls(-1))

	_, err := sdspi.Initialize(sim, testBudget())
	assert.ErrorIs(t, err, errors.ErrInitTimeout)
}

func TestInitialize__BadIfCondEcho(t *testing.T) {
	sim := newSimulatedCard(spisim.SDHC, makeImage(), spisim.WithBadIfCondEcho())

	_, err := sdspi.Initialize(sim, testBudget())
	assert.ErrorIs(t, err, errors.ErrProtocol)
}

func TestInitialize__TransportFailure(t *testing.T) {
	linkErr := stderrors.New("spi peripheral fault")
	sim := newSimulatedCard(spisim.SDHC, makeImage())
	sim.BreakLink(linkErr)

	_, err := sdspi.Initialize(sim, testBudget())
	assert.ErrorIs(t, err, errors.ErrTransport)
	assert.ErrorIs(t, err, linkErr)
}

func TestInitialize__InvalidBudget(t *testing.T) {
	budget := testBudget()
	budget.TokenBytes = 0

	_, err := sdspi.Initialize(newSimulatedCard(spisim.SDHC, makeImage()), budget)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)
}

func TestReadBlock__TokenTimeoutIsRetryable(t *testing.T) {
	image := makeImage()
	sim := newSimulatedCard(spisim.SDHC, image)
	card, err := sdspi.Initialize(sim, testBudget())
	require.NoError(t, err)

	sim.FailNextReads(1)
	sector := sdmmc.Sector{}
	err = card.ReadBlock(7, &sector)
	assert.ErrorIs(t, err, errors.ErrReadTimeout)
	assert.True(t, errors.IsRetryable(err))

	require.NoError(t, card.ReadBlock(7, &sector), "card didn't recover after a missed token")
	assert.Equal(t, image[7*sdmmc.BlockSize:8*sdmmc.BlockSize], sector.Data[:])
}

func TestReadBlock__RetryingDevice(t *testing.T) {
	image := makeImage()
	sim := newSimulatedCard(spisim.SDHC, image)
	card, err := sdspi.Initialize(sim, testBudget())
	require.NoError(t, err)

	var retries []int
	device := &sdmmc.RetryingDevice{
		Device:  card,
		Retries: 2,
		OnRetry: func(index uint32, attempt int, err error) {
			assert.EqualValues(t, 9, index)
			assert.ErrorIs(t, err, errors.ErrReadTimeout)
			retries = append(retries, attempt)
		},
	}

	sim.FailNextReads(2)
	sector := sdmmc.Sector{}
	require.NoError(t, device.ReadBlock(9, &sector))
	assert.Equal(t, []int{1, 2}, retries)
	assert.Equal(t, image[9*sdmmc.BlockSize:10*sdmmc.BlockSize], sector.Data[:])
}

func TestReadBlockWithBudget__TokenDelay(t *testing.T) {
	sim := newSimulatedCard(spisim.SDHC, makeImage(), spisim.WithTokenDelay(10))
	card, err := sdspi.Initialize(sim, testBudget())
	require.NoError(t, err)

	sector := sdmmc.Sector{}
	short := testBudget()
	short.TokenBytes = 4
	assert.ErrorIs(t, card.ReadBlockWithBudget(1, &sector, short), errors.ErrReadTimeout)
	assert.NoError(t, card.ReadBlockWithBudget(1, &sector, testBudget()))
}

func TestReadBlock__DataCRC(t *testing.T) {
	image := makeImage()

	sim := newSimulatedCard(spisim.SDHC, image, spisim.WithCorruptDataCRC())
	card, err := sdspi.Initialize(sim, testBudget())
	require.NoError(t, err)
	sector := sdmmc.Sector{}
	assert.NoError(t, card.ReadBlock(0, &sector), "CRC must be ignored unless checking is enabled")

	sim = newSimulatedCard(spisim.SDHC, image, spisim.WithCorruptDataCRC())
	card, err = sdspi.Initialize(sim, testBudget(), sdspi.WithDataCRC(true))
	require.NoError(t, err)
	err = card.ReadBlock(0, &sector)
	assert.ErrorIs(t, err, errors.ErrCRC)
	assert.True(t, errors.IsRetryable(err))

	sim = newSimulatedCard(spisim.SDHC, image)
	card, err = sdspi.Initialize(sim, testBudget(), sdspi.WithDataCRC(true))
	require.NoError(t, err)
	assert.NoError(t, card.ReadBlock(0, &sector))
}

func TestReadBlock__OutOfRange(t *testing.T) {
	sim := newSimulatedCard(spisim.SDv2, makeImage())
	card, err := sdspi.Initialize(sim, testBudget())
	require.NoError(t, err)

	sector := sdmmc.Sector{}
	assert.ErrorIs(t, card.ReadBlock(testBlocks, &sector), errors.ErrProtocol)
	assert.ErrorIs(t, card.ReadBlock(0xFFFFFFFF, &sector), errors.ErrInvalidArgument)
}

func TestReadBlock__LinkDropped(t *testing.T) {
	sim := newSimulatedCard(spisim.SDHC, makeImage())
	card, err := sdspi.Initialize(sim, testBudget())
	require.NoError(t, err)

	sim.BreakLink(stderrors.New("cable pulled"))
	sector := sdmmc.Sector{}
	err = card.ReadBlock(0, &sector)
	assert.ErrorIs(t, err, errors.ErrTransport)
	assert.False(t, errors.IsRetryable(err))
}
