// Package spi frames byte exchanges with a card over a full-duplex SPI link.
//
// The physical SPI peripheral is provided by the host through [Transport]. [Bus]
// layers the chip-select discipline required by SD/MMC cards on top of it: the
// card is selected before the first byte of a transaction and released only
// after the trailing idle byte has been clocked out.
package spi

import (
	"github.com/dargueta/sdmmc/errors"
)

// IdleByte is what the host clocks out while it's only listening. The card
// sends it back whenever it has nothing to say.
const IdleByte = 0xFF

// Transport is the host's SPI peripheral driver. It's not safe for concurrent
// use; if several tasks share a bus, the host must serialize access to it.
//
// Generated mock using mockgen:
//
//	mockgen -source=transport.go -destination=spimock/transport_mock.go -package spimock
type Transport interface {
	// Select asserts the card's chip-select line.
	Select() error
	// Deselect releases the card's chip-select line.
	Deselect() error
	// Tx clocks out `w` and simultaneously fills `r` with the bytes clocked
	// in. `w` and `r` always have the same length.
	Tx(w, r []byte) error
}

// Bus wraps a Transport with the framing rules shared by every card command.
// All errors it returns from the underlying Transport have kind
// [errors.KindTransport].
type Bus struct {
	transport Transport
}

// NewBus creates a Bus on top of `transport`.
func NewBus(transport Transport) *Bus {
	return &Bus{transport: transport}
}

// Exchange clocks out `out` in a single transfer and returns the bytes clocked
// in at the same time.
func (b *Bus) Exchange(out []byte) ([]byte, error) {
	in := make([]byte, len(out))
	if len(out) == 0 {
		return in, nil
	}
	if err := b.transport.Tx(out, in); err != nil {
		return nil, errors.ErrTransport.Wrap(err)
	}
	return in, nil
}

// Write clocks out `out`, discarding whatever the card sends back.
func (b *Bus) Write(out []byte) error {
	_, err := b.Exchange(out)
	return err
}

// ReadByte clocks out one idle byte and returns the byte received.
func (b *Bus) ReadByte() (byte, error) {
	in, err := b.Exchange([]byte{IdleByte})
	if err != nil {
		return 0, err
	}
	return in[0], nil
}

// Read fills `buffer` by clocking out idle bytes.
func (b *Bus) Read(buffer []byte) error {
	in, err := b.Exchange(idleBytes(len(buffer)))
	if err != nil {
		return err
	}
	copy(buffer, in)
	return nil
}

// Idle clocks out `count` idle bytes, e.g. to give the card the clock cycles
// it needs between commands.
func (b *Bus) Idle(count int) error {
	if count <= 0 {
		return nil
	}
	_, err := b.Exchange(idleBytes(count))
	return err
}

func idleBytes(count int) []byte {
	out := make([]byte, count)
	for i := range out {
		out[i] = IdleByte
	}
	return out
}

// Transaction selects the card, runs `fn`, clocks out one trailing idle byte,
// and releases the card. The card is released even if `fn` fails; the trailing
// byte is skipped only if the link itself failed. The error from `fn` takes
// precedence over any error releasing the card.
func (b *Bus) Transaction(fn func() error) error {
	if err := b.transport.Select(); err != nil {
		return errors.ErrTransport.Wrap(err)
	}

	err := fn()
	if errors.KindOf(err) != errors.KindTransport {
		if idleErr := b.Idle(1); err == nil {
			err = idleErr
		}
	}

	deselectErr := b.transport.Deselect()
	if err != nil {
		return err
	}
	if deselectErr != nil {
		return errors.ErrTransport.Wrap(deselectErr)
	}
	return nil
}
