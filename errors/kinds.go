// Error kinds for every layer between the SPI link and the directory iterator.
// A kind says which part of the stack failed and therefore what a caller can
// do about it: retry a read, try another volume, or give up on the card.

package errors

import (
	"fmt"
)

type Kind int

const (
	KindOK Kind = iota
	// KindTransport is a link-level failure reported by the SPI driver. Always
	// fatal to the operation in flight and never retried here.
	KindTransport
	// KindProtocol is an unexpected or malformed response token from the card.
	KindProtocol
	// KindNoResponse means the card never produced a response token within the
	// polling budget.
	KindNoResponse
	// KindInitTimeout means the card never left the busy or idle state during
	// initialization.
	KindInitTimeout
	// KindReadTimeout means the data start token never arrived during a block
	// read. Transient; callers may retry.
	KindReadTimeout
	// KindCRC is a data block whose CRC16 didn't match.
	KindCRC
	KindInvalidBootSector
	KindUnsupportedVolume
	// KindBrokenChain is a cluster chain that points at a free, reserved, bad,
	// or out-of-range cluster, or never terminates.
	KindBrokenChain
	KindInvalidArgument
	KindNotFound
	KindNotADirectory
	KindIsADirectory
)

var ErrTransport = New(KindTransport)
var ErrProtocol = New(KindProtocol)
var ErrNoResponse = New(KindNoResponse)
var ErrInitTimeout = New(KindInitTimeout)
var ErrReadTimeout = New(KindReadTimeout)
var ErrCRC = New(KindCRC)
var ErrInvalidBootSector = New(KindInvalidBootSector)
var ErrUnsupportedVolume = New(KindUnsupportedVolume)
var ErrBrokenChain = New(KindBrokenChain)
var ErrInvalidArgument = New(KindInvalidArgument)
var ErrNotFound = New(KindNotFound)
var ErrNotADirectory = New(KindNotADirectory)
var ErrIsADirectory = New(KindIsADirectory)

var errorMessagesByKind = map[Kind]string{
	KindOK:                "Success",
	KindTransport:         "SPI transport failure",
	KindProtocol:          "Unexpected response from card",
	KindNoResponse:        "Card did not respond",
	KindInitTimeout:       "Card initialization timed out",
	KindReadTimeout:       "Timed out waiting for data token",
	KindCRC:               "Data block CRC mismatch",
	KindInvalidBootSector: "Invalid boot sector",
	KindUnsupportedVolume: "Unsupported volume",
	KindBrokenChain:       "Broken cluster chain",
	KindInvalidArgument:   "Invalid argument",
	KindNotFound:          "No such file or directory",
	KindNotADirectory:     "Not a directory",
	KindIsADirectory:      "Is a directory",
}

// StrError returns the default message for an error kind.
func StrError(kind Kind) string {
	message, ok := errorMessagesByKind[kind]
	if ok {
		return message
	}
	return fmt.Sprintf("error kind %d not recognized.", int(kind))
}

func (k Kind) String() string {
	return StrError(k)
}
