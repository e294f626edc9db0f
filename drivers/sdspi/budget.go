package sdspi

import (
	"fmt"

	"github.com/dargueta/sdmmc/errors"
)

// Budget bounds every polling loop in the protocol. There is no wall clock;
// each limit is a count of attempts or of bytes clocked while waiting.
type Budget struct {
	// IdleAttempts is how many times GO_IDLE_STATE is sent before giving up
	// with an InitTimeout.
	IdleAttempts int
	// IfCondAttempts is how many unanswered SEND_IF_COND commands are
	// tolerated before the card is treated as a version 1 card.
	IfCondAttempts int
	// OpCondAttempts is how many times the operating-condition negotiation
	// (ACMD41 or CMD1) is polled before giving up with an InitTimeout.
	OpCondAttempts int
	// ResponseBytes is how many bytes are polled for an R1 response before
	// the command fails with NoResponse.
	ResponseBytes int
	// TokenBytes is how many bytes are polled for a data start token before
	// the read fails with ReadTimeout.
	TokenBytes int
	// BusyBytes is how many bytes are polled for the card to release the
	// data line before a command is sent.
	BusyBytes int
}

// DefaultBudget returns limits suitable for real cards clocked at 400kHz
// during initialization.
func DefaultBudget() Budget {
	return Budget{
		IdleAttempts:   32,
		IfCondAttempts: 2,
		OpCondAttempts: 2000,
		ResponseBytes:  16,
		TokenBytes:     32768,
		BusyBytes:      32768,
	}
}

// Validate returns an error if any limit isn't positive.
func (b Budget) Validate() error {
	limits := []struct {
		name  string
		value int
	}{
		{"IdleAttempts", b.IdleAttempts},
		{"IfCondAttempts", b.IfCondAttempts},
		{"OpCondAttempts", b.OpCondAttempts},
		{"ResponseBytes", b.ResponseBytes},
		{"TokenBytes", b.TokenBytes},
		{"BusyBytes", b.BusyBytes},
	}

	for _, limit := range limits {
		if limit.value <= 0 {
			return errors.NewWithMessage(
				errors.KindInvalidArgument,
				fmt.Sprintf("budget %s must be positive, got %d", limit.name, limit.value))
		}
	}
	return nil
}
