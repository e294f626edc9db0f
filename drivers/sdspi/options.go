package sdspi

import (
	log "github.com/fclairamb/go-log"
)

// Option configures a Card at initialization.
type Option func(card *Card)

// WithLogger sets the logger for protocol events. By default nothing is
// logged.
func WithLogger(logger log.Logger) Option {
	return func(card *Card) {
		card.log = logger
	}
}

// WithDataCRC enables checking the CRC16 of every data block the card sends.
// When disabled (the default) the CRC bytes are consumed and ignored.
func WithDataCRC(enabled bool) Option {
	return func(card *Card) {
		card.checkDataCRC = enabled
	}
}
