package engine

import "errors"

var (
	ErrUnknownInstrument = errors.New("unknown instrument")
	ErrBookUnavailable   = errors.New("order book unavailable")
)
