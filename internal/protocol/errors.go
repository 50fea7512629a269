package protocol

import (
	"errors"
	"fmt"
)

// ErrMalformedMessage is returned when a buffer cannot be decoded. Receivers
// drop such datagrams without acknowledging them.
var ErrMalformedMessage = errors.New("malformed message")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedMessage, fmt.Sprintf(format, args...))
}
