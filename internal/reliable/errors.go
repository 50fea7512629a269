package reliable

import (
	"errors"
	"fmt"

	"github.com/aDN03/CC/internal/protocol"
)

// ErrDeliveryExhausted marks a frame that was never acknowledged within the
// retry ceiling.
var ErrDeliveryExhausted = errors.New("delivery exhausted")

// ExhaustedError describes an expired pending entry. It is only returned by
// Table.Run for critical opcodes (handshake and teardown); other expirations
// are logged.
type ExhaustedError struct {
	Seq      uint32
	Op       protocol.Opcode
	Attempts int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s (seq %d) unacknowledged after %d attempts", e.Op, e.Seq, e.Attempts)
}

func (e *ExhaustedError) Unwrap() error {
	return ErrDeliveryExhausted
}
