// Package reliable implements at-least-once delivery over the datagram
// transport: sequence id allocation, the table of frames awaiting
// acknowledgment, and the retransmission sweep.
package reliable

import "sync/atomic"

// Sequencer hands out strictly increasing sequence ids starting at 1.
// One Sequencer is shared by every outbound call of a role instance.
type Sequencer struct {
	last atomic.Uint32
}

// Next returns the next sequence id.
func (s *Sequencer) Next() uint32 {
	return s.last.Add(1)
}

// Last returns the most recently issued id, or 0 if none was issued.
func (s *Sequencer) Last() uint32 {
	return s.last.Load()
}
