package transport

import (
	"errors"
	"fmt"
	"time"

	"github.com/aDN03/CC/internal/protocol"
)

// ErrFrameTooLarge is returned when a peer's partial frame outgrows the
// reassembly limit.
var ErrFrameTooLarge = errors.New("partial frame exceeds reassembly limit")

// ErrPartialDiscarded is returned when a peer's buffered fragment is
// dropped before a new datagram is framed, either because it went stale or
// because the new datagram is a complete frame on its own.
var ErrPartialDiscarded = errors.New("partial frame discarded")

type partial struct {
	buf     []byte
	updated time.Time
}

// Reassembler accumulates datagram fragments per peer until complete frames
// can be cut from them. Sentinel-framed opcodes complete at the sentinel;
// task-dispatch frames complete once their declared lengths are satisfied.
type Reassembler struct {
	partials   map[string]*partial
	maxBytes   int
	staleAfter time.Duration
	now        func() time.Time
}

// NewReassembler creates a reassembler that drops a peer's buffer when it
// exceeds maxBytes or goes staleAfter without new fragments.
func NewReassembler(maxBytes int, staleAfter time.Duration) *Reassembler {
	return &Reassembler{
		partials:   make(map[string]*partial),
		maxBytes:   maxBytes,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Feed appends a fragment from peer and returns every frame it completes.
// A buffered fragment older than staleAfter, or one followed by a datagram
// that is a complete frame by itself, is discarded first so its bytes never
// prefix the new datagram; frames are then still returned together with an
// ErrPartialDiscarded error. On any other error the peer's buffer is
// discarded; frames completed before the bad bytes are still returned.
func (r *Reassembler) Feed(peer string, chunk []byte) ([][]byte, error) {
	now := r.now()
	var discarded error
	p, ok := r.partials[peer]
	switch {
	case !ok:
		p = &partial{}
		r.partials[peer] = p
	case now.Sub(p.updated) > r.staleAfter:
		discarded = fmt.Errorf("%w: %d stale bytes", ErrPartialDiscarded, len(p.buf))
		p.buf = nil
	case wholeFrame(chunk):
		discarded = fmt.Errorf("%w: %d bytes superseded by a complete frame", ErrPartialDiscarded, len(p.buf))
		p.buf = nil
	}
	p.buf = append(p.buf, chunk...)
	p.updated = now

	var frames [][]byte
	for len(p.buf) > 0 {
		n, err := protocol.FrameLen(p.buf)
		if err != nil {
			delete(r.partials, peer)
			return frames, err
		}
		if n == 0 {
			break
		}
		frames = append(frames, append([]byte(nil), p.buf[:n]...))
		p.buf = p.buf[n:]
	}

	switch {
	case len(p.buf) == 0:
		delete(r.partials, peer)
	case len(p.buf) > r.maxBytes:
		delete(r.partials, peer)
		return frames, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(p.buf))
	}
	return frames, discarded
}

// wholeFrame reports whether chunk is exactly one valid frame.
func wholeFrame(chunk []byte) bool {
	n, err := protocol.FrameLen(chunk)
	if err != nil || n != len(chunk) {
		return false
	}
	_, err = protocol.Decode(chunk)
	return err == nil
}

// Expire drops partial frames that have not grown within staleAfter and
// returns how many were dropped.
func (r *Reassembler) Expire() int {
	cutoff := r.now().Add(-r.staleAfter)
	dropped := 0
	for peer, p := range r.partials {
		if p.updated.Before(cutoff) {
			delete(r.partials, peer)
			dropped++
		}
	}
	return dropped
}

// Pending returns the number of peers with a partial frame buffered.
func (r *Reassembler) Pending() int {
	return len(r.partials)
}
