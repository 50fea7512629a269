package reliable

import (
	"container/list"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aDN03/CC/internal/protocol"
)

// Class groups opcodes by how losing them affects the session.
type Class int

const (
	// ClassStandard entries are dropped with a log line when exhausted.
	ClassStandard Class = iota
	// ClassCritical entries end the session when exhausted and are never
	// evicted by the size cap.
	ClassCritical
	// ClassVolatile entries are superseded by newer ones (keep-alives).
	ClassVolatile
)

// ClassOf returns the delivery class of an opcode.
func ClassOf(op protocol.Opcode) Class {
	switch op {
	case protocol.OpConnect, protocol.OpTeardown:
		return ClassCritical
	case protocol.OpKeepAlive, protocol.OpKeepAliveTemplate:
		return ClassVolatile
	default:
		return ClassStandard
	}
}

// Policy holds the retry parameters of a role instance.
type Policy struct {
	RetryTimeout time.Duration
	MaxAttempts  int
	// MaxPending caps the number of non-critical entries; the oldest
	// non-critical entry is evicted to make room. Zero means no cap.
	MaxPending int
}

// Entry is a frame awaiting acknowledgment. Attempts counts transmissions,
// including the first one.
type Entry struct {
	Seq       uint32
	Op        protocol.Opcode
	Frame     []byte
	Dest      net.Addr
	FirstSent time.Time
	LastSent  time.Time
	Attempts  int
}

// Transmit writes a frame to a destination.
type Transmit func(frame []byte, dest net.Addr) error

// Table tracks in-flight frames. Sequence allocation, insertion, removal and
// sweeping all happen under one mutex.
type Table struct {
	mu      sync.Mutex
	seq     *Sequencer
	policy  Policy
	entries map[uint32]*list.Element
	order   *list.List // *Entry, oldest first
	now     func() time.Time
	logger  *zap.Logger
}

// Option customizes a Table.
type Option func(*Table)

// WithClock replaces time.Now, used by tests to drive the sweep.
func WithClock(now func() time.Time) Option {
	return func(t *Table) { t.now = now }
}

// WithSequencer shares an existing sequencer instead of creating one.
func WithSequencer(s *Sequencer) Option {
	return func(t *Table) { t.seq = s }
}

// NewTable creates an empty pending-acknowledgment table.
func NewTable(policy Policy, logger *zap.Logger, opts ...Option) *Table {
	t := &Table{
		seq:     &Sequencer{},
		policy:  policy,
		entries: make(map[uint32]*list.Element),
		order:   list.New(),
		now:     time.Now,
		logger:  logger.Named("reliable"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NextSeq allocates a sequence id for a frame that is not tracked (final
// notices). Tracked frames get their id from Track.
func (t *Table) NextSeq() uint32 {
	return t.seq.Next()
}

// Track allocates the next sequence id, encodes the frame and records it as
// sent now. The caller transmits the returned frame.
func (t *Table) Track(op protocol.Opcode, data []byte, dest net.Addr) (uint32, []byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	seq := t.seq.Next()
	frame, err := protocol.Encode(seq, op, data)
	if err != nil {
		return 0, nil, fmt.Errorf("track %s: %w", op, err)
	}

	if ClassOf(op) != ClassCritical && t.policy.MaxPending > 0 {
		for t.nonCriticalLocked() >= t.policy.MaxPending {
			if !t.evictOldestLocked() {
				break
			}
		}
	}

	now := t.now()
	t.entries[seq] = t.order.PushBack(&Entry{
		Seq:       seq,
		Op:        op,
		Frame:     frame,
		Dest:      dest,
		FirstSent: now,
		LastSent:  now,
		Attempts:  1,
	})
	return seq, frame, nil
}

// Ack resolves the entry for seq. Unknown ids (already acknowledged,
// expired, or evicted) are ignored and reported as not found.
func (t *Table) Ack(seq uint32) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	elem, ok := t.entries[seq]
	if !ok {
		return Entry{}, false
	}
	entry := t.order.Remove(elem).(*Entry)
	delete(t.entries, seq)
	return *entry, true
}

// Sweep examines every entry. Entries whose retry timeout elapsed are
// retransmitted while attempts remain, or expired and removed once the
// retry ceiling is reached. Returned entries are copies.
func (t *Table) Sweep() (resend, expired []Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for elem := t.order.Front(); elem != nil; {
		next := elem.Next()
		entry := elem.Value.(*Entry)
		if now.Sub(entry.LastSent) > t.policy.RetryTimeout {
			if entry.Attempts < t.policy.MaxAttempts {
				entry.Attempts++
				entry.LastSent = now
				resend = append(resend, *entry)
			} else {
				t.order.Remove(elem)
				delete(t.entries, entry.Seq)
				expired = append(expired, *entry)
			}
		}
		elem = next
	}
	return resend, expired
}

// Len returns the number of pending entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.order.Len()
}

// Pending reports whether seq still awaits acknowledgment.
func (t *Table) Pending(seq uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[seq]
	return ok
}

// Run sweeps the table every interval, retransmitting through xmit, until ctx
// is done. It returns an *ExhaustedError as soon as a critical entry expires.
func (t *Table) Run(ctx context.Context, interval time.Duration, xmit Transmit) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := t.SweepOnce(xmit); err != nil {
				return err
			}
		}
	}
}

// SweepOnce performs a single sweep and handles its results.
func (t *Table) SweepOnce(xmit Transmit) error {
	resend, expired := t.Sweep()

	for _, e := range resend {
		t.logger.Debug("Retransmitting",
			zap.Uint32("seq", e.Seq),
			zap.Stringer("opcode", e.Op),
			zap.Int("attempt", e.Attempts))
		if err := xmit(e.Frame, e.Dest); err != nil {
			t.logger.Warn("Retransmit failed", zap.Uint32("seq", e.Seq), zap.Error(err))
		}
	}

	var fatal error
	for _, e := range expired {
		exhausted := &ExhaustedError{Seq: e.Seq, Op: e.Op, Attempts: e.Attempts}
		if ClassOf(e.Op) == ClassCritical {
			t.logger.Error("Delivery exhausted", zap.Error(exhausted))
			if fatal == nil {
				fatal = exhausted
			}
			continue
		}
		t.logger.Warn("Dropping unacknowledged frame", zap.Error(exhausted))
	}
	return fatal
}

func (t *Table) nonCriticalLocked() int {
	n := 0
	for elem := t.order.Front(); elem != nil; elem = elem.Next() {
		if ClassOf(elem.Value.(*Entry).Op) != ClassCritical {
			n++
		}
	}
	return n
}

// evictOldestLocked removes the oldest non-critical entry.
func (t *Table) evictOldestLocked() bool {
	for elem := t.order.Front(); elem != nil; elem = elem.Next() {
		entry := elem.Value.(*Entry)
		if ClassOf(entry.Op) == ClassCritical {
			continue
		}
		t.order.Remove(elem)
		delete(t.entries, entry.Seq)
		t.logger.Debug("Pending table full, evicting oldest entry",
			zap.Uint32("seq", entry.Seq),
			zap.Stringer("opcode", entry.Op))
		return true
	}
	return false
}
