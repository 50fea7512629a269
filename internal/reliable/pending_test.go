package reliable

import (
	"errors"
	"net"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aDN03/CC/internal/protocol"
)

// fakeClock is advanced manually by tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var dest = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 65433}

func TestSequencer_ConcurrentMonotonic(t *testing.T) {
	var s Sequencer
	s.Next()
	s.Next()
	base := s.Last()

	const workers, perWorker = 16, 250
	ids := make(chan uint32, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				ids <- s.Next()
			}
		}()
	}
	wg.Wait()
	close(ids)

	got := make([]int, 0, workers*perWorker)
	for id := range ids {
		got = append(got, int(id))
	}
	sort.Ints(got)
	for i, id := range got {
		require.Equal(t, int(base)+i+1, id)
	}
}

func TestTable_TrackConcurrentIDsAreContiguous(t *testing.T) {
	table := NewTable(Policy{RetryTimeout: time.Second, MaxAttempts: 3}, zap.NewNop())

	const n = 200
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[uint32]bool)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seq, _, err := table.Track(protocol.OpReport, []byte("1€x"), dest)
			assert.NoError(t, err)
			mu.Lock()
			seen[seq] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, seen, n)
	for id := uint32(1); id <= n; id++ {
		assert.True(t, seen[id], "missing id %d", id)
	}
	assert.Equal(t, n, table.Len())
}

func TestTable_AckedOnLastAttempt(t *testing.T) {
	clock := newFakeClock()
	policy := Policy{RetryTimeout: 2 * time.Second, MaxAttempts: 5}
	table := NewTable(policy, zap.NewNop(), WithClock(clock.Now))

	seq, frame, err := table.Track(protocol.OpReport, []byte("1€x"), dest)
	require.NoError(t, err)

	transmissions := 1
	for transmissions < policy.MaxAttempts {
		clock.Advance(policy.RetryTimeout + time.Millisecond)
		resend, expired := table.Sweep()
		require.Empty(t, expired)
		require.Len(t, resend, 1)
		assert.Equal(t, frame, resend[0].Frame, "retransmission must repeat identical bytes")
		transmissions++
	}

	// Destination acknowledges the last copy.
	entry, ok := table.Ack(seq)
	require.True(t, ok)
	assert.Equal(t, policy.MaxAttempts, entry.Attempts)
	assert.Equal(t, 0, table.Len())
}

func TestTable_ExpiresAfterMaxAttempts(t *testing.T) {
	clock := newFakeClock()
	policy := Policy{RetryTimeout: 2 * time.Second, MaxAttempts: 3}
	table := NewTable(policy, zap.NewNop(), WithClock(clock.Now))

	_, _, err := table.Track(protocol.OpTask, taskBlock(t), dest)
	require.NoError(t, err)

	// Sweeps before the timeout do nothing.
	clock.Advance(time.Second)
	resend, expired := table.Sweep()
	assert.Empty(t, resend)
	assert.Empty(t, expired)

	transmissions := 1
	var expiredEntries []Entry
	for i := 0; i < 10 && expiredEntries == nil; i++ {
		clock.Advance(policy.RetryTimeout + time.Millisecond)
		resend, expired := table.Sweep()
		transmissions += len(resend)
		expiredEntries = expired
	}

	require.Len(t, expiredEntries, 1)
	assert.Equal(t, policy.MaxAttempts, transmissions)
	assert.Equal(t, policy.MaxAttempts, expiredEntries[0].Attempts)
	assert.Equal(t, 0, table.Len())
}

func TestTable_UnknownAckIsNoop(t *testing.T) {
	table := NewTable(Policy{RetryTimeout: time.Second, MaxAttempts: 3}, zap.NewNop())
	seq, _, err := table.Track(protocol.OpReport, []byte("1€x"), dest)
	require.NoError(t, err)

	_, ok := table.Ack(seq + 100)
	assert.False(t, ok)
	assert.Equal(t, 1, table.Len())
	assert.True(t, table.Pending(seq))

	_, ok = table.Ack(seq)
	assert.True(t, ok)
	_, ok = table.Ack(seq)
	assert.False(t, ok, "second ack for the same id is ignored")
	assert.Equal(t, 0, table.Len())
}

func TestTable_CapEvictsOldestNonCritical(t *testing.T) {
	table := NewTable(Policy{RetryTimeout: time.Second, MaxAttempts: 3, MaxPending: 3}, zap.NewNop())

	connect, _, err := table.Track(protocol.OpConnect, nil, dest)
	require.NoError(t, err)

	var keepalives []uint32
	for i := 0; i < 5; i++ {
		seq, _, err := table.Track(protocol.OpKeepAlive, nil, dest)
		require.NoError(t, err)
		keepalives = append(keepalives, seq)
	}

	assert.Equal(t, 4, table.Len())
	assert.True(t, table.Pending(connect), "critical entries are never evicted")
	assert.False(t, table.Pending(keepalives[0]))
	assert.False(t, table.Pending(keepalives[1]))
	for _, seq := range keepalives[2:] {
		assert.True(t, table.Pending(seq))
	}
}

func TestTable_SweepOnceCriticalIsFatal(t *testing.T) {
	clock := newFakeClock()
	policy := Policy{RetryTimeout: time.Second, MaxAttempts: 2}
	table := NewTable(policy, zap.NewNop(), WithClock(clock.Now))

	seq, _, err := table.Track(protocol.OpConnect, nil, dest)
	require.NoError(t, err)
	_, _, err = table.Track(protocol.OpReport, []byte("1€x"), dest)
	require.NoError(t, err)

	var sent int
	xmit := func(frame []byte, to net.Addr) error {
		sent++
		return nil
	}

	clock.Advance(2 * time.Second)
	require.NoError(t, table.SweepOnce(xmit))
	assert.Equal(t, 2, sent)

	clock.Advance(2 * time.Second)
	err = table.SweepOnce(xmit)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDeliveryExhausted))

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, seq, exhausted.Seq)
	assert.Equal(t, protocol.OpConnect, exhausted.Op)
	assert.Equal(t, 0, table.Len())
}

func TestTable_SweepOnceStandardIsNotFatal(t *testing.T) {
	clock := newFakeClock()
	table := NewTable(Policy{RetryTimeout: time.Second, MaxAttempts: 1}, zap.NewNop(), WithClock(clock.Now))

	_, _, err := table.Track(protocol.OpKeepAlive, nil, dest)
	require.NoError(t, err)

	clock.Advance(2 * time.Second)
	assert.NoError(t, table.SweepOnce(func([]byte, net.Addr) error { return nil }))
	assert.Equal(t, 0, table.Len())
}

func TestClassOf(t *testing.T) {
	assert.Equal(t, ClassCritical, ClassOf(protocol.OpConnect))
	assert.Equal(t, ClassCritical, ClassOf(protocol.OpTeardown))
	assert.Equal(t, ClassVolatile, ClassOf(protocol.OpKeepAlive))
	assert.Equal(t, ClassStandard, ClassOf(protocol.OpReport))
	assert.Equal(t, ClassStandard, ClassOf(protocol.OpTask))
}

func taskBlock(t *testing.T) []byte {
	t.Helper()
	// frequency, cpu, ram, empty interface list, packets, loss, jitter, four empty configs
	return make([]byte, 4*3+4+4*3+4*4)
}
