package registry

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aDN03/CC/internal/models"
)

type recordingPersister struct {
	mu    sync.Mutex
	saves [][]models.Connection
}

func (p *recordingPersister) SaveConnections(conns []models.Connection) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saves = append(p.saves, conns)
	return nil
}

func (p *recordingPersister) last() []models.Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.saves) == 0 {
		return nil
	}
	return p.saves[len(p.saves)-1]
}

func addr(ip string, port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(ip), Port: port}
}

func newTestRegistry(limit time.Duration) (*Connections, *time.Time, *recordingPersister) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p := &recordingPersister{}
	c := NewConnections(limit, zap.NewNop(),
		WithClock(func() time.Time { return now }),
		WithPersister(p))
	return c, &now, p
}

func TestConnections_RegisterAndRefresh(t *testing.T) {
	c, now, p := newTestRegistry(15 * time.Second)
	peer := addr("10.0.0.2", 40000)

	rec, created := c.Register(peer)
	assert.True(t, created)
	assert.Equal(t, "10.0.0.2", rec.IP)
	assert.Equal(t, 40000, rec.Port)
	assert.Equal(t, "10.0.0.2:40000", rec.Key())

	*now = now.Add(3 * time.Second)
	require.True(t, c.Refresh(peer))
	got, ok := c.Get(peer)
	require.True(t, ok)
	assert.Equal(t, *now, got.LastActive)
	assert.Equal(t, rec.SessionID, got.SessionID)

	again, created := c.Register(peer)
	assert.False(t, created)
	assert.NotEqual(t, rec.SessionID, again.SessionID)

	require.Len(t, p.last(), 1)
	assert.Equal(t, "10.0.0.2", p.last()[0].IP)
}

func TestConnections_RefreshUnknownPeer(t *testing.T) {
	c, _, _ := newTestRegistry(15 * time.Second)
	assert.False(t, c.Refresh(addr("10.0.0.9", 1)))
	assert.Equal(t, 0, c.Len())
}

func TestConnections_ReapEvictsOnlyIdlePeers(t *testing.T) {
	c, now, p := newTestRegistry(15 * time.Second)
	stale := addr("10.0.0.2", 1000)
	fresh := addr("10.0.0.3", 1000)

	c.Register(stale)
	c.Register(fresh)

	*now = now.Add(10 * time.Second)
	c.Refresh(fresh)

	*now = now.Add(6 * time.Second)
	evicted := c.Reap()
	require.Len(t, evicted, 1)
	assert.Equal(t, "10.0.0.2", evicted[0].IP)

	_, ok := c.Get(stale)
	assert.False(t, ok)
	_, ok = c.Get(fresh)
	assert.True(t, ok)
	require.Len(t, p.last(), 1)
	assert.Equal(t, "10.0.0.3", p.last()[0].IP)
}

func TestConnections_ReapKeepsPeerAtLimit(t *testing.T) {
	c, now, _ := newTestRegistry(15 * time.Second)
	c.Register(addr("10.0.0.2", 1000))

	*now = now.Add(15 * time.Second)
	assert.Empty(t, c.Reap())
	assert.Equal(t, 1, c.Len())
}

func TestConnections_TouchRecreatesEvictedPeer(t *testing.T) {
	c, now, _ := newTestRegistry(15 * time.Second)
	peer := addr("10.0.0.2", 1000)
	first, _ := c.Register(peer)

	*now = now.Add(time.Minute)
	require.Len(t, c.Reap(), 1)

	rec, created := c.Touch(peer)
	assert.True(t, created)
	assert.NotEqual(t, first.SessionID, rec.SessionID)
	assert.Equal(t, *now, rec.LastActive)

	*now = now.Add(time.Second)
	rec, created = c.Touch(peer)
	assert.False(t, created)
	assert.Equal(t, *now, rec.LastActive)
}

func TestConnections_RefreshPersistsOnSweep(t *testing.T) {
	c, now, p := newTestRegistry(15 * time.Second)
	peer := addr("10.0.0.2", 1000)
	c.Register(peer)
	require.Len(t, p.saves, 1)

	for i := 0; i < 5; i++ {
		*now = now.Add(time.Second)
		require.True(t, c.Refresh(peer))
		c.Touch(peer)
	}
	assert.Len(t, p.saves, 1, "refreshes must not rewrite the table")

	assert.Empty(t, c.Reap())
	require.Len(t, p.saves, 2)
	assert.Equal(t, *now, p.last()[0].LastActive)

	assert.Empty(t, c.Reap())
	c.Flush()
	assert.Len(t, p.saves, 2)

	*now = now.Add(time.Second)
	c.Refresh(peer)
	c.Flush()
	require.Len(t, p.saves, 3)
	assert.Equal(t, *now, p.last()[0].LastActive)
}

func TestConnections_RunReaperFlushesOnStop(t *testing.T) {
	c, now, p := newTestRegistry(15 * time.Second)
	peer := addr("10.0.0.2", 1000)
	c.Register(peer)
	*now = now.Add(time.Second)
	c.Refresh(peer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, c.RunReaper(ctx, time.Hour))
	require.Len(t, p.saves, 2)
	assert.Equal(t, *now, p.last()[0].LastActive)
}

func TestConnections_Remove(t *testing.T) {
	c, _, p := newTestRegistry(15 * time.Second)
	peer := addr("10.0.0.2", 1000)
	c.Register(peer)

	assert.True(t, c.Remove(peer))
	assert.False(t, c.Remove(peer))
	assert.Empty(t, p.last())
}

func TestConnections_RestoreAgesOut(t *testing.T) {
	c, now, _ := newTestRegistry(15 * time.Second)
	c.Restore([]models.Connection{
		{IP: "10.0.0.5", Port: 7, LastActive: now.Add(-20 * time.Second)},
		{IP: "10.0.0.4", Port: 7, LastActive: *now},
	})

	snap := c.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "10.0.0.4", snap[0].IP)

	evicted := c.Reap()
	require.Len(t, evicted, 1)
	assert.Equal(t, "10.0.0.5", evicted[0].IP)
}

func TestBindings(t *testing.T) {
	b := NewBindings()
	b.Bind(3, "task-a", "10.0.0.2")
	b.Bind(4, "task-b", "10.0.0.2")

	got, ok := b.Lookup(4)
	require.True(t, ok)
	assert.Equal(t, Binding{TaskID: "task-b", Peer: "10.0.0.2"}, got)

	got, ok = b.Lookup(3)
	require.True(t, ok)
	assert.Equal(t, "task-a", got.TaskID)

	_, ok = b.Lookup(5)
	assert.False(t, ok)
	assert.Equal(t, 2, b.Len())
}
