// Package registry tracks the controller's view of connected agents and
// which task each outstanding dispatch belongs to.
package registry

import (
	"context"
	"errors"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aDN03/CC/internal/models"
)

// ErrPeerUnreachable is attached to the log line of a peer evicted for
// inactivity. It is never sent to the agent.
var ErrPeerUnreachable = errors.New("peer unreachable")

// Record is a connected peer. SessionID changes every time the peer
// performs a fresh connect or is re-created after eviction.
type Record struct {
	models.Connection
	SessionID uuid.UUID
}

// Key returns the registry key of the record, "ip:port".
func (r Record) Key() string {
	return net.JoinHostPort(r.IP, strconv.Itoa(r.Port))
}

// Persister stores the connection table. Membership changes are saved at
// once; last-active refreshes are batched until the next reaper sweep.
type Persister interface {
	SaveConnections(conns []models.Connection) error
}

// Connections is the controller's connection registry.
type Connections struct {
	mu      sync.Mutex
	peers   map[string]*Record
	limit   time.Duration
	persist Persister
	dirty   bool
	now     func() time.Time
	logger  *zap.Logger
}

// Option customizes Connections.
type Option func(*Connections)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Connections) { c.now = now }
}

// WithPersister saves the table through p.
func WithPersister(p Persister) Option {
	return func(c *Connections) { c.persist = p }
}

// NewConnections creates an empty registry that evicts peers idle for
// longer than limit.
func NewConnections(limit time.Duration, logger *zap.Logger, opts ...Option) *Connections {
	c := &Connections{
		peers:  make(map[string]*Record),
		limit:  limit,
		now:    time.Now,
		logger: logger.Named("registry"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Restore loads records persisted by a previous run. They keep their stored
// last-active time and age out normally.
func (c *Connections) Restore(conns []models.Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, conn := range conns {
		rec := &Record{Connection: conn, SessionID: uuid.New()}
		c.peers[rec.Key()] = rec
	}
	c.logger.Info("Restored connection table", zap.Int("count", len(conns)))
}

// Register handles a connect: the record is created or replaced with a new
// session. created reports whether the peer was unknown.
func (c *Connections) Register(addr *net.UDPAddr) (rec Record, created bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := addr.String()
	_, existed := c.peers[key]
	r := c.newRecordLocked(addr)
	c.peers[key] = r
	c.saveLocked()
	return *r, !existed
}

// Touch refreshes the peer's last-active time, re-creating the record if it
// was evicted. created reports whether a record had to be created.
func (c *Connections) Touch(addr *net.UDPAddr) (rec Record, created bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := addr.String()
	r, ok := c.peers[key]
	if !ok {
		r = c.newRecordLocked(addr)
		c.peers[key] = r
		c.logger.Info("Peer returned after eviction", zap.String("peer", key))
		c.saveLocked()
	} else {
		r.LastActive = c.now()
		c.dirty = true
	}
	return *r, !ok
}

// Refresh updates the last-active time of a known peer only.
func (c *Connections) Refresh(addr *net.UDPAddr) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.peers[addr.String()]
	if !ok {
		return false
	}
	r.LastActive = c.now()
	c.dirty = true
	return true
}

// Remove deletes the peer's record, returning whether it existed.
func (c *Connections) Remove(addr *net.UDPAddr) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := addr.String()
	if _, ok := c.peers[key]; !ok {
		return false
	}
	delete(c.peers, key)
	c.saveLocked()
	return true
}

// Get returns the record of a peer.
func (c *Connections) Get(addr *net.UDPAddr) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.peers[addr.String()]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Len returns the number of connected peers.
func (c *Connections) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.peers)
}

// Snapshot returns a copy of all records ordered by key.
func (c *Connections) Snapshot() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Reap removes every record idle for longer than the inactivity limit and
// returns the evicted records.
func (c *Connections) Reap() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var evicted []Record
	for key, r := range c.peers {
		idle := now.Sub(r.LastActive)
		if idle <= c.limit {
			continue
		}
		delete(c.peers, key)
		evicted = append(evicted, *r)
		c.logger.Info("Evicted inactive peer",
			zap.String("peer", key),
			zap.Duration("idle", idle),
			zap.Error(ErrPeerUnreachable))
	}
	if len(evicted) > 0 || c.dirty {
		c.saveLocked()
	}
	return evicted
}

// Flush saves refreshed last-active times that are not yet persisted.
func (c *Connections) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dirty {
		c.saveLocked()
	}
}

// RunReaper calls Reap every interval until ctx is done, then flushes.
func (c *Connections) RunReaper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.Flush()
			return nil
		case <-ticker.C:
			c.Reap()
		}
	}
}

func (c *Connections) newRecordLocked(addr *net.UDPAddr) *Record {
	return &Record{
		Connection: models.Connection{
			IP:         addr.IP.String(),
			Port:       addr.Port,
			LastActive: c.now(),
		},
		SessionID: uuid.New(),
	}
}

func (c *Connections) snapshotLocked() []Record {
	out := make([]Record, 0, len(c.peers))
	for _, r := range c.peers {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

func (c *Connections) saveLocked() {
	c.dirty = false
	if c.persist == nil {
		return
	}
	recs := c.snapshotLocked()
	conns := make([]models.Connection, len(recs))
	for i, r := range recs {
		conns[i] = r.Connection
	}
	if err := c.persist.SaveConnections(conns); err != nil {
		c.logger.Warn("Failed to persist connection table", zap.Error(err))
	}
}
