package scheduler

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type workerSet struct {
	seq    uint32
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor owns the worker sets of one agent session. Sets are keyed by
// the task body they run, so re-sending the same task under a new dispatch
// replaces the old workers instead of doubling them.
type Supervisor struct {
	mu     sync.Mutex
	sets   map[string]*workerSet
	seen   map[uint32]struct{}
	logger *zap.Logger
}

// NewSupervisor creates a supervisor without running sets.
func NewSupervisor(logger *zap.Logger) *Supervisor {
	return &Supervisor{
		sets:   make(map[string]*workerSet),
		seen:   make(map[uint32]struct{}),
		logger: logger.Named("scheduler"),
	}
}

// Start runs jobs as the worker set of dispatch seq. key identifies the
// task body. It returns false without starting anything when seq was
// already started, which happens when a dispatch is re-delivered.
func (s *Supervisor) Start(ctx context.Context, seq uint32, key string, jobs []Job) bool {
	s.mu.Lock()
	if _, dup := s.seen[seq]; dup {
		s.mu.Unlock()
		return false
	}
	s.seen[seq] = struct{}{}
	old := s.sets[key]

	setCtx, cancel := context.WithCancel(ctx)
	set := &workerSet{seq: seq, cancel: cancel, done: make(chan struct{})}
	s.sets[key] = set
	s.mu.Unlock()

	if old != nil {
		s.logger.Info("Replacing worker set",
			zap.Uint32("old_seq", old.seq),
			zap.Uint32("new_seq", seq))
		old.cancel()
		<-old.done
	}

	g, gctx := errgroup.WithContext(setCtx)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			Loop(gctx, job)
			return nil
		})
	}
	go func() {
		g.Wait()
		close(set.done)
	}()

	s.logger.Info("Started worker set",
		zap.Uint32("seq", seq),
		zap.Int("jobs", len(jobs)))
	return true
}

// Running returns the number of live worker sets.
func (s *Supervisor) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sets)
}

// StopAll cancels every worker set and waits for its jobs to return.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	sets := s.sets
	s.sets = make(map[string]*workerSet)
	s.mu.Unlock()

	for _, set := range sets {
		set.cancel()
	}
	for _, set := range sets {
		<-set.done
	}
	if len(sets) > 0 {
		s.logger.Info("Stopped all worker sets", zap.Int("count", len(sets)))
	}
}
