package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aDN03/CC/internal/protocol"
	"github.com/aDN03/CC/internal/reliable"
	"github.com/aDN03/CC/internal/scheduler"
	"github.com/aDN03/CC/internal/transport"
)

// AgentConfig holds the agent's protocol timings.
type AgentConfig struct {
	Server            *net.UDPAddr
	Policy            reliable.Policy
	SweepInterval     time.Duration
	KeepAliveInterval time.Duration
	TeardownWait      time.Duration
}

// Agent is the agent side of a session.
type Agent struct {
	cfg     AgentConfig
	ep      *transport.Endpoint
	table   *reliable.Table
	workers *scheduler.Supervisor
	drivers scheduler.Drivers

	state        atomic.Int32
	lastExchange atomic.Int64
	connectSeq   atomic.Uint32
	teardownSeq  atomic.Uint32

	establishOnce sync.Once
	established   chan struct{}
	teardownAcked chan struct{}
	teardownOnce  sync.Once

	workCtx context.Context
	logger  *zap.Logger
}

// NewAgent creates an agent that talks to cfg.Server through ep.
func NewAgent(cfg AgentConfig, ep *transport.Endpoint, drivers scheduler.Drivers, logger *zap.Logger) *Agent {
	logger = logger.Named("agent")
	return &Agent{
		cfg:           cfg,
		ep:            ep,
		table:         reliable.NewTable(cfg.Policy, logger),
		workers:       scheduler.NewSupervisor(logger),
		drivers:       drivers,
		established:   make(chan struct{}),
		teardownAcked: make(chan struct{}),
		logger:        logger,
	}
}

// State returns the current session state.
func (a *Agent) State() State {
	return State(a.state.Load())
}

// Established is closed once the controller acknowledged the connect.
func (a *Agent) Established() <-chan struct{} {
	return a.established
}

func (a *Agent) setState(s State) {
	if old := State(a.state.Swap(int32(s))); old != s {
		a.logger.Info("Session state changed",
			zap.Stringer("from", old),
			zap.Stringer("to", s))
	}
}

// Run connects to the controller and serves the session until ctx is
// cancelled, then tears it down. It returns an error wrapping
// reliable.ErrDeliveryExhausted when the controller cannot be reached.
func (a *Agent) Run(ctx context.Context) error {
	loopCtx, stop := context.WithCancel(context.Background())
	defer stop()
	g, gctx := errgroup.WithContext(loopCtx)
	a.workCtx = gctx

	a.setState(StateHandshake)
	seq, err := a.send(protocol.OpConnect, nil)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	a.connectSeq.Store(seq)

	g.Go(func() error { return a.receiveLoop(gctx) })
	g.Go(func() error { return a.table.Run(gctx, a.cfg.SweepInterval, a.ep.Send) })
	g.Go(func() error { return a.keepAliveLoop(gctx) })
	g.Go(func() error {
		select {
		case <-ctx.Done():
			a.teardown(gctx)
			stop()
		case <-gctx.Done():
		}
		return nil
	})

	err = g.Wait()
	a.workers.StopAll()
	a.setState(StateClosed)

	var exhausted *reliable.ExhaustedError
	if errors.As(err, &exhausted) {
		return fmt.Errorf("controller %s unreachable: %w", a.cfg.Server, err)
	}
	return err
}

// teardown sends a teardown request, waits a bounded time for its
// acknowledgment and sends the final notice.
func (a *Agent) teardown(ctx context.Context) {
	a.setState(StateTeardown)
	seq, err := a.send(protocol.OpTeardown, nil)
	if err != nil {
		a.logger.Error("Failed to send teardown", zap.Error(err))
		return
	}
	a.teardownSeq.Store(seq)

	timer := time.NewTimer(a.cfg.TeardownWait)
	defer timer.Stop()
	select {
	case <-a.teardownAcked:
		a.logger.Info("Controller acknowledged teardown")
	case <-timer.C:
		a.logger.Warn("No teardown acknowledgment, closing anyway")
	case <-ctx.Done():
		return
	}

	frame, err := protocol.Encode(a.table.NextSeq(), protocol.OpFinalTeardown, nil)
	if err == nil {
		err = a.ep.Send(frame, a.cfg.Server)
	}
	if err != nil {
		a.logger.Warn("Failed to send final teardown notice", zap.Error(err))
	}
}

// Report queues a report for the task dispatched with sequence id corr.
// Reports produced outside an established session are dropped.
func (a *Agent) Report(corr uint32, text string) {
	if a.State() != StateEstablished {
		a.logger.Debug("Dropping report outside established session", zap.Uint32("correlation", corr))
		return
	}
	if _, err := a.send(protocol.OpReport, protocol.EncodeReport(corr, text)); err != nil {
		a.logger.Warn("Failed to send report", zap.Uint32("correlation", corr), zap.Error(err))
	}
}

// send tracks and transmits a frame. A failed write is left to the
// retransmission sweep.
func (a *Agent) send(op protocol.Opcode, data []byte) (uint32, error) {
	seq, frame, err := a.table.Track(op, data, a.cfg.Server)
	if err != nil {
		return 0, err
	}
	if err := a.ep.Send(frame, a.cfg.Server); err != nil {
		a.logger.Warn("Send failed, will retry", zap.Stringer("opcode", op), zap.Uint32("seq", seq), zap.Error(err))
	}
	return seq, nil
}

func (a *Agent) receiveLoop(ctx context.Context) error {
	for {
		d, err := a.ep.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}
		a.handle(d)
	}
}

func (a *Agent) keepAliveLoop(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.KeepAliveInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if a.State() != StateEstablished {
				continue
			}
			idle := time.Since(time.Unix(0, a.lastExchange.Load()))
			if idle < a.cfg.KeepAliveInterval {
				continue
			}
			if _, err := a.send(protocol.OpKeepAlive, nil); err != nil {
				a.logger.Warn("Failed to send keep-alive", zap.Error(err))
			}
		}
	}
}

func (a *Agent) fromServer(from *net.UDPAddr) bool {
	return from.Port == a.cfg.Server.Port && from.IP.Equal(a.cfg.Server.IP)
}

func (a *Agent) establish() {
	a.establishOnce.Do(func() {
		a.setState(StateEstablished)
		close(a.established)
	})
}

func (a *Agent) handle(d transport.Datagram) {
	if !a.fromServer(d.From) {
		a.logger.Warn("Ignoring datagram from unknown peer", zap.Stringer("peer", d.From))
		return
	}
	msg, err := protocol.Decode(d.Frame)
	if err != nil {
		a.logger.Warn("Dropping malformed frame", zap.Stringer("peer", d.From), zap.Error(err))
		return
	}
	a.lastExchange.Store(time.Now().UnixNano())

	switch {
	case msg.Op.IsAck():
		a.handleAck(msg)
	case msg.Op == protocol.OpTask:
		a.handleTask(msg)
	default:
		a.logger.Debug("Unexpected opcode from controller", zap.Stringer("opcode", msg.Op))
		reply(a.ep, a.logger, a.cfg.Server, msg.Seq, protocol.OpAck, "")
	}
}

func (a *Agent) handleAck(msg protocol.Message) {
	entry, ok := a.table.Ack(msg.Seq)
	if !ok {
		a.logger.Debug("Acknowledgment for unknown frame", zap.Uint32("seq", msg.Seq))
		return
	}
	switch entry.Op {
	case protocol.OpConnect:
		a.logger.Info("Connected to controller",
			zap.Stringer("server", a.cfg.Server),
			zap.ByteString("reply", msg.Data))
		a.establish()
	case protocol.OpTeardown:
		a.teardownOnce.Do(func() { close(a.teardownAcked) })
	}
}

func (a *Agent) handleTask(msg protocol.Message) {
	task, err := protocol.DecodeTask(msg.Data)
	if err != nil {
		a.logger.Warn("Dropping undecodable task", zap.Uint32("seq", msg.Seq), zap.Error(err))
		return
	}
	reply(a.ep, a.logger, a.cfg.Server, msg.Seq, protocol.OpAck, "")

	// A task proves the controller registered us even if its reply was lost.
	if a.State() == StateHandshake {
		a.table.Ack(a.connectSeq.Load())
		a.establish()
	}
	if a.State() != StateEstablished {
		return
	}

	corr := msg.Seq
	jobs := scheduler.TaskJobs(task, a.drivers, func(text string) { a.Report(corr, text) }, a.logger.With(zap.Uint32("task_seq", corr)))
	if !a.workers.Start(a.workCtx, corr, string(msg.Data), jobs) {
		a.logger.Debug("Duplicate task dispatch acknowledged", zap.Uint32("seq", corr))
	}
}
