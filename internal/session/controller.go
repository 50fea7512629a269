package session

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aDN03/CC/internal/alert"
	"github.com/aDN03/CC/internal/models"
	"github.com/aDN03/CC/internal/protocol"
	"github.com/aDN03/CC/internal/registry"
	"github.com/aDN03/CC/internal/reliable"
	"github.com/aDN03/CC/internal/store"
	"github.com/aDN03/CC/internal/tasks"
	"github.com/aDN03/CC/internal/transport"
)

// ControllerConfig holds the controller's protocol timings.
type ControllerConfig struct {
	Policy        reliable.Policy
	SweepInterval time.Duration
	CheckInterval time.Duration
}

// ControllerDeps are the collaborators a controller files state into.
type ControllerDeps struct {
	Catalog     *tasks.Catalog
	Connections *registry.Connections
	Bindings    *registry.Bindings
	Reports     store.ReportSink
	// Alerts is optional; when set it is served alongside the session.
	Alerts *alert.Server
}

// Controller is the controller side of every agent session.
type Controller struct {
	cfg      ControllerConfig
	ep       *transport.Endpoint
	table    *reliable.Table
	catalog  *tasks.Catalog
	conns    *registry.Connections
	bindings *registry.Bindings
	reports  store.ReportSink
	alerts   *alert.Server
	now      func() time.Time
	logger   *zap.Logger
}

// NewController creates a controller serving agents on ep.
func NewController(cfg ControllerConfig, ep *transport.Endpoint, deps ControllerDeps, logger *zap.Logger) *Controller {
	logger = logger.Named("controller")
	return &Controller{
		cfg:      cfg,
		ep:       ep,
		table:    reliable.NewTable(cfg.Policy, logger),
		catalog:  deps.Catalog,
		conns:    deps.Connections,
		bindings: deps.Bindings,
		reports:  deps.Reports,
		alerts:   deps.Alerts,
		now:      time.Now,
		logger:   logger,
	}
}

// Pending returns the number of dispatches awaiting acknowledgment.
func (c *Controller) Pending() int {
	return c.table.Len()
}

// Run serves until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.receiveLoop(gctx) })
	g.Go(func() error { return c.table.Run(gctx, c.cfg.SweepInterval, c.ep.Send) })
	g.Go(func() error { return c.conns.RunReaper(gctx, c.cfg.CheckInterval) })
	if c.alerts != nil {
		g.Go(func() error { return c.alerts.Serve(gctx) })
	}

	c.logger.Info("Controller serving", zap.Stringer("addr", c.ep.LocalAddr()))
	return g.Wait()
}

func (c *Controller) receiveLoop(ctx context.Context) error {
	for {
		d, err := c.ep.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}
		c.handle(ctx, d)
	}
}

func (c *Controller) handle(ctx context.Context, d transport.Datagram) {
	msg, err := protocol.Decode(d.Frame)
	if err != nil {
		c.logger.Warn("Dropping malformed frame", zap.Stringer("peer", d.From), zap.Error(err))
		return
	}
	peer := d.From

	switch msg.Op {
	case protocol.OpAck, protocol.OpAckMessage:
		if entry, ok := c.table.Ack(msg.Seq); ok {
			c.logger.Debug("Frame acknowledged",
				zap.Stringer("peer", peer),
				zap.Stringer("opcode", entry.Op),
				zap.Uint32("seq", msg.Seq))
		}
		c.conns.Refresh(peer)

	case protocol.OpConnect:
		rec, created := c.conns.Register(peer)
		c.logger.Info("Agent connected",
			zap.Stringer("peer", peer),
			zap.Bool("new", created),
			zap.Stringer("session", rec.SessionID))
		reply(c.ep, c.logger, peer, msg.Seq, protocol.OpAckMessage, replyConnected)
		c.dispatch(peer)

	case protocol.OpKeepAlive, protocol.OpKeepAliveTemplate:
		c.conns.Touch(peer)
		reply(c.ep, c.logger, peer, msg.Seq, protocol.OpAckMessage, replyKeepAlive)

	case protocol.OpReport:
		c.handleReport(ctx, peer, msg)

	case protocol.OpTeardown:
		if c.conns.Remove(peer) {
			c.logger.Info("Agent disconnected", zap.Stringer("peer", peer))
		}
		reply(c.ep, c.logger, peer, msg.Seq, protocol.OpAckMessage, replyClosed)

	case protocol.OpFinalTeardown:
		c.conns.Remove(peer)
		reply(c.ep, c.logger, peer, msg.Seq, protocol.OpAck, "")

	default:
		c.logger.Warn("Unexpected opcode from agent",
			zap.Stringer("peer", peer),
			zap.Stringer("opcode", msg.Op))
		reply(c.ep, c.logger, peer, msg.Seq, protocol.OpAck, "")
	}
}

// dispatch pushes every task of the peer's device. Each dispatch is bound
// to its sequence id before it leaves so reports can never race the binding.
func (c *Controller) dispatch(peer *net.UDPAddr) {
	assignments := c.catalog.ForPeer(peer.IP.String())
	if len(assignments) == 0 {
		c.logger.Info("No tasks for agent", zap.Stringer("peer", peer))
		return
	}

	for _, as := range assignments {
		body, err := protocol.EncodeTask(as.Task)
		if err != nil {
			c.logger.Error("Failed to encode task", zap.String("task_id", as.TaskID), zap.Error(err))
			continue
		}
		seq, frame, err := c.table.Track(protocol.OpTask, body, peer)
		if err != nil {
			c.logger.Error("Failed to track task", zap.String("task_id", as.TaskID), zap.Error(err))
			continue
		}
		c.bindings.Bind(seq, as.TaskID, peer.IP.String())
		if err := c.ep.Send(frame, peer); err != nil {
			c.logger.Warn("Send failed, will retry", zap.Uint32("seq", seq), zap.Error(err))
		}
		c.logger.Info("Task dispatched",
			zap.Stringer("peer", peer),
			zap.String("task_id", as.TaskID),
			zap.Uint32("seq", seq))
	}
}

func (c *Controller) handleReport(ctx context.Context, peer *net.UDPAddr, msg protocol.Message) {
	corr, text, err := protocol.DecodeReport(msg.Data)
	if err != nil {
		c.logger.Warn("Dropping malformed report", zap.Stringer("peer", peer), zap.Error(err))
		return
	}
	reply(c.ep, c.logger, peer, msg.Seq, protocol.OpAck, "")
	c.conns.Touch(peer)

	binding, ok := c.bindings.Lookup(corr)
	if !ok {
		c.logger.Warn("Report for unknown dispatch",
			zap.Stringer("peer", peer),
			zap.Uint32("correlation", corr))
		return
	}
	if binding.Peer != peer.IP.String() {
		c.logger.Warn("Report quotes a dispatch sent to another peer",
			zap.Stringer("peer", peer),
			zap.String("bound_peer", binding.Peer),
			zap.String("task_id", binding.TaskID),
			zap.Uint32("correlation", corr))
		return
	}

	r := models.Report{TaskID: binding.TaskID, Peer: peer.IP.String(), Text: text, Received: c.now()}
	if err := c.reports.AppendReport(ctx, r); err != nil {
		c.logger.Error("Failed to file report",
			zap.String("task_id", binding.TaskID),
			zap.Error(err))
	}
}
