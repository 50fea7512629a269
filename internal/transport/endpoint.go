// Package transport carries protocol frames over UDP. It bounds every
// socket read so callers can observe cancellation, and reassembles frames
// that arrive split across several datagrams.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
)

// maxDatagram is the largest UDP payload over IPv4.
const maxDatagram = 65507

// Datagram is one reassembled frame and the peer that sent it.
type Datagram struct {
	Frame []byte
	From  *net.UDPAddr
}

// Endpoint is a UDP socket speaking the frame protocol. Send may be called
// concurrently; Receive must only be called from a single receive loop.
type Endpoint struct {
	conn   *net.UDPConn
	poll   time.Duration
	asm    *Reassembler
	queue  []Datagram
	buf    []byte
	logger *zap.Logger
}

// Listen binds a UDP endpoint on addr. Receive waits at most poll per read
// before re-checking its context.
func Listen(ctx context.Context, addr string, poll time.Duration, logger *zap.Logger) (*Endpoint, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}
	pc, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", addr, err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("listen udp %s: unexpected connection type %T", addr, pc)
	}
	return newEndpoint(conn, poll, logger), nil
}

func newEndpoint(conn *net.UDPConn, poll time.Duration, logger *zap.Logger) *Endpoint {
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	return &Endpoint{
		conn:   conn,
		poll:   poll,
		asm:    NewReassembler(maxDatagram, 4*poll),
		buf:    make([]byte, maxDatagram),
		logger: logger.Named("transport"),
	}
}

// LocalAddr returns the bound address.
func (e *Endpoint) LocalAddr() *net.UDPAddr {
	return e.conn.LocalAddr().(*net.UDPAddr)
}

// Send writes one frame to dest.
func (e *Endpoint) Send(frame []byte, dest net.Addr) error {
	if _, err := e.conn.WriteTo(frame, dest); err != nil {
		return fmt.Errorf("send to %s: %w", dest, err)
	}
	return nil
}

// Receive returns the next complete frame. It returns ctx.Err() once ctx is
// done and net.ErrClosed after Close.
func (e *Endpoint) Receive(ctx context.Context) (Datagram, error) {
	for {
		if len(e.queue) > 0 {
			d := e.queue[0]
			e.queue = e.queue[1:]
			return d, nil
		}
		if err := ctx.Err(); err != nil {
			return Datagram{}, err
		}

		if dropped := e.asm.Expire(); dropped > 0 {
			e.logger.Debug("Dropped stale partial frames", zap.Int("count", dropped))
		}

		if err := e.conn.SetReadDeadline(time.Now().Add(e.poll)); err != nil {
			return Datagram{}, fmt.Errorf("set read deadline: %w", err)
		}
		n, from, err := e.conn.ReadFromUDP(e.buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return Datagram{}, err
			}
			return Datagram{}, fmt.Errorf("read: %w", err)
		}

		frames, err := e.asm.Feed(from.String(), e.buf[:n])
		switch {
		case errors.Is(err, ErrPartialDiscarded):
			e.logger.Debug("Discarded partial frame",
				zap.Stringer("peer", from),
				zap.Error(err))
		case err != nil:
			e.logger.Warn("Discarding unframeable bytes",
				zap.Stringer("peer", from),
				zap.Error(err))
		}
		for _, f := range frames {
			e.queue = append(e.queue, Datagram{Frame: f, From: from})
		}
	}
}

// Close releases the socket and unblocks Receive.
func (e *Endpoint) Close() error {
	return e.conn.Close()
}
