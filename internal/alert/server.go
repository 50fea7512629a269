package alert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aDN03/CC/internal/models"
	"github.com/aDN03/CC/internal/store"
)

const (
	maxAlertBytes = 64 << 10
	readTimeout   = 10 * time.Second
)

// Server accepts alert connections and files each one through an
// AlertSink.
type Server struct {
	addr   string
	sink   store.AlertSink
	ln     net.Listener
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewServer creates a server for addr. Call Listen before Serve.
func NewServer(addr string, sink store.AlertSink, logger *zap.Logger) *Server {
	return &Server{addr: addr, sink: sink, logger: logger.Named("alert")}
}

// Listen binds the TCP listener.
func (s *Server) Listen(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen tcp %s: %w", s.addr, err)
	}
	s.ln = ln
	return nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Serve accepts connections until ctx is done, then waits for in-flight
// alerts to be filed.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()
	defer s.wg.Wait()

	s.logger.Info("Alert channel listening", zap.Stringer("addr", s.ln.Addr()))
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("Accept failed", zap.Error(err))
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(readTimeout))

	peer := conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}

	data, err := io.ReadAll(io.LimitReader(conn, maxAlertBytes))
	if err != nil {
		s.logger.Warn("Failed to read alert", zap.String("peer", peer), zap.Error(err))
		return
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return
	}

	s.logger.Info("Alert received", zap.String("peer", peer), zap.String("text", text))
	if err := s.sink.AppendAlert(ctx, models.Alert{Peer: peer, Text: text, Received: time.Now()}); err != nil {
		s.logger.Error("Failed to file alert", zap.String("peer", peer), zap.Error(err))
	}
}
