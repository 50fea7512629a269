package alert

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aDN03/CC/internal/models"
)

type memorySink struct {
	mu     sync.Mutex
	alerts []models.Alert
}

func (m *memorySink) AppendAlert(_ context.Context, a models.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, a)
	return nil
}

func (m *memorySink) snapshot() []models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Alert(nil), m.alerts...)
}

func startServer(t *testing.T, sink *memorySink) (*Server, context.CancelFunc, chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	s := NewServer("127.0.0.1:0", sink, zap.NewNop())
	require.NoError(t, s.Listen(ctx))

	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	return s, cancel, done
}

func TestPushAndServe(t *testing.T) {
	sink := &memorySink{}
	s, cancel, done := startServer(t, sink)

	c := NewClient(s.Addr().String(), 100, 10)
	require.NoError(t, c.Push(context.Background(), "ALERT!!!: CPU usage: 97.0%\n"))
	require.NoError(t, c.Push(context.Background(), "ALERT!!!: RAM usage: 93.0%"))

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	texts := []string{sink.snapshot()[0].Text, sink.snapshot()[1].Text}
	assert.ElementsMatch(t, []string{"ALERT!!!: CPU usage: 97.0%", "ALERT!!!: RAM usage: 93.0%"}, texts)
	assert.Equal(t, "127.0.0.1", sink.snapshot()[0].Peer)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop")
	}
}

func TestPush_RateLimited(t *testing.T) {
	sink := &memorySink{}
	s, cancel, _ := startServer(t, sink)
	defer cancel()

	c := NewClient(s.Addr().String(), 0.001, 2)
	require.NoError(t, c.Push(context.Background(), "a"))
	require.NoError(t, c.Push(context.Background(), "b"))
	assert.ErrorIs(t, c.Push(context.Background(), "c"), ErrRateLimited)
}

func TestPush_ControllerDown(t *testing.T) {
	s, cancel, done := startServer(t, &memorySink{})
	addr := s.Addr().String()
	cancel()
	<-done

	c := NewClient(addr, 10, 10)
	assert.Error(t, c.Push(context.Background(), "lost"))
}

func TestServe_IgnoresEmptyConnections(t *testing.T) {
	sink := &memorySink{}
	s, cancel, _ := startServer(t, sink)
	defer cancel()

	c := NewClient(s.Addr().String(), 10, 10)
	require.NoError(t, c.Push(context.Background(), "  \n"))
	require.NoError(t, c.Push(context.Background(), "real"))

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "real", sink.snapshot()[0].Text)
}
