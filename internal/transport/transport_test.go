package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aDN03/CC/internal/models"
	"github.com/aDN03/CC/internal/protocol"
)

func mustEncode(t *testing.T, seq uint32, op protocol.Opcode, data []byte) []byte {
	t.Helper()
	frame, err := protocol.Encode(seq, op, data)
	require.NoError(t, err)
	return frame
}

func TestReassembler_SplitFrame(t *testing.T) {
	r := NewReassembler(maxDatagram, time.Second)
	frame := mustEncode(t, 9, protocol.OpReport, protocol.EncodeReport(3, "Latência média para 10.0.0.1: 1.00 ms"))

	frames, err := r.Feed("peer", frame[:7])
	require.NoError(t, err)
	assert.Empty(t, frames)
	assert.Equal(t, 1, r.Pending())

	frames, err = r.Feed("peer", frame[7:])
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, frame, frames[0])
	assert.Equal(t, 0, r.Pending())
}

func TestReassembler_SplitTaskFrame(t *testing.T) {
	r := NewReassembler(maxDatagram, time.Second)
	body, err := protocol.EncodeTask(models.Task{Frequency: 5, Interfaces: []string{"eth0"}, Latency: "10.0.0.1:4:5"})
	require.NoError(t, err)
	frame := mustEncode(t, 2, protocol.OpTask, body)

	for i := 0; i < len(frame)-1; i++ {
		frames, err := r.Feed("peer", frame[i:i+1])
		require.NoError(t, err)
		require.Empty(t, frames, "frame completed early at byte %d", i)
	}
	frames, err := r.Feed("peer", frame[len(frame)-1:])
	require.NoError(t, err)
	require.Len(t, frames, 1)

	msg, err := protocol.Decode(frames[0])
	require.NoError(t, err)
	assert.Equal(t, protocol.OpTask, msg.Op)
}

func TestReassembler_SeveralFramesInOneDatagram(t *testing.T) {
	r := NewReassembler(maxDatagram, time.Second)
	a := mustEncode(t, 1, protocol.OpAck, nil)
	b := mustEncode(t, 2, protocol.OpKeepAlive, nil)

	frames, err := r.Feed("peer", append(append([]byte{}, a...), b...))
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, a, frames[0])
	assert.Equal(t, b, frames[1])
}

func TestReassembler_PeersAreIndependent(t *testing.T) {
	r := NewReassembler(maxDatagram, time.Second)
	frame := mustEncode(t, 1, protocol.OpConnect, nil)

	_, err := r.Feed("a", frame[:3])
	require.NoError(t, err)
	frames, err := r.Feed("b", frame)
	require.NoError(t, err)
	assert.Len(t, frames, 1)
	assert.Equal(t, 1, r.Pending())
}

func TestReassembler_UnknownOpcodeDiscardsBuffer(t *testing.T) {
	r := NewReassembler(maxDatagram, time.Second)
	good := mustEncode(t, 1, protocol.OpAck, nil)
	bad := []byte{0, 0, 0, 1, 0x42, 0}

	frames, err := r.Feed("peer", append(append([]byte{}, good...), bad...))
	require.ErrorIs(t, err, protocol.ErrMalformedMessage)
	assert.Len(t, frames, 1)
	assert.Equal(t, 0, r.Pending())
}

func TestReassembler_Overflow(t *testing.T) {
	r := NewReassembler(16, time.Second)
	partialFrame := append([]byte{0, 0, 0, 1, byte(protocol.OpReport)}, make([]byte, 20)...)
	for i := protocol.HeaderLen; i < len(partialFrame); i++ {
		partialFrame[i] = 'x'
	}

	_, err := r.Feed("peer", partialFrame)
	require.ErrorIs(t, err, ErrFrameTooLarge)
	assert.Equal(t, 0, r.Pending())
}

func TestReassembler_Expire(t *testing.T) {
	now := time.Unix(1000, 0)
	r := NewReassembler(maxDatagram, time.Second)
	r.now = func() time.Time { return now }

	_, err := r.Feed("peer", []byte{0, 0, 0, 1})
	require.NoError(t, err)

	now = now.Add(500 * time.Millisecond)
	assert.Equal(t, 0, r.Expire())

	now = now.Add(time.Second)
	assert.Equal(t, 1, r.Expire())
	assert.Equal(t, 0, r.Pending())
}

func TestReassembler_StalePartialNotPrefixed(t *testing.T) {
	now := time.Unix(1000, 0)
	r := NewReassembler(maxDatagram, time.Second)
	r.now = func() time.Time { return now }

	_, err := r.Feed("peer", []byte("abc"))
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	frame := mustEncode(t, 5, protocol.OpReport, protocol.EncodeReport(2, "Jitter para 10.0.0.1: 0.40 ms"))

	frames, err := r.Feed("peer", frame[:7])
	require.ErrorIs(t, err, ErrPartialDiscarded)
	assert.Empty(t, frames)

	frames, err = r.Feed("peer", frame[7:])
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, frame, frames[0])
}

func TestReassembler_CompleteFrameSupersedesPartial(t *testing.T) {
	r := NewReassembler(maxDatagram, time.Hour)
	keepAlive := mustEncode(t, 5, protocol.OpKeepAlive, nil)

	_, err := r.Feed("peer", []byte("abc"))
	require.NoError(t, err)

	frames, err := r.Feed("peer", keepAlive)
	require.ErrorIs(t, err, ErrPartialDiscarded)
	require.Len(t, frames, 1)
	assert.Equal(t, keepAlive, frames[0])
	assert.Equal(t, 0, r.Pending())

	msg, err := protocol.Decode(frames[0])
	require.NoError(t, err)
	assert.Equal(t, uint32(5), msg.Seq)
	assert.Equal(t, protocol.OpKeepAlive, msg.Op)
}

func TestEndpoint_Loopback(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server, err := Listen(ctx, "127.0.0.1:0", 50*time.Millisecond, zap.NewNop())
	require.NoError(t, err)
	defer server.Close()
	client, err := Listen(ctx, "127.0.0.1:0", 50*time.Millisecond, zap.NewNop())
	require.NoError(t, err)
	defer client.Close()

	frame := mustEncode(t, 1, protocol.OpConnect, nil)
	require.NoError(t, client.Send(frame, server.LocalAddr()))

	d, err := server.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, frame, d.Frame)
	assert.Equal(t, client.LocalAddr().Port, d.From.Port)
}

func TestEndpoint_ReceiveObservesCancellation(t *testing.T) {
	e, err := Listen(context.Background(), "127.0.0.1:0", 20*time.Millisecond, zap.NewNop())
	require.NoError(t, err)
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := e.Receive(ctx)
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Receive did not return after cancellation")
	}
}

func TestEndpoint_ReceiveAfterClose(t *testing.T) {
	e, err := Listen(context.Background(), "127.0.0.1:0", 20*time.Millisecond, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, e.Close())

	_, err = e.Receive(context.Background())
	assert.ErrorIs(t, err, net.ErrClosed)
}

func TestEndpoint_StrayFragmentUnderLoad(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server, err := Listen(ctx, "127.0.0.1:0", 20*time.Millisecond, zap.NewNop())
	require.NoError(t, err)
	defer server.Close()
	a, err := Listen(ctx, "127.0.0.1:0", 20*time.Millisecond, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()
	b, err := Listen(ctx, "127.0.0.1:0", 20*time.Millisecond, zap.NewNop())
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Send([]byte("abc"), server.LocalAddr()))

	busy, stopBusy := context.WithCancel(ctx)
	defer stopBusy()
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		var seq uint32
		for {
			select {
			case <-busy.Done():
				return
			case <-ticker.C:
				seq++
				frame, err := protocol.Encode(seq, protocol.OpKeepAlive, nil)
				if err != nil {
					return
				}
				_ = b.Send(frame, server.LocalAddr())
			}
		}
	}()

	go func() {
		time.Sleep(300 * time.Millisecond)
		frame, err := protocol.Encode(5, protocol.OpKeepAlive, nil)
		if err == nil {
			_ = a.Send(frame, server.LocalAddr())
		}
	}()

	for {
		d, err := server.Receive(ctx)
		require.NoError(t, err)
		if d.From.Port != a.LocalAddr().Port {
			continue
		}
		msg, err := protocol.Decode(d.Frame)
		require.NoError(t, err)
		assert.Equal(t, protocol.OpKeepAlive, msg.Op)
		assert.Equal(t, uint32(5), msg.Seq)
		return
	}
}
