// Package session implements the opcode-driven state machines of the two
// roles: the agent, which connects, runs dispatched tasks and reports, and
// the controller, which registers agents, dispatches tasks and files their
// reports.
package session

import (
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/aDN03/CC/internal/protocol"
	"github.com/aDN03/CC/internal/transport"
)

// State is the lifecycle stage of a session.
type State int32

const (
	StateDisconnected State = iota
	StateHandshake
	StateEstablished
	StateTeardown
	StateClosed
)

var stateNames = [...]string{"disconnected", "handshake", "established", "teardown", "closed"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Reply texts carried by OpAckMessage.
const (
	replyConnected = "Ok"
	replyKeepAlive = "Keep Alive OK"
	replyClosed    = "Connection closed"
)

// reply sends an untracked acknowledgment for seq. Replies are never
// retransmitted; a lost reply is recovered by the peer resending seq.
func reply(ep *transport.Endpoint, logger *zap.Logger, to net.Addr, seq uint32, op protocol.Opcode, text string) {
	var data []byte
	if text != "" {
		data = []byte(text)
	}
	frame, err := protocol.Encode(seq, op, data)
	if err != nil {
		logger.Error("Failed to encode reply", zap.Uint32("seq", seq), zap.Error(err))
		return
	}
	if err := ep.Send(frame, to); err != nil {
		logger.Warn("Failed to send reply", zap.Uint32("seq", seq), zap.Error(err))
	}
}
