// Package protocol implements the wire codec of the reliable datagram
// protocol spoken between agents and the controller.
//
// Every frame starts with a 5-byte header (big-endian sequence id, opcode) and
// ends with a single sentinel byte. Task-dispatch frames carry length-prefixed
// fields and are sized by their declared lengths; every other opcode carries
// a raw payload whose end is only known by finding the sentinel.
package protocol

import "fmt"

// Opcode tags a frame's purpose and payload shape.
type Opcode uint8

const (
	OpConnect           Opcode = 0
	OpReport            Opcode = 1
	OpTask              Opcode = 2
	OpAck               Opcode = 4
	OpKeepAlive         Opcode = 5
	OpTeardown          Opcode = 7
	OpAckMessage        Opcode = 100
	OpKeepAliveTemplate Opcode = 101
	OpFinalTeardown     Opcode = 111
)

var opcodeNames = map[Opcode]string{
	OpConnect:           "connect",
	OpReport:            "report",
	OpTask:              "task",
	OpAck:               "ack",
	OpKeepAlive:         "keepalive",
	OpTeardown:          "teardown",
	OpAckMessage:        "ack-message",
	OpKeepAliveTemplate: "keepalive-template",
	OpFinalTeardown:     "final-teardown",
}

// Valid reports whether o belongs to the closed opcode set.
func (o Opcode) Valid() bool {
	_, ok := opcodeNames[o]
	return ok
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("opcode(%d)", uint8(o))
}

// IsAck reports whether o acknowledges a previously sent sequence id.
func (o Opcode) IsAck() bool {
	return o == OpAck || o == OpAckMessage
}

// LengthPrefixed reports whether frames of this opcode are sized by declared
// field lengths rather than by scanning for the sentinel.
func (o Opcode) LengthPrefixed() bool {
	return o == OpTask
}
