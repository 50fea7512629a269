package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Message is a decoded frame. For OpTask, Data holds the encoded task fields
// (see EncodeTask/DecodeTask); for every other opcode it is the raw payload.
type Message struct {
	Seq  uint32
	Op   Opcode
	Data []byte
}

// Encode serializes a frame. Sentinel-framed payloads must not contain the
// sentinel byte, and task-dispatch data must be a well-formed field block.
func Encode(seq uint32, op Opcode, data []byte) ([]byte, error) {
	if !op.Valid() {
		return nil, fmt.Errorf("encode: unknown opcode %d", uint8(op))
	}

	if op.LengthPrefixed() {
		n, complete, err := taskFieldsLen(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", op, err)
		}
		if !complete || n != len(data) {
			return nil, fmt.Errorf("encode %s: task fields are not a complete block", op)
		}
	} else if bytes.IndexByte(data, Sentinel) >= 0 {
		return nil, fmt.Errorf("encode %s: payload contains the sentinel byte", op)
	}

	frame := make([]byte, 0, HeaderLen+len(data)+1)
	frame = binary.BigEndian.AppendUint32(frame, seq)
	frame = append(frame, byte(op))
	frame = append(frame, data...)
	frame = append(frame, Sentinel)
	return frame, nil
}

// Decode parses exactly one frame. It is the inverse of Encode and fails with
// ErrMalformedMessage on short buffers, unknown opcodes, declared lengths that
// run past the buffer, a missing sentinel, or trailing bytes.
func Decode(frame []byte) (Message, error) {
	if len(frame) < minFrameLen {
		return Message{}, malformed("frame of %d bytes is shorter than the header", len(frame))
	}

	msg := Message{
		Seq: binary.BigEndian.Uint32(frame[:lenSeq]),
		Op:  Opcode(frame[lenSeq]),
	}
	if !msg.Op.Valid() {
		return Message{}, malformed("unknown opcode %d", frame[lenSeq])
	}

	body := frame[HeaderLen:]
	var payloadLen int
	if msg.Op.LengthPrefixed() {
		n, complete, err := taskFieldsLen(body)
		if err != nil {
			return Message{}, err
		}
		if !complete {
			return Message{}, malformed("task field reads past end of frame")
		}
		if len(body) != n+1 || body[n] != Sentinel {
			return Message{}, malformed("task frame not terminated after %d field bytes", n)
		}
		payloadLen = n
	} else {
		idx := bytes.IndexByte(body, Sentinel)
		if idx < 0 {
			return Message{}, malformed("missing sentinel")
		}
		if idx != len(body)-1 {
			return Message{}, malformed("%d trailing bytes after sentinel", len(body)-1-idx)
		}
		payloadLen = idx
	}

	if payloadLen > 0 {
		msg.Data = append([]byte(nil), body[:payloadLen]...)
	}
	return msg, nil
}

// FrameLen returns the length of the first complete frame at the start of
// buf, or 0 when more bytes are needed. An error means the buffer can never
// become a valid frame and should be discarded.
func FrameLen(buf []byte) (int, error) {
	if len(buf) < HeaderLen {
		return 0, nil
	}
	op := Opcode(buf[lenSeq])
	if !op.Valid() {
		return 0, malformed("unknown opcode %d", buf[lenSeq])
	}

	body := buf[HeaderLen:]
	if op.LengthPrefixed() {
		n, complete, err := taskFieldsLen(body)
		if err != nil || !complete {
			return 0, err
		}
		if len(body) == n {
			return 0, nil
		}
		if body[n] != Sentinel {
			return 0, malformed("task frame not terminated after %d field bytes", n)
		}
		return HeaderLen + n + 1, nil
	}

	idx := bytes.IndexByte(body, Sentinel)
	if idx < 0 {
		return 0, nil
	}
	return HeaderLen + idx + 1, nil
}
