package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/aDN03/CC/internal/models"
)

// No single field may declare more than a UDP datagram can carry.
const maxFieldLen = 65507

// EncodeTask serializes the task-dispatch field block in wire order:
// frequency, CPU threshold, RAM threshold, interface list, interface packet
// threshold, packet-loss threshold, jitter threshold, then the latency,
// bandwidth, jitter and packet-loss probe configurations.
func EncodeTask(t models.Task) ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("encode task: %w", err)
	}
	ifaces := strings.Join(t.Interfaces, interfaceSeparator)
	blocks := []string{ifaces, t.Latency, t.Bandwidth, t.Jitter, t.PacketLoss}
	for _, b := range blocks {
		if len(b) > maxFieldLen {
			return nil, fmt.Errorf("encode task: field of %d bytes exceeds %d", len(b), maxFieldLen)
		}
	}

	buf := make([]byte, 0, 7*lenUint32+5*lenUint32+len(ifaces)+len(t.Latency)+len(t.Bandwidth)+len(t.Jitter)+len(t.PacketLoss))
	buf = binary.BigEndian.AppendUint32(buf, t.Frequency)
	buf = appendFloat(buf, t.CPUThreshold)
	buf = appendFloat(buf, t.RAMThreshold)
	buf = appendString(buf, ifaces)
	buf = binary.BigEndian.AppendUint32(buf, t.InterfacePackets)
	buf = appendFloat(buf, t.PacketLossThreshold)
	buf = appendFloat(buf, t.JitterThreshold)
	buf = appendString(buf, t.Latency)
	buf = appendString(buf, t.Bandwidth)
	buf = appendString(buf, t.Jitter)
	buf = appendString(buf, t.PacketLoss)
	return buf, nil
}

// DecodeTask parses a field block produced by EncodeTask.
func DecodeTask(data []byte) (models.Task, error) {
	r := fieldReader{buf: data}
	var t models.Task

	t.Frequency = r.uint32("frequency")
	t.CPUThreshold = r.float("cpu threshold")
	t.RAMThreshold = r.float("ram threshold")
	if ifaces := r.string("interfaces"); ifaces != "" {
		t.Interfaces = strings.Split(ifaces, interfaceSeparator)
	}
	t.InterfacePackets = r.uint32("interface packets")
	t.PacketLossThreshold = r.float("packet loss threshold")
	t.JitterThreshold = r.float("jitter threshold")
	t.Latency = r.string("latency")
	t.Bandwidth = r.string("bandwidth")
	t.Jitter = r.string("jitter")
	t.PacketLoss = r.string("packet loss")

	if r.err != nil {
		return models.Task{}, r.err
	}
	if r.off != len(data) {
		return models.Task{}, malformed("%d trailing bytes after task fields", len(data)-r.off)
	}
	return t, nil
}

// taskFieldsLen walks the declared lengths of a task field block at the start
// of buf. complete is false when buf ends before the block does.
func taskFieldsLen(buf []byte) (n int, complete bool, err error) {
	off := 0
	skip := func(k int) bool {
		if len(buf)-off < k {
			return false
		}
		off += k
		return true
	}
	str := func() (bool, error) {
		if len(buf)-off < lenUint32 {
			return false, nil
		}
		l := binary.BigEndian.Uint32(buf[off:])
		if l > maxFieldLen {
			return false, malformed("declared field length %d exceeds %d", l, maxFieldLen)
		}
		off += lenUint32
		return skip(int(l)), nil
	}

	// frequency, cpu, ram
	if !skip(lenUint32 + 2*lenFloat) {
		return 0, false, nil
	}
	if ok, err := str(); !ok || err != nil {
		return 0, false, err
	}
	// interface packets, packet loss, jitter
	if !skip(lenUint32 + 2*lenFloat) {
		return 0, false, nil
	}
	for i := 0; i < 4; i++ {
		if ok, err := str(); !ok || err != nil {
			return 0, false, err
		}
	}
	return off, true, nil
}

func appendFloat(buf []byte, f float32) []byte {
	return binary.BigEndian.AppendUint32(buf, math.Float32bits(f))
}

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

// fieldReader consumes big-endian fields and records the first overrun.
type fieldReader struct {
	buf []byte
	off int
	err error
}

func (r *fieldReader) take(field string, k int) []byte {
	if r.err != nil {
		return nil
	}
	if k < 0 || len(r.buf)-r.off < k {
		r.err = malformed("field %s reads past end of buffer", field)
		return nil
	}
	b := r.buf[r.off : r.off+k]
	r.off += k
	return b
}

func (r *fieldReader) uint32(field string) uint32 {
	b := r.take(field, lenUint32)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *fieldReader) float(field string) float32 {
	b := r.take(field, lenFloat)
	if b == nil {
		return 0
	}
	return math.Float32frombits(binary.BigEndian.Uint32(b))
}

func (r *fieldReader) string(field string) string {
	l := r.uint32(field + " length")
	if r.err != nil {
		return ""
	}
	if l > maxFieldLen {
		r.err = malformed("field %s declares %d bytes", field, l)
		return ""
	}
	return string(r.take(field, int(l)))
}
