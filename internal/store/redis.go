package store

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aDN03/CC/internal/models"
)

// ReportKeyPrefix prefixes the Redis list of every task.
const ReportKeyPrefix = "nms:reports:"

// MirroredReport is the msgpack record pushed to Redis.
type MirroredReport struct {
	ID          string `msgpack:"id"`
	TaskID      string `msgpack:"task_id"`
	Peer        string `msgpack:"peer"`
	Text        string `msgpack:"text"`
	TimestampMs int64  `msgpack:"timestamp_ms"`
}

// RedisMirror pushes every report onto a per-task Redis list so other
// consumers can follow results without reading the log files.
type RedisMirror struct {
	rdb     *redis.Client
	timeout time.Duration
}

// NewRedisMirror connects to the Redis instance at url
// ("redis://host:port/db").
func NewRedisMirror(ctx context.Context, url string) (*RedisMirror, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisMirror{rdb: rdb, timeout: 2 * time.Second}, nil
}

// ReportKey returns the list key of a task.
func ReportKey(taskID string) string {
	return ReportKeyPrefix + taskID
}

// AppendReport implements ReportSink.
func (m *RedisMirror) AppendReport(ctx context.Context, r models.Report) error {
	received := r.Received
	if received.IsZero() {
		received = time.Now()
	}
	payload, err := msgpack.Marshal(&MirroredReport{
		ID:          uuid.New().String(),
		TaskID:      r.TaskID,
		Peer:        r.Peer,
		Text:        r.Text,
		TimestampMs: received.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("encode mirrored report: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := m.rdb.RPush(ctx, ReportKey(r.TaskID), payload).Err(); err != nil {
		return fmt.Errorf("push report to redis: %w", err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (m *RedisMirror) Close() error {
	return m.rdb.Close()
}
