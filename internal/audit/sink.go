package audit

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/khanghh/rms/model"
	"github.com/redis/go-redis/v9"
)

// Sink persists operation log entries.
type Sink interface {
	Append(ctx context.Context, entry *model.OperationLog) error
}

// MultiSink appends every entry to each sink in order. All sinks are attempted
// and their errors are joined.
type MultiSink []Sink

func (m MultiSink) Append(ctx context.Context, entry *model.OperationLog) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Append(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RedisStreamSink mirrors entries into a capped redis stream for live consumers.
type RedisStreamSink struct {
	rdb    redis.UniversalClient
	stream string
	maxLen int64
}

func (s *RedisStreamSink) Append(ctx context.Context, entry *model.OperationLog) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"module":    entry.Module,
			"operation": entry.Operation,
			"status":    entry.Status,
			"entry":     payload,
		},
	}).Err()
}

func NewRedisStreamSink(rdb redis.UniversalClient, stream string, maxLen int64) *RedisStreamSink {
	return &RedisStreamSink{
		rdb:    rdb,
		stream: stream,
		maxLen: maxLen,
	}
}
