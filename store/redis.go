package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the production State Store Client, backing task records,
// conversation logs, and the per-task message queue on a shared Redis
// instance, the way original_source's core.py talked to Redis directly.
type RedisStore struct {
	rdb *redis.Client
	log *slog.Logger
}

// NewRedisStore dials a Redis server at addr (host:port).
func NewRedisStore(addr string) *RedisStore {
	return &RedisStore{
		rdb: redis.NewClient(&redis.Options{Addr: addr}),
		log: slog.With("component", "store.redis"),
	}
}

var _ Client = (*RedisStore)(nil)

func (s *RedisStore) GetTask(ctx context.Context, taskID string) (*TaskRecord, bool, error) {
	raw, err := s.rdb.Get(ctx, TaskDataKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: get task %s: %w", taskID, err)
	}
	var rec TaskRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, fmt.Errorf("store: decode task %s: %w", taskID, err)
	}
	return &rec, true, nil
}

func (s *RedisStore) SaveTask(ctx context.Context, rec *TaskRecord) error {
	rec.UpdatedAt = time.Now()
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: encode task %s: %w", rec.TaskID, err)
	}
	if err := s.rdb.Set(ctx, TaskDataKey(rec.TaskID), raw, 0).Err(); err != nil {
		return fmt.Errorf("store: save task %s: %w", rec.TaskID, err)
	}
	return nil
}

func (s *RedisStore) GetConversation(ctx context.Context, taskID string) (*ConversationLog, bool, error) {
	raw, err := s.rdb.Get(ctx, TaskLogKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: get conversation %s: %w", taskID, err)
	}
	var log ConversationLog
	if err := json.Unmarshal(raw, &log); err != nil {
		return nil, false, fmt.Errorf("store: decode conversation %s: %w", taskID, err)
	}
	return &log, true, nil
}

func (s *RedisStore) SaveConversation(ctx context.Context, taskID string, log *ConversationLog) error {
	raw, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("store: encode conversation %s: %w", taskID, err)
	}
	if err := s.rdb.Set(ctx, TaskLogKey(taskID), raw, 0).Err(); err != nil {
		return fmt.Errorf("store: save conversation %s: %w", taskID, err)
	}
	return nil
}

// AppendChild updates task_data:{parentID}.children under a Redis WATCH so
// two tasks spawning concurrently against the same parent don't clobber each
// other's append, the one place this store genuinely needs field-level
// atomicity rather than a whole-document overwrite.
func (s *RedisStore) AppendChild(ctx context.Context, parentID, childID string) error {
	key := TaskDataKey(parentID)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			return fmt.Errorf("store: get parent task %s: %w", parentID, err)
		}
		var rec TaskRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("store: decode parent task %s: %w", parentID, err)
		}
		for _, c := range rec.Children {
			if c == childID {
				return nil
			}
		}
		rec.Children = append(rec.Children, childID)
		rec.UpdatedAt = time.Now()
		encoded, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		return err
	}
	if err := s.rdb.Watch(ctx, txf, key); err != nil {
		return fmt.Errorf("store: append child %s -> %s: %w", childID, parentID, err)
	}
	return nil
}

func (s *RedisStore) ClearMandatoryBackoff(ctx context.Context, modelARN string) error {
	if err := s.rdb.Del(ctx, ThrottleStateKey(modelARN)).Err(); err != nil {
		return fmt.Errorf("store: clear mandatory backoff %s: %w", modelARN, err)
	}
	return nil
}

func (s *RedisStore) PublishTaskMessage(ctx context.Context, taskID string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("store: encode task message %s: %w", taskID, err)
	}
	if err := s.rdb.Publish(ctx, TaskMessagesChannel(taskID), raw).Err(); err != nil {
		return fmt.Errorf("store: publish task message %s: %w", taskID, err)
	}
	return nil
}

func (s *RedisStore) Enqueue(ctx context.Context, taskID string, env Envelope) error {
	env.Timestamp = time.Now()
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("store: encode envelope for %s: %w", taskID, err)
	}
	if err := s.rdb.RPush(ctx, TaskQueueKey(taskID), raw).Err(); err != nil {
		return fmt.Errorf("store: enqueue %s: %w", taskID, err)
	}
	return nil
}

// DrainQueue empties the list in one round-trip with LPOP COUNT, matching
// original_source's dequeue-and-delete pattern.
func (s *RedisStore) DrainQueue(ctx context.Context, taskID string) ([]Envelope, error) {
	raws, err := s.rdb.LPopCount(ctx, TaskQueueKey(taskID), 1<<20).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: drain queue %s: %w", taskID, err)
	}
	envs := make([]Envelope, 0, len(raws))
	for _, raw := range raws {
		var env Envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			s.log.Warn("dropping malformed queue entry", "task_id", taskID, "error", err)
			continue
		}
		envs = append(envs, env)
	}
	return envs, nil
}

func (s *RedisStore) AcquireCallMarker(ctx context.Context, taskID string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, CallMarkerKey(taskID), time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("store: acquire call marker %s: %w", taskID, err)
	}
	return ok, nil
}

func (s *RedisStore) ReleaseCallMarker(ctx context.Context, taskID string) error {
	if err := s.rdb.Del(ctx, CallMarkerKey(taskID)).Err(); err != nil {
		return fmt.Errorf("store: release call marker %s: %w", taskID, err)
	}
	return nil
}

func (s *RedisStore) GetThrottleState(ctx context.Context, modelARN string) (*ThrottleState, error) {
	raw, err := s.rdb.Get(ctx, ThrottleStateKey(modelARN)).Bytes()
	if errors.Is(err, redis.Nil) {
		return &ThrottleState{Multiplier: 1.0}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get throttle state %s: %w", modelARN, err)
	}
	var st ThrottleState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("store: decode throttle state %s: %w", modelARN, err)
	}
	return &st, nil
}

func (s *RedisStore) SaveThrottleState(ctx context.Context, modelARN string, st *ThrottleState) error {
	st.UpdatedAt = time.Now()
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("store: encode throttle state %s: %w", modelARN, err)
	}
	if err := s.rdb.Set(ctx, ThrottleStateKey(modelARN), raw, 0).Err(); err != nil {
		return fmt.Errorf("store: save throttle state %s: %w", modelARN, err)
	}
	return nil
}

func (s *RedisStore) PublishThrottleEvent(ctx context.Context, channel, modelARN string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("store: encode throttle event %s: %w", channel, err)
	}
	if err := s.rdb.Publish(ctx, channel, raw).Err(); err != nil {
		return fmt.Errorf("store: publish %s: %w", channel, err)
	}
	return nil
}

func (s *RedisStore) PublishTaskComplete(ctx context.Context, taskID string, env Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("store: encode completion envelope %s: %w", taskID, err)
	}
	if err := s.rdb.Publish(ctx, TaskCompleteChannel(taskID), raw).Err(); err != nil {
		return fmt.Errorf("store: publish completion %s: %w", taskID, err)
	}
	return nil
}

func (s *RedisStore) TaskKeys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, "task_data:*", 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("store: scan task keys: %w", err)
	}
	return keys, nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// Subscribe returns a raw pub/sub subscription, used by callers that need
// to block on throttle_success/throttle_exception notifications rather than
// poll the store.
func (s *RedisStore) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return s.rdb.Subscribe(ctx, channels...)
}
