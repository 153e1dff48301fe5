package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a single-machine Client implementation, selected when
// store.backend is "sqlite" (the default), standing in for Redis the way the teacher's JSONPersistence
// stood in for a real database — except here it is a real embedded database
// rather than flat JSON files, so reads and writes stay transactional.
//
// Pub/sub has no SQLite analog, so subscriptions are served from an
// in-process fan-out; this only works within a single `taskweave` binary,
// which is exactly local mode's scope.
type SQLiteStore struct {
	db *sql.DB

	mu   sync.Mutex
	subs map[string][]chan []byte
}

// NewSQLiteStore opens (creating if necessary) a SQLite database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	s := &SQLiteStore{db: db, subs: make(map[string][]chan []byte)}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

var _ Client = (*SQLiteStore)(nil)

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (task_id TEXT PRIMARY KEY, data TEXT NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS conversations (task_id TEXT PRIMARY KEY, data TEXT NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS queue (id INTEGER PRIMARY KEY AUTOINCREMENT, task_id TEXT NOT NULL, data TEXT NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS call_markers (task_id TEXT PRIMARY KEY, expires_at INTEGER NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS throttle_state (model_arn TEXT PRIMARY KEY, data TEXT NOT NULL)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, taskID string) (*TaskRecord, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM tasks WHERE task_id = ?`, taskID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: get task %s: %w", taskID, err)
	}
	var rec TaskRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, false, err
	}
	return &rec, true, nil
}

func (s *SQLiteStore) SaveTask(ctx context.Context, rec *TaskRecord) error {
	rec.UpdatedAt = time.Now()
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (task_id, data) VALUES (?, ?)
		 ON CONFLICT(task_id) DO UPDATE SET data = excluded.data`, rec.TaskID, raw)
	return err
}

func (s *SQLiteStore) GetConversation(ctx context.Context, taskID string) (*ConversationLog, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM conversations WHERE task_id = ?`, taskID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var log ConversationLog
	if err := json.Unmarshal([]byte(raw), &log); err != nil {
		return nil, false, err
	}
	return &log, true, nil
}

func (s *SQLiteStore) SaveConversation(ctx context.Context, taskID string, log *ConversationLog) error {
	raw, err := json.Marshal(log)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (task_id, data) VALUES (?, ?)
		 ON CONFLICT(task_id) DO UPDATE SET data = excluded.data`, taskID, raw)
	return err
}

// AppendChild is serialized by s.mu since SQLite already funnels writes
// through a single connection in practice; no SELECT ... FOR UPDATE needed
// for the local/dev store.
func (s *SQLiteStore) AppendChild(ctx context.Context, parentID, childID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok, err := s.GetTask(ctx, parentID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("store: parent task %s not found", parentID)
	}
	for _, c := range rec.Children {
		if c == childID {
			return nil
		}
	}
	rec.Children = append(rec.Children, childID)
	return s.SaveTask(ctx, rec)
}

func (s *SQLiteStore) ClearMandatoryBackoff(ctx context.Context, modelARN string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM throttle_state WHERE model_arn = ?`, modelARN)
	return err
}

func (s *SQLiteStore) PublishTaskMessage(ctx context.Context, taskID string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.fanOut(TaskMessagesChannel(taskID), raw)
	return nil
}

func (s *SQLiteStore) Enqueue(ctx context.Context, taskID string, env Envelope) error {
	env.Timestamp = time.Now()
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO queue (task_id, data) VALUES (?, ?)`, taskID, raw)
	return err
}

func (s *SQLiteStore) DrainQueue(ctx context.Context, taskID string) ([]Envelope, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, data FROM queue WHERE task_id = ? ORDER BY id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	var envs []Envelope
	for rows.Next() {
		var id int64
		var raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		var env Envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			continue
		}
		ids = append(ids, id)
		envs = append(envs, env)
	}
	for _, id := range ids {
		s.db.ExecContext(ctx, `DELETE FROM queue WHERE id = ?`, id)
	}
	return envs, nil
}

func (s *SQLiteStore) AcquireCallMarker(ctx context.Context, taskID string, ttl time.Duration) (bool, error) {
	now := time.Now()
	var expiresAt int64
	err := s.db.QueryRowContext(ctx, `SELECT expires_at FROM call_markers WHERE task_id = ?`, taskID).Scan(&expiresAt)
	if err == nil && expiresAt > now.Unix() {
		return false, nil
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO call_markers (task_id, expires_at) VALUES (?, ?)
		 ON CONFLICT(task_id) DO UPDATE SET expires_at = excluded.expires_at`,
		taskID, now.Add(ttl).Unix())
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) ReleaseCallMarker(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM call_markers WHERE task_id = ?`, taskID)
	return err
}

func (s *SQLiteStore) GetThrottleState(ctx context.Context, modelARN string) (*ThrottleState, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM throttle_state WHERE model_arn = ?`, modelARN).Scan(&raw)
	if err == sql.ErrNoRows {
		return &ThrottleState{Multiplier: 1.0}, nil
	}
	if err != nil {
		return nil, err
	}
	var st ThrottleState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *SQLiteStore) SaveThrottleState(ctx context.Context, modelARN string, st *ThrottleState) error {
	st.UpdatedAt = time.Now()
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO throttle_state (model_arn, data) VALUES (?, ?)
		 ON CONFLICT(model_arn) DO UPDATE SET data = excluded.data`, modelARN, raw)
	return err
}

func (s *SQLiteStore) PublishThrottleEvent(ctx context.Context, channel, modelARN string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.fanOut(channel, raw)
	return nil
}

func (s *SQLiteStore) PublishTaskComplete(ctx context.Context, taskID string, env Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	s.fanOut(TaskCompleteChannel(taskID), raw)
	return nil
}

func (s *SQLiteStore) fanOut(channel string, raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs[channel] {
		select {
		case ch <- raw:
		default:
		}
	}
}

// LocalSubscribe is the in-process substitute for Redis pub/sub, usable only
// within the process that also holds this *SQLiteStore.
func (s *SQLiteStore) LocalSubscribe(channel string) <-chan []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan []byte, 16)
	s.subs[channel] = append(s.subs[channel], ch)
	return ch
}

func (s *SQLiteStore) TaskKeys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT task_id FROM tasks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		keys = append(keys, TaskDataKey(id))
	}
	return keys, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
