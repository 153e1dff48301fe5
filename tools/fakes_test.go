package tools

import (
	"context"
	"time"

	"github.com/taskweave/taskweave/store"
)

// memStore is a minimal in-memory store.Client for tools package tests.
type memStore struct {
	tasks         map[string]*store.TaskRecord
	conversations map[string]*store.ConversationLog
	queues        map[string][]store.Envelope
}

func newMemStore() *memStore {
	return &memStore{
		tasks:         map[string]*store.TaskRecord{},
		conversations: map[string]*store.ConversationLog{},
		queues:        map[string][]store.Envelope{},
	}
}

var _ store.Client = (*memStore)(nil)

func (m *memStore) GetTask(_ context.Context, taskID string) (*store.TaskRecord, bool, error) {
	rec, ok := m.tasks[taskID]
	return rec, ok, nil
}
func (m *memStore) SaveTask(_ context.Context, rec *store.TaskRecord) error {
	m.tasks[rec.TaskID] = rec
	return nil
}
func (m *memStore) GetConversation(_ context.Context, taskID string) (*store.ConversationLog, bool, error) {
	log, ok := m.conversations[taskID]
	return log, ok, nil
}
func (m *memStore) SaveConversation(_ context.Context, taskID string, log *store.ConversationLog) error {
	m.conversations[taskID] = log
	return nil
}
func (m *memStore) AppendChild(_ context.Context, parentID, childID string) error {
	rec, ok := m.tasks[parentID]
	if !ok {
		return nil
	}
	for _, c := range rec.Children {
		if c == childID {
			return nil
		}
	}
	rec.Children = append(rec.Children, childID)
	return nil
}
func (m *memStore) Enqueue(_ context.Context, taskID string, env store.Envelope) error {
	m.queues[taskID] = append(m.queues[taskID], env)
	return nil
}
func (m *memStore) DrainQueue(_ context.Context, taskID string) ([]store.Envelope, error) {
	envs := m.queues[taskID]
	delete(m.queues, taskID)
	return envs, nil
}
func (m *memStore) AcquireCallMarker(context.Context, string, time.Duration) (bool, error) {
	return true, nil
}
func (m *memStore) ReleaseCallMarker(context.Context, string) error { return nil }
func (m *memStore) GetThrottleState(context.Context, string) (*store.ThrottleState, error) {
	return &store.ThrottleState{Multiplier: 1.0}, nil
}
func (m *memStore) SaveThrottleState(context.Context, string, *store.ThrottleState) error { return nil }
func (m *memStore) ClearMandatoryBackoff(context.Context, string) error                   { return nil }
func (m *memStore) PublishThrottleEvent(context.Context, string, string, any) error        { return nil }
func (m *memStore) PublishTaskComplete(context.Context, string, store.Envelope) error       { return nil }
func (m *memStore) PublishTaskMessage(context.Context, string, any) error                   { return nil }
func (m *memStore) TaskKeys(_ context.Context) ([]string, error) {
	keys := make([]string, 0, len(m.tasks))
	for id := range m.tasks {
		keys = append(keys, store.TaskDataKey(id))
	}
	return keys, nil
}
func (m *memStore) Close() error { return nil }

// fakeProber reports liveness from a fixed set of PIDs.
type fakeProber struct {
	alivePIDs map[int]bool
}

func (f *fakeProber) IsAlive(_ context.Context, pid int, _ string) (bool, error) {
	return f.alivePIDs[pid], nil
}
