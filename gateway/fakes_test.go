package gateway

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/taskweave/taskweave/store"
)

type throttleFixture struct {
	mandatoryBackoff bool
}

// fakeStore implements store.Client with just enough behavior for gateway
// tests; every other method is a no-op.
type fakeStore struct {
	tasks    map[string]*store.TaskRecord
	throttle map[string]*throttleFixture
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tasks:    map[string]*store.TaskRecord{},
		throttle: map[string]*throttleFixture{},
	}
}

var _ store.Client = (*fakeStore)(nil)

func (f *fakeStore) GetTask(_ context.Context, taskID string) (*store.TaskRecord, bool, error) {
	rec, ok := f.tasks[taskID]
	return rec, ok, nil
}

func (f *fakeStore) SaveTask(_ context.Context, rec *store.TaskRecord) error {
	f.tasks[rec.TaskID] = rec
	return nil
}

func (f *fakeStore) GetConversation(context.Context, string) (*store.ConversationLog, bool, error) {
	return nil, false, nil
}

func (f *fakeStore) SaveConversation(context.Context, string, *store.ConversationLog) error {
	return nil
}

func (f *fakeStore) AppendChild(context.Context, string, string) error { return nil }

func (f *fakeStore) Enqueue(context.Context, string, store.Envelope) error { return nil }

func (f *fakeStore) DrainQueue(context.Context, string) ([]store.Envelope, error) { return nil, nil }

func (f *fakeStore) AcquireCallMarker(context.Context, string, time.Duration) (bool, error) {
	return true, nil
}

func (f *fakeStore) ReleaseCallMarker(context.Context, string) error { return nil }

func (f *fakeStore) GetThrottleState(_ context.Context, modelARN string) (*store.ThrottleState, error) {
	fx, ok := f.throttle[modelARN]
	if !ok {
		return &store.ThrottleState{Multiplier: 1.0}, nil
	}
	return &store.ThrottleState{Multiplier: 1.0, MandatoryBackoff: fx.mandatoryBackoff}, nil
}

func (f *fakeStore) SaveThrottleState(_ context.Context, modelARN string, st *store.ThrottleState) error {
	f.throttle[modelARN] = &throttleFixture{mandatoryBackoff: st.MandatoryBackoff}
	return nil
}

func (f *fakeStore) ClearMandatoryBackoff(_ context.Context, modelARN string) error {
	delete(f.throttle, modelARN)
	return nil
}

func (f *fakeStore) PublishThrottleEvent(context.Context, string, string, any) error { return nil }

func (f *fakeStore) PublishTaskComplete(context.Context, string, store.Envelope) error { return nil }

func (f *fakeStore) PublishTaskMessage(context.Context, string, any) error { return nil }

func (f *fakeStore) TaskKeys(context.Context) ([]string, error) { return nil, nil }

func (f *fakeStore) Close() error { return nil }

// fakeProber reports a fixed liveness answer.
type fakeProber struct {
	alive bool
}

func newFakeProber(alive bool) *fakeProber {
	return &fakeProber{alive: alive}
}

func (f *fakeProber) IsAlive(context.Context, int, string) (bool, error) {
	return f.alive, nil
}

// fakeRuntime is a RuntimeClient that never actually calls Bedrock.
type fakeRuntime struct {
	resp *bedrockruntime.ConverseOutput
	err  error
}

func (f *fakeRuntime) Converse(context.Context, *bedrockruntime.ConverseInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &bedrockruntime.ConverseOutput{}, nil
}
