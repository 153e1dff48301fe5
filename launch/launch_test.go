package launch

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/taskweave/taskweave/store"
)

func newTestLauncher(st store.Client, prober Prober) *Launcher {
	l := New(st, prober, "taskweave-runtime", "/work", 0)
	l.exec = func(taskID string) (int, error) { return 4242, nil }
	return l
}

func TestLaunchCreatesNewRootTask(t *testing.T) {
	st := newMemStore()
	l := newTestLauncher(st, &fakeProber{})

	result, err := l.Launch(context.Background(), Options{
		ModelARN:     "anthropic.model",
		Messages:     []string{"hello"},
		StartProcess: true,
	})
	assert.NilError(t, err)
	assert.Assert(t, result.TaskID != "")
	assert.Equal(t, result.PID, 4242)

	rec, ok, err := st.GetTask(context.Background(), result.TaskID)
	assert.NilError(t, err)
	assert.Assert(t, ok)
	assert.Equal(t, rec.Status, "running")
	assert.Equal(t, rec.PID, 4242)

	log, ok, err := st.GetConversation(context.Background(), result.TaskID)
	assert.NilError(t, err)
	assert.Assert(t, ok)
	assert.Equal(t, len(log.Turns), 1)
}

func TestLaunchDoesNotStartProcessWithoutQueuedMessages(t *testing.T) {
	st := newMemStore()
	l := newTestLauncher(st, &fakeProber{})

	result, err := l.Launch(context.Background(), Options{ModelARN: "m", StartProcess: true})
	assert.NilError(t, err)
	assert.Equal(t, result.PID, 0)
}

func TestLaunchReportsAlreadyRunningTask(t *testing.T) {
	st := newMemStore()
	st.tasks["conversation_abc123"] = &store.TaskRecord{TaskID: "conversation_abc123", PID: 99}
	prober := &fakeProber{alivePIDs: map[int]bool{99: true}}
	l := newTestLauncher(st, prober)

	result, err := l.Launch(context.Background(), Options{TaskID: "conversation_abc123"})
	assert.NilError(t, err)
	assert.Assert(t, result.AlreadyRunning)
	assert.Equal(t, result.PID, 99)
}

func TestLaunchReactivatesStoppedTaskWithoutOverwritingConversation(t *testing.T) {
	st := newMemStore()
	st.tasks["conversation_abc123"] = &store.TaskRecord{TaskID: "conversation_abc123", Status: "stopped"}
	st.conversations["conversation_abc123"] = &store.ConversationLog{Turns: []store.Turn{
		{Turn: 0, Messages: []store.Message{{Role: store.RoleUser, Content: []store.ContentBlock{{Text: "earlier"}}}}},
	}}
	l := newTestLauncher(st, &fakeProber{})

	result, err := l.Launch(context.Background(), Options{TaskID: "conversation_abc123", Messages: []string{"resume"}, StartProcess: true})
	assert.NilError(t, err)
	assert.Equal(t, result.TaskID, "conversation_abc123")

	log := st.conversations["conversation_abc123"]
	assert.Equal(t, len(log.Turns), 1)
	assert.Equal(t, len(log.Turns[0].Messages), 1)
}

func TestLaunchRejectsChildWithoutBaseName(t *testing.T) {
	st := newMemStore()
	l := newTestLauncher(st, &fakeProber{})

	_, err := l.Launch(context.Background(), Options{ParentTaskID: "conversation_root1"})
	assert.ErrorContains(t, err, "base_name")
}

func TestLaunchEnforcesMaxTasks(t *testing.T) {
	st := newMemStore()
	l := newTestLauncher(st, &fakeProber{})
	l.SetRunningCounter(func() int { return 5 })
	l.maxTasks = 5

	_, err := l.Launch(context.Background(), Options{ModelARN: "m"})
	assert.ErrorIs(t, err, ErrMaxTasksReached)
}

func TestQueueMessageAutoLaunchesStoppedTask(t *testing.T) {
	st := newMemStore()
	st.tasks["conversation_abc123"] = &store.TaskRecord{TaskID: "conversation_abc123", Status: "stopped"}
	st.conversations["conversation_abc123"] = &store.ConversationLog{Turns: []store.Turn{{Turn: 0}}}
	l := newTestLauncher(st, &fakeProber{})

	err := l.QueueMessage(context.Background(), "conversation_abc123", string(store.EnvelopeUser), "hi", "", "", true)
	assert.NilError(t, err)

	rec := st.tasks["conversation_abc123"]
	assert.Equal(t, rec.Status, "running")
	assert.Equal(t, rec.PID, 4242)
}

func TestQueueMessageSkipsLaunchWhenAlreadyAlive(t *testing.T) {
	st := newMemStore()
	st.tasks["conversation_abc123"] = &store.TaskRecord{TaskID: "conversation_abc123", Status: "running", PID: 7}
	prober := &fakeProber{alivePIDs: map[int]bool{7: true}}
	l := newTestLauncher(st, prober)

	err := l.QueueMessage(context.Background(), "conversation_abc123", string(store.EnvelopeUser), "hi", "", "", true)
	assert.NilError(t, err)

	// PID stays unchanged since Launch was never invoked.
	assert.Equal(t, st.tasks["conversation_abc123"].PID, 7)
}

func TestQueueMessageWithoutAutoLaunchDoesNotStart(t *testing.T) {
	st := newMemStore()
	st.tasks["conversation_abc123"] = &store.TaskRecord{TaskID: "conversation_abc123", Status: "stopped"}
	l := newTestLauncher(st, &fakeProber{})

	err := l.QueueMessage(context.Background(), "conversation_abc123", string(store.EnvelopeUser), "hi", "", "", false)
	assert.NilError(t, err)
	assert.Equal(t, st.tasks["conversation_abc123"].PID, 0)
	assert.Equal(t, len(st.queues["conversation_abc123"]), 1)
}

func TestLaunchUsesContainerExecFuncForContainerIsolation(t *testing.T) {
	st := newMemStore()
	l := newTestLauncher(st, &fakeProber{})
	l.SetContainerExecFunc(func(string) (int, error) { return 9191, nil })

	result, err := l.Launch(context.Background(), Options{
		ModelARN:     "m",
		Messages:     []string{"hello"},
		StartProcess: true,
		Isolation:    "container",
	})
	assert.NilError(t, err)
	assert.Equal(t, result.PID, 9191)

	rec, ok, err := st.GetTask(context.Background(), result.TaskID)
	assert.NilError(t, err)
	assert.Assert(t, ok)
	assert.Equal(t, rec.Isolation, "container")
}

func TestLaunchFallsBackToProcessExecWhenNoContainerExecFuncConfigured(t *testing.T) {
	st := newMemStore()
	l := newTestLauncher(st, &fakeProber{})

	result, err := l.Launch(context.Background(), Options{
		ModelARN:     "m",
		Messages:     []string{"hello"},
		StartProcess: true,
		Isolation:    "container",
	})
	assert.NilError(t, err)
	assert.Equal(t, result.PID, 4242)
}

func TestQueueMessageAutoLaunchReusesStoredIsolation(t *testing.T) {
	st := newMemStore()
	st.tasks["conversation_abc123"] = &store.TaskRecord{TaskID: "conversation_abc123", Status: "stopped", Isolation: "container"}
	st.conversations["conversation_abc123"] = &store.ConversationLog{Turns: []store.Turn{{Turn: 0}}}
	l := newTestLauncher(st, &fakeProber{})
	l.SetContainerExecFunc(func(string) (int, error) { return 5150, nil })

	err := l.QueueMessage(context.Background(), "conversation_abc123", string(store.EnvelopeUser), "hi", "", "", true)
	assert.NilError(t, err)
	assert.Equal(t, st.tasks["conversation_abc123"].PID, 5150)
}

func TestFinishRunNotifiesParentAndClearsPIDWhenStillOwner(t *testing.T) {
	st := newMemStore()
	st.tasks["child_1"] = &store.TaskRecord{TaskID: "child_1", ParentTaskID: "conversation_root", PID: 4242, Status: "running"}
	st.tasks["conversation_root"] = &store.TaskRecord{TaskID: "conversation_root", Status: "running", PID: 1}
	st.conversations["child_1"] = &store.ConversationLog{Turns: []store.Turn{
		{Turn: 0, Messages: []store.Message{
			{Role: store.RoleAssistant, Content: []store.ContentBlock{{Text: "all done"}}},
		}},
	}}
	prober := &fakeProber{alivePIDs: map[int]bool{1: true}}
	l := newTestLauncher(st, prober)

	err := l.FinishRun(context.Background(), "child_1", 4242, true, true)
	assert.NilError(t, err)

	rec := st.tasks["child_1"]
	assert.Equal(t, rec.PID, 0)
	assert.Equal(t, rec.Status, "stopped")
	assert.Equal(t, len(st.queues["conversation_root"]), 1)
	assert.Equal(t, len(st.published), 1)
}

func TestFinishRunSkipsPIDClearWhenNoLongerOwner(t *testing.T) {
	st := newMemStore()
	st.tasks["child_1"] = &store.TaskRecord{TaskID: "child_1", PID: 9999, Status: "running"}
	l := newTestLauncher(st, &fakeProber{})

	err := l.FinishRun(context.Background(), "child_1", 4242, true, true)
	assert.NilError(t, err)

	rec := st.tasks["child_1"]
	assert.Equal(t, rec.PID, 9999)
	assert.Equal(t, rec.Status, "running")
}

func TestClaimProcessTakesOverWhenNoOwnerRecorded(t *testing.T) {
	st := newMemStore()
	st.tasks["child_1"] = &store.TaskRecord{TaskID: "child_1"}
	l := newTestLauncher(st, &fakeProber{})

	owns, err := l.ClaimProcess(context.Background(), "child_1", 4242)
	assert.NilError(t, err)
	assert.Equal(t, owns, true)

	rec := st.tasks["child_1"]
	assert.Equal(t, rec.PID, 4242)
	assert.Equal(t, rec.Status, "running")
}

func TestClaimProcessTakesOverFromDeadOwner(t *testing.T) {
	st := newMemStore()
	st.tasks["child_1"] = &store.TaskRecord{TaskID: "child_1", PID: 9999, Status: "running"}
	l := newTestLauncher(st, &fakeProber{alivePIDs: map[int]bool{}})

	owns, err := l.ClaimProcess(context.Background(), "child_1", 4242)
	assert.NilError(t, err)
	assert.Equal(t, owns, true)

	rec := st.tasks["child_1"]
	assert.Equal(t, rec.PID, 4242)
	assert.Equal(t, rec.Status, "running")
}

func TestClaimProcessDeclinesWhenAnotherProcessIsAlive(t *testing.T) {
	st := newMemStore()
	st.tasks["child_1"] = &store.TaskRecord{TaskID: "child_1", PID: 9999, Status: "running"}
	l := newTestLauncher(st, &fakeProber{alivePIDs: map[int]bool{9999: true}})

	owns, err := l.ClaimProcess(context.Background(), "child_1", 4242)
	assert.NilError(t, err)
	assert.Equal(t, owns, false)

	rec := st.tasks["child_1"]
	assert.Equal(t, rec.PID, 9999, "must not steal pid from a live owner")
}

func TestFinishRunAlwaysReleasesCallMarkerEvenWithoutWork(t *testing.T) {
	st := newMemStore()
	st.tasks["child_1"] = &store.TaskRecord{TaskID: "child_1", PID: 4242, Status: "running"}
	l := newTestLauncher(st, &fakeProber{})

	err := l.FinishRun(context.Background(), "child_1", 4242, false, true)
	assert.NilError(t, err)

	rec := st.tasks["child_1"]
	assert.Equal(t, rec.PID, 4242)
	assert.Equal(t, rec.Status, "running")
	assert.Equal(t, len(st.queues), 0)
	assert.Equal(t, len(st.releasedCalls), 1)
	assert.Equal(t, st.releasedCalls[0], "child_1")
}

func TestResolveModelPassesThroughARN(t *testing.T) {
	got, err := ResolveModel(nil, "arn:aws:bedrock:model")
	assert.NilError(t, err)
	assert.Equal(t, got, "arn:aws:bedrock:model")
}

func TestResolveModelLooksUpAlias(t *testing.T) {
	models := map[string]string{"sonnet45": "us.anthropic.claude-sonnet-4-5"}
	got, err := ResolveModel(models, "sonnet45")
	assert.NilError(t, err)
	assert.Equal(t, got, "us.anthropic.claude-sonnet-4-5")
}

func TestResolveModelUnknownAliasErrors(t *testing.T) {
	_, err := ResolveModel(map[string]string{}, "made-up")
	assert.ErrorContains(t, err, "unknown model alias")
}

func TestBuildCompletionMessageSuccess(t *testing.T) {
	log := &store.ConversationLog{Turns: []store.Turn{
		{Turn: 0, Messages: []store.Message{
			{Role: store.RoleUser, Content: []store.ContentBlock{{Text: "go"}}},
			{Role: store.RoleAssistant, Content: []store.ContentBlock{
				{ToolUse: &store.ToolUse{ToolUseID: "t1", Name: "bash"}},
			}},
			{Role: store.RoleUser, Content: []store.ContentBlock{
				{ToolResult: &store.ToolResult{ToolUseID: "t1", Content: []store.ToolResultContent{{Text: "ok"}}}},
			}},
			{Role: store.RoleAssistant, Content: []store.ContentBlock{{Text: "done here"}}},
		}},
	}}

	msg := BuildCompletionMessage("child_ab12cd", log, true)
	assert.Assert(t, strings.Contains(msg, "completed successfully"))
	assert.Assert(t, strings.Contains(msg, "Ran 1 turns with 1 tool iterations"))
	assert.Assert(t, strings.Contains(msg, "done here"))
}

func TestBuildCompletionMessageFailure(t *testing.T) {
	msg := BuildCompletionMessage("child_ab12cd", &store.ConversationLog{}, false)
	assert.Assert(t, strings.Contains(msg, "has failed"))
}

func TestNotifyParentOfCompletionQueuesOnParent(t *testing.T) {
	st := newMemStore()
	st.tasks["child_1"] = &store.TaskRecord{TaskID: "child_1", ParentTaskID: "conversation_root"}
	st.tasks["conversation_root"] = &store.TaskRecord{TaskID: "conversation_root", Status: "running", PID: 1}
	st.conversations["child_1"] = &store.ConversationLog{Turns: []store.Turn{
		{Turn: 0, Messages: []store.Message{
			{Role: store.RoleAssistant, Content: []store.ContentBlock{{Text: "all set"}}},
		}},
	}}
	prober := &fakeProber{alivePIDs: map[int]bool{1: true}}
	l := newTestLauncher(st, prober)

	err := l.NotifyParentOfCompletion(context.Background(), "child_1", true)
	assert.NilError(t, err)

	queued := st.queues["conversation_root"]
	assert.Equal(t, len(queued), 1)
}

func TestNotifyParentOfCompletionNoopForRootTask(t *testing.T) {
	st := newMemStore()
	st.tasks["conversation_root"] = &store.TaskRecord{TaskID: "conversation_root"}
	l := newTestLauncher(st, &fakeProber{})

	err := l.NotifyParentOfCompletion(context.Background(), "conversation_root", true)
	assert.NilError(t, err)
	assert.Equal(t, len(st.queues), 0)
}

func TestGenerateTaskIDRoot(t *testing.T) {
	id, err := GenerateTaskID("", "")
	assert.NilError(t, err)
	assert.Assert(t, strings.Contains(id, "conversation_"))
}

func TestGenerateTaskIDChild(t *testing.T) {
	id, err := GenerateTaskID("conversation_root", "Research Topic")
	assert.NilError(t, err)
	assert.Assert(t, strings.Contains(id, "research_topic_"))
}

func TestGenerateTaskIDChildRequiresBaseName(t *testing.T) {
	_, err := GenerateTaskID("conversation_root", "")
	assert.ErrorContains(t, err, "base_name")
}

func TestGetChildTreeWalksChildrenAndFallsBackToParentScan(t *testing.T) {
	st := newMemStore()
	st.tasks["root"] = &store.TaskRecord{TaskID: "root", Children: []string{"childA"}}
	st.tasks["childA"] = &store.TaskRecord{TaskID: "childA", ParentTaskID: "root"}
	// childB was spawned without AppendChild ever having been called.
	st.tasks["childB"] = &store.TaskRecord{TaskID: "childB", ParentTaskID: "root"}
	st.tasks["grandchild"] = &store.TaskRecord{TaskID: "grandchild", ParentTaskID: "childA"}

	ids, err := GetChildTree(context.Background(), st, "root")
	assert.NilError(t, err)
	assert.Equal(t, len(ids), 3)
}

func TestGetLastToolUseFindsMostRecent(t *testing.T) {
	log := &store.ConversationLog{Turns: []store.Turn{
		{Turn: 0, Messages: []store.Message{
			{Role: store.RoleAssistant, Content: []store.ContentBlock{
				{ToolUse: &store.ToolUse{Name: "bash", Input: map[string]any{"command": "ls"}}},
			}},
		}},
		{Turn: 1, Messages: []store.Message{
			{Role: store.RoleAssistant, Content: []store.ContentBlock{
				{ToolUse: &store.ToolUse{Name: "spawn_task", Input: map[string]any{}}},
			}},
		}},
	}}

	got := GetLastToolUse(log)
	assert.Assert(t, got != nil)
	assert.Equal(t, got.ToolName, "spawn_task")
}

func TestGetLastToolUseNoneFound(t *testing.T) {
	got := GetLastToolUse(&store.ConversationLog{})
	assert.Assert(t, got == nil)
}

func TestJanitorSweepChecksEveryTask(t *testing.T) {
	st := newMemStore()
	st.tasks["a"] = &store.TaskRecord{TaskID: "a"}
	st.tasks["b"] = &store.TaskRecord{TaskID: "b"}

	var checked []string
	checker := func(_ context.Context, taskID string) (bool, int, error) {
		checked = append(checked, taskID)
		return false, 0, nil
	}
	j := NewJanitor(st, checker)

	swept, err := j.Sweep(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, swept, 2)
	assert.Equal(t, len(checked), 2)
	sort.Strings(checked)
	assert.DeepEqual(t, checked, []string{"a", "b"})
}

func TestJanitorScheduleStopsOnContextCancel(t *testing.T) {
	st := newMemStore()
	checker := func(context.Context, string) (bool, int, error) { return false, 0, nil }
	j := NewJanitor(st, checker)

	ctx, cancel := context.WithCancel(context.Background())
	c, err := j.Schedule(ctx, "@every 1h")
	assert.NilError(t, err)
	cancel()
	time.Sleep(10 * time.Millisecond)
	_ = c
}
