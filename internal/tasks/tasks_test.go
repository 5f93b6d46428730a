// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/flicker/internal/cloud"
	"github.com/jeranaias/flicker/internal/completion"
	"github.com/jeranaias/flicker/internal/config"
	"github.com/jeranaias/flicker/internal/eventbus"
	"github.com/jeranaias/flicker/internal/logx"
	"github.com/jeranaias/flicker/internal/model"
	"github.com/jeranaias/flicker/internal/provider"
	"github.com/jeranaias/flicker/internal/storage"
	"github.com/jeranaias/flicker/internal/worker"
)

// =============================================================================
// FIXTURES
// =============================================================================

var helloStream = []string{
	`{"choices":[{"delta":{"role":"assistant","content":"Hel"}}]}`,
	`{"choices":[{"delta":{"content":"lo"}}],"usage":{"prompt_tokens":4,"completion_tokens":1,"total_tokens":5}}`,
	`{"choices":[{"delta":{"content":"!"},"finish_reason":"stop"}],"usage":{"completion_tokens":2,"total_tokens":2,"cost":0.5}}`,
}

// scriptedClient replays canned stream chunks. A non-nil gate blocks every
// stream until it is closed.
type scriptedClient struct {
	chunks []string
	err    error
	gate   chan struct{}
}

func (c *scriptedClient) Chat(ctx context.Context, req cloud.ChatRequest) (*cloud.ChatResponse, error) {
	return nil, errors.New("not used")
}

func (c *scriptedClient) ChatStream(ctx context.Context, req cloud.ChatRequest, cb cloud.StreamCallback) error {
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for _, s := range c.chunks {
		var chunk cloud.StreamChunk
		if err := json.Unmarshal([]byte(s), &chunk); err != nil {
			return err
		}
		if err := cb(chunk); err != nil {
			if errors.Is(err, cloud.ErrStopStream) {
				return nil
			}
			return err
		}
	}
	return c.err
}

type fixture struct {
	mgr    *Manager
	store  *storage.Store
	reg    *worker.Registry
	events <-chan Event
	dir    *provider.Directory
}

func testSettings(apiKey string) *config.Settings {
	s := config.Default()
	s.DefaultModelAlias = "chat"
	s.ModelProviders = []config.ModelProvider{{ProviderName: "fake", BaseURL: "http://fake.invalid/v1", APIKey: apiKey}}
	s.ModelRefs = []config.ModelRef{{Alias: "chat", ProviderName: "fake", ModelName: "m"}}
	return s
}

func newFixture(t *testing.T, client *scriptedClient, storeDir string) *fixture {
	t.Helper()
	if storeDir == "" {
		storeDir = t.TempDir()
	}
	store, err := storage.Open(storeDir)
	require.NoError(t, err)

	reg := worker.NewRegistry(logx.Nop())
	engine := completion.NewEngine(reg, func(provider.Instance) completion.ChatClient { return client }, logx.Nop())
	dir := provider.NewDirectory(testSettings("sk-test"))
	bus := eventbus.New[Event](logx.Nop())
	events, cancel := bus.Subscribe(256)
	t.Cleanup(cancel)

	return &fixture{
		mgr:    NewManager(store, dir, engine, bus, logx.Nop()),
		store:  store,
		reg:    reg,
		events: events,
		dir:    dir,
	}
}

func (f *fixture) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.reg.Wait(ctx))
}

func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

// =============================================================================
// STATUS TESTS
// =============================================================================

func TestStatus(t *testing.T) {
	require.Equal(t, 0, int(StatusPending))
	require.Equal(t, 1, int(StatusRunning))
	require.Equal(t, 2, int(StatusDone))
	require.Equal(t, 3, int(StatusFailed))
	require.Equal(t, "Failed", StatusFailed.String())
	require.Equal(t, "Status(9)", Status(9).String())
	require.False(t, Status(9).Valid())

	require.True(t, validTransition(StatusPending, StatusRunning))
	require.True(t, validTransition(StatusDone, StatusRunning))
	require.False(t, validTransition(StatusRunning, StatusRunning))
	require.False(t, validTransition(StatusPending, StatusDone))
}

func TestTaskName(t *testing.T) {
	require.Equal(t, "New conversation", taskName("  \n"))
	require.Equal(t, "two lines", taskName("two\nlines"))
	long := taskName(strings.Repeat("é", 200))
	require.Len(t, []rune(long), maxNameRunes)
	require.True(t, strings.HasSuffix(long, "..."))
}

// =============================================================================
// CONVERSATION TESTS
// =============================================================================

func TestSubmitUserMessage_StreamsToDone(t *testing.T) {
	client := &scriptedClient{chunks: helloStream, gate: make(chan struct{})}
	f := newFixture(t, client, "")

	task, err := f.mgr.SubmitUserMessage(context.Background(), "Say hello")
	require.NoError(t, err)
	require.Equal(t, StatusRunning, task.Status(), "submit returns before the network resolves")
	require.Equal(t, "Say hello", task.Name())
	require.Len(t, f.mgr.Tasks(), 1)

	close(client.gate)
	f.wait(t)

	require.Equal(t, StatusDone, task.Status())
	require.Empty(t, task.Failure())
	snap := task.Snapshot()
	require.Equal(t, 2, snap.Len())
	require.Equal(t, "Hello!", model.PlainText(snap.Last().Parts()))
	require.Equal(t, model.Usage{PromptTokens: 4, CompletionTokens: 3, TotalTokens: 7, Cost: 0.5}, snap.Usage)

	// The worker saved the finished turn and the terminal status.
	require.False(t, task.Dirty())
	rec, err := f.store.LoadTask(task.ID())
	require.NoError(t, err)
	require.Equal(t, int(StatusDone), rec.Status)
	require.Equal(t, "Hello!", model.PlainText(rec.Context.Last().Parts()))

	events := drain(f.events)
	require.NotEmpty(t, events)
	created, ok := events[0].(TaskCreated)
	require.True(t, ok, "first event is %T", events[0])
	require.Equal(t, task, created.Task)
	last, ok := events[len(events)-1].(TaskUpdated)
	require.True(t, ok)
	require.Equal(t, StatusDone, last.Status)
	for _, e := range events {
		require.Equal(t, task.ID(), e.EventTaskID())
	}
}

func TestOnChunk_RejectedDeltaLeavesTaskClean(t *testing.T) {
	f := newFixture(t, &scriptedClient{chunks: helloStream}, "")
	task, err := f.mgr.SubmitUserMessage(context.Background(), "hi")
	require.NoError(t, err)
	f.wait(t)
	require.False(t, task.Dirty())
	before := task.Snapshot()

	err = task.onChunk(completion.StreamChunk{
		Delta: &model.AssistantMessage{Content: model.Parts{model.Image("data:image/png;base64,AA==")}},
		Usage: &model.Usage{PromptTokens: 9},
	})
	require.ErrorIs(t, err, model.ErrImageInStream)
	require.False(t, task.Dirty(), "a rejected delta changes nothing")
	require.Equal(t, before, task.Snapshot())
}

func TestStreamFailure_SetsFailed(t *testing.T) {
	tests := []struct {
		name   string
		client *scriptedClient
		want   string
	}{
		{"transport", &scriptedClient{chunks: helloStream[:1], err: errors.New("connection reset")}, "connection reset"},
		{"truncated", &scriptedClient{chunks: helloStream[:2]}, completion.ErrNoFinishReason.Error()},
		{"image in stream", &scriptedClient{chunks: []string{
			`{"choices":[{"delta":{"content":"x","images":[{"type":"image_url","image_url":{"url":"data:image/png;base64,AA=="}}]}}]}`,
		}}, "image"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.client, "")
			task, err := f.mgr.SubmitUserMessage(context.Background(), "hi")
			require.NoError(t, err)
			f.wait(t)

			require.Equal(t, StatusFailed, task.Status())
			require.Contains(t, task.Failure(), tc.want)

			rec, err := f.store.LoadTask(task.ID())
			require.NoError(t, err)
			require.Equal(t, int(StatusFailed), rec.Status)
			require.Contains(t, rec.Failure, tc.want)
		})
	}
}

func TestSubmitUserMessage_ConfigurationError(t *testing.T) {
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	reg := worker.NewRegistry(logx.Nop())
	engine := completion.NewEngine(reg, func(provider.Instance) completion.ChatClient { return &scriptedClient{} }, logx.Nop())
	mgr := NewManager(store, provider.NewDirectory(testSettings("")), engine, nil, logx.Nop())

	task, err := mgr.SubmitUserMessage(context.Background(), "hi")
	require.ErrorIs(t, err, provider.ErrMissingAPIKey)
	require.Nil(t, task)
	require.Empty(t, mgr.Tasks())
	require.Equal(t, 0, reg.Len())
}

func TestReply(t *testing.T) {
	client := &scriptedClient{chunks: helloStream}
	f := newFixture(t, client, "")

	task, err := f.mgr.SubmitUserMessage(context.Background(), "first")
	require.NoError(t, err)
	f.wait(t)

	client.gate = make(chan struct{})
	h, err := f.mgr.Reply(context.Background(), task.ID(), "second")
	require.NoError(t, err)
	require.Equal(t, StatusRunning, task.Status())

	_, err = f.mgr.Reply(context.Background(), task.ID(), "third")
	require.ErrorIs(t, err, ErrTaskBusy)

	close(client.gate)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := h.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, completion.FinishStop, out.Finish)

	snap := task.Snapshot()
	require.Equal(t, 4, snap.Len(), "the rejected reply must not be appended")
	require.Equal(t, StatusDone, task.Status())

	_, err = f.mgr.Reply(context.Background(), "nope", "x")
	require.ErrorIs(t, err, ErrUnknownTask)
}

func TestConcurrentConversations(t *testing.T) {
	f := newFixture(t, &scriptedClient{chunks: helloStream}, "")
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.mgr.SubmitUserMessage(context.Background(), "hi")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	f.wait(t)

	require.Len(t, f.mgr.Tasks(), 8)
	for _, task := range f.mgr.Tasks() {
		require.Equal(t, StatusDone, task.Status())
		require.Equal(t, "Hello!", model.PlainText(task.Snapshot().Last().Parts()))
	}
	m, err := f.store.LoadManifest()
	require.NoError(t, err)
	require.Len(t, m.TaskList, 8)
}

// =============================================================================
// PERSISTENCE TESTS
// =============================================================================

func TestSave_OnlyDirtyTasksWritten(t *testing.T) {
	f := newFixture(t, &scriptedClient{chunks: helloStream}, "")
	a, err := f.mgr.SubmitUserMessage(context.Background(), "task a")
	require.NoError(t, err)
	b, err := f.mgr.SubmitUserMessage(context.Background(), "task b")
	require.NoError(t, err)
	f.wait(t)

	require.NoError(t, f.mgr.Save())
	for _, task := range []*Task{a, b} {
		require.False(t, task.Dirty())
		require.FileExists(t, filepath.Join(f.store.Dir(), task.ID()+".json"))
	}

	// Remove both files, touch only a: the next save must rewrite a alone.
	require.NoError(t, f.store.DeleteTask(a.ID()))
	require.NoError(t, f.store.DeleteTask(b.ID()))
	a.AppendUserMessage(model.NewUserMessage(model.Text("more")))
	require.True(t, a.Dirty())

	require.NoError(t, f.mgr.Save())
	require.FileExists(t, filepath.Join(f.store.Dir(), a.ID()+".json"))
	require.NoFileExists(t, filepath.Join(f.store.Dir(), b.ID()+".json"))

	m, err := f.store.LoadManifest()
	require.NoError(t, err)
	require.Equal(t, []string{a.ID(), b.ID()}, m.TaskList, "manifest is always rewritten in list order")
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, &scriptedClient{chunks: helloStream}, dir)
	a, err := f.mgr.SubmitUserMessage(context.Background(), "task a")
	require.NoError(t, err)
	b, err := f.mgr.SubmitUserMessage(context.Background(), "task b")
	require.NoError(t, err)
	f.wait(t)
	require.NoError(t, f.mgr.Save())

	g := newFixture(t, &scriptedClient{chunks: helloStream}, dir)
	require.NoError(t, g.mgr.Load(context.Background()))
	loaded := g.mgr.Tasks()
	require.Len(t, loaded, 2)

	for i, orig := range []*Task{a, b} {
		got := loaded[i]
		require.Equal(t, orig.ID(), got.ID())
		require.Equal(t, orig.Name(), got.Name())
		require.Equal(t, StatusDone, got.Status())
		require.False(t, got.Dirty())

		want, have := orig.Snapshot(), got.Snapshot()
		require.Equal(t, want.Len(), have.Len())
		for j := range want.Messages {
			require.Equal(t, want.Messages[j].Role(), have.Messages[j].Role())
			require.Equal(t, model.PlainText(want.Messages[j].Parts()), model.PlainText(have.Messages[j].Parts()))
		}
		require.Equal(t, want.Usage, have.Usage)
	}

	// The key was not persisted but is restored from the alias.
	require.Equal(t, "sk-test", loaded[0].Instance().APIKey)
	h, err := g.mgr.Reply(context.Background(), a.ID(), "again")
	require.NoError(t, err)
	require.NotNil(t, h)
	g.wait(t)
	require.Equal(t, 4, loaded[0].Snapshot().Len())
}

func TestLoad_SkipsBrokenTasks(t *testing.T) {
	for _, broken := range []string{"missing", "corrupt"} {
		t.Run(broken, func(t *testing.T) {
			f := newFixture(t, &scriptedClient{}, "")
			ctx := &model.Context{}
			ctx.Append(model.NewUserMessage(model.Text("hi")))
			for _, id := range []string{"good-1", "good-2"} {
				require.NoError(t, f.store.SaveTask(&storage.TaskRecord{ID: id, Name: id, Status: int(StatusDone), Context: ctx}))
			}
			if broken == "corrupt" {
				require.NoError(t, os.WriteFile(filepath.Join(f.store.Dir(), "bad.json"), []byte(`{"task_id":`), 0600))
			}
			require.NoError(t, f.store.SaveManifest(storage.Manifest{TaskList: []string{"good-1", "bad", "good-2"}}))

			require.NoError(t, f.mgr.Load(context.Background()))
			got := f.mgr.Tasks()
			require.Len(t, got, 2)
			require.Equal(t, "good-1", got[0].ID())
			require.Equal(t, "good-2", got[1].ID())
			require.Nil(t, f.mgr.Get("bad"))
		})
	}
}

func TestLoad_AbsentManifest(t *testing.T) {
	f := newFixture(t, &scriptedClient{}, "")
	require.NoError(t, f.mgr.Load(context.Background()))
	require.Empty(t, f.mgr.Tasks())
}

func TestLoad_RunningBecomesFailed(t *testing.T) {
	f := newFixture(t, &scriptedClient{}, "")
	require.NoError(t, f.store.SaveTask(&storage.TaskRecord{ID: "t", Name: "t", Status: int(StatusRunning), Context: &model.Context{}}))
	require.NoError(t, f.store.SaveTask(&storage.TaskRecord{ID: "weird", Name: "w", Status: 42, Context: &model.Context{}}))
	require.NoError(t, f.store.SaveManifest(storage.Manifest{TaskList: []string{"t", "weird"}}))

	require.NoError(t, f.mgr.Load(context.Background()))
	require.Len(t, f.mgr.Tasks(), 1)
	task := f.mgr.Get("t")
	require.Equal(t, StatusFailed, task.Status())
	require.Equal(t, interruptedReason, task.Failure())
	require.True(t, task.Dirty())
}

func TestLoad_ChangedAliasDropsKey(t *testing.T) {
	f := newFixture(t, &scriptedClient{}, "")
	require.NoError(t, f.store.SaveTask(&storage.TaskRecord{
		ID: "t", Name: "t", Status: int(StatusDone), Context: &model.Context{},
		Model: storage.ModelBinding{Alias: "chat", BaseURL: "http://elsewhere.invalid", ModelName: "m"},
	}))
	require.NoError(t, f.store.SaveManifest(storage.Manifest{TaskList: []string{"t"}}))
	require.NoError(t, f.mgr.Load(context.Background()))

	inst := f.mgr.Get("t").Instance()
	require.Equal(t, "http://elsewhere.invalid", inst.BaseURL)
	require.Empty(t, inst.APIKey)
	_, err := f.mgr.Reply(context.Background(), "t", "hello?")
	require.ErrorIs(t, err, provider.ErrMissingAPIKey)
}

func TestSave_JoinsErrorsAndKeepsDirty(t *testing.T) {
	client := &scriptedClient{chunks: helloStream, gate: make(chan struct{})}
	f := newFixture(t, client, "")
	a, err := f.mgr.SubmitUserMessage(context.Background(), "a")
	require.NoError(t, err)
	b, err := f.mgr.SubmitUserMessage(context.Background(), "b")
	require.NoError(t, err)

	// A directory where a's record belongs makes its write fail.
	require.NoError(t, os.Mkdir(filepath.Join(f.store.Dir(), a.ID()+".json"), 0700))

	err = f.mgr.Save()
	require.Error(t, err)
	var se *storage.StoreError
	require.True(t, errors.As(err, &se))
	require.Equal(t, a.ID(), se.ID)
	require.True(t, a.Dirty())
	require.False(t, b.Dirty())

	close(client.gate)
	f.wait(t)
	require.Equal(t, StatusDone, a.Status(), "a failed save does not fail the turn")
}

// =============================================================================
// REMOVE / PRUNE TESTS
// =============================================================================

func TestRemove(t *testing.T) {
	client := &scriptedClient{chunks: helloStream}
	f := newFixture(t, client, "")
	ctx := context.Background()

	keep, err := f.mgr.SubmitUserMessage(ctx, "keep me")
	require.NoError(t, err)
	gone, err := f.mgr.SubmitUserMessage(ctx, "drop me")
	require.NoError(t, err)
	f.wait(t)
	drain(f.events)

	require.NoError(t, f.mgr.Remove(gone.ID()))
	require.Nil(t, f.mgr.Get(gone.ID()))
	require.Len(t, f.mgr.Tasks(), 1)

	_, err = f.store.LoadTask(gone.ID())
	require.True(t, errors.Is(err, storage.ErrTaskNotFound))
	manifest, err := f.store.LoadManifest()
	require.NoError(t, err)
	require.Equal(t, []string{keep.ID()}, manifest.TaskList)

	var removed bool
	for _, e := range drain(f.events) {
		if r, ok := e.(TaskRemoved); ok && r.TaskID == gone.ID() {
			removed = true
		}
	}
	require.True(t, removed, "expected TaskRemoved event")

	require.True(t, errors.Is(f.mgr.Remove(gone.ID()), ErrUnknownTask))
}

func TestRemove_RunningIsBusy(t *testing.T) {
	client := &scriptedClient{chunks: helloStream, gate: make(chan struct{})}
	f := newFixture(t, client, "")

	task, err := f.mgr.SubmitUserMessage(context.Background(), "slow")
	require.NoError(t, err)
	require.True(t, errors.Is(f.mgr.Remove(task.ID()), ErrTaskBusy))

	close(client.gate)
	f.wait(t)
	require.NoError(t, f.mgr.Remove(task.ID()))
}

func TestPrune(t *testing.T) {
	f := newFixture(t, &scriptedClient{chunks: helloStream}, "")
	task, err := f.mgr.SubmitUserMessage(context.Background(), "listed")
	require.NoError(t, err)
	f.wait(t)

	orphan := &storage.TaskRecord{ID: "orphan-1", Context: &model.Context{}}
	require.NoError(t, f.store.SaveTask(orphan))

	removed, err := f.mgr.Prune()
	require.NoError(t, err)
	require.Equal(t, []string{"orphan-1"}, removed)

	_, err = f.store.LoadTask(task.ID())
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(f.store.Dir(), "orphan-1.json"))
	require.True(t, errors.Is(err, os.ErrNotExist))
}
