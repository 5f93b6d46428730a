// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pkt.systems/pslog"

	"github.com/jeranaias/flicker/internal/completion"
	"github.com/jeranaias/flicker/internal/model"
	"github.com/jeranaias/flicker/internal/provider"
	"github.com/jeranaias/flicker/internal/storage"
	"github.com/jeranaias/flicker/internal/worker"
)

// ErrTaskBusy is returned when a turn is started while one is streaming.
var ErrTaskBusy = errors.New("task is already running")

// interruptedReason marks tasks persisted mid-stream.
const interruptedReason = "interrupted before completion"

// Streamer runs streaming completions. *completion.Engine implements it.
type Streamer interface {
	Stream(ctx context.Context, inst provider.Instance, snapshot *model.Context,
		onChunk func(completion.StreamChunk) error, onFinish func(completion.Outcome, error)) (*worker.Handle[completion.Outcome], error)
}

// env is what a task needs from its manager.
type env struct {
	streamer Streamer
	save     func() error
	publish  func(Event)
	log      pslog.Logger
}

// =============================================================================
// TASK STRUCTURE
// =============================================================================

// Task is one conversation: its history, bound model and lifecycle status.
type Task struct {
	id  string
	env *env
	log pslog.Logger

	// mu protects everything below
	mu        sync.Mutex
	name      string
	status    Status
	failure   string
	context   *model.Context
	inst      provider.Instance
	dirty     bool
	rev       uint64
	startTime time.Time
	endTime   time.Time
}

// Info is a point-in-time summary of a task.
type Info struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Failure  string        `json:"failure,omitempty"`
	Model    string        `json:"model"`
	Messages int           `json:"messages"`
	Usage    model.Usage   `json:"usage"`
	Duration time.Duration `json:"duration"`
}

func newTask(id, name string, inst provider.Instance, e *env) *Task {
	return &Task{
		id:      id,
		env:     e,
		log:     e.log.With("task", id),
		name:    name,
		status:  StatusPending,
		context: &model.Context{},
		inst:    inst,
		dirty:   true,
	}
}

// =============================================================================
// ACCESSORS
// =============================================================================

// ID returns the task id, stable for the task's lifetime.
func (t *Task) ID() string { return t.id }

// Name returns the display name.
func (t *Task) Name() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.name
}

// Status returns the current status.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Failure returns the reason of the last failed turn, or "".
func (t *Task) Failure() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failure
}

// Instance returns the bound model instance.
func (t *Task) Instance() provider.Instance {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inst
}

// Dirty reports whether the task changed since it was last saved.
func (t *Task) Dirty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dirty
}

// Snapshot returns a deep copy of the conversation context.
func (t *Task) Snapshot() *model.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.context.Clone()
}

// Info returns a summary of the task.
func (t *Task) Info() Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	info := Info{
		ID:       t.id,
		Name:     t.name,
		Status:   t.status,
		Failure:  t.failure,
		Model:    t.inst.Alias,
		Messages: t.context.Len(),
		Usage:    t.context.Usage,
	}
	if !t.startTime.IsZero() {
		end := t.endTime
		if end.IsZero() || t.status == StatusRunning {
			end = time.Now()
		}
		info.Duration = end.Sub(t.startTime)
	}
	return info
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// AppendUserMessage appends msg to the conversation and notifies observers.
func (t *Task) AppendUserMessage(msg *model.UserMessage) {
	t.mu.Lock()
	t.context.Append(msg)
	t.touch()
	status := t.status
	t.mu.Unlock()
	t.env.publish(TaskUpdated{TaskID: t.id, Status: status})
}

// Start streams a completion of the current conversation against the bound
// model and returns at once. The terminal status is Done or Failed; it is
// set, saved and published before the returned handle completes. A task
// that is already running returns ErrTaskBusy.
func (t *Task) Start(ctx context.Context) (*worker.Handle[completion.Outcome], error) {
	return t.start(ctx, nil)
}

// start optionally appends msg and starts the turn under one lock, so a
// busy task never receives a message it will not answer.
func (t *Task) start(ctx context.Context, msg *model.UserMessage) (*worker.Handle[completion.Outcome], error) {
	t.mu.Lock()
	if !validTransition(t.status, StatusRunning) {
		t.mu.Unlock()
		return nil, fmt.Errorf("task %s: %w", t.id, ErrTaskBusy)
	}
	if msg != nil {
		t.context.Append(msg)
	}
	t.status = StatusRunning
	t.failure = ""
	t.startTime = time.Now()
	t.endTime = time.Time{}
	t.touch()
	snapshot := t.context.Clone()
	inst := t.inst
	t.mu.Unlock()

	t.env.publish(TaskUpdated{TaskID: t.id, Status: StatusRunning})

	h, err := t.env.streamer.Stream(ctx, inst, snapshot, t.onChunk, t.onFinish)
	if err != nil {
		t.onFinish(completion.Outcome{}, err)
		return nil, err
	}
	return h, nil
}

// onChunk runs on the completion worker for every chunk, in order.
func (t *Task) onChunk(chunk completion.StreamChunk) error {
	t.mu.Lock()
	err := t.context.ApplyDelta(chunk.Delta)
	if err == nil {
		if chunk.Usage != nil {
			t.context.AddUsage(*chunk.Usage)
		}
		t.touch()
	}
	t.mu.Unlock()
	if err != nil {
		return err
	}

	t.env.publish(TaskUpdated{TaskID: t.id, Status: StatusRunning})
	if chunk.Finished() {
		if err := t.env.save(); err != nil {
			t.log.Warn("save after finished turn failed", "err", err)
		}
	}
	return nil
}

// onFinish records the terminal status, saves and notifies observers.
func (t *Task) onFinish(out completion.Outcome, err error) {
	t.mu.Lock()
	t.endTime = time.Now()
	if err != nil {
		t.status = StatusFailed
		t.failure = err.Error()
	} else {
		t.status = StatusDone
	}
	t.touch()
	status := t.status
	t.mu.Unlock()

	if err != nil {
		t.log.Error("turn failed", "err", err)
	} else {
		t.log.Info("turn finished", "finish", string(out.Finish), "tokens", out.Usage.TotalTokens)
	}
	if serr := t.env.save(); serr != nil {
		t.log.Warn("save after terminal status failed", "err", serr)
	}
	t.env.publish(TaskUpdated{TaskID: t.id, Status: status})
}

// touch marks the task dirty. Must be called with t.mu held.
func (t *Task) touch() {
	t.dirty = true
	t.rev++
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// Record returns the on-disk form of the task.
func (t *Task) Record() *storage.TaskRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recordLocked()
}

// record returns the on-disk form of a dirty task with the revision it
// captures. Clean tasks return ok == false.
func (t *Task) record() (rec *storage.TaskRecord, rev uint64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.dirty {
		return nil, 0, false
	}
	return t.recordLocked(), t.rev, true
}

func (t *Task) recordLocked() *storage.TaskRecord {
	return &storage.TaskRecord{
		ID:      t.id,
		Name:    t.name,
		Status:  int(t.status),
		Failure: t.failure,
		Context: t.context.Clone(),
		Model: storage.ModelBinding{
			Alias:     t.inst.Alias,
			BaseURL:   t.inst.BaseURL,
			ModelName: t.inst.ModelName,
		},
	}
}

// markSaved clears the dirty flag unless the task changed after rev was captured.
func (t *Task) markSaved(rev uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rev == rev {
		t.dirty = false
	}
}

// fromRecord rebuilds a clean task. A task saved while running is marked
// failed since its stream cannot be resumed.
func fromRecord(rec *storage.TaskRecord, inst provider.Instance, e *env) (*Task, error) {
	status := Status(rec.Status)
	if !status.Valid() {
		return nil, fmt.Errorf("task %s: unknown status %d", rec.ID, rec.Status)
	}
	t := newTask(rec.ID, rec.Name, inst, e)
	t.status = status
	t.failure = rec.Failure
	t.context = rec.Context
	t.dirty = false
	if status == StatusRunning {
		t.status = StatusFailed
		t.failure = interruptedReason
		t.dirty = true
	}
	return t, nil
}
