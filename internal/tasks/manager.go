// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"pkt.systems/pslog"

	"github.com/jeranaias/flicker/internal/completion"
	"github.com/jeranaias/flicker/internal/eventbus"
	"github.com/jeranaias/flicker/internal/logx"
	"github.com/jeranaias/flicker/internal/model"
	"github.com/jeranaias/flicker/internal/provider"
	"github.com/jeranaias/flicker/internal/storage"
	"github.com/jeranaias/flicker/internal/worker"
)

// ErrUnknownTask is returned for ids the manager does not hold.
var ErrUnknownTask = errors.New("unknown task")

// maxNameRunes bounds the display name derived from the first message.
const maxNameRunes = 80

// Models resolves model aliases. *provider.Directory implements it.
type Models interface {
	Default() (provider.Instance, error)
	Resolve(alias string) (provider.Instance, error)
}

// =============================================================================
// TASK MANAGER
// =============================================================================

// Manager owns the list of conversation tasks and their persistence.
type Manager struct {
	store  *storage.Store
	models Models
	bus    *eventbus.Bus[Event]
	env    *env
	log    pslog.Logger

	mu    sync.RWMutex
	tasks []*Task
	byID  map[string]*Task

	// saveMu serializes Save; it is taken from completion workers too
	saveMu sync.Mutex
}

// NewManager creates an empty manager. A nil bus publishes nowhere.
func NewManager(store *storage.Store, models Models, streamer Streamer, bus *eventbus.Bus[Event], log pslog.Logger) *Manager {
	log = logx.Or(log, context.Background()).With("component", "tasks")
	m := &Manager{
		store:  store,
		models: models,
		bus:    bus,
		log:    log,
		byID:   make(map[string]*Task),
	}
	m.env = &env{
		streamer: streamer,
		save:     m.Save,
		publish:  bus.Publish,
		log:      log,
	}
	return m
}

// Events returns the bus task events are published on.
func (m *Manager) Events() *eventbus.Bus[Event] {
	return m.bus
}

// SubmitUserMessage opens a new conversation with text against the default
// model and starts its first turn. It returns once the turn is streaming.
func (m *Manager) SubmitUserMessage(ctx context.Context, text string) (*Task, error) {
	inst, err := m.models.Default()
	if err != nil {
		return nil, fmt.Errorf("cannot start conversation: %w", err)
	}
	if err := provider.Require(inst); err != nil {
		return nil, fmt.Errorf("cannot start conversation: %w", err)
	}

	t := newTask(uuid.NewString(), taskName(text), inst, m.env)
	t.context.Append(model.NewUserMessage(model.Text(text)))

	// The task is listed before it starts so saves issued by its worker include it.
	m.mu.Lock()
	m.tasks = append(m.tasks, t)
	m.byID[t.id] = t
	m.mu.Unlock()
	m.bus.Publish(TaskCreated{Task: t})
	m.log.Info("task created", "task", t.id, "model", inst.Alias)

	if _, err := t.Start(ctx); err != nil {
		return t, err
	}
	return t, nil
}

// Reply appends a follow-up user turn to an idle task and starts it.
func (m *Manager) Reply(ctx context.Context, id, text string) (*worker.Handle[completion.Outcome], error) {
	t := m.Get(id)
	if t == nil {
		return nil, fmt.Errorf("%w %q", ErrUnknownTask, id)
	}
	if err := provider.Require(t.Instance()); err != nil {
		return nil, fmt.Errorf("cannot reply: %w", err)
	}
	return t.start(ctx, model.NewUserMessage(model.Text(text)))
}

// Get returns the task with id, or nil.
func (m *Manager) Get(id string) *Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byID[id]
}

// Tasks returns the tasks in creation order.
func (m *Manager) Tasks() []*Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Task(nil), m.tasks...)
}

// Remove deletes an idle task from the list and from disk.
func (m *Manager) Remove(id string) error {
	t := m.Get(id)
	if t == nil {
		return fmt.Errorf("%w %q", ErrUnknownTask, id)
	}
	if t.Status() == StatusRunning {
		return ErrTaskBusy
	}

	m.mu.Lock()
	for i, other := range m.tasks {
		if other == t {
			m.tasks = append(m.tasks[:i], m.tasks[i+1:]...)
			break
		}
	}
	delete(m.byID, id)
	m.mu.Unlock()

	if err := m.Save(); err != nil {
		return err
	}
	// A task that was never saved has no file.
	if err := m.store.DeleteTask(id); err != nil && !errors.Is(err, storage.ErrTaskNotFound) {
		return err
	}
	m.bus.Publish(TaskRemoved{TaskID: id})
	m.log.Info("task removed", "task", id)
	return nil
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// Save rewrites the manifest, then writes every dirty task. A task's dirty
// flag is cleared only when its write succeeds; write errors are joined.
func (m *Manager) Save() error {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	tasks := m.Tasks()
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.id
	}

	var errs []error
	if err := m.store.SaveManifest(storage.Manifest{TaskList: ids}); err != nil {
		errs = append(errs, err)
	}
	written := 0
	for _, t := range tasks {
		rec, rev, ok := t.record()
		if !ok {
			continue
		}
		if err := m.store.SaveTask(rec); err != nil {
			errs = append(errs, err)
			continue
		}
		t.markSaved(rev)
		written++
	}
	m.log.Debug("tasks saved", "tasks", len(tasks), "written", written, "errors", len(errs))
	return errors.Join(errs...)
}

// Load replaces the task list with the persisted one. An absent manifest
// yields an empty list. Tasks that fail to load are logged and skipped.
func (m *Manager) Load(ctx context.Context) error {
	manifest, err := m.store.LoadManifest()
	if err != nil {
		return err
	}

	loaded := make([]*Task, 0, len(manifest.TaskList))
	byID := make(map[string]*Task, len(manifest.TaskList))
	for _, id := range manifest.TaskList {
		if err := ctx.Err(); err != nil {
			return err
		}
		if byID[id] != nil {
			m.log.Warn("skipping duplicate task id", "task", id)
			continue
		}
		rec, err := m.store.LoadTask(id)
		if err != nil {
			m.log.Warn("skipping task", "task", id, "err", err)
			continue
		}
		t, err := fromRecord(rec, m.rebind(rec.Model), m.env)
		if err != nil {
			m.log.Warn("skipping task", "task", id, "err", err)
			continue
		}
		loaded = append(loaded, t)
		byID[id] = t
	}

	m.mu.Lock()
	m.tasks = loaded
	m.byID = byID
	m.mu.Unlock()
	m.log.Info("tasks loaded", "tasks", len(loaded), "listed", len(manifest.TaskList))

	if orphans, err := m.store.Orphans(); err != nil {
		m.log.Debug("orphan check failed", "err", err)
	} else if len(orphans) > 0 {
		m.log.Warn("task files not listed in manifest", "count", len(orphans))
	}
	return nil
}

// Prune deletes task files the manifest does not list and returns their ids.
func (m *Manager) Prune() ([]string, error) {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	orphans, err := m.store.Orphans()
	if err != nil {
		return nil, err
	}
	var errs []error
	removed := make([]string, 0, len(orphans))
	for _, id := range orphans {
		if err := m.store.DeleteTask(id); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, id)
	}
	m.log.Info("orphan task files pruned", "removed", len(removed), "errors", len(errs))
	return removed, errors.Join(errs...)
}

// rebind restores the credentials of a persisted model binding. The key is
// taken from the alias only while it still points at the same endpoint and model.
func (m *Manager) rebind(b storage.ModelBinding) provider.Instance {
	inst := provider.Instance{Alias: b.Alias, BaseURL: b.BaseURL, ModelName: b.ModelName}
	current, err := m.models.Resolve(b.Alias)
	if err != nil {
		m.log.Debug("model alias no longer resolves", "alias", b.Alias, "err", err)
		return inst
	}
	if current.BaseURL == b.BaseURL && current.ModelName == b.ModelName {
		inst.APIKey = current.APIKey
	}
	return inst
}

// taskName derives a single-line display name from the first message.
func taskName(text string) string {
	name := strings.Join(strings.Fields(text), " ")
	runes := []rune(name)
	if len(runes) > maxNameRunes {
		name = string(runes[:maxNameRunes-3]) + "..."
	}
	if name == "" {
		name = "New conversation"
	}
	return name
}
