// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jeranaias/flicker/internal/model"
	"github.com/jeranaias/flicker/internal/util"
)

// ManifestFile names the task list document inside the store directory.
const ManifestFile = "manifest.json"

// =============================================================================
// STORED TYPES
// =============================================================================

// Manifest lists the persisted tasks in display order.
type Manifest struct {
	TaskList []string `json:"task_list"`
}

// ModelBinding records which model a task talks to. The API key is
// deliberately absent; it is resolved again by alias on load.
type ModelBinding struct {
	Alias     string `json:"alias"`
	BaseURL   string `json:"base_url"`
	ModelName string `json:"model_name"`
}

// TaskRecord is the on-disk form of one conversation task.
type TaskRecord struct {
	ID      string         `json:"task_id"`
	Name    string         `json:"task_name"`
	Status  int            `json:"task_status"`
	Failure string         `json:"task_failure,omitempty"`
	Context *model.Context `json:"task_context"`
	Model   ModelBinding   `json:"task_model"`
	SavedAt time.Time      `json:"saved_at"`
}

// =============================================================================
// STORE
// =============================================================================

// Store persists task records as JSON files in a single directory:
// one manifest plus one <task_id>.json per task.
type Store struct {
	dir string
}

// Open creates the store directory if needed.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, &StoreError{Op: "open", Message: "empty store directory"}
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, &StoreError{Op: "open", Message: "cannot create store directory", Err: err}
	}
	return &Store{dir: dir}, nil
}

// DefaultDir returns the tasks directory under the settings directory.
func DefaultDir(settingsDir string) string {
	return filepath.Join(settingsDir, "tasks")
}

// Dir returns the directory backing the store.
func (s *Store) Dir() string {
	return s.dir
}

// LoadManifest reads the manifest. An absent manifest is an empty task list.
func (s *Store) LoadManifest() (Manifest, error) {
	var m Manifest
	if err := util.ReadJSON(filepath.Join(s.dir, ManifestFile), &m); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Manifest{TaskList: []string{}}, nil
		}
		return Manifest{}, &StoreError{Op: "load manifest", Message: "unreadable manifest", Err: err}
	}
	if m.TaskList == nil {
		m.TaskList = []string{}
	}
	return m, nil
}

// SaveManifest rewrites the manifest atomically.
func (s *Store) SaveManifest(m Manifest) error {
	for _, id := range m.TaskList {
		if err := ValidateID(id); err != nil {
			return err
		}
	}
	if m.TaskList == nil {
		m.TaskList = []string{}
	}
	if err := util.WriteJSON(filepath.Join(s.dir, ManifestFile), m, 0600); err != nil {
		return &StoreError{Op: "save manifest", Message: "write failed", Err: err}
	}
	return nil
}

// SaveTask writes one task record atomically.
func (s *Store) SaveTask(rec *TaskRecord) error {
	if err := ValidateID(rec.ID); err != nil {
		return err
	}
	rec.SavedAt = time.Now()
	if err := util.WriteJSON(s.taskPath(rec.ID), rec, 0600); err != nil {
		return &StoreError{Op: "save task", ID: rec.ID, Message: "write failed", Err: err}
	}
	return nil
}

// LoadTask reads one task record.
func (s *Store) LoadTask(id string) (*TaskRecord, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	var rec TaskRecord
	if err := util.ReadJSON(s.taskPath(id), &rec); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &StoreError{Op: "load task", ID: id, Message: ErrTaskNotFound.Message, Err: err}
		}
		return nil, &StoreError{Op: "load task", ID: id, Message: ErrCorruptRecord.Message, Err: err}
	}
	if rec.ID != id {
		return nil, &StoreError{Op: "load task", ID: id, Message: ErrCorruptRecord.Message,
			Err: fmt.Errorf("record carries task_id %q", rec.ID)}
	}
	if rec.Context == nil {
		rec.Context = &model.Context{}
	}
	return &rec, nil
}

// DeleteTask removes a task record. The manifest is left to the caller.
func (s *Store) DeleteTask(id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if err := os.Remove(s.taskPath(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &StoreError{Op: "delete task", ID: id, Message: ErrTaskNotFound.Message, Err: err}
		}
		return &StoreError{Op: "delete task", ID: id, Message: "remove failed", Err: err}
	}
	return nil
}

// Orphans returns the ids of task files the manifest does not list, sorted.
func (s *Store) Orphans() ([]string, error) {
	m, err := s.LoadManifest()
	if err != nil {
		return nil, err
	}
	listed := make(map[string]bool, len(m.TaskList))
	for _, id := range m.TaskList {
		listed[id] = true
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &StoreError{Op: "list", Message: "cannot read store directory", Err: err}
	}
	var out []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == ManifestFile || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		if ValidateID(id) == nil && !listed[id] {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) taskPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// ValidateID rejects ids that could escape the store directory or collide
// with the manifest.
func ValidateID(id string) error {
	if id == "" || len(id) > 128 {
		return &StoreError{Op: "validate", ID: id, Message: ErrInvalidID.Message}
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return &StoreError{Op: "validate", ID: id, Message: ErrInvalidID.Message}
		}
	}
	if id+".json" == ManifestFile {
		return &StoreError{Op: "validate", ID: id, Message: ErrInvalidID.Message}
	}
	return nil
}

// =============================================================================
// ERRORS
// =============================================================================

// Sentinel store errors. Use errors.Is to check for them; a returned
// *StoreError matches the sentinel with the same Message.
var (
	ErrTaskNotFound  = &StoreError{Message: "task not found"}
	ErrInvalidID     = &StoreError{Message: "invalid task id"}
	ErrCorruptRecord = &StoreError{Message: "corrupt task record"}
)

// StoreError represents a storage failure.
type StoreError struct {
	Op      string
	ID      string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.ID != "" {
		fmt.Fprintf(&b, " (%s)", e.ID)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support for comparing store errors.
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}
