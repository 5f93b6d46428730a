// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

// Event is a UI-facing task notification. The variants are TaskCreated,
// TaskUpdated and TaskRemoved; consumers switch on the concrete type.
type Event interface {
	// EventTaskID returns the id of the task the event is about.
	EventTaskID() string
	isEvent()
}

// TaskCreated is published when a conversation is opened.
type TaskCreated struct {
	Task *Task
}

// TaskUpdated is published whenever a task's conversation or status changes.
type TaskUpdated struct {
	TaskID string
	Status Status
}

// TaskRemoved is published after a task is deleted.
type TaskRemoved struct {
	TaskID string
}

func (e TaskCreated) EventTaskID() string { return e.Task.ID() }
func (e TaskUpdated) EventTaskID() string { return e.TaskID }
func (e TaskRemoved) EventTaskID() string { return e.TaskID }

func (TaskCreated) isEvent() {}
func (TaskUpdated) isEvent() {}
func (TaskRemoved) isEvent() {}
