// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import "fmt"

// =============================================================================
// TASK STATUS
// =============================================================================

// Status is the lifecycle state of a conversation task. The ordinals are
// the persisted task_status values.
type Status int

const (
	// StatusPending indicates the task has not been started
	StatusPending Status = 0

	// StatusRunning indicates a completion is streaming
	StatusRunning Status = 1

	// StatusDone indicates the last turn finished successfully
	StatusDone Status = 2

	// StatusFailed indicates the last turn failed; the task carries the reason
	StatusFailed Status = 3
)

// String returns the string representation of the task status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusRunning:
		return "Running"
	case StatusDone:
		return "Done"
	case StatusFailed:
		return "Failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// MarshalText encodes the status by name in summaries.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s >= StatusPending && s <= StatusFailed
}

// Terminal reports whether s ends a turn.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// validTransition reports whether a task may move from one status to another.
// Pending -> Running -> Done/Failed, and a finished task may run a new turn.
func validTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning
	case StatusRunning:
		return to == StatusDone || to == StatusFailed
	case StatusDone, StatusFailed:
		return to == StatusRunning
	default:
		return false
	}
}
