// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package worker runs units of work off the caller's goroutine and tracks
// them in an explicitly constructed registry.
//
// Every family of background work (completion streams, intent parsing,
// file-system scans, embedding batches) is an instantiation of Spawn:
//
//   - Spawn registers the worker under a fresh instance id and returns at once.
//   - The job emits zero or more progress values, delivered in order on the
//     worker goroutine.
//   - Exactly one terminal result is recorded. OnFinish runs, the registry
//     entry is removed, then the handle's Done channel is closed. Emission
//     after that point returns ErrFinished.
//   - Errors and panics inside the job are caught at the worker boundary,
//     logged, and become the terminal error.
//
// Guard gives a family single-flight semantics: a second TryAcquire while
// one holder is active fails fast with ErrAlreadyRunning.
package worker
