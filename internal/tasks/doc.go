// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tasks owns conversation tasks: their history, lifecycle and
// persistence.
//
// # Key Types
//
//   - Task: one conversation bound to a model instance
//   - Status: Pending, Running, Done, Failed (ordinals are persisted)
//   - Manager: task list, submission, replies, Save and Load
//   - Event: TaskCreated / TaskUpdated, published on an eventbus.Bus
//
// # Usage
//
//	mgr := tasks.NewManager(store, directory, engine, bus, log)
//	if err := mgr.Load(ctx); err != nil {
//	    return err
//	}
//	task, err := mgr.SubmitUserMessage(ctx, "What's on my calendar?")
//
// Every finished turn saves the manager from the completion worker; Save
// calls are serialized by the manager.
package tasks
