// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides task persistence for flicker.
//
// A store is a directory holding a manifest (the ordered task id list) and
// one JSON record per task. Every write goes through util.WriteJSON, so a
// crash leaves either the old or the new document, never a torn one.
//
// # Key Types
//
//   - Store: manifest and task record reads and writes
//   - TaskRecord: serializable task with its context and model binding
//   - StoreError: typed failure, comparable with errors.Is
//
// # Usage
//
//	store, err := storage.Open(storage.DefaultDir(settingsDir))
//	err = store.SaveTask(&storage.TaskRecord{ID: id, Context: ctx})
//	err = store.SaveManifest(storage.Manifest{TaskList: ids})
//
// # Storage Location
//
// Tasks are stored in ~/.flicker/tasks/ unless FLICKER_HOME is set.
package storage
