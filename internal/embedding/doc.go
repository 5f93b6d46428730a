// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package embedding computes text embeddings against the embedding model
// of an OpenAI-compatible provider.
//
// Texts are sent in batches of Options.BatchSize. Vectors already computed
// for the same model, dimensions and text are served from an in-memory LRU
// and never re-requested. Start runs the same work as a worker in the
// embedding family and reports a Progress after each batch.
package embedding
