// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package offline restricts provider traffic for air-gapped use.
//
// With the policy enabled only loopback endpoints (a local model server such
// as Ollama or llama.cpp behind an OpenAI-compatible API) may be contacted.
// Non-http schemes are always refused.
//
// # Usage
//
//	policy := offline.Policy{Enabled: true}
//	if err := policy.CheckURL(inst.BaseURL); err != nil {
//	    return err
//	}
package offline
