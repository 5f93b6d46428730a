// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"os"
	"strconv"

	"github.com/jeranaias/flicker/internal/cloud"
	"github.com/jeranaias/flicker/internal/completion"
	"github.com/jeranaias/flicker/internal/embedding"
	"github.com/jeranaias/flicker/internal/offline"
	"github.com/jeranaias/flicker/internal/provider"
)

// offlineFromEnv reads FLICKER_OFFLINE; unparseable values count as off.
func offlineFromEnv() bool {
	on, _ := strconv.ParseBool(os.Getenv("FLICKER_OFFLINE"))
	return on
}

// blockedClient fails every request with the policy error.
type blockedClient struct {
	err error
}

func (c blockedClient) Chat(context.Context, cloud.ChatRequest) (*cloud.ChatResponse, error) {
	return nil, c.err
}

func (c blockedClient) ChatStream(context.Context, cloud.ChatRequest, cloud.StreamCallback) error {
	return c.err
}

func (c blockedClient) Embeddings(context.Context, cloud.EmbeddingRequest) (*cloud.EmbeddingResponse, error) {
	return nil, c.err
}

func guardChat(policy offline.Policy, next completion.ClientFactory) completion.ClientFactory {
	return func(inst provider.Instance) completion.ChatClient {
		if err := policy.CheckURL(inst.BaseURL); err != nil {
			return blockedClient{err: err}
		}
		return next(inst)
	}
}

func guardEmbed(policy offline.Policy, next embedding.ClientFactory) embedding.ClientFactory {
	return func(inst provider.Instance) embedding.Client {
		if err := policy.CheckURL(inst.BaseURL); err != nil {
			return blockedClient{err: err}
		}
		return next(inst)
	}
}
