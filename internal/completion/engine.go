// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package completion

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"
	"pkt.systems/pslog"

	"github.com/jeranaias/flicker/internal/cloud"
	"github.com/jeranaias/flicker/internal/logx"
	"github.com/jeranaias/flicker/internal/model"
	"github.com/jeranaias/flicker/internal/provider"
	"github.com/jeranaias/flicker/internal/worker"
)

// ErrNoFinishReason is returned when a stream closes before any chunk
// carried a finish reason.
var ErrNoFinishReason = errors.New("stream ended without a finish reason")

// ChatClient is the provider surface the engine needs. *cloud.Client implements it.
type ChatClient interface {
	Chat(ctx context.Context, req cloud.ChatRequest) (*cloud.ChatResponse, error)
	ChatStream(ctx context.Context, req cloud.ChatRequest, callback cloud.StreamCallback) error
}

// ClientFactory builds a client for one resolved instance.
type ClientFactory func(inst provider.Instance) ChatClient

// CloudFactory returns a factory of cloud clients sharing one limiter.
func CloudFactory(limiter *rate.Limiter, log pslog.Logger) ClientFactory {
	return func(inst provider.Instance) ChatClient {
		return cloud.NewClient(inst.BaseURL, inst.APIKey, cloud.WithLimiter(limiter), cloud.WithLogger(log))
	}
}

// Outcome is the terminal result of a streaming completion.
type Outcome struct {
	Finish FinishReason
	Usage  model.Usage
	Chunks int
}

// Engine runs completions as workers in the injected registry.
type Engine struct {
	reg       *worker.Registry
	newClient ClientFactory
	log       pslog.Logger
}

// NewEngine creates an engine. A nil factory uses CloudFactory without throttling.
func NewEngine(reg *worker.Registry, factory ClientFactory, log pslog.Logger) *Engine {
	log = logx.Or(log, context.Background())
	if factory == nil {
		factory = CloudFactory(nil, log)
	}
	return &Engine{reg: reg, newClient: factory, log: log}
}

// Registry returns the registry the engine spawns into.
func (e *Engine) Registry() *worker.Registry {
	return e.reg
}

func request(inst provider.Instance, snapshot *model.Context) cloud.ChatRequest {
	return cloud.ChatRequest{
		Model:    inst.ModelName,
		Messages: WireMessages(snapshot.WireMessages()),
	}
}

// Stream starts a streaming completion of snapshot against inst. onChunk
// runs on the worker goroutine for every parsed chunk, in arrival order;
// onFinish (may be nil) receives the terminal result. Configuration errors
// are returned before any worker is spawned.
func (e *Engine) Stream(ctx context.Context, inst provider.Instance, snapshot *model.Context,
	onChunk func(StreamChunk) error, onFinish func(Outcome, error)) (*worker.Handle[Outcome], error) {
	if err := provider.Require(inst); err != nil {
		return nil, err
	}
	client := e.newClient(inst)
	req := request(inst, snapshot)
	log := e.log.With("model", inst.ModelName, "alias", inst.Alias, "key", inst.Fingerprint())

	h := worker.Spawn(ctx, e.reg, worker.Job[StreamChunk, Outcome]{
		Family: worker.FamilyCompletion,
		Run: func(ctx context.Context, emit func(StreamChunk) error) (Outcome, error) {
			log.Info("completion started", "messages", len(req.Messages))
			return runStream(ctx, client, req, emit)
		},
		OnProgress: onChunk,
		OnFinish: func(out Outcome, err error) {
			if err == nil {
				log.Info("completion finished", "finish", string(out.Finish), "chunks", out.Chunks, "tokens", out.Usage.TotalTokens)
			}
			if onFinish != nil {
				onFinish(out, err)
			}
		},
	})
	return h, nil
}

func runStream(ctx context.Context, client ChatClient, req cloud.ChatRequest, emit func(StreamChunk) error) (Outcome, error) {
	var out Outcome
	err := client.ChatStream(ctx, req, func(raw cloud.StreamChunk) error {
		chunk, err := Parse(raw)
		if err != nil {
			return err
		}
		if out.Finish == FinishStop {
			// Only usage trailers are accepted once the turn has stopped.
			if chunk.Usage == nil {
				return nil
			}
			chunk = StreamChunk{Delta: model.NewAssistantMessage(), Usage: chunk.Usage}
		}
		if chunk.Usage != nil {
			out.Usage = out.Usage.Add(*chunk.Usage)
		}
		if chunk.Finished() {
			out.Finish = chunk.Finish
		}
		out.Chunks++
		if err := emit(chunk); err != nil {
			return err
		}
		if chunk.Finish == FinishContentFilter {
			return cloud.ErrStopStream
		}
		return nil
	})
	if err != nil {
		return out, err
	}
	if out.Finish == FinishNone {
		return out, ErrNoFinishReason
	}
	return out, nil
}

// Complete issues one non-streaming request and returns the parsed reply.
func (e *Engine) Complete(ctx context.Context, inst provider.Instance, snapshot *model.Context) (Reply, error) {
	if err := provider.Require(inst); err != nil {
		return Reply{}, err
	}
	resp, err := e.newClient(inst).Chat(ctx, request(inst, snapshot))
	if err != nil {
		return Reply{}, fmt.Errorf("completion request: %w", err)
	}
	return ParseResponse(resp)
}
