// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
	"pkt.systems/pslog"

	"github.com/jeranaias/flicker/internal/cloud"
	"github.com/jeranaias/flicker/internal/logx"
	"github.com/jeranaias/flicker/internal/provider"
	"github.com/jeranaias/flicker/internal/worker"
)

const (
	// DefaultBatchSize is the number of texts sent per request.
	DefaultBatchSize = 128

	// DefaultCacheSize is the number of vectors kept in memory.
	DefaultCacheSize = 4096
)

// ErrEmptyInput is returned when there is nothing to embed.
var ErrEmptyInput = errors.New("no texts to embed")

// Client is the provider surface the service needs. *cloud.Client implements it.
type Client interface {
	Embeddings(ctx context.Context, req cloud.EmbeddingRequest) (*cloud.EmbeddingResponse, error)
}

// ClientFactory builds a client for one resolved instance.
type ClientFactory func(inst provider.Instance) Client

// CloudFactory returns a factory of cloud clients sharing one limiter.
func CloudFactory(limiter *rate.Limiter, log pslog.Logger) ClientFactory {
	return func(inst provider.Instance) Client {
		return cloud.NewClient(inst.BaseURL, inst.APIKey, cloud.WithLimiter(limiter), cloud.WithLogger(log))
	}
}

// Options tune one Embed call.
type Options struct {
	// BatchSize caps the texts per request (0 = DefaultBatchSize)
	BatchSize int

	// Dimensions requests shortened vectors where the model supports it (0 = model default)
	Dimensions int
}

// Progress is reported after every batch.
type Progress struct {
	Batch   int
	Batches int
	Done    int
	Total   int
	Tokens  int64
}

// Result holds one vector per input text, in input order.
type Result struct {
	Vectors [][]float32
	Tokens  int64
	Cached  int
	Elapsed time.Duration
}

type cacheKey struct {
	model      string
	dimensions int
	text       string
}

// Service computes embeddings in batches and caches them per model and text.
type Service struct {
	reg       *worker.Registry
	newClient ClientFactory
	cache     *lru.Cache[cacheKey, []float32]
	log       pslog.Logger
}

// NewService creates a service. A nil factory uses CloudFactory without
// throttling; cacheSize <= 0 uses DefaultCacheSize.
func NewService(reg *worker.Registry, factory ClientFactory, cacheSize int, log pslog.Logger) (*Service, error) {
	log = logx.Or(log, context.Background()).With("component", "embedding")
	if factory == nil {
		factory = CloudFactory(nil, log)
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[cacheKey, []float32](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &Service{reg: reg, newClient: factory, cache: cache, log: log}, nil
}

// Start runs Embed as a worker in the embedding family and returns at once.
// Configuration errors are returned before any worker is spawned.
func (s *Service) Start(ctx context.Context, inst provider.Instance, texts []string, opts Options,
	onProgress func(Progress) error, onFinish func(Result, error)) (*worker.Handle[Result], error) {
	if err := provider.Require(inst); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	texts = append([]string(nil), texts...)
	return worker.Spawn(ctx, s.reg, worker.Job[Progress, Result]{
		Family: worker.FamilyEmbedding,
		Run: func(ctx context.Context, emit func(Progress) error) (Result, error) {
			return s.embed(ctx, inst, texts, opts, emit)
		},
		OnProgress: onProgress,
		OnFinish:   onFinish,
	}), nil
}

// Embed computes the vectors of texts on the calling goroutine.
func (s *Service) Embed(ctx context.Context, inst provider.Instance, texts []string, opts Options) (Result, error) {
	if err := provider.Require(inst); err != nil {
		return Result{}, err
	}
	if len(texts) == 0 {
		return Result{}, ErrEmptyInput
	}
	return s.embed(ctx, inst, texts, opts, nil)
}

func (s *Service) embed(ctx context.Context, inst provider.Instance, texts []string, opts Options, emit func(Progress) error) (Result, error) {
	start := time.Now()
	size := opts.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}

	res := Result{Vectors: make([][]float32, len(texts))}
	var pending []int
	for i, text := range texts {
		if v, ok := s.cache.Get(cacheKey{inst.ModelName, opts.Dimensions, text}); ok {
			res.Vectors[i] = v
			res.Cached++
			continue
		}
		pending = append(pending, i)
	}

	log := s.log.With("model", inst.Alias)
	batches := (len(pending) + size - 1) / size
	log.Info("embedding started", "texts", len(texts), "cached", res.Cached, "batches", batches)

	client := s.newClient(inst)
	for b := 0; b < batches; b++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		idx := pending[b*size : min((b+1)*size, len(pending))]
		input := make([]string, len(idx))
		for j, i := range idx {
			input[j] = texts[i]
		}

		batchStart := time.Now()
		resp, err := client.Embeddings(ctx, cloud.EmbeddingRequest{
			Model:      inst.ModelName,
			Input:      input,
			Dimensions: opts.Dimensions,
		})
		if err != nil {
			return res, fmt.Errorf("embedding batch %d/%d: %w", b+1, batches, err)
		}
		if len(resp.Data) != len(input) {
			return res, fmt.Errorf("embedding batch %d/%d: %d vectors for %d inputs", b+1, batches, len(resp.Data), len(input))
		}
		for j, e := range resp.Data {
			pos := j
			if e.Index >= 0 && e.Index < len(input) {
				pos = e.Index
			}
			i := idx[pos]
			res.Vectors[i] = e.Embedding
			s.cache.Add(cacheKey{inst.ModelName, opts.Dimensions, texts[i]}, e.Embedding)
		}

		tokens := resp.Usage.TotalTokens
		if tokens <= 0 {
			tokens = resp.Usage.PromptTokens
		}
		res.Tokens += tokens
		elapsed := time.Since(batchStart).Seconds()
		tps := 0.0
		if elapsed > 0 {
			tps = float64(tokens) / elapsed
		}
		log.Debug("embedding batch done", "batch", b+1, "batches", batches, "tokens", tokens, "tokens_per_sec", fmt.Sprintf("%.1f", tps))

		if emit != nil {
			p := Progress{Batch: b + 1, Batches: batches, Done: min((b+1)*size, len(pending)) + res.Cached, Total: len(texts), Tokens: res.Tokens}
			if err := emit(p); err != nil {
				return res, err
			}
		}
	}

	res.Elapsed = time.Since(start)
	log.Info("embedding finished", "texts", len(texts), "tokens", res.Tokens, "elapsed", res.Elapsed)
	return res, nil
}
