// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package intent

import (
	"context"
	"fmt"

	"pkt.systems/pslog"

	"github.com/jeranaias/flicker/internal/completion"
	"github.com/jeranaias/flicker/internal/logx"
	"github.com/jeranaias/flicker/internal/model"
	"github.com/jeranaias/flicker/internal/provider"
	"github.com/jeranaias/flicker/internal/worker"
)

// Result is the terminal outcome of one parse.
type Result struct {
	OK      bool       `json:"ok"`
	Message string     `json:"message,omitempty"`
	Intents []Instance `json:"intents"`
}

// Completer issues non-streaming completions. *completion.Engine implements it.
type Completer interface {
	Complete(ctx context.Context, inst provider.Instance, snapshot *model.Context) (completion.Reply, error)
}

// ModelResolver supplies the multimodal model. *provider.Directory implements it.
type ModelResolver interface {
	Multimodal() (provider.Instance, error)
}

// Options configures a Parser.
type Options struct {
	// Strict rejects intents missing from the catalog and params that fail
	// the intent's schema.
	Strict bool
	Log    pslog.Logger
}

// Parser runs single-flight screenshot parses.
type Parser struct {
	catalog *Catalog
	engine  Completer
	models  ModelResolver
	reg     *worker.Registry
	guard   *worker.Guard
	strict  bool
	log     pslog.Logger
}

// NewParser creates a parser. The registry is shared with the other task families.
func NewParser(catalog *Catalog, engine Completer, models ModelResolver, reg *worker.Registry, opts Options) *Parser {
	return &Parser{
		catalog: catalog,
		engine:  engine,
		models:  models,
		reg:     reg,
		guard:   worker.NewGuard("intent parser"),
		strict:  opts.Strict,
		log:     logx.Or(opts.Log, context.Background()).With("component", "intent"),
	}
}

// IsParsing reports whether a parse is in flight.
func (p *Parser) IsParsing() bool {
	return p.guard.Active()
}

// StartParseScreen starts parsing screenshot and returns at once. Missing
// model configuration and an in-flight parse fail synchronously; an
// in-flight parse is reported before any configuration problem. Otherwise
// callback (may be nil) receives exactly one Result after the in-flight
// flag has been cleared.
func (p *Parser) StartParseScreen(ctx context.Context, screenshot model.ImagePart, callback func(Result)) (*worker.Handle[Result], error) {
	if err := p.guard.TryAcquire(); err != nil {
		return nil, err
	}
	inst, err := p.models.Multimodal()
	if err == nil {
		err = provider.Require(inst)
	}
	if err != nil {
		p.guard.Release()
		return nil, fmt.Errorf("intent parsing unavailable: %w", err)
	}

	h := worker.Spawn(ctx, p.reg, worker.Job[struct{}, Result]{
		Family: worker.FamilyIntent,
		Run: func(ctx context.Context, _ func(struct{}) error) (Result, error) {
			intents, err := p.parse(ctx, inst, screenshot)
			if err != nil {
				return Result{OK: false, Message: err.Error()}, err
			}
			return Result{OK: true, Intents: intents}, nil
		},
		OnFinish: func(res Result, err error) {
			if err != nil && res.Message == "" {
				res = Result{OK: false, Message: err.Error()}
			}
			p.guard.Release()
			p.log.Info("intent parsing finished", "ok", res.OK, "intents", len(res.Intents))
			if callback != nil {
				callback(res)
			}
		},
	})
	return h, nil
}

func (p *Parser) parse(ctx context.Context, inst provider.Instance, screenshot model.ImagePart) ([]Instance, error) {
	prompt, err := RenderPrompt(p.catalog)
	if err != nil {
		return nil, err
	}
	conv := &model.Context{}
	conv.Append(model.NewUserMessage(model.Text(prompt), screenshot))

	reply, err := p.engine.Complete(ctx, inst, conv)
	if err != nil {
		return nil, err
	}
	text := model.PlainText(reply.Message.Content)
	p.log.Debug("intent reply received", "chars", len(text), "tokens", reply.Usage.TotalTokens)

	intents, err := ParseResponse(text)
	if err != nil {
		return nil, err
	}
	if p.strict {
		for _, in := range intents {
			if err := p.catalog.ValidateParams(in.Name, in.Params); err != nil {
				return nil, err
			}
		}
	}
	return intents, nil
}
