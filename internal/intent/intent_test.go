// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package intent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/flicker/internal/completion"
	"github.com/jeranaias/flicker/internal/logx"
	"github.com/jeranaias/flicker/internal/model"
	"github.com/jeranaias/flicker/internal/provider"
	"github.com/jeranaias/flicker/internal/worker"
)

// =============================================================================
// FENCE + DECODE TESTS
// =============================================================================

func TestExtractJSONBlock(t *testing.T) {
	_, err := ExtractJSONBlock("no fence here")
	require.ErrorIs(t, err, ErrMissingCodeBlock)

	_, err = ExtractJSONBlock("```json\n[1, 2")
	require.ErrorIs(t, err, ErrUnterminatedCodeBlock)
	require.NotErrorIs(t, err, ErrMissingCodeBlock)

	got, err := ExtractJSONBlock("intro\n```json\n  [1]  \n```\n```json\n[2]\n```")
	require.NoError(t, err)
	require.Equal(t, "[1]", got)
}

func TestParseResponse_WellFormed(t *testing.T) {
	text := "Here you go:\n```json\n[{\"name\":\"N\",\"reasoning\":\"R\",\"confidence\":0.9,\"params\":{}}]\n```"
	got, err := ParseResponse(text)
	require.NoError(t, err)
	require.Equal(t, []Instance{{Name: "N", Reasoning: "R", Confidence: 0.9, Params: map[string]any{}}}, got)
}

func TestParseResponse_PreservesModelOrder(t *testing.T) {
	text := "```json\n[" +
		`{"name":"low","reasoning":"r","confidence":0.1,"params":{}},` +
		`{"name":"high","reasoning":"r","confidence":0.8,"params":{"k":"v"}}` +
		"]\n```"
	got, err := ParseResponse(text)
	require.NoError(t, err)
	require.Equal(t, "low", got[0].Name)
	require.Equal(t, "high", got[1].Name)
	require.Equal(t, "v", got[1].Params["k"])
}

func TestParseResponse_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"object not array", `{"name":"N"}`, ErrNotArray},
		{"missing params", `[{"name":"N","reasoning":"R","confidence":0.9}]`, ErrInvalidInstance},
		{"confidence as string", `[{"name":"N","reasoning":"R","confidence":"high","params":{}}]`, ErrInvalidInstance},
		{"params null", `[{"name":"N","reasoning":"R","confidence":1,"params":null}]`, ErrInvalidInstance},
		{"one bad item fails all", `[{"name":"N","reasoning":"R","confidence":1,"params":{}}, 3]`, ErrInvalidInstance},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseResponse("```json\n" + tc.body + "\n```")
			require.ErrorIs(t, err, tc.want)
			require.Nil(t, got)
		})
	}

	_, err := ParseResponse("```json\n[oops\n```")
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to parse JSON")
}

// =============================================================================
// CATALOG TESTS
// =============================================================================

func TestCatalog(t *testing.T) {
	c, err := DefaultCatalog()
	require.NoError(t, err)
	require.Len(t, c.Intents(), 3)

	_, ok := c.Lookup("log_expense")
	require.True(t, ok)
	require.Error(t, c.Register(Predefined()[0]), "duplicate names are rejected")
	require.Error(t, c.Register(Intent{Name: "x"}), "schema is required")

	require.NoError(t, c.ValidateParams("log_expense", map[string]any{"title": "Lunch", "amount": 12.5, "currency": "USD"}))
	require.Error(t, c.ValidateParams("log_expense", map[string]any{"title": "Lunch", "amount": 12.5, "currency": "EUR"}))
	require.Error(t, c.ValidateParams("add_note", map[string]any{"title": "t"}))
	require.ErrorIs(t, c.ValidateParams("nope", nil), ErrUnknownIntent)
}

func TestRenderPrompt(t *testing.T) {
	c, err := DefaultCatalog()
	require.NoError(t, err)
	prompt, err := RenderPrompt(c)
	require.NoError(t, err)

	for _, in := range c.Intents() {
		require.Contains(t, prompt, "Intent name: "+in.Name)
		require.Contains(t, prompt, in.Description)
	}
	require.Contains(t, prompt, `"currency"`)
	require.Contains(t, prompt, "```json")
	require.Less(t, strings.Index(prompt, "Supported intents"), strings.Index(prompt, "Response format"))
}

// =============================================================================
// PARSER TESTS
// =============================================================================

type fakeCompleter struct {
	release chan struct{}
	reply   string
	err     error

	mu   sync.Mutex
	seen []*model.Context
}

func (f *fakeCompleter) Complete(ctx context.Context, inst provider.Instance, snapshot *model.Context) (completion.Reply, error) {
	f.mu.Lock()
	f.seen = append(f.seen, snapshot)
	f.mu.Unlock()
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return completion.Reply{}, f.err
	}
	return completion.Reply{Message: model.NewAssistantMessage(model.Text(f.reply)), Finish: completion.FinishStop}, nil
}

type fixedModel struct {
	inst provider.Instance
	err  error
}

func (m fixedModel) Multimodal() (provider.Instance, error) { return m.inst, m.err }

// switchModel lets a test break the configuration between calls.
type switchModel struct{ fixedModel }

var visionModel = fixedModel{inst: provider.Instance{Alias: "vision", BaseURL: "http://x", APIKey: "k", ModelName: "vl"}}

func newParser(t *testing.T, engine Completer, models ModelResolver, strict bool) (*Parser, *worker.Registry) {
	t.Helper()
	c, err := DefaultCatalog()
	require.NoError(t, err)
	reg := worker.NewRegistry(logx.Nop())
	return NewParser(c, engine, models, reg, Options{Strict: strict, Log: logx.Nop()}), reg
}

func waitCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

const goodReply = "```json\n[{\"name\":\"add_note\",\"reasoning\":\"minutes on screen\",\"confidence\":0.7,\"params\":{\"title\":\"t\",\"content\":\"c\"}}]\n```"

func TestParser_SingleFlight(t *testing.T) {
	fake := &fakeCompleter{release: make(chan struct{}), reply: goodReply}
	p, reg := newParser(t, fake, visionModel, false)
	shot := model.Image("data:image/png;base64,AA==")

	results := make(chan Result, 2)
	var parsingAtCallback bool
	h, err := p.StartParseScreen(context.Background(), shot, func(r Result) {
		parsingAtCallback = p.IsParsing()
		results <- r
	})
	require.NoError(t, err)
	require.True(t, p.IsParsing())

	_, err = p.StartParseScreen(context.Background(), shot, func(r Result) { results <- r })
	require.ErrorIs(t, err, worker.ErrAlreadyRunning)
	require.True(t, p.IsParsing())

	close(fake.release)
	res, err := h.Wait(waitCtx(t))
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Len(t, res.Intents, 1)
	require.Equal(t, "add_note", res.Intents[0].Name)

	require.Equal(t, res, <-results)
	require.Len(t, results, 0, "the rejected call must not deliver a result")
	require.False(t, parsingAtCallback)
	require.False(t, p.IsParsing())
	require.Equal(t, 0, reg.Len())

	// The user message carries the prompt followed by the screenshot.
	msg := fake.seen[0].Messages[0].(*model.UserMessage)
	require.Len(t, msg.Content, 2)
	require.Equal(t, shot, msg.Content[1])
}

func TestParser_FailureResults(t *testing.T) {
	tests := []struct {
		name   string
		fake   *fakeCompleter
		strict bool
		want   string
	}{
		{"transport", &fakeCompleter{err: errors.New("connection refused")}, false, "connection refused"},
		{"missing fence", &fakeCompleter{reply: "sorry, no idea"}, false, "missing"},
		{"strict schema", &fakeCompleter{reply: "```json\n[{\"name\":\"add_note\",\"reasoning\":\"r\",\"confidence\":1,\"params\":{}}]\n```"}, true, "add_note"},
		{"strict unknown intent", &fakeCompleter{reply: "```json\n[{\"name\":\"fly\",\"reasoning\":\"r\",\"confidence\":1,\"params\":{}}]\n```"}, true, "unknown intent"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, _ := newParser(t, tc.fake, visionModel, tc.strict)
			var got Result
			h, err := p.StartParseScreen(context.Background(), model.Image("u"), func(r Result) { got = r })
			require.NoError(t, err)

			res, err := h.Wait(waitCtx(t))
			require.Error(t, err)
			require.False(t, res.OK)
			require.Contains(t, res.Message, tc.want)
			require.Equal(t, res, got)
			require.False(t, p.IsParsing(), "guard is released on failure")
		})
	}
}

func TestParser_ConfigurationCheckedUpFront(t *testing.T) {
	fake := &fakeCompleter{reply: goodReply}

	p, reg := newParser(t, fake, fixedModel{inst: provider.Instance{Alias: "vision", BaseURL: "http://x", ModelName: "vl"}}, false)
	_, err := p.StartParseScreen(context.Background(), model.Image("u"), nil)
	require.ErrorIs(t, err, provider.ErrMissingAPIKey)
	require.False(t, p.IsParsing())
	require.Equal(t, 0, reg.Len())

	p, _ = newParser(t, fake, fixedModel{err: provider.ErrNoDefault}, false)
	_, err = p.StartParseScreen(context.Background(), model.Image("u"), nil)
	require.ErrorIs(t, err, provider.ErrNoDefault)
	require.Empty(t, fake.seen)
}

func TestParser_OverlapReportedBeforeConfiguration(t *testing.T) {
	fake := &fakeCompleter{release: make(chan struct{}), reply: goodReply}
	models := &switchModel{fixedModel: visionModel}
	p, reg := newParser(t, fake, models, false)

	h, err := p.StartParseScreen(context.Background(), model.Image("u"), nil)
	require.NoError(t, err)

	// A reload drops the multimodal alias while the first parse runs.
	models.fixedModel = fixedModel{err: provider.ErrNoDefault}
	_, err = p.StartParseScreen(context.Background(), model.Image("u"), nil)
	require.ErrorIs(t, err, worker.ErrAlreadyRunning)
	require.True(t, p.IsParsing())

	close(fake.release)
	_, err = h.Wait(waitCtx(t))
	require.NoError(t, err)

	_, err = p.StartParseScreen(context.Background(), model.Image("u"), nil)
	require.ErrorIs(t, err, provider.ErrNoDefault)
	require.False(t, p.IsParsing(), "a configuration error releases the guard")
	require.Equal(t, 0, reg.Len())
}
