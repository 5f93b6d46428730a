// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/flicker/internal/cloud"
	"github.com/jeranaias/flicker/internal/completion"
	"github.com/jeranaias/flicker/internal/config"
	"github.com/jeranaias/flicker/internal/embedding"
	"github.com/jeranaias/flicker/internal/index"
	"github.com/jeranaias/flicker/internal/intent"
	"github.com/jeranaias/flicker/internal/logx"
	"github.com/jeranaias/flicker/internal/provider"
)

// =============================================================================
// FIXTURES
// =============================================================================

var helloStream = []string{
	`{"choices":[{"delta":{"role":"assistant","content":"Hel"}}]}`,
	`{"choices":[{"delta":{"content":"lo!"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`,
}

type fakeChat struct {
	reply string
}

func (c *fakeChat) Chat(ctx context.Context, req cloud.ChatRequest) (*cloud.ChatResponse, error) {
	return &cloud.ChatResponse{Choices: []cloud.ChatChoice{{
		Message:      cloud.ResponseMessage{Role: "assistant", Content: cloud.MessageContent{Text: c.reply}},
		FinishReason: "stop",
	}}}, nil
}

func (c *fakeChat) ChatStream(ctx context.Context, req cloud.ChatRequest, cb cloud.StreamCallback) error {
	for _, s := range helloStream {
		var chunk cloud.StreamChunk
		if err := json.Unmarshal([]byte(s), &chunk); err != nil {
			return err
		}
		if err := cb(chunk); err != nil {
			if errors.Is(err, cloud.ErrStopStream) {
				return nil
			}
			return err
		}
	}
	return nil
}

type fakeEmbed struct{}

func (fakeEmbed) Embeddings(ctx context.Context, req cloud.EmbeddingRequest) (*cloud.EmbeddingResponse, error) {
	resp := &cloud.EmbeddingResponse{Model: req.Model, Usage: cloud.Usage{TotalTokens: int64(len(req.Input))}}
	for i := range req.Input {
		resp.Data = append(resp.Data, cloud.Embedding{Index: i, Embedding: []float32{1, 0}})
	}
	return resp, nil
}

type harness struct {
	home string
	chat *fakeChat
}

func newHarness(t *testing.T, apiKey string) *harness {
	t.Helper()
	home := t.TempDir()
	s := config.Default()
	s.DefaultModelAlias = "chat"
	s.DefaultMultimodalModelAlias = "vision"
	s.DefaultEmbedModelAlias = "embed"
	s.ModelProviders = []config.ModelProvider{{ProviderName: "fake", BaseURL: "http://fake.invalid/v1", APIKey: apiKey}}
	s.ModelRefs = []config.ModelRef{
		{Alias: "chat", ProviderName: "fake", ModelName: "m"},
		{Alias: "vision", ProviderName: "fake", ModelName: "vl"},
		{Alias: "embed", ProviderName: "fake", ModelName: "e"},
	}
	require.NoError(t, s.Save(filepath.Join(home, "settings.json")))
	return &harness{home: home, chat: &fakeChat{}}
}

func (h *harness) run(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = Execute(context.Background(), args, Options{
		Home:         h.home,
		Out:          &out,
		ErrOut:       &errOut,
		Log:          logx.Nop(),
		ChatClients:  func(provider.Instance) completion.ChatClient { return h.chat },
		EmbedClients: func(provider.Instance) embedding.Client { return fakeEmbed{} },
	})
	return code, out.String(), errOut.String()
}

type listedTask struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Messages int    `json:"messages"`
}

func (h *harness) list(t *testing.T) []listedTask {
	t.Helper()
	code, out, stderr := h.run(t, "tasks", "list", "--json")
	require.Zero(t, code, stderr)
	var got []listedTask
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	return got
}

// =============================================================================
// CONVERSATION TESTS
// =============================================================================

func TestChat_StreamsAndSaves(t *testing.T) {
	h := newHarness(t, "sk-test")

	code, out, stderr := h.run(t, "chat", "hello", "there")
	require.Zero(t, code, stderr)
	require.Equal(t, "Hello!\n", out)
	require.Contains(t, stderr, "Done")
	require.Contains(t, stderr, "5 tokens")

	listed := h.list(t)
	require.Len(t, listed, 1)
	require.Equal(t, "hello there", listed[0].Name)
	require.Equal(t, "Done", listed[0].Status)
	require.Equal(t, 2, listed[0].Messages)

	code, out, stderr = h.run(t, "reply", shortID(listed[0].ID), "again")
	require.Zero(t, code, stderr)
	require.Equal(t, "Hello!\n", out)

	code, out, stderr = h.run(t, "tasks", "show", listed[0].ID)
	require.Zero(t, code, stderr)
	require.Equal(t, 2, strings.Count(out, "USER"))
	require.Equal(t, 2, strings.Count(out, "ASSISTANT"))
	require.Contains(t, out, "again")
}

func TestChat_MissingKeyHint(t *testing.T) {
	h := newHarness(t, "")

	code, _, stderr := h.run(t, "chat", "hi")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "API key not configured")
	require.Contains(t, stderr, "hint:")
	require.Empty(t, h.list(t))
}

func TestChat_OfflineBlocksRemoteProvider(t *testing.T) {
	h := newHarness(t, "sk-test")

	code, _, stderr := h.run(t, "--offline", "chat", "hi")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "only localhost endpoints")

	listed := h.list(t)
	require.Len(t, listed, 1)
	require.Equal(t, "Failed", listed[0].Status)
}

func TestReply_Errors(t *testing.T) {
	h := newHarness(t, "sk-test")

	code, _, stderr := h.run(t, "reply", "nope", "x")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "unknown task")

	code, _, _ = h.run(t, "reply", "only-id")
	require.Equal(t, 1, code)
}

func TestTasksList_Empty(t *testing.T) {
	h := newHarness(t, "sk-test")
	code, out, _ := h.run(t, "tasks", "list")
	require.Zero(t, code)
	require.Contains(t, out, "No conversations yet.")
}

func TestTasksExport(t *testing.T) {
	h := newHarness(t, "sk-test")
	code, _, stderr := h.run(t, "chat", "export", "me")
	require.Zero(t, code, stderr)
	id := h.list(t)[0].ID
	dir := filepath.Join(t.TempDir(), "exports")

	code, out, stderr := h.run(t, "tasks", "export", id, "-o", dir)
	require.Zero(t, code, stderr)
	path := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(out), "exported"))
	require.Equal(t, ".md", filepath.Ext(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "status: Done")
	require.Contains(t, string(data), "Hello!")

	code, _, stderr = h.run(t, "tasks", "export", id, "--format", "json", "-o", dir)
	require.Zero(t, code, stderr)
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	code, _, stderr = h.run(t, "tasks", "export", id, "--format", "pdf")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "unknown export format")
}

// =============================================================================
// PARSE SCREEN TESTS
// =============================================================================

func TestParseScreen(t *testing.T) {
	h := newHarness(t, "sk-test")
	h.chat.reply = "Here you go:\n```json\n" +
		`[{"name":"add_todo","reasoning":"top-up reminder","confidence":0.8,"params":{"title":"Top up"}}]` +
		"\n```"
	img := filepath.Join(t.TempDir(), "screen.png")
	require.NoError(t, os.WriteFile(img, []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), 0600))

	code, out, stderr := h.run(t, "parse-screen", "--json", img)
	require.Zero(t, code, stderr)
	var res intent.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.True(t, res.OK)
	require.Len(t, res.Intents, 1)
	require.Equal(t, "add_todo", res.Intents[0].Name)

	code, out, _ = h.run(t, "parse-screen", img)
	require.Zero(t, code)
	require.Contains(t, out, "add_todo")
	require.Contains(t, out, "Top up")

	h.chat.reply = "no fence here"
	code, out, _ = h.run(t, "parse-screen", "--json", img)
	require.Equal(t, 1, code)
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.False(t, res.OK)
	require.NotEmpty(t, res.Message)
}

func TestParseScreen_NotAnImage(t *testing.T) {
	h := newHarness(t, "sk-test")
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("plain text"), 0600))

	code, _, _ := h.run(t, "parse-screen", path)
	require.Equal(t, 1, code)
}

// =============================================================================
// SCAN TESTS
// =============================================================================

func TestScan_AdHocRootWithEmbed(t *testing.T) {
	h := newHarness(t, "sk-test")
	root := t.TempDir()
	for _, name := range []string{"a.txt", "b.PDF", "c.go"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(name), 0600))
	}

	code, out, stderr := h.run(t, "scan", root, "--list", "--embed")
	require.Zero(t, code, stderr)
	require.Contains(t, out, filepath.Join(root, "a.txt"))
	require.Contains(t, out, filepath.Join(root, "b.PDF"))
	require.NotContains(t, out, "c.go")
	require.Contains(t, stderr, "2 texts")

	store, err := index.OpenStore(filepath.Join(h.home, index.DefaultDatabaseFile))
	require.NoError(t, err)
	defer store.Close()
	n, err := store.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestScan_IncrementalAndFiles(t *testing.T) {
	h := newHarness(t, "sk-test")
	root := t.TempDir()
	old := time.Now().Add(-time.Hour)
	for _, name := range []string{"old1.txt", "old2.txt"} {
		path := filepath.Join(root, name)
		require.NoError(t, os.WriteFile(path, []byte(name), 0600))
		require.NoError(t, os.Chtimes(path, old, old))
	}

	code, _, stderr := h.run(t, "scan", root)
	require.Zero(t, code, stderr)
	require.Contains(t, stderr, "2 files")

	fresh := filepath.Join(root, "new.txt")
	require.NoError(t, os.WriteFile(fresh, []byte("new"), 0600))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(fresh, future, future))

	code, out, stderr := h.run(t, "scan", root, "--incremental", "--list")
	require.Zero(t, code, stderr)
	require.Equal(t, fresh+"\n", out)

	code, out, stderr = h.run(t, "files")
	require.Zero(t, code, stderr)
	require.Equal(t, "new.txt\nold1.txt\nold2.txt\n", out)
	require.Contains(t, stderr, "3 of 3 files")

	code, out, _ = h.run(t, "files", "-n", "1")
	require.Zero(t, code)
	require.Equal(t, "new.txt\n", out)
}

func TestScan_NoSources(t *testing.T) {
	h := newHarness(t, "sk-test")
	code, _, stderr := h.run(t, "scan")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, ErrNoDataSources.Error())
}

// =============================================================================
// CONFIG TESTS
// =============================================================================

func TestConfig_InitShowPath(t *testing.T) {
	h := &harness{home: t.TempDir(), chat: &fakeChat{}}

	code, out, _ := h.run(t, "config", "path")
	require.Zero(t, code)
	require.Equal(t, filepath.Join(h.home, "settings.json")+"\n", out)

	code, out, _ = h.run(t, "config", "init", "--toml")
	require.Zero(t, code)
	path := strings.TrimSpace(out)
	require.Equal(t, filepath.Join(h.home, "settings.toml"), path)
	require.FileExists(t, path)

	code, _, stderr := h.run(t, "config", "init", "--toml")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "already exists")

	s, err := config.Load(path)
	require.NoError(t, err)
	s.ModelProviders[0].APIKey = "sk-or-secret-1234"
	require.NoError(t, s.Save(path))

	code, out, _ = h.run(t, "config", "show")
	require.Zero(t, code)
	require.NotContains(t, out, "sk-or-secret-1234")
	require.Contains(t, out, "sk-o****1234")

	code, out, _ = h.run(t, "config", "show", "--reveal")
	require.Zero(t, code)
	require.Contains(t, out, "sk-or-secret-1234")
}

func TestConfig_Models(t *testing.T) {
	h := newHarness(t, "")
	code, out, stderr := h.run(t, "config", "models")
	require.Zero(t, code, stderr)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	require.Contains(t, lines[0], "chat")
	require.Contains(t, lines[0], "no api key")
	require.Contains(t, lines[0], "m @ http://fake.invalid/v1  [chat]")
	require.Contains(t, lines[1], "[multimodal]")
	require.Contains(t, lines[2], "[embed]")

	h = newHarness(t, "sk-test")
	_, out, _ = h.run(t, "config", "models")
	require.Equal(t, 3, strings.Count(out, "ready"))
}

func TestHelpers(t *testing.T) {
	require.Equal(t, "0d760b4e", shortID("0d760b4e-7d1c-4c6f-9d5e-1f6c1f1b2a3c"))
	require.Equal(t, "plain", shortID("plain"))
	require.Equal(t, "****", maskKey("short"))
	require.Equal(t, "hello...", truncate("hello   wonderful world", 8))
	require.Equal(t, "", hint(errors.New("other")))
	require.NotEmpty(t, hint(provider.ErrNoDefault))
}
