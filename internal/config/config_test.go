// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jeranaias/flicker/internal/logx"
	"github.com/stretchr/testify/require"
)

const sampleJSON = `{
    "default_model_alias": "chat",
    "default_multimodal_model_alias": "vision",
    "default_embed_model_alias": "embed",
    "default_user": {"name": "Ada", "description": "a mathematician"},
    "memory_data_sources": [
        {"type": "file_system", "root_directory": "/home/ada/docs", "excluded_directories": ["/home/ada/docs/tmp"]}
    ],
    "model_providers": [
        {"provider_name": "openrouter", "base_url": "https://openrouter.ai/api/v1/", "api_key": "sk-or-test"}
    ],
    "model_refs": [
        {"alias": "chat", "provider_name": "openrouter", "model_name": "deepseek/deepseek-chat"},
        {"alias": "vision", "provider_name": "openrouter", "model_name": "qwen/qwen-vl"},
        {"alias": "embed", "provider_name": "openrouter", "model_name": "baai/bge-m3"}
    ]
}`

const sampleTOML = `
default_model_alias = "chat"

[[model_providers]]
provider_name = "local"
base_url = "http://localhost:11434/v1"

[[model_refs]]
alias = "chat"
provider_name = "local"
model_name = "qwen2.5:7b"

[limits]
requests_per_second = 2.5
burst = 4
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// =============================================================================
// LOAD TESTS
// =============================================================================

func TestLoad_JSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "settings.json", sampleJSON)

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.DefaultModelAlias != "chat" || s.DefaultMultimodalModelAlias != "vision" || s.DefaultEmbedModelAlias != "embed" {
		t.Errorf("aliases = %q/%q/%q", s.DefaultModelAlias, s.DefaultMultimodalModelAlias, s.DefaultEmbedModelAlias)
	}
	if len(s.ModelRefs) != 3 {
		t.Errorf("len(ModelRefs) = %d, want 3", len(s.ModelRefs))
	}
	if got := s.ModelProviders[0].BaseURL; got != "https://openrouter.ai/api/v1" {
		t.Errorf("BaseURL = %q, want trailing slash trimmed", got)
	}
	if s.DefaultUser.Name != "Ada" {
		t.Errorf("DefaultUser.Name = %q, want Ada", s.DefaultUser.Name)
	}
	if s.GUI.FontSize != 12 {
		t.Errorf("GUI.FontSize = %d, want default 12", s.GUI.FontSize)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "settings.toml", sampleTOML)

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(s.ModelProviders) != 1 || s.ModelProviders[0].ProviderName != "local" {
		t.Errorf("ModelProviders = %+v, want only local", s.ModelProviders)
	}
	if s.Limits.RequestsPerSecond != 2.5 || s.Limits.Burst != 4 {
		t.Errorf("Limits = %+v", s.Limits)
	}
}

func TestLoad_MissingReturnsDefaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "settings.json"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Load error = %v, want fs.ErrNotExist", err)
	}
	if s == nil || len(s.ModelProviders) != 1 {
		t.Fatalf("Load returned %+v, want defaults", s)
	}
}

func TestLoad_Malformed(t *testing.T) {
	path := writeFile(t, t.TempDir(), "settings.json", "{oops")
	if _, err := Load(path); err == nil || errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Load error = %v, want decode error", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FLICKER_OPENROUTER_API_KEY", "sk-from-env")
	t.Setenv("FLICKER_DEFAULT_MODEL", "vision")
	path := writeFile(t, t.TempDir(), "settings.json", sampleJSON)

	s, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "sk-from-env", s.ModelProviders[0].APIKey)
	require.Equal(t, "vision", s.DefaultModelAlias)
}

func TestProviderKeyEnv(t *testing.T) {
	tests := map[string]string{
		"openrouter":   "FLICKER_OPENROUTER_API_KEY",
		"silicon-flow": "FLICKER_SILICON_FLOW_API_KEY",
		"local v1":     "FLICKER_LOCAL_V1_API_KEY",
	}
	for in, want := range tests {
		if got := ProviderKeyEnv(in); got != want {
			t.Errorf("ProviderKeyEnv(%q) = %q, want %q", in, got, want)
		}
	}
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestValidate(t *testing.T) {
	s := Default()
	s.ModelProviders = append(s.ModelProviders, ModelProvider{ProviderName: "openrouter"})
	s.ModelRefs = []ModelRef{
		{Alias: "a", ProviderName: "openrouter"},
		{Alias: "a", ProviderName: "openrouter"},
		{Alias: "b", ProviderName: "nope"},
	}
	s.MemoryDataSources = []DataSource{{Type: "s3", RootDirectory: ""}}

	err := s.Validate()
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("Validate error = %v, want ValidationErrors", err)
	}
	msg := err.Error()
	for _, want := range []string{"duplicate provider", "duplicate alias", "unknown provider", "unsupported data source", "root_directory"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Validate() = %q, want to contain %q", msg, want)
		}
	}

	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v, want nil", err)
	}
}

// =============================================================================
// SAVE TESTS
// =============================================================================

func TestSave_RoundTrip(t *testing.T) {
	for _, name := range []string{"settings.json", "settings.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			in := Default()
			in.DefaultModelAlias = "chat"
			in.ModelRefs = []ModelRef{{Alias: "chat", ProviderName: "openrouter", ModelName: "m"}}

			require.NoError(t, in.Save(path))
			info, err := os.Stat(path)
			require.NoError(t, err)
			require.Equal(t, os.FileMode(0600), info.Mode().Perm())

			out, err := Load(path)
			require.NoError(t, err)
			require.Equal(t, "chat", out.DefaultModelAlias)
			require.Equal(t, in.ModelRefs, out.ModelRefs)
		})
	}
}

func TestPath_PrefersTOML(t *testing.T) {
	dir := t.TempDir()
	if got := Path(dir); filepath.Base(got) != "settings.json" {
		t.Errorf("Path() = %q, want settings.json when nothing exists", got)
	}
	writeFile(t, dir, "settings.toml", sampleTOML)
	if got := Path(dir); filepath.Base(got) != "settings.toml" {
		t.Errorf("Path() = %q, want settings.toml", got)
	}
}

func TestClone_Independent(t *testing.T) {
	s := Default()
	s.MemoryDataSources = []DataSource{{Type: DataSourceFileSystem, RootDirectory: "/a", ExtensionNames: []string{".txt"}}}
	c := s.Clone()
	c.MemoryDataSources[0].ExtensionNames[0] = ".pdf"
	c.ModelProviders[0].APIKey = "changed"

	if s.MemoryDataSources[0].ExtensionNames[0] != ".txt" {
		t.Error("Clone shares extension slice")
	}
	if s.ModelProviders[0].APIKey != "" {
		t.Error("Clone shares provider slice")
	}
}

// =============================================================================
// WATCHER TESTS
// =============================================================================

func TestWatcher_Reload(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "settings.json", sampleJSON)

	w, err := NewWatcher(path, logx.Nop())
	require.NoError(t, err)
	require.Equal(t, "chat", w.Current().DefaultModelAlias)

	var hooked *Settings
	w.OnReload(func(s *Settings) { hooked = s })

	updated := strings.Replace(sampleJSON, `"default_model_alias": "chat"`, `"default_model_alias": "vision"`, 1)
	writeFile(t, dir, "settings.json", updated)
	require.NoError(t, w.Reload())
	require.Equal(t, "vision", w.Current().DefaultModelAlias)
	require.NotNil(t, hooked)

	writeFile(t, dir, "settings.json", "{broken")
	require.Error(t, w.Reload())
	require.Equal(t, "vision", w.Current().DefaultModelAlias, "failed reload must keep the previous snapshot")
}

func TestWatcher_HooksRunInOrder(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "settings.json", sampleJSON)

	w, err := NewWatcher(path, logx.Nop())
	require.NoError(t, err)

	var order []string
	w.OnReload(func(*Settings) {
		order = append(order, "first")
		// Registered during a reload, so it only runs on the next one.
		w.OnReload(func(*Settings) { order = append(order, "late") })
	})
	w.OnReload(func(*Settings) { order = append(order, "second") })

	require.NoError(t, w.Reload())
	require.Equal(t, []string{"first", "second"}, order)

	order = nil
	require.NoError(t, w.Reload())
	require.Equal(t, []string{"first", "second", "late"}, order)
}

func TestWatcher_PicksUpFileChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")

	w, err := NewWatcher(path, logx.Nop())
	require.NoError(t, err)
	w.debounce = 10 * time.Millisecond
	require.Equal(t, "", w.Current().DefaultModelAlias)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Close()

	s := Default()
	s.DefaultModelAlias = "chat"
	s.ModelRefs = []ModelRef{{Alias: "chat", ProviderName: "openrouter", ModelName: "m"}}
	require.NoError(t, s.Save(path))

	require.Eventually(t, func() bool {
		return w.Current().DefaultModelAlias == "chat"
	}, 5*time.Second, 20*time.Millisecond)
}
