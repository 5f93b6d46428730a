// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides settings loading and management for flicker.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/BurntSushi/toml"
	"github.com/jeranaias/flicker/internal/util"
)

// =============================================================================
// SETTINGS STRUCTURES
// =============================================================================

// Settings represents the complete flicker settings document.
type Settings struct {
	// Default aliases, each resolved through ModelRefs
	DefaultModelAlias           string `toml:"default_model_alias" json:"default_model_alias"`
	DefaultMultimodalModelAlias string `toml:"default_multimodal_model_alias" json:"default_multimodal_model_alias"`
	DefaultEmbedModelAlias      string `toml:"default_embed_model_alias" json:"default_embed_model_alias"`

	DefaultUser UserProfile `toml:"default_user" json:"default_user"`
	GUI         GUIConfig   `toml:"gui_config" json:"gui_config"`

	MemoryDataSources []DataSource    `toml:"memory_data_sources" json:"memory_data_sources"`
	ModelProviders    []ModelProvider `toml:"model_providers" json:"model_providers"`
	ModelRefs         []ModelRef      `toml:"model_refs" json:"model_refs"`

	Limits Limits `toml:"limits" json:"limits"`
}

// UserProfile describes the person using the assistant.
type UserProfile struct {
	Name        string `toml:"name" json:"name"`
	Description string `toml:"description" json:"description"`
}

// GUIConfig holds presentation preferences. The core only round-trips it.
type GUIConfig struct {
	FontSize int `toml:"font_size" json:"font_size"`
}

// ModelProvider is an OpenAI-compatible endpoint with its credentials.
type ModelProvider struct {
	ProviderName string `toml:"provider_name" json:"provider_name"`
	BaseURL      string `toml:"base_url" json:"base_url"`
	APIKey       string `toml:"api_key" json:"api_key"`
}

// ModelRef binds an alias to a model served by a provider.
type ModelRef struct {
	Alias        string `toml:"alias" json:"alias"`
	ProviderName string `toml:"provider_name" json:"provider_name"`
	ModelName    string `toml:"model_name" json:"model_name"`
}

// DataSourceFileSystem is the only data source type.
const DataSourceFileSystem = "file_system"

// DataSource is a directory tree indexed into the file database.
type DataSource struct {
	Type                string   `toml:"type" json:"type"`
	RootDirectory       string   `toml:"root_directory" json:"root_directory"`
	ExtensionNames      []string `toml:"extension_names" json:"extension_names"`
	ExcludedDirectories []string `toml:"excluded_directories" json:"excluded_directories"`
	DatabaseFile        string   `toml:"database_file" json:"database_file"`
}

// Limits throttles outgoing provider requests (0 = unlimited).
type Limits struct {
	RequestsPerSecond float64 `toml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `toml:"burst" json:"burst"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns settings with the built-in defaults.
func Default() *Settings {
	return &Settings{
		DefaultUser: UserProfile{
			Name:        "User",
			Description: "An ordinary person",
		},
		GUI: GUIConfig{FontSize: 12},
		ModelProviders: []ModelProvider{
			{ProviderName: "openrouter", BaseURL: "https://openrouter.ai/api/v1"},
		},
		MemoryDataSources: []DataSource{},
		ModelRefs:         []ModelRef{},
		Limits:            Limits{Burst: 1},
	}
}

// SetDefaults fills zero values left by a partial document.
func (s *Settings) SetDefaults() {
	if s.GUI.FontSize <= 0 {
		s.GUI.FontSize = 12
	}
	if s.Limits.Burst <= 0 {
		s.Limits.Burst = 1
	}
	for i := range s.MemoryDataSources {
		if s.MemoryDataSources[i].Type == "" {
			s.MemoryDataSources[i].Type = DataSourceFileSystem
		}
	}
	for i := range s.ModelProviders {
		s.ModelProviders[i].BaseURL = strings.TrimSuffix(s.ModelProviders[i].BaseURL, "/")
	}
}

// Current returns s itself, so a fixed snapshot can stand in for a Watcher.
func (s *Settings) Current() *Settings {
	return s
}

// Clone returns a deep copy of the settings.
func (s *Settings) Clone() *Settings {
	out := *s
	out.MemoryDataSources = make([]DataSource, len(s.MemoryDataSources))
	for i, ds := range s.MemoryDataSources {
		ds.ExtensionNames = append([]string(nil), ds.ExtensionNames...)
		ds.ExcludedDirectories = append([]string(nil), ds.ExcludedDirectories...)
		out.MemoryDataSources[i] = ds
	}
	out.ModelProviders = append([]ModelProvider(nil), s.ModelProviders...)
	out.ModelRefs = append([]ModelRef(nil), s.ModelRefs...)
	return &out
}

// =============================================================================
// PATHS
// =============================================================================

// Dir returns the settings directory: $FLICKER_HOME or ~/.flicker.
func Dir() (string, error) {
	if dir := os.Getenv("FLICKER_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".flicker"), nil
}

// Path returns the settings file in dir, preferring settings.toml when it
// exists and settings.json otherwise.
func Path(dir string) string {
	tomlPath := filepath.Join(dir, "settings.toml")
	if _, err := os.Stat(tomlPath); err == nil {
		return tomlPath
	}
	return filepath.Join(dir, "settings.json")
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load reads the settings file at path. A missing file yields the defaults
// and fs.ErrNotExist so callers can tell the user setup is needed.
// Environment overrides are applied last.
func Load(path string) (*Settings, error) {
	s := Default()
	if err := decodeFile(s, path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.ApplyEnvOverrides()
			return s, err
		}
		return nil, err
	}
	s.SetDefaults()
	s.ApplyEnvOverrides()
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings %s: %w", path, err)
	}
	return s, nil
}

func decodeFile(s *Settings, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Lists in the document replace the defaults rather than merging.
	s.ModelProviders = nil
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), s); err != nil {
			return fmt.Errorf("failed to decode TOML settings: %w", err)
		}
	default:
		if err := json.Unmarshal(data, s); err != nil {
			return fmt.Errorf("failed to decode JSON settings: %w", err)
		}
	}
	return nil
}

// Save writes the settings atomically, choosing the format by extension.
// SECURITY: Settings hold API keys, so the file is owner read/write only.
func (s *Settings) Save(path string) error {
	var data []byte
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		var buf bytes.Buffer
		buf.WriteString("# flicker settings\n\n")
		if err := toml.NewEncoder(&buf).Encode(s); err != nil {
			return fmt.Errorf("failed to encode settings: %w", err)
		}
		data = buf.Bytes()
	default:
		var err error
		data, err = json.MarshalIndent(s, "", "    ")
		if err != nil {
			return fmt.Errorf("failed to encode settings: %w", err)
		}
	}
	if err := util.AtomicWriteFileWithDir(path, data, 0600, 0700); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies FLICKER_* environment variables:
//
//	FLICKER_DEFAULT_MODEL              default_model_alias
//	FLICKER_MULTIMODAL_MODEL           default_multimodal_model_alias
//	FLICKER_EMBED_MODEL                default_embed_model_alias
//	FLICKER_<PROVIDER>_API_KEY         api_key of the named provider
func (s *Settings) ApplyEnvOverrides() {
	if v := os.Getenv("FLICKER_DEFAULT_MODEL"); v != "" {
		s.DefaultModelAlias = v
	}
	if v := os.Getenv("FLICKER_MULTIMODAL_MODEL"); v != "" {
		s.DefaultMultimodalModelAlias = v
	}
	if v := os.Getenv("FLICKER_EMBED_MODEL"); v != "" {
		s.DefaultEmbedModelAlias = v
	}
	for i := range s.ModelProviders {
		if key := os.Getenv(ProviderKeyEnv(s.ModelProviders[i].ProviderName)); key != "" {
			s.ModelProviders[i].APIKey = key
		}
	}
}

// ProviderKeyEnv returns the environment variable holding a provider's key.
func ProviderKeyEnv(provider string) string {
	name := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToUpper(r)
		}
		return '_'
	}, provider)
	return "FLICKER_" + name + "_API_KEY"
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents one settings validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the document for duplicate names, dangling references and
// unsupported data sources. Missing API keys are not an error here; they are
// reported when a model is about to be used.
func (s *Settings) Validate() error {
	var errs ValidationErrors

	providers := make(map[string]bool, len(s.ModelProviders))
	for i, p := range s.ModelProviders {
		field := fmt.Sprintf("model_providers[%d]", i)
		if p.ProviderName == "" {
			errs = append(errs, ValidationError{field + ".provider_name", "must not be empty"})
			continue
		}
		if providers[p.ProviderName] {
			errs = append(errs, ValidationError{field + ".provider_name", fmt.Sprintf("duplicate provider %q", p.ProviderName)})
		}
		providers[p.ProviderName] = true
	}

	aliases := make(map[string]bool, len(s.ModelRefs))
	for i, r := range s.ModelRefs {
		field := fmt.Sprintf("model_refs[%d]", i)
		if r.Alias == "" {
			errs = append(errs, ValidationError{field + ".alias", "must not be empty"})
			continue
		}
		if aliases[r.Alias] {
			errs = append(errs, ValidationError{field + ".alias", fmt.Sprintf("duplicate alias %q", r.Alias)})
		}
		aliases[r.Alias] = true
		if !providers[r.ProviderName] {
			errs = append(errs, ValidationError{field + ".provider_name", fmt.Sprintf("unknown provider %q", r.ProviderName)})
		}
	}

	for i, ds := range s.MemoryDataSources {
		field := fmt.Sprintf("memory_data_sources[%d]", i)
		if ds.Type != DataSourceFileSystem {
			errs = append(errs, ValidationError{field + ".type", fmt.Sprintf("unsupported data source %q", ds.Type)})
		}
		if ds.RootDirectory == "" {
			errs = append(errs, ValidationError{field + ".root_directory", "must not be empty"})
		}
	}

	if s.Limits.RequestsPerSecond < 0 {
		errs = append(errs, ValidationError{"limits.requests_per_second", "must not be negative"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
