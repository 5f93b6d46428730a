// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/jeranaias/flicker/internal/config"
)

// Error variables for resolution failures.
var (
	// ErrUnknownAlias indicates no model_refs entry carries the alias.
	ErrUnknownAlias = errors.New("unknown model alias")

	// ErrUnknownProvider indicates a model ref names a provider that is not configured.
	ErrUnknownProvider = errors.New("unknown model provider")

	// ErrMissingAPIKey indicates the resolved provider has no API key.
	ErrMissingAPIKey = errors.New("model provider API key not configured")

	// ErrNoDefault indicates the requested default alias is empty.
	ErrNoDefault = errors.New("no default model alias configured")
)

// =============================================================================
// INSTANCE
// =============================================================================

// Instance is a resolved model: where to send requests and with which key.
type Instance struct {
	Alias     string
	BaseURL   string
	APIKey    string
	ModelName string
}

// Configured reports whether the instance has everything needed for a request.
func (i Instance) Configured() bool {
	return i.BaseURL != "" && i.ModelName != "" && strings.TrimSpace(i.APIKey) != ""
}

// Fingerprint returns a short SHA-256 fingerprint of the API key for logs.
// SECURITY: Never log any fragment of the key itself.
func (i Instance) Fingerprint() string {
	if i.APIKey == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(i.APIKey))
	return hex.EncodeToString(h[:4])
}

// String describes the instance without its key.
func (i Instance) String() string {
	return fmt.Sprintf("%s (%s @ %s, key=%s)", i.Alias, i.ModelName, i.BaseURL, i.Fingerprint())
}

// Require returns ErrMissingAPIKey when inst cannot be used for a request.
func Require(inst Instance) error {
	if strings.TrimSpace(inst.APIKey) == "" {
		return fmt.Errorf("%w: alias %q", ErrMissingAPIKey, inst.Alias)
	}
	if inst.BaseURL == "" || inst.ModelName == "" {
		return fmt.Errorf("model alias %q is incomplete: base_url and model_name are required", inst.Alias)
	}
	return nil
}

// =============================================================================
// DIRECTORY
// =============================================================================

// Source supplies the current settings snapshot. *config.Watcher and
// *config.Settings both satisfy it.
type Source interface {
	Current() *config.Settings
}

// Directory resolves aliases against the current settings. Every call reads
// a fresh snapshot, so a settings reload takes effect on the next resolution.
type Directory struct {
	src Source
}

// NewDirectory creates a directory over src.
func NewDirectory(src Source) *Directory {
	return &Directory{src: src}
}

// Settings returns the snapshot the directory currently resolves against.
func (d *Directory) Settings() *config.Settings {
	return d.src.Current()
}

// Resolve looks alias up in model_refs, then its provider in model_providers.
func (d *Directory) Resolve(alias string) (Instance, error) {
	s := d.src.Current()
	for _, ref := range s.ModelRefs {
		if ref.Alias != alias {
			continue
		}
		for _, p := range s.ModelProviders {
			if p.ProviderName == ref.ProviderName {
				return Instance{
					Alias:     alias,
					BaseURL:   strings.TrimSuffix(p.BaseURL, "/"),
					APIKey:    strings.TrimSpace(p.APIKey),
					ModelName: ref.ModelName,
				}, nil
			}
		}
		return Instance{}, fmt.Errorf("%w %q for alias %q", ErrUnknownProvider, ref.ProviderName, alias)
	}
	return Instance{}, fmt.Errorf("%w %q", ErrUnknownAlias, alias)
}

// Default resolves default_model_alias.
func (d *Directory) Default() (Instance, error) {
	return d.resolveDefault("default_model_alias", d.src.Current().DefaultModelAlias)
}

// Multimodal resolves default_multimodal_model_alias.
func (d *Directory) Multimodal() (Instance, error) {
	return d.resolveDefault("default_multimodal_model_alias", d.src.Current().DefaultMultimodalModelAlias)
}

// Embedding resolves default_embed_model_alias.
func (d *Directory) Embedding() (Instance, error) {
	return d.resolveDefault("default_embed_model_alias", d.src.Current().DefaultEmbedModelAlias)
}

func (d *Directory) resolveDefault(key, alias string) (Instance, error) {
	if alias == "" {
		return Instance{}, fmt.Errorf("%w: %s is empty", ErrNoDefault, key)
	}
	return d.Resolve(alias)
}

// Aliases lists every configured alias in document order.
func (d *Directory) Aliases() []string {
	refs := d.src.Current().ModelRefs
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.Alias)
	}
	return out
}
