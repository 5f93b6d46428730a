// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"pkt.systems/pslog"

	"github.com/jeranaias/flicker/internal/cloud"
	"github.com/jeranaias/flicker/internal/completion"
	"github.com/jeranaias/flicker/internal/config"
	"github.com/jeranaias/flicker/internal/embedding"
	"github.com/jeranaias/flicker/internal/eventbus"
	"github.com/jeranaias/flicker/internal/intent"
	"github.com/jeranaias/flicker/internal/logx"
	"github.com/jeranaias/flicker/internal/offline"
	"github.com/jeranaias/flicker/internal/provider"
	"github.com/jeranaias/flicker/internal/storage"
	"github.com/jeranaias/flicker/internal/tasks"
	"github.com/jeranaias/flicker/internal/worker"
)

// shutdownTimeout bounds how long Close waits for in-flight workers.
const shutdownTimeout = 10 * time.Second

// Options configures the command tree. Zero values use the process
// defaults; tests replace the writers and client factories.
type Options struct {
	// Home is the settings directory ("" = $FLICKER_HOME or ~/.flicker)
	Home string

	// Version is printed by --version and the REPL banner
	Version string

	// Offline limits provider traffic to loopback endpoints
	Offline bool

	Out    io.Writer
	ErrOut io.Writer
	Log    pslog.Logger

	ChatClients  completion.ClientFactory
	EmbedClients embedding.ClientFactory
}

func (o Options) withDefaults() Options {
	if o.Out == nil {
		o.Out = os.Stdout
	}
	if o.ErrOut == nil {
		o.ErrOut = os.Stderr
	}
	if o.Version == "" {
		o.Version = "dev"
	}
	return o
}

// App owns every long-lived service of one invocation. Commands receive it
// by reference; nothing is kept in package state.
type App struct {
	Home     string
	Settings *config.Watcher
	Models   *provider.Directory
	Registry *worker.Registry
	Engine   *completion.Engine
	Store    *storage.Store
	Events   *eventbus.Bus[tasks.Event]
	Tasks    *tasks.Manager
	Catalog  *intent.Catalog
	Embedder *embedding.Service
	Policy   offline.Policy

	version string
	out     io.Writer
	errOut  io.Writer
	styles  *Styles
	md      *markdown
	log     pslog.Logger
}

// NewApp wires the services and loads the saved conversations.
func NewApp(ctx context.Context, opts Options) (*App, error) {
	opts = opts.withDefaults()
	log := logx.Or(opts.Log, ctx)

	home := opts.Home
	if home == "" {
		dir, err := config.Dir()
		if err != nil {
			return nil, err
		}
		home = dir
	}

	settings, err := config.NewWatcher(config.Path(home), log)
	if err != nil {
		return nil, err
	}
	models := provider.NewDirectory(settings)

	limits := settings.Current().Limits
	limiter := cloud.NewLimiter(limits.RequestsPerSecond, limits.Burst)
	chatClients := opts.ChatClients
	if chatClients == nil {
		chatClients = completion.CloudFactory(limiter, log)
	}
	embedClients := opts.EmbedClients
	if embedClients == nil {
		embedClients = embedding.CloudFactory(limiter, log)
	}
	policy := offline.Policy{Enabled: opts.Offline}
	chatClients = guardChat(policy, chatClients)
	embedClients = guardEmbed(policy, embedClients)
	if policy.Enabled {
		log.Info("offline mode enabled")
	}

	reg := worker.NewRegistry(log)
	engine := completion.NewEngine(reg, chatClients, log)

	store, err := storage.Open(storage.DefaultDir(home))
	if err != nil {
		return nil, err
	}
	bus := eventbus.New[tasks.Event](log)
	manager := tasks.NewManager(store, models, engine, bus, log)
	if err := manager.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load conversations: %w", err)
	}

	catalog, err := intent.DefaultCatalog()
	if err != nil {
		return nil, err
	}
	embedder, err := embedding.NewService(reg, embedClients, 0, log)
	if err != nil {
		return nil, err
	}

	return &App{
		Home:     home,
		Settings: settings,
		Models:   models,
		Registry: reg,
		Engine:   engine,
		Store:    store,
		Events:   bus,
		Tasks:    manager,
		Catalog:  catalog,
		Embedder: embedder,
		Policy:   policy,
		version:  opts.Version,
		out:      opts.Out,
		errOut:   opts.ErrOut,
		styles:   NewStyles(opts.ErrOut),
		md:       newMarkdown(opts.Out),
		log:      log,
	}, nil
}

// NewParser builds a screenshot parser over the app's engine and models.
func (a *App) NewParser(strict bool) *intent.Parser {
	return intent.NewParser(a.Catalog, a.Engine, a.Models, a.Registry, intent.Options{Strict: strict, Log: a.log})
}

// Close waits for running workers, saves the conversations and stops the
// settings watcher.
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Registry.Wait(ctx); err != nil {
		for _, rec := range a.Registry.Live() {
			a.log.Warn("worker still running at shutdown", "worker", rec.ID, "family", rec.Family, "age", time.Since(rec.Started))
		}
		errs = append(errs, err)
	}
	if err := a.Tasks.Save(); err != nil {
		errs = append(errs, err)
	}
	if err := a.Settings.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
