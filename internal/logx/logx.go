// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logx

import (
	"context"
	"io"
	"os"

	"pkt.systems/pslog"
)

// New builds the process logger from the PSLOG_* environment, writing to w.
// Without verbose only warnings and errors are shown unless the environment
// says otherwise.
func New(w io.Writer, verbose bool) pslog.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := pslog.Options{Mode: pslog.ModeConsole, MinLevel: pslog.WarnLevel}
	if verbose {
		opts.MinLevel = pslog.DebugLevel
	}
	return pslog.LoggerFromEnv(
		pslog.WithEnvWriter(w),
		pslog.WithEnvOptions(opts),
	)
}

// Nop returns a logger that discards everything.
func Nop() pslog.Logger {
	return pslog.NewWithOptions(io.Discard, pslog.Options{
		Mode:     pslog.ModeStructured,
		NoColor:  true,
		MinLevel: pslog.ErrorLevel,
	})
}

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	if ctx == nil {
		ctx = context.Background()
	}
	return pslog.Ctx(ctx)
}

// Or returns log, falling back to the context logger when log is nil.
func Or(log pslog.Logger, ctx context.Context) pslog.Logger {
	if log != nil {
		return log
	}
	return Ctx(ctx)
}

// WithTask annotates the logger with a conversation task id.
func WithTask(log pslog.Logger, taskID string) pslog.Logger {
	if taskID == "" {
		return log
	}
	return log.With("task", taskID)
}

// WithWorker annotates the logger with a worker family and instance id.
func WithWorker(log pslog.Logger, family, id string) pslog.Logger {
	if family != "" {
		log = log.With("family", family)
	}
	if id != "" {
		log = log.With("worker", id)
	}
	return log
}
