// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logx holds the structured logging helpers shared by every
// component. Loggers are pslog loggers carried on a context.Context or
// injected at construction time.
package logx
