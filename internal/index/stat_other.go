//go:build !linux && !darwin

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package index

import (
	"io/fs"
	"time"
)

// fileTimes reports the modification time for all three times on
// platforms without a birth time.
func fileTimes(path string, info fs.FileInfo) (created, modified, accessed time.Time) {
	mt := info.ModTime()
	return mt, mt, mt
}
