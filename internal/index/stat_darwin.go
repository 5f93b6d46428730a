//go:build darwin

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package index

import (
	"io/fs"
	"time"

	"golang.org/x/sys/unix"
)

// fileTimes returns creation, modification and access times.
func fileTimes(path string, info fs.FileInfo) (created, modified, accessed time.Time) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		mt := info.ModTime()
		return mt, mt, mt
	}
	return time.Unix(st.Btim.Unix()), time.Unix(st.Mtim.Unix()), time.Unix(st.Atim.Unix())
}
