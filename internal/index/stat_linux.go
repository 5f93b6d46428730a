//go:build linux

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package index

import (
	"io/fs"
	"time"

	"golang.org/x/sys/unix"
)

// fileTimes returns creation, modification and access times. Birth time
// comes from statx; filesystems without it report the change time instead.
func fileTimes(path string, info fs.FileInfo) (created, modified, accessed time.Time) {
	var stx unix.Statx_t
	mask := unix.STATX_BTIME | unix.STATX_MTIME | unix.STATX_ATIME | unix.STATX_CTIME
	if err := unix.Statx(unix.AT_FDCWD, path, unix.AT_SYMLINK_NOFOLLOW, mask, &stx); err != nil {
		mt := info.ModTime()
		return mt, mt, mt
	}
	modified = statxTime(stx.Mtime)
	accessed = statxTime(stx.Atime)
	if stx.Mask&unix.STATX_BTIME != 0 {
		created = statxTime(stx.Btime)
	} else {
		created = statxTime(stx.Ctime)
	}
	return created, modified, accessed
}

func statxTime(ts unix.StatxTimestamp) time.Time {
	return time.Unix(ts.Sec, int64(ts.Nsec))
}
