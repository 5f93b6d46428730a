// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package index

const (
	// SchemaVersion tracks the database schema version for migrations
	SchemaVersion = 1
)

// Schema is the SQLite schema of the file database.
const Schema = `
-- Metadata table for schema version and scan state
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

-- One row per indexed file; times are Unix seconds
CREATE TABLE IF NOT EXISTS fileinfo (
    file_path TEXT PRIMARY KEY,
    file_name TEXT,
    created_time TIMESTAMP,
    modified_time TIMESTAMP,
    accessed_time TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_fileinfo_name ON fileinfo(file_name);
CREATE INDEX IF NOT EXISTS idx_fileinfo_modified ON fileinfo(modified_time);
`

// InitMetadata initializes the metadata table with default values
const InitMetadata = `
INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', '1');
INSERT OR IGNORE INTO metadata (key, value) VALUES ('created_at', strftime('%s', 'now'));
INSERT OR IGNORE INTO metadata (key, value) VALUES ('last_scan', '0');
`

const upsertFileInfo = `
INSERT INTO fileinfo (
    file_path, file_name,
    created_time, modified_time, accessed_time
) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(file_path) DO UPDATE SET
    file_name = excluded.file_name,
    created_time = excluded.created_time,
    modified_time = excluded.modified_time,
    accessed_time = excluded.accessed_time
`
