// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrNotFound      = errors.New("file not indexed")
	ErrDatabaseError = errors.New("database error")
	ErrInvalidPath   = errors.New("invalid path")
)

// DefaultDatabaseFile is the file database name inside the settings directory.
const DefaultDatabaseFile = "fsmemory.db"

// FileInfo is one row of the file database.
type FileInfo struct {
	Path     string
	Name     string
	Created  time.Time
	Modified time.Time
	Accessed time.Time
}

// =============================================================================
// FILE DATABASE
// =============================================================================

// Store is the SQLite file database filled by scans.
type Store struct {
	db   *sql.DB
	path string
}

// OpenStore opens or creates the database at path.
func OpenStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty database path", ErrInvalidPath)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := db.Exec(InitMetadata); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize metadata: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the database file.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert inserts or updates infos in a single transaction. Nothing is
// written when any row fails.
func (s *Store) Upsert(ctx context.Context, infos []FileInfo) error {
	if len(infos) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertFileInfo)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer stmt.Close()

	for _, fi := range infos {
		if fi.Path == "" {
			return fmt.Errorf("%w: empty file path", ErrInvalidPath)
		}
		if _, err := stmt.ExecContext(ctx, fi.Path, fi.Name,
			fi.Created.Unix(), fi.Modified.Unix(), fi.Accessed.Unix()); err != nil {
			return fmt.Errorf("%w: upsert %s: %v", ErrDatabaseError, fi.Path, err)
		}
	}
	if _, err := tx.ExecContext(ctx, "UPDATE metadata SET value = ? WHERE key = 'last_scan'",
		strconv.FormatInt(time.Now().Unix(), 10)); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Get returns the row for path.
func (s *Store) Get(ctx context.Context, path string) (FileInfo, error) {
	var (
		fi                          FileInfo
		created, modified, accessed int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT file_path, file_name, created_time, modified_time, accessed_time FROM fileinfo WHERE file_path = ?",
		path).Scan(&fi.Path, &fi.Name, &created, &modified, &accessed)
	if errors.Is(err, sql.ErrNoRows) {
		return FileInfo{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return FileInfo{}, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	fi.Created = time.Unix(created, 0)
	fi.Modified = time.Unix(modified, 0)
	fi.Accessed = time.Unix(accessed, 0)
	return fi, nil
}

// Count returns the number of indexed files.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM fileinfo").Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return n, nil
}

// Names returns up to limit file names ordered by path (limit <= 0 = all).
func (s *Store) Names(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, "SELECT file_name FROM fileinfo ORDER BY file_path LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// LastScan returns when files were last upserted, zero if never.
func (s *Store) LastScan(ctx context.Context) (time.Time, error) {
	var v string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = 'last_scan'").Scan(&v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil || sec == 0 {
		return time.Time{}, nil
	}
	return time.Unix(sec, 0), nil
}
