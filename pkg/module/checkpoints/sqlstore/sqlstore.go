// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package sqlstore keeps a history of named snapshots of module Instances in a SQLite database.
//
// Each snapshot stores the full state of an Instance, encoded with checkpoints.Encode, under a
// name (e.g. the name of an experiment). Snapshots of the same name are ordered by a sequence
// number, and Latest restores the most recent one.
package sqlstore

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/gomlx/symbolic/pkg/module"
	"github.com/gomlx/symbolic/pkg/module/checkpoints"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when there is no snapshot for the requested name or sequence number.
var ErrNotFound = errors.New("snapshot not found")

// Store of Instance snapshots, backed by SQLite in WAL mode.
type Store struct {
	db *sql.DB
}

// Entry describes one stored snapshot.
type Entry struct {
	// Seq is the sequence number of the snapshot, unique in the Store.
	Seq int64 `json:"seq"`

	Name       string    `json:"name"`
	InstanceID uuid.UUID `json:"instance_id"`
	Module     string    `json:"module"`
	CreatedAt  time.Time `json:"created_at"`
	NumCells   int       `json:"num_cells"`

	// Size of the encoded snapshot in bytes.
	Size int `json:"size"`
}

// Open creates or opens the SQLite database at path, applying the pragmas and schema.
// It is safe to open an existing database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "sqlstore: failed to open database %q", path)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "sqlstore: failed to connect to database %q", path)
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "sqlstore: failed to execute %q", pragma)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "sqlstore: failed to apply schema")
	}
	klog.V(1).Infof("sqlstore: opened %q", path)
	return &Store{db: db}, nil
}

// Close the database. It is a no-op on a nil Store.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Put stores a snapshot of the current state of inst under name.
func (s *Store) Put(ctx context.Context, name string, inst *module.Instance) (Entry, error) {
	if name == "" {
		return Entry{}, errors.New("sqlstore.Put: empty snapshot name")
	}
	data, err := checkpoints.Marshal(inst)
	if err != nil {
		return Entry{}, errors.WithMessagef(err, "sqlstore.Put(%q)", name)
	}
	entry := Entry{
		Name:       name,
		InstanceID: inst.ID(),
		Module:     inst.Module().Name(),
		CreatedAt:  time.Now(),
		NumCells:   len(inst.Cells()),
		Size:       len(data),
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (name, instance_id, module, created_at, num_cells, data)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.Name, entry.InstanceID.String(), entry.Module, entry.CreatedAt.UnixNano(), entry.NumCells, data)
	if err != nil {
		return Entry{}, errors.Wrapf(err, "sqlstore.Put(%q)", name)
	}
	entry.Seq, err = result.LastInsertId()
	if err != nil {
		return Entry{}, errors.Wrapf(err, "sqlstore.Put(%q)", name)
	}
	klog.V(1).Infof("sqlstore: stored snapshot #%d %q of instance %s (%d bytes)", entry.Seq, name,
		entry.InstanceID, entry.Size)
	return entry, nil
}

// Latest restores the most recent snapshot stored under name as a new Instance of m.
func (s *Store) Latest(ctx context.Context, name string, m *module.Module) (*module.Instance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT data FROM snapshots WHERE name = ? ORDER BY seq DESC LIMIT 1
	`, name)
	return decodeRow(row, m, fmt.Sprintf("sqlstore.Latest(%q)", name))
}

// Get restores the snapshot with the given sequence number as a new Instance of m.
func (s *Store) Get(ctx context.Context, seq int64, m *module.Module) (*module.Instance, error) {
	row := s.db.QueryRowContext(ctx, `SELECT data FROM snapshots WHERE seq = ?`, seq)
	return decodeRow(row, m, fmt.Sprintf("sqlstore.Get(%d)", seq))
}

func decodeRow(row *sql.Row, m *module.Module, op string) (*module.Instance, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrap(ErrNotFound, op)
		}
		return nil, errors.Wrap(err, op)
	}
	inst, err := checkpoints.Decode(bytes.NewReader(data), m)
	if err != nil {
		return nil, errors.WithMessage(err, op)
	}
	return inst, nil
}

// List the snapshots stored under name, older first. If name is empty, it lists all snapshots.
func (s *Store) List(ctx context.Context, name string) ([]Entry, error) {
	query := `SELECT seq, name, instance_id, module, created_at, num_cells, length(data) FROM snapshots`
	var args []any
	if name != "" {
		query += ` WHERE name = ?`
		args = append(args, name)
	}
	query += ` ORDER BY seq`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "sqlstore.List(%q)", name)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var instanceID string
		var createdAt int64
		if err := rows.Scan(&entry.Seq, &entry.Name, &instanceID, &entry.Module, &createdAt, &entry.NumCells,
			&entry.Size); err != nil {
			return nil, errors.Wrapf(err, "sqlstore.List(%q)", name)
		}
		entry.InstanceID, err = uuid.Parse(instanceID)
		if err != nil {
			return nil, errors.Wrapf(err, "sqlstore.List(%q): snapshot #%d", name, entry.Seq)
		}
		entry.CreatedAt = time.Unix(0, createdAt)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "sqlstore.List(%q)", name)
	}
	return entries, nil
}

// Prune removes the oldest snapshots stored under name, keeping the last keep ones.
// It returns the number of snapshots removed.
func (s *Store) Prune(ctx context.Context, name string, keep int) (int64, error) {
	if keep < 0 {
		return 0, errors.Errorf("sqlstore.Prune(%q): invalid keep=%d", name, keep)
	}
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM snapshots WHERE name = ? AND seq NOT IN (
			SELECT seq FROM snapshots WHERE name = ? ORDER BY seq DESC LIMIT ?
		)
	`, name, name, keep)
	if err != nil {
		return 0, errors.Wrapf(err, "sqlstore.Prune(%q)", name)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrapf(err, "sqlstore.Prune(%q)", name)
	}
	return removed, nil
}
