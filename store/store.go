// Copyright (c) 2024-2025 Darcy Buskermolen <darcy@dbitech.ca>
// SPDX-License-Identifier: BSD-3-Clause

// Package store persists transcription jobs in SQLite. The transcriptions
// table doubles as the scheduler's work queue: rows in the pending state are
// waiting for a worker.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a transcription row does not exist.
var ErrNotFound = errors.New("transcription not found")

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

// Transcription is one uploaded audio file and the state of its job.
type Transcription struct {
	ID        int64     `json:"id"`
	Filename  string    `json:"filename"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	Mimetype  string    `json:"mimetype"`
	Duration  float64   `json:"duration_seconds"`
	Language  string    `json:"language,omitempty"`
	Status    Status    `json:"status"`
	Owner     string    `json:"owner"`
	Result    []string  `json:"result"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListOptions filters List and Count. Zero values mean "no filter".
type ListOptions struct {
	Owner  string
	Status Status
	Limit  int
	Offset int
}

const schema = `
CREATE TABLE IF NOT EXISTS transcriptions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	filename TEXT NOT NULL,
	path TEXT NOT NULL,
	size INTEGER NOT NULL DEFAULT 0,
	mimetype TEXT NOT NULL DEFAULT '',
	duration REAL NOT NULL DEFAULT 0,
	language TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	owner TEXT NOT NULL DEFAULT '',
	result TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transcriptions_queue ON transcriptions(status, created_at);
CREATE INDEX IF NOT EXISTS idx_transcriptions_owner ON transcriptions(owner);
`

const columns = `id, filename, path, size, mimetype, duration, language, status, owner, result, error, created_at, updated_at`

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the SQLite database at path and ensures the schema exists.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes writers; the scheduler and the API share it.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create transcriptions table: %w", err)
	}

	return NewWithDB(db), nil
}

// NewWithDB wraps an already opened database. The schema is not created.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Create inserts t and returns its id. An empty status is stored as pending.
func (s *Store) Create(ctx context.Context, t *Transcription) (int64, error) {
	if t.Status == "" {
		t.Status = StatusPending
	}
	now := s.now().UTC()
	result, err := encodeResult(t.Result)
	if err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO transcriptions
		(filename, path, size, mimetype, duration, language, status, owner, result, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Filename, t.Path, t.Size, t.Mimetype, t.Duration, t.Language,
		string(t.Status), t.Owner, result, t.Error, now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert transcription: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read transcription id: %w", err)
	}

	t.ID = id
	t.CreatedAt = time.UnixMilli(now.UnixMilli()).UTC()
	t.UpdatedAt = t.CreatedAt
	return id, nil
}

func (s *Store) Get(ctx context.Context, id int64) (*Transcription, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM transcriptions WHERE id = ?`, id)
	t, err := scanTranscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transcription %d: %w", id, err)
	}
	return t, nil
}

// List returns transcriptions newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Transcription, error) {
	where, args := opts.where()
	query := `SELECT ` + columns + ` FROM transcriptions` + where + ` ORDER BY created_at DESC, id DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, opts.Limit, opts.Offset)
	}
	return s.query(ctx, query, args...)
}

func (s *Store) Count(ctx context.Context, opts ListOptions) (int, error) {
	where, args := opts.where()
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transcriptions`+where, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count transcriptions: %w", err)
	}
	return total, nil
}

// Pending returns up to limit queued rows, oldest first.
func (s *Store) Pending(ctx context.Context, limit int) ([]Transcription, error) {
	if limit <= 0 {
		return nil, nil
	}
	return s.query(ctx, `SELECT `+columns+` FROM transcriptions
		WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT ?`, string(StatusPending), limit)
}

// Claim moves a pending row to processing. It reports false when the row is
// gone or was already picked up, so two workers can never run the same job.
func (s *Store) Claim(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE transcriptions SET status = ?, error = '', updated_at = ?
		WHERE id = ? AND status = ?`,
		string(StatusProcessing), s.now().UTC().UnixMilli(), id, string(StatusPending))
	if err != nil {
		return false, fmt.Errorf("failed to claim transcription %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim transcription %d: %w", id, err)
	}
	return n == 1, nil
}

// Complete marks a job done and records the transcript formats it produced.
func (s *Store) Complete(ctx context.Context, id int64, formats []string) error {
	result, err := encodeResult(formats)
	if err != nil {
		return err
	}
	return s.update(ctx, id, `status = ?, result = ?, error = ''`, string(StatusDone), result)
}

func (s *Store) Fail(ctx context.Context, id int64, msg string) error {
	return s.update(ctx, id, `status = ?, error = ?`, string(StatusError), msg)
}

// Requeue puts a job back in the queue.
func (s *Store) Requeue(ctx context.Context, id int64) error {
	return s.update(ctx, id, `status = ?`, string(StatusPending))
}

// RequeueProcessing returns every processing row to the queue. Rows left in
// that state belong to workers of a previous run that never finished.
func (s *Store) RequeueProcessing(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE transcriptions SET status = ?, updated_at = ? WHERE status = ?`,
		string(StatusPending), s.now().UTC().UnixMilli(), string(StatusProcessing))
	if err != nil {
		return 0, fmt.Errorf("failed to requeue processing transcriptions: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM transcriptions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete transcription %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) update(ctx context.Context, id int64, set string, args ...any) error {
	args = append(args, s.now().UTC().UnixMilli(), id)
	res, err := s.db.ExecContext(ctx, `UPDATE transcriptions SET `+set+`, updated_at = ? WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update transcription %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update transcription %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Transcription, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcriptions: %w", err)
	}
	defer rows.Close()

	transcriptions := make([]Transcription, 0)
	for rows.Next() {
		t, err := scanTranscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transcription: %w", err)
		}
		transcriptions = append(transcriptions, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transcriptions: %w", err)
	}
	return transcriptions, nil
}

func (o ListOptions) where() (string, []any) {
	var clauses []string
	var args []any
	if o.Owner != "" {
		clauses = append(clauses, "owner = ?")
		args = append(args, o.Owner)
	}
	if o.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(o.Status))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTranscription(row scanner) (*Transcription, error) {
	var t Transcription
	var status, result string
	var createdAt, updatedAt int64
	err := row.Scan(&t.ID, &t.Filename, &t.Path, &t.Size, &t.Mimetype, &t.Duration, &t.Language,
		&status, &t.Owner, &result, &t.Error, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	t.Status = Status(status)
	t.CreatedAt = time.UnixMilli(createdAt).UTC()
	t.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	t.Result = []string{}
	if result != "" {
		if err := json.Unmarshal([]byte(result), &t.Result); err != nil {
			return nil, fmt.Errorf("invalid result column for transcription %d: %w", t.ID, err)
		}
	}
	return &t, nil
}

func encodeResult(formats []string) (string, error) {
	if len(formats) == 0 {
		return "", nil
	}
	b, err := json.Marshal(formats)
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return string(b), nil
}
