// Package sqlite provides a sqlite-backed task registry for deployments
// that prefer a database file over the plain JSON document. Durability per
// save comes from sqlite's journal instead of a temp-file rename.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"btbridge/internal/domain"
	"btbridge/internal/store"
)

const createTasksTable = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	state TEXT NOT NULL,
	download_handle TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL DEFAULT '',
	progress REAL NOT NULL DEFAULT 0,
	downloaded_bytes INTEGER NOT NULL DEFAULT 0,
	total_bytes INTEGER NOT NULL DEFAULT 0,
	local_path TEXT NOT NULL DEFAULT '',
	remote_path TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	retries INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	downloaded_at DATETIME NULL,
	uploaded_at DATETIME NULL
);
`

type TaskStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at the given path and ensures the
// schema exists.
func Open(ctx context.Context, path string) (*TaskStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// single writer keeps saves serialized, matching the orchestrator model
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, createTasksTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tasks table: %w", err)
	}

	return &TaskStore{db: db}, nil
}

func (s *TaskStore) Save(ctx context.Context, task *domain.Task) error {
	if task.ID == "" {
		return fmt.Errorf("task id is required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO tasks (
	id, source, state, download_handle, name, progress, downloaded_bytes,
	total_bytes, local_path, remote_path, error_message, retries,
	created_at, updated_at, downloaded_at, uploaded_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	state = excluded.state,
	download_handle = excluded.download_handle,
	name = excluded.name,
	progress = excluded.progress,
	downloaded_bytes = excluded.downloaded_bytes,
	total_bytes = excluded.total_bytes,
	local_path = excluded.local_path,
	remote_path = excluded.remote_path,
	error_message = excluded.error_message,
	retries = excluded.retries,
	updated_at = excluded.updated_at,
	downloaded_at = excluded.downloaded_at,
	uploaded_at = excluded.uploaded_at
`,
		task.ID, task.Source, string(task.State), task.DownloadHandle,
		task.Name, task.Progress, task.DownloadedBytes, task.TotalBytes,
		task.LocalPath, task.RemotePath, task.ErrorMessage, task.Retries,
		task.CreatedAt.UTC(), task.UpdatedAt.UTC(),
		nullableTime(task.DownloadedAt), nullableTime(task.UploadedAt),
	)
	if err != nil {
		return fmt.Errorf("save task %s: %w", task.ID, err)
	}
	return nil
}

const selectColumns = `
	id, source, state, download_handle, name, progress, downloaded_bytes,
	total_bytes, local_path, remote_path, error_message, retries,
	created_at, updated_at, downloaded_at, uploaded_at
`

func (s *TaskStore) Get(ctx context.Context, id string) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return task, nil
}

func (s *TaskStore) FindBySource(ctx context.Context, source string) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM tasks WHERE source = ? LIMIT 1`, source)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find task by source: %w", err)
	}
	return task, nil
}

func (s *TaskStore) List(ctx context.Context) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM tasks ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

func (s *TaskStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task         domain.Task
		state        string
		downloadedAt sql.NullTime
		uploadedAt   sql.NullTime
	)
	err := row.Scan(
		&task.ID, &task.Source, &state, &task.DownloadHandle, &task.Name,
		&task.Progress, &task.DownloadedBytes, &task.TotalBytes,
		&task.LocalPath, &task.RemotePath, &task.ErrorMessage, &task.Retries,
		&task.CreatedAt, &task.UpdatedAt, &downloadedAt, &uploadedAt,
	)
	if err != nil {
		return nil, err
	}
	task.State = domain.TaskState(state)
	if downloadedAt.Valid {
		t := downloadedAt.Time
		task.DownloadedAt = &t
	}
	if uploadedAt.Valid {
		t := uploadedAt.Time
		task.UploadedAt = &t
	}
	return &task, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

var _ store.Store = (*TaskStore)(nil)
