package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"btbridge/internal/domain"
)

const fileFormatVersion = 1

// FileStore keeps the task registry in a single versioned JSON document,
// one record per entry, so an operator can inspect and recover it with a
// text editor. Saves write a temp file in the same directory and rename it
// over the old one; the rename is the commit point. Between cooperating
// processes (a CLI add while a start loop runs) that atomic write plus
// re-reading the file on every operation is the only synchronization.
type FileStore struct {
	path string
	mu   sync.Mutex
}

type fileDocument struct {
	Version int           `json:"version"`
	Tasks   []domain.Task `json:"tasks"`
}

func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) Save(ctx context.Context, task *domain.Task) error {
	if task.ID == "" {
		return fmt.Errorf("task id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}

	replaced := false
	for i := range doc.Tasks {
		if doc.Tasks[i].ID == task.ID {
			doc.Tasks[i] = *task
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Tasks = append(doc.Tasks, *task)
	}

	return s.write(doc)
}

func (s *FileStore) Get(ctx context.Context, id string) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	for i := range doc.Tasks {
		if doc.Tasks[i].ID == id {
			task := doc.Tasks[i]
			return &task, nil
		}
	}
	return nil, ErrNotFound
}

func (s *FileStore) List(ctx context.Context) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	tasks := make([]domain.Task, len(doc.Tasks))
	copy(tasks, doc.Tasks)
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks, nil
}

func (s *FileStore) FindBySource(ctx context.Context, source string) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	for i := range doc.Tasks {
		if doc.Tasks[i].Source == source {
			task := doc.Tasks[i]
			return &task, nil
		}
	}
	return nil, ErrNotFound
}

func (s *FileStore) Close() error { return nil }

// read loads the current document from disk. A missing file is an empty
// registry, not an error.
func (s *FileStore) read() (*fileDocument, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &fileDocument{Version: fileFormatVersion}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read task store: %w", err)
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode task store %s: %w", s.path, err)
	}
	if doc.Version > fileFormatVersion {
		return nil, fmt.Errorf("task store %s has unsupported version %d", s.path, doc.Version)
	}
	return &doc, nil
}

func (s *FileStore) write(doc *fileDocument) error {
	doc.Version = fileFormatVersion

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode task store: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp store file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp store file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("commit task store: %w", err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
