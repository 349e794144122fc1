package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"btbridge/internal/domain"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	st, err := NewFileStore(filepath.Join(t.TempDir(), "tasks.json"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return st
}

func sampleTask(id string, createdAt time.Time) domain.Task {
	downloaded := createdAt.Add(time.Minute)
	return domain.Task{
		ID:              id,
		Source:          "magnet:?xt=urn:btih:" + id,
		State:           domain.TaskStateDownloaded,
		DownloadHandle:  "aabbccddeeff00112233445566778899aabbccdd",
		Name:            "ubuntu.iso",
		Progress:        100,
		DownloadedBytes: 1024,
		TotalBytes:      1024,
		LocalPath:       "/data/downloads/ubuntu.iso",
		ErrorMessage:    "",
		Retries:         2,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt.Add(2 * time.Minute),
		DownloadedAt:    &downloaded,
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	want := sampleTask("t1", time.Now().UTC().Truncate(time.Second))
	if err := st.Save(ctx, &want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := st.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != want.ID || got.Source != want.Source || got.State != want.State ||
		got.DownloadHandle != want.DownloadHandle || got.Name != want.Name ||
		got.Progress != want.Progress || got.DownloadedBytes != want.DownloadedBytes ||
		got.TotalBytes != want.TotalBytes || got.LocalPath != want.LocalPath ||
		got.Retries != want.Retries {
		t.Errorf("round trip mismatch:\ngot  %+v\nwant %+v", got, want)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) || !got.UpdatedAt.Equal(want.UpdatedAt) {
		t.Errorf("timestamps not preserved")
	}
	if got.DownloadedAt == nil || !got.DownloadedAt.Equal(*want.DownloadedAt) {
		t.Errorf("downloaded_at not preserved")
	}
	if got.UploadedAt != nil {
		t.Errorf("uploaded_at should stay nil")
	}
}

func TestMissingFileIsEmptyStore(t *testing.T) {
	st := newTestStore(t)

	tasks, err := st.List(context.Background())
	if err != nil {
		t.Fatalf("list on missing file: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("expected empty store, got %d tasks", len(tasks))
	}
}

func TestGetNotFound(t *testing.T) {
	st := newTestStore(t)
	if _, err := st.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListOrderedByCreatedAt(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	// insert out of order
	for _, tc := range []struct {
		id     string
		offset time.Duration
	}{
		{"b", 2 * time.Minute},
		{"a", time.Minute},
		{"c", 3 * time.Minute},
	} {
		task := sampleTask(tc.id, base.Add(tc.offset))
		if err := st.Save(ctx, &task); err != nil {
			t.Fatalf("save %s: %v", tc.id, err)
		}
	}

	tasks, err := st.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var ids []string
	for _, task := range tasks {
		ids = append(ids, task.ID)
	}
	want := []string{"a", "b", "c"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("order = %v, want %v", ids, want)
		}
	}
}

func TestSaveUpsertsById(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	task := sampleTask("t1", time.Now().UTC())
	if err := st.Save(ctx, &task); err != nil {
		t.Fatalf("save: %v", err)
	}
	task.State = domain.TaskStateCompleted
	task.RemotePath = "onedrive:/BTDownloads/task-t1"
	if err := st.Save(ctx, &task); err != nil {
		t.Fatalf("second save: %v", err)
	}

	tasks, err := st.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task after upsert, got %d", len(tasks))
	}
	if tasks[0].State != domain.TaskStateCompleted || tasks[0].RemotePath == "" {
		t.Errorf("update not applied: %+v", tasks[0])
	}
}

func TestFindBySource(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	task := sampleTask("t1", time.Now().UTC())
	if err := st.Save(ctx, &task); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := st.FindBySource(ctx, task.Source)
	if err != nil {
		t.Fatalf("find by source: %v", err)
	}
	if got.ID != "t1" {
		t.Errorf("found wrong task %s", got.ID)
	}
	if _, err := st.FindBySource(ctx, "magnet:?xt=urn:btih:other"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown source, got %v", err)
	}
}

func TestFileIsVersionedAndInspectable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.json")
	st, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	task := sampleTask("t1", time.Now().UTC())
	if err := st.Save(context.Background(), &task); err != nil {
		t.Fatalf("save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read store file: %v", err)
	}
	var doc struct {
		Version int               `json:"version"`
		Tasks   []json.RawMessage `json:"tasks"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("store file is not valid json: %v", err)
	}
	if doc.Version != 1 {
		t.Errorf("version = %d, want 1", doc.Version)
	}
	if len(doc.Tasks) != 1 {
		t.Errorf("expected one record entry, got %d", len(doc.Tasks))
	}

	// no temp files may linger after a committed save
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the store file in %s, found %d entries", dir, len(entries))
	}
}
