package domain

import "time"

type TaskState string

const (
	TaskStatePending     TaskState = "pending"
	TaskStateSubmitted   TaskState = "submitted"
	TaskStateDownloading TaskState = "downloading"
	TaskStateDownloaded  TaskState = "downloaded"
	TaskStateUploading   TaskState = "uploading"
	TaskStateCompleted   TaskState = "completed"
	TaskStateFailed      TaskState = "failed"
	TaskStateRemoved     TaskState = "removed"
)

// Task represents one tracked download-then-upload unit of work.
type Task struct {
	ID              string     `json:"id"`
	Source          string     `json:"source"`
	State           TaskState  `json:"state"`
	DownloadHandle  string     `json:"download_handle,omitempty"`
	Name            string     `json:"name,omitempty"`
	Progress        float64    `json:"progress"`
	DownloadedBytes int64      `json:"downloaded_bytes"`
	TotalBytes      int64      `json:"total_bytes"`
	LocalPath       string     `json:"local_path,omitempty"`
	RemotePath      string     `json:"remote_path,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	Retries         int        `json:"retries"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	DownloadedAt    *time.Time `json:"downloaded_at,omitempty"`
	UploadedAt      *time.Time `json:"uploaded_at,omitempty"`
}

// IsTerminal reports whether the state admits no further transitions.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateFailed, TaskStateRemoved:
		return true
	}
	return false
}

var transitions = map[TaskState][]TaskState{
	TaskStatePending:     {TaskStateSubmitted},
	TaskStateSubmitted:   {TaskStateDownloading, TaskStateDownloaded},
	TaskStateDownloading: {TaskStateDownloading, TaskStateDownloaded},
	TaskStateDownloaded:  {TaskStateUploading},
	TaskStateUploading:   {TaskStateUploading, TaskStateCompleted},
}

// CanTransition reports whether moving between the two states follows the
// lifecycle. Failed and removed are reachable from any non-terminal state.
func CanTransition(from, to TaskState) bool {
	if from.IsTerminal() {
		return false
	}
	if to == TaskStateFailed || to == TaskStateRemoved {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the task to the given state, stamping updated_at and
// clearing any recorded failure. An illegal move is reported so the caller
// can surface it instead of silently corrupting the record.
func (t *Task) Transition(to TaskState, now time.Time) error {
	if !CanTransition(t.State, to) {
		return &IllegalTransitionError{From: t.State, To: to}
	}
	t.State = to
	t.UpdatedAt = now
	if to != TaskStateFailed {
		t.ErrorMessage = ""
		t.Retries = 0
	}
	return nil
}

// Fail records a failure message and moves the task to the failed state.
func (t *Task) Fail(msg string, now time.Time) {
	t.State = TaskStateFailed
	t.ErrorMessage = msg
	t.UpdatedAt = now
}
