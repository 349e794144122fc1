// Package storage holds the cloud-storage upload gateways. The orchestrator
// only sees the Uploader contract; credential handling stays inside each
// backend.
package storage

import "context"

// Uploader transfers a completed local file tree to remote storage.
type Uploader interface {
	// EnsureAuthenticated verifies a usable credential exists, refreshing it
	// if the backend supports that. Returns domain.ErrAuthRequired when no
	// credential exists and no interactive flow is available in this run.
	EnsureAuthenticated(ctx context.Context) error
	// Authenticate runs the backend's operator-facing credential flow.
	Authenticate(ctx context.Context) error
	// InteractiveAuth reports whether an operator-facing flow is available.
	// Headless cycles must run with a pre-authenticated credential instead.
	InteractiveAuth() bool
	// Upload copies the file or directory at localPath under remoteFolder
	// and returns the resulting remote path.
	Upload(ctx context.Context, localPath, remoteFolder string) (string, error)
}

// ProgressFunc receives upload byte counters; total is zero when unknown.
type ProgressFunc func(done, total int64)
