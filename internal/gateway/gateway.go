package gateway

import "context"

type DownloadState string

const (
	DownloadStateQueued   DownloadState = "queued"
	DownloadStateActive   DownloadState = "active"
	DownloadStateComplete DownloadState = "complete"
	DownloadStateError    DownloadState = "error"
)

// FileInfo describes one file discovered inside a transfer.
type FileInfo struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// DownloadStatus is a point-in-time snapshot of a transfer, reported by
// handle. Progress figures are advisory only.
type DownloadStatus struct {
	State            DownloadState
	Name             string
	Progress         float64
	BytesCompleted   int64
	TotalBytes       int64
	LocalPath        string
	Files            []FileInfo
	TotalPeers       int
	ActivePeers      int
	ConnectedSeeders int
	Error            string
}

// Downloader is the narrow surface of the peer-to-peer transfer engine.
// Submit hands over a source once and returns an opaque handle; all later
// interaction goes through that handle, so a restarted process resumes a
// transfer without re-submitting the source.
type Downloader interface {
	Submit(ctx context.Context, source string) (string, error)
	Status(ctx context.Context, handle string) (DownloadStatus, error)
	Cancel(ctx context.Context, handle string, purgeFiles bool) error
	Close() error
}
