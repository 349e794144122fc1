// Package orchestrator drives every tracked task through its lifecycle on a
// fixed polling cadence. Each tick advances a task by at most one state
// transition and persists the record before touching the next task, so a
// killed process loses at most one cycle of progress and never a record.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/sirupsen/logrus"

	"btbridge/internal/domain"
	"btbridge/internal/gateway"
	"btbridge/internal/storage"
	"btbridge/internal/store"
)

type Config struct {
	// RemoteFolder is the cloud-storage folder completed tasks land under.
	RemoteFolder string
	// MaxRetries caps consecutive transient failures per task before the
	// task escalates to failed. Auth failures do not consume retries.
	MaxRetries int
	// PurgeOnComplete removes local data and drops the transfer once the
	// upload is confirmed. Off by default: deletion is irreversible.
	PurgeOnComplete bool
	Logger          *logrus.Logger
}

type Orchestrator struct {
	cfg        Config
	store      store.Store
	downloader gateway.Downloader
	uploader   storage.Uploader
	logger     *logrus.Logger
	now        func() time.Time
}

func New(cfg Config, st store.Store, dl gateway.Downloader, up storage.Uploader) *Orchestrator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RemoteFolder == "" {
		cfg.RemoteFolder = "btbridge"
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Orchestrator{
		cfg:        cfg,
		store:      st,
		downloader: dl,
		uploader:   up,
		logger:     cfg.Logger,
		now:        time.Now,
	}
}

// Run ticks on the given cadence until the context is cancelled. The
// current tick always finishes before Run returns, so cancellation never
// leaves a record mid-mutation.
func (o *Orchestrator) Run(ctx context.Context, interval time.Duration) error {
	o.logger.Infof("orchestrator started, polling every %s", interval)
	for {
		if err := o.Tick(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			o.logger.Info("orchestrator stopped")
			return nil
		case <-time.After(interval):
		}
	}
}

// Tick advances every non-terminal task by at most one transition. Gateway
// errors are recorded on the affected record and never stop the pass; only
// a store failure aborts, since continuing would silently lose progress.
func (o *Orchestrator) Tick(ctx context.Context) error {
	tasks, err := o.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	for i := range tasks {
		task := tasks[i]
		if task.State.IsTerminal() {
			continue
		}

		before := task.State
		o.advance(ctx, &task)

		if err := o.store.Save(ctx, &task); err != nil {
			return fmt.Errorf("persist task %s: %w", task.ID, err)
		}
		if task.State != before {
			o.logger.WithField("task_id", task.ID).Infof("%s -> %s", before, task.State)
		}
	}
	return nil
}

// advance performs the single transition applicable to the task's state.
func (o *Orchestrator) advance(ctx context.Context, task *domain.Task) {
	switch task.State {
	case domain.TaskStatePending:
		o.submit(ctx, task)
	case domain.TaskStateSubmitted, domain.TaskStateDownloading:
		o.pollDownload(ctx, task)
	case domain.TaskStateDownloaded:
		if err := task.Transition(domain.TaskStateUploading, o.now()); err != nil {
			task.Fail(err.Error(), o.now())
		}
	case domain.TaskStateUploading:
		o.upload(ctx, task)
	}
}

func (o *Orchestrator) submit(ctx context.Context, task *domain.Task) {
	handle, err := o.downloader.Submit(ctx, task.Source)
	if err != nil {
		if domain.Classify(err) == domain.KindInput {
			task.Fail(err.Error(), o.now())
			return
		}
		o.noteRetry(task, err)
		return
	}

	task.DownloadHandle = handle
	if err := task.Transition(domain.TaskStateSubmitted, o.now()); err != nil {
		task.Fail(err.Error(), o.now())
	}
}

func (o *Orchestrator) pollDownload(ctx context.Context, task *domain.Task) {
	status, err := o.downloader.Status(ctx, task.DownloadHandle)
	if err != nil {
		if domain.Classify(err) == domain.KindFatal {
			task.Fail(err.Error(), o.now())
			return
		}
		o.noteRetry(task, err)
		return
	}

	now := o.now()
	switch status.State {
	case gateway.DownloadStateQueued:
		// metadata still resolving, keep waiting
		task.UpdatedAt = now

	case gateway.DownloadStateActive:
		if task.State == domain.TaskStateSubmitted {
			if err := task.Transition(domain.TaskStateDownloading, now); err != nil {
				task.Fail(err.Error(), now)
				return
			}
		}
		task.Name = status.Name
		task.Progress = status.Progress
		task.DownloadedBytes = status.BytesCompleted
		task.TotalBytes = status.TotalBytes
		task.UpdatedAt = now

	case gateway.DownloadStateComplete:
		if err := task.Transition(domain.TaskStateDownloaded, now); err != nil {
			task.Fail(err.Error(), now)
			return
		}
		task.Name = status.Name
		task.Progress = 100
		task.DownloadedBytes = status.BytesCompleted
		task.TotalBytes = status.TotalBytes
		task.LocalPath = status.LocalPath
		task.DownloadedAt = &now

	case gateway.DownloadStateError:
		task.Fail(status.Error, now)
	}
}

func (o *Orchestrator) upload(ctx context.Context, task *domain.Task) {
	if err := o.uploader.EnsureAuthenticated(ctx); err != nil {
		o.noteUploadError(task, err)
		return
	}

	folder := path.Join(o.cfg.RemoteFolder, "task-"+task.ID)
	remote, err := o.uploader.Upload(ctx, task.LocalPath, folder)
	if err != nil {
		o.noteUploadError(task, err)
		return
	}

	now := o.now()
	task.RemotePath = remote
	if err := task.Transition(domain.TaskStateCompleted, now); err != nil {
		task.Fail(err.Error(), now)
		return
	}
	task.UploadedAt = &now

	if o.cfg.PurgeOnComplete {
		o.purge(ctx, task)
	}
}

func (o *Orchestrator) noteUploadError(task *domain.Task, err error) {
	switch domain.Classify(err) {
	case domain.KindAuth:
		// stay in place until the operator re-authenticates; these do not
		// consume the retry budget
		task.ErrorMessage = err.Error()
		task.UpdatedAt = o.now()
		o.logger.WithField("task_id", task.ID).Warnf("upload waiting for authentication: %v", err)
	case domain.KindFatal, domain.KindInput:
		task.Fail(err.Error(), o.now())
	default:
		o.noteRetry(task, err)
	}
}

// noteRetry records a transient failure, failing the task once the
// consecutive-failure budget is spent.
func (o *Orchestrator) noteRetry(task *domain.Task, err error) {
	task.Retries++
	task.ErrorMessage = err.Error()
	task.UpdatedAt = o.now()
	if task.Retries >= o.cfg.MaxRetries {
		task.Fail(fmt.Sprintf("giving up after %d attempts: %v", task.Retries, err), o.now())
		return
	}
	o.logger.WithField("task_id", task.ID).Warnf("attempt %d/%d failed: %v",
		task.Retries, o.cfg.MaxRetries, err)
}

func (o *Orchestrator) purge(ctx context.Context, task *domain.Task) {
	logger := o.logger.WithField("task_id", task.ID)
	if task.DownloadHandle != "" {
		if err := o.downloader.Cancel(ctx, task.DownloadHandle, true); err != nil {
			logger.Warnf("drop transfer: %v", err)
		}
	}
	if task.LocalPath != "" {
		if err := os.RemoveAll(task.LocalPath); err != nil && !os.IsNotExist(err) {
			logger.Warnf("remove local data: %v", err)
		}
	}
	logger.Info("local data purged after upload")
}

// Remove cancels a task's transfer and marks the record removed. Completed
// and failed records can also be removed; only the bookkeeping changes.
func (o *Orchestrator) Remove(ctx context.Context, id string, purgeFiles bool) (*domain.Task, error) {
	task, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.State == domain.TaskStateRemoved {
		return task, nil
	}

	if task.DownloadHandle != "" {
		if err := o.downloader.Cancel(ctx, task.DownloadHandle, purgeFiles); err != nil {
			o.logger.WithField("task_id", id).Warnf("cancel transfer: %v", err)
		}
	}
	if purgeFiles && task.LocalPath != "" {
		if err := os.RemoveAll(task.LocalPath); err != nil && !os.IsNotExist(err) {
			o.logger.WithField("task_id", id).Warnf("remove local data: %v", err)
		}
	}

	task.State = domain.TaskStateRemoved
	task.UpdatedAt = o.now()
	if err := o.store.Save(ctx, task); err != nil {
		return nil, fmt.Errorf("persist task %s: %w", id, err)
	}
	return task, nil
}
