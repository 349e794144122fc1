package store

import (
	"context"
	"errors"

	"btbridge/internal/domain"
)

// ErrNotFound is returned when no record exists for the requested id.
var ErrNotFound = errors.New("task not found")

// Store is the durable task registry. Implementations must make every Save
// durable before returning and must never expose a torn record to a
// subsequent read, so a process restart resumes exactly where it left off.
type Store interface {
	// Save persists the record's latest state atomically, inserting it if
	// the id is new.
	Save(ctx context.Context, task *domain.Task) error
	// Get returns the record for the id or ErrNotFound.
	Get(ctx context.Context, id string) (*domain.Task, error)
	// List returns all records ordered by created_at ascending.
	List(ctx context.Context) ([]domain.Task, error)
	// FindBySource returns the record tracking the given source, or
	// ErrNotFound. Used to reject duplicate submissions.
	FindBySource(ctx context.Context, source string) (*domain.Task, error)
	Close() error
}
