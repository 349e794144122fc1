package domain

import (
	"errors"
	"fmt"
)

// Gateway failure taxonomy. Gateways wrap their failures with one of these
// sentinels so the orchestrator can pick the retry behavior without knowing
// engine internals.
var (
	// ErrInvalidSource marks a malformed magnet URI or unreadable torrent
	// file. Never retried.
	ErrInvalidSource = errors.New("invalid source")
	// ErrTransient marks network blips and rate limits. Retried on the next
	// tick up to the configured bound.
	ErrTransient = errors.New("transient error")
	// ErrAuthRequired means no credential exists and no interactive flow is
	// available in this run.
	ErrAuthRequired = errors.New("authentication required")
	// ErrAuthExpired means the stored credential no longer works.
	ErrAuthExpired = errors.New("authentication expired")
	// ErrQuotaExceeded marks remote storage quota exhaustion. Not retried.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	// ErrFatal marks permanently rejected content or engine errors. Not
	// retried.
	ErrFatal = errors.New("fatal gateway error")
)

// ErrorKind buckets a gateway error for retry decisions.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInput
	KindTransient
	KindAuth
	KindFatal
)

// Classify maps an error onto the taxonomy. Unrecognized errors are treated
// as transient so a one-off failure cannot permanently fail a task.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrInvalidSource):
		return KindInput
	case errors.Is(err, ErrAuthRequired), errors.Is(err, ErrAuthExpired):
		return KindAuth
	case errors.Is(err, ErrQuotaExceeded), errors.Is(err, ErrFatal):
		return KindFatal
	case errors.Is(err, ErrTransient):
		return KindTransient
	default:
		return KindTransient
	}
}

// IllegalTransitionError reports an attempted lifecycle move outside the
// transition table.
type IllegalTransitionError struct {
	From TaskState
	To   TaskState
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal task transition %s -> %s", e.From, e.To)
}
