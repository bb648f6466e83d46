// Package history persists finished transcripts.
//
// A [Recorder] is a realtime.Sink. It merges the per-slice results of each
// streaming job and saves one [Entry] when the job's terminal event arrives.
// Stores: [Memory] for tests and runs without a database, [Postgres] via pgx.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/chaz8081/gostt-stream/internal/realtime"
)

// ErrInvalidLimit is returned by Recent for a non-positive limit.
var ErrInvalidLimit = errors.New("history: limit must be positive")

// Entry is one finished transcription job.
type Entry struct {
	ID              int64
	ContextID       realtime.ContextID
	JobID           realtime.JobID
	Text            string
	Segments        []realtime.Segment
	RecordingTimeMs int64
	StoppedByAction bool
	Code            int
	CreatedAt       time.Time
}

// Store saves and lists entries. Implementations are safe for concurrent use.
type Store interface {
	Save(ctx context.Context, e Entry) (int64, error)
	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close()
}
