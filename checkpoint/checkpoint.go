// Package checkpoint persists thread transcripts so a turn can be resumed
// by a later process.
//
// Every Put is an optimistic write: the caller passes the version it read,
// the store accepts the write only if the stored version is still the same,
// and returns the snapshot with the next version.
package checkpoint

import (
	"context"
	"maps"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/chatmodel"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolchat", "checkpoint")

var (
	// ErrVersionConflict is returned by Put when the thread was written
	// by someone else since the checkpoint was read.
	ErrVersionConflict = errors.New("checkpoint version conflict")
	// ErrInvalidThreadID is returned for an empty thread id.
	ErrInvalidThreadID = errors.New("thread id is required")
)

// Checkpoint is the snapshot of a thread after its last completed turn.
type Checkpoint struct {
	ThreadID string `json:"thread_id" yaml:"thread_id"`
	// Version is 0 for a thread that was never written.
	Version   uint64               `json:"version" yaml:"version"`
	Messages  chatmodel.Transcript `json:"messages" yaml:"messages"`
	// Metadata holds string values so it is stored as is by every backend.
	Metadata  map[string]string    `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt time.Time            `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time            `json:"updated_at" yaml:"updated_at"`
}

// Store is a durable key-value store of checkpoints by thread id.
type Store interface {
	// Get returns the checkpoint of the thread,
	// or an empty checkpoint with version 0 if none exists.
	Get(ctx context.Context, threadID string) (*Checkpoint, error)
	// Put stores the checkpoint if the stored version equals cp.Version,
	// otherwise it returns ErrVersionConflict.
	Put(ctx context.Context, cp *Checkpoint) (*Checkpoint, error)
	// Delete removes the thread.
	Delete(ctx context.Context, threadID string) error
	// List returns the stored thread ids.
	List(ctx context.Context) ([]string, error)
	// Close releases the resources owned by the store.
	Close() error
}

// Empty returns the checkpoint of a thread that was never written.
func Empty(threadID string) *Checkpoint {
	return &Checkpoint{ThreadID: threadID}
}

// Clone returns a deep copy.
func (c *Checkpoint) Clone() *Checkpoint {
	cp := *c
	cp.Messages = c.Messages.Clone()
	if c.Metadata != nil {
		cp.Metadata = maps.Clone(c.Metadata)
	}
	return &cp
}

// next returns the snapshot to be stored for cp.
func next(cp *Checkpoint, now time.Time) *Checkpoint {
	n := cp.Clone()
	n.Version = cp.Version + 1
	if n.CreatedAt.IsZero() || cp.Version == 0 {
		n.CreatedAt = now
	}
	n.UpdatedAt = now
	return n
}

func validate(cp *Checkpoint) error {
	if cp == nil || cp.ThreadID == "" {
		return errors.WithStack(ErrInvalidThreadID)
	}
	return nil
}

func conflict(backend string, threadID string, stored, expected uint64) error {
	logger.KV(xlog.WARNING,
		"status", "version_conflict",
		"backend", backend,
		"thread", threadID,
		"stored", stored,
		"expected", expected,
	)
	return errors.Wrapf(ErrVersionConflict, "thread %s: stored version %d, expected %d", threadID, stored, expected)
}
