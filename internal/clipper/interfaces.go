package clipper

import (
	"context"
	"io"
	"time"
)

// Transport performs a single GET and returns the undecoded payload.
type Transport interface {
	Get(ctx context.Context, request Request) (RawResponse, error)
}

// BlobStore persists asset bytes and returns the locator to use in markup.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// NoteStore is the block-based note store the importer writes to.
type NoteStore interface {
	// CreateDocument creates a document at path unless one already exists.
	// created is false when the path was already taken.
	CreateDocument(ctx context.Context, notebook, path, markup string) (id string, created bool, err error)
	// DocumentExists reports the ID of the document at path, if any.
	DocumentExists(ctx context.Context, notebook, path string) (string, bool, error)
	// EnsurePath creates any missing ancestor documents of path.
	EnsurePath(ctx context.Context, notebook, path string) error
	// UpsertBlock updates the block when ID is set and inserts it otherwise.
	UpsertBlock(ctx context.Context, block Block) (string, error)
}

// Block is the block-level payload for UpsertBlock.
type Block struct {
	ID         string
	ParentID   string
	PreviousID string
	NextID     string
	Data       string
}

// Publisher pushes completion events to Pub/Sub (or similar). event names
// the kind of message, for example "clip.completed".
type Publisher interface {
	Publish(ctx context.Context, event string, payload any) (string, error)
}

// OutcomeRecorder persists per-URL outcomes.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, record OutcomeRecord) error
}

// Hasher computes digests for deduplication.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// HostLimiter throttles requests per host.
type HostLimiter interface {
	Wait(ctx context.Context, url string) error
}
