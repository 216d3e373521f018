package ports

import (
	"context"

	"github.com/taxdash/docsync/internal/core/domain"
)

// FileInput is a user-selected file handed to the upload orchestration.
type FileInput struct {
	Name      string
	MediaType string
	Payload   []byte
}

// UploadResult reports the per-file outcome of an upload request. Err is set
// for files rejected by validation or failed in transport; LocalID is empty
// when validation rejected the file before a document was created.
type UploadResult struct {
	Name    string
	LocalID string
	Err     error
}

// DocumentSyncer is the inbound contract for client-initiated actions against
// the tracked document set.
type DocumentSyncer interface {
	UploadAll(ctx context.Context, files []FileInput) []UploadResult
	AnalyzeAll(ctx context.Context) (domain.AnalyzeAck, error)
	Retry(ctx context.Context, localID string) error
	Delete(ctx context.Context, localID string) error
	RefreshSnapshot(ctx context.Context) error
	Resync(ctx context.Context) error
	Documents() []domain.Document
}

// EventApplier is the inbound contract for the reconciler: the single writer
// of document lifecycle state.
type EventApplier interface {
	ApplyEvent(ev domain.Event)
	ApplySnapshot(entries []domain.SnapshotEntry)
}
