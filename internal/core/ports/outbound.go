package ports

import (
	"context"

	"github.com/taxdash/docsync/internal/core/domain"
)

// BackendClient talks to the document-intake HTTP API. Calls are bounded by
// the client's timeout and the supplied context.
type BackendClient interface {
	UploadDocument(ctx context.Context, filename, mediaType string, payload []byte) (domain.UploadAck, error)
	AnalyzeAll(ctx context.Context) (domain.AnalyzeAck, error)
	ListDocuments(ctx context.Context) ([]domain.SnapshotEntry, error)
	GetDocument(ctx context.Context, identity int64) (domain.SnapshotEntry, error)
	DeleteDocument(ctx context.Context, identity int64) error
}

// EventChannel is the persistent push connection to the backend. Connect is
// idempotent and reports nothing synchronously; connection outcomes arrive
// via the open/close callbacks configured on construction.
type EventChannel interface {
	Connect()
	Disconnect()
}
