package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/taxdash/docsync/internal/core/domain"
	"github.com/taxdash/docsync/internal/core/ports"
	"github.com/taxdash/docsync/internal/core/reconcile"
)

// In-flight documents above this count trigger a full snapshot refresh
// instead of per-document fetches after a reconnect.
const targetedResyncMax = 3

type DocumentSyncUseCase struct {
	rec     *reconcile.Reconciler
	backend ports.BackendClient
	log     *slog.Logger

	sem            *semaphore.Weighted
	maxUploadBytes int64
}

func NewDocumentSyncUseCase(
	rec *reconcile.Reconciler,
	backend ports.BackendClient,
	log *slog.Logger,
	uploadParallelism int64,
	maxUploadBytes int64,
) *DocumentSyncUseCase {
	if uploadParallelism <= 0 {
		uploadParallelism = 4
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = MaxUploadBytes
	}
	if log == nil {
		log = slog.Default()
	}
	return &DocumentSyncUseCase{
		rec:            rec,
		backend:        backend,
		log:            log,
		sem:            semaphore.NewWeighted(uploadParallelism),
		maxUploadBytes: maxUploadBytes,
	}
}

// UploadAll validates every file before any network call, registers the
// accepted ones in Uploading state and uploads them in parallel. It returns
// one result per input file, in input order.
func (uc *DocumentSyncUseCase) UploadAll(ctx context.Context, files []ports.FileInput) []ports.UploadResult {
	results := make([]ports.UploadResult, len(files))
	var wg sync.WaitGroup

	for i, file := range files {
		results[i].Name = file.Name

		if err := ValidateFile(file.Name, int64(len(file.Payload)), uc.maxUploadBytes); err != nil {
			results[i].Err = err
			continue
		}

		doc := &domain.Document{
			LocalID:     uuid.NewString(),
			DisplayName: file.Name,
			ByteSize:    int64(len(file.Payload)),
			MediaType:   file.MediaType,
			State:       domain.StateUploading,
			Payload:     file.Payload,
		}
		if err := uc.rec.AddDocument(doc); err != nil {
			results[i].Err = err
			continue
		}
		results[i].LocalID = doc.LocalID

		wg.Add(1)
		go func(idx int, f ports.FileInput, localID string) {
			defer wg.Done()
			results[idx].Err = uc.uploadOne(ctx, localID, f.Name, f.MediaType, f.Payload)
		}(i, file, doc.LocalID)
	}

	wg.Wait()
	return results
}

func (uc *DocumentSyncUseCase) uploadOne(ctx context.Context, localID, name, mediaType string, payload []byte) error {
	if err := uc.sem.Acquire(ctx, 1); err != nil {
		if markErr := uc.rec.MarkUploadFailed(localID, err.Error()); markErr != nil {
			uc.log.Warn("record upload failure", "local_id", localID, "error", markErr)
		}
		return fmt.Errorf("upload %s: %w", name, err)
	}
	defer uc.sem.Release(1)

	ack, err := uc.backend.UploadDocument(ctx, name, mediaType, payload)
	if err != nil {
		if markErr := uc.rec.MarkUploadFailed(localID, err.Error()); markErr != nil {
			uc.log.Warn("record upload failure", "local_id", localID, "error", markErr)
		}
		return fmt.Errorf("upload %s: %w", name, err)
	}

	if err := uc.rec.AcknowledgeUpload(localID, ack); err != nil {
		// The document was deleted locally while the upload was in flight.
		uc.log.Warn("upload acknowledged for untracked document",
			"local_id", localID, "identity", ack.Identity, "error", err)
	}
	return nil
}

// AnalyzeAll requests analysis of every pending document in one call,
// flipping them to Analyzing optimistically. On HTTP failure the flip is
// reverted and one aggregate error returned. Completion arrives only via the
// event channel; there is no polling.
func (uc *DocumentSyncUseCase) AnalyzeAll(ctx context.Context) (domain.AnalyzeAck, error) {
	flipped, err := uc.rec.BeginBatch()
	if err != nil {
		return domain.AnalyzeAck{}, err
	}

	ack, err := uc.backend.AnalyzeAll(ctx)
	if err != nil {
		uc.rec.RevertBatch(flipped)
		return domain.AnalyzeAck{}, fmt.Errorf("analyze %d documents: %w", len(flipped), err)
	}
	return ack, nil
}

// Retry re-enters a failed document into the upload pipeline. Only failed
// documents with a retained payload qualify.
func (uc *DocumentSyncUseCase) Retry(ctx context.Context, localID string) error {
	doc, err := uc.rec.ResetForRetry(localID)
	if err != nil {
		return err
	}
	return uc.uploadOne(ctx, localID, doc.DisplayName, doc.MediaType, doc.Payload)
}

// Delete removes a document. With an identity the server is authoritative:
// local state changes only after the delete call succeeds. Without one the
// removal is immediate and local.
func (uc *DocumentSyncUseCase) Delete(ctx context.Context, localID string) error {
	doc, ok := uc.rec.Document(localID)
	if !ok {
		return domain.ErrDocumentNotFound
	}
	if doc.HasIdentity() {
		if err := uc.backend.DeleteDocument(ctx, doc.Identity); err != nil {
			return fmt.Errorf("delete document %d: %w", doc.Identity, err)
		}
	}
	uc.rec.Remove(localID)
	return nil
}

// RefreshSnapshot loads the full server listing through the reconciler.
func (uc *DocumentSyncUseCase) RefreshSnapshot(ctx context.Context) error {
	entries, err := uc.backend.ListDocuments(ctx)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}
	uc.rec.ApplySnapshot(entries)
	return nil
}

// Resync reconciles after a channel outage. Events missed during the gap are
// not replayed, so state is re-fetched: per document when only a few are in
// flight, as a full snapshot otherwise.
func (uc *DocumentSyncUseCase) Resync(ctx context.Context) error {
	inFlight := uc.rec.InFlight()
	if len(inFlight) == 0 || len(inFlight) > targetedResyncMax {
		return uc.RefreshSnapshot(ctx)
	}

	entries := make([]domain.SnapshotEntry, 0, len(inFlight))
	for _, identity := range inFlight {
		entry, err := uc.backend.GetDocument(ctx, identity)
		if err != nil {
			uc.log.Warn("targeted resync failed, falling back to full snapshot",
				"identity", identity, "error", err)
			return uc.RefreshSnapshot(ctx)
		}
		entries = append(entries, entry)
	}
	uc.rec.ApplySnapshot(entries)
	return nil
}

// Documents returns copies of all tracked documents.
func (uc *DocumentSyncUseCase) Documents() []domain.Document {
	return uc.rec.Documents()
}
