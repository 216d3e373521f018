package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/taxdash/docsync/internal/core/domain"
	"github.com/taxdash/docsync/internal/core/ports"
	"github.com/taxdash/docsync/internal/core/reconcile"
	"github.com/taxdash/docsync/internal/core/registry"
)

var _ ports.DocumentSyncer = (*DocumentSyncUseCase)(nil)

type backendFake struct {
	mu sync.Mutex

	uploadCalls  int
	uploadErr    error
	nextIdentity int64

	analyzeCalls int
	analyzeErr   error

	deleteCalls []int64
	deleteErr   error

	listCalls   int
	listEntries []domain.SnapshotEntry
	listErr     error

	getCalls   []int64
	getEntries map[int64]domain.SnapshotEntry
}

func (f *backendFake) UploadDocument(_ context.Context, filename, _ string, _ []byte) (domain.UploadAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadCalls++
	if f.uploadErr != nil {
		return domain.UploadAck{}, f.uploadErr
	}
	f.nextIdentity++
	return domain.UploadAck{
		Identity:   f.nextIdentity,
		Filename:   filename,
		State:      domain.StatePending,
		UploadTime: time.Now(),
	}, nil
}

func (f *backendFake) AnalyzeAll(context.Context) (domain.AnalyzeAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyzeCalls++
	if f.analyzeErr != nil {
		return domain.AnalyzeAck{}, f.analyzeErr
	}
	return domain.AnalyzeAck{Message: "analysis started"}, nil
}

func (f *backendFake) ListDocuments(context.Context) ([]domain.SnapshotEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.listEntries, nil
}

func (f *backendFake) GetDocument(_ context.Context, identity int64) (domain.SnapshotEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls = append(f.getCalls, identity)
	entry, ok := f.getEntries[identity]
	if !ok {
		return domain.SnapshotEntry{}, domain.ErrDocumentNotFound
	}
	return entry, nil
}

func (f *backendFake) DeleteDocument(_ context.Context, identity int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls = append(f.deleteCalls, identity)
	return f.deleteErr
}

func newUseCase(t *testing.T, fake *backendFake) (*DocumentSyncUseCase, *reconcile.Reconciler) {
	t.Helper()
	rec := reconcile.New(registry.New(), nil)
	return NewDocumentSyncUseCase(rec, fake, nil, 2, 0), rec
}

func TestUploadAllAcceptsValidFile(t *testing.T) {
	fake := &backendFake{}
	uc, _ := newUseCase(t, fake)

	results := uc.UploadAll(context.Background(), []ports.FileInput{
		{Name: "invoice.pdf", MediaType: "application/pdf", Payload: []byte("pdf-bytes")},
	})

	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("unexpected results: %+v", results)
	}
	if fake.uploadCalls != 1 {
		t.Fatalf("expected 1 upload call, got %d", fake.uploadCalls)
	}
	docs := uc.Documents()
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
	if docs[0].State != domain.StatePending || !docs[0].HasIdentity() {
		t.Fatalf("expected acknowledged pending document, got %+v", docs[0])
	}
}

func TestUploadAllRejectsUnsupportedExtension(t *testing.T) {
	fake := &backendFake{}
	uc, _ := newUseCase(t, fake)

	results := uc.UploadAll(context.Background(), []ports.FileInput{
		{Name: "setup.exe", Payload: []byte("mz")},
	})

	if !domain.IsKind(results[0].Err, domain.ErrInvalidInput) {
		t.Fatalf("expected validation rejection, got %v", results[0].Err)
	}
	if results[0].LocalID != "" {
		t.Fatalf("rejected file must not create a document")
	}
	if fake.uploadCalls != 0 {
		t.Fatalf("rejected file must not reach the network, got %d calls", fake.uploadCalls)
	}
	if len(uc.Documents()) != 0 {
		t.Fatalf("registry must stay unchanged")
	}
}

func TestUploadAllRejectsOversizedFile(t *testing.T) {
	fake := &backendFake{}
	rec := reconcile.New(registry.New(), nil)
	uc := NewDocumentSyncUseCase(rec, fake, nil, 2, 8)

	results := uc.UploadAll(context.Background(), []ports.FileInput{
		{Name: "big.pdf", Payload: []byte("123456789")},
	})
	if !domain.IsKind(results[0].Err, domain.ErrInvalidInput) {
		t.Fatalf("expected size rejection, got %v", results[0].Err)
	}
	if fake.uploadCalls != 0 {
		t.Fatalf("oversized file must not reach the network")
	}
}

func TestUploadFailureMarksDocumentFailed(t *testing.T) {
	fake := &backendFake{uploadErr: errors.New("503 service unavailable")}
	uc, _ := newUseCase(t, fake)

	results := uc.UploadAll(context.Background(), []ports.FileInput{
		{Name: "invoice.pdf", Payload: []byte("pdf")},
	})
	if results[0].Err == nil {
		t.Fatalf("expected transport error")
	}
	docs := uc.Documents()
	if docs[0].State != domain.StateFailed {
		t.Fatalf("expected failed document, got %s", docs[0].State)
	}
	if !strings.Contains(docs[0].FailureReason, "503") {
		t.Fatalf("server message must be kept, got %q", docs[0].FailureReason)
	}
}

func TestAnalyzeAllFlipsPendingOptimistically(t *testing.T) {
	fake := &backendFake{}
	uc, _ := newUseCase(t, fake)
	uc.UploadAll(context.Background(), []ports.FileInput{
		{Name: "a.pdf", Payload: []byte("1")},
		{Name: "b.csv", Payload: []byte("2")},
	})

	ack, err := uc.AnalyzeAll(context.Background())
	if err != nil {
		t.Fatalf("AnalyzeAll() error = %v", err)
	}
	if ack.Message == "" {
		t.Fatalf("expected acknowledgment message")
	}
	if fake.analyzeCalls != 1 {
		t.Fatalf("expected one analyze call, got %d", fake.analyzeCalls)
	}
	for _, doc := range uc.Documents() {
		if doc.State != domain.StateAnalyzing {
			t.Fatalf("expected optimistic analyzing, got %s", doc.State)
		}
	}
}

func TestAnalyzeAllRevertsOnHTTPFailure(t *testing.T) {
	fake := &backendFake{analyzeErr: errors.New("bad gateway")}
	uc, _ := newUseCase(t, fake)
	uc.UploadAll(context.Background(), []ports.FileInput{
		{Name: "a.pdf", Payload: []byte("1")},
		{Name: "b.csv", Payload: []byte("2")},
	})

	_, err := uc.AnalyzeAll(context.Background())
	if err == nil {
		t.Fatalf("expected aggregate error")
	}
	for _, doc := range uc.Documents() {
		if doc.State != domain.StatePending {
			t.Fatalf("expected revert to pending, got %s", doc.State)
		}
	}

	// The failed batch must not block a later attempt.
	fake.analyzeErr = nil
	if _, err := uc.AnalyzeAll(context.Background()); err != nil {
		t.Fatalf("retrying analyze after revert: %v", err)
	}
}

func TestAnalyzeAllRejectsWhileBatchInFlight(t *testing.T) {
	fake := &backendFake{}
	uc, _ := newUseCase(t, fake)
	uc.UploadAll(context.Background(), []ports.FileInput{{Name: "a.pdf", Payload: []byte("1")}})

	if _, err := uc.AnalyzeAll(context.Background()); err != nil {
		t.Fatalf("AnalyzeAll() error = %v", err)
	}
	if _, err := uc.AnalyzeAll(context.Background()); !domain.IsKind(err, domain.ErrBatchInFlight) {
		t.Fatalf("expected batch-in-flight rejection, got %v", err)
	}
	if fake.analyzeCalls != 1 {
		t.Fatalf("second invocation must not reach the server")
	}
}

func TestRetryReentersPipeline(t *testing.T) {
	fake := &backendFake{uploadErr: errors.New("timeout")}
	uc, _ := newUseCase(t, fake)
	results := uc.UploadAll(context.Background(), []ports.FileInput{
		{Name: "a.pdf", Payload: []byte("1")},
	})

	fake.uploadErr = nil
	if err := uc.Retry(context.Background(), results[0].LocalID); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	docs := uc.Documents()
	if docs[0].State != domain.StatePending || !docs[0].HasIdentity() {
		t.Fatalf("expected retried document acknowledged, got %+v", docs[0])
	}
	if fake.uploadCalls != 2 {
		t.Fatalf("expected 2 upload calls, got %d", fake.uploadCalls)
	}
}

func TestRetryRejectedWithoutPayload(t *testing.T) {
	fake := &backendFake{}
	uc, rec := newUseCase(t, fake)
	rec.ApplySnapshot([]domain.SnapshotEntry{
		{Identity: 9, Filename: "old.pdf", State: domain.StateFailed, FailureReason: "bad scan"},
	})

	localID := uc.Documents()[0].LocalID
	if err := uc.Retry(context.Background(), localID); !domain.IsKind(err, domain.ErrPayloadUnavailable) {
		t.Fatalf("expected payload-unavailable rejection, got %v", err)
	}
	if fake.uploadCalls != 0 {
		t.Fatalf("rejected retry must not upload")
	}
}

func TestDeleteWithoutIdentityIsLocal(t *testing.T) {
	fake := &backendFake{uploadErr: errors.New("down")}
	uc, _ := newUseCase(t, fake)
	results := uc.UploadAll(context.Background(), []ports.FileInput{
		{Name: "a.pdf", Payload: []byte("1")},
	})

	if err := uc.Delete(context.Background(), results[0].LocalID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if len(fake.deleteCalls) != 0 {
		t.Fatalf("local delete must not reach the server")
	}
	if len(uc.Documents()) != 0 {
		t.Fatalf("document must be removed")
	}
}

func TestDeleteWithIdentityIsServerAuthoritative(t *testing.T) {
	fake := &backendFake{}
	uc, rec := newUseCase(t, fake)
	rec.ApplySnapshot([]domain.SnapshotEntry{
		{Identity: 5, Filename: "a.pdf", State: domain.StateCompleted},
	})
	localID := uc.Documents()[0].LocalID

	fake.deleteErr = errors.New("404 not found")
	if err := uc.Delete(context.Background(), localID); err == nil {
		t.Fatalf("expected delete error")
	}
	if len(uc.Documents()) != 1 {
		t.Fatalf("failed server delete must not remove local state")
	}

	fake.deleteErr = nil
	if err := uc.Delete(context.Background(), localID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if len(fake.deleteCalls) != 2 || fake.deleteCalls[1] != 5 {
		t.Fatalf("expected server delete for identity 5, got %v", fake.deleteCalls)
	}
	if len(uc.Documents()) != 0 {
		t.Fatalf("document must be removed after server acknowledgment")
	}
}

func TestResyncFetchesInFlightDocuments(t *testing.T) {
	fake := &backendFake{getEntries: map[int64]domain.SnapshotEntry{}}
	uc, rec := newUseCase(t, fake)
	rec.ApplySnapshot([]domain.SnapshotEntry{
		{Identity: 1, Filename: "a.pdf", State: domain.StateAnalyzing},
		{Identity: 2, Filename: "b.pdf", State: domain.StateCompleted},
	})
	fake.getEntries[1] = domain.SnapshotEntry{Identity: 1, Filename: "a.pdf", State: domain.StateCompleted}

	if err := uc.Resync(context.Background()); err != nil {
		t.Fatalf("Resync() error = %v", err)
	}
	if len(fake.getCalls) != 1 || fake.getCalls[0] != 1 {
		t.Fatalf("expected a targeted fetch for identity 1, got %v", fake.getCalls)
	}
	if fake.listCalls != 0 {
		t.Fatalf("targeted resync must not list")
	}
	for _, doc := range uc.Documents() {
		if doc.Identity == 1 && doc.State != domain.StateCompleted {
			t.Fatalf("resync must settle identity 1, got %s", doc.State)
		}
	}
}

func TestResyncFallsBackToFullSnapshot(t *testing.T) {
	fake := &backendFake{}
	uc, rec := newUseCase(t, fake)
	entries := []domain.SnapshotEntry{
		{Identity: 1, Filename: "a.pdf", State: domain.StateAnalyzing},
		{Identity: 2, Filename: "b.pdf", State: domain.StateAnalyzing},
		{Identity: 3, Filename: "c.pdf", State: domain.StateAnalyzing},
		{Identity: 4, Filename: "d.pdf", State: domain.StateAnalyzing},
	}
	rec.ApplySnapshot(entries)
	fake.listEntries = entries

	if err := uc.Resync(context.Background()); err != nil {
		t.Fatalf("Resync() error = %v", err)
	}
	if fake.listCalls != 1 {
		t.Fatalf("expected a full snapshot fetch, got %d", fake.listCalls)
	}
	if len(fake.getCalls) != 0 {
		t.Fatalf("full resync must not fetch per document")
	}
}

func TestValidateFilePolicy(t *testing.T) {
	if err := ValidateFile("ok.xlsx", 1024, 0); err != nil {
		t.Fatalf("expected xlsx accepted, got %v", err)
	}
	if err := ValidateFile("ok.PDF", 1024, 0); err != nil {
		t.Fatalf("extension check must be case-insensitive, got %v", err)
	}
	if err := ValidateFile("too-big.pdf", MaxUploadBytes+1, 0); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected size rejection, got %v", err)
	}
	if err := ValidateFile("note.txt", 10, 0); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected extension rejection, got %v", err)
	}
}
