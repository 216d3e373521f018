// Package reconcile applies inbound events and HTTP snapshots to the
// document registry. The Reconciler is the single writer of lifecycle state,
// progress, result and failure reason; every other component goes through it.
package reconcile

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taxdash/docsync/internal/core/domain"
	"github.com/taxdash/docsync/internal/core/registry"
)

type Reconciler struct {
	mu  sync.Mutex
	reg *registry.Registry
	log *slog.Logger

	batchActive  bool
	batchStarted time.Time
	onBatchDone  []func(elapsed time.Duration)
}

func New(reg *registry.Registry, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{reg: reg, log: log}
}

// OnBatchFinished registers a callback fired exactly once per analysis batch,
// when no tracked document remains pending or analyzing. Callbacks run
// outside the reconciler lock.
func (r *Reconciler) OnBatchFinished(fn func(elapsed time.Duration)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onBatchDone = append(r.onBatchDone, fn)
}

// ApplyEvent applies one push frame under the precedence policy: terminal
// states are never overwritten, and no event moves a document backward in
// the lifecycle ordering. Events for unknown identities are logged and
// dropped, never creating documents implicitly.
func (r *Reconciler) ApplyEvent(ev domain.Event) {
	if ev.Type == domain.EventPong {
		return
	}

	r.mu.Lock()
	doc, ok := r.reg.ByIdentity(ev.Identity)
	if !ok {
		r.mu.Unlock()
		r.log.Warn("event for unknown document dropped", "type", ev.Type, "identity", ev.Identity)
		return
	}

	switch ev.Type {
	case domain.EventFileStatus:
		r.applyStatusLocked(doc, ev)
	case domain.EventAnalysisProgress:
		r.applyProgressLocked(doc, ev)
	default:
		r.mu.Unlock()
		r.log.Warn("event of unknown type dropped", "type", ev.Type, "identity", ev.Identity)
		return
	}

	fire, elapsed := r.checkBatchLocked()
	r.mu.Unlock()
	r.finish(fire, elapsed)
}

func (r *Reconciler) applyStatusLocked(doc *domain.Document, ev domain.Event) {
	if doc.State.Terminal() {
		r.log.Debug("status event after terminal state ignored",
			"identity", ev.Identity, "current", doc.State, "event", ev.State)
		return
	}
	if ev.State.Rank() < doc.State.Rank() {
		r.log.Debug("stale status event ignored",
			"identity", ev.Identity, "current", doc.State, "event", ev.State)
		return
	}
	if ev.State == doc.State {
		return
	}

	doc.State = ev.State
	switch ev.State {
	case domain.StateAnalyzing:
		doc.Progress = 0
	case domain.StateCompleted:
		doc.Progress = 100
		doc.Result = ev.Result
		doc.FailureReason = ""
	case domain.StateFailed:
		doc.Result = nil
		doc.FailureReason = ev.FailureReason
		if doc.FailureReason == "" {
			doc.FailureReason = "analysis failed"
		}
	}
	r.reg.Touched()
}

func (r *Reconciler) applyProgressLocked(doc *domain.Document, ev domain.Event) {
	if doc.State.Terminal() {
		r.log.Debug("progress event after terminal state ignored", "identity", ev.Identity)
		return
	}
	// Progress is a UI hint only: monotonic within a state, never a state
	// transition on its own.
	if ev.Progress > doc.Progress {
		doc.Progress = ev.Progress
		r.reg.Touched()
	}
}

// ApplySnapshot merges a bulk listing into the registry. Known documents are
// updated under the same precedence rules as events; unknown identities are
// added in snapshot order. Unlike events, snapshots may create documents.
func (r *Reconciler) ApplySnapshot(entries []domain.SnapshotEntry) {
	r.mu.Lock()
	for _, entry := range entries {
		doc, ok := r.reg.ByIdentity(entry.Identity)
		if !ok {
			added := snapshotDocument(entry)
			if err := r.reg.Append(added); err != nil {
				r.log.Warn("snapshot entry dropped", "identity", entry.Identity, "error", err)
			}
			continue
		}
		r.mergeSnapshotLocked(doc, entry)
	}
	fire, elapsed := r.checkBatchLocked()
	r.mu.Unlock()
	r.finish(fire, elapsed)
}

func (r *Reconciler) mergeSnapshotLocked(doc *domain.Document, entry domain.SnapshotEntry) {
	doc.ByteSize = entry.ByteSize
	if entry.MediaType != "" {
		doc.MediaType = entry.MediaType
	}
	if !entry.UploadTime.IsZero() {
		doc.UploadTime = entry.UploadTime
	}

	if doc.State.Terminal() && entry.State != doc.State {
		return
	}
	if entry.State.Rank() < doc.State.Rank() {
		return
	}

	doc.State = entry.State
	doc.Result = entry.Result
	doc.FailureReason = entry.FailureReason
	if entry.State == domain.StateCompleted {
		doc.Progress = 100
	}
	r.reg.Touched()
}

func snapshotDocument(entry domain.SnapshotEntry) *domain.Document {
	progress := 0
	if entry.State == domain.StateCompleted {
		progress = 100
	}
	return &domain.Document{
		Identity:      entry.Identity,
		LocalID:       uuid.NewString(),
		DisplayName:   entry.Filename,
		ByteSize:      entry.ByteSize,
		MediaType:     entry.MediaType,
		State:         entry.State,
		Progress:      progress,
		Result:        entry.Result,
		FailureReason: entry.FailureReason,
		UploadTime:    entry.UploadTime,
	}
}

// AddDocument registers a freshly selected file in Uploading state.
func (r *Reconciler) AddDocument(doc *domain.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reg.Add(doc)
}

// AcknowledgeUpload correlates an upload HTTP acknowledgment with its local
// document: binds the identity and enters the server-reported state.
func (r *Reconciler) AcknowledgeUpload(localID string, ack domain.UploadAck) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.reg.AssignIdentity(localID, ack.Identity); err != nil {
		return err
	}
	doc, _ := r.reg.ByLocalID(localID)
	state := ack.State
	if state == "" {
		state = domain.StatePending
	}
	doc.State = state
	doc.Progress = 100
	doc.FailureReason = ""
	if !ack.UploadTime.IsZero() {
		doc.UploadTime = ack.UploadTime
	}
	r.reg.Touched()
	return nil
}

// MarkUploadFailed records a transport failure for a local upload.
func (r *Reconciler) MarkUploadFailed(localID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.reg.ByLocalID(localID)
	if !ok {
		return domain.ErrDocumentNotFound
	}
	doc.State = domain.StateFailed
	doc.Result = nil
	doc.FailureReason = reason
	if doc.FailureReason == "" {
		doc.FailureReason = "upload failed"
	}
	r.reg.Touched()
	return nil
}

// ResetForRetry moves a failed document with a retained payload back to
// Uploading and returns a copy for re-submission.
func (r *Reconciler) ResetForRetry(localID string) (domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.reg.ByLocalID(localID)
	if !ok {
		return domain.Document{}, domain.ErrDocumentNotFound
	}
	if doc.State != domain.StateFailed {
		return domain.Document{}, domain.WrapError(domain.ErrInvalidInput, "retry",
			errors.New("only failed documents can be retried"))
	}
	if len(doc.Payload) == 0 {
		return domain.Document{}, domain.ErrPayloadUnavailable
	}
	doc.State = domain.StateUploading
	doc.Progress = 0
	doc.FailureReason = ""
	doc.Result = nil
	r.reg.Touched()
	return *doc, nil
}

// BeginBatch optimistically flips every pending document to Analyzing and
// arms the batch-finished signal. It returns the flipped local IDs so a
// failed analyze request can revert exactly those documents.
func (r *Reconciler) BeginBatch() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.batchActive {
		return nil, domain.ErrBatchInFlight
	}
	var flipped []string
	for _, doc := range r.reg.Documents() {
		if doc.State == domain.StatePending {
			doc.State = domain.StateAnalyzing
			doc.Progress = 0
			flipped = append(flipped, doc.LocalID)
		}
	}
	if len(flipped) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "begin batch",
			errors.New("no pending documents"))
	}
	r.batchActive = true
	r.batchStarted = time.Now()
	r.reg.Touched()
	return flipped, nil
}

// RevertBatch undoes the optimistic flip after an analyze HTTP failure. The
// batch-finished signal is disarmed without firing.
func (r *Reconciler) RevertBatch(localIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range localIDs {
		doc, ok := r.reg.ByLocalID(id)
		if !ok {
			continue
		}
		if doc.State == domain.StateAnalyzing {
			doc.State = domain.StatePending
		}
	}
	r.batchActive = false
	r.reg.Touched()
}

// Remove deletes a document from local state. Server-side deletion, when the
// document has an identity, is the orchestrator's job before calling this.
func (r *Reconciler) Remove(localID string) bool {
	r.mu.Lock()
	removed := r.reg.Remove(localID)
	fire, elapsed := r.checkBatchLocked()
	r.mu.Unlock()
	r.finish(fire, elapsed)
	return removed
}

// Document returns a copy of one tracked document.
func (r *Reconciler) Document(localID string) (domain.Document, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.reg.ByLocalID(localID)
	if !ok {
		return domain.Document{}, false
	}
	return *doc, true
}

// Documents returns copies of all tracked documents in collection order.
func (r *Reconciler) Documents() []domain.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	docs := r.reg.Documents()
	out := make([]domain.Document, len(docs))
	for i, d := range docs {
		out[i] = *d
	}
	return out
}

// InFlight returns the identities of documents still pending or analyzing.
func (r *Reconciler) InFlight() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []int64
	for _, doc := range r.reg.Documents() {
		if doc.State.InFlight() && doc.HasIdentity() {
			ids = append(ids, doc.Identity)
		}
	}
	return ids
}

// checkBatchLocked clears the in-progress flag at the moment the last
// in-flight document settles, so trailing events cannot double-fire.
func (r *Reconciler) checkBatchLocked() (bool, time.Duration) {
	if !r.batchActive {
		return false, 0
	}
	if r.reg.CountInStates(domain.StatePending, domain.StateAnalyzing) > 0 {
		return false, 0
	}
	r.batchActive = false
	return true, time.Since(r.batchStarted)
}

func (r *Reconciler) finish(fire bool, elapsed time.Duration) {
	if !fire {
		return
	}
	r.mu.Lock()
	callbacks := make([]func(time.Duration), len(r.onBatchDone))
	copy(callbacks, r.onBatchDone)
	r.mu.Unlock()
	for _, fn := range callbacks {
		fn(elapsed)
	}
}
