package domain

import "time"

type LifecycleState string

const (
	StateUploading LifecycleState = "uploading"
	StatePending   LifecycleState = "pending"
	StateAnalyzing LifecycleState = "analyzing"
	StateCompleted LifecycleState = "completed"
	StateFailed    LifecycleState = "failed"
)

// Rank orders states along the pipeline. Updates never move a document to a
// lower rank, and terminal states are never left once entered.
func (s LifecycleState) Rank() int {
	switch s {
	case StateUploading:
		return 0
	case StatePending:
		return 1
	case StateAnalyzing:
		return 2
	case StateCompleted, StateFailed:
		return 3
	default:
		return -1
	}
}

func (s LifecycleState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// InFlight reports whether the document still awaits a server-side outcome.
func (s LifecycleState) InFlight() bool {
	return s == StatePending || s == StateAnalyzing
}

func ParseLifecycleState(raw string) (LifecycleState, bool) {
	switch LifecycleState(raw) {
	case StateUploading, StatePending, StateAnalyzing, StateCompleted, StateFailed:
		return LifecycleState(raw), true
	default:
		return "", false
	}
}

// ExtractedData is the analysis result produced by the backend. Every field
// is nullable on the wire.
type ExtractedData struct {
	InvoiceNumber *string `json:"invoice_number"`
	Date          *string `json:"date"`
	Vendor        *string `json:"vendor"`
	TotalAmount   *string `json:"total_amount"`
	Currency      *string `json:"currency"`
}

// Document is one tracked upload. Identity is the server-assigned key and is
// zero until the upload call is acknowledged; LocalID names the document on
// the client for the whole session.
type Document struct {
	Identity      int64
	LocalID       string
	DisplayName   string
	ByteSize      int64
	MediaType     string
	State         LifecycleState
	Progress      int
	Result        *ExtractedData
	FailureReason string
	UploadTime    time.Time

	// Payload holds the raw bytes for retry and download. It is set only for
	// documents selected in this session, never for snapshot-loaded ones.
	Payload []byte
}

func (d *Document) HasIdentity() bool {
	return d.Identity != 0
}

// Retryable reports whether a failed document can re-enter the pipeline.
func (d *Document) Retryable() bool {
	return d.State == StateFailed && len(d.Payload) > 0
}
