package domain

import "time"

// UploadAck is the backend's immediate answer to a document upload.
type UploadAck struct {
	Identity   int64
	Filename   string
	State      LifecycleState
	UploadTime time.Time
}

// AnalyzeAck acknowledges a bulk analysis request. Outcomes for the
// individual documents arrive later over the event channel.
type AnalyzeAck struct {
	Message        string
	AnalyzedCount  int
	FailedCount    int
	TotalProcessed int
}

// SnapshotEntry is one document as reported by the bulk listing endpoint.
type SnapshotEntry struct {
	Identity      int64
	Filename      string
	ByteSize      int64
	MediaType     string
	State         LifecycleState
	UploadTime    time.Time
	Result        *ExtractedData
	FailureReason string
}
