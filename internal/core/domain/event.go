package domain

type EventType string

const (
	EventFileStatus       EventType = "file_status"
	EventAnalysisProgress EventType = "analysis_progress"
	EventPong             EventType = "pong"
)

// Event is one decoded push frame from the backend. Identity is the
// server-assigned document key the event refers to.
type Event struct {
	Type     EventType
	Identity int64

	// file_status fields.
	State         LifecycleState
	Result        *ExtractedData
	FailureReason string

	// analysis_progress fields.
	Progress int
	Message  string
}
