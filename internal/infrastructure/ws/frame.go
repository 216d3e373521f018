package ws

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/taxdash/docsync/internal/core/domain"
)

type wireFrame struct {
	Type     string     `json:"type"`
	FileID   int64      `json:"file_id"`
	Status   string     `json:"status"`
	Progress *int       `json:"progress"`
	Message  string     `json:"message"`
	Data     *frameData `json:"data"`

	// The backend stamps frames with an event-loop clock reading, a JSON
	// number. It is not consumed but must decode cleanly.
	Timestamp json.Number `json:"timestamp"`
}

type frameData struct {
	ExtractedData *domain.ExtractedData `json:"extracted_data"`
	Error         string                `json:"error"`
}

// decodeFrame maps one inbound frame to a domain event. Anything the backend
// sends that does not fit the contract comes back as an error so the caller
// can drop it without touching local state.
func decodeFrame(raw []byte) (domain.Event, error) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("pong")) {
		return domain.Event{Type: domain.EventPong}, nil
	}

	var frame wireFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return domain.Event{}, fmt.Errorf("decode frame: %w", err)
	}

	switch frame.Type {
	case "pong":
		return domain.Event{Type: domain.EventPong}, nil

	case "file_status":
		if frame.FileID <= 0 {
			return domain.Event{}, fmt.Errorf("file_status frame without file_id")
		}
		state, ok := domain.ParseLifecycleState(frame.Status)
		if !ok {
			return domain.Event{}, fmt.Errorf("file_status frame with unknown status %q", frame.Status)
		}
		event := domain.Event{
			Type:     domain.EventFileStatus,
			Identity: frame.FileID,
			State:    state,
			Message:  frame.Message,
		}
		if frame.Data != nil {
			event.Result = frame.Data.ExtractedData
			event.FailureReason = frame.Data.Error
		}
		return event, nil

	case "analysis_progress":
		if frame.FileID <= 0 {
			return domain.Event{}, fmt.Errorf("analysis_progress frame without file_id")
		}
		if frame.Progress == nil {
			return domain.Event{}, fmt.Errorf("analysis_progress frame without progress")
		}
		progress := *frame.Progress
		if progress < 0 {
			progress = 0
		}
		if progress > 100 {
			progress = 100
		}
		return domain.Event{
			Type:     domain.EventAnalysisProgress,
			Identity: frame.FileID,
			Progress: progress,
			Message:  frame.Message,
		}, nil

	default:
		return domain.Event{}, fmt.Errorf("unknown frame type %q", frame.Type)
	}
}
