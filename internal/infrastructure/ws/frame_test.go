package ws

import (
	"testing"

	"github.com/taxdash/docsync/internal/core/domain"
)

func TestDecodeFrameFileStatus(t *testing.T) {
	raw := []byte(`{
		"type": "file_status",
		"file_id": 12,
		"status": "completed",
		"message": "Analysis complete",
		"data": {"extracted_data": {"invoice_number": "INV-7", "total_amount": "120.50"}},
		"timestamp": 12345.678
	}`)

	event, err := decodeFrame(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.Type != domain.EventFileStatus || event.Identity != 12 {
		t.Fatalf("unexpected event %+v", event)
	}
	if event.State != domain.StateCompleted {
		t.Fatalf("expected completed state, got %s", event.State)
	}
	if event.Result == nil || event.Result.InvoiceNumber == nil || *event.Result.InvoiceNumber != "INV-7" {
		t.Fatalf("expected extracted data, got %+v", event.Result)
	}
}

func TestDecodeFrameFailureCarriesReason(t *testing.T) {
	raw := []byte(`{
		"type": "file_status",
		"file_id": 3,
		"status": "failed",
		"data": {"error": "unreadable scan"}
	}`)

	event, err := decodeFrame(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.State != domain.StateFailed || event.FailureReason != "unreadable scan" {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestDecodeFrameProgressClampsRange(t *testing.T) {
	raw := []byte(`{"type": "analysis_progress", "file_id": 5, "progress": 130, "timestamp": 9876.5}`)

	event, err := decodeFrame(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.Type != domain.EventAnalysisProgress || event.Progress != 100 {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestDecodeFrameAcceptsNumericTimestamp(t *testing.T) {
	raw := []byte(`{"type": "file_status", "file_id": 7, "status": "analyzing", "timestamp": 823541.102}`)

	event, err := decodeFrame(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.Type != domain.EventFileStatus || event.Identity != 7 || event.State != domain.StateAnalyzing {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestDecodeFramePongVariants(t *testing.T) {
	for _, raw := range []string{`pong`, `{"type": "pong"}`} {
		event, err := decodeFrame([]byte(raw))
		if err != nil {
			t.Fatalf("decode %q: %v", raw, err)
		}
		if event.Type != domain.EventPong {
			t.Fatalf("expected pong for %q, got %+v", raw, event)
		}
	}
}

func TestDecodeFrameRejectsMalformedInput(t *testing.T) {
	cases := map[string]string{
		"invalid json":     `{"type": "file_status",`,
		"unknown type":     `{"type": "reindex", "file_id": 1}`,
		"missing file_id":  `{"type": "file_status", "status": "pending"}`,
		"unknown status":   `{"type": "file_status", "file_id": 1, "status": "parked"}`,
		"missing progress": `{"type": "analysis_progress", "file_id": 1}`,
	}
	for name, raw := range cases {
		if _, err := decodeFrame([]byte(raw)); err == nil {
			t.Errorf("%s: expected decode error", name)
		}
	}
}
