// Package api implements the HTTP client for the document-intake backend.
package api

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/taxdash/docsync/internal/core/domain"
	"github.com/taxdash/docsync/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	exec       *resilience.Executor
	log        *slog.Logger
}

type Options struct {
	// Timeout bounds every call; defaults to 15 seconds.
	Timeout time.Duration

	// RequestsPerSecond throttles outbound calls; zero disables throttling.
	RequestsPerSecond float64
	RequestBurst      int

	Executor *resilience.Executor
	Logger   *slog.Logger
}

func New(baseURL string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := opts.RequestBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		exec:       opts.Executor,
		log:        log,
	}
}

type uploadResponse struct {
	ID         int64  `json:"id"`
	Filename   string `json:"filename"`
	FileSize   int64  `json:"file_size"`
	Status     string `json:"status"`
	UploadTime string `json:"upload_time"`
	Message    string `json:"message"`
}

type analyzeResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	AnalyzedCount  int    `json:"analyzed_count"`
	FailedCount    int    `json:"failed_count"`
	TotalProcessed int    `json:"total_processed"`
}

type fileRecord struct {
	ID            int64                 `json:"id"`
	Filename      string                `json:"filename"`
	FileSize      int64                 `json:"file_size"`
	FileType      string                `json:"file_type"`
	Status        string                `json:"status"`
	UploadTime    string                `json:"upload_time"`
	ExtractedData *domain.ExtractedData `json:"extracted_data"`
	ErrorMessage  string                `json:"error_message"`
}

func (c *Client) UploadDocument(ctx context.Context, filename, mediaType string, payload []byte) (domain.UploadAck, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	header.Set("Content-Type", mediaType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return domain.UploadAck{}, fmt.Errorf("build upload form: %w", err)
	}
	if _, err := part.Write(payload); err != nil {
		return domain.UploadAck{}, fmt.Errorf("build upload form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return domain.UploadAck{}, fmt.Errorf("build upload form: %w", err)
	}

	var resp uploadResponse
	err = c.run(ctx, "api.upload", classifyMutating, func(ctx context.Context) error {
		return c.do(ctx, http.MethodPost, "/api/upload",
			bytes.NewReader(body.Bytes()), mw.FormDataContentType(), &resp, "upload")
	})
	if err != nil {
		return domain.UploadAck{}, err
	}

	state, ok := domain.ParseLifecycleState(resp.Status)
	if !ok {
		return domain.UploadAck{}, fmt.Errorf("upload: unknown status %q", resp.Status)
	}
	return domain.UploadAck{
		Identity:   resp.ID,
		Filename:   resp.Filename,
		State:      state,
		UploadTime: parseServerTime(resp.UploadTime),
	}, nil
}

func (c *Client) AnalyzeAll(ctx context.Context) (domain.AnalyzeAck, error) {
	var resp analyzeResponse
	err := c.run(ctx, "api.analyze_all", classifyMutating, func(ctx context.Context) error {
		return c.do(ctx, http.MethodPost, "/api/analyze-all", nil, "", &resp, "analyze-all")
	})
	if err != nil {
		return domain.AnalyzeAck{}, err
	}
	return domain.AnalyzeAck{
		Message:        resp.Message,
		AnalyzedCount:  resp.AnalyzedCount,
		FailedCount:    resp.FailedCount,
		TotalProcessed: resp.TotalProcessed,
	}, nil
}

func (c *Client) ListDocuments(ctx context.Context) ([]domain.SnapshotEntry, error) {
	var resp struct {
		Files []fileRecord `json:"files"`
	}
	err := c.run(ctx, "api.list", classifyIdempotent, func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, "/api/files", nil, "", &resp, "list files")
	})
	if err != nil {
		return nil, err
	}

	entries := make([]domain.SnapshotEntry, 0, len(resp.Files))
	for _, record := range resp.Files {
		entry, err := record.toSnapshotEntry()
		if err != nil {
			c.log.Warn("listing entry dropped", "identity", record.ID, "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (c *Client) GetDocument(ctx context.Context, identity int64) (domain.SnapshotEntry, error) {
	var record fileRecord
	err := c.run(ctx, "api.get", classifyIdempotent, func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, fmt.Sprintf("/api/files/%d", identity), nil, "", &record, "get file")
	})
	if err != nil {
		return domain.SnapshotEntry{}, err
	}
	return record.toSnapshotEntry()
}

func (c *Client) DeleteDocument(ctx context.Context, identity int64) error {
	var resp struct {
		Message string `json:"message"`
		ID      int64  `json:"id"`
	}
	return c.run(ctx, "api.delete", classifyMutating, func(ctx context.Context) error {
		return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/files/%d", identity), nil, "", &resp, "delete file")
	})
}

func (c *Client) run(
	ctx context.Context,
	operation string,
	classify resilience.ErrorClassifier,
	fn func(context.Context) error,
) error {
	if c.exec == nil {
		return fn(ctx)
	}
	return c.exec.Do(ctx, operation, fn, classify)
}

func (r fileRecord) toSnapshotEntry() (domain.SnapshotEntry, error) {
	state, ok := domain.ParseLifecycleState(r.Status)
	if !ok {
		return domain.SnapshotEntry{}, fmt.Errorf("unknown status %q for file %d", r.Status, r.ID)
	}
	return domain.SnapshotEntry{
		Identity:      r.ID,
		Filename:      r.Filename,
		ByteSize:      r.FileSize,
		MediaType:     r.FileType,
		State:         state,
		UploadTime:    parseServerTime(r.UploadTime),
		Result:        r.ExtractedData,
		FailureReason: r.ErrorMessage,
	}, nil
}

// parseServerTime accepts RFC 3339 and the backend's naive ISO timestamps.
func parseServerTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999",
		"2006-01-02T15:04:05",
	} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts
		}
	}
	return time.Time{}
}
