// Package summarizer is the HTTP client for the Document Processing Service.
// It extracts each document's text locally and posts it for summarization.
package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/instabrief/backend/internal/extract"
	"github.com/instabrief/backend/internal/models"
	"golang.org/x/time/rate"
)

// ErrEmptyDocument is returned when a document yields no text to summarize.
var ErrEmptyDocument = errors.New("document contains no extractable text")

// ServiceError is a non-2xx response from the processing service.
type ServiceError struct {
	Status int
	Detail string
}

func (e *ServiceError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("processing service returned %d", e.Status)
	}
	return fmt.Sprintf("processing service returned %d: %s", e.Status, e.Detail)
}

// Config for the processing service client.
type Config struct {
	BaseURL           string        // service root, e.g. http://localhost:8000/api
	Token             string        // bearer token, optional
	Timeout           time.Duration // per request
	RequestsPerSecond float64       // client-side limit, <= 0 disables it
	Burst             int
}

// Client calls the processing service. It implements queue.Processor.
type Client struct {
	cfg      Config
	http     *http.Client
	limiter  *rate.Limiter
	detector *extract.Detector
	log      *slog.Logger
}

// NewClient creates a client. A nil detector uses the default language set
// for "auto" settings.
func NewClient(cfg Config, detector *extract.Detector, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8000/api"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	if detector == nil {
		detector = extract.NewDetector(extract.DefaultLanguages...)
	}
	limiter := rate.NewLimiter(rate.Inf, cfg.Burst)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	}
	return &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
		limiter:  limiter,
		detector: detector,
		log:      logger,
	}
}

// Process extracts the document's text and asks the service to summarize it.
// A single failed call is final; there are no retries.
func (c *Client) Process(ctx context.Context, doc models.Document, settings models.SummarySettings) (*models.ProcessResult, error) {
	rid := uuid.New().String()
	start := time.Now()

	text, err := extract.Text(doc.Type, doc.Content)
	if err != nil {
		c.log.Warn("summarizer.extract_error", "req_id", rid, "file", doc.Name, "error", err)
		return nil, fmt.Errorf("extract text: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyDocument
	}

	language := settings.Language
	if language == models.LanguageAuto {
		language = c.detector.Detect(text)
	}

	form := url.Values{}
	form.Set("title", title(doc.Name))
	form.Set("content", text)
	form.Set("file_type", string(doc.Type))
	form.Set("language", language)
	form.Set("algorithm", settings.Algorithm.WireName())
	form.Set("max_length", strconv.Itoa(settings.MaxLength))

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/documents/process"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	c.log.Info("summarizer.request",
		"req_id", rid,
		"file", doc.Name,
		"text_len", len(text),
		"algorithm", settings.Algorithm,
		"language", language,
		"max_length", settings.MaxLength,
	)

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Error("summarizer.send_error", "req_id", rid, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.log.Info("summarizer.response",
		"req_id", rid,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode/100 != 2 {
		return nil, &ServiceError{Status: resp.StatusCode, Detail: errorDetail(raw)}
	}

	var result models.ProcessResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}

func title(name string) string {
	if t := strings.TrimSuffix(name, filepath.Ext(name)); t != "" {
		return t
	}
	return name
}

// errorDetail pulls the "detail" field out of an error body. Validation
// errors carry a structured detail, which is passed through as raw JSON.
func errorDetail(raw []byte) string {
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || len(body.Detail) == 0 {
		return strings.TrimSpace(string(raw))
	}
	var s string
	if err := json.Unmarshal(body.Detail, &s); err == nil {
		return s
	}
	return string(body.Detail)
}
