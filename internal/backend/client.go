package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"livecast/internal/domain"
	"livecast/internal/ports"
)

const (
	defaultTimeout       = 15 * time.Second
	defaultMaxAttempts   = 3
	defaultRetryInterval = 500 * time.Millisecond
	maxErrorBody         = 4 << 10
)

// Config points the client at the streaming backend.
type Config struct {
	BaseURL       string
	Token         string
	Cookie        string
	Timeout       time.Duration
	MaxAttempts   int
	RetryInterval time.Duration
}

// Client talks to the stream bookkeeping REST API.
type Client struct {
	baseURL       string
	token         string
	cookie        string
	httpClient    *http.Client
	maxAttempts   int
	retryInterval time.Duration
	logger        zerolog.Logger
}

func NewClient(cfg Config, httpClient *http.Client, logger zerolog.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("backend base url is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid backend base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryInterval < 0 {
		cfg.RetryInterval = 0
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		baseURL:       base,
		token:         strings.TrimSpace(cfg.Token),
		cookie:        strings.TrimSpace(cfg.Cookie),
		httpClient:    httpClient,
		maxAttempts:   cfg.MaxAttempts,
		retryInterval: cfg.RetryInterval,
		logger:        logger.With().Str("module", "backend").Logger(),
	}, nil
}

var _ ports.Backend = (*Client)(nil)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// CreateStream submits the stream form as multipart, including the
// thumbnail file when one is set.
func (c *Client) CreateStream(ctx context.Context, form domain.StreamForm) (domain.StreamRecord, error) {
	body, contentType, err := encodeForm(form)
	if err != nil {
		return domain.StreamRecord{}, fmt.Errorf("%w: %v", domain.ErrStreamCreationFailed, err)
	}

	idempotencyKey := uuid.NewString()
	var record domain.StreamRecord
	err = c.do(ctx, http.MethodPost, "/api/streams", body, func(req *http.Request) {
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}, &record)
	if err != nil {
		return domain.StreamRecord{}, fmt.Errorf("%w: %v", domain.ErrStreamCreationFailed, err)
	}
	if strings.TrimSpace(record.StreamID) == "" {
		return domain.StreamRecord{}, fmt.Errorf("%w: response has no streamId", domain.ErrStreamCreationFailed)
	}

	c.logger.Info().Str("stream_id", record.StreamID).Msg("stream created")
	return record, nil
}

// FetchIngest returns the publish credentials. The stream key is never logged.
func (c *Client) FetchIngest(ctx context.Context, streamID string) (domain.IngestConfig, error) {
	var ingest domain.IngestConfig
	err := c.do(ctx, http.MethodGet, "/api/streams/"+url.PathEscape(streamID)+"/ingest", nil, nil, &ingest)
	if err != nil {
		return domain.IngestConfig{}, fmt.Errorf("%w: %v", domain.ErrIngestConfigUnavailable, err)
	}
	if strings.TrimSpace(ingest.IngestServer) == "" || strings.TrimSpace(ingest.StreamKey) == "" {
		return domain.IngestConfig{}, fmt.Errorf("%w: incomplete ingest configuration", domain.ErrIngestConfigUnavailable)
	}

	c.logger.Debug().Str("stream_id", streamID).Str("ingest_server", ingest.IngestServer).Msg("ingest configuration fetched")
	return ingest, nil
}

func (c *Client) NotifyStopped(ctx context.Context, streamID string, playbackURL string) error {
	payload, err := json.Marshal(map[string]string{
		"streamId":    streamID,
		"playbackUrl": playbackURL,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBackendNotificationFailed, err)
	}

	err = c.do(ctx, http.MethodPost, "/api/streams/"+url.PathEscape(streamID)+"/stop", payload, func(req *http.Request) {
		req.Header.Set("Content-Type", "application/json")
	}, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBackendNotificationFailed, err)
	}

	c.logger.Info().Str("stream_id", streamID).Msg("stream stop notified")
	return nil
}

// finalError marks a failure that retrying cannot fix.
type finalError struct{ err error }

func (e *finalError) Error() string { return e.err.Error() }
func (e *finalError) Unwrap() error { return e.err }

func (c *Client) do(ctx context.Context, method, path string, payload []byte, mutate func(*http.Request), dest interface{}) error {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		lastErr = c.once(ctx, method, path, payload, mutate, dest)
		if lastErr == nil {
			return nil
		}
		var final *finalError
		if errors.As(lastErr, &final) || ctx.Err() != nil {
			return lastErr
		}
		if attempt < c.maxAttempts {
			c.logger.Warn().Err(lastErr).Str("method", method).Str("path", path).Int("attempt", attempt).Msg("backend request failed")
			if c.retryInterval > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(c.retryInterval):
				}
			}
		}
	}
	return lastErr
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte, mutate func(*http.Request), dest interface{}) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &finalError{err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}
	if mutate != nil {
		mutate(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%s: %s", resp.Status, trimBody(data))
	}

	var env envelope
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &env); err != nil {
			if resp.StatusCode >= 300 {
				return &finalError{err: fmt.Errorf("%s: %s", resp.Status, trimBody(data))}
			}
			return &finalError{err: fmt.Errorf("decode response: %w", err)}
		}
	} else if resp.StatusCode < 300 {
		env.Success = true
	}

	if resp.StatusCode >= 300 || !env.Success {
		message := strings.TrimSpace(env.Message)
		if message == "" {
			message = resp.Status
		}
		return &finalError{err: errors.New(message)}
	}

	if dest != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, dest); err != nil {
			return &finalError{err: fmt.Errorf("decode response data: %w", err)}
		}
	}
	return nil
}

func encodeForm(form domain.StreamForm) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fields := []struct{ name, value string }{
		{"title", form.Title},
		{"description", form.Description},
		{"categoryId", form.CategoryID},
		{"whoCanMessage", string(form.WhoCanMessage)},
		{"isPublic", strconv.FormatBool(form.IsPublic)},
		{"isMature", strconv.FormatBool(form.IsMature)},
	}
	for _, field := range fields {
		if err := writer.WriteField(field.name, field.value); err != nil {
			return nil, "", err
		}
	}

	if path := strings.TrimSpace(form.ThumbnailPath); path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, "", fmt.Errorf("open thumbnail: %w", err)
		}
		defer file.Close()

		part, err := writer.CreateFormFile("thumbnail", filepath.Base(path))
		if err != nil {
			return nil, "", err
		}
		if _, err := io.Copy(part, file); err != nil {
			return nil, "", fmt.Errorf("read thumbnail: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

func trimBody(data []byte) string {
	if len(data) > maxErrorBody {
		data = data[:maxErrorBody]
	}
	return strings.TrimSpace(string(data))
}
