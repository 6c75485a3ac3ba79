// Package whatsapp pushes staged media files to the WhatsApp Business
// media-ingestion endpoint with bounded retries, exponential backoff, and
// terminal/transient failure classification.
package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"time"

	"mediagate/internal/errs"
	"mediagate/internal/observability/metrics"
	"mediagate/internal/staging"
)

const (
	// DefaultBaseURL targets the Graph API version the gateway is built
	// against.
	DefaultBaseURL = "https://graph.facebook.com/v18.0"

	// DefaultMaxAttempts bounds the retry loop for transient failures.
	DefaultMaxAttempts = 5

	// DefaultRequestTimeout caps each individual delivery attempt.
	DefaultRequestTimeout = 30 * time.Second

	messagingProduct = "whatsapp"
)

// UploadResult is returned after the media platform accepts the file.
type UploadResult struct {
	ContainerID  string   `json:"container_id"`
	UploadStatus string   `json:"upload_status"`
	FileInfo     FileInfo `json:"file_info"`
}

// FileInfo echoes the staged file metadata back to the caller.
type FileInfo struct {
	OriginalName string `json:"original_name"`
	Size         int64  `json:"size"`
	Type         string `json:"type"`
}

type mediaResponse struct {
	ID    string `json:"id"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Config controls the client's endpoint, retry policy, and instrumentation.
type Config struct {
	BaseURL     string
	HTTPClient  *http.Client
	MaxAttempts int
	Logger      *slog.Logger
	Recorder    *metrics.Recorder

	// Backoff returns the delay before the next attempt. The default doubles
	// from two seconds: 2s, 4s, 8s, 16s between the five attempts.
	Backoff func(attempt int) time.Duration
}

// Client delivers staged files upstream. Waits between attempts are context
// aware suspensions, so a sleeping retry never blocks other requests.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	maxAttempts int
	logger      *slog.Logger
	recorder    *metrics.Recorder
	backoff     func(attempt int) time.Duration
}

// NewClient constructs a Client, applying defaults for any zero config field.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultRequestTimeout}
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = metrics.Default()
	}
	backoff := cfg.Backoff
	if backoff == nil {
		backoff = func(attempt int) time.Duration {
			return time.Duration(1<<uint(attempt)) * time.Second
		}
	}
	return &Client{
		baseURL:     baseURL,
		httpClient:  httpClient,
		maxAttempts: maxAttempts,
		logger:      logger,
		recorder:    recorder,
		backoff:     backoff,
	}
}

// attemptOutcome carries one attempt's classification through the retry loop.
type attemptOutcome struct {
	result   UploadResult
	terminal error
	retry    error
}

// Upload delivers the staged file to the account-scoped media endpoint.
// Terminal upstream rejections (401, 400, 413) fail immediately; every other
// failure is retried with exponentially increasing delays until MaxAttempts
// is exhausted, at which point the last failure is surfaced as a transient
// upstream error. The staged file is read per attempt and never consumed.
func (c *Client) Upload(ctx context.Context, staged *staging.StagedFile, accessToken, accountID string) (UploadResult, error) {
	if staged == nil {
		return UploadResult{}, errs.Internal()
	}
	url := fmt.Sprintf("%s/%s/media", c.baseURL, accountID)

	var lastRetryable error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		outcome := c.attempt(ctx, url, staged, accessToken)
		switch {
		case outcome.terminal == nil && outcome.retry == nil:
			c.recorder.ObserveUploadAttempt("success")
			c.logger.Info("media uploaded",
				"container_id", outcome.result.ContainerID,
				"attempt", attempt,
				"size", staged.Size)
			return outcome.result, nil
		case outcome.terminal != nil:
			c.recorder.ObserveUploadAttempt("terminal")
			return UploadResult{}, outcome.terminal
		default:
			c.recorder.ObserveUploadAttempt("retryable")
			lastRetryable = outcome.retry
		}

		if attempt == c.maxAttempts {
			break
		}
		delay := c.backoff(attempt)
		c.logger.Warn("media upload attempt failed",
			"url", url,
			"attempt", attempt,
			"retry_in", delay.String(),
			"error", lastRetryable)
		select {
		case <-ctx.Done():
			return UploadResult{}, classifyTransient(ctx.Err(), c.maxAttempts)
		case <-time.After(delay):
		}
	}

	transient := classifyTransient(lastRetryable, c.maxAttempts)
	c.recorder.ObserveUploadFailure(string(errs.KindOf(transient)))
	return UploadResult{}, transient
}

func (c *Client) attempt(ctx context.Context, url string, staged *staging.StagedFile, accessToken string) attemptOutcome {
	body, contentType, err := multipartBody(staged)
	if err != nil {
		return attemptOutcome{retry: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		body.Close()
		return attemptOutcome{retry: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return attemptOutcome{retry: err}
	}
	defer resp.Body.Close()

	var parsed mediaResponse
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if decodeErr != nil || parsed.ID == "" {
			return attemptOutcome{retry: fmt.Errorf("missing media id in upstream response")}
		}
		return attemptOutcome{result: UploadResult{
			ContainerID:  parsed.ID,
			UploadStatus: "success",
			FileInfo: FileInfo{
				OriginalName: staged.OriginalName,
				Size:         staged.Size,
				Type:         staged.ContentType,
			},
		}}
	}

	upstreamMessage := strings.TrimSpace(parsed.Error.Message)
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return attemptOutcome{terminal: errs.UpstreamTerminal(resp.StatusCode,
			"Invalid WhatsApp access token", upstreamDetails(upstreamMessage))}
	case http.StatusBadRequest:
		message := "WhatsApp API validation error: Bad request"
		if upstreamMessage != "" {
			message = "WhatsApp API validation error: " + upstreamMessage
		}
		return attemptOutcome{terminal: errs.UpstreamTerminal(resp.StatusCode, message, upstreamDetails(upstreamMessage))}
	case http.StatusRequestEntityTooLarge:
		return attemptOutcome{terminal: errs.UpstreamTerminal(resp.StatusCode,
			"File too large for WhatsApp API", upstreamDetails(upstreamMessage))}
	}

	message := resp.Status
	if upstreamMessage != "" {
		message = fmt.Sprintf("%s: %s", resp.Status, upstreamMessage)
	}
	return attemptOutcome{retry: fmt.Errorf("upstream failure %s", message)}
}

// multipartBody streams the staged file plus the type and product fields
// without buffering the payload in memory. The returned reader closes the
// staged file handle when the transport finishes with it.
func multipartBody(staged *staging.StagedFile) (io.ReadCloser, string, error) {
	file, err := staged.Open()
	if err != nil {
		return nil, "", fmt.Errorf("open staged file: %w", err)
	}

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		defer file.Close()
		part, err := writer.CreateFormFile("file", staged.OriginalName)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			pw.CloseWithError(err)
			return
		}
		if err := writer.WriteField("type", staged.ContentType); err != nil {
			pw.CloseWithError(err)
			return
		}
		if err := writer.WriteField("messaging_product", messagingProduct); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(writer.Close())
	}()
	return pr, writer.FormDataContentType(), nil
}

func upstreamDetails(message string) map[string]interface{} {
	if message == "" {
		return nil
	}
	return map[string]interface{}{"upstream_message": message}
}

// classifyTransient maps the last retryable failure to one of the three
// transient kinds surfaced to callers: timeout, connection failure, or a
// generic upstream failure.
func classifyTransient(err error, attempts int) *errs.Error {
	details := map[string]interface{}{"attempts": attempts}
	switch {
	case isTimeout(err):
		return errs.UpstreamTransient("Request timeout - WhatsApp API took too long to respond", details)
	case isConnectionFailure(err):
		return errs.UpstreamTransient("Cannot connect to WhatsApp API", details)
	default:
		return errs.UpstreamTransient("Failed to upload media to WhatsApp", details)
	}
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isConnectionFailure(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
