package graphstub

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// Options describes how the fake Graph endpoint should behave.
type Options struct {
	// MediaID is returned from successful upload requests. Defaults to
	// "media-1" when empty.
	MediaID string

	// FailUploads causes the first N upload requests to return FailStatus.
	// Subsequent attempts succeed.
	FailUploads int

	// FailStatus is the status code used for scripted failures. Defaults to
	// 503.
	FailStatus int

	// FailMessage is included in the error body of scripted failures.
	FailMessage string

	// AccessToken, when set, is enforced on the Authorization header.
	// Mismatches return 401 with the Graph error shape.
	AccessToken string
}

// Attempt records one observed upload request.
type Attempt struct {
	AccountID        string
	Filename         string
	ContentType      string
	Size             int64
	Type             string
	MessagingProduct string
	BearerToken      string
	Status           int
	Timestamp        time.Time
}

// Server hosts a single httptest.Server that serves the media endpoint.
type Server struct {
	server *httptest.Server
	opts   Options

	mu       sync.Mutex
	attempts []Attempt
	failures int
}

// Start spins up a new Graph endpoint stub using the provided options.
func Start(opts Options) *Server {
	if opts.MediaID == "" {
		opts.MediaID = "media-1"
	}
	if opts.FailStatus == 0 {
		opts.FailStatus = http.StatusServiceUnavailable
	}
	s := &Server{opts: opts}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Close shuts down the underlying HTTP server.
func (s *Server) Close() {
	if s.server != nil {
		s.server.Close()
	}
}

// BaseURL returns the HTTP base URL of the stubbed Graph API.
func (s *Server) BaseURL() string {
	return s.server.URL
}

// Attempts returns a copy of all recorded upload attempts in order.
func (s *Server) Attempts() []Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Attempt, len(s.attempts))
	copy(out, s.attempts)
	return out
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/media") {
		http.Error(w, "unexpected request", http.StatusNotFound)
		return
	}

	attempt := Attempt{
		AccountID:   strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/"), "/media"),
		BearerToken: strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "),
		Timestamp:   time.Now(),
	}

	reader, err := r.MultipartReader()
	if err != nil {
		s.record(attempt, http.StatusBadRequest)
		s.writeError(w, http.StatusBadRequest, "payload is not multipart")
		return
	}
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.record(attempt, http.StatusBadRequest)
			s.writeError(w, http.StatusBadRequest, "malformed multipart payload")
			return
		}
		switch part.FormName() {
		case "file":
			attempt.Filename = part.FileName()
			attempt.ContentType = part.Header.Get("Content-Type")
			n, _ := io.Copy(io.Discard, part)
			attempt.Size = n
		case "type":
			value, _ := io.ReadAll(part)
			attempt.Type = string(value)
		case "messaging_product":
			value, _ := io.ReadAll(part)
			attempt.MessagingProduct = string(value)
		default:
			_, _ = io.Copy(io.Discard, part)
		}
		_ = part.Close()
	}

	if s.opts.AccessToken != "" && attempt.BearerToken != s.opts.AccessToken {
		s.record(attempt, http.StatusUnauthorized)
		s.writeError(w, http.StatusUnauthorized, "Invalid OAuth access token")
		return
	}

	s.mu.Lock()
	scriptedFailure := s.failures < s.opts.FailUploads
	if scriptedFailure {
		s.failures++
	}
	failureCount := s.failures
	s.mu.Unlock()

	if scriptedFailure {
		message := s.opts.FailMessage
		if message == "" {
			message = fmt.Sprintf("scripted failure %d", failureCount)
		}
		s.record(attempt, s.opts.FailStatus)
		s.writeError(w, s.opts.FailStatus, message)
		return
	}

	s.record(attempt, http.StatusOK)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"id": s.opts.MediaID})
}

func (s *Server) record(attempt Attempt, status int) {
	attempt.Status = status
	s.mu.Lock()
	s.attempts = append(s.attempts, attempt)
	s.mu.Unlock()
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{"message": message},
	})
}
