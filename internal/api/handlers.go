package api

import (
	"context"
	"log/slog"

	"mediagate/internal/auth"
	"mediagate/internal/observability/metrics"
	"mediagate/internal/staging"
	"mediagate/internal/whatsapp"
)

// Uploader delivers a staged file to the media platform. Satisfied by
// *whatsapp.Client; tests substitute deterministic fakes.
type Uploader interface {
	Upload(ctx context.Context, staged *staging.StagedFile, accessToken, accountID string) (whatsapp.UploadResult, error)
}

// RateLimiterHealth exposes the health probe of the optional distributed
// rate-limit store.
type RateLimiterHealth interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	Auth        *auth.Authenticator
	Stager      *staging.Stager
	Uploader    Uploader
	RateLimiter RateLimiterHealth
	Logger      *slog.Logger
	Recorder    *metrics.Recorder
}

func NewHandler(authenticator *auth.Authenticator, stager *staging.Stager, uploader Uploader) *Handler {
	return &Handler{
		Auth:     authenticator,
		Stager:   stager,
		Uploader: uploader,
		Logger:   slog.Default(),
		Recorder: metrics.Default(),
	}
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *Handler) recorder() *metrics.Recorder {
	if h.Recorder != nil {
		return h.Recorder
	}
	return metrics.Default()
}
