package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"mediagate/internal/auth"
	"mediagate/internal/errs"
	"mediagate/internal/observability/logging"
	"mediagate/internal/staging"
)

type uploadSuccessResponse struct {
	Success              bool                      `json:"success"`
	ContainerID          string                    `json:"container_id"`
	Message              string                    `json:"message"`
	AuthenticatedService auth.AuthenticatedService `json:"authenticated_service"`
	Metadata             uploadMetadata            `json:"metadata"`
}

type uploadMetadata struct {
	Filename   string    `json:"filename"`
	Size       int64     `json:"size"`
	Type       string    `json:"type"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// UploadMedia accepts a multipart media upload, runs the processing pipeline,
// and writes either the success body or a uniform error envelope. The staged
// file is released inside the pipeline, before any response bytes are
// written.
func (h *Handler) UploadMedia(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{
			Error:   "Method not allowed",
			Message: fmt.Sprintf("method %s not allowed", r.Method),
		})
		return
	}

	response, err := h.processUpload(r)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

// processUpload is the request pipeline: parse and stage → authenticate →
// validate → upload with retry. Release of the staged file is deferred at
// acquisition so every exit path, including panics on later stages, deletes
// the staged bytes exactly once before the caller writes a response.
func (h *Handler) processUpload(r *http.Request) (uploadSuccessResponse, error) {
	logger := h.requestLogger(r)

	form, staged, err := h.parseMultipart(r)
	if staged != nil {
		defer func() {
			if releaseErr := staged.Release(); releaseErr != nil {
				logger.Error("failed to release staged file", "path", staged.Path, "error", releaseErr)
			}
		}()
	}
	if err != nil {
		return uploadSuccessResponse{}, err
	}
	if staged == nil {
		return uploadSuccessResponse{}, errs.Validation("No file uploaded. Please upload a file (image, video, or document)", []errs.Violation{
			{Field: "media", Message: "media file is required"},
		})
	}

	identifier, secret := serviceCredentials(r, form)
	authenticated, err := h.Auth.Authenticate(r.Context(), identifier, secret)
	if err != nil {
		return uploadSuccessResponse{}, err
	}

	if violations := validateUploadForm(form); len(violations) > 0 {
		return uploadSuccessResponse{}, errs.Validation("request validation failed", violations)
	}

	h.recorder().UploadStarted()
	defer h.recorder().UploadFinished()

	result, err := h.Uploader.Upload(r.Context(), staged, strings.TrimSpace(form.AccessToken), strings.TrimSpace(form.AccountID))
	if err != nil {
		return uploadSuccessResponse{}, err
	}

	logger.Info("media upload accepted",
		"container_id", result.ContainerID,
		"service", authenticated.ServiceName,
		"size", result.FileInfo.Size)

	return uploadSuccessResponse{
		Success:              true,
		ContainerID:          result.ContainerID,
		Message:              "Media uploaded successfully",
		AuthenticatedService: authenticated,
		Metadata: uploadMetadata{
			Filename:   result.FileInfo.OriginalName,
			Size:       result.FileInfo.Size,
			Type:       result.FileInfo.Type,
			UploadedAt: time.Now().UTC(),
		},
	}, nil
}

// parseMultipart walks the multipart stream in order, staging the media part
// when it appears and collecting the remaining form fields. A staged file is
// returned even alongside an error so the caller can guarantee its release.
func (h *Handler) parseMultipart(r *http.Request) (uploadForm, *staging.StagedFile, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return uploadForm{}, nil, errs.Validation("invalid multipart payload", nil)
	}

	var form uploadForm
	var staged *staging.StagedFile
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return form, staged, errs.Validation("read multipart data", nil)
		}
		name := part.FormName()
		if name == "" {
			_ = part.Close()
			continue
		}
		if name == "media" {
			if staged != nil {
				// Only one file is allowed; later file parts are ignored.
				_ = part.Close()
				continue
			}
			saved, saveErr := h.Stager.Save(part)
			if saveErr != nil {
				return form, staged, saveErr
			}
			staged = saved
			continue
		}
		payload, readErr := io.ReadAll(io.LimitReader(part, 1<<16))
		_ = part.Close()
		if readErr != nil {
			return form, staged, errs.Validation("read form field", nil)
		}
		value := strings.TrimSpace(string(payload))
		switch name {
		case "whatsapp_access_token":
			form.AccessToken = value
		case "whatsapp_business_account_id":
			form.AccountID = value
		case "service_identifier":
			form.ServiceIdentifier = value
		case "service_secret":
			form.ServiceSecret = value
		}
	}
	return form, staged, nil
}

// serviceCredentials resolves the caller's claimed identity from the form
// fields, falling back to the equivalent request headers.
func serviceCredentials(r *http.Request, form uploadForm) (string, string) {
	identifier := form.ServiceIdentifier
	if identifier == "" {
		identifier = strings.TrimSpace(r.Header.Get("X-Service-Identifier"))
	}
	secret := form.ServiceSecret
	if secret == "" {
		secret = strings.TrimSpace(r.Header.Get("X-Service-Secret"))
	}
	return identifier, secret
}

func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	logger := h.requestLogger(r)
	gatewayErr, ok := errs.AsError(err)
	if !ok {
		logger.Error("unexpected upload failure", "error", err)
		WriteErrorEnvelope(w, errs.Internal())
		return
	}
	switch gatewayErr.Kind {
	case errs.KindUpstreamTerminal, errs.KindUpstreamTransient, errs.KindUnavailable:
		logger.Error("media upload failed", "kind", string(gatewayErr.Kind), "error", gatewayErr.Message)
	default:
		logger.Warn("media upload rejected", "kind", string(gatewayErr.Kind), "error", gatewayErr.Message)
	}
	WriteErrorEnvelope(w, gatewayErr)
}

// requestLogger attaches the request ID, when present, to the handler's
// logger.
func (h *Handler) requestLogger(r *http.Request) *slog.Logger {
	return logging.WithContext(r.Context(), h.logger())
}
