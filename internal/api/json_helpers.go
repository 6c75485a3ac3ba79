package api

import (
	"encoding/json"
	"net/http"

	"mediagate/internal/errs"
)

type errorBody struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteErrorEnvelope renders an operational gateway error as the uniform
// {error, message, details} body with its mapped status code. Errors without
// a taxonomy kind are surfaced as a generic internal failure, never leaking
// detail to the caller.
func WriteErrorEnvelope(w http.ResponseWriter, err error) {
	gatewayErr, ok := errs.AsError(err)
	if !ok {
		gatewayErr = errs.Internal()
	}
	writeJSON(w, gatewayErr.Status, errorBody{
		Error:   errorLabel(gatewayErr.Kind),
		Message: gatewayErr.Message,
		Details: gatewayErr.Details,
	})
}

func errorLabel(kind errs.Kind) string {
	switch kind {
	case errs.KindValidation:
		return "Validation failed"
	case errs.KindFileType:
		return "Invalid file type"
	case errs.KindAuthentication:
		return "Authentication failed"
	case errs.KindRateLimit:
		return "Too many requests"
	case errs.KindUpstreamTerminal:
		return "WhatsApp API error"
	case errs.KindUpstreamTransient:
		return "WhatsApp API unavailable"
	case errs.KindUnavailable:
		return "Service unavailable"
	default:
		return "Internal server error"
	}
}
