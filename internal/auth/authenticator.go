package auth

import (
	"context"
	"log/slog"
	"time"

	"mediagate/internal/errs"
	"mediagate/internal/observability/metrics"
)

// Authenticator verifies claimed identifier/secret pairs against a
// CredentialStore. It performs exactly one read-only lookup per call and
// never mutates the store.
type Authenticator struct {
	store    CredentialStore
	logger   *slog.Logger
	recorder *metrics.Recorder
	now      func() time.Time
}

// AuthenticatorOption configures an Authenticator instance.
type AuthenticatorOption func(*Authenticator)

// WithLogger injects the structured logger used for store failures.
func WithLogger(logger *slog.Logger) AuthenticatorOption {
	return func(a *Authenticator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithRecorder injects the metrics recorder for auth failure counters.
func WithRecorder(recorder *metrics.Recorder) AuthenticatorOption {
	return func(a *Authenticator) {
		if recorder != nil {
			a.recorder = recorder
		}
	}
}

// WithClock overrides the timestamp source for AuthenticatedAt.
func WithClock(now func() time.Time) AuthenticatorOption {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAuthenticator constructs an Authenticator backed by the provided store.
func NewAuthenticator(store CredentialStore, opts ...AuthenticatorOption) *Authenticator {
	authenticator := &Authenticator{
		store:    store,
		logger:   slog.Default(),
		recorder: metrics.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(authenticator)
		}
	}
	return authenticator
}

// Authenticate verifies the claimed identifier and secret. Missing inputs are
// a validation failure reported before any store access; an unknown
// identifier or hash mismatch is an authentication failure; a store transport
// failure maps to an unavailable kind since it is not the caller's fault.
func (a *Authenticator) Authenticate(ctx context.Context, identifier, secret string) (AuthenticatedService, error) {
	var violations []errs.Violation
	if identifier == "" {
		violations = append(violations, errs.Violation{Field: "service_identifier", Message: "service_identifier is required"})
	}
	if secret == "" {
		violations = append(violations, errs.Violation{Field: "service_secret", Message: "service_secret is required"})
	}
	if len(violations) > 0 {
		return AuthenticatedService{}, errs.Validation("Service identifier and service secret are required", violations)
	}

	credential, ok, err := a.store.FindByIdentifier(ctx, identifier)
	if err != nil {
		a.logger.Error("credential store lookup failed", "service_identifier", identifier, "error", err)
		a.recorder.ObserveAuthFailure("store_unavailable")
		return AuthenticatedService{}, errs.Unavailable("credential store unavailable, please try again later")
	}
	if !ok {
		a.recorder.ObserveAuthFailure("not_found")
		return AuthenticatedService{}, errs.Authentication("Service not found", map[string]interface{}{
			"service_identifier": identifier,
		})
	}
	if !verifySecret(credential.SecretHash, secret) {
		a.recorder.ObserveAuthFailure("invalid_secret")
		return AuthenticatedService{}, errs.Authentication("Invalid service secret", map[string]interface{}{
			"service_identifier": identifier,
		})
	}

	return AuthenticatedService{
		ID:                credential.ID,
		ServiceName:       credential.ServiceName,
		ServiceIdentifier: credential.ServiceIdentifier,
		AuthenticatedAt:   a.now(),
	}, nil
}

// Lookup fetches service metadata by identifier without verifying a secret.
// Intended for introspection surfaces only.
func (a *Authenticator) Lookup(ctx context.Context, identifier string) (ServiceCredential, bool, error) {
	if identifier == "" {
		return ServiceCredential{}, false, errs.Validation("service_identifier is required", []errs.Violation{
			{Field: "service_identifier", Message: "service_identifier is required"},
		})
	}
	return a.store.FindByIdentifier(ctx, identifier)
}

// Ping verifies the underlying credential store is reachable.
func (a *Authenticator) Ping(ctx context.Context) error {
	if a == nil || a.store == nil {
		return nil
	}
	return a.store.Ping(ctx)
}
