// Package auth verifies machine-client credentials against a backing
// credential store. Secrets are stored and compared only as bcrypt hashes;
// plaintext secrets never leave the request scope.
package auth

import (
	"context"
	"sync"
	"time"
)

// ServiceCredential is a read-only row from the credential store. SecretHash
// holds a bcrypt digest of the service secret, never the secret itself.
type ServiceCredential struct {
	ID                string
	ServiceName       string
	ServiceIdentifier string
	SecretHash        string
}

// AuthenticatedService is the ephemeral identity constructed once per
// successful authentication and discarded at the end of the request.
type AuthenticatedService struct {
	ID                string    `json:"-"`
	ServiceName       string    `json:"service_name"`
	ServiceIdentifier string    `json:"service_identifier"`
	AuthenticatedAt   time.Time `json:"authenticated_at"`
}

// CredentialStore defines the persistence contract for service credentials.
type CredentialStore interface {
	FindByIdentifier(ctx context.Context, identifier string) (ServiceCredential, bool, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// MemoryCredentialStore keeps credentials in process memory for tests and
// local development.
type MemoryCredentialStore struct {
	mu          sync.RWMutex
	credentials map[string]ServiceCredential
}

// NewMemoryCredentialStore constructs an empty in-memory store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{credentials: make(map[string]ServiceCredential)}
}

// Put stores or replaces the credential keyed by its service identifier.
func (s *MemoryCredentialStore) Put(credential ServiceCredential) {
	s.mu.Lock()
	s.credentials[credential.ServiceIdentifier] = credential
	s.mu.Unlock()
}

// FindByIdentifier returns the credential for the exact identifier match.
func (s *MemoryCredentialStore) FindByIdentifier(_ context.Context, identifier string) (ServiceCredential, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	credential, ok := s.credentials[identifier]
	return credential, ok, nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryCredentialStore) Ping(context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (s *MemoryCredentialStore) Close(context.Context) error { return nil }
