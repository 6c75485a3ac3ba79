// Package api hosts the HTTP handlers that front the media gateway.
//
// The upload handler coordinates multipart parsing, credential
// authentication, field validation, and delivery to the media platform while
// delegating persistence to auth.CredentialStore implementations and upstream
// delivery to the whatsapp client injected at construction time. The package
// does not reach for globals or singletons and expects callers to supply
// fully configured dependencies.
//
// Handlers assume upstream middleware from internal/server has already
// enforced rate limiting, metrics, and logging concerns. New routes should
// preserve that contract by leaning on the middleware guarantees established
// in the server stack.
package api
