// Package auth resolves the owner whose records are synchronized.
package auth

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// EnvOwnerID overrides every other owner source when set.
const EnvOwnerID = "MEDSYNC_OWNER_ID"

// SessionReader reads the signed-in owner from local storage.
// Implemented by [state.Store].
type SessionReader interface {
	Session(ctx context.Context) (string, error)
}

// Resolver returns the current owner from, in order: the MEDSYNC_OWNER_ID
// environment variable, the local session, and the configured fallback.
type Resolver struct {
	session  SessionReader
	fallback string
	getenv   func(string) string
	log      *slog.Logger
}

// NewResolver creates a Resolver. session may be nil; fallback may be empty.
func NewResolver(session SessionReader, fallback string, logger *slog.Logger) *Resolver {
	return &Resolver{session: session, fallback: fallback, getenv: os.Getenv, log: logger}
}

// CurrentOwnerID returns the authenticated owner, or ok=false if none can be
// resolved. A session read error is logged and treated as no session.
func (r *Resolver) CurrentOwnerID(ctx context.Context) (string, bool) {
	if id := strings.TrimSpace(r.getenv(EnvOwnerID)); id != "" {
		return id, true
	}

	if r.session != nil {
		id, err := r.session.Session(ctx)
		if err != nil {
			r.log.Warn("reading session failed", "error", err)
		} else if id != "" {
			return id, true
		}
	}

	if r.fallback != "" {
		return r.fallback, true
	}
	return "", false
}

// Static always returns the same owner. An empty Static is unauthenticated.
type Static string

// CurrentOwnerID implements the sync engine's authenticator contract.
func (s Static) CurrentOwnerID(context.Context) (string, bool) {
	return string(s), s != ""
}
