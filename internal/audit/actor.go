package audit

import (
	"context"
	"net/http"
	"strings"

	"racing-admin/internal/auth"
)

// Actor is the identity a request is attributed to. Zero value means unresolved.
type Actor struct {
	Email string
	Role  string
}

// TokenVerifier checks a bearer credential and returns its subject and role claim.
type TokenVerifier interface {
	VerifySubject(token string) (subject, role string, err error)
}

// RoleLookup returns the current role for a subject from the identity store.
// An empty role with a nil error means the subject is unknown.
type RoleLookup interface {
	RoleFor(ctx context.Context, email string) (string, error)
}

// Resolver derives the Actor from request headers. It never fails: a missing,
// malformed or rejected credential yields the zero Actor. The credential itself
// is never logged or returned.
type Resolver struct {
	Tokens TokenVerifier
	// Roles is optional; without it the token's role claim is used.
	Roles RoleLookup
}

func (r Resolver) Resolve(ctx context.Context, h http.Header) Actor {
	if r.Tokens == nil {
		return Actor{}
	}
	tok, err := auth.BearerToken(h.Get("Authorization"))
	if err != nil {
		return Actor{}
	}
	subject, claimRole, err := r.Tokens.VerifySubject(tok)
	if err != nil {
		return Actor{}
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return Actor{}
	}

	role := claimRole
	if r.Roles != nil {
		// Roles can change after issuance; a fresh store value beats the claim.
		if stored, err := r.Roles.RoleFor(ctx, subject); err == nil && strings.TrimSpace(stored) != "" {
			role = stored
		}
	}
	return Actor{Email: subject, Role: role}
}
