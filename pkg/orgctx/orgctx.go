// Package orgctx carries the organization scope that every ledger
// operation requires. The scope is passed explicitly as a parameter;
// the context helpers exist only for background workers that fan out
// over organizations.
package orgctx

import (
	"context"
	"errors"
)

// Org identifies the organization a ledger operation runs on behalf of.
type Org struct {
	ID string
}

// ErrNoOrgInContext is returned when organization context is missing
var ErrNoOrgInContext = errors.New("no organization in context")

type contextKey string

const orgIDKey contextKey = "org_id"

// Valid reports whether the scope carries an organization ID.
func (o Org) Valid() bool {
	return o.ID != ""
}

// WithOrg attaches an organization scope to the context.
func WithOrg(ctx context.Context, org Org) context.Context {
	return context.WithValue(ctx, orgIDKey, org.ID)
}

// FromContext extracts the organization scope from the context.
func FromContext(ctx context.Context) (Org, error) {
	id, ok := ctx.Value(orgIDKey).(string)
	if !ok || id == "" {
		return Org{}, ErrNoOrgInContext
	}
	return Org{ID: id}, nil
}
