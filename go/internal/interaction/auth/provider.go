// Package auth defines the identity boundary the interaction engine trusts.
// Credential verification happens upstream; the engine only consumes the
// resolved result.
package auth

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/mcdev12/tabletop/go/internal/interaction"
)

// Identity is a resolved caller.
type Identity struct {
	UserID uuid.UUID
	IsDM   bool
}

// Provider resolves the caller of a request for a given room.
type Provider interface {
	Identify(r *http.Request, roomID uuid.UUID) (Identity, error)
}

// Header names consumed by HeaderProvider. An authenticating reverse proxy
// (or the platform's session middleware) injects them after verifying the
// session; the engine never sees credentials.
const (
	HeaderUserID = "X-User-Id"
	HeaderRole   = "X-Room-Role"
)

// HeaderProvider trusts identity headers set by the platform in front of the
// gateway.
type HeaderProvider struct{}

func (HeaderProvider) Identify(r *http.Request, roomID uuid.UUID) (Identity, error) {
	raw := r.Header.Get(HeaderUserID)
	if raw == "" {
		return Identity{}, interaction.NewError(interaction.KindForbidden, "missing %s header", HeaderUserID)
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return Identity{}, interaction.NewError(interaction.KindForbidden, "malformed %s header", HeaderUserID)
	}
	return Identity{
		UserID: userID,
		IsDM:   r.Header.Get(HeaderRole) == "dm",
	}, nil
}

// StaticProvider resolves every request to a fixed identity. Used in tests
// and local single-user development.
type StaticProvider struct {
	Identity Identity
}

func (p StaticProvider) Identify(_ *http.Request, _ uuid.UUID) (Identity, error) {
	return p.Identity, nil
}
