package auth

import (
	"context"
	"slices"
	"strings"

	firebaseauth "firebase.google.com/go/v4/auth"
)

// Role names carried in the "roles" custom claim. Staff and admin may act on any customer's orders.
const (
	RoleUser  = "user"
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

// Identity is the customer or staff member behind a Firebase ID token.
type Identity struct {
	UID   string
	Email string
	Roles []string

	token *firebaseauth.Token
}

// Token is the decoded ID token; nil for identities built by hand.
func (i *Identity) Token() *firebaseauth.Token {
	if i == nil {
		return nil
	}
	return i.token
}

// HasAnyRole matches role names case-insensitively. A nil identity has no roles.
func (i *Identity) HasAnyRole(roles ...string) bool {
	if i == nil {
		return false
	}
	return slices.ContainsFunc(i.Roles, func(held string) bool {
		held = normaliseRole(held)
		return held != "" && slices.ContainsFunc(roles, func(want string) bool { return normaliseRole(want) == held })
	})
}

func (i *Identity) HasRole(role string) bool { return i.HasAnyRole(role) }

func (i *Identity) IsStaff() bool { return i.HasAnyRole(RoleStaff, RoleAdmin) }

// ServiceIdentity is the Google service account behind an OIDC token on the internal routes.
type ServiceIdentity struct {
	Subject  string
	Email    string
	Issuer   string
	Audience string
	Claims   map[string]any
}

type (
	identityKey        struct{}
	serviceIdentityKey struct{}
)

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, _ := ctx.Value(identityKey{}).(*Identity)
	return identity, identity != nil
}

func WithServiceIdentity(ctx context.Context, identity *ServiceIdentity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, serviceIdentityKey{}, identity)
}

func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, _ := ctx.Value(serviceIdentityKey{}).(*ServiceIdentity)
	return identity, identity != nil
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
