package auth

import (
	"context"
	"errors"
)

var ErrNoIdentity = errors.New("auth: no identity in context")

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity set by RequireAccessToken.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

func UserID(ctx context.Context) (string, error) {
	id, ok := IdentityFrom(ctx)
	if !ok || id.UserID == "" {
		return "", ErrNoIdentity
	}
	return id.UserID, nil
}

func StudioID(ctx context.Context) (string, error) {
	id, ok := IdentityFrom(ctx)
	if !ok || id.StudioID == "" {
		return "", ErrNoIdentity
	}
	return id.StudioID, nil
}

func Role(ctx context.Context) (string, error) {
	id, ok := IdentityFrom(ctx)
	if !ok || id.Role == "" {
		return "", ErrNoIdentity
	}
	return id.Role, nil
}
