package auth

import (
	"context"
	"errors"
)

// Identity is the authenticated caller attached to a request context.
type Identity struct {
	UserID    string
	AccountID string
	Role      string
}

var ErrNoIdentity = errors.New("auth: identity not in context")

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func IdentityFrom(ctx context.Context) (Identity, error) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	if !ok {
		return Identity{}, ErrNoIdentity
	}
	return id, nil
}

func UserID(ctx context.Context) (string, error) {
	id, err := IdentityFrom(ctx)
	if err != nil || id.UserID == "" {
		return "", errors.New("user_id not in context")
	}
	return id.UserID, nil
}

func AccountID(ctx context.Context) (string, error) {
	id, err := IdentityFrom(ctx)
	if err != nil || id.AccountID == "" {
		return "", errors.New("account_id not in context")
	}
	return id.AccountID, nil
}

func Role(ctx context.Context) (string, error) {
	id, err := IdentityFrom(ctx)
	if err != nil || id.Role == "" {
		return "", errors.New("role not in context")
	}
	return id.Role, nil
}
