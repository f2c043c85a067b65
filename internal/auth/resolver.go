package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/onnwee/subcults-live/internal/directory"
	"github.com/onnwee/subcults-live/internal/live"
)

// Resolver turns a connection credential into an identity. A missing,
// invalid or expired token, an unknown user and a banned user all resolve
// to an anonymous connection; resolution never rejects the connection.
type Resolver struct {
	tokens *JWTService
	users  directory.UserStore
}

// NewResolver creates a resolver. users may be nil to skip the account check.
func NewResolver(tokens *JWTService, users directory.UserStore) *Resolver {
	return &Resolver{tokens: tokens, users: users}
}

// Resolve returns the identity for credential, or nil.
func (r *Resolver) Resolve(ctx context.Context, credential string) *live.Identity {
	if credential == "" {
		return nil
	}
	claims, err := r.tokens.ValidateToken(credential)
	if err != nil {
		slog.DebugContext(ctx, "connection token rejected", "error", err)
		return nil
	}
	if r.users == nil {
		return &live.Identity{UserID: claims.UserID}
	}

	user, err := r.users.FindByID(ctx, claims.UserID)
	switch {
	case errors.Is(err, directory.ErrNotFound):
		slog.DebugContext(ctx, "connection token names unknown user", "user_id", claims.UserID)
		return nil
	case err != nil:
		slog.WarnContext(ctx, "failed to look up connecting user", "error", err, "user_id", claims.UserID)
		return nil
	case user.IsBanned:
		slog.InfoContext(ctx, "banned user connected anonymously", "user_id", claims.UserID)
		return nil
	}
	return &live.Identity{UserID: user.ID}
}
