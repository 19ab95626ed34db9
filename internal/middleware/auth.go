package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/xfund/backend/internal/auth"
	"github.com/xfund/backend/internal/models"
)

type contextKey string

const (
	ctxActorKey contextKey = "actor"
	ctxRoleKey  contextKey = "role"
)

// RoleAdmin may distribute dividends and drive the project lifecycle.
const RoleAdmin = models.RoleAdmin

// TokenValidator is satisfied by *auth.Tokens.
type TokenValidator interface {
	Validate(token string) (auth.Identity, error)
}

// Authenticate verifies the Bearer token and sets the actor ID and role into
// request context.
func Authenticate(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				http.Error(w, `{"error":"missing or malformed Authorization header"}`, http.StatusUnauthorized)
				return
			}

			id, err := tokens.Validate(raw)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			ctx := WithActor(r.Context(), id.AccountID, id.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects authenticated callers whose role is not listed.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := RoleFromCtx(r.Context())
			for _, want := range roles {
				if role == want {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
		})
	}
}

// ActorFromCtx returns the authenticated account ID, or uuid.Nil.
func ActorFromCtx(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(ctxActorKey).(uuid.UUID)
	return id
}

func RoleFromCtx(ctx context.Context) string {
	role, _ := ctx.Value(ctxRoleKey).(string)
	return role
}

// WithActor returns a context carrying the given actor.
func WithActor(ctx context.Context, id uuid.UUID, role string) context.Context {
	ctx = context.WithValue(ctx, ctxActorKey, id)
	return context.WithValue(ctx, ctxRoleKey, role)
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
