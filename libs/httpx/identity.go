package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Headers set by the gateway after token verification.
const (
	TenantIDHeader = "X-Tenant-Id"
	UserIDHeader   = "X-User-Id"
	RoleHeader     = "X-Role"
)

type Identity struct {
	TenantID string
	UserID   string
	Role     string
}

func IdentityFromRequest(r *http.Request) Identity {
	return Identity{
		TenantID: strings.TrimSpace(r.Header.Get(TenantIDHeader)),
		UserID:   strings.TrimSpace(r.Header.Get(UserIDHeader)),
		Role:     strings.ToLower(strings.TrimSpace(r.Header.Get(RoleHeader))),
	}
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKeyIdentity).(Identity)
	return id, ok
}

// RequireTenant rejects requests without a valid tenant header and stores the
// identity in the request context.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := IdentityFromRequest(r)
		if id.TenantID == "" {
			WriteError(w, http.StatusUnauthorized, "missing tenant")
			return
		}
		if _, err := uuid.Parse(id.TenantID); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid tenant id")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyIdentity, id)))
	})
}

// RequireRole allows only the listed roles; it expects RequireTenant upstream.
func RequireRole(roles ...string) Middleware {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[strings.ToLower(r)] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := IdentityFromRequest(r)
			if _, ok := allowed[id.Role]; !ok {
				WriteError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
