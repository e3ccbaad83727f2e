package middleware

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/ayo6706/author-payouts/internal/api/problem"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

// Roles carried in the token role claim. The checkout service registers and
// confirms batches; operators manage recipients and trigger re-runs.
const (
	RoleService = "service"
	RoleAdmin   = "admin"
)

const (
	callerContextKey contextKey = "caller"
	traceContextKey  contextKey = "trace_id"
)

var knownRoles = []string{RoleService, RoleAdmin}

var (
	jwtSecret   []byte
	jwtIssuer   string
	jwtAudience string
)

// Caller is the authenticated principal of a request.
type Caller struct {
	ID   string
	Role string
}

type callerClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func SetJWTSecret(secret string) {
	if secret == "" {
		return
	}
	jwtSecret = []byte(secret)
}

func SetJWTValidation(issuer, audience string) {
	jwtIssuer = strings.TrimSpace(issuer)
	jwtAudience = strings.TrimSpace(audience)
}

// JWTSecret returns a copy of the signing key, for tools and tests minting tokens.
func JWTSecret() []byte {
	return slices.Clone(jwtSecret)
}

// AuthMiddleware authenticates internal callers by HS256 bearer token. The
// subject names the caller and the role claim must be one of the known roles.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(jwtSecret) == 0 {
			problem.Write(w, r, http.StatusInternalServerError, problem.Type("auth/misconfigured"), "", "auth is not configured")
			return
		}
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			problem.Write(w, r, http.StatusUnauthorized, problem.Type("auth/bearer-token-required"), "", "Bearer token required")
			return
		}

		caller, err := parseCaller(strings.TrimSpace(raw))
		if err != nil {
			problem.Write(w, r, http.StatusUnauthorized, problem.Type("auth/invalid-token"), "", "Invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerContextKey, caller)))
	})
}

func parseCaller(token string) (Caller, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if jwtIssuer != "" {
		opts = append(opts, jwt.WithIssuer(jwtIssuer))
	}
	if jwtAudience != "" {
		opts = append(opts, jwt.WithAudience(jwtAudience))
	}

	claims := &callerClaims{}
	if _, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return jwtSecret, nil
	}, opts...); err != nil {
		return Caller{}, err
	}
	if claims.Subject == "" {
		return Caller{}, errors.New("token has no subject")
	}
	if !slices.Contains(knownRoles, claims.Role) {
		return Caller{}, errors.New("token has an unknown role")
	}
	return Caller{ID: claims.Subject, Role: claims.Role}, nil
}

// RequireRole ensures the authenticated caller holds one of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := CallerFromContext(r.Context())
			if !ok || !slices.Contains(roles, caller.Role) {
				problem.Write(w, r, http.StatusForbidden, problem.Type("auth/insufficient-permissions"), "", "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CallerFromContext returns the authenticated caller, if any.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	if ctx == nil {
		return Caller{}, false
	}
	c, ok := ctx.Value(callerContextKey).(Caller)
	return c, ok
}

// CallerIDFromContext returns the caller subject or "".
func CallerIDFromContext(ctx context.Context) string {
	c, _ := CallerFromContext(ctx)
	return c.ID
}

// TraceIDFromContext returns the trace id for the request.
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(traceContextKey).(string); ok {
		return v
	}
	return ""
}
