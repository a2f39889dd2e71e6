package middleware

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/ayo6706/deal-escrow/internal/api/problem"
	"github.com/ayo6706/deal-escrow/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	principalContextKey contextKey = "principal"
	traceContextKey     contextKey = "trace_id"
)

// Principal is the authenticated caller of a protected route.
type Principal struct {
	UserID string
	Role   string
}

// IsAdmin reports whether the caller may use the /v1/admin routes.
func (p Principal) IsAdmin() bool {
	return p.Role == domain.UserRoleAdmin
}

var knownRoles = []string{domain.UserRoleUser, domain.UserRoleAdmin}

var signing struct {
	secret   []byte
	issuer   string
	audience string
}

// escrowClaims is the token body shared by the dev token endpoint and the
// auth middleware.
type escrowClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// principal validates the escrow-specific claims. A token without a role is
// an ordinary user.
func (c *escrowClaims) principal() (Principal, bool) {
	if c.UserID == "" {
		return Principal{}, false
	}
	if c.Subject != "" && c.Subject != c.UserID {
		return Principal{}, false
	}
	role := c.Role
	if role == "" {
		role = domain.UserRoleUser
	}
	if !slices.Contains(knownRoles, role) {
		return Principal{}, false
	}
	return Principal{UserID: c.UserID, Role: role}, true
}

func SetJWTSecret(secret string) {
	if secret == "" {
		return
	}
	signing.secret = []byte(secret)
}

func SetJWTValidation(issuer, audience string) {
	signing.issuer = strings.TrimSpace(issuer)
	signing.audience = strings.TrimSpace(audience)
}

func JWTSecret() []byte {
	return slices.Clone(signing.secret)
}

func JWTIssuer() string {
	return signing.issuer
}

func JWTAudience() string {
	return signing.audience
}

// SignToken issues an HS256 token for a directory user with the configured
// issuer and audience.
func SignToken(userID, role string, ttl time.Duration) (string, error) {
	if len(signing.secret) == 0 {
		return "", fmt.Errorf("jwt secret is not configured")
	}
	now := time.Now()
	claims := escrowClaims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    signing.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if signing.audience != "" {
		claims.Audience = jwt.ClaimStrings{signing.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signing.secret)
}

func parseToken(tokenString string) (*escrowClaims, error) {
	claims := &escrowClaims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if signing.issuer != "" {
		opts = append(opts, jwt.WithIssuer(signing.issuer))
	}
	if signing.audience != "" {
		opts = append(opts, jwt.WithAudience(signing.audience))
	}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
		}
		return signing.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is not valid")
	}
	return claims, nil
}

func unauthorized(w http.ResponseWriter, r *http.Request, slug, detail string) {
	problem.Write(w, r, http.StatusUnauthorized, problem.Type(slug), http.StatusText(http.StatusUnauthorized), detail)
}

// AuthMiddleware validates the bearer token and puts the deal party or
// administrator it names into the request context.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			unauthorized(w, r, "auth/authorization-header-required", "Authorization header required")
			return
		}
		tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok {
			unauthorized(w, r, "auth/invalid-token-format", "Invalid token format")
			return
		}
		if len(signing.secret) == 0 {
			problem.Write(w, r, http.StatusInternalServerError, problem.Type("auth/misconfigured"), http.StatusText(http.StatusInternalServerError), "auth is not configured")
			return
		}

		claims, err := parseToken(tokenString)
		if err != nil {
			unauthorized(w, r, "auth/invalid-token", "Invalid token")
			return
		}
		p, ok := claims.principal()
		if !ok {
			unauthorized(w, r, "auth/invalid-token-claims", "Invalid token claims")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalContextKey, p)))
	})
}

// RequireRole admits callers holding one of roles, each a domain.UserRole*
// value.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok || !slices.Contains(roles, p.Role) {
				problem.Write(w, r, http.StatusForbidden, problem.Type("auth/insufficient-permissions"), http.StatusText(http.StatusForbidden), "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin guards dispute resolution, manual release and the user
// directory.
func RequireAdmin(next http.Handler) http.Handler {
	return RequireRole(domain.UserRoleAdmin)(next)
}

// PrincipalFromContext returns the caller set by AuthMiddleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalContextKey).(Principal)
	return p, ok
}

// UserIDFromContext returns the authenticated user ID.
func UserIDFromContext(ctx context.Context) string {
	p, _ := PrincipalFromContext(ctx)
	return p.UserID
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
