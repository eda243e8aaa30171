// Package auth verifies bearer tokens and exposes the caller's identity to
// handlers.  Issuing tokens belongs to the identity provider; IssueToken
// exists for tooling and tests.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"diagnosure/pkg"
)

var (
	ErrMissingToken = errors.New("authorization required")
	ErrInvalidToken = errors.New("invalid or expired token")
)

type Claims struct {
	UserID string   `json:"user_id"`
	Name   string   `json:"name"`
	Role   pkg.Role `json:"role"`
	Age    *int     `json:"age,omitempty"`
	Gender string   `json:"gender,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator validates HS256 tokens signed with a shared secret.
type Authenticator struct {
	secret []byte
	issuer string
	log    *logrus.Logger
}

func New(secret, issuer string, logger *logrus.Logger) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer, log: logger}
}

// IssueToken signs a token for u valid for ttl.
func (a *Authenticator) IssueToken(u pkg.User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: u.ID,
		Name:   u.Name,
		Role:   u.Role,
		Age:    u.Age,
		Gender: u.Gender,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Parse validates a token and returns the user it identifies.
func (a *Authenticator) Parse(tokenString string) (*pkg.User, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(a.issuer))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	switch claims.Role {
	case pkg.RolePatientUser, pkg.RoleDoctorUser, pkg.RoleAdminUser:
	default:
		return nil, ErrInvalidToken
	}
	return &pkg.User{
		ID:     claims.UserID,
		Name:   claims.Name,
		Age:    claims.Age,
		Gender: claims.Gender,
		Role:   claims.Role,
	}, nil
}

// Middleware rejects requests without a valid token and stores the user in
// the request context.  The token comes from the Authorization header or,
// failing that, the "token" cookie.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := bearer(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		user, err := a.Parse(tokenString)
		if err != nil {
			a.log.WithField("path", r.URL.Path).Debug("Rejected token")
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), *user)))
	})
}

func bearer(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.Split(header, " ")
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return "", errors.New("invalid authorization header format")
		}
		return parts[1], nil
	}
	if c, err := r.Cookie("token"); err == nil && c.Value != "" {
		return c.Value, nil
	}
	return "", ErrMissingToken
}

// RequireRole allows only users holding one of roles.  It must run after
// Middleware.
func RequireRole(roles ...pkg.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := CurrentUser(r.Context())
			if !ok {
				writeError(w, http.StatusForbidden, errors.New("user role not found"))
				return
			}
			for _, role := range roles {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, errors.New("insufficient permissions"))
		})
	}
}

type ctxKey struct{}

// WithUser returns a context carrying user.
func WithUser(ctx context.Context, user pkg.User) context.Context {
	return context.WithValue(ctx, ctxKey{}, user)
}

// CurrentUser returns the authenticated user of a request context.
func CurrentUser(ctx context.Context) (pkg.User, bool) {
	user, ok := ctx.Value(ctxKey{}).(pkg.User)
	return user, ok
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
