package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"appfuel/config"
	"appfuel/mvc"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const subjectKey contextKey = "subject"

var (
	ErrNoSecret     = errors.New("jwt secret not configured")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims carries the roles that become acl codes of the dispatch
type Claims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for subject with the configured issuer
// and ttl
func IssueToken(cfg *config.Config, subject string, roles []string) (string, error) {
	if cfg.Auth.JWTSecret == "" {
		return "", ErrNoSecret
	}
	now := time.Now()
	ttl := cfg.Auth.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	claims := &Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Auth.Issuer,
			Subject:   subject,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ParseToken validates signature, method, expiry, issuer and roles
func ParseToken(cfg *config.Config, token string) (*Claims, error) {
	if cfg.Auth.JWTSecret == "" {
		return nil, ErrNoSecret
	}
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if cfg.Auth.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Auth.Issuer))
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(cfg.Auth.JWTSecret), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	for _, role := range claims.Roles {
		if strings.TrimSpace(role) == "" {
			return nil, fmt.Errorf("%w: empty role", ErrInvalidToken)
		}
	}
	return claims, nil
}

// Subject is the token subject of an authenticated request
func Subject(ctx context.Context) string {
	sub, _ := ctx.Value(subjectKey).(string)
	return sub
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// authMiddleware turns a bearer token into acl codes. Requests without a
// token pass through anonymous; a bad token is rejected with 401.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := ParseToken(s.config, token)
		if err != nil {
			s.logger.Warnw("Rejected bearer token",
				"request_id", RequestID(r.Context()),
				"ip", realIP(r, s.config.Server.TrustProxy),
				"error", err)
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		ctx := mvc.WithAclCodes(r.Context(), claims.Roles)
		ctx = context.WithValue(ctx, subjectKey, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
