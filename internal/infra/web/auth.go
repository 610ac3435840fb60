package web

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"credit-reset/internal/clock"
)

var (
	errMissingToken = errors.New("missing token")
	errInvalidToken = errors.New("invalid token")
)

// AuthManager mints and verifies HS256 admin tokens.
type AuthManager struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
}

func NewAuthManager(secret string, ttl time.Duration, clk clock.Clock) *AuthManager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &AuthManager{secret: []byte(secret), ttl: ttl, clock: clk}
}

type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Mint issues a token for subject, valid for the manager's TTL.
func (a *AuthManager) Mint(subject string) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("jwt secret is not configured")
	}
	now := a.clock.Now()
	claims := AdminClaims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			Subject:   subject,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// ParseFromRequest reads "Authorization: Bearer <jwt>".
func (a *AuthManager) ParseFromRequest(r *http.Request) (*AdminClaims, error) {
	hdr := r.Header.Get("Authorization")
	if hdr == "" {
		return nil, errMissingToken
	}
	parts := strings.SplitN(hdr, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, errMissingToken
	}
	return a.parse(strings.TrimSpace(parts[1]))
}

func (a *AuthManager) parse(tok string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	tkn, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.clock.Now),
	)
	if err != nil || !tkn.Valid || claims.Role != "admin" {
		return nil, errInvalidToken
	}
	return claims, nil
}

// authMiddleware rejects requests without a valid admin token.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.auth == nil || len(s.auth.secret) == 0 {
			s.log.Error().Msg("admin jwt secret is not configured")
			writeError(w, http.StatusForbidden, "admin api disabled")
			return
		}
		claims, err := s.auth.ParseFromRequest(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		s.log.Debug().Str("subject", claims.Subject).Str("path", r.URL.Path).Msg("admin request")
		next.ServeHTTP(w, r)
	})
}
