package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/hospitality-core/internal/domain/auth"
	"github.com/xenking/hospitality-core/pkg/httpmiddleware"
)

// Claims are the bearer token claims: the subject is the staff user id.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
}

// Authenticator validates HS256 bearer tokens issued by the staff login
// service.
type Authenticator struct {
	secret []byte
	parser *jwt.Parser
}

// NewAuthenticator returns an Authenticator for tokens signed with secret.
func NewAuthenticator(secret []byte) *Authenticator {
	return &Authenticator{
		secret: secret,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

// Sign issues a token for p valid for ttl.
func (a *Authenticator) Sign(p auth.Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: string(p.Role),
		Name: p.Name,
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return s, nil
}

// Principal parses and validates a raw token.
func (a *Authenticator) Principal(raw string) (auth.Principal, error) {
	var claims Claims
	if _, err := a.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}); err != nil {
		return auth.Principal{}, errors.Wrap(err, "parse token")
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return auth.Principal{}, errors.Errorf("subject %q is not a user id", claims.Subject)
	}
	role := auth.Role(claims.Role)
	if !role.Valid() {
		return auth.Principal{}, errors.Errorf("unknown role %q", claims.Role)
	}
	return auth.Principal{UserID: claims.Subject, Name: claims.Name, Role: role}, nil
}

// Authenticate rejects requests without a valid bearer token and stores the
// principal in the request context.
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeError(w, r, errUnauthorized)
			return
		}
		p, err := a.Principal(strings.TrimSpace(raw))
		if err != nil {
			zctx.From(r.Context()).Debug("Rejected token", zap.Error(err))
			writeError(w, r, errUnauthorized)
			return
		}

		ctx := auth.WithPrincipal(r.Context(), p)
		ctx = zctx.With(ctx, zap.String("actor_id", p.UserID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// PrincipalKey keys rate limiting on the authenticated user, falling back to
// the client address.
func PrincipalKey(r *http.Request) string {
	if p, ok := auth.PrincipalFrom(r.Context()); ok {
		return "user:" + p.UserID
	}
	return "ip:" + httpmiddleware.ClientIP(r)
}

func requireRole(allowed func(auth.Role) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := auth.PrincipalFrom(r.Context())
			if !ok || !allowed(p.Role) {
				writeError(w, r, errForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
