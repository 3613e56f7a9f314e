package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/agrovision/advisory-chat/internal/domain"
	"github.com/agrovision/advisory-chat/internal/observability"
	"github.com/agrovision/advisory-chat/internal/transport"
)

// DevHeader carries the caller identity when authentication is disabled.
const DevHeader = "X-Participant-ID"

// JWT authenticates the caller with an HMAC signed bearer token whose subject
// is the participant ID. Browsers cannot set headers on websocket upgrades, so
// the token is also accepted as the access_token query parameter.
func JWT(secret, issuer, audience string) func(http.Handler) http.Handler {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	parser := jwt.NewParser(opts...)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sub, err := authenticate(parser, r, secret)
			if err != nil {
				observability.GetLogger(r.Context()).Debug("jwt_rejected", zap.Error(err))
				transport.MapError(w, r, domain.ErrUnauthorized)
				return
			}

			ctx := InjectParticipantID(r.Context(), sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TrustHeader is used with AUTH_DISABLED for local development.
func TrustHeader() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(DevHeader)
			if id == "" {
				id = r.URL.Query().Get("participant_id")
			}
			if err := domain.ValidateParticipantID(id); err != nil {
				transport.MapError(w, r, domain.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(InjectParticipantID(r.Context(), id)))
		})
	}
}

func authenticate(parser *jwt.Parser, r *http.Request, secret string) (string, error) {
	tokenString, err := extractToken(r)
	if err != nil {
		return "", err
	}
	return verifyToken(parser, tokenString, secret)
}

func extractToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		if q := r.URL.Query().Get("access_token"); q != "" {
			return q, nil
		}
		return "", errors.New("missing token")
	}

	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errors.New("invalid token format")
	}

	return parts[1], nil
}

func verifyToken(parser *jwt.Parser, tokenString, secret string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return "", errors.New("invalid token")
	}

	if err := domain.ValidateParticipantID(claims.Subject); err != nil {
		return "", errors.New("invalid token subject")
	}
	return claims.Subject, nil
}
