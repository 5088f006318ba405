package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/Shivanand-hulikatti/event-booking-engine/internal/model"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Claims is the identity asserted by the upstream identity provider.
type Claims struct {
	UserID string     `json:"user_id"`
	Email  string     `json:"email"`
	Role   model.Role `json:"role"`
	jwt.RegisteredClaims
}

type requesterKey struct{}

// WithRequester stores the authenticated caller in ctx.
func WithRequester(ctx context.Context, r model.Requester) context.Context {
	return context.WithValue(ctx, requesterKey{}, r)
}

// RequesterFrom returns the caller stored by Authenticator, or the zero
// Requester, which every policy check rejects as unauthenticated.
func RequesterFrom(ctx context.Context) model.Requester {
	r, _ := ctx.Value(requesterKey{}).(model.Requester)
	return r
}

// Authenticator verifies HS256 bearer tokens signed with secret. When issuer
// is non-empty the iss claim must match it.
func Authenticator(secret, issuer string, log *zap.Logger) func(http.Handler) http.Handler {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	parser := jwt.NewParser(opts...)
	key := []byte(secret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(raw) == "" {
				writeServiceError(w, model.ErrUnauthorized)
				return
			}

			var claims Claims
			_, err := parser.ParseWithClaims(strings.TrimSpace(raw), &claims, func(*jwt.Token) (any, error) {
				return key, nil
			})
			if err != nil || claims.UserID == "" {
				log.Debug("rejected bearer token", zap.Error(err))
				writeServiceError(w, model.ErrUnauthorized)
				return
			}

			role := claims.Role
			switch role {
			case "":
				role = model.RoleUser
			case model.RoleUser, model.RoleOrganizer, model.RoleAdmin:
			default:
				writeServiceError(w, model.ErrUnauthorized)
				return
			}

			ctx := WithRequester(r.Context(), model.Requester{
				UserID: claims.UserID,
				Email:  claims.Email,
				Role:   role,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects callers whose role is not among roles. Administrators
// always pass.
func RequireRole(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := RequesterFrom(r.Context())
			if req.UserID == "" {
				writeServiceError(w, model.ErrUnauthorized)
				return
			}
			if req.IsAdmin() {
				next.ServeHTTP(w, r)
				return
			}
			for _, role := range roles {
				if req.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeServiceError(w, model.ErrForbidden)
		})
	}
}
