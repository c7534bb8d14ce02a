// Package middleware holds the HTTP middleware of the console API.
package middleware

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"keypool/internal/auth"
	"keypool/internal/config"
	"keypool/internal/utils"
)

// ContextKey defines the type for context keys to avoid conflicts
type ContextKey string

// Context keys for storing authentication data
const (
	AdminClaimsKey ContextKey = "adminClaims"
	AdminIDKey     ContextKey = "adminID"
	AdminRolesKey  ContextKey = "adminRoles"
)

// AdminJWTMiddleware validates console session tokens. When requiredRole is
// given the session must hold a role granting it.
func AdminJWTMiddleware(cfg *config.Config, requiredRole ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := bearerToken(r)
			if tokenString == "" {
				utils.RespondFail(w, http.StatusUnauthorized, "missing authentication token")
				return
			}

			claims, err := auth.ValidateAdminJWT(tokenString, cfg)
			if err != nil {
				utils.RespondFail(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			for _, role := range requiredRole {
				if !auth.HasAnyPermission(claims.Roles, role) {
					utils.RespondFail(w, http.StatusForbidden, "insufficient permissions")
					return
				}
			}

			ctx := context.WithValue(r.Context(), AdminClaimsKey, claims)
			ctx = context.WithValue(ctx, AdminIDKey, claims.AdminID)
			ctx = context.WithValue(ctx, AdminRolesKey, claims.Roles)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionCookie carries the console session token set at login
const SessionCookie = "auth"

// bearerToken reads the token from Authorization, then X-Auth-Token, then the session cookie
func bearerToken(r *http.Request) string {
	token := r.Header.Get("Authorization")
	if token == "" {
		token = r.Header.Get("X-Auth-Token")
	}
	if token == "" {
		if c, err := r.Cookie(SessionCookie); err == nil {
			token = c.Value
		}
	}
	token = strings.TrimSpace(token)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	return token
}

// GetAdminClaims retrieves the admin claims from the request context
func GetAdminClaims(ctx context.Context) (*auth.AdminClaims, bool) {
	claims, ok := ctx.Value(AdminClaimsKey).(*auth.AdminClaims)
	return claims, ok
}

// GetAdminID retrieves the admin ID from the request context
func GetAdminID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(AdminIDKey).(string)
	return id, ok
}

// GetAdminRoles retrieves the admin roles from the request context
func GetAdminRoles(ctx context.Context) ([]string, bool) {
	roles, ok := ctx.Value(AdminRolesKey).([]string)
	return roles, ok
}

// HasRole checks if the admin has a specific role
func HasRole(ctx context.Context, role auth.Role) bool {
	roles, ok := GetAdminRoles(ctx)
	return ok && slices.Contains(roles, role.String())
}
