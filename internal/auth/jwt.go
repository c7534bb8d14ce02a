// Package auth issues and validates console session tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"keypool/internal/config"
	"keypool/internal/models"
	"keypool/internal/utils"
)

// AdminAuthType tells how a session was established
type AdminAuthType string

// AdminAuthTypeUser marks a session opened with email and password
const AdminAuthTypeUser AdminAuthType = "user"

const issuer = "keypool"

// AdminClaims are carried in console session tokens
type AdminClaims struct {
	AuthType AdminAuthType `json:"auth_type"`
	AdminID  string        `json:"admin_id"`
	Email    string        `json:"email"`
	Roles    []string      `json:"roles"`
	jwt.RegisteredClaims
}

// AdminStore looks up console accounts. *storage.AdminUserRepository satisfies it.
type AdminStore interface {
	GetByEmail(ctx context.Context, email string) (*models.AdminUser, error)
	UpdateLastLogin(ctx context.Context, id uuid.UUID) error
}

var errInvalidCredentials = utils.Errorf(utils.ErrUnauthorized, "invalid email or password")

// GenerateAdminJWTWithPassword checks email and password and issues a session
// token. It returns the signed token and its expiry as a Unix timestamp.
func GenerateAdminJWTWithPassword(ctx context.Context, email, password string, store AdminStore, cfg *config.Config) (string, int64, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return "", 0, utils.Errorf(utils.ErrInvalidArgument, "email and password are required")
	}

	user, err := store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return "", 0, errInvalidCredentials
		}
		return "", 0, err
	}
	if !user.IsValid() {
		return "", 0, utils.Errorf(utils.ErrUnauthorized, "account is disabled")
	}

	ok, err := utils.VerifyPasswordArgon2(password, user.PasswordHash)
	if err != nil || !ok {
		return "", 0, errInvalidCredentials
	}

	token, exp, err := signAdminJWT(user, cfg)
	if err != nil {
		return "", 0, err
	}

	if err := store.UpdateLastLogin(ctx, user.ID); err != nil {
		utils.NewLogger("auth").Warn("Failed to record last login", "email", user.Email, "error", err)
	}
	return token, exp, nil
}

func signAdminJWT(user *models.AdminUser, cfg *config.Config) (string, int64, error) {
	ttl := cfg.JWTTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := time.Now()
	expiresAt := now.Add(ttl)

	claims := AdminClaims{
		AuthType: AdminAuthTypeUser,
		AdminID:  user.ID.String(),
		Email:    user.Email,
		Roles:    []string(user.Roles),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.JWTSecret)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt.Unix(), nil
}

// ValidateAdminJWT verifies signature and expiry and returns the claims
func ValidateAdminJWT(tokenString string, cfg *config.Config) (*AdminClaims, error) {
	claims := &AdminClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return cfg.JWTSecret, nil
	})
	if err != nil {
		return nil, utils.Errorf(utils.ErrUnauthorized, "invalid token: %w", err)
	}
	if !token.Valid || claims.AuthType != AdminAuthTypeUser {
		return nil, utils.Errorf(utils.ErrUnauthorized, "invalid token")
	}
	return claims, nil
}
