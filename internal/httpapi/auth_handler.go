package httpapi

import (
	"net/http"
	"time"

	"keypool/internal/auth"
	"keypool/internal/middleware"
	"keypool/internal/utils"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// handleLogin opens a console session. The token is returned in the body and
// also set as an HTTP-only cookie.
func (d *Dependencies) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		utils.RespondWithError(w, err)
		return
	}

	token, expiresAt, err := auth.GenerateAdminJWTWithPassword(r.Context(), req.Email, req.Password, d.AdminUsers, d.Config)
	if err != nil {
		d.logger.Warn("Login failed", "email", req.Email, "remote_addr", r.RemoteAddr, "error", err)
		utils.RespondWithError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  time.Unix(expiresAt, 0),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})

	d.logger.Info("Login succeeded", "email", req.Email)
	utils.RespondOK(w, "login successful", loginResponse{Token: token, ExpiresAt: expiresAt})
}

func (d *Dependencies) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	utils.RespondOK(w, "logout successful", nil)
}
