package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/autherr"
	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/config"
	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/domain"
	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/http/middleware"
	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/service"
)

// AuthHandler exposes the authentication endpoints. Input validation happens
// here at the boundary; everything past the handler works with typed values.
type AuthHandler struct {
	auth   *service.AuthService
	resets *service.ResetService
	cfg    config.Config
	logger *zap.Logger
}

// NewAuthHandler creates the handler set.
func NewAuthHandler(auth *service.AuthService, resets *service.ResetService, cfg config.Config, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, resets: resets, cfg: cfg, logger: logger}
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	MFACode    string `json:"mfaCode"`
	DeviceName string `json:"deviceName"`
}

type logoutRequest struct {
	AccessToken       string `json:"accessToken"`
	RevokeAllSessions bool   `json:"revokeAllSessions"`
}

type resetRequestRequest struct {
	Email string `json:"email"`
}

type resetConfirmRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// Login runs the credential check and mints a session on success.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Email and password are required."})
		return
	}

	result, err := h.auth.Login(c.Request.Context(), service.LoginInput{
		Email:      req.Email,
		Password:   req.Password,
		MFACode:    req.MFACode,
		DeviceName: req.DeviceName,
		UserAgent:  c.Request.UserAgent(),
		IPAddress:  c.ClientIP(),
		ClientKey:  middleware.GetClientKey(c),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	if result.RequiresMFA {
		c.JSON(http.StatusOK, gin.H{"success": false, "requiresMfa": true})
		return
	}

	h.setSessionCookies(c, result.Tokens)
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"accessToken":  result.Tokens.AccessToken,
		"refreshToken": result.Tokens.RefreshToken,
		"csrfToken":    result.Tokens.CSRFToken,
		"expiresAt":    result.Tokens.ExpiresAt.UTC().Format(time.RFC3339),
		"user":         userPayload(result.Clinician, result.Permissions),
	})
}

// Logout revokes the presented session, or all of the caller's sessions.
// The token may arrive in the body, the bearer header, or the cookie.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req logoutRequest
	_ = c.ShouldBindJSON(&req)

	accessToken := req.AccessToken
	if accessToken == "" {
		accessToken = bearerToken(c)
	}
	if accessToken == "" {
		if v, err := c.Cookie(h.cfg.Cookies.AccessName); err == nil {
			accessToken = v
		}
	}
	if accessToken == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Access token required."})
		return
	}

	if err := h.auth.Logout(c.Request.Context(), accessToken, c.ClientIP(), req.RevokeAllSessions); err != nil {
		h.respondError(c, err)
		return
	}

	h.clearSessionCookies(c)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Logged out."})
}

// PasswordResetRequest issues a reset token. The response never reveals
// whether the account exists.
func (h *AuthHandler) PasswordResetRequest(c *gin.Context) {
	var req resetRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Email is required."})
		return
	}

	if err := h.resets.Request(c.Request.Context(), req.Email, c.ClientIP()); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "If that account exists, a reset link has been sent."})
}

// PasswordResetConfirm consumes a reset token and replaces the credential.
func (h *AuthHandler) PasswordResetConfirm(c *gin.Context) {
	var req resetConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" || req.NewPassword == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Token and new password are required."})
		return
	}
	if len(req.NewPassword) < h.cfg.MinPasswordLength {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   fmt.Sprintf("Password must be at least %d characters.", h.cfg.MinPasswordLength),
		})
		return
	}

	if err := h.resets.Confirm(c.Request.Context(), req.Token, req.NewPassword, c.ClientIP()); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Password updated. Please sign in again."})
}

// Me returns the authenticated caller's profile with resolved permissions.
func (h *AuthHandler) Me(c *gin.Context) {
	clinicianID, ok := middleware.GetClinicianID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Authorization required."})
		return
	}

	clinician, permissions, err := h.auth.Profile(c.Request.Context(), clinicianID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "user": userPayload(clinician, permissions)})
}

// Sessions lists the caller's active device bindings. Token values are never
// echoed back.
func (h *AuthHandler) Sessions(c *gin.Context) {
	clinicianID, ok := middleware.GetClinicianID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Authorization required."})
		return
	}

	sessions, err := h.auth.Sessions(c.Request.Context(), clinicianID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	payload := make([]gin.H, 0, len(sessions))
	for _, s := range sessions {
		payload = append(payload, gin.H{
			"id":         s.ID,
			"deviceName": s.DeviceName,
			"userAgent":  s.UserAgent,
			"ipAddress":  s.IPAddress,
			"createdAt":  s.CreatedAt.UTC().Format(time.RFC3339),
			"expiresAt":  s.ExpiresAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "sessions": payload})
}

func (h *AuthHandler) respondError(c *gin.Context, err error) {
	authErr, ok := autherr.As(err)
	if !ok {
		h.logger.Error("unclassified handler error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Internal server error."})
		return
	}

	if authErr.Kind == autherr.KindInfrastructure {
		h.logger.Error("auth infrastructure failure", zap.Error(authErr.Unwrap()))
	}

	body := gin.H{"success": false, "error": authErr.Message}
	if authErr.ResetAt != nil {
		body["resetAt"] = authErr.ResetAt.UTC().Format(time.RFC3339)
	}
	c.JSON(authErr.Status(), body)
}

func (h *AuthHandler) setSessionCookies(c *gin.Context, tokens *service.SessionTokens) {
	cookies := h.cfg.Cookies
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(cookies.AccessName, tokens.AccessToken, int(h.cfg.AccessTokenTTL.Seconds()), "/", cookies.Domain, cookies.Secure, true)
	c.SetCookie(cookies.RefreshName, tokens.RefreshToken, int(h.cfg.RefreshTokenTTL.Seconds()), cookies.AuthPath, cookies.Domain, cookies.Secure, true)
	// Client script reads this one to mirror it into the X-CSRF-Token header.
	c.SetCookie(cookies.CSRFName, tokens.CSRFToken, int(h.cfg.AccessTokenTTL.Seconds()), "/", cookies.Domain, cookies.Secure, false)
}

func (h *AuthHandler) clearSessionCookies(c *gin.Context) {
	cookies := h.cfg.Cookies
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(cookies.AccessName, "", -1, "/", cookies.Domain, cookies.Secure, true)
	c.SetCookie(cookies.RefreshName, "", -1, cookies.AuthPath, cookies.Domain, cookies.Secure, true)
	c.SetCookie(cookies.CSRFName, "", -1, "/", cookies.Domain, cookies.Secure, false)
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

func userPayload(clinician domain.Clinician, permissions []string) gin.H {
	return gin.H{
		"id":          clinician.ID,
		"email":       clinician.Email,
		"firstName":   clinician.FirstName,
		"lastName":    clinician.LastName,
		"role":        clinician.Role,
		"permissions": permissions,
	}
}
