package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/attaboy/adaptiveauth/internal/policy"
	"github.com/attaboy/adaptiveauth/internal/service"
)

// Authenticator is the login flow. *service.AuthService implements it.
type Authenticator interface {
	Register(ctx context.Context, input service.RegisterInput) (*service.RegisterResult, error)
	Login(ctx context.Context, input service.LoginInput) (*service.LoginResult, error)
}

// AuthHandler handles registration and login endpoints.
type AuthHandler struct {
	authSvc Authenticator
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authSvc Authenticator) *AuthHandler {
	return &AuthHandler{authSvc: authSvc}
}

// Register handles POST /auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var input service.RegisterInput
	if err := DecodeJSON(r, &input); err != nil {
		respondBadBody(w)
		return
	}

	result, err := h.authSvc.Register(r.Context(), input)
	if err != nil {
		RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusCreated, result)
}

// Login handles POST /auth/login. Allowed logins return 200 with a token;
// challenged logins return 202 without one.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var input service.LoginInput
	if err := DecodeJSON(r, &input); err != nil {
		respondBadBody(w)
		return
	}
	input.IPAddress = ClientIP(r)
	input.UserAgent = r.UserAgent()
	input.DeviceID = strings.TrimSpace(r.Header.Get("X-Device-ID"))

	result, err := h.authSvc.Login(r.Context(), input)
	if err != nil {
		RespondError(w, err)
		return
	}

	status := http.StatusOK
	if result.Action == policy.ActionChallenge {
		status = http.StatusAccepted
	}
	RespondJSON(w, status, result)
}
