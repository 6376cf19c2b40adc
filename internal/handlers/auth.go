package handlers

import (
	"context"
	"net/http"

	"github.com/avc/pointledger/internal/domain"
	"go.uber.org/zap"
)

// AuthService определяет методы регистрации и входа
type AuthService interface {
	Register(ctx context.Context, login, password string) (string, error)
	Login(ctx context.Context, login, password string) (string, error)
	Me(ctx context.Context, userID int64) (*domain.User, error)
}

type AuthHandler struct {
	authService AuthService
	logger      *zap.Logger
}

func NewAuthHandler(authService AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		logger:      logger,
	}
}

type authRequest struct {
	Login    string `json:"login" validate:"required,max=64"`
	Password string `json:"password" validate:"required"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, h.logger, err)
		return
	}

	token, err := h.authService.Register(r.Context(), req.Login, req.Password)
	if err != nil {
		writeServiceError(w, r, h.logger, "register", err)
		return
	}

	w.Header().Set("Authorization", "Bearer "+token)
	writeJSON(w, h.logger, http.StatusOK, tokenResponse{Token: token})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, h.logger, err)
		return
	}

	token, err := h.authService.Login(r.Context(), req.Login, req.Password)
	if err != nil {
		writeServiceError(w, r, h.logger, "login", err)
		return
	}

	w.Header().Set("Authorization", "Bearer "+token)
	writeJSON(w, h.logger, http.StatusOK, tokenResponse{Token: token})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		writeError(w, h.logger, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	user, err := h.authService.Me(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, h.logger, "get profile", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, user)
}
