package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"suvidha-auth-service/internal/models"
	"suvidha-auth-service/internal/service"
	"suvidha-auth-service/internal/util"
)

// AuthHandler exposes the OTP login and session lifecycle over HTTP.
type AuthHandler struct {
	authService *service.AuthService
}

func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// RegisterRoutes mounts the auth endpoints.
func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auth", func(r chi.Router) {
		r.Post("/send-otp", h.SendOTP)
		r.Post("/verify-otp", h.VerifyOTP)
		r.Get("/me", h.Me)
		r.Post("/refresh", h.Refresh)
		r.Post("/logout", h.Logout)
		r.Post("/logout-all", h.LogoutAll)
	})
}

func (h *AuthHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req models.SendOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.authService.SendOTP(r.Context(), req.Phone, r.RemoteAddr)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req models.VerifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.authService.VerifyOTP(r.Context(), req.Phone, req.OTP, r.RemoteAddr)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		respondWithError(w, http.StatusUnauthorized, "authorization required")
		return
	}

	profile, err := h.authService.CurrentUser(r.Context(), token)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, profile)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req models.RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RefreshToken == "" {
		respondWithError(w, http.StatusBadRequest, "refreshToken is required")
		return
	}

	resp, err := h.authService.Refresh(r.Context(), req.RefreshToken, r.RemoteAddr)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, resp)
}

// Logout always answers 200. Revocation is best-effort server side; from the
// client's view logging out cannot fail.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := bearerToken(r); token != "" {
		h.authService.Logout(r.Context(), token, r.RemoteAddr)
	}

	respondWithJSON(w, http.StatusOK, models.MessageResponse{
		Success: true,
		Message: "Logged out successfully",
	})
}

func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		respondWithError(w, http.StatusUnauthorized, "authorization required")
		return
	}

	count, err := h.authService.RevokeAllSessions(r.Context(), token, r.RemoteAddr)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":         true,
		"message":         "All sessions revoked",
		"revokedSessions": count,
	})
}

// respondServiceError maps a service error to its status and a fixed client
// message. The wrapped cause stays in the server log: the body must not
// reveal which check rejected the request, or it becomes an oracle for
// probing codes and sessions.
func (h *AuthHandler) respondServiceError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		util.Error("request failed", util.ErrorField(err))
		respondWithError(w, status, "internal server error")
		return
	}

	util.Debug("request rejected", util.Int("status", status), util.ErrorField(err))
	respondWithError(w, status, clientMessage(err))
}

// clientMessage returns the sentinel's own text, never the wrapped detail.
func clientMessage(err error) string {
	for _, sentinel := range []error{
		service.ErrInvalidPhone,
		service.ErrInvalidOTP,
		service.ErrAuthentication,
		service.ErrLockedOut,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "internal server error"
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidPhone), errors.Is(err, service.ErrInvalidOTP):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrLockedOut):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		util.Error("failed to encode response", util.ErrorField(err))
	}
}

func respondWithError(w http.ResponseWriter, status int, message string) {
	respondWithJSON(w, status, models.ErrorResponse{
		Success: false,
		Error:   message,
	})
}
