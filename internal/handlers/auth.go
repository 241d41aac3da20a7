package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rtchat/authserver/internal/logging"
	"github.com/rtchat/authserver/internal/services"
	"github.com/rtchat/authserver/internal/session"
	"github.com/rtchat/authserver/internal/validation"
	"github.com/rtchat/authserver/types"
)

// AccountService is the part of services.AccountService the HTTP layer uses.
type AccountService interface {
	Register(ctx context.Context, req validation.RegisterRequest) (services.RegisterResult, error)
	VerifyEmail(ctx context.Context, accountID int64, token string) (types.PublicAccount, error)
	Login(ctx context.Context, req validation.LoginRequest) (services.LoginResult, error)
	Logout(ctx context.Context) services.Revocation
	Authenticate(ctx context.Context, credential string) (session.Claims, error)
}

// AuthHandler serves the /auth endpoints.
type AuthHandler struct {
	accounts AccountService
	log      logging.Logger
}

func NewAuthHandler(accounts AccountService, log logging.Logger) *AuthHandler {
	if log == nil {
		log = logging.Discard()
	}
	return &AuthHandler{accounts: accounts, log: log}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, accounts AccountService, log logging.Logger) {
	handler := NewAuthHandler(accounts, log)

	r.Post("/register", handler.Register)
	r.Get("/verify-email", handler.VerifyEmail)
	r.Post("/login", handler.Login)
	r.Post("/logout", handler.Logout)
	r.With(handler.RequireAuth).Get("/me", handler.Me)
}

// RequireAuth verifies the bearer credential and stores its claims in the
// request context.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return RequireAuth(h.accounts)(next)
}

// RequireAuth constructs auth middleware for other routers.
func RequireAuth(accounts AccountService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential, err := bearerToken(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", services.KindInvalidCredentials)
				return
			}

			claims, err := accounts.Authenticate(r.Context(), credential)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", services.KindInvalidCredentials)
				return
			}

			next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
		})
	}
}

// RequireRole rejects authenticated requests whose role is not role. It must
// run after RequireAuth.
func RequireRole(role types.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := claimsFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", services.KindInvalidCredentials)
				return
			}
			if claims.Role != role {
				writeError(w, http.StatusForbidden, "forbidden", "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Register creates an unverified account and triggers the verification email.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req validation.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", services.KindValidationFailed)
		return
	}

	res, err := h.accounts.Register(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := RegisterResponse{
		Message: "user registered, check your email to verify your account",
		User:    res.Account,
	}
	if res.Warning != nil {
		resp.Warning = res.Warning.Message
	}
	writeJSON(w, http.StatusCreated, resp)
}

// VerifyEmail consumes the token from a verification link.
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	token := strings.TrimSpace(query.Get("token"))
	accountID, err := strconv.ParseInt(strings.TrimSpace(query.Get("id")), 10, 64)
	if err != nil || token == "" {
		writeError(w, http.StatusBadRequest, "invalid verification link", services.KindValidationFailed)
		return
	}

	account, err := h.accounts.VerifyEmail(r.Context(), accountID, token)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "email verified", User: &account})
}

// Login exchanges an identifier and secret for a session credential.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req validation.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", services.KindValidationFailed)
		return
	}

	res, err := h.accounts.Login(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		Message:   "login successful",
		Token:     res.Credential,
		ExpiresAt: res.Claims.ExpiresAt,
		User:      res.Account,
	})
}

// Logout always succeeds; the client discards its credential.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if rev, ok := h.accounts.Logout(r.Context()).(services.DenyListEntry); ok {
		h.log.Info(r.Context(), "credential revoked", "credential_id", rev.CredentialID)
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "logged out"})
}

// Me returns the identity carried by the caller's credential.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", services.KindInvalidCredentials)
		return
	}

	writeJSON(w, http.StatusOK, MeResponse{
		ID:        claims.AccountID,
		Email:     claims.Email,
		Role:      claims.Role,
		ExpiresAt: claims.ExpiresAt,
	})
}

func (h *AuthHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var svcErr *services.Error
	if !errors.As(err, &svcErr) {
		h.log.Error(r.Context(), "unexpected error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}
	writeError(w, statusForKind(svcErr.Kind), svcErr.Message, svcErr.Kind)
}

type RegisterResponse struct {
	Message string              `json:"message"`
	User    types.PublicAccount `json:"user"`
	Warning string              `json:"warning,omitempty"`
}

type LoginResponse struct {
	Message   string              `json:"message"`
	Token     string              `json:"token"`
	ExpiresAt time.Time           `json:"expires_at"`
	User      types.PublicAccount `json:"user"`
}

type MessageResponse struct {
	Message string               `json:"message"`
	User    *types.PublicAccount `json:"user,omitempty"`
}

type MeResponse struct {
	ID        int64      `json:"id"`
	Email     string     `json:"email"`
	Role      types.Role `json:"role"`
	ExpiresAt time.Time  `json:"expires_at"`
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}
