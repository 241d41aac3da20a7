package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rtchat/authserver/internal/services"
	"github.com/rtchat/authserver/internal/session"
)

const maxBodyBytes = 1 << 20

type contextKey string

const contextClaimsKey contextKey = "claims"

// ErrorResponse is the only body written for failed requests.
type ErrorResponse struct {
	Error string        `json:"error"`
	Kind  services.Kind `json:"kind,omitempty"`
}

func withClaims(ctx context.Context, claims session.Claims) context.Context {
	return context.WithValue(ctx, contextClaimsKey, claims)
}

func claimsFromContext(ctx context.Context) (session.Claims, bool) {
	claims, ok := ctx.Value(contextClaimsKey).(session.Claims)
	if !ok || claims.AccountID < 1 {
		return session.Claims{}, false
	}
	return claims, true
}

func statusForKind(kind services.Kind) int {
	switch kind {
	case services.KindValidationFailed, services.KindInvalidToken, services.KindTokenExpired:
		return http.StatusBadRequest
	case services.KindConflict:
		return http.StatusConflict
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindInvalidCredentials:
		return http.StatusUnauthorized
	case services.KindEmailNotVerified:
		return http.StatusForbidden
	case services.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

// Healthz reports liveness.
func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string, kind services.Kind) {
	writeJSON(w, status, ErrorResponse{Error: message, Kind: kind})
}
