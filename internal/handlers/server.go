// internal/handlers/server.go
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nbv9704/CASI4F-sub001/internal/auth"
	"github.com/nbv9704/CASI4F-sub001/internal/room"
)

// Server bundles what every HTTP and WS handler needs: the lifecycle
// controller, the push hub and a logger.
type Server struct {
	Ctrl *room.Controller
	Hub  *Hub
	Log  *logrus.Logger
}

// NewServer wires a handler server and points the controller's
// broadcast at the hub.
func NewServer(ctrl *room.Controller, log *logrus.Logger) *Server {
	s := &Server{Ctrl: ctrl, Hub: NewHub(log), Log: log}
	ctrl.BroadcastFn = s.Hub.Broadcast
	return s
}

// authUserID resolves the calling user from the auth_token cookie.
// Token issuance is the auth service's job; we only verify.
func authUserID(r *http.Request) (uuid.UUID, error) {
	cookie := r.Header.Get("Cookie")
	if !strings.Contains(cookie, "auth_token=") {
		return uuid.Nil, errors.New("missing auth_token")
	}
	userIDStr, err := auth.AuthenticateJWT(extractCookieToken(cookie, "auth_token"))
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(userIDStr)
}

// extractCookieToken extracts a named cookie value from the Cookie
// header, or returns empty if not found.
func extractCookieToken(cookieHeader, cookieName string) string {
	parts := strings.Split(cookieHeader, cookieName+"=")
	if len(parts) < 2 {
		return ""
	}
	token := parts[1]
	if idx := strings.Index(token, ";"); idx != -1 {
		token = token[:idx]
	}
	return token
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorBody is the wire shape for failures; Kind is stable so clients
// can react to specific kinds (e.g. swallow duplicate_action).
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeRoomError maps stable room error kinds onto HTTP statuses.
func writeRoomError(w http.ResponseWriter, err error) {
	var re *room.Error
	if !errors.As(err, &re) {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal", Message: "temporary failure, retry"})
		return
	}

	status := http.StatusConflict
	switch {
	case errors.Is(re, room.ErrRoomNotFound):
		status = http.StatusNotFound
	case errors.Is(re, room.ErrInvalidParams), errors.Is(re, room.ErrUnknownAction):
		status = http.StatusBadRequest
	case errors.Is(re, room.ErrInsufficientBalance):
		status = http.StatusPaymentRequired
	case errors.Is(re, room.ErrNotOwner), errors.Is(re, room.ErrNotMember):
		status = http.StatusForbidden
	}
	writeJSON(w, status, errorBody{Error: re.Kind, Message: re.Msg})
}
