// internal/handlers/room.go
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/nbv9704/CASI4F-sub001/internal/models"
	"github.com/nbv9704/CASI4F-sub001/internal/room"
)

type createRoomRequest struct {
	Variant  models.Variant `json:"variant"`
	Stake    int64          `json:"stake"`
	Capacity int            `json:"capacity"`
	Choice   string         `json:"choice,omitempty"`
}

// CreateRoomHandler opens a waiting room with the creator seated and
// their stake escrowed.
func (s *Server) CreateRoomHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := authUserID(r)
		if err != nil {
			http.Error(w, "invalid token", http.StatusForbidden)
			return
		}
		var req createRoomRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad create payload", http.StatusBadRequest)
			return
		}
		created, err := s.Ctrl.Create(r.Context(), userID, req.Variant, req.Stake, req.Capacity, room.CreateOptions{Choice: req.Choice})
		if err != nil {
			writeRoomError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, created)
	}
}

// ListRoomsHandler returns open rooms, filterable by ?variant=.
func (s *Server) ListRoomsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := authUserID(r); err != nil {
			http.Error(w, "invalid token", http.StatusForbidden)
			return
		}
		rooms, err := s.Ctrl.List(r.Context(), models.Variant(r.URL.Query().Get("variant")))
		if err != nil {
			writeRoomError(w, err)
			return
		}
		if rooms == nil {
			rooms = []*models.Room{}
		}
		writeJSON(w, http.StatusOK, rooms)
	}
}

type roomRequest struct {
	Code   string `json:"code"`
	Token  string `json:"token,omitempty"`
	Ready  *bool  `json:"ready,omitempty"`
	Action string `json:"action,omitempty"`
}

// JoinRoomHandler seats the caller, idempotent per token.
func (s *Server) JoinRoomHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, req, ok := s.decodeRoomRequest(w, r)
		if !ok {
			return
		}
		joined, err := s.Ctrl.Join(r.Context(), req.Code, userID, req.Token)
		if err != nil {
			writeRoomError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, joined)
	}
}

// ReadyRoomHandler toggles the caller's readiness flag.
func (s *Server) ReadyRoomHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, req, ok := s.decodeRoomRequest(w, r)
		if !ok {
			return
		}
		flag := true
		if req.Ready != nil {
			flag = *req.Ready
		}
		updated, err := s.Ctrl.Ready(r.Context(), req.Code, userID, flag)
		if err != nil {
			writeRoomError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

// StartRoomHandler begins play; owner only, everyone ready.
func (s *Server) StartRoomHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, req, ok := s.decodeRoomRequest(w, r)
		if !ok {
			return
		}
		started, err := s.Ctrl.Start(r.Context(), req.Code, userID)
		if err != nil {
			writeRoomError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, started)
	}
}

// ActionRoomHandler applies one turn action, idempotent per token.
func (s *Server) ActionRoomHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, req, ok := s.decodeRoomRequest(w, r)
		if !ok {
			return
		}
		updated, err := s.Ctrl.Action(r.Context(), req.Code, userID, req.Action, req.Token)
		if err != nil {
			writeRoomError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

// DeleteRoomHandler removes a waiting room; owner only, all escrows
// refunded.
func (s *Server) DeleteRoomHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, req, ok := s.decodeRoomRequest(w, r)
		if !ok {
			return
		}
		if err := s.Ctrl.Delete(r.Context(), req.Code, userID); err != nil {
			writeRoomError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// BalanceHandler returns the caller's identity and spendable balance,
// so clients can show what a stake would leave them.
func (s *Server) BalanceHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := authUserID(r)
		if err != nil {
			http.Error(w, "invalid token", http.StatusForbidden)
			return
		}
		u, err := s.Ctrl.Store.GetUser(r.Context(), userID)
		if err != nil {
			writeRoomError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, u)
	}
}

// VerifyRoomHandler exposes the fairness material for ?code=. No auth:
// verification is for anyone, not just participants.
func (s *Server) VerifyRoomHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, err := s.Ctrl.Verify(r.Context(), r.URL.Query().Get("code"))
		if err != nil {
			writeRoomError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, info)
	}
}

func (s *Server) decodeRoomRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, roomRequest, bool) {
	userID, err := authUserID(r)
	if err != nil {
		http.Error(w, "invalid token", http.StatusForbidden)
		return uuid.Nil, roomRequest{}, false
	}
	var req roomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad room payload", http.StatusBadRequest)
		return uuid.Nil, roomRequest{}, false
	}
	if req.Code == "" {
		http.Error(w, "missing room code", http.StatusBadRequest)
		return uuid.Nil, roomRequest{}, false
	}
	return userID, req, true
}
