// internal/handlers/room_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nbv9704/CASI4F-sub001/internal/middleware"
	"github.com/nbv9704/CASI4F-sub001/internal/models"
)

// RoomWSHandler upgrades a participant's connection into the live
// event feed for one room at /rooms/ws/{code}. The feed is push-only;
// all state changes go through the REST endpoints.
func (s *Server) RoomWSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		remoteAddr := r.RemoteAddr
		code := strings.TrimPrefix(r.URL.Path, "/rooms/ws/")
		if code == "" || strings.Contains(code, "/") {
			http.Error(w, "missing room code", http.StatusBadRequest)
			return
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"room"},
			OriginPatterns: []string{"*"}, // Adjust in production
		})
		if err != nil {
			s.Log.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != "room" {
			c.Close(BadSubprotocolError, "client must speak the room subprotocol")
			return
		}

		userID, err := authUserID(r)
		if err != nil {
			s.Log.Warnf("ws auth failed for room %s: %v", code, err)
			c.Close(InvalidAuthTokenError, "authentication failed")
			return
		}

		rm, err := s.Ctrl.Get(r.Context(), code)
		if err != nil {
			c.Close(InvalidRoomCodeError, "room does not exist")
			return
		}
		if rm.Participant(userID) == nil {
			c.Close(NotRoomMemberError, "join the room before subscribing")
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		sub := &Subscriber{
			UserID:  userID,
			Cancel:  cancel,
			OutChan: make(chan models.RoomEvent, 16),
		}
		s.Hub.Subscribe(code, sub)
		defer func() {
			s.Hub.Unsubscribe(code, sub)
			cancel()
		}()

		middleware.LogWebSocketConnect(s.Log, remoteAddr, r.URL.Path)
		defer middleware.LogWebSocketDisconnect(s.Log, remoteAddr, r.URL.Path, nil)

		go roomWritePump(ctx, c, sub, s.Log)
		roomReadPump(ctx, c, code, userID, s.Log)
	}
}

// roomReadPump drains the client side of the socket. The feed accepts
// no commands, so anything but a close is logged and discarded.
func roomReadPump(ctx context.Context, c *websocket.Conn, code string, userID uuid.UUID, logger *logrus.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		typ, _, err := c.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				logger.Infof("room %s: websocket closed normally for user %v", code, userID)
			} else if strings.Contains(err.Error(), "context canceled") {
				// Shutdown path, nothing to report.
			} else {
				logger.Warnf("room %s: read error for user %v: %v", code, userID, err)
			}
			return
		}
		logger.Debugf("room %s: ignoring inbound message type %d from user %v", code, typ, userID)
	}
}

// roomWritePump relays hub events to the socket until the subscription
// channel closes or the context is done.
func roomWritePump(ctx context.Context, c *websocket.Conn, sub *Subscriber, logger *logrus.Logger) {
	defer c.Close(websocket.StatusGoingAway, "write pump stopping")

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.OutChan:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				logger.Warnf("failed to marshal event for user %v: %v", sub.UserID, err)
				continue
			}

			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.Warnf("failed to write to websocket for user %v: %v", sub.UserID, err)
				return
			}
		}
	}
}
