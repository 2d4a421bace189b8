// internal/handlers/room_test.go
package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/nbv9704/CASI4F-sub001/internal/auth"
	"github.com/nbv9704/CASI4F-sub001/internal/models"
	"github.com/nbv9704/CASI4F-sub001/internal/room"
)

func newTestServer(t *testing.T) (*Server, *room.MemStore) {
	t.Helper()
	auth.Init() // ephemeral keys, no DB needed
	store := room.NewMemStore()
	ctrl := room.NewController(store, room.DefaultConfig(), nil)
	return NewServer(ctrl, ctrl.Log), store
}

func doJSON(t *testing.T, h http.HandlerFunc, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewBuffer(data))
	if token != "" {
		req.Header.Set("Cookie", "auth_token="+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// TestCreateRoomHandler checks that /rooms/create opens a waiting room
// with the caller seated and escrowed.
func TestCreateRoomHandler(t *testing.T) {
	srv, store := newTestServer(t)

	owner := uuid.New()
	store.AddUser(owner, "host", 1000)
	token, _ := auth.CreateJWT(owner.String())

	w := doJSON(t, srv.CreateRoomHandler(), "POST", "/rooms/create", token,
		createRoomRequest{Variant: models.VariantCoinflip, Stake: 100, Capacity: 2, Choice: "heads"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d: %s", w.Code, w.Body.String())
	}

	var created models.Room
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to decode room: %v", err)
	}
	if created.Code == "" {
		t.Fatalf("room has no code")
	}
	if created.OwnerID != owner {
		t.Fatalf("room owner mismatch, expected %v got %v", owner, created.OwnerID)
	}
	if created.SeedHash == "" {
		t.Fatalf("room carries no fairness commitment")
	}
	if got := store.Balance(owner); got != 900 {
		t.Fatalf("expected stake escrowed, balance is %d", got)
	}
}

func TestCreateRoomHandlerRejectsAnonymous(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv.CreateRoomHandler(), "POST", "/rooms/create", "",
		createRoomRequest{Variant: models.VariantCoinflip, Stake: 100})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

// TestJoinRoomHandlerErrors checks the error mapping for the join path.
func TestJoinRoomHandlerErrors(t *testing.T) {
	srv, store := newTestServer(t)

	user := uuid.New()
	store.AddUser(user, "guest", 1000)
	token, _ := auth.CreateJWT(user.String())

	w := doJSON(t, srv.JoinRoomHandler(), "POST", "/rooms/join", token,
		roomRequest{Code: "NOSUCH"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown room, got %d: %s", w.Code, w.Body.String())
	}
	var body errorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	if body.Error != "room_not_found" {
		t.Fatalf("unexpected error kind %q", body.Error)
	}

	w = doJSON(t, srv.JoinRoomHandler(), "POST", "/rooms/join", token, roomRequest{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing code, got %d", w.Code)
	}
}

// TestRoomFlowOverHTTP drives a coinflip from create to verify through
// the HTTP surface.
func TestRoomFlowOverHTTP(t *testing.T) {
	srv, store := newTestServer(t)

	owner, guest := uuid.New(), uuid.New()
	store.AddUser(owner, "host", 1000)
	store.AddUser(guest, "guest", 1000)
	ownerToken, _ := auth.CreateJWT(owner.String())
	guestToken, _ := auth.CreateJWT(guest.String())

	w := doJSON(t, srv.CreateRoomHandler(), "POST", "/rooms/create", ownerToken,
		createRoomRequest{Variant: models.VariantCoinflip, Stake: 100, Choice: "tails"})
	if w.Code != http.StatusOK {
		t.Fatalf("create failed: %d %s", w.Code, w.Body.String())
	}
	var r models.Room
	if err := json.Unmarshal(w.Body.Bytes(), &r); err != nil {
		t.Fatalf("failed to decode room: %v", err)
	}

	w = doJSON(t, srv.JoinRoomHandler(), "POST", "/rooms/join", guestToken, roomRequest{Code: r.Code})
	if w.Code != http.StatusOK {
		t.Fatalf("join failed: %d %s", w.Code, w.Body.String())
	}
	for _, tok := range []string{ownerToken, guestToken} {
		w = doJSON(t, srv.ReadyRoomHandler(), "POST", "/rooms/ready", tok, roomRequest{Code: r.Code})
		if w.Code != http.StatusOK {
			t.Fatalf("ready failed: %d %s", w.Code, w.Body.String())
		}
	}
	w = doJSON(t, srv.StartRoomHandler(), "POST", "/rooms/start", ownerToken, roomRequest{Code: r.Code})
	if w.Code != http.StatusOK {
		t.Fatalf("start failed: %d %s", w.Code, w.Body.String())
	}
	var started models.Room
	if err := json.Unmarshal(w.Body.Bytes(), &started); err != nil {
		t.Fatalf("failed to decode started room: %v", err)
	}
	if started.Status != models.RoomActive {
		t.Fatalf("expected active room, got %s", started.Status)
	}

	// Verification is public and hides the seed while play is open.
	req := httptest.NewRequest("GET", "/rooms/verify?code="+r.Code, nil)
	rec := httptest.NewRecorder()
	srv.VerifyRoomHandler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify failed: %d %s", rec.Code, rec.Body.String())
	}
	var info room.VerifyInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("failed to decode verify info: %v", err)
	}
	if info.RevealedSeed != "" {
		t.Fatalf("seed revealed before settlement")
	}
	if info.SeedHash == "" {
		t.Fatalf("verify info carries no commitment")
	}
}
