package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/freeeve/world-conflict/internal/auth"
	"github.com/freeeve/world-conflict/internal/model"
	"github.com/freeeve/world-conflict/internal/repository"
	"github.com/freeeve/world-conflict/internal/repository/bolt"
	"github.com/freeeve/world-conflict/internal/service"
	"github.com/freeeve/world-conflict/pkg/conflict"
)

// --- Mock Repositories ---

type mockUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User
	seq   int
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[string]*model.User)}
}

func (m *mockUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id], nil
}

func (m *mockUserRepo) FindByProviderID(_ context.Context, provider, providerID string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Provider == provider && u.ProviderID == providerID {
			return u, nil
		}
	}
	return nil, nil
}

func (m *mockUserRepo) Upsert(_ context.Context, provider, providerID, displayName, avatarURL string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Provider == provider && u.ProviderID == providerID {
			u.DisplayName = displayName
			return u, nil
		}
	}
	m.seq++
	u := &model.User{
		ID:          fmt.Sprintf("%s-user-%d", provider, m.seq),
		Provider:    provider,
		ProviderID:  providerID,
		DisplayName: displayName,
		AvatarURL:   avatarURL,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	m.users[u.ID] = u
	return u, nil
}

func (m *mockUserRepo) UpdateDisplayName(_ context.Context, id, displayName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.DisplayName = displayName
	u.UpdatedAt = time.Now()
	return nil
}

type mockGameRepo struct {
	mu      sync.Mutex
	games   map[string]*model.Game
	players map[string][]model.GamePlayer
}

func newMockGameRepo() *mockGameRepo {
	return &mockGameRepo{
		games:   make(map[string]*model.Game),
		players: make(map[string][]model.GamePlayer),
	}
}

func (m *mockGameRepo) Create(_ context.Context, name, creatorID string, settings model.GameSettings) (*model.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := &model.Game{
		ID:           fmt.Sprintf("game-%d", len(m.games)+1),
		Name:         name,
		CreatorID:    creatorID,
		Status:       model.GamePending,
		MapSize:      settings.MapSize,
		MaxPlayers:   settings.MaxPlayers,
		MaxTurns:     settings.MaxTurns,
		TurnDuration: settings.TurnDuration,
		CreatedAt:    time.Now(),
	}
	m.games[g.ID] = g
	return g, nil
}

func (m *mockGameRepo) FindByID(_ context.Context, id string) (*model.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[id]
	if !ok {
		return nil, nil
	}
	cp := *g
	cp.Players = slices.Clone(m.players[id])
	slices.SortFunc(cp.Players, func(a, b model.GamePlayer) int { return a.Slot - b.Slot })
	return &cp, nil
}

func (m *mockGameRepo) byStatus(status string) []model.Game {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.Game
	for _, g := range m.games {
		if g.Status == status {
			result = append(result, *g)
		}
	}
	return result
}

func (m *mockGameRepo) ListOpen(_ context.Context) ([]model.Game, error) {
	return m.byStatus(model.GamePending), nil
}

func (m *mockGameRepo) ListActive(_ context.Context) ([]model.Game, error) {
	return m.byStatus(model.GameActive), nil
}

func (m *mockGameRepo) ListFinished(_ context.Context) ([]model.Game, error) {
	return m.byStatus(model.GameCompleted), nil
}

func (m *mockGameRepo) ListByUser(_ context.Context, userID string) ([]model.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.Game
	for id, g := range m.games {
		for _, p := range m.players[id] {
			if p.UserID == userID {
				result = append(result, *g)
				break
			}
		}
	}
	return result, nil
}

func (m *mockGameRepo) join(gameID, userID string, slot int, isBot bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.players[gameID] = append(m.players[gameID], model.GamePlayer{
		GameID: gameID, UserID: userID, Slot: slot, IsBot: isBot, JoinedAt: time.Now(),
	})
	return nil
}

func (m *mockGameRepo) JoinGame(_ context.Context, gameID, userID string, slot int) error {
	return m.join(gameID, userID, slot, false)
}

func (m *mockGameRepo) JoinGameAsBot(_ context.Context, gameID, userID string, slot int) error {
	return m.join(gameID, userID, slot, true)
}

func (m *mockGameRepo) PlayerCount(_ context.Context, gameID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.players[gameID]), nil
}

func (m *mockGameRepo) SetActive(_ context.Context, gameID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.games[gameID]; ok {
		g.Status = model.GameActive
	}
	return nil
}

func (m *mockGameRepo) SetFinished(_ context.Context, gameID, winner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.games[gameID]; ok {
		g.Status = model.GameCompleted
		g.Winner = winner
	}
	return nil
}

func (m *mockGameRepo) Delete(_ context.Context, gameID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.games, gameID)
	delete(m.players, gameID)
	return nil
}

type mockCommandLog struct {
	mu      sync.Mutex
	records []model.CommandRecord
}

func (m *mockCommandLog) Append(_ context.Context, rec *model.CommandRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *rec)
	return nil
}

func (m *mockCommandLog) ListByGame(_ context.Context, gameID string) ([]model.CommandRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.CommandRecord
	for _, r := range m.records {
		if r.GameID == gameID {
			out = append(out, r)
		}
	}
	return out, nil
}

// --- Test helpers ---

// testServer wires the handlers over mock repositories and a BoltDB
// snapshot file in a temp dir.
type testServer struct {
	users    *mockUserRepo
	games    *mockGameRepo
	jwtMgr   *auth.JWTManager
	gameH    *GameHandler
	commandH *CommandHandler
	authH    *AuthHandler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := bolt.Open(filepath.Join(t.TempDir(), "snapshots.db"))
	if err != nil {
		t.Fatalf("open bolt store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	s := &testServer{
		users:  newMockUserRepo(),
		games:  newMockGameRepo(),
		jwtMgr: auth.NewJWTManager("test-secret"),
	}
	gameSvc := service.NewGameService(s.games, s.users, store, nil)
	cmdSvc := service.NewCommandService(s.games, store, &mockCommandLog{}, nil, nil)
	gameSvc.OnStart(cmdSvc.BeginGame)
	s.gameH = NewGameHandler(gameSvc)
	s.commandH = NewCommandHandler(cmdSvc)
	s.authH = NewAuthHandler(s.jwtMgr, s.users, true)
	return s
}

func reqWithUserID(method, path, body, userID, gameID string) *http.Request {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	r.Header.Set("Content-Type", "application/json")
	if userID != "" {
		r = r.WithContext(auth.WithUserID(r.Context(), userID))
	}
	if gameID != "" {
		r.SetPathValue("id", gameID)
	}
	return r
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
	return v
}

// createGame creates a lobby as user-1 and returns its id.
func (s *testServer) createGame(t *testing.T, body string) string {
	t.Helper()
	w := httptest.NewRecorder()
	s.gameH.CreateGame(w, reqWithUserID("POST", "/api/v1/games", body, "user-1", ""))
	if w.Code != http.StatusCreated {
		t.Fatalf("create game: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	return decodeBody[model.Game](t, w).ID
}

// startedGame returns an active two-seat game between user-1 and user-2.
func (s *testServer) startedGame(t *testing.T) string {
	t.Helper()
	id := s.createGame(t, `{"name":"Duel","map_size":"small","max_players":2}`)
	w := httptest.NewRecorder()
	s.gameH.JoinGame(w, reqWithUserID("POST", "/api/v1/games/"+id+"/join", "", "user-2", id))
	if w.Code != http.StatusOK {
		t.Fatalf("join: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w = httptest.NewRecorder()
	s.gameH.StartGame(w, reqWithUserID("POST", "/api/v1/games/"+id+"/start", "", "user-1", id))
	if w.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	return id
}

func (s *testServer) state(t *testing.T, gameID string) conflict.Snapshot {
	t.Helper()
	w := httptest.NewRecorder()
	s.gameH.GetState(w, reqWithUserID("GET", "/api/v1/games/"+gameID+"/state", "", "user-1", gameID))
	if w.Code != http.StatusOK {
		t.Fatalf("state: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var head struct {
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &head); err != nil {
		t.Fatalf("decode version: %v", err)
	}
	snap, err := conflict.UnmarshalSnapshot(w.Body.Bytes(), head.Version)
	if err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	return *snap
}

// --- Game Handler Tests ---

func TestCreateGame(t *testing.T) {
	s := newTestServer(t)
	w := httptest.NewRecorder()
	body := `{"name":"Test Game","map_size":"medium","max_players":3,"max_turns":20,"turn_duration":"5m","bots":1}`
	s.gameH.CreateGame(w, reqWithUserID("POST", "/api/v1/games", body, "user-1", ""))

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	game := decodeBody[model.Game](t, w)
	if game.Name != "Test Game" || game.CreatorID != "user-1" {
		t.Errorf("unexpected game %+v", game)
	}
	if game.MapSize != "medium" || game.MaxPlayers != 3 || game.MaxTurns != 20 || game.TurnDuration != "5 minutes" {
		t.Errorf("settings not applied: %+v", game)
	}
	if len(game.Players) != 2 || !game.Players[1].IsBot {
		t.Errorf("expected creator and one bot seated, got %+v", game.Players)
	}
}

func TestCreateGameBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing name", `{"map_size":"small"}`},
		{"malformed json", `{"name":`},
		{"unknown map size", `{"name":"x","map_size":"huge"}`},
		{"too many players", `{"name":"x","max_players":9}`},
		{"bots fill every seat", `{"name":"x","max_players":2,"bots":2}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			w := httptest.NewRecorder()
			s.gameH.CreateGame(w, reqWithUserID("POST", "/api/v1/games", tt.body, "user-1", ""))
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestListGames(t *testing.T) {
	s := newTestServer(t)
	s.createGame(t, `{"name":"Open"}`)
	started := s.startedGame(t)

	w := httptest.NewRecorder()
	s.gameH.ListGames(w, reqWithUserID("GET", "/api/v1/games", "", "user-1", ""))
	if open := decodeBody[[]model.Game](t, w); len(open) != 1 || open[0].Name != "Open" {
		t.Errorf("expected the one open game, got %+v", open)
	}

	w = httptest.NewRecorder()
	s.gameH.ListGames(w, reqWithUserID("GET", "/api/v1/games?filter=active", "", "user-1", ""))
	if active := decodeBody[[]model.Game](t, w); len(active) != 1 || active[0].ID != started {
		t.Errorf("expected the started game, got %+v", active)
	}

	w = httptest.NewRecorder()
	s.gameH.ListGames(w, reqWithUserID("GET", "/api/v1/games?filter=finished", "", "user-1", ""))
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("expected an empty array, got %s", w.Body.String())
	}
	w = httptest.NewRecorder()
	s.gameH.ListGames(w, reqWithUserID("GET", "/api/v1/games?filter=everything", "", "user-1", ""))
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown filter: expected 400, got %d", w.Code)
	}
}

func TestGetGame(t *testing.T) {
	s := newTestServer(t)
	id := s.createGame(t, `{"name":"Lookup"}`)

	w := httptest.NewRecorder()
	s.gameH.GetGame(w, reqWithUserID("GET", "/api/v1/games/"+id, "", "user-1", id))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if game := decodeBody[model.Game](t, w); game.ID != id {
		t.Errorf("expected game %s, got %s", id, game.ID)
	}

	w = httptest.NewRecorder()
	s.gameH.GetGame(w, reqWithUserID("GET", "/api/v1/games/nope", "", "user-1", "nope"))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestJoinGame(t *testing.T) {
	s := newTestServer(t)
	id := s.createGame(t, `{"name":"Lobby","max_players":2}`)

	tests := []struct {
		name   string
		userID string
		want   int
	}{
		{"joins", "user-2", http.StatusOK},
		{"already joined", "user-2", http.StatusBadRequest},
		{"game full", "user-3", http.StatusBadRequest},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		s.gameH.JoinGame(w, reqWithUserID("POST", "/api/v1/games/"+id+"/join", "", tt.userID, id))
		if w.Code != tt.want {
			t.Errorf("%s: expected %d, got %d: %s", tt.name, tt.want, w.Code, w.Body.String())
		}
	}
}

func TestAddBot(t *testing.T) {
	s := newTestServer(t)
	id := s.createGame(t, `{"name":"Bots","max_players":3}`)

	w := httptest.NewRecorder()
	s.gameH.AddBot(w, reqWithUserID("POST", "/api/v1/games/"+id+"/bots", "", "user-2", id))
	if w.Code != http.StatusForbidden {
		t.Errorf("non-creator: expected 403, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	s.gameH.AddBot(w, reqWithUserID("POST", "/api/v1/games/"+id+"/bots", "", "user-1", id))
	if w.Code != http.StatusOK {
		t.Fatalf("creator: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if n, _ := s.games.PlayerCount(context.Background(), id); n != 2 {
		t.Errorf("expected 2 seats taken, got %d", n)
	}
}

func TestStartGame(t *testing.T) {
	s := newTestServer(t)
	id := s.createGame(t, `{"name":"Start","max_players":2}`)

	w := httptest.NewRecorder()
	s.gameH.StartGame(w, reqWithUserID("POST", "/api/v1/games/"+id+"/start", "", "user-1", id))
	if w.Code != http.StatusBadRequest {
		t.Errorf("alone: expected 400, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	s.gameH.GetState(w, reqWithUserID("GET", "/api/v1/games/"+id+"/state", "", "user-1", id))
	if w.Code != http.StatusNotFound {
		t.Errorf("state before start: expected 404, got %d", w.Code)
	}

	s.gameH.JoinGame(httptest.NewRecorder(), reqWithUserID("POST", "/api/v1/games/"+id+"/join", "", "user-2", id))

	w = httptest.NewRecorder()
	s.gameH.StartGame(w, reqWithUserID("POST", "/api/v1/games/"+id+"/start", "", "user-2", id))
	if w.Code != http.StatusForbidden {
		t.Errorf("non-creator: expected 403, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	s.gameH.StartGame(w, reqWithUserID("POST", "/api/v1/games/"+id+"/start", "", "user-1", id))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if game := decodeBody[model.Game](t, w); game.Status != model.GameActive {
		t.Errorf("expected active, got %s", game.Status)
	}

	snap := s.state(t, id)
	if snap.Version != 1 || snap.Status != conflict.StatusActive || len(snap.Players) != 2 {
		t.Errorf("unexpected opening snapshot: version %d status %s players %d", snap.Version, snap.Status, len(snap.Players))
	}
	if snap.GameState == nil || len(snap.GameState.RegionsOwnedBy(0)) == 0 {
		t.Error("expected slot 0 to start with a home region")
	}

	w = httptest.NewRecorder()
	s.gameH.StartGame(w, reqWithUserID("POST", "/api/v1/games/"+id+"/start", "", "user-1", id))
	if w.Code != http.StatusConflict {
		t.Errorf("second start: expected 409, got %d", w.Code)
	}
}

func TestStopGame(t *testing.T) {
	s := newTestServer(t)
	id := s.startedGame(t)

	w := httptest.NewRecorder()
	s.gameH.StopGame(w, reqWithUserID("POST", "/api/v1/games/"+id+"/stop", "", "user-2", id))
	if w.Code != http.StatusForbidden {
		t.Errorf("non-creator: expected 403, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	s.gameH.StopGame(w, reqWithUserID("POST", "/api/v1/games/"+id+"/stop", "", "user-1", id))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if game := decodeBody[model.Game](t, w); game.Status != model.GameCompleted {
		t.Errorf("expected completed, got %s", game.Status)
	}
	if snap := s.state(t, id); snap.GameState.EndResult == nil || !snap.GameState.EndResult.Drawn {
		t.Errorf("expected a drawn end result, got %+v", snap.GameState.EndResult)
	}

	w = httptest.NewRecorder()
	s.gameH.StopGame(w, reqWithUserID("POST", "/api/v1/games/"+id+"/stop", "", "user-1", id))
	if w.Code != http.StatusConflict {
		t.Errorf("stopping twice: expected 409, got %d", w.Code)
	}
}

func TestDeleteGame(t *testing.T) {
	s := newTestServer(t)
	id := s.createGame(t, `{"name":"Doomed"}`)

	w := httptest.NewRecorder()
	s.gameH.DeleteGame(w, reqWithUserID("DELETE", "/api/v1/games/"+id, "", "user-2", id))
	if w.Code != http.StatusForbidden {
		t.Errorf("non-creator: expected 403, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	s.gameH.DeleteGame(w, reqWithUserID("DELETE", "/api/v1/games/"+id, "", "user-1", id))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	s.gameH.GetGame(w, reqWithUserID("GET", "/api/v1/games/"+id, "", "user-1", id))
	if w.Code != http.StatusNotFound {
		t.Errorf("deleted game: expected 404, got %d", w.Code)
	}

	started := s.startedGame(t)
	w = httptest.NewRecorder()
	s.gameH.DeleteGame(w, reqWithUserID("DELETE", "/api/v1/games/"+started, "", "user-1", started))
	if w.Code != http.StatusConflict {
		t.Errorf("started game: expected 409, got %d", w.Code)
	}
}

// --- Command Handler Tests ---

func TestSubmitCommandAccepted(t *testing.T) {
	s := newTestServer(t)
	id := s.startedGame(t)

	w := httptest.NewRecorder()
	body := `{"type":"END_TURN","playerSlotIndex":0}`
	s.commandH.SubmitCommand(w, reqWithUserID("POST", "/api/v1/games/"+id+"/commands", body, "user-1", id))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	out := decodeBody[service.CommandOutcome](t, w)
	if !out.Result.Success || out.Version != 2 {
		t.Errorf("unexpected outcome %+v", out)
	}
	if snap := s.state(t, id); snap.GameState.CurrentPlayerSlot != 1 {
		t.Errorf("expected slot 1 to move, got %d", snap.GameState.CurrentPlayerSlot)
	}

	w = httptest.NewRecorder()
	s.commandH.ListCommands(w, reqWithUserID("GET", "/api/v1/games/"+id+"/commands", "", "user-1", id))
	recs := decodeBody[[]model.CommandRecord](t, w)
	if len(recs) != 1 || recs[0].CommandType != string(conflict.CommandEndTurn) {
		t.Errorf("expected one END_TURN record, got %+v", recs)
	}
}

func TestSubmitCommandRejected(t *testing.T) {
	s := newTestServer(t)
	id := s.startedGame(t)
	snap := s.state(t, id)

	theirs := snap.GameState.RegionsOwnedBy(1)[0]
	raw, err := conflict.Serialize(conflict.ArmyMove{
		Player:      0,
		Source:      theirs,
		Destination: snap.Regions[theirs].Neighbors[0],
		Count:       1,
	})
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	w := httptest.NewRecorder()
	s.commandH.SubmitCommand(w, reqWithUserID("POST", "/api/v1/games/"+id+"/commands", string(raw), "user-1", id))
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
	out := decodeBody[service.CommandOutcome](t, w)
	if out.Result.Success || len(out.Result.Errors) == 0 {
		t.Errorf("expected violations, got %+v", out.Result)
	}
	if after := s.state(t, id); after.Version != snap.Version {
		t.Errorf("rejected command changed version %d -> %d", snap.Version, after.Version)
	}
}

func TestSubmitCommandRefused(t *testing.T) {
	s := newTestServer(t)
	id := s.startedGame(t)
	pending := s.createGame(t, `{"name":"Pending"}`)

	tests := []struct {
		name   string
		gameID string
		userID string
		body   string
		want   int
	}{
		{"malformed", id, "user-1", `{"type":`, http.StatusBadRequest},
		{"unknown type", id, "user-1", `{"type":"SURRENDER","playerSlotIndex":0}`, http.StatusBadRequest},
		{"another slot", id, "user-1", `{"type":"END_TURN","playerSlotIndex":1}`, http.StatusForbidden},
		{"not seated", id, "user-9", `{"type":"END_TURN","playerSlotIndex":0}`, http.StatusForbidden},
		{"unknown game", "nope", "user-1", `{"type":"END_TURN","playerSlotIndex":0}`, http.StatusNotFound},
		{"not started", pending, "user-1", `{"type":"END_TURN","playerSlotIndex":0}`, http.StatusConflict},
		{"oversized", id, "user-1", `{"type":"END_TURN","pad":"` + strings.Repeat("x", maxCommandBytes) + `"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			s.commandH.SubmitCommand(w, reqWithUserID("POST", "/api/v1/games/"+tt.gameID+"/commands", tt.body, tt.userID, tt.gameID))
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestListCommandsEmpty(t *testing.T) {
	s := newTestServer(t)
	id := s.startedGame(t)

	w := httptest.NewRecorder()
	s.commandH.ListCommands(w, reqWithUserID("GET", "/api/v1/games/"+id+"/commands", "", "user-1", id))
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("expected 200 with [], got %d %s", w.Code, w.Body.String())
	}
}

func TestVerifyGame(t *testing.T) {
	s := newTestServer(t)
	id := s.startedGame(t)
	for _, step := range []struct {
		user string
		slot int
	}{{"user-1", 0}, {"user-2", 1}, {"user-1", 0}} {
		w := httptest.NewRecorder()
		body := fmt.Sprintf(`{"type":"END_TURN","playerSlotIndex":%d}`, step.slot)
		s.commandH.SubmitCommand(w, reqWithUserID("POST", "/api/v1/games/"+id+"/commands", body, step.user, id))
		if w.Code != http.StatusOK {
			t.Fatalf("end turn for slot %d: %d %s", step.slot, w.Code, w.Body.String())
		}
	}

	w := httptest.NewRecorder()
	s.commandH.VerifyGame(w, reqWithUserID("GET", "/api/v1/games/"+id+"/verify", "", "user-1", id))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeBody[map[string]any](t, w)
	if resp["verified"] != true || resp["commands"] != float64(3) {
		t.Errorf("unexpected verify response %v", resp)
	}

	w = httptest.NewRecorder()
	s.commandH.VerifyGame(w, reqWithUserID("GET", "/api/v1/games/nope/verify", "", "user-1", "nope"))
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown game: expected 404, got %d", w.Code)
	}
}

// --- Auth Handler Tests ---

func TestDevLogin(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.authH.DevLogin(w, httptest.NewRequest("POST", "/auth/dev?name=alice", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	tokens := decodeBody[auth.TokenPair](t, w)
	claims, err := s.jwtMgr.ValidateAccessToken(tokens.AccessToken)
	if err != nil {
		t.Fatalf("validate access token: %v", err)
	}
	if u, _ := s.users.FindByID(context.Background(), claims.UserID); u == nil || u.DisplayName != "alice" {
		t.Errorf("expected alice to be created, got %+v", u)
	}

	// Names differing only in case sign into the same account.
	w = httptest.NewRecorder()
	s.authH.DevLogin(w, httptest.NewRequest("POST", "/auth/dev?name=Alice", nil))
	again, err := s.jwtMgr.ValidateAccessToken(decodeBody[auth.TokenPair](t, w).AccessToken)
	if err != nil || again.UserID != claims.UserID {
		t.Errorf("expected the same account, got %v (%v)", again, err)
	}

	for _, q := range []string{"", "?name=", "?name=" + strings.Repeat("x", maxDisplayName+1)} {
		w = httptest.NewRecorder()
		s.authH.DevLogin(w, httptest.NewRequest("POST", "/auth/dev"+q, nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("%q: expected 400, got %d", q, w.Code)
		}
	}

	off := NewAuthHandler(s.jwtMgr, s.users, false)
	w = httptest.NewRecorder()
	off.DevLogin(w, httptest.NewRequest("POST", "/auth/dev?name=alice", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("dev mode off: expected 404, got %d", w.Code)
	}
}

func TestRefreshToken(t *testing.T) {
	s := newTestServer(t)
	u, _ := s.users.Upsert(context.Background(), "dev", "dev-carol", "carol", "")
	pair, err := s.jwtMgr.GenerateTokenPair(u.ID)
	if err != nil {
		t.Fatalf("GenerateTokenPair: %v", err)
	}

	body, _ := json.Marshal(map[string]string{"refresh_token": pair.RefreshToken})
	w := httptest.NewRecorder()
	s.authH.RefreshToken(w, httptest.NewRequest("POST", "/auth/refresh", bytes.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if decodeBody[auth.TokenPair](t, w).AccessToken == "" {
		t.Error("expected a new access token")
	}

	w = httptest.NewRecorder()
	s.authH.RefreshToken(w, httptest.NewRequest("POST", "/auth/refresh", strings.NewReader(`{"refresh_token":"garbage"}`)))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad token: expected 401, got %d", w.Code)
	}

	body, _ = json.Marshal(map[string]string{"refresh_token": pair.AccessToken})
	w = httptest.NewRecorder()
	s.authH.RefreshToken(w, httptest.NewRequest("POST", "/auth/refresh", bytes.NewReader(body)))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("access token as refresh: expected 401, got %d", w.Code)
	}

	orphan, _ := s.jwtMgr.GenerateRefreshToken("deleted-user")
	body, _ = json.Marshal(map[string]string{"refresh_token": orphan})
	w = httptest.NewRecorder()
	s.authH.RefreshToken(w, httptest.NewRequest("POST", "/auth/refresh", bytes.NewReader(body)))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unknown user: expected 401, got %d", w.Code)
	}
}

func TestGetAndUpdateMe(t *testing.T) {
	s := newTestServer(t)
	u, _ := s.users.Upsert(context.Background(), "dev", "dev-bob", "bob", "")

	w := httptest.NewRecorder()
	s.authH.GetMe(w, reqWithUserID("GET", "/api/v1/users/me", "", u.ID, ""))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := decodeBody[model.User](t, w); got.ID != u.ID {
		t.Errorf("expected %s, got %s", u.ID, got.ID)
	}

	w = httptest.NewRecorder()
	s.authH.UpdateMe(w, reqWithUserID("PATCH", "/api/v1/users/me", `{"display_name":"  Robert  "}`, u.ID, ""))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := decodeBody[model.User](t, w); got.DisplayName != "Robert" {
		t.Errorf("expected trimmed name, got %q", got.DisplayName)
	}

	w = httptest.NewRecorder()
	s.authH.UpdateMe(w, reqWithUserID("PATCH", "/api/v1/users/me", `{"display_name":"   "}`, u.ID, ""))
	if w.Code != http.StatusBadRequest {
		t.Errorf("blank name: expected 400, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	s.authH.UpdateMe(w, reqWithUserID("PATCH", "/api/v1/users/me", `{"display_name":"tab\tname"}`, u.ID, ""))
	if w.Code != http.StatusBadRequest {
		t.Errorf("control character: expected 400, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	s.authH.UpdateMe(w, reqWithUserID("PATCH", "/api/v1/users/me", `{"display_name":"Ghost"}`, "ghost", ""))
	if w.Code != http.StatusNotFound {
		t.Errorf("update unknown user: expected 404, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	s.authH.GetMe(w, reqWithUserID("GET", "/api/v1/users/me", "", "ghost", ""))
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown user: expected 404, got %d", w.Code)
	}
}

// --- WebSocket Handler Tests ---

func TestWSHandlerSendsSnapshotOnSubscribe(t *testing.T) {
	s := newTestServer(t)
	id := s.startedGame(t)
	hub := NewHub()
	h := NewWSHandler(hub, s.jwtMgr, s.gameH.gameSvc)

	c := newTestConn("user-1")
	hub.Register(c)
	defer hub.Unregister(c)

	h.handleMessage(context.Background(), c, ClientMessage{Action: "subscribe", GameID: id})
	if hub.GameSubscriberCount(id) != 1 {
		t.Fatalf("expected 1 subscriber, got %d", hub.GameSubscriberCount(id))
	}
	if ev := receive(t, c); ev.Type != EventSnapshot || ev.GameID != id {
		t.Errorf("expected a snapshot event, got %+v", ev)
	}

	// A lobby without a snapshot subscribes silently.
	pending := s.createGame(t, `{"name":"Lobby"}`)
	h.handleMessage(context.Background(), c, ClientMessage{Action: "subscribe", GameID: pending})
	select {
	case msg := <-c.send:
		t.Errorf("expected no event for a pending game, got %s", msg)
	default:
	}

	h.handleMessage(context.Background(), c, ClientMessage{Action: "unsubscribe", GameID: id})
	if hub.GameSubscriberCount(id) != 0 {
		t.Errorf("expected 0 subscribers after unsubscribe")
	}
}

func TestServeWSRequiresToken(t *testing.T) {
	s := newTestServer(t)
	h := NewWSHandler(NewHub(), s.jwtMgr, nil)

	w := httptest.NewRecorder()
	h.ServeWS(w, httptest.NewRequest("GET", "/api/v1/ws", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("missing token: expected 401, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeWS(w, httptest.NewRequest("GET", "/api/v1/ws?token=bad", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad token: expected 401, got %d", w.Code)
	}
}

func TestWSHandlerRejectsBadMessages(t *testing.T) {
	s := newTestServer(t)
	hub := NewHub()
	h := NewWSHandler(hub, s.jwtMgr, nil)
	c := newTestConn("user-1")
	hub.Register(c)
	defer hub.Unregister(c)

	h.handleMessage(context.Background(), c, ClientMessage{Action: ActionSubscribe})
	if ev := receive(t, c); ev.Type != EventError {
		t.Errorf("missing game id: expected error event, got %+v", ev)
	}
	h.handleMessage(context.Background(), c, ClientMessage{Action: "launch", GameID: "g"})
	if ev := receive(t, c); ev.Type != EventError || ev.GameID != "g" {
		t.Errorf("unknown action: expected error event, got %+v", ev)
	}
}

func TestWSEndToEnd(t *testing.T) {
	s := newTestServer(t)
	id := s.startedGame(t)
	h := NewWSHandler(NewHub(), s.jwtMgr, s.gameH.gameSvc)
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()

	token, err := s.jwtMgr.GenerateAccessToken("user-1")
	if err != nil {
		t.Fatal(err)
	}
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var ev WSEvent
	if err := conn.ReadJSON(&ev); err != nil || ev.Type != EventConnected {
		t.Fatalf("expected connected event, got %+v (%v)", ev, err)
	}
	if err := conn.WriteJSON(ClientMessage{Action: ActionSubscribe, GameID: id}); err != nil {
		t.Fatalf("write: %v", err)
	}
	ev = WSEvent{}
	if err := conn.ReadJSON(&ev); err != nil || ev.Type != EventSnapshot || ev.GameID != id {
		t.Fatalf("expected snapshot event, got %+v (%v)", ev, err)
	}
}

func TestWSOriginCheck(t *testing.T) {
	h := NewWSHandler(NewHub(), auth.NewJWTManager("s"), nil)
	h.AllowOrigins("https://play.example")

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://play.example", true},
		{"https://evil.example", false},
		{"http://example.com", true}, // same host as the request
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "http://example.com/api/v1/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := h.upgrader.CheckOrigin(r); got != tt.want {
			t.Errorf("origin %q: got %v, want %v", tt.origin, got, tt.want)
		}
	}
}
