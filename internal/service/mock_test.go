package service

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/freeeve/world-conflict/internal/model"
	"github.com/freeeve/world-conflict/internal/repository"
)

// mockGameRepo implements repository.GameRepository for testing.
type mockGameRepo struct {
	mu      sync.Mutex
	games   map[string]*model.Game
	players map[string][]model.GamePlayer
	names   map[string]string // userID -> display name

	failSetActive int // SetActive calls left to fail
}

func newMockGameRepo() *mockGameRepo {
	return &mockGameRepo{
		games:   make(map[string]*model.Game),
		players: make(map[string][]model.GamePlayer),
		names:   make(map[string]string),
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

func (m *mockGameRepo) listByStatus(status string) []model.Game {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.Game
	for _, g := range m.games {
		if g.Status == status {
			cp := *g
			cp.Players = slices.Clone(m.players[g.ID])
			result = append(result, cp)
		}
	}
	slices.SortFunc(result, func(a, b model.Game) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return result
}

func (m *mockGameRepo) ListOpen(_ context.Context) ([]model.Game, error) {
	return m.listByStatus(model.GamePending), nil
}

func (m *mockGameRepo) ListActive(_ context.Context) ([]model.Game, error) {
	return m.listByStatus(model.GameActive), nil
}

func (m *mockGameRepo) ListFinished(_ context.Context) ([]model.Game, error) {
	return m.listByStatus(model.GameCompleted), nil
}

func (m *mockGameRepo) ListByUser(_ context.Context, userID string) ([]model.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.Game
	for _, g := range m.games {
		mine := g.CreatorID == userID
		for _, p := range m.players[g.ID] {
			if p.UserID == userID {
				mine = true
			}
		}
		if mine {
			result = append(result, *g)
		}
	}
	return result, nil
}

func (m *mockGameRepo) join(gameID, userID string, slot int, isBot bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.players[gameID] {
		if p.UserID == userID {
			return nil
		}
		if p.Slot == slot {
			return fmt.Errorf("slot %d taken", slot)
		}
	}
	name := m.names[userID]
	if name == "" {
		name = userID
	}
	m.players[gameID] = append(m.players[gameID], model.GamePlayer{
		GameID:      gameID,
		UserID:      userID,
		DisplayName: name,
		Slot:        slot,
		IsBot:       isBot,
		JoinedAt:    time.Now(),
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
	if m.failSetActive > 0 {
		m.failSetActive--
		return fmt.Errorf("set active %s: connection reset", gameID)
	}
	if g, ok := m.games[gameID]; ok && g.Status == model.GamePending {
		g.Status = model.GameActive
		now := time.Now()
		g.StartedAt = &now
	}
	return nil
}

func (m *mockGameRepo) SetFinished(_ context.Context, gameID, winner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.games[gameID]; ok {
		g.Status = model.GameCompleted
		g.Winner = winner
		now := time.Now()
		g.FinishedAt = &now
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

// mockUserRepo implements repository.UserRepository for testing.
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
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return u, nil
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
		ID:          fmt.Sprintf("bot-user-%d", m.seq),
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
	if u, ok := m.users[id]; ok {
		u.DisplayName = displayName
	}
	return nil
}

// memSnapshots is an in-memory repository.SnapshotStore. conflicts makes
// that many upcoming conditional writes fail as if another writer won.
type memSnapshots struct {
	mu        sync.Mutex
	data      map[string][]byte
	versions  map[string]int64
	conflicts int
	puts      int
}

func newMemSnapshots() *memSnapshots {
	return &memSnapshots{data: make(map[string][]byte), versions: make(map[string]int64)}
}

func (m *memSnapshots) Get(_ context.Context, gameID string) ([]byte, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[gameID]
	if !ok {
		return nil, 0, repository.ErrNotFound
	}
	return slices.Clone(data), m.versions[gameID], nil
}

func (m *memSnapshots) Put(_ context.Context, gameID string, data []byte, expected int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if expected != repository.AnyVersion && m.conflicts > 0 {
		m.conflicts--
		return 0, repository.ErrVersionConflict
	}
	current := m.versions[gameID]
	if expected != repository.AnyVersion && current != expected {
		return 0, repository.ErrVersionConflict
	}
	m.puts++
	m.data[gameID] = slices.Clone(data)
	m.versions[gameID] = current + 1
	return current + 1, nil
}

func (m *memSnapshots) Delete(_ context.Context, gameID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, gameID)
	delete(m.versions, gameID)
	return nil
}

func (m *memSnapshots) List(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id := range m.data {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// mockCommandLog implements repository.CommandLog for testing.
type mockCommandLog struct {
	mu      sync.Mutex
	records []model.CommandRecord

	failAppend int // Append calls left to fail
}

func (m *mockCommandLog) Append(_ context.Context, rec *model.CommandRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAppend > 0 {
		m.failAppend--
		return fmt.Errorf("append %s: connection reset", rec.GameID)
	}
	rec.ID = fmt.Sprintf("cmd-%d", len(m.records)+1)
	rec.CreatedAt = time.Now()
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

// mockTimer implements repository.TurnTimer for testing.
type mockTimer struct {
	mu        sync.Mutex
	deadlines map[string]time.Time
	cleared   []string
}

func newMockTimer() *mockTimer {
	return &mockTimer{deadlines: make(map[string]time.Time)}
}

func (m *mockTimer) SetTimer(_ context.Context, gameID string, deadline time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadlines[gameID] = deadline
	return nil
}

func (m *mockTimer) ClearTimer(_ context.Context, gameID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.deadlines, gameID)
	m.cleared = append(m.cleared, gameID)
	return nil
}

// recordingBroadcaster keeps the type of every event sent.
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (b *recordingBroadcaster) BroadcastGameEvent(_ string, eventType string, _ any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, eventType)
}

func (b *recordingBroadcaster) count(eventType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e == eventType {
			n++
		}
	}
	return n
}
