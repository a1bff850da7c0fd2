package conflict

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
)

const (
	StartingSoldiers      = 4
	StartingFaith         = 10
	NeutralTempleGarrison = 3
)

// pcgStream is mixed into the seed to derive the second PCG word.
const pcgStream = 0x9e3779b97f4a7c15

// ErrNoRandomSource is returned for states that were never seeded.
var ErrNoRandomSource = errors.New("game state has no random source")

// NewRandSource returns the PCG source a game with the given seed uses for
// both map generation and play.
func NewRandSource(seed uint64) *rand.PCG {
	return rand.NewPCG(seed, seed^pcgStream)
}

// randSource restores the PCG persisted in gs.
func (gs *GameState) randSource() (*rand.PCG, error) {
	if len(gs.RandState) == 0 {
		return nil, ErrNoRandomSource
	}
	src := &rand.PCG{}
	if err := src.UnmarshalBinary(gs.RandState); err != nil {
		return nil, fmt.Errorf("restore random source: %w", err)
	}
	return src, nil
}

func (gs *GameState) saveRandSource(src *rand.PCG) error {
	data, err := src.MarshalBinary()
	if err != nil {
		return fmt.Errorf("save random source: %w", err)
	}
	gs.RandState = data
	return nil
}

// GameOptions tunes NewGame.
type GameOptions struct {
	// MaxTurns ends the game by score after that many rounds. 0 is unlimited.
	MaxTurns int
}

// NewGame seats players on regions and returns the opening state. Each player
// receives a home temple, picked so that homes are spread as far apart as the
// graph allows. src continues to drive the game and is stored in the state.
func NewGame(regions []Region, players []Player, opts GameOptions, src *rand.PCG) (*GameState, error) {
	if len(players) < MinPlayers || len(players) > MaxPlayers {
		return nil, fmt.Errorf("need %d to %d players, got %d", MinPlayers, MaxPlayers, len(players))
	}
	seated := slices.Clone(players)
	slices.SortFunc(seated, func(a, b Player) int { return a.Slot - b.Slot })
	for i, p := range seated {
		if p.Slot < 0 {
			return nil, fmt.Errorf("negative slot %d", p.Slot)
		}
		if i > 0 && seated[i-1].Slot == p.Slot {
			return nil, fmt.Errorf("duplicate slot %d", p.Slot)
		}
		if p.Color == "" {
			seated[i].Color = ColorForSlot(p.Slot)
		}
	}
	if n := TempleCount(regions); n < len(seated) {
		return nil, fmt.Errorf("map has %d temples for %d players", n, len(seated))
	}
	if opts.MaxTurns < 0 {
		return nil, fmt.Errorf("negative turn limit %d", opts.MaxTurns)
	}

	rng := rand.New(src)
	gs := &GameState{
		Players:          seated,
		Owners:           make(map[int]int),
		Soldiers:         make(map[int][]Soldier),
		Temples:          make(map[int]Temple),
		Faith:            make(map[int]int),
		TurnNumber:       1,
		ConqueredRegions: []int{},
		Eliminated:       []int{},
		MaxTurns:         opts.MaxTurns,
	}
	for _, r := range regions {
		if r.HasTemple {
			gs.SetTemple(Temple{RegionIndex: r.Index})
		}
	}

	homes := pickHomes(regions, len(seated), rng)
	for i, p := range seated {
		gs.SetOwner(homes[i], p.Slot)
		gs.AddSoldiers(homes[i], StartingSoldiers)
		gs.Faith[p.Slot] = StartingFaith
	}
	for _, r := range regions {
		if r.HasTemple && gs.OwnerOf(r.Index) == Neutral {
			gs.AddSoldiers(r.Index, NeutralTempleGarrison)
		}
	}

	gs.CurrentPlayerSlot = seated[0].Slot
	gs.MovesRemaining = gs.MovesPerTurn(gs.CurrentPlayerSlot)
	if err := gs.saveRandSource(src); err != nil {
		return nil, err
	}
	return gs, nil
}

// pickHomes returns n temple regions: a random first pick, then repeatedly
// the temple whose graph distance to the nearest pick is largest, lowest
// index on ties.
func pickHomes(regions []Region, n int, rng *rand.Rand) []int {
	var temples []int
	for _, r := range regions {
		if r.HasTemple {
			temples = append(temples, r.Index)
		}
	}
	homes := []int{temples[rng.IntN(len(temples))]}

	nearest := Distances(regions, homes[0])
	for len(homes) < n {
		best, bestDist := -1, -1
		for _, t := range temples {
			if slices.Contains(homes, t) {
				continue
			}
			if nearest[t] > bestDist {
				best, bestDist = t, nearest[t]
			}
		}
		homes = append(homes, best)
		for i, d := range Distances(regions, best) {
			nearest[i] = min(nearest[i], d)
		}
	}
	return homes
}

// Distances returns the hop count from region from to every region.
// Unreachable regions get len(regions).
func Distances(regions []Region, from int) []int {
	dist := make([]int, len(regions))
	for i := range dist {
		dist[i] = len(regions)
	}
	dist[from] = 0
	queue := []int{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, n := range regions[cur].Neighbors {
			if dist[n] > dist[cur]+1 {
				dist[n] = dist[cur] + 1
				queue = append(queue, n)
			}
		}
	}
	return dist
}
