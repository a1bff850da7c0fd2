package conflict

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Soldier is an interchangeable unit token. The id only lets a renderer
// follow individual units across moves.
type Soldier struct {
	ID int `json:"id"`
}

// Temple is the structure in a temple region. It has no owner of its own:
// whoever owns the region owns the temple.
type Temple struct {
	RegionIndex int          `json:"regionIndex"`
	Level       int          `json:"level"`
	Upgrade     UpgradeTrack `json:"upgradeIndex"`
}

// Strength returns the effect strength of the temple's active track.
func (t Temple) Strength() int {
	if !t.Upgrade.IsLevelled() {
		return 0
	}
	return t.Level + 1
}

// DrawnGame is the wire value of a drawn EndResult.
const DrawnGame = "DRAWN_GAME"

// EndResult is the terminal outcome of a game: a single winner or a draw.
type EndResult struct {
	Winner *Player
	Drawn  bool
}

func (r EndResult) MarshalJSON() ([]byte, error) {
	if r.Drawn || r.Winner == nil {
		return json.Marshal(DrawnGame)
	}
	return json.Marshal(r.Winner)
}

func (r *EndResult) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != DrawnGame {
			return fmt.Errorf("unknown end result %q", s)
		}
		*r = EndResult{Drawn: true}
		return nil
	}
	var p Player
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode end result: %w", err)
	}
	*r = EndResult{Winner: &p}
	return nil
}

// BaseMovesPerTurn is the move budget before Air upgrades.
const BaseMovesPerTurn = 3

// GameState is the versioned aggregate the commands operate on. Callers
// outside this package treat it as immutable; commands return new states.
type GameState struct {
	Players           []Player          `json:"players"`
	Owners            map[int]int       `json:"ownersByRegion"`
	Soldiers          map[int][]Soldier `json:"soldiersByRegion"`
	Temples           map[int]Temple    `json:"templesByRegion"`
	Faith             map[int]int       `json:"faithByPlayer"`
	CurrentPlayerSlot int               `json:"currentPlayerSlot"`
	MovesRemaining    int               `json:"movesRemaining"`
	TurnNumber        int               `json:"turnNumber"`
	ConqueredRegions  []int             `json:"conqueredRegions"`
	SoldiersBought    int               `json:"numBoughtSoldiers"`
	Eliminated        []int             `json:"eliminatedPlayers"`
	EndResult         *EndResult        `json:"endResult"`
	MaxTurns          int               `json:"maxTurns"`
	NextSoldierID     int               `json:"nextSoldierId"`
	RandState         []byte            `json:"randState,omitempty"`
}

// OwnerOf returns the slot owning region, or Neutral.
func (gs *GameState) OwnerOf(region int) int {
	if slot, ok := gs.Owners[region]; ok {
		return slot
	}
	return Neutral
}

// IsOwnedBy returns true if slot owns region.
func (gs *GameState) IsOwnedBy(region, slot int) bool {
	owner, ok := gs.Owners[region]
	return ok && owner == slot
}

// SoldierCountAt returns the number of soldiers stationed at region.
func (gs *GameState) SoldierCountAt(region int) int {
	return len(gs.Soldiers[region])
}

// SoldiersAt returns the stack at region. The slice must not be modified.
func (gs *GameState) SoldiersAt(region int) []Soldier {
	return gs.Soldiers[region]
}

// RegionsOwnedBy returns the regions owned by slot in ascending order.
func (gs *GameState) RegionsOwnedBy(slot int) []int {
	var out []int
	for region, owner := range gs.Owners {
		if owner == slot {
			out = append(out, region)
		}
	}
	slices.Sort(out)
	return out
}

// RegionCount returns the number of regions owned by slot.
func (gs *GameState) RegionCount(slot int) int {
	n := 0
	for _, owner := range gs.Owners {
		if owner == slot {
			n++
		}
	}
	return n
}

// TotalSoldiers returns the number of soldiers in regions owned by slot.
func (gs *GameState) TotalSoldiers(slot int) int {
	n := 0
	for region, owner := range gs.Owners {
		if owner == slot {
			n += len(gs.Soldiers[region])
		}
	}
	return n
}

// TempleAt returns the temple in region, if any.
func (gs *GameState) TempleAt(region int) (Temple, bool) {
	t, ok := gs.Temples[region]
	return t, ok
}

// UpgradeLevel returns the strongest track strength among temples owned by
// slot, or 0 when none of them carries track.
func (gs *GameState) UpgradeLevel(slot int, track UpgradeTrack) int {
	best := 0
	for region, t := range gs.Temples {
		if t.Upgrade != track || !gs.IsOwnedBy(region, slot) {
			continue
		}
		if s := t.Strength(); s > best {
			best = s
		}
	}
	return best
}

// FaithOf returns the spendable balance of slot.
func (gs *GameState) FaithOf(slot int) int {
	return gs.Faith[slot]
}

// Player returns the seat with the given slot.
func (gs *GameState) Player(slot int) (Player, bool) {
	for _, p := range gs.Players {
		if p.Slot == slot {
			return p, true
		}
	}
	return Player{}, false
}

// IsEliminated returns true if slot has been knocked out of the game.
func (gs *GameState) IsEliminated(slot int) bool {
	return slices.Contains(gs.Eliminated, slot)
}

// ActivePlayers returns the slots still in the game in ascending order.
func (gs *GameState) ActivePlayers() []int {
	var out []int
	for _, p := range gs.Players {
		if !gs.IsEliminated(p.Slot) {
			out = append(out, p.Slot)
		}
	}
	slices.Sort(out)
	return out
}

// IsConquered returns true if region changed hands during the current turn.
func (gs *GameState) IsConquered(region int) bool {
	return slices.Contains(gs.ConqueredRegions, region)
}

// IsOver returns true once an end result has been recorded.
func (gs *GameState) IsOver() bool {
	return gs.EndResult != nil
}

// MovesPerTurn returns the move budget slot receives at the start of a turn.
func (gs *GameState) MovesPerTurn(slot int) int {
	return BaseMovesPerTurn + gs.UpgradeLevel(slot, UpgradeAir)
}

// Score is used to rank players when the turn limit is reached.
func (gs *GameState) Score(slot int) int {
	return 1000*gs.RegionCount(slot) + gs.TotalSoldiers(slot)
}

// SetOwner assigns region to slot. Neutral clears the owner.
func (gs *GameState) SetOwner(region, slot int) {
	if slot == Neutral {
		delete(gs.Owners, region)
		return
	}
	gs.Owners[region] = slot
}

// AddSoldiers appends n freshly minted soldiers to the stack at region.
func (gs *GameState) AddSoldiers(region, n int) {
	for i := 0; i < n; i++ {
		gs.NextSoldierID++
		gs.Soldiers[region] = append(gs.Soldiers[region], Soldier{ID: gs.NextSoldierID})
	}
}

// PushSoldiers appends existing soldiers to the stack at region.
func (gs *GameState) PushSoldiers(region int, soldiers []Soldier) {
	if len(soldiers) == 0 {
		return
	}
	gs.Soldiers[region] = append(gs.Soldiers[region], soldiers...)
}

// RemoveSoldiers takes up to n soldiers from the end of the stack at region
// and returns them in stack order. It never removes more than are present.
func (gs *GameState) RemoveSoldiers(region, n int) []Soldier {
	stack := gs.Soldiers[region]
	if n > len(stack) {
		n = len(stack)
	}
	if n <= 0 {
		return nil
	}
	cut := len(stack) - n
	removed := slices.Clone(stack[cut:])
	if cut == 0 {
		delete(gs.Soldiers, region)
	} else {
		gs.Soldiers[region] = stack[:cut:cut]
	}
	return removed
}

// TransferSoldiers moves up to n soldiers from the end of one stack to the
// end of another and returns how many moved.
func (gs *GameState) TransferSoldiers(from, to, n int) int {
	moved := gs.RemoveSoldiers(from, n)
	gs.PushSoldiers(to, moved)
	return len(moved)
}

// SetTemple stores t under its region index.
func (gs *GameState) SetTemple(t Temple) {
	gs.Temples[t.RegionIndex] = t
}

// AdjustFaith adds delta to slot's balance, flooring the result at zero.
func (gs *GameState) AdjustFaith(slot, delta int) {
	v := gs.Faith[slot] + delta
	if v < 0 {
		v = 0
	}
	gs.Faith[slot] = v
}

// MarkConquered records region as captured this turn.
func (gs *GameState) MarkConquered(region int) {
	if !gs.IsConquered(region) {
		gs.ConqueredRegions = append(gs.ConqueredRegions, region)
	}
}

// MarkEliminated removes slot from turn rotation permanently.
func (gs *GameState) MarkEliminated(slot int) {
	if gs.IsEliminated(slot) {
		return
	}
	gs.Eliminated = append(gs.Eliminated, slot)
	slices.Sort(gs.Eliminated)
}

// NextActivePlayer returns the first active slot after the current one in
// slot order, and whether the rotation wrapped around to the lowest slot.
func (gs *GameState) NextActivePlayer() (slot int, wrapped bool, ok bool) {
	active := gs.ActivePlayers()
	if len(active) == 0 {
		return Neutral, false, false
	}
	for _, s := range active {
		if s > gs.CurrentPlayerSlot {
			return s, false, true
		}
	}
	return active[0], true, true
}

// AdvanceTurn hands the turn to the next active player, clearing the
// per-turn markers and refilling the move budget. It returns whether the
// rotation wrapped, in which case the turn number was incremented.
func (gs *GameState) AdvanceTurn() bool {
	next, wrapped, ok := gs.NextActivePlayer()
	if !ok {
		return false
	}
	gs.CurrentPlayerSlot = next
	if wrapped {
		gs.TurnNumber++
	}
	gs.ConqueredRegions = []int{}
	gs.SoldiersBought = 0
	gs.MovesRemaining = gs.MovesPerTurn(next)
	return wrapped
}

// Clone returns a structurally independent deep copy of gs.
func (gs *GameState) Clone() *GameState {
	c := *gs
	c.Players = slices.Clone(gs.Players)
	c.Owners = make(map[int]int, len(gs.Owners))
	for k, v := range gs.Owners {
		c.Owners[k] = v
	}
	c.Soldiers = make(map[int][]Soldier, len(gs.Soldiers))
	for k, v := range gs.Soldiers {
		c.Soldiers[k] = slices.Clone(v)
	}
	c.Temples = make(map[int]Temple, len(gs.Temples))
	for k, v := range gs.Temples {
		c.Temples[k] = v
	}
	c.Faith = make(map[int]int, len(gs.Faith))
	for k, v := range gs.Faith {
		c.Faith[k] = v
	}
	c.ConqueredRegions = slices.Clone(gs.ConqueredRegions)
	c.Eliminated = slices.Clone(gs.Eliminated)
	c.RandState = slices.Clone(gs.RandState)
	if gs.EndResult != nil {
		r := *gs.EndResult
		if r.Winner != nil {
			w := *r.Winner
			r.Winner = &w
		}
		c.EndResult = &r
	}
	return &c
}

// ToJSON encodes gs in its persisted wire format.
func (gs *GameState) ToJSON() ([]byte, error) {
	return json.Marshal(gs)
}

// FromJSON decodes a state produced by ToJSON.
func FromJSON(data []byte) (*GameState, error) {
	var gs GameState
	if err := json.Unmarshal(data, &gs); err != nil {
		return nil, fmt.Errorf("decode game state: %w", err)
	}
	if gs.Owners == nil {
		gs.Owners = make(map[int]int)
	}
	if gs.Soldiers == nil {
		gs.Soldiers = make(map[int][]Soldier)
	}
	if gs.Temples == nil {
		gs.Temples = make(map[int]Temple)
	}
	if gs.Faith == nil {
		gs.Faith = make(map[int]int)
	}
	if gs.ConqueredRegions == nil {
		gs.ConqueredRegions = []int{}
	}
	if gs.Eliminated == nil {
		gs.Eliminated = []int{}
	}
	return &gs, nil
}

// CheckInvariants verifies the structural invariants of gs against the
// region graph. It is meant for tests and for validating loaded snapshots.
func (gs *GameState) CheckInvariants(regions []Region) error {
	n := len(regions)
	for r := range gs.Owners {
		if r < 0 || r >= n {
			return fmt.Errorf("owner entry for unknown region %d", r)
		}
	}
	for r := range gs.Soldiers {
		if r < 0 || r >= n {
			return fmt.Errorf("soldier entry for unknown region %d", r)
		}
	}
	for r, t := range gs.Temples {
		if r < 0 || r >= n || !regions[r].HasTemple {
			return fmt.Errorf("temple entry for non-temple region %d", r)
		}
		if t.RegionIndex != r {
			return fmt.Errorf("temple at %d claims region %d", r, t.RegionIndex)
		}
	}
	if gs.MovesRemaining < 0 {
		return fmt.Errorf("negative moves remaining: %d", gs.MovesRemaining)
	}
	if !gs.IsOver() && gs.IsEliminated(gs.CurrentPlayerSlot) {
		return fmt.Errorf("current player %d is eliminated", gs.CurrentPlayerSlot)
	}
	return nil
}
