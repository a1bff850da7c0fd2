package conflict

// Region is a node in the territory graph. Regions are immutable once the
// map generator returns them.
type Region struct {
	Index     int     `json:"index"`
	Neighbors []int   `json:"neighbors"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	HasTemple bool    `json:"hasTemple"`
}

// IsNeighbor returns true if other is directly adjacent to r.
func (r *Region) IsNeighbor(other int) bool {
	for _, n := range r.Neighbors {
		if n == other {
			return true
		}
	}
	return false
}

// Player occupies a seat in the game. Slot is the stable identity used
// everywhere in state; array position carries no meaning.
type Player struct {
	Slot  int    `json:"slotIndex"`
	Name  string `json:"name"`
	Color string `json:"color"`
	IsAI  bool   `json:"isAI"`
}

// Neutral is the owner value reported for unowned regions.
const Neutral = -1

// MaxPlayers is the largest number of seats a game supports.
const MaxPlayers = 6

// MinPlayers is the smallest number of seats a game supports.
const MinPlayers = 2

// PlayerColors are assigned to seats in slot order.
var PlayerColors = []string{"#e03030", "#3070e0", "#30b040", "#e0b020", "#a040c0", "#20b0b0"}

// ColorForSlot returns the display color for a seat.
func ColorForSlot(slot int) string {
	if slot < 0 {
		return "#808080"
	}
	return PlayerColors[slot%len(PlayerColors)]
}
