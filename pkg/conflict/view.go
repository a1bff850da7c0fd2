package conflict

// View is the read-only slice of a game an AI player is allowed to see.
type View interface {
	RegionsOwnedBy(slot int) []int
	SoldierCountAt(region int) int
	NeighborsOf(region int) []int
	OwnerOf(region int) int
}

type boardView struct {
	gs      *GameState
	regions []Region
}

// NewView wraps gs and its graph. The view does not copy gs, so the caller
// must not mutate it while the view is in use.
func NewView(gs *GameState, regions []Region) View {
	return boardView{gs: gs, regions: regions}
}

func (v boardView) RegionsOwnedBy(slot int) []int { return v.gs.RegionsOwnedBy(slot) }
func (v boardView) SoldierCountAt(region int) int  { return v.gs.SoldierCountAt(region) }
func (v boardView) OwnerOf(region int) int         { return v.gs.OwnerOf(region) }

func (v boardView) NeighborsOf(region int) []int {
	if region < 0 || region >= len(v.regions) {
		return nil
	}
	return v.regions[region].Neighbors
}
