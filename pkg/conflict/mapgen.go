package conflict

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
)

// MapSize selects the grid dimensions and region target of a generated map.
type MapSize string

const (
	Small  MapSize = "small"
	Medium MapSize = "medium"
	Large  MapSize = "large"
)

// ParseMapSize accepts a size name in any letter case.
func ParseMapSize(s string) (MapSize, error) {
	switch MapSize(strings.ToLower(strings.TrimSpace(s))) {
	case Small:
		return Small, nil
	case Medium, "":
		return Medium, nil
	case Large:
		return Large, nil
	}
	return "", fmt.Errorf("unknown map size %q", s)
}

// MapConfig is the input of GenerateMap.
type MapConfig struct {
	Size        MapSize `json:"size"`
	PlayerCount int     `json:"playerCount"`
}

type sizeParams struct {
	width, height int
	regions       int
}

var sizeTable = map[MapSize]sizeParams{
	Small:  {width: 24, height: 24, regions: 14},
	Medium: {width: 32, height: 32, regions: 22},
	Large:  {width: 40, height: 40, regions: 32},
}

const (
	// MinRegions guarantees at least one neutral region at full occupancy.
	MinRegions = MaxPlayers + 1
	// GenerationAttempts bounds the number of full regeneration passes.
	GenerationAttempts = 8
	// TempleChance is the probability of organic temple placement per region.
	TempleChance = 0.35

	minRegionArea = 2
	minSide       = 2
	maxSide       = 5
	boundsMinSide = 4
	boundsMaxSide = 6
)

// ErrGeneration is wrapped by every GenerationError.
var ErrGeneration = errors.New("map generation failed")

// GenerationError reports a map that could not satisfy the minimum region
// and temple counts. Callers should offer a larger size or fewer players.
type GenerationError struct {
	Config   MapConfig
	Attempts int
	Reason   string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate %s map for %d players: %s after %d attempts (try a larger map or fewer players)",
		e.Config.Size, e.Config.PlayerCount, e.Reason, e.Attempts)
}

func (e *GenerationError) Unwrap() error { return ErrGeneration }

// GenerateMap builds a connected region graph by growing rectangles outward
// from a central bounds rectangle. The result depends only on cfg and the
// state of rng.
func GenerateMap(cfg MapConfig, rng *rand.Rand) ([]Region, error) {
	params, ok := sizeTable[cfg.Size]
	if !ok {
		return nil, fmt.Errorf("unknown map size %q", cfg.Size)
	}
	if cfg.PlayerCount < MinPlayers || cfg.PlayerCount > MaxPlayers {
		return nil, fmt.Errorf("player count %d outside [%d, %d]", cfg.PlayerCount, MinPlayers, MaxPlayers)
	}

	var reason string
	for attempt := 1; attempt <= GenerationAttempts; attempt++ {
		g := newGrid(params.width, params.height)
		regions := g.grow(params.regions, rng)
		if len(regions) < MinRegions {
			reason = fmt.Sprintf("placed %d regions, need %d", len(regions), MinRegions)
			continue
		}
		g.linkNeighbors(regions)
		placeTemples(regions, cfg.PlayerCount, rng)
		return regions, nil
	}
	return nil, &GenerationError{Config: cfg, Attempts: GenerationAttempts, Reason: reason}
}

type rect struct {
	x, y, w, h int
}

// grid maps each cell to the index of the region covering it, or -1.
type grid struct {
	w, h  int
	cells []int
}

func newGrid(w, h int) *grid {
	cells := make([]int, w*h)
	for i := range cells {
		cells[i] = -1
	}
	return &grid{w: w, h: h, cells: cells}
}

func (g *grid) at(x, y int) int {
	return g.cells[y*g.w+x]
}

func (g *grid) fits(r rect) bool {
	if r.x < 0 || r.y < 0 || r.x+r.w > g.w || r.y+r.h > g.h {
		return false
	}
	for y := r.y; y < r.y+r.h; y++ {
		for x := r.x; x < r.x+r.w; x++ {
			if g.at(x, y) >= 0 {
				return false
			}
		}
	}
	return true
}

func (g *grid) commit(regions []Region, r rect) []Region {
	idx := len(regions)
	for y := r.y; y < r.y+r.h; y++ {
		for x := r.x; x < r.x+r.w; x++ {
			g.cells[y*g.w+x] = idx
		}
	}
	return append(regions, Region{
		Index: idx,
		X:     float64(r.x) + float64(r.w)/2,
		Y:     float64(r.y) + float64(r.h)/2,
	})
}

// frontier lists free cells 4-adjacent to a claimed cell, in cell order.
func (g *grid) frontier(dead map[int]bool) []int {
	var out []int
	for i, owner := range g.cells {
		if owner >= 0 || dead[i] {
			continue
		}
		x, y := i%g.w, i/g.w
		if (x > 0 && g.at(x-1, y) >= 0) ||
			(x+1 < g.w && g.at(x+1, y) >= 0) ||
			(y > 0 && g.at(x, y-1) >= 0) ||
			(y+1 < g.h && g.at(x, y+1) >= 0) {
			out = append(out, i)
		}
	}
	return out
}

func (g *grid) grow(target int, rng *rand.Rand) []Region {
	bw := boundsMinSide + rng.IntN(boundsMaxSide-boundsMinSide+1)
	bh := boundsMinSide + rng.IntN(boundsMaxSide-boundsMinSide+1)
	regions := g.commit(nil, rect{x: (g.w - bw) / 2, y: (g.h - bh) / 2, w: bw, h: bh})

	dead := make(map[int]bool)
	for len(regions) < target {
		frontier := g.frontier(dead)
		if len(frontier) == 0 {
			break
		}
		cell := frontier[rng.IntN(len(frontier))]
		cx, cy := cell%g.w, cell/g.w
		w := minSide + rng.IntN(maxSide-minSide+1)
		h := minSide + rng.IntN(maxSide-minSide+1)
		r := rect{x: cx - rng.IntN(w), y: cy - rng.IntN(h), w: w, h: h}

		r, ok := g.shrink(r, cx, cy)
		if !ok {
			dead[cell] = true
			continue
		}
		regions = g.commit(regions, r)
	}
	return regions
}

// shrink trims the side farthest from the seed cell (cx, cy) until r no
// longer overlaps claimed cells or leaves the grid. The seed cell is always
// kept inside r.
func (g *grid) shrink(r rect, cx, cy int) (rect, bool) {
	for !g.fits(r) {
		if r.w*r.h <= minRegionArea {
			return r, false
		}
		if (r.w >= r.h && r.w > 1) || r.h == 1 {
			if cx-r.x > r.x+r.w-1-cx {
				r.x++
			}
			r.w--
		} else {
			if cy-r.y > r.y+r.h-1-cy {
				r.y++
			}
			r.h--
		}
	}
	return r, r.w*r.h >= minRegionArea
}

// linkNeighbors records a symmetric edge for every pair of 4-adjacent cells
// belonging to different regions.
func (g *grid) linkNeighbors(regions []Region) {
	sets := make([]map[int]bool, len(regions))
	for i := range sets {
		sets[i] = make(map[int]bool)
	}
	link := func(a, b int) {
		if a < 0 || b < 0 || a == b {
			return
		}
		sets[a][b] = true
		sets[b][a] = true
	}
	for y := 0; y < g.h; y++ {
		for x := 0; x < g.w; x++ {
			a := g.at(x, y)
			if x+1 < g.w {
				link(a, g.at(x+1, y))
			}
			if y+1 < g.h {
				link(a, g.at(x, y+1))
			}
		}
	}
	for i := range regions {
		neighbors := make([]int, 0, len(sets[i]))
		for n := range sets[i] {
			neighbors = append(neighbors, n)
		}
		slices.Sort(neighbors)
		regions[i].Neighbors = neighbors
	}
}

// placeTemples scatters temples so that no two are adjacent, then converts
// the lowest-indexed plain regions until every player can have one.
func placeTemples(regions []Region, playerCount int, rng *rand.Rand) {
	count := 0
	for i := range regions {
		if rng.Float64() >= TempleChance {
			continue
		}
		adjacent := false
		for _, n := range regions[i].Neighbors {
			if regions[n].HasTemple {
				adjacent = true
				break
			}
		}
		if !adjacent {
			regions[i].HasTemple = true
			count++
		}
	}
	for i := 0; i < len(regions) && count < playerCount; i++ {
		if !regions[i].HasTemple {
			regions[i].HasTemple = true
			count++
		}
	}
}

// TempleCount returns the number of temple regions in a map.
func TempleCount(regions []Region) int {
	n := 0
	for _, r := range regions {
		if r.HasTemple {
			n++
		}
	}
	return n
}
