package conflict

import "fmt"

// UpgradeTrack selects which upgrade a temple carries. A temple has at most
// one active track.
type UpgradeTrack int

const (
	UpgradeNone    UpgradeTrack = iota // Plain temple
	UpgradeSoldier                     // Buy one soldier at this temple
	UpgradeWater                       // Income bonus
	UpgradeFire                        // Attacker strikes defenders before dice
	UpgradeAir                         // Extra moves per turn
	UpgradeEarth                       // Defending temple absorbs attackers before dice
	UpgradeRebuild                     // Clear the temple back to plain
)

func (u UpgradeTrack) String() string {
	switch u {
	case UpgradeNone:
		return "none"
	case UpgradeSoldier:
		return "soldier"
	case UpgradeWater:
		return "water"
	case UpgradeFire:
		return "fire"
	case UpgradeAir:
		return "air"
	case UpgradeEarth:
		return "earth"
	case UpgradeRebuild:
		return "rebuild"
	default:
		return fmt.Sprintf("upgrade(%d)", int(u))
	}
}

// Valid reports whether u names a known track.
func (u UpgradeTrack) Valid() bool {
	return u >= UpgradeNone && u <= UpgradeRebuild
}

// IsLevelled reports whether u is a persistent track with levels.
func (u UpgradeTrack) IsLevelled() bool {
	return u == UpgradeWater || u == UpgradeFire || u == UpgradeAir || u == UpgradeEarth
}

// soldierCosts is indexed by the number of soldiers already bought this turn.
// Purchases beyond the end of the table pay the last entry.
var soldierCosts = []int{8, 10, 12, 14, 16, 18, 20, 22, 24, 26, 28, 30, 32, 34, 36, 38, 40, 42, 44, 46}

// levelCosts is indexed by the target level (0-based) of each levelled track.
var levelCosts = map[UpgradeTrack][]int{
	UpgradeWater: {15, 25},
	UpgradeFire:  {20, 30},
	UpgradeAir:   {25, 35},
	UpgradeEarth: {20, 30},
}

// waterIncomeBonus is the percentage income bonus by Water strength.
var waterIncomeBonus = []int{0, 20, 40}

// SoldierCost returns the price of the next soldier after purchased buys.
func SoldierCost(purchased int) int {
	if purchased < 0 {
		purchased = 0
	}
	if purchased >= len(soldierCosts) {
		return soldierCosts[len(soldierCosts)-1]
	}
	return soldierCosts[purchased]
}

// MaxLevel returns the highest 0-based level of a levelled track, or -1.
func MaxLevel(track UpgradeTrack) int {
	return len(levelCosts[track]) - 1
}

// LevelCost returns the price of bringing track to the given 0-based level.
func LevelCost(track UpgradeTrack, level int) (int, bool) {
	costs := levelCosts[track]
	if level < 0 || level >= len(costs) {
		return 0, false
	}
	return costs[level], true
}

// WaterBonusPercent returns the income bonus for a Water strength.
func WaterBonusPercent(strength int) int {
	if strength < 0 {
		return 0
	}
	if strength >= len(waterIncomeBonus) {
		return waterIncomeBonus[len(waterIncomeBonus)-1]
	}
	return waterIncomeBonus[strength]
}
