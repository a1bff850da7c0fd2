package conflict

import "fmt"

// BuildCost returns the faith price of applying track to the temple at
// region for the current player. It fails when the purchase is impossible
// regardless of balance.
func BuildCost(gs *GameState, region int, track UpgradeTrack) (int, error) {
	t, ok := gs.TempleAt(region)
	if !ok {
		return 0, fmt.Errorf("region %d has no temple", region)
	}
	switch {
	case track == UpgradeSoldier:
		return SoldierCost(gs.SoldiersBought), nil
	case track == UpgradeRebuild:
		if t.Upgrade == UpgradeNone {
			return 0, fmt.Errorf("temple at %d has no upgrade to clear", region)
		}
		return 0, nil
	case track.IsLevelled():
		level := 0
		if t.Upgrade == track {
			level = t.Level + 1
		}
		if level > MaxLevel(track) {
			return 0, fmt.Errorf("%s is already at maximum level", track)
		}
		cost, _ := LevelCost(track, level)
		return cost, nil
	default:
		return 0, fmt.Errorf("unknown upgrade %d", int(track))
	}
}

func validateBuild(v *validator, b Build, gs *GameState, regions []Region) {
	if b.Region < 0 || b.Region >= len(regions) {
		v.fail("region %d does not exist", b.Region)
		return
	}
	if !gs.IsOwnedBy(b.Region, b.Player) {
		v.fail("region %d is not yours", b.Region)
	}
	if !b.Upgrade.Valid() || b.Upgrade == UpgradeNone {
		v.fail("unknown upgrade %d", int(b.Upgrade))
		return
	}
	cost, err := BuildCost(gs, b.Region, b.Upgrade)
	if err != nil {
		v.fail("%s", err.Error())
		return
	}
	if have := gs.FaithOf(b.Player); have < cost {
		v.fail("not enough faith: need %d, have %d", cost, have)
	}
}

func executeBuild(b Build, gs *GameState) {
	cost, _ := BuildCost(gs, b.Region, b.Upgrade)
	gs.AdjustFaith(b.Player, -cost)

	t, _ := gs.TempleAt(b.Region)
	switch {
	case b.Upgrade == UpgradeSoldier:
		gs.AddSoldiers(b.Region, 1)
		gs.SoldiersBought++
	case b.Upgrade == UpgradeRebuild:
		t.Upgrade, t.Level = UpgradeNone, 0
		gs.SetTemple(t)
	case t.Upgrade == b.Upgrade:
		t.Level++
		gs.SetTemple(t)
	default:
		t.Upgrade, t.Level = b.Upgrade, 0
		gs.SetTemple(t)
	}

	// Air pays out one extra move on the turn it is bought.
	if b.Upgrade == UpgradeAir {
		gs.MovesRemaining++
	}
}
