package sim

// LevelUp adds gain to xp. When the result reaches required, xp resets to 0
// and level goes up by exactly one.
func LevelUp(xp, level, gain, required int64) (newXP, newLevel int64, leveled bool) {
	xp += gain
	if xp >= required {
		return 0, level + 1, true
	}
	return xp, level, false
}

// ProductionRow is one producer: Count units each yielding Base.
type ProductionRow struct {
	Base  float64
	Count float64
}

// ProductionBonus returns sum(base*count) * multiplier.
func ProductionBonus(rows []ProductionRow, multiplier float64) float64 {
	var sum float64
	for _, r := range rows {
		sum += r.Base * r.Count
	}
	return sum * multiplier
}
