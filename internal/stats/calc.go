package stats

import "math"

// DefaultPerCapitaBase expresses rates per 100,000 population.
const DefaultPerCapitaBase = 100000

// PerCapitaRate returns count per base population rounded to 4 decimals.
// It is nil when population is nil or zero.
func PerCapitaRate(count int64, population *int64, base float64) *float64 {
	if population == nil || *population == 0 {
		return nil
	}
	if base <= 0 {
		base = DefaultPerCapitaBase
	}
	rate := roundTo(float64(count)*base/float64(*population), 4)
	return &rate
}

// YoYChange returns the percentage change from previous to current rounded
// to 2 decimals. It is nil when either value is nil or previous is zero.
func YoYChange(current, previous *float64) *float64 {
	if current == nil || previous == nil || *previous == 0 {
		return nil
	}
	change := roundTo((*current-*previous)/(*previous)*100, 2)
	return &change
}

// roundTo rounds half to even, matching decimal fixed-point columns.
func roundTo(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.RoundToEven(v*p) / p
}
