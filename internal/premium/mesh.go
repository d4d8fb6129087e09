package premium

import (
	"math"
)

// DefaultColumns covers vol 0% to 990% in 10% steps.
const DefaultColumns = 100

const secondsPerYear = 365 * 24 * 60 * 60

// DefaultMesh prices each (gap, duration) tier with Black-Scholes at zero
// interest. Row gapIdx*len(durations)+durIdx holds the call value in basis
// points of spot for strike spot*(1+gap/10000), one column per 10% of vol.
// Durations are in seconds.
func DefaultMesh(strikeGaps []uint64, durations []uint64, columns int) [][]uint64 {
	mesh := make([][]uint64, 0, len(strikeGaps)*len(durations))
	for _, gap := range strikeGaps {
		strike := 1 + float64(gap)/10_000
		for _, d := range durations {
			years := float64(d) / secondsPerYear
			row := make([]uint64, columns)
			for j := range row {
				sigma := float64(j) * ColumnWidth / 10_000
				rate := uint64(math.Round(callPrice(1, strike, years, sigma) * 10_000))
				if rate > MaxRate {
					rate = MaxRate
				}
				if j > 0 && rate < row[j-1] {
					rate = row[j-1]
				}
				row[j] = rate
			}
			mesh = append(mesh, row)
		}
	}
	return mesh
}

// callPrice is the Black-Scholes value of a European call with r = 0.
func callPrice(spot, strike, years, sigma float64) float64 {
	if years <= 0 || sigma <= 0 {
		return math.Max(0, spot-strike)
	}
	sd := sigma * math.Sqrt(years)
	d1 := (math.Log(spot/strike) + 0.5*sigma*sigma*years) / sd
	d2 := d1 - sd
	return spot*normCDF(d1) - strike*normCDF(d2)
}

func normCDF(x float64) float64 {
	return 0.5 * (1.0 + math.Erf(x/math.Sqrt2))
}
