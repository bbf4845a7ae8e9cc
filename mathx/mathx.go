// Package mathx holds small numeric helpers shared by the drivers and the scan loop
package mathx

import "math"

// Round rounds a float to the nearest "unit" (0.1 for tenth, 0.01 for hundredth, and so on).
// Halves round away from zero.  A unit <= 0 returns x unchanged
func Round(x, unit float64) float64 {
	if unit <= 0 {
		return x
	}
	if unit >= 1 {
		return math.Round(x/unit) * unit
	}
	// 1/unit is inexact for most decimal units; the scale must be an integer
	// so whole numbers stay on the grid
	scale := math.Round(1 / unit)
	return math.Round(x*scale) / scale
}
