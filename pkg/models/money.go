package models

import "math"

// RoundCurrency rounds v to cents, half away from zero.
func RoundCurrency(v float64) float64 {
	return math.Round(v*100) / 100
}
