package esmutils

import "math"

// Registers are sent as integers with an implied number of decimals.
func ScaleDecimals(v int64, decimals int) float64 {
	if decimals <= 0 {
		return float64(v)
	}
	return round(float64(v)/math.Pow10(decimals), decimals)
}

// Voltages and currents are sent in tenths.
func TenthsToUnits(v int64) float64 {
	return ScaleDecimals(v, 1)
}

// Frequency is sent in hundredths of a hertz.
func HundredthsToUnits(v int64) float64 {
	return ScaleDecimals(v, 2)
}

// Negative values mean power flowing back to the grid.
func WToKw(w int64) float64 {
	return round(float64(w)/1000, 3)
}

func round(v float64, decimals int) float64 {
	p := math.Pow10(decimals)
	return math.Round(v*p) / p
}
