package gui

import "math"

// meterFloorDB is the quietest level the meter shows.
const meterFloorDB = -60.0

// smoothLevel follows rises quickly and decays slowly.
func smoothLevel(prev, l float64) float64 {
	if l > prev {
		return prev*0.2 + l*0.8
	}
	return prev*0.7 + l*0.3
}

// litCells maps a normalized RMS level onto n meter cells on a dBFS scale.
func litCells(level float64, n int) int {
	if level <= 0 || n <= 0 {
		return 0
	}
	db := 20 * math.Log10(level)
	frac := (db - meterFloorDB) / -meterFloorDB
	if frac <= 0 {
		return 0
	}
	return min(int(math.Round(frac*float64(n))), n)
}

// cellTone is 0 (green), 1 (amber) or 2 (red) for cell i of n.
func cellTone(i, n int) int {
	switch {
	case i >= n*9/10:
		return 2
	case i >= n*7/10:
		return 1
	}
	return 0
}
