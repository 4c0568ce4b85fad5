package sim

import (
	"math"

	"pmsim/internal/domain"
)

const (
	baseCapacity     = 20
	minCapacity      = 8
	collapseCapacity = 5
	stretchFactor    = 1.25
)

// RawCapacity is the sprint budget before flooring: base 20 adjusted by team
// sentiment, tech debt and CTO bands, plus any active capacity modifiers.
func RawCapacity(m domain.Metrics, modifier int) int {
	capacity := baseCapacity
	switch team := m.TeamSentiment; {
	case team > 75:
		capacity += 4
	case team >= 50:
		capacity += 1
	case team >= 25:
		capacity -= 2
	default:
		capacity -= 5
	}
	switch debt := m.TechDebt; {
	case debt < 25:
		capacity += 2
	case debt <= 50:
	case debt <= 75:
		capacity -= 3
	default:
		capacity -= 6
	}
	if m.CTOSentiment > 80 {
		capacity += 4
	}
	return capacity + modifier
}

// EffectiveCapacity is RawCapacity without modifiers, floored at 8.
func EffectiveCapacity(m domain.Metrics) int {
	return floorCapacity(RawCapacity(m, 0))
}

func floorCapacity(raw int) int {
	if raw < minCapacity {
		return minCapacity
	}
	return raw
}

// StretchCapacity is the overbooking ceiling for a given capacity.
func StretchCapacity(capacity int) int {
	return int(math.Floor(float64(capacity) * stretchFactor))
}

// Collapsed reports whether a freshly computed raw capacity ends the game.
func Collapsed(raw int) bool {
	return raw <= collapseCapacity
}
