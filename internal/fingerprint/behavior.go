package fingerprint

import (
	"time"

	"github.com/Rorqualx/browserfarm/internal/types"
)

// timingRange is an inclusive millisecond range.
type timingRange struct {
	minMs, maxMs int
}

// Human-like delay ranges per interaction.
var (
	typingMinRange  = timingRange{40, 80}
	typingMaxRange  = timingRange{110, 220}
	clickRange      = timingRange{100, 300}
	scrollRange     = timingRange{200, 500}
	navigationRange = timingRange{500, 1000}
)

// DefaultBehavior returns the midpoint timing used when behavior mimicking is off.
func DefaultBehavior() types.BehaviorProfile {
	return types.BehaviorProfile{
		TypingDelayMin:  50 * time.Millisecond,
		TypingDelayMax:  150 * time.Millisecond,
		ClickDelay:      200 * time.Millisecond,
		ScrollDelay:     350 * time.Millisecond,
		NavigationDelay: 750 * time.Millisecond,
		MouseSpeed:      1.0,
		ReadingSpeedWPM: 230,
	}
}

// behavior must be called with g.mu held.
func (g *Generator) behavior() types.BehaviorProfile {
	return types.BehaviorProfile{
		TypingDelayMin:  g.randomDuration(typingMinRange),
		TypingDelayMax:  g.randomDuration(typingMaxRange),
		ClickDelay:      g.randomDuration(clickRange),
		ScrollDelay:     g.randomDuration(scrollRange),
		NavigationDelay: g.randomDuration(navigationRange),
		MouseSpeed:      0.7 + g.rng.Float64()*0.6,
		ReadingSpeedWPM: 180 + g.rng.Intn(121),
	}
}

// randomDuration returns a random duration within r.
func (g *Generator) randomDuration(r timingRange) time.Duration {
	if r.maxMs <= r.minMs {
		return time.Duration(r.minMs) * time.Millisecond
	}
	ms := r.minMs + g.rng.Intn(r.maxMs-r.minMs+1)
	return time.Duration(ms) * time.Millisecond
}
