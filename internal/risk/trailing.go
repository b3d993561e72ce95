package risk

// TrailingConfig holds the trailing-stop parameters.
type TrailingConfig struct {
	ActivationMult float64 // profit in ATRs before the trail arms
	StopMult       float64 // trail distance in ATRs
}

// DefaultTrailing arms after one ATR of profit and trails by 1.2 ATR.
func DefaultTrailing() TrailingConfig {
	return TrailingConfig{ActivationMult: 1.0, StopMult: 1.2}
}

// TrailStop proposes a raised stop for a long position. The candidate
// is clamped to at least entry plus a tick of breathing room, and the
// stop only ever moves up: a candidate at or below the existing stop
// returns false.
func TrailStop(cfg TrailingConfig, entry, current, existingStop, atr float64) (float64, bool) {
	if atr <= 0 || current <= 0 {
		return existingStop, false
	}
	if current-entry < atr*cfg.ActivationMult {
		return existingStop, false
	}
	candidate := current - atr*cfg.StopMult
	floor := entry * 1.001
	if candidate < floor {
		candidate = floor
	}
	if candidate <= existingStop {
		return existingStop, false
	}
	return candidate, true
}
