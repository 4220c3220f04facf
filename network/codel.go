package network

import "math"

// CodelConfig parameterizes the per-link virtual queue. Defaults match RFC
// 8289 where applicable (target 5 ms, interval 100 ms).
type CodelConfig struct {
	TargetDelay   float64 // sojourn threshold for a "good" queue, seconds
	Interval      float64 // sustained-bad window, seconds
	MaxQueueBytes int     // virtual queue cap
	DrainRate     float64 // bytes/s virtual drain
}

// DefaultCodelConfig returns the standard queue parameters.
func DefaultCodelConfig() CodelConfig {
	return CodelConfig{
		TargetDelay:   0.005,
		Interval:      0.100,
		MaxQueueBytes: 10 * 1024 * 1024,
		DrainRate:     100 * 1024 * 1024,
	}
}

// codelState is the virtual queue of one directed link.
//
// This is a delay-only CoDel variant: instead of dropping, sustained
// congestion scales the sojourn time by sqrt of the drop counter. For
// propagation studies the interesting quantity is arrival time, not loss,
// so delivery never fails.
type codelState struct {
	queueBytes     float64
	queueStartTime float64
	dropCount      int
	lastDropTime   float64
}

// delay runs one enqueue against the link's virtual queue and returns the
// extra delay the message experiences.
func (s *codelState) delay(now float64, sizeBytes int, cfg CodelConfig) float64 {
	// Drain since the last enqueue; an emptied queue forgets its history.
	if s.queueBytes > 0 {
		if elapsed := now - s.queueStartTime; elapsed > 0 {
			s.queueBytes = math.Max(0, s.queueBytes-elapsed*cfg.DrainRate)
			if s.queueBytes == 0 {
				s.dropCount = 0
			}
		}
	}

	s.queueBytes = math.Min(s.queueBytes+float64(sizeBytes), float64(cfg.MaxQueueBytes))
	s.queueStartTime = now

	sojourn := s.queueBytes / cfg.DrainRate

	if sojourn > cfg.TargetDelay {
		if now-s.lastDropTime > cfg.Interval/math.Sqrt(math.Max(1, float64(s.dropCount))) {
			s.dropCount++
			s.lastDropTime = now
		}
		return sojourn * (1 + 0.5*math.Sqrt(float64(s.dropCount)))
	}

	if s.dropCount > 0 && sojourn <= cfg.TargetDelay*0.5 {
		s.dropCount--
	}
	return sojourn
}
