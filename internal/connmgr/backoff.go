package connmgr

import (
	"math"
	"math/rand"
	"time"
)

// reconnectDelay implements spec §4.5/§8: delay = min(base * 2^attempt,
// cap), then ±10% random jitter.
func reconnectDelay(base, cap time.Duration, attempt int) time.Duration {
	scaled := float64(base) * math.Pow(2, float64(attempt))
	bounded := math.Min(scaled, float64(cap))

	jitter := 1.0 + (rand.Float64()*0.2 - 0.1) // uniform in [0.9, 1.1]
	return time.Duration(bounded * jitter)
}
