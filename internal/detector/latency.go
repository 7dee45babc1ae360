package detector

import "time"

// latencyEWMA tracks an exponentially weighted moving average of observed
// market-data latency. The detector derives opportunity expiry from it: the
// staler our view of the market, the shorter the window in which acting on a
// residual is safe.
type latencyEWMA struct {
	alpha float64
	avg   float64
	seen  bool
}

func newLatencyEWMA(alpha float64) *latencyEWMA {
	return &latencyEWMA{alpha: alpha}
}

func (e *latencyEWMA) observe(sample time.Duration) {
	if sample < 0 {
		return
	}
	s := float64(sample)
	if !e.seen {
		e.avg = s
		e.seen = true
		return
	}
	e.avg = e.alpha*s + (1-e.alpha)*e.avg
}

func (e *latencyEWMA) value() time.Duration {
	return time.Duration(e.avg)
}
