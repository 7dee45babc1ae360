package domain

import "time"

// ModelUpdate is emitted by a relationship model after each accepted
// observation. Confidence is 0 until the rolling window holds the minimum
// number of observations; downstream consumers must not act on zero
// confidence updates.
type ModelUpdate struct {
	GroupID     string
	Generation  uint64
	Slope       float64
	Intercept   float64
	Residual    float64
	ResidualStd float64
	Confidence  float64
	RefMid      float64
	DepMid      float64
	Timestamp   time.Time
}

// ZScore returns |residual| / residual_std, or 0 when the deviation is
// undefined.
func (u ModelUpdate) ZScore() float64 {
	if u.ResidualStd <= 0 {
		return 0
	}
	z := u.Residual / u.ResidualStd
	if z < 0 {
		return -z
	}
	return z
}
