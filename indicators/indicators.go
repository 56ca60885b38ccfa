// Package indicators provides streaming technical indicators fed one
// closing price at a time.
package indicators

// Indicator computes a single streaming value from closing prices.
// It is deterministic and safe to use in live and simulated sessions.
type Indicator interface {
	// Name returns a stable identifier like "EMA(20)".
	Name() string

	// Warmup returns how many updates are needed before Ready() can be true.
	Warmup() int

	// Reset clears all internal state.
	Reset()

	// Update consumes the next closed price.
	Update(v float64)

	// Ready reports whether Value() is meaningful.
	Ready() bool

	// Value returns the current value, or 0 before Ready().
	Value() float64
}

// Cross tracks the sign of fast-slow between updates.
type Cross struct {
	last float64
	have bool
}

// Update records fast-slow and reports +1 when fast moves above slow,
// -1 when it moves below, 0 otherwise. The first call only primes it.
func (c *Cross) Update(fast, slow float64) int {
	diff := fast - slow
	if !c.have {
		c.last, c.have = diff, true
		return 0
	}
	prev := c.last
	c.last = diff
	switch {
	case diff > 0 && prev <= 0:
		return 1
	case diff < 0 && prev >= 0:
		return -1
	}
	return 0
}

func (c *Cross) Reset() { *c = Cross{} }
