package core

// limitPolicy is a collection's capacity configuration. A zero value means
// unbounded.
type limitPolicy struct {
	max      int
	set      bool
	evicting bool
}

// full reports whether adding one more entity to a collection of size n
// would exceed the limit.
func (p limitPolicy) full(n int) bool {
	return p.set && n >= p.max
}

// excess is how many entities must go for size n to fit.
func (p limitPolicy) excess(n int) int {
	if !p.set || n <= p.max {
		return 0
	}
	return n - p.max
}
