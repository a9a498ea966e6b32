package gate

// SetShuffle replaces the sampling shuffle for deterministic tests.
func (g *Gate) SetShuffle(fn func([]int64)) { g.shuffle = fn }
