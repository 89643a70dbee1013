/*
Copyright © 2024 the ColSim authors.
This file is part of ColSim.

ColSim is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

ColSim is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with ColSim.  If not, see <http://www.gnu.org/licenses/>.
*/

package colsim

import (
	"fmt"
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/spatialmodel/colsim/internal/hash"
)

// VLE is an interface for vapor-liquid equilibrium models. All
// compositions are mole fraction vectors ordered by the feed species list.
// Implementations must be free of side effects so that they may be called
// repeatedly from nested searches.
type VLE interface {
	// KValues returns the equilibrium ratios y/x at pressure p [Pa] and
	// temperature T [K] for liquid composition x.
	KValues(p, T float64, x []float64) ([]float64, error)

	// BubblePoint returns the bubble temperature [K] of liquid x.
	BubblePoint(p float64, x []float64) (float64, error)

	// DewPoint returns the equilibrium liquid composition and dew
	// temperature [K] of vapor y, using the named activity model.
	DewPoint(p float64, y []float64, model string) (x []float64, T float64, err error)

	// PureSaturationTemperatures returns the saturation temperature of
	// each pure species at pressure p. Ascending order is decreasing
	// volatility.
	PureSaturationTemperatures(p float64) ([]float64, error)
}

// kAtBubble returns the K-values of liquid x at its bubble point.
func kAtBubble(v VLE, p float64, x []float64) ([]float64, float64, error) {
	T, err := v.BubblePoint(p, x)
	if err != nil {
		return nil, 0, fmt.Errorf("colsim: bubble point: %w", err)
	}
	k, err := v.KValues(p, T, x)
	if err != nil {
		return nil, 0, fmt.Errorf("colsim: K-values: %w", err)
	}
	return k, T, nil
}

// CachedVLE memoizes the bubble point, dew point and K-value calls of
// another VLE model. It is safe for concurrent use.
type CachedVLE struct {
	VLE

	mu           sync.Mutex
	cache        *lru.Cache
	hits, misses int
}

// NewCachedVLE returns a cache holding up to maxEntries results of v.
func NewCachedVLE(v VLE, maxEntries int) *CachedVLE {
	return &CachedVLE{VLE: v, cache: lru.New(maxEntries)}
}

type vleQuery struct {
	Op    string
	P, T  float64
	X     []float64
	Model string
}

type vleResult struct {
	x   []float64
	t   float64
	err error
}

// Stats returns the number of cache hits and misses so far.
func (c *CachedVLE) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *CachedVLE) lookup(q vleQuery, f func() vleResult) vleResult {
	key := hash.Hash(q)
	c.mu.Lock()
	if v, ok := c.cache.Get(key); ok {
		c.hits++
		c.mu.Unlock()
		return v.(vleResult)
	}
	c.misses++
	c.mu.Unlock()

	r := f()
	c.mu.Lock()
	c.cache.Add(key, r)
	c.mu.Unlock()
	return r
}

func copyFloats(v []float64) []float64 {
	if v == nil {
		return nil
	}
	return append([]float64(nil), v...)
}

// KValues fulfils the VLE interface.
func (c *CachedVLE) KValues(p, T float64, x []float64) ([]float64, error) {
	r := c.lookup(vleQuery{Op: "k", P: p, T: T, X: x}, func() vleResult {
		k, err := c.VLE.KValues(p, T, x)
		return vleResult{x: copyFloats(k), err: err}
	})
	return copyFloats(r.x), r.err
}

// BubblePoint fulfils the VLE interface.
func (c *CachedVLE) BubblePoint(p float64, x []float64) (float64, error) {
	r := c.lookup(vleQuery{Op: "bubble", P: p, X: x}, func() vleResult {
		T, err := c.VLE.BubblePoint(p, x)
		return vleResult{t: T, err: err}
	})
	return r.t, r.err
}

// DewPoint fulfils the VLE interface.
func (c *CachedVLE) DewPoint(p float64, y []float64, model string) ([]float64, float64, error) {
	r := c.lookup(vleQuery{Op: "dew", P: p, X: y, Model: model}, func() vleResult {
		x, T, err := c.VLE.DewPoint(p, y, model)
		return vleResult{x: copyFloats(x), t: T, err: err}
	})
	return copyFloats(r.x), r.t, r.err
}
