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
	"math"
	"sort"

	"github.com/sirupsen/logrus"
)

// ColumnSpec holds the design specification of a distillation column.
// Zero values of Reflux, NumPlates and FeedPlate mean that the quantity is
// not fixed and will be computed.
type ColumnSpec struct {
	// Pressure is the column pressure [Pa].
	Pressure float64

	// FeedQuality is the liquid fraction of the feed: 0 for saturated
	// vapor and 1 for saturated liquid.
	FeedQuality float64

	// LightKey and HeavyKey are the names of the key species.
	LightKey, HeavyKey string

	// LightKeyRecovery and HeavyKeyRecovery are the percentages of each
	// key in the feed that are recovered in the distillate.
	LightKeyRecovery, HeavyKeyRecovery float64

	// Reflux is the reflux ratio. A negative value is a multiple of the
	// minimum reflux ratio.
	Reflux float64

	// NumPlates is the index of the last stage (the reboiler).
	NumPlates int

	// FeedPlate is the index of the feed stage.
	FeedPlate int

	// ActivityModel is passed to the VLE dew-point calculation.
	ActivityModel string
}

// Feed is the state of the column feed. Mole fractions are ordered as in
// Species.
type Feed struct {
	Species  []string
	MoleFrac []float64

	// MoleFlow is the total molar flow of the feed.
	MoleFlow float64

	// Pressure [Pa] is replaced by the column pressure in Configure.
	Pressure float64

	// ThermoPath identifies the thermodynamic data used to build the
	// product streams.
	ThermoPath string
}

// Tolerances holds the numerical constants of the steady-state solver.
type Tolerances struct {
	// HeavyKeyFactor and LightKeyFactor set the stripping-section stop:
	// x_HK >= HeavyKeyFactor*x_bot,HK and x_LK <= LightKeyFactor*x_bot,LK.
	HeavyKeyFactor, LightKeyFactor float64

	// PlateCap is the stage limit for each column section.
	PlateCap int

	// UnderwoodGuard is added to the Underwood denominators.
	UnderwoodGuard float64

	// RefluxFactor is the multiple of the minimum reflux used when no
	// reflux is given.
	RefluxFactor float64

	// RefluxLowerFactor and RefluxUpper bound the reflux search.
	RefluxLowerFactor, RefluxUpper float64

	// RefluxPenalty weighs the R² term of the reflux search objective.
	RefluxPenalty float64
}

// DefaultTolerances returns the standard solver constants.
func DefaultTolerances() Tolerances {
	return Tolerances{
		HeavyKeyFactor:    0.98,
		LightKeyFactor:    1.2,
		PlateCap:          100,
		UnderwoodGuard:    1.e-10,
		RefluxFactor:      1.5,
		RefluxLowerFactor: 1.01,
		RefluxUpper:       1000,
		RefluxPenalty:     0.01,
	}
}

// Context is the immutable set of quantities derived from a column
// specification and its feed. It is created by Configure.
type Context struct {
	Spec ColumnSpec
	Feed Feed

	// LK and HK are the indices of the key species.
	LK, HK int

	// Lighter holds the species with indices below LK, which go
	// entirely to the distillate, along with any species between the
	// keys. Heavier holds the species with indices above HK, which go
	// entirely to the bottoms.
	Lighter, Heavier []int

	// Volatility lists species indices from most to least volatile at
	// column pressure.
	Volatility []int

	// Diagnostics holds the warnings raised while configuring.
	Diagnostics Diagnostics
}

// NumSpecies returns the number of species in the feed.
func (c *Context) NumSpecies() int { return len(c.Feed.MoleFrac) }

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

// Configure checks the specification against the feed and derives the
// key indices and volatility ordering. Neither argument is modified. log
// may be nil.
func Configure(spec ColumnSpec, feed Feed, vle VLE, log logrus.FieldLogger) (*Context, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	n := len(feed.MoleFrac)
	if n < 2 {
		return nil, fmt.Errorf("colsim: feed must have at least two species, got %d", n)
	}
	if len(feed.Species) != n {
		return nil, fmt.Errorf("colsim: feed has %d species names and %d mole fractions",
			len(feed.Species), n)
	}
	var sum float64
	for i, z := range feed.MoleFrac {
		if z < 0 || math.IsNaN(z) {
			return nil, fmt.Errorf("colsim: invalid mole fraction %g for %s", z, feed.Species[i])
		}
		sum += z
	}
	if math.Abs(sum-1) > 1.e-6 {
		return nil, fmt.Errorf("colsim: feed mole fractions sum to %g", sum)
	}
	if feed.MoleFlow <= 0 {
		return nil, fmt.Errorf("colsim: feed flow must be positive, got %g", feed.MoleFlow)
	}
	if spec.Pressure <= 0 {
		return nil, fmt.Errorf("colsim: column pressure must be positive, got %g", spec.Pressure)
	}
	if spec.FeedQuality < 0 || spec.FeedQuality > 1 {
		return nil, fmt.Errorf("colsim: feed quality must be within [0, 1], got %g", spec.FeedQuality)
	}
	for _, r := range []float64{spec.LightKeyRecovery, spec.HeavyKeyRecovery} {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return nil, fmt.Errorf("colsim: key recovery must be finite, got %g", r)
		}
	}
	if spec.NumPlates < 0 || spec.FeedPlate < 0 {
		return nil, fmt.Errorf("colsim: plate numbers must not be negative")
	}
	if spec.NumPlates > 0 && spec.FeedPlate > spec.NumPlates {
		return nil, fmt.Errorf("colsim: feed plate %d is below the last stage %d",
			spec.FeedPlate, spec.NumPlates)
	}

	ctx := &Context{
		Spec: spec,
		LK:   indexOf(feed.Species, spec.LightKey),
		HK:   indexOf(feed.Species, spec.HeavyKey),
	}
	if ctx.LK < 0 {
		return nil, fmt.Errorf("colsim: light key %q is not in the feed", spec.LightKey)
	}
	if ctx.HK < 0 {
		return nil, fmt.Errorf("colsim: heavy key %q is not in the feed", spec.HeavyKey)
	}
	if ctx.LK >= ctx.HK {
		return nil, fmt.Errorf("colsim: light key %q must come before heavy key %q in the species list",
			spec.LightKey, spec.HeavyKey)
	}

	ctx.Feed = feed
	ctx.Feed.Species = append([]string(nil), feed.Species...)
	ctx.Feed.MoleFrac = append([]float64(nil), feed.MoleFrac...)
	ctx.Feed.Pressure = spec.Pressure

	for i := 0; i < n; i++ {
		switch {
		case i < ctx.LK, i > ctx.LK && i < ctx.HK:
			ctx.Lighter = append(ctx.Lighter, i)
		case i > ctx.HK:
			ctx.Heavier = append(ctx.Heavier, i)
		}
	}

	tsat, err := vle.PureSaturationTemperatures(spec.Pressure)
	if err != nil {
		return nil, fmt.Errorf("colsim: volatility ordering: %w", err)
	}
	if len(tsat) != n {
		return nil, fmt.Errorf("colsim: VLE returned %d saturation temperatures for %d species", len(tsat), n)
	}
	ctx.Volatility = make([]int, n)
	for i := range ctx.Volatility {
		ctx.Volatility[i] = i
	}
	sort.SliceStable(ctx.Volatility, func(i, j int) bool {
		return tsat[ctx.Volatility[i]] < tsat[ctx.Volatility[j]]
	})
	lkLoc, hkLoc := position(ctx.Volatility, ctx.LK), position(ctx.Volatility, ctx.HK)
	if hkLoc != lkLoc+1 {
		ctx.Diagnostics.add(log, NonAdjacentKeys, "configure",
			"light key %s and heavy key %s are not adjacent in volatility", spec.LightKey, spec.HeavyKey)
	}
	return ctx, nil
}

// position returns the position of x in v.
func position(v []int, x int) int {
	for i, vv := range v {
		if vv == x {
			return i
		}
	}
	return -1
}
