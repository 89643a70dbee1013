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
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/colsim/dae"
)

// ErrComposition is returned when a dynamic state holds mole fractions
// outside of [0, 1] by more than compositionSlack.
var ErrComposition = errors.New("colsim: composition out of range")

const compositionSlack = 1.e-3

// DynamicColumn is a staged column with constant liquid holdup on each
// plate. Temperatures are algebraic unknowns fixed by the bubble-point
// condition and liquid mole fractions follow component balances. The
// internal flows come from a steady-state solution and stay constant.
type DynamicColumn struct {
	// Steady is the steady-state solver used at startup.
	Steady Column

	Spec ColumnSpec

	// Feed is the startup feed. Its composition is also the initial
	// liquid composition on every plate.
	Feed Feed

	// Holdup is the liquid holdup of each plate [mol].
	Holdup float64

	// Inputs gives the feed during the transient. If nil, Feed is used
	// throughout.
	Inputs FeedLookup

	// Integrator configures the DAE solver.
	Integrator dae.Config
}

// Startup holds the fixed parameters of the dynamic balances.
//
// Row 0 of the dynamic state is the reflux drum of the total condenser.
// Row i+1 holds stage i of the steady profile, so NumPlates is one more
// than Steady.Profile.NumPlates and row NumPlates is the reboiler.
type Startup struct {
	Steady *Solution

	// NumPlates is the index of the reboiler row and FeedPlate the row
	// receiving the feed.
	NumPlates, FeedPlate int
	Flows
	D, B   float64
	Holdup float64

	// Y0 and Yp0 are the initial state and its time derivative.
	Y0, Yp0 []float64

	Diagnostics Diagnostics
}

// Trajectory is the result of a dynamic simulation. Index order is
// [time][plate] for T and [time][plate][species] for X.
type Trajectory struct {
	Time []float64
	T    [][]float64
	X    [][][]float64

	Startup *Startup

	// Distillate and Bottoms are the product streams at the last time.
	Distillate, Bottoms Stream

	Stats dae.Statistics

	Diagnostics Diagnostics
}

// balances evaluates the dynamic column equations.
type balances struct {
	ctx    *Context
	vle    VLE
	inputs FeedLookup
	s      *Startup
	nc     int

	y [][]float64
}

func (b *balances) width() int { return b.nc + 1 }

// Residual fulfils the dae.Residual type: bubble-point conditions for the
// temperature channels and f(x) - dx/dt for the composition channels.
func (b *balances) Residual(t float64, state, deriv, res []float64) error {
	z, F, err := b.inputs.FeedAt(t)
	if err != nil {
		return fmt.Errorf("colsim: feed lookup at t=%g: %w", t, err)
	}
	if len(z) != b.nc {
		return fmt.Errorf("colsim: feed lookup returned %d mole fractions for %d species", len(z), b.nc)
	}
	w := b.width()
	n := b.s.NumPlates
	x := func(i int) []float64 { return state[i*w+1 : (i+1)*w] }
	for i := 0; i <= n; i++ {
		xi := x(i)
		for j, v := range xi {
			if v < -compositionSlack || v > 1+compositionSlack {
				return fmt.Errorf("%w: plate %d, species %d: %g", ErrComposition, i, j, v)
			}
		}
		k, err := b.vle.KValues(b.ctx.Spec.Pressure, state[i*w], xi)
		if err != nil {
			return fmt.Errorf("colsim: K-values on plate %d: %w", i, err)
		}
		var g float64
		for j := range xi {
			g += xi[j] * (k[j] - 1)
			b.y[i][j] = k[j] * xi[j]
		}
		res[i*w] = g
	}

	f := b.s.FeedPlate
	fl := b.s.Flows
	M := b.s.Holdup
	y := b.y
	for j := 0; j < b.nc; j++ {
		for i := 0; i <= n; i++ {
			var dx float64
			switch {
			case i == 0:
				dx = fl.Vn * (y[1][j] - x(0)[j])
			case i < f:
				dx = fl.Vn*y[i+1][j] + fl.Ln*x(i-1)[j] - fl.Vn*y[i][j] - fl.Ln*x(i)[j]
			case i == f:
				dx = fl.Vm*y[i+1][j] + fl.Ln*x(i-1)[j] + F*z[j] - fl.Vn*y[i][j] - fl.Lm*x(i)[j]
			case i < n:
				dx = fl.Vm*y[i+1][j] + fl.Lm*x(i-1)[j] - fl.Vm*y[i][j] - fl.Lm*x(i)[j]
			default:
				dx = fl.Vm*x(n)[j] + fl.Lm*x(n-1)[j] - fl.Vm*y[n][j] - fl.Lm*x(n)[j]
			}
			res[i*w+1+j] = dx/M - deriv[i*w+1+j]
		}
	}
	return nil
}

// Startup solves the steady-state column and builds the initial state of
// the transient: the drum and every plate at the bubble point of the feed.
func (d *DynamicColumn) Startup() (*Startup, *Context, error) {
	log := d.Steady.logger()
	if d.Holdup <= 0 {
		return nil, nil, fmt.Errorf("colsim: plate holdup must be positive, got %g", d.Holdup)
	}
	ctx, err := Configure(d.Spec, d.Feed, d.Steady.VLE, log)
	if err != nil {
		return nil, nil, err
	}
	sol, err := d.Steady.SolveContext(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("colsim: dynamic startup: %w", err)
	}
	s := &Startup{
		Steady:      sol,
		NumPlates:   sol.Profile.NumPlates + 1,
		FeedPlate:   sol.Profile.FeedPlate + 1,
		Flows:       sol.Profile.Flows,
		D:           sol.Split.D,
		B:           sol.Split.B,
		Holdup:      d.Holdup,
		Diagnostics: append(Diagnostics(nil), sol.Diagnostics...),
	}
	if s.NumPlates < 2 {
		return nil, nil, fmt.Errorf("%w: a dynamic column needs at least 2 stages below the drum, have %d", ErrFeedPlate, s.NumPlates)
	}
	if s.FeedPlate < 1 || s.FeedPlate > s.NumPlates-1 {
		f := s.FeedPlate
		if f < 1 {
			s.FeedPlate = 1
		} else {
			s.FeedPlate = s.NumPlates - 1
		}
		s.Diagnostics.add(log, FeedPlateClamped, "dynamic startup",
			"feed plate %d moved to %d, inside the column", f, s.FeedPlate)
	}

	z := ctx.Feed.MoleFrac
	T0, err := d.Steady.VLE.BubblePoint(ctx.Spec.Pressure, z)
	if err != nil {
		return nil, nil, fmt.Errorf("colsim: feed bubble point: %w", err)
	}
	nc := len(z)
	w := nc + 1
	s.Y0 = make([]float64, (s.NumPlates+1)*w)
	for i := 0; i <= s.NumPlates; i++ {
		s.Y0[i*w] = T0
		copy(s.Y0[i*w+1:(i+1)*w], z)
	}
	b := d.balances(ctx, s)
	// With a zero derivative the residual is the balance itself.
	res := make([]float64, len(s.Y0))
	if err := b.Residual(0, s.Y0, make([]float64, len(s.Y0)), res); err != nil {
		return nil, nil, fmt.Errorf("colsim: initial derivative: %w", err)
	}
	s.Yp0 = make([]float64, len(res))
	for i := 0; i <= s.NumPlates; i++ {
		copy(s.Yp0[i*w+1:(i+1)*w], res[i*w+1:(i+1)*w])
	}
	return s, ctx, nil
}

func (d *DynamicColumn) balances(ctx *Context, s *Startup) *balances {
	inputs := d.Inputs
	if inputs == nil {
		inputs = ConstantFeed(ctx.Feed)
	}
	nc := ctx.NumSpecies()
	b := &balances{ctx: ctx, vle: d.Steady.VLE, inputs: inputs, s: s, nc: nc}
	b.y = make([][]float64, s.NumPlates+1)
	for i := range b.y {
		b.y[i] = make([]float64, nc)
	}
	return b
}

// Simulate runs the startup and integrates the column from t=0 to
// runtime.
func (d *DynamicColumn) Simulate(runtime float64) (*Trajectory, error) {
	s, ctx, err := d.Startup()
	if err != nil {
		return nil, err
	}
	b := d.balances(ctx, s)
	w := b.width()
	alg := make([]bool, len(s.Y0))
	for i := 0; i <= s.NumPlates; i++ {
		alg[i*w] = true
	}
	sol, err := dae.Solve(dae.Problem{
		Residual:  b.Residual,
		Y0:        s.Y0,
		Yp0:       s.Yp0,
		Algebraic: alg,
	}, runtime, d.Integrator)
	if err != nil {
		return nil, fmt.Errorf("colsim: dynamic simulation: %w", err)
	}

	tr := &Trajectory{
		Time:        sol.Time,
		T:           make([][]float64, len(sol.Time)),
		X:           make([][][]float64, len(sol.Time)),
		Startup:     s,
		Stats:       sol.Stats,
		Diagnostics: s.Diagnostics,
	}
	for k, state := range sol.Y {
		tr.T[k] = make([]float64, s.NumPlates+1)
		tr.X[k] = make([][]float64, s.NumPlates+1)
		for i := 0; i <= s.NumPlates; i++ {
			tr.T[k][i] = state[i*w]
			tr.X[k][i] = append([]float64(nil), state[i*w+1:(i+1)*w]...)
		}
	}
	end := len(sol.Time) - 1
	mk := d.Steady.streams()
	tr.Distillate, err = mk.MakeLiquidStream(ctx.Feed.ThermoPath, tr.T[end][0], tr.X[end][0], s.D)
	if err != nil {
		return nil, fmt.Errorf("colsim: making distillate stream: %w", err)
	}
	tr.Bottoms, err = mk.MakeLiquidStream(ctx.Feed.ThermoPath, tr.T[end][s.NumPlates], tr.X[end][s.NumPlates], s.B)
	if err != nil {
		return nil, fmt.Errorf("colsim: making bottoms stream: %w", err)
	}
	d.Steady.logger().WithFields(logrus.Fields{
		"steps":    sol.Stats.StepCount,
		"rejected": sol.Stats.RejectedCount,
		"evals":    sol.Stats.EvaluationCount,
	}).Info("colsim: dynamic simulation finished")
	return tr, nil
}
