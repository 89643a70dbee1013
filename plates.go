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

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

// Flows holds the constant molal overflow rates of the two column
// sections.
type Flows struct {
	// Ln and Vn are the rectifying liquid and vapor flows.
	Ln, Vn float64
	// Lm and Vm are the stripping liquid and vapor flows.
	Lm, Vm float64
}

// SectionFlows returns the internal flows at reflux ratio r.
func SectionFlows(ctx *Context, split *Split, r float64) Flows {
	F := ctx.Feed.MoleFlow
	var f Flows
	f.Ln = r * split.D
	f.Vn = f.Ln + split.D
	f.Lm = f.Ln + F + F*(ctx.Spec.FeedQuality-1)
	f.Vm = f.Lm - split.B
	return f
}

// Profile is a plate-by-plate solution. Stage 0 is the top stage below the
// total condenser and stage NumPlates is the reboiler.
//
// The operating lines carry no species that is absent from the distillate
// estimate. Such heavy non-keys are clipped to zero on every stage (see
// CompositionClipped), so X[NumPlates] is then not the bottoms product.
// Use Bottoms or Split.XBot for it.
type Profile struct {
	// X and Y are the liquid and vapor mole fractions of each stage.
	X, Y [][]float64
	// T is the temperature [K] of each stage.
	T []float64

	NumPlates int

	// FeedPlate is the last stage whose entering vapor follows the
	// rectifying operating line.
	FeedPlate int

	Flows

	// Distillate and Bottoms are the product streams.
	Distillate, Bottoms Stream

	Diagnostics Diagnostics
}

// stepper walks down the column one equilibrium stage at a time.
type stepper struct {
	ctx   *Context
	vle   VLE
	split *Split
	flows Flows
	tol   Tolerances
	log   logrus.FieldLogger

	x, y [][]float64
	t    []float64

	clipped bool
}

func newStepper(c *Column, ctx *Context, split *Split, r float64) *stepper {
	return &stepper{
		ctx:   ctx,
		vle:   c.VLE,
		split: split,
		flows: SectionFlows(ctx, split, r),
		tol:   c.tolerances(),
		log:   c.logger(),
	}
}

// rectifying returns the vapor rising into a stage whose liquid above has
// composition x, using the rectifying operating line.
func (s *stepper) rectifying(x []float64) []float64 {
	a := s.flows.Ln / s.flows.Vn
	y := make([]float64, len(x))
	for i := range x {
		y[i] = x[i]*a + (1-a)*s.split.XDist[i]
	}
	return y
}

// stripping is like rectifying for the stripping operating line.
func (s *stepper) stripping(x []float64) []float64 {
	a := s.flows.Lm / s.flows.Vm
	y := make([]float64, len(x))
	for i := range x {
		y[i] = x[i]*a - (a-1)*s.split.XBot[i]
	}
	return y
}

// keyRatio returns the light-key to heavy-key ratio of y. A composition
// without heavy key gives +Inf.
func (s *stepper) keyRatio(y []float64) float64 {
	if y[s.ctx.HK] <= 0 {
		return math.Inf(1)
	}
	return y[s.ctx.LK] / y[s.ctx.HK]
}

// rectifyingFavored reports whether the stage below liquid x still belongs
// to the rectifying section.
func (s *stepper) rectifyingFavored(x []float64) bool {
	return s.keyRatio(s.rectifying(x)) < s.keyRatio(s.stripping(x))
}

// bottomsMet reports whether liquid x is close enough to the bottoms
// target to end the stripping section.
func (s *stepper) bottomsMet(x []float64) bool {
	lk, hk := s.ctx.LK, s.ctx.HK
	return x[hk] >= s.tol.HeavyKeyFactor*s.split.XBot[hk] &&
		x[lk] <= s.tol.LightKeyFactor*s.split.XBot[lk]
}

// project clips negative mole fractions and renormalizes.
func (s *stepper) project(y []float64) {
	for i, v := range y {
		if v < 0 {
			y[i] = 0
			s.clipped = true
		}
	}
	floats.Scale(1/floats.Sum(y), y)
}

// stage adds an equilibrium stage whose vapor has composition y.
func (s *stepper) stage(y []float64) error {
	s.project(y)
	x, T, err := s.vle.DewPoint(s.ctx.Spec.Pressure, y, s.ctx.Spec.ActivityModel)
	if err != nil {
		return &StageError{Stage: "dew point", Iteration: len(s.y), Err: err}
	}
	s.y = append(s.y, y)
	s.x = append(s.x, x)
	s.t = append(s.t, T)
	return nil
}

func (s *stepper) last() []float64 { return s.x[len(s.x)-1] }

// top adds stage 0, whose vapor is the distillate.
func (s *stepper) top() error {
	return s.stage(append([]float64(nil), s.split.XDist...))
}

// fixedCount steps through stages 1..n. If feed > 0 the operating line
// switches after that stage. Otherwise it switches the first time the
// rectifying criterion fails. It returns the feed plate.
func (s *stepper) fixedCount(n, feed int) (int, bool, error) {
	if err := s.top(); err != nil {
		return 0, false, err
	}
	rect := true
	feedPlate := 0
	for i := 1; i <= n; i++ {
		if feed > 0 {
			rect = i <= feed
		} else if rect {
			rect = s.rectifyingFavored(s.last())
		}
		var y []float64
		if rect {
			y = s.rectifying(s.last())
			feedPlate = i
		} else {
			y = s.stripping(s.last())
		}
		if err := s.stage(y); err != nil {
			return 0, false, err
		}
	}
	if feed > 0 {
		return feed, false, nil
	}
	if feedPlate == 0 {
		return n, true, nil
	}
	return feedPlate, false, nil
}

// openCount steps down the rectifying section until the stripping line
// gives the richer vapor and then down the stripping section until the
// bottoms target is met. It returns the feed plate.
func (s *stepper) openCount() (int, error) {
	if err := s.top(); err != nil {
		return 0, err
	}
	feedPlate := 0
	for s.rectifyingFavored(s.last()) {
		if feedPlate >= s.tol.PlateCap {
			return 0, &StageError{Stage: "calc_plates/rectifying", Iteration: feedPlate, Err: ErrPlateCap}
		}
		if err := s.stage(s.rectifying(s.last())); err != nil {
			return 0, err
		}
		feedPlate++
	}
	for n := 0; !s.bottomsMet(s.last()); n++ {
		if n >= s.tol.PlateCap {
			return 0, &StageError{Stage: "calc_plates/stripping", Iteration: n, Err: ErrPlateCap}
		}
		if err := s.stage(s.stripping(s.last())); err != nil {
			return 0, err
		}
	}
	return feedPlate, nil
}

// CalcPlates computes the plate profile at reflux ratio r. If the
// specification fixes the number of plates, exactly that many stages are
// stepped. Otherwise stepping continues until the bottoms composition is
// reached.
func (c *Column) CalcPlates(ctx *Context, split *Split, r float64) (*Profile, error) {
	const stage = "calc_plates"
	s := newStepper(c, ctx, split, r)
	p := &Profile{Flows: s.flows}
	if n := ctx.Spec.NumPlates; n > 0 {
		feed, defaulted, err := s.fixedCount(n, ctx.Spec.FeedPlate)
		if err != nil {
			return nil, err
		}
		if defaulted {
			p.Diagnostics.add(s.log, FeedPlateDefaulted, stage,
				"rectifying section is empty, feed placed on last stage %d", n)
		}
		p.NumPlates, p.FeedPlate = n, feed
	} else {
		feed, err := s.openCount()
		if err != nil {
			return nil, err
		}
		p.NumPlates, p.FeedPlate = len(s.y)-1, feed
	}
	if s.clipped {
		p.Diagnostics.add(s.log, CompositionClipped, stage,
			"operating line gave negative vapor mole fractions, which were set to zero")
	}
	p.X, p.Y, p.T = s.x, s.y, s.t

	mk := c.streams()
	var err error
	p.Distillate, err = mk.MakeLiquidStream(ctx.Feed.ThermoPath, p.T[0], split.XDist, split.D)
	if err != nil {
		return nil, fmt.Errorf("colsim: making distillate stream: %w", err)
	}
	p.Bottoms, err = mk.MakeLiquidStream(ctx.Feed.ThermoPath, p.T[p.NumPlates], split.XBot, split.B)
	if err != nil {
		return nil, fmt.Errorf("colsim: making bottoms stream: %w", err)
	}
	return p, nil
}

// bottomsError simulates exactly n stages at reflux r and returns the
// relative deviation [%] of the last stage from the bottoms target, plus
// a penalty on large reflux ratios.
func (c *Column) bottomsError(ctx *Context, split *Split, r float64, n int) (float64, error) {
	s := newStepper(c, ctx, split, r)
	if _, _, err := s.fixedCount(n, ctx.Spec.FeedPlate); err != nil {
		return math.Inf(1), err
	}
	dev := floats.Distance(split.XBot, s.last(), 2) / floats.Norm(split.XBot, 2)
	return dev*100 + s.tol.RefluxPenalty*r*r, nil
}
