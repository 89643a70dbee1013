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
	"math"
	"testing"

	"github.com/kr/pretty"
	"github.com/spatialmodel/colsim/science/vle/raoult"
)

const atm = 101325.

func different(a, b, tolerance float64) bool {
	if 2*math.Abs(a-b)/math.Abs(a+b) > tolerance || math.IsNaN(a) || math.IsNaN(b) {
		return true
	}
	return false
}

func absDifferent(a, b, tolerance float64) bool {
	return math.Abs(a-b) > tolerance || math.IsNaN(a) || math.IsNaN(b)
}

func btx() *raoult.Mixture {
	return raoult.New(raoult.Benzene, raoult.Toluene, raoult.OXylene)
}

func btxFeed() Feed {
	return Feed{
		Species:    []string{"benzene", "toluene", "o-xylene"},
		MoleFrac:   []float64{0.4, 0.3, 0.3},
		MoleFlow:   100,
		ThermoPath: "btx.toml",
	}
}

func btxSpec() ColumnSpec {
	return ColumnSpec{
		Pressure:         atm,
		FeedQuality:      1,
		LightKey:         "benzene",
		HeavyKey:         "toluene",
		LightKeyRecovery: 95,
		HeavyKeyRecovery: 5,
		ActivityModel:    raoult.Ideal,
	}
}

func sum(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x
	}
	return s
}

func TestConfigure(t *testing.T) {
	feed := btxFeed()
	feed.Pressure = 2 * atm
	ctx, err := Configure(btxSpec(), feed, btx(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if ctx.Feed.Pressure != atm {
		t.Errorf("feed pressure: have %g, want %g", ctx.Feed.Pressure, atm)
	}
	if feed.Pressure != 2*atm {
		t.Error("Configure modified its argument")
	}
	if ctx.LK != 0 || ctx.HK != 1 {
		t.Errorf("keys: have %d/%d, want 0/1", ctx.LK, ctx.HK)
	}
	if len(ctx.Lighter) != 0 || len(ctx.Heavier) != 1 || ctx.Heavier[0] != 2 {
		t.Errorf("non-keys: lighter %v, heavier %v", ctx.Lighter, ctx.Heavier)
	}
	if diff := pretty.Diff(ctx.Volatility, []int{0, 1, 2}); len(diff) != 0 {
		t.Errorf("volatility order: %v", diff)
	}
	if len(ctx.Diagnostics) != 0 {
		t.Errorf("unexpected warnings %v", ctx.Diagnostics)
	}
}

func TestConfigureNonAdjacent(t *testing.T) {
	spec := btxSpec()
	spec.HeavyKey = "o-xylene"
	ctx, err := Configure(spec, btxFeed(), btx(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !ctx.Diagnostics.Has(NonAdjacentKeys) {
		t.Errorf("expected a NonAdjacentKeys warning, have %v", ctx.Diagnostics)
	}
	if len(ctx.Lighter) != 1 || ctx.Lighter[0] != 1 {
		t.Errorf("the species between the keys should be lighter: %v", ctx.Lighter)
	}
	c := &Column{VLE: btx()}
	s, err := c.EstimateComposition(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if absDifferent(s.XDist[1]*s.D, 30, 1.e-10) {
		t.Errorf("toluene should go to the distillate: have %g", s.XDist[1]*s.D)
	}
}

func TestConfigureErrors(t *testing.T) {
	v := btx()
	for name, f := range map[string]func(*ColumnSpec, *Feed){
		"sum":       func(s *ColumnSpec, f *Feed) { f.MoleFrac = []float64{0.5, 0.3, 0.3} },
		"names":     func(s *ColumnSpec, f *Feed) { f.Species = f.Species[:2] },
		"key":       func(s *ColumnSpec, f *Feed) { s.LightKey = "water" },
		"order":     func(s *ColumnSpec, f *Feed) { s.LightKey, s.HeavyKey = s.HeavyKey, s.LightKey },
		"pressure":  func(s *ColumnSpec, f *Feed) { s.Pressure = 0 },
		"quality":   func(s *ColumnSpec, f *Feed) { s.FeedQuality = 1.5 },
		"flow":      func(s *ColumnSpec, f *Feed) { f.MoleFlow = 0 },
		"feedplate": func(s *ColumnSpec, f *Feed) { s.NumPlates, s.FeedPlate = 5, 7 },
	} {
		spec, feed := btxSpec(), btxFeed()
		f(&spec, &feed)
		if _, err := Configure(spec, feed, v, nil); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

func TestEstimateComposition(t *testing.T) {
	ctx, err := Configure(btxSpec(), btxFeed(), btx(), nil)
	if err != nil {
		t.Fatal(err)
	}
	c := &Column{VLE: btx()}
	s, err := c.EstimateComposition(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if absDifferent(s.D+s.B, 100, 1.e-10) {
		t.Errorf("D+B: have %g, want 100", s.D+s.B)
	}
	if absDifferent(s.B, 60.5, 1.e-10) {
		t.Errorf("B: have %g, want 60.5", s.B)
	}
	if absDifferent(sum(s.XDist), 1, 1.e-10) || absDifferent(sum(s.XBot), 1, 1.e-10) {
		t.Errorf("compositions do not sum to 1: %v, %v", s.XDist, s.XBot)
	}
	if s.XDist[2] != 0 {
		t.Errorf("heavy non-key in distillate: %g", s.XDist[2])
	}
	// Benzene/toluene relative volatility is about 2.4 to 2.6.
	if s.AlphaFenske < 2.2 || s.AlphaFenske > 2.8 {
		t.Errorf("Fenske volatility %g out of range", s.AlphaFenske)
	}
	want := math.Log(19*19) / math.Log(s.AlphaFenske)
	if different(s.MinPlates, want, 1.e-12) {
		t.Errorf("minimum plates: have %g, want %g", s.MinPlates, want)
	}
}

func TestEstimateCompositionNegativeFlow(t *testing.T) {
	spec := btxSpec()
	spec.LightKeyRecovery = -150
	ctx, err := Configure(spec, btxFeed(), btx(), nil)
	if err != nil {
		t.Fatal(err)
	}
	c := &Column{VLE: btx()}
	s, err := c.EstimateComposition(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !s.Diagnostics.Has(NegativeFlow) {
		t.Errorf("expected a NegativeFlow warning, have %v", s.Diagnostics)
	}
	if absDifferent(s.D+s.B, 100, 1.e-10) {
		t.Errorf("D+B: have %g, want 100", s.D+s.B)
	}
}

func TestUnderwood(t *testing.T) {
	ctx, err := Configure(btxSpec(), btxFeed(), btx(), nil)
	if err != nil {
		t.Fatal(err)
	}
	c := &Column{VLE: btx()}
	split, err := c.EstimateComposition(ctx)
	if err != nil {
		t.Fatal(err)
	}
	theta, rmin, alpha, err := c.Underwood(ctx, split)
	if err != nil {
		t.Fatal(err)
	}
	if theta <= alpha[1] || theta >= alpha[0] {
		t.Errorf("θ=%g is not between %g and %g", theta, alpha[1], alpha[0])
	}
	var f float64
	for i, z := range ctx.Feed.MoleFrac {
		f += alpha[i] * z / (alpha[i] - theta)
	}
	if math.Abs(f) > 1.e-6 {
		t.Errorf("first Underwood equation residual %g", f)
	}
	if rmin <= 0 || rmin > 3 {
		t.Errorf("minimum reflux %g out of range", rmin)
	}
}

func checkProfile(t *testing.T, s *Solution) {
	t.Helper()
	p := s.Profile
	if len(p.X) != p.NumPlates+1 || len(p.Y) != p.NumPlates+1 || len(p.T) != p.NumPlates+1 {
		t.Fatalf("profile lengths %d, %d, %d for %d plates", len(p.X), len(p.Y), len(p.T), p.NumPlates)
	}
	v := btx()
	for i := range p.X {
		if absDifferent(sum(p.X[i]), 1, 1.e-9) || absDifferent(sum(p.Y[i]), 1, 1.e-9) {
			t.Errorf("stage %d: compositions sum to %g and %g", i, sum(p.X[i]), sum(p.Y[i]))
		}
		tb, err := v.BubblePoint(atm, p.X[i])
		if err != nil {
			t.Fatal(err)
		}
		if absDifferent(tb, p.T[i], 1.e-6) {
			t.Errorf("stage %d: temperature %g is not the bubble point %g", i, p.T[i], tb)
		}
	}
	for i := 1; i < len(p.T); i++ {
		if p.T[i] < p.T[i-1]-1.e-6 {
			t.Errorf("temperature decreases from stage %d to %d: %g, %g", i-1, i, p.T[i-1], p.T[i])
		}
	}
}

func TestSolve(t *testing.T) {
	c := &Column{VLE: btx()}
	s, err := c.Solve(btxSpec(), btxFeed())
	if err != nil {
		t.Fatal(err)
	}
	if absDifferent(s.Split.D+s.Split.B, 100, 1.e-6) {
		t.Errorf("D+B: have %g, want 100", s.Split.D+s.Split.B)
	}
	if absDifferent(sum(s.Split.XDist), 1, 1.e-6) || absDifferent(sum(s.Split.XBot), 1, 1.e-6) {
		t.Errorf("product compositions do not sum to 1")
	}
	if s.Reflux.Policy != RefluxDefault || different(s.Reflux.Ratio, 1.5*s.Reflux.Min, 1.e-12) {
		t.Errorf("reflux %g with policy %d, min %g", s.Reflux.Ratio, s.Reflux.Policy, s.Reflux.Min)
	}
	if !(s.Reflux.Min < s.Reflux.Ratio) {
		t.Errorf("minimum reflux %g is not below reflux %g", s.Reflux.Min, s.Reflux.Ratio)
	}
	p := s.Profile
	if p.NumPlates <= 0 || p.NumPlates > 2*DefaultTolerances().PlateCap {
		t.Errorf("plate count %d out of range", p.NumPlates)
	}
	if float64(p.NumPlates) < s.Split.MinPlates {
		t.Errorf("%d plates is fewer than the Fenske minimum %g", p.NumPlates, s.Split.MinPlates)
	}
	if p.FeedPlate <= 0 || p.FeedPlate >= p.NumPlates {
		t.Errorf("feed plate %d is not inside the column of %d plates", p.FeedPlate, p.NumPlates)
	}
	checkProfile(t, s)

	last := p.X[p.NumPlates]
	if last[0] > 1.2*s.Split.XBot[0] {
		t.Errorf("bottoms light key %g above target %g", last[0], s.Split.XBot[0])
	}
	d := p.Distillate.(*LiquidStream)
	if d.MoleFlow != s.Split.D || d.Temperature != p.T[0] || d.ThermoPath != "btx.toml" {
		t.Errorf("distillate stream %+v", d)
	}
	b := p.Bottoms.(*LiquidStream)
	if b.MoleFlow != s.Split.B || b.Temperature != p.T[p.NumPlates] {
		t.Errorf("bottoms stream %+v", b)
	}
}

// O-xylene is absent from the distillate, so the operating lines never
// carry it and the last stage is not the bottoms product.
func TestHeavyNonKeyClipped(t *testing.T) {
	c := &Column{VLE: btx()}
	s, err := c.Solve(btxSpec(), btxFeed())
	if err != nil {
		t.Fatal(err)
	}
	p := s.Profile
	if !p.Diagnostics.Has(CompositionClipped) {
		t.Errorf("no %v warning in %v", CompositionClipped, p.Diagnostics)
	}
	for i, x := range p.X {
		if x[2] != 0 {
			t.Errorf("stage %d carries o-xylene %g", i, x[2])
		}
	}
	b := p.Bottoms.(*LiquidStream)
	if s.Split.XBot[2] < 0.4 {
		t.Errorf("bottoms o-xylene target %g", s.Split.XBot[2])
	}
	for j, want := range s.Split.XBot {
		if b.MoleFrac[j] != want {
			t.Errorf("bottoms stream species %d: have %g, want %g", j, b.MoleFrac[j], want)
		}
	}
}

func TestSolveDeterministic(t *testing.T) {
	c := &Column{VLE: btx()}
	spec := btxSpec()
	spec.NumPlates = 12
	s1, err := c.Solve(spec, btxFeed())
	if err != nil {
		t.Fatal(err)
	}
	s2, err := c.Solve(spec, btxFeed())
	if err != nil {
		t.Fatal(err)
	}
	if diff := pretty.Diff(s1, s2); len(diff) != 0 {
		t.Errorf("solutions differ: %v", diff)
	}
}

func TestSolveFixedPlates(t *testing.T) {
	c := &Column{VLE: btx()}
	spec := btxSpec()
	spec.NumPlates = 12
	s, err := c.Solve(spec, btxFeed())
	if err != nil {
		t.Fatal(err)
	}
	if s.Reflux.Policy != RefluxFitted {
		t.Errorf("policy: have %d, want %d", s.Reflux.Policy, RefluxFitted)
	}
	if s.Reflux.Ratio < 1.01*s.Reflux.Min-1.e-12 || s.Reflux.Ratio > 1000 {
		t.Errorf("fitted reflux %g outside [%g, 1000]", s.Reflux.Ratio, 1.01*s.Reflux.Min)
	}
	if s.Profile.NumPlates != 12 {
		t.Errorf("plates: have %d, want 12", s.Profile.NumPlates)
	}
	checkProfile(t, s)

	spec.FeedPlate = 4
	s, err = c.Solve(spec, btxFeed())
	if err != nil {
		t.Fatal(err)
	}
	if s.Profile.FeedPlate != 4 {
		t.Errorf("feed plate: have %d, want 4", s.Profile.FeedPlate)
	}
}

func TestRefluxPolicy(t *testing.T) {
	c := &Column{VLE: btx()}
	ctx, err := Configure(btxSpec(), btxFeed(), btx(), nil)
	if err != nil {
		t.Fatal(err)
	}
	split, err := c.EstimateComposition(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, test := range []struct {
		reflux float64
		policy RefluxPolicy
		factor float64
		warn   bool
	}{
		{reflux: 0, policy: RefluxDefault, factor: 1.5},
		{reflux: -2, policy: RefluxMultiple, factor: 2},
		{reflux: 0.1, policy: RefluxDefault, factor: 1.5, warn: true},
	} {
		ctx2 := *ctx
		ctx2.Spec.Reflux = test.reflux
		r, err := c.CalcReflux(&ctx2, split)
		if err != nil {
			t.Fatal(err)
		}
		if r.Policy != test.policy || different(r.Ratio, test.factor*r.Min, 1.e-12) {
			t.Errorf("reflux %g: have %g (policy %d), want %g", test.reflux, r.Ratio, r.Policy, test.factor*r.Min)
		}
		if r.Diagnostics.Has(RefluxBelowMinimum) != test.warn {
			t.Errorf("reflux %g: warnings %v", test.reflux, r.Diagnostics)
		}
	}
	ctx2 := *ctx
	ctx2.Spec.Reflux = 4
	r, err := c.CalcReflux(&ctx2, split)
	if err != nil {
		t.Fatal(err)
	}
	if r.Policy != RefluxGiven || r.Ratio != 4 {
		t.Errorf("given reflux: have %g (policy %d)", r.Ratio, r.Policy)
	}
}

func TestPlateCap(t *testing.T) {
	c := &Column{VLE: btx()}
	c.Tolerances = DefaultTolerances()
	c.Tolerances.PlateCap = 2
	_, err := c.Solve(btxSpec(), btxFeed())
	if !errors.Is(err, ErrPlateCap) {
		t.Fatalf("have error %v, want %v", err, ErrPlateCap)
	}
	var se *StageError
	if !errors.As(err, &se) || se.Iteration != 2 {
		t.Errorf("stage error: %#v", err)
	}
}

func TestCachedVLE(t *testing.T) {
	v := NewCachedVLE(btx(), 1000)
	c := &Column{VLE: v}
	spec := btxSpec()
	spec.NumPlates = 12
	cached, err := c.Solve(spec, btxFeed())
	if err != nil {
		t.Fatal(err)
	}
	hits, misses := v.Stats()
	if hits == 0 || misses == 0 {
		t.Errorf("hits %d, misses %d", hits, misses)
	}
	plain, err := (&Column{VLE: btx()}).Solve(spec, btxFeed())
	if err != nil {
		t.Fatal(err)
	}
	if diff := pretty.Diff(cached.Profile, plain.Profile); len(diff) != 0 {
		t.Errorf("cached solution differs: %v", diff)
	}
}
