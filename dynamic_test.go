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
	"testing"

	"github.com/spatialmodel/colsim/science/vle/raoult"
)

func btxDynamic() *DynamicColumn {
	return &DynamicColumn{
		Steady: Column{VLE: btx()},
		Spec:   btxSpec(),
		Feed:   btxFeed(),
		Holdup: 10,
	}
}

func TestStartup(t *testing.T) {
	d := btxDynamic()
	s, ctx, err := d.Startup()
	if err != nil {
		t.Fatal(err)
	}
	if s.FeedPlate < 1 || s.FeedPlate >= s.NumPlates {
		t.Errorf("feed plate %d outside of (0, %d)", s.FeedPlate, s.NumPlates)
	}
	// Row 0 is the drum above steady stage 0.
	if p := s.Steady.Profile; s.NumPlates != p.NumPlates+1 || s.FeedPlate != p.FeedPlate+1 {
		t.Errorf("rows %d with feed on %d for a steady column of %d stages fed on %d",
			s.NumPlates, s.FeedPlate, p.NumPlates, p.FeedPlate)
	}
	T0, err := btx().BubblePoint(atm, btxFeed().MoleFrac)
	if err != nil {
		t.Fatal(err)
	}
	w := ctx.NumSpecies() + 1
	if len(s.Y0) != (s.NumPlates+1)*w {
		t.Fatalf("state length %d, want %d", len(s.Y0), (s.NumPlates+1)*w)
	}
	for i := 0; i <= s.NumPlates; i++ {
		if s.Y0[i*w] != T0 {
			t.Errorf("plate %d: T = %g, want %g", i, s.Y0[i*w], T0)
		}
		if s.Yp0[i*w] != 0 {
			t.Errorf("plate %d: dT/dt = %g, want 0", i, s.Yp0[i*w])
		}
	}

	// The initial state and derivative satisfy the residual.
	b := d.balances(ctx, s)
	res := make([]float64, len(s.Y0))
	if err := b.Residual(0, s.Y0, s.Yp0, res); err != nil {
		t.Fatal(err)
	}
	for i, r := range res {
		if absDifferent(r, 0, 1.e-8) {
			t.Errorf("residual %d: %g", i, r)
		}
	}
}

func TestStartupErrors(t *testing.T) {
	d := btxDynamic()
	d.Holdup = 0
	if _, _, err := d.Startup(); err == nil {
		t.Error("zero holdup should fail")
	}
	d = btxDynamic()
	d.Feed.MoleFlow = -1
	if _, _, err := d.Startup(); err == nil {
		t.Error("negative feed should fail")
	}
}

// checkSteady checks that the end of a trajectory satisfies the overall
// component balance for feed f.
func checkSteady(t *testing.T, tr *Trajectory, f Feed) {
	end := len(tr.Time) - 1
	n := tr.Startup.NumPlates
	x0, xN := tr.X[end][0], tr.X[end][n]
	for i := 0; i <= n; i++ {
		if absDifferent(sum(tr.X[end][i]), 1, 1.e-4) {
			t.Errorf("plate %d: mole fractions sum to %g", i, sum(tr.X[end][i]))
		}
	}
	for j, z := range f.MoleFrac {
		in := f.MoleFlow * z
		out := tr.Startup.D*x0[j] + tr.Startup.B*xN[j]
		if absDifferent(in, out, 1.e-2*f.MoleFlow) {
			t.Errorf("species %d: in %g, out %g", j, in, out)
		}
	}
	if tr.T[end][n] <= tr.T[end][0] {
		t.Errorf("reboiler at %g K is not hotter than the top at %g K", tr.T[end][n], tr.T[end][0])
	}
}

func TestSimulate(t *testing.T) {
	d := btxDynamic()
	tr, err := d.Simulate(200)
	if err != nil {
		t.Fatal(err)
	}
	if tr.Time[0] != 0 || tr.Time[len(tr.Time)-1] != 200 {
		t.Errorf("time span [%g, %g]", tr.Time[0], tr.Time[len(tr.Time)-1])
	}
	if len(tr.T) != len(tr.Time) || len(tr.X) != len(tr.Time) {
		t.Fatalf("trajectory lengths %d, %d and %d", len(tr.Time), len(tr.T), len(tr.X))
	}
	checkSteady(t, tr, d.Feed)

	end := len(tr.Time) - 1
	n := tr.Startup.NumPlates
	if x := tr.X[end][0][0]; x < 0.6 {
		t.Errorf("distillate benzene %g, want > 0.6", x)
	}
	if x := tr.X[end][n][0]; x > 0.2 {
		t.Errorf("bottoms benzene %g, want < 0.2", x)
	}
	dist := tr.Distillate.(*LiquidStream)
	if dist.MoleFlow != tr.Startup.D || dist.Temperature != tr.T[end][0] {
		t.Errorf("distillate stream %+v", dist)
	}
	if tr.Stats.StepCount == 0 {
		t.Error("no steps taken")
	}
}

func TestSimulateStepFeed(t *testing.T) {
	base, err := btxDynamic().Simulate(200)
	if err != nil {
		t.Fatal(err)
	}

	after := btxFeed()
	after.MoleFrac = []float64{0.3, 0.35, 0.35}
	d := btxDynamic()
	d.Inputs, err = StepFeed(btxFeed(), after, 20)
	if err != nil {
		t.Fatal(err)
	}
	tr, err := d.Simulate(200)
	if err != nil {
		t.Fatal(err)
	}
	checkSteady(t, tr, after)

	// Less benzene enters at the same distillate rate.
	bEnd, sEnd := len(base.Time)-1, len(tr.Time)-1
	if tr.X[sEnd][0][0] > base.X[bEnd][0][0]-0.05 {
		t.Errorf("distillate benzene %g after the step, %g without", tr.X[sEnd][0][0], base.X[bEnd][0][0])
	}
}

func TestStepFeed(t *testing.T) {
	after := btxFeed()
	after.MoleFrac = []float64{0.2, 0.4, 0.4}
	after.MoleFlow = 50
	f, err := StepFeed(btxFeed(), after, 10)
	if err != nil {
		t.Fatal(err)
	}
	z, F, err := f.FeedAt(9.99)
	if err != nil || z[0] != 0.4 || F != 100 {
		t.Errorf("before step: %v, %g, %v", z, F, err)
	}
	z, F, err = f.FeedAt(10)
	if err != nil || z[0] != 0.2 || F != 50 {
		t.Errorf("after step: %v, %g, %v", z, F, err)
	}

	after.MoleFrac = after.MoleFrac[:2]
	if _, err := StepFeed(btxFeed(), after, 10); err == nil {
		t.Error("mismatched compositions should fail")
	}
}

func TestSimulateFeedError(t *testing.T) {
	d := btxDynamic()
	fail := errors.New("no data")
	d.Inputs = FeedFunc(func(t float64) ([]float64, float64, error) {
		if t > 5 {
			return nil, 0, fail
		}
		return btxFeed().MoleFrac, 100, nil
	})
	if _, err := d.Simulate(50); !errors.Is(err, fail) {
		t.Errorf("error %v does not wrap the feed lookup failure", err)
	}
}

func benzeneToluene() *DynamicColumn {
	spec := btxSpec()
	return &DynamicColumn{
		Steady: Column{VLE: raoult.New(raoult.Benzene, raoult.Toluene)},
		Spec:   spec,
		Feed: Feed{
			Species:    []string{"benzene", "toluene"},
			MoleFrac:   []float64{0.5, 0.5},
			MoleFlow:   100,
			ThermoPath: "btx.toml",
		},
		Holdup: 10,
	}
}

// A settled binary column reproduces the steady design one row below the
// drum. The steady design only approximates the bottoms target, so the
// two agree to within its closure.
func TestSimulateMatchesSteady(t *testing.T) {
	d := benzeneToluene()
	tr, err := d.Simulate(2000)
	if err != nil {
		t.Fatal(err)
	}
	end := len(tr.Time) - 1
	sol := tr.Startup.Steady
	p := sol.Profile
	if tr.Startup.NumPlates != p.NumPlates+1 {
		t.Fatalf("%d rows for %d steady stages", tr.Startup.NumPlates, p.NumPlates)
	}
	for j, want := range sol.Split.XDist {
		if absDifferent(tr.X[end][0][j], want, 0.02) {
			t.Errorf("drum species %d: have %g, want %g", j, tr.X[end][0][j], want)
		}
	}
	for i := 0; i <= p.NumPlates; i++ {
		for j, want := range p.X[i] {
			if have := tr.X[end][i+1][j]; absDifferent(have, want, 0.02) {
				t.Errorf("steady stage %d, species %d: have %g, want %g", i, j, have, want)
			}
		}
	}

	// Stepping the operating lines from the settled products gives the
	// settled rows back.
	split := &Split{
		D:     tr.Startup.D,
		B:     tr.Startup.B,
		XDist: tr.X[end][0],
		XBot:  tr.X[end][tr.Startup.NumPlates],
	}
	st := newStepper(&d.Steady, sol.Context, split, sol.Reflux.Ratio)
	st.flows = tr.Startup.Flows
	if _, _, err := st.fixedCount(p.NumPlates, p.FeedPlate); err != nil {
		t.Fatal(err)
	}
	for i := range st.x {
		for j, want := range st.x[i] {
			if have := tr.X[end][i+1][j]; absDifferent(have, want, 1.e-3) {
				t.Errorf("row %d, species %d: have %g, operating line gives %g", i+1, j, have, want)
			}
		}
		if absDifferent(tr.T[end][i+1], st.t[i], 0.05) {
			t.Errorf("row %d: T = %g, operating line gives %g", i+1, tr.T[end][i+1], st.t[i])
		}
	}
	if st.clipped {
		t.Error("binary operating lines should not clip")
	}
}
