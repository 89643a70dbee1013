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
	"gonum.org/v1/gonum/optimize"
)

// RefluxPolicy records how the reflux ratio was chosen.
type RefluxPolicy int

// Reflux policies.
const (
	// RefluxDefault is a fixed multiple of the minimum reflux, used when
	// no reflux is given or the given one is too small.
	RefluxDefault RefluxPolicy = iota
	// RefluxMultiple is a user-requested multiple of the minimum reflux.
	RefluxMultiple
	// RefluxGiven is the user-specified ratio.
	RefluxGiven
	// RefluxFitted is found by matching the bottoms composition after a
	// fixed number of plates.
	RefluxFitted
)

// Reflux holds the minimum and operating reflux ratios.
type Reflux struct {
	// Min is the Underwood minimum reflux ratio.
	Min float64
	// Ratio is the operating reflux ratio.
	Ratio float64
	// Theta is the Underwood root.
	Theta float64
	// Alpha holds the relative volatilities to the heavy key at the feed
	// bubble point.
	Alpha []float64

	Policy RefluxPolicy

	Diagnostics Diagnostics
}

// searchSettings returns the settings for the one-dimensional Nelder-Mead
// searches.
func searchSettings() *optimize.Settings {
	return &optimize.Settings{
		Converger: &optimize.FunctionConverge{
			Absolute:   1.e-16,
			Iterations: 40,
		},
		MajorIterations: 2000,
	}
}

// Underwood returns the Underwood root θ and the minimum reflux ratio.
// θ lies between the heavy-key and light-key relative volatilities and
// zeroes Σ α z/(α-θ) - (1-q).
func (c *Column) Underwood(ctx *Context, split *Split) (theta, rmin float64, alpha []float64, err error) {
	const stage = "underwood"
	z := ctx.Feed.MoleFrac
	k, _, err := kAtBubble(c.VLE, ctx.Spec.Pressure, z)
	if err != nil {
		return 0, 0, nil, &StageError{Stage: stage, Err: err}
	}
	alpha = make([]float64, len(k))
	for i := range k {
		alpha[i] = k[i] / k[ctx.HK]
	}
	lo, hi := alpha[ctx.HK], alpha[ctx.LK]
	if !(hi > lo) {
		return 0, 0, nil, &StageError{Stage: stage, Err: fmt.Errorf("%w: light key is not more volatile than heavy key (α=%g)", ErrSearch, hi)}
	}
	guard := c.tolerances().UnderwoodGuard
	rhs := 1 - ctx.Spec.FeedQuality
	thetaOf := func(u float64) float64 { return lo + (hi-lo)/(1+math.Exp(-u)) }
	p := optimize.Problem{
		Func: func(u []float64) float64 {
			th := thetaOf(u[0])
			var s float64
			for i := range alpha {
				s += alpha[i] * z[i] / (alpha[i] - th + guard)
			}
			s -= rhs
			return s * s
		},
	}
	res, err := optimize.Minimize(p, []float64{0}, searchSettings(), &optimize.NelderMead{})
	if err != nil {
		return 0, 0, nil, &StageError{Stage: stage, Err: fmt.Errorf("%w: %v", ErrSearch, err)}
	}
	theta = thetaOf(res.X[0])

	var vmin float64
	for i := range alpha {
		vmin += alpha[i] * split.D * split.XDist[i] / (alpha[i] - theta)
	}
	rmin = (vmin - split.D) / split.D
	c.logger().WithFields(logrus.Fields{
		"theta":      theta,
		"residual":   math.Sqrt(res.F),
		"min reflux": rmin,
	}).Debug("colsim: Underwood root found")
	return theta, rmin, alpha, nil
}

// CalcReflux computes the minimum reflux ratio and selects the operating
// reflux ratio. When the number of plates is fixed, the reflux ratio is
// the one whose last stage best matches the bottoms composition.
func (c *Column) CalcReflux(ctx *Context, split *Split) (*Reflux, error) {
	const stage = "calc_reflux"
	log := c.logger()
	tol := c.tolerances()
	theta, rmin, alpha, err := c.Underwood(ctx, split)
	if err != nil {
		return nil, err
	}
	rf := &Reflux{Min: rmin, Theta: theta, Alpha: alpha}

	r := ctx.Spec.Reflux
	switch {
	case r == 0:
		rf.Ratio, rf.Policy = tol.RefluxFactor*rmin, RefluxDefault
	case r < 0:
		rf.Ratio, rf.Policy = -r*rmin, RefluxMultiple
	case r < rmin:
		rf.Diagnostics.add(log, RefluxBelowMinimum, stage,
			"reflux %g is below the minimum %g, using %g times the minimum", r, rmin, tol.RefluxFactor)
		rf.Ratio, rf.Policy = tol.RefluxFactor*rmin, RefluxDefault
	default:
		rf.Ratio, rf.Policy = r, RefluxGiven
	}

	n := ctx.Spec.NumPlates
	if n == 0 {
		return rf, nil
	}

	lower, upper := tol.RefluxLowerFactor*rmin, tol.RefluxUpper
	clip := func(r float64) float64 { return math.Max(lower, math.Min(upper, r)) }
	var evalErr error
	p := optimize.Problem{
		Func: func(v []float64) float64 {
			e, err := c.bottomsError(ctx, split, clip(v[0]), n)
			if err != nil && evalErr == nil {
				evalErr = err
			}
			return e
		},
	}
	res, err := optimize.Minimize(p, []float64{tol.RefluxFactor * rmin}, searchSettings(), &optimize.NelderMead{})
	if err != nil {
		return nil, &StageError{Stage: stage, Err: fmt.Errorf("%w: %v", ErrSearch, err)}
	}
	if math.IsInf(res.F, 1) || math.IsNaN(res.F) {
		return nil, &StageError{Stage: stage, Err: fmt.Errorf("%w: %v", ErrSearch, evalErr)}
	}
	rf.Ratio, rf.Policy = clip(res.X[0]), RefluxFitted
	log.WithFields(logrus.Fields{
		"reflux":    rf.Ratio,
		"objective": res.F,
		"evals":     res.Stats.FuncEvaluations,
	}).Debug("colsim: reflux fitted to plate count")
	return rf, nil
}
