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

// Package dae integrates semi-explicit index-1 differential-algebraic
// systems F(t, y, y') = 0 with a variable-step backward differentiation
// formula of order one or two. Channels flagged as algebraic take no part
// in the local error test; their values are fixed by the Newton solve at
// every step.
package dae

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrStepTooSmall is returned when the step size falls below
	// Config.MinStepSize.
	ErrStepTooSmall = errors.New("dae: step size too small")

	// ErrNewton is returned when the corrector iteration fails inside a
	// step.
	ErrNewton = errors.New("dae: Newton iteration did not converge")

	// ErrMaxSteps is returned when Config.MaxStepCount steps do not reach
	// the end time.
	ErrMaxSteps = errors.New("dae: maximum step count reached")
)

// StepError carries the integrator state at a failure.
type StepError struct {
	Step     int
	Time     float64
	StepSize float64
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("dae: step %d at t=%g (h=%g): %v", e.Step, e.Time, e.StepSize, e.Err)
}

// Unwrap returns the underlying error.
func (e *StepError) Unwrap() error { return e.Err }

// Residual evaluates F(t, y, yp) into res. A returned error makes the
// integrator reject the current step and retry with a smaller one.
type Residual func(t float64, y, yp, res []float64) error

// Problem is an initial value problem.
type Problem struct {
	Residual Residual

	T0      float64
	Y0, Yp0 []float64

	// Algebraic flags the channels whose derivative does not appear in
	// F. If nil, all channels are differential.
	Algebraic []bool
}

// Config holds the integrator settings. Zero values select defaults.
type Config struct {
	// InitialStepSize is the size of the first step.
	InitialStepSize float64

	// MinStepSize is the smallest step size before the integrator gives
	// up. MaxStepSize bounds the step size from above.
	MinStepSize, MaxStepSize float64

	AbsoluteTolerance, RelativeTolerance float64

	// MaxStepCount is the maximum number of accepted steps.
	MaxStepCount int

	// MaxNewtonIterations bounds the corrector iterations per step.
	MaxNewtonIterations int

	// MaxOrder is 1 (backward Euler) or 2.
	MaxOrder int

	// CalcInitialCondition makes the integrator solve for the algebraic
	// components of Y0 and the differential components of Yp0 before
	// the first step.
	CalcInitialCondition bool
}

func (c Config) withDefaults(span float64) Config {
	if c.AbsoluteTolerance <= 0 {
		c.AbsoluteTolerance = 1.e-6
	}
	if c.RelativeTolerance <= 0 {
		c.RelativeTolerance = 1.e-6
	}
	if c.MaxStepSize <= 0 {
		c.MaxStepSize = span
	}
	if c.MinStepSize <= 0 {
		c.MinStepSize = 1.e-14 * span
	}
	if c.InitialStepSize <= 0 {
		c.InitialStepSize = math.Min(1.e-6*span, c.MaxStepSize)
	}
	if c.MaxStepCount <= 0 {
		c.MaxStepCount = 100000
	}
	if c.MaxNewtonIterations <= 0 {
		c.MaxNewtonIterations = 6
	}
	if c.MaxOrder <= 0 || c.MaxOrder > 2 {
		c.MaxOrder = 2
	}
	return c
}

// Statistics describes the work done by the integrator.
type Statistics struct {
	StepCount       int
	RejectedCount   int
	EvaluationCount int
	JacobianCount   int

	LastStepSize float64
	NextStepSize float64
	CurrentTime  float64
}

// Solution holds the state at every accepted step, including the initial
// state.
type Solution struct {
	Time  []float64
	Y, Yp [][]float64
	Stats Statistics
}

const (
	safety     = 0.9
	maxGrow    = 2.
	minShrink  = 0.2
	newtonTol  = 0.33
	newtonFail = 0.25
)

type integrator struct {
	p   Problem
	cfg Config
	n   int

	t             float64
	y, yp         []float64
	yPrev, ypPrev []float64
	hPrev         float64
	order         int

	stats Statistics
}

func (s *integrator) residual(t float64, y, yp, res []float64) error {
	s.stats.EvaluationCount++
	return s.p.Residual(t, y, yp, res)
}

func (s *integrator) weight(y float64) float64 {
	return s.cfg.AbsoluteTolerance + s.cfg.RelativeTolerance*math.Abs(y)
}

// norm returns the weighted RMS norm of v. If differentialOnly is true the
// algebraic channels are skipped.
func (s *integrator) norm(v, y []float64, differentialOnly bool) float64 {
	var sum float64
	var count int
	for i, vi := range v {
		if differentialOnly && s.p.Algebraic != nil && s.p.Algebraic[i] {
			continue
		}
		r := vi / s.weight(y[i])
		sum += r * r
		count++
	}
	if count == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(count))
}

// newton solves g(u) = 0 starting from u, which is updated in place.
func (s *integrator) newton(g func(res, u []float64) error, u, scale []float64) error {
	n := len(u)
	res := make([]float64, n)
	if err := g(res, u); err != nil {
		return err
	}
	var jacErr error
	jac := mat.NewDense(n, n, nil)
	fd.Jacobian(jac, func(out, x []float64) {
		if err := g(out, x); err != nil && jacErr == nil {
			jacErr = err
		}
	}, u, &fd.JacobianSettings{Formula: fd.Forward, OriginValue: res})
	s.stats.JacobianCount++
	if jacErr != nil {
		return jacErr
	}
	var lu mat.LU
	lu.Factorize(jac)

	delta := mat.NewVecDense(n, nil)
	rhs := mat.NewVecDense(n, nil)
	prev := math.Inf(1)
	for it := 0; it < s.cfg.MaxNewtonIterations; it++ {
		for i := range res {
			rhs.SetVec(i, -res[i])
		}
		if err := lu.SolveVecTo(delta, false, rhs); err != nil {
			var cond mat.Condition
			if !errors.As(err, &cond) {
				return fmt.Errorf("%w: %v", ErrNewton, err)
			}
		}
		for i := range u {
			u[i] += delta.AtVec(i)
		}
		d := s.norm(delta.RawVector().Data, scale, false)
		if d <= newtonTol {
			return nil
		}
		if it > 0 && d > 2*prev {
			break
		}
		prev = d
		if err := g(res, u); err != nil {
			return err
		}
	}
	return ErrNewton
}

// attempt tries one step of size h. It returns the new state and the
// weighted local error estimate.
func (s *integrator) attempt(h float64) (y, yp []float64, errNorm float64, err error) {
	n := s.n
	k := s.order
	c0 := 1 / h
	b := make([]float64, n)
	yPred := make([]float64, n)
	if k == 1 {
		for i := range b {
			b[i] = -s.y[i] / h
			yPred[i] = s.y[i] + h*s.yp[i]
		}
	} else {
		w := h / s.hPrev
		c0 = (1 + 2*w) / ((1 + w) * h)
		c1 := -(1 + w) / h
		c2 := w * w / ((1 + w) * h)
		for i := range b {
			b[i] = c1*s.y[i] + c2*s.yPrev[i]
			ypp := (s.yp[i] - s.ypPrev[i]) / s.hPrev
			yPred[i] = s.y[i] + h*s.yp[i] + 0.5*h*h*ypp
		}
	}
	t := s.t + h
	ypv := make([]float64, n)
	g := func(res, u []float64) error {
		for i := range u {
			ypv[i] = c0*u[i] + b[i]
		}
		return s.residual(t, u, ypv, res)
	}
	y = append([]float64(nil), yPred...)
	if err := s.newton(g, y, s.y); err != nil {
		return nil, nil, 0, err
	}
	yp = make([]float64, n)
	e := make([]float64, n)
	for i := range y {
		yp[i] = c0*y[i] + b[i]
		e[i] = (y[i] - yPred[i]) / float64(k+1)
	}
	return y, yp, s.norm(e, y, true), nil
}

// initialCondition solves for the algebraic components of y and the
// differential components of yp at t0.
func (s *integrator) initialCondition() error {
	n := s.n
	alg := func(i int) bool { return s.p.Algebraic != nil && s.p.Algebraic[i] }
	u := make([]float64, n)
	for i := range u {
		if alg(i) {
			u[i] = s.y[i]
		} else {
			u[i] = s.yp[i]
		}
	}
	y := make([]float64, n)
	yp := make([]float64, n)
	g := func(res, u []float64) error {
		copy(y, s.y)
		copy(yp, s.yp)
		for i := range u {
			if alg(i) {
				y[i] = u[i]
			} else {
				yp[i] = u[i]
			}
		}
		return s.residual(s.t, y, yp, res)
	}
	scale := make([]float64, n)
	for i := range scale {
		scale[i] = math.Max(math.Abs(u[i]), 1)
	}
	var err error
	for i := 0; i < 5; i++ {
		if err = s.newton(g, u, scale); err == nil {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("dae: initial condition: %w", err)
	}
	for i := range u {
		if alg(i) {
			s.y[i] = u[i]
		} else {
			s.yp[i] = u[i]
		}
	}
	return nil
}

// Solve integrates p from p.T0 to tEnd.
func Solve(p Problem, tEnd float64, cfg Config) (*Solution, error) {
	n := len(p.Y0)
	switch {
	case p.Residual == nil:
		return nil, fmt.Errorf("dae: nil residual function")
	case n == 0:
		return nil, fmt.Errorf("dae: empty state vector")
	case len(p.Yp0) != n:
		return nil, fmt.Errorf("dae: Y0 has length %d but Yp0 has length %d", n, len(p.Yp0))
	case p.Algebraic != nil && len(p.Algebraic) != n:
		return nil, fmt.Errorf("dae: Y0 has length %d but Algebraic has length %d", n, len(p.Algebraic))
	case !(tEnd > p.T0):
		return nil, fmt.Errorf("dae: end time %g is not after start time %g", tEnd, p.T0)
	}
	s := &integrator{
		p:     p,
		cfg:   cfg.withDefaults(tEnd - p.T0),
		n:     n,
		t:     p.T0,
		y:     append([]float64(nil), p.Y0...),
		yp:    append([]float64(nil), p.Yp0...),
		order: 1,
	}
	if s.cfg.CalcInitialCondition {
		if err := s.initialCondition(); err != nil {
			return nil, err
		}
	}
	sol := &Solution{
		Time: []float64{s.t},
		Y:    [][]float64{append([]float64(nil), s.y...)},
		Yp:   [][]float64{append([]float64(nil), s.yp...)},
	}
	h := s.cfg.InitialStepSize
	fail := func(err error) (*Solution, error) {
		s.stats.CurrentTime = s.t
		sol.Stats = s.stats
		return sol, &StepError{Step: s.stats.StepCount, Time: s.t, StepSize: h, Err: err}
	}
	for s.t < tEnd {
		if s.stats.StepCount >= s.cfg.MaxStepCount {
			return fail(ErrMaxSteps)
		}
		h = math.Min(h, s.cfg.MaxStepSize)
		last := false
		if s.t+h >= tEnd || tEnd-(s.t+h) < s.cfg.MinStepSize {
			h = tEnd - s.t
			last = true
		}
		k := s.order
		y, yp, errNorm, err := s.attempt(h)
		if err != nil || errNorm > 1 {
			s.stats.RejectedCount++
			if err != nil {
				h *= newtonFail
			} else {
				h *= math.Max(minShrink, safety*math.Pow(errNorm, -1/float64(k+1)))
			}
			if h < s.cfg.MinStepSize {
				if err == nil {
					err = fmt.Errorf("local error %g exceeds tolerance", errNorm)
				}
				return fail(fmt.Errorf("%w: %w", ErrStepTooSmall, err))
			}
			continue
		}
		s.yPrev, s.ypPrev, s.hPrev = s.y, s.yp, h
		s.y, s.yp = y, yp
		if last {
			s.t = tEnd
		} else {
			s.t += h
		}
		s.order = s.cfg.MaxOrder
		s.stats.StepCount++
		s.stats.LastStepSize = h
		sol.Time = append(sol.Time, s.t)
		sol.Y = append(sol.Y, append([]float64(nil), y...))
		sol.Yp = append(sol.Yp, append([]float64(nil), yp...))

		grow := maxGrow
		if errNorm > 0 {
			grow = math.Min(maxGrow, safety*math.Pow(errNorm, -1/float64(k+1)))
		}
		h *= math.Max(grow, minShrink)
	}
	s.stats.NextStepSize = h
	s.stats.CurrentTime = s.t
	sol.Stats = s.stats
	return sol, nil
}
