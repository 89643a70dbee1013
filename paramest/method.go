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

package paramest

import (
	"errors"
	"fmt"
	"math"

	"github.com/curioloop/optimizer/lbfgsb"
	"github.com/maorshutman/lm"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// Method is a minimization algorithm. It must also be a ResidualMethod or
// a ScalarMethod.
type Method interface {
	String() string
}

// ResidualProblem is a least-squares problem in terms of a residual
// vector and its Jacobian.
type ResidualProblem struct {
	Residuals func(x []float64) ([]float64, error)
	Jacobian  func(x []float64) (*mat.Dense, error)

	// Lower and Upper are optional bounds on x.
	Lower, Upper []float64
}

// ScalarProblem is a minimization problem in terms of an objective and
// its gradient.
type ScalarProblem struct {
	Objective func(x []float64) (float64, error)
	Gradient  func(x []float64) ([]float64, error)

	// Lower and Upper are optional bounds on x. Infinite bounds are
	// allowed.
	Lower, Upper []float64
}

// MethodResult is the outcome of a Method.
type MethodResult struct {
	X          []float64
	Iterations int
	Status     string
}

// ResidualMethod minimizes the sum of squared residuals.
type ResidualMethod interface {
	Method
	MinimizeResiduals(p ResidualProblem, x0 []float64, log logrus.FieldLogger) (*MethodResult, error)
}

// ScalarMethod minimizes a scalar objective using its gradient.
type ScalarMethod interface {
	Method
	MinimizeScalar(p ScalarProblem, x0 []float64, log logrus.FieldLogger) (*MethodResult, error)
}

// LevenbergMarquardt minimizes the residuals with the Levenberg-Marquardt
// solver of github.com/maorshutman/lm, which uses the damping update of
// Madsen, Nielsen and Tingleff (2004). With bounds, the residuals are
// evaluated at the projection of each trial point into the bounds, and
// the solution is projected likewise. Zero fields select defaults.
type LevenbergMarquardt struct {
	// Tau scales the initial damping. Default 1e-3.
	Tau float64
	// Eps1 is the gradient tolerance. Default 1e-10.
	Eps1 float64
	// Eps2 is the relative step tolerance. Default 1e-12.
	Eps2 float64
	// ObjectiveTol ends the search when ½rᵀr falls below it. Default
	// 1e-20.
	ObjectiveTol float64
	// MaxIterations defaults to 200.
	MaxIterations int
}

func (m *LevenbergMarquardt) String() string { return "Levenberg-Marquardt" }

func (m *LevenbergMarquardt) settings() LevenbergMarquardt {
	s := *m
	if s.Tau == 0 {
		s.Tau = 1.e-3
	}
	if s.Eps1 == 0 {
		s.Eps1 = 1.e-10
	}
	if s.Eps2 == 0 {
		s.Eps2 = 1.e-12
	}
	if s.ObjectiveTol == 0 {
		s.ObjectiveTol = 1.e-20
	}
	if s.MaxIterations == 0 {
		s.MaxIterations = 200
	}
	return s
}

func clamp(x, lower, upper []float64) {
	for i := range x {
		if lower != nil && x[i] < lower[i] {
			x[i] = lower[i]
		}
		if upper != nil && x[i] > upper[i] {
			x[i] = upper[i]
		}
	}
}

// outside reports whether x[i] lies strictly outside the bounds.
func outside(x, lower, upper []float64, i int) bool {
	return (lower != nil && x[i] < lower[i]) || (upper != nil && x[i] > upper[i])
}

// MinimizeResiduals fulfils the ResidualMethod interface.
func (m *LevenbergMarquardt) MinimizeResiduals(p ResidualProblem, x0 []float64, log logrus.FieldLogger) (res *MethodResult, err error) {
	s := m.settings()
	x := append([]float64(nil), x0...)
	clamp(x, p.Lower, p.Upper)
	r0, err := p.Residuals(x)
	if err != nil {
		return nil, err
	}

	var evalErr error
	project := func(u []float64) []float64 {
		v := append([]float64(nil), u...)
		clamp(v, p.Lower, p.Upper)
		return v
	}
	jacobians := 0
	prob := lm.LMProblem{
		Dim:        len(x),
		Size:       len(r0),
		InitParams: x,
		Tau:        s.Tau,
		Eps1:       s.Eps1,
		Eps2:       s.Eps2,
		Func: func(dst, u []float64) {
			r, err := p.Residuals(project(u))
			if err != nil {
				if evalErr == nil {
					evalErr = err
				}
				for i := range dst {
					dst[i] = math.NaN()
				}
				return
			}
			copy(dst, r)
		},
		Jac: func(dst *mat.Dense, u []float64) {
			jacobians++
			j, err := p.Jacobian(project(u))
			if err != nil {
				if evalErr == nil {
					evalErr = err
				}
				dst.Zero()
				return
			}
			dst.Copy(j)
			// The projected residuals do not change along a coordinate
			// that is beyond its bound.
			for i := range u {
				if outside(u, p.Lower, p.Upper, i) {
					for k := 0; k < len(r0); k++ {
						dst.Set(k, i, 0)
					}
				}
			}
			log.WithFields(logrus.Fields{
				"iteration": jacobians - 1,
				"params":    u,
			}).Debug("paramest: Levenberg-Marquardt step accepted")
		},
	}

	defer func() {
		// lm panics when the damped normal equations are singular.
		if v := recover(); v != nil {
			if evalErr != nil {
				res, err = nil, evalErr
				return
			}
			res, err = nil, fmt.Errorf("%w: Levenberg-Marquardt: %v", ErrSingular, v)
		}
	}()
	out, err := lm.LM(prob, &lm.Settings{
		Iterations:   s.MaxIterations,
		ObjectiveTol: s.ObjectiveTol,
	})
	if evalErr != nil {
		return nil, evalErr
	}
	if err != nil {
		return nil, fmt.Errorf("paramest: Levenberg-Marquardt: %w", err)
	}
	return &MethodResult{
		X:          project(out.X),
		Iterations: jacobians - 1,
		Status:     out.Status.String(),
	}, nil
}

// LBFGSB minimizes a scalar objective subject to simple bounds with the
// L-BFGS-B solver of github.com/curioloop/optimizer. Unlike InteriorPoint
// it accepts a start on the bounds and may return a solution on them.
// Zero fields select defaults.
type LBFGSB struct {
	// Corrections is the number of stored BFGS corrections. Default 10.
	Corrections int
	// MaxIterations defaults to 1000.
	MaxIterations int
	// AccuracyFactor ends the search when the relative objective
	// reduction falls below this multiple of the machine epsilon.
	// Default 10.
	AccuracyFactor float64
	// ProjGradTolerance ends the search when the largest projected
	// gradient entry falls below it. Default 1e-10.
	ProjGradTolerance float64
}

func (m *LBFGSB) String() string { return "L-BFGS-B" }

func (m *LBFGSB) settings() LBFGSB {
	s := *m
	if s.Corrections == 0 {
		s.Corrections = 10
	}
	if s.MaxIterations == 0 {
		s.MaxIterations = 1000
	}
	if s.AccuracyFactor == 0 {
		s.AccuracyFactor = 10
	}
	if s.ProjGradTolerance == 0 {
		s.ProjGradTolerance = 1.e-10
	}
	return s
}

// lbfgsbBound converts a bound to the NaN-for-absent convention of lbfgsb.
func lbfgsbBound(b []float64, i int) float64 {
	if b == nil || math.IsInf(b[i], 0) {
		return math.NaN()
	}
	return b[i]
}

func lbfgsbStatus(r *lbfgsb.Result) string {
	switch r.Status {
	case lbfgsb.ConvGradProgNorm:
		return "projected gradient tolerance"
	case lbfgsb.ConvEnoughAccuracy:
		return "objective accuracy"
	case lbfgsb.StopAbnormalSearch:
		return "line search failed"
	case lbfgsb.HaltEvalPanic:
		return "evaluation failed"
	case lbfgsb.OverIterLimit:
		return "iteration limit"
	case lbfgsb.OverEvalLimit:
		return "evaluation limit"
	case lbfgsb.OverGradThresh:
		return "gradient threshold"
	}
	return "unknown"
}

// MinimizeScalar fulfils the ScalarMethod interface.
func (m *LBFGSB) MinimizeScalar(p ScalarProblem, x0 []float64, log logrus.FieldLogger) (*MethodResult, error) {
	s := m.settings()
	n := len(x0)
	bounds := make([]lbfgsb.Bound, n)
	for i := range bounds {
		bounds[i] = lbfgsb.Bound{Lower: lbfgsbBound(p.Lower, i), Upper: lbfgsbBound(p.Upper, i)}
	}
	var evalErr error
	prob := lbfgsb.Problem{
		N: n,
		M: s.Corrections,
		Eval: func(x, g []float64) float64 {
			f, err := p.Objective(x)
			if err == nil {
				var grad []float64
				if grad, err = p.Gradient(x); err == nil {
					copy(g, grad)
					return f
				}
			}
			if evalErr == nil {
				evalErr = err
			}
			// lbfgsb halts when the evaluation panics.
			panic(err)
		},
		Stop: lbfgsb.Termination{
			MaxIterations:     s.MaxIterations,
			EpsAccuracyFactor: s.AccuracyFactor,
			ProjGradTolerance: s.ProjGradTolerance,
		},
		Bounds: bounds,
	}
	opt, err := prob.New(nil)
	if err != nil {
		return nil, fmt.Errorf("paramest: L-BFGS-B: %v", err)
	}
	r := opt.Fit(x0, opt.Init())
	if evalErr != nil {
		return nil, evalErr
	}
	res := &MethodResult{X: r.X, Iterations: r.NumIter, Status: lbfgsbStatus(r)}
	log.WithFields(logrus.Fields{
		"objective":   r.F,
		"iterations":  r.NumIter,
		"evaluations": r.NumEval,
		"status":      res.Status,
	}).Debug("paramest: L-BFGS-B finished")
	if !r.OK {
		log.WithField("status", res.Status).Warn("paramest: L-BFGS-B did not converge")
	}
	return res, nil
}

// InteriorPoint minimizes a logarithmic barrier function for a
// decreasing sequence of barrier weights. Each subproblem is solved with
// the gonum optimize package. Zero fields select defaults.
type InteriorPoint struct {
	// Inner solves the barrier subproblems. Default BFGS with
	// backtracking line search.
	Inner optimize.Method

	// Mu0 is the initial barrier weight, relative to the initial
	// objective. Default 1e-2.
	Mu0 float64
	// MuMin is the final barrier weight. Default 1e-12.
	MuMin float64
	// Shrink reduces the weight between subproblems. Default 0.1.
	Shrink float64

	// GradientThreshold ends each subproblem. Default 1e-10.
	GradientThreshold float64
	// MaxIterations bounds each subproblem. Default 1000.
	MaxIterations int
}

func (ip *InteriorPoint) String() string { return "interior point" }

func (ip *InteriorPoint) settings() InteriorPoint {
	s := *ip
	if s.Inner == nil {
		s.Inner = &optimize.BFGS{Linesearcher: &optimize.Backtracking{}}
	}
	if s.Mu0 == 0 {
		s.Mu0 = 1.e-2
	}
	if s.MuMin == 0 {
		s.MuMin = 1.e-12
	}
	if s.Shrink == 0 {
		s.Shrink = 0.1
	}
	if s.GradientThreshold == 0 {
		s.GradientThreshold = 1.e-10
	}
	if s.MaxIterations == 0 {
		s.MaxIterations = 1000
	}
	return s
}

// MinimizeScalar fulfils the ScalarMethod interface.
func (ip *InteriorPoint) MinimizeScalar(p ScalarProblem, x0 []float64, log logrus.FieldLogger) (*MethodResult, error) {
	s := ip.settings()
	n := len(x0)
	bounded := false
	for i := 0; i < n; i++ {
		lo, hi := math.Inf(-1), math.Inf(1)
		if p.Lower != nil {
			lo = p.Lower[i]
		}
		if p.Upper != nil {
			hi = p.Upper[i]
		}
		if !(x0[i] > lo && x0[i] < hi) {
			return nil, fmt.Errorf("paramest: interior point start %g is not strictly inside [%g, %g]", x0[i], lo, hi)
		}
		bounded = bounded || !math.IsInf(lo, 0) || !math.IsInf(hi, 0)
	}

	f0, err := p.Objective(x0)
	if err != nil {
		return nil, err
	}
	mu := s.Mu0 * math.Max(1, math.Abs(f0))
	if !bounded {
		mu = 0
	}

	var evalErr error
	barrier := func(x []float64) (float64, bool) {
		var b float64
		for i := range x {
			if p.Lower != nil && !math.IsInf(p.Lower[i], -1) {
				if x[i] <= p.Lower[i] {
					return math.Inf(1), false
				}
				b -= math.Log(x[i] - p.Lower[i])
			}
			if p.Upper != nil && !math.IsInf(p.Upper[i], 1) {
				if x[i] >= p.Upper[i] {
					return math.Inf(1), false
				}
				b -= math.Log(p.Upper[i] - x[i])
			}
		}
		return b, true
	}
	x := append([]float64(nil), x0...)
	res := &MethodResult{}
	for {
		w := mu
		prob := optimize.Problem{
			Func: func(x []float64) float64 {
				b, ok := barrier(x)
				if !ok {
					return math.Inf(1)
				}
				f, err := p.Objective(x)
				if err != nil {
					if evalErr == nil {
						evalErr = err
					}
					return math.Inf(1)
				}
				return f + w*b
			},
			Grad: func(grad, x []float64) {
				g, err := p.Gradient(x)
				if err != nil {
					if evalErr == nil {
						evalErr = err
					}
					for i := range grad {
						grad[i] = math.NaN()
					}
					return
				}
				copy(grad, g)
				for i := range x {
					if p.Lower != nil && !math.IsInf(p.Lower[i], -1) {
						grad[i] -= w / (x[i] - p.Lower[i])
					}
					if p.Upper != nil && !math.IsInf(p.Upper[i], 1) {
						grad[i] += w / (p.Upper[i] - x[i])
					}
				}
			},
		}
		settings := &optimize.Settings{
			GradientThreshold: s.GradientThreshold,
			MajorIterations:   s.MaxIterations,
			Converger: &optimize.FunctionConverge{
				Relative:   1.e-12,
				Iterations: 20,
			},
		}
		r, err := optimize.Minimize(prob, x, settings, s.Inner)
		if evalErr != nil {
			return nil, evalErr
		}
		if r == nil {
			return nil, fmt.Errorf("paramest: interior point subproblem: %w", err)
		}
		if err != nil {
			log.WithFields(logrus.Fields{"barrier": w, "status": r.Status}).
				Warnf("paramest: interior point subproblem ended early: %v", err)
		}
		if _, ok := barrier(r.X); ok {
			x = r.X
		}
		res.Iterations += r.Stats.MajorIterations
		res.Status = r.Status.String()
		log.WithFields(logrus.Fields{
			"barrier":   w,
			"objective": r.F,
		}).Debug("paramest: interior point subproblem")
		if mu == 0 || mu < s.MuMin {
			break
		}
		mu *= s.Shrink
		if mu < s.MuMin {
			mu = 0
		}
	}
	res.X = x
	return res, nil
}

// errUnknownMethod is returned for a Method that is neither a
// ResidualMethod nor a ScalarMethod.
var errUnknownMethod = errors.New("paramest: method must be a ResidualMethod or a ScalarMethod")
