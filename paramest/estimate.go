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
	"fmt"
	"math"

	"github.com/GaryBoone/GoStats/stats"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Parity is a linear regression of a dataset's model trace against its
// observations.
type Parity struct {
	Slope, Intercept, RSquared float64
	N                          int
}

// Result holds a converged estimate.
type Result struct {
	Method string

	// Params holds the free parameters and Full the full vector.
	Params, Full []float64

	// Covariance and Correlation are the asymptotic covariance and
	// correlation of the free parameters.
	Covariance, Correlation *mat.SymDense

	Residuals []float64
	Jacobian  *mat.Dense

	// ConditionNumber is the condition number of Jacobian.
	ConditionNumber float64

	// Traces holds the fitted model of each dataset in the shape of its
	// observations.
	Traces []*mat.Dense

	// Prediction is the model at Params.
	Prediction *Prediction

	// History holds the unique evaluations, or nil if no history was
	// collected.
	History *History

	Parity []Parity

	Iterations int
	Status     string
}

// maxCondition is the largest condition number of JᵀJ that is treated
// as invertible.
const maxCondition = 1.e14

// Covariance returns the asymptotic covariance mse·(JᵀJ)⁻¹ of the
// parameters, where mse is the residual sum of squares divided by the
// degrees of freedom, along with the correlation matrix.
func Covariance(j *mat.Dense, r []float64) (cov, corr *mat.SymDense, err error) {
	n, p := j.Dims()
	if len(r) != n {
		return nil, nil, fmt.Errorf("%w: %d residuals for a %d-row Jacobian", ErrShape, len(r), n)
	}
	if n <= p {
		return nil, nil, fmt.Errorf("paramest: %d residuals leave no degrees of freedom for %d parameters", n, p)
	}
	var h mat.SymDense
	h.SymOuterK(1, j.T())
	var chol mat.Cholesky
	if !chol.Factorize(&h) {
		return nil, nil, ErrSingular
	}
	if c := chol.Cond(); c > maxCondition || math.IsNaN(c) {
		return nil, nil, fmt.Errorf("%w: condition number %g", ErrSingular, c)
	}
	cov = new(mat.SymDense)
	if err := chol.InverseTo(cov); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}
	mse := floats.Dot(r, r) / float64(n-p)
	cov.ScaleSym(mse, cov)

	corr = mat.NewSymDense(p, nil)
	for a := 0; a < p; a++ {
		for b := a; b < p; b++ {
			corr.SetSym(a, b, cov.At(a, b)/math.Sqrt(cov.At(a, a)*cov.At(b, b)))
		}
	}
	return cov, corr, nil
}

// Optimize fits the free parameters starting from the seed using m, which
// must be a ResidualMethod or a ScalarMethod. Evaluations are recorded in
// h unless it is nil. If the covariance cannot be computed the result is
// returned along with the error.
func (e *Estimator) Optimize(m Method, h *History) (*Result, error) {
	log := e.logger()
	x0 := e.Free(e.Seed)
	var lower, upper []float64
	if e.Lower != nil {
		lower = e.Free(e.Lower)
	}
	if e.Upper != nil {
		upper = e.Free(e.Upper)
	}

	var mr *MethodResult
	var err error
	switch method := m.(type) {
	case ResidualMethod:
		mr, err = method.MinimizeResiduals(ResidualProblem{
			Residuals: func(x []float64) ([]float64, error) { return e.Residuals(x, h) },
			Jacobian:  e.Jacobian,
			Lower:     lower,
			Upper:     upper,
		}, x0, log)
	case ScalarMethod:
		mr, err = method.MinimizeScalar(ScalarProblem{
			Objective: func(x []float64) (float64, error) { return e.Objective(x, h) },
			Gradient:  func(x []float64) ([]float64, error) { return e.Gradient(x, h) },
			Lower:     lower,
			Upper:     upper,
		}, x0, log)
	default:
		return nil, fmt.Errorf("%w: %T", errUnknownMethod, m)
	}
	if err != nil {
		return nil, fmt.Errorf("paramest: %s: %w", m, err)
	}

	res := &Result{
		Method:     m.String(),
		Params:     mr.X,
		Full:       e.Full(mr.X),
		Iterations: mr.Iterations,
		Status:     mr.Status,
	}
	if h != nil {
		res.History = h.Unique()
	}
	if res.Residuals, err = e.Residuals(mr.X, nil); err != nil {
		return nil, err
	}
	if res.Jacobian, err = e.Jacobian(mr.X); err != nil {
		return nil, err
	}
	res.ConditionNumber = ConditionNumber(res.Jacobian)
	if res.Prediction, err = e.Predict(mr.X); err != nil {
		return nil, err
	}

	offset := 0
	for i := range e.Data {
		pts, ch := e.rows[i][0], e.rows[i][1]
		tr := mat.NewDense(pts, ch, nil)
		model := make([]float64, pts*ch)
		for c := 0; c < ch; c++ {
			for k := 0; k < pts; k++ {
				n := c*pts + k
				v := res.Residuals[offset+n]*e.std[i][n] + e.obs[i][n]
				tr.Set(k, c, v)
				model[n] = v
			}
		}
		offset += pts * ch
		res.Traces = append(res.Traces, tr)
		var p Parity
		p.Slope, p.Intercept, p.RSquared, p.N, _, _ = stats.LinearRegression(e.obs[i], model)
		res.Parity = append(res.Parity, p)
	}

	fields := logrus.Fields{
		"method":     res.Method,
		"iterations": res.Iterations,
		"status":     res.Status,
		"objective":  0.5 * floats.Dot(res.Residuals, res.Residuals),
	}
	for i, k := range e.free {
		name := fmt.Sprintf("p%d", k)
		if e.ParamNames != nil {
			name = e.ParamNames[k]
		}
		fields[name] = res.Params[i]
	}
	log.WithFields(fields).Info("paramest: optimization finished")

	res.Covariance, res.Correlation, err = Covariance(res.Jacobian, res.Residuals)
	if err != nil {
		return res, err
	}
	return res, nil
}
