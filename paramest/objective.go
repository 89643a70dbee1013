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

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Prediction holds the model evaluated at one parameter vector.
type Prediction struct {
	// Model holds the measured channels of each dataset, points ×
	// channels.
	Model []*mat.Dense

	// Absorbance and Absorptivity hold the curve resolution of each
	// dataset when fitting spectra.
	Absorbance, Absorptivity []*mat.Dense
}

type evaluation struct {
	r    []float64
	j    *mat.Dense
	pred Prediction
}

// selectChannels returns the measured columns of y.
func (e *Estimator) selectChannels(y *mat.Dense) (*mat.Dense, error) {
	if e.Measured == nil {
		return y, nil
	}
	r, c := y.Dims()
	s := mat.NewDense(r, len(e.Measured), nil)
	for j, k := range e.Measured {
		if k < 0 || k >= c {
			return nil, fmt.Errorf("%w: measured channel %d but the model has %d", ErrShape, k, c)
		}
		for i := 0; i < r; i++ {
			s.Set(i, j, y.At(i, k))
		}
	}
	return s, nil
}

// evaluate runs the model over every dataset. If sens is true and an
// analytic Sensitivity is available the weighted Jacobian is filled too.
func (e *Estimator) evaluate(params []float64, sens bool) (*evaluation, error) {
	sens = sens && e.Sensitivity != nil
	p := e.Full(params)
	ev := &evaluation{r: make([]float64, 0, e.nres)}
	if sens {
		ev.j = mat.NewDense(e.nres, len(e.free), nil)
	}
	row := 0
	for i, d := range e.Data {
		var y *mat.Dense
		var dy []*mat.Dense
		var err error
		if sens || e.Model == nil {
			y, dy, err = e.Sensitivity(p, d.X, d.Args)
		} else {
			y, err = e.Model(p, d.X, d.Args)
		}
		if err != nil {
			return nil, fmt.Errorf("paramest: model for dataset %d: %w", i, err)
		}
		if sens && len(dy) != len(p) {
			return nil, fmt.Errorf("%w: %d sensitivities for %d parameters", ErrShape, len(dy), len(p))
		}
		yr, yc := y.Dims()
		if yr != len(d.X) {
			return nil, fmt.Errorf("%w: model returned %d points for dataset %d with %d", ErrShape, yr, i, len(d.X))
		}
		if sens {
			for _, k := range e.free {
				if dy[k] == nil {
					return nil, fmt.Errorf("%w: dataset %d has no sensitivity for parameter %d", ErrShape, i, k)
				}
				if r, c := dy[k].Dims(); r != yr || c != yc {
					return nil, fmt.Errorf("%w: dataset %d sensitivity for parameter %d is %d×%d, model output is %d×%d",
						ErrShape, i, k, r, c, yr, yc)
				}
			}
		}
		if y, err = e.selectChannels(y); err != nil {
			return nil, err
		}
		ev.pred.Model = append(ev.pred.Model, y)

		pred := y
		var res *resolution
		if e.FitSpectra {
			if res, err = resolve(y, d.Spectra); err != nil {
				return nil, fmt.Errorf("paramest: resolving dataset %d: %w", i, err)
			}
			pred = res.absorbance
			ev.pred.Absorbance = append(ev.pred.Absorbance, res.absorbance)
			ev.pred.Absorptivity = append(ev.pred.Absorptivity, res.absorptivity)
		}
		pr, pc := pred.Dims()
		if pr*pc != len(e.obs[i]) || pc != e.rows[i][1] {
			return nil, fmt.Errorf("%w: dataset %d prediction is %d×%d, observations are %d×%d",
				ErrShape, i, pr, pc, e.rows[i][0], e.rows[i][1])
		}
		obs, std := e.obs[i], e.std[i]
		for c := 0; c < pc; c++ {
			for k := 0; k < pr; k++ {
				n := c*pr + k
				ev.r = append(ev.r, (pred.At(k, c)-obs[n])/std[n])
			}
		}
		if !sens {
			continue
		}
		for jf, k := range e.free {
			dk, err := e.selectChannels(dy[k])
			if err != nil {
				return nil, err
			}
			if e.FitSpectra {
				dk = res.derivative(dk, d.Spectra)
			}
			for c := 0; c < pc; c++ {
				for m := 0; m < pr; m++ {
					n := c*pr + m
					ev.j.Set(row+n, jf, dk.At(m, c)/std[n])
				}
			}
		}
		row += pr * pc
	}
	return ev, nil
}

// finiteJacobian returns the central difference Jacobian of the weighted
// residuals.
func (e *Estimator) finiteJacobian(params []float64) (*mat.Dense, error) {
	var ferr error
	f := func(r, x []float64) {
		ev, err := e.evaluate(x, false)
		if err != nil {
			if ferr == nil {
				ferr = err
			}
			return
		}
		copy(r, ev.r)
	}
	j := mat.NewDense(e.nres, len(e.free), nil)
	fd.Jacobian(j, f, params, &fd.JacobianSettings{
		Formula: fd.Central,
		Step:    e.FDStep,
	})
	if ferr != nil {
		return nil, fmt.Errorf("paramest: finite differences: %w", ferr)
	}
	return j, nil
}

func (e *Estimator) cached(params []float64) bool {
	return e.cacheP != nil && floats.Equal(e.cacheP, params)
}

// Residuals returns the weighted residuals (model - data)/stdev of all
// datasets, flattened channel-major, and records the evaluation in h.
func (e *Estimator) Residuals(params []float64, h *History) ([]float64, error) {
	if len(params) != len(e.free) {
		return nil, fmt.Errorf("%w: %d parameters for %d free", ErrShape, len(params), len(e.free))
	}
	ev, err := e.evaluate(params, true)
	if err != nil {
		return nil, err
	}
	e.cacheP = append(e.cacheP[:0], params...)
	e.cacheR = ev.r
	e.cacheJ = ev.j
	h.record(floats.Dot(ev.r, ev.r), params)
	return append([]float64(nil), ev.r...), nil
}

// Objective returns half the sum of squared weighted residuals.
func (e *Estimator) Objective(params []float64, h *History) (float64, error) {
	r, err := e.Residuals(params, h)
	if err != nil {
		return 0, err
	}
	return 0.5 * floats.Dot(r, r), nil
}

// Jacobian returns the derivative of the weighted residuals with respect
// to the free parameters.
func (e *Estimator) Jacobian(params []float64) (*mat.Dense, error) {
	if e.cached(params) && e.cacheJ != nil {
		return mat.DenseCopyOf(e.cacheJ), nil
	}
	var j *mat.Dense
	if e.Sensitivity != nil {
		ev, err := e.evaluate(params, true)
		if err != nil {
			return nil, err
		}
		j = ev.j
	} else {
		var err error
		if j, err = e.finiteJacobian(params); err != nil {
			return nil, err
		}
	}
	if e.cached(params) {
		e.cacheJ = j
	}
	return mat.DenseCopyOf(j), nil
}

// Gradient returns the gradient of Objective, Jᵀr. The residuals are
// evaluated first, and recorded in h, unless they are cached for params.
func (e *Estimator) Gradient(params []float64, h *History) ([]float64, error) {
	if !e.cached(params) {
		if _, err := e.Residuals(params, h); err != nil {
			return nil, err
		}
	}
	j, err := e.Jacobian(params)
	if err != nil {
		return nil, err
	}
	g := mat.NewVecDense(len(params), nil)
	g.MulVec(j.T(), mat.NewVecDense(len(e.cacheR), e.cacheR))
	return g.RawVector().Data, nil
}

// Predict evaluates every dataset at the free parameters params.
func (e *Estimator) Predict(params []float64) (*Prediction, error) {
	ev, err := e.evaluate(params, false)
	if err != nil {
		return nil, err
	}
	return &ev.pred, nil
}
