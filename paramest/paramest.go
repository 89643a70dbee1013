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

// Package paramest fits forward models to experimental data by weighted
// nonlinear least squares. Predictions can be compared with the data
// directly or, for spectroscopic data, after multivariate curve
// resolution of the predicted concentrations against the measured
// spectra.
package paramest

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrSingular is returned when the Gauss-Newton Hessian approximation
	// cannot be inverted, which means the free parameters are not
	// identifiable from the data.
	ErrSingular = errors.New("paramest: singular Hessian approximation")

	// ErrRankDeficient is returned when a pseudo-inverse is requested for
	// a matrix without full column rank.
	ErrRankDeficient = errors.New("paramest: rank-deficient matrix")

	// ErrShape is returned when inputs or model outputs have mismatched
	// dimensions.
	ErrShape = errors.New("paramest: shape mismatch")
)

// zeroFloor replaces zero observations.
const zeroFloor = 1.e-15

// Model evaluates a forward model at the full parameter vector p for the
// independent variable x. It returns a points × channels prediction.
type Model func(p, x []float64, args interface{}) (*mat.Dense, error)

// Sensitivity is like Model but also returns the derivative of the
// prediction with respect to every element of p.
type Sensitivity func(p, x []float64, args interface{}) (y *mat.Dense, dy []*mat.Dense, err error)

// Dataset is one experiment.
type Dataset struct {
	// X is the independent variable.
	X []float64

	// Y holds the observations, points × measured channels. It is
	// ignored when fitting spectra.
	Y *mat.Dense

	// Spectra holds measured absorbances, points × wavelengths, for
	// spectral fitting.
	Spectra *mat.Dense

	// Covariance optionally holds the variance of each observation, in
	// the shape of Y (or Spectra). If nil, every standard deviation is 1.
	Covariance *mat.Dense

	// Args is passed through to the model.
	Args interface{}
}

// Problem describes an estimation problem.
type Problem struct {
	Model Model

	// Sensitivity optionally replaces Model when analytic derivatives
	// are available. Otherwise derivatives are computed by central
	// finite differences.
	Sensitivity Sensitivity

	// Seed is the initial full parameter vector. Fixed parameters keep
	// their seed values.
	Seed []float64

	Data []Dataset

	// Optimize selects the free parameters. If nil, all are free.
	Optimize []bool

	// Measured selects the model channels that correspond to data
	// columns. If nil, all channels are used.
	Measured []int

	// FitSpectra enables multivariate curve resolution.
	FitSpectra bool

	// Lower and Upper are optional bounds on the full parameter vector.
	Lower, Upper []float64

	// FDStep is the finite-difference step. Zero means 1e-6.
	FDStep float64

	ParamNames []string
}

// Estimator evaluates residuals and derivatives of a Problem. It caches
// the derivatives of the last evaluation and must not be shared between
// goroutines.
type Estimator struct {
	Problem

	// Log receives optimizer progress. If nil, the logrus standard logger
	// is used.
	Log logrus.FieldLogger

	free []int

	// obs and std are the flattened observations and standard
	// deviations of each dataset.
	obs, std [][]float64
	rows     [][2]int // points, channels of each dataset
	nres     int

	cacheP []float64
	cacheR []float64
	cacheJ *mat.Dense
	cacheE []*mat.Dense
}

// NewEstimator checks p and prepares its data.
func NewEstimator(p Problem) (*Estimator, error) {
	np := len(p.Seed)
	switch {
	case p.Model == nil && p.Sensitivity == nil:
		return nil, fmt.Errorf("paramest: no forward model")
	case np == 0:
		return nil, fmt.Errorf("paramest: empty parameter seed")
	case len(p.Data) == 0:
		return nil, fmt.Errorf("paramest: no datasets")
	case p.Optimize != nil && len(p.Optimize) != np:
		return nil, fmt.Errorf("%w: %d optimize flags for %d parameters", ErrShape, len(p.Optimize), np)
	case p.Lower != nil && len(p.Lower) != np:
		return nil, fmt.Errorf("%w: %d lower bounds for %d parameters", ErrShape, len(p.Lower), np)
	case p.Upper != nil && len(p.Upper) != np:
		return nil, fmt.Errorf("%w: %d upper bounds for %d parameters", ErrShape, len(p.Upper), np)
	case p.ParamNames != nil && len(p.ParamNames) != np:
		return nil, fmt.Errorf("%w: %d parameter names for %d parameters", ErrShape, len(p.ParamNames), np)
	}
	e := &Estimator{Problem: p}
	e.Seed = append([]float64(nil), p.Seed...)
	for i := 0; i < np; i++ {
		if p.Optimize == nil || p.Optimize[i] {
			e.free = append(e.free, i)
		}
	}
	if len(e.free) == 0 {
		return nil, fmt.Errorf("paramest: no free parameters")
	}
	if e.FDStep == 0 {
		e.FDStep = 1.e-6
	}

	for i, d := range p.Data {
		obs := d.Y
		if p.FitSpectra {
			obs = d.Spectra
		}
		if obs == nil {
			return nil, fmt.Errorf("paramest: dataset %d has no observations", i)
		}
		r, c := obs.Dims()
		if r != len(d.X) {
			return nil, fmt.Errorf("%w: dataset %d has %d points and %d observations", ErrShape, i, len(d.X), r)
		}
		if p.FitSpectra && p.Measured != nil && len(p.Measured) > r {
			return nil, fmt.Errorf("%w: dataset %d has %d points for %d species", ErrShape, i, r, len(p.Measured))
		}
		if !p.FitSpectra && p.Measured != nil && len(p.Measured) != c {
			return nil, fmt.Errorf("%w: dataset %d has %d columns for %d measured channels", ErrShape, i, c, len(p.Measured))
		}
		if d.Covariance != nil {
			cr, cc := d.Covariance.Dims()
			if cr != r || cc != c {
				return nil, fmt.Errorf("%w: dataset %d covariance is %d×%d, observations are %d×%d", ErrShape, i, cr, cc, r, c)
			}
		}
		flat := make([]float64, 0, r*c)
		std := make([]float64, 0, r*c)
		for j := 0; j < c; j++ {
			for k := 0; k < r; k++ {
				v := obs.At(k, j)
				if v == 0 {
					v = zeroFloor
				}
				flat = append(flat, v)
				s := 1.
				if d.Covariance != nil {
					s = math.Sqrt(d.Covariance.At(k, j))
				}
				if !(s > 0) {
					return nil, fmt.Errorf("paramest: dataset %d point %d channel %d has variance %g", i, k, j, d.Covariance.At(k, j))
				}
				std = append(std, s)
			}
		}
		e.obs = append(e.obs, flat)
		e.std = append(e.std, std)
		e.rows = append(e.rows, [2]int{r, c})
		e.nres += r * c
	}
	if e.nres <= len(e.free) {
		return nil, fmt.Errorf("paramest: %d observations cannot determine %d parameters", e.nres, len(e.free))
	}
	return e, nil
}

func (e *Estimator) logger() logrus.FieldLogger {
	if e.Log == nil {
		return logrus.StandardLogger()
	}
	return e.Log
}

// NumFree returns the number of free parameters.
func (e *Estimator) NumFree() int { return len(e.free) }

// NumResiduals returns the total number of observations.
func (e *Estimator) NumResiduals() int { return e.nres }

// Full returns the full parameter vector with params in the free slots
// and the seed elsewhere.
func (e *Estimator) Full(params []float64) []float64 {
	p := append([]float64(nil), e.Seed...)
	for i, k := range e.free {
		p[k] = params[i]
	}
	return p
}

// Free returns the free elements of the full vector p.
func (e *Estimator) Free(p []float64) []float64 {
	x := make([]float64, len(e.free))
	for i, k := range e.free {
		x[i] = p[k]
	}
	return x
}
