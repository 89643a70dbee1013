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

// Package deconv resolves a signal into a sum of Gaussian peaks
//
//	g(x) = Σ A_i exp(-(x-μ_i)²/(2σ_i²))
//
// Parameter vectors are ordered μ_1..μ_n, σ_1..σ_n, A_1..A_n.
package deconv

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/colsim/paramest"
	"gonum.org/v1/gonum/mat"
)

// split returns the means, widths and amplitudes in p.
func split(p []float64) (mu, sigma, ampl []float64, err error) {
	if len(p) == 0 || len(p)%3 != 0 {
		return nil, nil, nil, fmt.Errorf("deconv: %d parameters is not a multiple of 3", len(p))
	}
	n := len(p) / 3
	return p[:n], p[n : 2*n], p[2*n:], nil
}

func peak(x, mu, sigma float64) float64 {
	d := (x - mu) / sigma
	return math.Exp(-0.5 * d * d)
}

// Gaussians evaluates the peaks with parameters p at x. If separate is
// true the result has one column per peak, otherwise a single column
// holding their sum.
func Gaussians(p, x []float64, separate bool) (*mat.Dense, error) {
	mu, sigma, ampl, err := split(p)
	if err != nil {
		return nil, err
	}
	cols := 1
	if separate {
		cols = len(mu)
	}
	y := mat.NewDense(len(x), cols, nil)
	for i, xi := range x {
		for k := range mu {
			v := ampl[k] * peak(xi, mu[k], sigma[k])
			if separate {
				y.Set(i, k, v)
			} else {
				y.Set(i, 0, y.At(i, 0)+v)
			}
		}
	}
	return y, nil
}

// DParams returns the derivative of the summed peaks with respect to each
// parameter, each as a single column.
func DParams(p, x []float64) ([]*mat.Dense, error) {
	mu, sigma, ampl, err := split(p)
	if err != nil {
		return nil, err
	}
	n := len(mu)
	d := make([]*mat.Dense, 3*n)
	for k := range d {
		d[k] = mat.NewDense(len(x), 1, nil)
	}
	for i, xi := range x {
		for k := 0; k < n; k++ {
			g := peak(xi, mu[k], sigma[k])
			u := (xi - mu[k]) / sigma[k]
			d[k].Set(i, 0, ampl[k]*g*u/sigma[k])
			d[n+k].Set(i, 0, ampl[k]*g*u*u/sigma[k])
			d[2*n+k].Set(i, 0, g)
		}
	}
	return d, nil
}

// DX returns the first derivative of the summed peaks with respect to x.
func DX(p, x []float64) ([]float64, error) {
	mu, sigma, ampl, err := split(p)
	if err != nil {
		return nil, err
	}
	d := make([]float64, len(x))
	for i, xi := range x {
		for k := range mu {
			s2 := sigma[k] * sigma[k]
			d[i] -= ampl[k] * peak(xi, mu[k], sigma[k]) * (xi - mu[k]) / s2
		}
	}
	return d, nil
}

// DXX returns the second derivative of the summed peaks with respect to
// x.
func DXX(p, x []float64) ([]float64, error) {
	mu, sigma, ampl, err := split(p)
	if err != nil {
		return nil, err
	}
	d := make([]float64, len(x))
	for i, xi := range x {
		for k := range mu {
			s2 := sigma[k] * sigma[k]
			u := xi - mu[k]
			d[i] += ampl[k] * peak(xi, mu[k], sigma[k]) * (u*u/s2 - 1) / s2
		}
	}
	return d, nil
}

// Deconvolution fits Gaussian peaks to a signal.
type Deconvolution struct {
	X, Y []float64

	// Seed holds the initial parameters.
	Seed []float64

	// Optimize optionally selects the parameters to fit.
	Optimize []bool

	Log logrus.FieldLogger
}

// Fit is a fitted set of peaks.
type Fit struct {
	Mu, Sigma, Ampl []float64
	Result          *paramest.Result
}

// Peaks returns the fitted peaks evaluated separately at x.
func (f *Fit) Peaks(x []float64) (*mat.Dense, error) {
	p := append(append(append([]float64(nil), f.Mu...), f.Sigma...), f.Ampl...)
	return Gaussians(p, x, true)
}

func sensitivity(p, x []float64, _ interface{}) (*mat.Dense, []*mat.Dense, error) {
	y, err := Gaussians(p, x, false)
	if err != nil {
		return nil, nil, err
	}
	d, err := DParams(p, x)
	return y, d, err
}

// EstimateParams fits the peaks with method m. Evaluations are recorded
// in h unless it is nil.
func (d *Deconvolution) EstimateParams(m paramest.Method, h *paramest.History) (*Fit, error) {
	n := len(d.Seed) / 3
	if _, _, _, err := split(d.Seed); err != nil {
		return nil, err
	}
	if len(d.X) != len(d.Y) {
		return nil, fmt.Errorf("deconv: %d abscissae and %d values", len(d.X), len(d.Y))
	}
	names := make([]string, 0, 3*n)
	lower := make([]float64, 3*n)
	upper := make([]float64, 3*n)
	for _, prefix := range []string{"mu", "sigma", "ampl"} {
		for k := 0; k < n; k++ {
			names = append(names, fmt.Sprintf("%s%d", prefix, k))
		}
	}
	for k := range lower {
		lower[k], upper[k] = math.Inf(-1), math.Inf(1)
	}
	for k := n; k < 2*n; k++ {
		lower[k] = 0
	}
	e, err := paramest.NewEstimator(paramest.Problem{
		Sensitivity: sensitivity,
		Seed:        d.Seed,
		Data:        []paramest.Dataset{{X: d.X, Y: mat.NewDense(len(d.Y), 1, append([]float64(nil), d.Y...))}},
		Optimize:    d.Optimize,
		Lower:       lower,
		Upper:       upper,
		ParamNames:  names,
	})
	if err != nil {
		return nil, err
	}
	e.Log = d.Log
	res, err := e.Optimize(m, h)
	if err != nil {
		return nil, fmt.Errorf("deconv: %w", err)
	}
	f := &Fit{Result: res}
	f.Mu, f.Sigma, f.Ampl, _ = split(res.Full)
	return f, nil
}
