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

package deconv

import (
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/colsim/paramest"
)

func different(a, b, tolerance float64) bool {
	if 2*math.Abs(a-b)/math.Abs(a+b) > tolerance || math.IsNaN(a) || math.IsNaN(b) {
		return true
	}
	return false
}

var twoPeaks = []float64{4, 6, 0.8, 1.2, 1, 0.6}

func grid() []float64 {
	x := make([]float64, 81)
	for i := range x {
		x[i] = float64(i) * 0.125
	}
	return x
}

func TestGaussians(t *testing.T) {
	x := []float64{4, 6}
	sum, err := Gaussians(twoPeaks, x, false)
	if err != nil {
		t.Fatal(err)
	}
	sep, err := Gaussians(twoPeaks, x, true)
	if err != nil {
		t.Fatal(err)
	}
	if r, c := sep.Dims(); r != 2 || c != 2 {
		t.Fatalf("separate peaks are %d×%d", r, c)
	}
	for i := range x {
		if different(sum.At(i, 0), sep.At(i, 0)+sep.At(i, 1), 1.e-14) {
			t.Errorf("point %d: sum %g, peaks %g and %g", i, sum.At(i, 0), sep.At(i, 0), sep.At(i, 1))
		}
	}
	if different(sep.At(0, 0), 1, 1.e-14) || different(sep.At(1, 1), 0.6, 1.e-14) {
		t.Errorf("peak heights %g and %g", sep.At(0, 0), sep.At(1, 1))
	}
	if _, err := Gaussians([]float64{1, 2}, x, false); err == nil {
		t.Error("short parameter vector should fail")
	}
}

func TestDParams(t *testing.T) {
	x := grid()
	d, err := DParams(twoPeaks, x)
	if err != nil {
		t.Fatal(err)
	}
	const h = 1.e-6
	for k := range twoPeaks {
		hi := append([]float64(nil), twoPeaks...)
		lo := append([]float64(nil), twoPeaks...)
		hi[k] += h
		lo[k] -= h
		yh, _ := Gaussians(hi, x, false)
		yl, _ := Gaussians(lo, x, false)
		for i := range x {
			fd := (yh.At(i, 0) - yl.At(i, 0)) / (2 * h)
			if math.Abs(fd-d[k].At(i, 0)) > 1.e-6 {
				t.Errorf("param %d at x=%g: have %g, want %g", k, x[i], d[k].At(i, 0), fd)
			}
		}
	}
}

func TestDX(t *testing.T) {
	x := grid()
	dx, err := DX(twoPeaks, x)
	if err != nil {
		t.Fatal(err)
	}
	dxx, err := DXX(twoPeaks, x)
	if err != nil {
		t.Fatal(err)
	}
	const h = 1.e-5
	for i, xi := range x {
		hi, _ := DX(twoPeaks, []float64{xi + h})
		lo, _ := DX(twoPeaks, []float64{xi - h})
		if fd := (hi[0] - lo[0]) / (2 * h); math.Abs(fd-dxx[i]) > 1.e-5 {
			t.Errorf("d²/dx² at %g: have %g, want %g", xi, dxx[i], fd)
		}
		yh, _ := Gaussians(twoPeaks, []float64{xi + h}, false)
		yl, _ := Gaussians(twoPeaks, []float64{xi - h}, false)
		if fd := (yh.At(0, 0) - yl.At(0, 0)) / (2 * h); math.Abs(fd-dx[i]) > 1.e-5 {
			t.Errorf("d/dx at %g: have %g, want %g", xi, dx[i], fd)
		}
	}
}

func TestEstimateParams(t *testing.T) {
	x := grid()
	y, err := Gaussians(twoPeaks, x, false)
	if err != nil {
		t.Fatal(err)
	}
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	d := &Deconvolution{
		X:    x,
		Y:    y.RawMatrix().Data,
		Seed: []float64{3.7, 6.4, 1, 1, 0.8, 0.8},
		Log:  log,
	}
	for m, tol := range map[paramest.Method]float64{
		&paramest.LevenbergMarquardt{}: 1.e-6,
		&paramest.InteriorPoint{}:      1.e-3,
		&paramest.LBFGSB{}:             1.e-4,
	} {
		h := new(paramest.History)
		fit, err := d.EstimateParams(m, h)
		if err != nil {
			t.Fatalf("%s: %v", m, err)
		}
		want := [][]float64{twoPeaks[:2], twoPeaks[2:4], twoPeaks[4:]}
		for i, have := range [][]float64{fit.Mu, fit.Sigma, fit.Ampl} {
			for k := range have {
				if different(have[k], want[i][k], tol) {
					t.Errorf("%s: group %d peak %d: have %g, want %g", m, i, k, have[k], want[i][k])
				}
			}
		}
		if h.Len() == 0 || fit.Result.History.Len() > h.Len() {
			t.Errorf("%s: history %d, unique %d", m, h.Len(), fit.Result.History.Len())
		}
		peaks, err := fit.Peaks(x)
		if err != nil {
			t.Fatal(err)
		}
		if _, c := peaks.Dims(); c != 2 {
			t.Errorf("%s: %d peak columns", m, c)
		}
	}
}

func TestEstimateParamsFixed(t *testing.T) {
	x := grid()
	y, _ := Gaussians(twoPeaks, x, false)
	d := &Deconvolution{
		X:        x,
		Y:        y.RawMatrix().Data,
		Seed:     []float64{4, 6.3, 1, 1, 0.8, 0.8},
		Optimize: []bool{false, true, true, true, true, true},
	}
	fit, err := d.EstimateParams(&paramest.LevenbergMarquardt{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if fit.Mu[0] != 4 {
		t.Errorf("fixed mean moved to %g", fit.Mu[0])
	}
	if different(fit.Mu[1], 6, 1.e-5) {
		t.Errorf("mean: have %g, want 6", fit.Mu[1])
	}
}
