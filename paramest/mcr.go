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

	"gonum.org/v1/gonum/mat"
)

// PseudoInverse returns the Moore-Penrose pseudo-inverse of a, which must
// have full column rank.
func PseudoInverse(a mat.Matrix) (*mat.Dense, error) {
	r, c := a.Dims()
	if r < c {
		return nil, fmt.Errorf("%w: %d×%d matrix", ErrRankDeficient, r, c)
	}
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return nil, fmt.Errorf("paramest: singular value decomposition failed")
	}
	s := svd.Values(nil)
	tol := float64(r) * s[0] * 2.2e-16
	if s[c-1] <= tol {
		return nil, fmt.Errorf("%w: smallest singular value %g", ErrRankDeficient, s[c-1])
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	for j := 0; j < c; j++ {
		col := v.ColView(j).(*mat.VecDense)
		col.ScaleVec(1/s[j], col)
	}
	p := mat.NewDense(c, r, nil)
	p.Mul(&v, u.T())
	return p, nil
}

// PseudoInverseDerivative returns d(A⁺)/dθ given A, its pseudo-inverse
// pinv and dA/dθ, assuming the rank of A does not change.
func PseudoInverseDerivative(a, pinv, da mat.Matrix) *mat.Dense {
	r, c := a.Dims()

	perpL := product(a, pinv)
	perpL.Sub(eye(r), perpL)
	perpR := product(pinv, a)
	perpR.Sub(eye(c), perpR)

	d := product(pinv, da, pinv)
	d.Scale(-1, d)
	d.Add(d, product(pinv, pinv.T(), da.T(), perpL))
	d.Add(d, product(perpR, da.T(), pinv.T(), pinv))
	return d
}

// product returns the matrix product of m, left to right.
func product(m ...mat.Matrix) *mat.Dense {
	p := mat.DenseCopyOf(m[0])
	for _, b := range m[1:] {
		var next mat.Dense
		next.Mul(p, b)
		p = &next
	}
	return p
}

// ConditionNumber returns the ratio of the largest to the smallest
// singular value of a. It is +Inf if a is rank deficient.
func ConditionNumber(a mat.Matrix) float64 {
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDNone) {
		return math.Inf(1)
	}
	return svd.Cond()
}

func eye(n int) *mat.Dense {
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		d.Set(i, i, 1)
	}
	return d
}

// resolution holds a curve resolution of spectra s against
// concentrations c.
type resolution struct {
	c, pinv *mat.Dense
	// Absorptivity is C⁺ S, species × wavelengths.
	absorptivity *mat.Dense
	// absorbance is C C⁺ S.
	absorbance *mat.Dense
	perp       *mat.Dense // I - C C⁺
}

func resolve(c, s *mat.Dense) (*resolution, error) {
	pinv, err := PseudoInverse(c)
	if err != nil {
		return nil, err
	}
	res := &resolution{c: c, pinv: pinv}
	res.absorptivity = product(pinv, s)
	res.absorbance = product(c, res.absorptivity)
	r, _ := c.Dims()
	res.perp = product(c, pinv)
	res.perp.Sub(eye(r), res.perp)
	return res, nil
}

// derivative returns the derivative of the resolved absorbance C C⁺ S
// given dC, using d(C C⁺) = P⊥ dC C⁺ + (P⊥ dC C⁺)ᵀ.
func (res *resolution) derivative(dc mat.Matrix, s *mat.Dense) *mat.Dense {
	g := product(res.perp, dc, res.pinv)
	var dp mat.Dense
	dp.Add(g, g.T())
	return product(&dp, s)
}
