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

package hash

import (
	"math"
	"testing"
)

func TestHash(t *testing.T) {
	type query struct {
		P float64
		X []float64
	}
	a := Hash(query{P: 101325, X: []float64{0.4, 0.6}})
	b := Hash(query{P: 101325, X: []float64{0.4, 0.6}})
	c := Hash(query{P: 101325, X: []float64{0.6, 0.4}})
	if a != b {
		t.Errorf("equal objects: %s != %s", a, b)
	}
	if a == c {
		t.Errorf("different objects share key %s", a)
	}
}

func TestHashUnexported(t *testing.T) {
	type hidden struct{ x float64 }
	if Hash(hidden{1}) == Hash(hidden{2}) {
		t.Error("spew fallback should distinguish values")
	}
}

func TestFloats(t *testing.T) {
	nan := math.NaN()
	if Floats(1, nan) != Floats(1, nan) {
		t.Error("NaN vectors should hash equally")
	}
	if Floats(1, 2) == Floats(2, 1) {
		t.Error("order should matter")
	}
	if Floats(1) == Floats(1, 0) {
		t.Error("length should matter")
	}
}
