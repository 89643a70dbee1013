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

import "fmt"

// FeedLookup returns the feed mole fractions and molar flow at time t.
type FeedLookup interface {
	FeedAt(t float64) (moleFrac []float64, moleFlow float64, err error)
}

// FeedFunc adapts a function to the FeedLookup interface.
type FeedFunc func(t float64) ([]float64, float64, error)

// FeedAt fulfils the FeedLookup interface.
func (f FeedFunc) FeedAt(t float64) ([]float64, float64, error) { return f(t) }

// ConstantFeed returns a lookup that always returns f.
func ConstantFeed(f Feed) FeedLookup {
	z := append([]float64(nil), f.MoleFrac...)
	return FeedFunc(func(float64) ([]float64, float64, error) {
		return z, f.MoleFlow, nil
	})
}

// StepFeed returns a lookup that switches from before to after at time
// at.
func StepFeed(before, after Feed, at float64) (FeedLookup, error) {
	if len(before.MoleFrac) != len(after.MoleFrac) {
		return nil, fmt.Errorf("colsim: step feed compositions have lengths %d and %d",
			len(before.MoleFrac), len(after.MoleFrac))
	}
	b, a := ConstantFeed(before), ConstantFeed(after)
	return FeedFunc(func(t float64) ([]float64, float64, error) {
		if t < at {
			return b.FeedAt(t)
		}
		return a.FeedAt(t)
	}), nil
}
