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

import "github.com/spatialmodel/colsim/internal/hash"

// History collects the objective value and free parameters of every
// evaluation. A nil *History records nothing.
type History struct {
	Objective []float64
	Params    [][]float64
}

func (h *History) record(obj float64, params []float64) {
	if h == nil {
		return
	}
	h.Objective = append(h.Objective, obj)
	h.Params = append(h.Params, append([]float64(nil), params...))
}

// Len returns the number of recorded evaluations.
func (h *History) Len() int {
	if h == nil {
		return 0
	}
	return len(h.Objective)
}

// Rows returns one row per evaluation holding the iteration number, the
// objective and the parameters.
func (h *History) Rows() [][]float64 {
	rows := make([][]float64, h.Len())
	for i := range rows {
		row := make([]float64, 0, 2+len(h.Params[i]))
		row = append(row, float64(i), h.Objective[i])
		rows[i] = append(row, h.Params[i]...)
	}
	return rows
}

// Unique returns a history with repeated parameter vectors removed,
// keeping the first occurrence.
func (h *History) Unique() *History {
	u := new(History)
	seen := make(map[string]struct{})
	for i := 0; i < h.Len(); i++ {
		k := hash.Floats(h.Params[i]...)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		u.record(h.Objective[i], h.Params[i])
	}
	return u
}
