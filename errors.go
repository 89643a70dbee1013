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

import (
	"errors"
	"fmt"
)

var (
	// ErrPlateCap is returned when plate-to-plate stepping reaches the
	// iteration cap of a column section without meeting its stopping
	// criterion.
	ErrPlateCap = errors.New("colsim: plate count limit reached")

	// ErrSearch is returned when a one-dimensional search for the
	// Underwood root or the reflux ratio fails.
	ErrSearch = errors.New("colsim: search did not converge")

	// ErrInfeasibleSplit is returned when the product split leaves a
	// product with zero flow, so that its composition is undefined.
	ErrInfeasibleSplit = errors.New("colsim: infeasible product split")

	// ErrFeedPlate is returned when a dynamic column cannot place its
	// feed plate inside the column.
	ErrFeedPlate = errors.New("colsim: invalid feed plate")
)

// StageError records the solver stage and iteration at which a failure
// occurred.
type StageError struct {
	Stage     string
	Iteration int
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("colsim: %s, iteration %d: %v", e.Stage, e.Iteration, e.Err)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error { return e.Err }
