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
	"fmt"

	"github.com/sirupsen/logrus"
)

// WarningCode classifies a specification problem that the solver recovered
// from.
type WarningCode int

// Warning codes.
const (
	// NonAdjacentKeys means the light and heavy keys are not neighbors
	// in the volatility ordering of the feed.
	NonAdjacentKeys WarningCode = iota + 1
	// NegativeFlow means the recovery targets give a negative product flow.
	NegativeFlow
	// RefluxBelowMinimum means the requested reflux was below the
	// Underwood minimum and was replaced.
	RefluxBelowMinimum
	// FeedPlateDefaulted means the rectifying criterion never held so the
	// feed was placed on the last stage.
	FeedPlateDefaulted
	// FeedPlateClamped means a feed plate outside the column interior was
	// moved inside it.
	FeedPlateClamped
	// CompositionClipped means an operating line produced negative mole
	// fractions that were set to zero.
	CompositionClipped
)

var warningNames = map[WarningCode]string{
	NonAdjacentKeys:    "NonAdjacentKeys",
	NegativeFlow:       "NegativeFlow",
	RefluxBelowMinimum: "RefluxBelowMinimum",
	FeedPlateDefaulted: "FeedPlateDefaulted",
	FeedPlateClamped:   "FeedPlateClamped",
	CompositionClipped: "CompositionClipped",
}

func (c WarningCode) String() string {
	if s, ok := warningNames[c]; ok {
		return s
	}
	return fmt.Sprintf("WarningCode(%d)", int(c))
}

// Warning is a recoverable problem found while solving.
type Warning struct {
	Code    WarningCode
	Stage   string
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s (%s): %s", w.Code, w.Stage, w.Message)
}

// Diagnostics is the list of warnings accumulated during a solve.
type Diagnostics []Warning

// Has returns whether any warning has the given code.
func (d Diagnostics) Has(code WarningCode) bool {
	for _, w := range d {
		if w.Code == code {
			return true
		}
	}
	return false
}

// add appends a warning and logs it.
func (d *Diagnostics) add(log logrus.FieldLogger, code WarningCode, stage, format string, args ...interface{}) {
	w := Warning{Code: code, Stage: stage, Message: fmt.Sprintf(format, args...)}
	*d = append(*d, w)
	log.WithFields(logrus.Fields{
		"stage": stage,
		"code":  code.String(),
	}).Warn(w.Message)
}
