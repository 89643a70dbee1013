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
	"math"
)

// Split holds the estimated product flows and compositions.
type Split struct {
	// D and B are the distillate and bottoms molar flows.
	D, B float64

	// XDist and XBot are the distillate and bottoms mole fractions.
	XDist, XBot []float64

	// AlphaFenske is the geometric mean light-key/heavy-key relative
	// volatility at the two product compositions.
	AlphaFenske float64

	// MinPlates is the Fenske minimum number of stages.
	MinPlates float64

	Diagnostics Diagnostics
}

// EstimateComposition estimates the product flows and compositions from
// the key recoveries. Species lighter than the light key go entirely to
// the distillate and species heavier than the heavy key go entirely to the
// bottoms. It also computes the Fenske minimum stage count.
func (c *Column) EstimateComposition(ctx *Context) (*Split, error) {
	const stage = "estimate_composition"
	log := c.logger()
	F := ctx.Feed.MoleFlow
	z := ctx.Feed.MoleFrac
	pLK := ctx.Spec.LightKeyRecovery / 100
	pHK := ctx.Spec.HeavyKeyRecovery / 100

	// Bottoms flow of each species.
	bot := make([]float64, len(z))
	bot[ctx.LK] = F * z[ctx.LK] * (1 - pLK)
	bot[ctx.HK] = F * z[ctx.HK] * (1 - pHK)
	for _, i := range ctx.Heavier {
		bot[i] = F * z[i]
	}
	s := new(Split)
	for _, b := range bot {
		s.B += b
	}
	s.D = F - s.B
	if s.B < 0 || s.D < 0 {
		s.Diagnostics.add(log, NegativeFlow, stage,
			"negative product flow (D=%g, B=%g): recovery targets are not feasible", s.D, s.B)
	}
	if s.B == 0 || s.D == 0 {
		return nil, &StageError{Stage: stage, Err: fmt.Errorf("%w: D=%g, B=%g", ErrInfeasibleSplit, s.D, s.B)}
	}

	s.XBot = make([]float64, len(z))
	s.XDist = make([]float64, len(z))
	for i := range z {
		s.XBot[i] = bot[i] / s.B
		s.XDist[i] = (F*z[i] - bot[i]) / s.D
	}

	p := ctx.Spec.Pressure
	kDist, _, err := kAtBubble(c.VLE, p, s.XDist)
	if err != nil {
		return nil, &StageError{Stage: stage, Err: err}
	}
	kBot, _, err := kAtBubble(c.VLE, p, s.XBot)
	if err != nil {
		return nil, &StageError{Stage: stage, Err: err}
	}
	s.AlphaFenske = math.Sqrt(kDist[ctx.LK] / kDist[ctx.HK] * kBot[ctx.LK] / kBot[ctx.HK])
	s.MinPlates = math.Log(pLK/(1-pLK)/(pHK/(1-pHK))) / math.Log(s.AlphaFenske)
	return s, nil
}
