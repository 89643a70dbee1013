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
	"github.com/sirupsen/logrus"
)

// Column is a steady-state staged distillation column solver using the
// Fenske, Underwood and plate-to-plate methods with constant molal
// overflow. A Column holds no state between solves, but it must not be
// used from more than one goroutine unless its VLE model allows it.
type Column struct {
	// VLE is the equilibrium model.
	VLE VLE

	// Tolerances holds the numerical constants. The zero value is
	// replaced with DefaultTolerances().
	Tolerances Tolerances

	// Streams builds the product streams. If nil, LiquidStreams is used.
	Streams StreamMaker

	// Log receives warnings and progress. If nil, the logrus standard
	// logger is used.
	Log logrus.FieldLogger
}

// Solution is the result of a steady-state solve.
type Solution struct {
	Context *Context
	Split   *Split
	Reflux  *Reflux
	Profile *Profile

	// Diagnostics holds the warnings of all solver stages.
	Diagnostics Diagnostics
}

func (c *Column) logger() logrus.FieldLogger {
	if c.Log == nil {
		return logrus.StandardLogger()
	}
	return c.Log
}

func (c *Column) tolerances() Tolerances {
	if c.Tolerances == (Tolerances{}) {
		return DefaultTolerances()
	}
	return c.Tolerances
}

func (c *Column) streams() StreamMaker {
	if c.Streams == nil {
		return LiquidStreams{}
	}
	return c.Streams
}

// Solve configures the column for the given feed and then estimates the
// product split, selects the reflux ratio and computes the plate profile.
func (c *Column) Solve(spec ColumnSpec, feed Feed) (*Solution, error) {
	ctx, err := Configure(spec, feed, c.VLE, c.logger())
	if err != nil {
		return nil, err
	}
	return c.SolveContext(ctx)
}

// SolveContext is like Solve for an already configured column.
func (c *Column) SolveContext(ctx *Context) (*Solution, error) {
	split, err := c.EstimateComposition(ctx)
	if err != nil {
		return nil, err
	}
	reflux, err := c.CalcReflux(ctx, split)
	if err != nil {
		return nil, err
	}
	profile, err := c.CalcPlates(ctx, split, reflux.Ratio)
	if err != nil {
		return nil, err
	}
	s := &Solution{Context: ctx, Split: split, Reflux: reflux, Profile: profile}
	for _, d := range []Diagnostics{ctx.Diagnostics, split.Diagnostics, reflux.Diagnostics, profile.Diagnostics} {
		s.Diagnostics = append(s.Diagnostics, d...)
	}
	c.logger().WithFields(logrus.Fields{
		"plates":     profile.NumPlates,
		"feed plate": profile.FeedPlate,
		"reflux":     reflux.Ratio,
		"min reflux": reflux.Min,
		"min plates": split.MinPlates,
	}).Info("colsim: steady-state column solved")
	return s, nil
}
