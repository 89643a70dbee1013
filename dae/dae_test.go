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

package dae

import (
	"errors"
	"math"
	"testing"
)

func different(a, b, tolerance float64) bool {
	if 2*math.Abs(a-b)/math.Abs(a+b) > tolerance || math.IsNaN(a) || math.IsNaN(b) {
		return true
	}
	return false
}

func last(s *Solution) []float64 { return s.Y[len(s.Y)-1] }

func TestDecay(t *testing.T) {
	p := Problem{
		Residual: func(t float64, y, yp, res []float64) error {
			res[0] = yp[0] + y[0]
			return nil
		},
		Y0:  []float64{1},
		Yp0: []float64{-1},
	}
	for order, rtol := range map[int]float64{1: 1.e-9, 2: 1.e-7} {
		s, err := Solve(p, 2, Config{RelativeTolerance: rtol, AbsoluteTolerance: 1.e-12, MaxOrder: order})
		if err != nil {
			t.Fatal(err)
		}
		if have, want := last(s)[0], math.Exp(-2); different(have, want, 1.e-3) {
			t.Errorf("order %d: have %g, want %g", order, have, want)
		}
		if s.Time[len(s.Time)-1] != 2 {
			t.Errorf("order %d: end time %g", order, s.Time[len(s.Time)-1])
		}
		if s.Stats.StepCount != len(s.Time)-1 {
			t.Errorf("order %d: %d steps for %d outputs", order, s.Stats.StepCount, len(s.Time))
		}
	}
}

// y0' = -y0 + y1 with the algebraic constraint y1 = sin(t).
func sineProblem() Problem {
	return Problem{
		Residual: func(t float64, y, yp, res []float64) error {
			res[0] = yp[0] + y[0] - y[1]
			res[1] = y[1] - math.Sin(t)
			return nil
		},
		Y0:        []float64{0, 0},
		Yp0:       []float64{0, 0},
		Algebraic: []bool{false, true},
	}
}

func TestAlgebraic(t *testing.T) {
	s, err := Solve(sineProblem(), 3, Config{RelativeTolerance: 1.e-7, AbsoluteTolerance: 1.e-9})
	if err != nil {
		t.Fatal(err)
	}
	tt := 3.
	want := (math.Sin(tt) - math.Cos(tt) + math.Exp(-tt)) / 2
	if have := last(s)[0]; different(have, want, 1.e-3) {
		t.Errorf("differential: have %g, want %g", have, want)
	}
	for i, y := range s.Y {
		if math.Abs(y[1]-math.Sin(s.Time[i])) > 1.e-8 {
			t.Errorf("t=%g: constraint violated: %g != %g", s.Time[i], y[1], math.Sin(s.Time[i]))
		}
	}
}

func TestInitialCondition(t *testing.T) {
	p := sineProblem()
	p.T0 = 1
	p.Y0 = []float64{0.5, 0}
	p.Yp0 = []float64{0, 0}
	s, err := Solve(p, 1.5, Config{CalcInitialCondition: true})
	if err != nil {
		t.Fatal(err)
	}
	if y1 := s.Y[0][1]; different(y1, math.Sin(1), 1.e-8) {
		t.Errorf("algebraic initial value: have %g, want %g", y1, math.Sin(1))
	}
	if yp0 := s.Yp[0][0]; different(yp0, math.Sin(1)-0.5, 1.e-8) {
		t.Errorf("differential initial slope: have %g, want %g", yp0, math.Sin(1)-0.5)
	}
	if s.Y[0][0] != 0.5 {
		t.Errorf("differential initial value changed to %g", s.Y[0][0])
	}
}

// Robertson's stiff chemical kinetics problem as a DAE.
func TestRobertson(t *testing.T) {
	p := Problem{
		Residual: func(t float64, y, yp, res []float64) error {
			res[0] = yp[0] - (-0.04*y[0] + 1.e4*y[1]*y[2])
			res[1] = yp[1] - (0.04*y[0] - 1.e4*y[1]*y[2] - 3.e7*y[1]*y[1])
			res[2] = y[0] + y[1] + y[2] - 1
			return nil
		},
		Y0:        []float64{1, 0, 0},
		Yp0:       []float64{-0.04, 0.04, 0},
		Algebraic: []bool{false, false, true},
	}
	s, err := Solve(p, 40, Config{RelativeTolerance: 1.e-6, AbsoluteTolerance: 1.e-10})
	if err != nil {
		t.Fatal(err)
	}
	y := last(s)
	if different(y[0], 0.7158, 2.e-3) {
		t.Errorf("y0: have %g, want 0.7158", y[0])
	}
	if different(y[2], 0.2842, 5.e-3) {
		t.Errorf("y2: have %g, want 0.2842", y[2])
	}
	if math.Abs(y[0]+y[1]+y[2]-1) > 1.e-6 {
		t.Errorf("conservation violated: sum = %g", y[0]+y[1]+y[2])
	}
	if s.Stats.JacobianCount == 0 || s.Stats.EvaluationCount == 0 {
		t.Errorf("statistics not recorded: %+v", s.Stats)
	}
}

func TestResidualFailure(t *testing.T) {
	bad := errors.New("out of range")
	p := Problem{
		Residual: func(t float64, y, yp, res []float64) error {
			if t > 0.5 {
				return bad
			}
			res[0] = yp[0] - 1
			return nil
		},
		Y0:  []float64{0},
		Yp0: []float64{1},
	}
	_, err := Solve(p, 1, Config{})
	if !errors.Is(err, ErrStepTooSmall) || !errors.Is(err, bad) {
		t.Fatalf("have %v", err)
	}
	var se *StepError
	if !errors.As(err, &se) || se.Time > 0.5 {
		t.Errorf("step error %#v", err)
	}
}

func TestSolveErrors(t *testing.T) {
	p := sineProblem()
	p.Yp0 = p.Yp0[:1]
	if _, err := Solve(p, 1, Config{}); err == nil {
		t.Error("expected a length error")
	}
	if _, err := Solve(sineProblem(), 0, Config{}); err == nil {
		t.Error("expected an end time error")
	}
}
