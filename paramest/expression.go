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

	"github.com/Knetic/govaluate"
	"gonum.org/v1/gonum/mat"
)

func unary(name string, f func(float64) float64) govaluate.ExpressionFunction {
	return func(arg ...interface{}) (interface{}, error) {
		if len(arg) != 1 {
			return nil, fmt.Errorf("paramest: got %d arguments for function '%s', but needs 1", len(arg), name)
		}
		v, ok := arg[0].(float64)
		if !ok {
			return nil, fmt.Errorf("paramest: argument of '%s' is %T, not a number", name, arg[0])
		}
		return f(v), nil
	}
}

var expressionFuncs = map[string]govaluate.ExpressionFunction{
	"exp":  unary("exp", math.Exp),
	"log":  unary("log", math.Log),
	"sqrt": unary("sqrt", math.Sqrt),
}

// ExpressionModel returns a Model with one channel per expression. The
// expressions may use the independent variable x, the parameters named
// in names and the functions exp, log and sqrt.
func ExpressionModel(names []string, expressions ...string) (Model, error) {
	if len(expressions) == 0 {
		return nil, fmt.Errorf("paramest: no model expressions")
	}
	known := map[string]bool{"x": true}
	for _, n := range names {
		if known[n] {
			return nil, fmt.Errorf("paramest: duplicate or reserved parameter name %q", n)
		}
		known[n] = true
	}
	exprs := make([]*govaluate.EvaluableExpression, len(expressions))
	for i, s := range expressions {
		expr, err := govaluate.NewEvaluableExpressionWithFunctions(s, expressionFuncs)
		if err != nil {
			return nil, fmt.Errorf("paramest: parsing expression %q: %w", s, err)
		}
		for _, v := range expr.Vars() {
			if !known[v] {
				return nil, fmt.Errorf("paramest: expression %q uses unknown variable %q", s, v)
			}
		}
		exprs[i] = expr
	}

	return func(p, x []float64, _ interface{}) (*mat.Dense, error) {
		if len(p) != len(names) {
			return nil, fmt.Errorf("%w: %d parameters for %d names", ErrShape, len(p), len(names))
		}
		vars := make(map[string]interface{}, len(names)+1)
		for i, n := range names {
			vars[n] = p[i]
		}
		y := mat.NewDense(len(x), len(exprs), nil)
		for i, xi := range x {
			vars["x"] = xi
			for j, expr := range exprs {
				v, err := expr.Evaluate(vars)
				if err != nil {
					return nil, fmt.Errorf("paramest: evaluating %q at x=%g: %w", expr.String(), xi, err)
				}
				f, ok := v.(float64)
				if !ok {
					return nil, fmt.Errorf("paramest: expression %q returned %T, not a number", expr.String(), v)
				}
				y.Set(i, j, f)
			}
		}
		return y, nil
	}, nil
}
