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

// Package raoult contains an ideal vapor-liquid equilibrium model in which
// pure-component vapor pressures follow the Antoine equation and K-values
// follow Raoult's law. It fulfils the github.com/spatialmodel/colsim.VLE
// interface.
package raoult

import (
	"fmt"
	"io"
	"math"

	"github.com/BurntSushi/toml"
)

// mmHg is one millimeter of mercury in pascals.
const mmHg = 133.322368

// zeroCelsius is 0 °C in kelvin.
const zeroCelsius = 273.15

// Ideal is the only activity model supported by Mixture.
const Ideal = "ideal"

// Component holds the Antoine coefficients of one species, in the form
// log10(Psat/mmHg) = A - B/(T/°C + C).
type Component struct {
	Name string  `toml:"name"`
	A    float64 `toml:"a"`
	B    float64 `toml:"b"`
	C    float64 `toml:"c"`
}

// VaporPressure returns the saturation pressure [Pa] at temperature
// T [K].
func (c Component) VaporPressure(T float64) float64 {
	return mmHg * math.Pow(10, c.A-c.B/(T-zeroCelsius+c.C))
}

// SaturationTemperature returns the temperature [K] at which the
// vapor pressure equals p [Pa].
func (c Component) SaturationTemperature(p float64) float64 {
	return c.B/(c.A-math.Log10(p/mmHg)) - c.C + zeroCelsius
}

// Some common aromatic and paraffinic components.
var (
	Benzene  = Component{Name: "benzene", A: 6.90565, B: 1211.033, C: 220.790}
	Toluene  = Component{Name: "toluene", A: 6.95464, B: 1344.800, C: 219.482}
	OXylene  = Component{Name: "o-xylene", A: 6.99891, B: 1474.679, C: 213.686}
	NHexane  = Component{Name: "n-hexane", A: 6.87601, B: 1171.170, C: 224.410}
	NHeptane = Component{Name: "n-heptane", A: 6.89385, B: 1264.370, C: 216.636}
)

// Library holds the built-in components.
var Library = []Component{Benzene, Toluene, OXylene, NHexane, NHeptane}

// Select returns a mixture of the named components from table, in the
// order of names.
func Select(table []Component, names ...string) (*Mixture, error) {
	c := make([]Component, len(names))
	for i, n := range names {
		found := false
		for _, comp := range table {
			if comp.Name == n {
				c[i], found = comp, true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("raoult: no Antoine coefficients for %q", n)
		}
	}
	return New(c...), nil
}

// Mixture is an ideal mixture of the given components. The order of
// Components fixes the order of every composition vector.
type Mixture struct {
	Components []Component
}

// New returns a mixture of the given components.
func New(c ...Component) *Mixture {
	return &Mixture{Components: c}
}

// ReadComponents reads a TOML component table of the form
//
//	[[component]]
//	name = "benzene"
//	a = 6.90565
//	b = 1211.033
//	c = 220.79
func ReadComponents(r io.Reader) ([]Component, error) {
	var table struct {
		Component []Component `toml:"component"`
	}
	if _, err := toml.NewDecoder(r).Decode(&table); err != nil {
		return nil, fmt.Errorf("raoult: reading component table: %w", err)
	}
	if len(table.Component) == 0 {
		return nil, fmt.Errorf("raoult: component table is empty")
	}
	for _, c := range table.Component {
		if c.B <= 0 {
			return nil, fmt.Errorf("raoult: component %q has invalid Antoine B coefficient %g", c.Name, c.B)
		}
	}
	return table.Component, nil
}

// LoadFile reads a TOML component table from the named file and returns
// the corresponding mixture.
func LoadFile(path string) (*Mixture, error) {
	var table struct {
		Component []Component `toml:"component"`
	}
	if _, err := toml.DecodeFile(path, &table); err != nil {
		return nil, fmt.Errorf("raoult: reading component file: %w", err)
	}
	if len(table.Component) == 0 {
		return nil, fmt.Errorf("raoult: component file %s is empty", path)
	}
	return New(table.Component...), nil
}

// Species returns the component names in order.
func (m *Mixture) Species() []string {
	o := make([]string, len(m.Components))
	for i, c := range m.Components {
		o[i] = c.Name
	}
	return o
}

// Len returns the number of components.
func (m *Mixture) Len() int { return len(m.Components) }

func (m *Mixture) checkLen(v []float64) error {
	if len(v) != len(m.Components) {
		return fmt.Errorf("raoult: composition has %d entries but the mixture has %d components",
			len(v), len(m.Components))
	}
	return nil
}

// PureSaturationTemperatures returns the saturation temperature [K] of
// each pure component at pressure p [Pa]. Sorting species by ascending
// saturation temperature orders them from most to least volatile.
func (m *Mixture) PureSaturationTemperatures(p float64) ([]float64, error) {
	if p <= 0 {
		return nil, fmt.Errorf("raoult: pressure must be positive, got %g", p)
	}
	o := make([]float64, len(m.Components))
	for i, c := range m.Components {
		o[i] = c.SaturationTemperature(p)
	}
	return o, nil
}

// KValues returns the Raoult's-law K-values Psat(T)/p. The liquid
// composition only sets the vector length because the mixture is ideal.
func (m *Mixture) KValues(p, T float64, x []float64) ([]float64, error) {
	if err := m.checkLen(x); err != nil {
		return nil, err
	}
	if p <= 0 || T <= 0 {
		return nil, fmt.Errorf("raoult: invalid state p=%g Pa, T=%g K", p, T)
	}
	k := make([]float64, len(m.Components))
	for i, c := range m.Components {
		k[i] = c.VaporPressure(T) / p
	}
	return k, nil
}

// bracket returns the lowest and highest pure saturation temperature
// among components with a positive mole fraction in v.
func (m *Mixture) bracket(p float64, v []float64) (lo, hi float64, err error) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for i, c := range m.Components {
		if v[i] <= 0 {
			continue
		}
		ts := c.SaturationTemperature(p)
		lo = math.Min(lo, ts)
		hi = math.Max(hi, ts)
	}
	if math.IsInf(lo, 1) {
		return 0, 0, fmt.Errorf("raoult: composition %v has no positive entries", v)
	}
	return lo - 1, hi + 1, nil
}

// bisect finds the root of the monotonic function f on [lo, hi].
// increasing indicates the sign of the slope.
func bisect(f func(float64) float64, lo, hi float64, increasing bool) float64 {
	const tol = 1.e-10
	for i := 0; i < 200 && hi-lo > tol; i++ {
		mid := 0.5 * (lo + hi)
		if (f(mid) > 0) == increasing {
			hi = mid
		} else {
			lo = mid
		}
	}
	return 0.5 * (lo + hi)
}

// BubblePoint returns the temperature [K] at which liquid of composition
// x begins to boil at pressure p [Pa].
func (m *Mixture) BubblePoint(p float64, x []float64) (float64, error) {
	if err := m.checkLen(x); err != nil {
		return math.NaN(), err
	}
	lo, hi, err := m.bracket(p, x)
	if err != nil {
		return math.NaN(), err
	}
	f := func(T float64) float64 {
		var s float64
		for i, c := range m.Components {
			s += x[i] * c.VaporPressure(T) / p
		}
		return math.Log(s)
	}
	return bisect(f, lo, hi, true), nil
}

// DewPoint returns the composition of the first drop of liquid that
// condenses from vapor of composition y at pressure p [Pa], along with the
// dew-point temperature [K]. model must be "ideal" or empty.
func (m *Mixture) DewPoint(p float64, y []float64, model string) ([]float64, float64, error) {
	if model != "" && model != Ideal {
		return nil, math.NaN(), fmt.Errorf("raoult: unsupported activity model %q", model)
	}
	if err := m.checkLen(y); err != nil {
		return nil, math.NaN(), err
	}
	lo, hi, err := m.bracket(p, y)
	if err != nil {
		return nil, math.NaN(), err
	}
	f := func(T float64) float64 {
		var s float64
		for i, c := range m.Components {
			s += y[i] * p / c.VaporPressure(T)
		}
		return math.Log(s)
	}
	T := bisect(f, lo, hi, false)
	x := make([]float64, len(y))
	var sum float64
	for i, c := range m.Components {
		x[i] = y[i] * p / c.VaporPressure(T)
		sum += x[i]
	}
	for i := range x {
		x[i] /= sum
	}
	return x, T, nil
}
