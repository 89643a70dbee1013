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

// Stream is an outlet stream handed to a downstream consumer. The solver
// only creates streams and never reads them back.
type Stream interface{}

// StreamMaker builds liquid product streams.
type StreamMaker interface {
	MakeLiquidStream(thermoPath string, temperature float64, moleFrac []float64, moleFlow float64) (Stream, error)
}

// LiquidStream is the default product stream.
type LiquidStream struct {
	ThermoPath  string
	Temperature float64 // K
	MoleFrac    []float64
	MoleFlow    float64
}

// LiquidStreams is a StreamMaker that returns *LiquidStream values.
type LiquidStreams struct{}

// MakeLiquidStream fulfils the StreamMaker interface.
func (LiquidStreams) MakeLiquidStream(thermoPath string, temperature float64, moleFrac []float64, moleFlow float64) (Stream, error) {
	return &LiquidStream{
		ThermoPath:  thermoPath,
		Temperature: temperature,
		MoleFrac:    append([]float64(nil), moleFrac...),
		MoleFlow:    moleFlow,
	}, nil
}
