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

package colsimutil

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/lnashier/viper"
	"github.com/spatialmodel/colsim"
	"github.com/spatialmodel/colsim/deconv"
	"github.com/spatialmodel/colsim/paramest"
	"github.com/spatialmodel/colsim/science/vle/raoult"
	"github.com/spf13/cast"
	"gonum.org/v1/gonum/mat"
)

// toFloat64SliceE converts a configuration value to a slice of floats.
// Command-line values arrive as strings such as "[0.4,0.3]" and
// configuration file values as slices.
func toFloat64SliceE(s interface{}) ([]float64, error) {
	switch v := s.(type) {
	case nil:
		return nil, nil
	case []float64:
		return v, nil
	case string:
		v = strings.TrimSpace(v)
		v = strings.TrimSuffix(strings.TrimPrefix(v, "["), "]")
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		parts := strings.Split(v, ",")
		o := make([]float64, len(parts))
		for i, p := range parts {
			f, err := cast.ToFloat64E(strings.TrimSpace(p))
			if err != nil {
				return nil, err
			}
			o[i] = f
		}
		return o, nil
	}
	vals, err := cast.ToSliceE(s)
	if err != nil {
		return nil, err
	}
	o := make([]float64, len(vals))
	for i, val := range vals {
		f, err := cast.ToFloat64E(val)
		if err != nil {
			return nil, err
		}
		o[i] = f
	}
	return o, nil
}

func getFloat64Slice(cfg *viper.Viper, name string) ([]float64, error) {
	v, err := toFloat64SliceE(cfg.Get(name))
	if err != nil {
		return nil, fmt.Errorf("colsimutil: parsing %s: %v", name, err)
	}
	return v, nil
}

// ColumnConfig builds a column specification and feed from a
// configuration.
func ColumnConfig(cfg *viper.Viper) (colsim.ColumnSpec, colsim.Feed, error) {
	z, err := getFloat64Slice(cfg, "Column.MoleFrac")
	if err != nil {
		return colsim.ColumnSpec{}, colsim.Feed{}, err
	}
	spec := colsim.ColumnSpec{
		Pressure:         cfg.GetFloat64("Column.Pressure"),
		FeedQuality:      cfg.GetFloat64("Column.FeedQuality"),
		LightKey:         cfg.GetString("Column.LightKey"),
		HeavyKey:         cfg.GetString("Column.HeavyKey"),
		LightKeyRecovery: cfg.GetFloat64("Column.LightKeyRecovery"),
		HeavyKeyRecovery: cfg.GetFloat64("Column.HeavyKeyRecovery"),
		Reflux:           cfg.GetFloat64("Column.Reflux"),
		NumPlates:        cfg.GetInt("Column.NumPlates"),
		FeedPlate:        cfg.GetInt("Column.FeedPlate"),
		ActivityModel:    cfg.GetString("Column.ActivityModel"),
	}
	feed := colsim.Feed{
		Species:    cfg.GetStringSlice("Column.Species"),
		MoleFrac:   z,
		MoleFlow:   cfg.GetFloat64("Column.MoleFlow"),
		ThermoPath: os.ExpandEnv(cfg.GetString("Column.ThermoPath")),
	}
	return spec, feed, nil
}

// VLEConfig returns the equilibrium model for the feed species, using the
// component table in the Components file if one is given and the built-in
// table otherwise.
func VLEConfig(cfg *viper.Viper, species []string) (*raoult.Mixture, error) {
	table := raoult.Library
	if path := os.ExpandEnv(cfg.GetString("Components")); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("colsimutil: opening component file: %v", err)
		}
		defer f.Close()
		if table, err = raoult.ReadComponents(f); err != nil {
			return nil, err
		}
	}
	return raoult.Select(table, species...)
}

type steadyReport struct {
	Distillate float64   `toml:"distillate"`
	Bottoms    float64   `toml:"bottoms"`
	XDist      []float64 `toml:"x_dist"`
	XBot       []float64 `toml:"x_bot"`
	MinPlates  float64   `toml:"min_plates"`
	MinReflux  float64   `toml:"min_reflux"`
	Reflux     float64   `toml:"reflux"`
	NumPlates  int       `toml:"num_plates"`
	FeedPlate  int       `toml:"feed_plate"`
	T          []float64 `toml:"temperature"`
	Warnings   []string  `toml:"warnings"`
}

func warnings(d colsim.Diagnostics) []string {
	w := make([]string, len(d))
	for i, x := range d {
		w[i] = x.String()
	}
	return w
}

// RunSteady solves the configured column and writes a summary to w.
func RunSteady(w io.Writer, cfg *viper.Viper) error {
	spec, feed, err := ColumnConfig(cfg)
	if err != nil {
		return err
	}
	vle, err := VLEConfig(cfg, feed.Species)
	if err != nil {
		return err
	}
	c := &colsim.Column{VLE: colsim.NewCachedVLE(vle, cfg.GetInt("VLECacheSize"))}
	s, err := c.Solve(spec, feed)
	if err != nil {
		return err
	}
	return toml.NewEncoder(w).Encode(steadyReport{
		Distillate: s.Split.D,
		Bottoms:    s.Split.B,
		XDist:      s.Split.XDist,
		XBot:       s.Split.XBot,
		MinPlates:  s.Split.MinPlates,
		MinReflux:  s.Reflux.Min,
		Reflux:     s.Reflux.Ratio,
		NumPlates:  s.Profile.NumPlates,
		FeedPlate:  s.Profile.FeedPlate,
		T:          s.Profile.T,
		Warnings:   warnings(s.Diagnostics),
	})
}

// dynamicReport rows start at the reflux drum.
type dynamicReport struct {
	Time      float64   `toml:"time"`
	Steps     int       `toml:"steps"`
	XDist     []float64 `toml:"x_dist"`
	XBot      []float64 `toml:"x_bot"`
	T         []float64 `toml:"temperature"`
	NumPlates int       `toml:"num_plates"`
	FeedPlate int       `toml:"feed_plate"`
	Warnings  []string  `toml:"warnings"`
}

// RunDynamic simulates the configured column and writes the final state
// to w.
func RunDynamic(w io.Writer, cfg *viper.Viper) error {
	spec, feed, err := ColumnConfig(cfg)
	if err != nil {
		return err
	}
	vle, err := VLEConfig(cfg, feed.Species)
	if err != nil {
		return err
	}
	d := &colsim.DynamicColumn{
		Steady: colsim.Column{VLE: vle},
		Spec:   spec,
		Feed:   feed,
		Holdup: cfg.GetFloat64("Dynamic.Holdup"),
	}
	zStep, err := getFloat64Slice(cfg, "Dynamic.StepMoleFrac")
	if err != nil {
		return err
	}
	if fStep := cfg.GetFloat64("Dynamic.StepMoleFlow"); len(zStep) > 0 || fStep > 0 {
		after := feed
		if len(zStep) > 0 {
			after.MoleFrac = zStep
		}
		if fStep > 0 {
			after.MoleFlow = fStep
		}
		if d.Inputs, err = colsim.StepFeed(feed, after, cfg.GetFloat64("Dynamic.StepTime")); err != nil {
			return err
		}
	}
	tr, err := d.Simulate(cfg.GetFloat64("Dynamic.EndTime"))
	if err != nil {
		return err
	}
	end := len(tr.Time) - 1
	n := tr.Startup.NumPlates
	return toml.NewEncoder(w).Encode(dynamicReport{
		Time:      tr.Time[end],
		Steps:     tr.Stats.StepCount,
		XDist:     tr.X[end][0],
		XBot:      tr.X[end][n],
		T:         tr.T[end],
		NumPlates: n,
		FeedPlate: tr.Startup.FeedPlate,
		Warnings:  warnings(tr.Diagnostics),
	})
}

// methodConfig returns the optimization method with the given name.
func methodConfig(name string) (paramest.Method, error) {
	switch strings.ToLower(name) {
	case "lm", "levenberg-marquardt":
		return &paramest.LevenbergMarquardt{}, nil
	case "ip", "interior-point":
		return &paramest.InteriorPoint{}, nil
	case "lbfgsb", "l-bfgs-b":
		return &paramest.LBFGSB{}, nil
	default:
		return nil, fmt.Errorf("colsimutil: unknown optimization method %q; use 'lm', 'ip' or 'lbfgsb'", name)
	}
}

// dataFile is the layout of an estimation data file.
type dataFile struct {
	Dataset []struct {
		X        []float64   `toml:"x"`
		Y        [][]float64 `toml:"y"`
		Variance [][]float64 `toml:"variance"`
	} `toml:"dataset"`
}

func toDense(name string, v [][]float64) (*mat.Dense, error) {
	if len(v) == 0 || len(v[0]) == 0 {
		return nil, fmt.Errorf("colsimutil: %s is empty", name)
	}
	d := mat.NewDense(len(v), len(v[0]), nil)
	for i, row := range v {
		if len(row) != len(v[0]) {
			return nil, fmt.Errorf("colsimutil: %s row %d has %d columns, want %d", name, i, len(row), len(v[0]))
		}
		d.SetRow(i, row)
	}
	return d, nil
}

// ReadDatasets reads estimation datasets from a TOML file of the form
//
//	[[dataset]]
//	x = [0.0, 1.0, 2.0]
//	y = [[1.0], [0.7], [0.5]]
func ReadDatasets(path string) ([]paramest.Dataset, error) {
	var f dataFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("colsimutil: reading dataset file: %w", err)
	}
	if len(f.Dataset) == 0 {
		return nil, fmt.Errorf("colsimutil: no datasets in %s", path)
	}
	data := make([]paramest.Dataset, len(f.Dataset))
	for i, d := range f.Dataset {
		y, err := toDense(fmt.Sprintf("dataset %d y", i), d.Y)
		if err != nil {
			return nil, err
		}
		data[i] = paramest.Dataset{X: d.X, Y: y}
		if d.Variance != nil {
			if data[i].Covariance, err = toDense(fmt.Sprintf("dataset %d variance", i), d.Variance); err != nil {
				return nil, err
			}
		}
	}
	return data, nil
}

type fitReport struct {
	Method          string             `toml:"method"`
	Status          string             `toml:"status"`
	Iterations      int                `toml:"iterations"`
	Params          map[string]float64 `toml:"params"`
	Covariance      [][]float64        `toml:"covariance"`
	ConditionNumber float64            `toml:"condition_number"`
	RSquared        []float64          `toml:"r_squared"`
	Evaluations     int                `toml:"evaluations"`
}

// RunFit fits the configured expression model to the configured data
// file and writes the estimate to w.
func RunFit(w io.Writer, cfg *viper.Viper) error {
	names := cfg.GetStringSlice("Fit.Params")
	model, err := paramest.ExpressionModel(names, cfg.GetStringSlice("Fit.Expressions")...)
	if err != nil {
		return err
	}
	seed, err := getFloat64Slice(cfg, "Fit.Seed")
	if err != nil {
		return err
	}
	if len(seed) != len(names) {
		return fmt.Errorf("colsimutil: %d seed values for %d parameters", len(seed), len(names))
	}
	data, err := ReadDatasets(os.ExpandEnv(cfg.GetString("Fit.Data")))
	if err != nil {
		return err
	}
	opt := make([]bool, len(names))
	for i := range opt {
		opt[i] = true
	}
	for _, fixed := range cfg.GetStringSlice("Fit.Fixed") {
		found := false
		for i, n := range names {
			if n == fixed {
				opt[i], found = false, true
			}
		}
		if !found {
			return fmt.Errorf("colsimutil: fixed parameter %q is not in Fit.Params", fixed)
		}
	}
	m, err := methodConfig(cfg.GetString("Fit.Method"))
	if err != nil {
		return err
	}
	e, err := paramest.NewEstimator(paramest.Problem{
		Model:      model,
		Seed:       seed,
		Data:       data,
		Optimize:   opt,
		ParamNames: names,
	})
	if err != nil {
		return err
	}
	h := new(paramest.History)
	res, err := e.Optimize(m, h)
	if err != nil {
		return err
	}
	rep := fitReport{
		Method:          res.Method,
		Status:          res.Status,
		Iterations:      res.Iterations,
		Params:          make(map[string]float64),
		ConditionNumber: res.ConditionNumber,
		Evaluations:     res.History.Len(),
	}
	for i, n := range names {
		rep.Params[n] = res.Full[i]
	}
	nf := e.NumFree()
	for i := 0; i < nf; i++ {
		row := make([]float64, nf)
		for j := range row {
			row[j] = res.Covariance.At(i, j)
		}
		rep.Covariance = append(rep.Covariance, row)
	}
	for _, p := range res.Parity {
		rep.RSquared = append(rep.RSquared, p.RSquared)
	}
	return toml.NewEncoder(w).Encode(rep)
}

type deconvReport struct {
	Mu    []float64 `toml:"mu"`
	Sigma []float64 `toml:"sigma"`
	Ampl  []float64 `toml:"ampl"`
}

// RunDeconv fits Gaussian peaks to the signal in the configured data
// file, which holds x and y arrays, and writes the peaks to w.
func RunDeconv(w io.Writer, cfg *viper.Viper) error {
	var signal struct {
		X []float64 `toml:"x"`
		Y []float64 `toml:"y"`
	}
	if _, err := toml.DecodeFile(os.ExpandEnv(cfg.GetString("Deconv.Data")), &signal); err != nil {
		return fmt.Errorf("colsimutil: reading signal file: %w", err)
	}
	seed, err := getFloat64Slice(cfg, "Deconv.Seed")
	if err != nil {
		return err
	}
	m, err := methodConfig(cfg.GetString("Deconv.Method"))
	if err != nil {
		return err
	}
	d := &deconv.Deconvolution{X: signal.X, Y: signal.Y, Seed: seed}
	fit, err := d.EstimateParams(m, nil)
	if err != nil {
		return err
	}
	return toml.NewEncoder(w).Encode(deconvReport{Mu: fit.Mu, Sigma: fit.Sigma, Ampl: fit.Ampl})
}
