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

// Package colsimutil is the command-line interface to ColSim.
package colsimutil

import (
	"fmt"
	"strings"

	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/colsim"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	column := func() []*pflag.FlagSet {
		return []*pflag.FlagSet{steadyCmd.Flags(), dynamicCmd.Flags()}
	}
	// Options are the configuration options available to ColSim.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "LogLevel",
			usage: `
              LogLevel sets the logging level: one of debug, info, warn or error.`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Components",
			usage: `
              Components specifies a TOML file of Antoine coefficients. If
              it is empty, the built-in table is used.`,
			defaultVal: "",
			flagsets:   column(),
		},
		{
			name: "VLECacheSize",
			usage: `
              VLECacheSize is the maximum number of memoized equilibrium
              calculations. Zero means no limit.`,
			defaultVal: 10000,
			flagsets:   []*pflag.FlagSet{steadyCmd.Flags()},
		},
		{
			name: "Column.Species",
			usage: `
              Column.Species lists the feed species.`,
			defaultVal: []string{"benzene", "toluene", "o-xylene"},
			flagsets:   column(),
		},
		{
			name: "Column.MoleFrac",
			usage: `
              Column.MoleFrac gives the feed mole fraction of each species.`,
			defaultVal: []float64{0.4, 0.3, 0.3},
			flagsets:   column(),
		},
		{
			name: "Column.MoleFlow",
			usage: `
              Column.MoleFlow is the feed flow rate [mol/s].`,
			defaultVal: 100.,
			flagsets:   column(),
		},
		{
			name: "Column.Pressure",
			usage: `
              Column.Pressure is the column pressure [Pa].`,
			defaultVal: 101325.,
			shorthand:  "p",
			flagsets:   column(),
		},
		{
			name: "Column.FeedQuality",
			usage: `
              Column.FeedQuality is the liquid fraction of the feed; 1 is
              saturated liquid.`,
			defaultVal: 1.,
			flagsets:   column(),
		},
		{
			name: "Column.LightKey",
			usage: `
              Column.LightKey is the light key species.`,
			defaultVal: "benzene",
			flagsets:   column(),
		},
		{
			name: "Column.HeavyKey",
			usage: `
              Column.HeavyKey is the heavy key species.`,
			defaultVal: "toluene",
			flagsets:   column(),
		},
		{
			name: "Column.LightKeyRecovery",
			usage: `
              Column.LightKeyRecovery is the percentage of the light key
              recovered in the distillate.`,
			defaultVal: 95.,
			flagsets:   column(),
		},
		{
			name: "Column.HeavyKeyRecovery",
			usage: `
              Column.HeavyKeyRecovery is the percentage of the heavy key
              recovered in the distillate.`,
			defaultVal: 5.,
			flagsets:   column(),
		},
		{
			name: "Column.Reflux",
			usage: `
              Column.Reflux is the reflux ratio. Zero selects 1.5 times the
              minimum and a negative value selects that multiple of the
              minimum.`,
			defaultVal: 0.,
			shorthand:  "r",
			flagsets:   column(),
		},
		{
			name: "Column.NumPlates",
			usage: `
              Column.NumPlates fixes the number of stages below the top
              stage. If it is nonzero the reflux ratio is fitted to it.`,
			defaultVal: 0,
			flagsets:   column(),
		},
		{
			name: "Column.FeedPlate",
			usage: `
              Column.FeedPlate fixes the feed stage when Column.NumPlates is
              set.`,
			defaultVal: 0,
			flagsets:   column(),
		},
		{
			name: "Column.ActivityModel",
			usage: `
              Column.ActivityModel is the liquid activity model.`,
			defaultVal: "ideal",
			flagsets:   column(),
		},
		{
			name: "Column.ThermoPath",
			usage: `
              Column.ThermoPath is recorded on the product streams.`,
			defaultVal: "",
			flagsets:   column(),
		},
		{
			name: "Dynamic.Holdup",
			usage: `
              Dynamic.Holdup is the liquid holdup of each stage [mol].`,
			defaultVal: 10.,
			flagsets:   []*pflag.FlagSet{dynamicCmd.Flags()},
		},
		{
			name: "Dynamic.EndTime",
			usage: `
              Dynamic.EndTime is the simulation length [s].`,
			defaultVal: 100.,
			shorthand:  "t",
			flagsets:   []*pflag.FlagSet{dynamicCmd.Flags()},
		},
		{
			name: "Dynamic.StepTime",
			usage: `
              Dynamic.StepTime is the time [s] of a step change in the feed.`,
			defaultVal: 0.,
			flagsets:   []*pflag.FlagSet{dynamicCmd.Flags()},
		},
		{
			name: "Dynamic.StepMoleFrac",
			usage: `
              Dynamic.StepMoleFrac is the feed composition after the step.
              If empty, the composition does not change.`,
			defaultVal: []float64{},
			flagsets:   []*pflag.FlagSet{dynamicCmd.Flags()},
		},
		{
			name: "Dynamic.StepMoleFlow",
			usage: `
              Dynamic.StepMoleFlow is the feed flow [mol/s] after the step.
              If zero, the flow does not change.`,
			defaultVal: 0.,
			flagsets:   []*pflag.FlagSet{dynamicCmd.Flags()},
		},
		{
			name: "Fit.Expressions",
			usage: `
              Fit.Expressions gives the model, one expression per measured
              channel, in terms of x and the parameters in Fit.Params.`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{fitCmd.Flags()},
		},
		{
			name: "Fit.Params",
			usage: `
              Fit.Params names the model parameters.`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{fitCmd.Flags()},
		},
		{
			name: "Fit.Seed",
			usage: `
              Fit.Seed gives the initial parameter values.`,
			defaultVal: []float64{},
			flagsets:   []*pflag.FlagSet{fitCmd.Flags()},
		},
		{
			name: "Fit.Fixed",
			usage: `
              Fit.Fixed names parameters to hold at their seed values.`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{fitCmd.Flags()},
		},
		{
			name: "Fit.Data",
			usage: `
              Fit.Data is a TOML file of [[dataset]] tables with x, y and an
              optional variance.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{fitCmd.Flags()},
		},
		{
			name: "Fit.Method",
			usage: `
              Fit.Method is the optimizer: lm (Levenberg-Marquardt), ip
              (interior point) or lbfgsb (L-BFGS-B).`,
			defaultVal: "lm",
			flagsets:   []*pflag.FlagSet{fitCmd.Flags()},
		},
		{
			name: "Deconv.Data",
			usage: `
              Deconv.Data is a TOML file holding x and y arrays.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{deconvCmd.Flags()},
		},
		{
			name: "Deconv.Seed",
			usage: `
              Deconv.Seed gives the initial peak means, then widths, then
              amplitudes.`,
			defaultVal: []float64{},
			flagsets:   []*pflag.FlagSet{deconvCmd.Flags()},
		},
		{
			name: "Deconv.Method",
			usage: `
              Deconv.Method is the optimizer: lm, ip or lbfgsb.`,
			defaultVal: "lm",
			flagsets:   []*pflag.FlagSet{deconvCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("COLSIM")
	Cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	Cfg.AutomaticEnv()

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case []string:
				if option.shorthand == "" {
					set.StringSlice(option.name, option.defaultVal.([]string), option.usage)
				} else {
					set.StringSliceP(option.name, option.shorthand, option.defaultVal.([]string), option.usage)
				}
			case int:
				if option.shorthand == "" {
					set.Int(option.name, option.defaultVal.(int), option.usage)
				} else {
					set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
				}
			case float64:
				if option.shorthand == "" {
					set.Float64(option.name, option.defaultVal.(float64), option.usage)
				} else {
					set.Float64P(option.name, option.shorthand, option.defaultVal.(float64), option.usage)
				}
			case []float64:
				if option.shorthand == "" {
					set.Float64Slice(option.name, option.defaultVal.([]float64), option.usage)
				} else {
					set.Float64SliceP(option.name, option.shorthand, option.defaultVal.([]float64), option.usage)
				}
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(steadyCmd)
	Root.AddCommand(dynamicCmd)
	Root.AddCommand(fitCmd)
	Root.AddCommand(deconvCmd)
}

// setConfig finds and reads in the configuration file, if there is one,
// and sets up logging.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("colsim: problem reading configuration file: %v", err)
		}
	}
	lvl, err := logrus.ParseLevel(Cfg.GetString("LogLevel"))
	if err != nil {
		return fmt.Errorf("colsim: invalid LogLevel: %v", err)
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.SetLevel(lvl)
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "colsim",
	Short: "A staged distillation column simulator.",
	Long: `ColSim designs and simulates staged distillation columns and fits
kinetic and spectroscopic models to experimental data. Use the subcommands
specified below to access the model functionality.

Refer to the subcommand documentation for configuration options and default settings.
Configuration can be changed by using a TOML configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'COLSIM_var' where 'var' is the
name of the variable to be set, with periods replaced by underscores.`,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of ColSim.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("ColSim v%s\n", colsim.Version)
	},
	DisableAutoGenTag: true,
}

// steadyCmd is a command that designs a column at steady state.
var steadyCmd = &cobra.Command{
	Use:   "steady",
	Short: "Design a column at steady state.",
	Long: `steady estimates the product split, the minimum and operating
reflux ratios and the plate-by-plate profile of the configured column.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunSteady(cmd.OutOrStdout(), Cfg)
	},
	DisableAutoGenTag: true,
}

// dynamicCmd is a command that simulates a column over time.
var dynamicCmd = &cobra.Command{
	Use:   "dynamic",
	Short: "Simulate the column response to its feed.",
	Long: `dynamic designs the configured column at steady state and then
integrates the stage balances from a column filled with feed liquid,
optionally with a step change in the feed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunDynamic(cmd.OutOrStdout(), Cfg)
	},
	DisableAutoGenTag: true,
}

// fitCmd is a command that estimates model parameters.
var fitCmd = &cobra.Command{
	Use:   "fit",
	Short: "Fit a model to data.",
	Long: `fit estimates the parameters of the model given in Fit.Expressions
from the datasets in Fit.Data by weighted least squares, and reports the
estimates with their covariance.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunFit(cmd.OutOrStdout(), Cfg)
	},
	DisableAutoGenTag: true,
}

// deconvCmd is a command that resolves a signal into Gaussian peaks.
var deconvCmd = &cobra.Command{
	Use:   "deconv",
	Short: "Resolve a signal into Gaussian peaks.",
	Long: `deconv fits a sum of Gaussian peaks to the signal in Deconv.Data
starting from Deconv.Seed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunDeconv(cmd.OutOrStdout(), Cfg)
	},
	DisableAutoGenTag: true,
}
