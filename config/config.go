// Copyright (C) 2019-2025 Algorand, Inc.
// This file is part of go-algorand
//
// go-algorand is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// go-algorand is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with go-algorand.  If not, see <https://www.gnu.org/licenses/>.

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/algorand/go-poet/util/codecs"
)

// ConfigFilename is the name of the config.json file where we store per-node-instance settings
const ConfigFilename = "config.json"

// LoadConfigFromDisk returns a Local config structure based on merging the defaults
// with settings loaded from the config file from the custom dir.  If the custom file
// cannot be loaded, the default config is returned (with the error from loading the
// custom file).
func LoadConfigFromDisk(custom string) (c Local, err error) {
	return loadConfigFromFile(filepath.Join(custom, ConfigFilename))
}

func loadConfigFromFile(configFile string) (c Local, err error) {
	c = defaultLocal
	c, err = mergeConfigFromFile(configFile, c)
	if err != nil {
		return
	}
	err = c.Validate()
	return
}

// GetDefaultLocal returns a copy of the current defaultLocal config
func GetDefaultLocal() Local {
	return defaultLocal
}

func mergeConfigFromFile(configpath string, source Local) (Local, error) {
	f, err := os.Open(configpath)
	if err != nil {
		return source, err
	}
	defer f.Close()

	err = loadConfig(f, &source)
	return source, err
}

func loadConfig(reader io.Reader, config *Local) error {
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	return dec.Decode(config)
}

var errNonPositiveSampleSize = errors.New("PopulationEstimateSampleSize must be positive")

// Validate checks that the settings are usable by the consensus engine and schedulers.
func (cfg Local) Validate() error {
	if cfg.PopulationEstimateSampleSize <= 0 {
		return errNonPositiveSampleSize
	}
	if cfg.MinimumWaitTime < 0 || cfg.TargetWaitTime <= 0 || cfg.InitialWaitTime < 0 {
		return fmt.Errorf("invalid wait times: minimum %v, target %v, initial %v",
			cfg.MinimumWaitTime, cfg.TargetWaitTime, cfg.InitialWaitTime)
	}
	if cfg.FixedDurationBlocks < 0 {
		return fmt.Errorf("FixedDurationBlocks must not be negative, got %d", cfg.FixedDurationBlocks)
	}
	switch cfg.SchedulerType {
	case "parallel", "serial":
	default:
		return fmt.Errorf("unknown SchedulerType %q", cfg.SchedulerType)
	}
	return nil
}

// FixedDuration returns the length of the local mean bootstrap ramp.
func (cfg Local) FixedDuration() int {
	if cfg.FixedDurationBlocks > 0 {
		return cfg.FixedDurationBlocks
	}
	return cfg.PopulationEstimateSampleSize
}

// SaveToDisk writes the Local settings into a root/ConfigFilename file
func (cfg Local) SaveToDisk(root string) error {
	configpath := filepath.Join(root, ConfigFilename)
	filename := os.ExpandEnv(configpath)
	return cfg.SaveToFile(filename)
}

// SaveToFile saves the config to a specific filename, allowing overriding the default name
func (cfg Local) SaveToFile(filename string) error {
	var alwaysInclude []string
	alwaysInclude = append(alwaysInclude, "Version")
	return codecs.SaveNonDefaultValuesToFile(filename, cfg, defaultLocal, alwaysInclude, true)
}
