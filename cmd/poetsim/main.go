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

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/algorand/go-poet/config"
	"github.com/algorand/go-poet/logging"
	_ "github.com/algorand/go-poet/poet/simulator"
)

var dataDir string

// localConfig is loaded from dataDir before any subcommand runs.
var localConfig config.Local

var logWriter *logging.CyclicFileWriter

var rootCmd = &cobra.Command{
	Use:   "poetsim",
	Short: "Simulate a PoET network and compare transaction schedulers",
	Args:  cobra.NoArgs,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadLocalConfig(dataDir)
		if err != nil {
			return err
		}
		localConfig = cfg
		return setupLogging(cfg)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logWriter != nil {
			logWriter.Close()
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		// If no arguments passed, we should fallback to help
		cmd.HelpFunc()(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.PersistentFlags().StringVarP(&dataDir, "datadir", "d", "", "Directory holding config.json and the validator stores")
}

// loadLocalConfig reads dir/config.json over the defaults. A missing file
// or directory means the defaults.
func loadLocalConfig(dir string) (config.Local, error) {
	if dir == "" {
		return config.GetDefaultLocal(), nil
	}
	cfg, err := config.LoadConfigFromDisk(dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("loading config from %s: %w", dir, err)
	}
	return cfg, nil
}

func setupLogging(cfg config.Local) error {
	log := logging.Base()
	log.SetLevel(logging.Level(cfg.BaseLoggerDebugLevel))
	if cfg.LogFile == "" {
		return nil
	}
	live, archive := cfg.LogFile, cfg.LogArchiveName
	if dataDir != "" {
		if !filepath.IsAbs(live) {
			live = filepath.Join(dataDir, live)
		}
		if !filepath.IsAbs(archive) {
			archive = filepath.Join(dataDir, archive)
		}
	}
	w, err := logging.MakeCyclicFileWriter(live, archive, cfg.LogSizeLimit)
	if err != nil {
		return fmt.Errorf("opening log file %s: %w", live, err)
	}
	logWriter = w
	log.SetOutput(w)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
