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
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/algorand/go-poet/config"
	"github.com/algorand/go-poet/util/codecs"
)

var (
	configNonDefault bool
	configWrite      bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if configWrite {
			if dataDir == "" {
				return fmt.Errorf("--write needs a data directory (-d)")
			}
			if err := os.MkdirAll(dataDir, 0700); err != nil {
				return err
			}
			return localConfig.SaveToDisk(dataDir)
		}
		var out interface{} = localConfig
		if configNonDefault {
			values, err := codecs.NonDefaultValues(localConfig, config.GetDefaultLocal(), []string{"Version"})
			if err != nil {
				return err
			}
			out = values
		}
		return codecs.NewFormattedJSONEncoder(os.Stdout).Encode(out)
	},
}

func init() {
	configCmd.Flags().BoolVar(&configNonDefault, "non-default", false, "Print only the settings that differ from the defaults")
	configCmd.Flags().BoolVar(&configWrite, "write", false, "Write the settings that differ from the defaults to the data directory's config.json")
}
