/*
Copyright © 2026 The Pipeline Authors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

// Package cmd holds the pipeline CLI's cobra command tree.
package cmd

import (
	"os"

	"github.com/foldedstream/pipeline/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run a folder-staged file processing pipeline",
	Long: `pipeline watches a tree of staged directories and drives every file
that lands in a stage through that stage's processor, on to the next stage
or into error/ on failure, mirroring every input and output to an audit
store along the way.`,
}

// Execute adds all child commands to the root command and runs it. Called
// once from main.main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves the shared PipelineConfig from the config file flag,
// environment, and this command's own flags.
func loadConfig(cmd *cobra.Command) (*config.PipelineConfig, error) {
	return config.Load(viper.GetString("configFile"), cmd.Flags())
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to a pipeline config YAML file")
	rootCmd.PersistentFlags().String("pipeline-dir", "", "root directory containing the staged pipeline directories")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose logging output")

	if err := viper.BindPFlag("configFile", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		panic(err)
	}
}
