package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loom-build/loom/codegen"
	"github.com/loom-build/loom/compilation"
	"github.com/loom-build/loom/config"
	"github.com/loom-build/loom/loader"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the module and chunk graphs and emit bundled assets",
	RunE: func(cmd *cobra.Command, args []string) error {
		start := time.Now()

		cfg, err := loadProjectConfig(cmd)
		if err != nil {
			return err
		}

		engine := compilation.New(cfg, loader.NewPipeline())
		res, err := engine.Build(context.Background())
		if err != nil {
			return fmt.Errorf("build failed: %w", err)
		}
		if res.Diagnostics != nil && res.Diagnostics.HasErrors() {
			return errors.Join(res.Diagnostics.Errors()...)
		}

		for _, name := range codegen.SortedFilenames(res.Assets) {
			asset := res.Assets[name]
			outPath := codegen.OutputPath(cfg.OutputDir, name)
			pterm.Info.Printf("%s (%d bytes)\n", outPath, len(asset.Source))
		}

		pterm.Success.Printf("Built %d assets in %s\n", len(res.Assets), time.Since(start))
		return nil
	},
}

// loadProjectConfig reads the bound --config path (falling back to
// config.Default) and overlays any --project-dir/--output flags.
func loadProjectConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("configFile"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if projectDir := viper.GetString("projectDir"); projectDir != "" {
		cfg.ProjectDir = projectDir
	}
	if output, _ := cmd.Flags().GetString("output"); output != "" {
		cfg.OutputDir = output
	}
	cfg.Verbose = viper.GetBool("verbose")
	return cfg, nil
}

func init() {
	rootCmd.AddCommand(buildCmd)
	buildCmd.Flags().StringP("output", "o", "", "output directory (overrides config)")
}
