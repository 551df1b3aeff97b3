package main

import (
	"github.com/spf13/cobra"

	"github.com/Borui-Eduation/student-records-sub000/internal/config"
)

type rootOptions struct {
	envFiles []string
	registry string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "studio",
		Short:         "Natural-language commands for student records",
		Long:          "studio compiles natural-language requests into workflows and runs them against the record store.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "dotenv files to load before reading the environment")
	rootCmd.PersistentFlags().StringVar(&opts.registry, "registry", "", "path to an entity registry YAML file (defaults to the embedded registry)")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newRunCmd(opts),
		newCompileCmd(opts),
		newMCPCmd(opts),
		newMigrateCmd(opts),
		newTokenCmd(opts),
	)
	return rootCmd
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.envFiles...)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
