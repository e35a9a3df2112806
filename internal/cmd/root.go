// Package cmd implements the appimageupdatetool command line interface.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/appimage-tools/appimageupdate/internal/config"
)

var (
	// Global flags
	outputFormat string
	configPath   string
)

func Execute(version, commit, date string) error {
	rootCmd := &cobra.Command{
		Use:   "appimageupdatetool",
		Short: "AppImage companion tool taking care of updates for the command line",
		Long: `appimageupdatetool updates AppImages using the update information embedded
in the files themselves. Only the parts of the new version that differ from
the local file are downloaded.`,
		Version:      fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "Output format: text, json, yaml")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")

	// Add subcommands
	rootCmd.AddCommand(newUpdateCmd())
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newDescribeCmd())
	rootCmd.AddCommand(newMakeCmd())

	_ = rootCmd.RegisterFlagCompletionFunc("output", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"text", "json", "yaml"}, cobra.ShellCompDirectiveNoFileComp
	})

	return rootCmd.Execute()
}

// loadConfig resolves and parses the optional configuration file. A
// missing file yields an empty configuration.
func loadConfig() (*config.Config, error) {
	path, err := config.Find(configPath)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return &config.Config{}, nil
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	// The HTTP layer discovers the CA bundle through SSL_CERT_FILE; a
	// configured bundle is injected the same way.
	if cfg.CABundle != "" {
		if err := os.Setenv("SSL_CERT_FILE", cfg.CABundle); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// absPath resolves a path for comparisons against engine-reported paths.
func absPath(path string) (string, error) {
	return filepath.Abs(path)
}

// resolveTarget determines the AppImage to operate on: the positional
// argument, or $APPIMAGE when a self-update is requested.
func resolveTarget(args []string, selfUpdate bool) (string, error) {
	if selfUpdate {
		if len(args) > 0 {
			return "", fmt.Errorf("--self-update does not take a path")
		}
		path := os.Getenv("APPIMAGE")
		if path == "" {
			return "", fmt.Errorf("self-update requested but $APPIMAGE is not set; " +
				"this only works when running from an AppImage")
		}
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("$APPIMAGE points to a non-existing file: %s", path)
		}
		return path, nil
	}

	if len(args) != 1 {
		return "", fmt.Errorf("expected exactly one path to an AppImage")
	}
	if _, err := os.Stat(args[0]); err != nil {
		return "", fmt.Errorf("could not read file: %s", args[0])
	}
	return args[0], nil
}
