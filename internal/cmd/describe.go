package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/appimage-tools/appimageupdate/internal/appimage"
	"github.com/appimage-tools/appimageupdate/internal/output"
	"github.com/appimage-tools/appimageupdate/internal/updateinfo"
)

func newDescribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe <path>",
		Short: "Parse and describe an AppImage and its update information",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDescribe(args)
		},
	}
}

func runDescribe(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return err
	}

	path, err := resolveTarget(args, false)
	if err != nil {
		return err
	}

	abs, err := absPath(path)
	if err != nil {
		return err
	}
	ai := appimage.New(abs)

	report := output.BundleReport{Path: abs}

	typ, err := ai.DetectType(func(msg string) {
		fmt.Fprintln(os.Stderr, msg)
	})
	if err != nil {
		return err
	}
	report.Type = int(typ)

	raw, err := ai.RawUpdateInformation()
	if err != nil {
		return err
	}
	if cfg.UpdateInformation != "" {
		raw = cfg.UpdateInformation
	}
	report.RawUpdateInformation = raw

	// An unparseable or empty hint is still worth a report; the failure
	// goes to stderr and the exit code.
	ui, parseErr := updateinfo.Parse(raw)
	if parseErr == nil {
		report.UpdateInformationType = ui.Kind.String()

		url, buildErr := updateinfo.NewResolver().BuildURL(ui, func(msg string) {
			fmt.Fprintln(os.Stderr, msg)
		})
		if buildErr != nil {
			fmt.Fprintf(os.Stderr, "Failed to assemble ZSync URL: %v\n", buildErr)
		} else {
			report.ZsyncURL = url
		}
	}

	if err := output.NewWriter(os.Stdout, format).Write(report); err != nil {
		return err
	}

	if parseErr != nil {
		return fmt.Errorf("AppImage cannot be updated: %w", parseErr)
	}
	return nil
}
