package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/appimage-tools/appimageupdate/internal/updater"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <path>",
		Short: "Check whether an update is available",
		Long: `Fetch only the control file and compare it against the local AppImage.

Exit codes: 0 if the file is up to date, 1 if an update is available,
2 if the check failed.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(runCheck(args))
		},
	}
}

func runCheck(args []string) int {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	path, err := resolveTarget(args, false)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	u, err := updater.New(path, false)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if cfg.UpdateInformation != "" {
		u.SetUpdateInformation(cfg.UpdateInformation)
	}

	changesAvailable, err := u.CheckForChanges()

	for {
		msg, ok := u.NextStatusMessage()
		if !ok {
			break
		}
		fmt.Fprintln(os.Stderr, msg)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error checking for changes:", err)
		return 2
	}

	if changesAvailable {
		fmt.Println("Update available")
		return 1
	}
	fmt.Println("AppImage is up to date")
	return 0
}
