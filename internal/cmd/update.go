package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/cheggaaa/pb"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/appimage-tools/appimageupdate/internal/updater"
)

var (
	overwriteOldFile bool
	removeOldFile    bool
	selfUpdate       bool
)

func newUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update [path]",
		Short: "Update an AppImage",
		Long: `Check for a newer version, download it block-wise reusing the local file,
validate the embedded signature and put the result next to the old file.

Examples:
  appimageupdatetool update App.AppImage             # Write the new release under its remote name; a same-named old file is kept as App.AppImage.zs-old
  appimageupdatetool update --overwrite App.AppImage # Rewrite the file in place
  appimageupdatetool update --self-update            # Update the running AppImage ($APPIMAGE)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(args)
		},
	}

	cmd.Flags().BoolVarP(&overwriteOldFile, "overwrite", "O", false, "Overwrite the existing file instead of creating a new one")
	cmd.Flags().BoolVarP(&removeOldFile, "remove-old", "r", false, "Remove the old AppImage after a successful update")
	cmd.Flags().BoolVar(&selfUpdate, "self-update", false, "Update the AppImage this tool is running from")

	return cmd
}

// drainMessages prints all queued status messages.
func drainMessages(u *updater.Updater) {
	for {
		msg, ok := u.NextStatusMessage()
		if !ok {
			return
		}
		fmt.Println(msg)
	}
}

func runUpdate(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path, err := resolveTarget(args, selfUpdate)
	if err != nil {
		return err
	}

	u, err := updater.New(path, overwriteOldFile || cfg.Overwrite)
	if err != nil {
		return err
	}
	if cfg.UpdateInformation != "" {
		u.SetUpdateInformation(cfg.UpdateInformation)
	}

	// Checking first avoids touching the file system when there is
	// nothing to do.
	fmt.Println("Checking for updates...")
	changesAvailable, err := u.CheckForChanges()
	drainMessages(u)
	if err != nil {
		return fmt.Errorf("update check failed: %w", err)
	}
	if !changesAvailable {
		fmt.Println("Update not required, exiting.")
		return nil
	}

	if size, ok := u.RemoteFileSize(); ok {
		fmt.Printf("Remote file size: %s\n", humanize.IBytes(uint64(size)))
	}

	if !u.Start() {
		return fmt.Errorf("failed to start update")
	}
	fmt.Fprintln(os.Stderr, "Starting update...")

	showProgress(u)
	drainMessages(u)

	if u.HasError() {
		return fmt.Errorf("update failed, see messages above")
	}

	newFilePath, ok := u.PathToNewFile()
	if !ok {
		return fmt.Errorf("fatal: could not determine path to new file")
	}

	validation := u.ValidateSignature()
	drainMessages(u)

	if validation.IsError() {
		// A failed validation is a reason to distrust the download; put
		// the original file back before anything can run it.
		if err := u.RestoreOriginalFile(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to restore original file: %v\n", err)
		}
		return fmt.Errorf("validation error: %s; restored original file", validation.Message())
	}

	if validation.IsWarning() {
		fmt.Fprintf(os.Stderr, "Validation warning: %s\n", validation.Message())
	} else {
		fmt.Fprintln(os.Stderr, "Signature validation passed")
	}

	if err := u.CopyPermissionsToNewFile(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not copy permissions to new file: %v\n", err)
	}

	if removeOldFile || cfg.RemoveOld {
		removeOld(path, newFilePath)
	}

	if overwriteOldFile || cfg.Overwrite {
		fmt.Fprintf(os.Stderr, "Update successful. Updated existing file %s\n", newFilePath)
	} else {
		fmt.Fprintf(os.Stderr, "Update successful. New file created: %s\n", newFilePath)
	}
	return nil
}

// showProgress polls the updater and renders a byte-accurate progress bar
// once the remote file size is known.
func showProgress(u *updater.Updater) {
	var bar *pb.ProgressBar
	var total int64

	for !u.IsDone() {
		time.Sleep(100 * time.Millisecond)

		if bar == nil {
			if size, ok := u.RemoteFileSize(); ok {
				total = size
				bar = pb.New64(size).SetUnits(pb.U_BYTES)
				bar.Output = os.Stderr
				bar.Start()
			}
		}

		if bar != nil {
			if progress, ok := u.Progress(); ok {
				bar.Set64(int64(progress * float64(total)))
			}
		}
	}

	if bar != nil {
		bar.Set64(total)
		bar.Finish()
	}
}

// removeOld deletes the previous AppImage. After a name-colliding update
// the old file lives at <path>.zs-old.
func removeOld(path, newFilePath string) {
	oldFilePath := path
	if abs, err := absPath(path); err == nil && abs == newFilePath {
		oldFilePath = newFilePath + ".zs-old"
	}

	if _, err := os.Stat(oldFilePath); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not find old AppImage: %s\n", oldFilePath)
		return
	}

	fmt.Fprintf(os.Stderr, "Removing old AppImage: %s\n", oldFilePath)
	if err := os.Remove(oldFilePath); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to remove old AppImage: %v\n", err)
	}
}
