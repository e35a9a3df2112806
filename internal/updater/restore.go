package updater

import (
	"fmt"
	"os"
	"path/filepath"
)

// backupSuffix is appended to the old file when the transfer engine has to
// make room for a new file with the same name.
const backupSuffix = ".zs-old"

// RestoreOriginalFile deletes the updated file. If the naming convention
// moved the original aside as <path>.zs-old, it is renamed back into
// place. Used after a failed signature validation.
func (u *Updater) RestoreOriginalFile() error {
	newPath, ok := u.PathToNewFile()
	if !ok {
		return fmt.Errorf("failed to get path to the new file")
	}

	newAbs, err := filepath.Abs(newPath)
	if err != nil {
		return err
	}

	if err := os.Remove(newAbs); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing new file: %w", err)
	}

	if u.appImage.Path() == newAbs {
		if err := os.Rename(newAbs+backupSuffix, newAbs); err != nil {
			return fmt.Errorf("restoring original file: %w", err)
		}
	}

	return nil
}

// CopyPermissionsToNewFile applies the old file's mode bits to the
// updated file. Freshly assembled files are created without the execute
// bit the original AppImage most likely had.
func (u *Updater) CopyPermissionsToNewFile() error {
	newPath, ok := u.PathToNewFile()
	if !ok {
		return fmt.Errorf("failed to get path to the new file")
	}

	newAbs, err := filepath.Abs(newPath)
	if err != nil {
		return err
	}

	// When the names collided the original now lives at <path>.zs-old.
	oldPath := u.appImage.Path()
	if oldPath == newAbs {
		if _, err := os.Stat(oldPath + backupSuffix); err == nil {
			oldPath += backupSuffix
		}
	}

	info, err := os.Stat(oldPath)
	if err != nil {
		return fmt.Errorf("reading permissions of old file: %w", err)
	}

	if err := os.Chmod(newAbs, info.Mode().Perm()); err != nil {
		return fmt.Errorf("applying permissions to new file: %w", err)
	}
	return nil
}
