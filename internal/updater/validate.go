package updater

import (
	"errors"
	"fmt"

	"github.com/appimage-tools/appimageupdate/internal/appimage"
	"github.com/appimage-tools/appimageupdate/internal/signing"
)

// ValidateSignature checks the signatures of the old and the new AppImage
// and classifies the pair. It never returns a hard error; the caller
// decides, based on the threshold helpers, whether to keep the new file or
// to restore the original.
func (u *Updater) ValidateSignature() ValidationState {
	newPath, ok := u.PathToNewFile()
	if !ok {
		return ValidationFailed
	}

	newAppImage := appimage.New(newPath)

	// When the names collided, the engine preserved the original under the
	// backup suffix; signature comparison must use that copy.
	oldPath := u.appImage.Path()
	if oldPath == newPath {
		oldPath = newPath + backupSuffix
	}
	oldAppImage := appimage.New(oldPath)

	oldSig := readSignatureOrEmpty(oldAppImage)
	newSig := readSignatureOrEmpty(newAppImage)

	switch {
	case len(oldSig) == 0 && len(newSig) == 0:
		return ValidationNotSigned
	case len(oldSig) > 0 && len(newSig) == 0:
		return ValidationNoLongerSigned
	}

	validator, err := signing.NewValidator()
	if err != nil {
		if errors.Is(err, signing.ErrTempDir) {
			return ValidationTempDirCreationFailed
		}
		return ValidationGpgCallFailed
	}
	defer validator.Close()

	oldResult, err := validator.Validate(oldAppImage)
	if err != nil {
		u.IssueStatusMessage(fmt.Sprintf("Old AppImage signature validation failed: %v", err))
		return ValidationBadSignature
	}
	u.IssueStatusMessage("Old AppImage signature validation report:\n" + oldResult.Message)
	if oldResult.Type == signing.ResultError {
		return ValidationBadSignature
	}

	newResult, err := validator.Validate(newAppImage)
	if err != nil {
		u.IssueStatusMessage(fmt.Sprintf("New AppImage signature validation failed: %v", err))
		return ValidationBadSignature
	}
	u.IssueStatusMessage("New AppImage signature validation report:\n" + newResult.Message)
	if newResult.Type == signing.ResultError {
		return ValidationBadSignature
	}

	if !fingerprintsIntersect(oldResult.KeyFingerprints, newResult.KeyFingerprints) {
		return ValidationKeyChanged
	}

	if oldResult.Type == signing.ResultWarning || newResult.Type == signing.ResultWarning {
		return ValidationWarning
	}

	return ValidationPassed
}

// readSignatureOrEmpty treats unreadable signatures (e.g. type-1 bundles,
// which cannot carry one) as absent.
func readSignatureOrEmpty(ai *appimage.AppImage) []byte {
	sig, err := ai.Signature()
	if err != nil {
		return nil
	}
	return sig
}

func fingerprintsIntersect(a, b []string) bool {
	for _, fa := range a {
		for _, fb := range b {
			if fa == fb {
				return true
			}
		}
	}
	return false
}
