// Package signing validates the detached OpenPGP signatures embedded in
// AppImages against the public key that ships inside the same file. All key
// material is handled in an isolated scratch keyring, never in the user's.
package signing

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	pgperrors "github.com/ProtonMail/go-crypto/openpgp/errors"

	"github.com/appimage-tools/appimageupdate/internal/appimage"
)

// ResultType classifies a validation result.
type ResultType int

const (
	ResultSuccess ResultType = iota
	ResultWarning
	ResultError
)

func (t ResultType) String() string {
	switch t {
	case ResultSuccess:
		return "success"
	case ResultWarning:
		return "warning"
	case ResultError:
		return "error"
	}
	return "unknown"
}

// Result is the outcome of validating one AppImage's signature.
type Result struct {
	Type            ResultType
	Message         string
	KeyFingerprints []string
}

// ErrTempDir marks a failure to set up the validator's scratch directory.
var ErrTempDir = errors.New("failed to create temporary directory")

// Validator verifies detached signatures in an isolated keyring rooted in a
// private temporary directory. One validator can check several AppImages;
// Close releases the directory.
type Validator struct {
	tempDir string
}

// NewValidator creates the scratch directory with exclusive permissions.
func NewValidator() (*Validator, error) {
	dir, err := os.MkdirTemp("", "appimageupdate-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTempDir, err)
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("%w: %v", ErrTempDir, err)
	}
	return &Validator{tempDir: dir}, nil
}

// Close removes the scratch directory. It is safe to call more than once.
func (v *Validator) Close() error {
	if v.tempDir == "" {
		return nil
	}
	err := os.RemoveAll(v.tempDir)
	v.tempDir = ""
	return err
}

// importKey parses the armored public key into the isolated keyring and
// persists a copy in the scratch directory.
func (v *Validator) importKey(armoredKey []byte) (openpgp.EntityList, error) {
	keyring, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(armoredKey))
	if err != nil {
		return nil, fmt.Errorf("failed to import key: %w", err)
	}
	if len(keyring) == 0 {
		return nil, fmt.Errorf("no keys were imported")
	}

	if v.tempDir != "" {
		// Keep the imported material inside the isolated keyring directory.
		_ = os.WriteFile(filepath.Join(v.tempDir, "pubring.asc"), armoredKey, 0o600)
	}

	return keyring, nil
}

// Validate checks the AppImage's detached signature against its canonical
// hash using the key embedded in the same file.
func (v *Validator) Validate(ai *appimage.AppImage) (Result, error) {
	key, err := ai.SigningKey()
	if err != nil {
		return Result{}, err
	}
	if len(key) == 0 {
		return Result{Type: ResultError, Message: "AppImage does not embed a signing key"}, nil
	}

	keyring, err := v.importKey(key)
	if err != nil {
		return Result{Type: ResultError, Message: err.Error()}, nil
	}

	signature, err := ai.Signature()
	if err != nil {
		return Result{}, err
	}
	if len(signature) == 0 {
		return Result{Type: ResultError, Message: "AppImage does not embed a signature"}, nil
	}

	hash, err := ai.CalculateHash()
	if err != nil {
		return Result{}, err
	}

	return verifyDetached(keyring, []byte(hash), signature), nil
}

// verifyDetached runs the actual signature check. The signed data is the
// hex encoding of the canonical hash, which is what the signing side feeds
// to its OpenPGP implementation.
func verifyDetached(keyring openpgp.EntityList, signedData, signature []byte) Result {
	signer, err := openpgp.CheckArmoredDetachedSignature(
		keyring, bytes.NewReader(signedData), bytes.NewReader(signature), nil)

	var message strings.Builder
	var fingerprints []string

	switch {
	case err == nil:
		fpr := fingerprint(signer)
		fingerprints = append(fingerprints, fpr)
		fmt.Fprintf(&message, "Signature checked for key with fingerprint %s\n", fpr)
		message.WriteString("Validation successful")
		return Result{Type: ResultSuccess, Message: message.String(), KeyFingerprints: fingerprints}

	case errors.Is(err, pgperrors.ErrUnknownIssuer):
		// The signature is structurally fine but the issuing key is not in
		// the keyring. Like an expired key this may happen with any
		// AppImage in the wild, so it only warrants a warning.
		message.WriteString("Signature issued by a key that is not embedded in the AppImage: key missing\n")
		message.WriteString("Validation resulted in warning state")
		return Result{Type: ResultWarning, Message: message.String(), KeyFingerprints: fingerprints}

	case isExpiryError(err):
		fmt.Fprintf(&message, "Signature check reported an expiry problem: %v\n", err)
		message.WriteString("Validation resulted in warning state")
		return Result{Type: ResultWarning, Message: message.String(), KeyFingerprints: fingerprints}
	}

	fmt.Fprintf(&message, "Signature verification failed: %v\n", err)
	message.WriteString("Validation failed")
	return Result{Type: ResultError, Message: message.String(), KeyFingerprints: fingerprints}
}

// isExpiryError reports whether the verification failed only because a key
// or the signature itself has expired.
func isExpiryError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "expired")
}

// fingerprint renders an entity's primary key fingerprint the way gpg
// prints it.
func fingerprint(e *openpgp.Entity) string {
	return strings.ToUpper(fmt.Sprintf("%x", e.PrimaryKey.Fingerprint))
}
