package updater

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"

	"github.com/appimage-tools/appimageupdate/internal/appimage/appimagetest"
	"github.com/appimage-tools/appimageupdate/internal/signing/signingtest"
)

// signedUpdateFixture is what runSignedUpdate returns: the updater after a
// complete update where both the old and the new AppImage are signed, ready
// for validation.
type signedUpdateFixture struct {
	updater  *Updater
	seedPath string
	oldData  []byte
	newData  []byte
}

func runSignedUpdate(t *testing.T, oldKey, newKey *openpgp.Entity) *signedUpdateFixture {
	t.Helper()

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	hint := fmt.Sprintf("zsync|%s/files/App.AppImage.zsync", server.URL)

	dir := t.TempDir()
	seedPath := filepath.Join(dir, "App.AppImage")
	if err := signingtest.WriteSignedAppImage(seedPath, oldKey, hint); err != nil {
		t.Fatal(err)
	}
	oldData, err := os.ReadFile(seedPath)
	if err != nil {
		t.Fatal(err)
	}

	// The new version: same name, different update information string so
	// the content (and thus the canonical hash) differs.
	newPath := filepath.Join(t.TempDir(), "App.AppImage")
	newHint := hint + "#v2"
	if err := signingtest.WriteSignedAppImage(newPath, newKey, newHint); err != nil {
		t.Fatal(err)
	}
	newData, err := os.ReadFile(newPath)
	if err != nil {
		t.Fatal(err)
	}

	serveFile(t, mux, "App.AppImage", newData)

	u, err := New(seedPath, false)
	if err != nil {
		t.Fatal(err)
	}

	if !u.Start() {
		t.Fatal("Start() = false")
	}
	waitDone(t, u)
	if u.HasError() {
		t.Fatalf("update failed; messages: %v", drainMessages(u))
	}

	return &signedUpdateFixture{
		updater:  u,
		seedPath: seedPath,
		oldData:  oldData,
		newData:  newData,
	}
}

func TestValidateSignaturePassedForSameKey(t *testing.T) {
	key, err := signingtest.GenerateKey("Vendor", "vendor@example.com")
	if err != nil {
		t.Fatal(err)
	}

	fx := runSignedUpdate(t, key, key)

	if got := fx.updater.ValidateSignature(); got != ValidationPassed {
		t.Errorf("ValidateSignature() = %v (%s), want ValidationPassed", got, got.Message())
	}
}

func TestValidateSignatureKeyChanged(t *testing.T) {
	oldKey, err := signingtest.GenerateKey("Vendor", "vendor@example.com")
	if err != nil {
		t.Fatal(err)
	}
	newKey, err := signingtest.GenerateKey("Attacker", "attacker@example.com")
	if err != nil {
		t.Fatal(err)
	}

	fx := runSignedUpdate(t, oldKey, newKey)

	got := fx.updater.ValidateSignature()
	if got != ValidationKeyChanged {
		t.Fatalf("ValidateSignature() = %v (%s), want ValidationKeyChanged", got, got.Message())
	}
	if !got.IsError() {
		t.Error("ValidationKeyChanged.IsError() = false")
	}

	// The caller's reaction to a failed validation: restore the original.
	if err := fx.updater.RestoreOriginalFile(); err != nil {
		t.Fatalf("RestoreOriginalFile() error = %v", err)
	}

	restored, err := os.ReadFile(fx.seedPath)
	if err != nil {
		t.Fatalf("original file missing after restore: %v", err)
	}
	if !bytes.Equal(restored, fx.oldData) {
		t.Error("restored file does not contain the original data")
	}
	if _, err := os.Stat(fx.seedPath + ".zs-old"); !os.IsNotExist(err) {
		t.Error(".zs-old backup still present after restore")
	}
}

func TestValidateSignatureNotSigned(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	hint := fmt.Sprintf("zsync|%s/files/App.AppImage.zsync", server.URL)

	dir := t.TempDir()
	seedPath := filepath.Join(dir, "App.AppImage")
	if _, err := appimagetest.WriteType2(seedPath, appimagetest.Type2Spec{UpdateInfo: hint}); err != nil {
		t.Fatal(err)
	}

	newPath := filepath.Join(t.TempDir(), "App.AppImage")
	if _, err := appimagetest.WriteType2(newPath, appimagetest.Type2Spec{UpdateInfo: hint + "#v2"}); err != nil {
		t.Fatal(err)
	}
	newData, err := os.ReadFile(newPath)
	if err != nil {
		t.Fatal(err)
	}
	serveFile(t, mux, "App.AppImage", newData)

	u, err := New(seedPath, false)
	if err != nil {
		t.Fatal(err)
	}
	u.Start()
	waitDone(t, u)
	if u.HasError() {
		t.Fatalf("update failed; messages: %v", drainMessages(u))
	}

	got := u.ValidateSignature()
	if got != ValidationNotSigned {
		t.Errorf("ValidateSignature() = %v (%s), want ValidationNotSigned", got, got.Message())
	}
	if !got.IsWarning() || got.IsError() {
		t.Error("ValidationNotSigned must classify as warning, not error")
	}
}

func TestValidateSignatureNoLongerSigned(t *testing.T) {
	key, err := signingtest.GenerateKey("Vendor", "vendor@example.com")
	if err != nil {
		t.Fatal(err)
	}

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	hint := fmt.Sprintf("zsync|%s/files/App.AppImage.zsync", server.URL)

	dir := t.TempDir()
	seedPath := filepath.Join(dir, "App.AppImage")
	if err := signingtest.WriteSignedAppImage(seedPath, key, hint); err != nil {
		t.Fatal(err)
	}

	// The new version carries no signature at all.
	newPath := filepath.Join(t.TempDir(), "App.AppImage")
	if _, err := appimagetest.WriteType2(newPath, appimagetest.Type2Spec{UpdateInfo: hint + "#v2"}); err != nil {
		t.Fatal(err)
	}
	newData, err := os.ReadFile(newPath)
	if err != nil {
		t.Fatal(err)
	}
	serveFile(t, mux, "App.AppImage", newData)

	u, err := New(seedPath, false)
	if err != nil {
		t.Fatal(err)
	}
	u.Start()
	waitDone(t, u)
	if u.HasError() {
		t.Fatalf("update failed; messages: %v", drainMessages(u))
	}

	got := u.ValidateSignature()
	if got != ValidationNoLongerSigned {
		t.Errorf("ValidateSignature() = %v (%s), want ValidationNoLongerSigned", got, got.Message())
	}
	if !got.IsError() {
		t.Error("ValidationNoLongerSigned.IsError() = false")
	}
}

func TestValidateSignatureWithoutNewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.AppImage")
	if _, err := appimagetest.WriteType2(path, appimagetest.Type2Spec{}); err != nil {
		t.Fatal(err)
	}

	u, err := New(path, false)
	if err != nil {
		t.Fatal(err)
	}

	if got := u.ValidateSignature(); got != ValidationFailed {
		t.Errorf("ValidateSignature() = %v, want ValidationFailed before any update", got)
	}
}

func TestCopyPermissionsToNewFile(t *testing.T) {
	key, err := signingtest.GenerateKey("Vendor", "vendor@example.com")
	if err != nil {
		t.Fatal(err)
	}

	fx := runSignedUpdate(t, key, key)

	// The engine re-created the colliding file; the seed's mode lives on
	// the .zs-old backup.
	if err := os.Chmod(fx.seedPath+".zs-old", 0o754); err != nil {
		t.Fatal(err)
	}

	if err := fx.updater.CopyPermissionsToNewFile(); err != nil {
		t.Fatalf("CopyPermissionsToNewFile() error = %v", err)
	}

	info, err := os.Stat(fx.seedPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o754 {
		t.Errorf("new file mode = %o, want 754", info.Mode().Perm())
	}
}

func TestValidationStateThresholds(t *testing.T) {
	warnings := []ValidationState{ValidationWarning, ValidationNotSigned, ValidationGpgMissing}
	errors := []ValidationState{
		ValidationFailed, ValidationKeyChanged, ValidationGpgCallFailed,
		ValidationTempDirCreationFailed, ValidationNoLongerSigned, ValidationBadSignature,
	}

	if ValidationPassed.IsWarning() || ValidationPassed.IsError() {
		t.Error("ValidationPassed must be neither warning nor error")
	}
	for _, s := range warnings {
		if !s.IsWarning() || s.IsError() {
			t.Errorf("%v must be a warning and not an error", s)
		}
	}
	for _, s := range errors {
		if !s.IsError() || s.IsWarning() {
			t.Errorf("%v must be an error and not a warning", s)
		}
	}
}
