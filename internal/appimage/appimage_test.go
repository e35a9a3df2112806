package appimage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/appimage-tools/appimageupdate/internal/appimage/appimagetest"
)

func TestDetectTypeType1(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.AppImage")
	if err := appimagetest.WriteType1(path, "zsync|https://example.com/app.zsync"); err != nil {
		t.Fatalf("WriteType1() error = %v", err)
	}

	typ, err := New(path).Type()
	if err != nil {
		t.Fatalf("Type() error = %v", err)
	}
	if typ != Type1 {
		t.Errorf("Type() = %d, want %d", typ, Type1)
	}
}

func TestDetectTypeType2(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.AppImage")
	if _, err := appimagetest.WriteType2(path, appimagetest.Type2Spec{}); err != nil {
		t.Fatalf("WriteType2() error = %v", err)
	}

	typ, err := New(path).Type()
	if err != nil {
		t.Fatalf("Type() error = %v", err)
	}
	if typ != Type2 {
		t.Errorf("Type() = %d, want %d", typ, Type2)
	}
}

func TestDetectTypeLegacyFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.AppImage")
	if err := appimagetest.WriteLegacyType1(path, ""); err != nil {
		t.Fatalf("WriteLegacyType1() error = %v", err)
	}

	var warnings []string
	typ, err := New(path).DetectType(func(msg string) {
		warnings = append(warnings, msg)
	})
	if err != nil {
		t.Fatalf("DetectType() error = %v", err)
	}
	if typ != Type1 {
		t.Errorf("DetectType() = %d, want %d", typ, Type1)
	}
	if len(warnings) != 1 {
		t.Fatalf("expected exactly one warning, got %d", len(warnings))
	}
	if !strings.Contains(warnings[0], "assuming type 1") {
		t.Errorf("warning %q does not mention the fallback", warnings[0])
	}
}

func TestDetectTypeUnknown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-an-appimage")
	if err := os.WriteFile(path, make([]byte, 40000), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := New(path).Type(); err == nil {
		t.Fatal("Type() expected error for a file without any magic values")
	}
}

func TestDetectTypeMissingFile(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing")).Type()
	if err == nil {
		t.Fatal("Type() expected error for missing file")
	}
	var aiErr *Error
	if !errors.As(err, &aiErr) {
		t.Fatalf("error %v is not an *Error", err)
	}
}

func TestRawUpdateInformationType1(t *testing.T) {
	const hint = "gh-releases-zsync|me|app|latest|App-*-x86_64.AppImage.zsync"
	path := filepath.Join(t.TempDir(), "app.AppImage")
	if err := appimagetest.WriteType1(path, hint); err != nil {
		t.Fatal(err)
	}

	raw, err := New(path).RawUpdateInformation()
	if err != nil {
		t.Fatalf("RawUpdateInformation() error = %v", err)
	}
	if raw != hint {
		t.Errorf("RawUpdateInformation() = %q, want %q", raw, hint)
	}
}

func TestRawUpdateInformationType2(t *testing.T) {
	const hint = "zsync|https://example.com/app.zsync"
	path := filepath.Join(t.TempDir(), "app.AppImage")
	if _, err := appimagetest.WriteType2(path, appimagetest.Type2Spec{UpdateInfo: hint}); err != nil {
		t.Fatal(err)
	}

	raw, err := New(path).RawUpdateInformation()
	if err != nil {
		t.Fatalf("RawUpdateInformation() error = %v", err)
	}
	if raw != hint {
		t.Errorf("RawUpdateInformation() = %q, want %q", raw, hint)
	}
}

func TestRawUpdateInformationEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.AppImage")
	if _, err := appimagetest.WriteType2(path, appimagetest.Type2Spec{}); err != nil {
		t.Fatal(err)
	}

	raw, err := New(path).RawUpdateInformation()
	if err != nil {
		t.Fatalf("RawUpdateInformation() error = %v", err)
	}
	if raw != "" {
		t.Errorf("RawUpdateInformation() = %q, want empty", raw)
	}
}

func TestRawUpdateInformationLegacyIso(t *testing.T) {
	const hint = "zsync|https://example.com/app.zsync"
	path := filepath.Join(t.TempDir(), "app.AppImage")
	// ISO magic only, no ELF magic: type detection fails, but reading the
	// update information still succeeds through the legacy path.
	data := make([]byte, 0x8373+512)
	copy(data[32769:], "CD001")
	copy(data[0x8373:], hint)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	raw, err := New(path).RawUpdateInformation()
	if err != nil {
		t.Fatalf("RawUpdateInformation() error = %v", err)
	}
	if raw != hint {
		t.Errorf("RawUpdateInformation() = %q, want %q", raw, hint)
	}
}

func TestSignatureAndKey(t *testing.T) {
	sig := []byte("-----BEGIN PGP SIGNATURE-----\nfake\n-----END PGP SIGNATURE-----\n")
	key := []byte("-----BEGIN PGP PUBLIC KEY BLOCK-----\nfake\n-----END PGP PUBLIC KEY BLOCK-----\n")

	path := filepath.Join(t.TempDir(), "app.AppImage")
	if _, err := appimagetest.WriteType2(path, appimagetest.Type2Spec{
		Signature:  sig,
		SigningKey: key,
	}); err != nil {
		t.Fatal(err)
	}

	ai := New(path)

	gotSig, err := ai.Signature()
	if err != nil {
		t.Fatalf("Signature() error = %v", err)
	}
	if string(gotSig) != string(sig) {
		t.Errorf("Signature() = %q, want %q", gotSig, sig)
	}

	gotKey, err := ai.SigningKey()
	if err != nil {
		t.Fatalf("SigningKey() error = %v", err)
	}
	if string(gotKey) != string(key) {
		t.Errorf("SigningKey() = %q, want %q", gotKey, key)
	}
}

func TestSignatureEmptyWhenUnsigned(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.AppImage")
	if _, err := appimagetest.WriteType2(path, appimagetest.Type2Spec{}); err != nil {
		t.Fatal(err)
	}

	sig, err := New(path).Signature()
	if err != nil {
		t.Fatalf("Signature() error = %v", err)
	}
	if len(sig) != 0 {
		t.Errorf("Signature() = %q, want empty", sig)
	}
}

func TestSignatureRejectedForType1(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.AppImage")
	if err := appimagetest.WriteType1(path, ""); err != nil {
		t.Fatal(err)
	}

	if _, err := New(path).Signature(); err == nil {
		t.Fatal("Signature() expected error for type-1 AppImage")
	}
	if _, err := New(path).SigningKey(); err == nil {
		t.Fatal("SigningKey() expected error for type-1 AppImage")
	}
}

// TestReopenStable checks that re-reading the same unchanged bundle yields
// identical metadata.
func TestReopenStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.AppImage")
	if _, err := appimagetest.WriteType2(path, appimagetest.Type2Spec{
		UpdateInfo: "zsync|https://example.com/app.zsync",
		Signature:  []byte("sig-bytes"),
		SigningKey: []byte("key-bytes"),
	}); err != nil {
		t.Fatal(err)
	}

	first := New(path)
	second := New(path)

	rawA, _ := first.RawUpdateInformation()
	rawB, _ := second.RawUpdateInformation()
	if rawA != rawB {
		t.Errorf("raw update info differs between opens: %q vs %q", rawA, rawB)
	}

	sigA, _ := first.Signature()
	sigB, _ := second.Signature()
	if string(sigA) != string(sigB) {
		t.Error("signature differs between opens")
	}

	hashA, err := first.CalculateHash()
	if err != nil {
		t.Fatalf("CalculateHash() error = %v", err)
	}
	hashB, err := second.CalculateHash()
	if err != nil {
		t.Fatalf("CalculateHash() error = %v", err)
	}
	if hashA != hashB {
		t.Errorf("hash differs between opens: %s vs %s", hashA, hashB)
	}
}
