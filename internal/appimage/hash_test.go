package appimage

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/appimage-tools/appimageupdate/internal/appimage/appimagetest"
)

// expectedHash zeroes the skip regions in a copy of the whole file and
// hashes the result in one go, independent of the chunked implementation.
func expectedHash(t *testing.T, path string, layout appimagetest.Layout) string {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := layout.SigOffset; i < layout.SigOffset+layout.SigLength; i++ {
		data[i] = 0
	}
	for i := layout.KeyOffset; i < layout.KeyOffset+layout.KeyLength; i++ {
		data[i] = 0
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func checkHash(t *testing.T, spec appimagetest.Type2Spec) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "app.AppImage")
	layout, err := appimagetest.WriteType2(path, spec)
	if err != nil {
		t.Fatalf("WriteType2() error = %v", err)
	}

	got, err := New(path).CalculateHash()
	if err != nil {
		t.Fatalf("CalculateHash() error = %v", err)
	}
	if want := expectedHash(t, path, layout); got != want {
		t.Errorf("CalculateHash() = %s, want %s", got, want)
	}
}

func TestCalculateHash(t *testing.T) {
	checkHash(t, appimagetest.Type2Spec{
		UpdateInfo: "zsync|https://example.com/app.zsync",
		Signature:  []byte("signature-data"),
		SigningKey: []byte("key-data"),
	})
}

func TestCalculateHashEqualsPlainHashForZeroedSections(t *testing.T) {
	// With all-zero signature and key sections, the canonical hash must
	// equal the plain SHA-256 of the file.
	path := filepath.Join(t.TempDir(), "app.AppImage")
	if _, err := appimagetest.WriteType2(path, appimagetest.Type2Spec{}); err != nil {
		t.Fatal(err)
	}

	got, err := New(path).CalculateHash()
	if err != nil {
		t.Fatalf("CalculateHash() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	sum := sha256.Sum256(data)
	if want := hex.EncodeToString(sum[:]); got != want {
		t.Errorf("CalculateHash() = %s, want plain SHA-256 %s", got, want)
	}
}

func TestCalculateHashSkipRegionSpansChunkBoundary(t *testing.T) {
	// Place the signature section so it begins shortly before a 4096-byte
	// boundary and ends after it.
	payload := make([]byte, 4096-64-100-512) // header + payload + upd_info end 100 bytes before the boundary
	for i := range payload {
		payload[i] = byte(i)
	}
	checkHash(t, appimagetest.Type2Spec{
		Payload:        payload,
		UpdateInfoSize: 512,
		Signature:      []byte("spanning-signature"),
		SignatureSize:  3000,
		SigningKey:     []byte("key"),
	})
}

func TestCalculateHashSkipRegionStartsAtChunkBoundary(t *testing.T) {
	payload := make([]byte, 4096-64-512) // sections start exactly at 4096
	checkHash(t, appimagetest.Type2Spec{
		Payload:        payload,
		UpdateInfoSize: 512,
		Signature:      []byte("boundary-signature"),
		SignatureSize:  4096,
		SigningKey:     []byte("key"),
	})
}

func TestCalculateHashSkipRegionEndsAtEOF(t *testing.T) {
	// TableFirst puts the section data last, so .sig_key's final byte is
	// the final byte of the file.
	checkHash(t, appimagetest.Type2Spec{
		TableFirst: true,
		Signature:  []byte("signature"),
		SigningKey: []byte("key-at-end-of-file"),
	})
}

func TestCalculateHashSectionsInAnyOrder(t *testing.T) {
	checkHash(t, appimagetest.Type2Spec{
		KeyFirst:   true,
		Signature:  []byte("signature"),
		SigningKey: []byte("key"),
	})
}

func TestCalculateHashLargeFile(t *testing.T) {
	// Several chunks of non-trivial payload around the skip regions.
	payload := make([]byte, 3*4096+123)
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	checkHash(t, appimagetest.Type2Spec{
		Payload:    payload,
		Signature:  []byte("sig"),
		SigningKey: []byte("key"),
	})
}

func TestCalculateHashMissingSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.AppImage")
	if err := appimagetest.WriteType1(path, ""); err != nil {
		t.Fatal(err)
	}

	if _, err := New(path).CalculateHash(); err == nil {
		t.Fatal("CalculateHash() expected error for a file without ELF sections")
	}
}
