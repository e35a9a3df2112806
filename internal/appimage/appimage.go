// Package appimage provides read-only access to the metadata embedded in
// AppImage files: the bundle type, the raw update information, the detached
// signature, the signing key, and the canonical hash used for signing.
package appimage

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// Type identifies the AppImage format variant.
type Type int

const (
	// TypeUnknown is returned alongside an error when detection fails.
	TypeUnknown Type = 0
	// Type1 bundles are plain ISO 9660 images with an ELF header.
	Type1 Type = 1
	// Type2 bundles embed a runtime ELF whose section table carries the
	// update information, signature and signing key.
	Type2 Type = 2
)

const (
	// magicOffset is where the three AppImage magic bytes live.
	magicOffset = 8

	// type1UpdateInfoOffset and type1UpdateInfoLength describe the fixed
	// location of the update information in type-1 bundles.
	type1UpdateInfoOffset = 0x8373
	type1UpdateInfoLength = 512

	// isoMagicOffset is where ISO 9660 images carry their "CD001" marker.
	isoMagicOffset = 32769

	sectionUpdateInfo = ".upd_info"
	sectionSignature  = ".sha256_sig"
	sectionSigningKey = ".sig_key"
)

var (
	elfMagic = []byte{0x7f, 'E', 'L', 'F'}
	isoMagic = []byte("CD001")
)

// Error describes a failure while inspecting an AppImage.
type Error struct {
	Path string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Msg, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Msg, e.Path)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(path, msg string, err error) *Error {
	return &Error{Path: path, Msg: msg, Err: err}
}

// AppImage is a read-only view of an AppImage file. It holds no open file
// handles; every accessor opens the file on demand.
type AppImage struct {
	path string
}

// New returns a view of the AppImage at path. The file is not touched until
// an accessor is called.
func New(path string) *AppImage {
	return &AppImage{path: path}
}

// Path returns the filesystem path this view was created with.
func (a *AppImage) Path() string { return a.path }

func (a *AppImage) open() (*os.File, error) {
	f, err := os.Open(a.path)
	if err != nil {
		return nil, newError(a.path, "error opening AppImage", err)
	}
	return f, nil
}

func (a *AppImage) readAt(f *os.File, offset int64, length int) ([]byte, error) {
	buf := make([]byte, length)
	n, err := f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, newError(a.path, "error reading from AppImage", err)
	}
	return buf[:n], nil
}

func (a *AppImage) hasElfMagic(f *os.File) (bool, error) {
	buf, err := a.readAt(f, 0, len(elfMagic))
	if err != nil {
		return false, err
	}
	return bytes.Equal(buf, elfMagic), nil
}

func (a *AppImage) hasIsoMagic(f *os.File) (bool, error) {
	buf, err := a.readAt(f, isoMagicOffset, len(isoMagic))
	if err != nil {
		return false, err
	}
	return bytes.Equal(buf, isoMagic), nil
}

// DetectType determines the bundle variant. Files without the AppImage magic
// bytes that look like both an ELF executable and an ISO 9660 image are
// treated as type 1; onStatus, if non-nil, receives a warning in that case.
func (a *AppImage) DetectType(onStatus func(msg string)) (Type, error) {
	f, err := a.open()
	if err != nil {
		return TypeUnknown, err
	}
	defer f.Close()

	magic, err := a.readAt(f, magicOffset, 3)
	if err != nil {
		return TypeUnknown, err
	}

	if len(magic) == 3 && magic[0] == 'A' && magic[1] == 'I' {
		switch magic[2] {
		case 1:
			return Type1, nil
		case 2:
			return Type2, nil
		}
	}

	// Type-1 AppImages do not have to set the magic bytes, although they
	// should. A file that is both an ELF and an ISO 9660 image is suspected
	// to be a type-1 AppImage.
	isElf, err := a.hasElfMagic(f)
	if err != nil {
		return TypeUnknown, err
	}
	isIso, err := a.hasIsoMagic(f)
	if err != nil {
		return TypeUnknown, err
	}
	if isElf && isIso {
		if onStatus != nil {
			onStatus(fmt.Sprintf("Warning: %s has no AppImage magic bytes, assuming type 1", a.path))
		}
		return Type1, nil
	}

	return TypeUnknown, newError(a.path, "unknown AppImage type", nil)
}

// Type is DetectType without a status callback.
func (a *AppImage) Type() (Type, error) {
	return a.DetectType(nil)
}

// RawUpdateInformation returns the update hint embedded in the bundle. An
// empty string means the bundle carries no update information.
func (a *AppImage) RawUpdateInformation() (string, error) {
	typ, err := a.Type()
	if err != nil {
		// Legacy behavior adopted from AppImageUpdate's predecessor: if the
		// ISO magic bytes are present, treat the file as type 1 anyway.
		f, openErr := a.open()
		if openErr != nil {
			return "", err
		}
		isIso, isoErr := a.hasIsoMagic(f)
		f.Close()
		if isoErr != nil || !isIso {
			return "", err
		}
		typ = Type1
	}

	switch typ {
	case Type1:
		f, err := a.open()
		if err != nil {
			return "", err
		}
		defer f.Close()

		buf, err := a.readAt(f, type1UpdateInfoOffset, type1UpdateInfoLength)
		if err != nil {
			return "", err
		}
		return string(trimAtNul(buf)), nil
	case Type2:
		data, err := a.readSection(sectionUpdateInfo)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	return "", newError(a.path, fmt.Sprintf("reading update information not supported for type %d", typ), nil)
}

// Signature returns the detached signature embedded in a type-2 bundle.
// An empty result means the bundle is not signed.
func (a *AppImage) Signature() ([]byte, error) {
	if err := a.requireType2("signature reading"); err != nil {
		return nil, err
	}
	return a.readSection(sectionSignature)
}

// SigningKey returns the ASCII-armored public key embedded in a type-2
// bundle.
func (a *AppImage) SigningKey() ([]byte, error) {
	if err := a.requireType2("reading signing key"); err != nil {
		return nil, err
	}
	return a.readSection(sectionSigningKey)
}

func (a *AppImage) requireType2(operation string) error {
	typ, err := a.Type()
	if err != nil {
		return err
	}
	if typ != Type2 {
		return newError(a.path, fmt.Sprintf("%s is not supported for type %d AppImages", operation, typ), nil)
	}
	return nil
}

// trimAtNul cuts buf at the first NUL byte. Embedded sections are
// zero-padded to their full size.
func trimAtNul(buf []byte) []byte {
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		return buf[:i]
	}
	return buf
}
