// Package signingtest creates signed AppImage fixtures for tests: it
// generates throwaway OpenPGP keys, embeds the public key in a synthetic
// type-2 AppImage and signs the file's canonical hash.
package signingtest

import (
	"bytes"
	"fmt"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"

	"github.com/appimage-tools/appimageupdate/internal/appimage"
	"github.com/appimage-tools/appimageupdate/internal/appimage/appimagetest"
)

// GenerateKey creates a fresh signing key.
func GenerateKey(name, email string) (*openpgp.Entity, error) {
	return openpgp.NewEntity(name, "", email, nil)
}

// ArmorPublicKey serializes the entity's public part in armored form, the
// representation embedded in the .sig_key section.
func ArmorPublicKey(entity *openpgp.Entity) ([]byte, error) {
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return nil, err
	}
	if err := entity.Serialize(w); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DetachSign produces an armored detached signature over data.
func DetachSign(entity *openpgp.Entity, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&buf, entity, bytes.NewReader(data), nil); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteSignedAppImage writes a synthetic type-2 AppImage carrying the
// entity's public key and a valid signature over its canonical hash.
//
// The canonical hash does not depend on the contents of the signature and
// key sections (they are zeroed during hashing), so the file is written
// once to compute the hash and then rewritten with the signature filled in.
func WriteSignedAppImage(path string, entity *openpgp.Entity, updateInfo string) error {
	pubKey, err := ArmorPublicKey(entity)
	if err != nil {
		return fmt.Errorf("armoring public key: %w", err)
	}

	spec := appimagetest.Type2Spec{
		UpdateInfo: updateInfo,
		SigningKey: pubKey,
	}

	if _, err := appimagetest.WriteType2(path, spec); err != nil {
		return err
	}

	hash, err := appimage.New(path).CalculateHash()
	if err != nil {
		return fmt.Errorf("hashing unsigned fixture: %w", err)
	}

	signature, err := DetachSign(entity, []byte(hash))
	if err != nil {
		return fmt.Errorf("signing hash: %w", err)
	}

	spec.Signature = signature
	if _, err := appimagetest.WriteType2(path, spec); err != nil {
		return err
	}
	return nil
}
