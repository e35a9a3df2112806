package appimage

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sort"
)

// hashChunkSize is the read granularity of the canonical hash. validate.c
// uses the section offset as the chunk size, but that value can be large.
const hashChunkSize = 4096

// CalculateHash computes the canonical SHA-256 of a type-2 bundle: the hash
// of the whole file with the bytes of the .sha256_sig and .sig_key sections
// replaced by zeros. The result is the lowercase hex digest, which is also
// the exact byte string covered by the embedded signature.
func (a *AppImage) CalculateHash() (string, error) {
	sig, sigOK, err := elfSectionRegion(a.path, sectionSignature)
	if err != nil {
		return "", err
	}
	if !sigOK {
		return "", newError(a.path, "could not find "+sectionSignature+" section in AppImage", nil)
	}

	key, keyOK, err := elfSectionRegion(a.path, sectionSigningKey)
	if err != nil {
		return "", err
	}
	if !keyOK {
		return "", newError(a.path, "could not find "+sectionSigningKey+" section in AppImage", nil)
	}

	// The sections may appear in any order in the file.
	skip := []sectionRegion{sig, key}
	sort.Slice(skip, func(i, j int) bool { return skip[i].offset < skip[j].offset })

	f, err := a.open()
	if err != nil {
		return "", err
	}
	defer f.Close()

	digest := sha256.New()
	buf := make([]byte, hashChunkSize)
	var pos int64

	for {
		n, err := io.ReadFull(f, buf)
		if n == 0 {
			if err == io.EOF {
				break
			}
			if err != nil {
				return "", newError(a.path, "error reading from AppImage", err)
			}
		}

		chunk := buf[:n]
		chunkStart := pos
		chunkEnd := pos + int64(n)

		// Null the part of each skip region that intersects this chunk.
		// Regions may begin mid-chunk, span several chunks, or end exactly
		// at end of file; clamping handles all of these.
		for _, region := range skip {
			start := max64(region.offset, chunkStart)
			end := min64(region.offset+region.length, chunkEnd)
			for i := start; i < end; i++ {
				chunk[i-chunkStart] = 0
			}
		}

		digest.Write(chunk)
		pos = chunkEnd

		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return "", newError(a.path, "error reading from AppImage", err)
		}
	}

	return hex.EncodeToString(digest.Sum(nil)), nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
