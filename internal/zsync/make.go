package zsync

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/md4"
)

// MakeOptions configures control file generation.
type MakeOptions struct {
	// Blocksize must be a power of two. Default 2048.
	Blocksize int
	// URL is written into the URL header. Default: the file name, which
	// makes the data URL relative to wherever the control file is served.
	URL string
	// MTime overrides the modification time header. Zero means the file's
	// own mtime.
	MTime time.Time
}

// MakeControlFile generates the control file describing path, the
// equivalent of running zsyncmake. Tests and release tooling use it to
// publish delta-updatable files.
func MakeControlFile(path string, opts MakeOptions) ([]byte, error) {
	blocksize := opts.Blocksize
	if blocksize == 0 {
		blocksize = 2048
	}
	if blocksize <= 0 || blocksize&(blocksize-1) != 0 {
		return nil, fmt.Errorf("blocksize %d is not a power of two", blocksize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading input file: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	mtime := opts.MTime
	if mtime.IsZero() {
		mtime = info.ModTime()
	}

	url := opts.URL
	if url == "" {
		url = filepath.Base(path)
	}

	hl := HashLengths{SeqMatches: 1, RsumBytes: 4, ChecksumBytes: 8}

	sum := sha1.Sum(data)

	buf := &bytes.Buffer{}
	fmt.Fprintf(buf, "zsync: %s\n", controlVersion)
	fmt.Fprintf(buf, "Filename: %s\n", filepath.Base(path))
	fmt.Fprintf(buf, "MTime: %s\n", mtime.UTC().Format(time.RFC1123Z))
	fmt.Fprintf(buf, "Blocksize: %d\n", blocksize)
	fmt.Fprintf(buf, "Length: %d\n", len(data))
	fmt.Fprintf(buf, "Hash-Lengths: %d,%d,%d\n", hl.SeqMatches, hl.RsumBytes, hl.ChecksumBytes)
	fmt.Fprintf(buf, "URL: %s\n", url)
	fmt.Fprintf(buf, "SHA-1: %s\n", hex.EncodeToString(sum[:]))
	buf.WriteByte('\n')

	block := make([]byte, blocksize)
	rsumBuf := make([]byte, 4)
	for off := 0; off < len(data); off += blocksize {
		// The final block is zero-padded to the full blocksize, matching
		// how the receiving side hashes it.
		for i := range block {
			block[i] = 0
		}
		copy(block, data[off:])

		binary.BigEndian.PutUint32(rsumBuf, computeRsum(block).value())
		buf.Write(rsumBuf[4-hl.RsumBytes:])

		h := md4.New()
		h.Write(block)
		buf.Write(h.Sum(nil)[:hl.ChecksumBytes])
	}

	return buf.Bytes(), nil
}
