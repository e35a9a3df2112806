// Package zsync implements a block-reuse file transfer: a small control
// file describes the blocks of a remote file, matching blocks are taken
// from a local seed, and only the remainder is fetched over HTTP ranges.
package zsync

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// controlVersion is written into generated control files.
const controlVersion = "0.6.2"

// HashLengths describes how block checksums are stored in the control
// file: how many consecutive blocks one entry covers, and the stored
// widths of the weak and strong checksums.
type HashLengths struct {
	SeqMatches    int
	RsumBytes     int
	ChecksumBytes int
}

// BlockSum carries the stored checksums of one target block.
type BlockSum struct {
	Rsum     uint32
	Checksum []byte
}

// ControlFile is the parsed form of a .zsync control file.
type ControlFile struct {
	Version     string
	Filename    string
	MTime       string
	Blocksize   int
	Length      int64
	HashLengths HashLengths
	URL         string
	SHA1        string
	Blocks      []BlockSum
}

// NumBlocks returns the number of blocks of the target file.
func (c *ControlFile) NumBlocks() int {
	return int((c.Length + int64(c.Blocksize) - 1) / int64(c.Blocksize))
}

// ParseControlFile decodes a control file: textual headers, a blank line,
// then the binary checksum table.
func ParseControlFile(data []byte) (*ControlFile, error) {
	sep := bytes.Index(data, []byte("\n\n"))
	if sep < 0 {
		return nil, fmt.Errorf("control file: missing header terminator")
	}
	headerData := data[:sep+1]
	table := data[sep+2:]

	cf := &ControlFile{}

	scanner := bufio.NewScanner(bytes.NewReader(headerData))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		name, value, found := strings.Cut(line, ": ")
		if !found {
			return nil, fmt.Errorf("control file: malformed header line %q", line)
		}

		var err error
		switch name {
		case "zsync":
			cf.Version = value
		case "Filename":
			cf.Filename = value
		case "MTime":
			cf.MTime = value
		case "Blocksize":
			cf.Blocksize, err = strconv.Atoi(value)
		case "Length":
			cf.Length, err = strconv.ParseInt(value, 10, 64)
		case "Hash-Lengths":
			cf.HashLengths, err = parseHashLengths(value)
		case "URL":
			cf.URL = value
		case "SHA-1":
			cf.SHA1 = value
		default:
			// Unknown headers (e.g. Z-Map2 from compressed-transfer capable
			// generators) are ignored.
		}
		if err != nil {
			return nil, fmt.Errorf("control file: invalid %s header: %w", name, err)
		}
	}

	if cf.Blocksize <= 0 {
		return nil, fmt.Errorf("control file: missing or invalid Blocksize")
	}
	if cf.Length <= 0 {
		return nil, fmt.Errorf("control file: missing or invalid Length")
	}
	if cf.SHA1 == "" {
		return nil, fmt.Errorf("control file: missing SHA-1")
	}
	if cf.HashLengths == (HashLengths{}) {
		cf.HashLengths = HashLengths{SeqMatches: 1, RsumBytes: 4, ChecksumBytes: 16}
	}

	numBlocks := cf.NumBlocks()
	entrySize := cf.HashLengths.RsumBytes + cf.HashLengths.ChecksumBytes
	if len(table) < numBlocks*entrySize {
		return nil, fmt.Errorf("control file: checksum table truncated: have %d bytes, want %d",
			len(table), numBlocks*entrySize)
	}

	cf.Blocks = make([]BlockSum, numBlocks)
	r := bytes.NewReader(table)
	rsumBuf := make([]byte, 4)
	for i := 0; i < numBlocks; i++ {
		// The rsum is stored big-endian, truncated to its least
		// significant bytes.
		for j := range rsumBuf {
			rsumBuf[j] = 0
		}
		if _, err := io.ReadFull(r, rsumBuf[4-cf.HashLengths.RsumBytes:]); err != nil {
			return nil, fmt.Errorf("control file: reading rsum of block %d: %w", i, err)
		}
		cf.Blocks[i].Rsum = binary.BigEndian.Uint32(rsumBuf)

		sum := make([]byte, cf.HashLengths.ChecksumBytes)
		if _, err := io.ReadFull(r, sum); err != nil {
			return nil, fmt.Errorf("control file: reading checksum of block %d: %w", i, err)
		}
		cf.Blocks[i].Checksum = sum
	}

	return cf, nil
}

func parseHashLengths(value string) (HashLengths, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 3 {
		return HashLengths{}, fmt.Errorf("expected 3 comma-separated values, got %d", len(parts))
	}

	var hl HashLengths
	var err error
	if hl.SeqMatches, err = strconv.Atoi(parts[0]); err != nil {
		return HashLengths{}, err
	}
	if hl.RsumBytes, err = strconv.Atoi(parts[1]); err != nil {
		return HashLengths{}, err
	}
	if hl.ChecksumBytes, err = strconv.Atoi(parts[2]); err != nil {
		return HashLengths{}, err
	}

	if hl.SeqMatches < 1 || hl.RsumBytes < 1 || hl.RsumBytes > 4 ||
		hl.ChecksumBytes < 1 || hl.ChecksumBytes > 16 {
		return HashLengths{}, fmt.Errorf("values out of range: %s", value)
	}
	return hl, nil
}
