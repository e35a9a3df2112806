package zsync

import (
	"bytes"

	"golang.org/x/crypto/md4"
)

// matchSeed locates target blocks inside the seed. The returned slice has
// one entry per target block: the seed offset holding identical content,
// or -1 when the block has to be fetched. The seed is scanned with the
// rolling checksum; weak hits are confirmed against the strong checksum.
func matchSeed(seed []byte, cf *ControlFile) []int64 {
	numBlocks := cf.NumBlocks()
	matches := make([]int64, numBlocks)
	for i := range matches {
		matches[i] = -1
	}
	if len(seed) == 0 {
		return matches
	}

	blocksize := cf.Blocksize
	mask := truncMask(cf.HashLengths.RsumBytes)

	// Weak checksum of every target block, truncated as stored.
	candidates := make(map[uint32][]int, numBlocks)
	for i, b := range cf.Blocks {
		key := b.Rsum & mask
		candidates[key] = append(candidates[key], i)
	}

	// The final target block is zero-padded; padding the seed the same way
	// lets the tail of the seed match it.
	padded := make([]byte, len(seed)+blocksize)
	copy(padded, seed)

	remaining := numBlocks
	r := computeRsum(padded[:blocksize])

	for off := 0; off+blocksize <= len(padded); off++ {
		if off > 0 {
			r = r.roll(padded[off-1], padded[off+blocksize-1], blocksize)
		}

		if blockIndices, ok := candidates[r.value()&mask]; ok {
			var strong []byte
			for _, i := range blockIndices {
				if matches[i] >= 0 {
					continue
				}
				if strong == nil {
					h := md4.New()
					h.Write(padded[off : off+blocksize])
					strong = h.Sum(nil)[:cf.HashLengths.ChecksumBytes]
				}
				if bytes.Equal(strong, cf.Blocks[i].Checksum) {
					matches[i] = int64(off)
					remaining--
				}
			}
			if remaining == 0 {
				break
			}
		}
	}

	return matches
}

// byteRange is a half-open-free inclusive byte range [start, end].
type byteRange struct {
	start int64
	end   int64
}

// missingRanges converts unmatched blocks into byte ranges, merging
// adjacent ranges and ranges separated by a gap of at most threshold
// bytes. Refetching a short gap is cheaper than issuing another request.
func missingRanges(matches []int64, blocksize int, length, threshold int64) []byteRange {
	var ranges []byteRange
	for i, m := range matches {
		if m >= 0 {
			continue
		}
		start := int64(i) * int64(blocksize)
		end := start + int64(blocksize) - 1
		if end > length-1 {
			end = length - 1
		}

		if n := len(ranges); n > 0 && start-ranges[n-1].end-1 <= threshold {
			ranges[n-1].end = end
		} else {
			ranges = append(ranges, byteRange{start: start, end: end})
		}
	}
	return ranges
}
