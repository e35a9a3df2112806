package zsync

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/appimage-tools/appimageupdate/internal/httputil"
)

// Client performs one block-reuse transfer: it fetches the control file
// from url, reuses matching blocks from the seed file, downloads the
// remaining byte ranges and assembles the new file in the working
// directory.
type Client struct {
	url        string
	seedPath   string
	overwrite  bool
	httpClient *http.Client

	mu              sync.Mutex
	cwd             string
	rangesThreshold int64
	status          []string
	control         *ControlFile
	newFilePath     string
	written         int64
	total           int64
	done            bool
	cancelled       bool
}

// NewClient returns a client for one transfer. When overwrite is set the
// seed file is rewritten in place; otherwise the old file survives as
// <seed>.zs-old if the names collide.
func NewClient(url, seedPath string, overwrite bool) *Client {
	return &Client{
		url:        url,
		seedPath:   seedPath,
		overwrite:  overwrite,
		httpClient: httputil.NewClient(httputil.ClientOptions{Timeout: 10 * time.Minute}),
	}
}

// WithHTTPClient overrides the HTTP client, mainly for tests.
func (c *Client) WithHTTPClient(client *http.Client) *Client {
	c.httpClient = client
	return c
}

// SetCwd sets the directory the new file is assembled in. Defaults to the
// seed's directory.
func (c *Client) SetCwd(dir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cwd = dir
}

// SetRangesOptimizationThreshold sets the maximum gap, in bytes, over
// which two download ranges are coalesced into one request.
func (c *Client) SetRangesOptimizationThreshold(threshold int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rangesThreshold = threshold
}

// Cancel requests a cooperative abort. The transfer stops at the next
// range boundary.
func (c *Client) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = true
}

func (c *Client) isCancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

func (c *Client) issueStatus(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = append(c.status, msg)
}

// NextStatusMessage drains one message from the client's FIFO.
func (c *Client) NextStatusMessage() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.status) == 0 {
		return "", false
	}
	msg := c.status[0]
	c.status = c.status[1:]
	return msg, true
}

// Progress reports transfer progress in [0, 1]. It is monotonic
// non-decreasing within one run.
func (c *Client) Progress() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return 1
	}
	if c.total == 0 {
		return 0
	}
	p := float64(c.written) / float64(c.total)
	if p > 1 {
		p = 1
	}
	return p
}

// RemoteFileSize returns the size of the remote file. It is known once
// the control file has been fetched.
func (c *Client) RemoteFileSize() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.control == nil {
		return 0, false
	}
	return c.total, true
}

// PathToNewFile returns the path of the assembled file. It is available
// once a transfer has completed.
func (c *Client) PathToNewFile() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.newFilePath == "" {
		return "", false
	}
	return c.newFilePath, true
}

// fetchControl downloads and parses the control file if that has not
// happened yet.
func (c *Client) fetchControl() (*ControlFile, error) {
	c.mu.Lock()
	if c.control != nil {
		cf := c.control
		c.mu.Unlock()
		return cf, nil
	}
	c.mu.Unlock()

	c.issueStatus(fmt.Sprintf("Fetching control file: %s", c.url))

	body, status, err := httputil.Get(c.httpClient, c.url)
	if err != nil {
		return nil, fmt.Errorf("fetching control file: %w", err)
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("fetching control file: HTTP status %d", status)
	}

	cf, err := ParseControlFile(body)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.control = cf
	c.total = cf.Length
	c.mu.Unlock()

	return cf, nil
}

// CheckForChanges fetches only the control file and compares its whole
// file checksum against the seed. No data is transferred and no progress
// is reported.
func (c *Client) CheckForChanges() (bool, error) {
	cf, err := c.fetchControl()
	if err != nil {
		return false, err
	}

	f, err := os.Open(c.seedPath)
	if err != nil {
		return false, fmt.Errorf("opening seed file: %w", err)
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, fmt.Errorf("hashing seed file: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)) != cf.SHA1, nil
}

// Run performs the transfer. On success the new file is in place and
// PathToNewFile reports it.
func (c *Client) Run() error {
	cf, err := c.fetchControl()
	if err != nil {
		return err
	}

	seed, err := os.ReadFile(c.seedPath)
	if err != nil {
		// A missing or unreadable seed degrades to a full download.
		c.issueStatus(fmt.Sprintf("Cannot read seed file, performing full download: %v", err))
		seed = nil
	}

	matches := matchSeed(seed, cf)

	reused := 0
	for _, m := range matches {
		if m >= 0 {
			reused++
		}
	}
	c.issueStatus(fmt.Sprintf("Reusing %d of %d blocks from the seed file", reused, len(matches)))

	c.mu.Lock()
	cwd := c.cwd
	threshold := c.rangesThreshold
	c.mu.Unlock()
	if cwd == "" {
		cwd = filepath.Dir(c.seedPath)
	}

	tmp, err := os.CreateTemp(cwd, ".zsync-*.part")
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		tmp.Close()
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := tmp.Truncate(cf.Length); err != nil {
		return fmt.Errorf("sizing output file: %w", err)
	}

	// Matched blocks first: they are local and cheap, and writing them up
	// front makes progress meaningful from the start.
	padded := make([]byte, len(seed)+cf.Blocksize)
	copy(padded, seed)
	for i, m := range matches {
		if m < 0 {
			continue
		}
		start := int64(i) * int64(cf.Blocksize)
		n := int64(cf.Blocksize)
		if start+n > cf.Length {
			n = cf.Length - start
		}
		if _, err := tmp.WriteAt(padded[m:m+n], start); err != nil {
			return fmt.Errorf("writing reused block: %w", err)
		}
		c.addWritten(n)
	}

	ranges := missingRanges(matches, cf.Blocksize, cf.Length, threshold)
	if len(ranges) > 0 {
		var fetchTotal int64
		for _, r := range ranges {
			fetchTotal += r.end - r.start + 1
		}
		c.issueStatus(fmt.Sprintf("Fetching %s in %d range(s)",
			humanize.IBytes(uint64(fetchTotal)), len(ranges)))
	}

	dataURL := c.resolveDataURL(cf)

	for _, r := range ranges {
		if c.isCancelled() {
			return fmt.Errorf("transfer cancelled")
		}
		data, err := c.fetchRange(dataURL, r)
		if err != nil {
			return err
		}
		if _, err := tmp.WriteAt(data, r.start); err != nil {
			return fmt.Errorf("writing fetched range: %w", err)
		}
		c.addWritten(int64(len(data)))
	}

	if err := c.verify(tmp, cf); err != nil {
		return err
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing output file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("setting output permissions: %w", err)
	}

	finalPath, err := c.finalize(tmpPath, cwd, cf, dataURL)
	if err != nil {
		return err
	}
	success = true

	c.mu.Lock()
	c.newFilePath = finalPath
	c.done = true
	c.mu.Unlock()

	c.issueStatus(fmt.Sprintf("Wrote new file: %s", finalPath))
	return nil
}

func (c *Client) addWritten(n int64) {
	c.mu.Lock()
	c.written += n
	c.mu.Unlock()
}

// resolveDataURL determines the URL of the remote data file. A relative
// URL header is resolved against the control file's location.
func (c *Client) resolveDataURL(cf *ControlFile) string {
	target := cf.URL
	if target == "" {
		target = strings.TrimSuffix(c.url, ".zsync")
	}
	if strings.Contains(target, "://") {
		return target
	}
	base := c.url
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[:i+1]
	}
	return base + target
}

func (c *Client) fetchRange(url string, r byteRange) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", r.start, r.end))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching range %d-%d: %w", r.start, r.end, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading range %d-%d: %w", r.start, r.end, err)
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		want := r.end - r.start + 1
		if int64(len(body)) < want {
			return nil, fmt.Errorf("range %d-%d: short response (%d bytes)", r.start, r.end, len(body))
		}
		return body[:want], nil
	case http.StatusOK:
		// The server ignored the Range header and sent the whole file.
		if int64(len(body)) <= r.end {
			return nil, fmt.Errorf("range %d-%d: full response too short (%d bytes)", r.start, r.end, len(body))
		}
		return body[r.start : r.end+1], nil
	}

	return nil, fmt.Errorf("range %d-%d: HTTP status %d", r.start, r.end, resp.StatusCode)
}

// verify checks the assembled file against the control file's whole-file
// SHA-1.
func (c *Client) verify(f *os.File, cf *ControlFile) error {
	c.issueStatus("Verifying checksum of the assembled file")

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("hashing assembled file: %w", err)
	}

	if got := hex.EncodeToString(h.Sum(nil)); got != cf.SHA1 {
		return fmt.Errorf("checksum of assembled file does not match: got %s, want %s", got, cf.SHA1)
	}
	return nil
}

// finalize moves the assembled file to its final name. Naming rules: with
// overwrite the seed is replaced in place; otherwise the new file takes
// the remote name, and if that collides with the seed, the seed is
// preserved as <seed>.zs-old.
func (c *Client) finalize(tmpPath, cwd string, cf *ControlFile, dataURL string) (string, error) {
	remoteName := cf.Filename
	if remoteName == "" {
		remoteName = filepath.Base(strings.TrimSuffix(dataURL, "/"))
	}

	seedAbs, err := filepath.Abs(c.seedPath)
	if err != nil {
		return "", err
	}

	var finalPath string
	if c.overwrite {
		finalPath = seedAbs
	} else {
		finalPath, err = filepath.Abs(filepath.Join(cwd, remoteName))
		if err != nil {
			return "", err
		}
		if finalPath == seedAbs {
			backup := seedAbs + ".zs-old"
			if err := os.Rename(seedAbs, backup); err != nil {
				return "", fmt.Errorf("preserving old file: %w", err)
			}
			c.issueStatus(fmt.Sprintf("Old file preserved as %s", backup))
		}
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("moving new file into place: %w", err)
	}
	return finalPath, nil
}
