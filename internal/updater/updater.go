package updater

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/appimage-tools/appimageupdate/internal/appimage"
	"github.com/appimage-tools/appimageupdate/internal/updateinfo"
	"github.com/appimage-tools/appimageupdate/internal/zsync"
)

// rangesOptimizationThreshold is the gap size up to which the transfer
// engine coalesces adjacent download ranges.
const rangesOptimizationThreshold = 64 * 4096

// engineMessagePrefix marks status messages originating from the transfer
// engine rather than the updater itself.
const engineMessagePrefix = "zsync: "

// Updater owns the update lifecycle of a single AppImage. The caller
// thread polls State, Progress and NextStatusMessage while a background
// worker performs the transfer.
type Updater struct {
	mu sync.Mutex

	appImage  *appimage.AppImage
	overwrite bool
	resolver  *updateinfo.Resolver

	// rawUpdateInformation is pre-read at construction time so
	// UpdateInformation never blocks. SetUpdateInformation overrides it.
	rawUpdateInformation string

	state          State
	client         *zsync.Client
	statusMessages []string
	started        bool
	stopRequested  bool
}

// New creates an updater for the AppImage at path. The file must exist and
// be readable. When overwrite is set, the updated file replaces the
// original in place instead of being written next to it.
func New(path string, overwrite bool) (*Updater, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("invalid argument: %w", err)
	}
	f.Close()

	u := &Updater{
		appImage:  appimage.New(abs),
		overwrite: overwrite,
		resolver:  updateinfo.NewResolver(),
		state:     Initialized,
	}

	raw, err := u.appImage.RawUpdateInformation()
	if err != nil {
		return nil, err
	}
	u.rawUpdateInformation = raw

	return u, nil
}

// WithResolver overrides the update information resolver, mainly for
// tests.
func (u *Updater) WithResolver(r *updateinfo.Resolver) *Updater {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.resolver = r
	return u
}

func (u *Updater) issueStatusLocked(msg string) {
	u.statusMessages = append(u.statusMessages, msg)
}

// IssueStatusMessage appends a message to the updater's FIFO.
func (u *Updater) IssueStatusMessage(msg string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.issueStatusLocked(msg)
}

// NextStatusMessage drains one status message: the updater's own FIFO
// first, then the transfer engine's (prefixed with its origin).
func (u *Updater) NextStatusMessage() (string, bool) {
	u.mu.Lock()
	if len(u.statusMessages) > 0 {
		msg := u.statusMessages[0]
		u.statusMessages = u.statusMessages[1:]
		u.mu.Unlock()
		return msg, true
	}
	client := u.client
	u.mu.Unlock()

	if client != nil {
		if msg, ok := client.NextStatusMessage(); ok {
			return engineMessagePrefix + msg, true
		}
	}
	return "", false
}

// State returns the current lifecycle state.
func (u *Updater) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// IsDone reports whether the updater reached a terminal state.
func (u *Updater) IsDone() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state != Initialized && u.state != Running && u.state != Stopping
}

// HasError reports whether the updater terminated with an error.
func (u *Updater) HasError() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state == Error
}

// Progress reports overall progress: 0 before the run, the engine's value
// while running, 1 in a terminal state. The second return value is false
// only when the engine has not been constructed yet in a running state.
func (u *Updater) Progress() (float64, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	switch u.state {
	case Initialized:
		return 0, true
	case Success, Error:
		return 1, true
	}

	if u.client != nil {
		return u.client.Progress(), true
	}
	return 0, false
}

// Start spawns the background worker. It returns true exactly once; any
// further call is a no-op returning false.
func (u *Updater) Start() bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.state != Initialized || u.started {
		return false
	}
	u.started = true

	go u.runUpdate()
	return true
}

// Stop requests a cooperative halt. The worker samples the request
// between engine calls; the engine itself aborts at range boundaries.
// Stop fails before Start and after a terminal state has been reached.
func (u *Updater) Stop() bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.state != Running || u.stopRequested {
		return false
	}

	u.stopRequested = true
	u.state = Stopping
	if u.client != nil {
		u.client.Cancel()
	}
	return true
}

// validateAppImageLocked checks that usable update information exists.
// Custom update information set by the caller is trusted as-is.
func (u *Updater) validateAppImageLocked() error {
	if u.rawUpdateInformation != "" {
		return nil
	}

	raw, err := u.appImage.RawUpdateInformation()
	if err != nil {
		return err
	}
	if raw == "" {
		return fmt.Errorf("Could not find update information in the AppImage; " +
			"please contact the author of the AppImage and ask them to embed update information")
	}
	u.rawUpdateInformation = raw
	return nil
}

// resolveTransferURLLocked parses the raw hint and resolves it to the
// control file URL. Must be called with the lock held.
func (u *Updater) resolveTransferURLLocked() (string, error) {
	ui, err := updateinfo.Parse(u.rawUpdateInformation)
	if err != nil {
		return "", err
	}

	switch ui.Kind {
	case updateinfo.KindGitHubReleases:
		u.issueStatusLocked("Updating from GitHub Releases via ZSync")
	case updateinfo.KindGenericZsync:
		u.issueStatusLocked("Updating from generic server via ZSync")
	case updateinfo.KindPlingV1:
		u.issueStatusLocked("Updating from Pling v1 server via ZSync")
	}

	url, err := u.resolver.BuildURL(ui, u.issueStatusLocked)
	if err != nil {
		return "", err
	}
	if url == "" {
		return "", fmt.Errorf("ZSync URL not available, see previous messages for details")
	}
	return url, nil
}

// runUpdate is the worker: initialization under the lock, the blocking
// transfer outside of it, terminal state assignment under the lock again.
func (u *Updater) runUpdate() {
	u.mu.Lock()

	if u.state != Initialized {
		u.mu.Unlock()
		return
	}

	// A client left behind by an update check must not be reused; the run
	// gets a fresh instance.
	u.client = nil

	if err := u.validateAppImageLocked(); err != nil {
		u.issueStatusLocked(fmt.Sprintf("Error reading AppImage: %v", err))
		u.state = Error
		u.mu.Unlock()
		return
	}

	url, err := u.resolveTransferURLLocked()
	if err != nil {
		u.issueStatusLocked(fmt.Sprintf("Failed to resolve update information: %v", err))
		u.state = Error
		u.mu.Unlock()
		return
	}

	client := zsync.NewClient(url, u.appImage.Path(), u.overwrite)
	client.SetRangesOptimizationThreshold(rangesOptimizationThreshold)
	// The new AppImage goes into the same directory as the old one.
	client.SetCwd(filepath.Dir(u.appImage.Path()))

	u.client = client
	u.state = Running
	u.mu.Unlock()

	err = client.Run()

	u.mu.Lock()
	if err != nil {
		u.issueStatusLocked(fmt.Sprintf("Update failed: %v", err))
		u.state = Error
	} else {
		u.state = Success
	}
	u.mu.Unlock()
}

// CheckForChanges fetches the control file and reports whether the remote
// file differs from the local one. Only valid before Start. The engine
// instance it constructs is dropped on failure so a later Start gets a
// fresh one.
func (u *Updater) CheckForChanges() (bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.state != Initialized {
		return false, fmt.Errorf("update check is only possible before the update is started")
	}

	if err := u.validateAppImageLocked(); err != nil {
		u.issueStatusLocked(err.Error())
		return false, err
	}

	url, err := u.resolveTransferURLLocked()
	if err != nil {
		u.client = nil
		u.issueStatusLocked(err.Error())
		return false, err
	}

	client := zsync.NewClient(url, u.appImage.Path(), u.overwrite)
	client.SetCwd(filepath.Dir(u.appImage.Path()))
	u.client = client

	available, err := client.CheckForChanges()
	if err != nil {
		u.client = nil
		u.issueStatusLocked(err.Error())
		return false, err
	}
	return available, nil
}

// PathToNewFile returns the path of the updated file once the engine
// knows it.
func (u *Updater) PathToNewFile() (string, bool) {
	u.mu.Lock()
	client := u.client
	u.mu.Unlock()

	if client == nil {
		return "", false
	}
	return client.PathToNewFile()
}

// RemoteFileSize returns the size of the remote file once the control
// file has been fetched.
func (u *Updater) RemoteFileSize() (int64, bool) {
	u.mu.Lock()
	client := u.client
	u.mu.Unlock()

	if client == nil {
		return 0, false
	}
	return client.RemoteFileSize()
}

// UpdateInformation returns the raw update hint used by subsequent
// operations.
func (u *Updater) UpdateInformation() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.rawUpdateInformation
}

// SetUpdateInformation overrides the raw update hint, enabling custom
// update servers or channels.
func (u *Updater) SetUpdateInformation(raw string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.rawUpdateInformation = raw
}

// DescribeAppImage produces a human-readable report about the AppImage
// and its update information without mutating any state.
func (u *Updater) DescribeAppImage() (string, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "Parsing file: %s\n", u.appImage.Path())

	typ, err := u.appImage.DetectType(u.IssueStatusMessage)
	if err != nil {
		fmt.Fprintf(&b, "%v\n", err)
		return b.String(), err
	}
	fmt.Fprintf(&b, "AppImage type: %d\n", typ)

	raw, err := u.appImage.RawUpdateInformation()
	if err != nil {
		fmt.Fprintf(&b, "%v\n", err)
		return b.String(), err
	}

	if raw == "" {
		b.WriteString("Raw update information: <empty>\n")
	} else {
		fmt.Fprintf(&b, "Raw update information: %s\n", raw)
	}

	ui, err := updateinfo.Parse(raw)
	if err != nil {
		fmt.Fprintf(&b, "%v\n", err)
		return b.String(), err
	}

	fmt.Fprintf(&b, "Update information type: %s\n", ui.Kind)

	url, err := u.resolver.BuildURL(ui, u.IssueStatusMessage)
	if err != nil {
		fmt.Fprintf(&b, "Failed to assemble ZSync URL; this tool cannot be used with this AppImage. "+
			"See below for more information.\n%v\n", err)
		return b.String(), nil
	}
	fmt.Fprintf(&b, "Assembled ZSync URL: %s\n", url)

	return b.String(), nil
}
