package updateinfo

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/appimage-tools/appimageupdate/internal/httputil"
)

// githubRelease is the subset of the GitHub release API response the
// resolver needs.
type githubRelease struct {
	TagName    string        `json:"tag_name"`
	Prerelease bool          `json:"prerelease"`
	Assets     []githubAsset `json:"assets"`
}

type githubAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

func (r *Resolver) buildGitHubURL(ui *UpdateInfo, onStatus StatusCallback) (string, error) {
	release, err := r.fetchRelease(ui, onStatus)
	if err != nil {
		return "", err
	}

	if len(release.Assets) == 0 {
		return "", &Error{Msg: "could not find any artifacts in release data; " +
			"please contact the author of the AppImage and tell them the files are missing on the releases page"}
	}

	// Matching the entire asset name requires a wildcard prefix.
	pattern := "*" + ui.FileGlob

	var matching []string
	for _, asset := range release.Assets {
		ok, err := doublestar.Match(pattern, asset.Name)
		if err != nil {
			return "", &Error{Msg: fmt.Sprintf("invalid file matching pattern %q", ui.FileGlob), Err: err}
		}
		if ok {
			matching = append(matching, asset.BrowserDownloadURL)
		}
	}

	if len(matching) == 0 {
		return "", &Error{Msg: "none of the artifacts matched the pattern in the update information; " +
			"please contact the author of the AppImage and ask them to revise the update information"}
	}

	// Sorting in descending order should put the latest release first in
	// case there is more than one match. This depends on the stability of
	// the vendor's naming pattern.
	sort.Sort(sort.Reverse(sort.StringSlice(matching)))

	onStatus(fmt.Sprintf("Found matching artifact: %s", matching[0]))

	return matching[0], nil
}

func (r *Resolver) fetchRelease(ui *UpdateInfo, onStatus StatusCallback) (*githubRelease, error) {
	switch ui.Tag {
	case "latest":
		onStatus("Fetching latest release information from GitHub API")
		return r.fetchSingleRelease(fmt.Sprintf("%s/repos/%s/%s/releases/latest", r.githubBaseURL, ui.User, ui.Repo))
	case "latest-pre", "latest-all":
		// Documented extension: pull the full release list and pick the
		// first entry whose prerelease flag matches.
		onStatus(fmt.Sprintf("Fetching release list for pseudo-tag %q from GitHub API", ui.Tag))
		return r.fetchFromReleaseList(ui)
	default:
		onStatus(fmt.Sprintf("Fetching release information for tag %q from GitHub API", ui.Tag))
		return r.fetchSingleRelease(fmt.Sprintf("%s/repos/%s/%s/releases/tags/%s", r.githubBaseURL, ui.User, ui.Repo, ui.Tag))
	}
}

func (r *Resolver) fetchSingleRelease(url string) (*githubRelease, error) {
	body, status, err := httputil.Get(r.client, url)
	if err != nil {
		return nil, &Error{Msg: "GitHub API request failed", HTTPStatus: status, Err: err}
	}
	if status < 200 || status >= 300 {
		return nil, &Error{Msg: "GitHub API request failed", HTTPStatus: status}
	}

	var release githubRelease
	if err := json.Unmarshal(body, &release); err != nil {
		return nil, &Error{Msg: "failed to parse GitHub response", Err: err}
	}
	return &release, nil
}

func (r *Resolver) fetchFromReleaseList(ui *UpdateInfo) (*githubRelease, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/releases", r.githubBaseURL, ui.User, ui.Repo)

	body, status, err := httputil.Get(r.client, url)
	if err != nil {
		return nil, &Error{Msg: "GitHub API request failed", HTTPStatus: status, Err: err}
	}
	if status != http.StatusOK {
		return nil, &Error{Msg: "GitHub API request failed", HTTPStatus: status}
	}

	var releases []githubRelease
	if err := json.Unmarshal(body, &releases); err != nil {
		return nil, &Error{Msg: "failed to parse GitHub response", Err: err}
	}

	wantPrerelease := ui.Tag == "latest-pre"
	for i := range releases {
		if releases[i].Prerelease == wantPrerelease || ui.Tag == "latest-all" {
			return &releases[i], nil
		}
	}

	return nil, &Error{Msg: fmt.Sprintf("no release matching pseudo-tag %q found", ui.Tag)}
}
