package updateinfo

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/appimage-tools/appimageupdate/internal/httputil"
)

// downloadLinkPattern extracts <downloadlinkN>...</downloadlinkN> entries
// from the OCS content response.
var downloadLinkPattern = regexp.MustCompile(`<downloadlink\d+>(.*?)</downloadlink\d+>`)

func (r *Resolver) buildPlingURL(ui *UpdateInfo, onStatus StatusCallback) (string, error) {
	url := fmt.Sprintf("%s/%s", r.plingBaseURL, ui.ProductID)

	onStatus(fmt.Sprintf("Fetching product data for ID %s from Pling OCS API", ui.ProductID))

	body, status, err := httputil.Get(r.client, url)
	if err != nil {
		return "", &Error{Msg: "Pling API request failed", HTTPStatus: status, Err: err}
	}
	if status < 200 || status >= 300 {
		return "", &Error{Msg: "Pling API request failed", HTTPStatus: status}
	}

	var downloads []string
	for _, match := range downloadLinkPattern.FindAllStringSubmatch(string(body), -1) {
		downloadURL := match[1]
		fileName := downloadURL[strings.LastIndex(downloadURL, "/")+1:]

		ok, err := doublestar.Match(ui.FileGlob, fileName)
		if err != nil {
			return "", &Error{Msg: fmt.Sprintf("invalid file matching pattern %q", ui.FileGlob), Err: err}
		}
		if ok {
			downloads = append(downloads, downloadURL)
		}
	}

	if len(downloads) == 0 {
		return "", &Error{Msg: "no download matching the pattern found in Pling product data"}
	}

	// The lexicographically greatest file name is assumed to be the latest
	// release.
	var latestURL, latestName string
	for _, downloadURL := range downloads {
		fileName := downloadURL[strings.LastIndex(downloadURL, "/")+1:]
		if fileName > latestName {
			latestURL = downloadURL
			latestName = fileName
		}
	}

	onStatus(fmt.Sprintf("Found matching release: %s", latestURL))

	// pling.com creates zsync files for every uploaded file; appending
	// .zsync is enough to reach the control file.
	return latestURL + ".zsync", nil
}
