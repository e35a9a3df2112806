package updateinfo

import (
	"net/http"
	"time"

	"github.com/appimage-tools/appimageupdate/internal/httputil"
)

// Resolver turns parsed update information into a concrete zsync URL by
// querying the relevant release API.
type Resolver struct {
	client        *http.Client
	githubBaseURL string
	plingBaseURL  string
}

// NewResolver returns a resolver with the production API endpoints and a
// TLS-configured HTTP client.
func NewResolver() *Resolver {
	return &Resolver{
		client:        httputil.NewClient(httputil.ClientOptions{Timeout: 30 * time.Second}),
		githubBaseURL: "https://api.github.com",
		plingBaseURL:  "https://api.pling.com/ocs/v1/content/data",
	}
}

// WithClient overrides the HTTP client, mainly for tests.
func (r *Resolver) WithClient(client *http.Client) *Resolver {
	r.client = client
	return r
}

// WithGitHubBaseURL overrides the GitHub API endpoint, mainly for tests.
func (r *Resolver) WithGitHubBaseURL(baseURL string) *Resolver {
	r.githubBaseURL = baseURL
	return r
}

// WithPlingBaseURL overrides the Pling OCS endpoint, mainly for tests.
func (r *Resolver) WithPlingBaseURL(baseURL string) *Resolver {
	r.plingBaseURL = baseURL
	return r
}

// BuildURL resolves ui to the URL of the zsync control file. onStatus may
// be nil.
func (r *Resolver) BuildURL(ui *UpdateInfo, onStatus StatusCallback) (string, error) {
	if onStatus == nil {
		onStatus = func(string) {}
	}

	switch ui.Kind {
	case KindGenericZsync:
		return ui.URL, nil
	case KindGitHubReleases:
		return r.buildGitHubURL(ui, onStatus)
	case KindPlingV1:
		return r.buildPlingURL(ui, onStatus)
	}

	return "", &Error{Msg: "unknown update information type"}
}
