package release

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrNetworkUnavailable is returned when the release server cannot be
// reached at all, as opposed to answering with an error.
var ErrNetworkUnavailable = errors.New("release server unreachable")

// fallbackTag is used when a release carries no tag name.
const fallbackTag = "v1.0.0"

// Asset is one downloadable file of a release.
type Asset struct {
	Name string `json:"name"`
	URL  string `json:"browser_download_url"`
	Size int64  `json:"size"`
}

// Release is the subset of the GitHub release object the uploader uses.
type Release struct {
	Tag    string  `json:"tag_name"`
	Name   string  `json:"name"`
	Assets []Asset `json:"assets"`
}

// Client talks to the GitHub releases API for one repository.
type Client struct {
	BaseURL string
	Repo    string
	HTTP    *http.Client
}

func NewClient(baseURL, repo string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Repo:    repo,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// Latest fetches the latest published release.
func (c *Client) Latest(ctx context.Context) (Release, error) {
	url := fmt.Sprintf("%s/repos/%s/releases/latest", c.BaseURL, c.Repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Release{}, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Release{}, fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Release{}, fmt.Errorf("latest release of %s: %s", c.Repo, resp.Status)
	}

	var rel Release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return Release{}, fmt.Errorf("decode release: %w", err)
	}
	if rel.Tag == "" {
		rel.Tag = fallbackTag
	}
	return rel, nil
}

// LatestVersion returns the latest tag, or NoVersion when the server is
// unreachable.
func (c *Client) LatestVersion(ctx context.Context) (string, error) {
	rel, err := c.Latest(ctx)
	if err != nil {
		return NoVersion, err
	}
	return rel.Tag, nil
}

// Download streams asset a into w.
func (c *Client) Download(ctx context.Context, a Asset, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/octet-stream")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: %s", a.Name, resp.Status)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("download %s: %w", a.Name, err)
	}
	return nil
}
