// Package ota replaces the running binary with the latest published release.
package ota

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/minio/selfupdate"
	"github.com/rs/zerolog/log"
	"golang.org/x/mod/semver"

	"github.com/dokzlo13/tempod/internal/config"
)

// ErrNoAsset is returned when a release carries no binary for this platform
var ErrNoAsset = errors.New("release has no asset for this platform")

// APIError is returned when the release API answers with a non-2xx status
type APIError struct {
	StatusCode int
	URL        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("release API error (%d) at %s", e.StatusCode, e.URL)
}

// Asset is a downloadable file attached to a release
type Asset struct {
	Name string `json:"name"`
	URL  string `json:"browser_download_url"`
	Size int64  `json:"size"`
}

// Release is the subset of the GitHub release payload we use
type Release struct {
	TagName string  `json:"tag_name"`
	Name    string  `json:"name"`
	HTMLURL string  `json:"html_url"`
	Assets  []Asset `json:"assets"`
}

// Asset returns the asset with the given name
func (r *Release) Asset(name string) (Asset, bool) {
	for _, a := range r.Assets {
		if a.Name == name {
			return a, true
		}
	}
	return Asset{}, false
}

// ApplyFunc installs a new binary. It matches selfupdate.Apply.
type ApplyFunc func(update io.Reader, opts selfupdate.Options) error

// Updater checks for and installs newer releases
type Updater struct {
	httpClient *http.Client
	apiURL     string
	owner      string
	repo       string
	current    string
	userAgent  string
	goos       string
	goarch     string
	apply      ApplyFunc
}

// New creates an updater for the configured repository. current is the
// running build's version.
func New(cfg config.UpdateConfig, current, userAgent string) *Updater {
	timeout := cfg.Timeout.Duration()
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Updater{
		httpClient: &http.Client{Timeout: timeout},
		apiURL:     strings.TrimSuffix(cfg.APIURL, "/"),
		owner:      cfg.Owner,
		repo:       cfg.Repo,
		current:    current,
		userAgent:  userAgent,
		goos:       runtime.GOOS,
		goarch:     runtime.GOARCH,
		apply:      selfupdate.Apply,
	}
}

// WithApply replaces the install step (tests)
func (u *Updater) WithApply(fn ApplyFunc) *Updater {
	u.apply = fn
	return u
}

// WithPlatform overrides the target platform used to pick an asset
func (u *Updater) WithPlatform(goos, goarch string) *Updater {
	u.goos, u.goarch = goos, goarch
	return u
}

// AssetName returns the binary asset expected for this platform
func (u *Updater) AssetName() string {
	return fmt.Sprintf("tempod_%s_%s", u.goos, u.goarch)
}

// Canonical returns v as a semver string with a leading "v", or "" when
// v is not a valid version (e.g. "dev" or a commit hash).
func Canonical(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return ""
	}
	return semver.Canonical(v)
}

// IsNewer reports whether candidate is a strictly greater version than current.
// A current version that is not semver (development builds) is never upgraded.
func IsNewer(current, candidate string) bool {
	cur, cand := Canonical(current), Canonical(candidate)
	if cur == "" || cand == "" {
		return false
	}
	return semver.Compare(cand, cur) > 0
}

// Check fetches the latest release and reports whether it should be installed
func (u *Updater) Check(ctx context.Context) (*Release, bool, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/releases/latest", u.apiURL, u.owner, u.repo)

	body, err := u.get(ctx, url, "application/vnd.github+json")
	if err != nil {
		return nil, false, err
	}
	defer body.Close()

	var rel Release
	if err := json.NewDecoder(body).Decode(&rel); err != nil {
		return nil, false, fmt.Errorf("failed to decode release: %w", err)
	}

	newer := IsNewer(u.current, rel.TagName)
	log.Debug().
		Str("current", u.current).
		Str("latest", rel.TagName).
		Bool("newer", newer).
		Msg("Checked for updates")

	return &rel, newer, nil
}

// Apply downloads the platform asset of rel and replaces the running
// executable. When the release has a "<asset>.sha256" file, the download
// is verified against it.
func (u *Updater) Apply(ctx context.Context, rel *Release) error {
	name := u.AssetName()
	asset, ok := rel.Asset(name)
	if !ok {
		return fmt.Errorf("%w: %s has no %s", ErrNoAsset, rel.TagName, name)
	}

	var opts selfupdate.Options
	if sum, ok := rel.Asset(name + ".sha256"); ok {
		checksum, err := u.fetchChecksum(ctx, sum.URL)
		if err != nil {
			return err
		}
		opts.Checksum = checksum
	}

	body, err := u.get(ctx, asset.URL, "application/octet-stream")
	if err != nil {
		return err
	}
	defer body.Close()

	if err := u.apply(body, opts); err != nil {
		if rerr := selfupdate.RollbackError(err); rerr != nil {
			return fmt.Errorf("update failed and rollback failed: %w", rerr)
		}
		return fmt.Errorf("failed to apply update: %w", err)
	}

	log.Info().
		Str("from", u.current).
		Str("to", rel.TagName).
		Str("asset", name).
		Bool("verified", opts.Checksum != nil).
		Msg("Update applied")
	return nil
}

// fetchChecksum reads a sha256sum-style file ("<hex>  <name>")
func (u *Updater) fetchChecksum(ctx context.Context, url string) ([]byte, error) {
	body, err := u.get(ctx, url, "text/plain")
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, 1024))
	if err != nil {
		return nil, fmt.Errorf("failed to read checksum: %w", err)
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty checksum file at %s", url)
	}
	sum, err := hex.DecodeString(fields[0])
	if err != nil || len(sum) != 32 {
		return nil, fmt.Errorf("invalid sha256 checksum at %s", url)
	}
	return sum, nil
}

func (u *Updater) get(ctx context.Context, url, accept string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", accept)
	if u.userAgent != "" {
		req.Header.Set("User-Agent", u.userAgent)
	}

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, &APIError{StatusCode: resp.StatusCode, URL: url}
	}
	return resp.Body, nil
}
