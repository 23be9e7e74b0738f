// Package version holds build metadata and checks for newer releases.
package version

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/mod/semver"

	"github.com/oszuidwest/zwfm-audioplane/internal/util"
)

// Build metadata, set with -ldflags "-X".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const (
	githubRepo    = "oszuidwest/zwfm-audioplane"
	checkInterval = 24 * time.Hour
	checkDelay    = 30 * time.Second
	checkTimeout  = 30 * time.Second
	maxRetries    = 3
	retryDelay    = time.Minute
)

// Info describes the running build and the latest published release.
type Info struct {
	Current     string `json:"current"`
	Latest      string `json:"latest,omitempty"`
	UpdateAvail bool   `json:"update_available"`
	Commit      string `json:"commit"`
	BuildTime   string `json:"build_time"`
}

// Checker polls the release feed. It is safe for concurrent use.
type Checker struct {
	client  *http.Client
	baseURL string
	delay   time.Duration
	retry   time.Duration

	mu     sync.RWMutex
	latest string
	etag   string
}

// NewChecker returns a Checker for the GitHub release feed.
func NewChecker() *Checker {
	return &Checker{
		client:  &http.Client{Timeout: checkTimeout},
		baseURL: "https://api.github.com",
		delay:   checkDelay,
		retry:   retryDelay,
	}
}

// Run checks after a startup delay and then daily until ctx is done.
func (c *Checker) Run(ctx context.Context) error {
	if !sleep(ctx, c.delay) {
		return nil
	}
	c.checkWithRetry(ctx)

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.checkWithRetry(ctx)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Checker) checkWithRetry(ctx context.Context) {
	for attempt := range maxRetries {
		if c.check(ctx) {
			return
		}
		if attempt < maxRetries-1 && !sleep(ctx, c.retry) {
			return
		}
	}
	slog.Debug("release check failed", "attempts", maxRetries)
}

type githubRelease struct {
	TagName    string `json:"tag_name"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
}

// check fetches the latest release and reports whether the attempt is
// final. Rate limits and server errors are retried.
func (c *Checker) check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeoutCause(ctx, checkTimeout, errors.New("release feed timeout"))
	defer cancel()

	url := c.baseURL + "/repos/" + githubRepo + "/releases/latest"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return false
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "zwfm-audioplane/"+Version)

	c.mu.RLock()
	etag := c.etag
	c.mu.RUnlock()
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck // read-only body
	}()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotModified, resp.StatusCode == http.StatusNotFound:
		return true
	case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusTooManyRequests:
		return false
	case resp.StatusCode >= 500:
		return false
	default:
		return true
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return false
	}
	if release.Draft || release.Prerelease {
		return true
	}
	if release.TagName == "" {
		return false
	}

	c.mu.Lock()
	c.latest = normalize(release.TagName)
	if e := resp.Header.Get("ETag"); e != "" {
		c.etag = e
	}
	c.mu.Unlock()
	return true
}

// Info returns the build metadata and update availability.
func (c *Checker) Info() Info {
	c.mu.RLock()
	defer c.mu.RUnlock()

	current := normalize(Version)
	info := Info{
		Current:   current,
		Latest:    c.latest,
		Commit:    Commit,
		BuildTime: util.FormatHumanTime(BuildTime),
	}
	if c.latest != "" && current != "dev" && current != "unknown" {
		info.UpdateAvail = IsNewer(c.latest, current)
	}
	return info
}

func normalize(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}

func canonical(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// IsNewer reports whether latest is a newer semantic version than current.
func IsNewer(latest, current string) bool {
	return semver.Compare(canonical(latest), canonical(current)) > 0
}
