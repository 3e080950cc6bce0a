// Package version reports the running build and polls GitHub releases for
// newer ones.
package version

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/mod/semver"
)

const (
	checkInterval = 24 * time.Hour
	// checkDelay postpones the first check so startup never blocks on the
	// network.
	checkDelay   = 30 * time.Second
	checkTimeout = 30 * time.Second
	maxRetries   = 3
	retryDelay   = 1 * time.Minute
)

// Info describes the running build and any known newer release.
type Info struct {
	Current         string `json:"current"`
	Commit          string `json:"commit"`
	Latest          string `json:"latest,omitempty"`
	UpdateAvailable bool   `json:"updateAvailable"`
}

// Checker polls the GitHub releases feed. It is safe for concurrent use.
type Checker struct {
	repo    string
	current string
	commit  string
	log     zerolog.Logger

	mu     sync.RWMutex
	latest string
	etag   string
	stopCh chan struct{}
}

// NewChecker starts a checker against github.com/<repo> releases. current
// and commit identify the running build.
func NewChecker(repo, current, commit string, logger zerolog.Logger) *Checker {
	c := &Checker{
		repo:    repo,
		current: current,
		commit:  commit,
		log:     logger.With().Str("component", "version").Logger(),
		stopCh:  make(chan struct{}),
	}
	go c.run()
	return c
}

// Stop stops the checker goroutine.
func (c *Checker) Stop() {
	close(c.stopCh)
}

func (c *Checker) run() {
	select {
	case <-time.After(checkDelay):
		c.checkWithRetry()
	case <-c.stopCh:
		return
	}

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.checkWithRetry()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Checker) checkWithRetry() {
	for attempt := 0; attempt < maxRetries; attempt++ {
		if c.check() {
			return
		}
		if attempt < maxRetries-1 {
			select {
			case <-time.After(retryDelay):
			case <-c.stopCh:
				return
			}
		}
	}
}

type githubRelease struct {
	TagName    string `json:"tag_name"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
}

// check retrieves the latest release and reports whether the check succeeded
// (a failed check is retried, an uninteresting result is not).
func (c *Checker) check() bool {
	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()

	url := "https://api.github.com/repos/" + c.repo + "/releases/latest"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return false
	}

	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "meetscribe/"+c.current)

	c.mu.RLock()
	etag := c.etag
	c.mu.RUnlock()
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotModified:
		return true
	case http.StatusNotFound:
		// No releases exist yet.
		return true
	case http.StatusForbidden, http.StatusTooManyRequests:
		// Rate limited, retry later.
		return false
	default:
		if resp.StatusCode >= 500 {
			return false
		}
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

	latest := normalizeVersion(release.TagName)

	c.mu.Lock()
	changed := latest != c.latest
	c.latest = latest
	if newEtag := resp.Header.Get("ETag"); newEtag != "" {
		c.etag = newEtag
	}
	c.mu.Unlock()

	if changed {
		if c.isUpdate(latest) {
			c.log.Info().Str("current", normalizeVersion(c.current)).Str("latest", latest).Msg("Update available")
		} else {
			c.log.Debug().Str("latest", latest).Msg("Release feed updated")
		}
	}
	return true
}

// Info returns the current build info and update availability.
func (c *Checker) Info() Info {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Info{
		Current:         normalizeVersion(c.current),
		Commit:          c.commit,
		Latest:          c.latest,
		UpdateAvailable: c.isUpdate(c.latest),
	}
}

// isUpdate reports whether latest is ahead of the running build. Dev builds
// never report updates.
func (c *Checker) isUpdate(latest string) bool {
	current := normalizeVersion(c.current)
	if latest == "" || current == "dev" || current == "unknown" {
		return false
	}
	return isNewerVersion(latest, current)
}

// normalizeVersion strips the leading "v" used in release tags.
func normalizeVersion(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}

// canonicalVersion returns the version in canonical semver format.
func canonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// isNewerVersion reports whether latest is newer than current.
func isNewerVersion(latest, current string) bool {
	return semver.Compare(canonicalVersion(latest), canonicalVersion(current)) > 0
}
