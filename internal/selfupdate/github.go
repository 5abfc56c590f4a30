package selfupdate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/foundry-erp/updater/internal/logger"
)

// maxReleaseBodyBytes caps the release JSON we are willing to decode.
const maxReleaseBodyBytes = 10 << 20

var errMalformedRelease = errors.New("malformed release")

type githubRelease struct {
	TagName string `json:"tag_name"`
	Body    string `json:"body"`
	HTMLURL string `json:"html_url"`
	Assets  []struct {
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
		Size               int64  `json:"size"`
	} `json:"assets"`
}

// ReleaseSource queries a GitHub-compatible release-listing endpoint.
type ReleaseSource struct {
	client        *http.Client
	endpoint      string
	userAgent     string
	retries       int
	retryInterval time.Duration
}

// NewReleaseSource creates a source for endpoint. retries is the number of
// extra attempts made for transient failures.
func NewReleaseSource(client *http.Client, endpoint, userAgent string, retries int) *ReleaseSource {
	if client == nil {
		client = http.DefaultClient
	}
	if retries < 0 {
		retries = 0
	}
	return &ReleaseSource{
		client:        client,
		endpoint:      strings.TrimSpace(endpoint),
		userAgent:     userAgent,
		retries:       retries,
		retryInterval: 500 * time.Millisecond,
	}
}

// Endpoint returns the release-listing URL.
func (s *ReleaseSource) Endpoint() string {
	return s.endpoint
}

// Latest fetches the latest release, retrying network errors, rate limits,
// 408 and 5xx. A rate limit hint longer than the context allows ends the
// retries early.
func (s *ReleaseSource) Latest(ctx context.Context) (*ReleaseInfo, error) {
	b := &hintedBackOff{BackOff: &backoff.ExponentialBackOff{
		InitialInterval:     s.retryInterval,
		RandomizationFactor: 0.5,
		Multiplier:          2,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}}
	b.Reset()

	var rel *ReleaseInfo
	op := func() error {
		r, err := s.fetchOnce(ctx)
		if err != nil {
			if !retryableQueryError(err) {
				return backoff.Permanent(err)
			}
			var qe *ReleaseQueryError
			if errors.As(err, &qe) && qe.RetryAfter > 0 {
				if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < qe.RetryAfter {
					return backoff.Permanent(err)
				}
				b.hint = qe.RetryAfter
			}
			return err
		}
		rel = r
		return nil
	}

	err := backoff.RetryNotify(op,
		backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.retries)), ctx),
		func(err error, wait time.Duration) {
			logger.Warn("release query failed, retrying in %s: %v", wait.Round(time.Millisecond), err)
		},
	)
	if err != nil {
		return nil, err
	}
	return rel, nil
}

func (s *ReleaseSource) fetchOnce(ctx context.Context) (*ReleaseInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, http.NoBody)
	if err != nil {
		return nil, &ReleaseQueryError{Err: err}
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	if tok := strings.TrimSpace(getToken()); tok != "" && sameHost(req.URL, s.endpoint) {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &ReleaseQueryError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &ReleaseQueryError{
			StatusCode:  resp.StatusCode,
			RateLimited: rateLimited(resp),
			RetryAfter:  retryAfterDuration(resp.Header),
		}
	}

	var gr githubRelease
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxReleaseBodyBytes)).Decode(&gr); err != nil {
		return nil, &ReleaseQueryError{Err: fmt.Errorf("%w: %v", errMalformedRelease, err)}
	}

	tag := trimVersionPrefix(gr.TagName)
	if tag == "" {
		return nil, &ReleaseQueryError{Err: fmt.Errorf("%w: empty tag_name", errMalformedRelease)}
	}

	r := &ReleaseInfo{
		TagVersion: tag,
		Notes:      gr.Body,
		HTMLURL:    strings.TrimSpace(gr.HTMLURL),
	}
	for _, a := range gr.Assets {
		r.Assets = append(r.Assets, Asset{
			Name:        a.Name,
			DownloadURL: a.BrowserDownloadURL,
			Size:        a.Size,
		})
	}
	return r, nil
}

func retryableQueryError(err error) bool {
	var qe *ReleaseQueryError
	if !errors.As(err, &qe) {
		return false
	}
	switch {
	case qe.RateLimited:
		return true
	case qe.StatusCode == http.StatusTooManyRequests, qe.StatusCode == http.StatusRequestTimeout:
		return true
	case qe.StatusCode >= 500:
		return true
	case qe.StatusCode != 0:
		return false
	}
	if errors.Is(qe.Err, errMalformedRelease) {
		return false
	}
	return !errors.Is(qe.Err, context.Canceled) && !errors.Is(qe.Err, context.DeadlineExceeded)
}

// sameHost reports whether u targets the host of base, so the token is only
// sent to the configured release API and not to redirected CDNs.
func sameHost(u *url.URL, base string) bool {
	b, err := url.Parse(base)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, b.Host) {
		return true
	}
	return strings.EqualFold(b.Host, "api.github.com") && strings.EqualFold(u.Host, "github.com")
}
