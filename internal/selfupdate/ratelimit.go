package selfupdate

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const maxRetryAfter = time.Minute

// rateLimited reports a GitHub primary rate limit, which is answered with 403
// rather than 429.
func rateLimited(resp *http.Response) bool {
	if resp.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return resp.StatusCode == http.StatusForbidden && strings.TrimSpace(resp.Header.Get("X-RateLimit-Remaining")) == "0"
}

// retryAfterDuration returns the server's requested wait, capped at maxRetryAfter.
func retryAfterDuration(h http.Header) time.Duration {
	var wait time.Duration
	if d, ok := parseRetryAfter(h.Get("Retry-After")); ok && d > wait {
		wait = d
	}
	if strings.TrimSpace(h.Get("X-RateLimit-Remaining")) == "0" {
		if d, ok := parseRateLimitReset(h.Get("X-RateLimit-Reset")); ok && d > wait {
			wait = d
		}
	}
	if wait > maxRetryAfter {
		return maxRetryAfter
	}
	return wait
}

func parseRetryAfter(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	// delta-seconds
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	// HTTP-date
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d < 0 {
			return 0, true
		}
		return d, true
	}
	return 0, false
}

// parseRateLimitReset reads X-RateLimit-Reset, a unix timestamp in seconds.
func parseRateLimitReset(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil || secs < 0 {
		return 0, false
	}
	d := time.Until(time.Unix(secs, 0))
	if d < 0 {
		return 0, true
	}
	return d, true
}

// hintedBackOff waits at least as long as the last server hint.
type hintedBackOff struct {
	backoff.BackOff
	hint time.Duration
}

func (b *hintedBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	if b.hint > next {
		next = b.hint
	}
	b.hint = 0
	return next
}
