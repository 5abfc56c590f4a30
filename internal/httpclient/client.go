// Package httpclient builds the outbound HTTP client used for release
// queries and installer downloads.
package httpclient

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/foundry-erp/updater/internal/config"
)

// Options configures New.
type Options struct {
	// Timeout bounds a whole request including the body. Leave zero for
	// downloads, which are bounded by their context instead.
	Timeout time.Duration
	// TLSClientHello selects the TLS fingerprint: "" or "go" for crypto/tls,
	// "randomized" for a utls randomized hello.
	TLSClientHello string
}

// New returns an http.Client honouring HTTP(S)_PROXY from the environment.
func New(opts Options) (*http.Client, error) {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: time.Minute,
		ExpectContinueTimeout: 1 * time.Second,
	}

	switch strings.ToLower(strings.TrimSpace(opts.TLSClientHello)) {
	case config.TLSHelloDefault, config.TLSHelloGo:
	case config.TLSHelloRandomized:
		transport.DialTLSContext = newUTLSDialer(dialer).DialTLSContext
		// The randomized hello carries no ALPN, so only HTTP/1.1 is spoken.
		transport.ForceAttemptHTTP2 = false
	default:
		return nil, fmt.Errorf("unknown tls client hello %q", opts.TLSClientHello)
	}

	return &http.Client{
		Timeout:   opts.Timeout,
		Transport: transport,
	}, nil
}
