package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hpungsan/rulesync/internal/errors"
	"github.com/hpungsan/rulesync/internal/rule"
)

// Defaults for Remote.
const (
	DefaultUserAgent = "rulesync/1.0"
	DefaultMaxBytes  = 10 * 1024 * 1024
)

// Remote fetches the full catalogue from an HTTP endpoint returning a JSON array.
// Each Fetch issues exactly one GET; retries belong to the caller.
type Remote struct {
	URL       string
	Client    *http.Client
	UserAgent string
	MaxBytes  int64
}

// NewRemote builds a Remote with its own client. A zero timeout disables the deadline.
func NewRemote(url string, timeout time.Duration, maxBytes int64) *Remote {
	return &Remote{
		URL:       url,
		Client:    &http.Client{Timeout: timeout},
		UserAgent: DefaultUserAgent,
		MaxBytes:  maxBytes,
	}
}

// Fetch returns the remote catalogue. Errors are NETWORK_ERROR, REMOTE_ERROR or DECODE_ERROR.
// A cancelled ctx surfaces as the context error.
func (r *Remote) Fetch(ctx context.Context) ([]rule.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return nil, errors.NewNetwork(fmt.Errorf("new request: %w", err))
	}
	ua := r.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "application/json")

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.NewNetwork(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, errors.NewRemote(resp.StatusCode)
	}

	maxBytes := r.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	// Read one byte past the cap so an oversized body is detected rather than truncated.
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.NewNetwork(fmt.Errorf("read body: %w", err))
	}
	if int64(len(body)) > maxBytes {
		return nil, errors.NewDecode(fmt.Errorf("response exceeds %d bytes", maxBytes))
	}

	return rule.DecodeEntries(body)
}
