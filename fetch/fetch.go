// Package fetch downloads scoring files over HTTP with retries and checksum
// verification, so cached inputs can be trusted byte-for-byte.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/carbocation/pfx"
	"github.com/cenkalti/backoff"
	log "github.com/sirupsen/logrus"
)

// MaxAttempts bounds the retry loop for any one URL.
const MaxAttempts = 5

// DownloadError means the payload never arrived despite retries. Retrying
// later may succeed.
type DownloadError struct {
	URL string
	Err error
}

func (e DownloadError) Error() string {
	return fmt.Sprintf("fetch: downloading %s: %v", e.URL, e.Err)
}

func (e DownloadError) Unwrap() error { return e.Err }

// ChecksumError means every attempt delivered a payload that did not hash to
// the expected value. A corrupted transfer can hash differently on a later
// attempt, so mismatches are retried before this is raised.
type ChecksumError struct {
	URL      string
	Expected string
	Actual   string
}

func (e ChecksumError) Error() string {
	return fmt.Sprintf("fetch: %s: sha256 mismatch: expected %s, got %s", e.URL, e.Expected, e.Actual)
}

// statusError marks an HTTP status that retries cannot fix.
type statusError struct {
	error
}

// Client wraps an http.Client with the retry policy.
type Client struct {
	HTTP *http.Client
}

func NewClient() *Client {
	return &Client{HTTP: &http.Client{Timeout: 10 * time.Minute}}
}

// Download fetches url into destPath, creating parent directories as
// needed. Transient failures (transport errors and 5xx/429 responses) are
// retried up to MaxAttempts times with exponential backoff and jitter. If
// expectedSHA256 is nonempty the payload hash must match; mismatches are
// retried like transport failures and surface as a ChecksumError only once
// the attempts are exhausted. The file appears at destPath atomically or not
// at all.
func (c *Client) Download(ctx context.Context, url, destPath, expectedSHA256 string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return pfx.Err(err)
	}

	// Fixed interval with random jitter: the jitter comes from the
	// randomization factor, and a multiplier of 1 keeps the interval flat.
	retry := backoff.NewExponentialBackOff()
	retry.Multiplier = 1
	retry.MaxElapsedTime = 0
	retry.Reset()

	var lastErr error
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		if attempt > 1 {
			wait := retry.NextBackOff()
			log.Warnf("Retrying %s in %v (attempt %d of %d): %v", url, wait, attempt, MaxAttempts, lastErr)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return DownloadError{URL: url, Err: ctx.Err()}
			}
		}

		err := c.downloadOnce(ctx, url, destPath, expectedSHA256)
		if err == nil {
			return nil
		}
		if _, fatal := err.(statusError); fatal {
			return DownloadError{URL: url, Err: err}
		}
		lastErr = err
	}

	// Exhaustion keeps the final cause distinct: a payload that kept hashing
	// wrong surfaces as a ChecksumError, anything else as a DownloadError.
	if ce, ok := lastErr.(ChecksumError); ok {
		return ce
	}

	return DownloadError{URL: url, Err: lastErr}
}

func (c *Client) downloadOnce(ctx context.Context, url, destPath, expectedSHA256 string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status %s", resp.Status)
		// 5xx and throttling are transient; other statuses will not
		// improve with retries.
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return err
		}
		return statusError{err}
	}

	// Download into a temp file in the destination directory so the final
	// rename stays on one filesystem.
	tmp, err := os.CreateTemp(filepath.Dir(destPath), filepath.Base(destPath)+".partial")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, hasher), resp.Body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if expectedSHA256 != "" {
		actual := hex.EncodeToString(hasher.Sum(nil))
		if actual != expectedSHA256 {
			return ChecksumError{URL: url, Expected: expectedSHA256, Actual: actual}
		}
	}

	return os.Rename(tmp.Name(), destPath)
}
