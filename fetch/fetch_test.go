package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestDownloadVerifiesChecksum(t *testing.T) {
	payload := []byte("rsID\teffect_allele\tweight\nrs1\tA\t0.5\n")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "scores", "PGS000001.txt")
	client := NewClient()

	require.NoError(t, client.Download(context.Background(), server.URL, dest, sha256Hex(payload)))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDownloadRetriesCorruptedTransfer(t *testing.T) {
	attempts := 0
	payload := []byte("the real scoring file")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			// A truncated body hashes wrong but arrives with status 200.
			w.Write(payload[:5])
			return
		}
		w.Write(payload)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, NewClient().Download(context.Background(), server.URL, dest, sha256Hex(payload)))
	assert.Equal(t, 2, attempts)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDownloadPersistentChecksumMismatch(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.Write([]byte("not the expected bytes"))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "out.txt")
	err := NewClient().Download(context.Background(), server.URL, dest, sha256Hex([]byte("expected bytes")))

	var checksumErr ChecksumError
	require.ErrorAs(t, err, &checksumErr)
	assert.Equal(t, MaxAttempts, attempts)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "failed download must not leave a file behind")
}

func TestDownloadRetriesServerErrors(t *testing.T) {
	attempts := 0
	payload := []byte("eventually available")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(payload)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, NewClient().Download(context.Background(), server.URL, dest, ""))
	assert.Equal(t, 3, attempts)
}

func TestDownloadGivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "out.txt")
	err := NewClient().Download(context.Background(), server.URL, dest, "")

	var downloadErr DownloadError
	require.ErrorAs(t, err, &downloadErr)
	assert.Equal(t, MaxAttempts, attempts)
}

func TestDownloadDoesNotRetryNotFound(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "out.txt")
	err := NewClient().Download(context.Background(), server.URL, dest, "")

	var downloadErr DownloadError
	require.ErrorAs(t, err, &downloadErr)
	assert.Equal(t, 1, attempts)
}

func TestDownloadHonorsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dest := filepath.Join(t.TempDir(), "out.txt")
	err := NewClient().Download(ctx, server.URL, dest, "")
	assert.True(t, errors.Is(err, context.Canceled) || err != nil)
}
