// Package sanctions downloads, parses and filters the published sanctions list.
package sanctions

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/sanctions-engine/pkg/apperrors"
	"github.com/ekaya-inc/sanctions-engine/pkg/logging"
)

// DefaultMaxDocumentBytes caps the downloaded document when no limit is configured.
const DefaultMaxDocumentBytes int64 = 256 << 20

// maxErrorBodyBytes is how much of a non-2xx body is kept for the error message.
const maxErrorBodyBytes = 512

// ErrDocumentTooLarge is returned when the source exceeds the configured size cap.
var ErrDocumentTooLarge = errors.New("sanctions document exceeds size limit")

// FetcherConfig configures the source fetcher.
type FetcherConfig struct {
	Timeout time.Duration
	// InsecureSkipVerify disables TLS verification. Only for non-production
	// environments whose source sits behind a private CA.
	InsecureSkipVerify bool
	MaxBytes           int64
}

// Fetcher retrieves the raw sanctions publication. It does not retry;
// retry policy belongs to the sync orchestrator.
type Fetcher struct {
	httpClient *http.Client
	maxBytes   int64
	logger     *zap.Logger
}

// NewFetcher creates a Fetcher with a bounded timeout.
func NewFetcher(cfg FetcherConfig, logger *zap.Logger) *Fetcher {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via config, rejected in production
		logger.Warn("TLS verification disabled for sanctions source")
	}

	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxDocumentBytes
	}

	return &Fetcher{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		maxBytes: maxBytes,
		logger:   logger.Named("sanctions-fetcher"),
	}
}

// Fetch downloads the document at url.
// Returns *apperrors.NetworkError on timeout/connection failure and
// *apperrors.HTTPError on a non-2xx status.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	safeURL := logging.SanitizeURL(url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &apperrors.NetworkError{URL: safeURL, Cause: err}
	}
	req.Header.Set("Accept", "application/xml, text/xml")

	start := time.Now()
	f.logger.Info("Fetching sanctions document", zap.String("url", safeURL))

	resp, err := f.httpClient.Do(req)
	if err != nil {
		f.logger.Error("Sanctions fetch failed",
			zap.String("url", safeURL),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("error", logging.SanitizeError(err)))
		return nil, &apperrors.NetworkError{URL: safeURL, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		f.logger.Error("Sanctions source returned error",
			zap.String("url", safeURL),
			zap.Int("status", resp.StatusCode))
		return nil, &apperrors.HTTPError{URL: safeURL, StatusCode: resp.StatusCode, Body: string(body)}
	}

	// Read one byte past the cap so an oversized document is detectable.
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, &apperrors.NetworkError{URL: safeURL, Cause: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrDocumentTooLarge, f.maxBytes)
	}

	f.logger.Info("Fetched sanctions document",
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)))

	return body, nil
}
