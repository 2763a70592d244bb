// Package catalog abstracts the external subtitle catalog behind a small
// capability interface (§9: "Interface abstraction for pluggable
// catalogs"), selected by configuration the same way the teacher's
// transcode-provider clients pick a backend from a scheme-prefixed URL.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/opensubs-io/subsync/config"
	"github.com/opensubs-io/subsync/errors"
)

// Result is a single catalog hit.
type Result struct {
	ID           string
	Language     string
	DownloadURL  string
	Score        float64
}

// SubtitleCatalog is the pluggable capability the downloader worker
// depends on (§4.2, §9).
type SubtitleCatalog interface {
	SearchByHash(ctx context.Context, hash string, size int64, language string) ([]Result, error)
	SearchByMetadata(ctx context.Context, imdbID, title, language string) ([]Result, error)
	Download(ctx context.Context, result Result) ([]byte, error)
}

// NewFromConfig returns the catalog implementation for cfg. This system has
// exactly one catalog backend, so it always returns the OpenSubtitles
// client; no configuration field selects among backends.
func NewFromConfig(cfg *config.Config) (SubtitleCatalog, error) {
	return NewOpenSubtitles(cfg), nil
}

// OpenSubtitles implements SubtitleCatalog against the community subtitle
// repository's REST API.
type OpenSubtitles struct {
	baseURL    string
	user       string
	password   string
	userAgent  string
	httpClient *http.Client
}

func NewOpenSubtitles(cfg *config.Config) *OpenSubtitles {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.CatalogMaxRetries
	retryClient.RetryWaitMin = cfg.CatalogRetryDelay
	retryClient.RetryWaitMax = cfg.CatalogRetryMaxDelay
	retryClient.Backoff = exponentialBackoff(cfg.CatalogRetryExponentialBase)
	retryClient.HTTPClient = &http.Client{Timeout: config.DefaultCatalogTimeout}
	retryClient.Logger = nil

	return &OpenSubtitles{
		baseURL:    "https://rest.opensubtitles.org/search",
		user:       cfg.CatalogUser,
		password:   cfg.CatalogPassword,
		userAgent:  cfg.CatalogUserAgent,
		httpClient: retryClient.StandardClient(),
	}
}

func (o *OpenSubtitles) SearchByHash(ctx context.Context, hash string, size int64, language string) ([]Result, error) {
	path := fmt.Sprintf("%s/moviebytesize-%d/moviehash-%s/sublanguageid-%s", o.baseURL, size, hash, language)
	return o.search(ctx, path)
}

func (o *OpenSubtitles) SearchByMetadata(ctx context.Context, imdbID, title, language string) ([]Result, error) {
	var path string
	if imdbID != "" {
		path = fmt.Sprintf("%s/imdbid-%s/sublanguageid-%s", o.baseURL, imdbID, language)
	} else {
		path = fmt.Sprintf("%s/query-%s/sublanguageid-%s", o.baseURL, url.QueryEscape(title), language)
	}
	return o.search(ctx, path)
}

func (o *OpenSubtitles) search(ctx context.Context, path string) ([]Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("building catalog search request: %w", err)
	}
	req.Header.Set("User-Agent", o.userAgent)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewTransientInfraError("catalog search failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errors.NewCatalogRateLimit("catalog rate limit exceeded")
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.NewCatalogNotFound("no subtitle found")
	case resp.StatusCode >= 500:
		return nil, errors.NewTransientInfraError(fmt.Sprintf("catalog returned %d", resp.StatusCode), nil)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("catalog returned %d", resp.StatusCode)
	}

	var raw []struct {
		IDSubtitleFile  string  `json:"IDSubtitleFile"`
		SubLanguageID   string  `json:"SubLanguageID"`
		SubDownloadLink string  `json:"SubDownloadLink"`
		Score           float64 `json:"Score"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding catalog response: %w", err)
	}

	results := make([]Result, 0, len(raw))
	for _, r := range raw {
		results = append(results, Result{
			ID:          r.IDSubtitleFile,
			Language:    r.SubLanguageID,
			DownloadURL: r.SubDownloadLink,
			Score:       r.Score,
		})
	}
	if len(results) == 0 {
		return nil, errors.NewCatalogNotFound("no subtitle found")
	}
	return results, nil
}

func (o *OpenSubtitles) Download(ctx context.Context, result Result) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, result.DownloadURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building download request: %w", err)
	}
	req.Header.Set("User-Agent", o.userAgent)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewTransientInfraError("catalog download failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog download returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading downloaded subtitle: %w", err)
	}
	return body, nil
}

// exponentialBackoff builds a retryablehttp.Backoff that honors a
// Retry-After header when the catalog sends one (e.g. on a 429), and
// otherwise grows the wait by base^attemptNum, the shape
// CATALOG_RETRY_EXPONENTIAL_BASE configures (retryablehttp's own
// DefaultBackoff hardcodes base 2).
func exponentialBackoff(base float64) retryablehttp.Backoff {
	return func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		if resp != nil {
			if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
				if seconds, err := strconv.Atoi(retryAfter); err == nil {
					if wait := time.Duration(seconds) * time.Second; wait > 0 {
						return wait
					}
				}
			}
		}

		wait := float64(min) * math.Pow(base, float64(attemptNum))
		if wait > float64(max) {
			return max
		}
		return time.Duration(wait)
	}
}
