package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensubs-io/subsync/errors"
)

func newTestCatalog(server *httptest.Server) *OpenSubtitles {
	return &OpenSubtitles{
		baseURL:    server.URL,
		userAgent:  "subsync-test/1.0",
		httpClient: server.Client(),
	}
}

func TestSearchByHash_ReturnsResultsOnSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"IDSubtitleFile": "1", "SubLanguageID": "fr", "SubDownloadLink": "http://x/1.srt", "Score": 9.5},
		})
	}))
	defer server.Close()

	c := newTestCatalog(server)
	results, err := c.SearchByHash(context.Background(), "deadbeef", 1024, "fr")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "fr", results[0].Language)
	assert.Equal(t, "http://x/1.srt", results[0].DownloadURL)
}

func TestSearchByMetadata_PrefersIMDBIDOverTitle(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"IDSubtitleFile": "1", "SubLanguageID": "en", "SubDownloadLink": "http://x/1.srt"},
		})
	}))
	defer server.Close()

	c := newTestCatalog(server)
	_, err := c.SearchByMetadata(context.Background(), "tt123", "Some Title", "en")
	require.NoError(t, err)
	assert.Contains(t, gotPath, "imdbid-tt123")
	assert.NotContains(t, gotPath, "query-")
}

func TestSearchByMetadata_FallsBackToTitleQuery(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"IDSubtitleFile": "1", "SubLanguageID": "en", "SubDownloadLink": "http://x/1.srt"},
		})
	}))
	defer server.Close()

	c := newTestCatalog(server)
	_, err := c.SearchByMetadata(context.Background(), "", "Some Title", "en")
	require.NoError(t, err)
	assert.Contains(t, gotPath, "query-Some")
}

func TestSearch_NotFoundStatusReturnsCatalogNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := newTestCatalog(server)
	_, err := c.SearchByHash(context.Background(), "abc", 10, "en")
	assert.True(t, errors.IsCatalogNotFound(err))
}

func TestSearch_EmptyResultsReturnsCatalogNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{})
	}))
	defer server.Close()

	c := newTestCatalog(server)
	_, err := c.SearchByHash(context.Background(), "abc", 10, "en")
	assert.True(t, errors.IsCatalogNotFound(err))
}

func TestSearch_RateLimitStatusReturnsCatalogRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := newTestCatalog(server)
	_, err := c.SearchByHash(context.Background(), "abc", 10, "en")
	assert.True(t, errors.IsCatalogRateLimit(err))
}

func TestSearch_ServerErrorReturnsTransientInfraError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := newTestCatalog(server)
	_, err := c.SearchByHash(context.Background(), "abc", 10, "en")
	assert.True(t, errors.IsTransientInfraError(err))
}

func TestDownload_ReturnsBodyOnSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("1\n00:00:01,000 --> 00:00:02,000\nHello\n"))
	}))
	defer server.Close()

	c := newTestCatalog(server)
	body, err := c.Download(context.Background(), Result{DownloadURL: server.URL + "/1.srt"})
	require.NoError(t, err)
	assert.Contains(t, string(body), "Hello")
}

func TestExponentialBackoff_GrowsByConfiguredBase(t *testing.T) {
	backoff := exponentialBackoff(3)

	wait0 := backoff(time.Second, time.Minute, 0, nil)
	wait1 := backoff(time.Second, time.Minute, 1, nil)
	wait2 := backoff(time.Second, time.Minute, 2, nil)

	assert.Equal(t, time.Second, wait0)
	assert.Equal(t, 3*time.Second, wait1)
	assert.Equal(t, 9*time.Second, wait2)
}

func TestExponentialBackoff_CapsAtMax(t *testing.T) {
	backoff := exponentialBackoff(2)
	wait := backoff(time.Second, 5*time.Second, 10, nil)
	assert.Equal(t, 5*time.Second, wait)
}

func TestExponentialBackoff_HonorsRetryAfterHeader(t *testing.T) {
	backoff := exponentialBackoff(2)
	resp := &http.Response{Header: http.Header{"Retry-After": []string{"7"}}}
	wait := backoff(time.Second, time.Minute, 0, resp)
	assert.Equal(t, 7*time.Second, wait)
}

func TestDownload_NonOKStatusReturnsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	c := newTestCatalog(server)
	_, err := c.Download(context.Background(), Result{DownloadURL: server.URL + "/1.srt"})
	require.Error(t, err)
}
