package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensubs-io/subsync/store"
)

func TestFingerprint_NormalizesEquivalentURLs(t *testing.T) {
	a := Fingerprint("HTTP://Example.com/movie.mkv/", "en")
	b := Fingerprint("http://example.com/movie.mkv", "en")
	assert.Equal(t, a, b)
}

func TestFingerprint_DifferentLanguageDiffers(t *testing.T) {
	a := Fingerprint("http://example.com/movie.mkv", "en")
	b := Fingerprint("http://example.com/movie.mkv", "he")
	assert.NotEqual(t, a, b)
}

func TestFingerprint_NonURLPath(t *testing.T) {
	a := Fingerprint("/media/Movie.MKV/", "en")
	b := Fingerprint("/media/movie.mkv", "en")
	assert.Equal(t, a, b)
}

func TestReserve_AtMostOnceWithinTTL(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	fp := Fingerprint("/media/movie.mkv", "en")

	res, err := Reserve(ctx, s, fp, "job-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Reserved)

	res, err = Reserve(ctx, s, fp, "job-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Reserved)
	assert.Equal(t, "job-1", res.ExistingJobID)
}

func TestReleaseThenReserveSucceeds(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	fp := Fingerprint("/media/movie.mkv", "en")

	_, err := Reserve(ctx, s, fp, "job-1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, Release(ctx, s, fp))

	res, err := Reserve(ctx, s, fp, "job-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Reserved)
}
