// Package dedup implements the fingerprint/reserve/release/refresh
// contract from spec §4.6, a shared utility used by the orchestrator and
// optionally the scanner.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/opensubs-io/subsync/store"
)

// Fingerprint normalizes video_url (lowercase scheme/host, strip trailing
// slash, collapse %xx escapes) and concatenates it with language before
// hashing, so equivalent-looking URLs collide on purpose.
func Fingerprint(videoURL, language string) string {
	normalized := normalizeURL(videoURL)
	sum := sha256.Sum256([]byte(normalized + "|" + language))
	return hex.EncodeToString(sum[:])
}

func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		// not URL-shaped or without a scheme (e.g. a bare local path) —
		// lowercase and trim as the next best thing to normalization.
		return strings.TrimSuffix(strings.ToLower(raw), "/")
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimSuffix(u.Path, "/")

	// collapse %xx escapes back to their literal characters where safe.
	if decodedPath, err := url.PathUnescape(u.Path); err == nil {
		u.Path = decodedPath
	}

	return u.String()
}

// Reservation is the outcome of Reserve.
type Reservation struct {
	Reserved      bool
	ExistingJobID string
}

// Reserve atomically claims fingerprint for jobID. On collision it returns
// the job_id already holding the reservation instead of erroring.
func Reserve(ctx context.Context, s store.Store, fingerprint, jobID string, ttl time.Duration) (Reservation, error) {
	reserved, existing, err := s.ReserveDedup(ctx, fingerprint, jobID, ttl)
	if err != nil {
		return Reservation{}, fmt.Errorf("reserving fingerprint %s: %w", fingerprint, err)
	}
	return Reservation{Reserved: reserved, ExistingJobID: existing}, nil
}

// Release deletes the reservation. Called only on terminal failure during
// submission, per spec §4.6 — a successful job's dedup key is left to
// expire naturally so recently-completed requests still short-circuit.
func Release(ctx context.Context, s store.Store, fingerprint string) error {
	return s.ReleaseDedup(ctx, fingerprint)
}

// Refresh extends the TTL, called on progress so a long-running job's
// dedup window doesn't expire out from under it mid-flight.
func Refresh(ctx context.Context, s store.Store, fingerprint string, ttl time.Duration) error {
	return s.RefreshDedup(ctx, fingerprint, ttl)
}
