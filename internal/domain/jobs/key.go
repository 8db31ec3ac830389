package jobs

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TimeBucket is the temporal scope a job key covers. Two shapes exist:
// a single ISO week for per-week jobs and a date range for range-level
// jobs (weather, topography, backfill).
type TimeBucket interface {
	bucketLabel() string
}

// WeekBucket scopes a key to a single ISO-8601 (year, week) pair.
type WeekBucket struct {
	Year int
	Week int
}

func (b WeekBucket) bucketLabel() string { return fmt.Sprintf("%04d-W%02d", b.Year, b.Week) }

// RangeBucket scopes a key to an inclusive [From, To] date range.
// Only the calendar date participates in the key.
type RangeBucket struct {
	From time.Time
	To   time.Time
}

func (b RangeBucket) bucketLabel() string {
	return fmt.Sprintf("%s..%s", b.From.Format(time.DateOnly), b.To.Format(time.DateOnly))
}

// StaticBucket scopes a key to no time window at all, for work whose
// inputs do not change over time (terrain is static).
type StaticBucket struct{}

func (StaticBucket) bucketLabel() string { return "static" }

// Key produces the deterministic idempotency key for a unit of work.
// Identical inputs always hash to the same key, so re-planning a range
// re-arms the existing rows instead of inserting duplicates. AOI may be
// uuid.Nil for tenant-wide work. Input validation is the caller's job;
// this is a pure function.
func Key(tenantID, aoiID uuid.UUID, bucket TimeBucket, jobType JobType, pipelineVersion string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s", tenantID, aoiID, bucket.bucketLabel(), jobType, pipelineVersion)
	return hex.EncodeToString(h.Sum(nil))
}
