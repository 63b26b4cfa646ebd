package domain

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewBatchID mints a caller-opaque, collision-free batch id. ULIDs are
// lexicographically ordered by mint time, which keeps batch listings in
// upload order for free.
func NewBatchID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now.UTC()), rand.Reader).String()
}

// ValidBatchID reports whether the supplied id parses as a ULID.
func ValidBatchID(id string) bool {
	_, err := ulid.ParseStrict(id)
	return err == nil
}
