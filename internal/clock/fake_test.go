package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeClockAdvanceAndSet(t *testing.T) {
	start := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	fake := NewFakeClock(start)

	assert.Equal(t, start, fake.Now())

	fake.Advance(90 * time.Minute)
	assert.Equal(t, start.Add(90*time.Minute), fake.Now())

	pinned := time.Date(2025, 1, 1, 0, 0, 0, 0, time.FixedZone("IST", 5*3600+1800))
	fake.Set(pinned)
	assert.Equal(t, pinned.UTC(), fake.Now())
	assert.Equal(t, time.UTC, fake.Now().Location())
}
