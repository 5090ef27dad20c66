package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Content hashes fingerprint a sample's identity fields only. Metadata,
// device strings, and source versions stay out of the hash so re-delivery
// of the same logical sample always lands on the same hash.

// RecordHash computes the content hash for a record from
// (stream, source, start, end, value-or-text).
func RecordHash(stream Stream, sourceName string, start, end time.Time, valueNumeric *float64, valueText string) string {
	value := valueText
	if valueNumeric != nil {
		value = strconv.FormatFloat(*valueNumeric, 'f', -1, 64)
	}
	return hashFields(string(stream), sourceName, canonicalTime(start), canonicalTime(end), value)
}

// WorkoutHash computes the content hash for a workout from
// (activity type, source, start, end, duration).
func WorkoutHash(activityType, sourceName string, start, end time.Time, durationSeconds float64) string {
	return hashFields(activityType, sourceName, canonicalTime(start), canonicalTime(end),
		strconv.FormatFloat(durationSeconds, 'f', -1, 64))
}

func canonicalTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func hashFields(fields ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(fields, "\x1f")))
	return hex.EncodeToString(sum[:])
}
