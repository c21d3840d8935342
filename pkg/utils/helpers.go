package utils

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
)

const (
	DefaultSemaphoreLimit = 20
)

// GetSemaphoreLimit returns the semaphore limit from environment variable or default
func GetSemaphoreLimit() int {
	val := os.Getenv("SEMAPHORE_LIMIT")
	if val == "" {
		return DefaultSemaphoreLimit
	}
	limit, err := strconv.Atoi(val)
	if err != nil || limit <= 0 {
		return DefaultSemaphoreLimit
	}
	return limit
}

// GenerateUUID returns a time-ordered (v7) UUID string.
func GenerateUUID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NormalizeName lower-cases a name, strips punctuation and collapses whitespace.
func NormalizeName(name string) string {
	return strings.Join(Tokenize(name), " ")
}

// Tokenize splits text into lower-case alphanumeric tokens.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// TokenSimilarity is the Jaccard similarity of the token sets of a and b.
func TokenSimilarity(a, b string) float64 {
	ta, tb := Tokenize(a), Tokenize(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 1
	}
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(ta))
	for _, t := range ta {
		set[t] = struct{}{}
	}
	inter := 0
	union := len(set)
	seen := make(map[string]struct{}, len(tb))
	for _, t := range tb {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := set[t]; ok {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}

// IsAcronymOf reports whether short is the initialism of long, e.g. "IBM" for
// "International Business Machines". short must be at least two letters.
func IsAcronymOf(short, long string) bool {
	short = strings.TrimSpace(short)
	words := Tokenize(long)
	if len(short) < 2 || len(words) < 2 || len(words) != len(short) {
		return false
	}
	for i, r := range strings.ToLower(short) {
		if []rune(words[i])[0] != r {
			return false
		}
	}
	return true
}

// MonotonicClock hands out per-key timestamps that never go backwards, even if
// the wall clock does.
type MonotonicClock struct {
	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

// NewMonotonicClock creates a clock. A nil now uses time.Now in UTC.
func NewMonotonicClock(now func() time.Time) *MonotonicClock {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MonotonicClock{last: make(map[string]time.Time), now: now}
}

// Now returns max(wall clock, previous value for key).
func (c *MonotonicClock) Now(key string) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now()
	if prev, ok := c.last[key]; ok && t.Before(prev) {
		t = prev
	}
	c.last[key] = t
	return t
}
