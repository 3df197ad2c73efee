// Package id generates the ULIDs the backend hands out.
//
// Request and span IDs carry a short prefix so they can be told apart in
// logs. Staging names are bare ULIDs so hidden temp entries created in the
// same directory sort by creation time.
package id

import (
	"crypto/rand"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// RequestID identifies an API request and the trace it starts
type RequestID string

// SpanID identifies one traced operation within a request
type SpanID string

func (id RequestID) String() string { return string(id) }
func (id SpanID) String() string    { return string(id) }

const (
	RequestPrefix = "req"
	SpanPrefix    = "span"
)

// Generator hands out ULIDs that increase strictly within one millisecond
type Generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator(rand.Reader)
	})
	return defaultGenerator
}

// NewGenerator creates a generator reading randomness from entropy
func NewGenerator(entropy io.Reader) *Generator {
	return &Generator{
		entropy: ulid.Monotonic(entropy, 0),
		now:     time.Now,
	}
}

// Next returns a new ULID
func (g *Generator) Next() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(g.now()), g.entropy)
}

// String returns a new ULID in its canonical text form
func (g *Generator) String() string {
	return g.Next().String()
}

// Prefixed returns prefix_ULID
func (g *Generator) Prefixed(prefix string) string {
	return prefix + "_" + g.String()
}

// NewRequestID generates a new request ID
func NewRequestID() RequestID {
	return RequestID(Default().Prefixed(RequestPrefix))
}

// NewSpanID generates a new span ID
func NewSpanID() SpanID {
	return SpanID(Default().Prefixed(SpanPrefix))
}

// StagingName returns a unique name for a hidden temp entry
func StagingName(prefix, purpose string) string {
	return prefix + purpose + "-" + Default().String()
}

// Time reports when a bare or prefixed ID was generated
func Time(s string) (time.Time, error) {
	if i := strings.LastIndexByte(s, '_'); i >= 0 {
		s = s[i+1:]
	}
	parsed, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
