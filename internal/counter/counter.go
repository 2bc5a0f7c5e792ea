// Package counter issues human-readable order numbers from per-bucket sequences.
package counter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ariefcatur/shop-backoffice/internal/postgres"
)

var (
	// ErrInvalidBucket is returned for an empty bucket key.
	ErrInvalidBucket = errors.New("counter: invalid bucket key")
)

const (
	bucketLayout = "200601021504"
	defaultPad   = 4
)

// AtomicCounter increments the bucket's counter and returns the new value. Implementations
// must do the read-modify-write in one storage round trip.
type AtomicCounter interface {
	IncrementAndGet(ctx context.Context, q postgres.Querier, bucketKey string) (int64, error)
}

// PostgresCounter is backed by the order_counters table: insert-with-default or increment,
// returning the new value from the same statement.
type PostgresCounter struct{}

func (PostgresCounter) IncrementAndGet(ctx context.Context, q postgres.Querier, bucketKey string) (int64, error) {
	var v int64
	err := q.QueryRow(ctx, `
		INSERT INTO order_counters(date_key, last_value) VALUES ($1, 1)
		ON CONFLICT (date_key) DO UPDATE SET last_value = order_counters.last_value + 1
		RETURNING last_value`, bucketKey).Scan(&v)
	if err != nil {
		return 0, err
	}
	return v, nil
}

// MemoryCounter is a process-local AtomicCounter for tests and single-node tooling.
type MemoryCounter struct {
	mu     sync.Mutex
	values map[string]int64
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{values: make(map[string]int64)}
}

func (m *MemoryCounter) IncrementAndGet(_ context.Context, _ postgres.Querier, bucketKey string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[bucketKey]++
	return m.values[bucketKey], nil
}

type AllocatorDeps struct {
	Counter AtomicCounter
	Clock   func() time.Time
	// PadLength is the minimum width of the sequence part. Defaults to 4.
	PadLength int
}

type Allocator struct {
	counter AtomicCounter
	clock   func() time.Time
	pad     int
}

func NewAllocator(deps AllocatorDeps) (*Allocator, error) {
	if deps.Counter == nil {
		return nil, errors.New("counter allocator: counter is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	pad := deps.PadLength
	if pad <= 0 {
		pad = defaultPad
	}
	return &Allocator{counter: deps.Counter, clock: clock, pad: pad}, nil
}

// BucketKey returns the minute bucket (UTC) for t, e.g. 202610161504.
func BucketKey(t time.Time) string {
	return t.UTC().Format(bucketLayout)
}

// NextOrderNumber returns bucketKey followed by the zero-padded sequence value. q must be the
// transaction that also inserts the order row. There is no fallback numbering: any counter
// failure is returned.
func (a *Allocator) NextOrderNumber(ctx context.Context, q postgres.Querier, bucketKey string) (string, error) {
	bucketKey = strings.TrimSpace(bucketKey)
	if bucketKey == "" {
		return "", ErrInvalidBucket
	}
	v, err := a.counter.IncrementAndGet(ctx, q, bucketKey)
	if err != nil {
		return "", fmt.Errorf("counter: increment %s: %w", bucketKey, err)
	}
	return fmt.Sprintf("%s%0*d", bucketKey, a.pad, v), nil
}

// Next allocates within the current clock bucket.
func (a *Allocator) Next(ctx context.Context, q postgres.Querier) (string, error) {
	return a.NextOrderNumber(ctx, q, BucketKey(a.clock()))
}
