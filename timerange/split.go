package timerange

import (
	"fmt"
	"sync"
	"time"
)

// Split cuts r into contiguous sub-ranges no longer than maxSpan. The end of one
// sub-range is reused as the start of the next, only the last one may be shorter.
func Split(r TimeRange, maxSpan time.Duration) ([]TimeRange, error) {
	if maxSpan <= 0 {
		return nil, fmt.Errorf("max span must be positive, got %s", maxSpan)
	}
	if r.To.Before(r.From) {
		return nil, fmt.Errorf("cannot split %s: from is after to", r)
	}
	if r.Duration() <= maxSpan {
		return []TimeRange{r}, nil
	}

	n := int((r.Duration() + maxSpan - 1) / maxSpan)
	ranges := make([]TimeRange, 0, n)
	cursor := r.From
	for cursor.Before(r.To) {
		next := cursor.Add(maxSpan)
		if next.After(r.To) {
			next = r.To
		}
		ranges = append(ranges, TimeRange{From: cursor, To: next})
		cursor = next
	}
	return ranges, nil
}

// DefaultMaxSpan is the span a client starts with.
const DefaultMaxSpan = 365 * 24 * time.Hour

// SplitPolicy holds the maximum span a single upstream call may cover.
type SplitPolicy struct {
	mu      sync.RWMutex
	maxSpan time.Duration
}

func NewSplitPolicy(maxSpan time.Duration) *SplitPolicy {
	return &SplitPolicy{maxSpan: maxSpan}
}

func (p *SplitPolicy) MaxSpan() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.maxSpan
}

func (p *SplitPolicy) SetMaxSpan(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("max span must be positive, got %s", d)
	}
	p.mu.Lock()
	p.maxSpan = d
	p.mu.Unlock()
	return nil
}
