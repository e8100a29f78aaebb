package report

import (
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	cache_pkg "github.com/patrickmn/go-cache"

	"github.com/kumarabd/detection-plane/pkg/logtypes"
)

// Event is one emitted pipeline outcome: a report or a dispatch
// failure, never both.
type Event struct {
	Type    string                    `json:"type"`
	Report  *logtypes.Report          `json:"report,omitempty"`
	Failure *logtypes.DispatchFailure `json:"failure,omitempty"`
}

// Event types on the store/stream surface.
const (
	EventReport         = "report"
	EventDispatchFailed = "dispatch_failed"
)

// Sequence returns the batch sequence the event belongs to.
func (e *Event) Sequence() uint64 {
	if e.Report != nil {
		return e.Report.BatchSequence
	}
	if e.Failure != nil {
		return e.Failure.BatchSequence
	}
	return 0
}

// Store keeps recent events in a TTL cache backing the query API.
// Entries age out on their own; counters survive expiry.
type Store struct {
	cache *cache_pkg.Cache

	reports  atomic.Uint64
	failures atomic.Uint64
	findings atomic.Uint64
}

// NewStore creates a store whose entries expire after ttl.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		cache: cache_pkg.New(ttl, ttl/2+time.Minute),
	}
}

// Put records one event.
func (s *Store) Put(event *Event) {
	s.cache.SetDefault(fmt.Sprintf("seq-%d", event.Sequence()), event)
	switch event.Type {
	case EventReport:
		s.reports.Add(1)
		s.findings.Add(uint64(len(event.Report.Findings)))
	case EventDispatchFailed:
		s.failures.Add(1)
	}
}

// Recent returns up to limit unexpired events, newest sequence first.
func (s *Store) Recent(limit int) []*Event {
	items := s.cache.Items()
	events := make([]*Event, 0, len(items))
	for _, item := range items {
		if event, ok := item.Object.(*Event); ok {
			events = append(events, event)
		}
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].Sequence() > events[j].Sequence()
	})
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events
}

// Stats is the store's counter snapshot.
type Stats struct {
	Reports  uint64 `json:"reports"`
	Failures uint64 `json:"failures"`
	Findings uint64 `json:"findings"`
	Cached   int    `json:"cached"`
}

// Stats reports totals since startup plus the live cache size.
func (s *Store) Stats() Stats {
	return Stats{
		Reports:  s.reports.Load(),
		Failures: s.failures.Load(),
		Findings: s.findings.Load(),
		Cached:   s.cache.ItemCount(),
	}
}
