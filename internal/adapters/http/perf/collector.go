// Package perf keeps a bounded in-memory record of request, query and remote
// call timings and aggregates it on demand.
package perf

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultRingSize is the default capacity of the ring buffer.
const DefaultRingSize = 10000

// EntryKind distinguishes what was timed.
type EntryKind uint8

const (
	KindRequest EntryKind = iota // local HTTP API request
	KindQuery                    // local store query
	KindRemote                   // call to the remote API
)

// Entry is a single timing record.
type Entry struct {
	Kind       EntryKind
	Path       string // "METHOD /path" or "store.Method"
	StatusCode int    // HTTP status; 0 for queries and transport failures
	DurationMs float64
	Timestamp  time.Time
}

// failed reports whether the entry describes an unsuccessful call.
func (e Entry) failed() bool {
	switch e.Kind {
	case KindRequest:
		return e.StatusCode >= 500
	case KindRemote:
		return e.StatusCode == 0 || e.StatusCode >= 400
	}
	return false
}

// Collector is a fixed-size ring buffer of entries. When full, the oldest
// entry is overwritten.
type Collector struct {
	mu      sync.Mutex
	entries []Entry
	size    int
	pos     int
	count   atomic.Int64
}

// NewCollector creates a collector holding at most size entries.
// PRE: none; size <= 0 uses DefaultRingSize
// POST: Returns a ready collector
func NewCollector(size int) *Collector {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &Collector{entries: make([]Entry, size), size: size}
}

// Record stores e.
// PRE: e.Timestamp is set
// POST: e is stored; the oldest entry is dropped if the buffer is full
func (c *Collector) Record(e Entry) {
	c.mu.Lock()
	c.entries[c.pos] = e
	c.pos = (c.pos + 1) % c.size
	c.mu.Unlock()
	c.count.Add(1)
}

// TotalRecorded returns how many entries were ever recorded.
func (c *Collector) TotalRecorded() int64 {
	return c.count.Load()
}

// Percentiles summarizes a latency distribution.
type Percentiles struct {
	Count int     `json:"count"`
	P50Ms float64 `json:"p50Ms"`
	P95Ms float64 `json:"p95Ms"`
	P99Ms float64 `json:"p99Ms"`
}

// PathStat aggregates timing for one path, store method or remote endpoint.
type PathStat struct {
	Path    string  `json:"path"`
	AvgMs   float64 `json:"avgMs"`
	MaxMs   float64 `json:"maxMs"`
	Count   int     `json:"count"`
	Errors  int     `json:"errors"`
	TotalMs float64 `json:"-"`
}

// Snapshot is the aggregated view served by the perf endpoint.
type Snapshot struct {
	TotalRecorded  int64       `json:"totalRecorded"`
	Requests       Percentiles `json:"requests"`
	Remote         Percentiles `json:"remote"`
	SlowestPaths   []PathStat  `json:"slowestPaths"`
	SlowestQueries []PathStat  `json:"slowestQueries"`
	SlowestRemote  []PathStat  `json:"slowestRemote"`
}

// Snapshot aggregates entries recorded at or after since.
// PRE: topN >= 0
// POST: each Slowest list is ordered by average duration, longest first
func (c *Collector) Snapshot(since time.Time, topN int) Snapshot {
	c.mu.Lock()
	buf := make([]Entry, c.size)
	copy(buf, c.entries)
	c.mu.Unlock()

	durations := map[EntryKind][]float64{}
	stats := map[EntryKind]map[string]*PathStat{
		KindRequest: {},
		KindQuery:   {},
		KindRemote:  {},
	}
	for _, e := range buf {
		if e.Timestamp.IsZero() || e.Timestamp.Before(since) {
			continue
		}
		byPath, ok := stats[e.Kind]
		if !ok {
			continue
		}
		durations[e.Kind] = append(durations[e.Kind], e.DurationMs)
		s, ok := byPath[e.Path]
		if !ok {
			s = &PathStat{Path: e.Path}
			byPath[e.Path] = s
		}
		s.Count++
		s.TotalMs += e.DurationMs
		s.MaxMs = math.Max(s.MaxMs, e.DurationMs)
		if e.failed() {
			s.Errors++
		}
	}

	return Snapshot{
		TotalRecorded:  c.TotalRecorded(),
		Requests:       summarize(durations[KindRequest]),
		Remote:         summarize(durations[KindRemote]),
		SlowestPaths:   topByAvg(stats[KindRequest], topN),
		SlowestQueries: topByAvg(stats[KindQuery], topN),
		SlowestRemote:  topByAvg(stats[KindRemote], topN),
	}
}

func summarize(durations []float64) Percentiles {
	if len(durations) == 0 {
		return Percentiles{}
	}
	sort.Float64s(durations)
	return Percentiles{
		Count: len(durations),
		P50Ms: percentile(durations, 50),
		P95Ms: percentile(durations, 95),
		P99Ms: percentile(durations, 99),
	}
}

// percentile interpolates the p-th percentile of a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (p / 100) * float64(len(sorted)-1)
	lower := int(math.Floor(idx))
	upper := int(math.Ceil(idx))
	if lower == upper || upper >= len(sorted) {
		return sorted[lower]
	}
	frac := idx - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}

func topByAvg(stats map[string]*PathStat, n int) []PathStat {
	list := make([]PathStat, 0, len(stats))
	for _, s := range stats {
		s.AvgMs = s.TotalMs / float64(s.Count)
		list = append(list, *s)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].AvgMs != list[j].AvgMs {
			return list[i].AvgMs > list[j].AvgMs
		}
		return list[i].Path < list[j].Path
	})
	if len(list) > n {
		list = list[:n]
	}
	return list
}
