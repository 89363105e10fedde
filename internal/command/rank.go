package command

import (
	"sort"
	"sync"
	"time"
)

// emaAlpha weights the most recent ack latency sample against the
// running average. 0.3 favors recent behavior without letting a single
// slow ack dominate the ranking.
const emaAlpha = 0.3

type bridgeStat struct {
	emaLatency float64 // seconds
	failures   int
	samples    int
}

// Ranker tracks each bridge's recent ack latency and ranks the pool for
// command dispatch. Bridges that have never been observed rank first
// (round-robin among themselves) so a freshly (re)connected bridge
// gets exercised instead of starved by one with a long history.
type Ranker struct {
	mu    sync.Mutex
	stats map[int]*bridgeStat
	order []int // first-seen order of observed bridges
	next  int   // rotation offset for the round-robin tiebreak, advanced per Rank call
}

// NewRanker builds an empty Ranker.
func NewRanker() *Ranker {
	return &Ranker{stats: make(map[int]*bridgeStat)}
}

// Observe records one command's outcome against bridgeID.
func (r *Ranker) Observe(bridgeID int, latency time.Duration, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, exists := r.stats[bridgeID]
	if !exists {
		s = &bridgeStat{}
		r.stats[bridgeID] = s
		r.order = append(r.order, bridgeID)
	}
	if !ok {
		s.failures++
		return
	}
	sample := latency.Seconds()
	if s.samples == 0 {
		s.emaLatency = sample
	} else {
		s.emaLatency = emaAlpha*sample + (1-emaAlpha)*s.emaLatency
	}
	s.samples++
}

// Rank orders candidates best-first: devices with fewer recent
// failures and lower EMA latency sort earlier; unseen bridges are
// inserted in round-robin position among themselves so the pool gets
// spread across rather than always favoring whichever connected first.
func (r *Ranker) Rank(candidates []int) []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Rotate the starting point on every call so tied bridges (unseen,
	// or with equal stats) take turns at the front.
	out := make([]int, 0, len(candidates))
	if len(candidates) > 0 {
		k := r.next % len(candidates)
		out = append(out, candidates[k:]...)
		out = append(out, candidates[:k]...)
		r.next++
	}

	seen := make(map[int]*bridgeStat, len(out))
	for _, id := range out {
		if s, ok := r.stats[id]; ok {
			seen[id] = s
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		si, iOK := seen[out[i]]
		sj, jOK := seen[out[j]]
		if !iOK && !jOK {
			return false // preserve the rotated round-robin order
		}
		if !iOK {
			return true // unseen bridges try before known-slow ones
		}
		if !jOK {
			return false
		}
		if si.failures != sj.failures {
			return si.failures < sj.failures
		}
		return si.emaLatency < sj.emaLatency
	})
	return out
}

// Take returns up to n bridges from the ranked candidate list.
func (r *Ranker) Take(candidates []int, n int) []int {
	ranked := r.Rank(candidates)
	if n >= len(ranked) {
		return ranked
	}
	return ranked[:n]
}
