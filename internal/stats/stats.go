// Package stats derives hit rates, timing and speedup figures from cache
// state snapshots. Everything here is a pure function of its input.
package stats

import (
	"sort"
	"time"

	"github.com/mcules/stepcache/internal/engine"
)

// HitRate is the percentage of calls served from cache, 0 without calls.
func HitRate(s engine.Snapshot) float64 {
	return percent(s.Hits, s.Calls)
}

// AverageComputeTime is the mean cost of the real computations only.
func AverageComputeTime(s engine.Snapshot) time.Duration {
	return s.TotalComputeTime / time.Duration(realCalls(s.Calls, s.Hits))
}

// ExpectedSpeedup is calls per real computation. It assumes a reuse costs
// nothing.
func ExpectedSpeedup(s engine.Snapshot) float64 {
	return float64(s.Calls) / float64(realCalls(s.Calls, s.Hits))
}

func percent(hits, calls int64) float64 {
	if calls <= 0 {
		return 0
	}
	return 100 * float64(hits) / float64(calls)
}

func realCalls(calls, hits int64) int64 {
	return max(1, calls-hits)
}

// ModelDetail is the per-model entry of Global.
type ModelDetail struct {
	Calls             int64     `json:"calls"`
	Hits              int64     `json:"hits"`
	HitRate           float64   `json:"hit_rate"`
	AvgTime           float64   `json:"avg_time"`
	Strategy          string    `json:"strategy"`
	Enabled           bool      `json:"enabled"`
	ExpectedSpeedup   float64   `json:"expected_speedup"`
	EffectiveInterval int       `json:"effective_interval"`
	Step              int       `json:"step"`
	ComputeEWMAms     float64   `json:"compute_ewma_ms"`
	LastUsedAt        time.Time `json:"last_used_at"`
}

// Global is the aggregate over every tracked model. Times are in seconds.
type Global struct {
	TotalCalls         int64                  `json:"total_calls"`
	TotalCacheHits     int64                  `json:"total_cache_hits"`
	GlobalHitRate      float64                `json:"global_hit_rate"`
	AverageComputeTime float64                `json:"average_compute_time"`
	ExpectedSpeedup    float64                `json:"expected_speedup"`
	ActiveModels       int                    `json:"active_models"`
	ModelDetails       map[string]ModelDetail `json:"model_details"`
}

func Detail(s engine.Snapshot) ModelDetail {
	return ModelDetail{
		Calls:             s.Calls,
		Hits:              s.Hits,
		HitRate:           HitRate(s),
		AvgTime:           AverageComputeTime(s).Seconds(),
		Strategy:          s.Strategy.String(),
		Enabled:           s.Enabled,
		ExpectedSpeedup:   ExpectedSpeedup(s),
		EffectiveInterval: s.EffectiveInterval,
		Step:              s.Step,
		ComputeEWMAms:     float64(s.ComputeEWMA) / float64(time.Millisecond),
		LastUsedAt:        s.LastUsedAt,
	}
}

// Aggregate pools the counters of every snapshot.
func Aggregate(snaps []engine.Snapshot) Global {
	g := Global{ModelDetails: make(map[string]ModelDetail, len(snaps))}

	var total time.Duration
	for _, s := range snaps {
		g.TotalCalls += s.Calls
		g.TotalCacheHits += s.Hits
		total += s.TotalComputeTime
		if s.Enabled {
			g.ActiveModels++
		}
		g.ModelDetails[s.ModelID] = Detail(s)
	}

	computed := realCalls(g.TotalCalls, g.TotalCacheHits)
	g.GlobalHitRate = percent(g.TotalCacheHits, g.TotalCalls)
	g.AverageComputeTime = (total / time.Duration(computed)).Seconds()
	g.ExpectedSpeedup = float64(g.TotalCalls) / float64(computed)
	return g
}

// SortByID orders snapshots by model id, in place.
func SortByID(snaps []engine.Snapshot) {
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ModelID < snaps[j].ModelID })
}
