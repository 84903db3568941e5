package stats

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/mcules/stepcache/internal/engine"
)

func status(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

// FormatModel renders one model's counters as text.
func FormatModel(s engine.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cache statistics for %s:\n", s.ModelID)
	fmt.Fprintf(&b, "  Strategy: %s (skip interval %d, warmup %d, effective interval %d)\n",
		s.Strategy, s.SkipInterval, s.WarmupSteps, s.EffectiveInterval)
	fmt.Fprintf(&b, "  Status: %s\n", status(s.Enabled))
	fmt.Fprintf(&b, "  Calls: %s\n", humanize.Comma(s.Calls))
	fmt.Fprintf(&b, "  Cache hits: %s\n", humanize.Comma(s.Hits))
	fmt.Fprintf(&b, "  Hit rate: %.1f%%\n", HitRate(s))
	fmt.Fprintf(&b, "  Average compute time: %.3fs\n", AverageComputeTime(s).Seconds())
	fmt.Fprintf(&b, "  Expected speedup: %.2fx\n", ExpectedSpeedup(s))
	if !s.LastUsedAt.IsZero() {
		fmt.Fprintf(&b, "  Last used: %s\n", humanize.Time(s.LastUsedAt))
	}
	return b.String()
}

// FormatGlobal renders the aggregate block followed by every model block.
// snaps should be the snapshots g was built from.
func FormatGlobal(g Global, snaps []engine.Snapshot) string {
	var b strings.Builder
	b.WriteString("Cache statistics (all models):\n")
	fmt.Fprintf(&b, "  Total calls: %s\n", humanize.Comma(g.TotalCalls))
	fmt.Fprintf(&b, "  Total cache hits: %s\n", humanize.Comma(g.TotalCacheHits))
	fmt.Fprintf(&b, "  Global hit rate: %.1f%%\n", g.GlobalHitRate)
	fmt.Fprintf(&b, "  Average compute time: %.3fs\n", g.AverageComputeTime)
	fmt.Fprintf(&b, "  Expected speedup: %.2fx\n", g.ExpectedSpeedup)
	fmt.Fprintf(&b, "  Active models: %d\n", g.ActiveModels)

	if len(snaps) == 0 {
		b.WriteString("\nNo tracked models\n")
		return b.String()
	}

	sorted := append([]engine.Snapshot(nil), snaps...)
	SortByID(sorted)
	for _, s := range sorted {
		b.WriteString("\n")
		b.WriteString(FormatModel(s))
	}
	return b.String()
}
