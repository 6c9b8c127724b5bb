// Package trends derives per-topic monthly document counts from assignments.
package trends

import (
	"sort"

	"topicflow/internal/core"
)

// Observation is one assigned document's contribution to a trend.
type Observation struct {
	TopicID int
	Year    int
	Month   int
}

// Aggregate counts observations per (topic, year, month) for the given topics.
// Every row for those topics is returned, so callers replace rather than add.
// Outliers and documents without a publication year are not counted; unknown
// months count as January.
func Aggregate(obs []Observation, topics []int) []core.Trend {
	wanted := make(map[int]struct{}, len(topics))
	for _, id := range topics {
		if id != core.OutlierTopicID {
			wanted[id] = struct{}{}
		}
	}

	type key struct{ topic, year, month int }
	counts := make(map[key]int)
	for _, o := range obs {
		if _, ok := wanted[o.TopicID]; !ok || o.Year <= 0 {
			continue
		}
		month := core.Document{Month: o.Month}.PublicationMonth()
		counts[key{o.TopicID, o.Year, month}]++
	}

	out := make([]core.Trend, 0, len(counts))
	for k, n := range counts {
		out = append(out, core.Trend{TopicID: k.topic, Year: k.year, Month: k.month, Count: n})
	}
	Sort(out)
	return out
}

// Sort orders trends by topic, then chronologically.
func Sort(trends []core.Trend) {
	sort.Slice(trends, func(i, j int) bool {
		a, b := trends[i], trends[j]
		if a.TopicID != b.TopicID {
			return a.TopicID < b.TopicID
		}
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		return a.Month < b.Month
	})
}

// Point is one month of a topic's series with the change from the previous
// recorded month.
type Point struct {
	Year          int     `json:"year"`
	Month         int     `json:"month"`
	Count         int     `json:"doc_count"`
	Change        int     `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	IsEmerging    bool    `json:"is_emerging"` // At least doubled month over month
}

// Series turns the trend rows of one topic into a chronological series.
func Series(rows []core.Trend) []Point {
	sorted := append([]core.Trend(nil), rows...)
	Sort(sorted)

	points := make([]Point, 0, len(sorted))
	for i, r := range sorted {
		p := Point{Year: r.Year, Month: r.Month, Count: r.Count}
		if i > 0 {
			prev := sorted[i-1].Count
			p.Change = r.Count - prev
			if prev > 0 {
				p.ChangePercent = float64(p.Change) / float64(prev) * 100
				p.IsEmerging = r.Count >= 2*prev && r.Count >= 2
			}
		}
		points = append(points, p)
	}
	return points
}
