package extraction

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// MergePolicy decides the confidence of a merged group
type MergePolicy string

const (
	MergeMax     MergePolicy = "max"
	MergeAverage MergePolicy = "average"
)

// Item is a deduplicated action item
type Item struct {
	ID         string
	Task       string
	Owner      string
	DueRaw     string
	DueAt      *time.Time
	Confidence float64
	Quote      string
	Context    string
	Windows    []int
}

// MergeConfig controls grouping and scoring of merged items
type MergeConfig struct {
	Threshold float64
	Policy    MergePolicy
}

// Merge groups candidates that describe the same task and collapses each
// group to one Item. Candidates are visited in a fixed order (confidence
// desc, window asc, position asc) and each joins the first group whose
// representative, its highest-confidence member, is at least Threshold
// similar. The result depends only on the candidates and the similarity
// measure.
func Merge(ctx context.Context, candidates []Candidate, sim Similarity, cfg MergeConfig, sessionDate time.Time) []Item {
	ordered := make([]Candidate, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.Window != b.Window {
			return a.Window < b.Window
		}
		return a.Position < b.Position
	})

	var groups [][]Candidate
	for _, c := range ordered {
		placed := false
		for g := range groups {
			if sim.Similarity(ctx, groups[g][0].Task, c.Task) >= cfg.Threshold {
				groups[g] = append(groups[g], c)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, []Candidate{c})
		}
	}

	items := make([]Item, 0, len(groups))
	for _, group := range groups {
		items = append(items, collapse(group, cfg.Policy, sessionDate))
	}
	return items
}

// collapse merges a group ordered best-first.
func collapse(group []Candidate, policy MergePolicy, sessionDate time.Time) Item {
	best := group[0]
	item := Item{
		Task:       best.Task,
		Confidence: best.Confidence,
		Quote:      best.Quote,
		Context:    best.Context,
	}

	if policy == MergeAverage {
		var sum float64
		for _, c := range group {
			sum += c.Confidence
		}
		item.Confidence = sum / float64(len(group))
	}

	seen := make(map[int]bool)
	for _, c := range group {
		if item.Owner == "" && c.Owner != "" {
			item.Owner = c.Owner
		}
		if item.DueRaw == "" && c.DueRaw != "" {
			item.DueRaw = c.DueRaw
		}
		if !seen[c.Window] {
			seen[c.Window] = true
			item.Windows = append(item.Windows, c.Window)
		}
	}
	sort.Ints(item.Windows)
	if item.DueRaw != "" {
		item.DueAt = NormalizeDue(item.DueRaw, sessionDate)
	}
	return item
}

// Finalize drops items below minConfidence, orders the rest by confidence
// desc then task, and numbers them "<session>-01", "<session>-02", ...
func Finalize(sessionID string, items []Item, minConfidence float64) (kept []Item, dropped int) {
	for _, it := range items {
		if it.Confidence < minConfidence {
			dropped++
			continue
		}
		kept = append(kept, it)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Confidence != kept[j].Confidence {
			return kept[i].Confidence > kept[j].Confidence
		}
		return kept[i].Task < kept[j].Task
	})
	for i := range kept {
		kept[i].ID = fmt.Sprintf("%s-%02d", sessionID, i+1)
	}
	return kept, dropped
}
