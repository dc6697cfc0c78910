package insight

import (
	"math"
	"sort"
)

// Score computes the content gap score of a record:
// popularity change × (CPA / CTR), rounded to two decimals.
func Score(r InsightRecord) float64 {
	change := Normalize(r.PopularityChange)
	cpa := NormalizeCost(r.CPA)
	ctr := NormalizeDenominator(r.CTR)
	return round2(change * (cpa / ctr))
}

// ScoreAll returns scored copies of records in their original order.
func ScoreAll(records []InsightRecord) []InsightRecord {
	out := make([]InsightRecord, len(records))
	for i, r := range records {
		r.ContentGapScore = Score(r)
		r.Scored = true
		out[i] = r
	}
	return out
}

// Rank returns a copy of records sorted by descending content gap score.
// Unscored records are scored first; equal scores keep extraction order.
func Rank(records []InsightRecord) []InsightRecord {
	out := make([]InsightRecord, len(records))
	copy(out, records)
	for i := range out {
		if !out[i].Scored {
			out[i].ContentGapScore = Score(out[i])
			out[i].Scored = true
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ContentGapScore > out[j].ContentGapScore
	})
	return out
}

// FilterGrowth keeps records whose popularity change reaches min.
// A non-positive min disables the filter.
func FilterGrowth(records []InsightRecord, min float64) []InsightRecord {
	if min <= 0 {
		return records
	}
	out := make([]InsightRecord, 0, len(records))
	for _, r := range records {
		if Normalize(r.PopularityChange) >= min {
			out = append(out, r)
		}
	}
	return out
}

// Top returns at most n leading records.
func Top[T any](records []T, n int) []T {
	if n <= 0 || len(records) <= n {
		return records
	}
	return records[:n]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
