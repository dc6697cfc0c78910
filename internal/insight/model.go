package insight

import (
	"fmt"
	"strings"
)

// View identifies one dashboard page the pipeline knows how to read.
type View string

const (
	ViewKeywords View = "keywords"
	ViewHashtags View = "hashtags"
	ViewTracks   View = "tracks"
)

// DefaultPeriods are the day ranges offered by the dashboard's period selector.
var DefaultPeriods = []int{7, 30, 120}

// InsightRecord is one row of the keyword insights table. Raw fields keep the
// page's locale formatting; ContentGapScore is only meaningful when Scored.
type InsightRecord struct {
	Rank             int     `json:"rank"`
	Label            string  `json:"label"`
	Popularity       string  `json:"popularity"`
	PopularityChange string  `json:"popularity_change"`
	CTR              string  `json:"ctr"`
	CVR              string  `json:"cvr"`
	CPA              string  `json:"cpa"`
	ContentGapScore  float64 `json:"content_gap_score"`
	Scored           bool    `json:"scored"`
}

// CardRecord is one hashtag or track card. Hashtags carry Posts, tracks carry
// Artist with the track title in Name.
type CardRecord struct {
	Rank   int    `json:"rank"`
	Name   string `json:"name"`
	Posts  int64  `json:"posts,omitempty"`
	Artist string `json:"artist,omitempty"`
}

// ExtractionRequest describes one pipeline invocation.
type ExtractionRequest struct {
	View       View
	Keyword    string
	PeriodDays int
	Region     string
	MinGrowth  float64
	Limit      int
}

// Validate checks the inputs a view needs against the allowed periods.
func (r ExtractionRequest) Validate(periods []int) error {
	switch r.View {
	case ViewKeywords:
		if strings.TrimSpace(r.Keyword) == "" {
			return fmt.Errorf("keyword is required")
		}
		if !ValidPeriod(r.PeriodDays, periods) {
			return fmt.Errorf("period %d is not one of %v", r.PeriodDays, periods)
		}
	case ViewTracks:
		if strings.TrimSpace(r.Region) == "" {
			return fmt.Errorf("region is required")
		}
		if !ValidPeriod(r.PeriodDays, periods) {
			return fmt.Errorf("period %d is not one of %v", r.PeriodDays, periods)
		}
	case ViewHashtags:
		if r.PeriodDays != 0 && !ValidPeriod(r.PeriodDays, periods) {
			return fmt.Errorf("period %d is not one of %v", r.PeriodDays, periods)
		}
	default:
		return fmt.Errorf("unknown view %q", r.View)
	}
	if r.Limit < 0 {
		return fmt.Errorf("limit must not be negative")
	}
	return nil
}

// ValidPeriod reports whether days is one of the offered options.
func ValidPeriod(days int, periods []int) bool {
	if len(periods) == 0 {
		periods = DefaultPeriods
	}
	for _, p := range periods {
		if p == days {
			return true
		}
	}
	return false
}
