package scrape

import (
	"fmt"

	"github.com/polzovatel/creative-insights-bot/internal/browser"
)

const (
	KeywordInsightsURL = "https://ads.tiktok.com/business/creativecenter/keyword-insights/pc/en"
	HashtagsURL        = "https://ads.tiktok.com/business/creativecenter/inspiration/popular/hashtag/pc/en"
	MusicURL           = "https://ads.tiktok.com/business/creativecenter/inspiration/popular/music/pc/en"
)

// Targets are the dashboard views the pipeline opens.
type Targets struct {
	Keywords browser.Target
	Hashtags browser.Target
	Tracks   browser.Target
}

// DefaultTargets points at the public creative center pages. The music page
// keeps polling in the background and never goes network idle, so it relies
// on the grace delay alone.
func DefaultTargets() Targets {
	return Targets{
		Keywords: browser.Target{Name: "keywords", URL: KeywordInsightsURL, Readiness: browser.ReadySettled},
		Hashtags: browser.Target{Name: "hashtags", URL: HashtagsURL, Readiness: browser.ReadySettled},
		Tracks:   browser.Target{Name: "tracks", URL: MusicURL, Readiness: browser.ReadyGrace},
	}
}

var (
	keywordInput = browser.ControlSpec{
		Name: "keyword input",
		Kind: browser.KindInput,
		Candidates: []string{
			`input[placeholder="Search by keyword"]`,
			`input[placeholder*="keyword" i]`,
			`input[type="search"]`,
		},
		Texts: []string{"Search by keyword", "keyword"},
	}

	searchButton = browser.ControlSpec{
		Name: "search button",
		Kind: browser.KindButton,
		Candidates: []string{
			`[data-testid="cc_commonCom_autoComplete_seach"]`,
			`[data-testid*="autoComplete_search"]`,
			`button[type="submit"]`,
		},
		Texts: []string{"Search"},
	}

	periodTrigger = browser.ControlSpec{
		Name: "period selector",
		Kind: browser.KindButton,
		Candidates: []string{
			`[data-testid="cc_single_select_undefined"]`,
			`[data-testid*="single_select"]`,
			`div[class*="periodSelect"]`,
		},
		Texts: []string{"Last 7 days", "Last 30 days", "Last 120 days"},
	}

	regionTrigger = browser.ControlSpec{
		Name: "region selector",
		Kind: browser.KindButton,
		Candidates: []string{
			`div[class*="index-mobile_locationSelectContainer"]`,
			`div[class*="locationSelect"]`,
		},
		Texts: []string{"United States", "Region", "Country"},
	}

	regionInput = browser.ControlSpec{
		Name: "region input",
		Kind: browser.KindInput,
		Candidates: []string{
			`input[placeholder="Start typing or select from the list"]`,
			`input[placeholder*="Start typing"]`,
		},
		Texts: []string{"Start typing or select from the list", "Start typing"},
	}
)

// seeMoreSelector is the "View More" button under card grids.
const seeMoreSelector = `[data-testid="cc_contentArea_viewmore_btn"]`

// keywordTableReady appears once the keyword table has at least one data cell.
const keywordTableReady = `.byted-Table-Body tr td`

func periodOption(days int) browser.ControlSpec {
	return browser.ControlSpec{
		Name: fmt.Sprintf("period %d days", days),
		Kind: browser.KindOption,
		Candidates: []string{
			fmt.Sprintf(`text="Last %d Days"`, days),
			fmt.Sprintf(`[role="option"]:has-text("Last %d days")`, days),
		},
		Texts: []string{fmt.Sprintf("Last %d days", days)},
	}
}

var keywordFields = []Field{
	{Name: "rank"},
	{Name: "keyword"},
	{Name: "popularity"},
	{Name: "popularity_change"},
	{Name: "ctr"},
	{Name: "cvr"},
	{Name: "cpa"},
}

var (
	keywordTable = Layout{
		Name:       "keyword table",
		Containers: []string{`.byted-Table-Body`, `table tbody`},
		Rows:       `tr`,
		Cells:      `td`,
		Fields:     keywordFields,
	}
	keywordGrid = Layout{
		Name:       "keyword grid",
		Containers: []string{`[role="table"]`, `[role="grid"]`},
		Rows:       `[role="row"]`,
		Cells:      `[role="cell"], [role="gridcell"]`,
		Fields:     keywordFields,
	}

	hashtagCards = Layout{
		Name:       "hashtag cards",
		Containers: []string{`a[class*="container"]`},
		Fields: []Field{
			{Name: "rank", Selector: `span[class*="rankingIndex"]`},
			{Name: "name", Selector: `span[class*="titleText"]`, Required: true},
			{Name: "posts", Selector: `span, div`, Suffix: "posts"},
		},
	}
	hashtagItems = Layout{
		Name:       "hashtag items",
		Containers: []string{`div[class*="CardPc_container"]`, `[data-testid*="hashtag"]`},
		Fields: []Field{
			{Name: "rank", Selector: `[class*="rank"]`},
			{Name: "name", Selector: `[class*="title"]`, Required: true},
			{Name: "posts", Selector: `span, div`, Suffix: "posts"},
		},
	}

	trackCards = Layout{
		Name:       "track cards",
		Containers: []string{`div[class*="cardWrapper"]`},
		Fields: []Field{
			{Name: "rank", Selector: `span[class*="rankingIndex"]`},
			{Name: "title", Selector: `[class*="musicName"]`, Required: true},
			{Name: "artist", Selector: `[class*="autherName"]`, Required: true},
		},
	}
	trackItems = Layout{
		Name:       "track items",
		Containers: []string{`div[class*="musicCard"]`, `div[class*="MusicCard"]`},
		Fields: []Field{
			{Name: "rank", Selector: `[class*="rank"]`},
			{Name: "title", Selector: `[class*="title"]`, Required: true},
			{Name: "artist", Selector: `[class*="author"], [class*="artist"]`, Required: true},
		},
	}
)

// plan reads the primary layout live, then both layouts from markup.
func plan(primary, fallback Layout) []Attempt {
	return []Attempt{
		{Strategy: LiveStrategy{}, Layout: primary},
		{Strategy: MarkupStrategy{}, Layout: primary},
		{Strategy: MarkupStrategy{}, Layout: fallback},
	}
}
