// Package scrape drives the creative center dashboard: it opens a view,
// operates its filters, extracts rows and hands back ranked records. Every
// error it returns is an *Error.
package scrape

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/polzovatel/creative-insights-bot/internal/browser"
	"github.com/polzovatel/creative-insights-bot/internal/insight"
	"github.com/polzovatel/creative-insights-bot/internal/snapshot"
)

// Options tunes pipeline bounds.
type Options struct {
	Periods        []int
	Timeout        time.Duration
	TableTimeout   time.Duration
	MoreTimeout    time.Duration
	LoadMoreRounds int
	ResultLimit    int
	ClickPause     time.Duration
	ScrollPause    time.Duration
	Targets        Targets
}

func DefaultOptions() Options {
	return Options{
		Periods:        insight.DefaultPeriods,
		Timeout:        5 * time.Minute,
		TableTimeout:   20 * time.Second,
		MoreTimeout:    3 * time.Second,
		LoadMoreRounds: 10,
		ResultLimit:    10,
		ClickPause:     2 * time.Second,
		ScrollPause:    3 * time.Second,
		Targets:        DefaultTargets(),
	}
}

// Pipeline is the boundary between the conversation layer and the browser.
type Pipeline struct {
	Pool      *browser.Pool
	Nav       *browser.Navigator
	Locator   *browser.Locator
	Extractor *Extractor
	Recorder  browser.Recorder
	Opts      Options
	Log       zerolog.Logger
}

func New(pool *browser.Pool, nav *browser.Navigator, loc *browser.Locator, rec browser.Recorder, opts Options, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		Pool:      pool,
		Nav:       nav,
		Locator:   loc,
		Extractor: NewExtractor(logger),
		Recorder:  rec,
		Opts:      opts,
		Log:       logger,
	}
}

type step func(ctx context.Context, s browser.Session, log zerolog.Logger) error

// run validates req, bounds the whole invocation by the pipeline timeout,
// leases one session for fn and converts whatever comes back into an *Error.
func (p *Pipeline) run(ctx context.Context, op string, req insight.ExtractionRequest, fn step) (err error) {
	if verr := req.Validate(p.Opts.Periods); verr != nil {
		return &Error{Kind: KindMalformedInput, Op: op, Err: verr}
	}

	runID := uuid.NewString()
	log := p.Log.With().Str("run_id", runID).Str("op", op).Logger()
	ctx = snapshot.WithRunID(ctx, runID)
	if p.Opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = &Error{Kind: KindInternal, Op: op, Err: fmt.Errorf("panic: %v", r)}
		}
		if err != nil {
			log.Warn().Err(err).Str("kind", string(KindOf(err))).Dur("elapsed", time.Since(start)).Msg("pipeline failed")
			return
		}
		log.Info().Dur("elapsed", time.Since(start)).Msg("pipeline finished")
	}()

	log.Info().Str("keyword", req.Keyword).Int("period", req.PeriodDays).Str("region", req.Region).Msg("pipeline started")
	err = p.Pool.With(ctx, func(ctx context.Context, s browser.Session) error {
		return fn(ctx, s, log)
	})
	return wrapErr(op, err)
}

// Keywords searches the keyword insights table for req.Keyword and returns
// records ranked by content gap score, filtered by req.MinGrowth and capped.
func (p *Pipeline) Keywords(ctx context.Context, req insight.ExtractionRequest) ([]insight.InsightRecord, error) {
	req.View = insight.ViewKeywords
	var out []insight.InsightRecord
	err := p.run(ctx, "keywords", req, func(ctx context.Context, s browser.Session, log zerolog.Logger) error {
		if err := p.Nav.Open(ctx, s, p.Opts.Targets.Keywords); err != nil {
			return err
		}
		if err := p.Locator.Fill(ctx, s, keywordInput, req.Keyword); err != nil {
			return err
		}
		if err := p.Locator.Click(ctx, s, searchButton); err != nil {
			return err
		}
		if err := p.choosePeriod(ctx, s, req.PeriodDays); err != nil {
			return err
		}
		if _, err := s.WaitFor(ctx, keywordTableReady, p.Opts.TableTimeout); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Debug().Err(err).Msg("keyword table did not appear")
		}

		rows, err := p.Extractor.Extract(ctx, s, plan(keywordTable, keywordGrid))
		if err != nil {
			return err
		}
		records := insightRecords(rows)
		if len(records) == 0 {
			p.capture(ctx, s, "no-data-keywords", log)
			return ErrNoData
		}

		ranked := insight.FilterGrowth(insight.Rank(records), req.MinGrowth)
		if len(ranked) == 0 {
			return fmt.Errorf("%d rows below growth %.0f%%: %w", len(records), req.MinGrowth, ErrNoData)
		}
		out = insight.Top(ranked, p.limit(req))
		log.Info().Int("rows", len(records)).Int("kept", len(out)).Msg("keywords ranked")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Hashtags reads the popular hashtag cards. The period is optional.
func (p *Pipeline) Hashtags(ctx context.Context, req insight.ExtractionRequest) ([]insight.CardRecord, error) {
	req.View = insight.ViewHashtags
	var out []insight.CardRecord
	err := p.run(ctx, "hashtags", req, func(ctx context.Context, s browser.Session, log zerolog.Logger) error {
		if err := p.Nav.Open(ctx, s, p.Opts.Targets.Hashtags); err != nil {
			return err
		}
		if req.PeriodDays != 0 {
			if err := p.choosePeriod(ctx, s, req.PeriodDays); err != nil {
				return err
			}
		}
		if err := p.loadMore(ctx, s, log); err != nil {
			return err
		}
		if err := p.scrollUntilStable(ctx, s, log); err != nil {
			return err
		}

		rows, err := p.Extractor.Extract(ctx, s, plan(hashtagCards, hashtagItems))
		if err != nil {
			return err
		}
		cards := hashtagRecords(rows)
		if len(cards) == 0 {
			p.capture(ctx, s, "no-data-hashtags", log)
			return ErrNoData
		}
		out = insight.Top(cards, p.limit(req))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Tracks reads popular music for a region and period.
func (p *Pipeline) Tracks(ctx context.Context, req insight.ExtractionRequest) ([]insight.CardRecord, error) {
	req.View = insight.ViewTracks
	var out []insight.CardRecord
	err := p.run(ctx, "tracks", req, func(ctx context.Context, s browser.Session, log zerolog.Logger) error {
		if err := p.Nav.Open(ctx, s, p.Opts.Targets.Tracks); err != nil {
			return err
		}
		if err := p.chooseRegion(ctx, s, req.Region); err != nil {
			return err
		}
		if err := p.choosePeriod(ctx, s, req.PeriodDays); err != nil {
			return err
		}
		if err := p.loadMore(ctx, s, log); err != nil {
			return err
		}

		rows, err := p.Extractor.Extract(ctx, s, plan(trackCards, trackItems))
		if err != nil {
			return err
		}
		cards := trackRecords(rows)
		if len(cards) == 0 {
			p.capture(ctx, s, "no-data-tracks", log)
			return ErrNoData
		}
		out = insight.Top(cards, p.limit(req))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Pipeline) choosePeriod(ctx context.Context, s browser.Surface, days int) error {
	return p.Locator.ChooseOption(ctx, s, periodTrigger, periodOption(days))
}

// chooseRegion types into the region picker and accepts the first suggestion.
func (p *Pipeline) chooseRegion(ctx context.Context, s browser.Surface, region string) error {
	if err := p.Locator.Click(ctx, s, regionTrigger); err != nil {
		return err
	}
	if err := p.Locator.Fill(ctx, s, regionInput, region); err != nil {
		return err
	}
	if err := browser.Sleep(ctx, p.Opts.ClickPause); err != nil {
		return err
	}
	for _, key := range []string{"ArrowDown", "Enter"} {
		if err := s.Press(ctx, key); err != nil {
			return fmt.Errorf("confirm region: %w", err)
		}
	}
	return browser.Sleep(ctx, p.Opts.ClickPause)
}

// loadMore clicks the "View More" button until it disappears or the round
// limit is reached.
func (p *Pipeline) loadMore(ctx context.Context, s browser.Surface, log zerolog.Logger) error {
	for round := 1; round <= p.Opts.LoadMoreRounds; round++ {
		btn, err := s.WaitFor(ctx, seeMoreSelector, p.Opts.MoreTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		}
		if !btn.Visible() || !btn.Enabled() {
			return nil
		}
		if err := btn.Click(p.Opts.MoreTimeout); err != nil {
			log.Debug().Err(err).Int("round", round).Msg("view more click failed")
			return nil
		}
		log.Debug().Int("round", round).Msg("loaded more")
		if err := browser.Sleep(ctx, p.Opts.ClickPause); err != nil {
			return err
		}
	}
	return nil
}

// scrollUntilStable scrolls to the bottom until the page height stops
// growing, at most LoadMoreRounds times.
func (p *Pipeline) scrollUntilStable(ctx context.Context, s browser.Surface, log zerolog.Logger) error {
	prev, err := s.ScrollHeight(ctx)
	if err != nil {
		return err
	}
	for round := 1; round <= p.Opts.LoadMoreRounds; round++ {
		if err := s.ScrollToBottom(ctx); err != nil {
			return err
		}
		if err := browser.Sleep(ctx, p.Opts.ScrollPause); err != nil {
			return err
		}
		h, err := s.ScrollHeight(ctx)
		if err != nil {
			return err
		}
		if h == prev {
			log.Debug().Int("rounds", round).Int("height", h).Msg("scroll height stable")
			return nil
		}
		prev = h
	}
	return nil
}

func (p *Pipeline) capture(ctx context.Context, s browser.Surface, reason string, log zerolog.Logger) {
	if p.Recorder == nil {
		return
	}
	if _, err := p.Recorder.Capture(ctx, s, reason); err != nil {
		log.Warn().Err(err).Str("reason", reason).Msg("snapshot failed")
	}
}

func (p *Pipeline) limit(req insight.ExtractionRequest) int {
	if req.Limit > 0 {
		return req.Limit
	}
	return p.Opts.ResultLimit
}

func insightRecords(rows []Row) []insight.InsightRecord {
	out := make([]insight.InsightRecord, 0, len(rows))
	for _, r := range rows {
		label := r["keyword"]
		if label == "" {
			continue
		}
		out = append(out, insight.InsightRecord{
			Rank:             insight.ParseRank(r["rank"], len(out)+1),
			Label:            label,
			Popularity:       r["popularity"],
			PopularityChange: r["popularity_change"],
			CTR:              r["ctr"],
			CVR:              r["cvr"],
			CPA:              r["cpa"],
		})
	}
	return out
}

func hashtagRecords(rows []Row) []insight.CardRecord {
	out := make([]insight.CardRecord, 0, len(rows))
	for _, r := range rows {
		name := strings.TrimSpace(strings.TrimPrefix(r["name"], "#"))
		if name == "" {
			continue
		}
		out = append(out, insight.CardRecord{
			Rank:  insight.ParseRank(r["rank"], len(out)+1),
			Name:  name,
			Posts: insight.ParseMagnitude(r["posts"]),
		})
	}
	return out
}

func trackRecords(rows []Row) []insight.CardRecord {
	out := make([]insight.CardRecord, 0, len(rows))
	for _, r := range rows {
		if r["title"] == "" || r["artist"] == "" {
			continue
		}
		out = append(out, insight.CardRecord{
			Rank:   insight.ParseRank(r["rank"], len(out)+1),
			Name:   r["title"],
			Artist: r["artist"],
		})
	}
	return out
}
