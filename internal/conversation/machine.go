package conversation

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/polzovatel/creative-insights-bot/internal/insight"
	"github.com/polzovatel/creative-insights-bot/internal/report"
	"github.com/polzovatel/creative-insights-bot/internal/scrape"
)

// Pipeline is the scraping boundary. Every error it returns carries a
// scrape.Kind.
type Pipeline interface {
	Keywords(ctx context.Context, req insight.ExtractionRequest) ([]insight.InsightRecord, error)
	Hashtags(ctx context.Context, req insight.ExtractionRequest) ([]insight.CardRecord, error)
	Tracks(ctx context.Context, req insight.ExtractionRequest) ([]insight.CardRecord, error)
}

// Advisor writes the text the bot cannot scrape.
type Advisor interface {
	FallbackIdea(ctx context.Context, topic string) (string, error)
	Analyze(ctx context.Context, topic string, records []insight.InsightRecord) (string, error)
	Chat(ctx context.Context, prompt string) (string, error)
}

type Options struct {
	Periods   []int
	MinGrowth float64
	Limit     int
}

type Machine struct {
	Store    Store
	Pipeline Pipeline
	Advisor  Advisor
	Opts     Options
	Log      zerolog.Logger

	locks keyedMutex
	now   func() time.Time
}

func NewMachine(store Store, pipeline Pipeline, advisor Advisor, opts Options, logger zerolog.Logger) *Machine {
	if len(opts.Periods) == 0 {
		opts.Periods = insight.DefaultPeriods
	}
	return &Machine{
		Store:    store,
		Pipeline: pipeline,
		Advisor:  advisor,
		Opts:     opts,
		Log:      logger,
		now:      time.Now,
	}
}

// HandleInboundText advances userID's conversation by one message and returns
// the replies. Messages of one user are handled one at a time.
func (m *Machine) HandleInboundText(ctx context.Context, userID, text string) []OutboundMessage {
	unlock := m.locks.Lock(userID)
	defer unlock()

	log := m.Log.With().Str("user", userID).Logger()
	st, err := m.Store.Get(ctx, userID)
	if err != nil {
		log.Error().Err(err).Msg("load state")
		return []OutboundMessage{plain(storeText)}
	}

	before := st.Awaiting
	out, changed := m.dispatch(ctx, &st, strings.TrimSpace(text), log)
	if !changed {
		return out
	}

	st.UpdatedAt = m.now()
	m.save(ctx, st, log)
	log.Debug().Str("from", string(before)).Str("to", string(st.Awaiting)).Msg("state advanced")
	return out
}

// save writes st back, retrying once. If the write still fails the stored
// state is removed so the user is never left in a pending slot.
func (m *Machine) save(ctx context.Context, st State, log zerolog.Logger) {
	err := m.Store.Set(ctx, st)
	if err == nil {
		return
	}
	log.Warn().Err(err).Msg("save state, retrying")
	if err = m.Store.Set(ctx, st); err == nil {
		return
	}
	log.Error().Err(err).Msg("save state")
	if err := m.Store.Delete(ctx, st.UserID); err != nil {
		log.Error().Err(err).Msg("delete state after failed save")
	}
}

// dispatch reports whether st changed and must be written back.
func (m *Machine) dispatch(ctx context.Context, st *State, text string, log zerolog.Logger) ([]OutboundMessage, bool) {
	if strings.HasPrefix(text, "/") {
		return m.command(ctx, st, text, log)
	}

	switch st.Awaiting {
	case AwaitPeriod:
		days, ok := m.parsePeriod(text)
		if !ok {
			return []OutboundMessage{plain(invalidPeriodText(m.Opts.Periods))}, false
		}
		st.Inputs[inputPeriod] = strconv.Itoa(days)
		if st.Flow == FlowMusic {
			return m.runTracks(ctx, st, log), true
		}
		st.Awaiting = AwaitKeyword
		return []OutboundMessage{plain(keywordText)}, true

	case AwaitKeyword:
		if text == "" {
			return []OutboundMessage{plain(keywordText)}, false
		}
		st.Inputs[inputKeyword] = text
		return m.runKeywords(ctx, st, log), true

	case AwaitRegion:
		if text == "" {
			return []OutboundMessage{plain(regionText)}, false
		}
		st.Inputs[inputRegion] = text
		st.Awaiting = AwaitPeriod
		return []OutboundMessage{plain(periodText(m.Opts.Periods))}, true

	case AwaitSelection:
		n, err := strconv.Atoi(text)
		if err != nil || n < 1 || n > len(st.LastRecords) {
			return []OutboundMessage{plain(selectionText(len(st.LastRecords)))}, false
		}
		return m.analyze(ctx, st, n, log), true
	}

	if text == "" {
		return []OutboundMessage{plain(idleText)}, false
	}
	return m.chat(ctx, text, log), false
}

// chat answers free text outside any collection with a plain completion.
func (m *Machine) chat(ctx context.Context, text string, log zerolog.Logger) []OutboundMessage {
	reply, err := m.Advisor.Chat(ctx, text)
	if err != nil {
		log.Error().Err(err).Msg("chat failed")
		return []OutboundMessage{plain(noChatText)}
	}
	return []OutboundMessage{plain(reply)}
}

func (m *Machine) command(ctx context.Context, st *State, text string, log zerolog.Logger) ([]OutboundMessage, bool) {
	cmd := strings.ToLower(strings.Fields(text)[0])
	if at := strings.IndexByte(cmd, '@'); at > 0 {
		cmd = cmd[:at]
	}

	switch cmd {
	case "/start":
		st.reset()
		return []OutboundMessage{plain(welcomeText)}, true
	case "/help":
		return []OutboundMessage{plain(usageText)}, false
	case "/reset":
		if err := m.Store.Delete(ctx, st.UserID); err != nil {
			log.Error().Err(err).Msg("delete state")
		}
		st.reset()
		return []OutboundMessage{plain(resetText)}, false
	case "/keywords":
		st.begin(FlowKeywords, AwaitPeriod)
		return []OutboundMessage{plain(periodText(m.Opts.Periods))}, true
	case "/trending":
		st.begin(FlowTrending, AwaitPeriod)
		return []OutboundMessage{plain(periodText(m.Opts.Periods))}, true
	case "/music":
		st.begin(FlowMusic, AwaitRegion)
		return []OutboundMessage{plain(regionText)}, true
	case "/hashtags":
		st.reset()
		return m.runHashtags(ctx, st, log), true
	}
	return []OutboundMessage{plain(unknownCommandText(cmd))}, false
}

func (m *Machine) parsePeriod(text string) (int, bool) {
	days, err := strconv.Atoi(text)
	if err != nil {
		return 0, false
	}
	return days, insight.ValidPeriod(days, m.Opts.Periods)
}

func (m *Machine) runKeywords(ctx context.Context, st *State, log zerolog.Logger) []OutboundMessage {
	topic := st.Inputs[inputKeyword]
	days, _ := strconv.Atoi(st.Inputs[inputPeriod])
	req := insight.ExtractionRequest{
		View:       insight.ViewKeywords,
		Keyword:    topic,
		PeriodDays: days,
		Limit:      m.Opts.Limit,
	}
	if st.Flow == FlowTrending {
		req.MinGrowth = m.Opts.MinGrowth
	}

	records, err := m.Pipeline.Keywords(ctx, req)
	st.reset()
	if err == nil && len(records) == 0 {
		err = &scrape.Error{Kind: scrape.KindNoDataFound, Op: "keywords", Err: scrape.ErrNoData}
	}
	if err != nil {
		return m.failed(ctx, topic, err, log)
	}

	st.Awaiting = AwaitSelection
	st.Inputs[inputKeyword] = topic
	st.LastRecords = records
	st.LastResultSet = report.Labels(records)
	log.Info().Str("keyword", topic).Int("records", len(records)).Msg("keywords offered")
	return []OutboundMessage{{Text: report.KeywordTable(topic, records), Markdown: true}}
}

func (m *Machine) runHashtags(ctx context.Context, st *State, log zerolog.Logger) []OutboundMessage {
	cards, err := m.Pipeline.Hashtags(ctx, insight.ExtractionRequest{View: insight.ViewHashtags, Limit: m.Opts.Limit})
	st.reset()
	if err == nil && len(cards) == 0 {
		err = &scrape.Error{Kind: scrape.KindNoDataFound, Op: "hashtags", Err: scrape.ErrNoData}
	}
	if err != nil {
		return m.failed(ctx, "popular TikTok hashtags", err, log)
	}
	return []OutboundMessage{plain(report.Hashtags("Popular hashtags:", cards))}
}

func (m *Machine) runTracks(ctx context.Context, st *State, log zerolog.Logger) []OutboundMessage {
	region := st.Inputs[inputRegion]
	days, _ := strconv.Atoi(st.Inputs[inputPeriod])
	cards, err := m.Pipeline.Tracks(ctx, insight.ExtractionRequest{
		View:       insight.ViewTracks,
		Region:     region,
		PeriodDays: days,
		Limit:      m.Opts.Limit,
	})
	st.reset()
	if err == nil && len(cards) == 0 {
		err = &scrape.Error{Kind: scrape.KindNoDataFound, Op: "tracks", Err: scrape.ErrNoData}
	}
	if err != nil {
		return m.failed(ctx, "popular TikTok music in "+region, err, log)
	}
	return []OutboundMessage{plain(report.Tracks("Popular music in "+region+":", cards))}
}

// failed maps a pipeline error to the user-visible reply. Unreachable data
// falls back to a generated idea, requested once.
func (m *Machine) failed(ctx context.Context, topic string, err error, log zerolog.Logger) []OutboundMessage {
	kind := scrape.KindOf(err)
	log.Warn().Err(err).Str("kind", string(kind)).Msg("pipeline gave no result")

	switch kind {
	case scrape.KindNoDataFound, scrape.KindControlNotFound:
		idea, ierr := m.Advisor.FallbackIdea(ctx, topic)
		if ierr != nil {
			log.Error().Err(ierr).Msg("fallback idea failed")
			return []OutboundMessage{plain(noIdeaText)}
		}
		return []OutboundMessage{plain(noDataText(topic)), plain(idea)}
	case scrape.KindCapacityExceeded:
		return []OutboundMessage{plain(busyText)}
	case scrape.KindChallengeDetected:
		return []OutboundMessage{plain(verifyText)}
	}
	return []OutboundMessage{plain(failureText)}
}

func (m *Machine) analyze(ctx context.Context, st *State, n int, log zerolog.Logger) []OutboundMessage {
	topic := st.Inputs[inputKeyword]
	chosen := st.LastRecords[n-1]
	st.reset()

	text, err := m.Advisor.Analyze(ctx, topic, []insight.InsightRecord{chosen})
	if err != nil {
		log.Error().Err(err).Str("keyword", chosen.Label).Msg("analysis failed")
		return []OutboundMessage{plain(noAnswerText)}
	}
	return []OutboundMessage{plain(text)}
}
