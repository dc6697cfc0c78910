package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polzovatel/creative-insights-bot/internal/browser"
	"github.com/polzovatel/creative-insights-bot/internal/insight"
	"github.com/polzovatel/creative-insights-bot/internal/scrape"
)

type fakePipeline struct {
	mu       sync.Mutex
	records  []insight.InsightRecord
	cards    []insight.CardRecord
	err      error
	requests []insight.ExtractionRequest
}

func (f *fakePipeline) record(req insight.ExtractionRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
}

func (f *fakePipeline) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakePipeline) Keywords(_ context.Context, req insight.ExtractionRequest) ([]insight.InsightRecord, error) {
	f.record(req)
	return f.records, f.err
}

func (f *fakePipeline) Hashtags(_ context.Context, req insight.ExtractionRequest) ([]insight.CardRecord, error) {
	f.record(req)
	return f.cards, f.err
}

func (f *fakePipeline) Tracks(_ context.Context, req insight.ExtractionRequest) ([]insight.CardRecord, error) {
	f.record(req)
	return f.cards, f.err
}

type fakeAdvisor struct {
	idea      string
	err       error
	fallbacks []string
	analyzed  []insight.InsightRecord
	chatErr   error
	prompts   []string
}

func (f *fakeAdvisor) FallbackIdea(_ context.Context, topic string) (string, error) {
	f.fallbacks = append(f.fallbacks, topic)
	return f.idea, f.err
}

func (f *fakeAdvisor) Analyze(_ context.Context, _ string, records []insight.InsightRecord) (string, error) {
	f.analyzed = append(f.analyzed, records...)
	return "analysis of " + records[0].Label, f.err
}

func (f *fakeAdvisor) Chat(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return "re: " + prompt, f.chatErr
}

// flakyStore fails the next failSets writes.
type flakyStore struct {
	*MemoryStore
	failSets int
	sets     int
}

func (f *flakyStore) Set(ctx context.Context, st State) error {
	f.sets++
	if f.failSets > 0 {
		f.failSets--
		return errors.New("write refused")
	}
	return f.MemoryStore.Set(ctx, st)
}

func fiveRecords() []insight.InsightRecord {
	out := make([]insight.InsightRecord, 5)
	for i := range out {
		out[i] = insight.InsightRecord{Rank: i + 1, Label: fmt.Sprintf("kw%d", i+1), Scored: true}
	}
	return out
}

func newMachine(p *fakePipeline, a *fakeAdvisor) (*Machine, *MemoryStore) {
	store := NewMemoryStore()
	return NewMachine(store, p, a, Options{MinGrowth: 200, Limit: 5}, zerolog.Nop()), store
}

func awaiting(t *testing.T, s Store, user string) Awaiting {
	t.Helper()
	st, err := s.Get(context.Background(), user)
	require.NoError(t, err)
	return st.Awaiting
}

func TestPeriodValidation(t *testing.T) {
	ctx := context.Background()
	for _, in := range []string{"7", "30", "120", " 30 "} {
		t.Run("valid "+in, func(t *testing.T) {
			m, store := newMachine(&fakePipeline{}, &fakeAdvisor{})
			m.HandleInboundText(ctx, "u", "/keywords")

			out := m.HandleInboundText(ctx, "u", in)

			assert.Equal(t, AwaitKeyword, awaiting(t, store, "u"))
			require.Len(t, out, 1)
			assert.Equal(t, keywordText, out[0].Text)
		})
	}
	for _, in := range []string{"15", "abc", "", "-7", "7.0"} {
		t.Run("invalid "+in, func(t *testing.T) {
			m, store := newMachine(&fakePipeline{}, &fakeAdvisor{})
			m.HandleInboundText(ctx, "u", "/keywords")
			before, _ := store.Get(ctx, "u")

			out := m.HandleInboundText(ctx, "u", in)

			after, _ := store.Get(ctx, "u")
			assert.Equal(t, before, after)
			assert.Equal(t, AwaitPeriod, after.Awaiting)
			require.Len(t, out, 1)
			assert.Contains(t, out[0].Text, "not one of the offered periods")
		})
	}
}

func TestKeywordsFlowOffersSelection(t *testing.T) {
	ctx := context.Background()
	p := &fakePipeline{records: fiveRecords()}
	m, store := newMachine(p, &fakeAdvisor{})

	m.HandleInboundText(ctx, "u", "/keywords")
	m.HandleInboundText(ctx, "u", "30")
	out := m.HandleInboundText(ctx, "u", "fitness")

	require.Len(t, out, 1)
	assert.True(t, out[0].Markdown)
	assert.Contains(t, out[0].Text, "Top 5 keywords for *fitness*")
	require.Equal(t, 1, p.calls())
	assert.Equal(t, insight.ExtractionRequest{View: insight.ViewKeywords, Keyword: "fitness", PeriodDays: 30, Limit: 5}, p.requests[0])

	st, _ := store.Get(ctx, "u")
	assert.Equal(t, AwaitSelection, st.Awaiting)
	assert.Equal(t, []string{"kw1", "kw2", "kw3", "kw4", "kw5"}, st.LastResultSet)
	assert.False(t, st.UpdatedAt.IsZero())
}

func TestTrendingAppliesGrowthFilter(t *testing.T) {
	ctx := context.Background()
	p := &fakePipeline{records: fiveRecords()}
	m, _ := newMachine(p, &fakeAdvisor{})

	m.HandleInboundText(ctx, "u", "/trending")
	m.HandleInboundText(ctx, "u", "7")
	m.HandleInboundText(ctx, "u", "yoga")

	require.Equal(t, 1, p.calls())
	assert.Equal(t, 200.0, p.requests[0].MinGrowth)
}

func TestSelection(t *testing.T) {
	ctx := context.Background()
	a := &fakeAdvisor{}
	m, store := newMachine(&fakePipeline{records: fiveRecords()}, a)
	m.HandleInboundText(ctx, "u", "/keywords")
	m.HandleInboundText(ctx, "u", "30")
	m.HandleInboundText(ctx, "u", "fitness")

	for _, in := range []string{"9", "0", "abc"} {
		out := m.HandleInboundText(ctx, "u", in)
		require.Len(t, out, 1)
		assert.Equal(t, selectionText(5), out[0].Text)
		assert.Equal(t, AwaitSelection, awaiting(t, store, "u"))
	}
	assert.Empty(t, a.analyzed)

	out := m.HandleInboundText(ctx, "u", "2")
	require.Len(t, out, 1)
	assert.Equal(t, "analysis of kw2", out[0].Text)
	assert.Equal(t, AwaitNone, awaiting(t, store, "u"))
}

func TestNoDataFallsBackOnce(t *testing.T) {
	ctx := context.Background()
	cases := map[string]*fakePipeline{
		"no data":         {err: &scrape.Error{Kind: scrape.KindNoDataFound, Op: "keywords", Err: scrape.ErrNoData}},
		"control missing": {err: &scrape.Error{Kind: scrape.KindControlNotFound, Op: "keywords", Err: browser.ErrControlNotFound}},
		"empty result":    {},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			a := &fakeAdvisor{idea: "Hook: *exactly* this text"}
			m, store := newMachine(p, a)
			m.HandleInboundText(ctx, "u", "/keywords")
			m.HandleInboundText(ctx, "u", "30")

			out := m.HandleInboundText(ctx, "u", "underwater yoga")

			assert.Equal(t, 1, p.calls())
			assert.Equal(t, []string{"underwater yoga"}, a.fallbacks)
			require.Len(t, out, 2)
			assert.Equal(t, "Hook: *exactly* this text", out[1].Text)
			assert.False(t, out[1].Markdown)
			assert.Equal(t, AwaitNone, awaiting(t, store, "u"))
		})
	}
}

func TestFallbackFailureApologizes(t *testing.T) {
	ctx := context.Background()
	p := &fakePipeline{err: &scrape.Error{Kind: scrape.KindNoDataFound, Op: "keywords"}}
	a := &fakeAdvisor{err: errors.New("llm down")}
	m, store := newMachine(p, a)
	m.HandleInboundText(ctx, "u", "/keywords")
	m.HandleInboundText(ctx, "u", "7")

	out := m.HandleInboundText(ctx, "u", "x")

	require.Len(t, out, 1)
	assert.Equal(t, noIdeaText, out[0].Text)
	assert.Len(t, a.fallbacks, 1)
	assert.Equal(t, AwaitNone, awaiting(t, store, "u"))
}

func TestPipelineFailuresResetState(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		kind scrape.Kind
		want string
	}{
		{scrape.KindCapacityExceeded, busyText},
		{scrape.KindChallengeDetected, verifyText},
		{scrape.KindNetworkTimeout, failureText},
		{scrape.KindInternal, failureText},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			p := &fakePipeline{err: &scrape.Error{Kind: tc.kind, Op: "keywords"}}
			a := &fakeAdvisor{}
			m, store := newMachine(p, a)
			m.HandleInboundText(ctx, "u", "/keywords")
			m.HandleInboundText(ctx, "u", "120")

			out := m.HandleInboundText(ctx, "u", "fitness")

			require.Len(t, out, 1)
			assert.Equal(t, tc.want, out[0].Text)
			assert.Empty(t, a.fallbacks)
			assert.Equal(t, 1, p.calls())
			assert.Equal(t, AwaitNone, awaiting(t, store, "u"))
		})
	}
}

func TestMusicFlow(t *testing.T) {
	ctx := context.Background()
	p := &fakePipeline{cards: []insight.CardRecord{{Rank: 1, Name: "Espresso", Artist: "Sabrina Carpenter"}}}
	m, store := newMachine(p, &fakeAdvisor{})

	out := m.HandleInboundText(ctx, "u", "/music")
	assert.Equal(t, regionText, out[0].Text)
	assert.Equal(t, AwaitRegion, awaiting(t, store, "u"))

	out = m.HandleInboundText(ctx, "u", "United States")
	assert.Contains(t, out[0].Text, "Choose a period")
	assert.Equal(t, AwaitPeriod, awaiting(t, store, "u"))

	out = m.HandleInboundText(ctx, "u", "7")
	require.Len(t, out, 1)
	assert.Equal(t, "Popular music in United States:\n1. \"Espresso\" - Sabrina Carpenter", out[0].Text)
	require.Equal(t, 1, p.calls())
	assert.Equal(t, "United States", p.requests[0].Region)
	assert.Equal(t, 7, p.requests[0].PeriodDays)
	assert.Equal(t, AwaitNone, awaiting(t, store, "u"))
}

func TestHashtagsRunImmediately(t *testing.T) {
	ctx := context.Background()
	p := &fakePipeline{cards: []insight.CardRecord{{Rank: 1, Name: "fyp", Posts: 12300}}}
	m, store := newMachine(p, &fakeAdvisor{})

	out := m.HandleInboundText(ctx, "u", "/hashtags@TrendBot")

	require.Len(t, out, 1)
	assert.Equal(t, "Popular hashtags:\n1. #fyp - 12.3K posts", out[0].Text)
	assert.Equal(t, insight.ViewHashtags, p.requests[0].View)
	assert.Equal(t, AwaitNone, awaiting(t, store, "u"))
}

func TestCommands(t *testing.T) {
	ctx := context.Background()
	m, store := newMachine(&fakePipeline{}, &fakeAdvisor{})

	out := m.HandleInboundText(ctx, "u", "/start")
	assert.Equal(t, welcomeText, out[0].Text)

	m.HandleInboundText(ctx, "u", "/keywords")
	out = m.HandleInboundText(ctx, "u", "/help")
	assert.Equal(t, usageText, out[0].Text)
	assert.Equal(t, AwaitPeriod, awaiting(t, store, "u"))

	out = m.HandleInboundText(ctx, "u", "/reset")
	assert.Equal(t, resetText, out[0].Text)
	assert.Equal(t, 0, store.Len())

	out = m.HandleInboundText(ctx, "u", "/bogus")
	assert.Contains(t, out[0].Text, "Unknown command /bogus")

	out = m.HandleInboundText(ctx, "u", "   ")
	assert.Equal(t, idleText, out[0].Text)
	assert.Equal(t, 0, store.Len())
}

func TestFreeTextGoesToChat(t *testing.T) {
	ctx := context.Background()
	a := &fakeAdvisor{}
	m, store := newMachine(&fakePipeline{}, a)

	out := m.HandleInboundText(ctx, "u", " what should I film today? ")
	require.Len(t, out, 1)
	assert.Equal(t, "re: what should I film today?", out[0].Text)
	assert.Equal(t, []string{"what should I film today?"}, a.prompts)
	assert.Equal(t, 0, store.Len())

	a.chatErr = errors.New("quota")
	out = m.HandleInboundText(ctx, "u", "hello")
	require.Len(t, out, 1)
	assert.Equal(t, noChatText, out[0].Text)
	assert.Equal(t, AwaitNone, awaiting(t, store, "u"))
}

func TestFreeTextInsideFlowSkipsChat(t *testing.T) {
	ctx := context.Background()
	a := &fakeAdvisor{}
	m, _ := newMachine(&fakePipeline{}, a)
	m.HandleInboundText(ctx, "u", "/music")

	m.HandleInboundText(ctx, "u", "Germany")

	assert.Empty(t, a.prompts)
}

func TestFailedSaveIsRetried(t *testing.T) {
	ctx := context.Background()
	p := &fakePipeline{err: &scrape.Error{Kind: scrape.KindNetworkTimeout, Err: errors.New("boom")}}
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	m := NewMachine(store, p, &fakeAdvisor{}, Options{Limit: 5}, zerolog.Nop())
	m.HandleInboundText(ctx, "u", "/keywords")
	m.HandleInboundText(ctx, "u", "30")

	store.failSets = 1
	out := m.HandleInboundText(ctx, "u", "fitness")

	assert.Equal(t, failureText, out[0].Text)
	assert.Equal(t, 4, store.sets)
	assert.Equal(t, AwaitNone, awaiting(t, store, "u"))
}

func TestFailedSaveDropsPendingState(t *testing.T) {
	ctx := context.Background()
	p := &fakePipeline{err: &scrape.Error{Kind: scrape.KindNetworkTimeout, Err: errors.New("boom")}}
	a := &fakeAdvisor{}
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	m := NewMachine(store, p, a, Options{Limit: 5}, zerolog.Nop())
	m.HandleInboundText(ctx, "u", "/keywords")
	m.HandleInboundText(ctx, "u", "30")
	require.Equal(t, AwaitKeyword, awaiting(t, store, "u"))

	store.failSets = 2
	m.HandleInboundText(ctx, "u", "fitness")

	assert.Equal(t, AwaitNone, awaiting(t, store, "u"))
	assert.Equal(t, 0, store.Len())

	m.HandleInboundText(ctx, "u", "fitness")
	assert.Equal(t, 1, p.calls())
	assert.Equal(t, []string{"fitness"}, a.prompts)
}

func TestCommandInterruptsPendingFlow(t *testing.T) {
	ctx := context.Background()
	m, store := newMachine(&fakePipeline{}, &fakeAdvisor{})
	m.HandleInboundText(ctx, "u", "/keywords")
	m.HandleInboundText(ctx, "u", "30")

	m.HandleInboundText(ctx, "u", "/music")

	st, _ := store.Get(ctx, "u")
	assert.Equal(t, AwaitRegion, st.Awaiting)
	assert.Equal(t, FlowMusic, st.Flow)
	assert.Empty(t, st.Inputs)
}

func TestUsersAreIsolated(t *testing.T) {
	ctx := context.Background()
	m, store := newMachine(&fakePipeline{}, &fakeAdvisor{})

	m.HandleInboundText(ctx, "alice", "/keywords")
	m.HandleInboundText(ctx, "bob", "/music")
	m.HandleInboundText(ctx, "alice", "30")

	assert.Equal(t, AwaitKeyword, awaiting(t, store, "alice"))
	assert.Equal(t, AwaitRegion, awaiting(t, store, "bob"))
}

func TestConcurrentMessagesSameUser(t *testing.T) {
	ctx := context.Background()
	p := &fakePipeline{records: fiveRecords()}
	m, _ := newMachine(p, &fakeAdvisor{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", i%4)
			m.HandleInboundText(ctx, user, "/keywords")
			m.HandleInboundText(ctx, user, "30")
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, m.locks.size())
}
