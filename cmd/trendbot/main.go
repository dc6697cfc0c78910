package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/polzovatel/creative-insights-bot/internal/advisor"
	"github.com/polzovatel/creative-insights-bot/internal/browser"
	"github.com/polzovatel/creative-insights-bot/internal/config"
	"github.com/polzovatel/creative-insights-bot/internal/conversation"
	"github.com/polzovatel/creative-insights-bot/internal/llm"
	"github.com/polzovatel/creative-insights-bot/internal/scrape"
	"github.com/polzovatel/creative-insights-bot/internal/server"
	"github.com/polzovatel/creative-insights-bot/internal/snapshot"
	"github.com/polzovatel/creative-insights-bot/internal/telegram"
)

func main() {
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("bot stopped")
	}
	log.Info().Msg("bot stopped")
}

func component(name string) zerolog.Logger {
	return log.With().Str("comp", name).Logger()
}

func run(ctx context.Context, cfg *config.Config) error {
	llmClient, err := llm.NewClientWithLogger(component("llm"))
	if err != nil {
		return err
	}
	adv := advisor.New(llmClient, cfg.AdvisorLanguage, component("advisor"))

	launcher, err := browser.NewLauncher(ctx, browser.LaunchOptions{
		Headless:   cfg.Headless,
		NavTimeout: cfg.NavigationTimeout,
	}, component("browser"))
	if err != nil {
		return err
	}
	defer launcher.Close()

	sink := snapshot.NewSink(cfg.SnapshotDir, component("snapshot"))
	pool := browser.NewPool(launcher, cfg.MaxConcurrentSessions, component("pool"))
	nav := browser.NewNavigator(cfg.NavigationTimeout, cfg.SettleTimeout, cfg.ReadinessGrace, sink, component("nav"))
	loc := browser.NewLocator(cfg.CandidateTimeout, component("locator"))

	opts := scrape.DefaultOptions()
	opts.Periods = cfg.PeriodOptions
	opts.Timeout = cfg.PipelineTimeout
	opts.LoadMoreRounds = cfg.LoadMoreRounds
	opts.ResultLimit = cfg.ResultLimit
	pipeline := scrape.New(pool, nav, loc, sink, opts, component("pipeline"))

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	machine := conversation.NewMachine(store, pipeline, adv, conversation.Options{
		Periods:   cfg.PeriodOptions,
		MinGrowth: cfg.MinGrowthThreshold,
		Limit:     cfg.ResultLimit,
	}, component("conversation"))

	tg := telegram.NewClient(cfg.TelegramToken, telegram.Options{SendRate: cfg.TelegramSendRate}, component("telegram"))
	dispatcher := telegram.NewDispatcher(machine, tg, cfg.AllowedUsers, component("dispatcher"))
	if len(cfg.AllowedUsers) == 0 {
		log.Warn().Msg("no ALLOWED_TELEGRAM_USERS set, bot is open to everyone")
	}

	srvOpts := server.Options{Addr: cfg.HTTPAddr}
	var webhook server.Dispatcher
	if cfg.Transport == config.TransportWebhook {
		srvOpts.WebhookToken = cfg.TelegramToken
		webhook = dispatcher
	}
	srv := server.New(srvOpts, webhook, adv, pool, component("http"))

	log.Info().
		Str("transport", cfg.Transport).
		Int("max_sessions", cfg.MaxConcurrentSessions).
		Ints("periods", cfg.PeriodOptions).
		Str("model", llmClient.Name()).
		Msg("bot starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	if cfg.Transport == config.TransportPolling {
		g.Go(func() error { return dispatcher.Poll(gctx, tg) })
	}
	err = g.Wait()
	dispatcher.Wait()
	return err
}

func openStore(ctx context.Context, cfg *config.Config) (conversation.Store, func(), error) {
	if cfg.RedisURL == "" {
		log.Info().Msg("conversation state kept in memory")
		return conversation.NewMemoryStore(), func() {}, nil
	}
	client, err := conversation.DialRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	log.Info().Dur("ttl", cfg.StateTTL).Msg("conversation state kept in redis")
	return conversation.NewRedisStore(client, cfg.StateTTL, component("store")), func() { _ = client.Close() }, nil
}
