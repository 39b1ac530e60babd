// Package app wires the digest pipeline, its caches, the store and the
// Telegram transport into a running scheduler.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/deusflow/newsdigest/internal/catalog"
	"github.com/deusflow/newsdigest/internal/config"
	"github.com/deusflow/newsdigest/internal/delivery"
	"github.com/deusflow/newsdigest/internal/gemini"
	"github.com/deusflow/newsdigest/internal/gpt"
	"github.com/deusflow/newsdigest/internal/llm"
	"github.com/deusflow/newsdigest/internal/logger"
	"github.com/deusflow/newsdigest/internal/news"
	"github.com/deusflow/newsdigest/internal/personalize"
	"github.com/deusflow/newsdigest/internal/ratelimit"
	"github.com/deusflow/newsdigest/internal/rss"
	"github.com/deusflow/newsdigest/internal/scoring"
	"github.com/deusflow/newsdigest/internal/scraper"
	"github.com/deusflow/newsdigest/internal/storage"
	"github.com/deusflow/newsdigest/internal/telegram"
	"github.com/deusflow/newsdigest/internal/topics"
)

const (
	// channelSubscriberID identifies the subscriber seeded from TELEGRAM_CHAT_ID.
	channelSubscriberID = "channel"
	deliveryRetention   = 30 * 24 * time.Hour
	staleRetention      = 48 * time.Hour
)

// Run starts the scheduler and blocks until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	log := logger.Component("app")

	model, closeModel, err := newModel(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeModel()

	store, err := storage.Open(ctx, cfg.StoreDriver, cfg.DatabaseURL, cfg.StoreFilePath, logger.Component("storage"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("Can't close store", "error", err)
		}
	}()
	if err := seedChannel(ctx, store, cfg); err != nil {
		return err
	}

	entries, closeEntries, err := newEntryStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeEntries()

	cat, pipeline, err := newPipeline(cfg, model)
	if err != nil {
		return err
	}

	digests := personalize.New(entries, cfg.CacheTTL, logger.Component("personalize"))
	sender := telegram.NewClient(cfg.TelegramToken, cfg.TelegramBaseURL, logger.Component("telegram"))
	loc := cfg.Location()

	sched := delivery.New(store, digests, pipeline.Run, sender, DigestFormatter(loc, time.Now), delivery.Config{
		TickInterval:     cfg.TickInterval,
		DailyRefreshTime: cfg.DailyRefreshTime,
		Location:         loc,
		SendDelay:        cfg.SendDelay,
		SendImages:       cfg.SendImages,
	}, logger.Component("delivery"))

	sched.OnDailyRefresh(func(ctx context.Context) {
		cat.Purge()
		pipeline.PurgeInterests()
		if err := store.Cleanup(ctx, deliveryRetention); err != nil {
			log.Warn("Delivery cleanup failed", "error", err)
		}
	})

	log.Info("News digest started",
		"model", cfg.ModelProvider,
		"store", cfg.StoreDriver,
		"shared_cache", cfg.RedisURL != "",
		"discovery", cfg.DiscoveryEnabled)
	return sched.Run(ctx)
}

// newModel returns the configured relevance model, or nil for "none".
func newModel(ctx context.Context, cfg *config.Config) (news.RelevanceModel, func(), error) {
	var completer llm.Completer
	closeFn := func() {}

	switch cfg.ModelProvider {
	case "gemini":
		client, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, closeFn, err
		}
		completer = client
		closeFn = client.Close
	case "openai":
		completer = gpt.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL)
	default:
		return nil, closeFn, nil
	}

	return llm.New(completer, topics.Default, llm.Config{Timeout: cfg.ModelTimeout}, logger.Component("llm")), closeFn, nil
}

func newEntryStore(ctx context.Context, cfg *config.Config) (personalize.EntryStore, func(), error) {
	if cfg.RedisURL == "" {
		return personalize.NewMemoryStore(staleRetention), func() {}, nil
	}
	client, err := personalize.OpenRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return personalize.NewRedisStore(client, "", staleRetention), func() { client.Close() }, nil
}

func newPipeline(cfg *config.Config, model news.RelevanceModel) (*catalog.Catalog, *Pipeline, error) {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	hosts := ratelimit.NewHostLimiter(cfg.HostInterval)

	file, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load source catalog: %w", err)
	}
	var discoverer catalog.Discoverer
	if cfg.DiscoveryEnabled {
		discoverer = catalog.NewDiscovery(httpClient, hosts, topics.Default, catalog.DiscoveryConfig{
			SearchTemplates: cfg.SearchTemplates,
			UserAgent:       cfg.UserAgent,
		}, logger.Component("discovery"))
	}
	cat := catalog.New(file, discoverer, topics.Default, cfg.DiscoveryCacheTTL, logger.Component("catalog"))

	scr := scraper.New(httpClient, hosts, cfg.UserAgent, logger.Component("scraper"))
	fetcher := rss.NewFetcher(httpClient, scr, hosts, rss.Config{
		Timeout:           cfg.FetchTimeout,
		ScrapeTimeout:     cfg.ScrapeTimeout,
		ScrapeMinChars:    cfg.ScrapeMinChars,
		ScrapeMaxArticles: cfg.ScrapeMaxArticles,
		UserAgent:         cfg.UserAgent,
	}, logger.Component("rss"))

	var budget *ratelimit.Budget
	if model != nil && cfg.MaxModelRequests > 0 {
		budget = ratelimit.NewBudget(map[string]int{cfg.ModelProvider: cfg.MaxModelRequests}, cfg.MaxModelRequests)
	}
	scorer := scoring.New(model, budget, topics.Default, scoring.Config{
		Provider:   cfg.ModelProvider,
		BatchSize:  cfg.ScoreBatchSize,
		BatchDelay: cfg.ScoreBatchDelay,
	}, logger.Component("scoring"))

	pipeline := NewPipeline(cat, fetcher, scorer, model, budget, topics.Default, PipelineConfig{
		Target:       cfg.ArticleTarget,
		DefaultTopic: cfg.DefaultTopic,
		Window:       cfg.FetchWindow,
		InterestTTL:  cfg.InterestTTL,
		Provider:     cfg.ModelProvider,
	}, logger.Component("pipeline"))
	return cat, pipeline, nil
}

// seedChannel keeps the TELEGRAM_CHAT_ID channel registered as a subscriber.
func seedChannel(ctx context.Context, store storage.Store, cfg *config.Config) error {
	if cfg.TelegramChatID == "" {
		return nil
	}
	err := store.UpsertSubscriber(ctx, news.Subscriber{
		ID:           channelSubscriberID,
		Recipient:    cfg.TelegramChatID,
		DeliveryTime: cfg.ChannelDeliveryTime,
		ProfileText:  cfg.ChannelProfile,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("register channel subscriber: %w", err)
	}
	logger.Info("Channel subscriber registered", "chat_id", cfg.TelegramChatID, "delivery_time", cfg.ChannelDeliveryTime)
	return nil
}
