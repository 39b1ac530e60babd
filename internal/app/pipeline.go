package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/deusflow/newsdigest/internal/cache"
	"github.com/deusflow/newsdigest/internal/dedup"
	"github.com/deusflow/newsdigest/internal/metrics"
	"github.com/deusflow/newsdigest/internal/news"
	"github.com/deusflow/newsdigest/internal/ratelimit"
	"github.com/deusflow/newsdigest/internal/scoring"
	"github.com/deusflow/newsdigest/internal/selector"
	"github.com/deusflow/newsdigest/internal/topics"
)

// SourceFinder resolves the feeds to read for a topic.
type SourceFinder interface {
	SourcesFor(ctx context.Context, topic string) []news.Source
}

// ArticleFetcher reads every source and returns the raw article pool.
type ArticleFetcher interface {
	FetchAll(ctx context.Context, sources []news.Source, window time.Duration) []news.Article
}

type PipelineConfig struct {
	Target       int
	DefaultTopic string
	Window       time.Duration
	InterestTTL  time.Duration
	// Provider is the budget key for model calls.
	Provider string
}

// Pipeline turns a profile into its digest: interests, plan, fetch,
// consolidation, scoring, selection and summaries.
type Pipeline struct {
	sources   SourceFinder
	fetcher   ArticleFetcher
	dedup     *dedup.Deduplicator
	scorer    *scoring.Scorer
	model     news.RelevanceModel
	budget    *ratelimit.Budget
	registry  *topics.Registry
	interests *cache.Cache[[]string]
	cfg       PipelineConfig
	log       *slog.Logger
}

// NewPipeline wires the stages. model and budget may be nil.
func NewPipeline(sources SourceFinder, fetcher ArticleFetcher, scorer *scoring.Scorer, model news.RelevanceModel,
	budget *ratelimit.Budget, registry *topics.Registry, cfg PipelineConfig, log *slog.Logger) *Pipeline {
	if registry == nil {
		registry = topics.Default
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.Target <= 0 {
		cfg.Target = selector.DefaultTarget
	}
	if cfg.DefaultTopic == "" {
		cfg.DefaultTopic = topics.DefaultTopic
	}
	if cfg.InterestTTL <= 0 {
		cfg.InterestTTL = 24 * time.Hour
	}
	return &Pipeline{
		sources:   sources,
		fetcher:   fetcher,
		dedup:     dedup.New(registry, log),
		scorer:    scorer,
		model:     model,
		budget:    budget,
		registry:  registry,
		interests: cache.New[[]string](cfg.InterestTTL),
		cfg:       cfg,
		log:       log,
	}
}

// Run computes the digest for profile. It fails only when no source
// produced a single article.
func (p *Pipeline) Run(ctx context.Context, profile news.Profile) (articles []news.Article, err error) {
	start := time.Now()
	log := p.log.With("run_id", uuid.NewString(), "profile_key", profile.Key())
	defer func() {
		metrics.Global.RecordPipelineRun(time.Since(start), err)
	}()

	interests := profile.Interests
	if len(interests) == 0 {
		interests = p.Interests(ctx, profile.RawText)
	}
	plan := selector.PlanFor(interests, p.cfg.Target, p.cfg.DefaultTopic)
	log.Info("Starting pipeline", "interests", interests, "plan", plan.Mapping())

	var sources []news.Source
	seen := make(map[string]bool)
	for _, topic := range append(plan.Topics(), news.GeneralTopic) {
		for _, src := range p.sources.SourcesFor(ctx, topic) {
			id := src.Topic + "|" + src.Name
			if seen[id] {
				continue
			}
			seen[id] = true
			sources = append(sources, src)
		}
	}

	pool := p.fetcher.FetchAll(ctx, sources, p.cfg.Window)
	if len(pool) == 0 {
		log.Error("No articles from any source", "sources", len(sources))
		return nil, news.ErrNoArticles
	}

	kept := pool[:0:0]
	for _, a := range pool {
		if p.registry.IsExcluded(a.Title, a.Body) {
			continue
		}
		kept = append(kept, a)
	}
	log.Debug("Exclusion filter", "before", len(pool), "after", len(kept))

	consolidated := p.dedup.Consolidate(kept)
	scored := p.scorer.ScoreAll(ctx, consolidated, interests)
	selected := selector.Select(scored, plan)
	p.summarize(ctx, selected)

	log.Info("Pipeline finished",
		"fetched", len(pool),
		"consolidated", len(consolidated),
		"selected", len(selected),
		"took", time.Since(start).Round(time.Millisecond))
	return selected, nil
}

// Interests classifies profile text into topics, asking the model first and
// the keyword registry when the model is unavailable or finds nothing.
// Results are cached per normalized text.
func (p *Pipeline) Interests(ctx context.Context, profileText string) []string {
	key := news.NormalizeProfileText(profileText)
	if key == "" {
		return nil
	}
	if cached, ok := p.interests.Get(key); ok {
		return cached
	}

	var interests []string
	// Cached only when the model answered or none is configured.
	answered := p.model == nil
	if p.model != nil && p.reserve() {
		got, err := p.model.ClassifyInterests(ctx, profileText)
		if err != nil {
			p.log.Warn("Interest classification failed, using keywords", "error", err)
		} else {
			answered = true
			interests = got
		}
	}
	if len(interests) == 0 {
		interests = p.registry.Classify(profileText)
	}

	if answered {
		p.interests.Set(key, interests)
	}
	return interests
}

// PurgeInterests drops classified interests so profiles are re-read.
func (p *Pipeline) PurgeInterests() {
	p.interests.Purge()
}

// summarize fills Summary for every selected article, falling back to a
// two-sentence extract.
func (p *Pipeline) summarize(ctx context.Context, articles []news.Article) {
	for i := range articles {
		a := &articles[i]
		text := a.Body
		if text == "" {
			text = a.Title
		}

		if p.model != nil && p.reserve() {
			summary, err := p.model.Rewrite(ctx, text)
			if err == nil && summary != "" {
				a.Summary = summary
				continue
			}
			if err != nil {
				p.log.Debug("Rewrite failed, using extract", "title", a.Title, "error", err)
			}
		}
		a.Summary = news.FallbackSummary(a.Body)
	}
}

func (p *Pipeline) reserve() bool {
	if p.budget == nil {
		return true
	}
	return p.budget.Use(p.cfg.Provider) == nil
}
