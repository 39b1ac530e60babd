// Package scoring assigns relevance scores to articles. The relevance model
// is tried first; any model failure degrades to a local keyword heuristic.
package scoring

import (
	"context"
	"hash/fnv"
	"log/slog"
	"strings"
	"time"

	"github.com/deusflow/newsdigest/internal/metrics"
	"github.com/deusflow/newsdigest/internal/news"
	"github.com/deusflow/newsdigest/internal/ratelimit"
	"github.com/deusflow/newsdigest/internal/topics"
)

const (
	MinFallbackScore = 15
	MaxFallbackScore = 95

	baseScore        = 30
	highBonus        = 25
	mediumBonus      = 15
	lowPenalty       = 10
	topicBonus       = 10
	trustedBonus     = 5
	titlePenalty     = 10
	modelBodyExcerpt = 1000
)

type Config struct {
	Provider   string
	BatchSize  int
	BatchDelay time.Duration
}

type Scorer struct {
	model    news.RelevanceModel
	budget   *ratelimit.Budget
	registry *topics.Registry
	pacer    *ratelimit.Pacer
	cfg      Config
	log      *slog.Logger
}

// New creates a scorer. model and budget may be nil; with no model every
// article is scored by the fallback heuristic.
func New(model news.RelevanceModel, budget *ratelimit.Budget, registry *topics.Registry, cfg Config, log *slog.Logger) *Scorer {
	if registry == nil {
		registry = topics.Default
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &Scorer{
		model:    model,
		budget:   budget,
		registry: registry,
		pacer:    ratelimit.NewPacer(cfg.BatchDelay),
		cfg:      cfg,
		log:      log,
	}
}

// Score scores one article for topic. It always returns a value in [0, 100].
func (s *Scorer) Score(ctx context.Context, a news.Article, topic string) int {
	if s.model != nil && s.reserve() {
		score, err := s.model.Score(ctx, modelText(a), news.ScoringContext{Topic: topic})
		if err == nil {
			metrics.Global.AddModelScores(1)
			return clamp(score, 0, 100)
		}
		s.log.Warn("Model scoring failed, using fallback", "topic", topic, "error", err)
	}
	metrics.Global.AddFallbackScores(1)
	return Fallback(s.registry, a, topic)
}

// ScoreAll scores every article. Articles are grouped by topic and sent to
// the model in batches, one topic after another, with a pause between
// batches. A failed or malformed batch is scored by the fallback.
func (s *Scorer) ScoreAll(ctx context.Context, articles []news.Article, interests []string) []news.Article {
	out := make([]news.Article, len(articles))
	copy(out, articles)

	var order []string
	byTopic := make(map[string][]int)
	for i, a := range out {
		if _, ok := byTopic[a.Topic]; !ok {
			order = append(order, a.Topic)
		}
		byTopic[a.Topic] = append(byTopic[a.Topic], i)
	}

	modelCount, fallbackCount, batches := 0, 0, 0
	for _, topic := range order {
		idx := byTopic[topic]
		for start := 0; start < len(idx); start += s.cfg.BatchSize {
			end := start + s.cfg.BatchSize
			if end > len(idx) {
				end = len(idx)
			}
			batch := idx[start:end]

			scores := s.scoreBatch(ctx, out, batch, topic, interests, batches > 0)
			batches++
			if scores != nil {
				for k, i := range batch {
					out[i].RelevanceScore = clamp(scores[k], 0, 100)
				}
				modelCount += len(batch)
				continue
			}
			for _, i := range batch {
				out[i].RelevanceScore = Fallback(s.registry, out[i], topic)
			}
			fallbackCount += len(batch)
		}
	}

	metrics.Global.AddModelScores(modelCount)
	metrics.Global.AddFallbackScores(fallbackCount)
	s.log.Info("Scored articles", "total", len(out), "model", modelCount, "fallback", fallbackCount)
	return out
}

// scoreBatch returns nil when the batch must be scored locally.
func (s *Scorer) scoreBatch(ctx context.Context, articles []news.Article, batch []int, topic string, interests []string, pace bool) []int {
	if s.model == nil {
		return nil
	}
	if pace {
		if err := s.pacer.Wait(ctx); err != nil {
			return nil
		}
	}

	if !s.reserve() {
		s.log.Debug("Model budget exhausted, using fallback", "topic", topic)
		return nil
	}

	texts := make([]string, len(batch))
	for k, i := range batch {
		texts[k] = modelText(articles[i])
	}
	scores, err := s.model.ScoreBatch(ctx, texts, news.ScoringContext{Topic: topic, Interests: interests})
	if err != nil {
		s.log.Warn("Model batch scoring failed, using fallback", "topic", topic, "size", len(batch), "error", err)
		return nil
	}
	if len(scores) != len(batch) {
		s.log.Warn("Model returned malformed batch, using fallback", "topic", topic, "expected", len(batch), "got", len(scores))
		return nil
	}
	return scores
}

func (s *Scorer) reserve() bool {
	if s.budget == nil {
		return true
	}
	return s.budget.Use(s.cfg.Provider) == nil
}

func modelText(a news.Article) string {
	return a.Title + "\n\n" + news.Truncate(a.Body, modelBodyExcerpt)
}

// Fallback is the deterministic local heuristic. It is total: any input,
// including the zero Article, yields a score in [15, 95].
func Fallback(r *topics.Registry, a news.Article, topic string) int {
	if r == nil {
		r = topics.Default
	}
	text := a.Title + " " + a.Body
	score := baseScore

	if topics.ContainsAny(text, r.HighRelevance) {
		score += highBonus
	}
	if topics.ContainsAny(text, r.MediumRelevance) {
		score += mediumBonus
	}
	if topics.ContainsAny(text, r.LowRelevance) {
		score -= lowPenalty
	}
	if topic != "" && topic != news.GeneralTopic && topics.ContainsAny(text, r.Keywords(topic)) {
		score += topicBonus
	}
	if r.IsTrustedSource(a.SourceName) {
		score += trustedBonus
	}

	switch n := len([]rune(a.Body)); {
	case n >= 1000:
		score += 10
	case n >= 300:
		score += 5
	}

	if n := len([]rune(strings.TrimSpace(a.Title))); n < 15 || n > 150 {
		score -= titlePenalty
	}

	score += jitter(a)
	return clamp(score, MinFallbackScore, MaxFallbackScore)
}

// jitter is 0..3, derived from the article identity so reruns agree.
func jitter(a news.Article) int {
	key := a.ContentHash
	if key == "" {
		key = a.Title + a.OriginalURL
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % 4)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
