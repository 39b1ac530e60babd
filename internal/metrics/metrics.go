package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	articlesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "newsdigest",
		Name:      "articles_fetched_total",
		Help:      "Articles fetched from feeds, by topic",
	}, []string{"topic"})

	sourceFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "newsdigest",
		Name:      "source_failures_total",
		Help:      "Sources that contributed zero articles because of an error",
	})

	duplicatesMerged = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "newsdigest",
		Name:      "duplicates_merged_total",
		Help:      "Articles merged into another by consolidation",
	})

	scoresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "newsdigest",
		Name:      "scores_total",
		Help:      "Articles scored, by method (model or fallback)",
	}, []string{"method"})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "newsdigest",
		Name:      "personalization_cache_total",
		Help:      "Personalization cache lookups, by result",
	}, []string{"result"})

	deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "newsdigest",
		Name:      "deliveries_total",
		Help:      "Digest deliveries, by status",
	}, []string{"status"})

	pipelineDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "newsdigest",
		Name:      "pipeline_duration_seconds",
		Help:      "Duration of full personalization pipeline runs",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
	})
)

type Metrics struct {
	mu sync.RWMutex

	// Counters
	ArticlesFetched  int64
	SourceFailures   int64
	DuplicatesMerged int64
	ModelScores      int64
	FallbackScores   int64
	CacheHits        int64
	CacheMisses      int64
	DeliveriesSent   int64
	DeliveriesFailed int64
	TicksDropped     int64
	PipelineRuns     int64
	PipelineFailures int64

	// Timings
	LastProcessingTime    time.Duration
	AverageProcessingTime time.Duration
	TotalProcessingTime   time.Duration

	// Status
	LastRunTime   time.Time
	LastErrorTime time.Time
	LastError     string
	IsHealthy     bool
}

var Global = &Metrics{IsHealthy: true}

func (m *Metrics) AddArticlesFetched(topic string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ArticlesFetched += int64(n)
	articlesFetched.WithLabelValues(topic).Add(float64(n))
}

func (m *Metrics) IncrementSourceFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SourceFailures++
	sourceFailures.Inc()
}

func (m *Metrics) AddDuplicatesMerged(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DuplicatesMerged += int64(n)
	duplicatesMerged.Add(float64(n))
}

func (m *Metrics) AddModelScores(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ModelScores += int64(n)
	scoresTotal.WithLabelValues("model").Add(float64(n))
}

func (m *Metrics) AddFallbackScores(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FallbackScores += int64(n)
	scoresTotal.WithLabelValues("fallback").Add(float64(n))
}

func (m *Metrics) IncrementCacheHit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CacheHits++
	cacheLookups.WithLabelValues("hit").Inc()
}

func (m *Metrics) IncrementCacheMiss() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CacheMisses++
	cacheLookups.WithLabelValues("miss").Inc()
}

func (m *Metrics) IncrementDeliveriesSent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeliveriesSent++
	deliveries.WithLabelValues("sent").Inc()
}

func (m *Metrics) IncrementDeliveriesFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeliveriesFailed++
	deliveries.WithLabelValues("failed").Inc()
}

func (m *Metrics) IncrementTicksDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TicksDropped++
}

// RecordPipelineRun records the outcome and duration of one pipeline run.
func (m *Metrics) RecordPipelineRun(duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PipelineRuns++
	m.LastProcessingTime = duration
	m.TotalProcessingTime += duration
	m.AverageProcessingTime = m.TotalProcessingTime / time.Duration(m.PipelineRuns)
	pipelineDuration.Observe(duration.Seconds())

	if err != nil {
		m.PipelineFailures++
		m.LastError = err.Error()
		m.LastErrorTime = time.Now()
		m.IsHealthy = false
		return
	}
	m.LastRunTime = time.Now()
	m.IsHealthy = true
}

func (m *Metrics) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"articles_fetched":           m.ArticlesFetched,
		"source_failures":            m.SourceFailures,
		"duplicates_merged":          m.DuplicatesMerged,
		"model_scores":               m.ModelScores,
		"fallback_scores":            m.FallbackScores,
		"cache_hits":                 m.CacheHits,
		"cache_misses":               m.CacheMisses,
		"deliveries_sent":            m.DeliveriesSent,
		"deliveries_failed":          m.DeliveriesFailed,
		"ticks_dropped":              m.TicksDropped,
		"pipeline_runs":              m.PipelineRuns,
		"pipeline_failures":          m.PipelineFailures,
		"last_processing_time_ms":    m.LastProcessingTime.Milliseconds(),
		"average_processing_time_ms": m.AverageProcessingTime.Milliseconds(),
		"last_run_time":              m.LastRunTime.Format(time.RFC3339),
		"last_error_time":            m.LastErrorTime.Format(time.RFC3339),
		"last_error":                 m.LastError,
		"is_healthy":                 m.IsHealthy,
	}
}
