// Package dedup collapses near-duplicate articles reported by several
// sources into one representative.
package dedup

import (
	"log/slog"
	"sort"

	"github.com/deusflow/newsdigest/internal/metrics"
	"github.com/deusflow/newsdigest/internal/news"
	"github.com/deusflow/newsdigest/internal/topics"
)

const (
	// Threshold is the similarity above which two articles are the same story.
	Threshold = 0.75

	titleWeight   = 0.7
	keywordWeight = 0.3
	maxKeywords   = 10
	minKeywordLen = 4
)

type Deduplicator struct {
	registry *topics.Registry
	log      *slog.Logger
}

func New(registry *topics.Registry, log *slog.Logger) *Deduplicator {
	if registry == nil {
		registry = topics.Default
	}
	if log == nil {
		log = slog.Default()
	}
	return &Deduplicator{registry: registry, log: log}
}

// Similarity is 0.7 * Jaccard(title tokens) + 0.3 * keyword overlap.
// It is symmetric and in [0, 1].
func (d *Deduplicator) Similarity(a, b news.Article) float64 {
	return d.similarity(d.features(a), d.features(b))
}

type features struct {
	title    map[string]struct{}
	keywords map[string]struct{}
}

func (d *Deduplicator) features(a news.Article) features {
	return features{
		title:    d.titleTokens(a.Title),
		keywords: d.keywords(a.Title + " " + a.Body),
	}
}

func (d *Deduplicator) similarity(a, b features) float64 {
	return titleWeight*jaccard(a.title, b.title) + keywordWeight*overlap(a.keywords, b.keywords)
}

func (d *Deduplicator) titleTokens(title string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range topics.Tokenize(title) {
		if d.registry.IsStopWord(tok) {
			continue
		}
		set[tok] = struct{}{}
	}
	return set
}

// keywords returns up to maxKeywords most frequent content words, ties broken
// by first occurrence.
func (d *Deduplicator) keywords(text string) map[string]struct{} {
	freq := make(map[string]int)
	var order []string
	for _, tok := range topics.Tokenize(text) {
		if len([]rune(tok)) < minKeywordLen || d.registry.IsStopWord(tok) {
			continue
		}
		if freq[tok] == 0 {
			order = append(order, tok)
		}
		freq[tok]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		return freq[order[i]] > freq[order[j]]
	})
	if len(order) > maxKeywords {
		order = order[:maxKeywords]
	}
	set := make(map[string]struct{}, len(order))
	for _, k := range order {
		set[k] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := intersection(a, b)
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func overlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	smaller := len(a)
	if len(b) < smaller {
		smaller = len(b)
	}
	return float64(intersection(a, b)) / float64(smaller)
}

func intersection(a, b map[string]struct{}) int {
	if len(b) < len(a) {
		a, b = b, a
	}
	n := 0
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}

// Consolidate groups articles whose similarity exceeds Threshold, transitively,
// and returns one representative per group in first-seen order.
func (d *Deduplicator) Consolidate(articles []news.Article) []news.Article {
	if len(articles) < 2 {
		return articles
	}

	feats := make([]features, len(articles))
	for i, a := range articles {
		feats[i] = d.features(a)
	}

	processed := make([]bool, len(articles))
	out := make([]news.Article, 0, len(articles))
	merged := 0

	for i := range articles {
		if processed[i] {
			continue
		}
		processed[i] = true
		group := []int{i}
		for q := 0; q < len(group); q++ {
			cur := group[q]
			for j := range articles {
				if processed[j] {
					continue
				}
				if d.similarity(feats[cur], feats[j]) > Threshold {
					processed[j] = true
					group = append(group, j)
				}
			}
		}

		if len(group) == 1 {
			out = append(out, articles[i])
			continue
		}
		merged += len(group) - 1
		out = append(out, d.merge(articles, group))
	}

	if merged > 0 {
		metrics.Global.AddDuplicatesMerged(merged)
		d.log.Debug("Consolidated duplicate articles", "input", len(articles), "output", len(out), "merged", merged)
	}
	return out
}

func (d *Deduplicator) merge(articles []news.Article, group []int) news.Article {
	best := group[0]
	for _, idx := range group[1:] {
		if len([]rune(articles[idx].Body)) > len([]rune(articles[best].Body)) {
			best = idx
		}
	}

	rep := articles[best]
	seenSource := make(map[string]bool)
	seenURL := map[string]bool{rep.OriginalURL: true}
	var sources, urls []string

	for _, idx := range group {
		a := articles[idx]
		if a.SourceName != "" && !seenSource[a.SourceName] {
			seenSource[a.SourceName] = true
			sources = append(sources, a.SourceName)
		}
		if a.OriginalURL != "" && !seenURL[a.OriginalURL] {
			seenURL[a.OriginalURL] = true
			urls = append(urls, a.OriginalURL)
		}
		if rep.ImageURL == "" && a.ImageURL != "" {
			rep.ImageURL = a.ImageURL
		}
	}

	rep.ConsolidatedFrom = sources
	rep.AlternateURLs = urls
	return rep
}

