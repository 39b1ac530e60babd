// Package topics is the single keyword registry shared by the fallback
// scorer, the exclusion pre-filter, the local interest classifier, discovery
// relevance checks and the deduplicator's stop-word list.
package topics

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/deusflow/newsdigest/internal/news"
)

const DefaultTopic = "politica"

type Registry struct {
	Topics  map[string][]string
	Aliases map[string]string
	// Order is the tie-break order for topics detected at the same offset.
	Order []string

	HighRelevance   []string
	MediumRelevance []string
	LowRelevance    []string
	Excluded        []string
	TrustedSources  []string

	stopWords map[string]struct{}
}

// Fold lowercases s and strips diacritics: "Política" -> "politica".
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}

// Tokenize folds text and splits it on anything that is not a letter or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(Fold(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// Normalize maps a free-form label to its canonical topic name.
func (r *Registry) Normalize(label string) string {
	l := strings.TrimSpace(Fold(label))
	if l == "" {
		return ""
	}
	if canonical, ok := r.Aliases[l]; ok {
		return canonical
	}
	return l
}

func (r *Registry) Known(topic string) bool {
	_, ok := r.Topics[topic]
	return ok
}

func (r *Registry) Keywords(topic string) []string {
	return r.Topics[r.Normalize(topic)]
}

func (r *Registry) IsStopWord(w string) bool {
	_, ok := r.stopWords[w]
	return ok
}

// ContainsAny reports whether text mentions any keyword. Phrases match as
// substrings, short keywords (<=3 runes) only as whole tokens so "ai" does
// not match "said".
func ContainsAny(text string, keywords []string) bool {
	return CountMatches(text, keywords) > 0
}

// CountMatches returns how many distinct keywords text mentions.
func CountMatches(text string, keywords []string) int {
	if text == "" || len(keywords) == 0 {
		return 0
	}
	folded := " " + strings.Join(Tokenize(text), " ") + " "
	tokens := make(map[string]struct{})
	for _, tok := range strings.Fields(folded) {
		tokens[tok] = struct{}{}
	}

	count := 0
	for _, k := range keywords {
		k = strings.Join(Tokenize(k), " ")
		if k == "" {
			continue
		}
		switch {
		case strings.Contains(k, " "):
			if strings.Contains(folded, " "+k+" ") {
				count++
			}
		case len([]rune(k)) <= 3:
			if _, ok := tokens[k]; ok {
				count++
			}
		default:
			if strings.Contains(folded, k) {
				count++
			}
		}
	}
	return count
}

// Classify infers interests from free text using the keyword table. Topics
// are returned in the order they are first mentioned.
func (r *Registry) Classify(text string) []string {
	folded := " " + strings.Join(Tokenize(text), " ") + " "
	type hit struct {
		topic string
		pos   int
		rank  int
	}
	var hits []hit
	for rank, topic := range r.Order {
		if topic == news.GeneralTopic {
			continue
		}
		pos := -1
		// The topic label itself counts as a mention.
		for _, k := range append([]string{topic}, r.Topics[topic]...) {
			k = strings.Join(Tokenize(k), " ")
			if k == "" {
				continue
			}
			needle := k
			if len([]rune(k)) <= 3 {
				needle = " " + k + " "
			}
			if i := strings.Index(folded, needle); i >= 0 && (pos < 0 || i < pos) {
				pos = i
			}
		}
		if pos >= 0 {
			hits = append(hits, hit{topic: topic, pos: pos, rank: rank})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].pos != hits[j].pos {
			return hits[i].pos < hits[j].pos
		}
		return hits[i].rank < hits[j].rank
	})
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.topic)
	}
	return out
}

// IsExcluded reports whether an article belongs to a category never worth sending.
func (r *Registry) IsExcluded(title, body string) bool {
	return ContainsAny(title+" "+body, r.Excluded)
}

func (r *Registry) IsTrustedSource(name string) bool {
	n := Fold(name)
	for _, s := range r.TrustedSources {
		if n != "" && strings.Contains(n, Fold(s)) {
			return true
		}
	}
	return false
}

func newStopWords(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[Fold(w)] = struct{}{}
	}
	return m
}
