package news

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// GeneralTopic is fetched for every profile and is never produced by
// interest classification.
const GeneralTopic = "general"

var (
	// ErrNoArticles means no source produced a single article.
	ErrNoArticles = errors.New("no articles could be fetched from any source")
	// ErrModelUnavailable is returned by RelevanceModel implementations when
	// the backing model cannot answer (quota, timeout, bad response).
	ErrModelUnavailable = errors.New("relevance model unavailable")
)

// Article is one news item flowing through a pipeline run.
type Article struct {
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	SourceName  string    `json:"source_name"`
	OriginalURL string    `json:"original_url"`
	PublishedAt time.Time `json:"published_at"`
	ContentHash string    `json:"content_hash"`
	Topic       string    `json:"topic"`

	RelevanceScore   int      `json:"relevance_score"`
	ConsolidatedFrom []string `json:"consolidated_from,omitempty"`
	AlternateURLs    []string `json:"alternate_urls,omitempty"`

	ImageURL string `json:"image_url,omitempty"`
	Summary  string `json:"summary,omitempty"`
}

// ContentHash is the stable identity of an article: sha256(title + url).
func ContentHash(title, link string) string {
	h := sha256.Sum256([]byte(title + link))
	return hex.EncodeToString(h[:])
}

// Profile is a subscriber's free-form self description.
type Profile struct {
	RawText   string   `json:"raw_text"`
	Interests []string `json:"interests,omitempty"`
}

// Key is the cache identity of the profile: trimmed and case-folded text.
// Two users with the same normalized text share a cache entry.
func (p Profile) Key() string {
	return NormalizeProfileText(p.RawText)
}

func NormalizeProfileText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Quota is the desired article count for one topic.
type Quota struct {
	Topic string `json:"topic"`
	Count int    `json:"count"`
}

// DistributionPlan is an ordered per-topic allocation; order is priority.
type DistributionPlan struct {
	Quotas []Quota `json:"quotas"`
}

func (p DistributionPlan) Total() int {
	total := 0
	for _, q := range p.Quotas {
		total += q.Count
	}
	return total
}

func (p DistributionPlan) Mapping() map[string]int {
	m := make(map[string]int, len(p.Quotas))
	for _, q := range p.Quotas {
		m[q.Topic] += q.Count
	}
	return m
}

func (p DistributionPlan) Topics() []string {
	topics := make([]string, 0, len(p.Quotas))
	for _, q := range p.Quotas {
		topics = append(topics, q.Topic)
	}
	return topics
}

// Source is one logical news source for a topic. Candidates are feed URLs
// tried in order until one yields a feed.
type Source struct {
	Name       string   `json:"name" yaml:"name"`
	Topic      string   `json:"topic" yaml:"-"`
	Candidates []string `json:"candidates" yaml:"urls"`
}

// Subscriber is a delivery recipient with a configured time of day.
type Subscriber struct {
	ID           string `json:"id"`
	Recipient    string `json:"recipient"`
	DeliveryTime string `json:"delivery_time"` // HH:MM
	ProfileText  string `json:"profile_text"`
	Active       bool   `json:"active"`
}

func (s Subscriber) Profile() Profile {
	return Profile{RawText: s.ProfileText}
}

// Delivery is a record of one digest handed to the transport.
type Delivery struct {
	SubscriberID  string    `json:"subscriber_id"`
	ArticleHashes []string  `json:"article_hashes"`
	DeliveredAt   time.Time `json:"delivered_at"`
	Success       bool      `json:"success"`
	Error         string    `json:"error,omitempty"`
}
