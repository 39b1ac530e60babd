// Package catalog maps topics to news sources: curated entries first, then
// discovered feeds, then hand-picked fallbacks, then general news.
package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/deusflow/newsdigest/internal/cache"
	"github.com/deusflow/newsdigest/internal/news"
	"github.com/deusflow/newsdigest/internal/topics"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// File is the YAML layout of a source catalog.
type File struct {
	Topics   map[string][]news.Source `yaml:"topics"`
	Fallback map[string][]news.Source `yaml:"fallback"`
}

// Load reads a catalog file. An empty path loads the built-in catalog.
func Load(path string) (*File, error) {
	if path == "" {
		return Parse(defaultCatalog)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	return &f, nil
}

// Discoverer finds feeds for a topic the catalog has no sources for.
type Discoverer interface {
	Discover(ctx context.Context, topic string) ([]news.Source, error)
}

type Catalog struct {
	file       *File
	registry   *topics.Registry
	discoverer Discoverer
	discovered *cache.Cache[[]news.Source]
	log        *slog.Logger
}

// New creates a catalog. discoverer may be nil to disable discovery.
func New(file *File, discoverer Discoverer, registry *topics.Registry, discoveryTTL time.Duration, log *slog.Logger) *Catalog {
	if file == nil {
		file = &File{}
	}
	if registry == nil {
		registry = topics.Default
	}
	if log == nil {
		log = slog.Default()
	}
	if discoveryTTL <= 0 {
		discoveryTTL = time.Hour
	}
	return &Catalog{
		file:       file,
		registry:   registry,
		discoverer: discoverer,
		discovered: cache.New[[]news.Source](discoveryTTL),
		log:        log,
	}
}

// SourcesFor returns the sources to fetch for topic. It never fails; the
// result may be empty when nothing at all is configured.
func (c *Catalog) SourcesFor(ctx context.Context, topic string) []news.Source {
	t := c.registry.Normalize(topic)
	if t == "" {
		t = news.GeneralTopic
	}

	if sources := c.usable(c.lookup(c.file.Topics, t), t); len(sources) > 0 {
		return sources
	}

	if cached, ok := c.discovered.Get(t); ok {
		return clone(cached)
	}

	if c.discoverer != nil && t != news.GeneralTopic {
		found, err := c.discoverer.Discover(ctx, t)
		if err != nil {
			c.log.Warn("Feed discovery failed", "topic", t, "error", err)
		}
		if found = c.usable(found, t); len(found) > 0 {
			c.log.Info("Discovered feeds", "topic", t, "count", len(found))
			c.discovered.Set(t, found)
			return clone(found)
		}
	}

	if sources := c.usable(c.lookup(c.file.Fallback, t), t); len(sources) > 0 {
		c.log.Info("Using fallback sources", "topic", t, "count", len(sources))
		return sources
	}

	if t == news.GeneralTopic {
		return nil
	}
	c.log.Info("No sources for topic, using general news", "topic", t)
	return c.usable(c.lookup(c.file.Topics, news.GeneralTopic), news.GeneralTopic)
}

// Topics lists every topic with curated sources, sorted.
func (c *Catalog) Topics() []string {
	out := make([]string, 0, len(c.file.Topics))
	for t := range c.file.Topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Purge drops discovered feeds so the next lookup rediscovers them.
func (c *Catalog) Purge() {
	c.discovered.Purge()
}

func (c *Catalog) lookup(m map[string][]news.Source, topic string) []news.Source {
	if s, ok := m[topic]; ok {
		return s
	}
	for k, s := range m {
		if c.registry.Normalize(k) == topic {
			return s
		}
	}
	return nil
}

// usable drops empty candidate URLs and sources left with none, and stamps
// each source with topic.
func (c *Catalog) usable(sources []news.Source, topic string) []news.Source {
	var out []news.Source
	for _, s := range sources {
		var urls []string
		for _, u := range s.Candidates {
			if u = strings.TrimSpace(u); u != "" {
				urls = append(urls, u)
			}
		}
		if len(urls) == 0 {
			c.log.Debug("Skipping unsupported source", "source", s.Name, "topic", topic)
			continue
		}
		out = append(out, news.Source{Name: s.Name, Topic: topic, Candidates: urls})
	}
	return out
}

func clone(sources []news.Source) []news.Source {
	out := make([]news.Source, len(sources))
	for i, s := range sources {
		s.Candidates = append([]string(nil), s.Candidates...)
		out[i] = s
	}
	return out
}
