package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"github.com/temoto/robotstxt"

	"github.com/deusflow/newsdigest/internal/cache"
	"github.com/deusflow/newsdigest/internal/news"
	"github.com/deusflow/newsdigest/internal/ratelimit"
	"github.com/deusflow/newsdigest/internal/topics"
)

// ErrNoFeeds is returned when discovery validated no feed for a topic.
var ErrNoFeeds = errors.New("no valid feeds discovered")

const maxPageBytes = 1 << 20

type DiscoveryConfig struct {
	// SearchTemplates are URLs with one %s for the escaped query.
	SearchTemplates []string
	UserAgent       string
	// MaxCandidates bounds the result pages scanned per topic.
	MaxCandidates int
	// MaxFeeds stops discovery once this many feeds validated.
	MaxFeeds int
	// Recency is how fresh the newest item must be.
	Recency time.Duration
	// MinShare is the fraction of recent items that must mention the topic
	// when the feed title does not.
	MinShare float64
	Timeout  time.Duration
}

func (c *DiscoveryConfig) defaults() {
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = 8
	}
	if c.MaxFeeds <= 0 {
		c.MaxFeeds = 3
	}
	if c.Recency <= 0 {
		c.Recency = 24 * time.Hour
	}
	if c.MinShare <= 0 {
		c.MinShare = 0.10
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
}

// Discovery searches the web for feeds about a topic and keeps the ones that
// are live and on topic.
type Discovery struct {
	client   *http.Client
	hosts    *ratelimit.HostLimiter
	registry *topics.Registry
	robots   *cache.Cache[*robotstxt.RobotsData]
	cfg      DiscoveryConfig
	now      func() time.Time
	log      *slog.Logger
}

func NewDiscovery(client *http.Client, hosts *ratelimit.HostLimiter, registry *topics.Registry, cfg DiscoveryConfig, log *slog.Logger) *Discovery {
	cfg.defaults()
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if registry == nil {
		registry = topics.Default
	}
	if log == nil {
		log = slog.Default()
	}
	return &Discovery{
		client:   client,
		hosts:    hosts,
		registry: registry,
		robots:   cache.New[*robotstxt.RobotsData](time.Hour),
		cfg:      cfg,
		now:      time.Now,
		log:      log,
	}
}

// Discover returns validated feeds for topic.
func (d *Discovery) Discover(ctx context.Context, topic string) ([]news.Source, error) {
	pages := d.searchResults(ctx, topic)
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: no search results for %q", ErrNoFeeds, topic)
	}

	seen := make(map[string]bool)
	var found []news.Source
	for _, page := range pages {
		for _, feedURL := range d.feedCandidates(ctx, page) {
			if seen[feedURL] {
				continue
			}
			seen[feedURL] = true

			src, err := d.validate(ctx, feedURL, topic)
			if err != nil {
				d.log.Debug("Rejected feed candidate", "url", feedURL, "topic", topic, "reason", err)
				continue
			}
			found = append(found, src)
			if len(found) >= d.cfg.MaxFeeds {
				return found, nil
			}
		}
	}

	if len(found) == 0 {
		return nil, fmt.Errorf("%w for %q", ErrNoFeeds, topic)
	}
	return found, nil
}

// searchResults runs each search template and returns one page URL per
// distinct result host.
func (d *Discovery) searchResults(ctx context.Context, topic string) []string {
	query := url.QueryEscape(topic + " noticias")
	hosts := make(map[string]bool)
	var pages []string

	for _, tmpl := range d.cfg.SearchTemplates {
		searchURL := tmpl
		if strings.Contains(tmpl, "%s") {
			searchURL = fmt.Sprintf(tmpl, query)
		}
		base, err := url.Parse(searchURL)
		if err != nil {
			continue
		}

		// search endpoints are configured by the operator; robots.txt
		// applies to the sites they point at
		doc, err := d.fetchDocument(ctx, searchURL, false)
		if err != nil {
			d.log.Warn("Search request failed", "url", searchURL, "error", err)
			continue
		}

		doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
			if len(pages) >= d.cfg.MaxCandidates {
				return
			}
			href, _ := s.Attr("href")
			u := resultURL(base, href)
			if u == nil || u.Host == base.Host || hosts[u.Host] {
				return
			}
			hosts[u.Host] = true
			pages = append(pages, u.String())
		})
	}
	return pages
}

// resultURL resolves a search result link, unwrapping redirect links that
// carry the target in a uddg or url query parameter.
func resultURL(base *url.URL, href string) *url.URL {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return nil
	}
	u := base.ResolveReference(ref)
	for _, p := range []string{"uddg", "url", "q"} {
		if target := u.Query().Get(p); strings.HasPrefix(target, "http") {
			if t, err := url.Parse(target); err == nil {
				u = t
				break
			}
		}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil
	}
	return u
}

// feedCandidates lists advertised feeds of page plus the common /rss and
// /feed paths of its site.
func (d *Discovery) feedCandidates(ctx context.Context, page string) []string {
	base, err := url.Parse(page)
	if err != nil {
		return nil
	}
	var out []string
	add := func(u string) {
		for _, existing := range out {
			if existing == u {
				return
			}
		}
		out = append(out, u)
	}

	if doc, err := d.fetchDocument(ctx, page, true); err == nil {
		doc.Find(`link[rel="alternate"]`).Each(func(_ int, s *goquery.Selection) {
			typ := strings.ToLower(s.AttrOr("type", ""))
			if typ != "application/rss+xml" && typ != "application/atom+xml" {
				return
			}
			if ref, err := url.Parse(strings.TrimSpace(s.AttrOr("href", ""))); err == nil && ref.String() != "" {
				add(base.ResolveReference(ref).String())
			}
		})
	} else {
		d.log.Debug("Candidate page unavailable", "url", page, "error", err)
	}

	root := &url.URL{Scheme: base.Scheme, Host: base.Host}
	add(root.JoinPath("rss").String())
	add(root.JoinPath("feed").String())
	return out
}

// validate checks that feedURL parses, has a recent item and is on topic.
func (d *Discovery) validate(ctx context.Context, feedURL, topic string) (news.Source, error) {
	if !d.allowed(ctx, feedURL) {
		return news.Source{}, errors.New("disallowed by robots.txt")
	}
	if err := d.hosts.WaitForHost(ctx, feedURL); err != nil {
		return news.Source{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	fp := gofeed.NewParser()
	fp.Client = d.client
	fp.UserAgent = d.cfg.UserAgent
	feed, err := fp.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return news.Source{}, fmt.Errorf("not a feed: %w", err)
	}

	cutoff := d.now().Add(-d.cfg.Recency)
	var recent []*gofeed.Item
	for _, item := range feed.Items {
		ts := item.PublishedParsed
		if ts == nil {
			ts = item.UpdatedParsed
		}
		if ts != nil && ts.After(cutoff) {
			recent = append(recent, item)
		}
	}
	if len(recent) == 0 {
		return news.Source{}, errors.New("no item within recency window")
	}

	if !d.onTopic(feed.Title, recent, topic) {
		return news.Source{}, errors.New("not relevant to topic")
	}

	name := strings.TrimSpace(feed.Title)
	if name == "" {
		if u, err := url.Parse(feedURL); err == nil {
			name = u.Host
		}
	}
	return news.Source{Name: name, Topic: topic, Candidates: []string{feedURL}}, nil
}

func (d *Discovery) onTopic(title string, recent []*gofeed.Item, topic string) bool {
	keywords := append([]string{topic}, d.registry.Keywords(topic)...)
	if topics.ContainsAny(title, keywords) {
		return true
	}
	matching := 0
	for _, item := range recent {
		if topics.ContainsAny(item.Title+" "+news.StripHTML(item.Description), keywords) {
			matching++
		}
	}
	return float64(matching) >= d.cfg.MinShare*float64(len(recent))
}

func (d *Discovery) fetchDocument(ctx context.Context, pageURL string, checkRobots bool) (*goquery.Document, error) {
	if checkRobots && !d.allowed(ctx, pageURL) {
		return nil, errors.New("disallowed by robots.txt")
	}
	if err := d.hosts.WaitForHost(ctx, pageURL); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	if d.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", d.cfg.UserAgent)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d", resp.StatusCode)
	}
	return goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
}

// allowed consults the host's robots.txt, cached per host. An unreachable
// robots.txt allows everything.
func (d *Discovery) allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	key := u.Scheme + "://" + u.Host

	robots, ok := d.robots.Get(key)
	if !ok {
		robots = d.fetchRobots(ctx, key)
		d.robots.Set(key, robots)
	}
	if robots == nil {
		return true
	}
	agent := d.cfg.UserAgent
	if agent == "" {
		agent = "*"
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return robots.TestAgent(path, agent)
}

func (d *Discovery) fetchRobots(ctx context.Context, origin string) *robotstxt.RobotsData {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil
	}
	if d.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", d.cfg.UserAgent)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	robots, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil
	}
	return robots
}
