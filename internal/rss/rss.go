package rss

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"

	"github.com/deusflow/newsdigest/internal/metrics"
	"github.com/deusflow/newsdigest/internal/news"
	"github.com/deusflow/newsdigest/internal/ratelimit"
	"github.com/deusflow/newsdigest/internal/scraper"
)

// DefaultWindow is how far back articles are kept.
const DefaultWindow = 24 * time.Hour

// ArticleScraper fetches the full text of an article page.
type ArticleScraper interface {
	ExtractFullArticle(ctx context.Context, pageURL string) (*scraper.ArticleContent, error)
}

type Config struct {
	// Timeout bounds one feed request.
	Timeout time.Duration
	// ScrapeTimeout bounds one article page request.
	ScrapeTimeout time.Duration
	// ScrapeMinChars is the body length under which the page is scraped.
	ScrapeMinChars int
	// ScrapeMaxArticles caps scrapes per source per run.
	ScrapeMaxArticles int
	UserAgent         string
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.ScrapeTimeout <= 0 {
		c.ScrapeTimeout = 8 * time.Second
	}
	if c.ScrapeMinChars <= 0 {
		c.ScrapeMinChars = 200
	}
	if c.ScrapeMaxArticles < 0 {
		c.ScrapeMaxArticles = 0
	}
}

type Fetcher struct {
	client  *http.Client
	scraper ArticleScraper
	hosts   *ratelimit.HostLimiter
	cfg     Config
	now     func() time.Time
	log     *slog.Logger
}

// NewFetcher creates a fetcher. scr and hosts may be nil.
func NewFetcher(client *http.Client, scr ArticleScraper, hosts *ratelimit.HostLimiter, cfg Config, log *slog.Logger) *Fetcher {
	cfg.defaults()
	if client == nil {
		client = &http.Client{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{client: client, scraper: scr, hosts: hosts, cfg: cfg, now: time.Now, log: log}
}

// FetchAll fetches every source concurrently and returns the articles in
// source order. A failing source is logged and contributes nothing.
func (f *Fetcher) FetchAll(ctx context.Context, sources []news.Source, window time.Duration) []news.Article {
	if len(sources) == 0 {
		return nil
	}
	if window <= 0 {
		window = DefaultWindow
	}

	results := make([][]news.Article, len(sources))
	var g errgroup.Group
	g.SetLimit(len(sources))

	for i, src := range sources {
		g.Go(func() error {
			articles, err := f.FetchSource(ctx, src, window)
			if err != nil {
				f.log.Warn("Source unavailable", "source", src.Name, "topic", src.Topic, "error", err)
				metrics.Global.IncrementSourceFailures()
				return nil
			}
			results[i] = articles
			return nil
		})
	}
	_ = g.Wait()

	var all []news.Article
	ok := 0
	for i, r := range results {
		if len(r) > 0 {
			ok++
			metrics.Global.AddArticlesFetched(sources[i].Topic, len(r))
		}
		all = append(all, r...)
	}
	f.log.Info("Processed RSS feeds", "sources", len(sources), "with_articles", ok, "articles", len(all))
	return all
}

// FetchSource tries each candidate URL of src in order and converts the first
// feed that parses.
func (f *Fetcher) FetchSource(ctx context.Context, src news.Source, window time.Duration) ([]news.Article, error) {
	if len(src.Candidates) == 0 {
		return nil, fmt.Errorf("source %s has no feed urls", src.Name)
	}

	var lastErr error
	for _, candidate := range src.Candidates {
		feed, err := f.parse(ctx, candidate)
		if err != nil {
			lastErr = err
			f.log.Debug("Feed candidate failed", "source", src.Name, "url", candidate, "error", err)
			continue
		}
		articles := f.convert(feed, src, window)
		f.enrich(ctx, articles)
		f.log.Debug("Loaded feed", "source", src.Name, "url", candidate, "items", len(feed.Items), "kept", len(articles))
		return articles, nil
	}
	return nil, fmt.Errorf("all %d feed urls failed: %w", len(src.Candidates), lastErr)
}

func (f *Fetcher) parse(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	if err := f.hosts.WaitForHost(ctx, feedURL); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	fp := gofeed.NewParser()
	fp.Client = f.client
	fp.UserAgent = f.cfg.UserAgent
	return fp.ParseURLWithContext(feedURL, ctx)
}

func (f *Fetcher) convert(feed *gofeed.Feed, src news.Source, window time.Duration) []news.Article {
	now := f.now()
	cutoff := now.Add(-window)
	articles := make([]news.Article, 0, len(feed.Items))

	for _, item := range feed.Items {
		title := strings.TrimSpace(item.Title)
		link := strings.TrimSpace(item.Link)
		if title == "" && link == "" {
			continue
		}

		// undated items count as fresh
		pub := now
		if item.PublishedParsed != nil {
			pub = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			pub = *item.UpdatedParsed
		}
		if pub.Before(cutoff) {
			continue
		}

		raw := item.Description
		if len(item.Content) > len(raw) {
			raw = item.Content
		}

		image := ExtractImageURL(item)
		if image == "" {
			image = imageFromHTML(raw, link)
		}

		articles = append(articles, news.Article{
			Title:       title,
			Body:        news.StripHTML(raw),
			SourceName:  src.Name,
			OriginalURL: link,
			PublishedAt: pub,
			ContentHash: news.ContentHash(title, link),
			Topic:       src.Topic,
			ImageURL:    image,
		})
	}
	return articles
}

// enrich scrapes full text for articles whose feed body is short. Failures
// leave the article as it was.
func (f *Fetcher) enrich(ctx context.Context, articles []news.Article) {
	if f.scraper == nil || f.cfg.ScrapeMaxArticles == 0 {
		return
	}
	scraped := 0
	for i := range articles {
		if scraped >= f.cfg.ScrapeMaxArticles {
			return
		}
		a := &articles[i]
		if len([]rune(a.Body)) >= f.cfg.ScrapeMinChars || a.OriginalURL == "" {
			continue
		}
		scraped++

		sctx, cancel := context.WithTimeout(ctx, f.cfg.ScrapeTimeout)
		content, err := f.scraper.ExtractFullArticle(sctx, a.OriginalURL)
		cancel()
		if err != nil {
			f.log.Debug("Can't get full content", "url", a.OriginalURL, "error", err)
			continue
		}
		if len(content.Content) > len(a.Body) {
			a.Body = content.Content
		}
		if a.ImageURL == "" {
			a.ImageURL = content.ImageURL
		}
	}
}

// ExtractImageURL extracts the best image URL from a feed item.
// Priority: Item.Image > media:thumbnail > media:content (medium=image) > Enclosure (image/*).
// Only http/https URLs are accepted.
func ExtractImageURL(item *gofeed.Item) string {
	if item.Image != nil && isValidImageScheme(item.Image.URL) {
		return item.Image.URL
	}

	if mediaExt, ok := item.Extensions["media"]; ok {
		for _, thumb := range mediaExt["thumbnail"] {
			if u := thumb.Attrs["url"]; isValidImageScheme(u) {
				return u
			}
		}
		for _, content := range mediaExt["content"] {
			if content.Attrs["medium"] != "image" && !strings.HasPrefix(content.Attrs["type"], "image/") {
				continue
			}
			if u := content.Attrs["url"]; isValidImageScheme(u) {
				return u
			}
		}
	}

	for _, enc := range item.Enclosures {
		if strings.HasPrefix(enc.Type, "image/") && isValidImageScheme(enc.URL) {
			return enc.URL
		}
	}
	return ""
}

func imageFromHTML(raw, link string) string {
	if !strings.Contains(raw, "<img") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return ""
	}
	base, _ := url.Parse(link)
	if u := scraper.ExtractImage(doc, base); isValidImageScheme(u) {
		return u
	}
	return ""
}

func isValidImageScheme(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
