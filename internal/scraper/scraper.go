package scraper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"codeberg.org/readeck/go-readability/v2"
	"github.com/PuerkitoBio/goquery"

	"github.com/deusflow/newsdigest/internal/ratelimit"
)

const (
	maxPageBytes   = 2 << 20
	minReadability = 200
	maxContentLen  = 1800
)

// ArticleContent is full article content
type ArticleContent struct {
	Title    string
	Content  string
	ImageURL string
	URL      string
}

type Scraper struct {
	client    *http.Client
	hosts     *ratelimit.HostLimiter
	userAgent string
	log       *slog.Logger
}

// New creates a scraper. hosts may be nil to disable per-host spacing.
func New(client *http.Client, hosts *ratelimit.HostLimiter, userAgent string, log *slog.Logger) *Scraper {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scraper{client: client, hosts: hosts, userAgent: userAgent, log: log}
}

// ExtractFullArticle gets full text of article by URL
func (s *Scraper) ExtractFullArticle(ctx context.Context, pageURL string) (*ArticleContent, error) {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid article url %q", pageURL)
	}
	if err := s.hosts.WaitForHost(ctx, pageURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error loading page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d", resp.StatusCode)
	}

	page, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("error reading page: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("error parsing HTML: %w", err)
	}

	content := readableText(page, u)
	if len(content) < minReadability {
		s.log.Debug("Readability result too short, using selectors", "url", pageURL, "chars", len(content))
		content = extractGenericContent(doc)
	}
	content = cleanContent(content)

	if content == "" {
		return nil, fmt.Errorf("can't get content")
	}

	return &ArticleContent{
		Title:    extractTitle(doc),
		Content:  content,
		ImageURL: ExtractImage(doc, u),
		URL:      pageURL,
	}, nil
}

func readableText(page []byte, u *url.URL) string {
	article, err := readability.FromReader(bytes.NewReader(page), u)
	if err != nil {
		return ""
	}
	var buf strings.Builder
	if err := article.RenderText(&buf); err != nil {
		return ""
	}
	return strings.TrimSpace(buf.String())
}

// extractGenericContent is universal parser for any site
func extractGenericContent(doc *goquery.Document) string {
	var paragraphs []string

	// Try most popular selectors
	selectors := []string{
		"article p",
		".article p",
		".content p",
		".post-content p",
		".entry-content p",
		".materia-conteudo p",
		".content-text p",
		"main p",
		"#content p",
		"p",
	}

	for _, selector := range selectors {
		doc.Find(selector).Each(func(i int, s *goquery.Selection) {
			text := strings.TrimSpace(s.Text())
			if text != "" && len(text) > 20 {
				paragraphs = append(paragraphs, text)
			}
		})
		if len(paragraphs) >= 3 { // If we find 3 paragraphs, it's enough
			break
		}
	}

	return strings.Join(paragraphs, "\n\n")
}

// extractTitle gets article title
func extractTitle(doc *goquery.Document) string {
	selectors := []string{
		"h1",
		"title",
		".article-title",
		".headline",
		".entry-title",
	}

	for _, selector := range selectors {
		title := strings.TrimSpace(doc.Find(selector).First().Text())
		if title != "" {
			return title
		}
	}

	return ""
}

// ExtractImage returns the page's representative image, resolved against base.
func ExtractImage(doc *goquery.Document, base *url.URL) string {
	metas := []string{
		`meta[property="og:image"]`,
		`meta[name="twitter:image"]`,
		`meta[property="og:image:url"]`,
	}
	for _, sel := range metas {
		if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			return resolve(base, v)
		}
	}
	if v, ok := doc.Find("article img, img").First().Attr("src"); ok && strings.TrimSpace(v) != "" {
		return resolve(base, v)
	}
	return ""
}

func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base == nil || r.IsAbs() {
		return r.String()
	}
	return base.ResolveReference(r).String()
}

// cleanContent drops boilerplate lines and normalizes whitespace.
func cleanContent(content string) string {
	if content == "" {
		return ""
	}

	junkIndicators := []string{
		"cookie", "lgpd", "publicidade", "leia mais", "leia tambem", "leia também",
		"assine", "clique aqui", "siga-nos", "compartilhe", "newsletter", "todos os direitos",
	}

	var cleanLines []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if len(line) < 30 {
			continue
		}
		// long lines are article text even when they mention a junk word
		if len(line) <= 200 && isJunk(strings.ToLower(line), junkIndicators) {
			continue
		}
		cleanLines = append(cleanLines, line)
	}

	resultText := strings.Join(cleanLines, "\n\n")

	// Limit length, keep full paragraphs
	if len(resultText) > maxContentLen {
		var selected []string
		total := 0
		for _, paragraph := range cleanLines {
			if total+len(paragraph) >= maxContentLen-200 {
				break
			}
			selected = append(selected, paragraph)
			total += len(paragraph) + 2
		}
		if len(selected) > 0 {
			resultText = strings.Join(selected, "\n\n")
		}
	}

	return resultText
}

func isJunk(lower string, indicators []string) bool {
	for _, indicator := range indicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}
