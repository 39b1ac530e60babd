package rss

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/newsdigest/internal/news"
	"github.com/deusflow/newsdigest/internal/scraper"
)

func feedXML(items ...string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:media="http://search.yahoo.com/mrss/"><channel>
<title>Teste</title><link>https://example.com</link><description>feed</description>` +
		strings.Join(items, "\n") + `</channel></rss>`
}

func item(title, link, desc string, age time.Duration, extra string) string {
	pub := ""
	if age >= 0 {
		pub = "<pubDate>" + time.Now().Add(-age).Format(time.RFC1123Z) + "</pubDate>"
	}
	return fmt.Sprintf(`<item><title>%s</title><link>%s</link><description><![CDATA[%s]]></description>%s%s</item>`,
		title, link, desc, pub, extra)
}

func newFeedServer(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if body == "slow" {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchAll_WindowAndUndatedItems(t *testing.T) {
	srv := newFeedServer(t, map[string]string{
		"/politica.xml": feedXML(
			item("Senado aprova reforma", "https://g1.globo.com/a", "<p>Texto <b>aprovado</b></p>", time.Hour, ""),
			item("Camara vota orcamento", "https://g1.globo.com/b", "Votacao adiada", 3*time.Hour, ""),
			item("Noticia antiga", "https://g1.globo.com/c", "velha", 48*time.Hour, ""),
			item("Sem data", "https://g1.globo.com/d", "undated", -1, ""),
		),
	})

	f := NewFetcher(srv.Client(), nil, nil, Config{Timeout: time.Second}, nil)
	got := f.FetchAll(context.Background(), []news.Source{
		{Name: "G1", Topic: "politica", Candidates: []string{srv.URL + "/politica.xml"}},
	}, 24*time.Hour)

	require.Len(t, got, 3)
	assert.Equal(t, "Senado aprova reforma", got[0].Title)
	assert.Equal(t, "Texto aprovado", got[0].Body)
	assert.Equal(t, "G1", got[0].SourceName)
	assert.Equal(t, "politica", got[0].Topic)
	assert.Equal(t, news.ContentHash("Senado aprova reforma", "https://g1.globo.com/a"), got[0].ContentHash)

	assert.Equal(t, "Sem data", got[2].Title)
	assert.WithinDuration(t, time.Now(), got[2].PublishedAt, 5*time.Second)
}

func TestFetchAll_DiagnosticWindowKeepsOlder(t *testing.T) {
	srv := newFeedServer(t, map[string]string{
		"/a.xml": feedXML(item("Dois dias", "https://x/a", "b", 36*time.Hour, "")),
	})
	f := NewFetcher(srv.Client(), nil, nil, Config{}, nil)
	src := []news.Source{{Name: "X", Topic: "general", Candidates: []string{srv.URL + "/a.xml"}}}

	assert.Empty(t, f.FetchAll(context.Background(), src, 24*time.Hour))
	assert.Len(t, f.FetchAll(context.Background(), src, 48*time.Hour), 1)
}

func TestFetchAll_FailingSourcesAreIsolated(t *testing.T) {
	srv := newFeedServer(t, map[string]string{
		"/ok.xml":   feedXML(item("Funciona", "https://x/ok", "corpo", time.Hour, "")),
		"/slow.xml": "slow",
		"/bad.xml":  "this is not a feed",
	})

	f := NewFetcher(srv.Client(), nil, nil, Config{Timeout: 200 * time.Millisecond}, nil)
	start := time.Now()
	got := f.FetchAll(context.Background(), []news.Source{
		{Name: "Slow", Topic: "economia", Candidates: []string{srv.URL + "/slow.xml"}},
		{Name: "Missing", Topic: "economia", Candidates: []string{srv.URL + "/missing.xml"}},
		{Name: "Bad", Topic: "economia", Candidates: []string{srv.URL + "/bad.xml"}},
		{Name: "Ok", Topic: "economia", Candidates: []string{srv.URL + "/ok.xml"}},
	}, 0)

	require.Len(t, got, 1)
	assert.Equal(t, "Funciona", got[0].Title)
	assert.Less(t, time.Since(start), 1500*time.Millisecond, "sources are fetched concurrently and time out")
}

func TestFetchSource_TriesCandidatesInOrder(t *testing.T) {
	srv := newFeedServer(t, map[string]string{
		"/backup.xml": feedXML(item("Do backup", "https://x/b", "corpo", time.Hour, "")),
	})
	f := NewFetcher(srv.Client(), nil, nil, Config{}, nil)

	got, err := f.FetchSource(context.Background(), news.Source{
		Name:       "G1",
		Topic:      "general",
		Candidates: []string{srv.URL + "/primary.xml", srv.URL + "/backup.xml"},
	}, time.Hour*24)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Do backup", got[0].Title)

	_, err = f.FetchSource(context.Background(), news.Source{Name: "None"}, time.Hour)
	assert.Error(t, err)
}

func TestFetchAll_ImageExtraction(t *testing.T) {
	srv := newFeedServer(t, map[string]string{
		"/img.xml": feedXML(
			item("Com thumbnail", "https://x/1", "corpo", time.Hour, `<media:thumbnail url="https://img.example/thumb.jpg"/>`),
			item("Com media content", "https://x/2", "corpo", time.Hour, `<media:content url="https://img.example/content.jpg" medium="image"/>`),
			item("Com enclosure", "https://x/3", "corpo", time.Hour, `<enclosure url="https://img.example/enc.png" type="image/png" length="10"/>`),
			item("Com img no corpo", "https://x/noticia/4", `<p>texto</p><img src="/fotos/4.jpg">`, time.Hour, ""),
			item("Sem imagem", "https://x/5", "corpo", time.Hour, `<enclosure url="https://x/audio.mp3" type="audio/mpeg" length="10"/>`),
		),
	})
	f := NewFetcher(srv.Client(), nil, nil, Config{}, nil)
	got := f.FetchAll(context.Background(), []news.Source{{Name: "X", Topic: "general", Candidates: []string{srv.URL + "/img.xml"}}}, 0)

	require.Len(t, got, 5)
	assert.Equal(t, "https://img.example/thumb.jpg", got[0].ImageURL)
	assert.Equal(t, "https://img.example/content.jpg", got[1].ImageURL)
	assert.Equal(t, "https://img.example/enc.png", got[2].ImageURL)
	assert.Equal(t, "https://x/fotos/4.jpg", got[3].ImageURL)
	assert.Equal(t, "", got[4].ImageURL)
}

type fakeScraper struct {
	mu    sync.Mutex
	calls []string
	fail  bool
}

func (s *fakeScraper) ExtractFullArticle(ctx context.Context, pageURL string) (*scraper.ArticleContent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, pageURL)
	if s.fail {
		return nil, errors.New("blocked")
	}
	return &scraper.ArticleContent{
		Content:  strings.Repeat("Texto completo da materia. ", 20),
		ImageURL: "https://img.example/og.jpg",
		URL:      pageURL,
	}, nil
}

func TestFetchAll_ScrapesShortBodies(t *testing.T) {
	long := strings.Repeat("Resumo longo o bastante. ", 20)
	srv := newFeedServer(t, map[string]string{
		"/a.xml": feedXML(
			item("Curta 1", "https://x/1", "curto", time.Hour, ""),
			item("Longa", "https://x/2", long, time.Hour, ""),
			item("Curta 2", "https://x/3", "curto", time.Hour, ""),
			item("Curta 3", "https://x/4", "curto", time.Hour, ""),
		),
	})
	sc := &fakeScraper{}
	f := NewFetcher(srv.Client(), sc, nil, Config{ScrapeMaxArticles: 2}, nil)
	got := f.FetchAll(context.Background(), []news.Source{{Name: "X", Topic: "general", Candidates: []string{srv.URL + "/a.xml"}}}, 0)

	require.Len(t, got, 4)
	assert.Equal(t, []string{"https://x/1", "https://x/3"}, sc.calls)
	assert.Contains(t, got[0].Body, "Texto completo")
	assert.Equal(t, "https://img.example/og.jpg", got[0].ImageURL)
	assert.Equal(t, strings.TrimSpace(long), got[1].Body)
	assert.Equal(t, "curto", got[3].Body)
}

func TestFetchAll_ScrapeFailureKeepsArticle(t *testing.T) {
	srv := newFeedServer(t, map[string]string{
		"/a.xml": feedXML(item("Curta", "https://x/1", "curto", time.Hour, "")),
	})
	f := NewFetcher(srv.Client(), &fakeScraper{fail: true}, nil, Config{ScrapeMaxArticles: 5}, nil)
	got := f.FetchAll(context.Background(), []news.Source{{Name: "X", Topic: "general", Candidates: []string{srv.URL + "/a.xml"}}}, 0)

	require.Len(t, got, 1)
	assert.Equal(t, "curto", got[0].Body)
}

func TestFetchAll_NoSources(t *testing.T) {
	f := NewFetcher(nil, nil, nil, Config{}, nil)
	assert.Empty(t, f.FetchAll(context.Background(), nil, 0))
}
