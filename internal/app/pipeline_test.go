package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/newsdigest/internal/catalog"
	"github.com/deusflow/newsdigest/internal/news"
	"github.com/deusflow/newsdigest/internal/ratelimit"
	"github.com/deusflow/newsdigest/internal/scoring"
	"github.com/deusflow/newsdigest/internal/topics"
)

type fakeFinder struct {
	mu     sync.Mutex
	topics []string
}

func (f *fakeFinder) SourcesFor(ctx context.Context, topic string) []news.Source {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	return []news.Source{
		{Name: "Portal " + topic, Topic: topic, Candidates: []string{"https://example.com/" + topic + ".xml"}},
		{Name: "Agencia", Topic: news.GeneralTopic, Candidates: []string{"https://example.com/geral.xml"}},
	}
}

type fakeFetcher struct {
	articles []news.Article
	sources  []news.Source
}

func (f *fakeFetcher) FetchAll(ctx context.Context, sources []news.Source, window time.Duration) []news.Article {
	f.sources = sources
	return f.articles
}

type fakeModel struct {
	mu        sync.Mutex
	interests []string
	classErr  error
	rewrite   string
	rewErr    error
	classCall int
	rewCall   int
}

func (m *fakeModel) Score(ctx context.Context, text string, sc news.ScoringContext) (int, error) {
	return 50, nil
}

func (m *fakeModel) ScoreBatch(ctx context.Context, texts []string, sc news.ScoringContext) ([]int, error) {
	return nil, news.ErrModelUnavailable
}

func (m *fakeModel) Rewrite(ctx context.Context, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rewCall++
	return m.rewrite, m.rewErr
}

func (m *fakeModel) ClassifyInterests(ctx context.Context, profileText string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classCall++
	return m.interests, m.classErr
}

var pool = []news.Article{
	{Title: "Senado aprova reforma tributaria em primeiro turno", Body: "O Senado aprovou nesta quarta a reforma tributaria. A votacao teve ampla maioria entre os senadores presentes.", Topic: "politica", SourceName: "Portal politica"},
	{Title: "Selecao vence amistoso contra o Japao", Body: "A selecao brasileira venceu o amistoso por dois a zero. O tecnico elogiou a atuacao do meio campo no segundo tempo.", Topic: "esportes", SourceName: "Portal esportes"},
	{Title: "Horoscopo do dia para todos os signos", Body: "Veja o que os astros reservam para hoje.", Topic: news.GeneralTopic, SourceName: "Agencia"},
	{Title: "Banco Central mantem juros estaveis", Body: "O Copom decidiu manter a taxa basica de juros. Economistas esperavam a decisao ha semanas.", Topic: news.GeneralTopic, SourceName: "Agencia"},
}

func withHashes(in []news.Article) []news.Article {
	out := make([]news.Article, len(in))
	for i, a := range in {
		a.OriginalURL = fmt.Sprintf("https://example.com/%d", i)
		a.ContentHash = news.ContentHash(a.Title, a.OriginalURL)
		a.PublishedAt = time.Now().Add(-time.Duration(i) * time.Hour)
		out[i] = a
	}
	return out
}

func newTestPipeline(finder SourceFinder, fetcher ArticleFetcher, model news.RelevanceModel, budget *ratelimit.Budget) *Pipeline {
	scorer := scoring.New(nil, nil, topics.Default, scoring.Config{}, nil)
	return NewPipeline(finder, fetcher, scorer, model, budget, topics.Default, PipelineConfig{
		Target:   4,
		Provider: "gemini",
	}, nil)
}

func TestPipeline_NoArticles(t *testing.T) {
	p := newTestPipeline(&fakeFinder{}, &fakeFetcher{}, nil, nil)

	got, err := p.Run(context.Background(), news.Profile{RawText: "futebol"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, news.ErrNoArticles))
	assert.Nil(t, got)
}

func TestPipeline_FetchesPlanTopicsAndGeneralOnce(t *testing.T) {
	finder := &fakeFinder{}
	fetcher := &fakeFetcher{articles: withHashes(pool)}
	p := newTestPipeline(finder, fetcher, nil, nil)

	_, err := p.Run(context.Background(), news.Profile{RawText: "Gosto de futebol"})
	require.NoError(t, err)

	assert.Equal(t, []string{"politica", "esportes", news.GeneralTopic}, finder.topics)
	names := make([]string, 0, len(fetcher.sources))
	for _, s := range fetcher.sources {
		names = append(names, s.Name)
	}
	assert.ElementsMatch(t, []string{"Portal politica", "Agencia", "Portal esportes", "Portal general"}, names)
}

func TestPipeline_DropsExcludedArticles(t *testing.T) {
	p := newTestPipeline(&fakeFinder{}, &fakeFetcher{articles: withHashes(pool)}, nil, nil)

	got, err := p.Run(context.Background(), news.Profile{RawText: "futebol"})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	for _, a := range got {
		assert.NotContains(t, a.Title, "Horoscopo")
	}
	assert.Len(t, got, 3)
}

func TestPipeline_SummaryFallsBackToExtract(t *testing.T) {
	model := &fakeModel{interests: []string{"esportes"}, rewErr: news.ErrModelUnavailable}
	p := newTestPipeline(&fakeFinder{}, &fakeFetcher{articles: withHashes(pool)}, model, nil)

	got, err := p.Run(context.Background(), news.Profile{RawText: "futebol"})
	require.NoError(t, err)
	for _, a := range got {
		assert.Equal(t, news.FallbackSummary(a.Body), a.Summary, a.Title)
	}
	assert.Equal(t, len(got), model.rewCall)
}

func TestPipeline_SummaryFromModel(t *testing.T) {
	model := &fakeModel{interests: []string{"esportes"}, rewrite: "Resumo curto."}
	p := newTestPipeline(&fakeFinder{}, &fakeFetcher{articles: withHashes(pool)}, model, nil)

	got, err := p.Run(context.Background(), news.Profile{RawText: "futebol"})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	for _, a := range got {
		assert.Equal(t, "Resumo curto.", a.Summary)
	}
}

func TestPipeline_ExplicitInterestsSkipClassification(t *testing.T) {
	model := &fakeModel{rewrite: "ok"}
	p := newTestPipeline(&fakeFinder{}, &fakeFetcher{articles: withHashes(pool)}, model, nil)

	_, err := p.Run(context.Background(), news.Profile{RawText: "qualquer coisa", Interests: []string{"esportes"}})
	require.NoError(t, err)
	assert.Zero(t, model.classCall)
}

func TestInterests_FromModel(t *testing.T) {
	model := &fakeModel{interests: []string{"tecnologia"}}
	p := newTestPipeline(&fakeFinder{}, &fakeFetcher{}, model, nil)

	assert.Equal(t, []string{"tecnologia"}, p.Interests(context.Background(), "Gosto de futebol"))
}

func TestInterests_FallsBackToKeywords(t *testing.T) {
	model := &fakeModel{classErr: news.ErrModelUnavailable}
	p := newTestPipeline(&fakeFinder{}, &fakeFetcher{}, model, nil)

	assert.Equal(t, []string{"esportes"}, p.Interests(context.Background(), "Gosto de futebol"))
}

func TestInterests_CachedPerNormalizedText(t *testing.T) {
	model := &fakeModel{interests: []string{"saude"}}
	p := newTestPipeline(&fakeFinder{}, &fakeFetcher{}, model, nil)

	p.Interests(context.Background(), "Saude publica")
	p.Interests(context.Background(), "  saude   PUBLICA ")
	assert.Equal(t, 1, model.classCall)

	p.PurgeInterests()
	p.Interests(context.Background(), "saude publica")
	assert.Equal(t, 2, model.classCall)
}

func TestInterests_BudgetExhaustedUsesKeywords(t *testing.T) {
	model := &fakeModel{interests: []string{"tecnologia"}}
	budget := ratelimit.NewBudget(map[string]int{"gemini": 1}, 0)
	require.NoError(t, budget.Use("gemini"))
	p := newTestPipeline(&fakeFinder{}, &fakeFetcher{}, model, budget)

	assert.Equal(t, []string{"esportes"}, p.Interests(context.Background(), "futebol"))
	assert.Zero(t, model.classCall)
}

func TestInterests_EmptyText(t *testing.T) {
	model := &fakeModel{interests: []string{"tecnologia"}}
	p := newTestPipeline(&fakeFinder{}, &fakeFetcher{}, model, nil)

	assert.Empty(t, p.Interests(context.Background(), "   "))
	assert.Zero(t, model.classCall)
}

func TestInterests_ModelFailureIsNotCached(t *testing.T) {
	model := &fakeModel{interests: []string{"tecnologia"}, classErr: news.ErrModelUnavailable}
	p := newTestPipeline(&fakeFinder{}, &fakeFetcher{}, model, nil)

	assert.Equal(t, []string{"esportes"}, p.Interests(context.Background(), "futebol"))

	model.classErr = nil
	assert.Equal(t, []string{"tecnologia"}, p.Interests(context.Background(), "futebol"))
	assert.Equal(t, 2, model.classCall)

	p.Interests(context.Background(), "futebol")
	assert.Equal(t, 2, model.classCall)
}

type fakeDiscoverer struct {
	mu     sync.Mutex
	topics []string
	err    error
}

func (d *fakeDiscoverer) Discover(ctx context.Context, topic string) ([]news.Source, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.topics = append(d.topics, topic)
	if d.err != nil {
		return nil, d.err
	}
	return []news.Source{{Name: "Portal do Campo", Candidates: []string{"https://campo.example/feed"}}}, nil
}

func testCatalog(disc catalog.Discoverer) *catalog.Catalog {
	file := &catalog.File{
		Topics: map[string][]news.Source{
			"politica":        {{Name: "Portal politica", Candidates: []string{"https://example.com/politica.xml"}}},
			news.GeneralTopic: {{Name: "Agencia", Candidates: []string{"https://example.com/geral.xml"}}},
		},
		Fallback: map[string][]news.Source{
			"agronegocio": {{Name: "G1 Agro", Candidates: []string{"https://example.com/agro.xml"}}},
		},
	}
	return catalog.New(file, disc, topics.Default, time.Hour, nil)
}

func fetchedTopics(sources []news.Source) map[string][]string {
	out := make(map[string][]string)
	for _, s := range sources {
		out[s.Topic] = append(out[s.Topic], s.Name)
	}
	return out
}

func TestPipeline_NovelInterestReachesDiscovery(t *testing.T) {
	disc := &fakeDiscoverer{}
	fetcher := &fakeFetcher{articles: withHashes(pool)}
	model := &fakeModel{interests: []string{"agronegocio"}, rewrite: "ok"}
	p := newTestPipeline(testCatalog(disc), fetcher, model, nil)

	_, err := p.Run(context.Background(), news.Profile{RawText: "Trabalho com soja e gado"})
	require.NoError(t, err)

	assert.Equal(t, []string{"agronegocio"}, disc.topics)
	assert.Equal(t, []string{"Portal do Campo"}, fetchedTopics(fetcher.sources)["agronegocio"])
}

func TestPipeline_NovelInterestUsesFallbackWhenDiscoveryFails(t *testing.T) {
	disc := &fakeDiscoverer{err: catalog.ErrNoFeeds}
	fetcher := &fakeFetcher{articles: withHashes(pool)}
	model := &fakeModel{interests: []string{"agronegocio"}, rewrite: "ok"}
	p := newTestPipeline(testCatalog(disc), fetcher, model, nil)

	_, err := p.Run(context.Background(), news.Profile{RawText: "Trabalho com soja e gado"})
	require.NoError(t, err)

	assert.Equal(t, []string{"G1 Agro"}, fetchedTopics(fetcher.sources)["agronegocio"])
}
