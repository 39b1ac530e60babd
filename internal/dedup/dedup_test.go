package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/newsdigest/internal/metrics"
	"github.com/deusflow/newsdigest/internal/news"
)

func article(title, body, source, url string) news.Article {
	return news.Article{
		Title:       title,
		Body:        body,
		SourceName:  source,
		OriginalURL: url,
		ContentHash: news.ContentHash(title, url),
	}
}

func TestSimilarity_Symmetric(t *testing.T) {
	d := New(nil, nil)
	a := article("Banco Central eleva juros para 11%", "O Copom decidiu elevar a taxa Selic", "G1", "https://g1/a")
	b := article("Copom eleva taxa de juros", "Banco Central anuncia alta da Selic", "Folha", "https://folha/b")

	ab := d.Similarity(a, b)
	ba := d.Similarity(b, a)
	assert.InDelta(t, ab, ba, 1e-9)
	assert.GreaterOrEqual(t, ab, 0.0)
	assert.LessOrEqual(t, ab, 1.0)
}

func TestSimilarity_Identical(t *testing.T) {
	d := New(nil, nil)
	a := article("Senado aprova reforma tributaria", "Texto segue para sancao presidencial", "G1", "https://g1/a")
	assert.InDelta(t, 1.0, d.Similarity(a, a), 1e-9)
}

func TestSimilarity_BelowThresholdDoesNotMerge(t *testing.T) {
	d := New(nil, nil)
	a := article("Senado aprova nova lei de internet", "", "G1", "https://g1/a")
	b := article("Congresso aprova lei da internet", "", "Folha", "https://folha/b")

	// title jaccard 3/5, keyword overlap 2/3
	assert.InDelta(t, 0.62, d.Similarity(a, b), 0.01)

	out := d.Consolidate([]news.Article{a, b})
	assert.Len(t, out, 2)
}

func TestSimilarity_EmptyArticles(t *testing.T) {
	d := New(nil, nil)
	assert.Equal(t, 0.0, d.Similarity(news.Article{}, news.Article{}))
}

func TestConsolidate_MergesAndKeepsLongestBody(t *testing.T) {
	d := New(nil, nil)
	short := article("Senado aprova reforma tributaria", "Texto aprovado.", "G1", "https://g1/a")
	short.ImageURL = "https://g1/img.jpg"
	long := article("Senado aprova reforma tributaria", "Texto aprovado em dois turnos segue para sancao presidencial.", "Folha", "https://folha/b")
	other := article("Flamengo vence classico no Maracana", "Partida terminou 2 a 0", "ESPN", "https://espn/c")

	out := d.Consolidate([]news.Article{short, other, long})
	require.Len(t, out, 2)

	rep := out[0]
	assert.Equal(t, long.Body, rep.Body)
	assert.Equal(t, "https://folha/b", rep.OriginalURL)
	assert.ElementsMatch(t, []string{"G1", "Folha"}, rep.ConsolidatedFrom)
	assert.Equal(t, []string{"https://g1/a"}, rep.AlternateURLs)
	assert.Equal(t, "https://g1/img.jpg", rep.ImageURL, "image taken from a member when representative has none")

	assert.Equal(t, other, out[1], "singleton passes through unchanged")
}

func TestConsolidate_Transitive(t *testing.T) {
	d := New(nil, nil)
	// a~b and b~c are above threshold, a and c share less.
	a := article("inflacao sobe março ipca energia alimentos", "", "A", "https://a")
	b := article("inflacao sobe março ipca energia alimentos combustiveis", "", "B", "https://b")
	c := article("inflacao sobe março ipca energia combustiveis transporte", "", "C", "https://c")

	require.Greater(t, d.Similarity(a, b), Threshold)
	require.Greater(t, d.Similarity(b, c), Threshold)

	out := d.Consolidate([]news.Article{a, b, c})
	require.Len(t, out, 1)
	assert.ElementsMatch(t, []string{"A", "B", "C"}, out[0].ConsolidatedFrom)
	assert.Len(t, out[0].AlternateURLs, 2)
}

func TestConsolidate_CountsMergedDuplicates(t *testing.T) {
	d := New(nil, nil)
	a := article("Senado aprova reforma tributaria", "Texto aprovado.", "G1", "https://g1/a")
	b := article("Senado aprova reforma tributaria", "Texto aprovado em dois turnos.", "Folha", "https://folha/b")
	c := article("Senado aprova reforma tributaria", "Texto vai a sancao.", "UOL", "https://uol/c")

	before := metrics.Global.GetStats()["duplicates_merged"].(int64)
	d.Consolidate([]news.Article{a, b, c})
	after := metrics.Global.GetStats()["duplicates_merged"].(int64)
	assert.Equal(t, int64(2), after-before)
}

func TestConsolidate_SmallInputs(t *testing.T) {
	d := New(nil, nil)
	assert.Empty(t, d.Consolidate(nil))

	one := []news.Article{article("Titulo", "corpo", "G1", "https://g1")}
	assert.Equal(t, one, d.Consolidate(one))
}
