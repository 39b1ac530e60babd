package app

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/deusflow/newsdigest/internal/news"
)

func TestFormatDigest_GroupsByTopicInScoreOrder(t *testing.T) {
	articles := []news.Article{
		{Title: "Juros caem", Topic: "economia", SourceName: "Valor", OriginalURL: "https://valor.example/1"},
		{Title: "Selecao vence", Topic: "esportes", SourceName: "GE"},
		{Title: "Dolar recua", Topic: "economia", SourceName: "Folha"},
	}
	date := time.Date(2024, 3, 5, 7, 0, 0, 0, time.UTC)

	got := FormatDigest(articles, date, false)

	assert.Contains(t, got, "05/03/2024")
	economia := strings.Index(got, "ECONOMIA")
	esportes := strings.Index(got, "ESPORTES")
	assert.True(t, economia >= 0 && esportes > economia)
	assert.Contains(t, got, "<b>1.</b> <a href=\"https://valor.example/1\">Juros caem</a>")
	assert.Contains(t, got, "<b>2.</b> Dolar recua")
	assert.Contains(t, got, "<b>3.</b> Selecao vence")
	assert.NotContains(t, got, "⚠️")
}

func TestFormatDigest_StaleWarning(t *testing.T) {
	got := FormatDigest([]news.Article{{Title: "x", Topic: "politica"}}, time.Now(), true)
	assert.Contains(t, got, "último resumo disponível")
}

func TestFormatArticle_EscapesAndCountsSources(t *testing.T) {
	a := news.Article{
		Title:            "Lucro <recorde> & queda",
		Summary:          strings.Repeat("a", 700),
		SourceName:       "G1",
		ConsolidatedFrom: []string{"G1", "Folha", "UOL"},
	}

	got := formatArticle(a, 1)

	assert.Contains(t, got, "Lucro &lt;recorde&gt; &amp; queda")
	assert.Contains(t, got, "<i>G1 +2 fontes</i>")
	assert.Contains(t, got, strings.Repeat("a", maxSummaryChars-3)+"...")
	assert.NotContains(t, got, strings.Repeat("a", maxSummaryChars-2))
}

func TestTopicHeader_UnknownTopic(t *testing.T) {
	assert.Equal(t, "📌 <b>CULINÁRIA</b>", topicHeader("culinária"))
	assert.Equal(t, "📰 <b>GERAL</b>", topicHeader(news.GeneralTopic))
}

func TestDigestFormatter_UsesLocation(t *testing.T) {
	loc := time.FixedZone("BRT", -3*3600)
	now := func() time.Time { return time.Date(2024, 3, 6, 1, 0, 0, 0, time.UTC) }

	got := DigestFormatter(loc, now)(news.Subscriber{ID: "a"}, []news.Article{{Title: "x", Topic: "saude"}}, false)
	assert.Contains(t, got, "05/03/2024")
}
