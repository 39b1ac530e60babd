package app

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/deusflow/newsdigest/internal/delivery"
	"github.com/deusflow/newsdigest/internal/news"
)

var topicHeaders = map[string]string{
	"politica":        "🏛 <b>POLÍTICA</b>",
	"economia":        "💰 <b>ECONOMIA</b>",
	"tecnologia":      "💻 <b>TECNOLOGIA</b>",
	"saude":           "🩺 <b>SAÚDE</b>",
	"ciencia":         "🔬 <b>CIÊNCIA</b>",
	"educacao":        "📚 <b>EDUCAÇÃO</b>",
	"internacional":   "🌎 <b>INTERNACIONAL</b>",
	"meio ambiente":   "🌱 <b>MEIO AMBIENTE</b>",
	"esportes":        "⚽ <b>ESPORTES</b>",
	"entretenimento":  "🎬 <b>ENTRETENIMENTO</b>",
	news.GeneralTopic: "📰 <b>GERAL</b>",
}

const maxSummaryChars = 600

// DigestFormatter renders Telegram HTML digests dated in loc.
func DigestFormatter(loc *time.Location, now func() time.Time) delivery.Formatter {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return func(sub news.Subscriber, articles []news.Article, stale bool) string {
		return FormatDigest(articles, now().In(loc), stale)
	}
}

// FormatDigest groups articles by topic in order of first appearance, which
// is score order.
func FormatDigest(articles []news.Article, date time.Time, stale bool) string {
	var b strings.Builder

	b.WriteString("🗞 <b>Seu resumo de notícias</b>\n")
	b.WriteString(fmt.Sprintf("<i>%s</i>\n", date.Format("02/01/2006")))
	b.WriteString("━━━━━━━━━━━━━━━━━━━━\n\n")
	if stale {
		b.WriteString("⚠️ <i>Não foi possível atualizar as fontes agora; este é o último resumo disponível.</i>\n\n")
	}

	var order []string
	groups := make(map[string][]news.Article)
	for _, a := range articles {
		if _, ok := groups[a.Topic]; !ok {
			order = append(order, a.Topic)
		}
		groups[a.Topic] = append(groups[a.Topic], a)
	}

	n := 1
	for _, topic := range order {
		b.WriteString(topicHeader(topic))
		b.WriteString("\n\n")
		for _, a := range groups[topic] {
			b.WriteString(formatArticle(a, n))
			n++
		}
	}

	b.WriteString("━━━━━━━━━━━━━━━━━━━━\n")
	b.WriteString("📱 Resumo personalizado diário")
	return b.String()
}

func topicHeader(topic string) string {
	if h, ok := topicHeaders[topic]; ok {
		return h
	}
	return "📌 <b>" + html.EscapeString(strings.ToUpper(topic)) + "</b>"
}

func formatArticle(a news.Article, number int) string {
	var b strings.Builder

	title := html.EscapeString(a.Title)
	if a.OriginalURL != "" {
		b.WriteString(fmt.Sprintf("<b>%d.</b> <a href=\"%s\">%s</a>\n", number, html.EscapeString(a.OriginalURL), title))
	} else {
		b.WriteString(fmt.Sprintf("<b>%d.</b> %s\n", number, title))
	}

	if summary := strings.TrimSpace(a.Summary); summary != "" {
		b.WriteString(html.EscapeString(news.Truncate(summary, maxSummaryChars)))
		b.WriteString("\n")
	}

	source := html.EscapeString(a.SourceName)
	if extra := len(a.ConsolidatedFrom) - 1; extra > 0 {
		source += fmt.Sprintf(" +%d fontes", extra)
	}
	if source != "" {
		b.WriteString(fmt.Sprintf("<i>%s</i>\n", source))
	}

	b.WriteString("\n")
	return b.String()
}
