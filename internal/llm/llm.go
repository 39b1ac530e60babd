// Package llm implements news.RelevanceModel on top of any text completion
// backend.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/deusflow/newsdigest/internal/news"
	"github.com/deusflow/newsdigest/internal/retry"
	"github.com/deusflow/newsdigest/internal/topics"
)

// NeutralScore is returned for empty input.
const NeutralScore = 50

const maxPromptChars = 6000

// Completer sends one prompt to a language model and returns its text reply.
type Completer interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
}

type Config struct {
	// Timeout bounds a single attempt.
	Timeout time.Duration
	Retry   retry.RetryConfig
}

// Model adapts a Completer to news.RelevanceModel.
type Model struct {
	completer Completer
	registry  *topics.Registry
	cfg       Config
	log       *slog.Logger
}

var _ news.RelevanceModel = (*Model)(nil)

func New(c Completer, registry *topics.Registry, cfg Config, log *slog.Logger) *Model {
	if registry == nil {
		registry = topics.Default
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.RetryConfig{MaxAttempts: 2, Delay: time.Second, Backoff: true}
	}
	return &Model{completer: c, registry: registry, cfg: cfg, log: log}
}

func (m *Model) Name() string {
	return m.completer.Name()
}

func (m *Model) Score(ctx context.Context, text string, sc news.ScoringContext) (int, error) {
	if strings.TrimSpace(text) == "" {
		return NeutralScore, nil
	}
	scores, err := m.ScoreBatch(ctx, []string{text}, sc)
	if err != nil {
		return 0, err
	}
	return scores[0], nil
}

func (m *Model) ScoreBatch(ctx context.Context, texts []string, sc news.ScoringContext) ([]int, error) {
	if len(texts) == 0 {
		return []int{}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, `Você é um editor de um resumo diário de notícias brasileiro.
Avalie a relevância de cada notícia abaixo para o tema "%s"`, sc.Topic)
	if len(sc.Interests) > 0 {
		fmt.Fprintf(&b, " e para um leitor interessado em: %s", strings.Join(sc.Interests, ", "))
	}
	b.WriteString(`.
Dê uma nota inteira de 0 a 100 para cada uma. Notícias de política e economia
com impacto amplo valem mais; fofoca e entretenimento valem menos.

Responda APENAS com um array JSON de notas na mesma ordem, por exemplo [80, 45].

NOTÍCIAS:
`)
	for i, t := range texts {
		t = sanitizeContent(t, maxPromptChars/len(texts))
		if t == "" {
			t = "(vazio)"
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, t)
	}

	resp, err := m.call(ctx, b.String())
	if err != nil {
		return nil, err
	}
	scores, err := parseScores(resp, len(texts))
	if err != nil {
		m.log.Warn("Could not parse model scores", "provider", m.Name(), "error", err)
		return nil, fmt.Errorf("%w: %v", news.ErrModelUnavailable, err)
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			scores[i] = NeutralScore
		}
	}
	return scores, nil
}

// Rewrite returns a short Portuguese summary of text.
func (m *Model) Rewrite(ctx context.Context, text string) (string, error) {
	text = sanitizeContent(text, maxPromptChars)
	if text == "" {
		return "", nil
	}

	prompt := fmt.Sprintf(`Resuma a notícia abaixo em português do Brasil, em no máximo 3 frases
e 350 caracteres. Não invente fatos, não use introduções como "A notícia fala sobre".
Responda apenas com o resumo.

NOTÍCIA:
%s`, text)

	resp, err := m.call(ctx, prompt)
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(strings.Trim(strings.TrimSpace(resp), `"`))
	summary = summaryLabel.ReplaceAllString(summary, "")
	return strings.Join(strings.Fields(summary), " "), nil
}

var summaryLabel = regexp.MustCompile(`(?i)^(resumo|summary)\s*:\s*`)

// ClassifyInterests maps a free-form profile to topics, in the order the
// reader mentions them. Interests outside the registry come back as short
// folded labels so the catalog can discover feeds for them.
func (m *Model) ClassifyInterests(ctx context.Context, profileText string) ([]string, error) {
	profileText = sanitizeContent(profileText, 2000)
	if profileText == "" {
		return nil, nil
	}

	var allowed []string
	for _, t := range m.registry.Order {
		if t != news.GeneralTopic {
			allowed = append(allowed, t)
		}
	}

	prompt := fmt.Sprintf(`Um leitor descreveu seus interesses assim:
"%s"

Use os temas desta lista quando corresponderem: %s.
Para um interesse fora da lista, use um rótulo curto em português (até três palavras, sem acentos).
Liste os temas na ordem em que o leitor os menciona, separados por vírgula.
Se não houver nenhum interesse, responda "nenhum".`, profileText, strings.Join(allowed, ", "))

	resp, err := m.call(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return m.parseTopics(resp), nil
}

func (m *Model) parseTopics(resp string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, part := range strings.FieldsFunc(resp, func(r rune) bool {
		return r == ',' || r == '\n' || r == ';'
	}) {
		part = strings.Trim(strings.TrimSpace(part), `-*."'[]`)
		t := m.registry.Normalize(part)
		if t == "" || t == news.GeneralTopic || seen[t] {
			continue
		}
		if !m.registry.Known(t) && !novelLabel(t) {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

const (
	maxLabelRunes = 30
	maxLabelWords = 3
)

var noneLabels = map[string]bool{"nenhum": true, "nenhuma": true, "none": true, "outros": true, "outros temas": true}

// novelLabel accepts short letter-only labels for topics the registry does
// not know.
func novelLabel(label string) bool {
	if noneLabels[label] || len([]rune(label)) > maxLabelRunes {
		return false
	}
	words := strings.Fields(label)
	if len(words) == 0 || len(words) > maxLabelWords {
		return false
	}
	for _, r := range label {
		if r != ' ' && !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

func (m *Model) call(ctx context.Context, prompt string) (string, error) {
	var resp string
	err := retry.WithRetry(ctx, m.cfg.Retry, func() error {
		cctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()

		out, err := m.completer.Complete(cctx, prompt)
		if err != nil {
			return err
		}
		if strings.TrimSpace(out) == "" {
			return fmt.Errorf("empty response")
		}
		resp = out
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", news.ErrModelUnavailable, m.Name(), err)
	}
	return resp, nil
}

var (
	jsonArray    = regexp.MustCompile(`\[[\s\d,.\-]*\]`)
	numberedLine = regexp.MustCompile(`(?m)^\s*(\d+)\s*[.:)\-]\s*(\d{1,3})\b`)
	anyNumber    = regexp.MustCompile(`\b\d{1,3}\b`)
)

// parseScores accepts a JSON array, "1. 80" style lines or, for a single
// text, a bare number. Scores are clamped to [0, 100].
func parseScores(resp string, n int) ([]int, error) {
	if arr := jsonArray.FindString(resp); arr != "" {
		var floats []float64
		if err := json.Unmarshal([]byte(arr), &floats); err == nil && len(floats) == n {
			scores := make([]int, n)
			for i, f := range floats {
				scores[i] = clampScore(int(f + 0.5))
			}
			return scores, nil
		}
	}

	if matches := numberedLine.FindAllStringSubmatch(resp, -1); len(matches) >= n {
		scores := make([]int, n)
		found := 0
		for _, mt := range matches {
			idx, _ := strconv.Atoi(mt[1])
			val, _ := strconv.Atoi(mt[2])
			if idx >= 1 && idx <= n {
				scores[idx-1] = clampScore(val)
				found++
			}
		}
		if found == n {
			return scores, nil
		}
	}

	if n == 1 {
		if num := anyNumber.FindString(resp); num != "" {
			v, _ := strconv.Atoi(num)
			return []int{clampScore(v)}, nil
		}
	}
	return nil, fmt.Errorf("expected %d scores in response %q", n, news.Truncate(resp, 120))
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// sanitizeContent collapses whitespace and cuts long text at a sentence end.
func sanitizeContent(content string, maxChars int) string {
	content = strings.Join(strings.Fields(strings.ReplaceAll(content, "\r", "")), " ")
	if maxChars <= 0 || utf8.RuneCountInString(content) <= maxChars {
		return content
	}
	runes := []rune(content)
	trimmed := string(runes[:maxChars])
	if idx := strings.LastIndex(trimmed, ". "); idx > maxChars/4 {
		trimmed = trimmed[:idx+1]
	}
	return trimmed
}
