package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const articlePage = `<!doctype html>
<html><head>
<title>Senado aprova reforma | Jornal</title>
<meta property="og:image" content="/img/senado.jpg">
</head><body>
<nav><a href="/">Inicio</a></nav>
<article>
<h1>Senado aprova reforma tributaria</h1>
<p>O Senado aprovou nesta quarta-feira, em segundo turno, o texto da reforma tributaria que unifica impostos sobre o consumo.</p>
<p>A proposta recebeu 53 votos favoraveis e 24 contrarios e agora volta para a Camara dos Deputados por causa das alteracoes feitas pelos senadores.</p>
<p>Segundo o relator, a transicao para o novo sistema deve durar sete anos, com periodo de testes a partir de 2026 e extincao gradual dos tributos atuais.</p>
<p>Governadores pediram mudancas no fundo de compensacao, que foi ampliado durante a votacao em plenario.</p>
</article>
</body></html>`

func TestExtractFullArticle(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(articlePage))
	}))
	defer srv.Close()

	s := New(srv.Client(), nil, "newsdigest-test", nil)
	got, err := s.ExtractFullArticle(context.Background(), srv.URL+"/politica/reforma")
	require.NoError(t, err)

	assert.Equal(t, "newsdigest-test", gotUA)
	assert.Equal(t, "Senado aprova reforma tributaria", got.Title)
	assert.Contains(t, got.Content, "unifica impostos sobre o consumo")
	assert.Equal(t, srv.URL+"/img/senado.jpg", got.ImageURL)
}

func TestExtractFullArticle_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := New(srv.Client(), nil, "", nil).ExtractFullArticle(context.Background(), srv.URL)
	assert.Error(t, err)
}

func TestExtractFullArticle_InvalidURL(t *testing.T) {
	_, err := New(nil, nil, "", nil).ExtractFullArticle(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestCleanContent(t *testing.T) {
	in := strings.Join([]string{
		"O Banco Central manteve a taxa Selic em 10,5% ao ano pela terceira vez.",
		"curta",
		"Leia mais: outras noticias sobre economia no portal",
		"Assine nossa newsletter e receba as principais noticias",
		"A decisao foi unanime entre os membros do Copom, segundo o comunicado.",
	}, "\n")

	got := cleanContent(in)
	assert.Equal(t,
		"O Banco Central manteve a taxa Selic em 10,5% ao ano pela terceira vez.\n\n"+
			"A decisao foi unanime entre os membros do Copom, segundo o comunicado.",
		got)
	assert.Equal(t, "", cleanContent(""))
}

func TestExtractImage_FallsBackToImgTag(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<html><body><article><img src="fotos/a.png"></article></body></html>`))
	require.NoError(t, err)

	base, _ := url.Parse("https://g1.globo.com/economia/noticia.html")
	assert.Equal(t, "https://g1.globo.com/economia/fotos/a.png", ExtractImage(doc, base))
}
