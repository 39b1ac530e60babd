package topics

import "github.com/deusflow/newsdigest/internal/news"

// Default is the registry used across the pipeline.
var Default = NewDefault()

func NewDefault() *Registry {
	return &Registry{
		Order: []string{
			"politica", "economia", "tecnologia", "saude", "ciencia",
			"educacao", "internacional", "meio ambiente", "esportes", "entretenimento",
			news.GeneralTopic,
		},
		Topics: map[string][]string{
			"politica": {
				"governo", "presidente", "senado", "congresso", "camara", "deputado", "senador",
				"ministro", "eleicao", "eleicoes", "stf", "supremo", "lei", "projeto de lei",
				"partido", "politica", "planalto", "politics", "election", "government",
			},
			"economia": {
				"economia", "inflacao", "juros", "selic", "pib", "mercado", "dolar", "bolsa",
				"ibovespa", "banco central", "imposto", "reforma tributaria", "emprego",
				"desemprego", "investimento", "economy", "inflation", "market",
			},
			"tecnologia": {
				"tecnologia", "inteligencia artificial", "ia", "ai", "software", "startup",
				"aplicativo", "internet", "celular", "smartphone", "ciberseguranca", "dados",
				"big tech", "google", "apple", "microsoft", "openai", "chip", "technology",
			},
			"saude": {
				"saude", "sus", "vacina", "hospital", "doenca", "medico", "medicamento",
				"anvisa", "epidemia", "dengue", "tratamento", "health", "vaccine",
			},
			"ciencia": {
				"ciencia", "pesquisa", "cientistas", "estudo", "universidade", "nasa",
				"espaco", "descoberta", "science", "research",
			},
			"educacao": {
				"educacao", "escola", "enem", "professor", "alunos", "ensino", "mec",
			},
			"internacional": {
				"eua", "china", "russia", "ucrania", "europa", "onu", "guerra", "israel",
				"otan", "internacional", "world",
			},
			"meio ambiente": {
				"meio ambiente", "clima", "amazonia", "desmatamento", "queimadas",
				"aquecimento global", "sustentabilidade", "climate",
			},
			"esportes": {
				"futebol", "campeonato", "brasileirao", "copa", "gol", "selecao",
				"olimpiadas", "formula 1", "tenis", "esporte", "sports",
			},
			"entretenimento": {
				"novela", "celebridade", "famosos", "cinema", "filme", "serie", "musica",
				"show", "bbb", "reality", "entertainment",
			},
			news.GeneralTopic: {},
		},
		Aliases: map[string]string{
			"politics":      "politica",
			"economy":       "economia",
			"tech":          "tecnologia",
			"technology":    "tecnologia",
			"health":        "saude",
			"science":       "ciencia",
			"education":     "educacao",
			"world":         "internacional",
			"environment":   "meio ambiente",
			"sports":        "esportes",
			"esporte":       "esportes",
			"entertainment": "entretenimento",
			"geral":         news.GeneralTopic,
		},
		HighRelevance: []string{
			"governo", "presidente", "senado", "congresso", "ministro", "stf", "eleicao",
			"economia", "inflacao", "juros", "pib", "reforma", "imposto", "banco central",
			"lei", "orcamento",
		},
		MediumRelevance: []string{
			"tecnologia", "inteligencia artificial", "saude", "vacina", "educacao", "pesquisa",
			"clima", "seguranca", "emprego", "investimento",
		},
		LowRelevance: []string{
			"novela", "celebridade", "famosos", "bbb", "reality", "fofoca", "futebol",
			"campeonato", "gol", "show",
		},
		Excluded: []string{
			"horoscopo", "signos", "receita de", "palavras cruzadas", "previsao do tempo",
			"loteria", "mega sena", "resultado da quina",
		},
		TrustedSources: []string{
			"g1", "folha", "estadao", "uol", "bbc", "reuters", "agencia brasil",
			"valor", "cnn brasil", "poder360", "nexo",
		},
		stopWords: newStopWords(
			// pt
			"a", "o", "as", "os", "um", "uma", "de", "da", "do", "das", "dos", "e", "em",
			"no", "na", "nos", "nas", "por", "para", "com", "sem", "que", "se", "ao", "aos",
			"como", "mais", "mas", "ou", "sua", "seu", "suas", "seus", "sobre", "apos",
			"entre", "ate", "foi", "sao", "ser", "esta", "este", "essa", "esse", "isso",
			"pelo", "pela", "pelos", "pelas", "diz", "vai", "tem", "nova", "novo",
			// en
			"the", "an", "and", "of", "to", "in", "on", "for", "with", "is", "are", "was",
			"by", "at", "from", "that", "this", "after", "new", "says",
		),
	}
}
