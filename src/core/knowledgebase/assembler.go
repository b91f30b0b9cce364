package knowledgebase

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tmc/langchaingo/prompts"
)

const (
	groundedPromptTmpl = `Você é um assistente que responde perguntas usando exclusivamente os trechos de documentos abaixo.
Trate os trechos como a verdade absoluta, mesmo que contradigam o seu conhecimento prévio.
Ao usar informação de um trecho, cite a origem no formato [Fonte: <título>], com o título exatamente como aparece entre parênteses.
Se os trechos não forem suficientes para responder, diga isso claramente.

{{range .evidence}}Trecho {{.Index}} ({{.Title}}): {{.Text}}

{{end}}Pergunta: {{.question}}
Resposta:`

	noContextPromptTmpl = `Você é um assistente prestativo. Nenhum documento relevante foi encontrado na base de conhecimento para esta pergunta.
Responda com o seu conhecimento geral e deixe claro que a resposta não se baseia em documentos da base.

Pergunta: {{.question}}
Resposta:`
)

var citationMarker = regexp.MustCompile(`\[Fonte:\s*([^\]]+?)\s*\]`)

// Evidence is one numbered block injected into the prompt.
type Evidence struct {
	Index int     `json:"index"`
	Title string  `json:"title"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// Prompt is the assembled generator input together with the evidence it carries.
type Prompt struct {
	Text     string
	Evidence []Evidence
}

// ContextUsed reports whether the prompt carries retrieved evidence.
func (p *Prompt) ContextUsed() bool {
	return len(p.Evidence) > 0
}

// ContextAssembler renders retrieved chunks into a generator prompt.
type ContextAssembler struct {
	grounded  prompts.PromptTemplate
	noContext prompts.PromptTemplate
}

func NewContextAssembler() *ContextAssembler {
	return &ContextAssembler{
		grounded:  prompts.NewPromptTemplate(groundedPromptTmpl, []string{"question", "evidence"}),
		noContext: prompts.NewPromptTemplate(noContextPromptTmpl, []string{"question"}),
	}
}

// Assemble builds the prompt for question. Hits are numbered from 1 in the
// order given; with no hits the no-context prompt is used.
func (a *ContextAssembler) Assemble(question string, hits []ScoredChunk) (*Prompt, error) {
	if len(hits) == 0 {
		text, err := a.noContext.Format(map[string]any{"question": question})
		if err != nil {
			return nil, fmt.Errorf("failed to render prompt: %w", err)
		}
		return &Prompt{Text: text}, nil
	}

	evidence := make([]Evidence, len(hits))
	for i, h := range hits {
		evidence[i] = Evidence{
			Index: i + 1,
			Title: h.Chunk.Title,
			Text:  h.Chunk.Text,
			Score: h.Score,
		}
	}

	text, err := a.grounded.Format(map[string]any{
		"question": question,
		"evidence": evidence,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render prompt: %w", err)
	}
	return &Prompt{Text: text, Evidence: evidence}, nil
}

// ResolveCitations maps every [Fonte: <title>] marker in answer back to the
// evidence it names. Each title appears once, in order of first citation;
// titles that are not part of evidence are ignored.
func ResolveCitations(answer string, evidence []Evidence) []Evidence {
	byTitle := make(map[string]Evidence, len(evidence))
	for _, e := range evidence {
		byTitle[e.Title] = e
	}

	var cited []Evidence
	seen := make(map[string]bool)
	for _, m := range citationMarker.FindAllStringSubmatch(answer, -1) {
		title := strings.TrimSpace(m[1])
		e, ok := byTitle[title]
		if !ok || seen[title] {
			continue
		}
		seen[title] = true
		cited = append(cited, e)
	}
	return cited
}
