package evaluator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newParser(t *testing.T) *ResponseParser {
	t.Helper()
	p, err := NewResponseParser()
	require.NoError(t, err)
	return p
}

func TestParseFlatShapeWithSurroundingText(t *testing.T) {
	content := "Segue a análise:\n```json\n" + `{
  "score": 7.5,
  "analysis": "Candidato com boa aderência",
  "strengths": ["Vendas B2B", "Negociação"],
  "weaknesses": ["Pouca experiência com CRM"],
  "matched_requirements": ["Vendas"],
  "missing_requirements": ["Inglês"]
}` + "\n```\nObrigado."

	result, shape, err := newParser(t).Parse(content)
	require.NoError(t, err)

	assert.Equal(t, "flat", shape)
	assert.Equal(t, 7.5, result.Score)
	assert.Equal(t, "Candidato com boa aderência", result.Analysis)
	assert.Equal(t, []string{"Vendas B2B", "Negociação"}, result.Strengths)
	assert.Equal(t, []string{"Pouca experiência com CRM"}, result.Weaknesses)
	assert.Equal(t, []string{"Vendas"}, result.MatchedRequirements)
	assert.Equal(t, []string{"Inglês"}, result.MissingRequirements)
}

func TestParseNestedShape(t *testing.T) {
	content := `{
  "avaliacao": {
    "pontuacao_final": "8",
    "justificativa": "Boa comunicação",
    "pontos_fortes": [{"requirement": "Vendas"}, {"description": "Inglês fluente"}, 3],
    "pontos_que_deixam_a_desejar": ["Sem liderança"],
    "requisitos_atendidos": [{"requirement": "Vendas", "evidence": "5 anos"}],
    "requisitos_nao_atendidos": [{"other": true}]
  }
}`

	result, shape, err := newParser(t).Parse(content)
	require.NoError(t, err)

	assert.Equal(t, "avaliacao", shape)
	assert.Equal(t, 8.0, result.Score)
	assert.Equal(t, "Boa comunicação", result.Analysis)
	assert.Equal(t, []string{"Vendas", "Inglês fluente", "3"}, result.Strengths)
	assert.Equal(t, []string{"Sem liderança"}, result.Weaknesses)
	assert.Equal(t, []string{"Vendas"}, result.MatchedRequirements)
	assert.Equal(t, []string{`{"other": true}`}, result.MissingRequirements)
}

func TestParseNestedShapeFallbacks(t *testing.T) {
	result, _, err := newParser(t).Parse(`{"avaliacao": {"pontuacao": 6, "resumo": "Resumo curto"}}`)
	require.NoError(t, err)

	assert.Equal(t, 6.0, result.Score)
	assert.Equal(t, "Resumo curto", result.Analysis)
	assert.Empty(t, result.Strengths)
	assert.NotNil(t, result.Strengths)
}

func TestParseScoreCoercion(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  float64
	}{
		{"texto", `{"score": "alto"}`, 0},
		{"nulo", `{"score": null}`, 0},
		{"acima do limite", `{"score": 15}`, 10},
		{"negativo", `{"score": -2}`, 0},
		{"string numérica", `{"score": "6,5"}`, 6.5},
	}
	p := newParser(t)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, _, err := p.Parse(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.want, result.Score)
			assert.Equal(t, analysisUnavailable, result.Analysis)
		})
	}
}

func TestParseRejectsMissingJSON(t *testing.T) {
	_, _, err := newParser(t).Parse("Não consegui avaliar o candidato.")
	assert.ErrorIs(t, err, ErrNoJSON)
}

func TestParseRejectsUnknownShape(t *testing.T) {
	_, _, err := newParser(t).Parse(`{"nota": 9}`)
	assert.ErrorIs(t, err, ErrUnknownShape)
}

func TestParseRejectsBrokenJSON(t *testing.T) {
	_, _, err := newParser(t).Parse(`{"score": 7, "strengths": [}`)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoJSON)
}

func TestParseRejectsUnescapedQuotes(t *testing.T) {
	_, _, err := newParser(t).Parse(`{"score": 6, "analysis": "Disse "ótimo" na entrevista"}`)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoJSON)
}

func TestParseRejectsInvalidUTF8(t *testing.T) {
	_, _, err := newParser(t).Parse("{\"score\": 6, \"analysis\": \"bom \xff\xfe\"}")
	require.Error(t, err)
}

func TestParseStripsBOM(t *testing.T) {
	result, _, err := newParser(t).Parse("\uFEFF{\"score\": 4}")
	require.NoError(t, err)
	assert.Equal(t, 4.0, result.Score)
}
