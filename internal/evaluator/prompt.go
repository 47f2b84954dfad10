package evaluator

import (
	"fmt"
	"strconv"
	"strings"

	"stage-ai-go/internal/types"
)

// 模板中的三个替换点
const (
	placeholderStage        = "{{STAGE_DESCRIPTION}}"
	placeholderRequirements = "{{REQUIREMENTS_LIST}}"
	placeholderCandidate    = "{{CANDIDATE_INFO}}"
)

// DefaultPromptTemplate 内置的评估提示词
const DefaultPromptTemplate = `Analise o candidato para a vaga baseado nas informações fornecidas.

DESCRIÇÃO DA ETAPA:
{{STAGE_DESCRIPTION}}

REQUISITOS DA ETAPA:
{{REQUIREMENTS_LIST}}

INFORMAÇÕES DO CANDIDATO:
{{CANDIDATE_INFO}}

INSTRUÇÕES CRÍTICAS:
1. USE APENAS as informações reais do candidato fornecidas acima
2. NÃO invente dados fictícios como "João Silva" ou empresas genéricas
3. Se o currículo estiver vazio ou incompleto, mencione isso na análise
4. Baseie-se EXCLUSIVAMENTE no conteúdo real do currículo do candidato

Forneça uma análise detalhada em JSON válido com a seguinte estrutura:

{
  "score": pontuação de 0 a 10 (float),
  "analysis": resumo textual detalhado da análise do candidato REAL,
  "strengths": array de strings com pontos fortes específicos baseados no currículo REAL,
  "weaknesses": array de strings com pontos de melhoria específicos baseados no currículo REAL,
  "matched_requirements": array de strings com requisitos atendidos pelo candidato REAL,
  "missing_requirements": array de strings com requisitos não atendidos pelo candidato REAL
}

IMPORTANTE:
- Use APENAS dados reais do candidato fornecido
- Se não houver informações suficientes, mencione isso na justificativa
- Seja específico e baseie-se na descrição da etapa e nas informações REAIS do candidato

INSTRUÇÕES DETALHADAS:

1. ANÁLISE ESPECÍFICA DO CURRÍCULO:
   - Leia cuidadosamente o currículo do candidato
   - Identifique experiências, habilidades e competências mencionadas
   - Compare com os requisitos da etapa
   - Seja específico sobre o que foi encontrado ou não encontrado

2. MATCHED_REQUIREMENTS (Requisitos Atendidos):
   - Liste especificamente quais requisitos foram atendidos
   - Exemplo: "Demonstra experiência sólida em React com projetos em produção"
   - Exemplo: "Possui conhecimento avançado em Python com frameworks Django"
   - Exemplo: "Experiência comprovada em liderança de equipes de desenvolvimento"
   - NÃO use textos genéricos como "experiência relevante"

3. MISSING_REQUIREMENTS (Requisitos Não Atendidos):
   - Liste especificamente quais requisitos não foram atendidos
   - Exemplo: "Falta experiência específica em Docker e containerização"
   - Exemplo: "Não demonstra conhecimento em AWS ou cloud computing"
   - Exemplo: "Ausência de experiência com metodologias ágeis (Scrum/Kanban)"
   - Seja específico sobre o que falta, não genérico

4. STRENGTHS (Pontos Fortes):
   - Identifique pontos fortes específicos do candidato
   - Exemplo: "Experiência sólida em React com componentes reutilizáveis"

5. WEAKNESSES (Pontos de Melhoria):
   - Identifique pontos de melhoria específicos do candidato
   - Exemplo: "Falta de experiência em tecnologias específicas"

6. FORMATAÇÃO:
   - TODOS os campos de lista devem ser arrays de strings simples
   - Cada item deve ser uma análise específica e detalhada
   - Evite respostas genéricas ou vagas
   - Baseie-se no conteúdo real do currículo fornecido
`

// RenderPrompt 把阶段描述、要求列表和候选人文本填入模板；template 为空时使用内置模板
func RenderPrompt(template, stageDescription string, requirements []types.Requirement, candidateText string) string {
	if strings.TrimSpace(template) == "" {
		template = DefaultPromptTemplate
	}
	replacer := strings.NewReplacer(
		placeholderStage, stageDescription,
		placeholderRequirements, FormatRequirements(requirements),
		placeholderCandidate, candidateText,
	)
	return replacer.Replace(template)
}

// FormatRequirements 每个要求一行："- 名称: 描述 (peso: 权重)"
func FormatRequirements(requirements []types.Requirement) string {
	lines := make([]string, 0, len(requirements))
	for _, req := range requirements {
		lines = append(lines, fmt.Sprintf("- %s: %s (peso: %s)", req.Label, req.Description, formatWeight(req.Weight)))
	}
	return strings.Join(lines, "\n")
}

// formatWeight 整数权重保留一位小数，例如 2 -> "2.0"
func formatWeight(w float64) string {
	if w == float64(int64(w)) {
		return strconv.FormatFloat(w, 'f', 1, 64)
	}
	return strconv.FormatFloat(w, 'f', -1, 64)
}
