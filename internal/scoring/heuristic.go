package scoring

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"stage-ai-go/internal/types"
)

// 固定输出条目数
const (
	StrengthTarget = 4
	WeaknessTarget = 3
	MatchedTarget  = 3

	stageFocusMaxRunes = 140
	infoWordsCap       = 400
	detailedWordCount  = 200
	sparseWordCount    = 120

	coverageWeight = 0.45
	stageWeight    = 0.35
	infoWeight     = 0.20

	externalBlendWeight  = 0.7
	heuristicBlendWeight = 0.3
)

// 与简历缺失、要求占位相关的固定文案
const (
	defaultRequirementLabel = "Requisito da etapa"
	noPendingRequirement    = "Nenhum requisito pendente identificado."
	allRequirementsMapped   = "Todos os requisitos informados foram mapeados no currículo."
	emptyStageDescription   = "Descrição da etapa não informada."
	defaultStageFocus       = "esta etapa"

	// ResumeMissingWeakness 简历为空时的固定弱项
	ResumeMissingWeakness = "Currículo não fornecido; não foi possível avaliar o candidato para esta etapa."
	// ResumeMissingRequirement 简历为空时的固定缺失要求
	ResumeMissingRequirement = "Currículo não fornecido: nenhum requisito pôde ser verificado."
)

var (
	wordPattern       = regexp.MustCompile(`[\p{L}\p{M}\p{N}_]+`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// RawAnalysis 上游（例如部分可用的 LLM 结果）提供的原始条目与分数
type RawAnalysis struct {
	Strengths  []string
	Weaknesses []string
	Matched    []string
	Missing    []string
	Score      *float64
}

// Scorer 启发式评分器，无状态、无 I/O
type Scorer struct{}

// NewScorer 创建启发式评分器
func NewScorer() *Scorer {
	return &Scorer{}
}

// Score 计算启发式结果
func (s *Scorer) Score(resumeText, stageDescription string, requirements []types.Requirement) types.EvaluationResult {
	return Evaluate(resumeText, stageDescription, requirements)
}

// Evaluate 对简历文本做纯启发式评估。相同输入总是得到相同输出。
func Evaluate(resumeText, stageDescription string, requirements []types.Requirement) types.EvaluationResult {
	return PrepareStructuredAnalysis(resumeText, stageDescription, requirements, RawAnalysis{})
}

// PrepareStructuredAnalysis 把原始条目与启发式信号合并为固定形状的结果。
// raw.Score 非空时按 0.7/0.3 与启发式分数混合（启发式分数为0时直接使用外部分数）。
func PrepareStructuredAnalysis(resumeText, stageDescription string, requirements []types.Requirement, raw RawAnalysis) types.EvaluationResult {
	stageFocus := summarizeStageDescription(stageDescription)

	if strings.TrimSpace(resumeText) == "" {
		return missingResumeResult(stageDescription, stageFocus)
	}

	sig := collectSignals(resumeText, stageDescription, requirements)

	strengths := ensureExactCount(mergeLists(raw.Strengths, sig.strengths), StrengthTarget, func(i int) string {
		return strengthPlaceholder(i, stageFocus)
	})
	weaknesses := ensureExactCount(mergeLists(raw.Weaknesses, sig.weaknesses), WeaknessTarget, func(i int) string {
		return weaknessPlaceholder(i, stageFocus)
	})
	matched := ensureExactCount(mergeLists(raw.Matched, sig.matched), MatchedTarget, func(i int) string {
		return matchedPlaceholder(i, stageFocus)
	})
	missing := mergeLists(raw.Missing, sig.missing)
	if len(missing) == 0 {
		missing = []string{noPendingRequirement}
	}

	score := sig.score
	if raw.Score != nil {
		external := clampScore(*raw.Score)
		if sig.score > 0 {
			score = round1(external*externalBlendWeight + sig.score*heuristicBlendWeight)
		} else {
			score = external
		}
	}
	score = clampScore(score)

	return types.EvaluationResult{
		Score:               score,
		Analysis:            buildAnalysisText(stageDescription, score, strengths, weaknesses, matched, missing),
		Strengths:           strengths,
		Weaknesses:          weaknesses,
		MatchedRequirements: matched,
		MissingRequirements: missing,
	}
}

func missingResumeResult(stageDescription, stageFocus string) types.EvaluationResult {
	strengths := ensureExactCount(nil, StrengthTarget, func(i int) string {
		return strengthPlaceholder(i, stageFocus)
	})
	weaknesses := ensureExactCount([]string{ResumeMissingWeakness}, WeaknessTarget, func(i int) string {
		return weaknessPlaceholder(i, stageFocus)
	})
	matched := ensureExactCount(nil, MatchedTarget, func(i int) string {
		return matchedPlaceholder(i, stageFocus)
	})
	missing := []string{ResumeMissingRequirement}

	return types.EvaluationResult{
		Score:               0,
		Analysis:            buildAnalysisText(stageDescription, 0, strengths, weaknesses, matched, missing),
		Strengths:           strengths,
		Weaknesses:          weaknesses,
		MatchedRequirements: matched,
		MissingRequirements: missing,
	}
}

type requirementEntry struct {
	label  string
	weight float64
}

type signals struct {
	score      float64
	strengths  []string
	weaknesses []string
	matched    []string
	missing    []string
}

func collectSignals(resumeText, stageDescription string, requirements []types.Requirement) signals {
	resumeLower := strings.ToLower(resumeText)
	wordCount := len(tokenize(resumeText))

	stageKeywords := stageKeywords(stageDescription)
	var stageMatches []string
	for _, kw := range stageKeywords {
		if strings.Contains(resumeLower, kw) {
			stageMatches = append(stageMatches, kw)
		}
	}
	stageRatio := 0.0
	if len(stageKeywords) > 0 {
		stageRatio = float64(len(stageMatches)) / float64(len(stageKeywords))
	}

	var matchedEntries, missingEntries []requirementEntry
	for _, req := range requirements {
		label := req.Label
		if label == "" {
			label = defaultRequirementLabel
		}
		label = strings.TrimSpace(label)
		description := strings.TrimSpace(req.Description)
		weight := req.Weight
		if weight == 0 {
			weight = types.DefaultRequirementWeight
		}

		entry := requirementEntry{label: label, weight: weight}
		if requirementMatches(label, description, resumeLower) {
			matchedEntries = append(matchedEntries, entry)
		} else {
			missingEntries = append(missingEntries, entry)
		}
	}

	coverage := 0.0
	if len(requirements) > 0 {
		coverage = float64(len(matchedEntries)) / float64(len(requirements))
	} else if len(stageKeywords) > 0 {
		coverage = stageRatio
	}
	info := math.Min(1.0, float64(wordCount)/infoWordsCap)

	sig := signals{
		score: round1(clampScore((coverageWeight*coverage + stageWeight*stageRatio + infoWeight*info) * 10)),
	}

	sort.SliceStable(matchedEntries, func(i, j int) bool {
		return matchedEntries[i].weight > matchedEntries[j].weight
	})
	for _, e := range matchedEntries {
		sig.strengths = appendUnique(sig.strengths, fmt.Sprintf("Cumpre o requisito '%s' evidenciado no currículo.", e.label))
		sig.matched = appendUnique(sig.matched, fmt.Sprintf("%s: requisito confirmado pelas informações do currículo.", e.label))
	}
	for _, e := range missingEntries {
		sig.weaknesses = appendUnique(sig.weaknesses, fmt.Sprintf("O currículo não evidencia '%s' conforme solicitado.", e.label))
		sig.missing = appendUnique(sig.missing, fmt.Sprintf("%s: não identificado no currículo.", e.label))
	}

	if len(stageMatches) > 0 {
		sample := stageMatches
		if len(sample) > 3 {
			sample = sample[:3]
		}
		sig.strengths = appendUnique(sig.strengths, fmt.Sprintf("Currículo menciona termos-chave da etapa, como %s.", strings.Join(sample, ", ")))
	} else if len(stageKeywords) > 0 {
		sig.weaknesses = appendUnique(sig.weaknesses, "Não há menções diretas aos temas descritos pelo RH para esta etapa.")
	}

	if wordCount >= detailedWordCount {
		sig.strengths = appendUnique(sig.strengths, "Documento apresenta detalhamento consistente das experiências profissionais.")
	} else {
		sig.strengths = appendUnique(sig.strengths, "Currículo fornece informações suficientes para contextualizar as experiências do candidato.")
	}
	if wordCount < sparseWordCount {
		sig.weaknesses = appendUnique(sig.weaknesses, "Currículo apresenta poucas informações, limitando a validação completa dos requisitos.")
	}

	if strings.Contains(strings.ToLower(stageDescription), "ingl") && !strings.Contains(resumeLower, "ingl") {
		sig.weaknesses = appendUnique(sig.weaknesses, "Requisito de idioma citado na etapa não foi comprovado no currículo.")
	}

	if len(sig.matched) == 0 && len(stageMatches) > 0 {
		sig.matched = appendUnique(sig.matched, fmt.Sprintf("Cita experiências relacionadas a '%s', alinhando-se à descrição da etapa.", stageMatches[0]))
	}
	if len(sig.missing) == 0 && len(requirements) > 0 {
		sig.missing = appendUnique(sig.missing, allRequirementsMapped)
	}

	return sig
}

// requirementMatches 要求名称+描述中长度>3的词出现在简历中即视为满足；
// 短名称（<=3个字符）需要整词匹配。
func requirementMatches(label, description, resumeLower string) bool {
	for _, tok := range tokenize(label + " " + description) {
		if utf8.RuneCountInString(tok) > 3 && strings.Contains(resumeLower, tok) {
			return true
		}
	}
	if label == "" {
		return false
	}

	labelLower := strings.ToLower(label)
	if utf8.RuneCountInString(labelLower) <= 3 {
		return strings.Contains(" "+resumeLower+" ", " "+labelLower+" ")
	}
	return strings.Contains(resumeLower, labelLower)
}

func tokenize(text string) []string {
	return wordPattern.FindAllString(strings.ToLower(text), -1)
}

// stageKeywords 阶段描述中长度>4的去重词，保持出现顺序
func stageKeywords(stageDescription string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, tok := range tokenize(stageDescription) {
		if utf8.RuneCountInString(tok) <= 4 {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

func mergeLists(primary, fallback []string) []string {
	var merged []string
	for _, source := range [][]string{primary, fallback} {
		for _, item := range source {
			merged = appendUnique(merged, item)
		}
	}
	return merged
}

func ensureExactCount(items []string, size int, placeholder func(int) string) []string {
	out := make([]string, 0, size)
	for _, item := range items {
		if item == "" {
			continue
		}
		if len(out) == size {
			break
		}
		out = append(out, item)
	}
	for len(out) < size {
		out = append(out, placeholder(len(out)))
	}
	return out
}

func appendUnique(list []string, text string) []string {
	cleaned := strings.TrimSpace(text)
	if cleaned == "" {
		return list
	}
	for _, existing := range list {
		if existing == cleaned {
			return list
		}
	}
	return append(list, cleaned)
}

func strengthPlaceholder(idx int, stageFocus string) string {
	return fmt.Sprintf("Não há informação suficiente para definir o ponto forte %d; inclua conquistas ligadas a %s.",
		idx+1, strings.ToLower(stageFocus))
}

func weaknessPlaceholder(idx int, stageFocus string) string {
	return fmt.Sprintf("Oportunidade de melhoria %d não pôde ser detalhada; explore lacunas relacionadas a %s.",
		idx+1, strings.ToLower(stageFocus))
}

func matchedPlaceholder(_ int, stageFocus string) string {
	return fmt.Sprintf("Não foi possível confirmar outro requisito atendido; descreva evidências práticas ligadas a %s.",
		strings.ToLower(stageFocus))
}

// summarizeStageDescription 折叠空白；超过140个字符时在最后一个完整词处截断并加省略号
func summarizeStageDescription(stageDescription string) string {
	summary := strings.TrimSpace(whitespacePattern.ReplaceAllString(stageDescription, " "))
	if summary == "" {
		return defaultStageFocus
	}
	runes := []rune(summary)
	if len(runes) <= stageFocusMaxRunes {
		return summary
	}
	truncated := string(runes[:stageFocusMaxRunes])
	if i := strings.LastIndex(truncated, " "); i >= 0 {
		truncated = truncated[:i]
	}
	return truncated + "..."
}

func buildAnalysisText(stageDescription string, score float64, strengths, weaknesses, matched, missing []string) string {
	stageText := strings.TrimSpace(whitespacePattern.ReplaceAllString(stageDescription, " "))
	if stageText == "" {
		stageText = emptyStageDescription
	}

	var b strings.Builder
	b.WriteString("Análise estruturada da etapa:\n")
	fmt.Fprintf(&b, "Descrição considerada: %s\n", stageText)
	fmt.Fprintf(&b, "Pontuação de aderência: %.1f/10\n", score)
	b.WriteString("\n")

	writeSection(&b, fmt.Sprintf("Pontos fortes identificados (%d):", StrengthTarget), strengths)
	b.WriteString("\n")
	writeSection(&b, fmt.Sprintf("Oportunidades de melhoria (%d):", WeaknessTarget), weaknesses)
	b.WriteString("\n")
	writeSection(&b, fmt.Sprintf("Requisitos atendidos prioritários (%d):", MatchedTarget), matched)
	b.WriteString("\n")
	writeSection(&b, "Requisitos pendentes:", missing)

	return strings.TrimSpace(b.String())
}

func writeSection(b *strings.Builder, heading string, items []string) {
	b.WriteString(heading)
	b.WriteString("\n")
	for _, item := range items {
		b.WriteString("- ")
		b.WriteString(item)
		b.WriteString("\n")
	}
}

// ClampScore 把分数限制在 [0,10]；NaN 视为 0
func ClampScore(score float64) float64 {
	return clampScore(score)
}

func clampScore(score float64) float64 {
	if math.IsNaN(score) || score < 0 {
		return 0
	}
	if score > 10 {
		return 10
	}
	return score
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
