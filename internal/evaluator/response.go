package evaluator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"stage-ai-go/internal/scoring"
	"stage-ai-go/internal/types"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

const analysisUnavailable = "Análise não disponível"

var (
	// ErrNoJSON 响应中找不到 JSON 对象
	ErrNoJSON = errors.New("JSON não encontrado na resposta")
	// ErrUnknownShape JSON 合法但不符合任何已知结构
	ErrUnknownShape = errors.New("estrutura de resposta desconhecida")
)

// ResponseSchema 通过 response_format 提示模型输出的结构
var ResponseSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "score": {"type": "number", "minimum": 0, "maximum": 10},
    "analysis": {"type": "string"},
    "strengths": {"type": "array", "items": {"type": "string"}},
    "weaknesses": {"type": "array", "items": {"type": "string"}},
    "matched_requirements": {"type": "array", "items": {"type": "string"}},
    "missing_requirements": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["score", "analysis", "strengths", "weaknesses", "matched_requirements", "missing_requirements"],
  "additionalProperties": false
}`)

// 两种已知结构：顶层字段，或嵌套在 avaliacao 下的葡萄牙语字段
const (
	flatShapeSchema = `{
  "type": "object",
  "required": ["score"]
}`
	nestedShapeSchema = `{
  "type": "object",
  "required": ["avaliacao"],
  "properties": {"avaliacao": {"type": "object"}}
}`
)

type responseShape struct {
	name   string
	schema *jsonschema.Schema
	decode func(gjson.Result) types.EvaluationResult
}

// ResponseParser 按优先级尝试每种结构并归一化为 EvaluationResult
type ResponseParser struct {
	shapes []responseShape
}

// NewResponseParser 编译结构识别用的 schema
func NewResponseParser() (*ResponseParser, error) {
	flat, err := compileSchema("flat.json", flatShapeSchema)
	if err != nil {
		return nil, err
	}
	nested, err := compileSchema("nested.json", nestedShapeSchema)
	if err != nil {
		return nil, err
	}
	return &ResponseParser{
		shapes: []responseShape{
			{name: "flat", schema: flat, decode: decodeFlat},
			{name: "avaliacao", schema: nested, decode: decodeNested},
		},
	}, nil
}

func compileSchema(name, src string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(src)); err != nil {
		return nil, fmt.Errorf("加载schema %s 失败: %w", name, err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("编译schema %s 失败: %w", name, err)
	}
	return schema, nil
}

// Parse 从模型输出中截取第一个 '{' 到最后一个 '}' 之间的内容并解析。
// 返回识别出的结构名。
func (p *ResponseParser) Parse(content string) (types.EvaluationResult, string, error) {
	jsonStr, err := extractJSON(content)
	if err != nil {
		return types.EvaluationResult{}, "", err
	}

	var doc interface{}
	if err := json.Unmarshal([]byte(jsonStr), &doc); err != nil {
		return types.EvaluationResult{}, "", fmt.Errorf("解析JSON失败: %w", err)
	}

	root := gjson.Parse(jsonStr)
	for _, shape := range p.shapes {
		if shape.schema.Validate(doc) != nil {
			continue
		}
		result := shape.decode(root)
		result.Score = scoring.ClampScore(result.Score)
		return result, shape.name, nil
	}
	return types.EvaluationResult{}, "", ErrUnknownShape
}

// extractJSON 截取 JSON 子串；不合法的 JSON 直接返回错误，不做任何修补
func extractJSON(content string) (string, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end < start {
		return "", ErrNoJSON
	}

	jsonStr := content[start : end+1]
	if !utf8.ValidString(jsonStr) || !gjson.Valid(jsonStr) {
		return "", fmt.Errorf("JSON inválido na resposta: %.200s", jsonStr)
	}
	return jsonStr, nil
}

func decodeFlat(root gjson.Result) types.EvaluationResult {
	return types.EvaluationResult{
		Score:               numberOrZero(root.Get("score")),
		Analysis:            firstString(analysisUnavailable, root.Get("analysis")),
		Strengths:           stringList(root.Get("strengths")),
		Weaknesses:          stringList(root.Get("weaknesses")),
		MatchedRequirements: stringList(root.Get("matched_requirements")),
		MissingRequirements: stringList(root.Get("missing_requirements")),
	}
}

func decodeNested(root gjson.Result) types.EvaluationResult {
	av := root.Get("avaliacao")

	score := av.Get("pontuacao_final")
	if !score.Exists() {
		score = av.Get("pontuacao")
	}

	return types.EvaluationResult{
		Score: numberOrZero(score),
		Analysis: firstString(analysisUnavailable,
			av.Get("justificativa_pontuacao"),
			av.Get("justificativa"),
			av.Get("analise"),
			av.Get("resumo"),
		),
		Strengths:           stringList(av.Get("pontos_fortes")),
		Weaknesses:          stringList(av.Get("pontos_que_deixam_a_desejar")),
		MatchedRequirements: stringList(av.Get("requisitos_atendidos")),
		MissingRequirements: stringList(av.Get("requisitos_nao_atendidos")),
	}
}

// numberOrZero 数字或数字字符串；其他情况为 0
func numberOrZero(v gjson.Result) float64 {
	switch v.Type {
	case gjson.Number:
		return v.Float()
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.Replace(v.Str, ",", ".", 1)), 64)
		if err == nil {
			return f
		}
	}
	return 0
}

// firstString 第一个存在的字段；非字符串值取其原始 JSON
func firstString(fallback string, candidates ...gjson.Result) string {
	for _, c := range candidates {
		if !c.Exists() || c.Type == gjson.Null {
			continue
		}
		if c.Type == gjson.String {
			return c.Str
		}
		return c.Raw
	}
	return fallback
}

// stringList 列表项可以是字符串，也可以是带 requirement/description 的对象；其余取原始 JSON
func stringList(v gjson.Result) []string {
	if !v.IsArray() {
		return []string{}
	}
	items := v.Array()
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, coerceItem(item))
	}
	return out
}

func coerceItem(item gjson.Result) string {
	switch {
	case item.Type == gjson.String:
		return item.Str
	case item.IsObject():
		if req := item.Get("requirement"); req.Exists() {
			return req.String()
		}
		if desc := item.Get("description"); desc.Exists() {
			return desc.String()
		}
	}
	return item.Raw
}
