package tracing

import "strings"

const (
	// DefaultMaxLength span 属性默认长度上限
	DefaultMaxLength = 200
	// MaxLLMResponseLength 调试日志中模型响应的长度上限
	MaxLLMResponseLength = 300
	// MaxCandidateTextLength 候选人文本只保留很短的片段
	MaxCandidateTextLength = 120
)

// TruncateString 超长时保留首尾两段，中间以 "..." 连接
func TruncateString(s string, maxLength int) string {
	runes := []rune(s)
	if len(runes) <= maxLength {
		return s
	}
	if maxLength <= 3 {
		return string(runes[:maxLength])
	}

	half := (maxLength - 3) / 2
	if half < 1 {
		half = 1
	}
	return string(runes[:half]) + "..." + string(runes[len(runes)-half:])
}

// MaskEmail 隐藏邮箱本地部分，仅保留首字符与域名
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return strings.Repeat("*", len([]rune(email)))
	}
	local := []rune(email[:at])
	return string(local[0]) + strings.Repeat("*", len(local)-1) + email[at:]
}

// SafeLLMResponse 截断模型响应
func SafeLLMResponse(content string) string {
	return TruncateString(content, MaxLLMResponseLength)
}

// SafeCandidateText 压缩空白并截断候选人文本，邮箱会被掩码
func SafeCandidateText(text string) string {
	fields := strings.Fields(text)
	for i, f := range fields {
		if strings.Contains(f, "@") && strings.Contains(f[strings.Index(f, "@"):], ".") {
			fields[i] = MaskEmail(f)
		}
	}
	return TruncateString(strings.Join(fields, " "), MaxCandidateTextLength)
}
