package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"stage-ai-go/internal/logger"
)

// TikaExtractor 基于 Apache Tika 服务器的提取器，处理 PDF 和图片（OCR）
type TikaExtractor struct {
	// Tika服务器地址，例如 http://localhost:9998
	ServerURL string
	Client    *http.Client
	// OCR 语言，例如 "por+eng"
	ocrLanguage string
	// 是否额外请求 /meta 获取关键元数据
	extractMetadata bool
}

// TikaOption 定义配置选项函数
type TikaOption func(*TikaExtractor)

// WithOCRLanguage 设置 X-Tika-OCRLanguage
func WithOCRLanguage(lang string) TikaOption {
	return func(e *TikaExtractor) {
		e.ocrLanguage = lang
	}
}

// WithMetadata 配置是否提取关键元数据
func WithMetadata(extract bool) TikaOption {
	return func(e *TikaExtractor) {
		e.extractMetadata = extract
	}
}

// WithTimeout 配置HTTP客户端超时时间
func WithTimeout(timeout time.Duration) TikaOption {
	return func(e *TikaExtractor) {
		if timeout > 0 {
			e.Client.Timeout = timeout
		}
	}
}

var _ DocumentExtractor = (*TikaExtractor)(nil)

// NewTikaExtractor 创建一个新的 Tika 提取器
func NewTikaExtractor(serverURL string, options ...TikaOption) *TikaExtractor {
	extractor := &TikaExtractor{
		ServerURL: strings.TrimRight(serverURL, "/"),
		Client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
	for _, option := range options {
		option(extractor)
	}
	return extractor
}

// contentTypeFor 按扩展名推断 Content-Type
func contentTypeFor(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}

// ExtractFromFile 实现 DocumentExtractor
func (e *TikaExtractor) ExtractFromFile(ctx context.Context, filePath string) (string, map[string]interface{}, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", nil, fmt.Errorf("读取文件 %s 失败: %w", filePath, err)
	}
	return e.ExtractTextFromBytes(ctx, data, filepath.Base(filePath), contentTypeFor(filePath))
}

// ExtractTextFromBytes 把文件内容 PUT 到 /tika，以纯文本返回
func (e *TikaExtractor) ExtractTextFromBytes(ctx context.Context, data []byte, name string, contentType string) (string, map[string]interface{}, error) {
	startTime := time.Now()

	metadata := map[string]interface{}{
		"extraction_time":  startTime.Format(time.RFC3339),
		"source_file_path": name,
		"content_type":     contentType,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, e.ServerURL+"/tika", bytes.NewReader(data))
	if err != nil {
		return "", metadata, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	e.setHeaders(req, name, contentType)
	req.Header.Set("Accept", "text/plain; charset=UTF-8")

	resp, err := e.Client.Do(req)
	if err != nil {
		return "", metadata, fmt.Errorf("发送请求到Tika服务器失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", metadata, fmt.Errorf("tika服务器返回错误状态码: %d", resp.StatusCode)
	}

	textBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", metadata, fmt.Errorf("读取Tika响应失败: %w", err)
	}
	text := strings.ToValidUTF8(string(textBytes), "")

	metadata["text_length"] = len(text)
	metadata["processing_duration_ms"] = time.Since(startTime).Milliseconds()

	if e.extractMetadata {
		raw, err := e.fetchMetadata(ctx, data, name, contentType)
		if err != nil {
			logger.Warn().Err(err).Str("file", name).Msg("元数据提取失败，继续使用基本元数据")
		} else {
			for k, v := range raw {
				if isImportantMetadata(k) {
					metadata[k] = v
				}
			}
		}
	}

	return text, metadata, nil
}

func (e *TikaExtractor) setHeaders(req *http.Request, name, contentType string) {
	req.Header.Set("Content-Type", contentType)
	if name != "" {
		req.Header.Set("X-Tika-Resource-Name", name)
	}
	if strings.HasPrefix(contentType, "image/") && e.ocrLanguage != "" {
		req.Header.Set("X-Tika-OCRLanguage", e.ocrLanguage)
	}
}

// 判断元数据字段是否重要
func isImportantMetadata(key string) bool {
	switch key {
	case "xmpTPg:NPages", "language", "dc:title", "Content-Type", "pdf:PDFVersion":
		return true
	}
	return false
}

// fetchMetadata 请求 /meta 获取文档元数据
func (e *TikaExtractor) fetchMetadata(ctx context.Context, data []byte, name, contentType string) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, e.ServerURL+"/meta", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	e.setHeaders(req, name, contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := e.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送请求到Tika服务器失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tika服务器返回错误状态码: %d", resp.StatusCode)
	}

	var metadata map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&metadata); err != nil {
		return nil, fmt.Errorf("解析元数据JSON失败: %w", err)
	}
	return metadata, nil
}
