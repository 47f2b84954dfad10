package parser

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"stage-ai-go/internal/logger"

	"github.com/cloudwego/eino-ext/components/document/parser/pdf"
	einoParser "github.com/cloudwego/eino/components/document/parser"
)

// EinoPDFTextExtractor 使用 Eino PDF Parser 按页提取文本
type EinoPDFTextExtractor struct {
	parser *pdf.PDFParser
}

// NewEinoPDFTextExtractor 初始化 Eino PDF 文本提取器，每页一个文档
func NewEinoPDFTextExtractor(ctx context.Context) (*EinoPDFTextExtractor, error) {
	p, err := pdf.NewPDFParser(ctx, &pdf.Config{
		ToPages: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Eino PDF parser: %w", err)
	}
	return &EinoPDFTextExtractor{parser: p}, nil
}

// ExtractFromFile 实现 DocumentExtractor
func (e *EinoPDFTextExtractor) ExtractFromFile(ctx context.Context, filePath string) (string, map[string]interface{}, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", nil, fmt.Errorf("failed to open PDF file %s: %w", filePath, err)
	}
	defer file.Close()

	extraMeta := map[string]interface{}{
		"source_file_path": filePath,
		"extraction_time":  time.Now().Format(time.RFC3339),
	}
	return e.ExtractTextFromReader(ctx, file, filePath, extraMeta)
}

// ExtractTextFromReader 从 io.Reader 中提取文本，页之间以换行连接
func (e *EinoPDFTextExtractor) ExtractTextFromReader(ctx context.Context, reader io.Reader, uri string, extraMeta map[string]interface{}) (string, map[string]interface{}, error) {
	if extraMeta == nil {
		extraMeta = make(map[string]interface{})
	}

	startTime := time.Now()
	docs, err := e.parser.Parse(ctx, reader,
		einoParser.WithURI(uri),
		einoParser.WithExtraMeta(extraMeta),
	)
	duration := time.Since(startTime)
	if err != nil {
		logger.Warn().Err(err).Str("uri", uri).Dur("duration", duration).Msg("Eino PDF解析失败")
		return "", extraMeta, fmt.Errorf("eino PDF parser failed for URI %s: %w", uri, err)
	}

	pages := make([]string, 0, len(docs))
	for _, doc := range docs {
		if doc == nil || strings.TrimSpace(doc.Content) == "" {
			continue
		}
		pages = append(pages, doc.Content)
	}

	metadata := make(map[string]interface{}, len(extraMeta)+3)
	for k, v := range extraMeta {
		metadata[k] = v
	}
	metadata["pages"] = len(docs)
	metadata["processing_duration_ms"] = duration.Milliseconds()

	text := strings.Join(pages, "\n")
	metadata["text_length"] = len(text)
	return text, metadata, nil
}
