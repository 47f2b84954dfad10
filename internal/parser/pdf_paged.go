package parser

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"stage-ai-go/internal/logger"

	"github.com/dslipak/pdf"
)

// PagedPDFExtractor 逐页提取 PDF 文本，单页失败只跳过该页
type PagedPDFExtractor struct{}

// NewPagedPDFExtractor 创建逐页 PDF 提取器
func NewPagedPDFExtractor() *PagedPDFExtractor {
	return &PagedPDFExtractor{}
}

// ExtractFromFile 实现 DocumentExtractor
func (e *PagedPDFExtractor) ExtractFromFile(ctx context.Context, filePath string) (string, map[string]interface{}, error) {
	startTime := time.Now()

	file, err := os.Open(filePath)
	if err != nil {
		return "", nil, fmt.Errorf("打开PDF文件失败: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", nil, fmt.Errorf("读取PDF文件信息失败: %w", err)
	}

	reader, err := pdf.NewReader(file, info.Size())
	if err != nil {
		return "", nil, fmt.Errorf("解析PDF失败: %w", err)
	}

	numPages := reader.NumPage()
	pages := make([]string, 0, numPages)
	skipped := 0
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return "", nil, err
		}
		text, ok := pageText(reader, i)
		if !ok {
			skipped++
			continue
		}
		if strings.TrimSpace(text) != "" {
			pages = append(pages, text)
		}
	}

	if skipped > 0 {
		logger.Warn().Str("file", filePath).Int("skipped_pages", skipped).Int("pages", numPages).Msg("部分PDF页面提取失败，已跳过")
	}

	metadata := map[string]interface{}{
		"pages":                  numPages,
		"skipped_pages":          skipped,
		"processing_duration_ms": time.Since(startTime).Milliseconds(),
	}
	return strings.Join(pages, "\n"), metadata, nil
}

// pageText 提取单页文本；库内部 panic 或返回错误都视为该页失败
func pageText(reader *pdf.Reader, index int) (text string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Debug().Int("page", index).Interface("panic", r).Msg("PDF页面解析panic")
			text, ok = "", false
		}
	}()

	page := reader.Page(index)
	if page.V.IsNull() {
		return "", true
	}
	content, err := page.GetPlainText(nil)
	if err != nil {
		logger.Debug().Int("page", index).Err(err).Msg("PDF页面提取失败")
		return "", false
	}
	return content, true
}
