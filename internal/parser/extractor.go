package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"stage-ai-go/internal/logger"
	"stage-ai-go/internal/types"
)

// 提取警告文案
const (
	warnPDFEmpty        = "Nenhum texto extraído do PDF; verifique se é digitalizado."
	warnOCRQuality      = "OCR aplicado em imagem; qualidade pode variar."
	warnLegacyDoc       = "Formato .doc não suportado diretamente. Converta para .docx ou PDF."
	warnUnsupportedFmt  = "Extensão %s não suportada. Envie PDF, DOCX ou TXT."
	warnExtractFailed   = "Falha ao extrair texto do currículo (%s): %v"
	warnDownloadFailed  = "Falha ao ler currículo: %v"
	tempFilePattern     = "resume-*"
	defaultExtractLimit = 2 * time.Minute
)

// ErrOCRDisabled 未配置 OCR 提取器
var ErrOCRDisabled = errors.New("OCR não configurado")

// DocumentExtractor 单一格式的文本提取器
type DocumentExtractor interface {
	// ExtractFromFile 从本地文件提取文本和元数据
	ExtractFromFile(ctx context.Context, filePath string) (string, map[string]interface{}, error)
}

// Fetcher 按存储引用下载文件；返回的名称用于推断扩展名
type Fetcher interface {
	Download(ctx context.Context, ref types.StorageRef) (io.ReadCloser, string, error)
}

// TextExtractor 下载简历并按扩展名分发到具体的提取器。
// 任何失败都转换为警告加空文本，不会向上返回错误。
type TextExtractor struct {
	fetcher Fetcher
	pdf     DocumentExtractor
	docx    DocumentExtractor
	ocr     DocumentExtractor
	tempDir string
	timeout time.Duration
}

// ExtractorOption TextExtractor 配置选项
type ExtractorOption func(*TextExtractor)

// WithPDFExtractor 替换 PDF 提取器
func WithPDFExtractor(ex DocumentExtractor) ExtractorOption {
	return func(e *TextExtractor) {
		if ex != nil {
			e.pdf = ex
		}
	}
}

// WithDOCXExtractor 替换 DOCX 提取器
func WithDOCXExtractor(ex DocumentExtractor) ExtractorOption {
	return func(e *TextExtractor) {
		if ex != nil {
			e.docx = ex
		}
	}
}

// WithOCRExtractor 设置图片 OCR 提取器；为 nil 时图片提取会产生警告
func WithOCRExtractor(ex DocumentExtractor) ExtractorOption {
	return func(e *TextExtractor) {
		e.ocr = ex
	}
}

// WithTempDir 指定临时文件目录
func WithTempDir(dir string) ExtractorOption {
	return func(e *TextExtractor) {
		e.tempDir = dir
	}
}

// WithExtractTimeout 单个文件的提取超时
func WithExtractTimeout(d time.Duration) ExtractorOption {
	return func(e *TextExtractor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// NewTextExtractor 创建文本提取器，默认使用逐页 PDF 提取和内置 DOCX 解析
func NewTextExtractor(fetcher Fetcher, opts ...ExtractorOption) *TextExtractor {
	e := &TextExtractor{
		fetcher: fetcher,
		pdf:     NewPagedPDFExtractor(),
		docx:    NewDOCXExtractor(),
		timeout: defaultExtractLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractResume 下载引用指向的文件并提取文本。临时文件在返回前删除。
func (e *TextExtractor) ExtractResume(ctx context.Context, ref types.StorageRef) (string, []string) {
	if e.fetcher == nil {
		return "", []string{fmt.Sprintf(warnDownloadFailed, "armazenamento não configurado")}
	}

	body, name, err := e.fetcher.Download(ctx, ref)
	if err != nil {
		logger.Warn().Err(err).Str("path", ref.Path).Str("bucket", ref.Bucket).Msg("下载简历失败")
		return "", []string{fmt.Sprintf(warnDownloadFailed, err)}
	}
	defer body.Close()

	tmpPath, err := e.writeTemp(body, path.Ext(name))
	if err != nil {
		logger.Warn().Err(err).Str("object", name).Msg("写入临时文件失败")
		return "", []string{fmt.Sprintf(warnDownloadFailed, err)}
	}
	defer func() {
		if rmErr := os.Remove(tmpPath); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.Warn().Err(rmErr).Str("temp_file", tmpPath).Msg("删除临时文件失败")
		}
	}()

	return e.ExtractFile(ctx, tmpPath)
}

func (e *TextExtractor) writeTemp(r io.Reader, ext string) (string, error) {
	f, err := os.CreateTemp(e.tempDir, tempFilePattern+strings.ToLower(ext))
	if err != nil {
		return "", fmt.Errorf("创建临时文件失败: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("写入临时文件失败: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("关闭临时文件失败: %w", err)
	}
	return f.Name(), nil
}

// ExtractFile 按扩展名分发提取本地文件
func (e *TextExtractor) ExtractFile(ctx context.Context, filePath string) (text string, warnings []string) {
	ext := strings.ToLower(path.Ext(filePath))
	startTime := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Str("file", filePath).Msg("提取文本时发生panic")
			text = ""
			warnings = append(warnings, fmt.Sprintf(warnExtractFailed, ext, r))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var (
		content string
		meta    map[string]interface{}
		err     error
	)

	switch ext {
	case ".pdf":
		content, meta, err = e.pdf.ExtractFromFile(ctx, filePath)
		if err == nil && strings.TrimSpace(content) == "" {
			warnings = append(warnings, warnPDFEmpty)
		}
	case ".docx":
		content, meta, err = e.docx.ExtractFromFile(ctx, filePath)
	case ".txt":
		content, err = readPlainText(filePath)
	case ".png", ".jpg", ".jpeg":
		if e.ocr == nil {
			err = ErrOCRDisabled
			break
		}
		content, meta, err = e.ocr.ExtractFromFile(ctx, filePath)
		if err == nil {
			warnings = append(warnings, warnOCRQuality)
		}
	case ".doc":
		warnings = append(warnings, warnLegacyDoc)
	default:
		warnings = append(warnings, fmt.Sprintf(warnUnsupportedFmt, ext))
	}

	if err != nil {
		logger.Warn().Err(err).Str("ext", ext).Msg("提取简历文本失败")
		return "", append(warnings, fmt.Sprintf(warnExtractFailed, ext, err))
	}

	text = strings.TrimSpace(content)
	logger.Info().
		Str("ext", ext).
		Int("chars", len([]rune(text))).
		Int("warnings", len(warnings)).
		Interface("meta", meta).
		Dur("duration", time.Since(startTime)).
		Msg("简历文本提取完成")
	return text, warnings
}

// readPlainText 按 UTF-8 读取，非法字节直接丢弃
func readPlainText(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("读取文本文件失败: %w", err)
	}
	return strings.ToValidUTF8(string(data), ""), nil
}
