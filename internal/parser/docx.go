package parser

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const docxBodyPart = "word/document.xml"

// wordprocessingML 命名空间下关心的元素
const (
	wpParagraph = "p"
	wpText      = "t"
	wpTab       = "tab"
	wpBreak     = "br"
)

// DOCXExtractor 读取 DOCX（zip 包内的 word/document.xml），按段落提取文本
type DOCXExtractor struct{}

func NewDOCXExtractor() *DOCXExtractor {
	return &DOCXExtractor{}
}

// ExtractFromFile 实现 DocumentExtractor。只保留非空段落，段落间以换行分隔。
func (e *DOCXExtractor) ExtractFromFile(ctx context.Context, filePath string) (string, map[string]interface{}, error) {
	archive, err := zip.OpenReader(filePath)
	if err != nil {
		return "", nil, fmt.Errorf("打开DOCX失败: %w", err)
	}
	defer archive.Close()

	var body *zip.File
	for _, f := range archive.File {
		if f.Name == docxBodyPart {
			body = f
			break
		}
	}
	if body == nil {
		return "", nil, fmt.Errorf("DOCX中缺少 %s", docxBodyPart)
	}

	rc, err := body.Open()
	if err != nil {
		return "", nil, fmt.Errorf("读取 %s 失败: %w", docxBodyPart, err)
	}
	defer rc.Close()

	paragraphs, err := readParagraphs(ctx, rc)
	if err != nil {
		return "", nil, err
	}

	return strings.Join(paragraphs, "\n"), map[string]interface{}{"paragraphs": len(paragraphs)}, nil
}

// readParagraphs 段落可以嵌套（文本框、表格等位于段落内部），
// 用栈保存每一层未结束段落的文本，内层段落结束时先输出。
func readParagraphs(ctx context.Context, r io.Reader) ([]string, error) {
	decoder := xml.NewDecoder(r)

	var (
		paragraphs []string
		open       []*strings.Builder
		inText     bool
	)
	top := func() *strings.Builder {
		if len(open) == 0 {
			return nil
		}
		return open[len(open)-1]
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("解析DOCX XML失败: %w", err)
		}

		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case wpParagraph:
				open = append(open, &strings.Builder{})
			case wpText:
				inText = true
			case wpTab:
				if b := top(); b != nil {
					b.WriteString("\t")
				}
			case wpBreak:
				if b := top(); b != nil {
					b.WriteString("\n")
				}
			}
		case xml.EndElement:
			switch el.Name.Local {
			case wpText:
				inText = false
			case wpParagraph:
				if b := top(); b != nil {
					open = open[:len(open)-1]
					if text := b.String(); strings.TrimSpace(text) != "" {
						paragraphs = append(paragraphs, text)
					}
				}
			}
		case xml.CharData:
			if b := top(); inText && b != nil {
				b.Write(el)
			}
		}
	}
	return paragraphs, nil
}
