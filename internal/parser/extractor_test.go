package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"stage-ai-go/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	data []byte
	name string
	err  error
}

func (f *fakeFetcher) Download(_ context.Context, ref types.StorageRef) (io.ReadCloser, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	name := f.name
	if name == "" {
		name = ref.Path
	}
	return io.NopCloser(bytes.NewReader(f.data)), name, nil
}

type stubExtractor struct {
	text  string
	err   error
	panic bool
	calls int
}

func (s *stubExtractor) ExtractFromFile(_ context.Context, filePath string) (string, map[string]interface{}, error) {
	s.calls++
	if s.panic {
		panic("página corrompida")
	}
	return s.text, nil, s.err
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "临时文件应被删除")
}

func buildDOCX(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(documentXML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

const sampleDocumentXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>Maria Souza</w:t></w:r></w:p>
    <w:p></w:p>
    <w:p><w:r><w:t xml:space="preserve">5 anos de experiência </w:t></w:r><w:r><w:t>em vendas</w:t></w:r></w:p>
    <w:p><w:r><w:t>Inglês</w:t><w:tab/><w:t>fluente</w:t></w:r></w:p>
  </w:body>
</w:document>`

func TestExtractResumePlainText(t *testing.T) {
	dir := t.TempDir()
	fetcher := &fakeFetcher{data: []byte("  Olá\xffmundo  \n")}
	extractor := NewTextExtractor(fetcher, WithTempDir(dir))

	text, warnings := extractor.ExtractResume(context.Background(), types.StorageRef{Path: "cv/curriculo.TXT", Bucket: "resumes"})

	assert.Equal(t, "Olámundo", text)
	assert.Empty(t, warnings)
	assertDirEmpty(t, dir)
}

func TestExtractResumeDOCX(t *testing.T) {
	dir := t.TempDir()
	fetcher := &fakeFetcher{data: buildDOCX(t, sampleDocumentXML)}
	extractor := NewTextExtractor(fetcher, WithTempDir(dir))

	text, warnings := extractor.ExtractResume(context.Background(), types.StorageRef{Path: "cv.docx"})

	assert.Equal(t, "Maria Souza\n5 anos de experiência em vendas\nInglês\tfluente", text)
	assert.Empty(t, warnings)
	assertDirEmpty(t, dir)
}

func TestExtractResumeCorruptDOCX(t *testing.T) {
	dir := t.TempDir()
	fetcher := &fakeFetcher{data: []byte("PK not really")}
	extractor := NewTextExtractor(fetcher, WithTempDir(dir))

	text, warnings := extractor.ExtractResume(context.Background(), types.StorageRef{Path: "cv.docx"})

	assert.Empty(t, text)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "Falha ao extrair texto do currículo (.docx)")
	assertDirEmpty(t, dir)
}

func TestExtractResumeUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	extractor := NewTextExtractor(&fakeFetcher{data: []byte(`{\rtf1 Olá}`)}, WithTempDir(dir))

	text, warnings := extractor.ExtractResume(context.Background(), types.StorageRef{Path: "cv.rtf"})

	assert.Empty(t, text)
	assert.Equal(t, []string{"Extensão .rtf não suportada. Envie PDF, DOCX ou TXT."}, warnings)
	assertDirEmpty(t, dir)
}

func TestExtractResumeLegacyDoc(t *testing.T) {
	extractor := NewTextExtractor(&fakeFetcher{data: []byte{0xd0, 0xcf}}, WithTempDir(t.TempDir()))

	text, warnings := extractor.ExtractResume(context.Background(), types.StorageRef{Path: "cv.doc"})

	assert.Empty(t, text)
	assert.Equal(t, []string{warnLegacyDoc}, warnings)
}

func TestExtractResumeDownloadFailure(t *testing.T) {
	extractor := NewTextExtractor(&fakeFetcher{err: errors.New("403 Forbidden")})

	text, warnings := extractor.ExtractResume(context.Background(), types.StorageRef{Path: "cv.pdf"})

	assert.Empty(t, text)
	assert.Equal(t, []string{"Falha ao ler currículo: 403 Forbidden"}, warnings)
}

func TestExtractResumeWithoutFetcher(t *testing.T) {
	extractor := NewTextExtractor(nil)

	text, warnings := extractor.ExtractResume(context.Background(), types.StorageRef{Path: "cv.pdf"})

	assert.Empty(t, text)
	require.Len(t, warnings, 1)
}

func TestExtractPDFEmptyTextWarns(t *testing.T) {
	dir := t.TempDir()
	pdf := &stubExtractor{text: "   "}
	extractor := NewTextExtractor(&fakeFetcher{data: []byte("%PDF")}, WithTempDir(dir), WithPDFExtractor(pdf))

	text, warnings := extractor.ExtractResume(context.Background(), types.StorageRef{Path: "cv.pdf"})

	assert.Empty(t, text)
	assert.Equal(t, []string{warnPDFEmpty}, warnings)
	assert.Equal(t, 1, pdf.calls)
	assertDirEmpty(t, dir)
}

func TestExtractPanicBecomesWarning(t *testing.T) {
	dir := t.TempDir()
	pdf := &stubExtractor{panic: true}
	extractor := NewTextExtractor(&fakeFetcher{data: []byte("%PDF")}, WithTempDir(dir), WithPDFExtractor(pdf))

	var (
		text     string
		warnings []string
	)
	require.NotPanics(t, func() {
		text, warnings = extractor.ExtractResume(context.Background(), types.StorageRef{Path: "cv.pdf"})
	})

	assert.Empty(t, text)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "página corrompida")
	assertDirEmpty(t, dir)
}

func TestExtractImageRequiresOCR(t *testing.T) {
	extractor := NewTextExtractor(&fakeFetcher{data: []byte{0x89, 'P', 'N', 'G'}}, WithTempDir(t.TempDir()))

	text, warnings := extractor.ExtractResume(context.Background(), types.StorageRef{Path: "foto.png"})

	assert.Empty(t, text)
	assert.Equal(t, []string{"Falha ao extrair texto do currículo (.png): OCR não configurado"}, warnings)
}

func TestExtractImageWithOCR(t *testing.T) {
	ocr := &stubExtractor{text: "Gerente comercial"}
	extractor := NewTextExtractor(&fakeFetcher{data: []byte{0xff, 0xd8}}, WithTempDir(t.TempDir()), WithOCRExtractor(ocr))

	text, warnings := extractor.ExtractResume(context.Background(), types.StorageRef{Path: "foto.jpeg"})

	assert.Equal(t, "Gerente comercial", text)
	assert.Equal(t, []string{warnOCRQuality}, warnings)
}

func TestExtractUsesDownloadedNameForExtension(t *testing.T) {
	fetcher := &fakeFetcher{data: []byte("texto simples"), name: "resumes/abc/cv.txt"}
	extractor := NewTextExtractor(fetcher, WithTempDir(t.TempDir()))

	text, warnings := extractor.ExtractResume(context.Background(), types.StorageRef{SignedURL: "https://x/sign/abc?token=1"})

	assert.Equal(t, "texto simples", text)
	assert.Empty(t, warnings)
}
