// Package parser extracts plain text from uploaded documents.
// It uses vantagedatachat libraries (gopdf2, goword, goexcel, goppt) for the
// OOXML and PDF formats, mscfb/xlsReader for the legacy OLE2 formats and
// goquery for HTML.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	gopdf "github.com/VantageDataChat/GoPDF2"
	goppt "github.com/VantageDataChat/GoPPT"
	goword "github.com/VantageDataChat/GoWord"
	lpdf "github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

// ErrUnsupportedFormat is returned for MIME types and formats with no extractor.
var ErrUnsupportedFormat = errors.New("unsupported format")

// ExtractionError reports a failure inside a specific format's extractor,
// including recovered panics from third-party parsers.
type ExtractionError struct {
	Format string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s extraction failed: %v", e.Format, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// DocumentParser handles parsing of various document formats.
// The zero value is ready to use.
type DocumentParser struct {
	Logger *zap.Logger
}

// ParseResult holds the extracted text and metadata from a parsed document.
type ParseResult struct {
	Text     string            `json:"text"`
	Format   string            `json:"format"`
	Metadata map[string]string `json:"metadata"`
}

// Format names returned in ParseResult.Format.
const (
	FormatPDF         = "pdf"
	FormatWord        = "word"
	FormatWordLegacy  = "word_legacy"
	FormatText        = "text"
	FormatMarkdown    = "markdown"
	FormatCSV         = "csv"
	FormatExcel       = "excel"
	FormatExcelLegacy = "excel_legacy"
	FormatPPT         = "ppt"
	FormatHTML        = "html"
)

var mimeFormats = map[string]string{
	"application/pdf":          FormatPDF,
	"application/msword":       FormatWordLegacy,
	"application/vnd.ms-excel": FormatExcelLegacy,
	"application/csv":          FormatCSV,
	"application/xhtml+xml":    FormatHTML,
	"text/plain":               FormatText,
	"text/markdown":            FormatMarkdown,
	"text/x-markdown":          FormatMarkdown,
	"text/csv":                 FormatCSV,
	"text/html":                FormatHTML,

	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   FormatWord,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         FormatExcel,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": FormatPPT,
}

var extensionMIME = map[string]string{
	".pdf":      "application/pdf",
	".docx":     "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".doc":      "application/msword",
	".txt":      "text/plain",
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".csv":      "text/csv",
	".xlsx":     "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xls":      "application/vnd.ms-excel",
	".pptx":     "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".html":     "text/html",
	".htm":      "text/html",
}

// FormatForMIME maps a declared MIME type to a format name, or "" when the
// type is not supported. Parameters such as charset are ignored.
func FormatForMIME(mimeType string) string {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		mt = parsed
	} else if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return mimeFormats[mt]
}

// MIMEForFilename guesses a MIME type from a file extension. Unknown
// extensions map to application/octet-stream, which no extractor accepts.
func MIMEForFilename(name string) string {
	if mt, ok := extensionMIME[strings.ToLower(filepath.Ext(name))]; ok {
		return mt
	}
	return "application/octet-stream"
}

// SupportedMIMETypes lists every MIME type Extract accepts, sorted.
func SupportedMIMETypes() []string {
	out := make([]string, 0, len(mimeFormats))
	for mt := range mimeFormats {
		out = append(out, mt)
	}
	sort.Strings(out)
	return out
}

// Extract routes data to an extractor by its declared MIME type.
func (dp *DocumentParser) Extract(data []byte, mimeType string) (*ParseResult, error) {
	format := FormatForMIME(mimeType)
	if format == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, mimeType)
	}
	return dp.Parse(data, format)
}

// Parse dispatches to the correct parser based on the format name.
func (dp *DocumentParser) Parse(fileData []byte, format string) (*ParseResult, error) {
	format = strings.ToLower(format)

	var (
		result *ParseResult
		err    error
	)
	switch format {
	case FormatPDF:
		result, err = dp.parsePDF(fileData)
	case FormatWord:
		result, err = dp.parseWord(fileData)
	case FormatWordLegacy:
		result, err = dp.parseWordLegacy(fileData)
	case FormatText:
		result, err = dp.parseText(fileData)
	case FormatMarkdown:
		result, err = dp.parseMarkdown(fileData)
	case FormatCSV:
		result, err = dp.parseCSV(fileData)
	case FormatExcel:
		result, err = dp.parseExcel(fileData)
	case FormatExcelLegacy:
		result, err = dp.parseXLSLegacy(fileData)
	case FormatPPT:
		result, err = dp.parsePPT(fileData)
	case FormatHTML:
		result, err = dp.parseHTML(fileData)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		dp.log().Warn("document extraction failed",
			zap.String("format", format),
			zap.Int("bytes", len(fileData)),
			zap.Error(err))
		return nil, &ExtractionError{Format: format, Err: err}
	}

	result.Format = format
	if result.Metadata == nil {
		result.Metadata = map[string]string{}
	}
	dp.log().Debug("document extracted",
		zap.String("format", format),
		zap.Int("bytes", len(fileData)),
		zap.Int("chars", len([]rune(result.Text))))
	return result, nil
}

func (dp *DocumentParser) log() *zap.Logger {
	if dp == nil || dp.Logger == nil {
		return zap.NewNop()
	}
	return dp.Logger
}

// recoverAs turns a panic in a third-party parser into an error.
func recoverAs(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("parser panic: %v", r)
	}
}

// parsePDF extracts page text using GoPDF2, falling back to ledongthuc/pdf
// when GoPDF2 finds no text at all.
func (dp *DocumentParser) parsePDF(data []byte) (result *ParseResult, err error) {
	defer recoverAs(&err)

	// Validate PDF magic bytes
	if len(data) < 5 || string(data[:5]) != "%PDF-" {
		return nil, errors.New("not a valid PDF file")
	}

	pageCount, err := gopdf.GetSourcePDFPageCountFromBytes(data)
	if err != nil {
		return nil, err
	}

	pages := make([]string, 0, pageCount)
	for i := 0; i < pageCount; i++ {
		text, err := gopdf.ExtractPageText(data, i)
		if err != nil {
			continue
		}
		pages = append(pages, text)
	}
	text := strings.TrimSpace(strings.Join(pages, "\n"))

	extractor := "gopdf2"
	if text == "" {
		if fb, fbErr := extractPDFPlainText(data); fbErr == nil && strings.TrimSpace(fb) != "" {
			text = fb
			extractor = "ledongthuc"
		} else if fbErr != nil {
			dp.log().Debug("pdf fallback extractor failed", zap.Error(fbErr))
		}
	}

	return &ParseResult{
		Text: CleanText(text),
		Metadata: map[string]string{
			"page_count": fmt.Sprintf("%d", pageCount),
			"extractor":  extractor,
		},
	}, nil
}

// extractPDFPlainText reads the whole document's text layer with ledongthuc/pdf.
func extractPDFPlainText(data []byte) (text string, err error) {
	defer recoverAs(&err)

	r, err := lpdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// parseWord extracts paragraph text from Word (.docx) data via goword.
func (dp *DocumentParser) parseWord(data []byte) (result *ParseResult, err error) {
	defer recoverAs(&err)

	doc, err := goword.OpenFromBytes(data)
	if err != nil {
		return nil, err
	}

	return &ParseResult{
		Text: CleanText(doc.ExtractText()),
		Metadata: map[string]string{
			"title": doc.Properties.Title,
		},
	}, nil
}

// parsePPT extracts slide text in slide order.
func (dp *DocumentParser) parsePPT(data []byte) (result *ParseResult, err error) {
	defer recoverAs(&err)

	pres, err := goppt.ReadFrom(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	defer pres.Close()

	slides := pres.Slides()
	var sb strings.Builder
	for i, slide := range slides {
		text := strings.TrimSpace(slide.ExtractText())
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "Slide %d:\n%s", i+1, text)
	}

	return &ParseResult{
		Text: CleanText(sb.String()),
		Metadata: map[string]string{
			"slide_count": fmt.Sprintf("%d", len(slides)),
		},
	}, nil
}

// parseText decodes UTF-8, replacing invalid sequences.
func (dp *DocumentParser) parseText(data []byte) (*ParseResult, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	text := strings.ToValidUTF8(string(data), "\uFFFD")
	return &ParseResult{
		Text:     CleanText(text),
		Metadata: map[string]string{},
	}, nil
}

// Pre-compiled regexes for CleanText to avoid recompilation on every call.
var (
	controlCharRe  = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
	multiSpaceRe   = regexp.MustCompile(`[ \t]+`)
	multiNewlineRe = regexp.MustCompile(`\n{3,}`)
)

// Pre-compiled regexes for parseMarkdown.
var (
	mdImgRe         = regexp.MustCompile(`!\[([^\]]*)\]\(([^)]+)\)`)
	mdHeadingRe     = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdBoldRe        = regexp.MustCompile(`\*\*(.+?)\*\*`)
	mdUnderBoldRe   = regexp.MustCompile(`__(.+?)__`)
	mdItalicRe      = regexp.MustCompile(`\*(.+?)\*`)
	mdUnderItalicRe = regexp.MustCompile(`\b_(.+?)_\b`)
	mdCodeRe        = regexp.MustCompile("`([^`]+)`")
	mdFenceRe       = regexp.MustCompile("(?m)^```.*$")
	mdLinkRe        = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	mdListRe        = regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d+\.)\s+`)
	mdQuoteRe       = regexp.MustCompile(`(?m)^>\s?`)
)

// CleanText removes excessive whitespace and meaningless special characters from text.
// It trims leading/trailing whitespace, collapses multiple spaces into one,
// and removes control characters (except newlines and tabs).
func CleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = controlCharRe.ReplaceAllString(text, "")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		line = multiSpaceRe.ReplaceAllString(line, " ")
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")

	text = multiNewlineRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// cleanTable is CleanText without space collapsing, so aligned columns survive.
func cleanTable(text string) string {
	text = controlCharRe.ReplaceAllString(text, "")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	text = strings.Join(lines, "\n")
	text = multiNewlineRe.ReplaceAllString(text, "\n\n")
	return strings.Trim(text, "\n")
}

// parseMarkdown extracts plain text from Markdown content.
// Strips common Markdown syntax while preserving the text structure.
func (dp *DocumentParser) parseMarkdown(data []byte) (*ParseResult, error) {
	text := strings.ToValidUTF8(string(data), "\uFFFD")

	text = mdFenceRe.ReplaceAllString(text, "")
	text = mdImgRe.ReplaceAllString(text, "$1")
	text = mdHeadingRe.ReplaceAllString(text, "")
	text = mdListRe.ReplaceAllString(text, "")
	text = mdQuoteRe.ReplaceAllString(text, "")
	text = mdBoldRe.ReplaceAllString(text, "$1")
	text = mdUnderBoldRe.ReplaceAllString(text, "$1")
	text = mdItalicRe.ReplaceAllString(text, "$1")
	text = mdUnderItalicRe.ReplaceAllString(text, "$1")
	text = mdCodeRe.ReplaceAllString(text, "$1")
	text = mdLinkRe.ReplaceAllString(text, "$1")

	return &ParseResult{
		Text:     CleanText(text),
		Metadata: map[string]string{},
	}, nil
}
