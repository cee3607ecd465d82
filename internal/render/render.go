// Package render lays out a Presentation as a paginated A4 PDF.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jung-kurt/gofpdf"
	"go.uber.org/zap"

	"slidegen/internal/fontcheck"
	"slidegen/internal/imagefetch"
	"slidegen/internal/slides"
)

// ErrPDFBuild wraps every failure while assembling the document.
var ErrPDFBuild = errors.New("pdf build failed")

// ImageSource hands out fetched images as temp files.
type ImageSource interface {
	Acquire(ctx context.Context, url string) (*imagefetch.TempImage, error)
}

// Document is a fully materialized PDF plus layout statistics.
type Document struct {
	Data []byte
	// Pages counts physical pages, including overflow pages within a slide.
	Pages int
	// SlideBreaks counts page breaks inserted between slides; always len(slides)-1.
	SlideBreaks    int
	ImagesEmbedded int
	ImagesSkipped  int
}

// Renderer turns Presentations into PDF documents.
type Renderer struct {
	images ImageSource
	logger *zap.Logger

	// Font, if set, is embedded so text outside Windows-1252 prints as
	// written. Nil uses the core Helvetica font.
	Font *fontcheck.Font

	// Observe, if set, receives the duration and outcome of every Render.
	Observe func(elapsed time.Duration, err error)
}

// New creates a Renderer. A nil images source renders every slide without images.
func New(images ImageSource, logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{images: images, logger: logger}
}

// Render builds the whole PDF in memory. Image failures are skipped silently;
// any other failure returns an ErrPDFBuild-wrapped error and no bytes.
func (r *Renderer) Render(ctx context.Context, p *slides.Presentation) (doc *Document, err error) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			doc, err = nil, fmt.Errorf("%w: %v", ErrPDFBuild, rec)
		}
		if r.Observe != nil {
			r.Observe(time.Since(start), err)
		}
		if err != nil {
			r.logger.Error("render failed", zap.Error(err))
		}
	}()

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPDFBuild, err)
	}

	w := newWriter(r.images, r.logger, p)
	if r.Font != nil {
		if err := w.useFont(r.Font); err != nil {
			r.logger.Warn("unicode font unusable, using Helvetica",
				zap.String("font", r.Font.Regular), zap.Error(err))
		}
	}
	for i, s := range p.Slides {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPDFBuild, err)
		}
		w.pdf.AddPage()
		if i > 0 {
			w.breaks++
		}
		if i == 0 {
			w.titleSlide(ctx, s, p)
		} else {
			w.contentSlide(ctx, s)
		}
		if w.pdf.Err() {
			break
		}
	}
	if err := w.pdf.Error(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPDFBuild, err)
	}

	pages := w.pdf.PageCount()
	var buf bytes.Buffer
	if err := w.pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPDFBuild, err)
	}

	r.logger.Info("presentation rendered",
		zap.String("topic", p.Topic),
		zap.Int("slides", len(p.Slides)),
		zap.Int("pages", pages),
		zap.Int("images_embedded", w.embedded),
		zap.Int("images_skipped", w.skipped),
		zap.Duration("elapsed", time.Since(start)))

	return &Document{
		Data:           buf.Bytes(),
		Pages:          pages,
		SlideBreaks:    w.breaks,
		ImagesEmbedded: w.embedded,
		ImagesSkipped:  w.skipped,
	}, nil
}

// writer carries the state of one render pass.
type writer struct {
	pdf    *gofpdf.Fpdf
	tr     func(string) string
	family string
	images ImageSource
	logger *zap.Logger

	pageW, pageH float64
	contentW     float64

	breaks, embedded, skipped int
}

func newWriter(images ImageSource, logger *zap.Logger, p *slides.Presentation) *writer {
	pdf := gofpdf.New("P", "pt", "A4", "")
	pdf.SetMargins(marginLeftRight, marginTopBottom, marginLeftRight)
	pdf.SetAutoPageBreak(true, marginTopBottom)
	pdf.SetCatalogSort(true)
	pdf.SetCreationDate(p.GeneratedAt)
	pdf.SetModificationDate(p.GeneratedAt)
	pdf.SetTitle(p.Topic, true)
	pdf.SetCreator("slidegen", true)

	w, h := pdf.GetPageSize()
	return &writer{
		pdf:      pdf,
		tr:       pdf.UnicodeTranslatorFromDescriptor(""),
		family:   fontFamily,
		images:   images,
		logger:   logger,
		pageW:    w,
		pageH:    h,
		contentW: w - 2*marginLeftRight,
	}
}

// useFont switches the writer to an embedded TrueType family. The faces are
// loaded into a scratch document first so a broken font cannot fail the render.
func (w *writer) useFont(font *fontcheck.Font) error {
	regular, err := os.ReadFile(font.Regular)
	if err != nil {
		return err
	}
	bold := regular
	if font.Bold != "" {
		if bold, err = os.ReadFile(font.Bold); err != nil {
			return err
		}
	}

	if err := probeFont(regular, bold); err != nil {
		return err
	}

	w.pdf.AddUTF8FontFromBytes(unicodeFamily, "", regular)
	w.pdf.AddUTF8FontFromBytes(unicodeFamily, "B", bold)
	w.family = unicodeFamily
	w.tr = func(s string) string { return s }
	return nil
}

// probeFont loads both faces into a scratch document. A face that fails to
// parse is never registered, which only surfaces on SetFont.
func probeFont(regular, bold []byte) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("parse font: %v", rec)
		}
	}()
	scratch := gofpdf.New("P", "pt", "A4", "")
	scratch.AddUTF8FontFromBytes(unicodeFamily, "", regular)
	scratch.AddUTF8FontFromBytes(unicodeFamily, "B", bold)
	scratch.SetFont(unicodeFamily, "", 12)
	scratch.SetFont(unicodeFamily, "B", 12)
	return scratch.Error()
}

func (w *writer) titleSlide(ctx context.Context, s slides.SlideRecord, p *slides.Presentation) {
	w.space(1.5 * inch)

	heading := p.Topic
	if heading == "" {
		heading = s.Title
	}
	w.paragraph(heading, titleSlideStyle, 0, "C")
	if s.Title != "" && s.Title != heading {
		w.paragraph(s.Title, subtitleStyle, 0, "C")
	}
	w.space(0.5 * inch)

	for _, b := range s.BulletPoints {
		w.paragraph(bullet+b, bulletStyle, bulletStyle.indent, "L")
	}
	w.space(0.3 * inch)

	if s.AdditionalInfo != "" {
		w.infoBox("", s.AdditionalInfo)
	}
	w.space(0.5 * inch)

	if len(s.ImageURLs) > 0 {
		w.image(ctx, s.ImageURLs[0], 3*inch, 2*inch)
	}

	w.space(0.3 * inch)
	w.paragraph("Generated: "+p.GeneratedAt.Format("January 02, 2006"), urlStyle, urlStyle.indent, "L")
}

func (w *writer) contentSlide(ctx context.Context, s slides.SlideRecord) {
	w.space(0.3 * inch)
	w.paragraph(s.Title, slideTitleStyle, 0, "L")
	w.space(0.2 * inch)

	for _, b := range s.BulletPoints {
		w.paragraph(bullet+b, bulletStyle, bulletStyle.indent, "L")
	}
	w.space(0.2 * inch)

	if s.AdditionalInfo != "" {
		w.infoBox("Additional Information:", s.AdditionalInfo)
		w.space(0.2 * inch)
	}

	urls := s.ImageURLs
	if len(urls) > maxContentImages {
		urls = urls[:maxContentImages]
	}
	for _, u := range urls {
		if w.image(ctx, u, 2.5*inch, 1.8*inch) {
			w.space(0.1 * inch)
		}
	}

	if len(s.ReferenceURLs) > 0 {
		w.space(0.1 * inch)
		w.paragraph("References & Further Reading:", referenceHeadingStyle, referenceHeadingStyle.indent, "L")
		for _, u := range s.ReferenceURLs {
			w.paragraph(bullet+u, urlStyle, urlStyle.indent, "L")
		}
	}
}

// paragraph writes wrapped text; MultiCell adds overflow pages on its own.
func (w *writer) paragraph(text string, st textStyle, indent float64, align string) {
	w.setStyle(st)
	left, _, _, _ := w.pdf.GetMargins()
	w.pdf.SetX(left + indent)
	w.pdf.MultiCell(w.contentW-indent, st.leading, w.tr(text), "", align, false)
	if st.spaceAfter > 0 {
		w.space(st.spaceAfter)
	}
}

// infoBox draws text on a filled, bordered panel with padding. Each piece is
// a cell so the panel splits cleanly across pages.
func (w *writer) infoBox(heading, text string) {
	st := infoStyle
	w.setStyle(st)
	w.pdf.SetFillColor(infoFill.r, infoFill.g, infoFill.b)
	w.pdf.SetDrawColor(infoBorder.r, infoBorder.g, infoBorder.b)
	w.pdf.SetLineWidth(1)

	oldMargin := w.pdf.GetCellMargin()
	w.pdf.SetCellMargin(infoPadding)
	defer w.pdf.SetCellMargin(oldMargin)

	w.pdf.CellFormat(w.contentW, infoPadding, "", "LTR", 1, "", true, 0, "")
	if heading != "" {
		w.pdf.SetFont(w.family, "B", st.size)
		w.pdf.CellFormat(w.contentW, st.leading, w.tr(heading), "LR", 1, "L", true, 0, "")
		w.pdf.SetFont(w.family, "", st.size)
	}
	w.pdf.MultiCell(w.contentW, st.leading, w.tr(text), "LR", "J", true)
	w.pdf.CellFormat(w.contentW, infoPadding, "", "LBR", 1, "", true, 0, "")
	w.space(st.spaceAfter)
}

// image embeds one URL at a fixed size, centered. The temp file is released
// on every path. Reports whether the image was placed.
func (w *writer) image(ctx context.Context, url string, width, height float64) bool {
	if w.images == nil {
		w.skipped++
		return false
	}
	tmp, err := w.images.Acquire(ctx, url)
	if err != nil {
		w.skipped++
		w.logger.Debug("image skipped", zap.String("url", url), zap.Error(err))
		return false
	}
	defer tmp.Release()

	data, err := os.ReadFile(tmp.Path)
	if err != nil {
		w.skipped++
		w.logger.Debug("image skipped", zap.String("url", url), zap.Error(err))
		return false
	}

	opts := gofpdf.ImageOptions{ImageType: imageType(tmp.Format)}
	// A bad image would poison the whole document, so try it on a scratch one first.
	if !embeddable(data, opts) {
		w.skipped++
		w.logger.Debug("image skipped", zap.String("url", url), zap.String("reason", "rejected by pdf writer"))
		return false
	}

	name := "img:" + url
	w.pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(data))
	w.pdf.ImageOptions(name, (w.pageW-width)/2, -1, width, height, true, opts, 0, "")
	w.embedded++
	return true
}

func embeddable(data []byte, opts gofpdf.ImageOptions) bool {
	scratch := gofpdf.New("P", "pt", "A4", "")
	scratch.RegisterImageOptionsReader("probe", opts, bytes.NewReader(data))
	return !scratch.Err()
}

func imageType(f imagefetch.Format) string {
	if f == imagefetch.FormatJPEG {
		return "JPG"
	}
	return "PNG"
}

func (w *writer) setStyle(st textStyle) {
	style := ""
	if st.bold {
		style = "B"
	}
	w.pdf.SetFont(w.family, style, st.size)
	w.pdf.SetTextColor(st.color.r, st.color.g, st.color.b)
}

func (w *writer) space(h float64) {
	w.pdf.Ln(h)
}
