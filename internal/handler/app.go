// Package handler provides the App struct that serves as the API facade
// for slidegen, plus the HTTP handlers that expose it.
package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"slidegen/internal/metrics"
	"slidegen/internal/parser"
	"slidegen/internal/render"
	"slidegen/internal/session"
	"slidegen/internal/slides"
)

var (
	// ErrEmptyTopic rejects a generation request without a topic.
	ErrEmptyTopic = errors.New("topic is required")
	// ErrNoPresentation means nothing has been generated in this session yet.
	ErrNoPresentation = errors.New("no presentation has been generated")
)

// Extraction is the outcome of reading an uploaded document.
type Extraction struct {
	Text       string            `json:"text"`
	Characters int               `json:"characters"`
	Format     string            `json:"format"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// App binds the pipeline components together. Each public method delegates
// to the appropriate component; the session slot is owned here.
type App struct {
	parser    *parser.DocumentParser
	generator *slides.Generator
	renderer  *render.Renderer
	store     *session.Store
	metrics   *metrics.Metrics
	logger    *zap.Logger
	maxUpload int64
}

// DefaultMaxUploadMB bounds uploaded documents unless SetMaxUploadMB says otherwise.
const DefaultMaxUploadMB = 20

// NewApp creates an App. A nil store gets a fresh one; nil metrics record nothing.
func NewApp(
	dp *parser.DocumentParser,
	gen *slides.Generator,
	rr *render.Renderer,
	store *session.Store,
	m *metrics.Metrics,
	logger *zap.Logger,
) *App {
	if dp == nil {
		dp = &parser.DocumentParser{}
	}
	if store == nil {
		store = session.NewStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		parser:    dp,
		generator: gen,
		renderer:  rr,
		store:     store,
		metrics:   m,
		logger:    logger,
		maxUpload: DefaultMaxUploadMB << 20,
	}
}

// SetMaxUploadMB changes the upload limit. Values below 1 are ignored.
func (a *App) SetMaxUploadMB(mb int) {
	if mb > 0 {
		a.maxUpload = int64(mb) << 20
	}
}

// MaxUploadBytes returns the current upload limit.
func (a *App) MaxUploadBytes() int64 {
	return a.maxUpload
}

// ExtractDocument never fails the pipeline. On an unsupported type or a
// broken file it returns empty text and a warning error explaining why.
func (a *App) ExtractDocument(data []byte, mimeType string) (Extraction, error) {
	format := parser.FormatForMIME(mimeType)

	res, err := a.parser.Extract(data, mimeType)
	if err != nil {
		status := "error"
		if errors.Is(err, parser.ErrUnsupportedFormat) {
			status = "unsupported"
		}
		a.metrics.ObserveExtraction(format, status)
		a.logger.Info("document not extracted",
			zap.String("mime", mimeType),
			zap.String("size", humanize.Bytes(uint64(len(data)))),
			zap.Error(err))
		return Extraction{Format: format}, err
	}

	a.metrics.ObserveExtraction(res.Format, "ok")
	return Extraction{
		Text:       res.Text,
		Characters: utf8.RuneCountInString(res.Text),
		Format:     res.Format,
		Metadata:   res.Metadata,
	}, nil
}

// Generate builds a presentation for topic and stores it in the session
// slot, replacing any previous one. Only a blank topic is an error; AI
// failures produce the fallback deck and a warning.
func (a *App) Generate(ctx context.Context, topic, documentText string, warnings ...string) (*session.Entry, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	if a.generator == nil {
		return nil, errors.New("generator not configured")
	}

	out := a.generator.Generate(ctx, topic, documentText)
	a.metrics.ObserveGeneration(string(out.Reason))

	all := append([]string{}, warnings...)
	if out.UsedFallback() {
		all = append(all, fallbackWarning(out))
		a.logger.Warn("using fallback presentation",
			zap.String("topic", topic),
			zap.String("reason", string(out.Reason)),
			zap.Error(out.Err))
	}

	return a.store.Set(session.Entry{
		Presentation: out.Presentation,
		Reason:       out.Reason,
		Warnings:     all,
	}), nil
}

func fallbackWarning(out slides.Outcome) string {
	switch out.Reason {
	case slides.ReasonNoAPIKey:
		return "no AI API key configured; showing sample presentation content"
	case slides.ReasonBackendFailure:
		return fmt.Sprintf("error generating content: %v; showing sample presentation content", out.Err)
	default:
		return fmt.Sprintf("could not parse AI response (%s); showing sample presentation content", out.Reason)
	}
}

// Current returns the stored presentation, or nil.
func (a *App) Current() *session.Entry {
	return a.store.Current()
}

// ClearCurrent empties the session slot.
func (a *App) ClearCurrent() bool {
	return a.store.Clear()
}

// RenderCurrent renders the stored presentation and returns the PDF with
// its download filename.
func (a *App) RenderCurrent(ctx context.Context) (*render.Document, string, error) {
	entry := a.store.Current()
	if entry == nil || entry.Presentation == nil {
		return nil, "", ErrNoPresentation
	}
	if a.renderer == nil {
		return nil, "", fmt.Errorf("%w: renderer not configured", render.ErrPDFBuild)
	}
	doc, err := a.renderer.Render(ctx, entry.Presentation)
	if err != nil {
		return nil, "", err
	}
	return doc, render.Filename(entry.Presentation.Topic), nil
}
