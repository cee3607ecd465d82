package slides

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"slidegen/internal/llm"
	"slidegen/internal/prompt"
)

// FallbackReason tags why the generator substituted canned content.
type FallbackReason string

const (
	ReasonNone           FallbackReason = "none"
	ReasonNoAPIKey       FallbackReason = "no_api_key"
	ReasonBackendFailure FallbackReason = "backend_failure"
	ReasonNoJSON         FallbackReason = "no_json"
	ReasonDecodeFailure  FallbackReason = "decode_failure"
	ReasonMissingSlides  FallbackReason = "missing_slides"
)

// Outcome is the result of one generation request. Presentation is always
// non-nil and valid; Err carries the cause when Reason is not ReasonNone.
type Outcome struct {
	Presentation *Presentation
	Reason       FallbackReason
	Err          error
}

// UsedFallback reports whether the canned deck was substituted.
func (o Outcome) UsedFallback() bool {
	return o.Reason != ReasonNone
}

// Generator turns a topic and optional document text into a Presentation.
type Generator struct {
	Backend llm.Completer
	Logger  *zap.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// NewGenerator creates a Generator backed by the given completer.
func NewGenerator(backend llm.Completer, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{Backend: backend, Logger: logger, Now: time.Now}
}

// Generate never fails. Every error path ends in the fallback deck, and no
// retries are made against the backend.
func (g *Generator) Generate(ctx context.Context, topic, documentText string) Outcome {
	now := g.now()

	if g.Backend == nil {
		return g.fallback(topic, now, ReasonBackendFailure, errors.New("no AI backend configured"))
	}

	raw, err := g.Backend.Complete(ctx, prompt.Build(topic, documentText))
	if err != nil {
		reason := ReasonBackendFailure
		if errors.Is(err, llm.ErrNoAPIKey) {
			reason = ReasonNoAPIKey
		}
		return g.fallback(topic, now, reason, err)
	}

	return g.parse(raw, topic, now)
}

// Parse runs the response-to-deck half of Generate on an already captured
// model response.
func (g *Generator) Parse(raw, topic string) Outcome {
	return g.parse(raw, topic, g.now())
}

func (g *Generator) parse(raw, topic string, now time.Time) Outcome {
	payload, ok := ExtractJSON(raw)
	if !ok {
		return g.fallback(topic, now, ReasonNoJSON, ErrNoJSON)
	}

	records, err := Decode(payload)
	switch {
	case errors.Is(err, ErrMissingSlides), errors.Is(err, ErrEmptySlides):
		return g.fallback(topic, now, ReasonMissingSlides, err)
	case err != nil:
		return g.fallback(topic, now, ReasonDecodeFailure, err)
	}

	g.logger().Info("presentation generated",
		zap.String("topic", topic),
		zap.Int("slides", len(records)))
	return Outcome{
		Presentation: &Presentation{Slides: records, Topic: topic, GeneratedAt: now},
		Reason:       ReasonNone,
	}
}

func (g *Generator) fallback(topic string, now time.Time, reason FallbackReason, cause error) Outcome {
	g.logger().Warn("using fallback presentation",
		zap.String("topic", topic),
		zap.String("reason", string(reason)),
		zap.Error(cause))
	return Outcome{
		Presentation: Fallback(topic, now),
		Reason:       reason,
		Err:          cause,
	}
}

func (g *Generator) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func (g *Generator) logger() *zap.Logger {
	if g.Logger == nil {
		return zap.NewNop()
	}
	return g.Logger
}
