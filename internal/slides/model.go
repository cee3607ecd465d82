// Package slides holds the presentation data model, the decoder that turns a
// loosely formatted model response into slide records, and the generator that
// falls back to canned content whenever that fails.
package slides

import (
	"errors"
	"time"
)

// SlideRecord is one structured unit of presentation content.
// Slices are never nil once a record has been through normalize.
type SlideRecord struct {
	Title          string   `json:"title"`
	BulletPoints   []string `json:"bullet_points"`
	AdditionalInfo string   `json:"additional_info"`
	ImageURLs      []string `json:"image_urls"`
	ReferenceURLs  []string `json:"reference_urls"`
}

// Presentation is an ordered deck of slides. Slides[0] is always rendered as
// the title slide.
type Presentation struct {
	Slides      []SlideRecord `json:"slides"`
	Topic       string        `json:"topic"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// ErrNoSlides is returned by Validate for an empty deck.
var ErrNoSlides = errors.New("presentation has no slides")

// Validate checks the non-empty invariant.
func (p *Presentation) Validate() error {
	if p == nil || len(p.Slides) == 0 {
		return ErrNoSlides
	}
	return nil
}

// Clone returns a deep copy so callers can hand a Presentation across
// goroutines without sharing slices.
func (p *Presentation) Clone() *Presentation {
	if p == nil {
		return nil
	}
	out := &Presentation{
		Topic:       p.Topic,
		GeneratedAt: p.GeneratedAt,
		Slides:      make([]SlideRecord, len(p.Slides)),
	}
	for i, s := range p.Slides {
		out.Slides[i] = SlideRecord{
			Title:          s.Title,
			BulletPoints:   cloneStrings(s.BulletPoints),
			AdditionalInfo: s.AdditionalInfo,
			ImageURLs:      cloneStrings(s.ImageURLs),
			ReferenceURLs:  cloneStrings(s.ReferenceURLs),
		}
	}
	return out
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// normalize enforces the empty-default invariant in a single pass.
func (s SlideRecord) normalize() SlideRecord {
	if s.BulletPoints == nil {
		s.BulletPoints = []string{}
	}
	if s.ImageURLs == nil {
		s.ImageURLs = []string{}
	}
	if s.ReferenceURLs == nil {
		s.ReferenceURLs = []string{}
	}
	return s
}
