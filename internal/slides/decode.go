package slides

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoJSON means no {...} payload could be located in the response.
	ErrNoJSON = errors.New("no JSON object found in model response")
	// ErrMissingSlides means the payload decoded but has no "slides" key (or it is null).
	ErrMissingSlides = errors.New("model response has no slides field")
	// ErrEmptySlides means "slides" decoded to an empty list.
	ErrEmptySlides = errors.New("model response has an empty slides list")
)

const fence = "```"

// ExtractJSON returns the substring between the first '{' and the last '}',
// inclusive. A fenced code block is used instead of the whole response only
// when its body holds an object, so a stray fence after a bare reply is ignored.
func ExtractJSON(raw string) (string, bool) {
	text := strings.TrimSpace(raw)
	if body, ok := fencedBody(text); ok {
		if obj, ok := braceSpan(body); ok {
			return obj, true
		}
	}
	return braceSpan(text)
}

// fencedBody returns the text between the first fence and the last one,
// minus the language tag on the opening line.
func fencedBody(text string) (string, bool) {
	open := strings.Index(text, fence)
	if open < 0 {
		return "", false
	}
	body := text[open+len(fence):]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		body = strings.TrimPrefix(body, "json")
	}
	if closeIdx := strings.LastIndex(body, fence); closeIdx >= 0 {
		body = body[:closeIdx]
	}
	return strings.TrimSpace(body), true
}

func braceSpan(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// rawDeck mirrors the wire shape with every field optional.
type rawDeck struct {
	Slides *[]rawSlide `json:"slides"`
}

type rawSlide struct {
	Title          *string  `json:"title"`
	BulletPoints   []string `json:"bullet_points"`
	AdditionalInfo *string  `json:"additional_info"`
	ImageURLs      []string `json:"image_urls"`
	ReferenceURLs  []string `json:"reference_urls"`
}

// Decode parses a JSON payload into normalized slide records. Any structural
// problem fails the whole decode; partial decks are never returned.
func Decode(payload string) ([]SlideRecord, error) {
	var deck rawDeck
	if err := json.Unmarshal([]byte(payload), &deck); err != nil {
		return nil, fmt.Errorf("decode slides: %w", err)
	}
	if deck.Slides == nil {
		return nil, ErrMissingSlides
	}
	if len(*deck.Slides) == 0 {
		return nil, ErrEmptySlides
	}

	out := make([]SlideRecord, 0, len(*deck.Slides))
	for _, rs := range *deck.Slides {
		out = append(out, rs.toRecord())
	}
	return out, nil
}

func (rs rawSlide) toRecord() SlideRecord {
	rec := SlideRecord{
		BulletPoints:  rs.BulletPoints,
		ImageURLs:     rs.ImageURLs,
		ReferenceURLs: rs.ReferenceURLs,
	}
	if rs.Title != nil {
		rec.Title = *rs.Title
	}
	if rs.AdditionalInfo != nil {
		rec.AdditionalInfo = *rs.AdditionalInfo
	}
	return rec.normalize()
}
