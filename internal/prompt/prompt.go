// Package prompt builds the instruction sent to the text-completion backend.
// Build is a pure function: the same topic and document text always produce
// the same prompt.
package prompt

import "strings"

// MaxDocumentChars is the number of characters of document text kept in the prompt.
const MaxDocumentChars = 3000

// TruncationMarker is appended when document text is cut at MaxDocumentChars.
const TruncationMarker = "..."

const preamble = `You are an intelligent assistant that helps generate professional PDF presentations with rich content.

Your task is to generate comprehensive presentation-ready slide content with additional information, relevant image suggestions, and reference URLs.

Instructions:
1. Create 6-10 slides including title, introduction, content slides, and conclusion
2. Each slide should have a clear title and 3-6 concise bullet points
3. Include additional_info with detailed explanations, statistics, or examples
4. Suggest relevant image_urls (use placeholder URLs like https://via.placeholder.com/400x300/0066cc/ffffff?text=Topic+Image)
5. Provide reference_urls with credible sources and further reading links
6. Keep content professional, informative, and comprehensive

Output Format - Respond ONLY with valid JSON in this exact structure:
` + "```json" + `
{
  "slides": [
    {
      "title": "Slide Title",
      "bullet_points": [
        "First key point",
        "Second important point",
        "Third valuable insight"
      ],
      "additional_info": "Detailed explanation, statistics, examples, or context that supports the main points. This should be informative and add value to the presentation.",
      "image_urls": [
        "https://via.placeholder.com/400x300/0066cc/ffffff?text=Relevant+Image1",
        "https://via.placeholder.com/400x300/28a745/ffffff?text=Chart+or+Graph"
      ],
      "reference_urls": [
        "https://example.com/relevant-article",
        "https://research.example.com/study"
      ]
    }
  ]
}
` + "```" + `
`

const generalKnowledge = "Generate comprehensive content based on your knowledge with relevant examples, statistics, and references."

// Build combines the fixed preamble with the topic and, when present, the
// (possibly truncated) document text.
func Build(topic, documentText string) string {
	var sb strings.Builder
	sb.WriteString(preamble)
	sb.WriteString("\n\n")

	if documentText != "" {
		preview, _ := Truncate(documentText, MaxDocumentChars)
		sb.WriteString("Document Content to Analyze:\n")
		sb.WriteString(preview)
		sb.WriteString("\n\nTopic: ")
		sb.WriteString(topic)
		return sb.String()
	}

	sb.WriteString("Topic to Present: ")
	sb.WriteString(topic)
	sb.WriteString("\n\n")
	sb.WriteString(generalKnowledge)
	return sb.String()
}

// Truncate keeps the first limit characters of text and appends
// TruncationMarker if anything was dropped. Characters are counted as runes
// so multi-byte text is never split mid-sequence.
func Truncate(text string, limit int) (string, bool) {
	if limit < 0 {
		limit = 0
	}
	count := 0
	for i := range text {
		if count == limit {
			return text[:i] + TruncationMarker, true
		}
		count++
	}
	return text, false
}
