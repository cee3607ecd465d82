package slides

import "time"

// Fallback builds the fixed four-slide deck used whenever model output is
// unavailable or unusable.
func Fallback(topic string, now time.Time) *Presentation {
	return &Presentation{
		Topic:       topic,
		GeneratedAt: now,
		Slides: []SlideRecord{
			{
				Title: topic,
				BulletPoints: []string{
					"AI-Generated Professional Presentation",
					"Comprehensive Analysis",
					"Data-Driven Insights",
				},
				AdditionalInfo: "This presentation has been automatically generated using advanced AI technology to provide comprehensive coverage of the topic with relevant insights and supporting information.",
				ImageURLs:      []string{"https://via.placeholder.com/400x300/1f497d/ffffff?text=Title+Slide"},
				ReferenceURLs:  []string{"https://example.com/ai-presentations"},
			},
			{
				Title: "Introduction & Overview",
				BulletPoints: []string{
					"Comprehensive overview of " + topic,
					"Key concepts and fundamental principles",
					"Current relevance and importance",
					"Presentation structure and objectives",
				},
				AdditionalInfo: "This section provides the foundational understanding necessary to grasp the core concepts. We'll explore the historical context, current applications, and future implications of the topic.",
				ImageURLs:      []string{"https://via.placeholder.com/400x300/28a745/ffffff?text=Overview"},
				ReferenceURLs:  []string{"https://example.com/introduction", "https://example.com/overview"},
			},
			{
				Title: "Key Analysis & Findings",
				BulletPoints: []string{
					"Primary research findings and data",
					"Statistical analysis and trends",
					"Critical insights and interpretations",
					"Practical applications and use cases",
				},
				AdditionalInfo: "Our analysis reveals significant patterns and trends that have important implications for understanding this topic. These findings are based on current research and real-world applications.",
				ImageURLs:      []string{"https://via.placeholder.com/400x300/dc3545/ffffff?text=Data+Analysis"},
				ReferenceURLs:  []string{"https://example.com/research", "https://example.com/data-analysis"},
			},
			{
				Title: "Conclusions & Next Steps",
				BulletPoints: []string{
					"Summary of critical findings",
					"Key takeaways and insights",
					"Future considerations and opportunities",
					"Recommended actions and next steps",
				},
				AdditionalInfo: "Based on our comprehensive analysis, these conclusions provide a clear path forward. The recommendations are actionable and based on evidence-driven insights.",
				ImageURLs:      []string{"https://via.placeholder.com/400x300/6f42c1/ffffff?text=Conclusions"},
				ReferenceURLs:  []string{"https://example.com/conclusions", "https://example.com/future-research"},
			},
		},
	}
}
