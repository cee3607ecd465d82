package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// blockSelector lists elements that start a new line in the extracted text.
const blockSelector = "div, p, h1, h2, h3, h4, h5, h6, li, tr, blockquote, pre, " +
	"section, article, header, footer, nav, main, table, ul, ol, dl, dt, dd, hr, figure, figcaption"

// parseHTML extracts visible text from HTML, keeping block structure as
// line breaks. Entities are decoded by the HTML tokenizer.
func (dp *DocumentParser) parseHTML(data []byte) (result *ParseResult, err error) {
	defer recoverAs(&err)

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())

	doc.Find("script, style, noscript, template, head").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("td, th").AfterHtml("\t")
	doc.Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
		s.BeforeHtml("\n")
		s.AfterHtml("\n")
	})

	text := CleanText(doc.Text())
	links := doc.Find("a[href]").Length()

	return &ParseResult{
		Text: text,
		Metadata: map[string]string{
			"title":      title,
			"link_count": fmt.Sprintf("%d", links),
		},
	}, nil
}
