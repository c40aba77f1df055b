package extractor

import (
	"strings"

	"listing-pipeline/internal/core/cleaning"
	"listing-pipeline/internal/core/domain"

	"github.com/PuerkitoBio/goquery"
)

func parseDocument(html string) (*goquery.Document, bool) {
	if strings.TrimSpace(html) == "" {
		return nil, false
	}
	if len(html) > domain.MaxHTMLBytes {
		html = html[:domain.MaxHTMLBytes]
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, false
	}
	return doc, true
}

// stripHTML переводит HTML-описание в плоский текст
func stripHTML(fragment string) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return collapseSpaces(cleaning.ScrubUTF8(fragment))
	}
	return collapseSpaces(cleaning.ScrubUTF8(doc.Text()))
}

// VisibleText видимый текст страницы, обрезанный до limit рун. Нужен для промпта,
// когда структурированного блока нет.
func VisibleText(html string, limit int) string {
	doc, ok := parseDocument(html)
	if !ok {
		return ""
	}
	doc.Find("script, style, noscript, svg, iframe").Remove()
	text := collapseSpaces(cleaning.ScrubUTF8(doc.Find("body").Text()))

	runes := []rune(text)
	if limit > 0 && len(runes) > limit {
		return string(runes[:limit])
	}
	return text
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
