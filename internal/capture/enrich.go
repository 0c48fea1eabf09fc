package capture

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractTitleAndMeta parses a DOM snapshot and returns the <title> text
// plus every <meta name=... content=...> pair, later tags overwriting
// earlier ones for the same name, per spec §4.5 step 7.
func ExtractTitleAndMeta(html string) (title string, meta MetaTags, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", nil, err
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())

	meta = make(MetaTags)
	doc.Find("meta[name]").Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		content, _ := s.Attr("content")
		meta[strings.ToLower(strings.TrimSpace(name))] = content
	})

	return title, meta, nil
}

// ScrapeBaseTag returns the href of a <base> tag, if present, which frame
// and media URL resolution should prefer over the document's own URL —
// mirroring Zeno's postprocessor.scrapeBaseTag for the seed/redirection
// case.
func ScrapeBaseTag(html string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", false
	}

	href, ok := doc.Find("base[href]").First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return "", false
	}
	return href, true
}

// DocumentFromHTML builds a goquery.Document from a DOM snapshot, shared
// by the meta extraction, favicon discovery, and media discovery steps so
// each doesn't reparse the snapshot independently.
func DocumentFromHTML(html string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}
