package workerpool

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/zeebo/xxh3"
	"mvdan.cc/xurls/v2"
)

var styleURLRe = regexp.MustCompile(`url\((['"]?)(.*?)\1\)`)

// strictURLMatcher supplements the DOM-attribute scan with a plain-text
// URL extraction pass over inline <script type="application/json"> bodies,
// catching addresses goquery's attribute selectors can't see. Inline
// <style> bodies go through styleURLRe instead.
var strictURLMatcher = xurls.Strict()

// DiscoverMediaURLs walks doc for every URL named in spec §4.3's Media
// Worker rule: <img srcset|src>, <video|audio|embed|source src>,
// <object data|archive>, <param name="movie" value>, each resolved
// against the nearest base (<object codebase> if present, else
// currentFrameURL), following Zeno's internal/crawl/assets.go extraction
// idiom. Returns absolute URLs deduplicated by a hash of the URL string.
func DiscoverMediaURLs(doc *goquery.Document, currentFrameURL string) []string {
	base, err := url.Parse(currentFrameURL)
	if err != nil {
		return nil
	}

	var raw []string

	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok {
			raw = append(raw, src)
		}
		if srcset, ok := s.Attr("srcset"); ok {
			for _, entry := range strings.Split(srcset, ",") {
				fields := strings.Fields(strings.TrimSpace(entry))
				if len(fields) > 0 {
					raw = append(raw, fields[0])
				}
			}
		}
	})

	doc.Find("video, audio, embed, source").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok {
			raw = append(raw, src)
		}
	})

	doc.Find("object").Each(func(_ int, s *goquery.Selection) {
		objBase := base
		if codebase, ok := s.Attr("codebase"); ok {
			if resolved, err := base.Parse(codebase); err == nil {
				objBase = resolved
			}
		}

		if data, ok := s.Attr("data"); ok {
			raw = append(raw, resolveAgainst(objBase, data))
		}
		if archive, ok := s.Attr("archive"); ok {
			raw = append(raw, resolveAgainst(objBase, archive))
		}

		s.Find(`param[name="movie"]`).Each(func(_ int, param *goquery.Selection) {
			if value, ok := param.Attr("value"); ok {
				raw = append(raw, resolveAgainst(objBase, value))
			}
		})
	})

	doc.Find("style").Each(func(_ int, s *goquery.Selection) {
		matches := styleURLRe.FindAllStringSubmatch(s.Text(), -1)
		for _, m := range matches {
			raw = append(raw, m[2])
		}
	})

	doc.Find(`style[type], [style]`).Each(func(_ int, s *goquery.Selection) {
		if inline, ok := s.Attr("style"); ok {
			matches := styleURLRe.FindAllStringSubmatch(inline, -1)
			for _, m := range matches {
				raw = append(raw, m[2])
			}
		}
	})

	doc.Find(`script[type="application/json"]`).Each(func(_ int, s *goquery.Selection) {
		for _, match := range strictURLMatcher.FindAllString(s.Text(), -1) {
			raw = append(raw, match)
		}
	})

	return dedupeAbsolute(base, raw)
}

func resolveAgainst(base *url.URL, ref string) string {
	resolved, err := base.Parse(ref)
	if err != nil {
		return ref
	}
	return resolved.String()
}

// dedupeAbsolute resolves every candidate against base and deduplicates by
// an xxh3 hash of the resulting absolute URL, preserving first-seen order.
func dedupeAbsolute(base *url.URL, raw []string) []string {
	seen := make(map[uint64]bool, len(raw))
	var out []string

	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" || strings.HasPrefix(r, "data:") || strings.HasPrefix(r, "#") {
			continue
		}

		resolved, err := base.Parse(r)
		if err != nil {
			continue
		}
		abs := resolved.String()

		h := xxh3.HashString(abs)
		if seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, abs)
	}
	return out
}
