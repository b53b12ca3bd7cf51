// Package links pulls anchor targets out of HTML documents.
package links

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var skippedPrefixes = []string{"#", "mailto:", "javascript:", "tel:", "data:"}

// Extractor implements crawler.LinkExtractor with goquery.
type Extractor struct{}

// New returns an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract returns the absolute http(s) targets of every <a href> in body,
// in document order. Relative links resolve against a <base href> when the
// document declares one, otherwise against baseURL.
func (e *Extractor) Extract(baseURL string, body []byte) []string {
	if len(body) == 0 {
		return nil
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if declared, err := base.Parse(strings.TrimSpace(href)); err == nil {
			base = declared
		}
	}

	var out []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || skipped(href) {
			return
		}
		u, err := base.Parse(href)
		if err != nil {
			return
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return
		}
		out = append(out, u.String())
	})
	return out
}

func skipped(href string) bool {
	lower := strings.ToLower(href)
	for _, p := range skippedPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}
