package parser

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	ReviewSelector = "p.reviewstar_text"
	ImageSelector  = "button.imgLink img"
)

var ErrNoImage = errors.New("primary image not found")

// Detail is what the item detail page contributes to a record.
type Detail struct {
	ReviewText  string
	ReviewCount int
	ImageURL    string
}

// ParseDetail extracts the review count and primary image of a detail page.
// A missing review element counts as zero reviews; a missing image is an error.
func ParseDetail(html, pageURL string) (*Detail, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	d := &Detail{}
	d.ReviewText = strings.TrimSpace(doc.Find(ReviewSelector).First().Text())
	d.ReviewCount = int(OnlyDigits(d.ReviewText))

	img := doc.Find(ImageSelector).First()
	src := attrFirst(img, "src", "data-src", "data-original")
	if src == "" {
		return d, ErrNoImage
	}
	d.ImageURL = resolveURL(pageURL, src)

	return d, nil
}

func attrFirst(s *goquery.Selection, names ...string) string {
	for _, n := range names {
		if v, ok := s.Attr(n); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func resolveURL(base, ref string) string {
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil || b.Scheme == "" {
		if strings.HasPrefix(ref, "//") {
			return "https:" + ref
		}
		return ref
	}
	return b.ResolveReference(r).String()
}
