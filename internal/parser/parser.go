package parser

import (
	"math"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
)

// JPYToKRW is the fixed conversion rate applied to listing prices.
const JPYToKRW = 9.40

var digitsPattern = regexp.MustCompile(`\d+`)

// OnlyDigits keeps the digits of text and parses them as one integer.
// Text without digits yields 0.
func OnlyDigits(text string) int64 {
	nums := digitsPattern.FindAllString(text, -1)
	if len(nums) == 0 {
		return 0
	}
	v, err := strconv.ParseInt(strings.Join(nums, ""), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// ConvertPrice multiplies a source price by rate and rounds to 2 places.
func ConvertPrice(source int64, rate float64) float64 {
	return math.Round(float64(source)*rate*100) / 100
}

// NormalizeShop turns a user supplied line into a bare shop identifier.
// Full URLs are reduced to their final path segment.
func NormalizeShop(line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return ""
	}
	if !strings.Contains(line, "://") && !strings.Contains(line, "/") {
		return line
	}

	p := line
	if u, err := url.Parse(line); err == nil && u.Host != "" {
		p = u.Path
	} else if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	p = strings.TrimRight(p, "/")
	if p == "" {
		return ""
	}
	return path.Base(p)
}

// NormalizeShops normalizes every line and drops the empty ones.
func NormalizeShops(lines []string) []string {
	shops := make([]string, 0, len(lines))
	for _, l := range lines {
		if s := NormalizeShop(l); s != "" {
			shops = append(shops, s)
		}
	}
	return shops
}

var knownImageExts = map[string]string{
	".jpg":  ".jpg",
	".jpeg": ".jpg",
	".png":  ".png",
	".gif":  ".gif",
	".webp": ".webp",
	".bmp":  ".bmp",
}

// GuessExt infers an image extension hint from its URL, defaulting to .jpg.
func GuessExt(imageURL string) string {
	p := imageURL
	if u, err := url.Parse(imageURL); err == nil {
		p = u.Path
	}
	if ext, ok := knownImageExts[strings.ToLower(path.Ext(p))]; ok {
		return ext
	}
	return ".jpg"
}
