// Package scrapertest provides an in-memory shop site that satisfies the
// browser automation interfaces, for tests of the scrape pipeline.
package scrapertest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"
	"sync"
	"time"

	"github.com/maltedev/shop-ranking-scraper/internal/browser"
	"github.com/maltedev/shop-ranking-scraper/internal/parser"
)

// ShopPrefix is where Site serves shop ranking pages.
const ShopPrefix = "https://m.qoo10.jp/shop/"

var ErrElementMissing = errors.New("element missing")

type Item struct {
	Name  string
	Price string
	Href  string
	Total string
}

type Detail struct {
	ReviewText string
	ImageURL   string
	NoReview   bool
	NoImage    bool
}

// Site scripts what a reader sees on shop and detail pages.
type Site struct {
	mu      sync.Mutex
	shops   map[string][]Item
	details map[string]Detail

	// StaleFails makes the listing never go stale after a period click.
	StaleFails bool
	// SelectedMissing hides the selected period marker.
	SelectedMissing bool

	navigations []string
	opened      int
	closed      int
	childReads  int
}

func NewSite() *Site {
	return &Site{
		shops:   map[string][]Item{},
		details: map[string]Detail{},
	}
}

// AddShop registers n ranked items for shop, each with a detail page.
// Item i costs (i+1)*1000+980 yen and has 10+i reviews.
func (s *Site) AddShop(shop string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < n; i++ {
		href := DetailURL(shop, i)
		s.shops[shop] = append(s.shops[shop], Item{
			Name:  fmt.Sprintf("%s item %d", shop, i+1),
			Price: fmt.Sprintf("¥%d,980", i+1),
			Href:  href,
			Total: fmt.Sprintf("%d sold", 100*(i+1)),
		})
		s.details[href] = Detail{
			ReviewText: fmt.Sprintf("(%d)", 10+i),
			ImageURL:   ImageURL(shop, i),
		}
	}
}

func DetailURL(shop string, i int) string {
	return fmt.Sprintf("https://m.qoo10.jp/g/%s-%d", shop, i)
}

func ImageURL(shop string, i int) string {
	return fmt.Sprintf("https://gd.image-qoo10.jp/%s/%d.png", shop, i)
}

// EditDetail changes the detail page of item i of shop.
func (s *Site) EditDetail(shop string, i int, fn func(*Detail)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.details[DetailURL(shop, i)]
	fn(&d)
	s.details[DetailURL(shop, i)] = d
}

func (s *Site) Navigations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.navigations...)
}

// Opened is the number of readers ever opened.
func (s *Site) Opened() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// Closed is the number of readers closed.
func (s *Site) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ChildReads counts lookups of fields inside ranking entries.
func (s *Site) ChildReads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.childReads
}

// Handle opens readers on a Site.
type Handle struct {
	site *Site

	mu        sync.Mutex
	readerErr error
	closed    bool
}

func NewHandle(site *Site) *Handle {
	return &Handle{site: site}
}

// Break makes every later NewReader call fail with err.
func (h *Handle) Break(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readerErr = err
}

func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *Handle) NewReader() (browser.Reader, error) {
	h.mu.Lock()
	err := h.readerErr
	h.mu.Unlock()
	if err != nil {
		return nil, err
	}

	h.site.mu.Lock()
	h.site.opened++
	h.site.mu.Unlock()
	return &reader{site: h.site}, nil
}

func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

type reader struct {
	site    *Site
	current string
}

func (r *reader) items() ([]Item, bool) {
	if !strings.HasPrefix(r.current, ShopPrefix) {
		return nil, false
	}
	items, ok := r.site.shops[strings.TrimPrefix(r.current, ShopPrefix)]
	return items, ok
}

func (r *reader) Goto(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.site.mu.Lock()
	defer r.site.mu.Unlock()

	r.site.navigations = append(r.site.navigations, url)
	r.current = url
	return nil
}

func (r *reader) WaitAttached(ctx context.Context, selector string, timeout time.Duration) error {
	r.site.mu.Lock()
	defer r.site.mu.Unlock()

	if _, ok := r.items(); ok {
		switch {
		case strings.Contains(selector, "li.selected"):
			if r.site.SelectedMissing {
				return ErrElementMissing
			}
			return nil
		case selector == "#ul_ranking_period", selector == "#ul_minishop_ranking":
			return nil
		}
		return ErrElementMissing
	}

	d, ok := r.site.details[r.current]
	if !ok {
		return ErrElementMissing
	}
	switch {
	case selector == parser.ReviewSelector && !d.NoReview:
		return nil
	case selector == parser.ImageSelector && !d.NoImage:
		return nil
	}
	return ErrElementMissing
}

func (r *reader) ClickAndWaitStale(ctx context.Context, button, watch string, timeout time.Duration) error {
	r.site.mu.Lock()
	defer r.site.mu.Unlock()

	if r.site.StaleFails {
		return ErrElementMissing
	}
	return nil
}

func (r *reader) Count(ctx context.Context, selector string) (int, error) {
	r.site.mu.Lock()
	defer r.site.mu.Unlock()

	items, _ := r.items()
	return len(items), nil
}

func (r *reader) nth(i int) (Item, error) {
	r.site.mu.Lock()
	defer r.site.mu.Unlock()

	r.site.childReads++
	items, _ := r.items()
	if i >= len(items) {
		return Item{}, ErrElementMissing
	}
	return items[i], nil
}

func (r *reader) NthText(ctx context.Context, list string, i int, child string) (string, error) {
	it, err := r.nth(i)
	if err != nil {
		return "", err
	}
	switch child {
	case "p.text_item":
		return it.Name, nil
	case "strong.price_original":
		return it.Price, nil
	case "span.option_text":
		return it.Total, nil
	}
	return "", nil
}

func (r *reader) NthAttr(ctx context.Context, list string, i int, child, attr string) (string, error) {
	it, err := r.nth(i)
	if err != nil {
		return "", err
	}
	return it.Href, nil
}

func (r *reader) Content(ctx context.Context) (string, error) {
	r.site.mu.Lock()
	defer r.site.mu.Unlock()

	d := r.site.details[r.current]
	var b strings.Builder
	b.WriteString("<html><body>")
	if !d.NoReview {
		fmt.Fprintf(&b, `<p class="reviewstar_text">%s</p>`, d.ReviewText)
	}
	if !d.NoImage {
		fmt.Fprintf(&b, `<button class="imgLink"><img src="%s"></button>`, d.ImageURL)
	}
	b.WriteString("</body></html>")
	return b.String(), nil
}

func (r *reader) URL() string {
	return r.current
}

func (r *reader) Close() error {
	r.site.mu.Lock()
	defer r.site.mu.Unlock()
	r.site.closed++
	return nil
}

// Images serves a small PNG for every URL unless told to fail it.
type Images struct {
	mu      sync.Mutex
	fail    map[string]error
	fetched []string
}

func NewImages() *Images {
	return &Images{fail: map[string]error{}}
}

// Fail makes fetching url return err.
func (f *Images) Fail(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[url] = err
}

func (f *Images) Fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

func (f *Images) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.fail[url]; err != nil {
		return nil, err
	}
	f.fetched = append(f.fetched, url)
	return PNG(), nil
}

var (
	pngOnce sync.Once
	pngData []byte
)

// PNG returns a 200x100 image.
func PNG() []byte {
	pngOnce.Do(func() {
		var buf bytes.Buffer
		_ = png.Encode(&buf, image.NewGray(image.Rect(0, 0, 200, 100)))
		pngData = buf.Bytes()
	})
	return pngData
}
