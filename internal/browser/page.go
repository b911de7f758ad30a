package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Reader is the page-level capability the scrape session drives.
// Every call resolves its selectors again, so callers never hold on to
// elements that may have been re-rendered.
type Reader interface {
	Goto(ctx context.Context, url string) error
	WaitAttached(ctx context.Context, selector string, timeout time.Duration) error
	ClickAndWaitStale(ctx context.Context, button, watch string, timeout time.Duration) error
	Count(ctx context.Context, selector string) (int, error)
	NthText(ctx context.Context, list string, i int, child string) (string, error)
	NthAttr(ctx context.Context, list string, i int, child, attr string) (string, error)
	Content(ctx context.Context) (string, error)
	URL() string
	Close() error
}

// childTimeout bounds lookups inside an already rendered list entry.
const childTimeout = 2 * time.Second

// Page implements Reader on top of a playwright page.
type Page struct {
	page    playwright.Page
	timeout time.Duration
	logger  *slog.Logger
}

func NewPage(page playwright.Page, timeout time.Duration, logger *slog.Logger) *Page {
	return &Page{
		page:    page,
		timeout: timeout,
		logger:  logger,
	}
}

func ms(d time.Duration) *float64 {
	return playwright.Float(float64(d.Milliseconds()))
}

func (p *Page) Goto(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   ms(3 * p.timeout),
	})
	if err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (p *Page) WaitAttached(ctx context.Context, selector string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := p.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: ms(timeout),
	})
	if err != nil {
		return fmt.Errorf("waiting for %s: %w", selector, err)
	}
	return nil
}

// ClickAndWaitStale clicks button and waits until the element currently
// matched by watch has been detached or hidden.
func (p *Page) ClickAndWaitStale(ctx context.Context, button, watch string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	old, err := p.page.Locator(watch).First().ElementHandle(playwright.LocatorElementHandleOptions{
		Timeout: ms(timeout),
	})
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", watch, err)
	}
	defer old.Dispose()

	btn := p.page.Locator(button).First()
	if err := btn.ScrollIntoViewIfNeeded(); err != nil {
		p.logger.Debug("scroll into view failed", "selector", button, "error", err)
	}
	if err := btn.Click(playwright.LocatorClickOptions{Timeout: ms(timeout)}); err != nil {
		p.logger.Debug("native click failed, using script click", "selector", button, "error", err)
		if _, err := btn.Evaluate("el => el.click()", nil); err != nil {
			return fmt.Errorf("failed to click %s: %w", button, err)
		}
	}

	if err := old.WaitForElementState(*playwright.ElementStateHidden, playwright.ElementHandleWaitForElementStateOptions{
		Timeout: ms(timeout),
	}); err != nil {
		return fmt.Errorf("%s did not go stale: %w", watch, err)
	}
	return nil
}

func (p *Page) Count(ctx context.Context, selector string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return p.page.Locator(selector).Count()
}

func (p *Page) child(list string, i int, child string) (playwright.Locator, bool) {
	loc := p.page.Locator(list).Nth(i).Locator(child).First()
	if n, err := loc.Count(); err != nil || n == 0 {
		return nil, false
	}
	return loc, true
}

// NthText returns the trimmed text of child inside the i-th list entry,
// or "" when it does not exist.
func (p *Page) NthText(ctx context.Context, list string, i int, child string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	loc, ok := p.child(list, i, child)
	if !ok {
		return "", nil
	}
	text, err := loc.InnerText(playwright.LocatorInnerTextOptions{Timeout: ms(childTimeout)})
	if err != nil {
		return "", fmt.Errorf("failed to read text of %s: %w", child, err)
	}
	return strings.TrimSpace(text), nil
}

func (p *Page) NthAttr(ctx context.Context, list string, i int, child, attr string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	loc, ok := p.child(list, i, child)
	if !ok {
		return "", nil
	}
	if attr == "href" {
		// resolved absolute URL rather than the raw attribute
		v, err := loc.Evaluate("el => el.href || ''", nil, playwright.LocatorEvaluateOptions{Timeout: ms(childTimeout)})
		if err != nil {
			return "", fmt.Errorf("failed to read href of %s: %w", child, err)
		}
		s, _ := v.(string)
		return strings.TrimSpace(s), nil
	}
	v, err := loc.GetAttribute(attr, playwright.LocatorGetAttributeOptions{Timeout: ms(childTimeout)})
	if err != nil {
		return "", fmt.Errorf("failed to read %s of %s: %w", attr, child, err)
	}
	return strings.TrimSpace(v), nil
}

func (p *Page) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	html, err := p.page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to get page content: %w", err)
	}
	return html, nil
}

func (p *Page) URL() string {
	return p.page.URL()
}

func (p *Page) Close() error {
	return p.page.Close()
}
