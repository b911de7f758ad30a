package scraper

import (
	"context"
	"fmt"
	"strings"
)

// ProbeReport describes what the ranking markup of a shop page looks like
// to the scraper. It is used to diagnose selector drift.
type ProbeReport struct {
	URL           string
	PeriodControl bool
	RankingList   bool
	Entries       int
	FirstName     string
	FirstPrice    string
	FirstLink     string
	HTML          string
}

// Probe opens the shop page on a fresh reader of h and checks every
// selector the listing phase depends on. Missing elements are reported,
// not returned as errors.
func Probe(ctx context.Context, h Handle, cfg Config, shop string) (*ProbeReport, error) {
	reader, err := h.NewReader()
	if err != nil {
		return nil, fmt.Errorf("failed to open reader: %w", err)
	}
	defer reader.Close()

	url := strings.TrimRight(cfg.BaseURL, "/") + "/" + shop
	if err := reader.Goto(ctx, url); err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", url, err)
	}

	rep := &ProbeReport{URL: reader.URL()}
	rep.PeriodControl = reader.WaitAttached(ctx, periodControlSelector, cfg.WaitTimeout) == nil
	rep.RankingList = reader.WaitAttached(ctx, rankingListSelector, cfg.WaitTimeout) == nil

	if n, err := reader.Count(ctx, rankingItemSelector); err == nil {
		rep.Entries = n
	}
	if rep.Entries > 0 {
		rep.FirstName, _ = reader.NthText(ctx, rankingItemSelector, 0, itemNameSelector)
		rep.FirstPrice, _ = reader.NthText(ctx, rankingItemSelector, 0, itemPriceSelector)
		rep.FirstLink, _ = reader.NthAttr(ctx, rankingItemSelector, 0, itemLinkSelector, "href")
	}

	html, err := reader.Content(ctx)
	if err != nil {
		return rep, fmt.Errorf("failed to read page content: %w", err)
	}
	rep.HTML = html
	return rep, nil
}

// OK reports whether the page has everything a listing snapshot needs.
func (r *ProbeReport) OK() bool {
	return r.PeriodControl && r.RankingList && r.Entries > 0
}
