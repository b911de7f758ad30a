package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maltedev/shop-ranking-scraper/internal/browser"
	"github.com/maltedev/shop-ranking-scraper/internal/metrics"
	"github.com/maltedev/shop-ranking-scraper/internal/models"
	"github.com/maltedev/shop-ranking-scraper/internal/parser"
	"github.com/maltedev/shop-ranking-scraper/internal/ratelimit"
)

const (
	periodControlSelector = "#ul_ranking_period"
	rankingListSelector   = "#ul_minishop_ranking"
	rankingItemSelector   = "ul#ul_minishop_ranking > li"

	itemNameSelector  = "p.text_item"
	itemPriceSelector = "strong.price_original"
	itemLinkSelector  = "div.top_wrap a"
	itemTotalSelector = "span.option_text"
)

func periodButtonSelector(p models.Period) string {
	return fmt.Sprintf(`#ul_ranking_period button[value="%s"]`, p)
}

func periodSelectedSelector(p models.Period) string {
	return fmt.Sprintf(`#ul_ranking_period li.selected button[value="%s"]`, p)
}

type State int

const (
	StateUninitialized State = iota
	StateSessionReady
	StatePeriodSelected
	StateListingSnapshotted
	StateEnriching
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateSessionReady:
		return "session_ready"
	case StatePeriodSelected:
		return "period_selected"
	case StateListingSnapshotted:
		return "listing_snapshotted"
	case StateEnriching:
		return "enriching"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

type Config struct {
	BaseURL     string
	MaxItems    int
	WaitTimeout time.Duration
	Rate        float64
}

func DefaultConfig() Config {
	return Config{
		BaseURL:     "https://m.qoo10.jp/shop/",
		MaxItems:    10,
		WaitTimeout: 10 * time.Second,
		Rate:        parser.JPYToKRW,
	}
}

// ImageSource downloads the bytes of a product image.
type ImageSource interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Handle is the long-lived browser automation handle. Each shop opens its
// own reader on it and closes that reader when done.
type Handle interface {
	NewReader() (browser.Reader, error)
	Close() error
}

// Session scrapes exactly one shop. A fresh Session is built for every
// shop; only the Handle it is bound to outlives it.
type Session struct {
	shop    string
	period  models.Period
	handle  Handle
	images  ImageSource
	limiter ratelimit.RateLimiter
	cfg     Config
	metrics *metrics.Metrics
	logger  *slog.Logger

	reader   browser.Reader
	state    State
	snapshot []models.ListingEntry
	results  []models.ItemRecord
	assets   []models.ImageAsset
	started  time.Time
	finished time.Time
}

func newSession(shop string, period models.Period, h Handle, images ImageSource, limiter ratelimit.RateLimiter, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Session {
	return &Session{
		shop:    shop,
		period:  period,
		handle:  h,
		images:  images,
		limiter: limiter,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With("shop", shop, "period", string(period)),
		state:   StateUninitialized,
	}
}

func (s *Session) Shop() string {
	return s.shop
}

func (s *Session) State() State {
	return s.state
}

// Snapshot is the listing captured before detail enrichment.
func (s *Session) Snapshot() []models.ListingEntry {
	return s.snapshot
}

func (s *Session) transition(to State) {
	s.logger.Debug("session state", "from", s.state.String(), "to", to.String())
	s.state = to
}

// Result returns whatever the session has collected so far.
func (s *Session) Result() *models.ShopRunResult {
	return &models.ShopRunResult{
		Shop:       s.shop,
		Period:     s.period,
		Items:      s.results,
		Images:     s.assets,
		StartedAt:  s.started,
		FinishedAt: s.finished,
	}
}

// Run performs the listing and enrichment passes. Items enriched before a
// failure are kept and returned alongside the error.
func (s *Session) Run(ctx context.Context) (*models.ShopRunResult, error) {
	s.started = time.Now()
	defer func() { s.finished = time.Now() }()

	if strings.TrimSpace(s.shop) == "" {
		s.transition(StateFailed)
		return s.Result(), &ShopError{Shop: s.shop, Phase: PhaseSession, Err: ErrInvalidShop}
	}

	reader, err := s.handle.NewReader()
	if err != nil {
		s.transition(StateFailed)
		return s.Result(), &ShopError{Shop: s.shop, Phase: PhaseSession, Err: err}
	}
	s.reader = reader
	s.transition(StateSessionReady)

	defer func() {
		if err := reader.Close(); err != nil {
			s.logger.Warn("failed to release page", "error", err)
		}
		s.reader = nil
	}()

	if err := s.CollectListing(ctx); err != nil {
		s.transition(StateFailed)
		return s.Result(), &ShopError{Shop: s.shop, Phase: PhaseListing, Err: err}
	}

	if err := s.EnrichDetails(ctx); err != nil {
		s.transition(StateFailed)
		return s.Result(), &ShopError{Shop: s.shop, Phase: PhaseEnrich, Err: err}
	}

	s.transition(StateDone)
	s.logger.Info("shop scraped", "items", len(s.results), "duration", time.Since(s.started))
	return s.Result(), nil
}

// SelectPeriod switches the ranking window and waits until the listing
// that was on screen before the click has been replaced.
func (s *Session) SelectPeriod(ctx context.Context) error {
	timeout := s.cfg.WaitTimeout

	if err := s.reader.WaitAttached(ctx, periodControlSelector, timeout); err != nil {
		return navTimeout("period control", err)
	}
	if err := s.reader.WaitAttached(ctx, rankingListSelector, timeout); err != nil {
		return navTimeout("ranking list", err)
	}

	if err := s.reader.ClickAndWaitStale(ctx, periodButtonSelector(s.period), rankingListSelector, timeout); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Debug("listing did not go stale, checking selected marker", "error", err)
		if err := s.reader.WaitAttached(ctx, periodSelectedSelector(s.period), timeout); err != nil {
			return navTimeout("period selection", err)
		}
	}

	if err := s.reader.WaitAttached(ctx, rankingListSelector, timeout); err != nil {
		return navTimeout("ranking list after period switch", err)
	}

	s.transition(StatePeriodSelected)
	s.logger.Info("period switched", "label", s.period.Label())
	return nil
}

// CollectListing opens the shop page, selects the period and snapshots up
// to MaxItems ranking entries.
func (s *Session) CollectListing(ctx context.Context) error {
	shopURL := strings.TrimRight(s.cfg.BaseURL, "/") + "/" + s.shop
	if err := s.reader.Goto(ctx, shopURL); err != nil {
		return err
	}

	if err := s.SelectPeriod(ctx); err != nil {
		return err
	}

	n, err := s.reader.Count(ctx, rankingItemSelector)
	if err != nil {
		return fmt.Errorf("failed to count ranking entries: %w", err)
	}
	count := min(n, s.cfg.MaxItems)

	for i := 0; i < count; i++ {
		// the list is resolved again for every entry since the page may
		// re-render it while we read
		name := s.text(ctx, i, itemNameSelector)
		priceJPY := parser.OnlyDigits(s.text(ctx, i, itemPriceSelector))
		href := s.attr(ctx, i, itemLinkSelector, "href")
		total := s.text(ctx, i, itemTotalSelector)

		if err := ctx.Err(); err != nil {
			return err
		}

		s.snapshot = append(s.snapshot, models.ListingEntry{
			Index:      i,
			Name:       name,
			PriceJPY:   priceJPY,
			PriceKRW:   parser.ConvertPrice(priceJPY, s.cfg.Rate),
			ProductURL: href,
			TotalCount: total,
		})
	}

	s.transition(StateListingSnapshotted)
	s.logger.Info("listing snapshotted", "entries", len(s.snapshot), "available", n)
	return nil
}

func (s *Session) text(ctx context.Context, i int, child string) string {
	v, err := s.reader.NthText(ctx, rankingItemSelector, i, child)
	if err != nil {
		s.logger.Debug("text extraction failed", "index", i, "selector", child,
			"error", fmt.Errorf("%w: %w", ErrExtractionEmpty, err))
		return ""
	}
	return v
}

func (s *Session) attr(ctx context.Context, i int, child, name string) string {
	v, err := s.reader.NthAttr(ctx, rankingItemSelector, i, child, name)
	if err != nil {
		s.logger.Debug("attribute extraction failed", "index", i, "selector", child,
			"error", fmt.Errorf("%w: %w", ErrExtractionEmpty, err))
		return ""
	}
	return v
}

// EnrichDetails visits every snapshot entry in order and appends one
// ItemRecord and one ImageAsset per entry.
func (s *Session) EnrichDetails(ctx context.Context) error {
	s.transition(StateEnriching)
	timeout := s.cfg.WaitTimeout

	for _, entry := range s.snapshot {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		if entry.ProductURL == "" {
			return fmt.Errorf("%w: entry %d", ErrMissingDetailURL, entry.Index)
		}

		if err := s.reader.Goto(ctx, entry.ProductURL); err != nil {
			return err
		}

		if err := s.reader.WaitAttached(ctx, parser.ReviewSelector, timeout); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Debug("review count unavailable, using 0", "index", entry.Index, "error", err)
		}

		if err := s.reader.WaitAttached(ctx, parser.ImageSelector, timeout); err != nil {
			return navTimeout("product image", err)
		}

		html, err := s.reader.Content(ctx)
		if err != nil {
			return err
		}

		detail, err := parser.ParseDetail(html, s.reader.URL())
		if err != nil {
			return fmt.Errorf("entry %d: %w", entry.Index, err)
		}

		data, err := s.images.Fetch(ctx, detail.ImageURL)
		if err != nil {
			s.metrics.IncImageError()
			return fmt.Errorf("entry %d image: %w", entry.Index, err)
		}

		s.results = append(s.results, models.ItemRecord{
			Shop:        s.shop,
			Name:        entry.Name,
			PriceJPY:    entry.PriceJPY,
			PriceKRW:    entry.PriceKRW,
			ReviewCount: detail.ReviewCount,
			ProductURL:  entry.ProductURL,
			TotalCount:  entry.TotalCount,
			ImageURL:    detail.ImageURL,
			ImageIndex:  entry.Index,
		})
		s.assets = append(s.assets, models.ImageAsset{
			Index: entry.Index,
			Data:  data,
			Ext:   parser.GuessExt(detail.ImageURL),
		})
		s.metrics.IncItems()
	}

	return nil
}

// IsTimeout reports whether err stems from a bounded wait expiring.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrNavigationTimeout) || errors.Is(err, context.DeadlineExceeded)
}
