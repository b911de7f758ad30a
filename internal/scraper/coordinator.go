package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/maltedev/shop-ranking-scraper/internal/browser"
	"github.com/maltedev/shop-ranking-scraper/internal/metrics"
	"github.com/maltedev/shop-ranking-scraper/internal/models"
	"github.com/maltedev/shop-ranking-scraper/internal/ratelimit"
)

// HandleFactory starts a browser automation handle.
type HandleFactory func(ctx context.Context) (Handle, error)

// BrowserFactory launches a playwright browser with opts for every handle.
func BrowserFactory(opts *browser.Options) HandleFactory {
	return func(ctx context.Context) (Handle, error) {
		b, err := browser.New(opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}

// Coordinator hands one reusable automation handle to a fresh Session per
// shop. It is built once by the caller and passed around explicitly.
type Coordinator struct {
	mu       sync.Mutex
	factory  HandleFactory
	handle   Handle
	images   ImageSource
	limiter  ratelimit.RateLimiter
	cfg      Config
	savePath string
	period   models.Period
	metrics  *metrics.Metrics
	logger   *slog.Logger
	starts   int
}

func NewCoordinator(cfg Config, factory HandleFactory, images ImageSource, limiter ratelimit.RateLimiter, m *metrics.Metrics, logger *slog.Logger) *Coordinator {
	if limiter == nil {
		limiter = ratelimit.Nop{}
	}
	return &Coordinator{
		factory: factory,
		images:  images,
		limiter: limiter,
		cfg:     cfg,
		period:  models.PeriodWeekly,
		metrics: m,
		logger:  logger.With("component", "coordinator"),
	}
}

// Configure updates save path and period in place; the handle is kept.
func (c *Coordinator) Configure(savePath string, period models.Period) error {
	if !period.IsValid() {
		return fmt.Errorf("invalid period %q", period)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.savePath = savePath
	c.period = period
	return nil
}

func (c *Coordinator) SavePath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.savePath
}

func (c *Coordinator) Period() models.Period {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.period
}

// HandleStarts is how many times the automation handle has been started.
func (c *Coordinator) HandleStarts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts
}

func (c *Coordinator) acquire(ctx context.Context) (Handle, models.Period, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle == nil {
		h, err := c.factory(ctx)
		if err != nil {
			return nil, c.period, fmt.Errorf("failed to start browser: %w", err)
		}
		c.handle = h
		c.starts++
		c.metrics.IncHandleStart()
		c.logger.Info("automation handle started", "starts", c.starts)
	}
	return c.handle, c.period, nil
}

// discard drops a handle that could no longer open pages so the next
// shop starts a new one.
func (c *Coordinator) discard(h Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle != h {
		return
	}
	if err := h.Close(); err != nil {
		c.logger.Warn("failed to close broken handle", "error", err)
	}
	c.handle = nil
}

// RunShop scrapes one shop on the shared handle and returns what was
// collected, which may be partial when err is non-nil.
func (c *Coordinator) RunShop(ctx context.Context, shop string) (*models.ShopRunResult, error) {
	s, err := c.RunSession(ctx, shop)
	return s.Result(), err
}

// RunSession is RunShop returning the finished session itself. The session
// holds only this shop's data, even when err is non-nil.
func (c *Coordinator) RunSession(ctx context.Context, shop string) (*Session, error) {
	h, period, err := c.acquire(ctx)
	if err != nil {
		s := newSession(shop, period, nil, c.images, c.limiter, c.cfg, c.metrics, c.logger)
		s.transition(StateFailed)
		return s, &ShopError{Shop: shop, Phase: PhaseSession, Err: err}
	}

	s := newSession(shop, period, h, c.images, c.limiter, c.cfg, c.metrics, c.logger)
	_, err = s.Run(ctx)

	var se *ShopError
	if errors.As(err, &se) && se.Phase == PhaseSession && !errors.Is(err, ErrInvalidShop) {
		c.discard(h)
	}

	return s, err
}

// Close releases the automation handle.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle == nil {
		return nil
	}
	err := c.handle.Close()
	c.handle = nil
	return err
}
