package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/maltedev/shop-ranking-scraper/internal/ratelimit"
)

var (
	ErrEmptyBody = errors.New("empty image body")
	ErrTooLarge  = errors.New("image body exceeds size limit")
)

// StatusError reports a non-2xx answer from the image host.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
}

type Options struct {
	Timeout   time.Duration
	UserAgent string
	Referer   string
	CacheSize int
	MaxBytes  int64
}

func DefaultOptions() Options {
	return Options{
		Timeout:   15 * time.Second,
		UserAgent: "Mozilla/5.0 (Linux; Android 9; SM-G950F) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
		Referer:   "https://m.qoo10.jp/",
		CacheSize: 256,
		MaxBytes:  10 << 20,
	}
}

// ImageFetcher downloads product images, remembering recent ones by URL.
type ImageFetcher struct {
	client  *http.Client
	cache   *lru.Cache[string, []byte]
	limiter ratelimit.RateLimiter
	opts    Options
	logger  *slog.Logger
}

func NewImageFetcher(client *http.Client, limiter ratelimit.RateLimiter, opts Options, logger *slog.Logger) (*ImageFetcher, error) {
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	if limiter == nil {
		limiter = ratelimit.Nop{}
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultOptions().CacheSize
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultOptions().MaxBytes
	}

	cache, err := lru.New[string, []byte](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create image cache: %w", err)
	}

	return &ImageFetcher{
		client:  client,
		cache:   cache,
		limiter: limiter,
		opts:    opts,
		logger:  logger.With("component", "image_fetcher"),
	}, nil
}

// Fetch returns the raw bytes behind url.
func (f *ImageFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if data, ok := f.cache.Get(url); ok {
		f.logger.Debug("image cache hit", "url", url)
		return data, nil
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build image request: %w", err)
	}
	if f.opts.UserAgent != "" {
		req.Header.Set("User-Agent", f.opts.UserAgent)
	}
	if f.opts.Referer != "" {
		req.Header.Set("Referer", f.opts.Referer)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image body: %w", err)
	}
	if int64(len(data)) > f.opts.MaxBytes {
		return nil, fmt.Errorf("%w: %s is over %d bytes", ErrTooLarge, url, f.opts.MaxBytes)
	}
	if len(data) == 0 {
		return nil, ErrEmptyBody
	}

	f.cache.Add(url, data)
	return data, nil
}
