package browser

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Browser owns the playwright driver, one browser and one context.
// It is expensive to start and is meant to be reused across shops.
type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	opts    *Options
	logger  *slog.Logger
}

type Options struct {
	Headless       bool
	Timeout        time.Duration
	Device         string
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
	BlockImages    bool
	ExtraHeaders   map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		Timeout:        10 * time.Second,
		Device:         "Galaxy S8",
		UserAgent:      "Mozilla/5.0 (Linux; Android 9; SM-G950F) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
		ViewportWidth:  360,
		ViewportHeight: 740,
		AcceptLanguage: "ja-JP,ja;q=0.9,en;q=0.8",
		TimezoneID:     "Asia/Tokyo",
		Locale:         "ja-JP",
		BlockImages:    true,
	}
}

func New(opts *Options) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-gpu",
		},
	}

	if opts.BlockImages {
		launchOpts.Args = append(launchOpts.Args, "--blink-settings=imagesEnabled=false")
	}

	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{
			Server: opts.ProxyServer,
		}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	context, err := browser.NewContext(contextOptions(pw, opts))
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	b := &Browser{
		pw:      pw,
		browser: browser,
		context: context,
		opts:    opts,
		logger:  slog.Default().With("component", "browser"),
	}

	if opts.BlockImages {
		if err := b.blockImages(); err != nil {
			b.Close()
			return nil, err
		}
	}

	b.logger.Info("browser ready", "device", opts.Device, "headless", opts.Headless)
	return b, nil
}

func contextOptions(pw *playwright.Playwright, opts *Options) playwright.BrowserNewContextOptions {
	headers := map[string]string{"Accept-Language": opts.AcceptLanguage}
	for k, v := range opts.ExtraHeaders {
		headers[k] = v
	}

	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent:         &opts.UserAgent,
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            &opts.Locale,
		TimezoneId:        &opts.TimezoneID,
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
		ExtraHttpHeaders: headers,
	}

	// mobile emulation, the ranking widgets only exist on the mobile site
	if device, ok := pw.Devices[opts.Device]; ok && device != nil {
		contextOpts.UserAgent = playwright.String(device.UserAgent)
		contextOpts.Viewport = device.Viewport
		contextOpts.DeviceScaleFactor = playwright.Float(device.DeviceScaleFactor)
		contextOpts.IsMobile = playwright.Bool(device.IsMobile)
		contextOpts.HasTouch = playwright.Bool(device.HasTouch)
	}

	return contextOpts
}

func (b *Browser) blockImages() error {
	err := b.context.Route("**/*", func(route playwright.Route) {
		if route.Request().ResourceType() == "image" {
			route.Abort()
			return
		}
		route.Continue()
	})
	if err != nil {
		return fmt.Errorf("failed to install image filter: %w", err)
	}
	return nil
}

// NewPage opens a fresh tab in the shared context.
func (b *Browser) NewPage() (playwright.Page, error) {
	page, err := b.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	page.SetDefaultTimeout(float64(b.opts.Timeout.Milliseconds()))

	return page, nil
}

// NewReader opens a page wrapped as a Reader.
func (b *Browser) NewReader() (Reader, error) {
	page, err := b.NewPage()
	if err != nil {
		return nil, err
	}
	return NewPage(page, b.opts.Timeout, b.logger), nil
}

func (b *Browser) Context() playwright.BrowserContext {
	return b.context
}

func (b *Browser) Close() error {
	var errs []error

	if b.context != nil {
		if err := b.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}

	return nil
}
