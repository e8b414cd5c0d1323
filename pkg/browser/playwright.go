package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

// PlaywrightLauncher drives browsers through the Playwright driver. The
// driver is installed and started on the first Launch.
type PlaywrightLauncher struct {
	// Install downloads the driver and browsers before the first run.
	Install bool
	Logger  *zap.Logger

	mu sync.Mutex
	pw *playwright.Playwright
}

// NewPlaywrightLauncher creates a launcher. A nil logger discards output.
func NewPlaywrightLauncher(install bool, logger *zap.Logger) *PlaywrightLauncher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlaywrightLauncher{Install: install, Logger: logger}
}

func (l *PlaywrightLauncher) start() (*playwright.Playwright, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pw != nil {
		return l.pw, nil
	}

	// Driver output would interleave with our own logs.
	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	if l.Install {
		l.Logger.Info("installing playwright driver")
		if err := playwright.Install(opts); err != nil {
			return nil, fmt.Errorf("failed to install playwright: %w", err)
		}
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}
	l.pw = pw
	return pw, nil
}

// Launch starts a browser of the given kind.
func (l *PlaywrightLauncher) Launch(ctx context.Context, kind Kind, opts LaunchOptions) (Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pw, err := l.start()
	if err != nil {
		return nil, err
	}

	var bt playwright.BrowserType
	switch kind {
	case Chromium, "":
		bt = pw.Chromium
	case Firefox:
		bt = pw.Firefox
	case WebKit:
		bt = pw.WebKit
	default:
		return nil, fmt.Errorf("unsupported browser %q", kind)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Timeout:  timeoutMillis(ctx),
	}
	if len(opts.Args) > 0 {
		launchOpts.Args = opts.Args
	}
	if opts.Channel != "" {
		launchOpts.Channel = playwright.String(opts.Channel)
	}
	if opts.SlowMo > 0 {
		launchOpts.SlowMo = playwright.Float(float64(opts.SlowMo.Milliseconds()))
	}

	b, err := bt.Launch(launchOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to launch %s: %w", kind, err)
	}
	l.Logger.Debug("browser launched", zap.String("browser", string(kind)), zap.Bool("headless", opts.Headless))
	return &pwBrowser{browser: b}, nil
}

// Close stops the driver if it was started.
func (l *PlaywrightLauncher) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pw == nil {
		return nil
	}
	err := l.pw.Stop()
	l.pw = nil
	if err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	return nil
}

type pwBrowser struct {
	browser playwright.Browser
}

func (b *pwBrowser) NewContext(ctx context.Context, opts ContextOptions) (Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctxOpts := playwright.BrowserNewContextOptions{}
	if opts.BaseURL != "" {
		ctxOpts.BaseURL = playwright.String(opts.BaseURL)
	}
	if opts.StorageStatePath != "" {
		ctxOpts.StorageStatePath = playwright.String(opts.StorageStatePath)
	}

	bc, err := b.browser.NewContext(ctxOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	return &pwContext{context: bc}, nil
}

func (b *pwBrowser) Close() error {
	return b.browser.Close()
}

type pwContext struct {
	context playwright.BrowserContext
}

func (c *pwContext) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	page, err := c.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	return &pwPage{page: page}, nil
}

func (c *pwContext) StartTracing() error {
	return c.context.Tracing().Start(playwright.TracingStartOptions{
		Screenshots: playwright.Bool(true),
		Snapshots:   playwright.Bool(true),
		Sources:     playwright.Bool(true),
	})
}

func (c *pwContext) StopTracing(path string) error {
	if path == "" {
		return c.context.Tracing().Stop()
	}
	return c.context.Tracing().Stop(path)
}

func (c *pwContext) ExportState(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st, err := c.context.StorageState()
	if err != nil {
		return nil, fmt.Errorf("failed to read storage state: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode storage state: %w", err)
	}
	return data, nil
}

func (c *pwContext) Close() error {
	return c.context.Close()
}

type pwPage struct {
	page playwright.Page
}

func (p *pwPage) Goto(ctx context.Context, url string, wait WaitPolicy) error {
	opts := playwright.PageGotoOptions{Timeout: timeoutMillis(ctx)}
	if wait != "" {
		waitUntil := playwright.WaitUntilState(wait)
		opts.WaitUntil = &waitUntil
	}
	if _, err := p.page.Goto(url, opts); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

func (p *pwPage) URL() string {
	return p.page.URL()
}

func (p *pwPage) Fill(ctx context.Context, selector, value string) error {
	if err := p.page.Locator(selector).Fill(value, playwright.LocatorFillOptions{Timeout: timeoutMillis(ctx)}); err != nil {
		return fmt.Errorf("fill %s failed: %w", selector, err)
	}
	return nil
}

func (p *pwPage) Click(ctx context.Context, selector string) error {
	if err := p.page.Locator(selector).Click(playwright.LocatorClickOptions{Timeout: timeoutMillis(ctx)}); err != nil {
		return fmt.Errorf("click %s failed: %w", selector, err)
	}
	return nil
}

func (p *pwPage) WaitForURL(ctx context.Context, match func(string) bool) error {
	if err := p.page.WaitForURL(match, playwright.PageWaitForURLOptions{Timeout: timeoutMillis(ctx)}); err != nil {
		return fmt.Errorf("wait for URL failed (at %s): %w", p.page.URL(), err)
	}
	return nil
}

func (p *pwPage) WaitForVisible(ctx context.Context, selector string) error {
	err := p.page.Locator(selector).WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: timeoutMillis(ctx),
	})
	if err != nil {
		return fmt.Errorf("wait for %s failed: %w", selector, err)
	}
	return nil
}

func (p *pwPage) IsVisible(ctx context.Context, selector string) (bool, error) {
	return p.page.Locator(selector).IsVisible()
}

func (p *pwPage) TextContent(ctx context.Context, selector string) (string, error) {
	return p.page.Locator(selector).TextContent(playwright.LocatorTextContentOptions{Timeout: timeoutMillis(ctx)})
}

func (p *pwPage) Screenshot(path string) error {
	_, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
	})
	return err
}

// timeoutMillis converts the context deadline into a Playwright timeout.
// Without a deadline Playwright's own default applies.
func timeoutMillis(ctx context.Context) *float64 {
	deadline, ok := ctx.Deadline()
	if !ok {
		return nil
	}
	remaining := time.Until(deadline)
	if remaining < time.Millisecond {
		remaining = time.Millisecond
	}
	return playwright.Float(float64(remaining.Milliseconds()))
}
