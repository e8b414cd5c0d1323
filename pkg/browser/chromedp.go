package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ErrTracingUnsupported is returned by the Chrome DevTools binding, which has
// no trace archive format.
var ErrTracingUnsupported = errors.New("tracing is not supported by the chromedp engine")

const (
	cdpScreenshotTimeout = 15 * time.Second
	cdpPollInterval      = 100 * time.Millisecond
)

// ChromedpLauncher drives a local Chrome or Chromium over the DevTools
// protocol without the Playwright driver. Only Chromium is supported. Each
// browser context runs in its own browser process so contexts never share
// cookies.
type ChromedpLauncher struct {
	// ExecPath overrides Chrome discovery.
	ExecPath string
	Logger   *zap.Logger
}

// NewChromedpLauncher creates a launcher. A nil logger discards output.
func NewChromedpLauncher(logger *zap.Logger) *ChromedpLauncher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromedpLauncher{Logger: logger}
}

func (l *ChromedpLauncher) Launch(ctx context.Context, kind Kind, opts LaunchOptions) (Browser, error) {
	if kind != Chromium && kind != "" {
		return nil, fmt.Errorf("the chromedp engine only supports chromium, not %q", kind)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Channel != "" || opts.SlowMo > 0 {
		l.Logger.Debug("channel and slowMo are ignored by the chromedp engine")
	}
	return &cdpBrowser{allocOpts: l.allocatorOptions(opts), logger: l.Logger}, nil
}

func (l *ChromedpLauncher) Close() error { return nil }

func (l *ChromedpLauncher) allocatorOptions(opts LaunchOptions) []chromedp.ExecAllocatorOption {
	var allocOpts []chromedp.ExecAllocatorOption
	for _, opt := range chromedp.DefaultExecAllocatorOptions {
		allocOpts = append(allocOpts, opt)
	}

	allocOpts = append(allocOpts,
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", opts.Headless),
	)
	if l.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(l.ExecPath))
	}

	for _, arg := range opts.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			allocOpts = append(allocOpts, chromedp.Flag(name, parts[1]))
		} else {
			allocOpts = append(allocOpts, chromedp.Flag(name, true))
		}
	}

	if runtime.GOOS == "linux" {
		allocOpts = append(allocOpts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
	}
	return allocOpts
}

type cdpBrowser struct {
	allocOpts []chromedp.ExecAllocatorOption
	logger    *zap.Logger
	contexts  []*cdpContext
}

func (b *cdpBrowser) NewContext(ctx context.Context, opts ContextOptions) (Context, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), b.allocOpts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	c := &cdpContext{
		tabCtx:  tabCtx,
		baseURL: opts.BaseURL,
		cancel: func() {
			tabCancel()
			allocCancel()
		},
	}

	// Starts the browser process.
	if err := c.run(ctx, chromedp.Navigate("about:blank")); err != nil {
		c.cancel()
		return nil, fmt.Errorf("browser failed to start or respond: %w", err)
	}

	if opts.StorageStatePath != "" {
		if err := c.restore(ctx, opts.StorageStatePath); err != nil {
			c.cancel()
			return nil, err
		}
	}

	b.contexts = append(b.contexts, c)
	return c, nil
}

func (b *cdpBrowser) Close() error {
	for _, c := range b.contexts {
		_ = c.Close()
	}
	b.contexts = nil
	return nil
}

type cdpContext struct {
	tabCtx  context.Context
	cancel  context.CancelFunc
	baseURL string
	pageOut bool
}

// run executes actions on the tab, aborting when either the tab or ctx ends.
func (c *cdpContext) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(c.tabCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (c *cdpContext) restore(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read storage state: %w", err)
	}
	var st storageState
	if err := json.Unmarshal(raw, &st); err != nil {
		return fmt.Errorf("storage state %q is not valid JSON", path)
	}

	params := make([]*network.CookieParam, 0, len(st.Cookies))
	for _, ck := range st.Cookies {
		params = append(params, ck.param())
	}

	return c.run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			if len(params) == 0 {
				return nil
			}
			return network.SetCookies(params).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			script := localStorageSeedScript(st.Origins)
			if script == "" {
				return nil
			}
			_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
			return err
		}),
	)
}

// NewPage returns the context's single tab. chromedp contexts are bound to
// one target, which is all the auth flows need.
func (c *cdpContext) NewPage(ctx context.Context) (Page, error) {
	if c.pageOut {
		return nil, errors.New("the chromedp engine supports one page per context")
	}
	c.pageOut = true
	return &cdpPage{c: c}, nil
}

func (c *cdpContext) StartTracing() error { return ErrTracingUnsupported }

func (c *cdpContext) StopTracing(string) error { return ErrTracingUnsupported }

func (c *cdpContext) ExportState(ctx context.Context) ([]byte, error) {
	var (
		cookies []*network.Cookie
		origin  string
		items   map[string]string
	)
	err := c.run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = storage.GetCookies().Do(ctx)
			return err
		}),
		chromedp.Evaluate(`window.location.origin`, &origin),
		chromedp.Evaluate(`(function() {
			const items = {};
			try {
				for (let i = 0; i < localStorage.length; i++) {
					const k = localStorage.key(i);
					if (k !== null) { items[k] = localStorage.getItem(k); }
				}
			} catch (e) {}
			return items;
		})()`, &items),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage state: %w", err)
	}

	st := storageState{Cookies: make([]stateCookie, 0, len(cookies)), Origins: []stateOrigin{}}
	for _, ck := range cookies {
		st.Cookies = append(st.Cookies, cookieFromCDP(ck))
	}
	if len(items) > 0 && origin != "" && origin != "null" {
		o := stateOrigin{Origin: origin}
		for k, v := range items {
			o.LocalStorage = append(o.LocalStorage, nameValue{Name: k, Value: v})
		}
		st.Origins = append(st.Origins, o)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode storage state: %w", err)
	}
	return data, nil
}

func (c *cdpContext) Close() error {
	c.cancel()
	return nil
}

type cdpPage struct {
	c *cdpContext
}

func (p *cdpPage) Goto(ctx context.Context, target string, _ WaitPolicy) error {
	resolved, err := ResolveURL(p.c.baseURL, target)
	if err != nil {
		return err
	}
	// chromedp.Navigate always waits for the load event.
	if err := p.c.run(ctx, chromedp.Navigate(resolved)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", resolved, err)
	}
	return nil
}

func (p *cdpPage) URL() string {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var loc string
	if err := p.c.run(ctx, chromedp.Location(&loc)); err != nil {
		return ""
	}
	return loc
}

func (p *cdpPage) Fill(ctx context.Context, selector, value string) error {
	err := p.c.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("fill %s failed: %w", selector, err)
	}
	return nil
}

func (p *cdpPage) Click(ctx context.Context, selector string) error {
	err := p.c.run(ctx,
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("click %s failed: %w", selector, err)
	}
	return nil
}

func (p *cdpPage) WaitForURL(ctx context.Context, match func(string) bool) error {
	ticker := time.NewTicker(cdpPollInterval)
	defer ticker.Stop()
	for {
		var loc string
		if err := p.c.run(ctx, chromedp.Location(&loc)); err == nil && match(loc) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for URL failed (at %s): %w", p.URL(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (p *cdpPage) WaitForVisible(ctx context.Context, selector string) error {
	if err := p.c.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait for %s failed: %w", selector, err)
	}
	return nil
}

func (p *cdpPage) IsVisible(ctx context.Context, selector string) (bool, error) {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return false, err
	}
	script := fmt.Sprintf(`(function() {
		const el = document.querySelector(%s);
		if (!el) { return false; }
		const style = window.getComputedStyle(el);
		return style.visibility !== 'hidden' && el.getClientRects().length > 0;
	})()`, quoted)

	var visible bool
	if err := p.c.run(ctx, chromedp.Evaluate(script, &visible)); err != nil {
		return false, err
	}
	return visible, nil
}

func (p *cdpPage) TextContent(ctx context.Context, selector string) (string, error) {
	var text string
	if err := p.c.run(ctx, chromedp.TextContent(selector, &text, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return text, nil
}

func (p *cdpPage) Screenshot(path string) error {
	ctx, cancel := context.WithTimeout(context.Background(), cdpScreenshotTimeout)
	defer cancel()
	var buf []byte
	if err := p.c.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return err
	}
	return os.WriteFile(path, buf, 0600)
}

// storageState mirrors the Playwright storage state file so either engine
// can read state written by the other.
type storageState struct {
	Cookies []stateCookie `json:"cookies"`
	Origins []stateOrigin `json:"origins"`
}

type stateCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

type stateOrigin struct {
	Origin       string      `json:"origin"`
	LocalStorage []nameValue `json:"localStorage"`
}

type nameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func cookieFromCDP(ck *network.Cookie) stateCookie {
	expires := ck.Expires
	if ck.Session {
		expires = -1
	}
	return stateCookie{
		Name:     ck.Name,
		Value:    ck.Value,
		Domain:   ck.Domain,
		Path:     ck.Path,
		Expires:  expires,
		HTTPOnly: ck.HTTPOnly,
		Secure:   ck.Secure,
		SameSite: ck.SameSite.String(),
	}
}

func (ck stateCookie) param() *network.CookieParam {
	p := &network.CookieParam{
		Name:     ck.Name,
		Value:    ck.Value,
		Domain:   ck.Domain,
		Path:     ck.Path,
		HTTPOnly: ck.HTTPOnly,
		Secure:   ck.Secure,
	}
	if ck.SameSite != "" {
		p.SameSite = network.CookieSameSite(ck.SameSite)
	}
	if ck.Expires > 0 {
		sec := int64(ck.Expires)
		t := cdp.TimeSinceEpoch(time.Unix(sec, 0))
		p.Expires = &t
	}
	return p
}

// localStorageSeedScript returns a script that writes the saved items for
// whichever origin the new document belongs to.
func localStorageSeedScript(origins []stateOrigin) string {
	seed := map[string]map[string]string{}
	for _, o := range origins {
		if len(o.LocalStorage) == 0 {
			continue
		}
		u, err := url.Parse(o.Origin)
		if err != nil || u.Host == "" {
			continue
		}
		items := map[string]string{}
		for _, kv := range o.LocalStorage {
			items[kv.Name] = kv.Value
		}
		seed[u.Scheme+"://"+u.Host] = items
	}
	if len(seed) == 0 {
		return ""
	}
	encoded, err := json.Marshal(seed)
	if err != nil {
		return ""
	}
	return fmt.Sprintf(`(function() {
		const seed = %s;
		const items = seed[window.location.origin];
		if (!items) { return; }
		try {
			for (const k of Object.keys(items)) {
				if (localStorage.getItem(k) === null) { localStorage.setItem(k, items[k]); }
			}
		} catch (e) {}
	})();`, encoded)
}
