// Package browsertest provides an in-memory browser.Launcher for tests.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/entrhq/authstate/pkg/browser"
)

// Launcher records every browser, context and page it hands out. Hooks may be
// set before use to script page behaviour.
type Launcher struct {
	mu sync.Mutex

	// LaunchErr fails every Launch.
	LaunchErr error
	// State is returned by ExportState.
	State []byte
	// GotoErr fails navigation to the given URL.
	GotoErr map[string]error
	// TracingErr fails StartTracing.
	TracingErr error
	// OnFill and OnClick run for each Fill or Click.
	OnFill  func(p *Page, selector, value string) error
	OnClick func(p *Page, selector string) error
	// Visible and Text back IsVisible and TextContent.
	Visible map[string]bool
	Text    map[string]string

	Launches []Launch
	Contexts []*Context
	closed   bool
}

// Launch is one recorded call to Launcher.Launch.
type Launch struct {
	Kind    browser.Kind
	Options browser.LaunchOptions
}

// NewLauncher returns a fake that exports an empty storage state.
func NewLauncher() *Launcher {
	return &Launcher{
		State:   []byte(`{"cookies":[],"origins":[]}`),
		GotoErr: map[string]error{},
		Visible: map[string]bool{},
		Text:    map[string]string{},
	}
}

func (l *Launcher) Launch(ctx context.Context, kind browser.Kind, opts browser.LaunchOptions) (browser.Browser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Launches = append(l.Launches, Launch{Kind: kind, Options: opts})
	if l.LaunchErr != nil {
		return nil, l.LaunchErr
	}
	return &Browser{l: l}, nil
}

func (l *Launcher) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// Closed reports whether Close was called.
func (l *Launcher) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// LastContext returns the most recently created context.
func (l *Launcher) LastContext() *Context {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.Contexts) == 0 {
		return nil
	}
	return l.Contexts[len(l.Contexts)-1]
}

// Browser is a fake browser.Browser.
type Browser struct {
	l      *Launcher
	Closed bool
}

func (b *Browser) NewContext(ctx context.Context, opts browser.ContextOptions) (browser.Context, error) {
	c := &Context{l: b.l, Options: opts}
	b.l.mu.Lock()
	b.l.Contexts = append(b.l.Contexts, c)
	b.l.mu.Unlock()
	return c, nil
}

func (b *Browser) Close() error {
	b.Closed = true
	return nil
}

// Context is a fake browser.Context.
type Context struct {
	l       *Launcher
	Options browser.ContextOptions
	Pages   []*Page
	Tracing bool
	Traces  []string
	Closed  bool
}

func (c *Context) NewPage(ctx context.Context) (browser.Page, error) {
	p := &Page{l: c.l, c: c, url: "about:blank"}
	c.Pages = append(c.Pages, p)
	return p, nil
}

func (c *Context) StartTracing() error {
	if c.l.TracingErr != nil {
		return c.l.TracingErr
	}
	c.Tracing = true
	return nil
}

func (c *Context) StopTracing(path string) error {
	if !c.Tracing {
		return errors.New("tracing not started")
	}
	c.Tracing = false
	if path == "" {
		return nil
	}
	c.Traces = append(c.Traces, path)
	return os.WriteFile(path, []byte("trace"), 0600)
}

func (c *Context) ExportState(ctx context.Context) ([]byte, error) {
	return append([]byte(nil), c.l.State...), nil
}

func (c *Context) Close() error {
	c.Closed = true
	return nil
}

// Page is a fake browser.Page.
type Page struct {
	l   *Launcher
	c   *Context
	url string

	Visited []string
	Waits   []browser.WaitPolicy
	Filled  map[string]string
	Clicked []string
}

// SetURL moves the page, as a click-triggered navigation would.
func (p *Page) SetURL(u string) { p.url = u }

func (p *Page) Goto(ctx context.Context, u string, wait browser.WaitPolicy) error {
	if err := p.l.GotoErr[u]; err != nil {
		return err
	}
	resolved, err := browser.ResolveURL(p.c.Options.BaseURL, u)
	if err != nil {
		return err
	}
	p.url = resolved
	p.Visited = append(p.Visited, u)
	p.Waits = append(p.Waits, wait)
	return nil
}

func (p *Page) URL() string { return p.url }

func (p *Page) Fill(ctx context.Context, selector, value string) error {
	if p.Filled == nil {
		p.Filled = map[string]string{}
	}
	p.Filled[selector] = value
	if p.l.OnFill != nil {
		return p.l.OnFill(p, selector, value)
	}
	return nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	p.Clicked = append(p.Clicked, selector)
	if p.l.OnClick != nil {
		return p.l.OnClick(p, selector)
	}
	return nil
}

func (p *Page) WaitForURL(ctx context.Context, match func(string) bool) error {
	if match(p.url) {
		return nil
	}
	return fmt.Errorf("url %s did not match", p.url)
}

func (p *Page) WaitForVisible(ctx context.Context, selector string) error {
	if p.l.Visible[selector] {
		return nil
	}
	return fmt.Errorf("%s not visible", selector)
}

func (p *Page) IsVisible(ctx context.Context, selector string) (bool, error) {
	return p.l.Visible[selector], nil
}

func (p *Page) TextContent(ctx context.Context, selector string) (string, error) {
	text, ok := p.l.Text[selector]
	if !ok {
		return "", fmt.Errorf("%s not found", selector)
	}
	return text, nil
}

func (p *Page) Screenshot(path string) error {
	return os.WriteFile(path, []byte("png"), 0600)
}

var _ browser.Launcher = (*Launcher)(nil)
