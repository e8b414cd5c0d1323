package browser

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// Kind selects the browser engine to launch.
type Kind string

const (
	Chromium Kind = "chromium"
	Firefox  Kind = "firefox"
	WebKit   Kind = "webkit"
)

// ParseKind validates a browser name. An empty name means Chromium.
func ParseKind(name string) (Kind, error) {
	switch Kind(name) {
	case "":
		return Chromium, nil
	case Chromium, Firefox, WebKit:
		return Kind(name), nil
	default:
		return "", fmt.Errorf("invalid browser %q (must be chromium, firefox or webkit)", name)
	}
}

// WaitPolicy is the navigation milestone Goto waits for.
type WaitPolicy string

const (
	WaitLoad             WaitPolicy = "load"
	WaitDOMContentLoaded WaitPolicy = "domcontentloaded"
	WaitNetworkIdle      WaitPolicy = "networkidle"
	WaitCommit           WaitPolicy = "commit"
)

// LaunchOptions configures a browser launch.
type LaunchOptions struct {
	Headless bool
	Args     []string
	Channel  string
	SlowMo   time.Duration
}

// ContextOptions configures a new isolated browser context.
type ContextOptions struct {
	// BaseURL resolves relative URLs passed to Page.Goto.
	BaseURL string
	// StorageStatePath, when set, restores cookies and storage from a state
	// file previously produced by Context.ExportState.
	StorageStatePath string
}

// Launcher starts browsers. Implementations may start their driver lazily on
// the first Launch; Close stops it.
type Launcher interface {
	Launch(ctx context.Context, kind Kind, opts LaunchOptions) (Browser, error)
	Close() error
}

// Browser is a running browser process.
type Browser interface {
	NewContext(ctx context.Context, opts ContextOptions) (Context, error)
	Close() error
}

// Context is an isolated session (cookies, storage) inside a browser.
type Context interface {
	NewPage(ctx context.Context) (Page, error)
	// StartTracing and StopTracing are best-effort: callers discard their
	// errors. StopTracing writes a trace archive to path, or discards the
	// trace when path is empty.
	StartTracing() error
	StopTracing(path string) error
	// ExportState returns the session's cookies and storage as JSON.
	ExportState(ctx context.Context) ([]byte, error)
	Close() error
}

// Page is a single tab. Selectors use the engine's selector syntax.
type Page interface {
	Goto(ctx context.Context, url string, wait WaitPolicy) error
	URL() string
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	WaitForURL(ctx context.Context, match func(string) bool) error
	WaitForVisible(ctx context.Context, selector string) error
	IsVisible(ctx context.Context, selector string) (bool, error)
	TextContent(ctx context.Context, selector string) (string, error)
	// Screenshot is best-effort and writes a PNG to path.
	Screenshot(path string) error
}

// ResolveURL resolves ref against base the way a browser resolves a link.
// An empty base leaves ref untouched.
func ResolveURL(base, ref string) (string, error) {
	if base == "" {
		return ref, nil
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", base, err)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", ref, err)
	}
	return b.ResolveReference(r).String(), nil
}
