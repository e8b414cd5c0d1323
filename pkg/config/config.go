// Package config loads the authstate project file.
//
// The file is YAML. Root settings apply to every profile; a profile may
// override the base URL, validate URL, launch options and credential
// variable names. Login and validate behaviour is described as a list of
// declarative steps so the CLI can run without custom code.
package config

import (
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/gobwas/glob"

	"github.com/entrhq/authstate/pkg/browser"
	"github.com/entrhq/authstate/pkg/logging"
	"github.com/entrhq/authstate/pkg/state"
)

// Engine selects the browser automation backend.
type Engine string

const (
	EnginePlaywright Engine = "playwright"
	EngineChromedp   Engine = "chromedp"
)

// Config is the decoded project file.
type Config struct {
	BaseURL     string        `yaml:"baseURL"`
	ValidateURL string        `yaml:"validateUrl"`
	StatesDir   string        `yaml:"statesDir"`
	Browser     string        `yaml:"browser"`
	Engine      Engine        `yaml:"engine"`
	LockTimeout time.Duration `yaml:"lockTimeout"`

	Launch      Launch             `yaml:"launch"`
	Credentials Credentials        `yaml:"credentials"`
	WebServer   *WebServer         `yaml:"webServer"`
	Profiles    map[string]Profile `yaml:"profiles"`
	Logging     logging.Config     `yaml:"logging"`

	// Path is the file the config was read from. Root is its directory and
	// anchors every relative path.
	Path string `yaml:"-"`
	Root string `yaml:"-"`
}

// Launch holds browser launch options. Headless mode is always decided by
// the --headed flag.
type Launch struct {
	Args    []string      `yaml:"args"`
	Channel string        `yaml:"channel"`
	SlowMo  time.Duration `yaml:"slowMo"`
}

// Credentials renames the environment variables holding a login.
type Credentials struct {
	EmailEnv    string `yaml:"emailEnv"`
	PasswordEnv string `yaml:"passwordEnv"`
}

// WebServer describes a dev server to run around the whole command.
type WebServer struct {
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Env     map[string]string `yaml:"env"`
	Dir     string            `yaml:"dir"`
	// ReuseExisting defaults to true.
	ReuseExisting *bool `yaml:"reuseExisting"`
}

// Reuse reports the effective reuseExisting setting.
func (w WebServer) Reuse() bool {
	return w.ReuseExisting == nil || *w.ReuseExisting
}

// Profile is one named login.
type Profile struct {
	BaseURL     string       `yaml:"baseURL"`
	ValidateURL string       `yaml:"validateUrl"`
	Launch      *Launch      `yaml:"launch"`
	Credentials *Credentials `yaml:"credentials"`
	Login       []Step       `yaml:"login"`
	Validate    []Check      `yaml:"validate"`
}

// Step is one login action. Exactly one field is set.
type Step struct {
	Goto       string    `yaml:"goto,omitempty"`
	Fill       *FillStep `yaml:"fill,omitempty"`
	Click      string    `yaml:"click,omitempty"`
	WaitForURL string    `yaml:"waitForURL,omitempty"`
	WaitFor    string    `yaml:"waitFor,omitempty"`
}

// FillStep types Value into Selector. Value is a text/template with
// {{.Email}}, {{.Password}} and {{.Profile}}.
type FillStep struct {
	Selector string `yaml:"selector"`
	Value    string `yaml:"value"`
}

// Check is one validate assertion. Exactly one field is set.
type Check struct {
	Visible string     `yaml:"visible,omitempty"`
	Text    *TextCheck `yaml:"text,omitempty"`
	URL     string     `yaml:"url,omitempty"`
}

// TextCheck compares an element's text content.
type TextCheck struct {
	Selector string `yaml:"selector"`
	Equals   string `yaml:"equals,omitempty"`
	Contains string `yaml:"contains,omitempty"`
}

// ProfileNames returns the configured profile names, sorted.
func (c *Config) ProfileNames() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.StatesDir == "" {
		c.StatesDir = state.DefaultStatesDir
	}
	if c.Browser == "" {
		c.Browser = string(browser.Chromium)
	}
	if c.Engine == "" {
		c.Engine = EnginePlaywright
	}
	if c.LockTimeout == 0 {
		c.LockTimeout = state.DefaultLockTimeout
	}
	if c.WebServer != nil && c.WebServer.URL == "" {
		c.WebServer.URL = c.BaseURL
	}
}

// Validate checks the config for errors a run would otherwise hit late.
func (c *Config) Validate() error {
	if len(c.Profiles) == 0 {
		return fmt.Errorf("no profiles configured")
	}

	kind, err := browser.ParseKind(c.Browser)
	if err != nil {
		return err
	}

	switch c.Engine {
	case EnginePlaywright, "":
	case EngineChromedp:
		if kind != browser.Chromium {
			return fmt.Errorf("engine %q only supports browser chromium, got %q", c.Engine, c.Browser)
		}
	default:
		return fmt.Errorf("invalid engine: %s (must be 'playwright' or 'chromedp')", c.Engine)
	}

	if c.LockTimeout < 0 {
		return fmt.Errorf("lockTimeout cannot be negative")
	}

	if err := validateBaseURL(c.BaseURL); err != nil {
		return err
	}

	if ws := c.WebServer; ws != nil {
		if ws.Command == "" {
			return fmt.Errorf("webServer.command is required")
		}
		if ws.URL == "" && c.BaseURL == "" {
			return fmt.Errorf("webServer.url is required when baseURL is not set")
		}
		if ws.Timeout < 0 {
			return fmt.Errorf("webServer.timeout cannot be negative")
		}
	}

	for _, name := range c.ProfileNames() {
		if err := c.Profiles[name].validate(name); err != nil {
			return err
		}
	}
	return nil
}

func (p Profile) validate(name string) error {
	if err := state.ValidateProfileName(name); err != nil {
		return err
	}
	if err := validateBaseURL(p.BaseURL); err != nil {
		return fmt.Errorf("profile %s: %w", name, err)
	}
	if len(p.Login) == 0 {
		return fmt.Errorf("profile %s: at least one login step is required", name)
	}
	if len(p.Validate) == 0 {
		return fmt.Errorf("profile %s: at least one validate check is required", name)
	}
	for i, step := range p.Login {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("profile %s: login step %d: %w", name, i+1, err)
		}
	}
	for i, check := range p.Validate {
		if err := check.Validate(); err != nil {
			return fmt.Errorf("profile %s: validate check %d: %w", name, i+1, err)
		}
	}
	return nil
}

// Validate checks that exactly one action is set.
func (s Step) Validate() error {
	set := 0
	if s.Goto != "" {
		set++
	}
	if s.Fill != nil {
		set++
		if s.Fill.Selector == "" {
			return fmt.Errorf("fill.selector is required")
		}
	}
	if s.Click != "" {
		set++
	}
	if s.WaitFor != "" {
		set++
	}
	if s.WaitForURL != "" {
		set++
		if _, err := glob.Compile(s.WaitForURL); err != nil {
			return fmt.Errorf("invalid waitForURL pattern %q: %w", s.WaitForURL, err)
		}
	}
	if set != 1 {
		return fmt.Errorf("exactly one of goto, fill, click, waitFor, waitForURL must be set")
	}
	return nil
}

// Validate checks that exactly one assertion is set.
func (c Check) Validate() error {
	set := 0
	if c.Visible != "" {
		set++
	}
	if c.Text != nil {
		set++
		if c.Text.Selector == "" {
			return fmt.Errorf("text.selector is required")
		}
		if (c.Text.Equals == "") == (c.Text.Contains == "") {
			return fmt.Errorf("text needs exactly one of equals or contains")
		}
	}
	if c.URL != "" {
		set++
		if _, err := glob.Compile(c.URL); err != nil {
			return fmt.Errorf("invalid url pattern %q: %w", c.URL, err)
		}
	}
	if set != 1 {
		return fmt.Errorf("exactly one of visible, text, url must be set")
	}
	return nil
}

func validateBaseURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid baseURL %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("baseURL %q must be absolute", raw)
	}
	return nil
}
