// Package auth validates, refreshes and persists per-profile browser auth
// state.
//
// A Runner holds a set of named profiles. For each profile it can check
// whether the cached state file still opens an authenticated session
// (Validate), log in from scratch and persist fresh state (Setup), or do
// both as needed for many profiles at once (Ensure). Every operation on a
// profile runs under that profile's cross-process lock.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/entrhq/authstate/pkg/browser"
	"github.com/entrhq/authstate/pkg/state"
)

// Credentials is a login for one profile.
type Credentials struct {
	Email    string
	Password string
}

// EnvLookup reads one environment variable. os.LookupEnv satisfies it.
type EnvLookup func(key string) (string, bool)

// MapEnv returns an EnvLookup backed by m.
func MapEnv(m map[string]string) EnvLookup {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

// CredentialsContext is passed to a CredentialsResolver.
type CredentialsContext struct {
	Profile string
	Env     EnvLookup
}

// CredentialsResolver supplies credentials in place of the AUTH_<KEY>_*
// environment variables.
type CredentialsResolver func(cc CredentialsContext) (Credentials, error)

// LoginContext is passed to a LoginFunc.
type LoginContext struct {
	Profile     string
	Credentials Credentials
}

// ValidateContext is passed to a ValidateFunc.
type ValidateContext struct {
	Profile string
}

// ValidateResult is the outcome of a validate check. A failed check is not
// an error.
type ValidateResult struct {
	OK     bool
	Reason string
}

// Valid returns a passing result.
func Valid() ValidateResult { return ValidateResult{OK: true} }

// Invalid returns a failing result with a reason.
func Invalid(reason string) ValidateResult { return ValidateResult{Reason: reason} }

// LoginFunc drives a fresh page through the login flow.
type LoginFunc func(ctx context.Context, page browser.Page, lc LoginContext) error

// ValidateFunc decides whether the page, already at the validate URL, is
// authenticated.
type ValidateFunc func(ctx context.Context, page browser.Page, vc ValidateContext) (ValidateResult, error)

// Profile describes one role. Empty fields fall back to the Config.
type Profile struct {
	BaseURL     string
	ValidateURL string
	// Launch overrides non-zero fields of Config.Launch. Headless is ignored.
	Launch      *browser.LaunchOptions
	Credentials CredentialsResolver
	Login       LoginFunc
	Validate    ValidateFunc
}

// Config is the resolved configuration a Runner works from.
type Config struct {
	BaseURL     string
	ValidateURL string
	// StatesDir is the absolute states directory.
	StatesDir   string
	Browser     browser.Kind
	Launch      browser.LaunchOptions
	Credentials CredentialsResolver
	LockTimeout time.Duration
	Profiles    map[string]Profile
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

// Validate checks that every profile can be run.
func (c *Config) Validate() error {
	if c.StatesDir == "" {
		return errors.New("states directory is required")
	}
	if len(c.Profiles) == 0 {
		return errors.New("no profiles configured")
	}
	for _, name := range c.ProfileNames() {
		if err := state.ValidateProfileName(name); err != nil {
			return err
		}
		p := c.Profiles[name]
		if p.Login == nil {
			return fmt.Errorf("profile %s: login is required", name)
		}
		if p.Validate == nil {
			return fmt.Errorf("profile %s: validate is required", name)
		}
	}
	return nil
}

// baseURL resolves the profile's base URL, falling back to the config.
func (c *Config) baseURL(p Profile) string {
	if p.BaseURL != "" {
		return p.BaseURL
	}
	return c.BaseURL
}

// validateURL resolves the URL opened before validation.
func (c *Config) validateURL(p Profile) string {
	switch {
	case p.ValidateURL != "":
		return p.ValidateURL
	case c.ValidateURL != "":
		return c.ValidateURL
	default:
		return "/"
	}
}

// launchOptions layers the profile's overrides over the config's options.
// Headless is always !headed.
func (c *Config) launchOptions(p Profile, headed bool) browser.LaunchOptions {
	opts := c.Launch
	opts.Args = append([]string(nil), c.Launch.Args...)
	if o := p.Launch; o != nil {
		if o.Args != nil {
			opts.Args = append([]string(nil), o.Args...)
		}
		if o.Channel != "" {
			opts.Channel = o.Channel
		}
		if o.SlowMo > 0 {
			opts.SlowMo = o.SlowMo
		}
	}
	opts.Headless = !headed
	return opts
}
