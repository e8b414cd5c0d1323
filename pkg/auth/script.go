package auth

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/gobwas/glob"

	"github.com/entrhq/authstate/pkg/browser"
	"github.com/entrhq/authstate/pkg/config"
	"github.com/entrhq/authstate/pkg/state"
)

// FromConfig builds a runnable Config from the project file. Login and
// validate run the profile's declarative steps. projectRoot anchors a
// relative states directory.
func FromConfig(cfg *config.Config, projectRoot string) (*Config, error) {
	statesDir, err := state.ResolveStatesDir(projectRoot, cfg.StatesDir)
	if err != nil {
		return nil, err
	}
	kind, err := browser.ParseKind(cfg.Browser)
	if err != nil {
		return nil, err
	}

	out := &Config{
		BaseURL:     cfg.BaseURL,
		ValidateURL: cfg.ValidateURL,
		StatesDir:   statesDir,
		Browser:     kind,
		Launch:      launchFromConfig(cfg.Launch),
		Credentials: credentialsFromConfig(&cfg.Credentials),
		LockTimeout: cfg.LockTimeout,
		Profiles:    make(map[string]Profile, len(cfg.Profiles)),
	}

	for _, name := range cfg.ProfileNames() {
		pc := cfg.Profiles[name]
		login, err := compileLogin(pc.Login)
		if err != nil {
			return nil, fmt.Errorf("profile %s: %w", name, err)
		}
		validate, err := compileValidate(pc.Validate)
		if err != nil {
			return nil, fmt.Errorf("profile %s: %w", name, err)
		}

		p := Profile{
			BaseURL:     pc.BaseURL,
			ValidateURL: pc.ValidateURL,
			Credentials: credentialsFromConfig(pc.Credentials),
			Login:       login,
			Validate:    validate,
		}
		if pc.Launch != nil {
			opts := launchFromConfig(*pc.Launch)
			p.Launch = &opts
		}
		out.Profiles[name] = p
	}
	return out, nil
}

func launchFromConfig(l config.Launch) browser.LaunchOptions {
	return browser.LaunchOptions{Args: l.Args, Channel: l.Channel, SlowMo: l.SlowMo}
}

// credentialsFromConfig returns nil when no variable names are overridden.
// A half-specified override falls back to the conventional name for the
// other half.
func credentialsFromConfig(c *config.Credentials) CredentialsResolver {
	if c == nil || (c.EmailEnv == "" && c.PasswordEnv == "") {
		return nil
	}
	return func(cc CredentialsContext) (Credentials, error) {
		emailVar, passwordVar := EnvVarNames(cc.Profile)
		if c.EmailEnv != "" {
			emailVar = c.EmailEnv
		}
		if c.PasswordEnv != "" {
			passwordVar = c.PasswordEnv
		}
		return EnvCredentialsFrom(emailVar, passwordVar)(cc)
	}
}

type loginStep func(ctx context.Context, page browser.Page, lc LoginContext) error

type fillData struct {
	Email    string
	Password string
	Profile  string
}

func compileLogin(steps []config.Step) (LoginFunc, error) {
	compiled := make([]loginStep, 0, len(steps))
	for i, s := range steps {
		step, err := compileStep(s)
		if err != nil {
			return nil, fmt.Errorf("login step %d: %w", i+1, err)
		}
		compiled = append(compiled, step)
	}

	return func(ctx context.Context, page browser.Page, lc LoginContext) error {
		for i, step := range compiled {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := step(ctx, page, lc); err != nil {
				return fmt.Errorf("login step %d: %w", i+1, err)
			}
		}
		return nil
	}, nil
}

func compileStep(s config.Step) (loginStep, error) {
	switch {
	case s.Goto != "":
		target := s.Goto
		return func(ctx context.Context, page browser.Page, _ LoginContext) error {
			return page.Goto(ctx, target, browser.WaitDOMContentLoaded)
		}, nil

	case s.Fill != nil:
		selector := s.Fill.Selector
		tmpl, err := template.New("fill").Option("missingkey=error").Parse(s.Fill.Value)
		if err != nil {
			return nil, fmt.Errorf("invalid fill value template: %w", err)
		}
		return func(ctx context.Context, page browser.Page, lc LoginContext) error {
			var b strings.Builder
			data := fillData{Email: lc.Credentials.Email, Password: lc.Credentials.Password, Profile: lc.Profile}
			if err := tmpl.Execute(&b, data); err != nil {
				return fmt.Errorf("fill %s: %w", selector, err)
			}
			return page.Fill(ctx, selector, b.String())
		}, nil

	case s.Click != "":
		selector := s.Click
		return func(ctx context.Context, page browser.Page, _ LoginContext) error {
			return page.Click(ctx, selector)
		}, nil

	case s.WaitForURL != "":
		pattern := s.WaitForURL
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid waitForURL pattern %q: %w", pattern, err)
		}
		return func(ctx context.Context, page browser.Page, _ LoginContext) error {
			return page.WaitForURL(ctx, g.Match)
		}, nil

	case s.WaitFor != "":
		selector := s.WaitFor
		return func(ctx context.Context, page browser.Page, _ LoginContext) error {
			return page.WaitForVisible(ctx, selector)
		}, nil
	}
	return nil, fmt.Errorf("empty step")
}

type check func(ctx context.Context, page browser.Page) (ValidateResult, error)

func compileValidate(checks []config.Check) (ValidateFunc, error) {
	compiled := make([]check, 0, len(checks))
	for i, c := range checks {
		fn, err := compileCheck(c)
		if err != nil {
			return nil, fmt.Errorf("validate check %d: %w", i+1, err)
		}
		compiled = append(compiled, fn)
	}

	return func(ctx context.Context, page browser.Page, _ ValidateContext) (ValidateResult, error) {
		for _, c := range compiled {
			result, err := c(ctx, page)
			if err != nil || !result.OK {
				return result, err
			}
		}
		return Valid(), nil
	}, nil
}

func compileCheck(c config.Check) (check, error) {
	switch {
	case c.Visible != "":
		selector := c.Visible
		return func(ctx context.Context, page browser.Page) (ValidateResult, error) {
			visible, err := page.IsVisible(ctx, selector)
			if err != nil {
				return ValidateResult{}, err
			}
			if !visible {
				return Invalid(fmt.Sprintf("%s is not visible at %s", selector, page.URL())), nil
			}
			return Valid(), nil
		}, nil

	case c.Text != nil:
		tc := *c.Text
		return func(ctx context.Context, page browser.Page) (ValidateResult, error) {
			text, err := page.TextContent(ctx, tc.Selector)
			if err != nil {
				return ValidateResult{}, err
			}
			text = strings.TrimSpace(text)
			switch {
			case tc.Equals != "" && text != tc.Equals:
				return Invalid(fmt.Sprintf("%s text is %q, want %q", tc.Selector, text, tc.Equals)), nil
			case tc.Contains != "" && !strings.Contains(text, tc.Contains):
				return Invalid(fmt.Sprintf("%s text %q does not contain %q", tc.Selector, text, tc.Contains)), nil
			}
			return Valid(), nil
		}, nil

	case c.URL != "":
		pattern := c.URL
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid url pattern %q: %w", pattern, err)
		}
		return func(ctx context.Context, page browser.Page) (ValidateResult, error) {
			if current := page.URL(); !g.Match(current) {
				return Invalid(fmt.Sprintf("url %s does not match %s", current, pattern)), nil
			}
			return Valid(), nil
		}, nil
	}
	return nil, fmt.Errorf("empty check")
}
