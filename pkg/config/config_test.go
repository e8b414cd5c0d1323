package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/authstate/internal/usererr"
	"github.com/entrhq/authstate/pkg/logging"
)

const sampleConfig = `
baseURL: http://127.0.0.1:3017
statesDir: .auth
lockTimeout: 30s
launch:
  args: [--lang=en-US]
webServer:
  command: npm
  args: [run, dev]
  timeout: 90s
logging:
  level: debug
profiles:
  admin:
    validateUrl: /admin
    credentials:
      emailEnv: ADMIN_EMAIL
      passwordEnv: ADMIN_PASSWORD
    login:
      - goto: /login
      - fill: {selector: "#email", value: "{{.Email}}"}
      - fill: {selector: "#password", value: "{{.Password}}"}
      - click: button[type=submit]
      - waitForURL: "**/admin"
    validate:
      - visible: "[data-testid=whoami]"
      - text: {selector: "[data-testid=whoami]", equals: admin}
  user:
    launch:
      channel: chrome
    login:
      - goto: /login
    validate:
      - url: "**/home"
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	want := &Config{
		BaseURL:     "http://127.0.0.1:3017",
		StatesDir:   ".auth",
		Browser:     "chromium",
		Engine:      EnginePlaywright,
		LockTimeout: 30 * time.Second,
		Launch:      Launch{Args: []string{"--lang=en-US"}},
		WebServer: &WebServer{
			Command: "npm",
			Args:    []string{"run", "dev"},
			URL:     "http://127.0.0.1:3017",
			Timeout: 90 * time.Second,
		},
		Logging: logging.Config{Level: "debug"},
		Profiles: map[string]Profile{
			"admin": {
				ValidateURL: "/admin",
				Credentials: &Credentials{EmailEnv: "ADMIN_EMAIL", PasswordEnv: "ADMIN_PASSWORD"},
				Login: []Step{
					{Goto: "/login"},
					{Fill: &FillStep{Selector: "#email", Value: "{{.Email}}"}},
					{Fill: &FillStep{Selector: "#password", Value: "{{.Password}}"}},
					{Click: "button[type=submit]"},
					{WaitForURL: "**/admin"},
				},
				Validate: []Check{
					{Visible: "[data-testid=whoami]"},
					{Text: &TextCheck{Selector: "[data-testid=whoami]", Equals: "admin"}},
				},
			},
			"user": {
				Launch:   &Launch{Channel: "chrome"},
				Login:    []Step{{Goto: "/login"}},
				Validate: []Check{{URL: "**/home"}},
			},
		},
	}

	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"admin", "user"}, cfg.ProfileNames())
	assert.True(t, cfg.WebServer.Reuse())
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
profiles:
  admin:
    login: [{goto: /login}]
    validate: [{visible: "#me"}]
`))
	require.NoError(t, err)

	assert.Equal(t, ".auth", cfg.StatesDir)
	assert.Equal(t, "chromium", cfg.Browser)
	assert.Equal(t, EnginePlaywright, cfg.Engine)
	assert.Equal(t, 2*time.Minute, cfg.LockTimeout)
	assert.Nil(t, cfg.WebServer)
}

func TestParseErrors(t *testing.T) {
	profile := `
profiles:
  admin:
    login: [{goto: /login}]
    validate: [{visible: "#me"}]
`
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{"empty", ``, "config is empty"},
		{"no profiles", `baseURL: http://localhost`, "no profiles configured"},
		{"unknown key", "baseUrl: http://localhost\n" + profile, "field baseUrl not found"},
		{"bad browser", "browser: chrome\n" + profile, "invalid browser"},
		{"bad engine", "engine: selenium\n" + profile, "invalid engine"},
		{"chromedp needs chromium", "engine: chromedp\nbrowser: firefox\n" + profile, "only supports browser chromium"},
		{"relative baseURL", "baseURL: /app\n" + profile, "must be absolute"},
		{"webServer without command", "webServer: {url: http://localhost}\n" + profile, "webServer.command is required"},
		{"webServer without url", "webServer: {command: npm}\n" + profile, "webServer.url is required"},
		{"unsafe profile name", `
profiles:
  ../x:
    login: [{goto: /login}]
    validate: [{visible: "#me"}]
`, "invalid profile name"},
		{"no login", `
profiles:
  admin:
    validate: [{visible: "#me"}]
`, "at least one login step"},
		{"two actions in one step", `
profiles:
  admin:
    login: [{goto: /login, click: "#go"}]
    validate: [{visible: "#me"}]
`, "exactly one of goto"},
		{"text needs one comparison", `
profiles:
  admin:
    login: [{goto: /login}]
    validate: [{text: {selector: "#me"}}]
`, "exactly one of equals or contains"},
		{"bad glob", `
profiles:
  admin:
    login: [{waitForURL: "[unclosed"}]
    validate: [{visible: "#me"}]
`, "invalid waitForURL pattern"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFind(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "apps", "web")
	require.NoError(t, os.MkdirAll(nested, 0750))

	_, err := Find(nested)
	require.Error(t, err)
	assert.True(t, usererr.Is(err))

	path := filepath.Join(root, "authstate.yml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0600))

	found, err := Find(nested)
	require.NoError(t, err)
	assert.Equal(t, path, found)

	// A closer file wins.
	closer := filepath.Join(nested, ".authstate.yaml")
	require.NoError(t, os.WriteFile(closer, []byte(sampleConfig), 0600))
	found, err = Find(nested)
	require.NoError(t, err)
	assert.Equal(t, closer, found)
}

func TestResolve(t *testing.T) {
	got, err := Resolve("/work", "conf/auth.yaml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/work", "conf", "auth.yaml"), got)

	got, err = Resolve("/work", "/etc/auth.yaml")
	require.NoError(t, err)
	assert.Equal(t, "/etc/auth.yaml", got)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "authstate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.Root)
	assert.Equal(t, path, cfg.Path)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.True(t, usererr.Is(err))

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("profiles: {}\n"), 0600))
	_, err = Load(bad)
	require.Error(t, err)
	assert.True(t, usererr.Is(err))
	assert.Contains(t, err.Error(), bad)
}

func TestWebServerReuse(t *testing.T) {
	no := false
	assert.True(t, WebServer{}.Reuse())
	assert.False(t, WebServer{ReuseExisting: &no}.Reuse())
}
