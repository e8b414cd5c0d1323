package browser

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		name    string
		want    Kind
		wantErr bool
	}{
		{"", Chromium, false},
		{"chromium", Chromium, false},
		{"firefox", Firefox, false},
		{"webkit", WebKit, false},
		{"chrome", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseKind(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveURL(t *testing.T) {
	tests := []struct {
		base, ref, want string
	}{
		{"", "/dashboard", "/dashboard"},
		{"http://localhost:3000", "/dashboard", "http://localhost:3000/dashboard"},
		{"http://localhost:3000/app/", "settings", "http://localhost:3000/app/settings"},
		{"http://localhost:3000", "https://other.test/x", "https://other.test/x"},
	}
	for _, tt := range tests {
		got, err := ResolveURL(tt.base, tt.ref)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestTimeoutMillis(t *testing.T) {
	assert.Nil(t, timeoutMillis(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ms := timeoutMillis(ctx)
	require.NotNil(t, ms)
	assert.InDelta(t, 5000, *ms, 500)
}

func TestCookieConversion(t *testing.T) {
	session := cookieFromCDP(&network.Cookie{
		Name: "sid", Value: "abc", Domain: "localhost", Path: "/",
		Session: true, HTTPOnly: true, SameSite: network.CookieSameSiteLax,
	})
	assert.Equal(t, float64(-1), session.Expires)
	assert.Equal(t, "Lax", session.SameSite)

	param := session.param()
	assert.Nil(t, param.Expires)
	assert.Equal(t, network.CookieSameSiteLax, param.SameSite)
	assert.True(t, param.HTTPOnly)

	persistent := stateCookie{Name: "remember", Value: "1", Domain: "localhost", Path: "/", Expires: 1900000000}
	require.NotNil(t, persistent.param().Expires)
}

func TestStorageStateShape(t *testing.T) {
	st := storageState{
		Cookies: []stateCookie{{Name: "sid", Value: "abc", Domain: "localhost", Path: "/", Expires: -1}},
		Origins: []stateOrigin{{Origin: "http://localhost:3000", LocalStorage: []nameValue{{Name: "token", Value: "t"}}}},
	}
	data, err := json.Marshal(st)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Contains(t, doc, "cookies")
	assert.Contains(t, doc, "origins")
	origin := doc["origins"].([]any)[0].(map[string]any)
	assert.Equal(t, "http://localhost:3000", origin["origin"])
}

func TestLocalStorageSeedScript(t *testing.T) {
	assert.Empty(t, localStorageSeedScript(nil))
	assert.Empty(t, localStorageSeedScript([]stateOrigin{{Origin: "http://x.test"}}))

	script := localStorageSeedScript([]stateOrigin{{
		Origin:       "http://localhost:3000",
		LocalStorage: []nameValue{{Name: "token", Value: "t"}},
	}})
	assert.Contains(t, script, `"http://localhost:3000":{"token":"t"}`)
}

func TestChromedpRejectsOtherBrowsers(t *testing.T) {
	l := NewChromedpLauncher(nil)
	_, err := l.Launch(context.Background(), Firefox, LaunchOptions{})
	assert.Error(t, err)
}

func TestChromedpAllocatorOptionsIncludeArgs(t *testing.T) {
	l := NewChromedpLauncher(nil)
	base := len(l.allocatorOptions(LaunchOptions{}))
	withArgs := l.allocatorOptions(LaunchOptions{Args: []string{"--lang=en-US", "--mute-audio"}})
	assert.Equal(t, base+2, len(withArgs))
}
