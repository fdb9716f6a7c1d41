package intercept

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy_Decide(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		header map[string]string
		want   Strategy
	}{
		{"navigation", "https://app.test/inbox", map[string]string{"Sec-Fetch-Mode": "navigate"}, NavigationFallback},
		{"accept html", "https://app.test/", map[string]string{"Accept": "text/html,application/xhtml+xml"}, NavigationFallback},
		{"api", "https://app.test/api/messages", nil, NetworkFirst},
		{"data service", "https://xyz.supabase.co/rest/v1/items", nil, NetworkFirst},
		{"static asset", "https://app.test/assets/app.js", nil, CacheFirst},
		{"fetch mode wins over accept", "https://app.test/api/x", map[string]string{"Sec-Fetch-Mode": "cors", "Accept": "text/html"}, NetworkFirst},
	}

	p := DefaultPolicy()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			got, _ := p.Decide(req)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePolicy(t *testing.T) {
	data := []byte(`
rules:
  - name: shell
    match: {navigate: true}
    strategy: navigation-fallback
  - name: images
    match: {extension: [png, .JPG]}
    strategy: cache-first
  - name: api-live
    match: {path_prefix: /api/, path_contains: live}
    strategy: passthrough
  - match: {path_prefix: /api/}
    strategy: network-first
`)
	p, err := ParsePolicy(data)
	require.NoError(t, err)
	require.Len(t, p.Rules, 4)
	assert.Equal(t, "rule-3", p.Rules[3].Name)

	decide := func(url string) (Strategy, string) {
		return p.Decide(httptest.NewRequest(http.MethodGet, url, nil))
	}

	s, name := decide("https://app.test/img/logo.jpg")
	assert.Equal(t, CacheFirst, s)
	assert.Equal(t, "images", name)

	s, _ = decide("https://app.test/api/live/feed")
	assert.Equal(t, Passthrough, s)

	s, _ = decide("https://app.test/api/messages")
	assert.Equal(t, NetworkFirst, s)

	s, name = decide("https://app.test/other")
	assert.Equal(t, Passthrough, s)
	assert.Empty(t, name)
}

func TestParsePolicy_Errors(t *testing.T) {
	_, err := ParsePolicy([]byte(`rules: []`))
	assert.Error(t, err)

	_, err = ParsePolicy([]byte("rules:\n  - strategy: stale-while-revalidate\n"))
	assert.Error(t, err)

	_, err = ParsePolicy([]byte(`{{{`))
	assert.Error(t, err)
}

func TestLoadPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - strategy: cache-first\n"), 0o644))

	p, err := LoadPolicyFile(path)
	require.NoError(t, err)
	s, _ := p.Decide(httptest.NewRequest(http.MethodGet, "https://app.test/x", nil))
	assert.Equal(t, CacheFirst, s)

	_, err = LoadPolicyFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
