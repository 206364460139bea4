package entities

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
entities:
  - name: Example Ads
    category: ad
    domains:
      - ads.example.com
      - .Example-CDN.net.
  - name: Tracker
    category: analytics
    domains: [tracker.test]
`

func TestParseAndLookup(t *testing.T) {
	table, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())

	tests := []struct {
		in   string
		want string
	}{
		{"https://ads.example.com/pixel", "Example Ads"},
		{"https://x.ads.example.com/", "Example Ads"},
		{"https://static.example-cdn.net/a.js", "Example Ads"},
		{"tracker.test", "Tracker"},
		{"https://sub.tracker.test:8443/c", "Tracker"},
		{"https://www.example.com/", ""},
		{"https://example.com/", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			e, ok := table.Lookup(tt.in)
			if tt.want == "" {
				assert.False(t, ok)
				assert.Nil(t, e)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.want, e.Name)
		})
	}
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte("entities: [oops"))
	assert.Error(t, err)

	_, err = Parse([]byte("entities:\n  - category: ad\n    domains: [a.test]\n"))
	assert.ErrorContains(t, err, "without name")

	_, err = Parse([]byte("entities:\n  - name: A\n    domains: [a.test]\n  - name: B\n    domains: [A.test]\n"))
	assert.ErrorContains(t, err, "claimed by both")
}

func TestLookupReturnsCopy(t *testing.T) {
	table, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	e, ok := table.Lookup("tracker.test")
	require.True(t, ok)
	e.Name = "changed"

	again, _ := table.Lookup("tracker.test")
	assert.Equal(t, "Tracker", again.Name)

	all := table.Entities()
	all[0].Name = "changed"
	assert.Equal(t, "Example Ads", table.Entities()[0].Name)
}

func TestNilTable(t *testing.T) {
	var table *Table
	_, ok := table.Lookup("https://tracker.test")
	assert.False(t, ok)
}

func TestDefault(t *testing.T) {
	table := Default()
	assert.Greater(t, table.Len(), 5)

	e, ok := table.Lookup("https://www.google-analytics.com/collect")
	require.True(t, ok)
	assert.Equal(t, "Google Analytics", e.Name)
	assert.Equal(t, "analytics", e.Category)

	_, ok = table.Lookup("https://www.linkedin.com/")
	assert.False(t, ok, "only the ads subdomain is listed")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entities.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0644))

	table, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
