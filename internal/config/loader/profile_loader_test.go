package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeProfiles(t *testing.T, path string, profiles map[string]map[string]any) {
	t.Helper()
	raw, err := yaml.Marshal(map[string]any{"profiles": profiles})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))
}

func newLoader(t *testing.T) (*ProfileLoader, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	writeProfiles(t, path, map[string]map[string]any{
		"learning": {
			"min_trust_score":      30,
			"min_confidence_score": 40,
			"min_signal_score":     30,
			"learning":             true,
		},
		"strict": {
			"min_trust_score":      70,
			"min_confidence_score": 60,
			"min_signal_score":     70,
		},
	})
	l, err := NewProfileLoader(path)
	require.NoError(t, err)
	return l, path
}

func TestProfileLoader_LoadsProfiles(t *testing.T) {
	l, _ := newLoader(t)

	p, ok := l.Profile("learning")
	require.True(t, ok)
	assert.Equal(t, "learning", p.Name)
	assert.Equal(t, 30.0, p.MinTrust)
	assert.Equal(t, 40.0, p.MinConfidence)
	assert.True(t, p.Learning)

	p, ok = l.Profile("strict")
	require.True(t, ok)
	assert.False(t, p.Learning)

	_, ok = l.Profile("ghost")
	assert.False(t, ok)
}

func TestProfileLoader_ReloadReplacesSnapshot(t *testing.T) {
	l, path := newLoader(t)
	before := l.Snapshot()

	writeProfiles(t, path, map[string]map[string]any{
		"learning": {
			"min_trust_score":      35,
			"min_confidence_score": 45,
			"min_signal_score":     35,
			"learning":             true,
		},
	})
	require.NoError(t, l.v.ReadInConfig())
	require.NoError(t, l.reload())

	after := l.Snapshot()
	assert.Greater(t, after.Version, before.Version)
	p, ok := l.Profile("learning")
	require.True(t, ok)
	assert.Equal(t, 35.0, p.MinTrust)
	_, ok = l.Profile("strict")
	assert.False(t, ok, "removed profiles drop out of the snapshot")
}

func TestProfileLoader_BadEditKeepsLastSnapshot(t *testing.T) {
	l, path := newLoader(t)

	writeProfiles(t, path, map[string]map[string]any{
		"learning": {
			"min_trust_score":      900, // 超界
			"min_confidence_score": 40,
			"min_signal_score":     30,
		},
	})
	require.NoError(t, l.v.ReadInConfig())
	require.Error(t, l.reload())

	// 上一份有效快照继续服务。
	p, ok := l.Profile("learning")
	require.True(t, ok)
	assert.Equal(t, 30.0, p.MinTrust)
}

func TestProfileLoader_EmptyFileRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte("profiles: {}\n"), 0o644))
	_, err := NewProfileLoader(path)
	assert.Error(t, err)
}
