package persona

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFileOverlaysDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persona.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"name": "Alex", "mall": "Mid Valley"}`), 0644))

	p, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Alex", p.Name)
	assert.Equal(t, "Mid Valley", p.Mall)
	assert.Equal(t, 5, p.MinShops)
	assert.Equal(t, 10, p.MaxShops)
	assert.NotEmpty(t, p.Duties)
}

func TestLoadFromFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFromFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"min_shops": 8, "max_shops": 3}`), 0644))
	_, err = LoadFromFile(bad)
	assert.ErrorContains(t, err, "invalid shop range")
}

func TestFormatDutiesForPrompt(t *testing.T) {
	p := &Persona{Duties: []string{"Help.", "Recommend."}, ConciergeCounter: "Level 1 desk"}
	got := p.FormatDutiesForPrompt()
	assert.Contains(t, got, "1. Help.\n2. Recommend.\n")
	assert.Contains(t, got, "3. Direct visitors to Level 1 desk")
}
