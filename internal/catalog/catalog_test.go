package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/instabrief/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()

	require.Len(t, c.Algorithms, 4)
	names := []models.Algorithm{}
	for _, a := range c.Algorithms {
		names = append(names, a.Name)
	}
	assert.Equal(t, []models.Algorithm{"textrank", "lsa", "lexrank", "bart"}, names)
	assert.Equal(t, []string{"en", "es", "fr", "de", "it", "pt", "ru", "ja", "ko", "zh"}, c.LanguageCodes())
	assert.True(t, c.HasLanguage("ja"))
	assert.False(t, c.HasLanguage("xx"))
}

func TestParseFromReader(t *testing.T) {
	t.Run("normalizes algorithm aliases", func(t *testing.T) {
		c, err := ParseFromReader(strings.NewReader("algorithms:\n  - name: bert\nlanguages:\n  - {code: en, name: English}\n"))
		require.NoError(t, err)
		assert.Equal(t, models.AlgorithmBART, c.Algorithms[0].Name)
	})

	t.Run("rejects unknown algorithm", func(t *testing.T) {
		_, err := ParseFromReader(strings.NewReader("algorithms:\n  - name: gpt\n"))
		assert.ErrorIs(t, err, models.ErrInvalidSettings)
	})

	t.Run("rejects invalid language", func(t *testing.T) {
		_, err := ParseFromReader(strings.NewReader("languages:\n  - {code: english, name: English}\n"))
		assert.Error(t, err)
	})

	t.Run("rejects malformed yaml", func(t *testing.T) {
		_, err := ParseFromReader(strings.NewReader("algorithms: [unclosed"))
		assert.Error(t, err)
	})
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("languages:\n  - {code: nl, name: Dutch}\n"), 0644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"nl"}, c.LanguageCodes())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
