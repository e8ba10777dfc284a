package knowledge

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForLabelUsesKnowledgeKey(t *testing.T) {
	r := NewRetriever()

	assert.Equal(t, defaultSnippets["happy"], r.ForLabel("happy (facial)"))
	assert.Equal(t, defaultSnippets["neutral"], r.ForLabel("5-star sentiment"))
	assert.Equal(t, defaultSnippets["angry"], r.ForLabel("ANGRY"))
}

func TestLookupUnknownKey(t *testing.T) {
	assert.Equal(t, NotFound, NewRetriever().Lookup("bored"))
}

func TestLoadFileOverridesSnippets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knowledge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("snippets:\n  sad: \"Custom sadness note.\"\n"), 0o600))

	r, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Custom sadness note.", r.Lookup("sad"))
	assert.Equal(t, defaultSnippets["angry"], r.Lookup("angry"))
}

func TestLoadFileRejectsUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knowledge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("snippets:\n  bored: \"x\"\n"), 0o600))

	_, err := LoadFile(path)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "bored"))
}

func TestLoadFileEmptyPath(t *testing.T) {
	r, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, defaultSnippets["fearful"], r.Lookup("fearful"))
}

func TestRetrieversAreIndependent(t *testing.T) {
	a := NewRetriever()
	a.snippets["sad"] = "changed"
	assert.Equal(t, defaultSnippets["sad"], NewRetriever().Lookup("sad"))
}
