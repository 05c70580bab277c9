package sitemap

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewURLSetSortsAndDeduplicates(t *testing.T) {
	t.Parallel()

	set := NewURLSet([]string{"https://b.example/", "https://a.example/", "", "https://b.example/"})
	require.Len(t, set.URLs, 2)
	assert.Equal(t, "https://a.example/", set.URLs[0].Loc)
	assert.Equal(t, "https://b.example/", set.URLs[1].Loc)
}

func TestEncodeEscapesLocations(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, NewURLSet([]string{"https://a.example/?q=1&r=2"}).Encode(&buf))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "<?xml"))
	assert.Contains(t, out, `<urlset xmlns="`+Namespace+`">`)
	assert.Contains(t, out, "<loc>https://a.example/?q=1&amp;r=2</loc>")
}

func TestWriteFileEmptySet(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "empty.xml")
	require.NoError(t, WriteFile(path, nil))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<urlset")
}

func TestWriteFileMissingDirectory(t *testing.T) {
	t.Parallel()

	err := WriteFile(filepath.Join(t.TempDir(), "nope", "x.xml"), []string{"https://a.example"})
	require.Error(t, err)
}
