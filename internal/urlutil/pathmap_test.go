package urlutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultAllowed() []string {
	return []string{".html", ".htm", ".txt", ".md", ".rst", ".json", ".xml", ".css", ".js", ".pdf"}
}

func TestURLToLocalPathUniqueness(t *testing.T) {
	base := t.TempDir()
	p1, err := URLToLocalPath(base, "http://example.com/a", defaultAllowed())
	require.NoError(t, err)
	p2, err := URLToLocalPath(base, "http://example.com/b", defaultAllowed())
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2)
}

func TestURLToLocalPathDeterministic(t *testing.T) {
	base := t.TempDir()
	p1, err := URLToLocalPath(base, "http://example.com/a?x=1", defaultAllowed())
	require.NoError(t, err)
	p2, err := URLToLocalPath(base, "HTTP://EXAMPLE.COM/a?x=1", defaultAllowed())
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
}

func TestURLToLocalPathConfinement(t *testing.T) {
	base := t.TempDir()
	p, err := URLToLocalPath(base, "http://example.com/../../etc/passwd", defaultAllowed())
	require.NoError(t, err)
	assert.True(t, isUnder(mustAbs(t, base), p))
}

func TestURLToLocalPathExtension(t *testing.T) {
	base := t.TempDir()
	p, err := URLToLocalPath(base, "http://example.com/doc.md", defaultAllowed())
	require.NoError(t, err)
	assert.Contains(t, p, ".md")

	p2, err := URLToLocalPath(base, "http://example.com/script.exe", defaultAllowed())
	require.NoError(t, err)
	assert.Contains(t, p2, defaultExtension)
}

func TestURLToLocalPathLongURLShortens(t *testing.T) {
	base := t.TempDir()
	longPath := "http://example.com/"
	for i := 0; i < 100; i++ {
		longPath += "segment/"
	}
	p, err := URLToLocalPath(base, longPath, defaultAllowed())
	require.NoError(t, err)
	assert.LessOrEqual(t, len(p), maxTotalPathLen)
}

func mustAbs(t *testing.T, dir string) string {
	t.Helper()
	abs, err := filepath.Abs(dir)
	require.NoError(t, err)
	return abs
}
