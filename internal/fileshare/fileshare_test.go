package fileshare

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveRequestedPathRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	_, err := ResolveRequestedPath(root, "../escape")
	assert.ErrorIs(t, err, ErrTraversal)
}

func TestResolveRequestedPathRejectsAbsolute(t *testing.T) {
	root := t.TempDir()
	_, err := ResolveRequestedPath(root, "/etc/passwd")
	assert.ErrorIs(t, err, ErrTraversal)
}

func TestResolveRequestedPathJoinsRelative(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "b"), 0o755))
	resolved, err := ResolveRequestedPath(root, "a/b")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "a", "b"), resolved)
}

func TestResolveRequestedPathEmptyIsRoot(t *testing.T) {
	root := t.TempDir()
	resolved, err := ResolveRequestedPath(root, "")
	require.NoError(t, err)
	rootAbs, _ := filepath.Abs(root)
	assert.Equal(t, filepath.Clean(rootAbs), resolved)
}

func TestGetFileTypeClassifiesByExtension(t *testing.T) {
	cases := map[string]string{
		"movie.mp4":     "video",
		"icon.svg":      "svg",
		"photo.png":     "image",
		"report.pdf":    "pdf",
		"memo.docx":     "word",
		"sheet.xlsx":    "excel",
		"notes.md":      "markdown",
		"page.html":     "html",
		"main.go":       "code",
		"Dockerfile":    "code",
		"readme.txt":    "text",
		"archive.zip":   "other",
	}
	for name, want := range cases {
		assert.Equal(t, want, GetFileType(name), name)
	}
}

func TestListDirectorySortsDirsFirstThenCaseInsensitive(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Zdir"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "adir"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "banana.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "Apple.txt"), []byte("x"), 0o644))

	listing, err := ListDirectory(root, root, ListDefaultMaxEntries)
	require.NoError(t, err)
	require.Len(t, listing.Items, 4)
	assert.True(t, listing.Items[0].IsDir)
	assert.True(t, listing.Items[1].IsDir)
	assert.Equal(t, "adir", listing.Items[0].Name)
	assert.Equal(t, "Zdir", listing.Items[1].Name)
	assert.Equal(t, "Apple.txt", listing.Items[2].Name)
	assert.Equal(t, "banana.txt", listing.Items[3].Name)
}

func TestListDirectoryCacheInvalidatesOnMtimeChange(t *testing.T) {
	root := t.TempDir()
	listing, err := ListDirectory(root, root, ListDefaultMaxEntries)
	require.NoError(t, err)
	assert.Empty(t, listing.Items)

	require.NoError(t, os.WriteFile(filepath.Join(root, "new.txt"), []byte("x"), 0o644))
	listing, err = ListDirectory(root, root, ListDefaultMaxEntries)
	require.NoError(t, err)
	assert.Len(t, listing.Items, 1)
}

func TestSearchEntriesRecursiveMatchesCaseInsensitive(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "Report.TXT"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "other.md"), []byte("x"), 0o644))

	result, err := SearchEntries(root, root, "report", true, SearchDefaultMax)
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "sub/Report.TXT", result.Items[0].Path)
	assert.False(t, result.Truncated)
}

func TestSearchEntriesNonRecursiveStopsAtTopLevel(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "deep-match.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "top-match.txt"), []byte("x"), 0o644))

	result, err := SearchEntries(root, root, "match", false, SearchDefaultMax)
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "top-match.txt", result.Items[0].Path)
}

func TestSearchEntriesEmptyQueryReturnsNoItems(t *testing.T) {
	root := t.TempDir()
	result, err := SearchEntries(root, root, "   ", true, SearchDefaultMax)
	require.NoError(t, err)
	assert.Empty(t, result.Items)
}
