package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/artikelwerk/hybrid-extractor/internal/extraction"
)

func makeDirs(t *testing.T, names ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, name := range names {
		require.NoError(t, os.Mkdir(filepath.Join(root, name), 0o750))
	}
	return root
}

func TestResolveDirectoryExact(t *testing.T) {
	t.Parallel()

	root := makeDirs(t, "4711", "9999")
	dir, err := ResolveDirectory(root, "4711")
	require.NoError(t, err)
	require.Equal(t, "4711", dir)
}

// TestResolveDirectoryPrefersSuffix pins the tie-break: the suffixed folder
// carries the DOM sidecar, so it wins over the bare base folder.
func TestResolveDirectoryPrefersSuffix(t *testing.T) {
	t.Parallel()

	root := makeDirs(t, "1234", "1234-X", "12345")
	dir, err := ResolveDirectory(root, "1234")
	require.NoError(t, err)
	require.Equal(t, "1234-X", dir)
}

func TestResolveDirectoryMultipleSuffixes(t *testing.T) {
	t.Parallel()

	root := makeDirs(t, "1234-Z", "1234-A", "1234")
	dir, err := ResolveDirectory(root, "1234")
	require.NoError(t, err)
	require.Equal(t, "1234-A", dir)
}

// TestResolveDirectoryNoPrefixBleed ensures "12345" never matches "1234":
// the suffix must start with a hyphen.
func TestResolveDirectoryNoPrefixBleed(t *testing.T) {
	t.Parallel()

	root := makeDirs(t, "12345", "12345-B")
	_, err := ResolveDirectory(root, "1234")
	require.ErrorIs(t, err, extraction.ErrNoDirectory)
}

func TestResolveDirectoryIdempotent(t *testing.T) {
	t.Parallel()

	root := makeDirs(t, "4711", "4711-M8", "4711-A2")
	first, err := ResolveDirectory(root, "4711")
	require.NoError(t, err)
	for range 5 {
		again, err := ResolveDirectory(root, "4711")
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestResolveDirectoryIgnoresFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "4711"), []byte("x"), 0o600))
	_, err := ResolveDirectory(root, "4711")
	require.ErrorIs(t, err, extraction.ErrNoDirectory)
}

func TestResolveDirectoryQuotesMeta(t *testing.T) {
	t.Parallel()

	root := makeDirs(t, "47.11", "47x11")
	dir, err := ResolveDirectory(root, "47.11")
	require.NoError(t, err)
	require.Equal(t, "47.11", dir)
}

func TestResolveDirectoryEmptyIdentifier(t *testing.T) {
	t.Parallel()

	_, err := ResolveDirectory(t.TempDir(), "  ")
	require.Error(t, err)
}

func TestDiscoverArticles(t *testing.T) {
	t.Parallel()

	root := makeDirs(t, "9999", "1234", "4711-M8", ".cache")
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o600))

	articles, err := DiscoverArticles(root)
	require.NoError(t, err)
	require.Equal(t, []string{"1234", "4711-M8", "9999"}, articles)
}

func TestDiscoverArticlesMissingRoot(t *testing.T) {
	t.Parallel()

	_, err := DiscoverArticles(filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
}

func TestMatchExisting(t *testing.T) {
	t.Parallel()

	known := []string{"1234", "5678-A", "9999"}

	tests := []struct {
		name     string
		cand     string
		wantID   string
		wantKind MatchKind
	}{
		{name: "exact", cand: "1234", wantID: "1234", wantKind: MatchExact},
		{name: "suffixed merges into base", cand: "1234-X", wantID: "1234", wantKind: MatchBase},
		{name: "bare merges into suffixed", cand: "5678", wantID: "5678-A", wantKind: MatchBase},
		{name: "exact beats base", cand: "5678-A", wantID: "5678-A", wantKind: MatchExact},
		{name: "unknown", cand: "0000", wantKind: MatchNone},
		{name: "empty", cand: "", wantKind: MatchNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MatchExisting(tt.cand, known)
			require.Equal(t, tt.wantKind, got.Kind)
			require.Equal(t, tt.wantID, got.Identifier)
		})
	}
}

func TestBaseNumber(t *testing.T) {
	t.Parallel()

	require.Equal(t, "1234", BaseNumber("1234-X"))
	require.Equal(t, "1234", BaseNumber("1234"))
	require.Equal(t, "1234", BaseNumber(" 1234-M8-V2 "))
	require.Equal(t, "", BaseNumber(""))
}
