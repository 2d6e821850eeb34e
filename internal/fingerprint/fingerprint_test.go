package fingerprint

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	siteerrors "github.com/conneroisu/sitesmith/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func sampleTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"index.md":         "# Home",
		"about.md":         "# About",
		"posts/first.md":   "first post",
		"posts/second.md":  "second post",
		"posts/deep/x.md":  "nested",
		"assets/image.bin": "\x00\x01\x02",
	})
	return root
}

func TestFingerprintDeterministic(t *testing.T) {
	root := sampleTree(t)
	scanner := NewScanner()
	ctx := context.Background()

	first, err := scanner.Fingerprint(ctx, root)
	require.NoError(t, err)
	second, err := scanner.Fingerprint(ctx, root)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestFingerprintDetectsChanges(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(t *testing.T, root string)
	}{
		{
			name: "single byte edit",
			mutate: func(t *testing.T, root string) {
				writeTree(t, root, map[string]string{"index.md": "# Hame"})
			},
		},
		{
			name: "file added",
			mutate: func(t *testing.T, root string) {
				writeTree(t, root, map[string]string{"posts/third.md": ""})
			},
		},
		{
			name: "file removed",
			mutate: func(t *testing.T, root string) {
				require.NoError(t, os.Remove(filepath.Join(root, "about.md")))
			},
		},
		{
			name: "file renamed",
			mutate: func(t *testing.T, root string) {
				require.NoError(t, os.Rename(
					filepath.Join(root, "about.md"),
					filepath.Join(root, "about2.md"),
				))
			},
		},
		{
			name: "contents swapped between files",
			mutate: func(t *testing.T, root string) {
				writeTree(t, root, map[string]string{
					"posts/first.md":  "second post",
					"posts/second.md": "first post",
				})
			},
		},
		{
			name: "nested file edited",
			mutate: func(t *testing.T, root string) {
				writeTree(t, root, map[string]string{"posts/deep/x.md": "nestee"})
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			root := sampleTree(t)
			scanner := NewScanner()
			ctx := context.Background()

			before, err := scanner.Fingerprint(ctx, root)
			require.NoError(t, err)

			tc.mutate(t, root)

			after, err := scanner.Fingerprint(ctx, root)
			require.NoError(t, err)
			assert.NotEqual(t, before, after)
		})
	}
}

func TestFingerprintMissingRoot(t *testing.T) {
	scanner := NewScanner()

	_, err := scanner.Fingerprint(context.Background(), filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.True(t, siteerrors.IsType(err, siteerrors.ErrorTypeConfig))
	assert.False(t, siteerrors.IsRecoverable(err))
}

func TestFingerprintRootIsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file.md")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := NewScanner().Fingerprint(context.Background(), file)
	require.Error(t, err)
	assert.True(t, siteerrors.IsType(err, siteerrors.ErrorTypeConfig))
}

func TestFingerprintSkipsUnreadableFile(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("file permissions are not enforced for root")
	}

	root := sampleTree(t)
	scanner := NewScanner()
	ctx := context.Background()

	locked := filepath.Join(root, "locked.md")
	require.NoError(t, os.WriteFile(locked, []byte("secret"), 0o000))

	withLocked, err := scanner.Fingerprint(ctx, root)
	require.NoError(t, err)

	require.NoError(t, os.Remove(locked))
	without, err := scanner.Fingerprint(ctx, root)
	require.NoError(t, err)

	assert.Equal(t, without, withLocked, "unreadable file should count as absent")
}

func TestFingerprintIgnoresHiddenAndTempFiles(t *testing.T) {
	root := sampleTree(t)
	scanner := NewScanner()
	ctx := context.Background()

	before, err := scanner.Fingerprint(ctx, root)
	require.NoError(t, err)

	writeTree(t, root, map[string]string{
		".DS_Store":        "junk",
		".git/HEAD":        "ref: refs/heads/main",
		"index.md~":        "backup",
		"posts/.first.swp": "swap",
		"#index.md#":       "emacs",
	})

	after, err := scanner.Fingerprint(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestExtensionFilter(t *testing.T) {
	root := sampleTree(t)
	scanner := NewScanner(WithFilter(ExtensionFilter(".md")))

	entries, err := scanner.Scan(context.Background(), root)
	require.NoError(t, err)

	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		paths = append(paths, e.Path)
	}
	assert.Equal(t, []string{
		"about.md",
		"index.md",
		"posts/deep/x.md",
		"posts/first.md",
		"posts/second.md",
	}, paths)
}

func TestCombineOrderIndependent(t *testing.T) {
	entries := []Entry{
		{Path: "a.md", Size: 1, CRC: 10},
		{Path: "b/c.md", Size: 2, CRC: 20},
		{Path: "d.md", Size: 3, CRC: 30},
	}
	reversed := []Entry{entries[2], entries[1], entries[0]}

	assert.Equal(t, Combine(entries), Combine(reversed))
	assert.Equal(t, "a.md", entries[0].Path, "Combine must not reorder its input")
}

func TestCombinePathBoundaries(t *testing.T) {
	a := []Entry{{Path: "ab", CRC: 1}, {Path: "c", CRC: 1}}
	b := []Entry{{Path: "a", CRC: 1}, {Path: "bc", CRC: 1}}

	assert.NotEqual(t, Combine(a), Combine(b))
}

func TestSumString(t *testing.T) {
	assert.Equal(t, "00000000000000ff", Sum(255).String())
}

func TestFingerprintCancelled(t *testing.T) {
	root := sampleTree(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewScanner().Fingerprint(ctx, root)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMetadataCache(t *testing.T) {
	root := sampleTree(t)
	cache := NewMetadataCache()
	scanner := NewScanner(WithMetadataCache(cache))
	ctx := context.Background()

	first, err := scanner.Fingerprint(ctx, root)
	require.NoError(t, err)
	stats := cache.Stats()
	assert.Equal(t, 6, stats.Entries)
	assert.EqualValues(t, 0, stats.Hits)

	second, err := scanner.Fingerprint(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 6, cache.Stats().Hits)

	require.NoError(t, os.Remove(filepath.Join(root, "about.md")))
	_, err = scanner.Fingerprint(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, 5, cache.Stats().Entries, "removed files are pruned")
}

func TestScannerCacheStats(t *testing.T) {
	_, ok := NewScanner().CacheStats()
	assert.False(t, ok)

	root := sampleTree(t)
	scanner := NewScanner(WithMetadataCache(NewMetadataCache()))
	_, err := scanner.Fingerprint(context.Background(), root)
	require.NoError(t, err)

	stats, ok := scanner.CacheStats()
	require.True(t, ok)
	assert.Equal(t, 6, stats.Entries)
	assert.EqualValues(t, 6, stats.Misses)
}
