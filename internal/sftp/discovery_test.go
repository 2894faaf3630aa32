package sftp

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetFilesByPrefixWalksTree(t *testing.T) {
	now := time.Now()
	fs := &fakeFS{
		dirs: map[string][]os.FileInfo{
			"root": {
				fakeFileInfo{name: "a.csv", size: 5, modTime: now},
				fakeFileInfo{name: "sub", mode: os.ModeDir | 0o755},
			},
			"root/sub": {
				fakeFileInfo{name: "b.csv", size: 3, modTime: now},
				fakeFileInfo{name: "empty.csv", size: 0, modTime: now},
			},
		},
	}
	c := newTestClient(fs)

	files, err := c.GetFilesByPrefix(context.Background(), "root")
	require.NoError(t, err)

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	assert.Equal(t, []string{"root/a.csv", "root/sub/b.csv"}, paths,
		"zero-byte files are skipped and paths join with forward slashes")

	for _, f := range files {
		assert.Equal(t, time.UTC, f.LastModified.Location(), "timestamps are normalized to UTC")
		assert.Positive(t, f.Size)
	}
}

func TestGetFilesByPrefixEmptyPrefix(t *testing.T) {
	fs := &fakeFS{
		dirs: map[string][]os.FileInfo{
			".": {fakeFileInfo{name: "a.csv", size: 1, modTime: time.Now()}},
		},
	}
	c := newTestClient(fs)

	files, err := c.GetFilesByPrefix(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "./a.csv", files[0].Path, "an empty prefix lists the initial working directory")
}

func TestGetFilesByPrefixMissingDirectory(t *testing.T) {
	c := newTestClient(&fakeFS{dirs: map[string][]os.FileInfo{}})

	_, err := c.GetFilesByPrefix(context.Background(), "missing")
	require.Error(t, err)

	var notFound *DirNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "missing", notFound.Path)
	assert.Equal(t, "directory 'missing' does not exist", err.Error())
}

func TestGetFilesByPrefixMissingModTime(t *testing.T) {
	fs := &fakeFS{
		dirs: map[string][]os.FileInfo{
			"root": {fakeFileInfo{name: "a.csv", size: 5}},
		},
	}
	c := newTestClient(fs)

	files, err := c.GetFilesByPrefix(context.Background(), "root")
	require.NoError(t, err)
	require.Len(t, files, 1)

	assert.WithinDuration(t, time.Now().UTC(), files[0].LastModified, time.Minute,
		"a missing modification time falls back to the current time")
	assert.Equal(t, time.UTC, files[0].LastModified.Location())
}

func TestGetFilesByPrefixSymlinkCycle(t *testing.T) {
	now := time.Now()
	fs := &fakeFS{
		dirs: map[string][]os.FileInfo{
			"root": {
				fakeFileInfo{name: "a.csv", size: 2, modTime: now},
				fakeFileInfo{name: "loop", mode: os.ModeDir | 0o755},
			},
			"root/loop": {
				fakeFileInfo{name: "a.csv", size: 2, modTime: now},
				fakeFileInfo{name: "loop", mode: os.ModeDir | 0o755},
			},
		},
		real: map[string]string{
			"root":      "/abs/root",
			"root/loop": "/abs/root",
		},
	}
	c := newTestClient(fs)

	files, err := c.GetFilesByPrefix(context.Background(), "root")
	require.NoError(t, err, "a directory cycle must terminate, not recurse forever")
	require.Len(t, files, 1)
	assert.Equal(t, "root/a.csv", files[0].Path)
}

func TestGetFilesByPrefixHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestClient(&fakeFS{dirs: map[string][]os.FileInfo{".": {}}})
	_, err := c.GetFilesByPrefix(ctx, "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGetFilesPatternAndModifiedSince(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	fs := &fakeFS{
		dirs: map[string][]os.FileInfo{
			"exports": {
				fakeFileInfo{name: "orders_old.csv", size: 10, modTime: base.Add(-time.Hour)},
				fakeFileInfo{name: "orders_same.csv", size: 10, modTime: base},
				fakeFileInfo{name: "orders_new.csv", size: 10, modTime: base.Add(time.Hour)},
				fakeFileInfo{name: "skip.txt", size: 10, modTime: base.Add(time.Hour)},
			},
		},
	}
	c := newTestClient(fs)

	files, err := c.GetFiles(context.Background(), "exports", `orders_.*\.csv`, &base)
	require.NoError(t, err)
	require.Len(t, files, 1, "the modified-since bound is exclusive")
	assert.Equal(t, "exports/orders_new.csv", files[0].Path)
}

func TestGetFilesNoMatchesIsNotAnError(t *testing.T) {
	fs := &fakeFS{
		dirs: map[string][]os.FileInfo{
			"exports": {fakeFileInfo{name: "a.txt", size: 1, modTime: time.Now()}},
		},
	}
	c := newTestClient(fs)

	files, err := c.GetFiles(context.Background(), "exports", `\.csv$`, nil)
	require.NoError(t, err, "an empty match set is reported, not failed")
	assert.Empty(t, files)
}

func TestMatchFilesSubstringSearch(t *testing.T) {
	files := []FileDescriptor{
		{Path: "root/sub/data.csv"},
		{Path: "root/other.csv"},
	}

	matched, err := MatchFiles(files, "sub")
	require.NoError(t, err)
	require.Len(t, matched, 1, "patterns match anywhere in the path")
	assert.Equal(t, "root/sub/data.csv", matched[0].Path)
}

func TestMatchFilesInvalidPattern(t *testing.T) {
	_, err := MatchFiles([]FileDescriptor{{Path: "a.csv"}}, "[")
	require.Error(t, err)
}
