package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSystemRejectsTraversal(t *testing.T) {
	base := t.TempDir()
	fsys := NewFileSystem(base)
	ctx := context.Background()

	t.Run("save", func(t *testing.T) {
		tests := []struct {
			name string
			path string
			ok   bool
		}{
			{"normal path", "story.json", true},
			{"subdirectory", "exports/story.md", true},
			{"parent traversal", "../story.json", false},
			{"complex traversal", "exports/../../story.json", false},
			{"absolute path", "/etc/passwd", false},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := fsys.Save(ctx, tt.path, []byte("data"))
				if tt.ok {
					assert.NoError(t, err)
				} else {
					assert.ErrorIs(t, err, ErrOutsideBase)
				}
			})
		}
	})

	t.Run("load", func(t *testing.T) {
		_, err := fsys.Load(ctx, "../outside.json")
		assert.ErrorIs(t, err, ErrOutsideBase)
	})

	t.Run("list", func(t *testing.T) {
		_, err := fsys.List(ctx, "../*")
		assert.ErrorIs(t, err, ErrOutsideBase)
		_, err = fsys.List(ctx, "/etc/*")
		assert.ErrorIs(t, err, ErrOutsideBase)
	})
}

func TestSanitizePath(t *testing.T) {
	base := t.TempDir()
	fsys := NewFileSystem(base)

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"simple file", "file.json", false},
		{"nested file", "dir/file.json", false},
		{"dot file", ".hidden", false},
		{"dot path", ".", false},
		{"parent directory", "../file.json", true},
		{"sneaky parent", "dir/../../../etc/passwd", true},
		{"absolute path", "/etc/passwd", true},
		{"double dot", "..", true},
		{"contains double dot", "some/..thing/file", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fsys.sanitizePath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(got, base))
		})
	}
}

func TestSaveIsAtomicAndLeavesNoTempFiles(t *testing.T) {
	base := t.TempDir()
	fsys := NewFileSystem(base)
	ctx := context.Background()

	require.NoError(t, fsys.Save(ctx, "p.json", []byte("first")))
	require.NoError(t, fsys.Save(ctx, "p.json", []byte("second")))

	data, err := fsys.Load(ctx, "p.json")
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "p.json", entries[0].Name())

	info, err := os.Stat(filepath.Join(base, "p.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestListAndExists(t *testing.T) {
	fsys := NewFileSystem(t.TempDir())
	ctx := context.Background()
	require.NoError(t, fsys.Save(ctx, "a.json", []byte("{}")))
	require.NoError(t, fsys.Save(ctx, "b.json", []byte("{}")))
	require.NoError(t, fsys.Save(ctx, "notes.txt", []byte("x")))

	got, err := fsys.List(ctx, "*.json")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.json", "b.json"}, got)

	assert.True(t, fsys.Exists(ctx, "a.json"))
	assert.False(t, fsys.Exists(ctx, "c.json"))
	assert.False(t, fsys.Exists(ctx, "../a.json"))
}

func TestCancelledContext(t *testing.T) {
	fsys := NewFileSystem(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, fsys.Save(ctx, "p.json", nil), context.Canceled)
}
