package loader

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, open func() (io.ReadCloser, error)) string {
	t.Helper()
	rc, err := open()
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestNormalize(t *testing.T) {
	r := New(t.TempDir())
	assert.Equal(t, "x.js", r.Normalize("x"))
	assert.Equal(t, "x.js", r.Normalize("x.js"))
	assert.Equal(t, "x.txt", r.Normalize("x.txt"))
	assert.Equal(t, "sub/x.js", r.Normalize("sub/x"))
	assert.Equal(t, "x.js", r.Normalize("./x"))
	assert.Equal(t, "x.js", r.Normalize(" x.js "))
	assert.Equal(t, "x.js", r.Normalize("sub/../x.js"))
	assert.Equal(t, "", r.Normalize("  "))

	custom := New(t.TempDir(), WithExtension("mjs"))
	assert.Equal(t, "x.mjs", custom.Normalize("x"))
}

func TestResolve_LocalFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.js"), []byte("local"), 0o644))

	src, err := New(dir).Resolve("x", false)
	require.NoError(t, err)
	assert.Equal(t, "x.js", src.Filename())
	assert.Equal(t, "local", readAll(t, src.Open))
}

func TestResolve_MissingWithoutFallback(t *testing.T) {
	_, err := New(t.TempDir()).Resolve("greeter.js", false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolve_FallbackCopiesBundled(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "scripts")
	assets := fstest.MapFS{"y.js": {Data: []byte("bundled")}}
	r := New(dir, WithAssets(assets))

	src, err := r.Resolve("y.js", true)
	require.NoError(t, err)
	assert.Equal(t, "bundled", readAll(t, src.Open))

	onDisk, err := os.ReadFile(filepath.Join(dir, "y.js"))
	require.NoError(t, err)
	assert.Equal(t, "bundled", string(onDisk))
}

func TestResolve_FallbackKeepsLocalEdits(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "y.js"), []byte("edited"), 0o644))
	r := New(dir, WithAssets(fstest.MapFS{"y.js": {Data: []byte("bundled")}}))

	src, err := r.Resolve("y.js", true)
	require.NoError(t, err)
	assert.Equal(t, "edited", readAll(t, src.Open))
}

func TestResolve_FallbackWithoutBundledDefault(t *testing.T) {
	r := New(t.TempDir(), WithAssets(fstest.MapFS{}))
	_, err := r.Resolve("nope.js", true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolve_RejectsEscapingNames(t *testing.T) {
	r := New(t.TempDir())
	for _, name := range []string{"../x.js", "/etc/passwd", "", "."} {
		_, err := r.Resolve(name, true)
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}
}

func TestResolve_OpenAfterDeleteFails(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "x.js")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))

	src, err := New(dir).Resolve("x.js", false)
	require.NoError(t, err)
	require.NoError(t, os.Remove(p))

	_, err = src.Open()
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestBundled_ShipsExamples(t *testing.T) {
	for _, name := range []string{"greeter.js", "blockwatch.js"} {
		_, err := fs.Stat(Bundled(), name)
		assert.NoError(t, err, name)
	}
}
