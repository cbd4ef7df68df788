package loader

import (
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/roach88/scripthost/internal/script"
)

//go:embed assets/*.js
var bundled embed.FS

// DefaultExtension is appended to names that have none.
const DefaultExtension = ".js"

var (
	// ErrNotFound is returned when no local file or bundled fallback exists.
	ErrNotFound = errors.New("script not found")

	// ErrInvalidName is returned for names that escape the script directory.
	ErrInvalidName = errors.New("invalid script name")
)

// Bundled returns the scripts shipped with the binary.
func Bundled() fs.FS {
	sub, err := fs.Sub(bundled, "assets")
	if err != nil {
		panic(fmt.Sprintf("loader: bundled assets: %v", err))
	}
	return sub
}

// Resolver resolves names against a script directory with an optional
// bundled fallback.
type Resolver struct {
	dir       string
	assets    fs.FS
	extension string
	logger    *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithAssets replaces the bundled fallback scripts. nil disables fallback.
func WithAssets(assets fs.FS) Option {
	return func(r *Resolver) {
		r.assets = assets
	}
}

// WithExtension sets the extension appended to bare names.
func WithExtension(ext string) Option {
	return func(r *Resolver) {
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		r.extension = ext
	}
}

// WithLogger sets the resolver's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// New creates a Resolver for dir.
func New(dir string, opts ...Option) *Resolver {
	r := &Resolver{
		dir:       dir,
		assets:    Bundled(),
		extension: DefaultExtension,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dir returns the script directory.
func (r *Resolver) Dir() string {
	return r.dir
}

// Normalize trims and cleans name and appends the default extension when
// it has no ".". "./x" and "x.js" normalize to the same file.
func (r *Resolver) Normalize(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	name = filepath.Clean(name)
	if strings.Contains(path.Base(filepath.ToSlash(name)), ".") {
		return name
	}
	return name + r.extension
}

// Resolve implements script.Resolver.
func (r *Resolver) Resolve(name string, allowFallback bool) (script.Source, error) {
	name = r.Normalize(name)
	if name == "" || name == "." || !filepath.IsLocal(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	full := filepath.Join(r.dir, name)
	info, err := os.Stat(full)
	switch {
	case err == nil && info.Mode().IsRegular():
		return File{name: name, path: full}, nil
	case err == nil:
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrNotFound, name)
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("stat %s: %w", name, err)
	}

	if !allowFallback || r.assets == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err := r.copyBundled(name, full); err != nil {
		return nil, err
	}
	r.logger.Info("copied bundled script", "file", name, "dir", r.dir)
	return r.Resolve(name, false)
}

// copyBundled writes the bundled script name to dst.
func (r *Resolver) copyBundled(name, dst string) error {
	data, err := fs.ReadFile(r.assets, filepath.ToSlash(name))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s (no bundled default)", ErrNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("read bundled %s: %w", name, err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create script dir: %w", err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("copy bundled %s: %w", name, err)
	}
	return nil
}

// File is a script source on disk.
type File struct {
	name string
	path string
}

// Filename implements script.Source.
func (f File) Filename() string { return f.name }

// Path returns the file's location on disk.
func (f File) Path() string { return f.path }

// Open implements script.Source.
func (f File) Open() (io.ReadCloser, error) {
	return os.Open(f.path)
}
