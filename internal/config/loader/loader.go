// Package loader reads configuration sources into nested maps.
//
// File loaders return nil, nil for a missing file so that an absent
// optional config file is not an error. Maps from several sources are
// combined with DeepMerge, later sources winning.
package loader

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Loader produces one configuration layer.
type Loader interface {
	// Load returns the layer, or nil, nil when the source does not exist.
	Load() (map[string]any, error)
}

// FileSystem is the part of the file system the file loaders read from.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
}

type osFS struct{}

func (osFS) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

// DefaultFS returns the OS file system.
func DefaultFS() FileSystem {
	return osFS{}
}

// decodeFunc turns file content into a map. source names the content in
// errors.
type decodeFunc func(source string, data []byte) (map[string]any, error)

// File loads one configuration file in a fixed format.
type File struct {
	fs     FileSystem
	path   string
	decode decodeFunc
}

// NewTOMLLoader creates a loader for the TOML file at path.
func NewTOMLLoader(path string) *File {
	return NewTOMLLoaderWithFS(DefaultFS(), path)
}

// NewTOMLLoaderWithFS is NewTOMLLoader reading from fsys.
func NewTOMLLoaderWithFS(fsys FileSystem, path string) *File {
	return &File{fs: fsys, path: path, decode: decodeTOML}
}

// NewYAMLLoader creates a loader for the YAML file at path.
func NewYAMLLoader(path string) *File {
	return NewYAMLLoaderWithFS(DefaultFS(), path)
}

// NewYAMLLoaderWithFS is NewYAMLLoader reading from fsys.
func NewYAMLLoaderWithFS(fsys FileSystem, path string) *File {
	return &File{fs: fsys, path: path, decode: decodeYAML}
}

// ForPath picks the loader from the extension of path.
func ForPath(fsys FileSystem, path string) (*File, error) {
	if fsys == nil {
		fsys = DefaultFS()
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		return NewTOMLLoaderWithFS(fsys, path), nil
	case ".yaml", ".yml":
		return NewYAMLLoaderWithFS(fsys, path), nil
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
}

// Path returns the file path.
func (f *File) Path() string { return f.path }

// Load reads and decodes the file.
func (f *File) Load() (map[string]any, error) {
	data, err := f.fs.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", f.path, err)
	}
	return f.finish(f.decode(f.path, data))
}

// LoadFromReader decodes content read from r in the loader's format.
func (f *File) LoadFromReader(r io.Reader) (map[string]any, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return f.finish(f.decode("<reader>", data))
}

// finish turns an empty document into an empty layer.
func (f *File) finish(m map[string]any, err error) (map[string]any, error) {
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = make(map[string]any)
	}
	return m, nil
}

// DeepMerge merges src into dst and returns dst. Nested maps merge key by
// key; any other src value replaces the dst value.
func DeepMerge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for key, v := range src {
		if sub, ok := v.(map[string]any); ok {
			if cur, ok := dst[key].(map[string]any); ok {
				dst[key] = DeepMerge(cur, sub)
				continue
			}
		}
		dst[key] = v
	}
	return dst
}
