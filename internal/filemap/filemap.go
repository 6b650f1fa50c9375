// Package filemap expands SRC:DST atoms into a flat map of image paths to
// local files.
package filemap

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

var (
	// ErrEmptyDestination is returned for atoms without a destination part.
	ErrEmptyDestination = errors.New("invalid destination")

	// ErrInvalidDestination is returned when a file would replace the image root.
	ErrInvalidDestination = errors.New("destination must name a file")

	// ErrInvalidSource is returned when the source is neither a file nor a directory.
	ErrInvalidSource = errors.New("not a directory or file")
)

// Map maps a destination path, relative to the image root and using forward
// slashes, to the local source file.
type Map map[string]string

// Keys returns the destination paths in lexical order.
func (m Map) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of files in the map.
func (m Map) Len() int {
	return len(m)
}

// Build parses atoms of the form SRC:DST and returns the resulting file map.
// Directories are walked recursively and only regular files are picked up.
// When two atoms produce the same destination the later one wins.
func Build(atoms []string) (Map, error) {
	files := Map{}
	for _, atom := range atoms {
		src, dst, _ := strings.Cut(atom, ":")
		if dst == "" {
			return nil, fmt.Errorf("%q: %w", atom, ErrEmptyDestination)
		}
		dst = normalize(dst)

		info, err := os.Stat(src)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%s: %w", src, ErrInvalidSource)
			}
			return nil, err
		}

		switch {
		case info.IsDir():
			if err := addDir(files, filepath.Clean(src), dst); err != nil {
				return nil, err
			}
		case info.Mode().IsRegular():
			if dst == "." {
				return nil, fmt.Errorf("%q: %w", atom, ErrInvalidDestination)
			}
			files[dst] = filepath.Clean(src)
		default:
			return nil, fmt.Errorf("%s: %w", src, ErrInvalidSource)
		}
	}
	return files, nil
}

// addDir walks src, following src itself when it is a symlink. Symlinks
// inside the tree are skipped.
func addDir(files Map, src, dst string) error {
	root, err := filepath.EvalSymlinks(src)
	if err != nil {
		return err
	}

	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files[path.Join(dst, filepath.ToSlash(rel))] = filepath.Join(src, rel)
		return nil
	})
}

// normalize roots dst at / and returns it relative to the root, so that
// "/usr/bin/app", "usr/bin/app" and "/usr/../usr/bin/app" all agree.
func normalize(dst string) string {
	dst = path.Clean("/" + filepath.ToSlash(dst))
	if dst == "/" {
		return "."
	}
	return strings.TrimPrefix(dst, "/")
}
