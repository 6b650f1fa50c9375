// Package overlay materializes a file map into the directory tree that is
// inserted into the image as a new layer.
package overlay

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/tsaarni/container-image-injector/internal/filemap"
)

// ErrIllegalPath is returned for destinations that resolve outside the overlay root.
var ErrIllegalPath = errors.New("illegal file path")

// Stage copies every file in files into root, creating parent directories
// as needed and overwriting existing files.
func Stage(root string, files filemap.Map, logger *log.Logger) error {
	for _, dst := range files.Keys() {
		src := files[dst]

		target, err := sanitizePath(root, dst)
		if err != nil {
			return err
		}

		err = os.MkdirAll(filepath.Dir(target), 0o755)
		if err != nil {
			return err
		}

		logger.Info("Copying file", "src", src, "dst", target)

		err = copyFile(src, target)
		if err != nil {
			return fmt.Errorf("copy %s: %w", src, err)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	_, err = io.Copy(out, in)
	if err != nil {
		out.Close()
		return err
	}
	err = out.Close()
	if err != nil {
		return err
	}

	// OpenFile only applies the mode to newly created files.
	return os.Chmod(dst, info.Mode().Perm())
}

// Guard against "zip slip" style destinations.
func sanitizePath(root, p string) (string, error) {
	dest := filepath.Join(root, filepath.FromSlash(p))
	if !strings.HasPrefix(dest, filepath.Clean(root)+string(os.PathSeparator)) {
		return "", fmt.Errorf("%s: %w", p, ErrIllegalPath)
	}
	return dest, nil
}
