// Package testutil builds OCI image layouts for tests, standing in for what
// skopeo and umoci would leave on disk.
package testutil

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/layout"
	"github.com/google/go-containerregistry/pkg/v1/match"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/partial"
	"github.com/google/go-containerregistry/pkg/v1/random"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	imgspecv1 "github.com/opencontainers/image-spec/specs-go/v1"
)

// BaseCreated is the creation time of images written by WriteLayout.
var BaseCreated = time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)

// WriteLayout writes a random linux/amd64 image with the given number of
// layers into a new OCI layout at dir, annotated with tag.
func WriteLayout(dir, tag string, layers int64) (v1.Image, error) {
	img, err := random.Image(256, layers)
	if err != nil {
		return nil, err
	}

	cfg, err := img.ConfigFile()
	if err != nil {
		return nil, err
	}
	cfg = cfg.DeepCopy()
	cfg.OS = "linux"
	cfg.Architecture = "amd64"
	cfg.Created = v1.Time{Time: BaseCreated}

	img, err = mutate.ConfigFile(img, cfg)
	if err != nil {
		return nil, err
	}

	p, err := layout.Write(dir, empty.Index)
	if err != nil {
		return nil, err
	}

	err = p.AppendImage(img, layout.WithAnnotations(refName(tag)))
	if err != nil {
		return nil, err
	}
	return img, nil
}

// Mutate replaces the image tagged tag in layout dir with fn's result.
func Mutate(dir, tag string, fn func(v1.Image) (v1.Image, error)) error {
	p, err := layout.FromPath(dir)
	if err != nil {
		return err
	}

	idx, err := p.ImageIndex()
	if err != nil {
		return err
	}

	matcher := match.Annotation(imgspecv1.AnnotationRefName, tag)
	images, err := partial.FindImages(idx, matcher)
	if err != nil {
		return err
	}
	if len(images) != 1 {
		return fmt.Errorf("%s: found %d images tagged %q", dir, len(images), tag)
	}

	img, err := fn(images[0])
	if err != nil {
		return err
	}
	return p.ReplaceImage(img, matcher, layout.WithAnnotations(refName(tag)))
}

// AppendDir adds the files under rootdir as a new layer, rooted at prefix
// inside the image, like `umoci insert` does.
func AppendDir(dir, tag, rootdir, prefix string) error {
	layer, err := LayerFromDir(rootdir, prefix)
	if err != nil {
		return err
	}
	return Mutate(dir, tag, func(img v1.Image) (v1.Image, error) {
		return mutate.AppendLayers(img, layer)
	})
}

// SetCreated sets the image creation time, like `umoci config --created`.
func SetCreated(dir, tag string, t time.Time) error {
	return Mutate(dir, tag, func(img v1.Image) (v1.Image, error) {
		return mutate.CreatedAt(img, v1.Time{Time: t})
	})
}

// LayerFromDir creates an uncompressed tar layer from the files in rootdir.
func LayerFromDir(rootdir, prefix string) (v1.Layer, error) {
	var buf bytes.Buffer
	writer := tar.NewWriter(&buf)
	prefix = strings.TrimPrefix(path.Clean("/"+prefix), "/")

	err := filepath.WalkDir(rootdir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		relpath, err := filepath.Rel(rootdir, p)
		if err != nil {
			return err
		}
		if relpath == "." {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		hdr := &tar.Header{
			Name: path.Join(prefix, filepath.ToSlash(relpath)),
			Mode: int64(info.Mode().Perm()),
		}

		if d.IsDir() {
			hdr.Typeflag = tar.TypeDir
			hdr.Name += "/"
		} else {
			hdr.Typeflag = tar.TypeReg
			hdr.Size = info.Size()
		}

		err = writer.WriteHeader(hdr)
		if err != nil {
			return err
		}

		if !d.IsDir() {
			f, err := os.Open(p)
			if err != nil {
				return err
			}
			defer f.Close()

			_, err = io.Copy(writer, f)
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	err = writer.Close()
	if err != nil {
		return nil, err
	}

	data := buf.Bytes()
	return tarball.LayerFromOpener(func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	})
}

func refName(tag string) map[string]string {
	return map[string]string{imgspecv1.AnnotationRefName: tag}
}
