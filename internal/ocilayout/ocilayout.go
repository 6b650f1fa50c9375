// Package ocilayout reads the OCI image layouts produced by skopeo and umoci
// so that runs can report what they pulled and check what they inserted.
package ocilayout

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/layout"
	"github.com/google/go-containerregistry/pkg/v1/match"
	"github.com/google/go-containerregistry/pkg/v1/partial"
	imgspecv1 "github.com/opencontainers/image-spec/specs-go/v1"
)

var (
	// ErrTagNotFound is returned when no manifest in the layout carries the tag.
	ErrTagNotFound = errors.New("tag not found in layout")

	// ErrNoLayers is returned when verifying an image without layers.
	ErrNoLayers = errors.New("image has no layers")

	// ErrMissingFiles is returned when the top layer lacks expected files.
	ErrMissingFiles = errors.New("files missing from inserted layer")
)

// Summary describes the image tagged in a layout.
type Summary struct {
	Digest   v1.Hash
	Layers   int
	Platform string
	Created  time.Time
}

// Image returns the image in layout dir whose ref name annotation is tag.
func Image(dir, tag string) (v1.Image, error) {
	p, err := layout.FromPath(dir)
	if err != nil {
		return nil, err
	}

	idx, err := p.ImageIndex()
	if err != nil {
		return nil, err
	}

	images, err := partial.FindImages(idx, match.Annotation(imgspecv1.AnnotationRefName, tag))
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("%s:%s: %w", dir, tag, ErrTagNotFound)
	}
	return images[0], nil
}

// Inspect summarizes the image tagged tag in layout dir.
func Inspect(dir, tag string) (*Summary, error) {
	img, err := Image(dir, tag)
	if err != nil {
		return nil, err
	}

	digest, err := img.Digest()
	if err != nil {
		return nil, err
	}

	layers, err := img.Layers()
	if err != nil {
		return nil, err
	}

	cfg, err := img.ConfigFile()
	if err != nil {
		return nil, err
	}

	s := &Summary{
		Digest:  digest,
		Layers:  len(layers),
		Created: cfg.Created.Time,
	}
	if cfg.OS != "" {
		s.Platform = cfg.OS + "/" + cfg.Architecture
		if cfg.Variant != "" {
			s.Platform += "/" + cfg.Variant
		}
	}
	return s, nil
}

// VerifyFiles checks that every path in files, placed under prefix, is
// present in the top layer of the image tagged tag.
func VerifyFiles(dir, tag, prefix string, files []string) error {
	img, err := Image(dir, tag)
	if err != nil {
		return err
	}

	layers, err := img.Layers()
	if err != nil {
		return err
	}
	if len(layers) == 0 {
		return ErrNoLayers
	}

	rc, err := layers[len(layers)-1].Uncompressed()
	if err != nil {
		return err
	}
	defer rc.Close()

	present := map[string]bool{}
	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag == tar.TypeReg {
			present[path.Clean("/"+hdr.Name)] = true
		}
	}

	var missing []string
	for _, f := range files {
		p := path.Join("/", prefix, f)
		if !present[p] {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingFiles, strings.Join(missing, ", "))
	}
	return nil
}
