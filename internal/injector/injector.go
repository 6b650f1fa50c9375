// Package injector sequences a run: pull the base image into an OCI layout,
// insert the staged files as a new layer, refresh the creation time and push
// the result.
package injector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/tsaarni/container-image-injector/internal/filemap"
	"github.com/tsaarni/container-image-injector/internal/imageref"
	"github.com/tsaarni/container-image-injector/internal/ocilayout"
	"github.com/tsaarni/container-image-injector/internal/overlay"
)

// LayoutTag is the tag the working copy of the image is stored under.
const LayoutTag = "1"

type (
	// Runner runs one invocation of an external tool.
	Runner interface {
		Run(ctx context.Context, args ...string) error
	}

	// Options describe what to inject and where the result goes.
	Options struct {
		BaseImage     string
		DestImage     string
		DestTag       string
		DirPrefix     string
		Files         filemap.Map
		UpdateCreated bool
		Verify        bool
	}

	// Option configures an Injector.
	Option func(*Injector)

	// Injector drives skopeo and umoci through a single run.
	Injector struct {
		skopeo     Runner
		umoci      Runner
		logger     *log.Logger
		now        func() time.Time
		tempDir    string
		overrideOS string
	}
)

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(i *Injector) {
		i.logger = logger
	}
}

// WithClock sets the time source used for the creation timestamp.
func WithClock(now func() time.Time) Option {
	return func(i *Injector) {
		i.now = now
	}
}

// WithTempDir sets where work directories are created. Empty means the
// system default.
func WithTempDir(dir string) Option {
	return func(i *Injector) {
		i.tempDir = dir
	}
}

// WithOverrideOS makes skopeo select images for goos instead of the host OS.
func WithOverrideOS(goos string) Option {
	return func(i *Injector) {
		i.overrideOS = goos
	}
}

// New returns an Injector using the given skopeo and umoci runners.
func New(skopeo, umoci Runner, opts ...Option) *Injector {
	i := &Injector{
		skopeo: skopeo,
		umoci:  umoci,
		logger: log.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Run performs the whole injection. The work directory is removed before
// returning, whether or not the run succeeded.
func (i *Injector) Run(ctx context.Context, opts Options) error {
	workDir, err := os.MkdirTemp(i.tempDir, "image-injector")
	if err != nil {
		return fmt.Errorf("create work directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			i.logger.Warn("Failed to remove work directory", "dir", workDir, "err", err)
		}
	}()
	i.logger.Debug("Created work directory", "dir", workDir)

	imageDir := filepath.Join(workDir, "image")
	layoutRef := imageref.Layout(imageDir, LayoutTag)
	umociRef := imageDir + ":" + LayoutTag

	i.logger.Info("Pulling base image", "ref", opts.BaseImage)
	err = i.skopeo.Run(ctx, i.skopeoArgs("copy", opts.BaseImage, layoutRef)...)
	if err != nil {
		return fmt.Errorf("pull %s: %w", opts.BaseImage, err)
	}
	i.logSummary("Base image", imageDir)

	if opts.Files.Len() > 0 {
		err = i.injectFiles(ctx, umociRef, filepath.Join(workDir, "overlay"), opts)
		if err != nil {
			return err
		}

		if opts.Verify {
			err = ocilayout.VerifyFiles(imageDir, LayoutTag, opts.DirPrefix, opts.Files.Keys())
			if err != nil {
				return fmt.Errorf("verify inserted layer: %w", err)
			}
			i.logger.Info("Verified inserted layer", "files", opts.Files.Len())
		}
	}

	if opts.UpdateCreated {
		err = i.umoci.Run(ctx, "config", "--image", umociRef, "--created="+Timestamp(i.now()))
		if err != nil {
			return fmt.Errorf("update creation time: %w", err)
		}
	}

	i.logSummary("Result image", imageDir)

	args := i.skopeoArgs("copy", layoutRef, opts.DestImage)
	if opts.DestTag != "" {
		args = append(args, "--additional-tag", opts.DestTag)
	}
	i.logger.Info("Pushing image", "ref", opts.DestImage)
	err = i.skopeo.Run(ctx, args...)
	if err != nil {
		return fmt.Errorf("push %s: %w", opts.DestImage, err)
	}
	return nil
}

func (i *Injector) injectFiles(ctx context.Context, umociRef, overlayDir string, opts Options) error {
	err := overlay.Stage(overlayDir, opts.Files, i.logger)
	if err != nil {
		return fmt.Errorf("stage files: %w", err)
	}

	prefix := opts.DirPrefix
	if prefix == "" {
		prefix = "/"
	}
	err = i.umoci.Run(ctx, "insert", "--image", umociRef, overlayDir, prefix)
	if err != nil {
		return fmt.Errorf("insert files: %w", err)
	}
	return nil
}

func (i *Injector) skopeoArgs(args ...string) []string {
	if i.overrideOS == "" {
		return args
	}
	return append([]string{"--override-os=" + i.overrideOS}, args...)
}

// Layouts that cannot be read are logged and left to the next tool.
func (i *Injector) logSummary(msg, imageDir string) {
	s, err := ocilayout.Inspect(imageDir, LayoutTag)
	if err != nil {
		i.logger.Warn("Could not read image layout", "dir", imageDir, "err", err)
		return
	}
	i.logger.Info(msg,
		"digest", s.Digest.String(),
		"layers", s.Layers,
		"platform", s.Platform,
		"created", s.Created.UTC().Format(time.RFC3339),
	)
}

// Timestamp formats t as the creation time passed to umoci: UTC, second
// precision, with an explicit +00:00 offset.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05") + "+00:00"
}
