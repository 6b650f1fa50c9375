package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tsaarni/container-image-injector/internal/config"
	"github.com/tsaarni/container-image-injector/internal/filemap"
	"github.com/tsaarni/container-image-injector/internal/imageref"
	"github.com/tsaarni/container-image-injector/internal/injector"
	"github.com/tsaarni/container-image-injector/internal/tool"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Error("image-injector failed", "err", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "image-injector",
		Short: "Inject local files into a container image",
		Long: `image-injector adds files to a copy of an existing container image as a new
layer and writes the result, without running a container engine build.

Images are copied with skopeo and modified with umoci. Set SKOPEO and UMOCI to
use binaries that are not on PATH.

Image references may carry any skopeo transport prefix (docker://, oci:, ...).
References ending in .tar are read as docker archives, anything else is looked
up in the local docker daemon.`,
		Example: `  image-injector --base-image alpine:3.20 --dest-image patched.tar \
    --add ./bin/app:/usr/local/bin/app --add ./config:/etc/app`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				if errors.Is(err, config.ErrMissingArgument) {
					fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n\n", err)
					_ = cmd.Usage()
				}
				return err
			}

			logger := newLogger(cfg.Verbose)
			log.SetDefault(logger)
			return run(cmd.Context(), cfg, logger)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func newLogger(verbose bool) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		Prefix:          "image-injector",
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
	})
	if verbose {
		logger.SetLevel(log.DebugLevel)
	}
	return logger.With("run", uuid.NewString())
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	files, err := filemap.Build(cfg.Add)
	if err != nil {
		return err
	}

	umociPath, err := tool.Lookup("umoci", cfg.Umoci)
	if err != nil {
		return err
	}
	skopeoPath, err := tool.Lookup("skopeo", cfg.Skopeo)
	if err != nil {
		return err
	}
	skopeo := tool.New("skopeo", skopeoPath, tool.WithLogger(logger))
	umoci := tool.New("umoci", umociPath, tool.WithLogger(logger))
	logger.Debug("Resolved tools", skopeo.Name(), skopeo.Path(), umoci.Name(), umoci.Path())

	if files.Len() == 0 {
		logger.Warn("No files in file map, the image is copied unchanged")
	}

	baseImage := imageref.Qualify(cfg.BaseImage)
	destImage := imageref.Qualify(cfg.DestImage)
	baseTransport, _ := imageref.Transport(baseImage)
	destTransport, _ := imageref.Transport(destImage)
	logger.Info("Injecting files",
		"base", baseImage, "base-transport", baseTransport,
		"dest", destImage, "dest-transport", destTransport,
		"files", files.Len(),
	)

	inj := injector.New(skopeo, umoci,
		injector.WithLogger(logger),
		injector.WithOverrideOS(cfg.OverrideOS),
	)

	err = inj.Run(ctx, injector.Options{
		BaseImage:     baseImage,
		DestImage:     destImage,
		DestTag:       cfg.DestTag,
		DirPrefix:     cfg.DirPrefix,
		Files:         files,
		UpdateCreated: cfg.UpdateCreated,
		Verify:        cfg.Verify,
	})
	if err != nil {
		return err
	}

	logger.Info("Successful", "dest", destImage)
	return nil
}
