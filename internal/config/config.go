// Package config layers command line flags and environment variables into
// the settings of a single injection run.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment variables that mirror the flags,
// e.g. IMAGE_INJECTOR_BASE_IMAGE for --base-image.
const EnvPrefix = "IMAGE_INJECTOR"

// ErrMissingArgument is returned when a mandatory setting is empty.
var ErrMissingArgument = errors.New("mandatory argument missing")

// Config holds the settings of one run.
type Config struct {
	BaseImage     string
	DestImage     string
	DestTag       string
	DirPrefix     string
	Add           []string
	UpdateCreated bool
	Verify        bool
	OverrideOS    string
	Verbose       bool

	// Tool locations from SKOPEO and UMOCI; empty means search PATH.
	Skopeo string
	Umoci  string
}

// DefaultOverrideOS returns the OS skopeo should be told to pick. There are
// no container images for macOS or Windows hosts, so anything but Linux
// defaults to linux.
func DefaultOverrideOS() string {
	if runtime.GOOS == "linux" {
		return ""
	}
	return "linux"
}

// RegisterFlags defines the command line flags on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("base-image", "", "Image to start from (docker-daemon, .tar archive or any skopeo transport)")
	fs.String("dest-image", "", "Where to write the resulting image")
	fs.String("dest-tag", "", "Additional tag for the destination image")
	fs.String("dir-prefix", "/", "Directory inside the image the files are added under")
	fs.StringArray("add", nil, "File or directory to add, as SRC:DST (repeatable)")
	fs.Bool("update-created", true, "Set the image creation time to now")
	fs.Bool("verify", false, "Check that the added files are present in the new layer")
	fs.String("override-os", DefaultOverrideOS(), "OS to pass to skopeo --override-os (empty to disable)")
	fs.BoolP("verbose", "v", false, "Enable debug logging")
}

// Load reads the settings from fs, falling back to environment variables
// for flags that were not given.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	err := v.BindPFlags(fs)
	if err != nil {
		return nil, err
	}
	err = v.BindEnv("skopeo", "SKOPEO")
	if err != nil {
		return nil, err
	}
	err = v.BindEnv("umoci", "UMOCI")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		BaseImage:     v.GetString("base-image"),
		DestImage:     v.GetString("dest-image"),
		DestTag:       v.GetString("dest-tag"),
		DirPrefix:     v.GetString("dir-prefix"),
		UpdateCreated: v.GetBool("update-created"),
		Verify:        v.GetBool("verify"),
		OverrideOS:    v.GetString("override-os"),
		Verbose:       v.GetBool("verbose"),
		Skopeo:        v.GetString("skopeo"),
		Umoci:         v.GetString("umoci"),
	}

	// viper would split flag values on commas, so repeated --add flags are
	// read directly. The environment variable takes whitespace separated atoms.
	if fs.Changed("add") {
		cfg.Add, err = fs.GetStringArray("add")
		if err != nil {
			return nil, err
		}
	} else {
		cfg.Add = v.GetStringSlice("add")
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that mandatory settings are present.
func (c *Config) Validate() error {
	var missing []string
	if c.BaseImage == "" {
		missing = append(missing, "--base-image")
	}
	if c.DestImage == "" {
		missing = append(missing, "--dest-image")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingArgument, strings.Join(missing, ", "))
	}
	if c.DirPrefix == "" {
		c.DirPrefix = "/"
	}
	return nil
}
