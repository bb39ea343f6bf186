// Package toolchain loads the description of the cross toolchain used to
// build the freestanding samples: the compiler and archiver binaries, the
// flag set and the text segment base address.
package toolchain

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file name looked up next to the build script.
const DefaultFile = "toolchain.yml"

// Archive describes where a prebuilt toolchain can be downloaded from.
type Archive struct {
	URL    string `yaml:"url"`
	Sha256 string `yaml:"sha256"`
	Dest   string `yaml:"dest"`
	Strip  int    `yaml:"strip,omitempty"`
}

// Config holds the toolchain settings. CC and AR have to be absolute paths;
// the orchestrator treats both as opaque command line tools and only
// interprets their exit status.
type Config struct {
	CC       string   `yaml:"cc"`
	AR       string   `yaml:"ar"`
	Triple   string   `yaml:"triple,omitempty"`
	Include  string   `yaml:"include,omitempty"`
	CFlags   []string `yaml:"cflags,omitempty"`
	LDFlags  []string `yaml:"ldflags,omitempty"`
	TextBase uint32   `yaml:"text_base,omitempty"`
	Archive  *Archive `yaml:"archive,omitempty"`
}

// DefaultCFlags is the flag set for freestanding 32-bit objects, applied when
// the config doesn't override cflags.
var DefaultCFlags = []string{"-m32", "-ffreestanding", "-nostdlib", "-fno-builtin"}

// Load reads and validates a toolchain config file.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read %s", path)
	}

	var cfg Config
	err = yaml.Unmarshal(content, &cfg)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse %s", path)
	}

	if cfg.CFlags == nil {
		cfg.CFlags = append([]string(nil), DefaultCFlags...)
	}

	err = cfg.Validate()
	if err != nil {
		return nil, eris.Wrapf(err, "invalid toolchain config %s", path)
	}

	return &cfg, nil
}

// Validate checks that the tool paths are set and absolute. It deliberately
// doesn't require the binaries to exist yet since fetch-toolchain might still
// have to download them.
func (c *Config) Validate() error {
	if c.CC == "" {
		return eris.New("cc is not set")
	}
	if !filepath.IsAbs(c.CC) {
		return eris.Errorf("cc must be an absolute path, got %s", c.CC)
	}

	if c.AR == "" {
		return eris.New("ar is not set")
	}
	if !filepath.IsAbs(c.AR) {
		return eris.Errorf("ar must be an absolute path, got %s", c.AR)
	}

	return nil
}

// CheckTools verifies that the configured binaries actually exist. Called
// right before the first recipe runs so a missing toolchain fails fast
// instead of halfway through the graph.
func (c *Config) CheckTools() error {
	for _, tool := range []string{c.CC, c.AR} {
		info, err := os.Stat(tool)
		if err != nil {
			return eris.Wrapf(err, "toolchain binary %s is missing", tool)
		}

		if info.IsDir() {
			return eris.Errorf("toolchain binary %s is a directory", tool)
		}
	}

	return nil
}
