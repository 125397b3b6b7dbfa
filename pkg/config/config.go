package config

import (
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/xyproto/env/v2"
	"gopkg.in/yaml.v2"
)

const (
	configDir  string = "patch-tool"
	configFile string = "config.yml"

	// EnvConfig names the environment variable that overrides the default
	// config file location.
	EnvConfig = "PATCH_TOOL_CONFIG"
)

// Symbol source selectors accepted by the symbol-source option.
const (
	SourceAuto = "auto"
	SourceTool = "tool"
	SourceELF  = "elf"
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Keywords are the lowercase name fragments that select patch targets.
	Keywords []string `yaml:"keywords"`
	// Patterns are searched for in the image and reported.
	Patterns []string `yaml:"patterns"`

	// Arch selects the stub written over each target.
	Arch string `yaml:"arch"`
	// Stubs adds or replaces architecture stubs. Values are hex strings of
	// exactly eight bytes, spaces allowed.
	Stubs map[string]string `yaml:"stubs,omitempty"`

	// SymbolSource is one of auto, tool or elf.
	SymbolSource string `yaml:"symbol-source"`
	// SymbolTool is the command line used to dump the symbol table. The
	// input path is appended as the last argument.
	SymbolTool string `yaml:"symbol-tool"`
	// ToolTimeout bounds the symbol tool invocation.
	ToolTimeout time.Duration `yaml:"tool-timeout"`

	// If AdvisoryOnly is true no output file is written when no target is
	// found.
	AdvisoryOnly bool `yaml:"advisory-only"`

	// ManualSymbols are the names printed in the manual patching guidance.
	ManualSymbols []string `yaml:"manual-symbols"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Keywords: []string{"check", "licence", "license"},
		Patterns: []string{
			"Java_com_eternal_xdsdk_SuperJNI",
			"check",
			"licence",
			"license",
			"SuperJNI",
			"Companion",
		},
		Arch:         "arm64",
		SymbolSource: SourceAuto,
		SymbolTool:   "readelf -W -s",
		ToolTimeout:  30 * time.Second,
		ManualSymbols: []string{
			"Java_com_eternal_xdsdk_SuperJNI_00024Companion_check",
			"Java_com_eternal_xdsdk_SuperJNI_00024Companion_licence",
		},
	}
}

// LoadConfig reads the configuration at path on top of the defaults. If path
// is empty the file named by $PATCH_TOOL_CONFIG is used, then the per-user
// config file; a missing per-user file is not an error.
func LoadConfig(path string) (*Config, error) {
	// env caches the environment on first use.
	env.Load()

	c := Default()
	explicit := true
	if path == "" {
		path = env.Str(EnvConfig)
	}
	if path == "" {
		explicit = false
		var err error
		path, err = GetConfigFilePath(configFile)
		if err != nil {
			return c, nil
		}
	}

	data, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return c, nil
		}
		return nil, errors.Wrap(err, "unable to read config file")
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, errors.Wrapf(err, "unable to decode config file %s", path)
	}
	return c, c.Validate()
}

// Validate checks option values that cannot be checked by the decoder.
func (c *Config) Validate() error {
	switch c.SymbolSource {
	case SourceAuto, SourceTool, SourceELF:
	default:
		return errors.Errorf("invalid symbol-source %q (want %s, %s or %s)", c.SymbolSource, SourceAuto, SourceTool, SourceELF)
	}
	if len(SplitQuotedFields(c.SymbolTool)) == 0 && c.SymbolSource == SourceTool {
		return errors.New("symbol-source is tool but symbol-tool is empty")
	}
	if c.ToolTimeout < 0 {
		return errors.Errorf("negative tool-timeout %v", c.ToolTimeout)
	}
	for i := range c.Keywords {
		c.Keywords[i] = strings.ToLower(c.Keywords[i])
	}
	return nil
}

// WriteDefaultConfig writes a commented configuration template to w.
func WriteDefaultConfig(w io.Writer) error {
	_, err := io.WriteString(w,
		`# Configuration file for patch-tool.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Lowercase fragments; a symbol whose lowercased name contains any of them is patched.
# keywords: ["check", "licence", "license"]

# Byte strings searched for and reported. They never select patch targets.
# patterns: ["Java_com_eternal_xdsdk_SuperJNI", "check", "licence", "license", "SuperJNI", "Companion"]

# Architecture of the stub written over each target: arm64, amd64, riscv64
# or a name defined under stubs.
# arch: arm64

# Extra stubs, eight bytes each.
stubs:
  # mips64le: "08 00 e0 03 01 00 02 24"

# Where symbols come from: auto (tool, then ELF tables), tool or elf.
# symbol-source: auto

# Symbol table dump command, the input path is appended.
# symbol-tool: "readelf -W -s"

# Maximum time the symbol tool may run.
# tool-timeout: 30s

# Do not write an output file when nothing was patched.
# advisory-only: false

# Symbols named in the manual patching instructions.
# manual-symbols:
#   - Java_com_eternal_xdsdk_SuperJNI_00024Companion_check
#   - Java_com_eternal_xdsdk_SuperJNI_00024Companion_licence
`)
	return err
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	if dir := env.Str("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, configDir, file), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", configDir, file), nil
}
