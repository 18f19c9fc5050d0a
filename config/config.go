// Package config loads the optional YAML configuration file of the maestro CLI.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/guseggert/maestro/launcher"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Browser BrowserConfig `yaml:"browser"`
	PDF     PDFConfig     `yaml:"pdf"`
	Log     LogConfig     `yaml:"log"`
}

type BrowserConfig struct {
	// Executable is the browser binary. When empty it is resolved with launcher.ResolveExecutable.
	Executable    string        `yaml:"executable"`
	Args          []string      `yaml:"args"`
	Env           []string      `yaml:"env"`
	UserDataDir   string        `yaml:"user_data_dir"`
	LaunchTimeout time.Duration `yaml:"launch_timeout"`
	GracePeriod   time.Duration `yaml:"grace_period"`
	// Remote is the WebSocket URL of an already running browser. Nothing is launched when it is set.
	Remote string `yaml:"remote"`
}

type PDFConfig struct {
	Landscape       bool          `yaml:"landscape"`
	PrintBackground bool          `yaml:"print_background"`
	Scale           float64       `yaml:"scale"`
	Settle          time.Duration `yaml:"settle"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func Default() *Config {
	return &Config{
		Browser: BrowserConfig{
			LaunchTimeout: launcher.DefaultTimeout,
			GracePeriod:   launcher.DefaultGracePeriod,
		},
		PDF: PDFConfig{
			Scale: 1,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the file at path on top of the defaults. A missing file is not an error when
// optional is set.
func Load(path string, optional bool) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && optional {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Browser.LaunchTimeout < 0 {
		return errors.New("browser.launch_timeout must not be negative")
	}
	if c.Browser.GracePeriod < 0 {
		return errors.New("browser.grace_period must not be negative")
	}
	if c.PDF.Scale < 0.1 || c.PDF.Scale > 2 {
		return fmt.Errorf("pdf.scale must be between 0.1 and 2, got %v", c.PDF.Scale)
	}
	return nil
}

// LauncherOptions translates the browser section into launcher options.
func (c *Config) LauncherOptions() []launcher.Option {
	b := c.Browser
	opts := []launcher.Option{
		launcher.WithTimeout(b.LaunchTimeout),
		launcher.WithGracePeriod(b.GracePeriod),
	}
	if b.Executable != "" {
		opts = append(opts, launcher.WithExecutable(b.Executable))
	}
	if len(b.Args) > 0 {
		opts = append(opts, launcher.WithArgs(b.Args...))
	}
	if len(b.Env) > 0 {
		opts = append(opts, launcher.WithEnv(b.Env...))
	}
	if b.UserDataDir != "" {
		opts = append(opts, launcher.WithUserDataDir(b.UserDataDir))
	}
	return opts
}
