package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/guseggert/maestro/browser"
	"github.com/guseggert/maestro/config"
	"github.com/guseggert/maestro/endpoint"
	"github.com/guseggert/maestro/internal/tracing"
	"github.com/guseggert/maestro/launcher"
	"github.com/guseggert/maestro/session"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const defaultConfigFile = "maestro.yaml"

// env is the state shared by all commands, built from the global flags and the config file.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	tracer *tracing.Provider
}

func newApp() *cli.App {
	e := &env{}
	return &cli.App{
		Name:    "maestro",
		Usage:   "drive a headless browser over its remote-debugging protocol",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path of the YAML config file.",
				Value:   defaultConfigFile,
				EnvVars: []string{"MAESTRO_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "browser",
				Usage:   "The browser executable to launch.",
				EnvVars: []string{launcher.EnvBrowser},
			},
			&cli.DurationFlag{
				Name:  "launch-timeout",
				Usage: "How long to wait for the browser to announce its endpoint. 0 waits forever.",
				Value: launcher.DefaultTimeout,
			},
			&cli.StringFlag{
				Name:    "remote",
				Usage:   "Connect to a running browser instead of launching one. Either its ws:// endpoint or its http:// discovery address.",
				EnvVars: []string{"MAESTRO_REMOTE"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "One of [debug,info,warn,error].",
			},
			&cli.BoolFlag{
				Name:  "trace",
				Usage: "Print a span for every protocol command to stderr.",
			},
		},
		Before: e.setup,
		After:  e.teardown,
		Commands: []*cli.Command{
			pdfCommand(e),
			versionCommand(e),
			endpointCommand(e),
			targetsCommand(e),
			downloadURLCommand(),
			fakeBrowserCommand(),
		},
	}
}

func (e *env) setup(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"), !c.IsSet("config"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if c.IsSet("browser") {
		cfg.Browser.Executable = c.String("browser")
	}
	if c.IsSet("launch-timeout") {
		cfg.Browser.LaunchTimeout = c.Duration("launch-timeout")
	}
	if c.IsSet("remote") {
		cfg.Browser.Remote = c.String("remote")
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	e.cfg = cfg

	logger, err := buildLogger(cfg.Log)
	if err != nil {
		return err
	}
	e.logger = logger

	if c.Bool("trace") {
		p, err := tracing.New(c.App.ErrWriter, "maestro", version)
		if err != nil {
			return err
		}
		e.tracer = p
	}
	return nil
}

func (e *env) teardown(c *cli.Context) error {
	if e.logger != nil {
		e.logger.Sync()
	}
	if e.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return e.tracer.Shutdown(ctx)
	}
	return nil
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	zapCfg := zap.NewProductionConfig()
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}

func (e *env) browserOptions() []browser.Option {
	opts := []browser.Option{browser.WithLogger(e.logger)}
	if e.tracer != nil {
		opts = append(opts, browser.WithSessionOptions(session.WithTracerProvider(e.tracer.TracerProvider())))
	}
	return opts
}

// openBrowser connects to the remote browser if one is configured and launches one otherwise.
func (e *env) openBrowser(ctx context.Context) (*browser.Browser, error) {
	if remote := e.cfg.Browser.Remote; remote != "" {
		url := remote
		if strings.HasPrefix(remote, "http://") || strings.HasPrefix(remote, "https://") {
			wsURL, err := endpoint.NewClient(remote, endpoint.WithLogger(e.logger)).WebSocketURL(ctx)
			if err != nil {
				return nil, fmt.Errorf("discovering WebSocket URL: %w", err)
			}
			url = wsURL
		}
		return browser.Connect(ctx, url, e.browserOptions()...)
	}

	path, err := launcher.ResolveExecutable(e.cfg.Browser.Executable)
	if err != nil {
		return nil, err
	}
	launcherOpts := append(e.cfg.LauncherOptions(), launcher.WithExecutable(path))
	return browser.New(ctx, append(e.browserOptions(), browser.WithLauncherOptions(launcherOpts...))...)
}

func closeBrowser(b *browser.Browser) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b.Close(ctx)
}

func writeOut(c *cli.Context, format string, args ...any) {
	fmt.Fprintf(c.App.Writer, format, args...)
}
