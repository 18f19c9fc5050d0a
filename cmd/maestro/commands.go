package main

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/guseggert/maestro/download"
	"github.com/guseggert/maestro/endpoint"
	"github.com/guseggert/maestro/internal/fakebrowser"
	"github.com/guseggert/maestro/protocol/page"
	"github.com/urfave/cli/v2"
)

func pdfCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "pdf",
		Usage: "render a URL as a PDF document",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "url",
				Usage:    "The URL to render.",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "out",
				Usage: "Where to write the PDF.",
				Value: "out.pdf",
			},
			&cli.DurationFlag{
				Name:  "settle",
				Usage: "How long to wait after the load event before printing.",
			},
			&cli.BoolFlag{
				Name:  "landscape",
				Usage: "Print in landscape orientation.",
			},
			&cli.BoolFlag{
				Name:  "background",
				Usage: "Print background graphics.",
			},
		},
		Action: func(c *cli.Context) error {
			ctx := c.Context
			pdfCfg := e.cfg.PDF
			if c.IsSet("settle") {
				pdfCfg.Settle = c.Duration("settle")
			}
			if c.IsSet("landscape") {
				pdfCfg.Landscape = c.Bool("landscape")
			}
			if c.IsSet("background") {
				pdfCfg.PrintBackground = c.Bool("background")
			}

			b, err := e.openBrowser(ctx)
			if err != nil {
				return fmt.Errorf("opening browser: %w", err)
			}
			defer closeBrowser(b)

			p, err := b.NewPage(ctx)
			if err != nil {
				return fmt.Errorf("opening page: %w", err)
			}
			if err := p.Enable(ctx); err != nil {
				return err
			}
			if err := p.SetLifecycleEventsEnabled(ctx, true); err != nil {
				return err
			}

			waitLoad := p.WaitForLifecycleEvent("load")
			if _, err := p.Navigate(ctx, c.String("url")); err != nil {
				return err
			}
			if _, err := waitLoad(ctx); err != nil {
				return fmt.Errorf("waiting for page load: %w", err)
			}
			if pdfCfg.Settle > 0 {
				select {
				case <-time.After(pdfCfg.Settle):
				case <-ctx.Done():
					return ctx.Err()
				}
			}

			pdf, err := p.PrintToPDF(ctx, page.PrintToPDFCommand{
				Landscape:       pdfCfg.Landscape,
				PrintBackground: pdfCfg.PrintBackground,
				Scale:           pdfCfg.Scale,
			})
			if err != nil {
				return fmt.Errorf("printing: %w", err)
			}
			out := c.String("out")
			if err := os.WriteFile(out, pdf, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", out, err)
			}
			writeOut(c, "wrote %d bytes to %s\n", len(pdf), out)
			return nil
		},
	}
}

func versionCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "print the version of the browser",
		Action: func(c *cli.Context) error {
			b, err := e.openBrowser(c.Context)
			if err != nil {
				return fmt.Errorf("opening browser: %w", err)
			}
			defer closeBrowser(b)

			v, err := b.Version(c.Context)
			if err != nil {
				return err
			}
			writeOut(c, "Product: %s\nProtocol: %s\nRevision: %s\nUser-Agent: %s\nJS: %s\n",
				v.Product, v.ProtocolVersion, v.Revision, v.UserAgent, v.JSVersion)
			return nil
		},
	}
}

func endpointCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "endpoint",
		Usage: "launch a browser, print its WebSocket endpoint and keep it running until interrupted",
		Action: func(c *cli.Context) error {
			b, err := e.openBrowser(c.Context)
			if err != nil {
				return fmt.Errorf("opening browser: %w", err)
			}
			defer closeBrowser(b)

			writeOut(c, "%s\n", b.Session().URL())
			<-c.Context.Done()
			return nil
		},
	}
}

func targetsCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "targets",
		Usage: "list the targets of the browser",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "http",
				Usage: "List the targets over the HTTP discovery endpoint at this address instead of the protocol.",
			},
		},
		Action: func(c *cli.Context) error {
			if addr := c.String("http"); addr != "" {
				targets, err := endpoint.NewClient(addr, endpoint.WithLogger(e.logger)).Targets(c.Context)
				if err != nil {
					return err
				}
				for _, t := range targets {
					writeOut(c, "%s\t%s\t%s\n", t.ID, t.Type, t.URL)
				}
				return nil
			}

			b, err := e.openBrowser(c.Context)
			if err != nil {
				return fmt.Errorf("opening browser: %w", err)
			}
			defer closeBrowser(b)

			infos, err := b.Targets(c.Context)
			if err != nil {
				return err
			}
			for _, info := range infos {
				writeOut(c, "%s\t%s\t%s\n", info.TargetID, info.Type, info.URL)
			}
			return nil
		},
	}
}

func downloadURLCommand() *cli.Command {
	return &cli.Command{
		Name:  "download-url",
		Usage: "print the download URL of a browser build",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "browser",
				Usage: "One of [chrome,chrome-headless-shell,chromedriver,chromium,firefox].",
				Value: string(download.ChromeHeadlessShell),
			},
			&cli.StringFlag{
				Name:     "build-id",
				Usage:    "The build id, e.g. 124.0.6367.60, a chromium revision, or stable_136.0 for firefox.",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "platform",
				Usage: "One of [linux,linux_arm,mac,mac_arm,win32,win64]. Defaults to the current platform.",
			},
		},
		Action: func(c *cli.Context) error {
			platform := download.Platform(c.String("platform"))
			if platform == "" {
				p, err := download.DetectPlatform(runtime.GOOS, runtime.GOARCH)
				if err != nil {
					return err
				}
				platform = p
			}
			u, err := download.URL(download.Browser(c.String("browser")), platform, c.String("build-id"))
			if err != nil {
				return err
			}
			writeOut(c, "%s\n", u)
			return nil
		},
	}
}

// fakeBrowserCommand serves a fake browser for trying out the CLI and for tests.
// It accepts the flags the launcher passes to a real browser.
func fakeBrowserCommand() *cli.Command {
	return &cli.Command{
		Name:   "fake-browser",
		Hidden: true,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "headless"},
			&cli.IntFlag{Name: "remote-debugging-port"},
			&cli.StringFlag{Name: "user-data-dir"},
		},
		Action: func(c *cli.Context) error {
			var opts []fakebrowser.Option
			if port := c.Int("remote-debugging-port"); port != 0 {
				opts = append(opts, fakebrowser.WithListenAddr(fmt.Sprintf("127.0.0.1:%d", port)))
			}
			return fakebrowser.Run(c.Context, c.App.ErrWriter, opts...)
		},
	}
}
