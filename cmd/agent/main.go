package main

import (
	"context"
	"flag"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/solarbridge/solarbridge/internal/agent"
	"github.com/solarbridge/solarbridge/internal/browser"
	"github.com/solarbridge/solarbridge/internal/config"
	"github.com/solarbridge/solarbridge/internal/extract"
	"github.com/solarbridge/solarbridge/internal/publish"
	"github.com/solarbridge/solarbridge/internal/route"
	"github.com/solarbridge/solarbridge/internal/session"
)

func main() {
	configPath := flag.String("config", "", "path to config file (omit to configure from environment)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("solarbridge-agent starting", "config", *configPath)

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.Info("config loaded",
		"dashboard", cfg.Dashboard.SystemURL,
		"destination", cfg.Destination.BaseURL,
		"scrape_interval", cfg.Agent.ScrapeInterval,
		"socks_address", cfg.Routing.SocksAddress,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	destURL, err := url.Parse(cfg.Destination.BaseURL)
	if err != nil {
		slog.Error("invalid destination.base_url", "err", err)
		os.Exit(1)
	}
	router, err := route.FromConfig(cfg.Routing, destURL.Hostname())
	if err != nil {
		slog.Error("failed to build egress router", "err", err)
		os.Exit(1)
	}

	publisher := publish.New(cfg.Destination, router.Client(cfg.Destination.Timeout))
	extractor := extract.New(cfg.Dashboard.XPath)

	sessions := session.NewManager(
		cfg.Dashboard,
		cfg.Agent.SessionFreshness,
		cfg.Agent.ReloginInterval,
		func(ctx context.Context) (browser.Page, error) {
			return browser.NewChromePage(ctx, browser.Options{
				Headless: cfg.Dashboard.Headless,
				ProxyURL: cfg.Dashboard.BrowserProxyURL,
			})
		},
	)
	defer sessions.Close()

	// Config edits take effect on restart; the watcher only surfaces them.
	if *configPath != "" {
		go func() {
			if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
				slog.Info("config file changed, restart to apply", "dashboard", updated.Dashboard.SystemURL)
			}); err != nil {
				slog.Error("config watcher stopped", "err", err)
			}
		}()
	}

	runner := agent.New(cfg.Agent, sessions, extractor, publisher)
	if err := runner.Run(ctx); err != nil {
		slog.Error("agent loop ended with error", "err", err)
	}

	slog.Info("solarbridge-agent shutting down")
}
