// Package browser drives a real Chrome tab through the DevTools protocol and
// adapts it to the tracker's Page and the identity Storage.
package browser

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/intent-sensor/internal/config"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Browser is a connected Chrome instance.
type Browser struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	logger   *slog.Logger
}

// Launch connects to the browser at cfg.ControlURL, or starts one.
func Launch(ctx context.Context, cfg config.BrowserConfig, logger *slog.Logger) (*Browser, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "browser")

	b := &Browser{logger: logger}
	controlURL := cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(cfg.Headless)
		if cfg.Bin != "" {
			l = l.Bin(cfg.Bin)
		}
		url, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		b.launcher = l
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		if b.launcher != nil {
			b.launcher.Kill()
		}
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	b.browser = browser

	logger.Info("browser connected", "launched", b.launcher != nil, "headless", cfg.Headless)
	return b, nil
}

// Open creates a tab at url and waits for it to load.
func (b *Browser) Open(ctx context.Context, url string) (*rod.Page, error) {
	page, err := b.browser.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, fmt.Errorf("open page %s: %w", url, err)
	}
	if err := page.Context(ctx).WaitLoad(); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("wait for %s: %w", url, err)
	}
	b.logger.Info("page opened", "url", url)
	return page, nil
}

// Close disconnects and, when it was started here, stops the browser.
func (b *Browser) Close() error {
	err := b.browser.Close()
	if b.launcher != nil {
		b.launcher.Kill()
	}
	if err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}
