package roddom

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// StealthLevel controls the browser automation mode.
type StealthLevel int

const (
	LevelHeadless StealthLevel = 1 // headless + stealth
	LevelHeadful  StealthLevel = 2 // visible window + stealth
)

// ParseStealth maps a configuration name to a level.
func ParseStealth(s string) (StealthLevel, error) {
	switch s {
	case "", "headless":
		return LevelHeadless, nil
	case "headful":
		return LevelHeadful, nil
	}
	return 0, fmt.Errorf("roddom: unknown stealth mode %q", s)
}

// BrowserConfig configures Launch.
type BrowserConfig struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty launches a local Chrome.
	RemoteURL   string
	Bin         string
	UserDataDir string
	Stealth     StealthLevel
	Width       int
	Height      int
	Logger      *slog.Logger
}

func (c *BrowserConfig) defaults() {
	if c.Stealth == 0 {
		c.Stealth = LevelHeadless
	}
	if c.Width <= 0 {
		c.Width = 1280
	}
	if c.Height <= 0 {
		c.Height = 800
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Browser is a connected Chrome.
type Browser struct {
	cfg  BrowserConfig
	b    *rod.Browser
	lnch *launcher.Launcher
}

// Launch starts Chrome (or connects to cfg.RemoteURL).
func Launch(cfg BrowserConfig) (*Browser, error) {
	cfg.defaults()
	log := cfg.Logger

	var wsURL string
	var lnch *launcher.Launcher
	if cfg.RemoteURL != "" {
		wsURL = cfg.RemoteURL
		log.Info("roddom: connecting to remote browser", "url", wsURL)
	} else {
		l := launcher.New().Headless(cfg.Stealth != LevelHeadful)
		if cfg.Bin != "" {
			l = l.Bin(cfg.Bin)
		}
		if cfg.UserDataDir != "" {
			// A fixed profile keeps localStorage between runs.
			l = l.UserDataDir(cfg.UserDataDir)
		}
		l = l.Set("disable-blink-features", "AutomationControlled").
			Set("window-size", fmt.Sprintf("%d,%d", cfg.Width, cfg.Height))

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("roddom: launch: %w", err)
		}
		wsURL = u
		lnch = l
		log.Info("roddom: launched local chrome", "url", wsURL, "stealth", cfg.Stealth)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		if lnch != nil {
			lnch.Cleanup()
		}
		return nil, fmt.Errorf("roddom: connect: %w", err)
	}
	return &Browser{cfg: cfg, b: b, lnch: lnch}, nil
}

// Open creates a stealth tab, sizes its viewport and navigates it to
// pageURL within timeout.
func (b *Browser) Open(ctx context.Context, pageURL string, timeout time.Duration) (*rod.Page, error) {
	page, err := stealth.Page(b.b)
	if err != nil {
		return nil, fmt.Errorf("roddom: create tab: %w", err)
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             b.cfg.Width,
		Height:            b.cfg.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		b.cfg.Logger.Warn("roddom: set viewport", "error", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("roddom: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		b.cfg.Logger.Warn("roddom: wait load timeout", "url", pageURL, "error", err)
	}
	return page, nil
}

// Close shuts the browser down.
func (b *Browser) Close() error {
	err := b.b.Close()
	if b.lnch != nil {
		b.lnch.Cleanup()
	}
	return err
}
