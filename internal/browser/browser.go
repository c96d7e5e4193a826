// Package browser owns the Chrome process and the tabs opened in it. It wraps
// chromedp with the small surface the rest of the tool needs: locator-based
// element probes, human-paced typing, cookie capture and restore, and
// screenshots.
package browser

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/anthonygricco/openevidence-cli/internal/config"
)

// Browser manages the lifecycle of the Chrome process. All session contexts
// (tabs) are derived from the single browser context, so exactly one Chrome
// runs per Browser.
type Browser struct {
	logger *zap.Logger
	cfg    *config.Config

	allocatorCancel context.CancelFunc

	// browserCtx is the first chromedp context, which owns the Chrome
	// process. Every session tab derives from it so the whole run shares one
	// process and one profile-directory lock.
	browserCtx    context.Context
	browserCancel context.CancelFunc

	// wg tracks open sessions for a graceful shutdown.
	wg sync.WaitGroup

	mu       sync.Mutex
	isClosed bool
}

// Options adjusts how the browser process is launched for one run.
type Options struct {
	// Headful forces a visible window regardless of the configured default.
	// Interactive authentication needs the user to see the page.
	Headful bool

	// ProfileDir is the persistent user-data directory. When set, Chrome keeps
	// its own cookies and local storage across runs.
	ProfileDir string
}

// New launches the Chrome process and verifies it responds before returning.
func New(ctx context.Context, cfg *config.Config, opts Options, logger *zap.Logger) (*Browser, error) {
	b := &Browser{
		logger: logger.Named("browser"),
		cfg:    cfg,
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, b.buildAllocatorOptions(opts)...)
	b.allocatorCancel = allocCancel

	// The process is allocated on the first Run of this context and lives
	// until the context is canceled in Close. Wrapping the Run in a timeout
	// context would tie the process to that timeout, so a watchdog bounds
	// the launch instead.
	b.browserCtx, b.browserCancel = chromedp.NewContext(allocCtx)
	watchdog := time.AfterFunc(30*time.Second, b.browserCancel)
	err := chromedp.Run(b.browserCtx, chromedp.Navigate("about:blank"))
	watchdog.Stop()
	if err != nil {
		b.browserCancel()
		b.allocatorCancel()
		return nil, fmt.Errorf("browser failed to start or respond: %w", err)
	}

	b.logger.Debug("Browser launched",
		zap.Bool("headful", opts.Headful),
		zap.String("profile_dir", opts.ProfileDir))
	return b, nil
}

// flagOverrides computes the flags applied on top of chromedp's defaults.
// Later flags win inside the allocator, so a false here removes a default
// (enable-automation reveals the tool; headless false shows the window).
func (b *Browser) flagOverrides(opts Options) map[string]any {
	headless := b.cfg.Browser.Headless && !opts.Headful

	flags := map[string]any{
		"enable-automation":  false,
		"headless":           headless,
		"disable-gpu":        headless,
		"disable-extensions": true,
	}
	if opts.ProfileDir != "" {
		flags["user-data-dir"] = opts.ProfileDir
	}

	// Extra arguments from config, "--flag" or "--flag=value" form.
	for _, arg := range b.cfg.Browser.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			flags[name] = parts[1]
		} else {
			flags[name] = true
		}
	}

	if runtime.GOOS == "linux" {
		flags["no-sandbox"] = true
		flags["disable-dev-shm-usage"] = true
		flags["disable-setuid-sandbox"] = true
	}
	return flags
}

func (b *Browser) buildAllocatorOptions(opts Options) []chromedp.ExecAllocatorOption {
	out := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	out = append(out,
		chromedp.UserAgent(b.cfg.Browser.UserAgent),
		chromedp.WindowSize(b.cfg.Browser.Width, b.cfg.Browser.Height),
	)
	for name, value := range b.flagOverrides(opts) {
		out = append(out, chromedp.Flag(name, value))
	}
	return out
}

// NewSession opens a new tab and returns a Session bound to it.
func (b *Browser) NewSession(ctx context.Context) (*Session, error) {
	b.mu.Lock()
	if b.isClosed {
		b.mu.Unlock()
		return nil, fmt.Errorf("browser is closed")
	}
	b.wg.Add(1)
	b.mu.Unlock()

	tabCtx, tabCancel := chromedp.NewContext(b.browserCtx)

	// Create the target and connect CDP before handing the session out.
	initCtx, cancelInit := CombineContext(tabCtx, ctx)
	defer cancelInit()
	if err := chromedp.Run(initCtx); err != nil {
		tabCancel()
		b.wg.Done()
		return nil, fmt.Errorf("failed to open browser tab: %w", err)
	}

	return newSession(tabCtx, tabCancel, b.cfg, b.logger, b.wg.Done), nil
}

// Close waits for open sessions and then terminates the browser process.
func (b *Browser) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.isClosed {
		b.mu.Unlock()
		return nil
	}
	b.isClosed = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Warn("Shutdown deadline exceeded, forcing browser termination", zap.Error(ctx.Err()))
	}

	if b.browserCtx != nil {
		// Graceful close waits for the Chrome process to exit, releasing
		// the profile-directory lock before we return.
		if err := chromedp.Cancel(b.browserCtx); err != nil {
			b.logger.Debug("Graceful browser shutdown failed", zap.Error(err))
			b.browserCancel()
		}
	}
	if b.allocatorCancel != nil {
		b.allocatorCancel()
	}
	b.logger.Debug("Browser closed")
	return nil
}
