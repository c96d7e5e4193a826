// Package evidence orchestrates the site workflows: submitting a question and
// waiting for the answer to settle, and the interactive authentication
// lifecycle. It owns no browser mechanics; those live in internal/browser.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/anthonygricco/openevidence-cli/internal/browser"
	"github.com/anthonygricco/openevidence-cli/internal/config"
	"github.com/anthonygricco/openevidence-cli/internal/session"
	"github.com/anthonygricco/openevidence-cli/internal/stabilize"
)

// ErrNotAuthenticated is returned when no valid saved session exists. The
// command layer turns it into a hint to run `auth setup`.
var ErrNotAuthenticated = errors.New("not authenticated")

// Page is the surface of a browser tab the workflows drive. Satisfied by
// *browser.Session; tests substitute a scripted fake.
type Page interface {
	Navigate(ctx context.Context, url string) error
	IsVisible(ctx context.Context, loc string) (bool, error)
	Click(ctx context.Context, loc string) error
	Fill(ctx context.Context, loc, value string) error
	TypeHuman(ctx context.Context, loc, text string) error
	PressEnter(ctx context.Context) error
	Text(ctx context.Context, loc string) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	ImagesIn(ctx context.Context, loc string) ([]browser.Image, error)
	Cookies(ctx context.Context) ([]*network.Cookie, error)
	SetCookies(ctx context.Context, cookies []*network.CookieParam) error
	URL(ctx context.Context) (string, error)
}

// Client runs the site workflows against a configured store and browser.
type Client struct {
	cfg   *config.Config
	store *session.Store
	log   *zap.Logger
}

// NewClient wires a client from its dependencies.
func NewClient(cfg *config.Config, store *session.Store, logger *zap.Logger) *Client {
	return &Client{
		cfg:   cfg,
		store: store,
		log:   logger.Named("evidence"),
	}
}

// AskOptions captures one question submission.
type AskOptions struct {
	Question    string
	Mode        config.Mode
	Stream      io.Writer // non-nil enables incremental output
	SaveImages  bool
	Screenshot  bool
	OutputDir   string // empty means a fresh run directory under responses/
	ShowBrowser bool
}

// AskResult is the tagged outcome of one question.
type AskResult struct {
	Status         stabilize.Status
	Answer         string
	Partial        bool
	ScreenshotPath string
	ImagePaths     []string
	Elapsed        time.Duration
}

// Ask submits the question and waits for the rendered answer to settle.
// The browser is acquired for this call only and released on every exit path.
func (c *Client) Ask(ctx context.Context, opts AskOptions) (*AskResult, error) {
	status, err := c.store.LoadStatus()
	if err != nil {
		return nil, err
	}
	if !status.Authenticated || !c.store.HasState() {
		return nil, ErrNotAuthenticated
	}

	b, err := browser.New(ctx, c.cfg, browser.Options{
		Headful:    opts.ShowBrowser,
		ProfileDir: c.cfg.Paths.ProfileDir(),
	}, c.log)
	if err != nil {
		return nil, err
	}
	defer c.closeBrowser(ctx, b)

	page, err := b.NewSession(ctx)
	if err != nil {
		return nil, err
	}
	defer page.Close()

	state, err := c.store.Load()
	if err != nil {
		return nil, err
	}
	if err := page.SetCookies(ctx, state.Cookies); err != nil {
		return nil, err
	}

	return c.runAsk(ctx, page, opts)
}

// runAsk is the flow body, separated from browser acquisition so it can be
// exercised against a fake page.
func (c *Client) runAsk(ctx context.Context, page Page, opts AskOptions) (*AskResult, error) {
	start := time.Now()
	mode := opts.Mode
	log := c.log.With(zap.String("mode", mode.Name))

	resolver := browser.NewResolver(page, c.log)
	dismisser := browser.NewDismisser(page, c.cfg.Selectors.PopupDismiss, c.log)

	if err := page.Navigate(ctx, c.cfg.Site.BaseURL); err != nil {
		return nil, err
	}
	if err := randomDelay(ctx, mode.AfterLoadMin, mode.AfterLoadMax); err != nil {
		return nil, err
	}

	if n := dismisser.Sweep(ctx); n > 0 {
		if err := randomDelay(ctx, mode.AfterPopupMin, mode.AfterPopupMax); err != nil {
			return nil, err
		}
	}

	inputLoc, err := resolver.Resolve(ctx, c.cfg.Selectors.QueryInput, c.cfg.Browser.ElementTimeout)
	if err != nil {
		if errors.Is(err, browser.ErrNotFound) {
			return nil, fmt.Errorf("chat input not found, the page layout may have changed (retry with --show-browser to inspect): %w", err)
		}
		return nil, err
	}

	// Normal mode types like a person; the accelerated modes set the value in
	// one shot through the native setter.
	if mode.Name == "NORMAL" {
		err = page.TypeHuman(ctx, inputLoc, opts.Question)
	} else {
		err = page.Fill(ctx, inputLoc, opts.Question)
	}
	if err != nil {
		return nil, err
	}

	if loc, ok := resolver.ResolveAny(ctx, c.cfg.Selectors.SubmitButton); ok {
		if err := page.Click(ctx, loc); err != nil {
			log.Debug("Submit click failed, falling back to Enter", zap.Error(err))
			if err := page.PressEnter(ctx); err != nil {
				return nil, err
			}
		}
	} else {
		if err := page.PressEnter(ctx); err != nil {
			return nil, err
		}
	}

	if err := randomDelay(ctx, mode.AfterSubmitMin, mode.AfterSubmitMax); err != nil {
		return nil, err
	}
	if n := dismisser.Sweep(ctx); n > 0 {
		if err := randomDelay(ctx, mode.AfterPopupMin, mode.AfterPopupMax); err != nil {
			return nil, err
		}
	}

	pollInterval := mode.PollInterval
	if opts.Stream != nil {
		pollInterval = c.cfg.Timing.StreamPollInterval
	}

	res, err := stabilize.New(c.log).Wait(ctx, newAnswerSource(page, c.cfg.Selectors, c.log), stabilize.Options{
		PollInterval: pollInterval,
		Deadline:     c.cfg.Browser.QueryTimeout,
		StableChecks: mode.StableChecks,
		Stream:       opts.Stream,
		OnPoll:       func(pollCtx context.Context) { dismisser.Sweep(pollCtx) },
	})
	if err != nil {
		return nil, err
	}

	result := &AskResult{
		Status:  res.Status,
		Answer:  res.Text,
		Partial: res.Partial,
		Elapsed: time.Since(start),
	}
	log.Info("Question finished",
		zap.Stringer("status", res.Status),
		zap.Int("polls", res.Polls),
		zap.Duration("elapsed", result.Elapsed))

	// A timed-out stream with partial text still has an answer on screen
	// worth capturing.
	gotAnswer := res.Status == stabilize.StatusDone ||
		(res.Status == stabilize.StatusTimeout && result.Partial)
	if gotAnswer && (opts.Screenshot || opts.SaveImages) {
		c.saveArtifacts(ctx, page, opts, result)
	}
	return result, nil
}

// saveArtifacts writes the screenshot and figures. Failures here never fail
// the ask: the answer is already in hand.
func (c *Client) saveArtifacts(ctx context.Context, page Page, opts AskOptions, result *AskResult) {
	outDir := opts.OutputDir
	if outDir == "" {
		outDir = filepath.Join(c.cfg.Paths.ResponsesDir(), uuid.New().String())
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		c.log.Warn("Could not create output directory", zap.String("dir", outDir), zap.Error(err))
		return
	}

	if opts.Screenshot {
		if buf, err := page.Screenshot(ctx); err != nil {
			c.log.Warn("Screenshot failed", zap.Error(err))
		} else {
			path := filepath.Join(outDir, "response_screenshot.png")
			if err := os.WriteFile(path, buf, 0o644); err != nil {
				c.log.Warn("Could not write screenshot", zap.Error(err))
			} else {
				result.ScreenshotPath = path
			}
		}
	}

	if opts.SaveImages {
		paths, err := saveImages(ctx, page, outDir, c.log)
		if err != nil {
			c.log.Warn("Image extraction failed", zap.Error(err))
		}
		result.ImagePaths = paths
	}
}

func (c *Client) closeBrowser(ctx context.Context, b *browser.Browser) {
	// Cleanup must run even when the operation context is already dead.
	closeCtx, cancel := context.WithTimeout(browser.Detach(ctx), 10*time.Second)
	defer cancel()
	if err := b.Close(closeCtx); err != nil {
		c.log.Warn("Browser shutdown failed", zap.Error(err))
	}
}

// randomDelay sleeps a uniform duration in [min, max], honoring ctx.
func randomDelay(ctx context.Context, min, max time.Duration) error {
	d := min
	if max > min {
		d += time.Duration(rand.Int63n(int64(max - min + 1)))
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
