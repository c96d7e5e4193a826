package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/anthonygricco/openevidence-cli/internal/config"
)

// Session is one tab. All probes run through the injected locator finder, so
// every method accepts the extended locator syntax, not just plain CSS.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	cfg    *config.Config

	typist *typist

	onClose func()

	mu       sync.Mutex
	isClosed bool
}

func newSession(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, logger *zap.Logger, onClose func()) *Session {
	sessionID := uuid.New().String()
	return &Session{
		id:      sessionID,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.With(zap.String("session_id", sessionID)),
		cfg:     cfg,
		typist:  newTypist(cfg.Browser.TypingWPMMin, cfg.Browser.TypingWPMMax),
		onClose: onClose,
	}
}

// ID returns the unique identifier for the session.
func (s *Session) ID() string {
	return s.id
}

// Close tears the tab down. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	s.mu.Unlock()

	s.logger.Debug("Closing browser session")
	if s.cancel != nil {
		s.cancel()
	}
	if s.onClose != nil {
		s.onClose()
	}
	return nil
}

// runActions executes chromedp actions, respecting both the session lifetime
// (s.ctx) and the incoming operation context (ctx).
func (s *Session) runActions(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Navigate loads the URL and waits for the document to be ready.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating", zap.String("url", url))

	navTimeout := s.cfg.Browser.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = 30 * time.Second
	}
	navCtx, cancel := context.WithTimeout(ctx, navTimeout)
	defer cancel()

	err := s.runActions(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		if navCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("navigation timed out after %s: %w", navTimeout, err)
		}
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

// Evaluate runs a snippet of JavaScript in the current document and optionally
// unmarshals the result into res.
func (s *Session) Evaluate(ctx context.Context, script string, res any) error {
	return s.runActions(ctx, chromedp.Evaluate(script, res))
}

// IsVisible reports whether any element matching the locator is rendered.
func (s *Session) IsVisible(ctx context.Context, loc string) (bool, error) {
	var visible bool
	if err := s.Evaluate(ctx, visibleScript(loc), &visible); err != nil {
		return false, fmt.Errorf("visibility probe failed for %q: %w", loc, err)
	}
	return visible, nil
}

// Click clicks the first visible element matching the locator. Returns
// ErrNotFound when nothing matches.
func (s *Session) Click(ctx context.Context, loc string) error {
	var clicked bool
	if err := s.Evaluate(ctx, clickScript(loc), &clicked); err != nil {
		return fmt.Errorf("click failed for %q: %w", loc, err)
	}
	if !clicked {
		return fmt.Errorf("click %q: %w", loc, ErrNotFound)
	}
	return nil
}

// Text returns the rendered text of the first visible match, or ErrNotFound.
func (s *Session) Text(ctx context.Context, loc string) (string, error) {
	var text *string
	if err := s.Evaluate(ctx, textScript(loc), &text); err != nil {
		return "", fmt.Errorf("text probe failed for %q: %w", loc, err)
	}
	if text == nil {
		return "", fmt.Errorf("text %q: %w", loc, ErrNotFound)
	}
	return *text, nil
}

// Fill sets the value of the matched input in one shot, bypassing key events.
func (s *Session) Fill(ctx context.Context, loc, value string) error {
	var ok bool
	if err := s.Evaluate(ctx, fillScript(loc, value), &ok); err != nil {
		return fmt.Errorf("fill failed for %q: %w", loc, err)
	}
	if !ok {
		return fmt.Errorf("fill %q: %w", loc, ErrNotFound)
	}
	return nil
}

// TypeHuman focuses the matched input and types the text key by key at a
// human words-per-minute pace.
func (s *Session) TypeHuman(ctx context.Context, loc, text string) error {
	var focused bool
	if err := s.Evaluate(ctx, focusScript(loc), &focused); err != nil {
		return fmt.Errorf("focus failed for %q: %w", loc, err)
	}
	if !focused {
		return fmt.Errorf("type %q: %w", loc, ErrNotFound)
	}

	for _, r := range text {
		if err := s.runActions(ctx,
			chromedp.SendKeys("document.activeElement", string(r), chromedp.ByJSPath),
			chromedp.Sleep(s.typist.delay(r)),
		); err != nil {
			return fmt.Errorf("typing failed: %w", err)
		}
	}
	return nil
}

// PressEnter sends an Enter key to the focused element.
func (s *Session) PressEnter(ctx context.Context) error {
	err := s.runActions(ctx,
		chromedp.SendKeys("document.activeElement", kb.Enter, chromedp.ByJSPath))
	if err != nil {
		return fmt.Errorf("enter key failed: %w", err)
	}
	return nil
}

// Screenshot captures the full page as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.runActions(ctx, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return buf, nil
}

// Image is one <img> found inside a response region.
type Image struct {
	Src string `json:"src"`
	Alt string `json:"alt"`
}

// ImagesIn lists the images under the first visible element matching the
// locator.
func (s *Session) ImagesIn(ctx context.Context, loc string) ([]Image, error) {
	script := buildProbe(loc,
		`Array.prototype.map.call(el.querySelectorAll('img'), function(img) {
			return {src: img.src || '', alt: img.alt || ''};
		})`, "[]")

	var images []Image
	if err := s.Evaluate(ctx, script, &images); err != nil {
		return nil, fmt.Errorf("image probe failed for %q: %w", loc, err)
	}
	return images, nil
}

// Cookies captures all browser cookies via CDP.
func (s *Session) Cookies(ctx context.Context) ([]*network.Cookie, error) {
	var cookies []*network.Cookie
	err := s.runActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		cookies, err = storage.GetCookies().Do(c)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to get cookies: %w", err)
	}
	return cookies, nil
}

// SetCookies restores previously saved cookies into the browser.
func (s *Session) SetCookies(ctx context.Context, cookies []*network.CookieParam) error {
	if len(cookies) == 0 {
		return nil
	}
	err := s.runActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
		return storage.SetCookies(cookies).Do(c)
	}))
	if err != nil {
		return fmt.Errorf("failed to set cookies: %w", err)
	}
	s.logger.Debug("Restored cookies", zap.Int("count", len(cookies)))
	return nil
}

// URL returns the current document location.
func (s *Session) URL(ctx context.Context) (string, error) {
	var loc string
	if err := s.runActions(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return loc, nil
}
