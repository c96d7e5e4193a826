package evidence

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/anthonygricco/openevidence-cli/internal/browser"
	"github.com/anthonygricco/openevidence-cli/internal/session"
)

// Setup runs the interactive login: a visible browser is opened, the login
// flow is started, and waitForUser blocks until the user confirms they
// finished signing in (Apple Sign-In happens in the real window, never
// scripted). The resulting cookies become the persisted session.
func (c *Client) Setup(ctx context.Context, waitForUser func(ctx context.Context) error) (session.Status, error) {
	b, err := browser.New(ctx, c.cfg, browser.Options{
		Headful:    true,
		ProfileDir: c.cfg.Paths.ProfileDir(),
	}, c.log)
	if err != nil {
		return session.Status{}, err
	}
	defer c.closeBrowser(ctx, b)

	page, err := b.NewSession(ctx)
	if err != nil {
		return session.Status{}, err
	}
	defer page.Close()

	return c.runSetup(ctx, page, waitForUser)
}

func (c *Client) runSetup(ctx context.Context, page Page, waitForUser func(ctx context.Context) error) (session.Status, error) {
	resolver := browser.NewResolver(page, c.log)
	dismisser := browser.NewDismisser(page, c.cfg.Selectors.PopupDismiss, c.log)

	if err := page.Navigate(ctx, c.cfg.Site.BaseURL); err != nil {
		return session.Status{}, err
	}
	dismisser.Sweep(ctx)

	// Start the login flow. A missing login button usually means the profile
	// is already signed in, so it is not fatal.
	loginLoc, err := resolver.Resolve(ctx, c.cfg.Selectors.LoginButton, c.cfg.Browser.ElementTimeout)
	switch {
	case err == nil:
		if err := page.Click(ctx, loginLoc); err != nil {
			c.log.Warn("Could not click login button", zap.Error(err))
		} else if appleLoc, ok := resolver.ResolveAny(ctx, c.cfg.Selectors.AppleLogin); ok {
			// Best effort: clicking the provider saves the user one step.
			if err := page.Click(ctx, appleLoc); err != nil {
				c.log.Debug("Apple login click failed", zap.Error(err))
			}
		}
	case errors.Is(err, browser.ErrNotFound):
		c.log.Info("No login button found, the profile may already be signed in")
	default:
		return session.Status{}, err
	}

	// The user completes Apple Sign-In in the visible window.
	loginCtx, cancel := context.WithTimeout(ctx, c.cfg.Browser.LoginTimeout)
	defer cancel()
	if err := waitForUser(loginCtx); err != nil {
		return session.Status{}, err
	}

	if !c.verifyLoggedIn(ctx, resolver) {
		// The indicator lists chase a moving UI; trust the user's confirmation
		// over them.
		c.log.Warn("Could not verify logged-in indicators, assuming the login succeeded")
	}

	cookies, err := page.Cookies(ctx)
	if err != nil {
		return session.Status{}, err
	}
	if err := c.store.SaveCookies(cookies); err != nil {
		return session.Status{}, err
	}

	status := session.Status{
		Authenticated: true,
		LastAuth:      time.Now().UTC(),
		Provider:      "apple",
	}
	if err := c.store.SaveStatus(status); err != nil {
		return session.Status{}, err
	}

	c.log.Info("Authentication saved", zap.Int("cookies", len(cookies)))
	return status, nil
}

func (c *Client) verifyLoggedIn(ctx context.Context, resolver *browser.Resolver) bool {
	if _, err := resolver.Resolve(ctx, c.cfg.Selectors.LoggedIn, c.cfg.Browser.ElementTimeout); err == nil {
		return true
	}
	_, ok := resolver.ResolveAny(ctx, c.cfg.Selectors.UserProfile)
	return ok
}

// Validate checks the saved session against the live site without user
// interaction: restore cookies headlessly and look for a logged-in indicator
// or a usable chat input.
func (c *Client) Validate(ctx context.Context) (bool, error) {
	if !c.store.HasState() {
		return false, nil
	}

	b, err := browser.New(ctx, c.cfg, browser.Options{
		ProfileDir: c.cfg.Paths.ProfileDir(),
	}, c.log)
	if err != nil {
		return false, err
	}
	defer c.closeBrowser(ctx, b)

	page, err := b.NewSession(ctx)
	if err != nil {
		return false, err
	}
	defer page.Close()

	state, err := c.store.Load()
	if err != nil {
		return false, err
	}
	if err := page.SetCookies(ctx, state.Cookies); err != nil {
		return false, err
	}

	return c.runValidate(ctx, page)
}

func (c *Client) runValidate(ctx context.Context, page Page) (bool, error) {
	resolver := browser.NewResolver(page, c.log)
	dismisser := browser.NewDismisser(page, c.cfg.Selectors.PopupDismiss, c.log)

	if err := page.Navigate(ctx, c.cfg.Site.BaseURL); err != nil {
		return false, err
	}
	dismisser.Sweep(ctx)

	if _, ok := resolver.ResolveAny(ctx, c.cfg.Selectors.LoggedIn); ok {
		return true, nil
	}
	// A usable chat input means the session works even when the indicator
	// widgets moved.
	_, err := resolver.Resolve(ctx, c.cfg.Selectors.QueryInput, c.cfg.Browser.ElementTimeout)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, browser.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// Status reports the stored auth record and whether a cookie state exists.
func (c *Client) Status() (session.Status, bool, error) {
	status, err := c.store.LoadStatus()
	if err != nil {
		return session.Status{}, false, err
	}
	return status, c.store.HasState(), nil
}

// Clear drops all persisted session state.
func (c *Client) Clear() error {
	return c.store.Clear()
}
