package browser

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ErrNotFound reports that no locator in a list matched a visible element.
// Callers distinguish "the element is not there" from driver failures with
// errors.Is.
var ErrNotFound = errors.New("no matching visible element")

// Prober is the minimal page surface the resolver needs.
type Prober interface {
	IsVisible(ctx context.Context, loc string) (bool, error)
}

// Resolver probes an ordered locator list against the live DOM and returns
// the first entry with a visible match. List order is the priority: on every
// round the whole list is walked from the top, so a high-priority locator
// that appears late still wins the round it appears in.
type Resolver struct {
	log  *zap.Logger
	page Prober

	// probeInterval is the pause between rounds. Overridable in tests.
	probeInterval time.Duration
}

// NewResolver creates a resolver bound to one page.
func NewResolver(page Prober, logger *zap.Logger) *Resolver {
	return &Resolver{
		log:           logger.Named("resolver"),
		page:          page,
		probeInterval: 250 * time.Millisecond,
	}
}

// Resolve returns the first locator in the list with a visible match,
// retrying rounds until the timeout budget is spent. A probe error on one
// locator does not abort the round; the element may simply not be attached
// yet. Returns ErrNotFound when the budget runs out.
func (r *Resolver) Resolve(ctx context.Context, locators []string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		for _, loc := range locators {
			visible, err := r.page.IsVisible(ctx, loc)
			if err != nil {
				if ctx.Err() != nil {
					return "", ctx.Err()
				}
				r.log.Debug("Probe failed", zap.String("locator", loc), zap.Error(err))
				continue
			}
			if visible {
				r.log.Debug("Resolved locator", zap.String("locator", loc))
				return loc, nil
			}
		}

		if !time.Now().Add(r.probeInterval).Before(deadline) {
			return "", ErrNotFound
		}

		timer := time.NewTimer(r.probeInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
}

// ResolveAny is a single non-waiting pass over the list, used where the
// caller polls on its own schedule and absence is a normal outcome.
func (r *Resolver) ResolveAny(ctx context.Context, locators []string) (string, bool) {
	for _, loc := range locators {
		visible, err := r.page.IsVisible(ctx, loc)
		if err != nil {
			continue
		}
		if visible {
			return loc, true
		}
	}
	return "", false
}
