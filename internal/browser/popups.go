package browser

import (
	"context"

	"go.uber.org/zap"
)

// Clicker is the page surface the dismisser needs.
type Clicker interface {
	IsVisible(ctx context.Context, loc string) (bool, error)
	Click(ctx context.Context, loc string) error
}

// Dismisser closes cookie banners, consent dialogs, and other overlays that
// would otherwise swallow clicks meant for the page. It is strictly
// best-effort: a popup that cannot be dismissed must never fail the
// operation that triggered the sweep.
type Dismisser struct {
	log      *zap.Logger
	page     Clicker
	locators []string
}

// NewDismisser creates a dismisser probing the given locator list in order.
func NewDismisser(page Clicker, locators []string, logger *zap.Logger) *Dismisser {
	return &Dismisser{
		log:      logger.Named("popups"),
		page:     page,
		locators: locators,
	}
}

// Sweep makes one pass over the locator list and clicks everything visible.
// Returns how many overlays were dismissed. Errors are logged and swallowed.
func (d *Dismisser) Sweep(ctx context.Context) int {
	dismissed := 0
	for _, loc := range d.locators {
		if ctx.Err() != nil {
			return dismissed
		}

		visible, err := d.page.IsVisible(ctx, loc)
		if err != nil || !visible {
			continue
		}
		if err := d.page.Click(ctx, loc); err != nil {
			d.log.Debug("Could not dismiss overlay", zap.String("locator", loc), zap.Error(err))
			continue
		}
		d.log.Debug("Dismissed overlay", zap.String("locator", loc))
		dismissed++
	}
	return dismissed
}
