package evidence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/anthonygricco/openevidence-cli/internal/browser"
	"github.com/anthonygricco/openevidence-cli/internal/config"
	"github.com/anthonygricco/openevidence-cli/internal/session"
)

// fakePage scripts a DOM for the workflow tests. Text reads per locator are
// consumed from a queue with a sticky last element, so a response region can
// grow and then settle.
type fakePage struct {
	mu sync.Mutex

	visible   map[string]bool
	textQueue map[string][]string

	navigated  []string
	clicks     []string
	filled     map[string]string
	typed      map[string]string
	enters     int
	images     []browser.Image
	cookies    []*network.Cookie
	setCookies int
	screenshot []byte
}

func newFakePage() *fakePage {
	return &fakePage{
		visible:   map[string]bool{},
		textQueue: map[string][]string{},
		filled:    map[string]string{},
		typed:     map[string]string{},
	}
}

func (f *fakePage) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigated = append(f.navigated, url)
	return nil
}

func (f *fakePage) IsVisible(ctx context.Context, loc string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visible[loc], nil
}

func (f *fakePage) Click(ctx context.Context, loc string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clicks = append(f.clicks, loc)
	return nil
}

func (f *fakePage) Fill(ctx context.Context, loc, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filled[loc] = value
	return nil
}

func (f *fakePage) TypeHuman(ctx context.Context, loc, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typed[loc] = text
	return nil
}

func (f *fakePage) PressEnter(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enters++
	return nil
}

func (f *fakePage) Text(ctx context.Context, loc string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	queue, ok := f.textQueue[loc]
	if !ok || len(queue) == 0 {
		return "", browser.ErrNotFound
	}
	text := queue[0]
	if len(queue) > 1 {
		f.textQueue[loc] = queue[1:]
	}
	return text, nil
}

func (f *fakePage) Screenshot(ctx context.Context) ([]byte, error) {
	return f.screenshot, nil
}

func (f *fakePage) ImagesIn(ctx context.Context, loc string) ([]browser.Image, error) {
	if loc != "article" {
		return nil, nil
	}
	return f.images, nil
}

func (f *fakePage) Cookies(ctx context.Context) ([]*network.Cookie, error) {
	return f.cookies, nil
}

func (f *fakePage) SetCookies(ctx context.Context, cookies []*network.CookieParam) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCookies++
	return nil
}

func (f *fakePage) URL(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.navigated) == 0 {
		return "about:blank", nil
	}
	return f.navigated[len(f.navigated)-1], nil
}

// testClient builds a client over real defaults with timeouts shrunk to test
// scale, backed by a store in a temp dir.
func testClient(t *testing.T) (*Client, *session.Store) {
	t.Helper()

	v := viper.New()
	config.SetDefaults(v)
	cfg, err := config.NewFromViper(v)
	if err != nil {
		t.Fatalf("default config is invalid: %v", err)
	}
	cfg.Paths.DataDir = t.TempDir()
	cfg.Browser.ElementTimeout = 50 * time.Millisecond
	cfg.Browser.QueryTimeout = 2 * time.Second
	cfg.Timing.StreamPollInterval = time.Millisecond

	store := session.New(cfg.Paths, zap.NewNop())
	return NewClient(cfg, store, zap.NewNop()), store
}

func sessionStatus(email string) session.Status {
	return session.Status{
		Authenticated: true,
		Email:         &email,
		LastAuth:      time.Now().UTC(),
		Provider:      "apple",
	}
}

// testMode is a zero-delay accelerated preset for the flow tests.
func testMode(name string) config.Mode {
	return config.Mode{
		Name:         name,
		StableChecks: 1,
		PollInterval: time.Millisecond,
	}
}
