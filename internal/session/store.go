// Package session persists browser state between runs: cookies captured from
// the authenticated browser, a small auth status record, and the on-disk
// browser profile directory.
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// State is the persisted contents of state.json.
type State struct {
	Cookies []*network.CookieParam `json:"cookies"`
}

// Status is the persisted contents of auth_info.json.
type Status struct {
	Authenticated bool      `json:"authenticated"`
	Email         *string   `json:"email"`
	LastAuth      time.Time `json:"last_auth"`
	Provider      string    `json:"provider"`
}

// Paths locates the files the store manages. Implemented by config.PathsConfig.
type Paths interface {
	StateFile() string
	AuthInfoFile() string
	ProfileDir() string
}

// Store reads and writes session files under the data directory.
type Store struct {
	paths Paths
	log   *zap.Logger
}

// New creates a store rooted at the configured data directory.
func New(paths Paths, logger *zap.Logger) *Store {
	return &Store{
		paths: paths,
		log:   logger.Named("session"),
	}
}

// HasState reports whether a saved cookie state exists on disk.
func (s *Store) HasState() bool {
	info, err := os.Stat(s.paths.StateFile())
	return err == nil && !info.IsDir()
}

// Load reads the saved cookie state. A missing file yields an empty state,
// not an error: a fresh install simply has nothing to restore.
func (s *Store) Load() (*State, error) {
	raw, err := os.ReadFile(s.paths.StateFile())
	if os.IsNotExist(err) {
		return &State{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session state: %w", err)
	}

	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("failed to parse session state: %w", err)
	}
	return &state, nil
}

// SaveCookies writes the current browser cookies to state.json. Cookies are
// captured via CDP and converted to the parameter form SetCookies expects on
// restore, so the file round-trips without translation at load time.
func (s *Store) SaveCookies(cookies []*network.Cookie) error {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, cookieToParam(c))
	}

	if err := s.writeFile(s.paths.StateFile(), &State{Cookies: params}); err != nil {
		return err
	}
	s.log.Debug("Saved session state", zap.Int("cookies", len(params)))
	return nil
}

// LoadStatus reads auth_info.json. A missing file yields a zero Status.
func (s *Store) LoadStatus() (Status, error) {
	raw, err := os.ReadFile(s.paths.AuthInfoFile())
	if os.IsNotExist(err) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("failed to read auth info: %w", err)
	}

	var status Status
	if err := json.Unmarshal(raw, &status); err != nil {
		return Status{}, fmt.Errorf("failed to parse auth info: %w", err)
	}
	return status, nil
}

// SaveStatus writes auth_info.json.
func (s *Store) SaveStatus(status Status) error {
	if err := s.writeFile(s.paths.AuthInfoFile(), status); err != nil {
		return err
	}
	s.log.Debug("Saved auth info", zap.Bool("authenticated", status.Authenticated))
	return nil
}

// Clear removes every piece of persisted session state: the cookie file, the
// auth record, and the browser profile directory. Missing pieces are not an
// error; Clear is idempotent.
func (s *Store) Clear() error {
	for _, path := range []string{s.paths.StateFile(), s.paths.AuthInfoFile()} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", filepath.Base(path), err)
		}
	}
	if err := os.RemoveAll(s.paths.ProfileDir()); err != nil {
		return fmt.Errorf("failed to remove browser profile: %w", err)
	}
	s.log.Info("Cleared session data")
	return nil
}

func (s *Store) writeFile(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func cookieToParam(c *network.Cookie) *network.CookieParam {
	p := &network.CookieParam{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HTTPOnly: c.HTTPOnly,
		SameSite: c.SameSite,
		Priority: c.Priority,
	}
	if !c.Session {
		expires := cdp.TimeSinceEpoch(time.Unix(0, int64(c.Expires*float64(time.Second))))
		p.Expires = &expires
	}
	return p
}
