package evidence

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/anthonygricco/openevidence-cli/internal/config"
)

// minAnswerLength filters out placeholder nodes: the response locators are
// broad, and an element holding a label or a spinner caption must not be
// mistaken for the answer.
const minAnswerLength = 100

// answerSource adapts the live page to the stabilizer's Source. Loading
// consults the loading-indicator locators; Snapshot walks the response
// locator list in priority order and takes the first region with substantial
// text.
type answerSource struct {
	page      Page
	selectors config.SelectorsConfig
	log       *zap.Logger
}

func newAnswerSource(page Page, selectors config.SelectorsConfig, logger *zap.Logger) *answerSource {
	return &answerSource{page: page, selectors: selectors, log: logger}
}

func (a *answerSource) Loading(ctx context.Context) bool {
	for _, loc := range a.selectors.Loading {
		visible, err := a.page.IsVisible(ctx, loc)
		if err != nil {
			continue
		}
		if visible {
			return true
		}
	}
	return false
}

func (a *answerSource) Snapshot(ctx context.Context) (string, bool) {
	for _, loc := range a.selectors.Response {
		text, err := a.page.Text(ctx, loc)
		if err != nil {
			continue
		}
		clean := CleanAnswer(text)
		if len(clean) > minAnswerLength {
			return clean, true
		}
	}
	return "", false
}

// popupFragments are lowercase prefixes of overlay text that the site renders
// above the answer inside the same region. A line is stripped only when it
// starts with one of them; an answer that merely mentions cookies is left
// alone.
var popupFragments = []string{
	"protected health information (phi) will be securely processed",
	"cookie",
}

// CleanAnswer trims the rendered region text and drops leading lines that
// belong to consent or HIPAA overlays rather than the answer.
func CleanAnswer(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")

	start := 0
	for start < len(lines) {
		line := strings.TrimSpace(lines[start])
		if line == "" {
			start++
			continue
		}
		if !isPopupLine(line) {
			break
		}
		start++
	}

	return strings.TrimSpace(strings.Join(lines[start:], "\n"))
}

func isPopupLine(line string) bool {
	lower := strings.ToLower(line)
	for _, fragment := range popupFragments {
		if strings.HasPrefix(lower, fragment) {
			return true
		}
	}
	return false
}
