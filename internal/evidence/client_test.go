package evidence

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anthonygricco/openevidence-cli/internal/browser"
	"github.com/anthonygricco/openevidence-cli/internal/stabilize"
)

const queryInputLoc = `textarea[placeholder*="Ask"]`

func askReadyPage(answer string) *fakePage {
	page := newFakePage()
	page.visible[queryInputLoc] = true
	page.visible[`button[type="submit"]`] = true
	page.textQueue["article"] = []string{answer}
	return page
}

func TestAskRefusesWithoutSavedSession(t *testing.T) {
	client, _ := testClient(t)

	_, err := client.Ask(context.Background(), AskOptions{
		Question: "q",
		Mode:     testMode("FAST"),
	})
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestRunAskFastModeFillsAndClicksSubmit(t *testing.T) {
	client, _ := testClient(t)
	answer := longAnswer("Metformin first.")
	page := askReadyPage(answer)

	res, err := client.runAsk(context.Background(), page, AskOptions{
		Question: "first line therapy for T2DM?",
		Mode:     testMode("FAST"),
	})
	require.NoError(t, err)

	assert.Equal(t, stabilize.StatusDone, res.Status)
	assert.Equal(t, answer, res.Answer)
	assert.False(t, res.Partial)

	assert.Equal(t, []string{client.cfg.Site.BaseURL}, page.navigated)
	assert.Equal(t, "first line therapy for T2DM?", page.filled[queryInputLoc])
	assert.Empty(t, page.typed)
	assert.Contains(t, page.clicks, `button[type="submit"]`)
	assert.Zero(t, page.enters)
}

func TestRunAskNormalModeTypesHumanly(t *testing.T) {
	client, _ := testClient(t)
	page := askReadyPage(longAnswer("Answer."))

	mode := testMode("NORMAL")
	_, err := client.runAsk(context.Background(), page, AskOptions{
		Question: "how to dose insulin?",
		Mode:     mode,
	})
	require.NoError(t, err)

	assert.Equal(t, "how to dose insulin?", page.typed[queryInputLoc])
	assert.Empty(t, page.filled)
}

func TestRunAskFallsBackToEnterWithoutSubmitButton(t *testing.T) {
	client, _ := testClient(t)
	page := askReadyPage(longAnswer("Answer."))
	page.visible[`button[type="submit"]`] = false

	_, err := client.runAsk(context.Background(), page, AskOptions{
		Question: "q",
		Mode:     testMode("FAST"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, page.enters)
}

func TestRunAskDismissesPopupsBeforeTyping(t *testing.T) {
	client, _ := testClient(t)
	page := askReadyPage(longAnswer("Answer."))
	page.visible[`[aria-label="Close"]`] = true

	_, err := client.runAsk(context.Background(), page, AskOptions{
		Question: "q",
		Mode:     testMode("FAST"),
	})
	require.NoError(t, err)
	assert.Contains(t, page.clicks, `[aria-label="Close"]`)
}

func TestRunAskMissingInputIsNotFound(t *testing.T) {
	client, _ := testClient(t)
	page := newFakePage() // nothing visible

	_, err := client.runAsk(context.Background(), page, AskOptions{
		Question: "q",
		Mode:     testMode("FAST"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, browser.ErrNotFound)
	assert.Contains(t, err.Error(), "--show-browser")
}

func TestRunAskNoResponseRegion(t *testing.T) {
	client, _ := testClient(t)
	client.cfg.Browser.QueryTimeout = 30 * time.Millisecond

	page := newFakePage()
	page.visible[queryInputLoc] = true

	res, err := client.runAsk(context.Background(), page, AskOptions{
		Question: "q",
		Mode:     testMode("FAST"),
	})
	require.NoError(t, err)
	assert.Equal(t, stabilize.StatusNoResponse, res.Status)
	assert.Empty(t, res.Answer)
}

func TestRunAskStreamWritesIncrementally(t *testing.T) {
	client, _ := testClient(t)
	page := newFakePage()
	page.visible[queryInputLoc] = true

	first := longAnswer("Streaming answer.")
	page.textQueue["article"] = []string{first, first + " More.", first + " More."}

	var out strings.Builder
	mode := testMode("FAST")
	mode.StableChecks = 1 // effective threshold 1+3 in stream mode

	res, err := client.runAsk(context.Background(), page, AskOptions{
		Question: "q",
		Mode:     mode,
		Stream:   &out,
	})
	require.NoError(t, err)

	assert.Equal(t, stabilize.StatusDone, res.Status)
	assert.Equal(t, first+" More.", out.String())
	assert.Equal(t, first+" More.", res.Answer)
}

func TestRunAskTimeoutWithPartialStillSavesArtifacts(t *testing.T) {
	client, _ := testClient(t)
	client.cfg.Browser.QueryTimeout = 50 * time.Millisecond

	page := newFakePage()
	page.visible[queryInputLoc] = true
	page.screenshot = []byte{0x89, 'P', 'N', 'G'}

	// The region keeps growing with fresh content, so the stream never
	// settles before the deadline.
	cur := longAnswer("Streaming answer.")
	texts := make([]string, 0, 400)
	for i := 0; i < 400; i++ {
		cur += fmt.Sprintf(" Fragment %d.", i)
		texts = append(texts, cur)
	}
	page.textQueue["article"] = texts

	var out strings.Builder
	res, err := client.runAsk(context.Background(), page, AskOptions{
		Question:   "q",
		Mode:       testMode("FAST"),
		Stream:     &out,
		Screenshot: true,
		OutputDir:  t.TempDir(),
	})
	require.NoError(t, err)

	assert.Equal(t, stabilize.StatusTimeout, res.Status)
	assert.True(t, res.Partial)
	assert.NotEmpty(t, res.Answer)
	assert.NotEmpty(t, out.String())
	assert.NotEmpty(t, res.ScreenshotPath)
}

func TestRunAskSavesArtifactsOnSuccess(t *testing.T) {
	client, _ := testClient(t)
	page := askReadyPage(longAnswer("Answer."))
	page.screenshot = []byte{0x89, 'P', 'N', 'G'}
	page.images = []browser.Image{{
		Src: "data:image/png;base64,aGVsbG8=",
		Alt: "Figure 1",
	}}

	outDir := t.TempDir()
	res, err := client.runAsk(context.Background(), page, AskOptions{
		Question:   "q",
		Mode:       testMode("FAST"),
		Screenshot: true,
		SaveImages: true,
		OutputDir:  outDir,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, res.ScreenshotPath)
	require.Len(t, res.ImagePaths, 1)
	assert.Contains(t, res.ImagePaths[0], "figure_0_Figure_1.png")
}
