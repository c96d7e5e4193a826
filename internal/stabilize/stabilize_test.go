package stabilize

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// tick is one scripted observation of the fake page.
type tick struct {
	loading bool
	text    string
	ok      bool
}

// fakeSource replays a script of page states; once exhausted it keeps
// returning the final state, mimicking a page that stopped changing.
type fakeSource struct {
	script []tick
	i      int
	cur    tick
}

func (f *fakeSource) Loading(ctx context.Context) bool {
	if f.i < len(f.script) {
		f.cur = f.script[f.i]
		f.i++
	}
	return f.cur.loading
}

func (f *fakeSource) Snapshot(ctx context.Context) (string, bool) {
	return f.cur.text, f.cur.ok
}

// recordingWriter captures each individual Write so tests can assert that
// emission is incremental, not just that the final concatenation matches.
type recordingWriter struct {
	writes []string
}

func (r *recordingWriter) Write(p []byte) (int, error) {
	r.writes = append(r.writes, string(p))
	return len(p), nil
}

func grown(texts ...string) []tick {
	ticks := make([]tick, 0, len(texts))
	for _, s := range texts {
		ticks = append(ticks, tick{text: s, ok: true})
	}
	return ticks
}

func testOpts() Options {
	return Options{
		PollInterval: time.Millisecond,
		Deadline:     time.Second,
		StableChecks: 3,
	}
}

func TestBatchIdenticalSequenceSettles(t *testing.T) {
	src := &fakeSource{script: grown("final answer", "final answer", "final answer")}

	res, err := New(zap.NewNop()).Wait(context.Background(), src, testOpts())
	require.NoError(t, err)

	assert.Equal(t, StatusDone, res.Status)
	assert.Equal(t, "final answer", res.Text)
	assert.False(t, res.Partial)
	assert.Equal(t, 3, res.Polls)
}

func TestBatchEverChangingTimesOut(t *testing.T) {
	// The fake script is finite, so generate changing text on the fly.
	src := &changingSource{}
	opts := testOpts()
	opts.Deadline = 50 * time.Millisecond

	res, err := New(zap.NewNop()).Wait(context.Background(), src, opts)
	require.NoError(t, err)

	assert.Equal(t, StatusTimeout, res.Status)
	assert.Empty(t, res.Text)
	assert.False(t, res.Partial)
}

// changingSource never repeats a snapshot.
type changingSource struct{ n int }

func (c *changingSource) Loading(ctx context.Context) bool { return false }
func (c *changingSource) Snapshot(ctx context.Context) (string, bool) {
	c.n++
	return fmt.Sprintf("draft %d", c.n), true
}

func TestNoRegionYieldsNoResponse(t *testing.T) {
	src := &fakeSource{script: []tick{{}}}
	opts := testOpts()
	opts.Deadline = 30 * time.Millisecond

	res, err := New(zap.NewNop()).Wait(context.Background(), src, opts)
	require.NoError(t, err)

	assert.Equal(t, StatusNoResponse, res.Status)
	assert.Empty(t, res.Text)
}

func TestStreamEmitsIncrementally(t *testing.T) {
	src := &fakeSource{script: grown("A", "AB", "ABC", "ABC", "ABC")}
	w := &recordingWriter{}
	opts := testOpts()
	opts.Stream = w

	res, err := New(zap.NewNop()).Wait(context.Background(), src, opts)
	require.NoError(t, err)

	assert.Equal(t, StatusDone, res.Status)
	assert.Equal(t, "ABC", res.Text)
	assert.Equal(t, []string{"A", "B", "C"}, w.writes)
}

func TestStreamShrinkIsStabilityNotContent(t *testing.T) {
	// A re-render that regenerates a shorter string must never produce a
	// negative-length or corrupted suffix.
	src := &fakeSource{script: grown("A", "AB", "ABC", "AB", "AB")}
	w := &recordingWriter{}
	opts := testOpts()
	opts.Stream = w

	res, err := New(zap.NewNop()).Wait(context.Background(), src, opts)
	require.NoError(t, err)

	assert.Equal(t, StatusDone, res.Status)
	assert.Equal(t, []string{"A", "B", "C"}, w.writes)
}

func TestStreamRerenderedDuplicateNotEmitted(t *testing.T) {
	// A suffix that already occurred in the previous snapshot is treated as a
	// re-render, not new content.
	src := &fakeSource{script: grown("ABC", "ABCABC", "ABCABC", "ABCABC")}
	w := &recordingWriter{}
	opts := testOpts()
	opts.Stream = w

	res, err := New(zap.NewNop()).Wait(context.Background(), src, opts)
	require.NoError(t, err)

	assert.Equal(t, StatusDone, res.Status)
	assert.Equal(t, []string{"ABC"}, w.writes)
}

func TestStreamTimeoutReturnsPartial(t *testing.T) {
	src := &growingSource{}
	w := &recordingWriter{}
	opts := testOpts()
	opts.Deadline = 40 * time.Millisecond
	opts.StableChecks = 1000
	opts.Stream = w

	res, err := New(zap.NewNop()).Wait(context.Background(), src, opts)
	require.NoError(t, err)

	assert.Equal(t, StatusTimeout, res.Status)
	assert.True(t, res.Partial)
	assert.NotEmpty(t, res.Text)
	assert.NotEmpty(t, w.writes)
}

// growingSource grows forever, one rune per snapshot.
type growingSource struct{ text string }

func (g *growingSource) Loading(ctx context.Context) bool { return false }
func (g *growingSource) Snapshot(ctx context.Context) (string, bool) {
	g.text += "x"
	return g.text, true
}

func TestLoadingPollsThenStableReads(t *testing.T) {
	// Loading indicator disappears after 2 polls, then the text holds for the
	// required 3 reads: total polls = loading polls + stable-count polls.
	script := []tick{
		{loading: true},
		{loading: true},
	}
	script = append(script, grown("answer", "answer", "answer")...)
	src := &fakeSource{script: script}

	var onPollCalls int
	opts := testOpts()
	opts.OnPoll = func(ctx context.Context) { onPollCalls++ }

	res, err := New(zap.NewNop()).Wait(context.Background(), src, opts)
	require.NoError(t, err)

	assert.Equal(t, StatusDone, res.Status)
	assert.Equal(t, "answer", res.Text)
	assert.Equal(t, 5, res.Polls)
	assert.Equal(t, res.Polls, onPollCalls)
}

func TestCancellationStopsWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &changingSource{}
	_, err := New(zap.NewNop()).Wait(ctx, src, testOpts())
	assert.ErrorIs(t, err, context.Canceled)
}
