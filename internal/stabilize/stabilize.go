// Package stabilize decides when an asynchronously rendered answer has
// finished changing. The remote application never signals completion; the
// only available evidence is repeated polling of the rendered text, so
// completion is declared after a configured number of consecutive polls
// observe the same content.
package stabilize

import (
	"context"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Status is the tagged terminal state of a Wait invocation. NoResponse
// (the content region never appeared) is deliberately distinct from Timeout
// (it appeared but never settled) so callers can react differently.
type Status int

const (
	// StatusDone means the text settled and Result.Text is the final answer.
	StatusDone Status = iota
	// StatusNoResponse means no content region ever appeared before the deadline.
	StatusNoResponse
	// StatusTimeout means content appeared but never settled. In streaming
	// mode Result.Text carries whatever was captured and Partial is true.
	StatusTimeout
)

func (s Status) String() string {
	switch s {
	case StatusDone:
		return "done"
	case StatusNoResponse:
		return "no_response"
	case StatusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// StreamExtraChecks is added to the batch stability threshold in streaming
// mode. Streaming renders are noisier; incremental DOM updates can pause at
// a stable length mid-answer, so more consecutive quiet polls are required.
const StreamExtraChecks = 3

// Source exposes the observable page state to the stabilizer. Implementations
// must never block longer than one probe; transient probe failures are
// reported as "not loading" / "not found" rather than errors.
type Source interface {
	// Loading reports whether a loading/thinking indicator is visible.
	Loading(ctx context.Context) bool
	// Snapshot extracts the current rendered text of the content region.
	// The boolean is false when no region is present yet.
	Snapshot(ctx context.Context) (string, bool)
}

// Options configures a single Wait invocation. The zero value is not usable;
// callers populate it from the selected timing mode.
type Options struct {
	// PollInterval is the pause between successive observations.
	PollInterval time.Duration
	// Deadline is the overall wall-clock budget, checked every iteration.
	Deadline time.Duration
	// StableChecks is the number of consecutive unchanged observations
	// required to declare the answer complete. In streaming mode
	// StreamExtraChecks is added on top.
	StableChecks int
	// Stream, when non-nil, switches to streaming mode: new text suffixes are
	// written to it as soon as they are observed.
	Stream io.Writer
	// OnPoll, when non-nil, runs at the start of every iteration. Used for
	// best-effort popup dismissal.
	OnPoll func(ctx context.Context)
}

// Result is the outcome of a Wait invocation.
type Result struct {
	Status  Status
	Text    string
	Partial bool
	// Polls is the number of loop iterations performed, including those spent
	// waiting out the loading indicator.
	Polls int
}

// Stabilizer runs the polling loop. It holds no state between invocations.
type Stabilizer struct {
	log *zap.Logger
}

// New creates a Stabilizer.
func New(log *zap.Logger) *Stabilizer {
	return &Stabilizer{log: log.Named("stabilize")}
}

// Wait polls src until the text settles, the deadline elapses, or ctx is
// canceled. Only context cancellation is returned as an error; everything
// else is a tagged Result.
func (s *Stabilizer) Wait(ctx context.Context, src Source, opts Options) (Result, error) {
	deadline := time.Now().Add(opts.Deadline)

	var (
		// lastText is the previous snapshot; comparisons only ever look one
		// poll back.
		lastText string
		// emitted is the prefix already written to opts.Stream.
		emitted string
		seen    bool
		stable  int
		polls   int
	)

	streaming := opts.Stream != nil
	threshold := opts.StableChecks
	if streaming {
		threshold += StreamExtraChecks
	}

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return Result{Polls: polls}, err
		}
		polls++

		if opts.OnPoll != nil {
			opts.OnPoll(ctx)
		}

		if src.Loading(ctx) {
			if err := sleep(ctx, opts.PollInterval); err != nil {
				return Result{Polls: polls}, err
			}
			continue
		}

		text, ok := src.Snapshot(ctx)
		if ok {
			seen = true
			if streaming {
				stable, emitted = s.observeStream(opts.Stream, text, lastText, emitted, stable)
			} else if text == lastText {
				stable++
			} else {
				// New content: the observation itself is the first piece of
				// stability evidence for it.
				stable = 1
			}
			lastText = text

			if stable >= threshold {
				s.log.Debug("Answer settled.",
					zap.Int("polls", polls),
					zap.Int("chars", len(text)))
				return Result{Status: StatusDone, Text: text, Polls: polls}, nil
			}
		}

		if err := sleep(ctx, opts.PollInterval); err != nil {
			return Result{Polls: polls}, err
		}
	}

	if !seen {
		s.log.Debug("No content region appeared before the deadline.", zap.Int("polls", polls))
		return Result{Status: StatusNoResponse, Polls: polls}, nil
	}

	if streaming && emitted != "" {
		// Return whatever rendered by the deadline; a final snapshot beats
		// the stale lastText when the region is still present.
		text := lastText
		if current, ok := src.Snapshot(ctx); ok {
			text = current
		}
		s.log.Debug("Deadline elapsed with partial streamed content.",
			zap.Int("polls", polls),
			zap.Int("chars", len(text)))
		return Result{Status: StatusTimeout, Text: text, Partial: true, Polls: polls}, nil
	}

	s.log.Debug("Content never settled before the deadline.", zap.Int("polls", polls))
	return Result{Status: StatusTimeout, Polls: polls}, nil
}

// observeStream processes one streaming-mode observation, returning the new
// stable counter and emitted prefix. Only strict forward extensions of the
// already-emitted text produce output; anything else (unchanged length,
// shrinkage, a reordered re-render) counts as a stability signal so a DOM
// regeneration can never duplicate or corrupt the output.
func (s *Stabilizer) observeStream(w io.Writer, text, lastText, emitted string, stable int) (int, string) {
	if len(text) > len(emitted) && strings.HasPrefix(text, emitted) {
		suffix := text[len(emitted):]
		// A suffix that already occurred in the previous snapshot is most
		// likely a re-render repeating earlier content, not new output.
		// Known limitation: genuinely new text that repeats an earlier
		// fragment is misclassified; kept as-is pending product input.
		if lastText != "" && strings.Contains(lastText, suffix) {
			return stable + 1, emitted
		}
		_, _ = io.WriteString(w, suffix)
		return 1, text
	}
	return stable + 1, emitted
}

// sleep pauses for d or until ctx is canceled.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
