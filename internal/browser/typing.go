package browser

import (
	"math/rand"
	"time"
	"unicode"
)

// typist produces per-keystroke delays for a target words-per-minute range.
// The pace is resampled for every character so the rhythm drifts the way a
// real typist's does.
type typist struct {
	wpmMin int
	wpmMax int
}

func newTypist(wpmMin, wpmMax int) *typist {
	if wpmMin <= 0 {
		wpmMin = 160
	}
	if wpmMax < wpmMin {
		wpmMax = wpmMin
	}
	return &typist{wpmMin: wpmMin, wpmMax: wpmMax}
}

// delay returns the pause to take after typing r. The standard conversion is
// five characters per word, so one key at W wpm costs 60/(5W) seconds.
// Whitespace and sentence punctuation get a longer pause: fingers travel and
// people think at word boundaries.
func (t *typist) delay(r rune) time.Duration {
	wpm := t.wpmMin
	if t.wpmMax > t.wpmMin {
		wpm += rand.Intn(t.wpmMax - t.wpmMin + 1)
	}
	d := time.Duration(float64(time.Minute) / (5 * float64(wpm)))

	switch {
	case unicode.IsSpace(r):
		d = d * 3 / 2
	case r == '.' || r == ',' || r == '?' || r == '!' || r == ';':
		d = d * 2
	}
	return d
}
