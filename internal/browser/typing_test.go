package browser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTypistDelayWithinWPMBounds(t *testing.T) {
	ty := newTypist(160, 240)

	// 240 wpm lower bound, 160 wpm upper bound at five chars per word.
	minDelay := time.Duration(float64(time.Minute) / (5 * 240.0))
	maxDelay := time.Duration(float64(time.Minute) / (5 * 160.0))

	for i := 0; i < 200; i++ {
		d := ty.delay('a')
		assert.GreaterOrEqual(t, d, minDelay)
		assert.LessOrEqual(t, d, maxDelay)
	}
}

func TestTypistPausesLongerAtBoundaries(t *testing.T) {
	// Fixed pace so the char-class multiplier is the only variable.
	ty := newTypist(200, 200)

	base := ty.delay('a')
	assert.Equal(t, base*3/2, ty.delay(' '))
	assert.Equal(t, base*2, ty.delay('.'))
	assert.Equal(t, base*2, ty.delay('?'))
}

func TestTypistSanitizesBadRange(t *testing.T) {
	ty := newTypist(0, -5)
	assert.Equal(t, 160, ty.wpmMin)
	assert.Equal(t, 160, ty.wpmMax)

	ty = newTypist(300, 100)
	assert.Equal(t, 300, ty.wpmMax)
}
