package level

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCalculator_MatchesPureFunctions(t *testing.T) {
	calc := NewCalculator(DefaultCalculatorConfig())

	for _, x := range []int{0, 100, 4500, 99999} {
		assert.Equal(t, Progress(x), calc.Progress(x))
		assert.Equal(t, CurrentLevel(x), calc.CurrentLevel(x))
	}
	for _, l := range []int{1, 10, 50, 200} {
		assert.Equal(t, XPRequired(l), calc.XPRequired(l))
	}
}

func TestCalculator_InvalidateDoesNotAffectResults(t *testing.T) {
	calc := NewCalculator(CalculatorConfig{MaxEntries: 4, TTL: time.Minute})

	before := calc.Progress(12345)
	calc.Invalidate()
	after := calc.Progress(12345)

	// Кэш - чистая оптимизация: очистка не меняет результат.
	assert.Equal(t, before, after)
}

func TestCalculator_BoundedEviction(t *testing.T) {
	calc := NewCalculator(CalculatorConfig{MaxEntries: 8, TTL: time.Minute})

	// Больше запросов, чем вмещает кэш: результаты остаются корректными.
	for x := 0; x < 100; x++ {
		p := calc.Progress(x * 50)
		assert.Equal(t, Progress(x*50), p)
	}
}

func TestCalculator_ClampsNegativeTotal(t *testing.T) {
	calc := NewCalculator(DefaultCalculatorConfig())
	p := calc.Progress(-1)
	assert.Equal(t, 1, p.Level)
	assert.Equal(t, 0, p.TotalXP)
}
