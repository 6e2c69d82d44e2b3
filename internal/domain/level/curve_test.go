package level

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXPRequired_BaseValues(t *testing.T) {
	// Уровень 1 доступен с нуля.
	assert.Equal(t, 0, XPRequired(0))
	assert.Equal(t, 0, XPRequired(1))
	assert.Equal(t, 0, XPRequired(-5))

	// Фаза 1: приросты 100, 200, 300...
	assert.Equal(t, 100, XPRequired(2))
	assert.Equal(t, 300, XPRequired(3))
	assert.Equal(t, 600, XPRequired(4))

	// Конец фазы 1: сумма 100..900.
	assert.Equal(t, 4500, XPRequired(10))
}

func TestXPRequired_StrictlyIncreasing(t *testing.T) {
	for l := 1; l <= MaxLevel; l++ {
		require.Less(t, XPRequired(l), XPRequired(l+1), "level %d", l)
	}
}

func TestXPRequired_TopOfCurveFitsInt(t *testing.T) {
	// Вершина кривой представима: суммы не переполняются и не
	// становятся отрицательными даже на последнем уровне.
	top := XPRequired(MaxLevel + 1)
	require.Greater(t, top, XPRequired(MaxLevel))
	assert.Equal(t, MaxLevel, CurrentLevel(math.MaxInt))
}

func TestXPRequired_StepsNonDecreasingAcrossPhases(t *testing.T) {
	prev := 0
	for l := 2; l <= MaxLevel; l++ {
		step := XPRequired(l) - XPRequired(l-1)
		require.GreaterOrEqual(t, step, prev, "step shrank at level %d", l)
		prev = step
	}
}

func TestXPRequired_PhaseAnchoring(t *testing.T) {
	// Прирост первого уровня каждой фазы не меньше последнего прироста
	// предыдущей фазы: фазы заякорены, разрывов нет.
	step10 := XPRequired(10) - XPRequired(9)
	step11 := XPRequired(11) - XPRequired(10)
	assert.GreaterOrEqual(t, step11, step10)

	step25 := XPRequired(25) - XPRequired(24)
	step26 := XPRequired(26) - XPRequired(25)
	assert.GreaterOrEqual(t, step26, step25)

	step50 := XPRequired(50) - XPRequired(49)
	step51 := XPRequired(51) - XPRequired(50)
	assert.GreaterOrEqual(t, step51, step50)
}

func TestCurrentLevel_BracketProperty(t *testing.T) {
	// Для любого x: xpRequired(level(x)) <= x < xpRequired(level(x)+1).
	totals := []int{0, 1, 99, 100, 101, 4499, 4500, 4501, 50000, 1000000, 25000000}
	for _, x := range totals {
		lvl := CurrentLevel(x)
		require.LessOrEqual(t, XPRequired(lvl), x, "total %d", x)
		if lvl < MaxLevel {
			require.Greater(t, XPRequired(lvl+1), x, "total %d", x)
		}
	}
}

func TestCurrentLevel_Monotonic(t *testing.T) {
	prev := MinLevel
	for x := 0; x <= 200000; x += 137 {
		lvl := CurrentLevel(x)
		require.GreaterOrEqual(t, lvl, prev, "total %d", x)
		prev = lvl
	}
}

func TestCurrentLevel_Boundaries(t *testing.T) {
	assert.Equal(t, 1, CurrentLevel(-100))
	assert.Equal(t, 1, CurrentLevel(0))
	assert.Equal(t, 1, CurrentLevel(99))
	assert.Equal(t, 2, CurrentLevel(100))
	assert.Equal(t, 9, CurrentLevel(4499))
	assert.Equal(t, 10, CurrentLevel(4500))
}

func TestProgress(t *testing.T) {
	// Ровно на границе уровня: 0% прогресса внутри него.
	p := Progress(4500)
	assert.Equal(t, 10, p.Level)
	assert.Equal(t, 0, p.XPIntoLevel)
	assert.Equal(t, 0, p.Percent)

	// Середина уровня 2 (100..300): 100 XP из 200.
	p = Progress(200)
	assert.Equal(t, 2, p.Level)
	assert.Equal(t, 100, p.XPIntoLevel)
	assert.Equal(t, 100, p.XPToNext)
	assert.Equal(t, 50, p.Percent)

	// Отрицательный XP ограничивается нулём.
	p = Progress(-42)
	assert.Equal(t, 1, p.Level)
	assert.Equal(t, 0, p.TotalXP)
}

func TestMilestonesCrossed(t *testing.T) {
	crossed := MilestonesCrossed(4, 5)
	require.Len(t, crossed, 1)
	assert.Equal(t, 5, crossed[0].Level)
	assert.Equal(t, []int{50}, crossed[0].RewardXP)

	// Скачок через несколько вех.
	crossed = MilestonesCrossed(9, 25)
	require.Len(t, crossed, 4)
	assert.Equal(t, 10, crossed[0].Level)
	assert.Equal(t, 25, crossed[3].Level)

	// Понижение уровня вехи не трогает.
	assert.Nil(t, MilestonesCrossed(10, 9))
	assert.Nil(t, MilestonesCrossed(10, 10))

	// Между вехами.
	assert.Nil(t, MilestonesCrossed(5, 9))
}

func TestIsMilestone(t *testing.T) {
	assert.True(t, IsMilestone(5))
	assert.True(t, IsMilestone(100))
	assert.False(t, IsMilestone(4))
	assert.False(t, IsMilestone(55))
}
