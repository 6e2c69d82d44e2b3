package challenge

import (
	"time"

	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/shared"
	"github.com/TQyronStudio/SelfRiseV2-sub003/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// DAILY SNAPSHOT / WEEKLY BREAKDOWN
// ══════════════════════════════════════════════════════════════════════════════

// DailySnapshot - срез одного дня челленджа. На пару (челлендж, день)
// существует ровно один снимок, обновляемый upsert-ом при каждом
// релевантном событии этого дня.
type DailySnapshot struct {
	// ChallengeID - идентификатор челленджа.
	ChallengeID string

	// UserID - идентификатор пользователя.
	UserID string

	// Date - день (начало дня в UTC).
	Date time.Time

	// ActionsByFeature - число зачтённых действий по фичам.
	ActionsByFeature map[shared.FeatureKind]int

	// IsAllFeaturesDay - в этот день затронуты все отслеживаемые фичи.
	IsAllFeaturesDay bool

	// IsPerfectDay - по каждой фиче выполнен дневной минимум.
	IsPerfectDay bool

	// XPEarnedToday - заработано XP за день.
	XPEarnedToday int

	// WeekNumber - неделя месяца (недели начинаются с понедельника,
	// неделя с 1-м числом - первая).
	WeekNumber int

	// DayOfMonth - число месяца.
	DayOfMonth int
}

// NewDailySnapshot создаёт пустой снимок дня.
func NewDailySnapshot(challengeID, userID string, date time.Time) *DailySnapshot {
	day := timeutil.Day(date)
	return &DailySnapshot{
		ChallengeID:      challengeID,
		UserID:           userID,
		Date:             day,
		ActionsByFeature: make(map[shared.FeatureKind]int),
		WeekNumber:       timeutil.WeekOfMonth(day),
		DayOfMonth:       timeutil.DayOfMonth(day),
	}
}

// Apply учитывает одно событие дня и пересчитывает флаги снимка.
// dailyMinimums задаёт дневной минимум действий по каждой
// отслеживаемой фиче.
func (s *DailySnapshot) Apply(source shared.SourceKind, xpAmount int, dailyMinimums map[shared.FeatureKind]int) {
	if s.ActionsByFeature == nil {
		s.ActionsByFeature = make(map[shared.FeatureKind]int)
	}

	s.ActionsByFeature[source.Feature()]++
	if xpAmount > 0 {
		s.XPEarnedToday += xpAmount
	}

	s.recomputeFlags(dailyMinimums)
}

// recomputeFlags пересчитывает дневные флаги из счётчиков, а не
// дописывает их инкрементально: снимок остаётся корректным при
// событиях, пришедших не по порядку.
func (s *DailySnapshot) recomputeFlags(dailyMinimums map[shared.FeatureKind]int) {
	all := true
	perfect := true
	for _, f := range shared.AllFeatures() {
		count := s.ActionsByFeature[f]
		if count == 0 {
			all = false
		}
		min := dailyMinimums[f]
		if min <= 0 {
			min = 1
		}
		if count < min {
			perfect = false
		}
	}
	s.IsAllFeaturesDay = all
	s.IsPerfectDay = perfect
}

// WeeklyBreakdown - агрегат одной недели месяца. Пересчитывается из
// дневных снимков целиком, а не дрейфует инкрементально, поэтому
// остаётся согласованным при событиях не по порядку.
type WeeklyBreakdown struct {
	// ChallengeID - идентификатор челленджа.
	ChallengeID string

	// Week - неделя месяца.
	Week int

	// ActiveDays - дней с активностью.
	ActiveDays int

	// AllFeaturesDays - дней, где затронуты все фичи.
	AllFeaturesDays int

	// PerfectDays - дней с выполненными минимумами.
	PerfectDays int

	// XPEarned - заработано XP за неделю.
	XPEarned int

	// ActionsByFeature - действия по фичам за неделю.
	ActionsByFeature map[shared.FeatureKind]int
}

// RecomputeWeek строит недельный агрегат из снимков дней этой недели.
func RecomputeWeek(challengeID string, week int, days []*DailySnapshot) WeeklyBreakdown {
	out := WeeklyBreakdown{
		ChallengeID:      challengeID,
		Week:             week,
		ActionsByFeature: make(map[shared.FeatureKind]int),
	}

	for _, d := range days {
		if d == nil || d.WeekNumber != week {
			continue
		}

		active := false
		for f, c := range d.ActionsByFeature {
			if c > 0 {
				active = true
			}
			out.ActionsByFeature[f] += c
		}
		if active {
			out.ActiveDays++
		}
		if d.IsAllFeaturesDay {
			out.AllFeaturesDays++
		}
		if d.IsPerfectDay {
			out.PerfectDays++
		}
		out.XPEarned += d.XPEarnedToday
	}

	return out
}
