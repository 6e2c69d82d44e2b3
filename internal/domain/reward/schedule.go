package reward

import (
	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REWARD SCHEDULE (ступенчатая анти-спам схема)
// ══════════════════════════════════════════════════════════════════════════════

// TierSchedule описывает схему наград одной фичи, ключ - позиция действия
// среди действий того же дня. Позиции 1..RegularLimit получают полную
// награду, далее до BonusLimit - уменьшенную бонусную, сверх жёсткого
// потолка - ноль (анти-спам). Отдельные бонусные позиции несут разовую
// плоскую награду при первом достижении за день.
type TierSchedule struct {
	// RegularLimit - последняя позиция полной награды.
	RegularLimit int

	// RegularXP - награда за полную позицию.
	RegularXP int

	// BonusLimit - жёсткий потолок: последняя позиция бонусной награды.
	BonusLimit int

	// BonusXP - награда за бонусную позицию.
	BonusXP int

	// PositionMilestones - разовые награды за достижение позиции:
	// позиция → XP.
	PositionMilestones map[int]int
}

// TierXP возвращает награду ступени для позиции.
func (ts TierSchedule) TierXP(position shared.DailyPosition) int {
	p := int(shared.ClampDailyPosition(int(position)))
	switch {
	case p <= ts.RegularLimit:
		return ts.RegularXP
	case p <= ts.BonusLimit:
		return ts.BonusXP
	default:
		return 0
	}
}

// MilestoneXP возвращает разовую награду позиции (0, если позиция не веха).
func (ts TierSchedule) MilestoneXP(position shared.DailyPosition) int {
	return ts.PositionMilestones[int(position)]
}

// Schedule объединяет схемы всех фич и награды за вехи серий.
// Пороги различаются между фичами и потому конфигурируемы per-feature,
// а не зашиты общими константами.
type Schedule struct {
	perFeature       map[shared.FeatureKind]TierSchedule
	streakMilestones map[int]int
}

// DefaultJournalTiers возвращает схему журнала по умолчанию.
func DefaultJournalTiers() TierSchedule {
	return TierSchedule{
		RegularLimit: 3,
		RegularXP:    20,
		BonusLimit:   13,
		BonusXP:      8,
		PositionMilestones: map[int]int{
			4:  25,  // первый бонус
			8:  50,  // середина бонусной зоны
			13: 100, // последний бонус перед потолком
		},
	}
}

// DefaultHabitsTiers возвращает схему привычек по умолчанию.
func DefaultHabitsTiers() TierSchedule {
	return TierSchedule{
		RegularLimit: 3,
		RegularXP:    25,
		BonusLimit:   10,
		BonusXP:      10,
		PositionMilestones: map[int]int{
			4:  25,
			7:  50,
			10: 100,
		},
	}
}

// DefaultGoalsTiers возвращает схему целей по умолчанию.
func DefaultGoalsTiers() TierSchedule {
	return TierSchedule{
		RegularLimit: 3,
		RegularXP:    15,
		BonusLimit:   10,
		BonusXP:      5,
		PositionMilestones: map[int]int{
			4:  25,
			8:  50,
			10: 75,
		},
	}
}

// DefaultStreakMilestoneXP возвращает награды за вехи серий:
// длина серии → разовый XP. Награды невозвратные.
func DefaultStreakMilestoneXP() map[int]int {
	return map[int]int{
		7:   75,
		14:  100,
		21:  150,
		30:  250,
		50:  300,
		75:  350,
		100: 500,
		180: 750,
		365: 1000,
	}
}

// NewSchedule создаёт схему наград из per-feature конфигурации.
func NewSchedule(perFeature map[shared.FeatureKind]TierSchedule, streakMilestones map[int]int) Schedule {
	if perFeature == nil {
		perFeature = make(map[shared.FeatureKind]TierSchedule)
	}
	if streakMilestones == nil {
		streakMilestones = make(map[int]int)
	}
	return Schedule{perFeature: perFeature, streakMilestones: streakMilestones}
}

// DefaultSchedule возвращает схему по умолчанию для всех фич.
func DefaultSchedule() Schedule {
	return NewSchedule(map[shared.FeatureKind]TierSchedule{
		shared.FeatureJournal: DefaultJournalTiers(),
		shared.FeatureHabits:  DefaultHabitsTiers(),
		shared.FeatureGoals:   DefaultGoalsTiers(),
	}, DefaultStreakMilestoneXP())
}

// Tiers возвращает схему фичи. Для неизвестной фичи действует схема
// журнала как самая консервативная.
func (s Schedule) Tiers(feature shared.FeatureKind) TierSchedule {
	if ts, ok := s.perFeature[feature]; ok {
		return ts
	}
	return DefaultJournalTiers()
}

// StreakMilestoneXP возвращает награду за веху серии (0, если длина не веха).
func (s Schedule) StreakMilestoneXP(days int) int {
	return s.streakMilestones[days]
}
