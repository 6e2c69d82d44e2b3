package reward

import (
	"time"

	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/shared"
	"github.com/TQyronStudio/SelfRiseV2-sub003/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROCESSOR (начисление и откат наград)
// ══════════════════════════════════════════════════════════════════════════════

// Processor начисляет и откатывает XP по схеме наград. Сам процессор
// чистый: хранение транзакций и публикация событий - забота
// вызывающей стороны.
type Processor struct {
	schedule Schedule
}

// NewProcessor создаёт процессор с заданной схемой.
func NewProcessor(schedule Schedule) *Processor {
	return &Processor{schedule: schedule}
}

// AwardInput - входные данные начисления за одно логическое действие.
type AwardInput struct {
	// UserID - идентификатор пользователя.
	UserID string

	// Feature - фича действия.
	Feature shared.FeatureKind

	// Source - источник награды.
	Source shared.SourceKind

	// SourceID - идентификатор действия.
	SourceID string

	// Description - описание для истории.
	Description string

	// Date - день действия.
	Date time.Time

	// DailyPosition - хронологическая позиция действия среди действий
	// того же дня. Фиксируется в момент создания и не пересчитывается.
	DailyPosition shared.DailyPosition

	// PositionMilestonesAwarded - позиции-вехи, уже выданные за этот
	// день (разовая награда не должна повториться).
	PositionMilestonesAwarded map[int]bool

	// NewStreakMilestones - длины серий, впервые достигнутые
	// этим действием.
	NewStreakMilestones []int
}

// Award начисляет все награды одного действия единой транзакцией:
// ступень по позиции, разовая награда позиции-вехи и разовые награды
// за впервые достигнутые вехи серии. Слияние гарантирует, что смена
// уровня проверяется не более одного раза на действие. Возвращает
// (nil, nil), если действию ничего не причитается (позиция за
// жёстким потолком и вех нет).
func (p *Processor) Award(in AwardInput, now time.Time) (*XPTransaction, error) {
	if in.UserID == "" {
		return nil, shared.ErrInvalidID
	}
	if !in.Source.IsValid() {
		return nil, shared.ErrUnknownSource
	}

	tiers := p.schedule.Tiers(in.Feature)
	position := shared.ClampDailyPosition(int(in.DailyPosition))

	tierXP := tiers.TierXP(position)

	positionMilestoneXP := 0
	if m := tiers.MilestoneXP(position); m > 0 && !in.PositionMilestonesAwarded[int(position)] {
		positionMilestoneXP = m
	}

	streakXP := 0
	streakBreakdown := make(map[int]int)
	for _, days := range in.NewStreakMilestones {
		if xp := p.schedule.StreakMilestoneXP(days); xp > 0 {
			streakXP += xp
			streakBreakdown[days] = xp
		}
	}

	total := tierXP + positionMilestoneXP + streakXP
	if total == 0 {
		return nil, nil
	}

	tx := newTransaction(in.UserID, total, in.Source, in.SourceID, in.Description, timeutil.Day(in.Date), now)
	tx.Metadata[MetaTierXP] = tierXP
	tx.Metadata[MetaDailyPosition] = int(position)
	if positionMilestoneXP > 0 {
		tx.Metadata[MetaPositionMilestone] = positionMilestoneXP
	}
	if len(streakBreakdown) > 0 {
		tx.Metadata[MetaStreakMilestones] = streakBreakdown
	}
	return tx, nil
}

// ReverseInput - входные данные отката при удалении действия.
type ReverseInput struct {
	// UserID - идентификатор пользователя.
	UserID string

	// Feature - фича действия.
	Feature shared.FeatureKind

	// Source - источник исходной награды.
	Source shared.SourceKind

	// SourceID - идентификатор удалённого действия.
	SourceID string

	// Description - описание для истории.
	Description string

	// Date - день исходного действия.
	Date time.Time

	// OriginalPosition - позиция действия В МОМЕНТ СОЗДАНИЯ. Позиции
	// позднейших действий сдвигаются при удалениях, поэтому позиция
	// хранится на записи, а не выводится заново из порядка.
	OriginalPosition shared.DailyPosition
}

// Reverse возвращает ровно ступенчатую сумму, которую действие заработало
// по своей исходной позиции. Разовые вехи (позиции и серии) не
// откатываются никогда - это невозвратные достижения.
func (p *Processor) Reverse(in ReverseInput, now time.Time) (*XPTransaction, error) {
	if in.UserID == "" {
		return nil, shared.ErrInvalidID
	}
	if !in.Source.IsValid() {
		return nil, shared.ErrUnknownSource
	}

	tiers := p.schedule.Tiers(in.Feature)
	position := shared.ClampDailyPosition(int(in.OriginalPosition))

	amount := tiers.TierXP(position)
	if amount == 0 {
		return nil, shared.ErrNothingToReverse
	}

	tx := newTransaction(in.UserID, -amount, in.Source, in.SourceID, in.Description, timeutil.Day(in.Date), now)
	tx.Metadata[MetaReversalOfPosition] = int(position)
	return tx, nil
}

// AwardFlat начисляет плоскую сумму вне ступенчатой схемы: награды за
// вехи уровня, вехи челленджа и его завершение. Неположительная сумма
// ограничивается: транзакция не создаётся.
func (p *Processor) AwardFlat(userID string, amount int, source shared.SourceKind, sourceID, description string, date, now time.Time) (*XPTransaction, error) {
	if userID == "" {
		return nil, shared.ErrInvalidID
	}
	if !source.IsValid() {
		return nil, shared.ErrUnknownSource
	}
	if amount <= 0 {
		return nil, nil
	}

	return newTransaction(userID, amount, source, sourceID, description, timeutil.Day(date), now), nil
}
