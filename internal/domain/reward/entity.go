// Package reward преобразует действия пользователя в XP по ступенчатой
// анти-спам схеме. Все награды одного логического действия сливаются
// в одну атомарную транзакцию, чтобы проверка смены уровня происходила
// не более одного раза на действие.
package reward

import (
	"time"

	"github.com/google/uuid"

	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// XP TRANSACTION
// ══════════════════════════════════════════════════════════════════════════════

// XPTransaction - атомарная единица награды. Одно действие пользователя
// порождает ровно одну транзакцию, в которую упакованы все его награды
// (ступень + впервые открытые вехи).
type XPTransaction struct {
	// ID - уникальный идентификатор транзакции.
	ID string

	// UserID - идентификатор пользователя.
	UserID string

	// Amount - сумма XP. Отрицательная для отката.
	Amount int

	// Source - источник награды.
	Source shared.SourceKind

	// SourceID - идентификатор действия-источника (запись, привычка, цель).
	SourceID string

	// Description - человекочитаемое описание.
	Description string

	// Date - день действия (начало дня в UTC).
	Date time.Time

	// CreatedAt - момент создания транзакции.
	CreatedAt time.Time

	// Metadata - разбивка награды и прочие атрибуты.
	Metadata map[string]interface{}
}

// Ключи метаданных транзакции.
const (
	MetaTierXP             = "tier_xp"
	MetaDailyPosition      = "daily_position"
	MetaPositionMilestone  = "position_milestone_xp"
	MetaStreakMilestones   = "streak_milestone_xp"
	MetaReversalOfPosition = "reversal_of_position"
)

// newTransaction создаёт транзакцию с заполненными служебными полями.
func newTransaction(userID string, amount int, source shared.SourceKind, sourceID, description string, date, now time.Time) *XPTransaction {
	return &XPTransaction{
		ID:          uuid.NewString(),
		UserID:      userID,
		Amount:      amount,
		Source:      source,
		SourceID:    sourceID,
		Description: description,
		Date:        date,
		CreatedAt:   now,
		Metadata:    make(map[string]interface{}),
	}
}

// IsReversal возвращает true для транзакции-отката.
func (t *XPTransaction) IsReversal() bool {
	return t.Amount < 0
}
