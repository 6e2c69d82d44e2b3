// Package streak реализует учёт серий и долга по пропущенным дням.
// Серия выводится из множества фактов "день выполнен"; пропущенные
// неоплаченные дни копятся как долг ("замороженные" дни) и гасятся
// разогревающими платежами. Платёж никогда не порождает факт выполнения -
// он меняет только счётчики и флаги.
package streak

import (
	"time"

	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STREAK STATE
// ══════════════════════════════════════════════════════════════════════════════

// StreakState представляет состояние серии пользователя по одной фиче.
type StreakState struct {
	// UserID - идентификатор пользователя.
	UserID string

	// Feature - фича, по которой ведётся серия (journal, habits, goals).
	Feature shared.FeatureKind

	// CurrentStreak - текущая серия дней.
	CurrentStreak int

	// LongestStreak - лучшая серия за всю историю.
	LongestStreak int

	// LastCompletedDate - последний выполненный день (начало дня в UTC).
	LastCompletedDate time.Time

	// StreakStartDate - первый день текущей серии.
	StreakStartDate time.Time

	// DebtAnchorDate - последний выполненный день строго до сегодняшнего
	// на момент пересчёта. К нему привязан текущий разрыв: выполнение
	// сегодняшнего дня само по себе долг не списывает.
	DebtAnchorDate time.Time

	// FrozenDays - число пропущенных неоплаченных дней строго до сегодня.
	FrozenDays int

	// IsFrozen - серия заморожена долгом (FrozenDays > 0).
	IsFrozen bool

	// CanRecoverWithAd - долг в пределах восстановимого лимита.
	CanRecoverWithAd bool

	// PreserveCurrentStreak - флаг защиты серии, выставляется при полном
	// погашении долга и потребляется ровно одним следующим пересчётом.
	PreserveCurrentStreak bool

	// WarmUpPayments - платежи по ещё актуальным пропущенным дням.
	WarmUpPayments []WarmUpPayment

	// WarmUpHistory - все платежи за историю (аудит).
	WarmUpHistory []WarmUpPayment

	// AutoResetAt - момент последнего автосброса (нулевое время, если не было).
	AutoResetAt time.Time

	// AutoResetReason - причина последнего автосброса.
	AutoResetReason string

	// MilestonesReached - достигнутые вехи серии: длина → день первого
	// достижения. Вехи невозвратные и переживают сбросы.
	MilestonesReached map[int]time.Time

	// Version - версия для оптимистичной блокировки.
	Version int
}

// NewStreakState создаёт пустое состояние серии.
func NewStreakState(userID string, feature shared.FeatureKind) *StreakState {
	return &StreakState{
		UserID:            userID,
		Feature:           feature,
		MilestonesReached: make(map[int]time.Time),
	}
}

// Clone возвращает глубокую копию состояния.
func (s *StreakState) Clone() *StreakState {
	out := *s

	out.WarmUpPayments = make([]WarmUpPayment, len(s.WarmUpPayments))
	copy(out.WarmUpPayments, s.WarmUpPayments)

	out.WarmUpHistory = make([]WarmUpPayment, len(s.WarmUpHistory))
	copy(out.WarmUpHistory, s.WarmUpHistory)

	out.MilestonesReached = make(map[int]time.Time, len(s.MilestonesReached))
	for k, v := range s.MilestonesReached {
		out.MilestonesReached[k] = v
	}

	return &out
}

// ══════════════════════════════════════════════════════════════════════════════
// WARM-UP PAYMENT
// ══════════════════════════════════════════════════════════════════════════════

// WarmUpPayment - погашение одного пропущенного дня. День либо оплачен
// полностью, либо нет: частичного зачёта не бывает.
type WarmUpPayment struct {
	// MissedDate - пропущенный день, который погашается.
	MissedDate time.Time

	// UnitsApplied - потрачено единиц восстановления.
	UnitsApplied int

	// AppliedAt - когда применён платёж.
	AppliedAt time.Time

	// IsComplete - день полностью оплачен.
	IsComplete bool
}
