package streak

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/shared"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestRecompute_LiveStreakMidDay(t *testing.T) {
	l := NewLedger()
	today := day(2025, 3, 10)

	// Вчера и позавчера выполнено, сегодня ещё нет: серия живая.
	dates := []time.Time{day(2025, 3, 8), day(2025, 3, 9)}
	s := l.Recompute(nil, dates, today)

	assert.Equal(t, 2, s.CurrentStreak)
	assert.Equal(t, 2, s.LongestStreak)
	assert.Equal(t, 0, s.FrozenDays)
	assert.False(t, s.IsFrozen)
	assert.Equal(t, day(2025, 3, 9), s.LastCompletedDate)
	assert.Equal(t, day(2025, 3, 8), s.StreakStartDate)
}

func TestRecompute_TodayCompleted(t *testing.T) {
	l := NewLedger()
	today := day(2025, 3, 10)

	dates := []time.Time{day(2025, 3, 9), day(2025, 3, 10)}
	s := l.Recompute(nil, dates, today)

	assert.Equal(t, 2, s.CurrentStreak)
	assert.Equal(t, day(2025, 3, 10), s.LastCompletedDate)
}

func TestRecompute_Idempotent(t *testing.T) {
	l := NewLedger()
	today := day(2025, 3, 10)
	dates := []time.Time{day(2025, 3, 6), day(2025, 3, 7), day(2025, 3, 9)}

	first := l.Recompute(nil, dates, today)
	second := l.Recompute(first, dates, today)

	// Повторный пересчёт без новых фактов даёт идентичный результат.
	assert.Equal(t, first, second)
}

func TestRecompute_FutureDatesIgnored(t *testing.T) {
	l := NewLedger()
	today := day(2025, 3, 10)

	dates := []time.Time{day(2025, 3, 9), day(2025, 3, 15)}
	s := l.Recompute(nil, dates, today)

	assert.Equal(t, 1, s.CurrentStreak)
	assert.Equal(t, day(2025, 3, 9), s.LastCompletedDate)
}

func TestRecompute_ThreeMissedDaysRecoverable(t *testing.T) {
	l := NewLedger()
	today := day(2025, 3, 10)

	// Последнее выполнение за 4 дня до сегодня: долг ровно 3 дня.
	dates := []time.Time{day(2025, 3, 5), day(2025, 3, 6)}
	s := l.Recompute(nil, dates, today)

	assert.Equal(t, 3, s.FrozenDays)
	assert.True(t, s.IsFrozen)
	assert.True(t, s.CanRecoverWithAd)
	assert.Equal(t, 2, s.CurrentStreak) // заморожена, но не сброшена
	assert.True(t, s.AutoResetAt.IsZero())
}

func TestRecompute_FourMissedDaysAutoReset(t *testing.T) {
	l := NewLedger()
	today := day(2025, 3, 10)

	dates := []time.Time{day(2025, 3, 4), day(2025, 3, 5)}
	s := l.Recompute(nil, dates, today)

	assert.Equal(t, 0, s.CurrentStreak)
	assert.Equal(t, 0, s.FrozenDays)
	assert.False(t, s.CanRecoverWithAd)
	assert.False(t, s.AutoResetAt.IsZero())
	assert.Equal(t, AutoResetReasonDebt, s.AutoResetReason)
	assert.Equal(t, 2, s.LongestStreak) // лучшая серия переживает сброс
}

func TestRecompute_AutoResetWithTodayCompleted(t *testing.T) {
	l := NewLedger()
	today := day(2025, 3, 10)

	// Долг 4 дня, но сегодня уже выполнено: новая серия начинается с 1.
	dates := []time.Time{day(2025, 3, 4), day(2025, 3, 5), day(2025, 3, 10)}
	s := l.Recompute(nil, dates, today)

	assert.Equal(t, 1, s.CurrentStreak)
	assert.Equal(t, day(2025, 3, 10), s.StreakStartDate)
	assert.False(t, s.AutoResetAt.IsZero())
}

func TestRecompute_DebtSurvivesTodayCompletion(t *testing.T) {
	l := NewLedger()
	today := day(2025, 3, 10)

	// Пропущены 7-9 марта, сегодня выполнено: долг не списывается,
	// якорем разрыва остаётся последний день строго до сегодня.
	dates := []time.Time{day(2025, 3, 6), day(2025, 3, 10)}
	s := l.Recompute(nil, dates, today)

	assert.Equal(t, 3, s.FrozenDays)
	assert.True(t, s.IsFrozen)
	assert.True(t, s.CanRecoverWithAd)
	assert.True(t, s.AutoResetAt.IsZero())
	assert.Equal(t, day(2025, 3, 6), s.DebtAnchorDate)
	assert.Equal(t, day(2025, 3, 10), s.LastCompletedDate)

	// Долг виден и из состояния, несмотря на сегодняшнее выполнение.
	unpaid := l.UnpaidMissedDays(s, today)
	require.Len(t, unpaid, 3)
	assert.Equal(t, day(2025, 3, 7), unpaid[0])

	// Полное погашение соединяет разрыв: серия тянется до 6 марта.
	paid, err := l.ApplyPayment(s, 3, today)
	require.NoError(t, err)
	assert.Equal(t, 0, paid.FrozenDays)

	after := l.Recompute(paid, dates, today)
	assert.Equal(t, 2, after.CurrentStreak)
	assert.Equal(t, day(2025, 3, 6), after.StreakStartDate)
	assert.Equal(t, 0, after.FrozenDays)
}

func TestRecompute_PhantomDebtSuppressedAfterAutoReset(t *testing.T) {
	l := NewLedger()
	today := day(2025, 3, 10)

	dates := []time.Time{day(2025, 3, 4), day(2025, 3, 5)}
	s := l.Recompute(nil, dates, today)
	require.False(t, s.AutoResetAt.IsZero())

	// В течение 24 часов после автосброса долг принудительно нулевой,
	// даже если факты выполнения не изменились.
	later := today.Add(6 * time.Hour)
	s2 := l.Recompute(s, dates, later)
	assert.Equal(t, 0, s2.FrozenDays)
	assert.Equal(t, 0, l.FrozenDays(s, later))
	assert.Empty(t, l.UnpaidMissedDays(s, later))
}

func TestDebtScenario_PayOneDayPreservesStreak(t *testing.T) {
	l := NewLedger()

	// Записи в дни D-2 и D-1, день D пропущен. Сегодня D+1.
	dMinus2 := day(2025, 3, 8)
	dMinus1 := day(2025, 3, 9)
	missed := day(2025, 3, 10)
	today := day(2025, 3, 11)
	dates := []time.Time{dMinus2, dMinus1}

	s := l.Recompute(nil, dates, today)
	require.Equal(t, 1, s.FrozenDays)
	require.Equal(t, 2, s.CurrentStreak)
	require.True(t, s.CanRecoverWithAd)

	paid, err := l.ApplyPayment(s, 1, today)
	require.NoError(t, err)

	assert.Equal(t, 0, paid.FrozenDays)
	assert.False(t, paid.IsFrozen)
	assert.True(t, paid.PreserveCurrentStreak)
	require.Len(t, paid.WarmUpPayments, 1)
	assert.Equal(t, missed, paid.WarmUpPayments[0].MissedDate)
	assert.True(t, paid.WarmUpPayments[0].IsComplete)

	// Платёж не породил факт выполнения: множество дат не менялось,
	// а пересчёт всё равно сохраняет серию 2, не уменьшая её.
	after := l.Recompute(paid, dates, today)
	assert.Equal(t, 2, after.CurrentStreak)
	assert.Equal(t, 0, after.FrozenDays)
	assert.False(t, after.PreserveCurrentStreak) // флаг потреблён

	// Следующее выполнение продолжает серию через оплаченный день.
	continued := l.Recompute(after, append(dates, today), today)
	assert.Equal(t, 3, continued.CurrentStreak)
}

func TestApplyPayment_FIFOOldestFirst(t *testing.T) {
	l := NewLedger()
	today := day(2025, 3, 11)

	// Пропущены 9, 10 марта.
	dates := []time.Time{day(2025, 3, 7), day(2025, 3, 8)}
	s := l.Recompute(nil, dates, today)
	require.Equal(t, 2, s.FrozenDays)

	paid, err := l.ApplyPayment(s, 1, today)
	require.NoError(t, err)

	// Одна единица гасит самый старый пропуск.
	require.Len(t, paid.WarmUpPayments, 1)
	assert.Equal(t, day(2025, 3, 9), paid.WarmUpPayments[0].MissedDate)
	assert.Equal(t, 1, paid.FrozenDays)
	assert.True(t, paid.CanRecoverWithAd)
	assert.False(t, paid.PreserveCurrentStreak) // долг ещё не погашен
}

func TestApplyPayment_OverpaymentIgnored(t *testing.T) {
	l := NewLedger()
	today := day(2025, 3, 11)

	dates := []time.Time{day(2025, 3, 8)}
	s := l.Recompute(nil, dates, today)
	require.Equal(t, 2, s.FrozenDays)

	paid, err := l.ApplyPayment(s, 10, today)
	require.NoError(t, err)

	assert.Len(t, paid.WarmUpPayments, 2)
	assert.Equal(t, 0, paid.FrozenDays)
	assert.True(t, paid.PreserveCurrentStreak)
}

func TestApplyPayment_Errors(t *testing.T) {
	l := NewLedger()
	today := day(2025, 3, 11)

	// Нет долга.
	clean := l.Recompute(nil, []time.Time{day(2025, 3, 10)}, today)
	_, err := l.ApplyPayment(clean, 1, today)
	assert.ErrorIs(t, err, shared.ErrNoDebtToPay)

	// Неположительное число единиц.
	inDebt := l.Recompute(nil, []time.Time{day(2025, 3, 8)}, today)
	_, err = l.ApplyPayment(inDebt, 0, today)
	assert.ErrorIs(t, err, shared.ErrInvalidPayment)

	// Долг за пределами восстановления: 4 пропущенных дня.
	far := &StreakState{
		UserID:            "u1",
		Feature:           shared.FeatureJournal,
		CurrentStreak:     5,
		LastCompletedDate: day(2025, 3, 6),
		MilestonesReached: map[int]time.Time{},
	}
	_, err = l.ApplyPayment(far, 4, today)
	assert.ErrorIs(t, err, shared.ErrDebtBeyondRecovery)

	// Нет состояния.
	_, err = l.ApplyPayment(nil, 1, today)
	assert.ErrorIs(t, err, shared.ErrStreakNotFound)
}

func TestRecompute_MilestonesRecordedOnce(t *testing.T) {
	l := NewLedger()
	today := day(2025, 3, 10)

	var dates []time.Time
	for i := 1; i <= 7; i++ {
		dates = append(dates, day(2025, 3, i+2))
	}

	s := l.Recompute(nil, dates, today)
	require.Equal(t, 7, s.CurrentStreak)
	assert.Equal(t, []int{7}, NewlyReachedMilestones(nil, s))

	// Повторный пересчёт новых вех не даёт.
	s2 := l.Recompute(s, dates, today)
	assert.Empty(t, NewlyReachedMilestones(s, s2))
}

func TestRecompute_MilestonesSurviveReset(t *testing.T) {
	l := NewLedger()

	prev := NewStreakState("u1", shared.FeatureJournal)
	prev.MilestonesReached[7] = day(2025, 2, 20)
	prev.CurrentStreak = 9
	prev.LongestStreak = 9
	prev.LastCompletedDate = day(2025, 3, 4)

	// Долг 5 дней: автосброс, но веха остаётся.
	s := l.Recompute(prev, []time.Time{day(2025, 3, 4)}, day(2025, 3, 10))
	assert.Equal(t, 0, s.CurrentStreak)
	assert.Contains(t, s.MilestonesReached, 7)
	assert.Equal(t, 9, s.LongestStreak)
}

func TestRecompute_LongestStreakFromHistory(t *testing.T) {
	l := NewLedger()
	today := day(2025, 3, 20)

	// Старая серия из 4 дней, новая из 2.
	dates := []time.Time{
		day(2025, 3, 1), day(2025, 3, 2), day(2025, 3, 3), day(2025, 3, 4),
		day(2025, 3, 18), day(2025, 3, 19),
	}
	s := l.Recompute(nil, dates, today)

	assert.Equal(t, 2, s.CurrentStreak)
	assert.Equal(t, 4, s.LongestStreak)
}

func TestUnpaidMissedDays_Order(t *testing.T) {
	l := NewLedger()
	today := day(2025, 3, 11)

	s := l.Recompute(nil, []time.Time{day(2025, 3, 7)}, today)
	unpaid := l.UnpaidMissedDays(s, today)

	require.Len(t, unpaid, 3)
	assert.Equal(t, day(2025, 3, 8), unpaid[0])
	assert.Equal(t, day(2025, 3, 9), unpaid[1])
	assert.Equal(t, day(2025, 3, 10), unpaid[2])
}
