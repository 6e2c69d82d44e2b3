package streak

import (
	"sort"
	"time"

	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/shared"
	"github.com/TQyronStudio/SelfRiseV2-sub003/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER (пересчёт серии и погашение долга)
// ══════════════════════════════════════════════════════════════════════════════

const (
	// DefaultLookbackDays - глубина просмотра пропущенных дней.
	// Достаточна, чтобы обнаружить условие автосброса.
	DefaultLookbackDays = 10

	// DefaultMaxRecoverableDebt - максимальный долг, который ещё можно
	// погасить восстановлением. Превышение ведёт к автосбросу.
	DefaultMaxRecoverableDebt = 3

	// DefaultAutoResetGrace - окно после автосброса, в котором долг
	// принудительно равен нулю (подавление фантомного долга).
	DefaultAutoResetGrace = 24 * time.Hour

	// AutoResetReasonDebt - причина автосброса по превышению долга.
	AutoResetReasonDebt = "debt_exceeded_recoverable_limit"
)

// MilestoneThresholds - длины серий, являющиеся вехами. Достижение вехи
// фиксируется один раз и переживает последующие сбросы серии.
var MilestoneThresholds = []int{7, 14, 21, 30, 50, 75, 100, 180, 365}

// Ledger выполняет пересчёт состояния серии и операции с долгом.
// Все методы чистые: результат зависит только от аргументов,
// повторный пересчёт с теми же входами даёт идентичный результат.
type Ledger struct {
	lookbackDays       int
	maxRecoverableDebt int
	autoResetGrace     time.Duration
}

// NewLedger создаёт Ledger с параметрами по умолчанию.
func NewLedger() *Ledger {
	return &Ledger{
		lookbackDays:       DefaultLookbackDays,
		maxRecoverableDebt: DefaultMaxRecoverableDebt,
		autoResetGrace:     DefaultAutoResetGrace,
	}
}

// NewLedgerWithConfig создаёт Ledger с заданными порогами.
func NewLedgerWithConfig(lookbackDays, maxRecoverableDebt int, grace time.Duration) *Ledger {
	l := NewLedger()
	if lookbackDays > 0 {
		l.lookbackDays = lookbackDays
	}
	if maxRecoverableDebt > 0 {
		l.maxRecoverableDebt = maxRecoverableDebt
	}
	if grace > 0 {
		l.autoResetGrace = grace
	}
	return l
}

// MaxRecoverableDebt возвращает лимит восстановимого долга.
func (l *Ledger) MaxRecoverableDebt() int {
	return l.maxRecoverableDebt
}

// Recompute выводит новое состояние серии из множества выполненных дней.
// Правило "продолжающейся серии": отсчёт идёт назад от последнего
// выполненного дня, при этом невыполненный сегодняшний день серию не рвёт
// (пользователь в середине дня видит живую серию). Оплаченные пропущенные
// дни соединяют серию, но сами в счёт не идут - платёж не является
// фактом выполнения.
func (l *Ledger) Recompute(prev *StreakState, completedDates []time.Time, today time.Time) *StreakState {
	if prev == nil {
		prev = NewStreakState("", shared.FeatureJournal)
	}
	next := prev.Clone()
	day := timeutil.Day(today)

	// Выполнения до дня автосброса не участвуют ни в текущей серии,
	// ни в долге: серия началась заново. Для лучшей серии за историю
	// они по-прежнему учитываются.
	var resetDay time.Time
	if !prev.AutoResetAt.IsZero() {
		resetDay = timeutil.Day(prev.AutoResetAt)
	}

	completed := make(map[string]bool, len(completedDates))
	var last, lastBefore time.Time
	for _, d := range completedDates {
		d = timeutil.Day(d)
		if d.After(day) {
			continue // будущие даты игнорируются
		}
		if !resetDay.IsZero() && d.Before(resetDay) {
			continue
		}
		completed[timeutil.DayKey(d)] = true
		if d.After(last) {
			last = d
		}
		if d.Before(day) && d.After(lastBefore) {
			lastBefore = d
		}
	}

	paid := l.paidDaySet(prev)

	// Текущая серия: идём назад от последнего выполненного дня,
	// оплаченные дни пропускаем без учёта.
	current, start := l.walkRun(last, completed, paid)

	// Долг: последовательные пропущенные дни строго до сегодня минус
	// полностью оплаченные, в пределах окна просмотра. Якорь разрыва -
	// последний выполненный день СТРОГО до сегодня: сегодняшнее
	// выполнение долг не списывает.
	unpaid := l.unpaidGapDays(lastBefore, day, paid)
	frozen := len(unpaid)

	// Подавление фантомного долга сразу после автосброса.
	inGrace := !prev.AutoResetAt.IsZero() && today.Sub(prev.AutoResetAt) < l.autoResetGrace
	if inGrace {
		frozen = 0
	}

	if current > next.LongestStreak {
		next.LongestStreak = current
	}
	if hist := l.longestRun(completedDates, paid, day); hist > next.LongestStreak {
		next.LongestStreak = hist
	}

	if frozen > l.maxRecoverableDebt {
		return l.autoReset(next, completed, day, today)
	}

	next.CurrentStreak = current
	next.StreakStartDate = start
	next.LastCompletedDate = last
	next.DebtAnchorDate = lastBefore
	next.FrozenDays = frozen
	next.IsFrozen = frozen > 0
	next.CanRecoverWithAd = frozen > 0 && frozen <= l.maxRecoverableDebt

	// Флаг защиты серии потребляется ровно одним пересчётом: серия не
	// может молча уменьшиться сразу после полного погашения долга.
	if prev.PreserveCurrentStreak {
		if prev.CurrentStreak > next.CurrentStreak {
			next.CurrentStreak = prev.CurrentStreak
		}
		next.PreserveCurrentStreak = false
	}

	if next.CurrentStreak > next.LongestStreak {
		next.LongestStreak = next.CurrentStreak
	}

	// Платежи по дням вне текущей серии и вне текущего разрыва устарели.
	next.WarmUpPayments = l.retainRelevantPayments(next)

	l.recordMilestones(next, day)
	return next
}

// FrozenDays возвращает текущий долг, выведенный из состояния.
func (l *Ledger) FrozenDays(state *StreakState, today time.Time) int {
	if state == nil {
		return 0
	}
	day := timeutil.Day(today)
	if !state.AutoResetAt.IsZero() && today.Sub(state.AutoResetAt) < l.autoResetGrace {
		return 0
	}
	return len(l.unpaidGapDays(l.debtAnchor(state, day), day, l.paidDaySet(state)))
}

// UnpaidMissedDays возвращает неоплаченные пропущенные дни от старых к новым.
func (l *Ledger) UnpaidMissedDays(state *StreakState, today time.Time) []time.Time {
	if state == nil {
		return nil
	}
	day := timeutil.Day(today)
	if !state.AutoResetAt.IsZero() && today.Sub(state.AutoResetAt) < l.autoResetGrace {
		return nil
	}
	return l.unpaidGapDays(l.debtAnchor(state, day), day, l.paidDaySet(state))
}

// ApplyPayment применяет units единиц восстановления к долгу: одна единица
// гасит ровно один пропущенный день, от старых к новым (FIFO). Переплата
// сверх долга принимается и игнорируется. Платёж НИКОГДА не создаёт факт
// выполнения дня - меняются только счётчики и флаги.
func (l *Ledger) ApplyPayment(prev *StreakState, units int, now time.Time) (*StreakState, error) {
	if prev == nil {
		return nil, shared.ErrStreakNotFound
	}
	if units <= 0 {
		return nil, shared.ErrInvalidPayment
	}

	today := timeutil.Day(now)
	unpaid := l.UnpaidMissedDays(prev, now)
	if len(unpaid) == 0 {
		return nil, shared.ErrNoDebtToPay
	}
	if len(unpaid) > l.maxRecoverableDebt {
		return nil, shared.ErrDebtBeyondRecovery
	}

	next := prev.Clone()
	for _, missed := range unpaid {
		if units == 0 {
			break
		}
		payment := WarmUpPayment{
			MissedDate:   missed,
			UnitsApplied: 1,
			AppliedAt:    now,
			IsComplete:   true,
		}
		next.WarmUpPayments = append(next.WarmUpPayments, payment)
		next.WarmUpHistory = append(next.WarmUpHistory, payment)
		units--
	}

	remaining := len(l.unpaidGapDays(l.debtAnchor(next, today), today, l.paidDaySet(next)))
	next.FrozenDays = remaining
	next.IsFrozen = remaining > 0
	next.CanRecoverWithAd = remaining > 0 && remaining <= l.maxRecoverableDebt

	if remaining == 0 {
		// Полное погашение: следующий пересчёт не должен уменьшить серию.
		next.PreserveCurrentStreak = true
	}

	return next, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// внутренние помощники
// ──────────────────────────────────────────────────────────────────────────────

// debtAnchor выбирает якорь разрыва для данного дня: последний выполненный
// день, если он строго до сегодня, иначе сохранённый якорь долга
// (последнее выполнение пришлось на сегодня и долг остался до него).
func (l *Ledger) debtAnchor(state *StreakState, day time.Time) time.Time {
	lastDay := timeutil.Day(state.LastCompletedDate)
	if !lastDay.IsZero() && lastDay.Before(day) {
		return lastDay
	}
	if state.DebtAnchorDate.IsZero() {
		return time.Time{}
	}
	return timeutil.Day(state.DebtAnchorDate)
}

// paidDaySet собирает дни, полностью покрытые платежами.
func (l *Ledger) paidDaySet(state *StreakState) map[string]bool {
	paid := make(map[string]bool, len(state.WarmUpPayments))
	for _, p := range state.WarmUpPayments {
		if p.IsComplete {
			paid[timeutil.DayKey(timeutil.Day(p.MissedDate))] = true
		}
	}
	return paid
}

// walkRun считает серию, заканчивающуюся днём last: выполненные дни
// увеличивают счёт, оплаченные соединяют без счёта, прочие рвут серию.
func (l *Ledger) walkRun(last time.Time, completed, paid map[string]bool) (int, time.Time) {
	if last.IsZero() {
		return 0, time.Time{}
	}

	count := 0
	var start time.Time
	for d := last; ; d = d.AddDate(0, 0, -1) {
		key := timeutil.DayKey(d)
		switch {
		case completed[key]:
			count++
			start = d
		case paid[key]:
			// мост через оплаченный день
		default:
			return count, start
		}
	}
}

// unpaidGapDays возвращает неоплаченные дни в разрыве между последним
// выполненным днём и сегодня (строго до сегодня), от старых к новым,
// в пределах окна просмотра.
func (l *Ledger) unpaidGapDays(last, today time.Time, paid map[string]bool) []time.Time {
	windowStart := today.AddDate(0, 0, -l.lookbackDays)

	var from time.Time
	switch {
	case last.IsZero():
		// Без единого выполненного дня долга нет - нечего замораживать.
		return nil
	case last.AddDate(0, 0, 1).After(windowStart):
		from = timeutil.Day(last).AddDate(0, 0, 1)
	default:
		from = windowStart
	}

	var unpaid []time.Time
	for d := from; d.Before(today); d = d.AddDate(0, 0, 1) {
		if !paid[timeutil.DayKey(d)] {
			unpaid = append(unpaid, d)
		}
	}
	return unpaid
}

// autoReset сбрасывает серию при невосстановимом долге.
func (l *Ledger) autoReset(next *StreakState, completed map[string]bool, day, now time.Time) *StreakState {
	next.CurrentStreak = 0
	next.StreakStartDate = time.Time{}
	// Якоря серии и долга сбрасываются, иначе тот же разрыв считался бы
	// долгом снова и снова после истечения льготного окна.
	next.LastCompletedDate = time.Time{}
	next.DebtAnchorDate = time.Time{}
	if completed[timeutil.DayKey(day)] {
		// Сегодня уже выполнено: новая серия начинается немедленно.
		next.CurrentStreak = 1
		next.StreakStartDate = day
		next.LastCompletedDate = day
	}

	next.FrozenDays = 0
	next.IsFrozen = false
	next.CanRecoverWithAd = false
	next.PreserveCurrentStreak = false
	next.WarmUpPayments = nil
	next.AutoResetAt = now
	next.AutoResetReason = AutoResetReasonDebt

	l.recordMilestones(next, day)
	return next
}

// longestRun ищет самую длинную серию за историю с учётом мостов
// через оплаченные дни.
func (l *Ledger) longestRun(completedDates []time.Time, paid map[string]bool, today time.Time) int {
	if len(completedDates) == 0 {
		return 0
	}

	days := make([]time.Time, 0, len(completedDates))
	seen := make(map[string]bool, len(completedDates))
	for _, d := range completedDates {
		d = timeutil.Day(d)
		if d.After(today) || seen[timeutil.DayKey(d)] {
			continue
		}
		seen[timeutil.DayKey(d)] = true
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	best, run := 0, 0
	var prev time.Time
	for _, d := range days {
		switch {
		case run == 0:
			run = 1
		case l.bridged(prev, d, paid):
			run++
		default:
			run = 1
		}
		if run > best {
			best = run
		}
		prev = d
	}
	return best
}

// bridged проверяет, что все дни строго между a и b оплачены
// (или дни смежные).
func (l *Ledger) bridged(a, b time.Time, paid map[string]bool) bool {
	for d := a.AddDate(0, 0, 1); d.Before(b); d = d.AddDate(0, 0, 1) {
		if !paid[timeutil.DayKey(d)] {
			return false
		}
	}
	return true
}

// retainRelevantPayments оставляет платежи, относящиеся к текущей серии
// или к текущему разрыву; остальные остаются только в истории.
func (l *Ledger) retainRelevantPayments(state *StreakState) []WarmUpPayment {
	if len(state.WarmUpPayments) == 0 {
		return nil
	}

	// Границей разрыва служит якорь долга, если он есть: при выполнении
	// сегодняшнего дня LastCompletedDate указывает на сегодня, а платежи
	// по ещё не погашенному разрыву лежат раньше него.
	gapAnchor := state.LastCompletedDate
	if !state.DebtAnchorDate.IsZero() && state.DebtAnchorDate.Before(gapAnchor) {
		gapAnchor = state.DebtAnchorDate
	}

	relevant := make([]WarmUpPayment, 0, len(state.WarmUpPayments))
	for _, p := range state.WarmUpPayments {
		day := timeutil.Day(p.MissedDate)
		inRun := !state.StreakStartDate.IsZero() && !day.Before(state.StreakStartDate)
		inGap := !gapAnchor.IsZero() && day.After(gapAnchor)
		if inRun || inGap {
			relevant = append(relevant, p)
		}
	}
	if len(relevant) == 0 {
		return nil
	}
	return relevant
}

// recordMilestones фиксирует впервые достигнутые вехи серии.
func (l *Ledger) recordMilestones(state *StreakState, day time.Time) {
	if state.MilestonesReached == nil {
		state.MilestonesReached = make(map[int]time.Time)
	}
	for _, th := range MilestoneThresholds {
		if state.CurrentStreak >= th {
			if _, ok := state.MilestonesReached[th]; !ok {
				state.MilestonesReached[th] = day
			}
		}
	}
}

// NewlyReachedMilestones возвращает вехи, появившиеся в next
// по сравнению с prev, по возрастанию.
func NewlyReachedMilestones(prev, next *StreakState) []int {
	if next == nil {
		return nil
	}

	var out []int
	for _, th := range MilestoneThresholds {
		if _, ok := next.MilestonesReached[th]; !ok {
			continue
		}
		if prev != nil {
			if _, had := prev.MilestonesReached[th]; had {
				continue
			}
		}
		out = append(out, th)
	}
	return out
}
