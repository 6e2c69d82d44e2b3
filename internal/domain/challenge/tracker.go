package challenge

import (
	"math"
	"sort"
	"time"

	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/shared"
	"github.com/TQyronStudio/SelfRiseV2-sub003/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// TRACKER (маршрутизация событий и вехи)
// ══════════════════════════════════════════════════════════════════════════════

const (
	// BaseRewardPerStar - базовая награда на одну звезду сложности.
	BaseRewardPerStar = 375

	// CompletionBonusFactor - бонус завершения как доля базовой награды.
	CompletionBonusFactor = 0.20

	// PerfectBonusFactor - бонус идеального завершения (ровно 100%,
	// без переполнения ни одного требования).
	PerfectBonusFactor = 0.15

	// ConsistencyThreshold - порог доли активных дней для буста вехи.
	ConsistencyThreshold = 0.7

	// ConsistencyBoost - множитель награды вехи при высокой регулярности.
	ConsistencyBoost = 1.2
)

// milestoneFactors - доли базовой награды для промежуточных вех.
var milestoneFactors = map[int]float64{
	25: 0.10,
	50: 0.15,
	75: 0.20,
}

// milestonePercents - промежуточные вехи по возрастанию.
var milestonePercents = []int{25, 50, 75}

// MilestoneAward - разовая награда, порождённая применением события.
type MilestoneAward struct {
	// Percent - пересечённая веха (25/50/75/100).
	Percent int

	// XP - начисляемый XP.
	XP int

	// IsCompletion - награда за завершение (100%).
	IsCompletion bool

	// IsPerfect - завершение идеальное.
	IsPerfect bool
}

// Tracker применяет XP-транзакции к прогрессу челленджа. Методы чистые:
// prev не мутируется, возвращается новая копия. Идемпотентность вех
// обеспечивается append-only записями в MilestonesReached.
type Tracker struct{}

// NewTracker создаёт трекер.
func NewTracker() *Tracker {
	return &Tracker{}
}

// BaseXPReward возвращает базовую награду челленджа по сложности.
// Рейтинг вне 1-5 ограничивается.
func (t *Tracker) BaseXPReward(rating shared.StarRating) int {
	return BaseRewardPerStar * int(shared.ClampStarRating(int(rating)))
}

// Apply маршрутизирует одну XP-транзакцию в счётчики требований и
// возвращает новый прогресс вместе с впервые пересечёнными вехами.
// Если источник не относится ни к одному требованию - no-op:
// возвращается prev без изменений и без наград.
func (t *Tracker) Apply(def *Definition, prev *Progress, source shared.SourceKind, date time.Time) (*Progress, []MilestoneAward) {
	if def == nil {
		return prev, nil
	}
	if prev == nil {
		prev = NewProgress(def)
	}

	matched := false
	for _, r := range def.Requirements {
		if r.Matches(source) {
			matched = true
			break
		}
	}
	if !matched {
		return prev, nil
	}

	next := prev.Clone()
	day := timeutil.Day(date)

	for _, r := range def.Requirements {
		if r.Matches(source) {
			next.ProgressByRequirement[r.Key]++
		}
	}

	if !next.hasActiveDay(day) {
		next.ActiveDays = append(next.ActiveDays, timeutil.DayKey(day))
		sort.Strings(next.ActiveDays)
	}
	next.DailyConsistency = t.consistency(def, next, day)

	next.CompletionPercentage = t.completionPercentage(def, next)

	awards := t.crossMilestones(def, next, day)
	return next, awards
}

// completionPercentage пересчитывает процент из взвешенных счётчиков
// против целей. Переполнение счётчика сверх цели в процент не входит.
func (t *Tracker) completionPercentage(def *Definition, p *Progress) int {
	num, den := 0, 0
	for _, r := range def.Requirements {
		w := requirementWeight(r)
		count := p.ProgressByRequirement[r.Key]
		if count > r.Target {
			count = r.Target
		}
		num += w * count
		den += w * r.Target
	}
	if den == 0 {
		return 0
	}
	return num * 100 / den
}

// consistency возвращает долю активных дней от прошедших дней месяца.
func (t *Tracker) consistency(def *Definition, p *Progress, day time.Time) float64 {
	elapsed := timeutil.DayOfMonth(day)
	if !timeutil.IsSameDay(timeutil.StartOfMonth(day), timeutil.StartOfMonth(def.Month)) {
		// День вне месяца челленджа: считаем по полному месяцу.
		elapsed = timeutil.DayOfMonth(timeutil.EndOfMonth(def.Month))
	}
	if elapsed == 0 {
		return 0
	}
	return float64(len(p.ActiveDays)) / float64(elapsed)
}

// crossMilestones фиксирует впервые пересечённые вехи и вычисляет их
// награды. Уже записанная веха не пересекается повторно, поэтому
// дубликаты событий наград не удваивают.
func (t *Tracker) crossMilestones(def *Definition, p *Progress, day time.Time) []MilestoneAward {
	base := t.BaseXPReward(def.StarRating)
	var awards []MilestoneAward

	for _, pct := range milestonePercents {
		if p.CompletionPercentage < pct {
			continue
		}
		if _, done := p.MilestonesReached[pct]; done {
			continue
		}

		xp := t.milestoneXP(base, pct, p.DailyConsistency)
		p.MilestonesReached[pct] = MilestoneRecord{Percent: pct, ReachedAt: day, XPAwarded: xp}
		awards = append(awards, MilestoneAward{Percent: pct, XP: xp})
	}

	if p.CompletionPercentage >= 100 && !p.IsCompleted {
		perfect := t.isPerfect(def, p)
		xp := base + int(math.Round(float64(base)*CompletionBonusFactor))
		if perfect {
			xp += int(math.Round(float64(base) * PerfectBonusFactor))
		}

		p.IsCompleted = true
		p.CompletedAt = day
		p.MilestonesReached[100] = MilestoneRecord{Percent: 100, ReachedAt: day, XPAwarded: xp}
		awards = append(awards, MilestoneAward{Percent: 100, XP: xp, IsCompletion: true, IsPerfect: perfect})
	}

	return awards
}

// milestoneXP вычисляет награду промежуточной вехи: доля базы с бустом
// за регулярность.
func (t *Tracker) milestoneXP(base, percent int, consistency float64) int {
	factor := milestoneFactors[percent]
	xp := float64(base) * factor
	if consistency >= ConsistencyThreshold {
		xp *= ConsistencyBoost
	}
	return int(math.Round(xp))
}

// isPerfect - завершение идеальное: каждое требование закрыто ровно
// в цель, без переполнения.
func (t *Tracker) isPerfect(def *Definition, p *Progress) bool {
	for _, r := range def.Requirements {
		if p.ProgressByRequirement[r.Key] != r.Target {
			return false
		}
	}
	return true
}
