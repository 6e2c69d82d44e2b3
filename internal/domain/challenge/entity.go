// Package challenge реализует трекер месячного челленджа: маршрутизацию
// XP-транзакций в счётчики требований, процент выполнения, идемпотентные
// вехи 25/50/75/100% и дневные/недельные срезы прогресса.
package challenge

import (
	"time"

	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/shared"
	"github.com/TQyronStudio/SelfRiseV2-sub003/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHALLENGE DEFINITION
// ══════════════════════════════════════════════════════════════════════════════

// Requirement - одно требование челленджа. Счётчик растёт от источников
// из Sources; вклад в процент выполнения взвешен.
type Requirement struct {
	// Key - уникальный ключ требования внутри челленджа.
	Key string

	// Sources - источники XP-транзакций, увеличивающие счётчик.
	Sources []shared.SourceKind

	// Target - целевое количество.
	Target int

	// Weight - вес требования в проценте выполнения (минимум 1).
	Weight int
}

// Matches возвращает true, если источник относится к требованию.
func (r Requirement) Matches(source shared.SourceKind) bool {
	for _, s := range r.Sources {
		if s == source {
			return true
		}
	}
	return false
}

// Definition описывает месячный челлендж. Определения приходят от
// внешнего коллаборатора при смене периода.
type Definition struct {
	// ID - идентификатор челленджа.
	ID string

	// UserID - идентификатор пользователя.
	UserID string

	// Month - месяц челленджа (начало месяца в UTC).
	Month time.Time

	// StarRating - сложность 1-5, управляет масштабом наград.
	StarRating shared.StarRating

	// Requirements - требования челленджа.
	Requirements []Requirement
}

// Validate проверяет корректность определения. Рейтинг вне 1-5
// ограничивается, а не отвергается.
func (d *Definition) Validate() error {
	if d.ID == "" || d.UserID == "" {
		return shared.ErrInvalidID
	}
	if len(d.Requirements) == 0 {
		return shared.ErrInvalidRequirement
	}
	for _, r := range d.Requirements {
		if r.Key == "" || r.Target <= 0 || len(r.Sources) == 0 {
			return shared.ErrInvalidRequirement
		}
	}
	d.StarRating = shared.ClampStarRating(int(d.StarRating))
	return nil
}

// requirementWeight возвращает эффективный вес требования.
func requirementWeight(r Requirement) int {
	if r.Weight < 1 {
		return 1
	}
	return r.Weight
}

// ══════════════════════════════════════════════════════════════════════════════
// CHALLENGE PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// MilestoneRecord - запись о пересечении процентной вехи. Записи
// append-only: однажды достигнутая веха не пересоздаётся и не
// переначисляется.
type MilestoneRecord struct {
	// Percent - веха (25, 50, 75 или 100).
	Percent int

	// ReachedAt - когда пересечена.
	ReachedAt time.Time

	// XPAwarded - начисленный разовый XP.
	XPAwarded int
}

// Progress - состояние прогресса пользователя по челленджу.
type Progress struct {
	// ChallengeID - идентификатор челленджа.
	ChallengeID string

	// UserID - идентификатор пользователя.
	UserID string

	// ProgressByRequirement - счётчики по ключам требований.
	ProgressByRequirement map[string]int

	// CompletionPercentage - процент выполнения (0-100).
	CompletionPercentage int

	// MilestonesReached - достигнутые вехи: процент → запись.
	MilestonesReached map[int]MilestoneRecord

	// ActiveDays - дни с зачтённой активностью (ключи дней).
	ActiveDays []string

	// DailyConsistency - доля активных дней от прошедших дней месяца.
	DailyConsistency float64

	// IsCompleted - челлендж завершён (достиг 100%).
	IsCompleted bool

	// CompletedAt - момент завершения.
	CompletedAt time.Time

	// Version - версия для оптимистичной блокировки.
	Version int
}

// NewProgress создаёт пустой прогресс по определению.
func NewProgress(def *Definition) *Progress {
	counts := make(map[string]int, len(def.Requirements))
	for _, r := range def.Requirements {
		counts[r.Key] = 0
	}
	return &Progress{
		ChallengeID:           def.ID,
		UserID:                def.UserID,
		ProgressByRequirement: counts,
		MilestonesReached:     make(map[int]MilestoneRecord),
	}
}

// Clone возвращает глубокую копию прогресса.
func (p *Progress) Clone() *Progress {
	out := *p

	out.ProgressByRequirement = make(map[string]int, len(p.ProgressByRequirement))
	for k, v := range p.ProgressByRequirement {
		out.ProgressByRequirement[k] = v
	}

	out.MilestonesReached = make(map[int]MilestoneRecord, len(p.MilestonesReached))
	for k, v := range p.MilestonesReached {
		out.MilestonesReached[k] = v
	}

	out.ActiveDays = make([]string, len(p.ActiveDays))
	copy(out.ActiveDays, p.ActiveDays)

	return &out
}

// hasActiveDay проверяет, зачтён ли день.
func (p *Progress) hasActiveDay(day time.Time) bool {
	key := timeutil.DayKey(day)
	for _, d := range p.ActiveDays {
		if d == key {
			return true
		}
	}
	return false
}
