package query

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/shared"
	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/streak"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET STREAK QUERY
// Возвращает состояние серии с долгом, актуальным на момент чтения:
// замороженные дни и список неоплаченных пропусков пересчитываются
// от сегодняшнего дня, а не берутся из последней записи.
// ══════════════════════════════════════════════════════════════════════════════

// GetStreakQuery содержит параметры запроса серии.
type GetStreakQuery struct {
	// UserID - идентификатор пользователя.
	UserID string

	// Feature - фича серии.
	Feature shared.FeatureKind
}

// Validate проверяет корректность параметров.
func (q *GetStreakQuery) Validate() error {
	if q.UserID == "" {
		return shared.ErrInvalidID
	}
	if !q.Feature.IsValid() {
		return shared.ErrInvalidInput
	}
	return nil
}

// StreakDTO - состояние серии для читающей стороны.
type StreakDTO struct {
	UserID            string             `json:"user_id"`
	Feature           shared.FeatureKind `json:"feature"`
	CurrentStreak     int                `json:"current_streak"`
	LongestStreak     int                `json:"longest_streak"`
	FrozenDays        int                `json:"frozen_days"`
	IsFrozen          bool               `json:"is_frozen"`
	CanRecoverWithAd  bool               `json:"can_recover_with_ad"`
	UnpaidMissedDays  []time.Time        `json:"unpaid_missed_days,omitempty"`
	LastCompletedDate *time.Time         `json:"last_completed_date,omitempty"`
	StreakStartDate   *time.Time         `json:"streak_start_date,omitempty"`
	MilestonesReached []int              `json:"milestones_reached,omitempty"`
}

// GetStreakHandler обрабатывает GetStreakQuery.
type GetStreakHandler struct {
	streakRepo streak.Repository
	ledger     *streak.Ledger
	logger     *slog.Logger
	now        func() time.Time
}

// NewGetStreakHandler создаёт обработчик запроса серии.
func NewGetStreakHandler(
	streakRepo streak.Repository,
	ledger *streak.Ledger,
	logger *slog.Logger,
) *GetStreakHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GetStreakHandler{
		streakRepo: streakRepo,
		ledger:     ledger,
		logger:     logger.With("query", "get_streak"),
		now:        time.Now,
	}
}

// Handle выполняет запрос. Отсутствие серии - не ошибка: возвращается
// нулевое состояние.
func (h *GetStreakHandler) Handle(ctx context.Context, q GetStreakQuery) (*StreakDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	state, err := h.streakRepo.Get(ctx, q.UserID, q.Feature)
	if err != nil {
		if !shared.IsNotFound(err) {
			return nil, err
		}
		state = streak.NewStreakState(q.UserID, q.Feature)
	}

	today := h.now()
	frozen := h.ledger.FrozenDays(state, today)
	unpaid := h.ledger.UnpaidMissedDays(state, today)

	dto := &StreakDTO{
		UserID:           q.UserID,
		Feature:          q.Feature,
		CurrentStreak:    state.CurrentStreak,
		LongestStreak:    state.LongestStreak,
		FrozenDays:       frozen,
		IsFrozen:         frozen > 0,
		CanRecoverWithAd: frozen > 0 && frozen <= h.ledger.MaxRecoverableDebt(),
		UnpaidMissedDays: unpaid,
	}
	if !state.LastCompletedDate.IsZero() {
		d := state.LastCompletedDate
		dto.LastCompletedDate = &d
	}
	if !state.StreakStartDate.IsZero() {
		d := state.StreakStartDate
		dto.StreakStartDate = &d
	}
	for days := range state.MilestonesReached {
		dto.MilestonesReached = append(dto.MilestonesReached, days)
	}
	sort.Ints(dto.MilestonesReached)
	return dto, nil
}
