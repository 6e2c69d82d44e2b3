package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/shared"
	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/streak"
	"github.com/TQyronStudio/SelfRiseV2-sub003/pkg/retry"
	"github.com/TQyronStudio/SelfRiseV2-sub003/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// APPLY RECOVERY COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// ApplyRecoveryCommand гасит пропущенные дни серии заработанными единицами
// восстановления. Оплата снимает долг, но никогда не создаёт записей о
// выполнении: серия продолжается через оплаченные дни, не удлиняясь за их счёт.
type ApplyRecoveryCommand struct {
	// UserID - идентификатор пользователя.
	UserID string

	// Feature - серия, к которой применяются единицы.
	Feature shared.FeatureKind

	// Units - количество единиц восстановления (одна единица = один день).
	Units int

	// CorrelationID для трассировки.
	CorrelationID string
}

// Validate проверяет команду.
func (c ApplyRecoveryCommand) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("apply_recovery: %w: user_id is required", shared.ErrEmptyValue)
	}
	if !c.Feature.IsValid() {
		return fmt.Errorf("apply_recovery: %w: unknown feature %q", shared.ErrInvalidInput, c.Feature)
	}
	if c.Units <= 0 {
		return fmt.Errorf("apply_recovery: %w: units must be positive", shared.ErrInvalidPayment)
	}
	return nil
}

// ApplyRecoveryResult - итог применения единиц восстановления.
type ApplyRecoveryResult struct {
	StreakState   *streak.StreakState
	DaysPaid      int
	RemainingDebt int
}

// ApplyRecoveryHandler обрабатывает ApplyRecoveryCommand.
type ApplyRecoveryHandler struct {
	streakRepo streak.Repository
	ledger     *streak.Ledger
	publisher  shared.EventPublisher
	retrier    *retry.Retrier
	logger     *slog.Logger
	now        func() time.Time
}

// NewApplyRecoveryHandler создаёт обработчик восстановления серии.
func NewApplyRecoveryHandler(
	streakRepo streak.Repository,
	ledger *streak.Ledger,
	publisher shared.EventPublisher,
	logger *slog.Logger,
) *ApplyRecoveryHandler {
	return &ApplyRecoveryHandler{
		streakRepo: streakRepo,
		ledger:     ledger,
		publisher:  publisher,
		retrier:    retry.OptimisticLockRetrier(),
		logger:     logger.With("handler", "apply_recovery"),
		now:        time.Now,
	}
}

// Handle выполняет команду.
func (h *ApplyRecoveryHandler) Handle(ctx context.Context, cmd ApplyRecoveryCommand) (*ApplyRecoveryResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	now := h.now()
	today := timeutil.Day(now)

	var result *ApplyRecoveryResult
	err := h.retrier.Do(ctx, func(ctx context.Context) error {
		prev, err := h.streakRepo.Get(ctx, cmd.UserID, cmd.Feature)
		if err != nil {
			if shared.IsNotFound(err) {
				return retry.Permanent(shared.ErrStreakNotFound)
			}
			return retry.Permanent(fmt.Errorf("load streak: %w", err))
		}

		debtBefore := h.ledger.FrozenDays(prev, today)

		next, err := h.ledger.ApplyPayment(prev, cmd.Units, now)
		if err != nil {
			return retry.Permanent(err)
		}

		if err := h.streakRepo.Save(ctx, next); err != nil {
			if shared.IsConflict(err) {
				return retry.Retryable(err)
			}
			return retry.Permanent(fmt.Errorf("save streak: %w", err))
		}

		remaining := h.ledger.FrozenDays(next, today)
		result = &ApplyRecoveryResult{
			StreakState:   next,
			DaysPaid:      debtBefore - remaining,
			RemainingDebt: remaining,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("apply_recovery: %w", err)
	}

	h.publish(shared.NewRecoveryUnitConsumedEvent(cmd.UserID, cmd.Feature, cmd.Units))
	h.publish(shared.NewStreakDebtPaidEvent(cmd.UserID, cmd.Feature, result.DaysPaid, result.RemainingDebt))

	h.logger.Info("recovery units applied",
		"user_id", cmd.UserID,
		"feature", cmd.Feature,
		"units", cmd.Units,
		"days_paid", result.DaysPaid,
		"remaining_debt", result.RemainingDebt,
	)
	return result, nil
}

func (h *ApplyRecoveryHandler) publish(event shared.Event) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.Publish(event); err != nil {
		h.logger.Error("failed to publish event", "event", event.EventType(), "error", err)
	}
}
