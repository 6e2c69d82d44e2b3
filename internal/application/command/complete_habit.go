package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/reward"
	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/shared"
	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/streak"
	"github.com/TQyronStudio/SelfRiseV2-sub003/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETE HABIT COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// CompleteHabitCommand содержит данные выполненной привычки.
type CompleteHabitCommand struct {
	// UserID - идентификатор пользователя.
	UserID string

	// HabitID - идентификатор привычки.
	HabitID string

	// IsBonus - выполнение сверх расписания привычки.
	IsBonus bool

	// Date - день выполнения.
	Date time.Time

	// CorrelationID для трассировки.
	CorrelationID string
}

// Validate проверяет команду.
func (c CompleteHabitCommand) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("complete_habit: %w: user_id is required", shared.ErrEmptyValue)
	}
	if c.HabitID == "" {
		return fmt.Errorf("complete_habit: %w: habit_id is required", shared.ErrEmptyValue)
	}
	if c.Date.IsZero() {
		return fmt.Errorf("complete_habit: %w: date is required", shared.ErrEmptyValue)
	}
	return nil
}

// CompleteHabitResult - итог обработки привычки.
type CompleteHabitResult struct {
	Transaction   *reward.XPTransaction
	NewTotalXP    int
	DailyPosition shared.DailyPosition
	StreakState   *streak.StreakState
}

// CompleteHabitHandler обрабатывает CompleteHabitCommand.
type CompleteHabitHandler struct {
	pipeline *actionPipeline
}

// NewCompleteHabitHandler создаёт обработчик привычек.
func NewCompleteHabitHandler(
	streakRepo streak.Repository,
	completionRepo streak.CompletionRepository,
	txRepo reward.Repository,
	statsRepo reward.StatsRepository,
	ledger *streak.Ledger,
	processor *reward.Processor,
	publisher shared.EventPublisher,
	logger *slog.Logger,
) *CompleteHabitHandler {
	return &CompleteHabitHandler{
		pipeline: &actionPipeline{
			streakRepo:     streakRepo,
			completionRepo: completionRepo,
			txRepo:         txRepo,
			statsRepo:      statsRepo,
			ledger:         ledger,
			processor:      processor,
			publisher:      publisher,
			retrier:        retry.OptimisticLockRetrier(),
			logger:         logger.With("handler", "complete_habit"),
		},
	}
}

// Handle выполняет команду.
func (h *CompleteHabitHandler) Handle(ctx context.Context, cmd CompleteHabitCommand) (*CompleteHabitResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	source := shared.SourceHabitCompletion
	description := "habit completed"
	if cmd.IsBonus {
		source = shared.SourceHabitBonus
		description = "habit bonus completion"
	}

	res, err := h.pipeline.process(ctx, cmd.UserID, shared.FeatureHabits,
		source, cmd.HabitID, description, cmd.Date)
	if err != nil {
		return nil, fmt.Errorf("complete_habit: %w", err)
	}

	return &CompleteHabitResult{
		Transaction:   res.Transaction,
		NewTotalXP:    res.NewTotalXP,
		DailyPosition: res.DailyPosition,
		StreakState:   res.StreakState,
	}, nil
}
