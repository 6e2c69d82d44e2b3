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
// ADD GOAL PROGRESS COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// AddGoalProgressCommand содержит данные о продвижении по цели.
type AddGoalProgressCommand struct {
	// UserID - идентификатор пользователя.
	UserID string

	// GoalID - идентификатор цели.
	GoalID string

	// Date - день записи прогресса.
	Date time.Time

	// CorrelationID для трассировки.
	CorrelationID string
}

// Validate проверяет команду.
func (c AddGoalProgressCommand) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("add_goal_progress: %w: user_id is required", shared.ErrEmptyValue)
	}
	if c.GoalID == "" {
		return fmt.Errorf("add_goal_progress: %w: goal_id is required", shared.ErrEmptyValue)
	}
	if c.Date.IsZero() {
		return fmt.Errorf("add_goal_progress: %w: date is required", shared.ErrEmptyValue)
	}
	return nil
}

// AddGoalProgressResult - итог обработки прогресса цели.
type AddGoalProgressResult struct {
	Transaction   *reward.XPTransaction
	NewTotalXP    int
	DailyPosition shared.DailyPosition
	StreakState   *streak.StreakState
}

// AddGoalProgressHandler обрабатывает AddGoalProgressCommand.
type AddGoalProgressHandler struct {
	pipeline *actionPipeline
}

// NewAddGoalProgressHandler создаёт обработчик прогресса целей.
func NewAddGoalProgressHandler(
	streakRepo streak.Repository,
	completionRepo streak.CompletionRepository,
	txRepo reward.Repository,
	statsRepo reward.StatsRepository,
	ledger *streak.Ledger,
	processor *reward.Processor,
	publisher shared.EventPublisher,
	logger *slog.Logger,
) *AddGoalProgressHandler {
	return &AddGoalProgressHandler{
		pipeline: &actionPipeline{
			streakRepo:     streakRepo,
			completionRepo: completionRepo,
			txRepo:         txRepo,
			statsRepo:      statsRepo,
			ledger:         ledger,
			processor:      processor,
			publisher:      publisher,
			retrier:        retry.OptimisticLockRetrier(),
			logger:         logger.With("handler", "add_goal_progress"),
		},
	}
}

// Handle выполняет команду.
func (h *AddGoalProgressHandler) Handle(ctx context.Context, cmd AddGoalProgressCommand) (*AddGoalProgressResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	res, err := h.pipeline.process(ctx, cmd.UserID, shared.FeatureGoals,
		shared.SourceGoalProgress, cmd.GoalID, "goal progress added", cmd.Date)
	if err != nil {
		return nil, fmt.Errorf("add_goal_progress: %w", err)
	}

	return &AddGoalProgressResult{
		Transaction:   res.Transaction,
		NewTotalXP:    res.NewTotalXP,
		DailyPosition: res.DailyPosition,
		StreakState:   res.StreakState,
	}, nil
}
