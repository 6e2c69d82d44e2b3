package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/reward"
	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/shared"
	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/streak"
	"github.com/TQyronStudio/SelfRiseV2-sub003/pkg/retry"
	"github.com/TQyronStudio/SelfRiseV2-sub003/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// REMOVE ENTRY COMMAND
// Откат награды при удалении записи. Возвращается ровно ступенчатая
// сумма по ИСХОДНОЙ позиции записи (позиции позднейших действий
// сдвигаются при удалениях). Разовые вехи не откатываются.
// ══════════════════════════════════════════════════════════════════════════════

// RemoveEntryCommand содержит данные удалённой записи.
type RemoveEntryCommand struct {
	// UserID - идентификатор пользователя.
	UserID string

	// Feature - фича записи.
	Feature shared.FeatureKind

	// EntryID - идентификатор удалённой записи.
	EntryID string

	// Date - день исходной записи.
	Date time.Time

	// OriginalPosition - позиция записи в момент создания.
	OriginalPosition shared.DailyPosition

	// CorrelationID для трассировки.
	CorrelationID string
}

// Validate проверяет команду.
func (c RemoveEntryCommand) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("remove_entry: %w: user_id is required", shared.ErrEmptyValue)
	}
	if c.EntryID == "" {
		return fmt.Errorf("remove_entry: %w: entry_id is required", shared.ErrEmptyValue)
	}
	return nil
}

// RemoveEntryResult - итог отката.
type RemoveEntryResult struct {
	// Reversal - транзакция-откат (nil, если возвращать нечего).
	Reversal *reward.XPTransaction

	// NewTotalXP - суммарный XP после отката.
	NewTotalXP int

	// StreakState - состояние серии после пересчёта.
	StreakState *streak.StreakState
}

// RemoveEntryHandler обрабатывает RemoveEntryCommand.
type RemoveEntryHandler struct {
	streakRepo     streak.Repository
	completionRepo streak.CompletionRepository
	txRepo         reward.Repository
	statsRepo      reward.StatsRepository
	ledger         *streak.Ledger
	processor      *reward.Processor
	publisher      shared.EventPublisher
	retrier        *retry.Retrier
	logger         *slog.Logger
}

// NewRemoveEntryHandler создаёт обработчик удаления.
func NewRemoveEntryHandler(
	streakRepo streak.Repository,
	completionRepo streak.CompletionRepository,
	txRepo reward.Repository,
	statsRepo reward.StatsRepository,
	ledger *streak.Ledger,
	processor *reward.Processor,
	publisher shared.EventPublisher,
	logger *slog.Logger,
) *RemoveEntryHandler {
	return &RemoveEntryHandler{
		streakRepo:     streakRepo,
		completionRepo: completionRepo,
		txRepo:         txRepo,
		statsRepo:      statsRepo,
		ledger:         ledger,
		processor:      processor,
		publisher:      publisher,
		retrier:        retry.OptimisticLockRetrier(),
		logger:         logger.With("handler", "remove_entry"),
	}
}

// Handle выполняет команду.
func (h *RemoveEntryHandler) Handle(ctx context.Context, cmd RemoveEntryCommand) (*RemoveEntryResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	feature := cmd.Feature
	if !feature.IsValid() {
		feature = shared.FeatureJournal
	}
	day := timeutil.Day(cmd.Date)

	reversal, err := h.processor.Reverse(reward.ReverseInput{
		UserID:           cmd.UserID,
		Feature:          feature,
		Source:           shared.SourceJournalEntry,
		SourceID:         cmd.EntryID,
		Description:      "journal entry removed",
		Date:             day,
		OriginalPosition: cmd.OriginalPosition,
	}, time.Now().UTC())
	if err != nil && !errors.Is(err, shared.ErrNothingToReverse) {
		return nil, fmt.Errorf("remove_entry: %w", err)
	}

	result := &RemoveEntryResult{}
	if reversal != nil {
		newTotal, err := h.txRepo.Save(ctx, reversal)
		if err != nil {
			return nil, fmt.Errorf("remove_entry: save reversal: %w", err)
		}
		result.Reversal = reversal
		result.NewTotalXP = newTotal

		h.publishEvent(shared.NewXPTransactionRecordedEvent(
			cmd.UserID, reversal.ID, reversal.Amount, newTotal,
			shared.SourceJournalEntry, cmd.EntryID, day))
	}

	// Факт выполнения удаляется; серия пересчитывается из оставшихся.
	if err := h.completionRepo.Remove(ctx, cmd.UserID, feature, cmd.EntryID); err != nil {
		return nil, fmt.Errorf("remove_entry: remove completion fact: %w", err)
	}

	pipeline := &actionPipeline{
		streakRepo:     h.streakRepo,
		completionRepo: h.completionRepo,
		txRepo:         h.txRepo,
		statsRepo:      h.statsRepo,
		ledger:         h.ledger,
		processor:      h.processor,
		publisher:      h.publisher,
		retrier:        h.retrier,
		logger:         h.logger,
	}

	// Агрегат дня приводится к живым фактам: позиция следующего действия
	// выводится из них, удалённая запись позицию не занимает.
	liveCount, err := h.completionRepo.CountActionsForDay(ctx, cmd.UserID, feature, day)
	if err != nil {
		return nil, fmt.Errorf("remove_entry: count day actions: %w", err)
	}
	stats, err := pipeline.dailyStats(ctx, cmd.UserID, feature, day)
	if err != nil {
		return nil, fmt.Errorf("remove_entry: %w", err)
	}
	stats.ActionsCount = liveCount
	if reversal != nil {
		stats.XPEarned += reversal.Amount
	}
	if err := h.statsRepo.Save(ctx, stats); err != nil {
		return nil, fmt.Errorf("remove_entry: save daily stats: %w", err)
	}

	state, _, err := pipeline.recomputeStreak(ctx, cmd.UserID, feature, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("remove_entry: %w", err)
	}
	result.StreakState = state

	h.publishEvent(shared.NewStreakUpdatedEvent(
		cmd.UserID, feature, state.CurrentStreak, state.LongestStreak, state.FrozenDays))

	return result, nil
}

func (h *RemoveEntryHandler) publishEvent(event shared.Event) {
	if err := h.publisher.Publish(event); err != nil {
		h.logger.Error("publish event failed",
			"event_type", event.EventType(), "error", err)
	}
}
