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
// RECORD ENTRY COMMAND
// Обрабатывает входящее событие EntryRecorded: запись журнала уже
// долговечна на стороне хранилища, команда начисляет награды и
// обновляет серию.
// ══════════════════════════════════════════════════════════════════════════════

// RecordEntryCommand содержит данные записанного действия.
type RecordEntryCommand struct {
	// UserID - идентификатор пользователя.
	UserID string

	// Feature - фича записи (journal по умолчанию).
	Feature shared.FeatureKind

	// EntryID - идентификатор записи.
	EntryID string

	// Date - день записи.
	Date time.Time

	// CorrelationID для трассировки.
	CorrelationID string
}

// Validate проверяет команду.
func (c RecordEntryCommand) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("record_entry: %w: user_id is required", shared.ErrEmptyValue)
	}
	if c.EntryID == "" {
		return fmt.Errorf("record_entry: %w: entry_id is required", shared.ErrEmptyValue)
	}
	if c.Date.IsZero() {
		return fmt.Errorf("record_entry: %w: date is required", shared.ErrEmptyValue)
	}
	return nil
}

// RecordEntryResult - итог обработки записи.
type RecordEntryResult struct {
	// Transaction - созданная транзакция (nil, если награда нулевая).
	Transaction *reward.XPTransaction

	// NewTotalXP - суммарный XP после начисления.
	NewTotalXP int

	// DailyPosition - зафиксированная позиция записи в дне.
	DailyPosition shared.DailyPosition

	// StreakState - состояние серии после пересчёта.
	StreakState *streak.StreakState
}

// RecordEntryHandler обрабатывает RecordEntryCommand.
type RecordEntryHandler struct {
	pipeline *actionPipeline
}

// NewRecordEntryHandler создаёт обработчик записи.
func NewRecordEntryHandler(
	streakRepo streak.Repository,
	completionRepo streak.CompletionRepository,
	txRepo reward.Repository,
	statsRepo reward.StatsRepository,
	ledger *streak.Ledger,
	processor *reward.Processor,
	publisher shared.EventPublisher,
	logger *slog.Logger,
) *RecordEntryHandler {
	return &RecordEntryHandler{
		pipeline: &actionPipeline{
			streakRepo:     streakRepo,
			completionRepo: completionRepo,
			txRepo:         txRepo,
			statsRepo:      statsRepo,
			ledger:         ledger,
			processor:      processor,
			publisher:      publisher,
			retrier:        retry.OptimisticLockRetrier(),
			logger:         logger.With("handler", "record_entry"),
		},
	}
}

// Handle выполняет команду.
func (h *RecordEntryHandler) Handle(ctx context.Context, cmd RecordEntryCommand) (*RecordEntryResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	feature := cmd.Feature
	if !feature.IsValid() {
		feature = shared.FeatureJournal
	}

	res, err := h.pipeline.process(ctx, cmd.UserID, feature,
		shared.SourceJournalEntry, cmd.EntryID, "journal entry", cmd.Date)
	if err != nil {
		return nil, fmt.Errorf("record_entry: %w", err)
	}

	return &RecordEntryResult{
		Transaction:   res.Transaction,
		NewTotalXP:    res.NewTotalXP,
		DailyPosition: res.DailyPosition,
		StreakState:   res.StreakState,
	}, nil
}
