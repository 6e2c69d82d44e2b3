package jobs

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/application/command"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLEANUP FILLERS JOB
// Периодическая уборка синтетических фактов-заглушек старой схемы.
// Уборка идемпотентна, поэтому расписание может быть сколь угодно частым.
// ══════════════════════════════════════════════════════════════════════════════

// CleanupFillersJob удаляет заглушки оплаченных пропусков и
// пересчитывает затронутые серии.
type CleanupFillersJob struct {
	handler *command.CleanupLegacyHandler
	logger  *slog.Logger

	lastResult atomic.Value // *command.CleanupLegacyResult
}

// NewCleanupFillersJob создаёт задачу уборки заглушек.
func NewCleanupFillersJob(handler *command.CleanupLegacyHandler, logger *slog.Logger) *CleanupFillersJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupFillersJob{
		handler: handler,
		logger:  logger.With("job", "cleanup_fillers"),
	}
}

// Name возвращает имя задачи.
func (j *CleanupFillersJob) Name() string {
	return "cleanup_fillers"
}

// Description возвращает описание задачи.
func (j *CleanupFillersJob) Description() string {
	return "removes synthetic debt filler completion facts and recomputes affected streaks"
}

// LastResult возвращает итог последнего прохода (nil до первого).
func (j *CleanupFillersJob) LastResult() *command.CleanupLegacyResult {
	result, _ := j.lastResult.Load().(*command.CleanupLegacyResult)
	return result
}

// Run выполняет один проход уборки.
func (j *CleanupFillersJob) Run(ctx context.Context) error {
	result, err := j.handler.Handle(ctx, command.CleanupLegacyCommand{})
	if err != nil {
		return err
	}

	j.lastResult.Store(result)
	if result.FillersRemoved > 0 {
		j.logger.Info("legacy fillers removed",
			"fillers_removed", result.FillersRemoved,
			"streaks_recomputed", result.StreaksRecomputed)
	}
	return nil
}
