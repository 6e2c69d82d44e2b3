package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/shared"
	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/streak"
	"github.com/TQyronStudio/SelfRiseV2-sub003/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLEANUP LEGACY FILLERS COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// CleanupLegacyCommand удаляет синтетические факты-заглушки старой схемы
// погашения долга и пересчитывает затронутые серии. Операция идемпотентна:
// повторный запуск на чистых данных ничего не меняет.
type CleanupLegacyCommand struct {
	// CorrelationID для трассировки.
	CorrelationID string
}

// CleanupLegacyResult - итог уборки.
type CleanupLegacyResult struct {
	// FillersRemoved - сколько заглушек удалено.
	FillersRemoved int

	// StreaksRecomputed - сколько серий пересчитано.
	StreaksRecomputed int
}

// CleanupLegacyHandler обрабатывает CleanupLegacyCommand.
type CleanupLegacyHandler struct {
	pipeline *actionPipeline
	now      func() time.Time
}

// NewCleanupLegacyHandler создаёт обработчик уборки.
func NewCleanupLegacyHandler(
	streakRepo streak.Repository,
	completionRepo streak.CompletionRepository,
	ledger *streak.Ledger,
	publisher shared.EventPublisher,
	logger *slog.Logger,
) *CleanupLegacyHandler {
	return &CleanupLegacyHandler{
		pipeline: &actionPipeline{
			streakRepo:     streakRepo,
			completionRepo: completionRepo,
			ledger:         ledger,
			publisher:      publisher,
			retrier:        retry.OptimisticLockRetrier(),
			logger:         logger.With("handler", "cleanup_legacy"),
		},
		now: time.Now,
	}
}

// Handle выполняет команду.
func (h *CleanupLegacyHandler) Handle(ctx context.Context, cmd CleanupLegacyCommand) (*CleanupLegacyResult, error) {
	fillers, err := h.pipeline.completionRepo.ListLegacyFillers(ctx)
	if err != nil {
		return nil, fmt.Errorf("cleanup_legacy: list fillers: %w", err)
	}

	type target struct {
		userID  string
		feature shared.FeatureKind
	}
	affected := make(map[target]struct{})
	for _, f := range fillers {
		affected[target{f.UserID, f.Feature}] = struct{}{}
	}

	result := &CleanupLegacyResult{}
	now := h.now()
	for t := range affected {
		removed, err := h.pipeline.completionRepo.DeleteLegacyFillers(ctx, t.userID, t.feature)
		if err != nil {
			return nil, fmt.Errorf("cleanup_legacy: delete fillers for %s/%s: %w", t.userID, t.feature, err)
		}
		result.FillersRemoved += removed

		// Серия пересчитывается по оставшимся реальным фактам. Дни,
		// которые закрывала заглушка, становятся обычными пропусками.
		state, _, err := h.pipeline.recomputeStreak(ctx, t.userID, t.feature, now)
		if err != nil {
			return nil, fmt.Errorf("cleanup_legacy: %w", err)
		}
		result.StreaksRecomputed++

		h.pipeline.publish(shared.NewStreakUpdatedEvent(
			t.userID, t.feature,
			state.CurrentStreak, state.LongestStreak, state.FrozenDays))
	}

	h.pipeline.logger.Info("legacy fillers cleaned up",
		"fillers_removed", result.FillersRemoved,
		"streaks_recomputed", result.StreaksRecomputed,
	)
	return result, nil
}
