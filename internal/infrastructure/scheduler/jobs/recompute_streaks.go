// Package jobs contains implementations of scheduled jobs for the
// progression engine.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/shared"
	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/streak"
	"github.com/TQyronStudio/SelfRiseV2-sub003/pkg/retry"
	"github.com/TQyronStudio/SelfRiseV2-sub003/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECOMPUTE STREAKS JOB
// Ночной пересчёт активных серий. Пересечение полуночи само по себе не
// порождает событий действий, поэтому заморозка долга и автосброс
// обнаруживаются этим проходом, а не только при следующем действии
// пользователя.
// ══════════════════════════════════════════════════════════════════════════════

// RecomputeStreaksJob пересчитывает все активные серии.
type RecomputeStreaksJob struct {
	streakRepo     streak.Repository
	completionRepo streak.CompletionRepository
	ledger         *streak.Ledger
	publisher      shared.EventPublisher
	retrier        *retry.Retrier
	logger         *slog.Logger
	now            func() time.Time

	lastRunStats atomic.Value // *RecomputeStats
}

// RecomputeStats - итоги одного прохода.
type RecomputeStats struct {
	// Processed - сколько серий пересчитано.
	Processed int

	// Frozen - сколько серий заморожено долгом после прохода.
	Frozen int

	// AutoResets - сколько серий автосброшено этим проходом.
	AutoResets int

	// Failed - сколько серий не удалось сохранить.
	Failed int
}

// NewRecomputeStreaksJob создаёт задачу пересчёта серий.
func NewRecomputeStreaksJob(
	streakRepo streak.Repository,
	completionRepo streak.CompletionRepository,
	ledger *streak.Ledger,
	publisher shared.EventPublisher,
	logger *slog.Logger,
) *RecomputeStreaksJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecomputeStreaksJob{
		streakRepo:     streakRepo,
		completionRepo: completionRepo,
		ledger:         ledger,
		publisher:      publisher,
		retrier:        retry.OptimisticLockRetrier(),
		logger:         logger.With("job", "recompute_streaks"),
		now:            time.Now,
	}
}

// Name возвращает имя задачи.
func (j *RecomputeStreaksJob) Name() string {
	return "recompute_streaks"
}

// Description возвращает описание задачи.
func (j *RecomputeStreaksJob) Description() string {
	return "recomputes active streaks so debt freezing and auto-resets happen without user actions"
}

// LastRunStats возвращает итоги последнего прохода (nil до первого).
func (j *RecomputeStreaksJob) LastRunStats() *RecomputeStats {
	stats, _ := j.lastRunStats.Load().(*RecomputeStats)
	return stats
}

// Run выполняет один проход пересчёта.
func (j *RecomputeStreaksJob) Run(ctx context.Context) error {
	states, err := j.streakRepo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active streaks: %w", err)
	}

	stats := &RecomputeStats{}
	for _, state := range states {
		if err := ctx.Err(); err != nil {
			j.lastRunStats.Store(stats)
			return err
		}

		next, err := j.recompute(ctx, state.UserID, state.Feature)
		if err != nil {
			stats.Failed++
			j.logger.Error("streak recompute failed",
				"user_id", state.UserID, "feature", state.Feature, "error", err)
			continue
		}

		stats.Processed++
		if next.IsFrozen {
			stats.Frozen++
		}
		if next.AutoResetAt.After(state.AutoResetAt) {
			stats.AutoResets++
			j.publish(shared.NewStreakAutoResetEvent(
				next.UserID, next.Feature,
				state.CurrentStreak, next.CurrentStreak, next.AutoResetReason))
		}
		if j.changed(state, next) {
			j.publish(shared.NewStreakUpdatedEvent(
				next.UserID, next.Feature,
				next.CurrentStreak, next.LongestStreak, next.FrozenDays))
		}
	}

	j.lastRunStats.Store(stats)
	j.logger.Info("recompute pass finished",
		"processed", stats.Processed,
		"frozen", stats.Frozen,
		"auto_resets", stats.AutoResets,
		"failed", stats.Failed,
	)
	return nil
}

// recompute пересчитывает одну серию с повтором при конфликте версий.
func (j *RecomputeStreaksJob) recompute(ctx context.Context, userID string, feature shared.FeatureKind) (*streak.StreakState, error) {
	var result *streak.StreakState

	err := j.retrier.Do(ctx, func(ctx context.Context) error {
		prev, err := j.streakRepo.Get(ctx, userID, feature)
		if err != nil {
			if shared.IsNotFound(err) {
				// Состояние исчезло между листингом и чтением.
				return nil
			}
			return retry.Permanent(fmt.Errorf("get streak: %w", err))
		}

		now := j.now()
		day := timeutil.Day(now)
		dates, err := j.completionRepo.ListDates(ctx, userID, feature,
			day.AddDate(0, 0, -streak.DefaultLookbackDays*40), day)
		if err != nil {
			return retry.Permanent(fmt.Errorf("list completion dates: %w", err))
		}

		next := j.ledger.Recompute(prev, dates, now)
		next.UserID = userID
		next.Feature = feature
		next.Version = prev.Version

		if err := j.streakRepo.Save(ctx, next); err != nil {
			if shared.IsConflict(err) {
				return retry.Retryable(err)
			}
			return retry.Permanent(err)
		}

		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, shared.ErrStreakNotFound
	}
	return result, nil
}

// changed сообщает, изменились ли видимые поля серии.
func (j *RecomputeStreaksJob) changed(prev, next *streak.StreakState) bool {
	return prev.CurrentStreak != next.CurrentStreak ||
		prev.LongestStreak != next.LongestStreak ||
		prev.FrozenDays != next.FrozenDays ||
		prev.IsFrozen != next.IsFrozen
}

func (j *RecomputeStreaksJob) publish(event shared.Event) {
	if j.publisher == nil {
		return
	}
	if err := j.publisher.Publish(event); err != nil {
		j.logger.Error("publish event failed",
			"event_type", event.EventType(), "error", err)
	}
}
