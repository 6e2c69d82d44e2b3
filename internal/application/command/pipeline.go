// Package command содержит операции записи (CQRS - Commands).
// Команды - точки входа входящих событий действий: они обновляют серию,
// начисляют награду единой транзакцией и публикуют исходящие события.
// Факт самого действия (запись, привычка) уже долговечен на стороне
// вызывающего слоя: начисление наград best-effort и никогда не приводит
// к откату первичной записи.
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
	"github.com/TQyronStudio/SelfRiseV2-sub003/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACTION PIPELINE
// Общий конвейер начисления для входящих действий: факт выполнения дня,
// пересчёт серии, позиция действия в дне, единая XP-транзакция.
// ══════════════════════════════════════════════════════════════════════════════

// actionPipeline выполняет общие шаги обработки одного действия.
type actionPipeline struct {
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

// actionResult - итог конвейера для одного действия.
type actionResult struct {
	Transaction   *reward.XPTransaction
	NewTotalXP    int
	DailyPosition shared.DailyPosition
	StreakState   *streak.StreakState
	NewMilestones []int
}

// process проводит действие через конвейер: фиксирует факт выполнения,
// пересчитывает серию с оптимистичным повтором, начисляет слитую
// награду и публикует события.
func (p *actionPipeline) process(
	ctx context.Context,
	userID string,
	feature shared.FeatureKind,
	source shared.SourceKind,
	sourceID, description string,
	occurred time.Time,
) (*actionResult, error) {
	day := timeutil.Day(occurred)

	if err := p.completionRepo.Record(ctx, streak.CompletionFact{
		UserID:   userID,
		Feature:  feature,
		Date:     day,
		SourceID: sourceID,
		Origin:   streak.OriginAction,
	}); err != nil {
		return nil, fmt.Errorf("record completion fact: %w", err)
	}

	state, newMilestones, err := p.recomputeStreak(ctx, userID, feature, occurred)
	if err != nil {
		return nil, err
	}

	// Позиция действия классифицируется по живым фактам дня: собственный
	// факт уже записан, удалённые действия позицию не занимают.
	liveCount, err := p.completionRepo.CountActionsForDay(ctx, userID, feature, day)
	if err != nil {
		return nil, fmt.Errorf("count day actions: %w", err)
	}
	if liveCount < 1 {
		liveCount = 1
	}
	position := shared.ClampDailyPosition(liveCount)

	stats, err := p.dailyStats(ctx, userID, feature, day)
	if err != nil {
		return nil, err
	}

	tx, err := p.processor.Award(reward.AwardInput{
		UserID:                    userID,
		Feature:                   feature,
		Source:                    source,
		SourceID:                  sourceID,
		Description:               description,
		Date:                      day,
		DailyPosition:             position,
		PositionMilestonesAwarded: stats.MilestonePositionsAwarded,
		NewStreakMilestones:       newMilestones,
	}, occurred)
	if err != nil {
		return nil, fmt.Errorf("award: %w", err)
	}

	result := &actionResult{
		DailyPosition: position,
		StreakState:   state,
		NewMilestones: newMilestones,
	}

	newTotal := 0
	if tx != nil {
		newTotal, err = p.txRepo.Save(ctx, tx)
		if err != nil {
			return nil, fmt.Errorf("save transaction: %w", err)
		}
		result.Transaction = tx
		result.NewTotalXP = newTotal
	}

	// Агрегат дня зеркалирует живое число действий, а не накапливает его.
	stats.ActionsCount = liveCount
	if tx != nil {
		if _, ok := tx.Metadata[reward.MetaPositionMilestone]; ok {
			stats.MilestonePositionsAwarded[int(position)] = true
		}
		stats.XPEarned += tx.Amount
	}
	if err := p.statsRepo.Save(ctx, stats); err != nil {
		return nil, fmt.Errorf("save daily stats: %w", err)
	}

	p.publishActionEvents(userID, feature, source, sourceID, day, occurred, result)
	return result, nil
}

// recomputeStreak пересчитывает серию с повтором при конфликте версий.
func (p *actionPipeline) recomputeStreak(
	ctx context.Context,
	userID string,
	feature shared.FeatureKind,
	today time.Time,
) (*streak.StreakState, []int, error) {
	var state *streak.StreakState
	var newMilestones []int

	err := p.retrier.Do(ctx, func(ctx context.Context) error {
		prev, err := p.streakRepo.Get(ctx, userID, feature)
		if err != nil {
			if !shared.IsNotFound(err) {
				// Сбой чтения трактуется как отсутствие данных:
				// серия пересчитывается с чистого состояния.
				p.logger.Warn("streak read failed, using empty state",
					"user_id", userID, "feature", feature, "error", err)
			}
			prev = streak.NewStreakState(userID, feature)
		}

		day := timeutil.Day(today)
		dates, err := p.completionRepo.ListDates(ctx, userID, feature,
			day.AddDate(0, 0, -streak.DefaultLookbackDays*40), day)
		if err != nil {
			return retry.Permanent(fmt.Errorf("list completion dates: %w", err))
		}

		next := p.ledger.Recompute(prev, dates, today)
		next.UserID = userID
		next.Feature = feature
		next.Version = prev.Version

		if err := p.streakRepo.Save(ctx, next); err != nil {
			if shared.IsConflict(err) {
				return retry.Retryable(err) // повтор с перечитыванием
			}
			return retry.Permanent(err)
		}

		newMilestones = streak.NewlyReachedMilestones(prev, next)
		state = next
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("recompute streak: %w", err)
	}
	return state, newMilestones, nil
}

// dailyStats читает агрегат дня, трактуя сбой чтения как пустой агрегат.
func (p *actionPipeline) dailyStats(ctx context.Context, userID string, feature shared.FeatureKind, day time.Time) (*reward.DailyStats, error) {
	stats, err := p.statsRepo.Get(ctx, userID, feature, day)
	if err != nil {
		p.logger.Warn("daily stats read failed, using empty stats",
			"user_id", userID, "feature", feature, "error", err)
	}
	if stats == nil {
		stats = &reward.DailyStats{
			UserID:                    userID,
			Feature:                   feature,
			Date:                      day,
			MilestonePositionsAwarded: make(map[int]bool),
		}
	}
	if stats.MilestonePositionsAwarded == nil {
		stats.MilestonePositionsAwarded = make(map[int]bool)
	}
	return stats, nil
}

// publishActionEvents публикует исходящие события конвейера.
func (p *actionPipeline) publishActionEvents(
	userID string,
	feature shared.FeatureKind,
	source shared.SourceKind,
	sourceID string,
	day, occurred time.Time,
	res *actionResult,
) {
	if res.Transaction != nil {
		p.publish(shared.NewXPTransactionRecordedEvent(
			userID, res.Transaction.ID, res.Transaction.Amount, res.NewTotalXP,
			source, sourceID, day))
	}

	if res.StreakState != nil {
		p.publish(shared.NewStreakUpdatedEvent(
			userID, feature,
			res.StreakState.CurrentStreak, res.StreakState.LongestStreak,
			res.StreakState.FrozenDays))
	}

	for _, days := range res.NewMilestones {
		bonus := 0
		if res.Transaction != nil {
			if breakdown, ok := res.Transaction.Metadata[reward.MetaStreakMilestones].(map[int]int); ok {
				bonus = breakdown[days]
			}
		}
		p.publish(shared.NewStreakMilestoneReachedEvent(userID, feature, days, bonus))
	}
}

// publish отправляет событие, логируя сбой вместо прерывания конвейера.
func (p *actionPipeline) publish(event shared.Event) {
	if err := p.publisher.Publish(event); err != nil {
		p.logger.Error("publish event failed",
			"event_type", event.EventType(), "aggregate_id", event.AggregateID(), "error", err)
	}
}
