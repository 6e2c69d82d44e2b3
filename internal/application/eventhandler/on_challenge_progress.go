package eventhandler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/challenge"
	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/reward"
	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/shared"
	"github.com/TQyronStudio/SelfRiseV2-sub003/pkg/retry"
	"github.com/TQyronStudio/SelfRiseV2-sub003/pkg/timeutil"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON CHALLENGE PROGRESS HANDLER
// Маршрутизирует XP-транзакции в активный месячный челлендж: счётчики
// требований, процентные вехи, дневной снимок и недельный агрегат.
//
// Вехи идемпотентны: однажды записанная веха не переначисляется, даже
// если эквивалентное событие придёт повторно. Сторно (отрицательные
// суммы) счётчики не уменьшают - прогресс челленджа append-only.
// ═══════════════════════════════════════════════════════════════════════════

// OnChallengeProgressHandler обрабатывает событие записи XP-транзакции
// для активного челленджа.
type OnChallengeProgressHandler struct {
	challengeRepo challenge.Repository
	snapshotRepo  challenge.SnapshotRepository
	tracker       *challenge.Tracker
	processor     *reward.Processor
	txRepo        reward.Repository
	publisher     shared.EventPublisher
	retrier       *retry.Retrier
	logger        *slog.Logger
	config        ChallengeProgressConfig
	now           func() time.Time
}

// ChallengeProgressConfig содержит конфигурацию обработчика.
type ChallengeProgressConfig struct {
	// DailyMinimums - дневной минимум действий по фичам для признания
	// дня "идеальным" в снимке.
	DailyMinimums map[shared.FeatureKind]int
}

// DefaultChallengeProgressConfig возвращает конфигурацию по умолчанию.
func DefaultChallengeProgressConfig() ChallengeProgressConfig {
	return ChallengeProgressConfig{
		DailyMinimums: map[shared.FeatureKind]int{
			shared.FeatureJournal: 3,
			shared.FeatureHabits:  1,
			shared.FeatureGoals:   1,
		},
	}
}

// NewOnChallengeProgressHandler создаёт обработчик прогресса челленджа.
func NewOnChallengeProgressHandler(
	challengeRepo challenge.Repository,
	snapshotRepo challenge.SnapshotRepository,
	tracker *challenge.Tracker,
	processor *reward.Processor,
	txRepo reward.Repository,
	publisher shared.EventPublisher,
	logger *slog.Logger,
	config ChallengeProgressConfig,
) *OnChallengeProgressHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnChallengeProgressHandler{
		challengeRepo: challengeRepo,
		snapshotRepo:  snapshotRepo,
		tracker:       tracker,
		processor:     processor,
		txRepo:        txRepo,
		publisher:     publisher,
		retrier:       retry.OptimisticLockRetrier(),
		logger:        logger.With("handler", "on_challenge_progress"),
		config:        config,
		now:           time.Now,
	}
}

// Handle обрабатывает событие. Реализует shared.EventHandler.
func (h *OnChallengeProgressHandler) Handle(event shared.Event) error {
	ctx := context.Background()

	txEvent, ok := event.(shared.XPTransactionRecordedEvent)
	if !ok {
		h.logger.Warn("received non-XPTransactionRecordedEvent",
			"event_type", event.EventType())
		return nil
	}

	// Сторно не уменьшают счётчики, а транзакции без фичи (вехи уровней,
	// награды самого челленджа) к требованиям не относятся и не должны
	// порождать новые награды.
	if txEvent.Amount < 0 || txEvent.Source.Feature() == "" {
		return nil
	}

	def, err := h.challengeRepo.GetActiveDefinition(ctx, txEvent.UserID)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("get active challenge: %w", err)
	}

	day := timeutil.Day(txEvent.Date)
	if !timeutil.IsSameDay(timeutil.StartOfMonth(day), timeutil.StartOfMonth(def.Month)) {
		return nil
	}

	awards, err := h.applyProgress(ctx, def, txEvent.Source, day)
	if err != nil {
		return err
	}

	for _, award := range awards {
		if err := h.awardMilestone(ctx, def, award, day); err != nil {
			h.logger.Error("failed to award challenge milestone",
				"challenge_id", def.ID,
				"percent", award.Percent,
				"error", err,
			)
		}
	}

	if err := h.updateSnapshot(ctx, def, txEvent, day); err != nil {
		h.logger.Error("failed to update daily snapshot",
			"challenge_id", def.ID,
			"date", day,
			"error", err,
		)
	}
	return nil
}

// applyProgress проводит транзакцию через трекер с повтором при
// конфликте версий прогресса.
func (h *OnChallengeProgressHandler) applyProgress(
	ctx context.Context,
	def *challenge.Definition,
	source shared.SourceKind,
	day time.Time,
) ([]challenge.MilestoneAward, error) {
	var awards []challenge.MilestoneAward

	err := h.retrier.Do(ctx, func(ctx context.Context) error {
		prev, err := h.challengeRepo.GetProgress(ctx, def.ID)
		if err != nil {
			if !shared.IsNotFound(err) {
				return retry.Permanent(fmt.Errorf("get progress: %w", err))
			}
			prev = challenge.NewProgress(def)
		}

		next, crossed := h.tracker.Apply(def, prev, source, day)
		if next == prev {
			// Источник не относится ни к одному требованию.
			awards = nil
			return nil
		}

		if err := h.challengeRepo.SaveProgress(ctx, next); err != nil {
			if shared.IsConflict(err) {
				return retry.Retryable(err)
			}
			return retry.Permanent(fmt.Errorf("save progress: %w", err))
		}
		awards = crossed
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("apply challenge progress: %w", err)
	}
	return awards, nil
}

// awardMilestone начисляет разовую награду вехи и публикует события.
func (h *OnChallengeProgressHandler) awardMilestone(
	ctx context.Context,
	def *challenge.Definition,
	award challenge.MilestoneAward,
	day time.Time,
) error {
	source := shared.SourceChallengeMilestone
	description := fmt.Sprintf("challenge %d%% milestone", award.Percent)
	if award.IsCompletion {
		source = shared.SourceChallengeComplete
		description = "challenge completed"
		if award.IsPerfect {
			description = "challenge completed perfectly"
		}
	}

	now := h.now()
	tx, err := h.processor.AwardFlat(def.UserID, award.XP, source, def.ID, description, day, now)
	if err != nil {
		return fmt.Errorf("award flat: %w", err)
	}
	if tx != nil {
		newTotal, err := h.txRepo.Save(ctx, tx)
		if err != nil {
			return fmt.Errorf("save milestone transaction: %w", err)
		}
		h.publish(shared.NewXPTransactionRecordedEvent(
			def.UserID, tx.ID, tx.Amount, newTotal, tx.Source, tx.SourceID, tx.Date))
	}

	if award.IsCompletion {
		h.publish(shared.NewChallengeCompletedEvent(def.UserID, def.ID, award.IsPerfect, award.XP))
	} else {
		h.publish(shared.NewChallengeMilestoneReachedEvent(def.UserID, def.ID, award.Percent, award.XP))
	}
	return nil
}

// updateSnapshot обновляет снимок дня и пересобирает недельный агрегат.
func (h *OnChallengeProgressHandler) updateSnapshot(
	ctx context.Context,
	def *challenge.Definition,
	txEvent shared.XPTransactionRecordedEvent,
	day time.Time,
) error {
	snap, err := h.snapshotRepo.GetDay(ctx, def.ID, day)
	if err != nil {
		h.logger.Warn("snapshot read failed, starting empty",
			"challenge_id", def.ID, "date", day, "error", err)
	}
	if snap == nil {
		snap = challenge.NewDailySnapshot(def.ID, def.UserID, day)
	}

	snap.Apply(txEvent.Source, txEvent.Amount, h.config.DailyMinimums)
	if err := h.snapshotRepo.SaveDay(ctx, snap); err != nil {
		return fmt.Errorf("save day snapshot: %w", err)
	}

	// Недельный агрегат пересобирается целиком из дневных снимков.
	days, err := h.snapshotRepo.ListWeekDays(ctx, def.ID, snap.WeekNumber)
	if err != nil {
		return fmt.Errorf("list week days: %w", err)
	}
	week := challenge.RecomputeWeek(def.ID, snap.WeekNumber, days)
	if err := h.snapshotRepo.SaveWeek(ctx, week); err != nil {
		return fmt.Errorf("save week breakdown: %w", err)
	}

	h.publish(shared.NewDailySnapshotUpdatedEvent(def.UserID, def.ID, day))
	return nil
}

func (h *OnChallengeProgressHandler) publish(event shared.Event) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.Publish(event); err != nil {
		h.logger.Error("failed to publish event",
			"event_type", event.EventType(), "error", err)
	}
}
