// Package eventhandler содержит обработчики доменных событий.
package eventhandler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/level"
	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/reward"
	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON XP TRANSACTION HANDLER
// Обрабатывает записанную XP-транзакцию: определяет смену уровня,
// начисляет разовые награды за вехи уровней и публикует level.changed.
//
// Уровень - производная от суммарного XP, поэтому смена уровня
// детектируется сравнением уровней до и после транзакции. Награда за
// веху сама является транзакцией и проходит через этот же обработчик:
// цепочка конечна, потому что награды строго меньше стоимости уровней.
// ═══════════════════════════════════════════════════════════════════════════

// OnXPTransactionHandler обрабатывает событие записи XP-транзакции.
type OnXPTransactionHandler struct {
	calculator *level.Calculator
	processor  *reward.Processor
	txRepo     reward.Repository
	publisher  shared.EventPublisher
	logger     *slog.Logger
	config     XPTransactionConfig
	now        func() time.Time
}

// XPTransactionConfig содержит конфигурацию обработчика.
type XPTransactionConfig struct {
	// AwardMilestoneRewards - начислять ли разовые награды за вехи уровней.
	AwardMilestoneRewards bool

	// InvalidateOnLevelChange - сбрасывать ли кэш калькулятора при смене
	// уровня, чтобы читающие слои не отдавали устаревший прогресс.
	InvalidateOnLevelChange bool
}

// DefaultXPTransactionConfig возвращает конфигурацию по умолчанию.
func DefaultXPTransactionConfig() XPTransactionConfig {
	return XPTransactionConfig{
		AwardMilestoneRewards:   true,
		InvalidateOnLevelChange: true,
	}
}

// NewOnXPTransactionHandler создаёт обработчик XP-транзакций.
func NewOnXPTransactionHandler(
	calculator *level.Calculator,
	processor *reward.Processor,
	txRepo reward.Repository,
	publisher shared.EventPublisher,
	logger *slog.Logger,
	config XPTransactionConfig,
) *OnXPTransactionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnXPTransactionHandler{
		calculator: calculator,
		processor:  processor,
		txRepo:     txRepo,
		publisher:  publisher,
		logger:     logger.With("handler", "on_xp_transaction"),
		config:     config,
		now:        time.Now,
	}
}

// Handle обрабатывает событие. Реализует shared.EventHandler.
func (h *OnXPTransactionHandler) Handle(event shared.Event) error {
	ctx := context.Background()

	txEvent, ok := event.(shared.XPTransactionRecordedEvent)
	if !ok {
		h.logger.Warn("received non-XPTransactionRecordedEvent",
			"event_type", event.EventType())
		return nil
	}

	oldTotal := txEvent.NewTotal - txEvent.Amount
	oldLevel := h.calculator.CurrentLevel(oldTotal)
	newLevel := h.calculator.CurrentLevel(txEvent.NewTotal)
	if newLevel == oldLevel {
		return nil
	}

	h.logger.Info("level changed",
		"user_id", txEvent.UserID,
		"old_level", oldLevel,
		"new_level", newLevel,
		"total_xp", txEvent.NewTotal,
	)

	if h.config.InvalidateOnLevelChange {
		h.calculator.Invalidate()
	}

	var rewardXP []int
	if h.config.AwardMilestoneRewards {
		for _, m := range level.MilestonesCrossed(oldLevel, newLevel) {
			awarded, err := h.awardMilestone(ctx, txEvent.UserID, m)
			if err != nil {
				h.logger.Error("failed to award level milestone",
					"user_id", txEvent.UserID,
					"level", m.Level,
					"error", err,
				)
				continue
			}
			rewardXP = append(rewardXP, awarded...)
		}
	}

	h.publish(shared.NewLevelChangedEvent(
		txEvent.UserID, oldLevel, newLevel, level.IsMilestone(newLevel), rewardXP))
	return nil
}

// awardMilestone начисляет разовые награды одной вехи уровня.
// Возвращает начисленные суммы.
func (h *OnXPTransactionHandler) awardMilestone(
	ctx context.Context,
	userID string,
	m level.Milestone,
) ([]int, error) {
	now := h.now()
	var awarded []int
	for _, xp := range m.RewardXP {
		tx, err := h.processor.AwardFlat(userID, xp,
			shared.SourceLevelMilestone,
			fmt.Sprintf("level_%d", m.Level),
			fmt.Sprintf("level %d milestone reward", m.Level),
			now, now)
		if err != nil {
			return awarded, fmt.Errorf("award flat: %w", err)
		}
		if tx == nil {
			continue
		}

		newTotal, err := h.txRepo.Save(ctx, tx)
		if err != nil {
			return awarded, fmt.Errorf("save milestone transaction: %w", err)
		}
		awarded = append(awarded, tx.Amount)

		h.publish(shared.NewXPTransactionRecordedEvent(
			userID, tx.ID, tx.Amount, newTotal, tx.Source, tx.SourceID, tx.Date))
	}
	return awarded, nil
}

func (h *OnXPTransactionHandler) publish(event shared.Event) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.Publish(event); err != nil {
		h.logger.Error("failed to publish event",
			"event_type", event.EventType(), "error", err)
	}
}
