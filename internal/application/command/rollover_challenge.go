package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/challenge"
	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/shared"
	"github.com/TQyronStudio/SelfRiseV2-sub003/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ROLLOVER CHALLENGE COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// RolloverChallengeCommand активирует челлендж нового месяца. Предыдущий
// челлендж архивируется хранилищем, его прогресс и вехи остаются в истории.
type RolloverChallengeCommand struct {
	// Definition - определение нового челленджа.
	Definition *challenge.Definition

	// CorrelationID для трассировки.
	CorrelationID string
}

// Validate проверяет команду.
func (c RolloverChallengeCommand) Validate() error {
	if c.Definition == nil {
		return fmt.Errorf("rollover_challenge: %w: definition is required", shared.ErrEmptyValue)
	}
	if err := c.Definition.Validate(); err != nil {
		return fmt.Errorf("rollover_challenge: %w", err)
	}
	if c.Definition.Month.IsZero() {
		return fmt.Errorf("rollover_challenge: %w: month is required", shared.ErrEmptyValue)
	}
	return nil
}

// RolloverChallengeResult - итог смены периода.
type RolloverChallengeResult struct {
	Definition *challenge.Definition
	Progress   *challenge.Progress
}

// RolloverChallengeHandler обрабатывает RolloverChallengeCommand.
type RolloverChallengeHandler struct {
	challengeRepo challenge.Repository
	publisher     shared.EventPublisher
	logger        *slog.Logger
}

// NewRolloverChallengeHandler создаёт обработчик смены периода.
func NewRolloverChallengeHandler(
	challengeRepo challenge.Repository,
	publisher shared.EventPublisher,
	logger *slog.Logger,
) *RolloverChallengeHandler {
	return &RolloverChallengeHandler{
		challengeRepo: challengeRepo,
		publisher:     publisher,
		logger:        logger.With("handler", "rollover_challenge"),
	}
}

// Handle выполняет команду. Повторная активация того же челленджа
// безопасна: существующий прогресс не перезаписывается нулевым.
func (h *RolloverChallengeHandler) Handle(ctx context.Context, cmd RolloverChallengeCommand) (*RolloverChallengeResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	def := cmd.Definition
	def.Month = timeutil.StartOfMonth(def.Month)

	if err := h.challengeRepo.SaveDefinition(ctx, def); err != nil {
		return nil, fmt.Errorf("rollover_challenge: save definition: %w", err)
	}

	progress, err := h.challengeRepo.GetProgress(ctx, def.ID)
	if err != nil {
		if !shared.IsNotFound(err) {
			return nil, fmt.Errorf("rollover_challenge: load progress: %w", err)
		}
		progress = challenge.NewProgress(def)
		if err := h.challengeRepo.SaveProgress(ctx, progress); err != nil {
			return nil, fmt.Errorf("rollover_challenge: init progress: %w", err)
		}
	}

	h.publish(shared.NewChallengeRolledOverEvent(def.UserID, def.ID, def.Month, int(def.StarRating)))

	h.logger.Info("challenge rolled over",
		"user_id", def.UserID,
		"challenge_id", def.ID,
		"month", def.Month.Format("2006-01"),
		"star_rating", int(def.StarRating),
	)
	return &RolloverChallengeResult{Definition: def, Progress: progress}, nil
}

func (h *RolloverChallengeHandler) publish(event shared.Event) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.Publish(event); err != nil {
		h.logger.Error("failed to publish event", "event", event.EventType(), "error", err)
	}
}
