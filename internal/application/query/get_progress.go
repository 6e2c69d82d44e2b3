// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/level"
	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/reward"
	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESS QUERY
// Возвращает уровень и прогресс пользователя по накопленному XP.
// Читающая сторона кэшируется во внешней проекции: запись инвалидирует
// ключ при каждой XP-транзакции, чтение прозрачно проходит сквозь кэш.
// ══════════════════════════════════════════════════════════════════════════════

// ProjectionCache - внешний кэш читающих проекций (реализация в
// infrastructure). Отсутствие ключа - не ошибка.
type ProjectionCache interface {
	// Get возвращает сырое значение ключа либо (nil, nil), если ключа нет.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set записывает значение с TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete удаляет ключ. Отсутствие ключа - не ошибка.
	Delete(ctx context.Context, key string) error
}

// GetProgressQuery содержит параметры запроса прогресса.
type GetProgressQuery struct {
	// UserID - идентификатор пользователя.
	UserID string
}

// Validate проверяет корректность параметров.
func (q *GetProgressQuery) Validate() error {
	if q.UserID == "" {
		return shared.ErrInvalidID
	}
	return nil
}

// ProgressDTO - прогресс пользователя для читающей стороны.
type ProgressDTO struct {
	UserID      string `json:"user_id"`
	TotalXP     int    `json:"total_xp"`
	Level       int    `json:"level"`
	XPIntoLevel int    `json:"xp_into_level"`
	XPToNext    int    `json:"xp_to_next"`
	Percent     int    `json:"percent"`

	// NextMilestoneLevel - ближайшая веха уровней впереди (0, если
	// вехи закончились).
	NextMilestoneLevel int `json:"next_milestone_level"`
}

// GetProgressHandler обрабатывает GetProgressQuery.
type GetProgressHandler struct {
	txRepo     reward.Repository
	calculator *level.Calculator
	cache      ProjectionCache
	cacheTTL   time.Duration
	logger     *slog.Logger
}

// NewGetProgressHandler создаёт обработчик запроса прогресса.
// cache может быть nil - тогда чтение всегда идёт в хранилище.
func NewGetProgressHandler(
	txRepo reward.Repository,
	calculator *level.Calculator,
	cache ProjectionCache,
	cacheTTL time.Duration,
	logger *slog.Logger,
) *GetProgressHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &GetProgressHandler{
		txRepo:     txRepo,
		calculator: calculator,
		cache:      cache,
		cacheTTL:   cacheTTL,
		logger:     logger.With("query", "get_progress"),
	}
}

// ProgressCacheKey возвращает ключ проекции прогресса пользователя.
func ProgressCacheKey(userID string) string {
	return "projection:progress:" + userID
}

// Handle выполняет запрос.
func (h *GetProgressHandler) Handle(ctx context.Context, q GetProgressQuery) (*ProgressDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	if dto := h.fromCache(ctx, q.UserID); dto != nil {
		return dto, nil
	}

	total, err := h.txRepo.TotalXP(ctx, q.UserID)
	if err != nil {
		return nil, err
	}

	p := h.calculator.Progress(total)
	dto := &ProgressDTO{
		UserID:             q.UserID,
		TotalXP:            p.TotalXP,
		Level:              p.Level,
		XPIntoLevel:        p.XPIntoLevel,
		XPToNext:           p.XPToNext,
		Percent:            p.Percent,
		NextMilestoneLevel: nextMilestoneLevel(p.Level),
	}

	h.toCache(ctx, q.UserID, dto)
	return dto, nil
}

func (h *GetProgressHandler) fromCache(ctx context.Context, userID string) *ProgressDTO {
	if h.cache == nil {
		return nil
	}
	raw, err := h.cache.Get(ctx, ProgressCacheKey(userID))
	if err != nil {
		h.logger.Warn("projection cache read failed", "user_id", userID, "error", err)
		return nil
	}
	if raw == nil {
		return nil
	}
	var dto ProgressDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		h.logger.Warn("corrupt projection cache entry", "user_id", userID, "error", err)
		return nil
	}
	return &dto
}

func (h *GetProgressHandler) toCache(ctx context.Context, userID string, dto *ProgressDTO) {
	if h.cache == nil {
		return
	}
	raw, err := json.Marshal(dto)
	if err != nil {
		return
	}
	if err := h.cache.Set(ctx, ProgressCacheKey(userID), raw, h.cacheTTL); err != nil {
		h.logger.Warn("projection cache write failed", "user_id", userID, "error", err)
	}
}

// nextMilestoneLevel возвращает ближайшую веху строго выше уровня.
func nextMilestoneLevel(current int) int {
	for _, m := range level.Milestones() {
		if m.Level > current {
			return m.Level
		}
	}
	return 0
}
