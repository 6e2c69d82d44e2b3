package eventhandler

import (
	"context"
	"log/slog"
	"time"

	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/application/query"
	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON PROJECTION INVALIDATE HANDLER
// Сбрасывает кэшированные проекции чтения при изменении суммарного XP.
// Промах после сброса дешевле, чем отдача устаревшего прогресса.
// ═══════════════════════════════════════════════════════════════════════════

// OnProjectionInvalidateHandler удаляет проекции пользователя из кэша
// при записи XP-транзакции.
type OnProjectionInvalidateHandler struct {
	cache   query.ProjectionCache
	logger  *slog.Logger
	timeout time.Duration
}

// NewOnProjectionInvalidateHandler создаёт обработчик инвалидации проекций.
func NewOnProjectionInvalidateHandler(cache query.ProjectionCache, logger *slog.Logger) *OnProjectionInvalidateHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnProjectionInvalidateHandler{
		cache:   cache,
		logger:  logger.With("handler", "on_projection_invalidate"),
		timeout: 3 * time.Second,
	}
}

// Handle обрабатывает событие. Реализует shared.EventHandler.
func (h *OnProjectionInvalidateHandler) Handle(event shared.Event) error {
	txEvent, ok := event.(shared.XPTransactionRecordedEvent)
	if !ok {
		h.logger.Warn("received non-XPTransactionRecordedEvent",
			"event_type", event.EventType())
		return nil
	}
	if h.cache == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	// Сбой кэша не должен ронять обработку события: запись уже
	// сохранена, протухшая проекция истечёт по TTL.
	if err := h.cache.Delete(ctx, query.ProgressCacheKey(txEvent.UserID)); err != nil {
		h.logger.Warn("failed to invalidate projection",
			"user_id", txEvent.UserID, "error", err)
	}
	return nil
}
