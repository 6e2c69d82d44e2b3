package reward

import (
	"context"
	"time"

	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// DailyStats - агрегат дня по фиче: сколько действий и какие
// позиции-вехи уже выданы.
type DailyStats struct {
	// UserID - идентификатор пользователя.
	UserID string

	// Feature - фича.
	Feature shared.FeatureKind

	// Date - день (начало дня в UTC).
	Date time.Time

	// ActionsCount - число живых действий за день. Зеркало фактов
	// выполнения: позиция действия всегда выводится из живых фактов,
	// а не из этого счётчика.
	ActionsCount int

	// MilestonePositionsAwarded - позиции-вехи, уже выданные за день.
	MilestonePositionsAwarded map[int]bool

	// XPEarned - заработано XP за день.
	XPEarned int
}

// Repository определяет операции над транзакциями XP.
type Repository interface {
	// Save атомарно записывает транзакцию и обновляет суммарный XP
	// пользователя. Возвращает новый суммарный XP.
	Save(ctx context.Context, tx *XPTransaction) (int, error)

	// GetByID возвращает транзакцию по идентификатору.
	// Возвращает ErrTransactionNotFound, если транзакции нет.
	GetByID(ctx context.Context, id string) (*XPTransaction, error)

	// FindBySource возвращает исходную (не откатную) транзакцию действия.
	// Возвращает ErrTransactionNotFound, если её нет.
	FindBySource(ctx context.Context, userID string, source shared.SourceKind, sourceID string) (*XPTransaction, error)

	// ListByUserAndDate возвращает транзакции пользователя за день,
	// от старых к новым.
	ListByUserAndDate(ctx context.Context, userID string, date time.Time) ([]*XPTransaction, error)

	// ListByUser возвращает историю транзакций пользователя,
	// от новых к старым, с ограничением количества.
	ListByUser(ctx context.Context, userID string, limit int) ([]*XPTransaction, error)

	// TotalXP возвращает суммарный XP пользователя.
	// Отсутствие данных трактуется как 0.
	TotalXP(ctx context.Context, userID string) (int, error)
}

// StatsRepository определяет операции над дневными агрегатами.
type StatsRepository interface {
	// Get возвращает агрегат дня. Отсутствие данных - пустой агрегат,
	// не ошибка.
	Get(ctx context.Context, userID string, feature shared.FeatureKind, date time.Time) (*DailyStats, error)

	// Save сохраняет агрегат дня (upsert).
	Save(ctx context.Context, stats *DailyStats) error
}
