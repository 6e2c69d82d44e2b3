package streak

import (
	"context"
	"time"

	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Эти интерфейсы определяют контракт для работы с хранилищем данных.
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Происхождение факта выполнения. Платёж за пропущенный день - отдельный
// тип (WarmUpPayment) и фактом выполнения быть не может; исторический
// маркер нужен только для уборки артефактов старой схемы.
const (
	// OriginAction - факт порождён реальным действием пользователя.
	OriginAction = "action"

	// OriginLegacyFiller - синтетический факт-заглушка, которым старая
	// схема закрывала оплаченный пропуск. Подлежит удалению уборкой.
	OriginLegacyFiller = "debt_filler"
)

// CompletionFact - факт "день выполнен" для фичи.
type CompletionFact struct {
	// UserID - идентификатор пользователя.
	UserID string

	// Feature - фича.
	Feature shared.FeatureKind

	// Date - выполненный день (начало дня в UTC).
	Date time.Time

	// SourceID - идентификатор действия, породившего факт.
	SourceID string

	// Origin - происхождение факта (action, debt_filler).
	Origin string
}

// Repository определяет операции над состояниями серий.
type Repository interface {
	// Get возвращает состояние серии по пользователю и фиче.
	// Возвращает ErrStreakNotFound, если состояния ещё нет.
	Get(ctx context.Context, userID string, feature shared.FeatureKind) (*StreakState, error)

	// Save сохраняет состояние с проверкой версии.
	// Возвращает ErrOptimisticLock при конфликте версий.
	Save(ctx context.Context, state *StreakState) error

	// ListActive возвращает состояния с ненулевой серией или долгом
	// для ежедневного пересчёта.
	ListActive(ctx context.Context) ([]*StreakState, error)
}

// CompletionRepository определяет операции над фактами выполнения.
type CompletionRepository interface {
	// Record фиксирует факт выполнения дня. Повторная запись того же
	// дня идемпотентна.
	Record(ctx context.Context, fact CompletionFact) error

	// Remove удаляет факт выполнения по действию-источнику.
	Remove(ctx context.Context, userID string, feature shared.FeatureKind, sourceID string) error

	// ListDates возвращает выполненные дни пользователя по фиче
	// в диапазоне [from, to], от старых к новым.
	ListDates(ctx context.Context, userID string, feature shared.FeatureKind, from, to time.Time) ([]time.Time, error)

	// CountActionsForDay возвращает число живых фактов-действий за день.
	// Заглушки старой схемы не считаются.
	CountActionsForDay(ctx context.Context, userID string, feature shared.FeatureKind, day time.Time) (int, error)

	// ListLegacyFillers возвращает синтетические факты-заглушки
	// для уборки.
	ListLegacyFillers(ctx context.Context) ([]CompletionFact, error)

	// DeleteLegacyFillers удаляет синтетические факты-заглушки.
	// Операция идемпотентна. Возвращает число удалённых фактов.
	DeleteLegacyFillers(ctx context.Context, userID string, feature shared.FeatureKind) (int, error)
}
