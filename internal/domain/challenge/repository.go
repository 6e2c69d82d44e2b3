package challenge

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository определяет операции над челленджами и их прогрессом.
type Repository interface {
	// GetActiveDefinition возвращает активный челлендж пользователя.
	// Возвращает ErrNoActiveChallenge, если активного нет.
	GetActiveDefinition(ctx context.Context, userID string) (*Definition, error)

	// SaveDefinition сохраняет определение и делает его активным,
	// архивируя предыдущее.
	SaveDefinition(ctx context.Context, def *Definition) error

	// GetProgress возвращает прогресс по челленджу.
	// Возвращает ErrChallengeNotFound, если прогресса нет.
	GetProgress(ctx context.Context, challengeID string) (*Progress, error)

	// SaveProgress сохраняет прогресс с проверкой версии.
	// Возвращает ErrOptimisticLock при конфликте версий.
	SaveProgress(ctx context.Context, progress *Progress) error
}

// SnapshotRepository определяет операции над дневными снимками
// и недельными агрегатами.
type SnapshotRepository interface {
	// GetDay возвращает снимок дня. Отсутствие данных - nil, не ошибка.
	GetDay(ctx context.Context, challengeID string, date time.Time) (*DailySnapshot, error)

	// SaveDay сохраняет снимок дня (upsert по паре челлендж+день).
	SaveDay(ctx context.Context, snapshot *DailySnapshot) error

	// ListWeekDays возвращает снимки всех дней недели месяца.
	ListWeekDays(ctx context.Context, challengeID string, week int) ([]*DailySnapshot, error)

	// SaveWeek сохраняет недельный агрегат (upsert).
	SaveWeek(ctx context.Context, breakdown WeeklyBreakdown) error
}
