package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/reward"
	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/shared"
	"github.com/TQyronStudio/SelfRiseV2-sub003/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// TRANSACTION REPOSITORY IMPLEMENTATION
// Журнал транзакций append-only; суммарный XP ведётся в отдельной
// таблице и обновляется в той же транзакции БД, что и вставка строки
// журнала. Метаданные разбивки хранятся в JSONB.
// ══════════════════════════════════════════════════════════════════════════════

// TransactionRepository implements reward.Repository for PostgreSQL.
type TransactionRepository struct {
	conn   *Connection
	logger *slog.Logger
}

// NewTransactionRepository creates a new TransactionRepository.
func NewTransactionRepository(conn *Connection, logger *slog.Logger) *TransactionRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &TransactionRepository{conn: conn, logger: logger}
}

// Save атомарно записывает транзакцию и обновляет суммарный XP.
func (r *TransactionRepository) Save(ctx context.Context, t *reward.XPTransaction) (int, error) {
	metadata, err := encodeMetadata(t.Metadata)
	if err != nil {
		return 0, fmt.Errorf("marshal transaction metadata: %w", err)
	}

	var newTotal int
	err = r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		insert := `
			INSERT INTO xp_transactions (id, user_id, amount, source, source_id, description, date, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`
		if _, err := tx.Exec(ctx, insert,
			t.ID, t.UserID, t.Amount, string(t.Source), t.SourceID,
			t.Description, timeutil.Day(t.Date), metadata, t.CreatedAt); err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}

		upsert := `
			INSERT INTO xp_totals (user_id, total_xp, updated_at)
			VALUES ($1, GREATEST($2, 0), NOW())
			ON CONFLICT (user_id) DO UPDATE
			SET total_xp = GREATEST(xp_totals.total_xp + $2, 0), updated_at = NOW()
			RETURNING total_xp
		`
		return tx.QueryRow(ctx, upsert, t.UserID, t.Amount).Scan(&newTotal)
	})
	if err != nil {
		return 0, err
	}
	return newTotal, nil
}

// GetByID возвращает транзакцию по идентификатору.
func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*reward.XPTransaction, error) {
	query := selectTransaction + ` WHERE id = $1`
	return r.scanTransaction(r.conn.QueryRow(ctx, query, id))
}

// FindBySource возвращает исходную (положительную) транзакцию действия.
func (r *TransactionRepository) FindBySource(ctx context.Context, userID string, source shared.SourceKind, sourceID string) (*reward.XPTransaction, error) {
	query := selectTransaction + `
		WHERE user_id = $1 AND source = $2 AND source_id = $3 AND amount > 0
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.scanTransaction(r.conn.QueryRow(ctx, query, userID, string(source), sourceID))
}

// ListByUserAndDate возвращает транзакции дня, от старых к новым.
func (r *TransactionRepository) ListByUserAndDate(ctx context.Context, userID string, date time.Time) ([]*reward.XPTransaction, error) {
	query := selectTransaction + `
		WHERE user_id = $1 AND date = $2
		ORDER BY created_at
	`
	rows, err := r.conn.Query(ctx, query, userID, timeutil.Day(date))
	if err != nil {
		return nil, fmt.Errorf("list transactions by date: %w", err)
	}
	return r.scanTransactions(rows)
}

// ListByUser возвращает последние транзакции, от новых к старым.
func (r *TransactionRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*reward.XPTransaction, error) {
	query := selectTransaction + `
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.conn.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return r.scanTransactions(rows)
}

// TotalXP возвращает суммарный XP. Отсутствие строки - 0.
func (r *TransactionRepository) TotalXP(ctx context.Context, userID string) (int, error) {
	var total int
	err := r.conn.QueryRow(ctx,
		`SELECT total_xp FROM xp_totals WHERE user_id = $1`, userID).Scan(&total)
	if err != nil {
		if IsNoRows(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("get total xp: %w", err)
	}
	return total, nil
}

const selectTransaction = `
	SELECT id, user_id, amount, source, source_id, description, date, metadata, created_at
	FROM xp_transactions
`

func (r *TransactionRepository) scanTransaction(row pgx.Row) (*reward.XPTransaction, error) {
	var (
		t        reward.XPTransaction
		source   string
		metadata []byte
	)
	err := row.Scan(&t.ID, &t.UserID, &t.Amount, &source, &t.SourceID,
		&t.Description, &t.Date, &metadata, &t.CreatedAt)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	t.Source = shared.SourceKind(source)
	t.Date = timeutil.Day(t.Date)
	t.Metadata = decodeMetadata(metadata, r.logger, t.ID)
	return &t, nil
}

func (r *TransactionRepository) scanTransactions(rows pgx.Rows) ([]*reward.XPTransaction, error) {
	defer rows.Close()

	var out []*reward.XPTransaction
	for rows.Next() {
		t, err := r.scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// encodeMetadata сериализует метаданные. Карта вех серии хранится с
// ключами-строками, как того требует JSON.
func encodeMetadata(m map[string]interface{}) ([]byte, error) {
	if len(m) == 0 {
		return []byte(`{}`), nil
	}
	clean := make(map[string]interface{}, len(m))
	for k, v := range m {
		if breakdown, ok := v.(map[int]int); ok {
			str := make(map[string]int, len(breakdown))
			for days, xp := range breakdown {
				str[strconv.Itoa(days)] = xp
			}
			clean[k] = str
			continue
		}
		clean[k] = v
	}
	return json.Marshal(clean)
}

// decodeMetadata разбирает метаданные, восстанавливая целочисленные
// ключи разбивки вех. Битые метаданные не валят чтение журнала.
func decodeMetadata(raw []byte, logger *slog.Logger, txID string) map[string]interface{} {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		logger.Warn("corrupt transaction metadata", "transaction_id", txID, "error", err)
		return nil
	}
	if len(m) == 0 {
		return nil
	}
	if v, ok := m[reward.MetaStreakMilestones]; ok {
		if rawMap, ok := v.(map[string]interface{}); ok {
			breakdown := make(map[int]int, len(rawMap))
			for key, val := range rawMap {
				days, err := strconv.Atoi(key)
				if err != nil {
					continue
				}
				if xp, ok := val.(float64); ok {
					breakdown[days] = int(xp)
				}
			}
			m[reward.MetaStreakMilestones] = breakdown
		}
	}
	// Числовые значения JSON приходят как float64.
	for _, key := range []string{reward.MetaTierXP, reward.MetaDailyPosition, reward.MetaPositionMilestone, reward.MetaReversalOfPosition} {
		if v, ok := m[key].(float64); ok {
			m[key] = int(v)
		}
	}
	return m
}

// ══════════════════════════════════════════════════════════════════════════════
// DAILY STATS REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// StatsRepository implements reward.StatsRepository for PostgreSQL.
type StatsRepository struct {
	conn *Connection
}

// NewStatsRepository creates a new StatsRepository.
func NewStatsRepository(conn *Connection) *StatsRepository {
	return &StatsRepository{conn: conn}
}

// Get возвращает агрегат дня. Отсутствие строки - (nil, nil).
func (r *StatsRepository) Get(ctx context.Context, userID string, feature shared.FeatureKind, date time.Time) (*reward.DailyStats, error) {
	query := `
		SELECT actions_count, milestone_positions, xp_earned
		FROM daily_stats
		WHERE user_id = $1 AND feature = $2 AND date = $3
	`

	var (
		stats = reward.DailyStats{
			UserID:  userID,
			Feature: feature,
			Date:    timeutil.Day(date),
		}
		raw []byte
	)
	err := r.conn.QueryRow(ctx, query, userID, string(feature), timeutil.Day(date)).
		Scan(&stats.ActionsCount, &raw, &stats.XPEarned)
	if err != nil {
		if IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get daily stats: %w", err)
	}

	stats.MilestonePositionsAwarded = decodePositions(raw)
	return &stats, nil
}

// Save сохраняет агрегат дня (upsert).
func (r *StatsRepository) Save(ctx context.Context, stats *reward.DailyStats) error {
	raw, err := encodePositions(stats.MilestonePositionsAwarded)
	if err != nil {
		return fmt.Errorf("marshal milestone positions: %w", err)
	}

	query := `
		INSERT INTO daily_stats (user_id, feature, date, actions_count, milestone_positions, xp_earned)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, feature, date) DO UPDATE
		SET actions_count = EXCLUDED.actions_count,
		    milestone_positions = EXCLUDED.milestone_positions,
		    xp_earned = EXCLUDED.xp_earned
	`
	_, err = r.conn.Exec(ctx, query,
		stats.UserID, string(stats.Feature), timeutil.Day(stats.Date),
		stats.ActionsCount, raw, stats.XPEarned)
	if err != nil {
		return fmt.Errorf("save daily stats: %w", err)
	}
	return nil
}

func encodePositions(positions map[int]bool) ([]byte, error) {
	if len(positions) == 0 {
		return []byte(`{}`), nil
	}
	str := make(map[string]bool, len(positions))
	for pos, awarded := range positions {
		str[strconv.Itoa(pos)] = awarded
	}
	return json.Marshal(str)
}

func decodePositions(raw []byte) map[int]bool {
	out := make(map[int]bool)
	if len(raw) == 0 {
		return out
	}
	var str map[string]bool
	if err := json.Unmarshal(raw, &str); err != nil {
		return out
	}
	for key, awarded := range str {
		if pos, err := strconv.Atoi(key); err == nil {
			out[pos] = awarded
		}
	}
	return out
}
