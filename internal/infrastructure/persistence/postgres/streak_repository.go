package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/shared"
	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/streak"
	"github.com/TQyronStudio/SelfRiseV2-sub003/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STREAK REPOSITORY IMPLEMENTATION
// Состояние серии хранится как JSONB-пейлоад плюс выделенные колонки
// для счётчиков, по которым фильтруют запросы. Версия в отдельной
// колонке управляет оптимистичной блокировкой.
// ══════════════════════════════════════════════════════════════════════════════

// StreakRepository implements streak.Repository for PostgreSQL.
type StreakRepository struct {
	conn   *Connection
	logger *slog.Logger
}

// NewStreakRepository creates a new StreakRepository.
func NewStreakRepository(conn *Connection, logger *slog.Logger) *StreakRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreakRepository{conn: conn, logger: logger}
}

// streakPayload is the JSONB shape of a streak state.
type streakPayload struct {
	LastCompletedDate     time.Time        `json:"last_completed_date"`
	StreakStartDate       time.Time        `json:"streak_start_date"`
	DebtAnchorDate        time.Time        `json:"debt_anchor_date"`
	FrozenDays            int              `json:"frozen_days"`
	IsFrozen              bool             `json:"is_frozen"`
	CanRecoverWithAd      bool             `json:"can_recover_with_ad"`
	PreserveCurrentStreak bool             `json:"preserve_current_streak"`
	WarmUpPayments        []paymentPayload `json:"warm_up_payments,omitempty"`
	WarmUpHistory         []paymentPayload `json:"warm_up_history,omitempty"`
	AutoResetAt           time.Time        `json:"auto_reset_at"`
	AutoResetReason       string           `json:"auto_reset_reason,omitempty"`
	MilestonesReached     map[string]time.Time `json:"milestones_reached,omitempty"`
}

type paymentPayload struct {
	MissedDate   time.Time `json:"missed_date"`
	UnitsApplied int       `json:"units_applied"`
	AppliedAt    time.Time `json:"applied_at"`
	IsComplete   bool      `json:"is_complete"`
}

func encodeStreakPayload(s *streak.StreakState) ([]byte, error) {
	p := streakPayload{
		LastCompletedDate:     s.LastCompletedDate,
		StreakStartDate:       s.StreakStartDate,
		DebtAnchorDate:        s.DebtAnchorDate,
		FrozenDays:            s.FrozenDays,
		IsFrozen:              s.IsFrozen,
		CanRecoverWithAd:      s.CanRecoverWithAd,
		PreserveCurrentStreak: s.PreserveCurrentStreak,
		WarmUpPayments:        encodePayments(s.WarmUpPayments),
		WarmUpHistory:         encodePayments(s.WarmUpHistory),
		AutoResetAt:           s.AutoResetAt,
		AutoResetReason:       s.AutoResetReason,
	}
	if len(s.MilestonesReached) > 0 {
		p.MilestonesReached = make(map[string]time.Time, len(s.MilestonesReached))
		for days, at := range s.MilestonesReached {
			p.MilestonesReached[strconv.Itoa(days)] = at
		}
	}
	return json.Marshal(p)
}

func encodePayments(in []streak.WarmUpPayment) []paymentPayload {
	if len(in) == 0 {
		return nil
	}
	out := make([]paymentPayload, len(in))
	for i, p := range in {
		out[i] = paymentPayload(p)
	}
	return out
}

func decodePayments(in []paymentPayload) []streak.WarmUpPayment {
	if len(in) == 0 {
		return nil
	}
	out := make([]streak.WarmUpPayment, len(in))
	for i, p := range in {
		out[i] = streak.WarmUpPayment(p)
	}
	return out
}

// Get возвращает состояние серии. Битый пейлоад лечится сбросом до
// пустого состояния: производные данные пересчитываются из фактов.
func (r *StreakRepository) Get(ctx context.Context, userID string, feature shared.FeatureKind) (*streak.StreakState, error) {
	query := `
		SELECT current_streak, longest_streak, payload, version
		FROM streak_states
		WHERE user_id = $1 AND feature = $2
	`

	var (
		current, longest, version int
		raw                       []byte
	)
	err := r.conn.QueryRow(ctx, query, userID, string(feature)).
		Scan(&current, &longest, &raw, &version)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrStreakNotFound
		}
		return nil, fmt.Errorf("get streak state: %w", err)
	}

	state := streak.NewStreakState(userID, feature)
	state.CurrentStreak = current
	state.LongestStreak = longest
	state.Version = version

	var p streakPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		r.logger.Warn("corrupt streak payload, resetting derived state",
			"user_id", userID, "feature", feature, "error", err)
		return state, nil
	}

	state.LastCompletedDate = p.LastCompletedDate
	state.StreakStartDate = p.StreakStartDate
	state.DebtAnchorDate = p.DebtAnchorDate
	state.FrozenDays = p.FrozenDays
	state.IsFrozen = p.IsFrozen
	state.CanRecoverWithAd = p.CanRecoverWithAd
	state.PreserveCurrentStreak = p.PreserveCurrentStreak
	state.WarmUpPayments = decodePayments(p.WarmUpPayments)
	state.WarmUpHistory = decodePayments(p.WarmUpHistory)
	state.AutoResetAt = p.AutoResetAt
	state.AutoResetReason = p.AutoResetReason
	for key, at := range p.MilestonesReached {
		days, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		state.MilestonesReached[days] = at
	}
	return state, nil
}

// Save сохраняет состояние с проверкой версии. Вставка выполняется
// при Version 0, иначе - обновление строки той же версии.
func (r *StreakRepository) Save(ctx context.Context, state *streak.StreakState) error {
	raw, err := encodeStreakPayload(state)
	if err != nil {
		return fmt.Errorf("marshal streak payload: %w", err)
	}

	if state.Version == 0 {
		query := `
			INSERT INTO streak_states (user_id, feature, current_streak, longest_streak, payload, version, updated_at)
			VALUES ($1, $2, $3, $4, $5, 1, NOW())
			ON CONFLICT (user_id, feature) DO NOTHING
		`
		tag, err := r.conn.Exec(ctx, query,
			state.UserID, string(state.Feature),
			state.CurrentStreak, state.LongestStreak, raw)
		if err != nil {
			return fmt.Errorf("insert streak state: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrOptimisticLock
		}
		state.Version = 1
		return nil
	}

	query := `
		UPDATE streak_states
		SET current_streak = $3, longest_streak = $4, payload = $5,
		    version = version + 1, updated_at = NOW()
		WHERE user_id = $1 AND feature = $2 AND version = $6
	`
	tag, err := r.conn.Exec(ctx, query,
		state.UserID, string(state.Feature),
		state.CurrentStreak, state.LongestStreak, raw, state.Version)
	if err != nil {
		return fmt.Errorf("update streak state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrOptimisticLock
	}
	state.Version++
	return nil
}

// ListActive возвращает состояния с живой серией или долгом.
func (r *StreakRepository) ListActive(ctx context.Context) ([]*streak.StreakState, error) {
	query := `
		SELECT user_id, feature
		FROM streak_states
		WHERE current_streak > 0 OR (payload->>'frozen_days')::int > 0
	`

	rows, err := r.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active streaks: %w", err)
	}
	defer rows.Close()

	type key struct {
		userID  string
		feature string
	}
	var keys []key
	for rows.Next() {
		var k key
		if err := rows.Scan(&k.userID, &k.feature); err != nil {
			return nil, fmt.Errorf("scan active streak: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	states := make([]*streak.StreakState, 0, len(keys))
	for _, k := range keys {
		state, err := r.Get(ctx, k.userID, shared.FeatureKind(k.feature))
		if err != nil {
			if shared.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		states = append(states, state)
	}
	return states, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETION REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// CompletionRepository implements streak.CompletionRepository for PostgreSQL.
type CompletionRepository struct {
	conn *Connection
}

// NewCompletionRepository creates a new CompletionRepository.
func NewCompletionRepository(conn *Connection) *CompletionRepository {
	return &CompletionRepository{conn: conn}
}

// Record фиксирует факт выполнения. Повтор по тому же действию идемпотентен.
func (r *CompletionRepository) Record(ctx context.Context, fact streak.CompletionFact) error {
	query := `
		INSERT INTO completion_facts (user_id, feature, date, source_id, origin)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, feature, source_id) DO NOTHING
	`
	_, err := r.conn.Exec(ctx, query,
		fact.UserID, string(fact.Feature), timeutil.Day(fact.Date), fact.SourceID, fact.Origin)
	if err != nil {
		return fmt.Errorf("record completion fact: %w", err)
	}
	return nil
}

// Remove удаляет факт по действию-источнику.
func (r *CompletionRepository) Remove(ctx context.Context, userID string, feature shared.FeatureKind, sourceID string) error {
	query := `DELETE FROM completion_facts WHERE user_id = $1 AND feature = $2 AND source_id = $3`
	if _, err := r.conn.Exec(ctx, query, userID, string(feature), sourceID); err != nil {
		return fmt.Errorf("remove completion fact: %w", err)
	}
	return nil
}

// ListDates возвращает выполненные дни в диапазоне, от старых к новым.
func (r *CompletionRepository) ListDates(ctx context.Context, userID string, feature shared.FeatureKind, from, to time.Time) ([]time.Time, error) {
	query := `
		SELECT DISTINCT date
		FROM completion_facts
		WHERE user_id = $1 AND feature = $2 AND date BETWEEN $3 AND $4
		ORDER BY date
	`

	rows, err := r.conn.Query(ctx, query,
		userID, string(feature), timeutil.Day(from), timeutil.Day(to))
	if err != nil {
		return nil, fmt.Errorf("list completion dates: %w", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan completion date: %w", err)
		}
		dates = append(dates, timeutil.Day(d))
	}
	return dates, rows.Err()
}

// CountActionsForDay возвращает число живых фактов-действий за день.
func (r *CompletionRepository) CountActionsForDay(ctx context.Context, userID string, feature shared.FeatureKind, day time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM completion_facts
		WHERE user_id = $1 AND feature = $2 AND date = $3 AND origin = $4
	`

	var count int
	err := r.conn.QueryRow(ctx, query,
		userID, string(feature), timeutil.Day(day), streak.OriginAction).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count actions for day: %w", err)
	}
	return count, nil
}

// ListLegacyFillers возвращает синтетические факты-заглушки старой схемы.
func (r *CompletionRepository) ListLegacyFillers(ctx context.Context) ([]streak.CompletionFact, error) {
	query := `
		SELECT user_id, feature, date, source_id, origin
		FROM completion_facts
		WHERE origin = $1
	`

	rows, err := r.conn.Query(ctx, query, streak.OriginLegacyFiller)
	if err != nil {
		return nil, fmt.Errorf("list legacy fillers: %w", err)
	}
	defer rows.Close()

	var facts []streak.CompletionFact
	for rows.Next() {
		var (
			f       streak.CompletionFact
			feature string
		)
		if err := rows.Scan(&f.UserID, &feature, &f.Date, &f.SourceID, &f.Origin); err != nil {
			return nil, fmt.Errorf("scan legacy filler: %w", err)
		}
		f.Feature = shared.FeatureKind(feature)
		f.Date = timeutil.Day(f.Date)
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// DeleteLegacyFillers удаляет заглушки пользователя по фиче.
func (r *CompletionRepository) DeleteLegacyFillers(ctx context.Context, userID string, feature shared.FeatureKind) (int, error) {
	query := `DELETE FROM completion_facts WHERE user_id = $1 AND feature = $2 AND origin = $3`
	tag, err := r.conn.Exec(ctx, query, userID, string(feature), streak.OriginLegacyFiller)
	if err != nil {
		return 0, fmt.Errorf("delete legacy fillers: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
