package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/challenge"
	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/shared"
	"github.com/TQyronStudio/SelfRiseV2-sub003/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHALLENGE REPOSITORY IMPLEMENTATION
// Определения и прогресс хранятся в JSONB-колонках; активность и месяц
// вынесены в отдельные колонки. Частичный уникальный индекс гарантирует
// не более одного активного челленджа на пользователя.
// ══════════════════════════════════════════════════════════════════════════════

// ChallengeRepository implements challenge.Repository for PostgreSQL.
type ChallengeRepository struct {
	conn   *Connection
	logger *slog.Logger
}

// NewChallengeRepository creates a new ChallengeRepository.
func NewChallengeRepository(conn *Connection, logger *slog.Logger) *ChallengeRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChallengeRepository{conn: conn, logger: logger}
}

type requirementPayload struct {
	Key     string   `json:"key"`
	Sources []string `json:"sources"`
	Target  int      `json:"target"`
	Weight  int      `json:"weight"`
}

// GetActiveDefinition возвращает активный челлендж пользователя.
func (r *ChallengeRepository) GetActiveDefinition(ctx context.Context, userID string) (*challenge.Definition, error) {
	query := `
		SELECT id, user_id, month, star_rating, requirements
		FROM challenge_definitions
		WHERE user_id = $1 AND is_active
	`

	var (
		def    challenge.Definition
		rating int
		raw    []byte
	)
	err := r.conn.QueryRow(ctx, query, userID).Scan(&def.ID, &def.UserID, &def.Month, &rating, &raw)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrNoActiveChallenge
		}
		return nil, fmt.Errorf("get active challenge: %w", err)
	}

	def.Month = timeutil.StartOfMonth(def.Month)
	def.StarRating = shared.ClampStarRating(rating)
	def.Requirements, err = decodeRequirements(raw)
	if err != nil {
		return nil, fmt.Errorf("decode challenge requirements: %w", err)
	}
	return &def, nil
}

// SaveDefinition сохраняет определение и делает его активным,
// архивируя прежнее определение пользователя в той же транзакции БД.
func (r *ChallengeRepository) SaveDefinition(ctx context.Context, def *challenge.Definition) error {
	raw, err := encodeRequirements(def.Requirements)
	if err != nil {
		return fmt.Errorf("marshal challenge requirements: %w", err)
	}

	return r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		deactivate := `
			UPDATE challenge_definitions
			SET is_active = FALSE
			WHERE user_id = $1 AND is_active AND id <> $2
		`
		if _, err := tx.Exec(ctx, deactivate, def.UserID, def.ID); err != nil {
			return fmt.Errorf("archive previous challenge: %w", err)
		}

		upsert := `
			INSERT INTO challenge_definitions (id, user_id, month, star_rating, requirements, is_active)
			VALUES ($1, $2, $3, $4, $5, TRUE)
			ON CONFLICT (id) DO UPDATE
			SET month = EXCLUDED.month,
			    star_rating = EXCLUDED.star_rating,
			    requirements = EXCLUDED.requirements,
			    is_active = TRUE
		`
		_, err := tx.Exec(ctx, upsert,
			def.ID, def.UserID, timeutil.StartOfMonth(def.Month), int(def.StarRating), raw)
		if err != nil {
			return fmt.Errorf("save challenge definition: %w", err)
		}
		return nil
	})
}

type progressPayload struct {
	ProgressByRequirement map[string]int             `json:"progress_by_requirement"`
	CompletionPercentage  int                        `json:"completion_percentage"`
	MilestonesReached     map[string]milestoneRecord `json:"milestones_reached"`
	ActiveDays            []string                   `json:"active_days"`
	DailyConsistency      float64                    `json:"daily_consistency"`
	IsCompleted           bool                       `json:"is_completed"`
	CompletedAt           time.Time                  `json:"completed_at"`
}

type milestoneRecord struct {
	Percent   int       `json:"percent"`
	ReachedAt time.Time `json:"reached_at"`
	XPAwarded int       `json:"xp_awarded"`
}

// GetProgress возвращает прогресс по челленджу.
func (r *ChallengeRepository) GetProgress(ctx context.Context, challengeID string) (*challenge.Progress, error) {
	query := `
		SELECT user_id, payload, version
		FROM challenge_progress
		WHERE challenge_id = $1
	`

	var (
		p   = challenge.Progress{ChallengeID: challengeID}
		raw []byte
	)
	err := r.conn.QueryRow(ctx, query, challengeID).Scan(&p.UserID, &raw, &p.Version)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrChallengeNotFound
		}
		return nil, fmt.Errorf("get challenge progress: %w", err)
	}

	var payload progressPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		// Битое тело не должно блокировать челлендж: возвращаем пустой
		// прогресс, счётчики восстановятся из последующих событий.
		r.logger.Warn("corrupt challenge progress payload, resetting",
			"challenge_id", challengeID, "error", err)
		p.ProgressByRequirement = make(map[string]int)
		p.MilestonesReached = make(map[int]challenge.MilestoneRecord)
		return &p, nil
	}

	p.ProgressByRequirement = payload.ProgressByRequirement
	if p.ProgressByRequirement == nil {
		p.ProgressByRequirement = make(map[string]int)
	}
	p.CompletionPercentage = payload.CompletionPercentage
	p.MilestonesReached = make(map[int]challenge.MilestoneRecord, len(payload.MilestonesReached))
	for key, rec := range payload.MilestonesReached {
		percent, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		p.MilestonesReached[percent] = challenge.MilestoneRecord{
			Percent:   rec.Percent,
			ReachedAt: rec.ReachedAt,
			XPAwarded: rec.XPAwarded,
		}
	}
	p.ActiveDays = payload.ActiveDays
	p.DailyConsistency = payload.DailyConsistency
	p.IsCompleted = payload.IsCompleted
	p.CompletedAt = payload.CompletedAt
	return &p, nil
}

// SaveProgress сохраняет прогресс с проверкой версии.
func (r *ChallengeRepository) SaveProgress(ctx context.Context, p *challenge.Progress) error {
	payload := progressPayload{
		ProgressByRequirement: p.ProgressByRequirement,
		CompletionPercentage:  p.CompletionPercentage,
		MilestonesReached:     make(map[string]milestoneRecord, len(p.MilestonesReached)),
		ActiveDays:            p.ActiveDays,
		DailyConsistency:      p.DailyConsistency,
		IsCompleted:           p.IsCompleted,
		CompletedAt:           p.CompletedAt,
	}
	for percent, rec := range p.MilestonesReached {
		payload.MilestonesReached[strconv.Itoa(percent)] = milestoneRecord{
			Percent:   rec.Percent,
			ReachedAt: rec.ReachedAt,
			XPAwarded: rec.XPAwarded,
		}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal challenge progress: %w", err)
	}

	if p.Version == 0 {
		insert := `
			INSERT INTO challenge_progress (challenge_id, user_id, payload, version)
			VALUES ($1, $2, $3, 1)
			ON CONFLICT (challenge_id) DO NOTHING
		`
		tag, err := r.conn.Exec(ctx, insert, p.ChallengeID, p.UserID, raw)
		if err != nil {
			return fmt.Errorf("insert challenge progress: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrOptimisticLock
		}
		p.Version = 1
		return nil
	}

	update := `
		UPDATE challenge_progress
		SET payload = $1, version = version + 1
		WHERE challenge_id = $2 AND version = $3
	`
	tag, err := r.conn.Exec(ctx, update, raw, p.ChallengeID, p.Version)
	if err != nil {
		return fmt.Errorf("update challenge progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrOptimisticLock
	}
	p.Version++
	return nil
}

func encodeRequirements(reqs []challenge.Requirement) ([]byte, error) {
	out := make([]requirementPayload, 0, len(reqs))
	for _, req := range reqs {
		sources := make([]string, 0, len(req.Sources))
		for _, s := range req.Sources {
			sources = append(sources, string(s))
		}
		out = append(out, requirementPayload{
			Key:     req.Key,
			Sources: sources,
			Target:  req.Target,
			Weight:  req.Weight,
		})
	}
	return json.Marshal(out)
}

func decodeRequirements(raw []byte) ([]challenge.Requirement, error) {
	var payload []requirementPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	out := make([]challenge.Requirement, 0, len(payload))
	for _, req := range payload {
		sources := make([]shared.SourceKind, 0, len(req.Sources))
		for _, s := range req.Sources {
			sources = append(sources, shared.SourceKind(s))
		}
		out = append(out, challenge.Requirement{
			Key:     req.Key,
			Sources: sources,
			Target:  req.Target,
			Weight:  req.Weight,
		})
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// SnapshotRepository implements challenge.SnapshotRepository for PostgreSQL.
type SnapshotRepository struct {
	conn   *Connection
	logger *slog.Logger
}

// NewSnapshotRepository creates a new SnapshotRepository.
func NewSnapshotRepository(conn *Connection, logger *slog.Logger) *SnapshotRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotRepository{conn: conn, logger: logger}
}

type snapshotPayload struct {
	UserID           string         `json:"user_id"`
	ActionsByFeature map[string]int `json:"actions_by_feature"`
	IsAllFeaturesDay bool           `json:"is_all_features_day"`
	IsPerfectDay     bool           `json:"is_perfect_day"`
	XPEarnedToday    int            `json:"xp_earned_today"`
	DayOfMonth       int            `json:"day_of_month"`
}

// GetDay возвращает снимок дня. Отсутствие строки - (nil, nil).
func (r *SnapshotRepository) GetDay(ctx context.Context, challengeID string, date time.Time) (*challenge.DailySnapshot, error) {
	query := `
		SELECT week_number, payload
		FROM challenge_daily_snapshots
		WHERE challenge_id = $1 AND date = $2
	`

	day := timeutil.Day(date)
	var (
		week int
		raw  []byte
	)
	err := r.conn.QueryRow(ctx, query, challengeID, day).Scan(&week, &raw)
	if err != nil {
		if IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get daily snapshot: %w", err)
	}
	return r.decodeSnapshot(challengeID, day, week, raw), nil
}

// SaveDay сохраняет снимок дня (upsert).
func (r *SnapshotRepository) SaveDay(ctx context.Context, snap *challenge.DailySnapshot) error {
	payload := snapshotPayload{
		UserID:           snap.UserID,
		ActionsByFeature: make(map[string]int, len(snap.ActionsByFeature)),
		IsAllFeaturesDay: snap.IsAllFeaturesDay,
		IsPerfectDay:     snap.IsPerfectDay,
		XPEarnedToday:    snap.XPEarnedToday,
		DayOfMonth:       snap.DayOfMonth,
	}
	for f, c := range snap.ActionsByFeature {
		payload.ActionsByFeature[string(f)] = c
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal daily snapshot: %w", err)
	}

	query := `
		INSERT INTO challenge_daily_snapshots (challenge_id, date, week_number, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (challenge_id, date) DO UPDATE
		SET week_number = EXCLUDED.week_number, payload = EXCLUDED.payload
	`
	_, err = r.conn.Exec(ctx, query, snap.ChallengeID, timeutil.Day(snap.Date), snap.WeekNumber, raw)
	if err != nil {
		return fmt.Errorf("save daily snapshot: %w", err)
	}
	return nil
}

// ListWeekDays возвращает снимки всех дней недели месяца.
func (r *SnapshotRepository) ListWeekDays(ctx context.Context, challengeID string, week int) ([]*challenge.DailySnapshot, error) {
	query := `
		SELECT date, week_number, payload
		FROM challenge_daily_snapshots
		WHERE challenge_id = $1 AND week_number = $2
		ORDER BY date
	`
	rows, err := r.conn.Query(ctx, query, challengeID, week)
	if err != nil {
		return nil, fmt.Errorf("list week snapshots: %w", err)
	}
	defer rows.Close()

	var out []*challenge.DailySnapshot
	for rows.Next() {
		var (
			date    time.Time
			weekNum int
			raw     []byte
		)
		if err := rows.Scan(&date, &weekNum, &raw); err != nil {
			return nil, fmt.Errorf("scan daily snapshot: %w", err)
		}
		out = append(out, r.decodeSnapshot(challengeID, timeutil.Day(date), weekNum, raw))
	}
	return out, rows.Err()
}

// SaveWeek сохраняет недельный агрегат (upsert).
func (r *SnapshotRepository) SaveWeek(ctx context.Context, breakdown challenge.WeeklyBreakdown) error {
	actions := make(map[string]int, len(breakdown.ActionsByFeature))
	for f, c := range breakdown.ActionsByFeature {
		actions[string(f)] = c
	}
	raw, err := json.Marshal(struct {
		ActiveDays       int            `json:"active_days"`
		AllFeaturesDays  int            `json:"all_features_days"`
		PerfectDays      int            `json:"perfect_days"`
		XPEarned         int            `json:"xp_earned"`
		ActionsByFeature map[string]int `json:"actions_by_feature"`
	}{
		ActiveDays:       breakdown.ActiveDays,
		AllFeaturesDays:  breakdown.AllFeaturesDays,
		PerfectDays:      breakdown.PerfectDays,
		XPEarned:         breakdown.XPEarned,
		ActionsByFeature: actions,
	})
	if err != nil {
		return fmt.Errorf("marshal weekly breakdown: %w", err)
	}

	query := `
		INSERT INTO challenge_weekly_breakdowns (challenge_id, week, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (challenge_id, week) DO UPDATE
		SET payload = EXCLUDED.payload
	`
	_, err = r.conn.Exec(ctx, query, breakdown.ChallengeID, breakdown.Week, raw)
	if err != nil {
		return fmt.Errorf("save weekly breakdown: %w", err)
	}
	return nil
}

func (r *SnapshotRepository) decodeSnapshot(challengeID string, day time.Time, week int, raw []byte) *challenge.DailySnapshot {
	snap := &challenge.DailySnapshot{
		ChallengeID:      challengeID,
		Date:             day,
		ActionsByFeature: make(map[shared.FeatureKind]int),
		WeekNumber:       week,
		DayOfMonth:       timeutil.DayOfMonth(day),
	}

	var payload snapshotPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		r.logger.Warn("corrupt daily snapshot payload, resetting",
			"challenge_id", challengeID, "date", timeutil.DayKey(day), "error", err)
		return snap
	}

	snap.UserID = payload.UserID
	for f, c := range payload.ActionsByFeature {
		snap.ActionsByFeature[shared.FeatureKind(f)] = c
	}
	snap.IsAllFeaturesDay = payload.IsAllFeaturesDay
	snap.IsPerfectDay = payload.IsPerfectDay
	snap.XPEarnedToday = payload.XPEarnedToday
	if payload.DayOfMonth > 0 {
		snap.DayOfMonth = payload.DayOfMonth
	}
	return snap
}
