package query

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/challenge"
	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/shared"
	"github.com/TQyronStudio/SelfRiseV2-sub003/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET CHALLENGE QUERY
// Возвращает активный челлендж пользователя: определение, прогресс по
// требованиям, вехи и недельную разбивку текущего месяца.
// ══════════════════════════════════════════════════════════════════════════════

// GetChallengeQuery содержит параметры запроса челленджа.
type GetChallengeQuery struct {
	// UserID - идентификатор пользователя.
	UserID string

	// IncludeWeeks - собирать ли недельную разбивку месяца.
	IncludeWeeks bool
}

// Validate проверяет корректность параметров.
func (q *GetChallengeQuery) Validate() error {
	if q.UserID == "" {
		return shared.ErrInvalidID
	}
	return nil
}

// RequirementDTO - прогресс по одному требованию.
type RequirementDTO struct {
	Key     string `json:"key"`
	Target  int    `json:"target"`
	Current int    `json:"current"`
	Weight  int    `json:"weight"`
}

// MilestoneDTO - достигнутая процентная веха.
type MilestoneDTO struct {
	Percent   int       `json:"percent"`
	ReachedAt time.Time `json:"reached_at"`
	XPAwarded int       `json:"xp_awarded"`
}

// WeekDTO - недельная разбивка.
type WeekDTO struct {
	Week             int                        `json:"week"`
	ActiveDays       int                        `json:"active_days"`
	PerfectDays      int                        `json:"perfect_days"`
	AllFeaturesDays  int                        `json:"all_features_days"`
	XPEarned         int                        `json:"xp_earned"`
	ActionsByFeature map[shared.FeatureKind]int `json:"actions_by_feature"`
}

// ChallengeDTO - активный челлендж для читающей стороны.
type ChallengeDTO struct {
	ChallengeID          string           `json:"challenge_id"`
	UserID               string           `json:"user_id"`
	Month                time.Time        `json:"month"`
	StarRating           int              `json:"star_rating"`
	BaseXPReward         int              `json:"base_xp_reward"`
	Requirements         []RequirementDTO `json:"requirements"`
	CompletionPercentage int              `json:"completion_percentage"`
	DailyConsistency     float64          `json:"daily_consistency"`
	Milestones           []MilestoneDTO   `json:"milestones,omitempty"`
	IsCompleted          bool             `json:"is_completed"`
	CompletedAt          *time.Time       `json:"completed_at,omitempty"`
	Weeks                []WeekDTO        `json:"weeks,omitempty"`
}

// GetChallengeHandler обрабатывает GetChallengeQuery.
type GetChallengeHandler struct {
	challengeRepo challenge.Repository
	snapshotRepo  challenge.SnapshotRepository
	tracker       *challenge.Tracker
	logger        *slog.Logger
}

// NewGetChallengeHandler создаёт обработчик запроса челленджа.
func NewGetChallengeHandler(
	challengeRepo challenge.Repository,
	snapshotRepo challenge.SnapshotRepository,
	tracker *challenge.Tracker,
	logger *slog.Logger,
) *GetChallengeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GetChallengeHandler{
		challengeRepo: challengeRepo,
		snapshotRepo:  snapshotRepo,
		tracker:       tracker,
		logger:        logger.With("query", "get_challenge"),
	}
}

// Handle выполняет запрос. Возвращает ErrNoActiveChallenge, если
// активного челленджа нет.
func (h *GetChallengeHandler) Handle(ctx context.Context, q GetChallengeQuery) (*ChallengeDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	def, err := h.challengeRepo.GetActiveDefinition(ctx, q.UserID)
	if err != nil {
		return nil, err
	}

	progress, err := h.challengeRepo.GetProgress(ctx, def.ID)
	if err != nil {
		if !shared.IsNotFound(err) {
			return nil, err
		}
		progress = challenge.NewProgress(def)
	}

	dto := &ChallengeDTO{
		ChallengeID:          def.ID,
		UserID:               def.UserID,
		Month:                def.Month,
		StarRating:           int(def.StarRating),
		BaseXPReward:         h.tracker.BaseXPReward(def.StarRating),
		CompletionPercentage: progress.CompletionPercentage,
		DailyConsistency:     progress.DailyConsistency,
		IsCompleted:          progress.IsCompleted,
	}
	if !progress.CompletedAt.IsZero() {
		t := progress.CompletedAt
		dto.CompletedAt = &t
	}

	for _, r := range def.Requirements {
		dto.Requirements = append(dto.Requirements, RequirementDTO{
			Key:     r.Key,
			Target:  r.Target,
			Current: progress.ProgressByRequirement[r.Key],
			Weight:  r.Weight,
		})
	}

	for _, rec := range progress.MilestonesReached {
		dto.Milestones = append(dto.Milestones, MilestoneDTO{
			Percent:   rec.Percent,
			ReachedAt: rec.ReachedAt,
			XPAwarded: rec.XPAwarded,
		})
	}
	sort.Slice(dto.Milestones, func(i, j int) bool {
		return dto.Milestones[i].Percent < dto.Milestones[j].Percent
	})

	if q.IncludeWeeks {
		dto.Weeks = h.collectWeeks(ctx, def)
	}
	return dto, nil
}

// collectWeeks пересобирает недельную разбивку из дневных снимков.
// Сбой чтения одной недели не валит весь запрос.
func (h *GetChallengeHandler) collectWeeks(ctx context.Context, def *challenge.Definition) []WeekDTO {
	lastWeek := timeutil.WeekOfMonth(timeutil.EndOfMonth(def.Month))

	var weeks []WeekDTO
	for week := 1; week <= lastWeek; week++ {
		days, err := h.snapshotRepo.ListWeekDays(ctx, def.ID, week)
		if err != nil {
			h.logger.Warn("week snapshots read failed",
				"challenge_id", def.ID, "week", week, "error", err)
			continue
		}
		if len(days) == 0 {
			continue
		}
		b := challenge.RecomputeWeek(def.ID, week, days)
		weeks = append(weeks, WeekDTO{
			Week:             b.Week,
			ActiveDays:       b.ActiveDays,
			PerfectDays:      b.PerfectDays,
			AllFeaturesDays:  b.AllFeaturesDays,
			XPEarned:         b.XPEarned,
			ActionsByFeature: b.ActionsByFeature,
		})
	}
	return weeks
}
