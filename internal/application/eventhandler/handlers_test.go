package eventhandler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/challenge"
	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/level"
	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/reward"
	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/shared"
	"github.com/TQyronStudio/SelfRiseV2-sub003/pkg/timeutil"
)

// ──────────────────────────────────────────────────────────────────────────────
// in-memory фейки
// ──────────────────────────────────────────────────────────────────────────────

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTxRepo struct {
	mu     sync.Mutex
	txs    []*reward.XPTransaction
	totals map[string]int
}

func newFakeTxRepo() *fakeTxRepo {
	return &fakeTxRepo{totals: make(map[string]int)}
}

func (r *fakeTxRepo) Save(_ context.Context, tx *reward.XPTransaction) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs = append(r.txs, tx)
	total := r.totals[tx.UserID] + tx.Amount
	if total < 0 {
		total = 0
	}
	r.totals[tx.UserID] = total
	return total, nil
}

func (r *fakeTxRepo) GetByID(_ context.Context, id string) (*reward.XPTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tx := range r.txs {
		if tx.ID == id {
			return tx, nil
		}
	}
	return nil, shared.ErrTransactionNotFound
}

func (r *fakeTxRepo) FindBySource(_ context.Context, userID string, source shared.SourceKind, sourceID string) (*reward.XPTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.txs) - 1; i >= 0; i-- {
		tx := r.txs[i]
		if tx.UserID == userID && tx.Source == source && tx.SourceID == sourceID && tx.Amount > 0 {
			return tx, nil
		}
	}
	return nil, shared.ErrTransactionNotFound
}

func (r *fakeTxRepo) ListByUserAndDate(_ context.Context, userID string, date time.Time) ([]*reward.XPTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	day := timeutil.Day(date)
	var out []*reward.XPTransaction
	for _, tx := range r.txs {
		if tx.UserID == userID && tx.Date.Equal(day) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (r *fakeTxRepo) ListByUser(_ context.Context, userID string, limit int) ([]*reward.XPTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*reward.XPTransaction
	for i := len(r.txs) - 1; i >= 0 && len(out) < limit; i-- {
		if r.txs[i].UserID == userID {
			out = append(out, r.txs[i])
		}
	}
	return out, nil
}

func (r *fakeTxRepo) TotalXP(_ context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totals[userID], nil
}

type fakeChallengeRepo struct {
	mu       sync.Mutex
	defs     map[string]*challenge.Definition
	progress map[string]*challenge.Progress
}

func newFakeChallengeRepo() *fakeChallengeRepo {
	return &fakeChallengeRepo{
		defs:     make(map[string]*challenge.Definition),
		progress: make(map[string]*challenge.Progress),
	}
}

func (r *fakeChallengeRepo) GetActiveDefinition(_ context.Context, userID string) (*challenge.Definition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.defs[userID]
	if !ok {
		return nil, shared.ErrNoActiveChallenge
	}
	return def, nil
}

func (r *fakeChallengeRepo) SaveDefinition(_ context.Context, def *challenge.Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.UserID] = def
	return nil
}

func (r *fakeChallengeRepo) GetProgress(_ context.Context, challengeID string) (*challenge.Progress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.progress[challengeID]
	if !ok {
		return nil, shared.ErrChallengeNotFound
	}
	return p.Clone(), nil
}

func (r *fakeChallengeRepo) SaveProgress(_ context.Context, progress *challenge.Progress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.progress[progress.ChallengeID]
	if ok && existing.Version != progress.Version {
		return shared.ErrOptimisticLock
	}
	if !ok && progress.Version != 0 {
		return shared.ErrOptimisticLock
	}
	progress.Version++
	r.progress[progress.ChallengeID] = progress.Clone()
	return nil
}

type fakeSnapshotRepo struct {
	mu    sync.Mutex
	days  map[string]*challenge.DailySnapshot
	weeks map[int]challenge.WeeklyBreakdown
}

func newFakeSnapshotRepo() *fakeSnapshotRepo {
	return &fakeSnapshotRepo{
		days:  make(map[string]*challenge.DailySnapshot),
		weeks: make(map[int]challenge.WeeklyBreakdown),
	}
}

func dayKey(challengeID string, date time.Time) string {
	return challengeID + "/" + timeutil.DayKey(date)
}

func (r *fakeSnapshotRepo) GetDay(_ context.Context, challengeID string, date time.Time) (*challenge.DailySnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.days[dayKey(challengeID, date)], nil
}

func (r *fakeSnapshotRepo) SaveDay(_ context.Context, snapshot *challenge.DailySnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.days[dayKey(snapshot.ChallengeID, snapshot.Date)] = snapshot
	return nil
}

func (r *fakeSnapshotRepo) ListWeekDays(_ context.Context, challengeID string, week int) ([]*challenge.DailySnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*challenge.DailySnapshot
	for _, d := range r.days {
		if d.ChallengeID == challengeID && d.WeekNumber == week {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *fakeSnapshotRepo) SaveWeek(_ context.Context, breakdown challenge.WeeklyBreakdown) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.weeks[breakdown.Week] = breakdown
	return nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *capturePublisher) Publish(event shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) byType(eventType shared.EventType) []shared.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []shared.Event
	for _, e := range p.events {
		if e.EventType() == eventType {
			out = append(out, e)
		}
	}
	return out
}

// ──────────────────────────────────────────────────────────────────────────────
// OnXPTransactionHandler
// ──────────────────────────────────────────────────────────────────────────────

func newXPHandler(txRepo *fakeTxRepo, publisher *capturePublisher, cfg XPTransactionConfig) *OnXPTransactionHandler {
	return NewOnXPTransactionHandler(
		level.NewCalculator(level.DefaultCalculatorConfig()),
		reward.NewProcessor(reward.DefaultSchedule()),
		txRepo,
		publisher,
		testLogger(),
		cfg,
	)
}

func xpEvent(amount, newTotal int) shared.XPTransactionRecordedEvent {
	return shared.NewXPTransactionRecordedEvent(
		"user-1", "tx-1", amount, newTotal,
		shared.SourceJournalEntry, "entry-1",
		time.Date(2025, time.March, 15, 10, 0, 0, 0, time.UTC),
	)
}

func TestOnXPTransaction_NoLevelChange(t *testing.T) {
	txRepo := newFakeTxRepo()
	publisher := &capturePublisher{}
	handler := newXPHandler(txRepo, publisher, DefaultXPTransactionConfig())

	// 40 → 50: уровень 1 требует 100 XP, смены нет.
	require.NoError(t, handler.Handle(xpEvent(10, 50)))

	assert.Empty(t, publisher.events)
	assert.Empty(t, txRepo.txs)
}

func TestOnXPTransaction_MilestoneLevelAwardsReward(t *testing.T) {
	txRepo := newFakeTxRepo()
	publisher := &capturePublisher{}
	handler := newXPHandler(txRepo, publisher, DefaultXPTransactionConfig())

	// 950 → 1050: порог уровня 5 равен 1000, уровень 4 → 5.
	require.NoError(t, handler.Handle(xpEvent(100, 1050)))

	require.Len(t, txRepo.txs, 1)
	milestoneTx := txRepo.txs[0]
	assert.Equal(t, 50, milestoneTx.Amount)
	assert.Equal(t, shared.SourceLevelMilestone, milestoneTx.Source)
	assert.Equal(t, "level_5", milestoneTx.SourceID)

	changed := publisher.byType(shared.EventLevelChanged)
	require.Len(t, changed, 1)
	levelEvent := changed[0].(shared.LevelChangedEvent)
	assert.Equal(t, 4, levelEvent.OldLevel)
	assert.Equal(t, 5, levelEvent.NewLevel)
	assert.True(t, levelEvent.IsMilestone)
	assert.Equal(t, []int{50}, levelEvent.RewardXP)

	// Награда вехи сама является транзакцией и порождает событие.
	assert.Len(t, publisher.byType(shared.EventXPTransactionRecorded), 1)
}

func TestOnXPTransaction_MilestoneRewardsDisabled(t *testing.T) {
	txRepo := newFakeTxRepo()
	publisher := &capturePublisher{}
	handler := newXPHandler(txRepo, publisher, XPTransactionConfig{
		AwardMilestoneRewards:   false,
		InvalidateOnLevelChange: true,
	})

	require.NoError(t, handler.Handle(xpEvent(100, 1050)))

	assert.Empty(t, txRepo.txs)
	changed := publisher.byType(shared.EventLevelChanged)
	require.Len(t, changed, 1)
	assert.Empty(t, changed[0].(shared.LevelChangedEvent).RewardXP)
}

func TestOnXPTransaction_LevelDownAfterReversal(t *testing.T) {
	txRepo := newFakeTxRepo()
	publisher := &capturePublisher{}
	handler := newXPHandler(txRepo, publisher, DefaultXPTransactionConfig())

	// Сторно уронило суммарный XP ниже порога уровня 5.
	require.NoError(t, handler.Handle(xpEvent(-100, 950)))

	assert.Empty(t, txRepo.txs, "понижение уровня не переначисляет вехи")
	changed := publisher.byType(shared.EventLevelChanged)
	require.Len(t, changed, 1)
	levelEvent := changed[0].(shared.LevelChangedEvent)
	assert.Equal(t, 5, levelEvent.OldLevel)
	assert.Equal(t, 4, levelEvent.NewLevel)
	assert.False(t, levelEvent.IsMilestone)
}

// ──────────────────────────────────────────────────────────────────────────────
// OnChallengeProgressHandler
// ──────────────────────────────────────────────────────────────────────────────

type challengeEnv struct {
	challengeRepo *fakeChallengeRepo
	snapshotRepo  *fakeSnapshotRepo
	txRepo        *fakeTxRepo
	publisher     *capturePublisher
	handler       *OnChallengeProgressHandler
}

func newChallengeEnv(t *testing.T, def *challenge.Definition) *challengeEnv {
	t.Helper()
	env := &challengeEnv{
		challengeRepo: newFakeChallengeRepo(),
		snapshotRepo:  newFakeSnapshotRepo(),
		txRepo:        newFakeTxRepo(),
		publisher:     &capturePublisher{},
	}
	env.handler = NewOnChallengeProgressHandler(
		env.challengeRepo,
		env.snapshotRepo,
		challenge.NewTracker(),
		reward.NewProcessor(reward.DefaultSchedule()),
		env.txRepo,
		env.publisher,
		testLogger(),
		DefaultChallengeProgressConfig(),
	)
	if def != nil {
		require.NoError(t, env.challengeRepo.SaveDefinition(context.Background(), def))
	}
	return env
}

func journalChallenge(target int) *challenge.Definition {
	return &challenge.Definition{
		ID:         "ch-1",
		UserID:     "user-1",
		Month:      time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
		StarRating: 1,
		Requirements: []challenge.Requirement{
			{
				Key:     "journal_entries",
				Sources: []shared.SourceKind{shared.SourceJournalEntry},
				Target:  target,
				Weight:  1,
			},
		},
	}
}

func journalEvent(amount int, day time.Time) shared.XPTransactionRecordedEvent {
	return shared.NewXPTransactionRecordedEvent(
		"user-1", "tx-1", amount, amount,
		shared.SourceJournalEntry, "entry-1", day,
	)
}

func TestOnChallengeProgress_RoutesMatchingSource(t *testing.T) {
	day := time.Date(2025, time.March, 15, 10, 0, 0, 0, time.UTC)
	env := newChallengeEnv(t, journalChallenge(4))

	require.NoError(t, env.handler.Handle(journalEvent(20, day)))

	progress, err := env.challengeRepo.GetProgress(context.Background(), "ch-1")
	require.NoError(t, err)
	assert.Equal(t, 1, progress.ProgressByRequirement["journal_entries"])
	assert.Equal(t, 25, progress.CompletionPercentage)

	// База 1★ = 375, веха 25% = 10% базы без буста регулярности.
	record, ok := progress.MilestonesReached[25]
	require.True(t, ok)
	assert.Equal(t, 38, record.XPAwarded)

	require.Len(t, env.txRepo.txs, 1)
	assert.Equal(t, 38, env.txRepo.txs[0].Amount)
	assert.Equal(t, shared.SourceChallengeMilestone, env.txRepo.txs[0].Source)
	assert.Equal(t, "ch-1", env.txRepo.txs[0].SourceID)

	reached := env.publisher.byType(shared.EventChallengeMilestoneReached)
	require.Len(t, reached, 1)
	milestoneEvent := reached[0].(shared.ChallengeMilestoneReachedEvent)
	assert.Equal(t, 25, milestoneEvent.Percent)
	assert.Equal(t, 38, milestoneEvent.XPAwarded)
	assert.Len(t, env.publisher.byType(shared.EventDailySnapshotUpdated), 1)

	snap, err := env.snapshotRepo.GetDay(context.Background(), "ch-1", day)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 1, snap.ActionsByFeature[shared.FeatureJournal])
	assert.Equal(t, 20, snap.XPEarnedToday)

	week, ok := env.snapshotRepo.weeks[snap.WeekNumber]
	require.True(t, ok)
	assert.Equal(t, 1, week.ActiveDays)
	assert.Equal(t, 20, week.XPEarned)
}

func TestOnChallengeProgress_IgnoresReversalsAndFeaturelessSources(t *testing.T) {
	day := time.Date(2025, time.March, 15, 10, 0, 0, 0, time.UTC)
	env := newChallengeEnv(t, journalChallenge(4))

	require.NoError(t, env.handler.Handle(journalEvent(-20, day)))
	require.NoError(t, env.handler.Handle(shared.NewXPTransactionRecordedEvent(
		"user-1", "tx-2", 50, 50, shared.SourceLevelMilestone, "level_5", day)))

	_, err := env.challengeRepo.GetProgress(context.Background(), "ch-1")
	assert.ErrorIs(t, err, shared.ErrChallengeNotFound)
	assert.Empty(t, env.publisher.events)
}

func TestOnChallengeProgress_MilestonesAreIdempotent(t *testing.T) {
	day := time.Date(2025, time.March, 15, 10, 0, 0, 0, time.UTC)
	env := newChallengeEnv(t, journalChallenge(4))

	require.NoError(t, env.handler.Handle(journalEvent(20, day)))
	require.NoError(t, env.handler.Handle(journalEvent(20, day)))

	progress, err := env.challengeRepo.GetProgress(context.Background(), "ch-1")
	require.NoError(t, err)
	assert.Equal(t, 2, progress.ProgressByRequirement["journal_entries"])
	assert.Equal(t, 50, progress.CompletionPercentage)
	assert.Contains(t, progress.MilestonesReached, 25)
	assert.Contains(t, progress.MilestonesReached, 50)

	// По одной награде на веху: 25% не переначислена вторым событием.
	assert.Len(t, env.txRepo.txs, 2)
	assert.Len(t, env.publisher.byType(shared.EventChallengeMilestoneReached), 2)
}

func TestOnChallengeProgress_PerfectCompletion(t *testing.T) {
	day := time.Date(2025, time.March, 15, 10, 0, 0, 0, time.UTC)
	env := newChallengeEnv(t, journalChallenge(2))

	require.NoError(t, env.handler.Handle(journalEvent(20, day)))
	require.NoError(t, env.handler.Handle(journalEvent(20, day)))

	progress, err := env.challengeRepo.GetProgress(context.Background(), "ch-1")
	require.NoError(t, err)
	assert.True(t, progress.IsCompleted)
	assert.Equal(t, 100, progress.CompletionPercentage)

	completed := env.publisher.byType(shared.EventChallengeCompleted)
	require.Len(t, completed, 1)
	completionEvent := completed[0].(shared.ChallengeCompletedEvent)
	assert.True(t, completionEvent.IsPerfect)

	// База 375 + 20% бонус завершения + 15% за идеальность.
	assert.Equal(t, 506, completionEvent.XPAwarded)
}

func TestOnChallengeProgress_OtherMonthIgnored(t *testing.T) {
	env := newChallengeEnv(t, journalChallenge(4))

	april := time.Date(2025, time.April, 2, 10, 0, 0, 0, time.UTC)
	require.NoError(t, env.handler.Handle(journalEvent(20, april)))

	_, err := env.challengeRepo.GetProgress(context.Background(), "ch-1")
	assert.ErrorIs(t, err, shared.ErrChallengeNotFound)
}

func TestOnChallengeProgress_NoActiveChallenge(t *testing.T) {
	day := time.Date(2025, time.March, 15, 10, 0, 0, 0, time.UTC)
	env := newChallengeEnv(t, nil)

	require.NoError(t, env.handler.Handle(journalEvent(20, day)))
	assert.Empty(t, env.publisher.events)
}
