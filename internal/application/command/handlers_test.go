package command

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/reward"
	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/shared"
	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/streak"
	"github.com/TQyronStudio/SelfRiseV2-sub003/pkg/timeutil"
)

// ──────────────────────────────────────────────────────────────────────────────
// in-memory фейки репозиториев
// ──────────────────────────────────────────────────────────────────────────────

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStreakRepo struct {
	mu     sync.Mutex
	states map[string]*streak.StreakState
}

func newFakeStreakRepo() *fakeStreakRepo {
	return &fakeStreakRepo{states: make(map[string]*streak.StreakState)}
}

func streakKey(userID string, feature shared.FeatureKind) string {
	return userID + "/" + string(feature)
}

func (r *fakeStreakRepo) Get(_ context.Context, userID string, feature shared.FeatureKind) (*streak.StreakState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.states[streakKey(userID, feature)]
	if !ok {
		return nil, shared.ErrStreakNotFound
	}
	return state.Clone(), nil
}

func (r *fakeStreakRepo) Save(_ context.Context, state *streak.StreakState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := streakKey(state.UserID, state.Feature)
	existing, ok := r.states[key]
	if ok && existing.Version != state.Version {
		return shared.ErrOptimisticLock
	}
	if !ok && state.Version != 0 {
		return shared.ErrOptimisticLock
	}
	state.Version++
	r.states[key] = state.Clone()
	return nil
}

func (r *fakeStreakRepo) ListActive(_ context.Context) ([]*streak.StreakState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*streak.StreakState
	for _, state := range r.states {
		if state.CurrentStreak > 0 || state.FrozenDays > 0 {
			out = append(out, state.Clone())
		}
	}
	return out, nil
}

type fakeCompletionRepo struct {
	mu    sync.Mutex
	facts map[string]streak.CompletionFact
}

func newFakeCompletionRepo() *fakeCompletionRepo {
	return &fakeCompletionRepo{facts: make(map[string]streak.CompletionFact)}
}

func factKey(userID string, feature shared.FeatureKind, sourceID string) string {
	return userID + "/" + string(feature) + "/" + sourceID
}

func (r *fakeCompletionRepo) Record(_ context.Context, fact streak.CompletionFact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := factKey(fact.UserID, fact.Feature, fact.SourceID)
	if _, ok := r.facts[key]; ok {
		return nil
	}
	fact.Date = timeutil.Day(fact.Date)
	r.facts[key] = fact
	return nil
}

func (r *fakeCompletionRepo) Remove(_ context.Context, userID string, feature shared.FeatureKind, sourceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.facts, factKey(userID, feature, sourceID))
	return nil
}

func (r *fakeCompletionRepo) ListDates(_ context.Context, userID string, feature shared.FeatureKind, from, to time.Time) ([]time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]time.Time)
	for _, fact := range r.facts {
		if fact.UserID != userID || fact.Feature != feature {
			continue
		}
		if fact.Date.Before(timeutil.Day(from)) || fact.Date.After(timeutil.Day(to)) {
			continue
		}
		seen[timeutil.DayKey(fact.Date)] = fact.Date
	}
	out := make([]time.Time, 0, len(seen))
	for _, d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (r *fakeCompletionRepo) CountActionsForDay(_ context.Context, userID string, feature shared.FeatureKind, day time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	day = timeutil.Day(day)
	count := 0
	for _, fact := range r.facts {
		if fact.UserID == userID && fact.Feature == feature &&
			fact.Origin == streak.OriginAction && fact.Date.Equal(day) {
			count++
		}
	}
	return count, nil
}

func (r *fakeCompletionRepo) ListLegacyFillers(_ context.Context) ([]streak.CompletionFact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []streak.CompletionFact
	for _, fact := range r.facts {
		if fact.Origin == streak.OriginLegacyFiller {
			out = append(out, fact)
		}
	}
	return out, nil
}

func (r *fakeCompletionRepo) DeleteLegacyFillers(_ context.Context, userID string, feature shared.FeatureKind) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for key, fact := range r.facts {
		if fact.UserID == userID && fact.Feature == feature && fact.Origin == streak.OriginLegacyFiller {
			delete(r.facts, key)
			removed++
		}
	}
	return removed, nil
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

type fakeStatsRepo struct {
	mu    sync.Mutex
	stats map[string]*reward.DailyStats
}

func newFakeStatsRepo() *fakeStatsRepo {
	return &fakeStatsRepo{stats: make(map[string]*reward.DailyStats)}
}

func statsKey(userID string, feature shared.FeatureKind, date time.Time) string {
	return userID + "/" + string(feature) + "/" + timeutil.DayKey(date)
}

func (r *fakeStatsRepo) Get(_ context.Context, userID string, feature shared.FeatureKind, date time.Time) (*reward.DailyStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats, ok := r.stats[statsKey(userID, feature, date)]
	if !ok {
		return nil, nil
	}
	clone := *stats
	clone.MilestonePositionsAwarded = make(map[int]bool, len(stats.MilestonePositionsAwarded))
	for k, v := range stats.MilestonePositionsAwarded {
		clone.MilestonePositionsAwarded[k] = v
	}
	return &clone, nil
}

func (r *fakeStatsRepo) Save(_ context.Context, stats *reward.DailyStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats[statsKey(stats.UserID, stats.Feature, stats.Date)] = stats
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

type commandEnv struct {
	streakRepo     *fakeStreakRepo
	completionRepo *fakeCompletionRepo
	txRepo         *fakeTxRepo
	statsRepo      *fakeStatsRepo
	publisher      *capturePublisher
	ledger         *streak.Ledger
	processor      *reward.Processor
}

func newCommandEnv() *commandEnv {
	return &commandEnv{
		streakRepo:     newFakeStreakRepo(),
		completionRepo: newFakeCompletionRepo(),
		txRepo:         newFakeTxRepo(),
		statsRepo:      newFakeStatsRepo(),
		publisher:      &capturePublisher{},
		ledger:         streak.NewLedger(),
		processor:      reward.NewProcessor(reward.DefaultSchedule()),
	}
}

func (e *commandEnv) recordEntryHandler() *RecordEntryHandler {
	return NewRecordEntryHandler(e.streakRepo, e.completionRepo, e.txRepo, e.statsRepo,
		e.ledger, e.processor, e.publisher, testLogger())
}

func (e *commandEnv) removeEntryHandler() *RemoveEntryHandler {
	return NewRemoveEntryHandler(e.streakRepo, e.completionRepo, e.txRepo, e.statsRepo,
		e.ledger, e.processor, e.publisher, testLogger())
}

// ──────────────────────────────────────────────────────────────────────────────
// тесты
// ──────────────────────────────────────────────────────────────────────────────

func TestRecordEntry_FirstEntryStartsStreak(t *testing.T) {
	env := newCommandEnv()
	handler := env.recordEntryHandler()
	today := timeutil.Day(time.Now().UTC())

	res, err := handler.Handle(context.Background(), RecordEntryCommand{
		UserID:  "user-1",
		Feature: shared.FeatureJournal,
		EntryID: "entry-1",
		Date:    today,
	})
	require.NoError(t, err)

	require.NotNil(t, res.Transaction)
	assert.Equal(t, 20, res.Transaction.Amount)
	assert.Equal(t, 20, res.NewTotalXP)
	assert.Equal(t, shared.DailyPosition(1), res.DailyPosition)

	require.NotNil(t, res.StreakState)
	assert.Equal(t, 1, res.StreakState.CurrentStreak)
	assert.Equal(t, 1, res.StreakState.LongestStreak)
	assert.False(t, res.StreakState.IsFrozen)

	assert.Len(t, env.publisher.byType(shared.EventXPTransactionRecorded), 1)
	assert.Len(t, env.publisher.byType(shared.EventStreakUpdated), 1)
}

func TestRecordEntry_PositionsAdvanceWithinDay(t *testing.T) {
	env := newCommandEnv()
	handler := env.recordEntryHandler()
	today := timeutil.Day(time.Now().UTC())

	// Журнал: позиции 1-3 полные (20), позиция 4 бонусная (8) плюс
	// разовая веха первого бонуса (25) в той же транзакции.
	wantAmounts := []int{20, 20, 20, 33}
	total := 0
	for i, want := range wantAmounts {
		res, err := handler.Handle(context.Background(), RecordEntryCommand{
			UserID:  "user-1",
			EntryID: fmt.Sprintf("entry-%d", i+1),
			Date:    today,
		})
		require.NoError(t, err)
		require.NotNil(t, res.Transaction)
		assert.Equal(t, shared.DailyPosition(i+1), res.DailyPosition)
		assert.Equal(t, want, res.Transaction.Amount)
		total += want
		assert.Equal(t, total, res.NewTotalXP)
	}
}

func TestRecordEntry_SameDayDoesNotGrowStreak(t *testing.T) {
	env := newCommandEnv()
	handler := env.recordEntryHandler()
	today := timeutil.Day(time.Now().UTC())

	for i := 0; i < 3; i++ {
		res, err := handler.Handle(context.Background(), RecordEntryCommand{
			UserID:  "user-1",
			EntryID: fmt.Sprintf("entry-%d", i+1),
			Date:    today,
		})
		require.NoError(t, err)
		assert.Equal(t, 1, res.StreakState.CurrentStreak)
	}
}

func TestRemoveEntry_ReversesByOriginalPosition(t *testing.T) {
	env := newCommandEnv()
	record := env.recordEntryHandler()
	remove := env.removeEntryHandler()
	today := timeutil.Day(time.Now().UTC())

	for i := 1; i <= 2; i++ {
		_, err := record.Handle(context.Background(), RecordEntryCommand{
			UserID:  "user-1",
			EntryID: fmt.Sprintf("entry-%d", i),
			Date:    today,
		})
		require.NoError(t, err)
	}

	res, err := remove.Handle(context.Background(), RemoveEntryCommand{
		UserID:           "user-1",
		EntryID:          "entry-1",
		Date:             today,
		OriginalPosition: 1,
	})
	require.NoError(t, err)

	require.NotNil(t, res.Reversal)
	assert.Equal(t, -20, res.Reversal.Amount)
	assert.True(t, res.Reversal.IsReversal())
	assert.Equal(t, 20, res.NewTotalXP)

	// Второй факт того же дня остаётся: серия не рвётся.
	require.NotNil(t, res.StreakState)
	assert.Equal(t, 1, res.StreakState.CurrentStreak)
}

func TestRemoveEntry_FreesDailyPosition(t *testing.T) {
	env := newCommandEnv()
	record := env.recordEntryHandler()
	remove := env.removeEntryHandler()
	today := timeutil.Day(time.Now().UTC())

	// Запись, удаление, новая запись в тот же день: позиция выводится
	// из живых фактов, удалённая запись места не занимает.
	_, err := record.Handle(context.Background(), RecordEntryCommand{
		UserID:  "user-1",
		EntryID: "entry-1",
		Date:    today,
	})
	require.NoError(t, err)

	_, err = remove.Handle(context.Background(), RemoveEntryCommand{
		UserID:           "user-1",
		EntryID:          "entry-1",
		Date:             today,
		OriginalPosition: 1,
	})
	require.NoError(t, err)

	res, err := record.Handle(context.Background(), RecordEntryCommand{
		UserID:  "user-1",
		EntryID: "entry-2",
		Date:    today,
	})
	require.NoError(t, err)

	assert.Equal(t, shared.DailyPosition(1), res.DailyPosition)
	require.NotNil(t, res.Transaction)
	assert.Equal(t, 20, res.Transaction.Amount)

	stats, err := env.statsRepo.Get(context.Background(), "user-1", shared.FeatureJournal, today)
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, 1, stats.ActionsCount)
}

func TestRemoveEntry_LastFactOfDayDropsStreak(t *testing.T) {
	env := newCommandEnv()
	record := env.recordEntryHandler()
	remove := env.removeEntryHandler()
	today := timeutil.Day(time.Now().UTC())

	_, err := record.Handle(context.Background(), RecordEntryCommand{
		UserID:  "user-1",
		EntryID: "entry-1",
		Date:    today,
	})
	require.NoError(t, err)

	res, err := remove.Handle(context.Background(), RemoveEntryCommand{
		UserID:           "user-1",
		EntryID:          "entry-1",
		Date:             today,
		OriginalPosition: 1,
	})
	require.NoError(t, err)

	require.NotNil(t, res.StreakState)
	assert.Equal(t, 0, res.StreakState.CurrentStreak)
}

func TestCompleteHabit_UsesHabitSchedule(t *testing.T) {
	env := newCommandEnv()
	handler := NewCompleteHabitHandler(env.streakRepo, env.completionRepo, env.txRepo,
		env.statsRepo, env.ledger, env.processor, env.publisher, testLogger())
	today := timeutil.Day(time.Now().UTC())

	res, err := handler.Handle(context.Background(), CompleteHabitCommand{
		UserID:  "user-1",
		HabitID: "habit-1",
		Date:    today,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Transaction)
	assert.Equal(t, 25, res.Transaction.Amount)
	assert.Equal(t, shared.SourceHabitCompletion, res.Transaction.Source)
}

func TestApplyRecovery_PaysOldestDebtFirst(t *testing.T) {
	env := newCommandEnv()
	record := env.recordEntryHandler()
	recovery := NewApplyRecoveryHandler(env.streakRepo, env.ledger, env.publisher, testLogger())

	// Запись три дня назад, затем два пропущенных дня: долг 2.
	threeDaysAgo := timeutil.Day(time.Now().UTC()).AddDate(0, 0, -3)
	_, err := record.Handle(context.Background(), RecordEntryCommand{
		UserID:  "user-1",
		EntryID: "entry-old",
		Date:    threeDaysAgo,
	})
	require.NoError(t, err)

	res, err := recovery.Handle(context.Background(), ApplyRecoveryCommand{
		UserID:  "user-1",
		Feature: shared.FeatureJournal,
		Units:   1,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.DaysPaid)
	assert.Equal(t, 1, res.RemainingDebt)
	assert.True(t, res.StreakState.IsFrozen)

	// Платёж не создаёт фактов выполнения.
	dates, err := env.completionRepo.ListDates(context.Background(), "user-1",
		shared.FeatureJournal, threeDaysAgo.AddDate(0, 0, -1), timeutil.Day(time.Now().UTC()))
	require.NoError(t, err)
	assert.Len(t, dates, 1)

	assert.Len(t, env.publisher.byType(shared.EventStreakDebtPaid), 1)

	// Вторая единица гасит остаток полностью.
	res, err = recovery.Handle(context.Background(), ApplyRecoveryCommand{
		UserID:  "user-1",
		Feature: shared.FeatureJournal,
		Units:   1,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.DaysPaid)
	assert.Equal(t, 0, res.RemainingDebt)
	assert.False(t, res.StreakState.IsFrozen)
	assert.True(t, res.StreakState.PreserveCurrentStreak)
}

func TestApplyRecovery_NoStreakFails(t *testing.T) {
	env := newCommandEnv()
	recovery := NewApplyRecoveryHandler(env.streakRepo, env.ledger, env.publisher, testLogger())

	_, err := recovery.Handle(context.Background(), ApplyRecoveryCommand{
		UserID:  "user-unknown",
		Feature: shared.FeatureJournal,
		Units:   1,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrStreakNotFound)
}

func TestCleanupLegacy_RemovesFillersAndRecomputes(t *testing.T) {
	env := newCommandEnv()
	record := env.recordEntryHandler()
	cleanup := NewCleanupLegacyHandler(env.streakRepo, env.completionRepo, env.ledger,
		env.publisher, testLogger())

	today := timeutil.Day(time.Now().UTC())
	_, err := record.Handle(context.Background(), RecordEntryCommand{
		UserID:  "user-1",
		EntryID: "entry-1",
		Date:    today,
	})
	require.NoError(t, err)

	// Заглушка старой схемы на вчерашний день.
	require.NoError(t, env.completionRepo.Record(context.Background(), streak.CompletionFact{
		UserID:   "user-1",
		Feature:  shared.FeatureJournal,
		Date:     today.AddDate(0, 0, -1),
		SourceID: "filler-1",
		Origin:   streak.OriginLegacyFiller,
	}))

	res, err := cleanup.Handle(context.Background(), CleanupLegacyCommand{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.FillersRemoved)
	assert.Equal(t, 1, res.StreaksRecomputed)

	fillers, err := env.completionRepo.ListLegacyFillers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, fillers)

	// Серия пересчитана из реальных фактов: сегодняшняя запись остаётся.
	state, err := env.streakRepo.Get(context.Background(), "user-1", shared.FeatureJournal)
	require.NoError(t, err)
	assert.Equal(t, 1, state.CurrentStreak)
}
