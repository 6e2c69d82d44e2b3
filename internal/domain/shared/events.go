// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types - these drive the event-driven architecture.
// Inbound events are raised by the out-of-scope UI/storage layers; the rest
// are produced by the progression engine itself.
const (
	// Inbound action events
	EventEntryRecorded      EventType = "action.entry_recorded"
	EventEntryRemoved       EventType = "action.entry_removed"
	EventHabitCompleted     EventType = "action.habit_completed"
	EventGoalProgressAdded  EventType = "action.goal_progress_added"
	EventRecoveryConsumed   EventType = "action.recovery_unit_consumed"
	EventChallengeRollover  EventType = "action.challenge_rolled_over"

	// XP events
	EventXPTransactionRecorded EventType = "xp.transaction_recorded"
	EventXPTransactionReversed EventType = "xp.transaction_reversed"

	// Level events
	EventLevelChanged EventType = "level.changed"

	// Streak events
	EventStreakUpdated          EventType = "streak.updated"
	EventStreakMilestoneReached EventType = "streak.milestone_reached"
	EventStreakAutoReset        EventType = "streak.auto_reset"
	EventStreakDebtPaid         EventType = "streak.debt_paid"

	// Challenge events
	EventChallengeMilestoneReached EventType = "challenge.milestone_reached"
	EventChallengeCompleted        EventType = "challenge.completed"
	EventDailySnapshotUpdated      EventType = "challenge.snapshot_updated"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	// Events with the same aggregate ID are applied in publication order.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Inbound Action Events
// ═══════════════════════════════════════════════════════════════════════════

// EntryRecordedEvent is raised when a qualifying entry is saved by the
// out-of-scope storage layer. The entry itself is already durable: reward
// processing is best-effort and must never roll it back.
type EntryRecordedEvent struct {
	BaseEvent
	UserID  string      `json:"user_id"`
	Feature FeatureKind `json:"feature"`
	Date    time.Time   `json:"date"`
	EntryID string      `json:"entry_id"`
}

// Payload implements Event interface.
func (e EntryRecordedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":  e.UserID,
		"feature":  string(e.Feature),
		"date":     e.Date.Format(time.RFC3339),
		"entry_id": e.EntryID,
	}
}

// NewEntryRecordedEvent creates a new EntryRecordedEvent.
func NewEntryRecordedEvent(userID string, feature FeatureKind, date time.Time, entryID string) EntryRecordedEvent {
	return EntryRecordedEvent{
		BaseEvent: NewBaseEvent(EventEntryRecorded, userID),
		UserID:    userID,
		Feature:   feature,
		Date:      date,
		EntryID:   entryID,
	}
}

// EntryRemovedEvent is raised when a previously recorded entry is deleted.
// OriginalPosition is the daily position the entry had at creation time, not
// its position at deletion time.
type EntryRemovedEvent struct {
	BaseEvent
	UserID           string        `json:"user_id"`
	Feature          FeatureKind   `json:"feature"`
	Date             time.Time     `json:"date"`
	EntryID          string        `json:"entry_id"`
	OriginalPosition DailyPosition `json:"original_position"`
}

// Payload implements Event interface.
func (e EntryRemovedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":           e.UserID,
		"feature":           string(e.Feature),
		"date":              e.Date.Format(time.RFC3339),
		"entry_id":          e.EntryID,
		"original_position": int(e.OriginalPosition),
	}
}

// NewEntryRemovedEvent creates a new EntryRemovedEvent.
func NewEntryRemovedEvent(userID string, feature FeatureKind, date time.Time, entryID string, originalPosition DailyPosition) EntryRemovedEvent {
	return EntryRemovedEvent{
		BaseEvent:        NewBaseEvent(EventEntryRemoved, userID),
		UserID:           userID,
		Feature:          feature,
		Date:             date,
		EntryID:          entryID,
		OriginalPosition: originalPosition,
	}
}

// HabitCompletedEvent is raised when a habit is checked off for the day.
type HabitCompletedEvent struct {
	BaseEvent
	UserID  string    `json:"user_id"`
	HabitID string    `json:"habit_id"`
	IsBonus bool      `json:"is_bonus"`
	Date    time.Time `json:"date"`
}

// Payload implements Event interface.
func (e HabitCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":  e.UserID,
		"habit_id": e.HabitID,
		"is_bonus": e.IsBonus,
		"date":     e.Date.Format(time.RFC3339),
	}
}

// NewHabitCompletedEvent creates a new HabitCompletedEvent.
func NewHabitCompletedEvent(userID, habitID string, isBonus bool, date time.Time) HabitCompletedEvent {
	return HabitCompletedEvent{
		BaseEvent: NewBaseEvent(EventHabitCompleted, userID),
		UserID:    userID,
		HabitID:   habitID,
		IsBonus:   isBonus,
		Date:      date,
	}
}

// GoalProgressAddedEvent is raised when progress is added toward a goal.
type GoalProgressAddedEvent struct {
	BaseEvent
	UserID string    `json:"user_id"`
	GoalID string    `json:"goal_id"`
	Delta  int       `json:"delta"`
	Date   time.Time `json:"date"`
}

// Payload implements Event interface.
func (e GoalProgressAddedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id": e.UserID,
		"goal_id": e.GoalID,
		"delta":   e.Delta,
		"date":    e.Date.Format(time.RFC3339),
	}
}

// NewGoalProgressAddedEvent creates a new GoalProgressAddedEvent.
func NewGoalProgressAddedEvent(userID, goalID string, delta int, date time.Time) GoalProgressAddedEvent {
	return GoalProgressAddedEvent{
		BaseEvent: NewBaseEvent(EventGoalProgressAdded, userID),
		UserID:    userID,
		GoalID:    goalID,
		Delta:     delta,
		Date:      date,
	}
}

// RecoveryUnitConsumedEvent is raised when the user consumes one recovery
// unit (e.g. finished watching an advertisement). How the unit was obtained
// is out of scope; one unit repays exactly one missed day.
type RecoveryUnitConsumedEvent struct {
	BaseEvent
	UserID  string      `json:"user_id"`
	Feature FeatureKind `json:"feature"`
	Units   int         `json:"units"`
}

// Payload implements Event interface.
func (e RecoveryUnitConsumedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id": e.UserID,
		"feature": string(e.Feature),
		"units":   e.Units,
	}
}

// NewRecoveryUnitConsumedEvent creates a new RecoveryUnitConsumedEvent.
func NewRecoveryUnitConsumedEvent(userID string, feature FeatureKind, units int) RecoveryUnitConsumedEvent {
	return RecoveryUnitConsumedEvent{
		BaseEvent: NewBaseEvent(EventRecoveryConsumed, userID),
		UserID:    userID,
		Feature:   feature,
		Units:     units,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// XP Events
// ═══════════════════════════════════════════════════════════════════════════

// XPTransactionRecordedEvent is emitted once per logical action after its
// bundled reward has been written atomically. The challenge tracker and the
// level-change detector both consume this event.
type XPTransactionRecordedEvent struct {
	BaseEvent
	UserID        string     `json:"user_id"`
	TransactionID string     `json:"transaction_id"`
	Amount        int        `json:"amount"`
	NewTotal      int        `json:"new_total"`
	Source        SourceKind `json:"source"`
	SourceID      string     `json:"source_id,omitempty"`
	Date          time.Time  `json:"date"`
}

// Payload implements Event interface.
func (e XPTransactionRecordedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":        e.UserID,
		"transaction_id": e.TransactionID,
		"amount":         e.Amount,
		"new_total":      e.NewTotal,
		"source":         string(e.Source),
		"source_id":      e.SourceID,
		"date":           e.Date.Format(time.RFC3339),
	}
}

// NewXPTransactionRecordedEvent creates a new XPTransactionRecordedEvent.
func NewXPTransactionRecordedEvent(userID, transactionID string, amount, newTotal int, source SourceKind, sourceID string, date time.Time) XPTransactionRecordedEvent {
	return XPTransactionRecordedEvent{
		BaseEvent:     NewBaseEvent(EventXPTransactionRecorded, userID),
		UserID:        userID,
		TransactionID: transactionID,
		Amount:        amount,
		NewTotal:      newTotal,
		Source:        source,
		SourceID:      sourceID,
		Date:          date,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Level Events
// ═══════════════════════════════════════════════════════════════════════════

// LevelChangedEvent is emitted when the user's level changes (up or down,
// the latter after a reversal). At most one per XP transaction.
type LevelChangedEvent struct {
	BaseEvent
	UserID      string `json:"user_id"`
	OldLevel    int    `json:"old_level"`
	NewLevel    int    `json:"new_level"`
	IsMilestone bool   `json:"is_milestone"`
	RewardXP    []int  `json:"reward_xp,omitempty"`
}

// Payload implements Event interface.
func (e LevelChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":      e.UserID,
		"old_level":    e.OldLevel,
		"new_level":    e.NewLevel,
		"is_milestone": e.IsMilestone,
		"reward_xp":    e.RewardXP,
	}
}

// NewLevelChangedEvent creates a new LevelChangedEvent.
func NewLevelChangedEvent(userID string, oldLevel, newLevel int, isMilestone bool, rewardXP []int) LevelChangedEvent {
	return LevelChangedEvent{
		BaseEvent:   NewBaseEvent(EventLevelChanged, userID),
		UserID:      userID,
		OldLevel:    oldLevel,
		NewLevel:    newLevel,
		IsMilestone: isMilestone,
		RewardXP:    rewardXP,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Streak Events
// ═══════════════════════════════════════════════════════════════════════════

// StreakUpdatedEvent is emitted after every streak recompute that changed
// the visible state.
type StreakUpdatedEvent struct {
	BaseEvent
	UserID        string      `json:"user_id"`
	Feature       FeatureKind `json:"feature"`
	CurrentStreak int         `json:"current_streak"`
	LongestStreak int         `json:"longest_streak"`
	FrozenDays    int         `json:"frozen_days"`
}

// Payload implements Event interface.
func (e StreakUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":        e.UserID,
		"feature":        string(e.Feature),
		"current_streak": e.CurrentStreak,
		"longest_streak": e.LongestStreak,
		"frozen_days":    e.FrozenDays,
	}
}

// NewStreakUpdatedEvent creates a new StreakUpdatedEvent.
func NewStreakUpdatedEvent(userID string, feature FeatureKind, current, longest, frozen int) StreakUpdatedEvent {
	return StreakUpdatedEvent{
		BaseEvent:     NewBaseEvent(EventStreakUpdated, userID),
		UserID:        userID,
		Feature:       feature,
		CurrentStreak: current,
		LongestStreak: longest,
		FrozenDays:    frozen,
	}
}

// StreakMilestoneReachedEvent is emitted the first time a streak length
// threshold is crossed. The milestone reward is sunk: it survives later
// resets and is never reversed.
type StreakMilestoneReachedEvent struct {
	BaseEvent
	UserID  string      `json:"user_id"`
	Feature FeatureKind `json:"feature"`
	Days    int         `json:"days"`
	BonusXP int         `json:"bonus_xp"`
}

// Payload implements Event interface.
func (e StreakMilestoneReachedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":  e.UserID,
		"feature":  string(e.Feature),
		"days":     e.Days,
		"bonus_xp": e.BonusXP,
	}
}

// NewStreakMilestoneReachedEvent creates a new StreakMilestoneReachedEvent.
func NewStreakMilestoneReachedEvent(userID string, feature FeatureKind, days, bonusXP int) StreakMilestoneReachedEvent {
	return StreakMilestoneReachedEvent{
		BaseEvent: NewBaseEvent(EventStreakMilestoneReached, userID),
		UserID:    userID,
		Feature:   feature,
		Days:      days,
		BonusXP:   bonusXP,
	}
}

// StreakAutoResetEvent is emitted when unpaid debt exceeded the recoverable
// limit and the streak was reset by the ledger.
type StreakAutoResetEvent struct {
	BaseEvent
	UserID         string      `json:"user_id"`
	Feature        FeatureKind `json:"feature"`
	PreviousStreak int         `json:"previous_streak"`
	NewStreak      int         `json:"new_streak"`
	Reason         string      `json:"reason"`
}

// Payload implements Event interface.
func (e StreakAutoResetEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":         e.UserID,
		"feature":         string(e.Feature),
		"previous_streak": e.PreviousStreak,
		"new_streak":      e.NewStreak,
		"reason":          e.Reason,
	}
}

// NewStreakAutoResetEvent creates a new StreakAutoResetEvent.
func NewStreakAutoResetEvent(userID string, feature FeatureKind, previous, current int, reason string) StreakAutoResetEvent {
	return StreakAutoResetEvent{
		BaseEvent:      NewBaseEvent(EventStreakAutoReset, userID),
		UserID:         userID,
		Feature:        feature,
		PreviousStreak: previous,
		NewStreak:      current,
		Reason:         reason,
	}
}

// StreakDebtPaidEvent is emitted after a warm-up payment was applied.
type StreakDebtPaidEvent struct {
	BaseEvent
	UserID        string      `json:"user_id"`
	Feature       FeatureKind `json:"feature"`
	DaysPaid      int         `json:"days_paid"`
	RemainingDebt int         `json:"remaining_debt"`
}

// Payload implements Event interface.
func (e StreakDebtPaidEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":        e.UserID,
		"feature":        string(e.Feature),
		"days_paid":      e.DaysPaid,
		"remaining_debt": e.RemainingDebt,
	}
}

// NewStreakDebtPaidEvent creates a new StreakDebtPaidEvent.
func NewStreakDebtPaidEvent(userID string, feature FeatureKind, daysPaid, remaining int) StreakDebtPaidEvent {
	return StreakDebtPaidEvent{
		BaseEvent:     NewBaseEvent(EventStreakDebtPaid, userID),
		UserID:        userID,
		Feature:       feature,
		DaysPaid:      daysPaid,
		RemainingDebt: remaining,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Challenge Events
// ═══════════════════════════════════════════════════════════════════════════

// ChallengeMilestoneReachedEvent is emitted the first time completion crosses
// one of the 25/50/75 percent thresholds.
type ChallengeMilestoneReachedEvent struct {
	BaseEvent
	UserID      string `json:"user_id"`
	ChallengeID string `json:"challenge_id"`
	Percent     int    `json:"percent"`
	XPAwarded   int    `json:"xp_awarded"`
}

// Payload implements Event interface.
func (e ChallengeMilestoneReachedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":      e.UserID,
		"challenge_id": e.ChallengeID,
		"percent":      e.Percent,
		"xp_awarded":   e.XPAwarded,
	}
}

// NewChallengeMilestoneReachedEvent creates a new ChallengeMilestoneReachedEvent.
func NewChallengeMilestoneReachedEvent(userID, challengeID string, percent, xpAwarded int) ChallengeMilestoneReachedEvent {
	return ChallengeMilestoneReachedEvent{
		BaseEvent:   NewBaseEvent(EventChallengeMilestoneReached, userID),
		UserID:      userID,
		ChallengeID: challengeID,
		Percent:     percent,
		XPAwarded:   xpAwarded,
	}
}

// ChallengeCompletedEvent is emitted when completion reaches 100%.
type ChallengeCompletedEvent struct {
	BaseEvent
	UserID      string `json:"user_id"`
	ChallengeID string `json:"challenge_id"`
	IsPerfect   bool   `json:"is_perfect"`
	XPAwarded   int    `json:"xp_awarded"`
}

// Payload implements Event interface.
func (e ChallengeCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":      e.UserID,
		"challenge_id": e.ChallengeID,
		"is_perfect":   e.IsPerfect,
		"xp_awarded":   e.XPAwarded,
	}
}

// NewChallengeCompletedEvent creates a new ChallengeCompletedEvent.
func NewChallengeCompletedEvent(userID, challengeID string, isPerfect bool, xpAwarded int) ChallengeCompletedEvent {
	return ChallengeCompletedEvent{
		BaseEvent:   NewBaseEvent(EventChallengeCompleted, userID),
		UserID:      userID,
		ChallengeID: challengeID,
		IsPerfect:   isPerfect,
		XPAwarded:   xpAwarded,
	}
}

// DailySnapshotUpdatedEvent is emitted after the per-day snapshot was upserted.
type DailySnapshotUpdatedEvent struct {
	BaseEvent
	UserID      string    `json:"user_id"`
	ChallengeID string    `json:"challenge_id"`
	Date        time.Time `json:"date"`
}

// Payload implements Event interface.
func (e DailySnapshotUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":      e.UserID,
		"challenge_id": e.ChallengeID,
		"date":         e.Date.Format(time.RFC3339),
	}
}

// NewDailySnapshotUpdatedEvent creates a new DailySnapshotUpdatedEvent.
func NewDailySnapshotUpdatedEvent(userID, challengeID string, date time.Time) DailySnapshotUpdatedEvent {
	return DailySnapshotUpdatedEvent{
		BaseEvent:   NewBaseEvent(EventDailySnapshotUpdated, userID),
		UserID:      userID,
		ChallengeID: challengeID,
		Date:        date,
	}
}

// ChallengeRolledOverEvent is emitted when a new monthly challenge is activated.
type ChallengeRolledOverEvent struct {
	BaseEvent
	UserID      string    `json:"user_id"`
	ChallengeID string    `json:"challenge_id"`
	Month       time.Time `json:"month"`
	StarRating  int       `json:"star_rating"`
}

// Payload implements Event interface.
func (e ChallengeRolledOverEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":      e.UserID,
		"challenge_id": e.ChallengeID,
		"month":        e.Month.Format(time.RFC3339),
		"star_rating":  e.StarRating,
	}
}

// NewChallengeRolledOverEvent creates a new ChallengeRolledOverEvent.
func NewChallengeRolledOverEvent(userID, challengeID string, month time.Time, starRating int) ChallengeRolledOverEvent {
	return ChallengeRolledOverEvent{
		BaseEvent:   NewBaseEvent(EventChallengeRollover, userID),
		UserID:      userID,
		ChallengeID: challengeID,
		Month:       month,
		StarRating:  starRating,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
