// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"regexp"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// UserID represents a unique user identifier (UUID format).
type UserID string

// UUID validation regex (simple version).
var uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// IsValid checks if the user ID is a valid UUID.
func (u UserID) IsValid() bool {
	return uuidRegex.MatchString(string(u))
}

// String returns the string representation.
func (u UserID) String() string {
	return string(u)
}

// IsEmpty checks if the ID is empty.
func (u UserID) IsEmpty() bool {
	return u == ""
}

// NewUserID creates a new UserID with validation.
func NewUserID(id string) (UserID, error) {
	uid := UserID(strings.ToLower(strings.TrimSpace(id)))
	if !uid.IsValid() {
		return "", NewDomainError("shared", "NewUserID", ErrInvalidID, "invalid user ID format")
	}
	return uid, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// XP Value Object (Experience Points)
// ═══════════════════════════════════════════════════════════════════════════

// XP represents experience points.
type XP int

const (
	// XP boundaries
	MinXP XP = 0
	MaxXP XP = 10000000 // 10 million XP cap
)

// IsValid checks if the XP value is within valid range.
func (x XP) IsValid() bool {
	return x >= MinXP && x <= MaxXP
}

// Int returns the underlying int value.
func (x XP) Int() int {
	return int(x)
}

// Add adds XP and returns the result, capped at MaxXP and floored at MinXP.
func (x XP) Add(amount int) XP {
	result := XP(int(x) + amount)
	if result > MaxXP {
		return MaxXP
	}
	if result < MinXP {
		return MinXP
	}
	return result
}

// Clamp forces an arbitrary amount into the valid XP range. Out-of-range
// inputs are clamped, not rejected: XP arithmetic never fails.
func Clamp(amount int) XP {
	if amount < int(MinXP) {
		return MinXP
	}
	if amount > int(MaxXP) {
		return MaxXP
	}
	return XP(amount)
}

// ═══════════════════════════════════════════════════════════════════════════
// Feature Kind (which tracked feature an action belongs to)
// ═══════════════════════════════════════════════════════════════════════════

// FeatureKind identifies a tracked feature category.
type FeatureKind string

const (
	FeatureJournal FeatureKind = "journal"
	FeatureHabits  FeatureKind = "habits"
	FeatureGoals   FeatureKind = "goals"
)

// AllFeatures lists every tracked feature category, in display order.
func AllFeatures() []FeatureKind {
	return []FeatureKind{FeatureJournal, FeatureHabits, FeatureGoals}
}

// IsValid checks whether the feature kind is known.
func (f FeatureKind) IsValid() bool {
	switch f {
	case FeatureJournal, FeatureHabits, FeatureGoals:
		return true
	}
	return false
}

// String returns the string representation.
func (f FeatureKind) String() string {
	return string(f)
}

// ═══════════════════════════════════════════════════════════════════════════
// XP Source Kind
// ═══════════════════════════════════════════════════════════════════════════

// SourceKind identifies what produced an XP transaction.
type SourceKind string

const (
	SourceJournalEntry       SourceKind = "journal_entry"
	SourceJournalBonus       SourceKind = "journal_bonus"
	SourceHabitCompletion    SourceKind = "habit_completion"
	SourceHabitBonus         SourceKind = "habit_bonus"
	SourceGoalProgress       SourceKind = "goal_progress"
	SourceStreakMilestone    SourceKind = "streak_milestone"
	SourceLevelMilestone     SourceKind = "level_milestone"
	SourceChallengeMilestone SourceKind = "challenge_milestone"
	SourceChallengeComplete  SourceKind = "challenge_complete"
)

// IsValid checks whether the source kind is known.
func (s SourceKind) IsValid() bool {
	switch s {
	case SourceJournalEntry, SourceJournalBonus,
		SourceHabitCompletion, SourceHabitBonus,
		SourceGoalProgress,
		SourceStreakMilestone, SourceLevelMilestone,
		SourceChallengeMilestone, SourceChallengeComplete:
		return true
	}
	return false
}

// String returns the string representation.
func (s SourceKind) String() string {
	return string(s)
}

// Feature maps a source kind to the feature category it counts toward.
// Milestone and challenge sources belong to no feature (empty kind).
func (s SourceKind) Feature() FeatureKind {
	switch s {
	case SourceJournalEntry, SourceJournalBonus:
		return FeatureJournal
	case SourceHabitCompletion, SourceHabitBonus:
		return FeatureHabits
	case SourceGoalProgress:
		return FeatureGoals
	default:
		return ""
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Star Rating Value Object (challenge difficulty)
// ═══════════════════════════════════════════════════════════════════════════

// StarRating represents a challenge difficulty (1-5 stars).
type StarRating int

const (
	MinStarRating StarRating = 1
	MaxStarRating StarRating = 5
)

// IsValid checks if the rating is within valid range.
func (r StarRating) IsValid() bool {
	return r >= MinStarRating && r <= MaxStarRating
}

// Int returns the underlying int value.
func (r StarRating) Int() int {
	return int(r)
}

// ClampStarRating forces an arbitrary rating into the 1-5 range.
func ClampStarRating(value int) StarRating {
	if value < int(MinStarRating) {
		return MinStarRating
	}
	if value > int(MaxStarRating) {
		return MaxStarRating
	}
	return StarRating(value)
}

// ═══════════════════════════════════════════════════════════════════════════
// Daily Position Value Object
// ═══════════════════════════════════════════════════════════════════════════

// DailyPosition is the 1-based chronological position of a qualifying action
// among same-day qualifying actions of the same feature. It is fixed at
// creation time: later insertions and deletions never renumber it.
type DailyPosition int

// IsValid checks that the position is at least 1.
func (p DailyPosition) IsValid() bool {
	return p >= 1
}

// Int returns the underlying int value.
func (p DailyPosition) Int() int {
	return int(p)
}

// ClampDailyPosition forces a position to be at least 1.
func ClampDailyPosition(value int) DailyPosition {
	if value < 1 {
		return 1
	}
	return DailyPosition(value)
}
