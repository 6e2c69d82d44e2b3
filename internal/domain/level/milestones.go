package level

// ══════════════════════════════════════════════════════════════════════════════
// MILESTONE LEVELS (уровни-вехи с разовыми наградами)
// ══════════════════════════════════════════════════════════════════════════════

// Milestone описывает уровень-веху и её награды.
// Содержимое награды (тексты, иконки) вне зоны ответственности движка:
// здесь важен только факт существования награды и её величина в XP.
type Milestone struct {
	// Level - уровень, на котором выдаётся награда.
	Level int

	// RewardXP - список наград в XP. Одна веха может нести
	// несколько наград.
	RewardXP []int
}

// milestoneCatalog - фиксированный каталог вех. Порядок - по возрастанию
// уровня; пересечение вехи проверяется по этому списку.
var milestoneCatalog = []Milestone{
	{Level: 5, RewardXP: []int{50}},
	{Level: 10, RewardXP: []int{100}},
	{Level: 15, RewardXP: []int{150}},
	{Level: 20, RewardXP: []int{200}},
	{Level: 25, RewardXP: []int{300}},
	{Level: 30, RewardXP: []int{400}},
	{Level: 40, RewardXP: []int{500}},
	{Level: 50, RewardXP: []int{750}},
	{Level: 60, RewardXP: []int{1000}},
	{Level: 75, RewardXP: []int{1500}},
	{Level: 100, RewardXP: []int{2000, 500}},
}

// Milestones возвращает копию каталога вех.
func Milestones() []Milestone {
	out := make([]Milestone, len(milestoneCatalog))
	copy(out, milestoneCatalog)
	return out
}

// IsMilestone возвращает true, если уровень является вехой.
func IsMilestone(level int) bool {
	for _, m := range milestoneCatalog {
		if m.Level == level {
			return true
		}
	}
	return false
}

// MilestoneAt возвращает веху для уровня, если она есть.
func MilestoneAt(level int) (Milestone, bool) {
	for _, m := range milestoneCatalog {
		if m.Level == level {
			return m, true
		}
	}
	return Milestone{}, false
}

// MilestonesCrossed возвращает вехи, пересечённые при переходе
// с oldLevel на newLevel (исключая oldLevel, включая newLevel).
// При newLevel <= oldLevel возвращает nil: понижение уровня после
// отката транзакции вехи не трогает, награды за вехи невозвратные.
func MilestonesCrossed(oldLevel, newLevel int) []Milestone {
	if newLevel <= oldLevel {
		return nil
	}

	var crossed []Milestone
	for _, m := range milestoneCatalog {
		if m.Level > oldLevel && m.Level <= newLevel {
			crossed = append(crossed, m)
		}
	}
	return crossed
}
