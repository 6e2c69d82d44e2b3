// Package level реализует кривую уровней: преобразование накопленного XP
// в уровень и прогресс, и обратно. Кривая является чистой функцией —
// всё состояние производное и может быть пересчитано в любой момент.
package level

import (
	"math"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEVEL CURVE (четырёхфазная кривая сложности)
// ══════════════════════════════════════════════════════════════════════════════

const (
	// MinLevel - минимальный уровень пользователя.
	MinLevel = 1

	// MaxLevel - предельный уровень. Кривая обрывается там, где
	// экспонента фазы 4 ещё умещается в int64: накопленный XP уровня 701
	// около 1.9e18, уже к уровню ~741 сумма переполнила бы счётчик.
	MaxLevel = 700

	// Границы фаз кривой (уровень, на котором фаза заканчивается).
	phase1End = 10
	phase2End = 25
	phase3End = 50

	// Параметры фаз.
	phase1Slope      = 100  // линейный множитель фазы 1
	phase2Escalation = 120  // квадратичный коэффициент фазы 2
	phase3Growth     = 1.13 // экспонента фазы 3
	phase4Growth     = 1.04 // пологая экспонента фазы 4 ("мастер")
)

// stepTable хранит приросты XP для каждого уровня (step[l] = XP от l-1 до l),
// cumulativeTable - накопленный XP, необходимый для достижения уровня.
// Обе таблицы строятся один раз при инициализации пакета: кривая
// детерминирована, формулы фаз заякорены на приросте конца предыдущей фазы,
// поэтому приросты неубывающие и cumulativeTable строго возрастает.
var (
	stepTable       [MaxLevel + 2]int
	cumulativeTable [MaxLevel + 2]int
)

func init() {
	for l := 2; l <= MaxLevel+1; l++ {
		stepTable[l] = stepXP(l)
		cumulativeTable[l] = cumulativeTable[l-1] + stepTable[l]
		if stepTable[l] <= 0 || cumulativeTable[l] <= cumulativeTable[l-1] {
			panic("level: curve overflows int, lower MaxLevel")
		}
	}
}

// stepXP вычисляет прирост XP для перехода с уровня level-1 на level.
// Определена для level >= 2.
func stepXP(level int) int {
	switch {
	case level <= phase1End:
		// Фаза 1 "новичок": линейный рост.
		return phase1Slope * (level - 1)

	case level <= phase2End:
		// Фаза 2 "средний": квадратичная эскалация, заякоренная на
		// приросте конца фазы 1.
		anchor := phase1Slope * (phase1End - 1)
		d := level - phase1End
		return anchor + phase2Escalation*d*d

	case level <= phase3End:
		// Фаза 3 "продвинутый": экспоненциальный рост от прироста
		// конца фазы 2.
		anchor := float64(stepXP(phase2End))
		return int(math.Round(anchor * math.Pow(phase3Growth, float64(level-phase2End))))

	default:
		// Фаза 4 "мастер": более пологая экспонента от прироста
		// конца фазы 3.
		anchor := float64(stepXP(phase3End))
		return int(math.Round(anchor * math.Pow(phase4Growth, float64(level-phase3End))))
	}
}

// XPRequired возвращает суммарный XP, необходимый для достижения уровня.
// Уровень 1 доступен с нуля. Значения вне [1, MaxLevel] ограничиваются.
func XPRequired(level int) int {
	if level <= MinLevel {
		return 0
	}
	if level > MaxLevel+1 {
		level = MaxLevel + 1
	}
	return cumulativeTable[level]
}

// CurrentLevel возвращает уровень для накопленного XP.
// Отрицательный XP трактуется как 0 (входные данные ограничиваются,
// а не отвергаются). Реализация - бинарный поиск по монотонной XPRequired.
func CurrentLevel(totalXP int) int {
	if totalXP <= 0 {
		return MinLevel
	}

	lo, hi := MinLevel, MaxLevel
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if cumulativeTable[mid] <= totalXP {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

// LevelProgress описывает положение пользователя внутри текущего уровня.
type LevelProgress struct {
	// Level - текущий уровень.
	Level int

	// XPIntoLevel - XP, заработанный внутри текущего уровня.
	XPIntoLevel int

	// XPToNext - сколько XP осталось до следующего уровня.
	XPToNext int

	// Percent - процент прохождения уровня (0-100).
	Percent int

	// TotalXP - накопленный XP, по которому вычислен прогресс.
	TotalXP int
}

// Progress вычисляет прогресс внутри текущего уровня для накопленного XP.
func Progress(totalXP int) LevelProgress {
	if totalXP < 0 {
		totalXP = 0
	}

	lvl := CurrentLevel(totalXP)
	floor := XPRequired(lvl)
	ceil := XPRequired(lvl + 1)

	into := totalXP - floor
	span := ceil - floor

	percent := 0
	if span > 0 {
		percent = into * 100 / span
	}
	if percent > 100 {
		percent = 100
	}

	return LevelProgress{
		Level:       lvl,
		XPIntoLevel: into,
		XPToNext:    ceil - totalXP,
		Percent:     percent,
		TotalXP:     totalXP,
	}
}
