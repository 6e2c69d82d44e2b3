package level

import (
	"strconv"
	"time"

	"github.com/TQyronStudio/SelfRiseV2-sub003/pkg/cache"
)

// ══════════════════════════════════════════════════════════════════════════════
// CALCULATOR (кривая + ограниченный кэш)
// ══════════════════════════════════════════════════════════════════════════════

// Calculator обёртывает кривую уровней ограниченным кэшем с TTL.
// Кэш - исключительно оптимизация поверх чистой функции: его можно
// очистить в любой момент без влияния на корректность. Владелец кэша -
// сам калькулятор, а не глобальное состояние; момент инвалидации
// выбирает вызывающая сторона через Invalidate.
type Calculator struct {
	progress *cache.Cache
	required *cache.Cache
}

// CalculatorConfig настраивает кэш калькулятора.
type CalculatorConfig struct {
	// MaxEntries - максимум записей в каждом из кэшей.
	MaxEntries int

	// TTL - время жизни записи.
	TTL time.Duration
}

// DefaultCalculatorConfig возвращает конфигурацию по умолчанию.
func DefaultCalculatorConfig() CalculatorConfig {
	return CalculatorConfig{
		MaxEntries: 1024,
		TTL:        5 * time.Minute,
	}
}

// NewCalculator создаёт калькулятор уровней.
func NewCalculator(cfg CalculatorConfig) *Calculator {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultCalculatorConfig().MaxEntries
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCalculatorConfig().TTL
	}

	return &Calculator{
		progress: cache.New(cache.Config{MaxEntries: cfg.MaxEntries, TTL: cfg.TTL}),
		required: cache.New(cache.Config{MaxEntries: cfg.MaxEntries, TTL: cfg.TTL}),
	}
}

// XPRequired возвращает суммарный XP для достижения уровня (мемоизированно).
func (c *Calculator) XPRequired(level int) int {
	key := strconv.Itoa(level)
	v := c.required.GetOrCompute(key, func() interface{} {
		return XPRequired(level)
	})
	return v.(int)
}

// CurrentLevel возвращает уровень для накопленного XP.
func (c *Calculator) CurrentLevel(totalXP int) int {
	return c.Progress(totalXP).Level
}

// Progress возвращает прогресс внутри уровня (мемоизированно).
func (c *Calculator) Progress(totalXP int) LevelProgress {
	if totalXP < 0 {
		totalXP = 0
	}

	key := strconv.Itoa(totalXP)
	v := c.progress.GetOrCompute(key, func() interface{} {
		return Progress(totalXP)
	})
	return v.(LevelProgress)
}

// Invalidate полностью очищает кэш. Вызывается сразу после события
// смены уровня, чтобы не отдать устаревший мемоизированный прогресс
// непосредственно после пересечения границы.
func (c *Calculator) Invalidate() {
	c.progress.Invalidate()
	c.required.Invalidate()
}
