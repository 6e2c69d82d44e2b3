package messaging

import (
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ORDERED DISPATCHER
// Маршрутизирует события обработчикам с конкурентной обработкой, но
// строгим порядком внутри агрегата: события с одним AggregateID
// попадают в один FIFO-шард и обрабатываются последовательно.
// Разные агрегаты обрабатываются параллельно разными шардами.
// ══════════════════════════════════════════════════════════════════════════════

// ErrDispatcherClosed is returned when dispatching to a closed dispatcher.
var ErrDispatcherClosed = errors.New("dispatcher is closed")

// HandlerRegistration contains handler metadata.
type HandlerRegistration struct {
	Name       string
	Handler    shared.EventHandler
	MaxRetries int
}

// DispatcherConfig contains configuration for the Dispatcher.
type DispatcherConfig struct {
	// Shards is the number of FIFO worker queues.
	Shards int

	// QueueSize is the buffer size of each shard queue.
	QueueSize int

	// MaxRetries is the default retry count for failing handlers.
	MaxRetries int

	// InitialBackoff is the initial wait between handler retries.
	InitialBackoff time.Duration

	// Logger for structured logging.
	Logger *slog.Logger

	// Metrics collects dispatch metrics (nil disables collection).
	Metrics *BusMetrics
}

// DefaultDispatcherConfig returns sensible defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Shards:         8,
		QueueSize:      256,
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
	}
}

// Dispatcher routes events to registered handlers through sharded FIFO
// queues keyed by aggregate ID.
type Dispatcher struct {
	config   DispatcherConfig
	shards   []chan shared.Event
	handlers map[shared.EventType][]HandlerRegistration
	logger   *slog.Logger
	metrics  *BusMetrics

	mu       sync.RWMutex
	wg       sync.WaitGroup
	inFlight sync.WaitGroup
	closed   bool
}

// NewDispatcher creates a dispatcher and starts its shard workers.
func NewDispatcher(config DispatcherConfig) *Dispatcher {
	if config.Shards <= 0 {
		config.Shards = DefaultDispatcherConfig().Shards
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultDispatcherConfig().QueueSize
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultDispatcherConfig().MaxRetries
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = DefaultDispatcherConfig().InitialBackoff
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	d := &Dispatcher{
		config:   config,
		shards:   make([]chan shared.Event, config.Shards),
		handlers: make(map[shared.EventType][]HandlerRegistration),
		logger:   config.Logger,
		metrics:  config.Metrics,
	}

	for i := range d.shards {
		d.shards[i] = make(chan shared.Event, config.QueueSize)
		d.wg.Add(1)
		go d.shardLoop(i)
	}
	return d
}

// Register registers a handler for an event type.
func (d *Dispatcher) Register(eventType shared.EventType, name string, handler shared.EventHandler) error {
	return d.RegisterHandler(eventType, HandlerRegistration{Name: name, Handler: handler})
}

// RegisterHandler registers a handler with explicit metadata.
func (d *Dispatcher) RegisterHandler(eventType shared.EventType, reg HandlerRegistration) error {
	if reg.Handler == nil {
		return errors.New("handler cannot be nil")
	}
	if reg.Name == "" {
		reg.Name = fmt.Sprintf("handler-%d", time.Now().UnixNano())
	}
	if reg.MaxRetries <= 0 {
		reg.MaxRetries = d.config.MaxRetries
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	d.handlers[eventType] = append(d.handlers[eventType], reg)
	d.logger.Debug("registered handler", "event_type", eventType, "handler_name", reg.Name)
	return nil
}

// Publish enqueues an event to the shard of its aggregate.
// Implements shared.EventPublisher, so the dispatcher can be wired
// directly as the publisher of the application layer.
func (d *Dispatcher) Publish(event shared.Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}

	// Публикация регистрируется под блокировкой: Close закрывает каналы
	// только после того, как все прошедшие проверку публикации завершат
	// отправку.
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return ErrDispatcherClosed
	}
	d.inFlight.Add(1)
	shard := d.shards[d.shardIndex(event.AggregateID())]
	d.mu.RUnlock()
	defer d.inFlight.Done()

	if d.metrics != nil {
		d.metrics.RecordPublish(event.EventType())
		d.metrics.QueueDepthAdd(1)
	}

	// Блокирующая запись: backpressure вместо потери событий.
	shard <- event
	return nil
}

// shardIndex hashes an aggregate ID to a shard.
func (d *Dispatcher) shardIndex(aggregateID string) int {
	h := fnv.New32a()
	h.Write([]byte(aggregateID))
	return int(h.Sum32() % uint32(len(d.shards)))
}

// shardLoop processes one shard queue in FIFO order.
func (d *Dispatcher) shardLoop(index int) {
	defer d.wg.Done()

	for event := range d.shards[index] {
		if d.metrics != nil {
			d.metrics.QueueDepthAdd(-1)
		}
		d.dispatch(event)
	}
}

// dispatch runs every registered handler for the event, with retries.
func (d *Dispatcher) dispatch(event shared.Event) {
	d.mu.RLock()
	regs := d.handlers[event.EventType()]
	d.mu.RUnlock()

	for _, reg := range regs {
		start := time.Now()
		err := d.runWithRetries(event, reg)
		if d.metrics != nil {
			d.metrics.RecordHandle(event.EventType(), time.Since(start), err == nil)
		}
		if err != nil {
			d.logger.Error("event handler gave up",
				"event_type", event.EventType(),
				"aggregate_id", event.AggregateID(),
				"handler_name", reg.Name,
				"error", err,
			)
		}
	}
}

// runWithRetries executes one handler with exponential backoff,
// recovering panics into errors.
func (d *Dispatcher) runWithRetries(event shared.Event, reg HandlerRegistration) error {
	backoff := d.config.InitialBackoff

	var lastErr error
	for attempt := 1; attempt <= reg.MaxRetries; attempt++ {
		lastErr = d.safeHandle(event, reg)
		if lastErr == nil {
			return nil
		}
		if attempt < reg.MaxRetries {
			d.logger.Warn("event handler failed, retrying",
				"event_type", event.EventType(),
				"handler_name", reg.Name,
				"attempt", attempt,
				"error", lastErr,
			)
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return lastErr
}

func (d *Dispatcher) safeHandle(event shared.Event, reg HandlerRegistration) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %s panicked: %v\n%s", reg.Name, r, debug.Stack())
		}
	}()
	return reg.Handler(event)
}

// Close stops accepting events and drains the shard queues.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	// Каналы закрываются только после завершения всех публикаций,
	// успевших пройти проверку closed. Воркеры при этом продолжают
	// разбирать очереди, так что заблокированные отправки не зависают.
	d.inFlight.Wait()
	for _, shard := range d.shards {
		close(shard)
	}

	d.wg.Wait()
	d.logger.Info("dispatcher closed")
	return nil
}
