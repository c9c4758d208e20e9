package game

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultTPS - частота тиков сессии по умолчанию
	DefaultTPS = 30

	// MaxCatchUp - сколько просроченных тиков выполняется за одно пробуждение.
	// Остаток переносится на следующие пробуждения, тики не отбрасываются.
	MaxCatchUp = 5
)

var (
	ErrNoSystems      = errors.New("tick scheduler: no systems registered")
	ErrAlreadyStopped = errors.New("tick scheduler: already stopped")
)

// TickSystem интерфейс для всех систем тика
type TickSystem interface {
	Update(tick uint64, deltaTime time.Duration) error
	GetName() string
	GetPriority() int // Приоритет выполнения (меньше = раньше)
}

// TickScheduler - фиксированный цикл тиков одной сессии.
// Номер тика строго возрастает, каждый тик выполняется целиком
// (отстающий цикл догоняет тики, а не склеивает их).
type TickScheduler struct {
	// Конфигурация
	targetTPS        int
	tickDuration     time.Duration
	maxTickTime      time.Duration
	warningThreshold time.Duration

	// Состояние
	stateMutex sync.Mutex
	started    bool
	stopped    bool
	startTime  time.Time
	tickCount  atomic.Uint64

	// Системы
	systems      []TickSystem
	systemsMutex sync.RWMutex

	perfMonitor *PerformanceMonitor

	// Управление
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// Метрики
	metricsMutex    sync.Mutex
	averageTickTime time.Duration
	maxObservedTick time.Duration
	lateTicks       uint64

	logger *logrus.Entry
}

// NewTickScheduler создает планировщик на targetTPS тиков в секунду
func NewTickScheduler(targetTPS int, logger *logrus.Entry) *TickScheduler {
	if targetTPS <= 0 {
		targetTPS = DefaultTPS
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	tickDuration := time.Second / time.Duration(targetTPS)
	ctx, cancel := context.WithCancel(context.Background())

	return &TickScheduler{
		targetTPS:        targetTPS,
		tickDuration:     tickDuration,
		maxTickTime:      tickDuration * 2,
		warningThreshold: tickDuration / 2, // Предупреждение при 50% от времени тика
		systems:          make([]TickSystem, 0),
		perfMonitor:      NewPerformanceMonitor(50, tickDuration/4),
		ctx:              ctx,
		cancel:           cancel,
		done:             make(chan struct{}),
		logger:           logger,
	}
}

// RegisterSystem добавляет систему в цикл. Системы выполняются по возрастанию приоритета,
// при равном приоритете - в порядке регистрации.
func (ts *TickScheduler) RegisterSystem(system TickSystem) {
	ts.systemsMutex.Lock()
	defer ts.systemsMutex.Unlock()

	ts.systems = append(ts.systems, system)
	sort.SliceStable(ts.systems, func(i, j int) bool {
		return ts.systems[i].GetPriority() < ts.systems[j].GetPriority()
	})

	ts.perfMonitor.initSystemMetrics(system.GetName())

	ts.logger.Debugf("[TickScheduler] Зарегистрирована система: %s (приоритет: %d)",
		system.GetName(), system.GetPriority())
}

// Start запускает цикл. Повторный Start работающего планировщика ничего не делает,
// остановленный планировщик запустить нельзя.
func (ts *TickScheduler) Start() error {
	ts.stateMutex.Lock()
	defer ts.stateMutex.Unlock()

	if ts.stopped {
		return ErrAlreadyStopped
	}
	if ts.started {
		return nil
	}

	ts.systemsMutex.RLock()
	count := len(ts.systems)
	ts.systemsMutex.RUnlock()
	if count == 0 {
		return ErrNoSystems
	}

	ts.started = true
	ts.startTime = time.Now()

	ts.logger.Debugf("[TickScheduler] Запуск цикла: %d TPS (тик каждые %v)", ts.targetTPS, ts.tickDuration)

	go ts.loop(ts.startTime)
	return nil
}

// Stop останавливает цикл и ждет завершения текущего тика.
// После возврата ни одна система больше не вызывается. Идемпотентен.
// Нельзя вызывать из Update системы этого же планировщика.
func (ts *TickScheduler) Stop() {
	ts.stateMutex.Lock()
	started := ts.started
	first := !ts.stopped
	ts.stopped = true
	ts.stateMutex.Unlock()

	ts.cancel()
	if !started {
		return
	}
	<-ts.done

	if first {
		ts.logger.Debugf("[TickScheduler] Остановка цикла (выполнено тиков: %d)", ts.tickCount.Load())
	}
}

// IsRunning сообщает, что цикл запущен и еще не остановлен
func (ts *TickScheduler) IsRunning() bool {
	ts.stateMutex.Lock()
	defer ts.stateMutex.Unlock()
	return ts.started && !ts.stopped
}

// TickCount возвращает номер последнего выполненного тика
func (ts *TickScheduler) TickCount() uint64 {
	return ts.tickCount.Load()
}

func (ts *TickScheduler) TickDuration() time.Duration { return ts.tickDuration }

func (ts *TickScheduler) PerformanceMonitor() *PerformanceMonitor { return ts.perfMonitor }

// loop основной цикл. Просыпаемся по тикеру и выполняем столько тиков,
// сколько положено по времени с начала, но не больше MaxCatchUp за раз.
// После долгой остановки (сон машины, пауза GC) отставание
// сокращается на MaxCatchUp-1 тиков за период.
func (ts *TickScheduler) loop(base time.Time) {
	defer close(ts.done)

	ticker := time.NewTicker(ts.tickDuration)
	defer ticker.Stop()

	var executed int64
	lagging := false
	for {
		select {
		case <-ts.ctx.Done():
			return

		case now := <-ticker.C:
			due := int64(now.Sub(base)/ts.tickDuration) - executed
			if due <= 0 {
				continue
			}

			batch := due
			if batch > MaxCatchUp {
				batch = MaxCatchUp
				if !lagging {
					lagging = true
					ts.logger.Warnf("[TickScheduler] ПРЕДУПРЕЖДЕНИЕ: цикл отстал на %d тиков, догоняем по %d за период", due, MaxCatchUp)
				}
			}
			if batch > 1 {
				ts.metricsMutex.Lock()
				ts.lateTicks += uint64(batch - 1)
				ts.metricsMutex.Unlock()
			}

			for i := int64(0); i < batch; i++ {
				if ts.ctx.Err() != nil {
					return
				}
				ts.executeTick()
				executed++
			}

			if lagging && batch == due {
				lagging = false
				ts.logger.Infof("[TickScheduler] Отставание ликвидировано на тике %d", ts.tickCount.Load())
			}
		}
	}
}

// executeTick выполняет один тик
func (ts *TickScheduler) executeTick() {
	tickStart := time.Now()
	tick := ts.tickCount.Add(1)

	ts.systemsMutex.RLock()
	systems := make([]TickSystem, len(ts.systems))
	copy(systems, ts.systems)
	ts.systemsMutex.RUnlock()

	for _, system := range systems {
		ts.executeSystem(system, tick)
	}

	totalTickTime := time.Since(tickStart)
	ts.updateTickMetrics(totalTickTime)
	ts.checkPerformance(totalTickTime)
}

// executeSystem выполняет одну систему с замером времени.
// Паника системы не останавливает цикл.
func (ts *TickScheduler) executeSystem(system TickSystem, tick uint64) {
	systemStart := time.Now()
	systemName := system.GetName()

	defer func() {
		if r := recover(); r != nil {
			ts.logger.Errorf("[TickScheduler] КРИТИЧЕСКАЯ ОШИБКА в системе %s на тике %d: %v", systemName, tick, r)
			ts.perfMonitor.recordError(systemName)
		}
	}()

	err := system.Update(tick, ts.tickDuration)

	ts.perfMonitor.recordExecution(systemName, time.Since(systemStart))

	if err != nil {
		ts.logger.Warnf("[TickScheduler] Ошибка в системе %s: %v", systemName, err)
		ts.perfMonitor.recordError(systemName)
	}
}

// GetStats возвращает статистику цикла
func (ts *TickScheduler) GetStats() map[string]interface{} {
	ts.stateMutex.Lock()
	startTime := ts.startTime
	running := ts.started && !ts.stopped
	ts.stateMutex.Unlock()

	ts.systemsMutex.RLock()
	systemsCount := len(ts.systems)
	ts.systemsMutex.RUnlock()

	ts.metricsMutex.Lock()
	defer ts.metricsMutex.Unlock()

	tickCount := ts.tickCount.Load()
	var uptime time.Duration
	var actualTPS float64
	if !startTime.IsZero() {
		uptime = time.Since(startTime)
		actualTPS = float64(tickCount) / uptime.Seconds()
	}

	return map[string]interface{}{
		"target_tps":        ts.targetTPS,
		"actual_tps":        actualTPS,
		"tick_count":        tickCount,
		"uptime_seconds":    uptime.Seconds(),
		"average_tick_time": ts.averageTickTime,
		"max_observed_tick": ts.maxObservedTick,
		"late_ticks":        ts.lateTicks,
		"is_running":        running,
		"systems_count":     systemsCount,
		"systems":           ts.perfMonitor.GetSystemsStats(),
	}
}

// LateTicks возвращает количество тиков, выполненных с опозданием при догонянии
func (ts *TickScheduler) LateTicks() uint64 {
	ts.metricsMutex.Lock()
	defer ts.metricsMutex.Unlock()
	return ts.lateTicks
}

func (ts *TickScheduler) updateTickMetrics(tickTime time.Duration) {
	ts.metricsMutex.Lock()
	defer ts.metricsMutex.Unlock()

	if tickTime > ts.maxObservedTick {
		ts.maxObservedTick = tickTime
	}

	// Простое скользящее среднее
	if ts.averageTickTime == 0 {
		ts.averageTickTime = tickTime
	} else {
		ts.averageTickTime = (ts.averageTickTime*9 + tickTime) / 10
	}
}

func (ts *TickScheduler) checkPerformance(tickTime time.Duration) {
	if tickTime > ts.maxTickTime {
		ts.logger.Warnf("[TickScheduler] КРИТИЧЕСКОЕ ПРЕДУПРЕЖДЕНИЕ: Тик превысил максимальное время! %v > %v (цель: %v)",
			tickTime, ts.maxTickTime, ts.tickDuration)
	} else if tickTime > ts.warningThreshold {
		ts.logger.Debugf("[TickScheduler] Медленный тик: %v (цель: %v)", tickTime, ts.tickDuration)
	}
}
