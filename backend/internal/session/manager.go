package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"x-bounce/backend/internal/game"
	"x-bounce/backend/internal/physics"
	"x-bounce/backend/internal/telemetry"
	"x-bounce/backend/internal/world"
)

var (
	ErrCapacity         = errors.New("session: capacity reached")
	ErrSessionClosed    = errors.New("session: closed during setup")
	ErrManagerClosed    = errors.New("session: manager is shut down")
	ErrDuplicateSession = errors.New("session: duplicate id")
)

// State - фаза жизненного цикла соединения
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// EngineSource выдает загруженный физический движок (physics.Loader)
type EngineSource interface {
	Engine() (*physics.Engine, error)
}

// ManagerConfig задает параметры менеджера соединений
type ManagerConfig struct {
	TickRate    int
	MaxSessions int

	// Scene возвращает конфигурацию сцены для новой сессии.
	// По умолчанию world.GetSceneConfig.
	Scene func() world.SceneConfig
}

// Manager владеет всеми живыми соединениями процесса
type Manager struct {
	engines EngineSource
	terrain *world.Terrain
	cfg     ManagerConfig
	log     *logrus.Entry

	mu     sync.Mutex
	conns  map[string]*Connection
	closed bool

	running  atomic.Int64
	opened   atomic.Uint64
	rejected atomic.Uint64
}

func NewManager(engines EngineSource, terrain *world.Terrain, cfg ManagerConfig, log *logrus.Entry) *Manager {
	if cfg.TickRate <= 0 {
		cfg.TickRate = game.DefaultTPS
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 256
	}
	if cfg.Scene == nil {
		cfg.Scene = world.GetSceneConfig
	}

	return &Manager{
		engines: engines,
		terrain: terrain,
		cfg:     cfg,
		log:     log,
		conns:   make(map[string]*Connection),
	}
}

// Connection связывает сессию, ее планировщик и канал доставки
type Connection struct {
	id       string
	manager  *Manager
	out      Broadcaster
	openedAt time.Time

	mu        sync.Mutex
	state     State
	session   *Session
	scheduler *game.TickScheduler
	broadcast *BroadcastSystem
	recorder  *telemetry.Recorder

	closeOnce sync.Once
}

// Open строит сессию для нового клиента и запускает ее цикл.
// При ошибке все захваченное освобождается, out остается у вызывающего.
// При успехе out принадлежит соединению и закрывается в Close.
func (m *Manager) Open(id string, out Broadcaster) (*Connection, error) {
	if out == nil {
		return nil, errors.New("session: broadcaster is required")
	}

	conn, err := m.reserve(id, out)
	if err != nil {
		m.rejected.Add(1)
		return nil, err
	}

	if err := conn.start(); err != nil {
		conn.abort()
		m.rejected.Add(1)
		m.log.WithError(err).WithField("session", id).Warn("[Manager] Не удалось открыть сессию")
		return nil, err
	}

	m.opened.Add(1)
	m.log.WithFields(logrus.Fields{
		"session":  id,
		"sessions": m.Count(),
	}).Info("[Manager] Сессия открыта")
	return conn, nil
}

func (m *Manager) reserve(id string, out Broadcaster) (*Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	if _, exists := m.conns[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSession, id)
	}
	if len(m.conns) >= m.cfg.MaxSessions {
		return nil, ErrCapacity
	}

	conn := &Connection{
		id:       id,
		manager:  m,
		out:      out,
		openedAt: time.Now(),
		state:    StateConnecting,
	}
	m.conns[id] = conn
	return conn, nil
}

func (c *Connection) start() error {
	m := c.manager

	engine, err := m.engines.Engine()
	if err != nil {
		return fmt.Errorf("session %s: %w", c.id, err)
	}

	sess, err := New(c.id, engine, m.terrain, m.cfg.Scene())
	if err != nil {
		return err
	}

	log := m.log.WithField("session", c.id)
	recorder := telemetry.NewRecorder(c.id, log)
	broadcast := NewBroadcastSystem(sess, c.out)

	scheduler := game.NewTickScheduler(m.cfg.TickRate, log)
	scheduler.RegisterSystem(NewPhysicsSystem(sess))
	scheduler.RegisterSystem(broadcast)
	scheduler.RegisterSystem(NewTelemetrySystem(sess, recorder))

	c.mu.Lock()
	defer c.mu.Unlock()

	// Close пришел раньше, чем мы успели запуститься
	if c.state == StateClosed {
		sess.Close()
		return ErrSessionClosed
	}

	if err := scheduler.Start(); err != nil {
		sess.Close()
		return fmt.Errorf("session %s: %w", c.id, err)
	}
	m.running.Add(1)

	c.session = sess
	c.scheduler = scheduler
	c.broadcast = broadcast
	c.recorder = recorder
	c.state = StateActive
	return nil
}

// abort завершает соединение, которое не удалось запустить. out не трогаем.
func (c *Connection) abort() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		c.manager.unregister(c)
	})
}

// Close останавливает цикл, закрывает канал, освобождает мир и снимает
// соединение с учета. Повторный вызов ничего не делает.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		prev := c.state
		c.state = StateClosed
		scheduler, sess := c.scheduler, c.session
		c.mu.Unlock()

		if scheduler != nil {
			scheduler.Stop()
			c.manager.running.Add(-1)
		}
		if prev == StateActive {
			if err := c.out.Close(); err != nil {
				c.manager.log.WithError(err).WithField("session", c.id).Debug("[Manager] Ошибка закрытия канала")
			}
		}
		if sess != nil {
			sess.Close()
		}
		c.manager.unregister(c)

		if prev == StateActive {
			c.manager.log.WithFields(logrus.Fields{
				"session": c.id,
				"ticks":   scheduler.TickCount(),
				"uptime":  time.Since(c.openedAt).Round(time.Millisecond).String(),
			}).Info("[Manager] Сессия закрыта")
		}
	})
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Connection) Scheduler() *game.TickScheduler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scheduler
}

func (c *Connection) Telemetry() *telemetry.Recorder {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recorder
}

func (m *Manager) unregister(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conns[c.id] == c {
		delete(m.conns, c.id)
	}
}

// Close закрывает соединение по id. Возвращает false, если его уже нет.
func (m *Manager) Close(id string) bool {
	m.mu.Lock()
	conn, ok := m.conns[id]
	m.mu.Unlock()

	if !ok {
		return false
	}
	conn.Close()
	return true
}

// Get возвращает живое соединение
func (m *Manager) Get(id string) (*Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[id]
	return conn, ok
}

// Count возвращает количество зарегистрированных соединений
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// RunningSchedulers возвращает количество запущенных и не остановленных циклов
func (m *Manager) RunningSchedulers() int {
	return int(m.running.Load())
}

// Shutdown закрывает все соединения и запрещает новые
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	conns := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			c.Close()
		}(c)
	}
	wg.Wait()

	m.log.WithField("closed", len(conns)).Info("[Manager] Все сессии закрыты")
}

// ConnectionStats - снимок состояния соединения
type ConnectionStats struct {
	ID        string                 `json:"id"`
	State     string                 `json:"state"`
	OpenedAt  time.Time              `json:"opened_at"`
	Position  *world.Vector3         `json:"position,omitempty"`
	Velocity  *world.Vector3         `json:"velocity,omitempty"`
	Bounces   int                    `json:"bounces"`
	Published uint64                 `json:"published"`
	Rejected  uint64                 `json:"rejected"`
	LateTicks uint64                 `json:"late_ticks"`
	Scheduler map[string]interface{} `json:"scheduler,omitempty"`
}

// Stats возвращает снимки всех соединений, отсортированные по id
func (m *Manager) Stats() []ConnectionStats {
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	stats := make([]ConnectionStats, 0, len(conns))
	for _, c := range conns {
		c.mu.Lock()
		st := ConnectionStats{
			ID:       c.id,
			State:    c.state.String(),
			OpenedAt: c.openedAt,
		}
		sess, scheduler, broadcast, recorder := c.session, c.scheduler, c.broadcast, c.recorder
		c.mu.Unlock()

		if sess != nil {
			pos, vel := sess.SpherePosition(), sess.SphereVelocity()
			st.Position, st.Velocity = &pos, &vel
		}
		if scheduler != nil {
			st.LateTicks = scheduler.LateTicks()
			st.Scheduler = scheduler.GetStats()
		}
		if broadcast != nil {
			st.Published = broadcast.Published()
			st.Rejected = broadcast.Rejected()
		}
		if recorder != nil {
			st.Bounces = recorder.Bounces()
		}
		stats = append(stats, st)
	}

	sort.Slice(stats, func(i, j int) bool { return stats[i].ID < stats[j].ID })
	return stats
}

// Totals возвращает счетчики открытых и отклоненных соединений
func (m *Manager) Totals() (opened, rejected uint64) {
	return m.opened.Load(), m.rejected.Load()
}
