package session

import (
	"sync/atomic"
	"time"

	"x-bounce/backend/internal/telemetry"
	"x-bounce/backend/internal/world"
)

// Имена и приоритеты систем сессии
const (
	PhysicsSystemName   = "physics"
	BroadcastSystemName = "broadcast"
	TelemetrySystemName = "telemetry"

	PhysicsPriority   = 0
	BroadcastPriority = 10
	TelemetryPriority = 20
)

// Update - позиция сферы на тике, отправляемая клиенту
type Update struct {
	SessionID string
	Tick      uint64
	Position  world.Vector3
	At        time.Time
}

// Broadcaster доставляет обновления одному клиенту.
// Broadcast не блокируется и возвращает false, если канал уже закрыт.
type Broadcaster interface {
	Broadcast(update Update) bool
	Close() error
}

// PhysicsSystem продвигает мир сессии на тик
type PhysicsSystem struct {
	session *Session
}

func NewPhysicsSystem(s *Session) *PhysicsSystem {
	return &PhysicsSystem{session: s}
}

func (ps *PhysicsSystem) Update(_ uint64, deltaTime time.Duration) error {
	return ps.session.Step(deltaTime)
}

func (ps *PhysicsSystem) GetName() string  { return PhysicsSystemName }
func (ps *PhysicsSystem) GetPriority() int { return PhysicsPriority }

// BroadcastSystem публикует позицию сферы после шага физики
type BroadcastSystem struct {
	session *Session
	out     Broadcaster

	published atomic.Uint64
	rejected  atomic.Uint64
}

func NewBroadcastSystem(s *Session, out Broadcaster) *BroadcastSystem {
	return &BroadcastSystem{session: s, out: out}
}

func (bs *BroadcastSystem) Update(tick uint64, _ time.Duration) error {
	update := Update{
		SessionID: bs.session.ID(),
		Tick:      tick,
		Position:  bs.session.SpherePosition(),
		At:        time.Now(),
	}
	if bs.out.Broadcast(update) {
		bs.published.Add(1)
	} else {
		bs.rejected.Add(1)
	}
	return nil
}

func (bs *BroadcastSystem) GetName() string  { return BroadcastSystemName }
func (bs *BroadcastSystem) GetPriority() int { return BroadcastPriority }

func (bs *BroadcastSystem) Published() uint64 { return bs.published.Load() }
func (bs *BroadcastSystem) Rejected() uint64  { return bs.rejected.Load() }

// TelemetrySystem пишет состояние сферы в телеметрию сессии
type TelemetrySystem struct {
	session  *Session
	recorder *telemetry.Recorder
}

func NewTelemetrySystem(s *Session, recorder *telemetry.Recorder) *TelemetrySystem {
	return &TelemetrySystem{session: s, recorder: recorder}
}

func (ts *TelemetrySystem) Update(tick uint64, _ time.Duration) error {
	position, velocity := ts.session.State()
	ts.recorder.Record(tick, position, velocity)
	ts.recorder.PrintSummary()
	return nil
}

func (ts *TelemetrySystem) GetName() string  { return TelemetrySystemName }
func (ts *TelemetrySystem) GetPriority() int { return TelemetryPriority }
