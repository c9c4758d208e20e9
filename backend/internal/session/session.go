package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"x-bounce/backend/internal/physics"
	"x-bounce/backend/internal/world"
)

// Session - изолированная симуляция одного клиента: собственный мир,
// земля, коллайдер террейна и единственная динамическая сфера.
type Session struct {
	id        string
	createdAt time.Time
	config    world.SceneConfig

	mu      sync.Mutex
	world   *physics.World
	ground  *physics.Body
	terrain *physics.Body
	sphere  *physics.Body
	closed  bool
}

// New строит мир сессии. Конфигурация сцены копируется:
// последующие изменения не влияют на уже созданные сессии.
func New(id string, engine *physics.Engine, terrain *world.Terrain, cfg world.SceneConfig) (*Session, error) {
	if engine == nil {
		return nil, errors.New("session: physics engine is required")
	}
	if terrain == nil {
		return nil, errors.New("session: terrain is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}

	s := &Session{
		id:        id,
		createdAt: time.Now(),
		config:    cfg,
		world:     engine.NewWorld(toVec(cfg.Gravity)),
	}

	if err := s.populate(terrain); err != nil {
		s.world.Dispose()
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	return s, nil
}

func (s *Session) populate(terrain *world.Terrain) error {
	var err error

	// Земля: верхняя грань на y=0
	g := s.config.Ground
	s.ground, err = s.world.AddBody(physics.BodyDesc{
		Shape:    physics.NewBox(g.Size, g.Thickness, g.Size),
		Position: mgl64.Vec3{0, -g.Thickness / 2, 0},
		Material: g.Material,
	})
	if err != nil {
		return fmt.Errorf("ground: %w", err)
	}

	n := terrain.Subdivisions() + 1
	field, err := physics.NewHeightField(n, n, terrain.Width(), terrain.Depth(), terrain.Heights())
	if err != nil {
		return fmt.Errorf("terrain: %w", err)
	}
	s.terrain, err = s.world.AddBody(physics.BodyDesc{
		Shape:    field,
		Material: s.config.Terrain.Material,
	})
	if err != nil {
		return fmt.Errorf("terrain: %w", err)
	}

	sp := s.config.Sphere
	s.sphere, err = s.world.AddBody(physics.BodyDesc{
		Shape:    &physics.Sphere{Radius: sp.Radius},
		Mass:     sp.Mass,
		Position: toVec(sp.Start),
		Material: sp.Material,
	})
	if err != nil {
		return fmt.Errorf("sphere: %w", err)
	}
	return nil
}

func (s *Session) ID() string                { return s.id }
func (s *Session) CreatedAt() time.Time      { return s.createdAt }
func (s *Session) Config() world.SceneConfig { return s.config }

// Step продвигает мир сессии на один тик
func (s *Session) Step(dt time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return physics.ErrWorldDisposed
	}
	return s.world.Step(dt.Seconds())
}

// SpherePosition возвращает текущую позицию сферы
func (s *Session) SpherePosition() world.Vector3 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fromVec(s.sphere.Position())
}

// SphereVelocity возвращает текущую скорость сферы
func (s *Session) SphereVelocity() world.Vector3 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fromVec(s.sphere.Velocity())
}

// SphereOrientation возвращает ориентацию сферы (в текущей модели вращения нет)
func (s *Session) SphereOrientation() world.Quaternion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fromQuat(s.sphere.Orientation())
}

// State возвращает согласованные позицию и скорость сферы
func (s *Session) State() (position, velocity world.Vector3) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fromVec(s.sphere.Position()), fromVec(s.sphere.Velocity())
}

// TeleportSphere переносит сферу и обнуляет ее скорость
func (s *Session) TeleportSphere(p world.Vector3) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.sphere.SetPosition(toVec(p))
	s.sphere.SetVelocity(mgl64.Vec3{})
}

// StepCount возвращает количество выполненных шагов мира
func (s *Session) StepCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.world.StepCount()
}

// Bodies возвращает количество тел в мире
func (s *Session) Bodies() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.world.Bodies())
}

// Close освобождает мир. Повторный вызов ничего не делает.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.world.Dispose()
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func toVec(v world.Vector3) mgl64.Vec3 {
	return mgl64.Vec3{v.X, v.Y, v.Z}
}

func fromVec(v mgl64.Vec3) world.Vector3 {
	return world.Vector3{X: v.X(), Y: v.Y(), Z: v.Z()}
}

func fromQuat(q mgl64.Quat) world.Quaternion {
	return world.Quaternion{X: q.V.X(), Y: q.V.Y(), Z: q.V.Z(), W: q.W}
}
