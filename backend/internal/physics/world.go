package physics

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// World - изолированная симуляция. Не потокобезопасен:
// AddBody, Step и Dispose вызываются под блокировкой владельца.
type World struct {
	engine  *Engine
	profile SolverProfile
	gravity mgl64.Vec3

	bodies   []*Body
	dynamic  []*Body
	contacts []contact

	steps    uint64
	nextID   int
	disposed bool
}

// AddBody добавляет тело в мир
func (w *World) AddBody(desc BodyDesc) (*Body, error) {
	if w.disposed {
		return nil, ErrWorldDisposed
	}

	w.nextID++
	b, err := newBody(w.nextID, desc)
	if err != nil {
		return nil, err
	}

	w.bodies = append(w.bodies, b)
	if !b.IsStatic() {
		w.dynamic = append(w.dynamic, b)
	}
	return b, nil
}

// Step продвигает симуляцию на dt секунд
func (w *World) Step(dt float64) error {
	if w.disposed {
		return ErrWorldDisposed
	}
	if math.IsNaN(dt) || dt < 0 {
		return fmt.Errorf("physics: invalid step %v", dt)
	}
	if dt == 0 {
		return nil
	}

	h := dt / float64(w.profile.Substeps)
	for i := 0; i < w.profile.Substeps; i++ {
		w.substep(h)
	}
	w.steps++
	return nil
}

func (w *World) substep(h float64) {
	// Скорости: гравитация
	for _, b := range w.dynamic {
		b.velocity = clampLength(b.velocity.Add(w.gravity.Mul(h)), w.profile.MaxSpeed)
	}

	// Контакты: импульсы по скоростям
	w.contacts = w.collectContacts(w.contacts[:0], h)
	w.solveVelocities(w.contacts, h)

	// Позиции
	for _, b := range w.dynamic {
		b.velocity = clampLength(b.velocity, w.profile.MaxSpeed)
		b.position = b.position.Add(b.velocity.Mul(h))
	}

	// Выталкивание из оставшегося проникновения
	w.contacts = w.collectContacts(w.contacts[:0], 0)
	w.correctPositions(w.contacts)
}

// Dispose освобождает мир. Повторный вызов ничего не делает.
func (w *World) Dispose() {
	if w.disposed {
		return
	}
	w.disposed = true
	w.bodies = nil
	w.dynamic = nil
	w.contacts = nil
	w.engine.active.Add(-1)
}

func (w *World) Disposed() bool         { return w.disposed }
func (w *World) StepCount() uint64      { return w.steps }
func (w *World) Gravity() mgl64.Vec3    { return w.gravity }
func (w *World) Profile() SolverProfile { return w.profile }

// Bodies возвращает копию списка тел
func (w *World) Bodies() []*Body {
	return append([]*Body(nil), w.bodies...)
}

func clampLength(v mgl64.Vec3, limit float64) mgl64.Vec3 {
	l := v.Len()
	if l > limit && l > 0 {
		return v.Mul(limit / l)
	}
	return v
}
