package physics

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"x-bounce/backend/internal/world"
)

// BodyDesc описывает тело при добавлении в мир.
// Mass == 0 означает статическое тело, динамическими могут быть только сферы.
type BodyDesc struct {
	Shape    Shape
	Mass     float64
	Position mgl64.Vec3
	Material world.Material
}

// Body - тело в мире. Методы не потокобезопасны, синхронизацию
// обеспечивает владелец мира.
type Body struct {
	id       int
	shape    Shape
	mass     float64
	invMass  float64
	material world.Material

	position mgl64.Vec3
	velocity mgl64.Vec3
	// сдвиг выталкиванием за текущий подшаг
	pushed mgl64.Vec3
}

func newBody(id int, desc BodyDesc) (*Body, error) {
	if desc.Shape == nil {
		return nil, fmt.Errorf("%w: shape is required", ErrInvalidBody)
	}
	if err := desc.Shape.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	if math.IsNaN(desc.Mass) || math.IsInf(desc.Mass, 0) || desc.Mass < 0 {
		return nil, fmt.Errorf("%w: mass %v", ErrInvalidBody, desc.Mass)
	}
	if desc.Mass > 0 && desc.Shape.Type() != world.SPHERE {
		return nil, fmt.Errorf("%w: only spheres can be dynamic, got %s", ErrInvalidBody, desc.Shape.Type())
	}
	if !finite(desc.Position) {
		return nil, fmt.Errorf("%w: position %v", ErrInvalidBody, desc.Position)
	}
	if desc.Material.Friction < 0 || desc.Material.Restitution < 0 || desc.Material.Restitution > 1 {
		return nil, fmt.Errorf("%w: material %+v", ErrInvalidBody, desc.Material)
	}

	b := &Body{
		id:       id,
		shape:    desc.Shape,
		mass:     desc.Mass,
		material: desc.Material,
		position: desc.Position,
	}
	if desc.Mass > 0 {
		b.invMass = 1 / desc.Mass
	}
	return b, nil
}

func (b *Body) ID() int                  { return b.id }
func (b *Body) Shape() Shape             { return b.shape }
func (b *Body) Mass() float64            { return b.mass }
func (b *Body) Material() world.Material { return b.material }
func (b *Body) IsStatic() bool           { return b.invMass == 0 }

func (b *Body) Position() mgl64.Vec3 { return b.position }
func (b *Body) Velocity() mgl64.Vec3 { return b.velocity }

// Orientation всегда единичная: вращение тел не моделируется
func (b *Body) Orientation() mgl64.Quat { return mgl64.QuatIdent() }

// SetPosition телепортирует тело. Для статических тел тоже допустимо.
func (b *Body) SetPosition(p mgl64.Vec3) {
	if finite(p) {
		b.position = p
	}
}

// SetVelocity задает скорость динамического тела
func (b *Body) SetVelocity(v mgl64.Vec3) {
	if b.IsStatic() || !finite(v) {
		return
	}
	b.velocity = v
}

// ApplyImpulse мгновенно меняет импульс динамического тела
func (b *Body) ApplyImpulse(impulse mgl64.Vec3) {
	if b.IsStatic() || !finite(impulse) {
		return
	}
	b.velocity = b.velocity.Add(impulse.Mul(b.invMass))
}

func (b *Body) move(d mgl64.Vec3) {
	if b.IsStatic() {
		return
	}
	b.position = b.position.Add(d)
	b.pushed = b.pushed.Add(d)
}

func finite(v mgl64.Vec3) bool {
	for i := 0; i < 3; i++ {
		if math.IsNaN(v[i]) || math.IsInf(v[i], 0) {
			return false
		}
	}
	return true
}
