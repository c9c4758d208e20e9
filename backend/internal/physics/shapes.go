package physics

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"x-bounce/backend/internal/world"
)

// Shape - форма коллайдера
type Shape interface {
	Type() world.ShapeType
	validate() error
}

// Sphere - сфера с центром в позиции тела
type Sphere struct {
	Radius float64
}

func (s *Sphere) Type() world.ShapeType { return world.SPHERE }

func (s *Sphere) validate() error {
	if !(s.Radius > 0) {
		return fmt.Errorf("sphere radius must be positive, got %v", s.Radius)
	}
	return nil
}

// Box - параллелепипед, выровненный по осям
type Box struct {
	HalfExtents mgl64.Vec3
}

func NewBox(width, height, depth float64) *Box {
	return &Box{HalfExtents: mgl64.Vec3{width / 2, height / 2, depth / 2}}
}

func (b *Box) Type() world.ShapeType { return world.BOX }

func (b *Box) validate() error {
	for i := 0; i < 3; i++ {
		if !(b.HalfExtents[i] > 0) {
			return fmt.Errorf("box half extents must be positive, got %v", b.HalfExtents)
		}
	}
	return nil
}

// HeightField - регулярная сетка высот с центром в позиции тела.
// Вершина (row, col) лежит в x = -width/2 + col*dx, z = depth/2 - row*dz.
// Каждая ячейка делится на треугольники (A, B, C) и (B, D, C),
// где A=(row,col), B=(row,col+1), C=(row+1,col), D=(row+1,col+1).
type HeightField struct {
	cols, rows   int
	width, depth float64
	dx, dz       float64
	heights      []float64
	minY, maxY   float64
}

// NewHeightField копирует heights (rows*cols значений построчно)
func NewHeightField(cols, rows int, width, depth float64, heights []float64) (*HeightField, error) {
	if cols < 2 || rows < 2 {
		return nil, fmt.Errorf("%w: heightfield needs at least 2x2 vertices, got %dx%d", ErrInvalidBody, cols, rows)
	}
	if !(width > 0) || !(depth > 0) {
		return nil, fmt.Errorf("%w: heightfield size must be positive", ErrInvalidBody)
	}
	if len(heights) != cols*rows {
		return nil, fmt.Errorf("%w: heightfield expects %d heights, got %d", ErrInvalidBody, cols*rows, len(heights))
	}

	hf := &HeightField{
		cols:    cols,
		rows:    rows,
		width:   width,
		depth:   depth,
		dx:      width / float64(cols-1),
		dz:      depth / float64(rows-1),
		heights: append([]float64(nil), heights...),
		minY:    math.Inf(1),
		maxY:    math.Inf(-1),
	}
	for _, h := range hf.heights {
		if math.IsNaN(h) || math.IsInf(h, 0) {
			return nil, fmt.Errorf("%w: heightfield contains non-finite height", ErrInvalidBody)
		}
		hf.minY = math.Min(hf.minY, h)
		hf.maxY = math.Max(hf.maxY, h)
	}
	return hf, nil
}

func (h *HeightField) Type() world.ShapeType { return world.TERRAIN }

func (h *HeightField) validate() error { return nil }

// vertex возвращает вершину в локальных координатах поля
func (h *HeightField) vertex(row, col int) mgl64.Vec3 {
	return mgl64.Vec3{
		-h.width/2 + float64(col)*h.dx,
		h.heights[row*h.cols+col],
		h.depth/2 - float64(row)*h.dz,
	}
}

// cell возвращает дробные координаты ячейки для локальной точки
func (h *HeightField) cell(x, z float64) (u, v float64) {
	return (x + h.width/2) / h.dx, (h.depth/2 - z) / h.dz
}

// surface возвращает высоту и нормаль поверхности над локальной точкой (x, z)
func (h *HeightField) surface(x, z float64) (float64, mgl64.Vec3, bool) {
	u, v := h.cell(x, z)
	if u < 0 || v < 0 || u > float64(h.cols-1) || v > float64(h.rows-1) {
		return 0, mgl64.Vec3{}, false
	}

	col := int(math.Min(math.Floor(u), float64(h.cols-2)))
	row := int(math.Min(math.Floor(v), float64(h.rows-2)))
	fu := u - float64(col)
	fv := v - float64(row)

	a, b, c, d := h.vertex(row, col), h.vertex(row, col+1), h.vertex(row+1, col), h.vertex(row+1, col+1)
	if fu+fv <= 1 {
		return a[1] + fu*(b[1]-a[1]) + fv*(c[1]-a[1]), triangleNormal(a, b, c), true
	}
	return d[1] + (1-fu)*(c[1]-d[1]) + (1-fv)*(b[1]-d[1]), triangleNormal(b, d, c), true
}

func triangleNormal(a, b, c mgl64.Vec3) mgl64.Vec3 {
	return b.Sub(a).Cross(c.Sub(a)).Normalize()
}
