package physics

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// contact между динамической сферой a и телом b.
// normal направлена от b к a. Отрицательная depth - зазор
// спекулятивного контакта, который сфера может закрыть за подшаг.
type contact struct {
	a, b        *Body
	normal      mgl64.Vec3
	depth       float64
	restitution float64
	friction    float64

	inactive    bool
	targetSpeed float64
	normalImp   float64
	tangentImp  mgl64.Vec3
}

var up = mgl64.Vec3{0, 1, 0}

// collectContacts собирает контакты динамических сфер. При h > 0 радиус
// расширяется на путь относительного движения за подшаг, чтобы быстрая
// сфера не проходила поверхность между двумя проверками.
func (w *World) collectContacts(dst []contact, h float64) []contact {
	for i, a := range w.dynamic {
		sphere := a.shape.(*Sphere)

		for _, b := range w.bodies {
			if b == a {
				continue
			}
			// пары динамических сфер обрабатываются один раз
			if !b.IsStatic() && w.dynamicIndex(b) < i {
				continue
			}

			margin := a.velocity.Sub(b.velocity).Len() * h
			radius := sphere.Radius + margin

			var (
				n     mgl64.Vec3
				depth float64
				ok    bool
			)
			switch shape := b.shape.(type) {
			case *Sphere:
				n, depth, ok = sphereSphere(a.position, radius, b.position, shape.Radius)
			case *Box:
				n, depth, ok = sphereBox(a.position, radius, b.position, shape)
			case *HeightField:
				n, depth, ok = sphereHeightField(a.position, radius, b.position, shape)
			}
			if !ok {
				continue
			}
			depth -= margin

			dst = append(dst, contact{
				a:           a,
				b:           b,
				normal:      n,
				depth:       depth,
				restitution: w.profile.RestitutionCombine.combine(a.material.Restitution, b.material.Restitution),
				friction:    w.profile.FrictionCombine.combine(a.material.Friction, b.material.Friction),
			})
		}
	}
	return dst
}

func (w *World) dynamicIndex(b *Body) int {
	for i, d := range w.dynamic {
		if d == b {
			return i
		}
	}
	return -1
}

func (w *World) solveVelocities(contacts []contact, h float64) {
	for i := range contacts {
		c := &contacts[i]
		vn := c.relativeVelocity().Dot(c.normal)
		// зазор не закрывается за подшаг
		if c.depth < 0 && -vn*h <= -c.depth {
			c.inactive = true
			continue
		}
		switch {
		case -vn > w.profile.RestingSpeed:
			c.targetSpeed = -c.restitution * vn
		case c.depth < 0:
			// медленное сближение: дойти ровно до поверхности
			c.targetSpeed = c.depth / h
		}
	}

	for iter := 0; iter < w.profile.Iterations; iter++ {
		for i := range contacts {
			if !contacts[i].inactive {
				contacts[i].solve()
			}
		}
	}
}

func (c *contact) relativeVelocity() mgl64.Vec3 {
	return c.a.velocity.Sub(c.b.velocity)
}

func (c *contact) solve() {
	invMass := c.a.invMass + c.b.invMass
	if invMass == 0 {
		return
	}

	// Нормальная составляющая, накопленный импульс не отрицателен
	vn := c.relativeVelocity().Dot(c.normal)
	delta := (c.targetSpeed - vn) / invMass
	prev := c.normalImp
	c.normalImp = math.Max(prev+delta, 0)
	c.apply(c.normal.Mul(c.normalImp - prev))

	// Трение Кулона по касательной
	rel := c.relativeVelocity()
	vt := rel.Sub(c.normal.Mul(rel.Dot(c.normal)))
	prevT := c.tangentImp
	c.tangentImp = clampLength(prevT.Sub(vt.Mul(1/invMass)), c.friction*c.normalImp)
	c.apply(c.tangentImp.Sub(prevT))
}

func (c *contact) apply(impulse mgl64.Vec3) {
	c.a.velocity = c.a.velocity.Add(impulse.Mul(c.a.invMass))
	c.b.velocity = c.b.velocity.Sub(impulse.Mul(c.b.invMass))
}

// correctPositions выталкивает сферы из проникновения. Сдвиг, уже
// сделанный по нормали контакта, вычитается из его глубины: совпадающие
// поверхности (например, земля и карта высот на одном уровне) не
// выталкивают тело дважды.
func (w *World) correctPositions(contacts []contact) {
	for _, b := range w.dynamic {
		b.pushed = mgl64.Vec3{}
	}

	for i := range contacts {
		c := &contacts[i]
		invMass := c.a.invMass + c.b.invMass
		if invMass == 0 {
			continue
		}
		depth := c.depth - c.a.pushed.Sub(c.b.pushed).Dot(c.normal)
		push := math.Max(depth-w.profile.Slop, 0) * w.profile.Correction / invMass
		if push == 0 {
			continue
		}
		correction := c.normal.Mul(push)
		c.a.move(correction.Mul(c.a.invMass))
		c.b.move(correction.Mul(-c.b.invMass))
	}
}

func sphereSphere(ca mgl64.Vec3, ra float64, cb mgl64.Vec3, rb float64) (mgl64.Vec3, float64, bool) {
	d := ca.Sub(cb)
	dist := d.Len()
	if dist >= ra+rb {
		return mgl64.Vec3{}, 0, false
	}
	if dist == 0 {
		return up, ra + rb, true
	}
	return d.Mul(1 / dist), ra + rb - dist, true
}

func sphereBox(center mgl64.Vec3, radius float64, boxPos mgl64.Vec3, box *Box) (mgl64.Vec3, float64, bool) {
	local := center.Sub(boxPos)
	he := box.HalfExtents

	closest := mgl64.Vec3{
		mgl64.Clamp(local[0], -he[0], he[0]),
		mgl64.Clamp(local[1], -he[1], he[1]),
		mgl64.Clamp(local[2], -he[2], he[2]),
	}

	if closest != local {
		d := local.Sub(closest)
		dist := d.Len()
		if dist >= radius {
			return mgl64.Vec3{}, 0, false
		}
		return d.Mul(1 / dist), radius - dist, true
	}

	// Центр внутри коробки: выталкиваем по оси минимального проникновения
	axis := 0
	best := math.Inf(1)
	for i := 0; i < 3; i++ {
		if gap := he[i] - math.Abs(local[i]); gap < best {
			best = gap
			axis = i
		}
	}
	var n mgl64.Vec3
	n[axis] = 1
	if local[axis] < 0 {
		n[axis] = -1
	}
	return n, radius + best, true
}

func sphereHeightField(center mgl64.Vec3, radius float64, fieldPos mgl64.Vec3, hf *HeightField) (mgl64.Vec3, float64, bool) {
	local := center.Sub(fieldPos)
	if local[1]-radius > hf.maxY {
		return mgl64.Vec3{}, 0, false
	}

	// Центр под поверхностью: поднимаем по нормали треугольника
	if surface, normal, ok := hf.surface(local[0], local[2]); ok && local[1] < surface {
		return normal, (surface-local[1])*normal[1] + radius, true
	}

	u0, v0 := hf.cell(local[0]-radius, local[2]+radius)
	u1, v1 := hf.cell(local[0]+radius, local[2]-radius)
	colMin := clampInt(int(math.Floor(u0)), 0, hf.cols-2)
	colMax := clampInt(int(math.Floor(u1)), 0, hf.cols-2)
	rowMin := clampInt(int(math.Floor(v0)), 0, hf.rows-2)
	rowMax := clampInt(int(math.Floor(v1)), 0, hf.rows-2)
	if u1 < 0 || v1 < 0 || u0 > float64(hf.cols-1) || v0 > float64(hf.rows-1) {
		return mgl64.Vec3{}, 0, false
	}

	bestDist := radius
	var bestN mgl64.Vec3
	found := false

	test := func(a, b, c mgl64.Vec3) {
		q := closestPointOnTriangle(local, a, b, c)
		d := local.Sub(q)
		dist := d.Len()
		if dist >= bestDist {
			return
		}
		bestDist = dist
		found = true
		if dist > 1e-9 {
			bestN = d.Mul(1 / dist)
		} else {
			bestN = triangleNormal(a, b, c)
		}
	}

	for row := rowMin; row <= rowMax; row++ {
		for col := colMin; col <= colMax; col++ {
			a, b := hf.vertex(row, col), hf.vertex(row, col+1)
			c, d := hf.vertex(row+1, col), hf.vertex(row+1, col+1)
			test(a, b, c)
			test(b, d, c)
		}
	}

	if !found {
		return mgl64.Vec3{}, 0, false
	}
	return bestN, radius - bestDist, true
}

// closestPointOnTriangle - ближайшая к p точка треугольника abc
// (Ericson, Real-Time Collision Detection, 5.1.5)
func closestPointOnTriangle(p, a, b, c mgl64.Vec3) mgl64.Vec3 {
	ab := b.Sub(a)
	ac := c.Sub(a)
	ap := p.Sub(a)

	d1 := ab.Dot(ap)
	d2 := ac.Dot(ap)
	if d1 <= 0 && d2 <= 0 {
		return a
	}

	bp := p.Sub(b)
	d3 := ab.Dot(bp)
	d4 := ac.Dot(bp)
	if d3 >= 0 && d4 <= d3 {
		return b
	}

	vc := d1*d4 - d3*d2
	if vc <= 0 && d1 >= 0 && d3 <= 0 {
		v := d1 / (d1 - d3)
		return a.Add(ab.Mul(v))
	}

	cp := p.Sub(c)
	d5 := ab.Dot(cp)
	d6 := ac.Dot(cp)
	if d6 >= 0 && d5 <= d6 {
		return c
	}

	vb := d5*d2 - d1*d6
	if vb <= 0 && d2 >= 0 && d6 <= 0 {
		w := d2 / (d2 - d6)
		return a.Add(ac.Mul(w))
	}

	va := d3*d6 - d5*d4
	if va <= 0 && (d4-d3) >= 0 && (d5-d6) >= 0 {
		w := (d4 - d3) / ((d4 - d3) + (d5 - d6))
		return b.Add(c.Sub(b).Mul(w))
	}

	denom := 1 / (va + vb + vc)
	v := vb * denom
	w := vc * denom
	return a.Add(ab.Mul(v)).Add(ac.Mul(w))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
