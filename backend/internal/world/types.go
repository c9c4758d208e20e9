package world

// Vector3 представляет 3D вектор в мировых координатах
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Quaternion описывает ориентацию тела
type Quaternion struct {
	X, Y, Z, W float64
}

// IdentityQuaternion - нулевое вращение
var IdentityQuaternion = Quaternion{W: 1}

// Material описывает физический материал поверхности
type Material struct {
	Friction    float64 `json:"friction"`
	Restitution float64 `json:"restitution"`
}

type ShapeType int

const (
	SPHERE ShapeType = iota
	BOX
	TERRAIN
)

func (t ShapeType) String() string {
	switch t {
	case SPHERE:
		return "sphere"
	case BOX:
		return "box"
	case TERRAIN:
		return "terrain"
	default:
		return "unknown"
	}
}
