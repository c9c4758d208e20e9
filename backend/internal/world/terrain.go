package world

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"math"
	"net/http"
	"os"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // heightmap в формате webp
)

// AssetError - ошибка чтения или декодирования растра террейна
type AssetError struct {
	Path string
	Err  error
}

func (e *AssetError) Error() string {
	return fmt.Sprintf("terrain asset %s: %v", e.Path, e.Err)
}

func (e *AssetError) Unwrap() error { return e.Err }

// Terrain - неизменяемый height-field, построенный из растра.
// Загружается один раз на процесс и читается всеми сессиями.
type Terrain struct {
	width        float64
	depth        float64
	minHeight    float64
	maxHeight    float64
	subdivisions int

	// heights хранит (subdivisions+1)^2 вершин построчно.
	// Строка 0 соответствует верхнему краю растра и z = +depth/2.
	heights []float64

	raw      []byte
	mimeType string
	dataURI  string
}

// LoadTerrain читает растр с диска и строит террейн
func LoadTerrain(path string, cfg TerrainConfig) (*Terrain, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &AssetError{Path: path, Err: err}
	}

	t, err := NewTerrain(raw, cfg)
	if err != nil {
		return nil, &AssetError{Path: path, Err: err}
	}
	return t, nil
}

// NewTerrain строит террейн из закодированного растра (png, jpeg, gif, bmp, tiff, webp).
// Высота вершины = minHeight + (maxHeight-minHeight) * яркость пикселя.
func NewTerrain(raw []byte, cfg TerrainConfig) (*Terrain, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty heightmap")
	}

	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode heightmap: %w", err)
	}
	gray := imaging.Grayscale(img)

	bounds := gray.Bounds()
	if bounds.Dx() < 1 || bounds.Dy() < 1 {
		return nil, fmt.Errorf("heightmap has no pixels")
	}

	t := &Terrain{
		width:        cfg.Width,
		depth:        cfg.Depth,
		minHeight:    cfg.MinHeight,
		maxHeight:    cfg.MaxHeight,
		subdivisions: cfg.Subdivisions,
		raw:          append([]byte(nil), raw...),
		mimeType:     http.DetectContentType(raw),
	}
	t.dataURI = "data:" + t.mimeType + ";base64," + base64.StdEncoding.EncodeToString(raw)
	t.heights = sampleHeights(gray, cfg)

	return t, nil
}

// sampleHeights снимает высоты вершин сетки тем же способом, что и клиентский
// CreateGroundFromHeightMap: ближайший пиксель по нормализованным координатам.
func sampleHeights(gray *image.NRGBA, cfg TerrainConfig) []float64 {
	n := cfg.Subdivisions + 1
	bounds := gray.Bounds()
	bufW := bounds.Dx()
	bufH := bounds.Dy()
	heightRange := cfg.MaxHeight - cfg.MinHeight

	heights := make([]float64, n*n)
	for row := 0; row < n; row++ {
		py := int(math.Floor(float64(row) / float64(cfg.Subdivisions) * float64(bufH-1)))
		for col := 0; col < n; col++ {
			px := int(math.Floor(float64(col) / float64(cfg.Subdivisions) * float64(bufW-1)))

			offset := py*gray.Stride + px*4
			gradient := float64(gray.Pix[offset]) / 255.0

			heights[row*n+col] = cfg.MinHeight + heightRange*gradient
		}
	}
	return heights
}

func (t *Terrain) Width() float64     { return t.width }
func (t *Terrain) Depth() float64     { return t.depth }
func (t *Terrain) MinHeight() float64 { return t.minHeight }
func (t *Terrain) MaxHeight() float64 { return t.maxHeight }
func (t *Terrain) Subdivisions() int  { return t.subdivisions }
func (t *Terrain) MimeType() string   { return t.mimeType }

// Heights возвращает копию сетки высот
func (t *Terrain) Heights() []float64 {
	return append([]float64(nil), t.heights...)
}

// Raw возвращает копию исходного растра
func (t *Terrain) Raw() []byte {
	return append([]byte(nil), t.raw...)
}

// DataURI возвращает растр в виде "data:<mime>;base64,..."
func (t *Terrain) DataURI() string {
	return t.dataURI
}

// Vertex возвращает мировую позицию вершины сетки
func (t *Terrain) Vertex(row, col int) Vector3 {
	n := t.subdivisions + 1
	return Vector3{
		X: float64(col)*t.width/float64(t.subdivisions) - t.width/2,
		Y: t.heights[row*n+col],
		Z: t.depth/2 - float64(row)*t.depth/float64(t.subdivisions),
	}
}

// HeightAt возвращает высоту поверхности в точке (x, z).
// Вне границ террейна возвращает false.
func (t *Terrain) HeightAt(x, z float64) (float64, bool) {
	u := (x + t.width/2) / t.width * float64(t.subdivisions)
	v := (t.depth/2 - z) / t.depth * float64(t.subdivisions)
	if u < 0 || v < 0 || u > float64(t.subdivisions) || v > float64(t.subdivisions) {
		return 0, false
	}

	col := int(math.Min(math.Floor(u), float64(t.subdivisions-1)))
	row := int(math.Min(math.Floor(v), float64(t.subdivisions-1)))
	fu := u - float64(col)
	fv := v - float64(row)

	n := t.subdivisions + 1
	hA := t.heights[row*n+col]
	hB := t.heights[row*n+col+1]
	hC := t.heights[(row+1)*n+col]
	hD := t.heights[(row+1)*n+col+1]

	// Те же треугольники, что и у коллайдера: (A, B, C) и (B, D, C)
	if fu+fv <= 1 {
		return hA + fu*(hB-hA) + fv*(hC-hA), true
	}
	return hD + (1-fu)*(hC-hD) + (1-fv)*(hB-hD), true
}
