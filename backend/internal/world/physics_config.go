package world

import (
	"errors"
	"fmt"
	"sync"
)

// GroundConfig описывает статическую плоскость под террейном
type GroundConfig struct {
	Size      float64  // сторона квадрата
	Thickness float64  // толщина коробки, верхняя грань на y=0
	Material  Material // материал поверхности
}

// TerrainConfig описывает height-field, построенный из растра
type TerrainConfig struct {
	Width        float64
	Depth        float64
	MinHeight    float64
	MaxHeight    float64
	Subdivisions int
	Material     Material
}

// SphereConfig содержит параметры единственного динамического тела
type SphereConfig struct {
	Radius   float64
	Mass     float64
	Material Material
	Start    Vector3
}

// SceneConfig объединяет все настройки сцены одной сессии
type SceneConfig struct {
	Gravity Vector3
	Ground  GroundConfig
	Terrain TerrainConfig
	Sphere  SphereConfig
}

var (
	sceneConfig SceneConfig
	configMutex sync.RWMutex
)

func init() {
	sceneConfig = DefaultSceneConfig()
}

// DefaultSceneConfig возвращает конфигурацию сцены по умолчанию
func DefaultSceneConfig() SceneConfig {
	groundMaterial := Material{Friction: 0.2, Restitution: 0.3}

	return SceneConfig{
		Gravity: Vector3{X: 0, Y: -9.8, Z: 0},
		Ground: GroundConfig{
			Size:      100,
			Thickness: 0.1,
			Material:  groundMaterial,
		},
		Terrain: TerrainConfig{
			Width:        100,
			Depth:        100,
			MinHeight:    0,
			MaxHeight:    10,
			Subdivisions: 100,
			Material:     groundMaterial,
		},
		Sphere: SphereConfig{
			Radius:   1,
			Mass:     1,
			Material: Material{Friction: 0.2, Restitution: 0.75},
			Start:    Vector3{X: 0, Y: 20, Z: 0},
		},
	}
}

// Validate проверяет конфигурацию перед построением мира
func (c SceneConfig) Validate() error {
	if c.Ground.Size <= 0 || c.Ground.Thickness <= 0 {
		return errors.New("scene: ground size and thickness must be positive")
	}
	if err := c.Terrain.Validate(); err != nil {
		return err
	}
	if c.Sphere.Radius <= 0 {
		return fmt.Errorf("scene: sphere radius must be positive, got %v", c.Sphere.Radius)
	}
	if c.Sphere.Mass <= 0 {
		return fmt.Errorf("scene: sphere mass must be positive, got %v", c.Sphere.Mass)
	}
	if c.Sphere.Start.Y <= c.Sphere.Radius {
		return fmt.Errorf("scene: sphere must start above the ground, y=%v", c.Sphere.Start.Y)
	}
	if err := c.Sphere.Material.validate(); err != nil {
		return fmt.Errorf("scene: sphere %w", err)
	}
	if err := c.Ground.Material.validate(); err != nil {
		return fmt.Errorf("scene: ground %w", err)
	}
	return nil
}

// Validate проверяет размеры и детализацию террейна
func (c TerrainConfig) Validate() error {
	if c.Width <= 0 || c.Depth <= 0 {
		return errors.New("terrain: width and depth must be positive")
	}
	if c.Subdivisions < 1 {
		return fmt.Errorf("terrain: subdivisions must be >= 1, got %d", c.Subdivisions)
	}
	if c.MaxHeight < c.MinHeight {
		return fmt.Errorf("terrain: max height %v below min height %v", c.MaxHeight, c.MinHeight)
	}
	if err := c.Material.validate(); err != nil {
		return fmt.Errorf("terrain: %w", err)
	}
	return nil
}

func (m Material) validate() error {
	if m.Friction < 0 {
		return fmt.Errorf("material: negative friction %v", m.Friction)
	}
	if m.Restitution < 0 || m.Restitution > 1 {
		return fmt.Errorf("material: restitution %v outside [0, 1]", m.Restitution)
	}
	return nil
}

// GetSceneConfig возвращает копию текущей конфигурации сцены.
// Сессия берет копию при создании, изменения применяются только к новым сессиям.
func GetSceneConfig() SceneConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return sceneConfig
}

// SetSceneConfig устанавливает новую конфигурацию сцены
func SetSceneConfig(config SceneConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}
	configMutex.Lock()
	defer configMutex.Unlock()
	sceneConfig = config
	return nil
}

// GetTerrainConfig возвращает только конфигурацию террейна
func GetTerrainConfig() TerrainConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return sceneConfig.Terrain
}
