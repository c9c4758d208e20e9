package session

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"math"
	"testing"
	"time"

	"x-bounce/backend/internal/physics"
	"x-bounce/backend/internal/world"
)

const tick = time.Second / 30

func testScene() world.SceneConfig {
	cfg := world.DefaultSceneConfig()
	cfg.Terrain.Subdivisions = 10
	return cfg
}

// flatTerrain строит террейн из черного растра: высота 0 везде
func flatTerrain(t *testing.T, cfg world.TerrainConfig) *world.Terrain {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 16, 16))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	terrain, err := world.NewTerrain(buf.Bytes(), cfg)
	if err != nil {
		t.Fatalf("NewTerrain() error = %v", err)
	}
	return terrain
}

func testEngine(t *testing.T) *physics.Engine {
	t.Helper()
	engine, err := physics.NewEngine(physics.DefaultProfile())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return engine
}

func newTestSession(t *testing.T, id string, engine *physics.Engine) *Session {
	t.Helper()
	cfg := testScene()
	s, err := New(id, engine, flatTerrain(t, cfg.Terrain), cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestSession_Construction(t *testing.T) {
	s := newTestSession(t, "a", testEngine(t))

	if s.Bodies() != 3 {
		t.Errorf("Bodies() = %d, want ground, terrain and sphere", s.Bodies())
	}
	if got := s.SpherePosition(); got != (world.Vector3{X: 0, Y: 20, Z: 0}) {
		t.Errorf("SpherePosition() = %+v, want (0, 20, 0)", got)
	}
	if got := s.SphereOrientation(); got != world.IdentityQuaternion {
		t.Errorf("SphereOrientation() = %+v, want identity", got)
	}
	if s.CreatedAt().IsZero() {
		t.Error("CreatedAt() is zero")
	}
	if s.ID() != "a" {
		t.Errorf("ID() = %q", s.ID())
	}
}

func TestSession_RequiresEngineAndTerrain(t *testing.T) {
	cfg := testScene()
	terrain := flatTerrain(t, cfg.Terrain)

	if _, err := New("x", nil, terrain, cfg); err == nil {
		t.Error("expected error without engine")
	}
	if _, err := New("x", testEngine(t), nil, cfg); err == nil {
		t.Error("expected error without terrain")
	}

	bad := cfg
	bad.Sphere.Radius = 0
	engine := testEngine(t)
	if _, err := New("x", engine, terrain, bad); err == nil {
		t.Error("expected error for invalid scene")
	}
	if engine.ActiveWorlds() != 0 {
		t.Errorf("ActiveWorlds() = %d after failed construction", engine.ActiveWorlds())
	}
}

func TestSession_ReboundPeakBelowStart(t *testing.T) {
	s := newTestSession(t, "a", testEngine(t))

	var prevVy, peak float64
	bounced := false
	for i := 0; i < 30*6; i++ {
		if err := s.Step(tick); err != nil {
			t.Fatalf("Step() error = %v", err)
		}
		pos, vel := s.State()
		if prevVy < 0 && vel.Y > 0 {
			bounced = true
		}
		if bounced {
			peak = math.Max(peak, pos.Y)
		}
		prevVy = vel.Y
	}

	if !bounced {
		t.Fatal("sphere never bounced")
	}
	if peak >= 20 {
		t.Errorf("rebound peak = %v, want < 20", peak)
	}
	if peak <= 1 {
		t.Errorf("rebound peak = %v, sphere did not leave the ground", peak)
	}
}

// Сцена с поставляемыми ассетами: в центре карта высот поднята,
// в углу совпадает с уровнем земли.
func TestSession_BouncesOnShippedAssets(t *testing.T) {
	engine, err := physics.LoadEngine("../../../assets/solver.bin")
	if err != nil {
		t.Fatalf("LoadEngine() error = %v", err)
	}
	cfg := world.DefaultSceneConfig()
	terrain, err := world.LoadTerrain("../../../assets/heightmap.png", cfg.Terrain)
	if err != nil {
		t.Fatalf("LoadTerrain() error = %v", err)
	}

	tests := []struct {
		name  string
		start world.Vector3
	}{
		{"raised cell", world.Vector3{X: 0, Y: 20, Z: 0}},
		{"ground level cell", world.Vector3{X: -45, Y: 20, Z: -45}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := cfg
			cfg.Sphere.Start = tt.start
			s, err := New("assets", engine, terrain, cfg)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			defer s.Close()

			var prevVy, peak, maxFall float64
			bounced := false
			for i := 0; i < 30*6; i++ {
				if err := s.Step(tick); err != nil {
					t.Fatalf("Step() error = %v", err)
				}
				pos, vel := s.State()
				maxFall = math.Max(maxFall, -vel.Y)
				if prevVy < 0 && vel.Y > 0 {
					bounced = true
				}
				if bounced {
					peak = math.Max(peak, pos.Y)
				}
				prevVy = vel.Y
			}

			if !bounced {
				t.Fatal("sphere never bounced")
			}
			if maxFall > 25 {
				t.Errorf("max fall speed = %v, want <= 25", maxFall)
			}
			if peak >= 20 {
				t.Errorf("rebound peak = %v, want < 20", peak)
			}
		})
	}
}

func TestSession_Isolation(t *testing.T) {
	engine := testEngine(t)
	a := newTestSession(t, "a", engine)
	b := newTestSession(t, "b", engine)
	reference := newTestSession(t, "ref", engine)

	a.TeleportSphere(world.Vector3{X: 10, Y: 5, Z: 0})
	for i := 0; i < 60; i++ {
		for _, s := range []*Session{a, b, reference} {
			if err := s.Step(tick); err != nil {
				t.Fatalf("Step() error = %v", err)
			}
		}
	}
	// Лишние шаги только в a
	for i := 0; i < 10; i++ {
		_ = a.Step(tick)
	}

	if b.SpherePosition() != reference.SpherePosition() {
		t.Errorf("session b diverged from reference: %+v vs %+v", b.SpherePosition(), reference.SpherePosition())
	}
	if b.StepCount() != 60 {
		t.Errorf("b.StepCount() = %d, want 60", b.StepCount())
	}
	if a.SpherePosition().X != 10 {
		t.Errorf("a.X = %v, want 10", a.SpherePosition().X)
	}

	a.Close()
	if err := b.Step(tick); err != nil {
		t.Errorf("closing a broke b: %v", err)
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	engine := testEngine(t)
	s := newTestSession(t, "a", engine)

	s.Close()
	s.Close()

	if !s.Closed() {
		t.Error("Closed() = false")
	}
	if err := s.Step(tick); !errors.Is(err, physics.ErrWorldDisposed) {
		t.Errorf("Step() after Close error = %v, want ErrWorldDisposed", err)
	}
	if engine.ActiveWorlds() != 0 {
		t.Errorf("ActiveWorlds() = %d, want 0", engine.ActiveWorlds())
	}
}
