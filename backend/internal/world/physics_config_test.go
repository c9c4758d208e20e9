package world

import "testing"

func TestDefaultSceneConfig(t *testing.T) {
	cfg := DefaultSceneConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config must be valid: %v", err)
	}
	if cfg.Gravity.Y != -9.8 {
		t.Errorf("Expected gravity -9.8, got %v", cfg.Gravity.Y)
	}
	if cfg.Ground.Size != 100 {
		t.Errorf("Expected ground size 100, got %v", cfg.Ground.Size)
	}
	if cfg.Terrain.MaxHeight != 10 || cfg.Terrain.Subdivisions != 100 {
		t.Errorf("Unexpected terrain defaults: %+v", cfg.Terrain)
	}
	if cfg.Sphere.Radius != 1 || cfg.Sphere.Mass != 1 || cfg.Sphere.Material.Restitution != 0.75 {
		t.Errorf("Unexpected sphere defaults: %+v", cfg.Sphere)
	}
}

func TestSceneConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *SceneConfig)
	}{
		{"zero ground", func(c *SceneConfig) { c.Ground.Size = 0 }},
		{"negative radius", func(c *SceneConfig) { c.Sphere.Radius = -1 }},
		{"static sphere", func(c *SceneConfig) { c.Sphere.Mass = 0 }},
		{"sphere below ground", func(c *SceneConfig) { c.Sphere.Start.Y = 0.5 }},
		{"restitution above one", func(c *SceneConfig) { c.Sphere.Material.Restitution = 1.5 }},
		{"inverted terrain heights", func(c *SceneConfig) { c.Terrain.MaxHeight = -1 }},
		{"negative friction", func(c *SceneConfig) { c.Terrain.Material.Friction = -0.1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultSceneConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Expected validation error")
			}
		})
	}
}

func TestSetSceneConfig(t *testing.T) {
	original := GetSceneConfig()
	t.Cleanup(func() { _ = SetSceneConfig(original) })

	invalid := original
	invalid.Sphere.Radius = 0
	if err := SetSceneConfig(invalid); err == nil {
		t.Fatal("Expected SetSceneConfig to reject invalid config")
	}
	if GetSceneConfig() != original {
		t.Error("Rejected config must not replace the current one")
	}

	tuned := original
	tuned.Terrain.Material.Friction = 0.9
	if err := SetSceneConfig(tuned); err != nil {
		t.Fatalf("SetSceneConfig returned error: %v", err)
	}
	if GetTerrainConfig().Material.Friction != 0.9 {
		t.Errorf("Expected tuned friction 0.9, got %v", GetTerrainConfig().Material.Friction)
	}
}
