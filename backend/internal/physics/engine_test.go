package physics

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func writeEngine(t *testing.T, dir string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, "solver.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write engine: %v", err)
	}
	return path
}

func TestLoadEngine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "solver.bin")
	if err := WriteProfileFile(path, DefaultProfile()); err != nil {
		t.Fatalf("WriteProfileFile() error = %v", err)
	}

	engine, err := LoadEngine(path)
	if err != nil {
		t.Fatalf("LoadEngine() error = %v", err)
	}
	if engine.Path() != path {
		t.Errorf("Path() = %q, want %q", engine.Path(), path)
	}
	if engine.Profile() != DefaultProfile() {
		t.Errorf("Profile() = %+v", engine.Profile())
	}
}

func TestLoadEngineFailureKinds(t *testing.T) {
	dir := t.TempDir()

	valid, err := EncodeProfile(DefaultProfile())
	if err != nil {
		t.Fatalf("EncodeProfile() error = %v", err)
	}
	future := append([]byte(nil), valid...)
	future[5] = 9

	tests := []struct {
		name string
		path string
		kind InitErrorKind
	}{
		{"missing", filepath.Join(dir, "absent.bin"), KindMissing},
		{"directory", dir, KindUnreadable},
		{"garbage", writeEngine(t, t.TempDir(), []byte("definitely not an engine")), KindCorrupt},
		{"wrong version", writeEngine(t, t.TempDir(), future), KindIncompatible},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, err := LoadEngine(tt.path)
			if engine != nil {
				t.Error("engine must be nil on failure")
			}

			var initErr *InitError
			if !errors.As(err, &initErr) {
				t.Fatalf("LoadEngine() error = %v, want *InitError", err)
			}
			if initErr.Kind != tt.kind {
				t.Errorf("kind = %s, want %s", initErr.Kind, tt.kind)
			}
			if initErr.Path != tt.path {
				t.Errorf("path = %q, want %q", initErr.Path, tt.path)
			}
			if !errors.Is(err, ErrEngineUnavailable) {
				t.Error("error should match ErrEngineUnavailable")
			}
		})
	}
}

func TestLoadEngineMissingWrapsNotExist(t *testing.T) {
	_, err := LoadEngine(filepath.Join(t.TempDir(), "nope.bin"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("error = %v, want fs.ErrNotExist in chain", err)
	}
}

func TestLoaderRetriesAfterFailureAndCachesSuccess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "solver.bin")
	loader := NewLoader(path)

	if _, err := loader.Engine(); err == nil {
		t.Fatal("expected error for missing engine")
	}

	if err := WriteProfileFile(path, DefaultProfile()); err != nil {
		t.Fatalf("WriteProfileFile() error = %v", err)
	}
	first, err := loader.Engine()
	if err != nil {
		t.Fatalf("Engine() after write error = %v", err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	second, err := loader.Engine()
	if err != nil {
		t.Fatalf("cached Engine() error = %v", err)
	}
	if first != second {
		t.Error("loader should return the cached engine")
	}
}

func TestEngineTracksActiveWorlds(t *testing.T) {
	engine, err := NewEngine(DefaultProfile())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	a := engine.NewWorld(mgl64.Vec3{0, -9.8, 0})
	b := engine.NewWorld(mgl64.Vec3{0, -9.8, 0})
	if got := engine.ActiveWorlds(); got != 2 {
		t.Errorf("ActiveWorlds() = %d, want 2", got)
	}

	a.Dispose()
	a.Dispose()
	if got := engine.ActiveWorlds(); got != 1 {
		t.Errorf("ActiveWorlds() after double dispose = %d, want 1", got)
	}
	b.Dispose()
	if got := engine.ActiveWorlds(); got != 0 {
		t.Errorf("ActiveWorlds() = %d, want 0", got)
	}
}

func TestNewEngineRejectsInvalidProfile(t *testing.T) {
	p := DefaultProfile()
	p.Correction = 2
	_, err := NewEngine(p)
	if !errors.Is(err, ErrEngineUnavailable) {
		t.Errorf("NewEngine() error = %v, want ErrEngineUnavailable", err)
	}
}
