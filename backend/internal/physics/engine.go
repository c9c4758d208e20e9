package physics

import (
	"errors"
	"io/fs"
	"os"
	"sync"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl64"
)

// Engine - загруженный физический движок. Один экземпляр на процесс,
// каждая сессия создает в нем собственный World.
type Engine struct {
	path    string
	profile SolverProfile
	active  atomic.Int64
}

// NewEngine создает движок из готового профиля, минуя файл
func NewEngine(profile SolverProfile) (*Engine, error) {
	if err := profile.Validate(); err != nil {
		return nil, &InitError{Kind: KindIncompatible, Err: err}
	}
	return &Engine{profile: profile}, nil
}

// LoadEngine читает и проверяет бинарник движка.
// Любой отказ возвращается как *InitError, движок не бывает загружен наполовину.
func LoadEngine(path string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		kind := KindUnreadable
		if errors.Is(err, fs.ErrNotExist) {
			kind = KindMissing
		}
		return nil, &InitError{Path: path, Kind: kind, Err: err}
	}

	profile, err := DecodeProfile(data)
	if err != nil {
		var initErr *InitError
		if errors.As(err, &initErr) {
			initErr.Path = path
			return nil, initErr
		}
		return nil, &InitError{Path: path, Kind: KindCorrupt, Err: err}
	}

	return &Engine{path: path, profile: profile}, nil
}

func (e *Engine) Path() string           { return e.path }
func (e *Engine) Profile() SolverProfile { return e.profile }

// ActiveWorlds возвращает количество неосвобожденных миров
func (e *Engine) ActiveWorlds() int {
	return int(e.active.Load())
}

// NewWorld создает независимый мир с заданной гравитацией
func (e *Engine) NewWorld(gravity mgl64.Vec3) *World {
	e.active.Add(1)
	return &World{
		engine:  e,
		profile: e.profile,
		gravity: gravity,
	}
}

// Loader лениво загружает движок и кэширует только успешный результат.
// После отказа следующий вызов Engine пробует снова.
type Loader struct {
	path string

	mu     sync.Mutex
	engine *Engine
}

func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

func (l *Loader) Path() string { return l.path }

// Engine возвращает загруженный движок или *InitError
func (l *Loader) Engine() (*Engine, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.engine != nil {
		return l.engine, nil
	}

	engine, err := LoadEngine(l.path)
	if err != nil {
		return nil, err
	}
	l.engine = engine
	return engine, nil
}
