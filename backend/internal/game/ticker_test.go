package game

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"x-bounce/backend/internal/logger"
)

// MockSystem считает вызовы и запоминает номера тиков
type MockSystem struct {
	name     string
	priority int
	onUpdate func(tick uint64)

	mu    sync.Mutex
	ticks []uint64
	calls atomic.Int64
}

func (m *MockSystem) Update(tick uint64, _ time.Duration) error {
	m.calls.Add(1)
	m.mu.Lock()
	m.ticks = append(m.ticks, tick)
	m.mu.Unlock()
	if m.onUpdate != nil {
		m.onUpdate(tick)
	}
	return nil
}

func (m *MockSystem) GetName() string  { return m.name }
func (m *MockSystem) GetPriority() int { return m.priority }

func (m *MockSystem) Ticks() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint64(nil), m.ticks...)
}

type panicSystem struct{}

func (panicSystem) Update(uint64, time.Duration) error { panic("boom") }
func (panicSystem) GetName() string                   { return "panic" }
func (panicSystem) GetPriority() int                  { return 0 }

type failingSystem struct{}

func (failingSystem) Update(uint64, time.Duration) error { return errors.New("failed") }
func (failingSystem) GetName() string                   { return "failing" }
func (failingSystem) GetPriority() int                  { return 1 }

func createTestScheduler(tps int) *TickScheduler {
	return NewTickScheduler(tps, logger.Discard())
}

func TestTickScheduler_Cadence(t *testing.T) {
	ts := createTestScheduler(30)
	if ts.TickDuration() != time.Second/30 {
		t.Errorf("TickDuration() = %v, want %v", ts.TickDuration(), time.Second/30)
	}
	counter := &MockSystem{name: "counter"}
	ts.RegisterSystem(counter)

	if err := ts.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(time.Second)
	ts.Stop()

	got := counter.calls.Load()
	if got < 28 || got > 32 {
		t.Errorf("ticks in 1s = %d, want 30±2", got)
	}
}

func TestTickScheduler_TicksAreMonotonic(t *testing.T) {
	ts := createTestScheduler(100)
	counter := &MockSystem{name: "counter"}
	ts.RegisterSystem(counter)

	if err := ts.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	ts.Stop()

	ticks := counter.Ticks()
	if len(ticks) == 0 {
		t.Fatal("no ticks executed")
	}
	for i, tick := range ticks {
		if tick != uint64(i+1) {
			t.Fatalf("tick[%d] = %d, want %d", i, tick, i+1)
		}
	}
	if ts.TickCount() != uint64(len(ticks)) {
		t.Errorf("TickCount() = %d, want %d", ts.TickCount(), len(ticks))
	}
}

func TestTickScheduler_NoTicksAfterStop(t *testing.T) {
	ts := createTestScheduler(100)
	counter := &MockSystem{name: "counter"}
	ts.RegisterSystem(counter)

	if err := ts.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	ts.Stop()
	ts.Stop()

	after := counter.calls.Load()
	time.Sleep(100 * time.Millisecond)
	if got := counter.calls.Load(); got != after {
		t.Errorf("system ran %d times after Stop", got-after)
	}
	if ts.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
	if err := ts.Start(); !errors.Is(err, ErrAlreadyStopped) {
		t.Errorf("Start() after Stop error = %v, want ErrAlreadyStopped", err)
	}
}

func TestTickScheduler_ConcurrentStop(t *testing.T) {
	ts := createTestScheduler(100)
	ts.RegisterSystem(&MockSystem{name: "counter"})
	if err := ts.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ts.Stop()
		}()
	}
	wg.Wait()

	if ts.IsRunning() {
		t.Error("IsRunning() = true after concurrent Stop")
	}
}

func TestTickScheduler_StartRules(t *testing.T) {
	ts := createTestScheduler(30)
	if err := ts.Start(); !errors.Is(err, ErrNoSystems) {
		t.Errorf("Start() without systems error = %v, want ErrNoSystems", err)
	}

	ts.RegisterSystem(&MockSystem{name: "counter"})
	if err := ts.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := ts.Start(); err != nil {
		t.Errorf("second Start() error = %v, want nil", err)
	}
	if !ts.IsRunning() {
		t.Error("IsRunning() = false after Start")
	}
	ts.Stop()

	// Stop до Start не блокируется
	idle := createTestScheduler(30)
	idle.Stop()
}

func TestTickScheduler_PriorityOrder(t *testing.T) {
	ts := createTestScheduler(100)

	var mu sync.Mutex
	var order []string
	record := func(name string) func(uint64) {
		return func(tick uint64) {
			if tick != 1 {
				return
			}
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	ts.RegisterSystem(&MockSystem{name: "telemetry", priority: 20, onUpdate: record("telemetry")})
	ts.RegisterSystem(&MockSystem{name: "physics", priority: 0, onUpdate: record("physics")})
	ts.RegisterSystem(&MockSystem{name: "broadcast", priority: 10, onUpdate: record("broadcast")})

	if err := ts.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	ts.Stop()

	mu.Lock()
	defer mu.Unlock()
	want := []string{"physics", "broadcast", "telemetry"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order = %v, want %v", order, want)
			break
		}
	}
}

func TestTickScheduler_RecoversFromPanics(t *testing.T) {
	ts := createTestScheduler(100)
	counter := &MockSystem{name: "counter", priority: 5}
	ts.RegisterSystem(panicSystem{})
	ts.RegisterSystem(failingSystem{})
	ts.RegisterSystem(counter)

	if err := ts.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	ts.Stop()

	if counter.calls.Load() == 0 {
		t.Fatal("loop died after a panicking system")
	}

	pm := ts.PerformanceMonitor()
	if m, ok := pm.Metrics("panic"); !ok || m.Errors == 0 {
		t.Errorf("panic metrics = %+v, %v", m, ok)
	}
	if m, ok := pm.Metrics("failing"); !ok || m.Errors != m.TotalExecutions {
		t.Errorf("failing metrics = %+v, %v", m, ok)
	}

	stats := ts.GetStats()
	if stats["systems_count"] != 3 {
		t.Errorf("systems_count = %v, want 3", stats["systems_count"])
	}
	systems, ok := stats["systems"].(map[string]interface{})
	if !ok || len(systems) != 3 {
		t.Errorf("systems = %v, want metrics for 3 systems", stats["systems"])
	}
}

func TestTickScheduler_CatchesUpAfterStall(t *testing.T) {
	ts := createTestScheduler(50)
	counter := &MockSystem{name: "counter", onUpdate: func(tick uint64) {
		if tick == 1 {
			time.Sleep(400 * time.Millisecond)
		}
	}}
	ts.RegisterSystem(counter)

	if err := ts.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(time.Second)
	ts.Stop()

	// Остановка на 20 тиков догоняется без потерь: ~50 тиков за секунду
	got := counter.calls.Load()
	if got < 44 || got > 52 {
		t.Errorf("ticks in 1s after a 400ms stall = %d, want 50±6", got)
	}
	for i, tick := range counter.Ticks() {
		if tick != uint64(i+1) {
			t.Fatalf("tick[%d] = %d, want %d", i, tick, i+1)
		}
	}
	if ts.LateTicks() == 0 {
		t.Error("LateTicks() = 0 after a stall")
	}
	if stats := ts.GetStats(); stats["late_ticks"] != ts.LateTicks() {
		t.Errorf("late_ticks = %v, want %d", stats["late_ticks"], ts.LateTicks())
	}
}
