package session

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"x-bounce/backend/internal/logger"
	"x-bounce/backend/internal/physics"
	"x-bounce/backend/internal/world"
)

// MockBroadcaster запоминает обновления и фиксирует вызовы после Close
type MockBroadcaster struct {
	mu      sync.Mutex
	updates []Update
	closed  bool
	closes  int
	late    int
}

func (mb *MockBroadcaster) Broadcast(u Update) bool {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		mb.late++
		return false
	}
	mb.updates = append(mb.updates, u)
	return true
}

func (mb *MockBroadcaster) Close() error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.closed = true
	mb.closes++
	return nil
}

func (mb *MockBroadcaster) Updates() []Update {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return append([]Update(nil), mb.updates...)
}

func (mb *MockBroadcaster) counts() (closes, late int) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.closes, mb.late
}

type staticSource struct {
	engine *physics.Engine
}

func (s staticSource) Engine() (*physics.Engine, error) { return s.engine, nil }

func createTestManager(t *testing.T, maxSessions int) *Manager {
	t.Helper()
	cfg := testScene()
	m := NewManager(staticSource{testEngine(t)}, flatTerrain(t, cfg.Terrain), ManagerConfig{
		TickRate:    30,
		MaxSessions: maxSessions,
		Scene:       func() world.SceneConfig { return cfg },
	}, logger.Discard())
	t.Cleanup(m.Shutdown)
	return m
}

func TestManager_OpenStreamsMonotonicTicks(t *testing.T) {
	m := createTestManager(t, 4)
	out := &MockBroadcaster{}

	conn, err := m.Open("a", out)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if conn.State() != StateActive {
		t.Errorf("State() = %s, want active", conn.State())
	}
	if m.RunningSchedulers() != 1 {
		t.Errorf("RunningSchedulers() = %d, want 1", m.RunningSchedulers())
	}

	time.Sleep(300 * time.Millisecond)
	conn.Close()

	updates := out.Updates()
	if len(updates) < 5 {
		t.Fatalf("got %d updates in 300ms, want at least 5", len(updates))
	}
	for i, u := range updates {
		if u.Tick != uint64(i+1) {
			t.Fatalf("update %d has tick %d, want %d", i, u.Tick, i+1)
		}
		if u.SessionID != "a" {
			t.Errorf("update %d session = %q", i, u.SessionID)
		}
	}
	if last := updates[len(updates)-1]; last.Position.Y >= 20 {
		t.Errorf("sphere did not fall: y=%v", last.Position.Y)
	}
}

func TestManager_CloseIsIdempotent(t *testing.T) {
	m := createTestManager(t, 4)

	outs := make([]*MockBroadcaster, 3)
	conns := make([]*Connection, 3)
	for i, id := range []string{"a", "b", "c"} {
		outs[i] = &MockBroadcaster{}
		conn, err := m.Open(id, outs[i])
		if err != nil {
			t.Fatalf("Open(%s) error = %v", id, err)
		}
		conns[i] = conn
	}

	conns[0].Close()
	conns[0].Close()
	if m.Close("a") {
		t.Error("Close(a) = true for an already closed connection")
	}
	if !m.Close("b") {
		t.Error("Close(b) = false")
	}
	m.Shutdown()
	m.Shutdown()

	if m.RunningSchedulers() != 0 {
		t.Errorf("RunningSchedulers() = %d, want 0", m.RunningSchedulers())
	}
	if m.Count() != 0 {
		t.Errorf("Count() = %d, want 0", m.Count())
	}
	for i, out := range outs {
		if closes, _ := out.counts(); closes != 1 {
			t.Errorf("broadcaster %d closed %d times, want 1", i, closes)
		}
		if conns[i].State() != StateClosed {
			t.Errorf("connection %d state = %s", i, conns[i].State())
		}
		if !conns[i].Session().Closed() {
			t.Errorf("connection %d world not disposed", i)
		}
	}

	if _, err := m.Open("d", &MockBroadcaster{}); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("Open() after Shutdown error = %v, want ErrManagerClosed", err)
	}
}

func TestManager_EngineFailureStartsNoScheduler(t *testing.T) {
	cfg := testScene()
	loader := physics.NewLoader(filepath.Join(t.TempDir(), "missing.bin"))
	m := NewManager(loader, flatTerrain(t, cfg.Terrain), ManagerConfig{
		Scene: func() world.SceneConfig { return cfg },
	}, logger.Discard())
	out := &MockBroadcaster{}

	conn, err := m.Open("a", out)
	if conn != nil {
		t.Error("Open() returned a connection on engine failure")
	}
	if !errors.Is(err, physics.ErrEngineUnavailable) {
		t.Fatalf("Open() error = %v, want ErrEngineUnavailable", err)
	}
	var initErr *physics.InitError
	if !errors.As(err, &initErr) || initErr.Kind != physics.KindMissing {
		t.Errorf("error = %v, want missing InitError", err)
	}

	if m.RunningSchedulers() != 0 {
		t.Errorf("RunningSchedulers() = %d, want 0", m.RunningSchedulers())
	}
	if m.Count() != 0 {
		t.Errorf("Count() = %d, want 0", m.Count())
	}
	if closes, _ := out.counts(); closes != 0 {
		t.Error("failed Open must leave the broadcaster to the caller")
	}
	time.Sleep(2 * tick)
	if len(out.Updates()) != 0 {
		t.Error("broadcast happened although the session never started")
	}
}

func TestManager_NoBroadcastAfterClose(t *testing.T) {
	m := createTestManager(t, 4)
	out := &MockBroadcaster{}

	conn, err := m.Open("a", out)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	conn.Close()
	before := len(out.Updates())
	time.Sleep(3 * tick)

	if after := len(out.Updates()); after != before {
		t.Errorf("%d updates delivered after Close", after-before)
	}
	if _, late := out.counts(); late != 0 {
		t.Errorf("%d Broadcast calls after Close", late)
	}
}

func TestManager_CapacityAndDuplicates(t *testing.T) {
	m := createTestManager(t, 1)

	if _, err := m.Open("a", &MockBroadcaster{}); err != nil {
		t.Fatalf("Open(a) error = %v", err)
	}
	if _, err := m.Open("a", &MockBroadcaster{}); !errors.Is(err, ErrDuplicateSession) {
		t.Errorf("duplicate Open error = %v, want ErrDuplicateSession", err)
	}
	if _, err := m.Open("b", &MockBroadcaster{}); !errors.Is(err, ErrCapacity) {
		t.Errorf("Open over capacity error = %v, want ErrCapacity", err)
	}

	m.Close("a")
	if _, err := m.Open("b", &MockBroadcaster{}); err != nil {
		t.Errorf("Open after freeing a slot error = %v", err)
	}

	opened, rejected := m.Totals()
	if opened != 2 || rejected != 2 {
		t.Errorf("Totals() = %d, %d, want 2, 2", opened, rejected)
	}
}

func TestDebugHandler_Sessions(t *testing.T) {
	m := createTestManager(t, 4)
	if _, err := m.Open("a", &MockBroadcaster{}); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	mux := http.NewServeMux()
	NewDebugHandler(m).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/sessions", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		Count    int               `json:"count"`
		Running  int               `json:"running_schedulers"`
		Sessions []ConnectionStats `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 || body.Running != 1 || len(body.Sessions) != 1 || body.Sessions[0].ID != "a" {
		t.Fatalf("unexpected body: %+v", body)
	}
	if st := body.Sessions[0]; st.Position == nil || st.Velocity == nil {
		t.Errorf("session stats without sphere state: %+v", st)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/telemetry?id=missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("telemetry for missing session status = %d", rec.Code)
	}
}

// failingResponse отвергает запись тела, как оборванное соединение
type failingResponse struct {
	*httptest.ResponseRecorder
}

func (failingResponse) Write([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestDebugHandler_LogsWriteErrors(t *testing.T) {
	log, hook := test.NewNullLogger()
	cfg := testScene()
	m := NewManager(staticSource{testEngine(t)}, flatTerrain(t, cfg.Terrain), ManagerConfig{
		TickRate:    30,
		MaxSessions: 1,
		Scene:       func() world.SceneConfig { return cfg },
	}, logrus.NewEntry(log))
	defer m.Shutdown()

	mux := http.NewServeMux()
	NewDebugHandler(m).RegisterRoutes(mux)
	mux.ServeHTTP(failingResponse{httptest.NewRecorder()}, httptest.NewRequest(http.MethodGet, "/debug/sessions", nil))

	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.WarnLevel {
		t.Fatalf("last log entry = %+v, want a warning", entry)
	}
	if err, _ := entry.Data[logrus.ErrorKey].(error); err == nil || err.Error() != "connection reset" {
		t.Errorf("logged error = %v", entry.Data[logrus.ErrorKey])
	}
}

func TestManager_StatsReportSphereAndLateTicks(t *testing.T) {
	m := createTestManager(t, 1)
	if _, err := m.Open("a", &MockBroadcaster{}); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	stats := m.Stats()
	if len(stats) != 1 {
		t.Fatalf("Stats() = %d entries, want 1", len(stats))
	}
	st := stats[0]
	if st.Velocity == nil || st.Velocity.Y >= 0 {
		t.Errorf("Velocity = %+v, want a falling sphere", st.Velocity)
	}
	if st.Position == nil || st.Position.Y >= 20 {
		t.Errorf("Position = %+v, want below the start", st.Position)
	}
	if st.Scheduler["late_ticks"] != st.LateTicks {
		t.Errorf("LateTicks = %d, scheduler reports %v", st.LateTicks, st.Scheduler["late_ticks"])
	}
}
