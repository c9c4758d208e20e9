package telemetry

import (
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"x-bounce/backend/internal/world"
)

// Sample - состояние сферы на одном тике
type Sample struct {
	Timestamp int64         `json:"timestamp"` // Время в миллисекундах
	Tick      uint64        `json:"tick"`
	Position  world.Vector3 `json:"position"`
	Velocity  world.Vector3 `json:"velocity"`
	Speed     float64       `json:"speed"`
}

// Event - отскок или вершина траектории
type Event struct {
	Kind   string  `json:"kind"` // bounce | apex
	Tick   uint64  `json:"tick"`
	Height float64 `json:"height"`
}

const (
	EventBounce = "bounce"
	EventApex   = "apex"
)

// Recorder собирает телеметрию одной сессии: последние сэмплы,
// отскоки (vy меняет знак с - на +) и вершины (vy с + на 0 или -).
type Recorder struct {
	sessionID string
	log       *logrus.Entry

	mutex      sync.RWMutex
	enabled    bool
	samples    []Sample
	events     []Event
	maxEntries int

	last    Sample
	hasLast bool
	bounces int

	lastPrint     time.Time
	printInterval time.Duration
}

// NewRecorder создает телеметрию для сессии
func NewRecorder(sessionID string, log *logrus.Entry) *Recorder {
	return &Recorder{
		sessionID:     sessionID,
		log:           log.WithField("session", sessionID),
		enabled:       true,
		samples:       make([]Sample, 0, 64),
		maxEntries:    200, // Храним последние 200 записей
		lastPrint:     time.Now(),
		printInterval: 2 * time.Second,
	}
}

// Record записывает состояние сферы на тике
func (r *Recorder) Record(tick uint64, position, velocity world.Vector3) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if !r.enabled {
		return
	}

	sample := Sample{
		Timestamp: time.Now().UnixMilli(),
		Tick:      tick,
		Position:  position,
		Velocity:  velocity,
		Speed:     calculateSpeed(velocity),
	}

	if r.hasLast {
		prevVy := r.last.Velocity.Y
		switch {
		case prevVy < 0 && velocity.Y > 0:
			r.bounces++
			r.addEvent(Event{Kind: EventBounce, Tick: tick, Height: position.Y})
		case prevVy > 0 && velocity.Y <= 0:
			r.addEvent(Event{Kind: EventApex, Tick: tick, Height: position.Y})
		}
	}

	r.samples = append(r.samples, sample)
	if len(r.samples) > r.maxEntries {
		r.samples = r.samples[1:]
	}
	r.last = sample
	r.hasLast = true
}

func (r *Recorder) addEvent(e Event) {
	r.events = append(r.events, e)
	if len(r.events) > r.maxEntries {
		r.events = r.events[1:]
	}
}

// Latest возвращает последний сэмпл
func (r *Recorder) Latest() (Sample, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.last, r.hasLast
}

// Bounces возвращает количество отскоков с начала сессии
func (r *Recorder) Bounces() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.bounces
}

// Peaks возвращает высоты вершин траектории по порядку
func (r *Recorder) Peaks() []float64 {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var peaks []float64
	for _, e := range r.events {
		if e.Kind == EventApex {
			peaks = append(peaks, e.Height)
		}
	}
	return peaks
}

// Events возвращает копию журнала событий
func (r *Recorder) Events() []Event {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return append([]Event(nil), r.events...)
}

// PrintSummary выводит сводку не чаще printInterval
func (r *Recorder) PrintSummary() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if !r.enabled || !r.hasLast {
		return
	}

	now := time.Now()
	if now.Sub(r.lastPrint) < r.printInterval {
		return
	}
	r.lastPrint = now

	r.log.WithFields(logrus.Fields{
		"tick":    r.last.Tick,
		"x":       round2(r.last.Position.X),
		"y":       round2(r.last.Position.Y),
		"z":       round2(r.last.Position.Z),
		"speed":   round2(r.last.Speed),
		"bounces": r.bounces,
		"samples": len(r.samples),
	}).Debug("🔬 [Telemetry] состояние сферы")
}

type snapshot struct {
	SessionID string   `json:"session_id"`
	Bounces   int      `json:"bounces"`
	Samples   []Sample `json:"samples"`
	Events    []Event  `json:"events"`
}

// JSON возвращает телеметрию сессии в JSON формате
func (r *Recorder) JSON() ([]byte, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return json.MarshalIndent(snapshot{
		SessionID: r.sessionID,
		Bounces:   r.bounces,
		Samples:   r.samples,
		Events:    r.events,
	}, "", "  ")
}

// SetEnabled включает/выключает телеметрию
func (r *Recorder) SetEnabled(enabled bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.enabled = enabled
	r.log.Debugf("🔬 [Telemetry] Телеметрия %s", map[bool]string{true: "включена", false: "выключена"}[enabled])
}

// Clear очищает все данные телеметрии
func (r *Recorder) Clear() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.samples = make([]Sample, 0, 64)
	r.events = nil
	r.bounces = 0
	r.hasLast = false
}

// calculateSpeed вычисляет модуль скорости
func calculateSpeed(v world.Vector3) float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
