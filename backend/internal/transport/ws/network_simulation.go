package ws

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// NetworkSimulation - настройки для имитации сетевых условий
type NetworkSimulation struct {
	Enabled         bool          // Включена ли имитация
	BaseLatency     time.Duration // Базовая задержка
	LatencyVariance time.Duration // Вариация задержки (jitter)
	PacketLoss      float64       // Доля потерянных кадров (0.0 - 1.0)
}

var networkProfiles = map[string]NetworkSimulation{
	"mobile_3g": {
		Enabled:         true,
		BaseLatency:     100 * time.Millisecond,
		LatencyVariance: 50 * time.Millisecond,
		PacketLoss:      0.02, // 2%
	},
	"mobile_4g": {
		Enabled:         true,
		BaseLatency:     50 * time.Millisecond,
		LatencyVariance: 20 * time.Millisecond,
		PacketLoss:      0.01, // 1%
	},
	"wifi_poor": {
		Enabled:         true,
		BaseLatency:     80 * time.Millisecond,
		LatencyVariance: 40 * time.Millisecond,
		PacketLoss:      0.03, // 3%
	},
	"wifi_good": {
		Enabled:         true,
		BaseLatency:     20 * time.Millisecond,
		LatencyVariance: 10 * time.Millisecond,
		PacketLoss:      0.005, // 0.5%
	},
	"high_latency": {
		Enabled:         true,
		BaseLatency:     200 * time.Millisecond,
		LatencyVariance: 100 * time.Millisecond,
		PacketLoss:      0.05, // 5%
	},
	"unstable": {
		Enabled:         true,
		BaseLatency:     60 * time.Millisecond,
		LatencyVariance: 80 * time.Millisecond,
		PacketLoss:      0.04, // 4%
	},
}

// NetworkProfile возвращает предустановленный профиль. "" и "off" выключают имитацию.
func NetworkProfile(name string) (NetworkSimulation, error) {
	if name == "" || name == "off" {
		return NetworkSimulation{}, nil
	}
	sim, ok := networkProfiles[name]
	if !ok {
		return NetworkSimulation{}, fmt.Errorf("unknown network profile %q (known: %v)", name, NetworkProfiles())
	}
	return sim, nil
}

// NetworkProfiles возвращает имена профилей по алфавиту
func NetworkProfiles() []string {
	names := make([]string, 0, len(networkProfiles))
	for name := range networkProfiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type delayedFrame struct {
	frameType int
	data      []byte
	sendAt    time.Time
}

// SimulatedWriter задерживает и теряет кадры по профилю, сохраняя их порядок
type SimulatedWriter struct {
	next FrameWriter
	sim  NetworkSimulation
	log  *logrus.Entry

	mu         sync.Mutex
	rng        *rand.Rand
	lastSendAt time.Time
	closed     bool

	queue     chan delayedFrame
	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once

	dropped atomic.Uint64
}

// NewSimulatedWriter оборачивает next. При выключенной имитации возвращает next как есть.
func NewSimulatedWriter(next FrameWriter, sim NetworkSimulation, log *logrus.Entry) FrameWriter {
	if !sim.Enabled {
		return next
	}

	w := &SimulatedWriter{
		next:  next,
		sim:   sim,
		log:   log,
		rng:   rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
		queue:  make(chan delayedFrame, 1000),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go w.processDelayedFrames()
	return w
}

// WriteFrame ставит кадр в очередь с задержкой или теряет его
func (w *SimulatedWriter) WriteFrame(frameType int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	// Имитация потери пакетов
	if w.sim.PacketLoss > 0 && w.rng.Float64() < w.sim.PacketLoss {
		w.dropped.Add(1)
		return nil
	}

	// Вычисляем задержку
	delay := w.sim.BaseLatency
	if w.sim.LatencyVariance > 0 {
		variance := time.Duration(w.rng.Float64() * float64(w.sim.LatencyVariance))
		if w.rng.Float64() < 0.5 {
			variance = -variance
		}
		delay += variance
	}

	// Кадр не может обогнать предыдущий
	sendAt := time.Now().Add(delay)
	if sendAt.Before(w.lastSendAt) {
		sendAt = w.lastSendAt
	}
	w.lastSendAt = sendAt

	frame := delayedFrame{frameType: frameType, data: data, sendAt: sendAt}
	select {
	case w.queue <- frame:
	default:
		w.dropped.Add(1)
		w.log.Debug("[NetworkSim] Буфер отложенных кадров переполнен, кадр потерян")
	}
	return nil
}

// processDelayedFrames отправляет отложенные кадры в порядке очереди
func (w *SimulatedWriter) processDelayedFrames() {
	defer close(w.exited)

	for {
		select {
		case <-w.done:
			return
		case frame := <-w.queue:
			if wait := time.Until(frame.sendAt); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-w.done:
					timer.Stop()
					return
				case <-timer.C:
				}
			}

			if err := w.next.WriteFrame(frame.frameType, frame.data); err != nil {
				w.log.WithError(err).Debug("[NetworkSim] Ошибка отправки отложенного кадра")
			}
		}
	}
}

// Dropped возвращает количество потерянных кадров
func (w *SimulatedWriter) Dropped() uint64 {
	return w.dropped.Load()
}

// Close отбрасывает отложенные кадры, дожидается отправки текущего
// и закрывает next. После возврата в next ничего не пишется.
func (w *SimulatedWriter) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
		close(w.done)
		<-w.exited
		err = w.next.Close()
	})
	return err
}
