package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"net/url"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/tanema/gween"
	"github.com/tanema/gween/ease"

	"x-bounce/backend/internal/logger"
	"x-bounce/backend/internal/transport/ws"
	"x-bounce/backend/internal/world"
)

// smoother сглаживает позицию между тиками твинами по каждой оси
type smoother struct {
	x, y, z *gween.Tween
	current world.Vector3
	period  float32
}

func newSmoother(start world.Vector3, tickRate int) *smoother {
	s := &smoother{current: start, period: 1 / float32(tickRate)}
	s.retarget(start)
	return s
}

func (s *smoother) retarget(target world.Vector3) {
	s.x = gween.New(float32(s.current.X), float32(target.X), s.period, ease.OutQuad)
	s.y = gween.New(float32(s.current.Y), float32(target.Y), s.period, ease.OutQuad)
	s.z = gween.New(float32(s.current.Z), float32(target.Z), s.period, ease.OutQuad)
}

func (s *smoother) advance(dt time.Duration) world.Vector3 {
	step := float32(dt.Seconds())
	x, _ := s.x.Update(step)
	y, _ := s.y.Update(step)
	z, _ := s.z.Update(step)
	s.current = world.Vector3{X: float64(x), Y: float64(y), Z: float64(z)}
	return s.current
}

type report struct {
	positions  int
	gaps       int
	outOfOrder int
	firstAt    time.Time
	lastAt     time.Time
	lastTick   uint64
	maxJitter  time.Duration
	lowestY    float64
	highestY   float64
	maxLag     float64
}

func main() {
	addr := flag.String("url", "ws://localhost:5000/ws", "адрес WebSocket сервера")
	codecName := flag.String("codec", ws.CodecJSON, "кодек: json|msgpack")
	count := flag.Int("n", 150, "сколько позиций прочитать")
	timeout := flag.Duration("timeout", 30*time.Second, "общий таймаут")
	smooth := flag.Bool("smooth", false, "сглаживать позицию твинами и считать отставание")
	verbose := flag.Bool("v", false, "печатать каждую позицию")
	flag.Parse()

	log := logger.For("probe")

	codec, err := ws.CodecByName(*codecName)
	if err != nil {
		log.Fatal(err)
	}
	u, err := url.Parse(*addr)
	if err != nil {
		log.Fatalf("Неверный URL: %v", err)
	}
	q := u.Query()
	q.Set("codec", codec.Name())
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	log.Infof("Подключение к %s", u.String())
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		log.Fatalf("Ошибка подключения: %v", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(16 << 20) // террейн приходит одним сообщением

	tickRate := 30
	var sm *smoother
	r := report{lowestY: math.Inf(1), highestY: math.Inf(-1)}
	expected := time.Second / time.Duration(tickRate)

	for r.positions < *count {
		_, data, err := conn.Read(ctx)
		if err != nil {
			log.Errorf("Ошибка чтения сообщения: %v", err)
			break
		}
		now := time.Now()

		msg, err := ws.ParseMessageWith(codec, data)
		if err != nil {
			log.Warnf("Ошибка разбора сообщения: %v", err)
			continue
		}

		switch m := msg.(type) {
		case *ws.SessionMessage:
			log.Infof("SESSION: %s, tick rate %d/s, codec %s", m.SessionID, m.TickRate, m.Codec)
			if m.TickRate > 0 {
				tickRate = m.TickRate
				expected = time.Second / time.Duration(tickRate)
			}

		case *ws.TerrainMessage:
			log.Infof("TERRAIN: %s, %.0fx%.0f, высота %.1f..%.1f, %d подразбиений",
				m.MimeType, m.Width, m.Depth, m.MinHeight, m.MaxHeight, m.Subdivisions)

		case *ws.ErrorMessage:
			log.Errorf("Сервер отказал: %s (%s)", m.Message, m.Code)
			os.Exit(1)

		case *ws.PositionMessage:
			if r.positions == 0 {
				r.firstAt = now
			} else {
				if m.Tick <= r.lastTick {
					r.outOfOrder++
				} else if m.Tick > r.lastTick+1 {
					r.gaps++
				}
				jitter := now.Sub(r.lastAt) - expected
				if jitter < 0 {
					jitter = -jitter
				}
				if jitter > r.maxJitter {
					r.maxJitter = jitter
				}
			}

			if *smooth {
				if sm == nil {
					sm = newSmoother(m.Position, tickRate)
				} else {
					shown := sm.advance(now.Sub(r.lastAt))
					if lag := math.Abs(shown.Y - m.Position.Y); lag > r.maxLag {
						r.maxLag = lag
					}
					sm.retarget(m.Position)
				}
			}

			r.positions++
			r.lastAt = now
			r.lastTick = m.Tick
			r.lowestY = math.Min(r.lowestY, m.Position.Y)
			r.highestY = math.Max(r.highestY, m.Position.Y)

			if *verbose {
				fmt.Printf("tick=%d x=%.3f y=%.3f z=%.3f\n", m.Tick, m.Position.X, m.Position.Y, m.Position.Z)
			}

		default:
			log.Debugf("Сообщение типа %T", msg)
		}
	}

	conn.Close(websocket.StatusNormalClosure, "probe done")

	if r.positions < 2 {
		log.Fatalf("Получено слишком мало позиций: %d", r.positions)
	}
	elapsed := r.lastAt.Sub(r.firstAt)
	rate := float64(r.positions-1) / elapsed.Seconds()

	fmt.Printf("positions:    %d\n", r.positions)
	fmt.Printf("rate:         %.2f/s (expected %d/s)\n", rate, tickRate)
	fmt.Printf("tick gaps:    %d\n", r.gaps)
	fmt.Printf("out of order: %d\n", r.outOfOrder)
	fmt.Printf("max jitter:   %v\n", r.maxJitter.Round(time.Millisecond))
	fmt.Printf("y range:      %.3f .. %.3f\n", r.lowestY, r.highestY)
	if *smooth {
		fmt.Printf("smooth lag:   %.3f\n", r.maxLag)
	}

	if r.outOfOrder > 0 {
		os.Exit(2)
	}
}
