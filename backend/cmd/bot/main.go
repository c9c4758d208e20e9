package main

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"x-bounce/backend/internal/logger"
	"x-bounce/backend/internal/transport/ws"
)

// Bot держит одну сессию на сервере и считает, что в ней пришло
type Bot struct {
	ID        string
	ServerURL string
	Duration  time.Duration
	PingRate  time.Duration

	conn    *websocket.Conn
	writeMu sync.Mutex // Запись в WebSocket из пинга и закрытия
	log     *logrus.Entry

	mu    sync.Mutex
	Stats BotStats
}

// BotStats содержит статистику работы бота
type BotStats struct {
	SessionID  string
	Positions  int
	Gaps       int
	OutOfOrder int
	LastTick   uint64
	Pongs      int
	RTTTotal   time.Duration
	Refused    string
	Errors     int
	StartTime  time.Time
}

// NewBot создает нового бота
func NewBot(id, serverURL string, duration, pingRate time.Duration) *Bot {
	return &Bot{
		ID:        id,
		ServerURL: serverURL,
		Duration:  duration,
		PingRate:  pingRate,
		log:       logger.For("bot").WithField("bot", id),
		Stats:     BotStats{StartTime: time.Now()},
	}
}

// Connect подключается к серверу
func (b *Bot) Connect() error {
	u, err := url.Parse(b.ServerURL)
	if err != nil {
		return fmt.Errorf("неверный URL: %w", err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}

	conn, resp, err := dialer.Dial(u.String(), nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("ошибка подключения (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("ошибка подключения: %w", err)
	}
	conn.SetReadLimit(16 << 20)

	b.conn = conn
	b.log.Debug("[Bot] Подключен")
	return nil
}

// Disconnect отправляет close-кадр и закрывает соединение
func (b *Bot) Disconnect() {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if b.conn == nil {
		return
	}
	_ = b.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bot done"),
		time.Now().Add(time.Second))
	b.conn.Close()
	b.conn = nil
}

// sendPing отправляет ping сообщение
func (b *Bot) sendPing() error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if b.conn == nil {
		return errors.New("соединение не установлено")
	}
	return b.conn.WriteJSON(ws.PingMessage{Type: ws.MessageTypePing, ClientTime: time.Now().UnixMilli()})
}

// handleMessage обрабатывает входящие сообщения
func (b *Bot) handleMessage(data []byte) {
	msg, err := ws.ParseMessage(data)
	if err != nil {
		b.log.WithError(err).Debug("[Bot] Ошибка разбора сообщения")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch m := msg.(type) {
	case *ws.SessionMessage:
		b.Stats.SessionID = m.SessionID

	case *ws.PositionMessage:
		if b.Stats.Positions > 0 {
			if m.Tick <= b.Stats.LastTick {
				b.Stats.OutOfOrder++
			} else if m.Tick > b.Stats.LastTick+1 {
				b.Stats.Gaps++
			}
		}
		b.Stats.Positions++
		b.Stats.LastTick = m.Tick

	case *ws.PongMessage:
		b.Stats.Pongs++
		b.Stats.RTTTotal += time.Duration(time.Now().UnixMilli()-m.ClientTime) * time.Millisecond

	case *ws.ErrorMessage:
		b.Stats.Refused = m.Code
		b.log.Warnf("[Bot] Сервер отказал: %s", m.Message)
	}
}

// Run держит сессию Duration и отключается
func (b *Bot) Run() error {
	if err := b.Connect(); err != nil {
		return err
	}
	defer b.Disconnect()

	conn := b.conn
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					b.mu.Lock()
					b.Stats.Errors++
					b.mu.Unlock()
				}
				return
			}
			b.handleMessage(data)
		}
	}()

	pingTicker := time.NewTicker(b.PingRate)
	defer pingTicker.Stop()
	deadline := time.NewTimer(b.Duration)
	defer deadline.Stop()

	for {
		select {
		case <-readDone:
			return nil
		case <-deadline.C:
			return nil
		case <-pingTicker.C:
			if err := b.sendPing(); err != nil {
				b.log.WithError(err).Debug("[Bot] Ошибка отправки ping")
			}
		}
	}
}

// Snapshot возвращает копию статистики
func (b *Bot) Snapshot() BotStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Stats
}

func main() {
	// Флаги командной строки
	var (
		serverURL = flag.String("url", "ws://localhost:5000/ws", "URL WebSocket сервера")
		count     = flag.Int("n", 10, "Количество одновременных сессий")
		duration  = flag.Duration("duration", 10*time.Second, "Длительность работы каждого бота")
		pingRate  = flag.Duration("ping", time.Second, "Частота отправки ping")
		spread    = flag.Duration("spread", 20*time.Millisecond, "Пауза между подключениями")
	)
	flag.Parse()

	log := logger.For("bot")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	bots := make([]*Bot, 0, *count)
	var wg sync.WaitGroup
	for i := 0; i < *count; i++ {
		bot := NewBot(fmt.Sprintf("bot%d", i+1), *serverURL, *duration, *pingRate)
		bots = append(bots, bot)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := bot.Run(); err != nil {
				log.WithField("bot", bot.ID).Errorf("Ошибка: %v", err)
				bot.mu.Lock()
				bot.Stats.Errors++
				bot.mu.Unlock()
			}
		}()
		time.Sleep(*spread)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-stop:
		log.Info("Получен сигнал прерывания, отключаем ботов...")
		for _, bot := range bots {
			bot.Disconnect()
		}
		<-done
	}

	printStats(bots, *duration)
}

// printStats выводит сводку по всем ботам
func printStats(bots []*Bot, duration time.Duration) {
	var positions, gaps, outOfOrder, refused, failed int
	sessions := make(map[string]struct{})

	for _, bot := range bots {
		s := bot.Snapshot()
		positions += s.Positions
		gaps += s.Gaps
		outOfOrder += s.OutOfOrder
		if s.Refused != "" {
			refused++
		}
		if s.Errors > 0 {
			failed++
		}
		if s.SessionID != "" {
			sessions[s.SessionID] = struct{}{}
		}

		rtt := time.Duration(0)
		if s.Pongs > 0 {
			rtt = s.RTTTotal / time.Duration(s.Pongs)
		}
		fmt.Printf("%-8s session=%-6s positions=%-5d rate=%.1f/s gaps=%d out_of_order=%d rtt=%v\n",
			bot.ID, s.SessionID, s.Positions, float64(s.Positions)/duration.Seconds(), s.Gaps, s.OutOfOrder, rtt)
	}

	fmt.Printf("\nbots=%d unique_sessions=%d refused=%d failed=%d positions=%d gaps=%d out_of_order=%d\n",
		len(bots), len(sessions), refused, failed, positions, gaps, outOfOrder)
}
