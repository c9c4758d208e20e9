package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"x-bounce/backend/internal/physics"
	"x-bounce/backend/internal/session"
	"x-bounce/backend/internal/world"
)

// Клиент присылает только короткие ping
const maxClientMessage = 4096

// MessageHandler - тип функции обработчика сообщений клиента
type MessageHandler func(conn *SafeWriter, codec Codec, message interface{}) error

// ServerConfig - параметры WebSocket сервера
type ServerConfig struct {
	TickRate     int
	PingInterval time.Duration
	WriteTimeout time.Duration

	// Ограничение частоты новых подключений; AcceptRate <= 0 отключает лимит
	AcceptRate  float64
	AcceptBurst int

	NetworkProfile string
}

// WSServer принимает клиентов и связывает каждое соединение с его сессией
type WSServer struct {
	upgrader websocket.Upgrader
	manager  *session.Manager
	terrain  *world.Terrain
	cfg      ServerConfig
	limiter  *rate.Limiter
	handlers map[string]MessageHandler
	log      *logrus.Entry

	nextID atomic.Uint64

	// Имитация сетевых условий
	networkSim NetworkSimulation
	simMu      sync.RWMutex
}

// NewWSServer создает новый экземпляр WebSocket сервера
func NewWSServer(manager *session.Manager, terrain *world.Terrain, cfg ServerConfig, log *logrus.Entry) (*WSServer, error) {
	if manager == nil || terrain == nil {
		return nil, errors.New("ws: manager and terrain are required")
	}
	if cfg.PingInterval < 0 {
		cfg.PingInterval = 0
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	sim, err := NetworkProfile(cfg.NetworkProfile)
	if err != nil {
		return nil, err
	}

	server := &WSServer{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		manager:    manager,
		terrain:    terrain,
		cfg:        cfg,
		handlers:   make(map[string]MessageHandler),
		log:        log,
		networkSim: sim,
	}
	if cfg.AcceptRate > 0 {
		burst := cfg.AcceptBurst
		if burst < 1 {
			burst = 1
		}
		server.limiter = rate.NewLimiter(rate.Limit(cfg.AcceptRate), burst)
	}

	// Регистрируем стандартные обработчики
	server.RegisterHandler(MessageTypePing, server.handlePing)

	if sim.Enabled {
		log.Warnf("[WSServer] Имитация сети включена: latency=%v jitter=%v loss=%.1f%%",
			sim.BaseLatency, sim.LatencyVariance, sim.PacketLoss*100)
	}
	return server, nil
}

// RegisterHandler регистрирует обработчик для конкретного типа сообщений
func (s *WSServer) RegisterHandler(messageType string, handler MessageHandler) {
	s.handlers[messageType] = handler
}

// RegisterRoutes регистрирует /ws
func (s *WSServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.HandleWS)
}

// SetNetworkSimulation устанавливает параметры имитации сети для новых соединений
func (s *WSServer) SetNetworkSimulation(sim NetworkSimulation) {
	s.simMu.Lock()
	defer s.simMu.Unlock()
	s.networkSim = sim
	s.log.Infof("[NetworkSim] Настройки обновлены: Enabled=%v, BaseLatency=%v, Variance=%v, PacketLoss=%.2f%%",
		sim.Enabled, sim.BaseLatency, sim.LatencyVariance, sim.PacketLoss*100)
}

// GetNetworkSimulation возвращает текущие настройки имитации
func (s *WSServer) GetNetworkSimulation() NetworkSimulation {
	s.simMu.RLock()
	defer s.simMu.RUnlock()
	return s.networkSim
}

// HandleWS обрабатывает входящие WebSocket соединения.
// Сессия живет ровно столько, сколько цикл чтения: любой выход из него закрывает ее.
func (s *WSServer) HandleWS(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	codec, err := CodecByName(r.URL.Query().Get("codec"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("[WSServer] Websocket upgrade error")
		return
	}

	safeConn := NewSafeWriter(conn)
	safeConn.SetWriteTimeout(s.cfg.WriteTimeout)
	defer safeConn.Close()

	id := fmt.Sprintf("s-%d", s.nextID.Add(1))
	log := s.log.WithFields(logrus.Fields{"session": id, "remote": conn.RemoteAddr().String()})
	log.Info("[WSServer] New WebSocket connection established")

	// Приветствие и террейн уходят до первого тика
	if err := s.send(safeConn, codec, NewSessionMessage(id, s.cfg.TickRate, codec.Name())); err != nil {
		log.WithError(err).Warn("[WSServer] Error sending welcome message")
		return
	}
	if err := s.send(safeConn, codec, NewTerrainMessage(s.terrain)); err != nil {
		log.WithError(err).Warn("[WSServer] Ошибка отправки террейна")
		return
	}

	writer := NewSimulatedWriter(safeConn, s.GetNetworkSimulation(), log)
	channel := NewChannel(id, writer, codec, log, func(err error) {
		// Писатель упал: закрываем сокет, цикл чтения завершится сам
		_ = safeConn.Close()
	})

	// Канал владеет writer и сокетом: отказ уходит до его закрытия
	connection, err := s.manager.Open(id, channel)
	if err != nil {
		s.refuse(safeConn, codec, err, log)
		_ = channel.Close()
		return
	}
	defer connection.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if s.cfg.PingInterval > 0 {
		readTimeout := s.cfg.PingInterval * 3
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readTimeout))
		})
		go s.startPing(ctx, safeConn, log)
	}
	conn.SetReadLimit(maxClientMessage)

	s.readLoop(safeConn, codec, log)

	log.WithField("channel", channel.Stats()).Info("[WSServer] WebSocket connection closed")
}

// readLoop читает сообщения клиента до ошибки или закрытия
func (s *WSServer) readLoop(safeConn *SafeWriter, codec Codec, log *logrus.Entry) {
	conn := safeConn.GetUnderlyingConn()
	for {
		frameType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Debug("[WSServer] WebSocket error")
			}
			return
		}

		msgCodec := codec
		if frameType == websocket.TextMessage {
			msgCodec = JSONCodec{}
		} else if frameType == websocket.BinaryMessage {
			msgCodec = MsgpackCodec{}
		}

		message, err := ParseMessageWith(msgCodec, data)
		if err != nil {
			log.WithError(err).Debug("[WSServer] Error parsing message")
			continue
		}

		messageType := messageTypeOf(message)
		handler, ok := s.handlers[messageType]
		if !ok {
			log.Debugf("[WSServer] No handler registered for message type: %s", messageType)
			continue
		}
		if err := handler(safeConn, codec, message); err != nil {
			log.WithError(err).Debugf("[WSServer] Error handling message %s", messageType)
		}
	}
}

func messageTypeOf(message interface{}) string {
	switch msg := message.(type) {
	case *PingMessage:
		return msg.Type
	case *PongMessage:
		return msg.Type
	case *InfoMessage:
		return msg.Type
	case *SessionMessage:
		return msg.Type
	case *TerrainMessage:
		return msg.Type
	case *PositionMessage:
		return msg.Type
	case *ErrorMessage:
		return msg.Type
	default:
		return ""
	}
}

// handlePing отвечает на пинг клиента
func (s *WSServer) handlePing(conn *SafeWriter, codec Codec, message interface{}) error {
	ping, ok := message.(*PingMessage)
	if !ok {
		return fmt.Errorf("unexpected ping payload %T", message)
	}
	return s.send(conn, codec, NewPongMessage(ping.ClientTime))
}

// startPing поддерживает соединение control-пингами
func (s *WSServer) startPing(ctx context.Context, conn *SafeWriter, log *logrus.Entry) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WritePing(); err != nil {
				log.WithError(err).Debug("[WSServer] Ping failed")
				_ = conn.Close()
				return
			}
		}
	}
}

// refuse сообщает клиенту причину отказа и закрывает соединение
func (s *WSServer) refuse(conn *SafeWriter, codec Codec, err error, log *logrus.Entry) {
	code, closeCode := "internal", websocket.CloseInternalServerErr
	switch {
	case errors.Is(err, session.ErrCapacity):
		code, closeCode = "capacity", websocket.CloseTryAgainLater
	case errors.Is(err, session.ErrManagerClosed):
		code, closeCode = "shutdown", websocket.CloseGoingAway
	case errors.Is(err, physics.ErrEngineUnavailable):
		code = "engine_unavailable"
	}

	log.WithError(err).Warn("[WSServer] Соединение отклонено")
	_ = s.send(conn, codec, NewErrorMessage(code, err.Error()))
	_ = conn.WriteClose(closeCode, code)
}

func (s *WSServer) send(conn *SafeWriter, codec Codec, v interface{}) error {
	data, err := codec.Marshal(v)
	if err != nil {
		return err
	}
	return conn.WriteMessage(codec.FrameType(), data)
}
