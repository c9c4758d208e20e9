package ws

import (
	"encoding/json"
	"fmt"
	"time"

	"x-bounce/backend/internal/session"
	"x-bounce/backend/internal/world"
)

// GetCurrentServerTime возвращает текущее серверное время в миллисекундах
func GetCurrentServerTime() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}

// NewSessionMessage создает приветственное сообщение
func NewSessionMessage(sessionID string, tickRate int, codec string) *SessionMessage {
	return &SessionMessage{
		Type:       MessageTypeSession,
		SessionID:  sessionID,
		TickRate:   tickRate,
		Codec:      codec,
		ServerTime: GetCurrentServerTime(),
	}
}

// NewTerrainMessage создает сообщение с растром террейна
func NewTerrainMessage(t *world.Terrain) *TerrainMessage {
	return &TerrainMessage{
		Type:         MessageTypeTerrain,
		DataURI:      t.DataURI(),
		MimeType:     t.MimeType(),
		Width:        t.Width(),
		Depth:        t.Depth(),
		MinHeight:    t.MinHeight(),
		MaxHeight:    t.MaxHeight(),
		Subdivisions: t.Subdivisions(),
		ServerTime:   GetCurrentServerTime(),
	}
}

// NewPositionMessage создает сообщение о позиции сферы
func NewPositionMessage(u session.Update) *PositionMessage {
	serverTime := u.At.UnixMilli()
	if u.At.IsZero() {
		serverTime = GetCurrentServerTime()
	}
	return &PositionMessage{
		Type:       MessageTypePosition,
		Tick:       u.Tick,
		Position:   u.Position,
		ServerTime: serverTime,
	}
}

// NewPongMessage создает новое сообщение-ответ на пинг
func NewPongMessage(clientTime int64) *PongMessage {
	return &PongMessage{
		Type:       MessageTypePong,
		ClientTime: clientTime,
		ServerTime: GetCurrentServerTime(),
	}
}

// NewInfoMessage создает новое информационное сообщение
func NewInfoMessage(message string) *InfoMessage {
	return &InfoMessage{
		Type:    MessageTypeInfo,
		Message: message,
	}
}

// NewErrorMessage создает сообщение об отказе
func NewErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		Type:    MessageTypeError,
		Code:    code,
		Message: message,
	}
}

// ParseMessage разбирает JSON сообщение в соответствующий тип
func ParseMessage(data []byte) (interface{}, error) {
	return parseMessage(data, json.Unmarshal)
}

// ParseMessageWith разбирает сообщение, закодированное codec
func ParseMessageWith(codec Codec, data []byte) (interface{}, error) {
	return parseMessage(data, codec.Unmarshal)
}

func parseMessage(data []byte, unmarshal func([]byte, interface{}) error) (interface{}, error) {
	var baseMessage struct {
		Type string `json:"type"`
	}

	if err := unmarshal(data, &baseMessage); err != nil {
		return nil, fmt.Errorf("error parsing message: %w", err)
	}

	var msg interface{}
	switch baseMessage.Type {
	case MessageTypeSession:
		msg = &SessionMessage{}
	case MessageTypeTerrain:
		msg = &TerrainMessage{}
	case MessageTypePosition:
		msg = &PositionMessage{}
	case MessageTypePing:
		msg = &PingMessage{}
	case MessageTypePong:
		msg = &PongMessage{}
	case MessageTypeInfo:
		msg = &InfoMessage{}
	case MessageTypeError:
		msg = &ErrorMessage{}
	default:
		return nil, fmt.Errorf("unknown message type: %q", baseMessage.Type)
	}

	if err := unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("error parsing %s message: %w", baseMessage.Type, err)
	}
	return msg, nil
}
