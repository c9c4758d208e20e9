package ws

import (
	"encoding/json"
	"testing"
	"time"

	"x-bounce/backend/internal/session"
	"x-bounce/backend/internal/world"
)

func TestGetCurrentServerTime(t *testing.T) {
	// Проверяем, что функция возвращает текущее время в миллисекундах
	now := time.Now().UnixNano() / int64(time.Millisecond)
	serverTime := GetCurrentServerTime()

	// Допускаем разницу в 100 мс
	if serverTime < now-100 || serverTime > now+100 {
		t.Errorf("GetCurrentServerTime() returned time too far from current time. Got %d, expected around %d", serverTime, now)
	}
}

func TestNewSessionMessage(t *testing.T) {
	msg := NewSessionMessage("s-1", 30, CodecMsgpack)

	if msg.Type != MessageTypeSession {
		t.Errorf("Expected message type %s, got %s", MessageTypeSession, msg.Type)
	}
	if msg.SessionID != "s-1" || msg.TickRate != 30 || msg.Codec != CodecMsgpack {
		t.Errorf("Unexpected session message: %+v", msg)
	}
	if msg.ServerTime == 0 {
		t.Error("Expected ServerTime to be set, got 0")
	}
}

func TestNewPositionMessage(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	msg := NewPositionMessage(session.Update{
		SessionID: "s-1",
		Tick:      42,
		Position:  world.Vector3{X: 1, Y: 2, Z: 3},
		At:        at,
	})

	if msg.Type != MessageTypePosition {
		t.Errorf("Expected message type %s, got %s", MessageTypePosition, msg.Type)
	}
	if msg.Tick != 42 {
		t.Errorf("Expected tick 42, got %d", msg.Tick)
	}
	if msg.Position != (world.Vector3{X: 1, Y: 2, Z: 3}) {
		t.Errorf("Expected position (1, 2, 3), got %+v", msg.Position)
	}
	if msg.ServerTime != 1700000000123 {
		t.Errorf("Expected server time from update, got %d", msg.ServerTime)
	}

	// Без времени тика берется текущее
	if NewPositionMessage(session.Update{Tick: 1}).ServerTime == 0 {
		t.Error("Expected ServerTime to be set, got 0")
	}
}

func TestNewPongMessage(t *testing.T) {
	msg := NewPongMessage(123456)
	if msg.Type != MessageTypePong || msg.ClientTime != 123456 {
		t.Errorf("Unexpected pong message: %+v", msg)
	}
	if msg.ServerTime == 0 {
		t.Error("Expected ServerTime to be set, got 0")
	}
}

func TestNewErrorMessage(t *testing.T) {
	msg := NewErrorMessage("capacity", "too many sessions")
	if msg.Type != MessageTypeError || msg.Code != "capacity" || msg.Message != "too many sessions" {
		t.Errorf("Unexpected error message: %+v", msg)
	}
}

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name     string
		json     string
		expected interface{}
		error    bool
	}{
		{
			name: "PositionMessage",
			json: `{"type":"position","tick":7,"position":{"x":1,"y":2,"z":3},"server_time":123456}`,
			expected: &PositionMessage{
				Type:       MessageTypePosition,
				Tick:       7,
				Position:   world.Vector3{X: 1, Y: 2, Z: 3},
				ServerTime: 123456,
			},
		},
		{
			name: "SessionMessage",
			json: `{"type":"session","session_id":"s-3","tick_rate":30,"codec":"json","server_time":1}`,
			expected: &SessionMessage{
				Type:       MessageTypeSession,
				SessionID:  "s-3",
				TickRate:   30,
				Codec:      CodecJSON,
				ServerTime: 1,
			},
		},
		{
			name: "PingMessage",
			json: `{"type":"ping","client_time":123456}`,
			expected: &PingMessage{
				Type:       MessageTypePing,
				ClientTime: 123456,
			},
		},
		{
			name: "InfoMessage",
			json: `{"type":"info","message":"Hello, world!"}`,
			expected: &InfoMessage{
				Type:    MessageTypeInfo,
				Message: "Hello, world!",
			},
		},
		{
			name:  "Invalid JSON",
			json:  `{"type":`,
			error: true,
		},
		{
			name:  "Unknown message type",
			json:  `{"type":"unknown"}`,
			error: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseMessage([]byte(tt.json))
			if tt.error {
				if err == nil {
					t.Errorf("Expected error, got nil")
				}
				return
			}

			if err != nil {
				t.Errorf("Unexpected error: %v", err)
				return
			}

			expected, _ := json.Marshal(tt.expected)
			actual, _ := json.Marshal(result)

			if string(expected) != string(actual) {
				t.Errorf("Expected %s, got %s", string(expected), string(actual))
			}
		})
	}
}
