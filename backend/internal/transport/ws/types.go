package ws

import "x-bounce/backend/internal/world"

// Константы для WebSocket сообщений
const (
	// Типы сообщений
	MessageTypeSession  = "session"  // Приветствие с параметрами сессии
	MessageTypeTerrain  = "terrain"  // Растр террейна для клиента
	MessageTypePosition = "position" // Позиция сферы на тике
	MessageTypePing     = "ping"     // Пинг для измерения задержки
	MessageTypePong     = "pong"     // Ответ на пинг
	MessageTypeInfo     = "info"     // Информационное сообщение
	MessageTypeError    = "error"    // Отказ сервера
)

// SessionMessage отправляется один раз сразу после подключения
type SessionMessage struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id"`
	TickRate   int    `json:"tick_rate"`
	Codec      string `json:"codec"`
	ServerTime int64  `json:"server_time"`
}

// TerrainMessage содержит растр высот и параметры, из которых клиент
// строит ту же поверхность, что и коллайдер сервера
type TerrainMessage struct {
	Type         string  `json:"type"`
	DataURI      string  `json:"data_uri"`
	MimeType     string  `json:"mime_type"`
	Width        float64 `json:"width"`
	Depth        float64 `json:"depth"`
	MinHeight    float64 `json:"min_height"`
	MaxHeight    float64 `json:"max_height"`
	Subdivisions int     `json:"subdivisions"`
	ServerTime   int64   `json:"server_time"`
}

// PositionMessage - позиция сферы на тике. Клиент перезаписывает ею свое состояние.
type PositionMessage struct {
	Type       string        `json:"type"`
	Tick       uint64        `json:"tick"`
	Position   world.Vector3 `json:"position"`
	ServerTime int64         `json:"server_time"`
}

// PingMessage представляет пинг от клиента
type PingMessage struct {
	Type       string `json:"type"`
	ClientTime int64  `json:"client_time"`
}

// PongMessage представляет ответ на пинг от сервера
type PongMessage struct {
	Type       string `json:"type"`
	ClientTime int64  `json:"client_time"`
	ServerTime int64  `json:"server_time"`
}

// InfoMessage представляет информационное сообщение от сервера
type InfoMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ErrorMessage сообщает клиенту, почему соединение будет закрыто
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
