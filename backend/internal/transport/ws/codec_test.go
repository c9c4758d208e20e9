package ws

import (
	"testing"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"x-bounce/backend/internal/world"
)

func TestCodecByName(t *testing.T) {
	tests := []struct {
		name      string
		codec     string
		frameType int
		error     bool
	}{
		{name: "default", codec: "", frameType: websocket.TextMessage},
		{name: "json", codec: CodecJSON, frameType: websocket.TextMessage},
		{name: "msgpack", codec: CodecMsgpack, frameType: websocket.BinaryMessage},
		{name: "unknown", codec: "protobuf", error: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec, err := CodecByName(tt.codec)
			if tt.error {
				if err == nil {
					t.Error("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if codec.FrameType() != tt.frameType {
				t.Errorf("Expected frame type %d, got %d", tt.frameType, codec.FrameType())
			}
		})
	}
}

func TestMsgpackCodec_UsesJSONFieldNames(t *testing.T) {
	msg := &PositionMessage{
		Type:       MessageTypePosition,
		Tick:       9,
		Position:   world.Vector3{X: 1.5, Y: 2, Z: -3},
		ServerTime: 77,
	}

	data, err := MsgpackCodec{}.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	// Клиент без Go-типов видит те же ключи, что и в JSON
	var raw map[string]interface{}
	if err := msgpack.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Raw decode failed: %v", err)
	}
	for _, key := range []string{"type", "tick", "position", "server_time"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("Expected key %q in msgpack map, got %v", key, raw)
		}
	}

	parsed, err := ParseMessageWith(MsgpackCodec{}, data)
	if err != nil {
		t.Fatalf("ParseMessageWith failed: %v", err)
	}
	got, ok := parsed.(*PositionMessage)
	if !ok {
		t.Fatalf("Expected *PositionMessage, got %T", parsed)
	}
	if *got != *msg {
		t.Errorf("Expected %+v, got %+v", msg, got)
	}
}
