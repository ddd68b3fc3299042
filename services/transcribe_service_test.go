package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/zhangyw0810/llamatalk/config"
)

func TestTranscribeServiceDisabledWithoutEndpoint(t *testing.T) {
	service := NewTranscribeService(config.SpeechConfig{}, testLogger())

	if service.Enabled() {
		t.Fatal("service should be disabled without an endpoint")
	}
	if _, err := service.OpenStream(context.Background(), 0, 0, 0); err == nil {
		t.Fatal("OpenStream should fail when disabled")
	}
}

func TestTranscribeStreamRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("sample_rate"); got != "16000" {
			t.Errorf("sample_rate query = %q, want 16000", got)
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		// First frame is the audio format announcement.
		var start streamConfig
		if err := conn.ReadJSON(&start); err != nil {
			t.Errorf("read start frame: %v", err)
			return
		}
		if start.Type != "start" || start.SampleRate != 16000 || start.Channels != 1 || start.Bits != 16 {
			t.Errorf("start frame = %+v", start)
		}

		// Echo a transcript per audio frame, final on stop.
		for {
			msgType, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			switch msgType {
			case websocket.BinaryMessage:
				_ = conn.WriteJSON(upstreamEvent{Text: "partial words", IsFinal: false})
			case websocket.TextMessage:
				var control map[string]string
				if json.Unmarshal(payload, &control) == nil && control["type"] == "stop" {
					_ = conn.WriteJSON(upstreamEvent{Text: "final words", IsFinal: true})
					return
				}
			}
		}
	}))
	defer server.Close()

	endpoint := "ws" + strings.TrimPrefix(server.URL, "http")
	service := NewTranscribeService(config.SpeechConfig{UpstreamEndpoint: endpoint, SampleRate: 16000}, testLogger())

	stream, err := service.OpenStream(context.Background(), 0, 0, 0)
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer stream.Close()

	if err := stream.SendAudio([]byte{0x01, 0x02}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	partial, err := stream.ReadTranscript()
	if err != nil {
		t.Fatalf("ReadTranscript: %v", err)
	}
	if partial.IsFinal || partial.Text != "partial words" {
		t.Fatalf("partial transcript = %+v", partial)
	}

	if err := stream.SendStop(); err != nil {
		t.Fatalf("SendStop: %v", err)
	}

	final, err := stream.ReadTranscript()
	if err != nil {
		t.Fatalf("ReadTranscript after stop: %v", err)
	}
	if !final.IsFinal || final.Text != "final words" {
		t.Fatalf("final transcript = %+v", final)
	}
}
