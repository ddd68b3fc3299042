package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhangyw0810/llamatalk/config"
)

// Transcript is a single recognition result relayed from the upstream
// speech service.
type Transcript struct {
	Text    string          `json:"text"`
	IsFinal bool            `json:"is_final"`
	Raw     json.RawMessage `json:"raw,omitempty"`
}

// TranscribeService opens streaming sessions against an upstream
// speech-to-text websocket endpoint. The browser never talks to the
// upstream directly; the speech handler proxies through here.
type TranscribeService struct {
	endpoint   string
	sampleRate int
	dialer     *websocket.Dialer
	logger     *zap.SugaredLogger
}

func NewTranscribeService(cfg config.SpeechConfig, logger *zap.SugaredLogger) *TranscribeService {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	return &TranscribeService{
		endpoint:   cfg.UpstreamEndpoint,
		sampleRate: cfg.SampleRate,
		dialer:     &dialer,
		logger:     logger,
	}
}

// Enabled reports whether an upstream endpoint is configured.
func (s *TranscribeService) Enabled() bool {
	return s.endpoint != ""
}

// TranscribeStream is one live upstream session.
type TranscribeStream struct {
	conn *websocket.Conn
}

type streamConfig struct {
	Type       string `json:"type"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Bits       int    `json:"bits"`
}

type upstreamEvent struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
	Error   string `json:"error,omitempty"`
}

// OpenStream dials the upstream endpoint and sends the audio format frame.
func (s *TranscribeService) OpenStream(ctx context.Context, sampleRate, channels, bits int) (*TranscribeStream, error) {
	if !s.Enabled() {
		return nil, errors.New("transcribe endpoint is not configured")
	}

	if sampleRate <= 0 {
		sampleRate = s.sampleRate
	}
	if channels <= 0 {
		channels = 1
	}
	if bits <= 0 {
		bits = 16
	}

	endpoint, err := url.Parse(s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse transcribe endpoint: %w", err)
	}
	query := endpoint.Query()
	query.Set("sample_rate", strconv.Itoa(sampleRate))
	endpoint.RawQuery = query.Encode()

	conn, resp, err := s.dialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial transcribe endpoint (%d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial transcribe endpoint: %w", err)
	}

	start := streamConfig{Type: "start", SampleRate: sampleRate, Channels: channels, Bits: bits}
	if err := conn.WriteJSON(start); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send stream config: %w", err)
	}

	s.logger.Debugf("transcribe stream opened: %d Hz, %d ch, %d bit", sampleRate, channels, bits)
	return &TranscribeStream{conn: conn}, nil
}

// SendAudio forwards one raw audio frame upstream.
func (t *TranscribeStream) SendAudio(frame []byte) error {
	return t.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// SendStop signals that no more audio will follow.
func (t *TranscribeStream) SendStop() error {
	return t.conn.WriteJSON(map[string]string{"type": "stop"})
}

// ReadTranscript blocks for the next recognition event.
func (t *TranscribeStream) ReadTranscript() (*Transcript, error) {
	_, payload, err := t.conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	var event upstreamEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode transcript event: %w", err)
	}
	if event.Error != "" {
		return nil, fmt.Errorf("upstream transcribe error: %s", event.Error)
	}

	return &Transcript{Text: event.Text, IsFinal: event.IsFinal, Raw: payload}, nil
}

func (t *TranscribeStream) Close() error {
	return t.conn.Close()
}
